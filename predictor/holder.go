package predictor

import (
	"context"
	"sync/atomic"

	"treatpredict/schema"
)

// Holder publishes the current Service. Swapping replaces the whole service;
// callers that already obtained one keep using it until they return.
type Holder struct {
	current atomic.Pointer[Service]
}

func NewHolder(svc *Service) *Holder {
	h := &Holder{}
	if svc != nil {
		h.current.Store(svc)
	}
	return h
}

func (h *Holder) Current() *Service {
	return h.current.Load()
}

// Swap installs svc and returns the previous service.
func (h *Holder) Swap(svc *Service) *Service {
	return h.current.Swap(svc)
}

func (h *Holder) Categories(domain schema.Domain) ([]string, error) {
	return h.Current().Categories(domain)
}

func (h *Holder) StageLabel(code int) string {
	return schema.StageLabel(code)
}

func (h *Holder) Predict(ctx context.Context, in Input) (Result, error) {
	return h.Current().Predict(ctx, in)
}
