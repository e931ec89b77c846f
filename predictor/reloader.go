package predictor

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const defaultDebounce = 250 * time.Millisecond

// Reloader watches the artifact files and installs a freshly loaded Service
// into a Holder whenever they change. A failed load keeps the old service.
type Reloader struct {
	holder    *Holder
	artifacts Artifacts
	opts      []Option
	logger    *zap.Logger
	debounce  time.Duration
	onReload  func(error)
}

func NewReloader(holder *Holder, artifacts Artifacts, logger *zap.Logger, opts ...Option) *Reloader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reloader{
		holder:    holder,
		artifacts: artifacts,
		opts:      opts,
		logger:    logger.Named("reloader"),
		debounce:  defaultDebounce,
	}
}

// SetDebounce sets how long to wait for writes to settle before reloading.
func (r *Reloader) SetDebounce(d time.Duration) {
	if d > 0 {
		r.debounce = d
	}
}

// OnReload registers a callback invoked after every reload attempt.
func (r *Reloader) OnReload(fn func(error)) {
	r.onReload = fn
}

// Reload loads both artifacts and swaps them in on success.
func (r *Reloader) Reload() error {
	svc, err := Load(r.artifacts, r.logger, r.opts...)
	if err != nil {
		r.logger.Error("artifact reload failed, keeping previous artifacts", zap.Error(err))
	} else {
		r.holder.Swap(svc)
		r.logger.Info("artifacts reloaded")
	}
	if r.onReload != nil {
		r.onReload(err)
	}
	return err
}

// Run blocks until ctx is cancelled.
func (r *Reloader) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "create artifact watcher")
	}
	defer watcher.Close()

	watched := make(map[string]bool, 2)
	dirs := make(map[string]bool, 2)
	for _, path := range []string{r.artifacts.ColumnsPath, r.artifacts.ModelPath} {
		abs, err := filepath.Abs(path)
		if err != nil {
			return errors.Wrapf(err, "resolve %s", path)
		}
		watched[abs] = true
		dirs[filepath.Dir(abs)] = true
	}
	// watch directories so atomic rename-into-place is seen
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			return errors.Wrapf(err, "watch %s", dir)
		}
	}
	r.logger.Info("watching artifacts", zap.Int("files", len(watched)))

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			abs, err := filepath.Abs(event.Name)
			if err != nil || !watched[abs] {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(r.debounce)
			fire = timer.C
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn("artifact watcher error", zap.Error(err))
		case <-fire:
			fire = nil
			_ = r.Reload()
		}
	}
}
