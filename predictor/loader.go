package predictor

import (
	"go.uber.org/zap"

	"treatpredict/ml"
	"treatpredict/schema"
)

// Artifacts locates the two files produced together by the training run.
type Artifacts struct {
	ColumnsPath string
	ModelPath   string
	ModelType   string
}

// Load reads both artifacts and builds a Service. Any failure is a
// *schema.LoadError or *ml.LoadError.
func Load(a Artifacts, logger *zap.Logger, opts ...Option) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("loading saved artifacts",
		zap.String("columns", a.ColumnsPath),
		zap.String("model", a.ModelPath),
		zap.String("model_type", a.ModelType))

	s, err := schema.Load(a.ColumnsPath)
	if err != nil {
		return nil, err
	}
	model, err := ml.LoadModel(a.ModelType, a.ModelPath)
	if err != nil {
		return nil, err
	}
	svc, err := New(s, model, append([]Option{WithLogger(logger)}, opts...)...)
	if err != nil {
		return nil, err
	}

	logger.Info("artifacts loaded",
		zap.Int("columns", s.Len()),
		zap.Int("cancer_categories", len(mustCategories(s, schema.DomainCancer))),
		zap.Int("diagnosis_methods", len(mustCategories(s, schema.DomainDiagnosis))),
		zap.Int("treatment_categories", len(mustCategories(s, schema.DomainTreatment))))
	return svc, nil
}

func mustCategories(s *schema.Schema, d schema.Domain) []string {
	labels, _ := s.Categories(d)
	return labels
}
