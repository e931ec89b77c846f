// Package predictor turns raw form inputs into the model's feature vector and
// runs the treatment classifier over it.
package predictor

import (
	"context"
	"fmt"
	"strconv"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"treatpredict/ml"
	"treatpredict/schema"
)

// Label is the classifier output. LabelNone means no prediction was made.
type Label int

const (
	LabelNone           Label = -1
	LabelNoTreatment    Label = 0
	LabelNeedsTreatment Label = 1
)

// Outcome is the human readable form returned to API clients.
func (l Label) Outcome() string {
	switch l {
	case LabelNeedsTreatment:
		return "Needs Treatment/Therapy"
	case LabelNoTreatment:
		return "No Treatment Required"
	default:
		return "Prediction Error"
	}
}

// Input is one prediction request. Category strings are matched
// case-insensitively against the schema.
type Input struct {
	Age               float64
	Stage             int
	CancerCategory    string
	DiagnosisMethod   string
	TreatmentCategory string
}

func (in Input) category(d schema.Domain) string {
	switch d {
	case schema.DomainCancer:
		return in.CancerCategory
	case schema.DomainDiagnosis:
		return in.DiagnosisMethod
	default:
		return in.TreatmentCategory
	}
}

// Warning records a category that matched no one-hot column. The group is
// left entirely unset in the vector.
type Warning struct {
	Domain schema.Domain `json:"domain"`
	Value  string        `json:"value"`
	Column string        `json:"column"`
}

func (w Warning) String() string {
	return fmt.Sprintf("column %q not found", w.Column)
}

// Result is the outcome of one prediction.
type Result struct {
	Label    Label     `json:"label"`
	Outcome  string    `json:"outcome"`
	Warnings []Warning `json:"warnings,omitempty"`
	Vector   []float64 `json:"vector"`
	// Probability of LabelNeedsTreatment, set when the model is an ml.Scorer.
	Probability *float64 `json:"probability,omitempty"`
}

func (r Result) clone() Result {
	r.Vector = append([]float64(nil), r.Vector...)
	r.Warnings = append([]Warning(nil), r.Warnings...)
	if r.Probability != nil {
		p := *r.Probability
		r.Probability = &p
	}
	return r
}

// Option configures a Service.
type Option func(*Service)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithCacheSize memoises results for up to size distinct inputs. Zero
// disables the cache.
func WithCacheSize(size int) Option {
	return func(s *Service) {
		s.cacheSize = size
	}
}

// Service is built once from a schema and model and never mutated, so it is
// safe for concurrent use.
type Service struct {
	schema *schema.Schema
	model  ml.Classifier
	logger *zap.Logger

	ageIdx   int
	stageIdx int
	missing  []string

	cacheSize int
	cache     *lru.Cache[string, Result]
}

// New builds a Service. A schema without the numeric columns is accepted
// here; every Predict call then fails with SchemaIncompatibilityError.
func New(s *schema.Schema, model ml.Classifier, opts ...Option) (*Service, error) {
	if s == nil || model == nil {
		return nil, ErrNotInitialized
	}
	svc := &Service{
		schema: s,
		model:  model,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(svc)
	}

	svc.ageIdx, _ = s.ColumnIndex(schema.AgeColumn)
	svc.stageIdx, _ = s.ColumnIndex(schema.StageColumn)
	if !s.HasNumericColumns() {
		for _, name := range []string{schema.AgeColumn, schema.StageColumn} {
			if _, ok := s.ColumnIndex(name); !ok {
				svc.missing = append(svc.missing, name)
			}
		}
	}
	if len(svc.missing) > 0 {
		svc.logger.Warn("schema lacks required numeric columns, predictions will fail",
			zap.Strings("missing", svc.missing))
	}

	if svc.cacheSize > 0 {
		cache, err := lru.New[string, Result](svc.cacheSize)
		if err != nil {
			return nil, err
		}
		svc.cache = cache
	}
	return svc, nil
}

func (s *Service) ready() bool {
	return s != nil && s.schema != nil && s.model != nil
}

// Categories lists the valid labels of domain in schema order.
func (s *Service) Categories(domain schema.Domain) ([]string, error) {
	if !s.ready() {
		return nil, ErrNotInitialized
	}
	return s.schema.Categories(domain)
}

// StageLabel never fails; unknown codes map to schema.UnknownStage.
func (s *Service) StageLabel(code int) string {
	return schema.StageLabel(code)
}

// Columns returns the feature layout.
func (s *Service) Columns() []string {
	if !s.ready() {
		return nil
	}
	return s.schema.Columns()
}

// Encode builds the feature vector for in without running the model.
func (s *Service) Encode(in Input) ([]float64, []Warning, error) {
	if !s.ready() {
		return nil, nil, ErrNotInitialized
	}
	if len(s.missing) > 0 {
		return nil, nil, &SchemaIncompatibilityError{Missing: append([]string(nil), s.missing...)}
	}

	x := make([]float64, s.schema.Len())
	x[s.ageIdx] = in.Age
	x[s.stageIdx] = float64(in.Stage)

	var warnings []Warning
	lower := cases.Lower(language.Und)
	for _, domain := range schema.Domains() {
		prefix, _ := domain.Prefix()
		value := in.category(domain)
		column := prefix + lower.String(value)
		if idx, ok := s.schema.ColumnIndex(column); ok {
			x[idx] = 1
			continue
		}
		warnings = append(warnings, Warning{Domain: domain, Value: value, Column: column})
	}
	return x, warnings, nil
}

// Predict encodes in and asks the model for a label. On a schema lacking the
// numeric columns it returns LabelNone and a *SchemaIncompatibilityError.
func (s *Service) Predict(ctx context.Context, in Input) (Result, error) {
	none := Result{Label: LabelNone, Outcome: LabelNone.Outcome()}
	if !s.ready() {
		return none, ErrNotInitialized
	}
	if err := ctx.Err(); err != nil {
		return none, err
	}

	key := cacheKey(in)
	if s.cache != nil {
		if cached, ok := s.cache.Get(key); ok {
			s.logWarnings(cached.Warnings)
			return cached.clone(), nil
		}
	}

	x, warnings, err := s.Encode(in)
	if err != nil {
		s.logger.Error("required numeric feature not found in the data columns", zap.Error(err))
		return none, err
	}
	s.logWarnings(warnings)

	labels, err := s.model.Predict([][]float64{x})
	if err != nil {
		return none, fmt.Errorf("inference: %w", err)
	}
	if len(labels) != 1 {
		return none, fmt.Errorf("inference: model returned %d labels for 1 row", len(labels))
	}
	label := Label(labels[0])
	if label != LabelNoTreatment && label != LabelNeedsTreatment {
		return none, fmt.Errorf("inference: model returned non-binary label %d", labels[0])
	}

	result := Result{
		Label:    label,
		Outcome:  label.Outcome(),
		Warnings: warnings,
		Vector:   x,
	}
	if scorer, ok := s.model.(ml.Scorer); ok {
		p, err := scorer.Probability(x)
		if err != nil {
			return none, fmt.Errorf("inference: %w", err)
		}
		result.Probability = &p
	}
	if s.cache != nil {
		s.cache.Add(key, result.clone())
	}
	return result, nil
}

func (s *Service) logWarnings(warnings []Warning) {
	for _, w := range warnings {
		s.logger.Warn("unrecognized category",
			zap.String("domain", string(w.Domain)),
			zap.String("value", w.Value),
			zap.String("column", w.Column))
	}
}

func cacheKey(in Input) string {
	lower := cases.Lower(language.Und)
	return strconv.FormatFloat(in.Age, 'g', -1, 64) + "\x00" +
		strconv.Itoa(in.Stage) + "\x00" +
		lower.String(in.CancerCategory) + "\x00" +
		lower.String(in.DiagnosisMethod) + "\x00" +
		lower.String(in.TreatmentCategory)
}
