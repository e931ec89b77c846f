// Package schema holds the ordered feature-column layout the classifier was
// trained on and the category lists derived from it.
package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

// Column names of the two numeric features every compatible schema carries.
const (
	AgeColumn   = "age_at_diagnosis"
	StageColumn = "ajcc_pathologic_stage"
)

// Domain identifies one of the one-hot encoded categorical groups.
type Domain string

const (
	DomainCancer    Domain = "cancer"
	DomainDiagnosis Domain = "diagnosis"
	DomainTreatment Domain = "treatment"
)

var domainPrefixes = map[Domain]string{
	DomainCancer:    "cancer_category_",
	DomainDiagnosis: "diagnosis_method_category_",
	DomainTreatment: "treatment_category_",
}

var (
	ErrNotInitialized = errors.New("schema not initialized")
	ErrUnknownDomain  = errors.New("unknown category domain")
)

// Domains returns the categorical groups in encoding order.
func Domains() []Domain {
	return []Domain{DomainCancer, DomainDiagnosis, DomainTreatment}
}

// Prefix returns the column-name prefix used by domain.
func (d Domain) Prefix() (string, error) {
	prefix, ok := domainPrefixes[d]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownDomain, string(d))
	}
	return prefix, nil
}

// ParseDomain accepts a short domain name in any case, e.g. "Cancer".
func ParseDomain(name string) (Domain, error) {
	d := Domain(strings.ToLower(strings.TrimSpace(name)))
	if _, err := d.Prefix(); err != nil {
		return "", err
	}
	return d, nil
}

// LoadError reports a columns manifest that is missing or malformed.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("load schema: %v", e.Err)
	}
	return fmt.Sprintf("load schema %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// Schema is immutable once constructed and safe for concurrent use.
type Schema struct {
	columns    []string
	index      map[string]int
	categories map[Domain][]string
}

type manifest struct {
	DataColumns *[]string `json:"data_columns"`
}

// Load reads a columns manifest of the form {"data_columns": [...]}.
func Load(path string) (*Schema, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	var m manifest
	if err := json.Unmarshal(payload, &m); err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	if m.DataColumns == nil {
		return nil, &LoadError{Path: path, Err: errors.New("missing data_columns field")}
	}
	s, err := New(*m.DataColumns)
	if err != nil {
		var le *LoadError
		if errors.As(err, &le) {
			le.Path = path
		}
		return nil, err
	}
	return s, nil
}

// New builds a schema from an ordered column list.
func New(columns []string) (*Schema, error) {
	if len(columns) == 0 {
		return nil, &LoadError{Err: errors.New("data_columns is empty")}
	}
	s := &Schema{
		columns:    append([]string(nil), columns...),
		index:      make(map[string]int, len(columns)),
		categories: make(map[Domain][]string, len(domainPrefixes)),
	}
	for i, name := range s.columns {
		if _, dup := s.index[name]; dup {
			return nil, &LoadError{Err: fmt.Errorf("duplicate column %q", name)}
		}
		s.index[name] = i
	}
	for domain, prefix := range domainPrefixes {
		labels := make([]string, 0)
		for _, name := range s.columns {
			if strings.HasPrefix(name, prefix) {
				labels = append(labels, strings.TrimPrefix(name, prefix))
			}
		}
		s.categories[domain] = labels
	}
	return s, nil
}

// Len is the feature vector width.
func (s *Schema) Len() int {
	if s == nil {
		return 0
	}
	return len(s.columns)
}

// Columns returns a copy of the column names in feature order.
func (s *Schema) Columns() []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s.columns...)
}

// ColumnIndex returns the position of name, or false when the schema has no
// such column.
func (s *Schema) ColumnIndex(name string) (int, bool) {
	if s == nil {
		return -1, false
	}
	idx, ok := s.index[name]
	if !ok {
		return -1, false
	}
	return idx, true
}

// Categories returns the labels of domain in schema order.
func (s *Schema) Categories(domain Domain) ([]string, error) {
	if s == nil {
		return nil, ErrNotInitialized
	}
	if _, err := domain.Prefix(); err != nil {
		return nil, err
	}
	return append([]string(nil), s.categories[domain]...), nil
}

// HasNumericColumns reports whether both mandatory numeric columns exist.
func (s *Schema) HasNumericColumns() bool {
	_, age := s.ColumnIndex(AgeColumn)
	_, stage := s.ColumnIndex(StageColumn)
	return age && stage
}
