package ml

import "fmt"

// Classifier is a pre-trained binary model. Predict returns one label per
// input row; implementations are read-only after load and safe for
// concurrent use.
type Classifier interface {
	Predict(batch [][]float64) ([]int, error)
}

// Scorer is implemented by classifiers that can also report the
// positive-class probability of a single row.
type Scorer interface {
	Probability(features []float64) (float64, error)
}

// LoadError reports a model artifact that is missing or malformed.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load model %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}
