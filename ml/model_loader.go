package ml

import "fmt"

// Supported values of the model_type setting.
const (
	TypeDecisionTree     = "decision_tree"
	TypeGradientBoosting = "gradient_boosting"
)

type loadable interface {
	Classifier
	Load(path string) error
}

// LoadModel reads the classifier artifact at path.
func LoadModel(modelType, path string) (Classifier, error) {
	var model loadable
	switch modelType {
	case TypeDecisionTree:
		model = &DecisionTree{}
	case TypeGradientBoosting, "":
		model = &GradientBoosting{}
	default:
		return nil, &LoadError{Path: path, Err: fmt.Errorf("unsupported model type %q", modelType)}
	}
	if err := model.Load(path); err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	return model, nil
}
