package ml

import (
	"encoding/json"
	"math"
	"os"

	"github.com/pkg/errors"
)

// GradientBoosting is a binary gradient-boosted ensemble of regression
// trees. The raw score is InitScore plus LearningRate times the sum of the
// reached leaf values; the positive class is predicted when the score is
// above zero, i.e. when its logistic probability exceeds one half.
type GradientBoosting struct {
	LearningRate float64      `json:"learning_rate"`
	InitScore    float64      `json:"init_score"`
	Trees        [][]TreeNode `json:"trees"`
}

// NewGradientBoosting validates every tree of the ensemble.
func NewGradientBoosting(learningRate, initScore float64, trees [][]TreeNode) (*GradientBoosting, error) {
	gb := &GradientBoosting{
		LearningRate: learningRate,
		InitScore:    initScore,
		Trees:        trees,
	}
	if err := gb.validate(); err != nil {
		return nil, err
	}
	return gb, nil
}

func (gb *GradientBoosting) validate() error {
	if len(gb.Trees) == 0 {
		return errors.New("ensemble has no trees")
	}
	if gb.LearningRate <= 0 || math.IsNaN(gb.LearningRate) || math.IsInf(gb.LearningRate, 0) {
		return errors.Errorf("invalid learning rate %v", gb.LearningRate)
	}
	for i, tree := range gb.Trees {
		if err := validateTree(tree); err != nil {
			return errors.Wrapf(err, "tree %d", i)
		}
	}
	return nil
}

// DecisionFunction returns the raw log-odds score for one row.
func (gb *GradientBoosting) DecisionFunction(features []float64) (float64, error) {
	score := gb.InitScore
	for i, tree := range gb.Trees {
		leaf, err := walk(tree, features)
		if err != nil {
			return 0, errors.Wrapf(err, "tree %d", i)
		}
		score += gb.LearningRate * leaf.Value
	}
	return score, nil
}

// Probability returns the positive-class probability for one row. It
// satisfies Scorer.
func (gb *GradientBoosting) Probability(features []float64) (float64, error) {
	score, err := gb.DecisionFunction(features)
	if err != nil {
		return 0, err
	}
	return 1 / (1 + math.Exp(-score)), nil
}

func (gb *GradientBoosting) Predict(batch [][]float64) ([]int, error) {
	if gb == nil || len(gb.Trees) == 0 {
		return nil, errors.New("model not loaded")
	}
	labels := make([]int, len(batch))
	for i, row := range batch {
		score, err := gb.DecisionFunction(row)
		if err != nil {
			return nil, errors.Wrapf(err, "row %d", i)
		}
		if score > 0 {
			labels[i] = 1
		}
	}
	return labels, nil
}

func (gb *GradientBoosting) Load(path string) error {
	payload, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var loaded GradientBoosting
	if err := json.Unmarshal(payload, &loaded); err != nil {
		return err
	}
	if err := loaded.validate(); err != nil {
		return err
	}
	*gb = loaded
	return nil
}
