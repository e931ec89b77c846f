package ml

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
)

// DecisionTree classifies by the ClassLabel of the reached leaf.
type DecisionTree struct {
	nodes []TreeNode
}

// NewDecisionTree wraps an already trained node list.
func NewDecisionTree(nodes []TreeNode) (*DecisionTree, error) {
	if err := validateTree(nodes); err != nil {
		return nil, err
	}
	return &DecisionTree{nodes: append([]TreeNode(nil), nodes...)}, nil
}

func (dt *DecisionTree) Predict(batch [][]float64) ([]int, error) {
	if dt == nil || len(dt.nodes) == 0 {
		return nil, errors.New("model not loaded")
	}
	labels := make([]int, len(batch))
	for i, row := range batch {
		leaf, err := walk(dt.nodes, row)
		if err != nil {
			return nil, errors.Wrapf(err, "row %d", i)
		}
		labels[i] = leaf.ClassLabel
	}
	return labels, nil
}

func (dt *DecisionTree) Load(path string) error {
	payload, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var nodes []TreeNode
	if err := json.Unmarshal(payload, &nodes); err != nil {
		return err
	}
	if err := validateTree(nodes); err != nil {
		return err
	}
	dt.nodes = nodes
	return nil
}
