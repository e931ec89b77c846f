package ml

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyTree         = errors.New("tree has no nodes")
	ErrFeatureOutOfRange = errors.New("feature index out of range")
	ErrInvalidTree       = errors.New("invalid tree state")
)

// TreeNode is one node of a flat, pre-order tree. Rows with
// x[FeatureIdx] <= Threshold go to LeftChild.
type TreeNode struct {
	FeatureIdx int     `json:"feature_idx"`
	Threshold  float64 `json:"threshold"`
	LeftChild  int     `json:"left_child"`
	RightChild int     `json:"right_child"`
	ClassLabel int     `json:"class_label"`
	Value      float64 `json:"value"`
	IsLeaf     bool    `json:"is_leaf"`
}

// walk descends nodes for features and returns the reached leaf.
func walk(nodes []TreeNode, features []float64) (TreeNode, error) {
	if len(nodes) == 0 {
		return TreeNode{}, ErrEmptyTree
	}
	idx := 0
	// a well-formed tree reaches a leaf in at most len(nodes) steps
	for steps := 0; steps <= len(nodes); steps++ {
		node := nodes[idx]
		if node.IsLeaf {
			return node, nil
		}
		if node.FeatureIdx < 0 || node.FeatureIdx >= len(features) {
			return TreeNode{}, fmt.Errorf("%w: %d (vector width %d)", ErrFeatureOutOfRange, node.FeatureIdx, len(features))
		}
		if features[node.FeatureIdx] <= node.Threshold {
			idx = node.LeftChild
		} else {
			idx = node.RightChild
		}
		if idx < 0 || idx >= len(nodes) {
			return TreeNode{}, ErrInvalidTree
		}
	}
	return TreeNode{}, fmt.Errorf("%w: cycle detected", ErrInvalidTree)
}

func validateTree(nodes []TreeNode) error {
	if len(nodes) == 0 {
		return ErrEmptyTree
	}
	for i, node := range nodes {
		if node.IsLeaf {
			continue
		}
		if node.LeftChild <= 0 || node.LeftChild >= len(nodes) || node.RightChild <= 0 || node.RightChild >= len(nodes) {
			return fmt.Errorf("%w: node %d has child out of range", ErrInvalidTree, i)
		}
		if node.FeatureIdx < 0 {
			return fmt.Errorf("%w: node %d has negative feature index", ErrInvalidTree, i)
		}
	}
	return nil
}
