package ml

import (
	"errors"
	"fmt"
)

type DecisionTree struct {
	Provenance
	Features      int        `json:"n_features"`
	Classes       int        `json:"n_classes"`
	SplitOperator string     `json:"split_operator,omitempty"`
	Nodes         []TreeNode `json:"nodes"`
}

type TreeNode struct {
	FeatureIdx int       `json:"feature_idx"`
	Threshold  float64   `json:"threshold"`
	LeftChild  int       `json:"left_child"`
	RightChild int       `json:"right_child"`
	IsLeaf     bool      `json:"is_leaf"`
	Value      []float64 `json:"value,omitempty"`
}

func (dt *DecisionTree) NumFeatures() int {
	return dt.Features
}

func (dt *DecisionTree) NumClasses() int {
	return dt.Classes
}

func (dt *DecisionTree) PredictProba(features []float64) ([]float64, error) {
	leaf, err := dt.leaf(features)
	if err != nil {
		return nil, err
	}
	return normalize(leaf.Value)
}

func (dt *DecisionTree) leaf(features []float64) (*TreeNode, error) {
	if len(dt.Nodes) == 0 {
		return nil, errors.New("tree has no nodes")
	}
	if len(features) != dt.Features {
		return nil, fmt.Errorf("%w: tree expects %d features, got %d", ErrShapeMismatch, dt.Features, len(features))
	}
	idx := 0
	for {
		node := &dt.Nodes[idx]
		if node.IsLeaf {
			return node, nil
		}
		if dt.goLeft(features[node.FeatureIdx], node.Threshold) {
			idx = node.LeftChild
		} else {
			idx = node.RightChild
		}
		if idx <= 0 || idx >= len(dt.Nodes) {
			return nil, errors.New("invalid tree state")
		}
	}
}

func (dt *DecisionTree) goLeft(value, threshold float64) bool {
	if dt.SplitOperator == "<" {
		return value < threshold
	}
	return value <= threshold
}

func (dt *DecisionTree) validate() error {
	return dt.validateShape(dt.Classes)
}

// validateShape checks the node layout. Children must come after their parent,
// which rules out cycles, and every leaf must hold width values.
func (dt *DecisionTree) validateShape(width int) error {
	if dt.Features <= 0 {
		return errors.New("n_features must be positive")
	}
	if width <= 0 {
		return errors.New("leaf width must be positive")
	}
	switch dt.SplitOperator {
	case "", "<=", "<":
	default:
		return fmt.Errorf("unsupported split operator %q", dt.SplitOperator)
	}
	if len(dt.Nodes) == 0 {
		return errors.New("tree has no nodes")
	}
	for i, node := range dt.Nodes {
		if node.IsLeaf {
			if len(node.Value) != width {
				return fmt.Errorf("leaf %d has %d values, want %d", i, len(node.Value), width)
			}
			continue
		}
		if node.FeatureIdx < 0 || node.FeatureIdx >= dt.Features {
			return fmt.Errorf("node %d: feature index %d out of range", i, node.FeatureIdx)
		}
		for _, child := range []int{node.LeftChild, node.RightChild} {
			if child <= i || child >= len(dt.Nodes) {
				return fmt.Errorf("node %d: child index %d out of range", i, child)
			}
		}
	}
	return nil
}
