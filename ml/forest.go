package ml

import (
	"errors"
	"fmt"
)

// RandomForest averages the class distributions of its trees. Extra-trees
// exports share the same layout.
type RandomForest struct {
	Provenance
	Features int            `json:"n_features"`
	Classes  int            `json:"n_classes"`
	Trees    []DecisionTree `json:"trees"`
}

func (rf *RandomForest) NumFeatures() int {
	return rf.Features
}

func (rf *RandomForest) NumClasses() int {
	return rf.Classes
}

func (rf *RandomForest) PredictProba(features []float64) ([]float64, error) {
	if len(features) != rf.Features {
		return nil, fmt.Errorf("%w: forest expects %d features, got %d", ErrShapeMismatch, rf.Features, len(features))
	}
	sum := make([]float64, rf.Classes)
	for i := range rf.Trees {
		proba, err := rf.Trees[i].PredictProba(features)
		if err != nil {
			return nil, fmt.Errorf("tree %d: %w", i, err)
		}
		for c, p := range proba {
			sum[c] += p
		}
	}
	n := float64(len(rf.Trees))
	for c := range sum {
		sum[c] /= n
	}
	return sum, nil
}

func (rf *RandomForest) validate() error {
	if rf.Classes < 2 {
		return errors.New("n_classes must be at least 2")
	}
	if len(rf.Trees) == 0 {
		return errors.New("forest has no trees")
	}
	for i := range rf.Trees {
		tree := &rf.Trees[i]
		if tree.Features == 0 {
			tree.Features = rf.Features
		}
		if tree.Classes == 0 {
			tree.Classes = rf.Classes
		}
		if tree.Features != rf.Features || tree.Classes != rf.Classes {
			return fmt.Errorf("tree %d shape %dx%d differs from forest %dx%d", i, tree.Features, tree.Classes, rf.Features, rf.Classes)
		}
		if err := tree.validate(); err != nil {
			return fmt.Errorf("tree %d: %w", i, err)
		}
	}
	return nil
}
