package ml

import (
	"errors"
	"fmt"
)

// GradientBoosting replays additive tree ensembles (XGBoost, LightGBM,
// CatBoost and sklearn exports). Each tree contributes a raw margin to one
// output; binary problems have a single output.
type GradientBoosting struct {
	Provenance
	Features     int           `json:"n_features"`
	Classes      int           `json:"n_classes"`
	LearningRate float64       `json:"learning_rate,omitempty"`
	BaseMargin   []float64     `json:"base_margin,omitempty"`
	Trees        []BoostedTree `json:"trees"`
}

type BoostedTree struct {
	ClassIdx int `json:"class_idx"`
	DecisionTree
}

func (gb *GradientBoosting) NumFeatures() int {
	return gb.Features
}

func (gb *GradientBoosting) NumClasses() int {
	return gb.Classes
}

func (gb *GradientBoosting) outputs() int {
	if gb.Classes == 2 {
		return 1
	}
	return gb.Classes
}

func (gb *GradientBoosting) Margins(features []float64) ([]float64, error) {
	if len(features) != gb.Features {
		return nil, fmt.Errorf("%w: booster expects %d features, got %d", ErrShapeMismatch, gb.Features, len(features))
	}
	margins := make([]float64, gb.outputs())
	copy(margins, gb.BaseMargin)
	rate := gb.LearningRate
	if rate == 0 {
		rate = 1
	}
	for i := range gb.Trees {
		tree := &gb.Trees[i]
		leaf, err := tree.leaf(features)
		if err != nil {
			return nil, fmt.Errorf("tree %d: %w", i, err)
		}
		margins[tree.ClassIdx] += rate * leaf.Value[0]
	}
	return margins, nil
}

func (gb *GradientBoosting) PredictProba(features []float64) ([]float64, error) {
	margins, err := gb.Margins(features)
	if err != nil {
		return nil, err
	}
	if gb.Classes == 2 {
		p := sigmoid(margins[0])
		return []float64{1 - p, p}, nil
	}
	return softmax(margins), nil
}

func (gb *GradientBoosting) validate() error {
	if gb.Classes < 2 {
		return errors.New("n_classes must be at least 2")
	}
	if len(gb.Trees) == 0 {
		return errors.New("booster has no trees")
	}
	if len(gb.BaseMargin) != 0 && len(gb.BaseMargin) != gb.outputs() {
		return fmt.Errorf("base_margin has %d values, want %d", len(gb.BaseMargin), gb.outputs())
	}
	for i := range gb.Trees {
		tree := &gb.Trees[i]
		if tree.ClassIdx < 0 || tree.ClassIdx >= gb.outputs() {
			return fmt.Errorf("tree %d: class index %d out of range", i, tree.ClassIdx)
		}
		if tree.Features == 0 {
			tree.Features = gb.Features
		}
		if tree.Features != gb.Features {
			return fmt.Errorf("tree %d expects %d features, booster %d", i, tree.Features, gb.Features)
		}
		tree.Classes = gb.Classes
		if err := tree.validateShape(1); err != nil {
			return fmt.Errorf("tree %d: %w", i, err)
		}
	}
	return nil
}
