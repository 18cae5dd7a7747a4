package ml

import (
	"errors"
	"fmt"
)

// LogisticRegression with a single coefficient row is a binary model;
// several rows form a multinomial model.
type LogisticRegression struct {
	Provenance
	Coef      [][]float64 `json:"coef"`
	Intercept []float64   `json:"intercept"`
}

func (lr *LogisticRegression) NumFeatures() int {
	if len(lr.Coef) == 0 {
		return 0
	}
	return len(lr.Coef[0])
}

func (lr *LogisticRegression) NumClasses() int {
	if len(lr.Coef) == 1 {
		return 2
	}
	return len(lr.Coef)
}

func (lr *LogisticRegression) DecisionFunction(features []float64) ([]float64, error) {
	if len(features) != lr.NumFeatures() {
		return nil, fmt.Errorf("%w: logistic regression expects %d features, got %d", ErrShapeMismatch, lr.NumFeatures(), len(features))
	}
	scores := make([]float64, len(lr.Coef))
	for k, row := range lr.Coef {
		score := lr.Intercept[k]
		for j, w := range row {
			score += w * features[j]
		}
		scores[k] = score
	}
	return scores, nil
}

func (lr *LogisticRegression) PredictProba(features []float64) ([]float64, error) {
	scores, err := lr.DecisionFunction(features)
	if err != nil {
		return nil, err
	}
	if len(scores) == 1 {
		p := sigmoid(scores[0])
		return []float64{1 - p, p}, nil
	}
	return softmax(scores), nil
}

func (lr *LogisticRegression) validate() error {
	if len(lr.Coef) == 0 {
		return errors.New("coef is empty")
	}
	if len(lr.Coef) == 2 {
		return errors.New("coef must have one row (binary) or one row per class")
	}
	if len(lr.Intercept) != len(lr.Coef) {
		return fmt.Errorf("intercept has %d values, want %d", len(lr.Intercept), len(lr.Coef))
	}
	width := len(lr.Coef[0])
	if width == 0 {
		return errors.New("coef rows are empty")
	}
	for k, row := range lr.Coef {
		if len(row) != width {
			return fmt.Errorf("coef row %d has %d values, want %d", k, len(row), width)
		}
	}
	return nil
}
