package ml

import (
	"encoding/json"
	"errors"
	"fmt"
)

const stackMethodProba = "predict_proba"

// Stacking feeds the class probabilities of its base estimators to a final
// estimator. For binary problems only the positive-class column of each base
// estimator is kept.
type Stacking struct {
	Provenance
	Features       int              `json:"n_features"`
	Classes        int              `json:"n_classes"`
	StackMethod    string           `json:"stack_method,omitempty"`
	Passthrough    bool             `json:"passthrough,omitempty"`
	Estimators     []NamedEstimator `json:"estimators"`
	FinalEstimator NamedEstimator   `json:"final_estimator"`
}

type NamedEstimator struct {
	Name  string
	Type  string
	Model Model
}

func (e *NamedEstimator) UnmarshalJSON(data []byte) error {
	var raw struct {
		Name  string          `json:"name"`
		Type  string          `json:"type"`
		Model json.RawMessage `json:"model"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw.Model) == 0 {
		return fmt.Errorf("estimator %q has no model", raw.Name)
	}
	model, err := DecodeModel(raw.Type, raw.Model)
	if err != nil {
		return fmt.Errorf("estimator %q: %w", raw.Name, err)
	}
	e.Name = raw.Name
	e.Type = raw.Type
	e.Model = model
	return nil
}

func (s *Stacking) NumFeatures() int {
	return s.Features
}

func (s *Stacking) NumClasses() int {
	return s.Classes
}

func (s *Stacking) columnsPerEstimator() int {
	if s.Classes == 2 {
		return 1
	}
	return s.Classes
}

func (s *Stacking) MetaFeatures(features []float64) ([]float64, error) {
	if len(features) != s.Features {
		return nil, fmt.Errorf("%w: stacking expects %d features, got %d", ErrShapeMismatch, s.Features, len(features))
	}
	meta := make([]float64, 0, len(s.Estimators)*s.columnsPerEstimator()+len(features))
	for _, estimator := range s.Estimators {
		proba, err := estimator.Model.PredictProba(features)
		if err != nil {
			return nil, fmt.Errorf("estimator %q: %w", estimator.Name, err)
		}
		if s.Classes == 2 {
			meta = append(meta, proba[1])
		} else {
			meta = append(meta, proba...)
		}
	}
	if s.Passthrough {
		meta = append(meta, features...)
	}
	return meta, nil
}

func (s *Stacking) PredictProba(features []float64) ([]float64, error) {
	meta, err := s.MetaFeatures(features)
	if err != nil {
		return nil, err
	}
	return s.FinalEstimator.Model.PredictProba(meta)
}

func (s *Stacking) validate() error {
	if s.StackMethod != "" && s.StackMethod != stackMethodProba {
		return fmt.Errorf("unsupported stack method %q", s.StackMethod)
	}
	if s.Classes < 2 {
		return errors.New("n_classes must be at least 2")
	}
	if len(s.Estimators) == 0 {
		return errors.New("stacking has no base estimators")
	}
	for _, estimator := range s.Estimators {
		if estimator.Model == nil {
			return fmt.Errorf("estimator %q has no model", estimator.Name)
		}
		if estimator.Model.NumFeatures() != s.Features {
			return fmt.Errorf("estimator %q expects %d features, stacking %d", estimator.Name, estimator.Model.NumFeatures(), s.Features)
		}
		if estimator.Model.NumClasses() != s.Classes {
			return fmt.Errorf("estimator %q has %d classes, stacking %d", estimator.Name, estimator.Model.NumClasses(), s.Classes)
		}
	}
	if s.FinalEstimator.Model == nil {
		return errors.New("final estimator is missing")
	}
	width := len(s.Estimators) * s.columnsPerEstimator()
	if s.Passthrough {
		width += s.Features
	}
	if s.FinalEstimator.Model.NumFeatures() != width {
		return fmt.Errorf("final estimator expects %d meta features, stacking produces %d", s.FinalEstimator.Model.NumFeatures(), width)
	}
	if s.FinalEstimator.Model.NumClasses() != s.Classes {
		return fmt.Errorf("final estimator has %d classes, stacking %d", s.FinalEstimator.Model.NumClasses(), s.Classes)
	}
	return nil
}
