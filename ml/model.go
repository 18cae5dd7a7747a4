package ml

import "errors"

var (
	ErrShapeMismatch   = errors.New("shape mismatch")
	ErrMissingFeature  = errors.New("missing feature")
	ErrInvalidArtifact = errors.New("invalid artifact")
)

// Model is a fitted classifier replayed from an exported artifact.
type Model interface {
	PredictProba(features []float64) ([]float64, error)
	NumFeatures() int
	NumClasses() int
}

// Provenance identifies the training run an artifact was exported from.
type Provenance struct {
	RunID string `json:"run_id,omitempty"`
}

func (p Provenance) Run() string {
	return p.RunID
}

// Predict returns the index of the most probable class together with the
// full probability vector.
func Predict(model Model, features []float64) (int, []float64, error) {
	if model == nil {
		return 0, nil, errors.New("model is nil")
	}
	proba, err := model.PredictProba(features)
	if err != nil {
		return 0, nil, err
	}
	if len(proba) == 0 {
		return 0, nil, errors.New("model returned no probabilities")
	}
	return argmax(proba), proba, nil
}
