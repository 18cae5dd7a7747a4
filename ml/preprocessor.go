package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
)

const (
	ScalerStandard = "standard"
	ScalerPower    = "power"
	ScalerMinMax   = "minmax"
)

// Scaler replays a fitted feature transform.
type Scaler interface {
	Transform(values []float64) ([]float64, error)
	NumFeatures() int
}

type StandardScaler struct {
	Provenance
	Mean  []float64 `json:"mean,omitempty"`
	Scale []float64 `json:"scale"`
}

func (s *StandardScaler) NumFeatures() int {
	return len(s.Scale)
}

func (s *StandardScaler) Transform(values []float64) ([]float64, error) {
	if len(values) != len(s.Scale) {
		return nil, fmt.Errorf("%w: scaler expects %d features, got %d", ErrShapeMismatch, len(s.Scale), len(values))
	}
	return standardize(values, s.Mean, s.Scale), nil
}

func (s *StandardScaler) validate() error {
	if len(s.Scale) == 0 {
		return errors.New("scale is empty")
	}
	if len(s.Mean) != 0 && len(s.Mean) != len(s.Scale) {
		return fmt.Errorf("mean has %d values, scale %d", len(s.Mean), len(s.Scale))
	}
	return nil
}

// PowerTransformer replays a Yeo-Johnson transform, optionally followed by
// standardization with the statistics of the transformed training data.
type PowerTransformer struct {
	Provenance
	Method      string    `json:"method,omitempty"`
	Lambdas     []float64 `json:"lambdas"`
	Standardize *bool     `json:"standardize,omitempty"`
	Mean        []float64 `json:"mean,omitempty"`
	Scale       []float64 `json:"scale,omitempty"`
}

func (p *PowerTransformer) NumFeatures() int {
	return len(p.Lambdas)
}

func (p *PowerTransformer) standardizes() bool {
	return p.Standardize == nil || *p.Standardize
}

func (p *PowerTransformer) Transform(values []float64) ([]float64, error) {
	if len(values) != len(p.Lambdas) {
		return nil, fmt.Errorf("%w: transformer expects %d features, got %d", ErrShapeMismatch, len(p.Lambdas), len(values))
	}
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = YeoJohnson(v, p.Lambdas[i])
	}
	if p.standardizes() {
		out = standardize(out, p.Mean, p.Scale)
	}
	return out, nil
}

func (p *PowerTransformer) validate() error {
	if p.Method != "" && p.Method != "yeo-johnson" {
		return fmt.Errorf("unsupported power method %q", p.Method)
	}
	if len(p.Lambdas) == 0 {
		return errors.New("lambdas are empty")
	}
	if !p.standardizes() {
		return nil
	}
	if len(p.Mean) != len(p.Lambdas) || len(p.Scale) != len(p.Lambdas) {
		return fmt.Errorf("standardize needs %d mean and scale values", len(p.Lambdas))
	}
	return nil
}

var lambdaEpsilon = math.Nextafter(1, 2) - 1

func YeoJohnson(x, lambda float64) float64 {
	if x >= 0 {
		if math.Abs(lambda) < lambdaEpsilon {
			return math.Log1p(x)
		}
		return (math.Pow(x+1, lambda) - 1) / lambda
	}
	if math.Abs(lambda-2) < lambdaEpsilon {
		return -math.Log1p(-x)
	}
	return -(math.Pow(1-x, 2-lambda) - 1) / (2 - lambda)
}

// MinMaxScaler replays scikit-learn's MinMaxScaler. FeatureRange defaults to [0, 1].
type MinMaxScaler struct {
	Provenance
	DataMin      []float64 `json:"data_min"`
	DataMax      []float64 `json:"data_max"`
	FeatureRange []float64 `json:"feature_range,omitempty"`
}

func (m *MinMaxScaler) NumFeatures() int {
	return len(m.DataMin)
}

func (m *MinMaxScaler) Transform(values []float64) ([]float64, error) {
	out, err := NormalizeVector(values, m.DataMin, m.DataMax)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrShapeMismatch, err)
	}
	lo, hi := m.featureRange()
	for i := range out {
		out[i] = out[i]*(hi-lo) + lo
	}
	return out, nil
}

func (m *MinMaxScaler) featureRange() (float64, float64) {
	if len(m.FeatureRange) == 0 {
		return 0, 1
	}
	return m.FeatureRange[0], m.FeatureRange[1]
}

func (m *MinMaxScaler) validate() error {
	if len(m.DataMin) == 0 {
		return errors.New("data_min is empty")
	}
	if len(m.DataMin) != len(m.DataMax) {
		return fmt.Errorf("data_min has %d values, data_max %d", len(m.DataMin), len(m.DataMax))
	}
	if len(m.FeatureRange) != 0 {
		if len(m.FeatureRange) != 2 || m.FeatureRange[0] >= m.FeatureRange[1] {
			return fmt.Errorf("feature_range must be [min, max] with min < max, got %v", m.FeatureRange)
		}
	}
	return nil
}

func LoadScaler(path string) (Scaler, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	scaler, err := DecodeScaler(payload)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return scaler, nil
}

func DecodeScaler(payload []byte) (Scaler, error) {
	var header struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(payload, &header); err != nil {
		return nil, fmt.Errorf("%w: decode scaler: %v", ErrInvalidArtifact, err)
	}
	var scaler interface {
		Scaler
		validate() error
	}
	switch header.Kind {
	case ScalerStandard:
		scaler = &StandardScaler{}
	case ScalerPower:
		scaler = &PowerTransformer{}
	case ScalerMinMax:
		scaler = &MinMaxScaler{}
	default:
		return nil, fmt.Errorf("%w: unsupported scaler kind %q", ErrInvalidArtifact, header.Kind)
	}
	if err := json.Unmarshal(payload, scaler); err != nil {
		return nil, fmt.Errorf("%w: decode %s scaler: %v", ErrInvalidArtifact, header.Kind, err)
	}
	if err := scaler.validate(); err != nil {
		return nil, fmt.Errorf("%w: %s scaler: %v", ErrInvalidArtifact, header.Kind, err)
	}
	return scaler, nil
}

func standardize(values, mean, scale []float64) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		if len(mean) != 0 {
			v -= mean[i]
		}
		if s := scale[i]; s != 0 {
			v /= s
		}
		out[i] = v
	}
	return out
}
