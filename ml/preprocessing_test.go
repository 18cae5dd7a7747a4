package ml

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStandardScaler(t *testing.T) {
	scaler, err := DecodeScaler([]byte(`{"kind": "standard", "mean": [1, 2], "scale": [2, 0]}`))
	require.NoError(t, err)
	assert.Equal(t, 2, scaler.NumFeatures())

	out, err := scaler.Transform([]float64{5, 7})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{2, 5}, out, 1e-12)

	_, err = scaler.Transform([]float64{1})
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestYeoJohnson(t *testing.T) {
	tests := []struct {
		x, lambda, want float64
	}{
		{1, 1, 1},
		{1, 0, math.Log(2)},
		{3, 0.5, 2},
		{-1, 1, -1},
		{-1, 2, -math.Log(2)},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, YeoJohnson(tt.x, tt.lambda), 1e-12, "x=%v lambda=%v", tt.x, tt.lambda)
	}
}

func TestPowerTransformerStandardizes(t *testing.T) {
	scaler, err := DecodeScaler([]byte(`{"kind": "power", "method": "yeo-johnson", "lambdas": [1, 0.5], "mean": [1, 0], "scale": [2, 1]}`))
	require.NoError(t, err)

	out, err := scaler.Transform([]float64{3, 3})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{1, 2}, out, 1e-12)
}

func TestPowerTransformerWithoutStandardize(t *testing.T) {
	scaler, err := DecodeScaler([]byte(`{"kind": "power", "lambdas": [0], "standardize": false}`))
	require.NoError(t, err)

	out, err := scaler.Transform([]float64{1})
	require.NoError(t, err)
	assert.InDelta(t, math.Log(2), out[0], 1e-12)
}

func TestPowerTransformerNeedsStatistics(t *testing.T) {
	_, err := DecodeScaler([]byte(`{"kind": "power", "lambdas": [1, 1]}`))
	assert.ErrorIs(t, err, ErrInvalidArtifact)
}

func TestMinMaxScaler(t *testing.T) {
	scaler, err := DecodeScaler([]byte(`{"kind": "minmax", "data_min": [0, 5], "data_max": [10, 5]}`))
	require.NoError(t, err)

	// a constant feature keeps its offset from data_min
	out, err := scaler.Transform([]float64{2.5, 9})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.25, 4}, out, 1e-12)

	out, err = scaler.Transform([]float64{10, 5})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{1, 0}, out, 1e-12)
}

func TestMinMaxScalerFeatureRange(t *testing.T) {
	scaler, err := DecodeScaler([]byte(`{"kind": "minmax", "data_min": [0, 5], "data_max": [10, 5], "feature_range": [-1, 1]}`))
	require.NoError(t, err)

	out, err := scaler.Transform([]float64{2.5, 9})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{-0.5, 7}, out, 1e-12)

	for _, bad := range []string{`[1, 1]`, `[2, 0]`, `[0]`} {
		_, err := DecodeScaler([]byte(`{"kind": "minmax", "data_min": [0], "data_max": [1], "feature_range": ` + bad + `}`))
		assert.ErrorIs(t, err, ErrInvalidArtifact, bad)
	}
}

func TestDecodeScalerUnknownKind(t *testing.T) {
	_, err := DecodeScaler([]byte(`{"kind": "robust"}`))
	assert.ErrorIs(t, err, ErrInvalidArtifact)
}

func TestLoadScalerFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scaler.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"kind": "standard", "run_id": "r", "scale": [1]}`), 0o600))

	scaler, err := LoadScaler(path)
	require.NoError(t, err)
	assert.Equal(t, "r", scaler.(*StandardScaler).Run())
}

func TestLabelEncoderInverseTransform(t *testing.T) {
	path := filepath.Join(t.TempDir(), "labels.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"classes": ["high risk", "low risk", "mid risk"]}`), 0o600))

	le, err := LoadLabelEncoder(path)
	require.NoError(t, err)

	label, err := le.InverseTransform(2)
	require.NoError(t, err)
	assert.Equal(t, "mid risk", label)

	_, err = le.InverseTransform(3)
	assert.Error(t, err)
}

func TestLoadFeatureListRejectsDuplicates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "features.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"names": ["Age", "Age"]}`), 0o600))

	_, err := LoadFeatureList(path)
	assert.ErrorIs(t, err, ErrInvalidArtifact)
}
