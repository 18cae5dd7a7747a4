package ml

import (
	"errors"
	"fmt"
	"math"
)

var ErrZeroDivisor = errors.New("zero divisor")

// DeriveMaternalFeatures adds the engineered features used by the full
// maternal model to the base measurements.
func DeriveMaternalFeatures(m MaternalMeasurements) (map[string]float64, error) {
	if m.DiastolicBP == 0 {
		return nil, fmt.Errorf("%w: %s is 0", ErrZeroDivisor, FeatureDiastolicBP)
	}
	if m.BodyTemp == 0 {
		return nil, fmt.Errorf("%w: %s is 0", ErrZeroDivisor, FeatureBodyTemp)
	}
	values := m.Values()
	values[FeatureBPMean] = (m.SystolicBP + m.DiastolicBP) / 2
	values[FeatureBPPulsePressure] = m.SystolicBP - m.DiastolicBP
	values[FeatureBPProduct] = m.SystolicBP * m.DiastolicBP
	values[FeatureBPRatio] = m.SystolicBP / m.DiastolicBP
	values[FeatureAgeSquared] = m.Age * m.Age
	values[FeatureAgeBPInteraction] = (m.Age * m.SystolicBP) / 100
	values[FeatureAgeBSInteraction] = m.Age * m.BS
	values[FeatureBSTempProduct] = m.BS * m.BodyTemp
	values[FeatureHRTempRatio] = m.HeartRate / m.BodyTemp
	values[FeatureRiskIndex] = CalculateRiskIndex(m)
	return values, nil
}

func CalculateRiskIndex(m MaternalMeasurements) float64 {
	return (m.SystolicBP/120)*0.3 +
		(m.BS/7)*0.3 +
		(m.HeartRate/80)*0.2 +
		(m.BodyTemp/98.6)*0.2
}

// NormalizeFeature maps value onto [0, 1] relative to the training range.
// A constant feature has its range treated as 1, the way scikit-learn does.
func NormalizeFeature(value, min, max float64) float64 {
	span := max - min
	if span == 0 {
		span = 1
	}
	return (value - min) / span
}

func NormalizeVector(values []float64, mins []float64, maxs []float64) ([]float64, error) {
	if len(values) != len(mins) || len(values) != len(maxs) {
		return nil, errors.New("values/mins/maxs length mismatch")
	}
	result := make([]float64, len(values))
	for i := range values {
		result[i] = NormalizeFeature(values[i], mins[i], maxs[i])
	}
	return result, nil
}

func sigmoid(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}

func softmax(scores []float64) []float64 {
	maxScore := math.Inf(-1)
	for _, s := range scores {
		if s > maxScore {
			maxScore = s
		}
	}
	out := make([]float64, len(scores))
	sum := 0.0
	for i, s := range scores {
		out[i] = math.Exp(s - maxScore)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

func normalize(weights []float64) ([]float64, error) {
	sum := 0.0
	for _, w := range weights {
		if w < 0 {
			return nil, errors.New("negative class weight in leaf")
		}
		sum += w
	}
	if sum == 0 {
		return nil, errors.New("leaf has no class weight")
	}
	out := make([]float64, len(weights))
	for i, w := range weights {
		out[i] = w / sum
	}
	return out, nil
}

// argmax returns the first index of the largest value, matching numpy.
func argmax(values []float64) int {
	best := 0
	for i, v := range values {
		if v > values[best] {
			best = i
		}
	}
	return best
}
