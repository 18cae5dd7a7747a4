package ml

import (
	"fmt"
)

const (
	FeatureAge         = "Age"
	FeatureSystolicBP  = "SystolicBP"
	FeatureDiastolicBP = "DiastolicBP"
	FeatureBS          = "BS"
	FeatureBodyTemp    = "BodyTemp"
	FeatureHeartRate   = "HeartRate"

	FeatureBPMean           = "BP_Mean"
	FeatureBPPulsePressure  = "BP_Pulse_Pressure"
	FeatureBPProduct        = "BP_Product"
	FeatureBPRatio          = "BP_Ratio"
	FeatureAgeSquared       = "Age_Squared"
	FeatureAgeBPInteraction = "Age_BP_Interaction"
	FeatureAgeBSInteraction = "Age_BS_Interaction"
	FeatureBSTempProduct    = "BS_Temp_Product"
	FeatureHRTempRatio      = "HR_Temp_Ratio"
	FeatureRiskIndex        = "Risk_Index"
)

// MaternalMeasurements are the six clinical readings every maternal model
// consumes.
type MaternalMeasurements struct {
	Age         float64
	SystolicBP  float64
	DiastolicBP float64
	BS          float64
	BodyTemp    float64
	HeartRate   float64
}

func (m MaternalMeasurements) Values() map[string]float64 {
	return map[string]float64{
		FeatureAge:         m.Age,
		FeatureSystolicBP:  m.SystolicBP,
		FeatureDiastolicBP: m.DiastolicBP,
		FeatureBS:          m.BS,
		FeatureBodyTemp:    m.BodyTemp,
		FeatureHeartRate:   m.HeartRate,
	}
}

func FeatureVector(m MaternalMeasurements) []float64 {
	return []float64{
		m.Age,
		m.SystolicBP,
		m.DiastolicBP,
		m.BS,
		m.BodyTemp,
		m.HeartRate,
	}
}

func FeatureNames() []string {
	return []string{
		FeatureAge,
		FeatureSystolicBP,
		FeatureDiastolicBP,
		FeatureBS,
		FeatureBodyTemp,
		FeatureHeartRate,
	}
}

func DerivedFeatureNames() []string {
	return []string{
		FeatureBPMean,
		FeatureBPPulsePressure,
		FeatureBPProduct,
		FeatureBPRatio,
		FeatureAgeSquared,
		FeatureAgeBPInteraction,
		FeatureAgeBSInteraction,
		FeatureBSTempProduct,
		FeatureHRTempRatio,
		FeatureRiskIndex,
	}
}

type MissingPolicy int

const (
	// MissingFail rejects a vector when any named feature is absent.
	MissingFail MissingPolicy = iota
	// MissingZero substitutes 0 for absent features.
	MissingZero
)

func VectorFromMap(names []string, values map[string]float64, policy MissingPolicy) ([]float64, error) {
	vector := make([]float64, len(names))
	for i, name := range names {
		value, ok := values[name]
		if !ok {
			if policy == MissingFail {
				return nil, fmt.Errorf("%w: %s", ErrMissingFeature, name)
			}
			value = 0
		}
		vector[i] = value
	}
	return vector, nil
}
