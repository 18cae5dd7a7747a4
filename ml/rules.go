package ml

import "math"

// TypeRules marks a bundle scored by fixed clinical thresholds instead of a
// fitted estimator.
const TypeRules = "rules"

const (
	RuleHigh     = "HIGH"
	RuleModerate = "MODERATE"
	RuleLow      = "LOW"
)

// RuleScore is the outcome of a threshold scorer. Confidence is a fraction
// rounded to four decimals.
type RuleScore struct {
	Score      int
	Risk       string
	Confidence float64
}

var pcosRuleFeatures = []string{
	"irregular_cycles", "weight_gain", "acne", "hair_loss", "hirsutism",
	"follicle_count", "amh", "lh_fsh_ratio", "bmi",
}

// PCOSRuleFeatures lists the request fields the PCOS scorer reads.
func PCOSRuleFeatures() []string {
	return append([]string(nil), pcosRuleFeatures...)
}

// ScoreMaternalRules adds points for blood pressure, blood sugar (mg/dL),
// temperature (F), heart rate and age. Only the highest band of each vital
// counts.
func ScoreMaternalRules(m MaternalMeasurements) RuleScore {
	score := 0
	switch {
	case m.SystolicBP > 160 || m.DiastolicBP > 110:
		score += 3
	case m.SystolicBP > 140 || m.DiastolicBP > 90:
		score += 2
	case m.SystolicBP > 130 || m.DiastolicBP > 85:
		score++
	}
	switch {
	case m.BS > 140:
		score += 3
	case m.BS > 110:
		score += 2
	case m.BS > 100:
		score++
	}
	switch {
	case m.BodyTemp > 100.4:
		score += 2
	case m.BodyTemp > 99.5:
		score++
	}
	switch {
	case m.HeartRate > 110 || m.HeartRate < 50:
		score += 2
	case m.HeartRate > 100 || m.HeartRate < 60:
		score++
	}
	switch {
	case m.Age > 40 || m.Age < 17:
		score += 2
	case m.Age > 35:
		score++
	}

	s := float64(score)
	switch {
	case score >= 6:
		return ruleScore(score, RuleHigh, math.Min(0.95, 0.75+s*0.02))
	case score >= 3:
		return ruleScore(score, RuleModerate, math.Min(0.90, 0.65+s*0.03))
	default:
		return ruleScore(score, RuleLow, math.Min(0.95, 0.80+(5-s)*0.03))
	}
}

// ScorePCOSRules scores symptoms (any non-zero value is present) and lab
// results. Absent keys count as zero.
func ScorePCOSRules(values map[string]float64) RuleScore {
	score := 0
	for name, points := range map[string]int{
		"irregular_cycles": 2,
		"weight_gain":      1,
		"acne":             1,
		"hair_loss":        1,
		"hirsutism":        2,
	} {
		if values[name] != 0 {
			score += points
		}
	}
	if values["follicle_count"] > 12 {
		score += 2
	}
	if values["amh"] > 4.0 {
		score += 2
	}
	if values["lh_fsh_ratio"] > 2 {
		score += 2
	}
	if values["bmi"] > 30 {
		score++
	}

	s := float64(score)
	switch {
	case score >= 7:
		return ruleScore(score, RuleHigh, math.Min(0.95, 0.78+s*0.015))
	case score >= 4:
		return ruleScore(score, RuleModerate, math.Min(0.88, 0.65+s*0.02))
	default:
		return ruleScore(score, RuleLow, math.Min(0.95, 0.80+(6-s)*0.025))
	}
}

func ruleScore(score int, risk string, confidence float64) RuleScore {
	return RuleScore{
		Score:      score,
		Risk:       risk,
		Confidence: math.Round(confidence*1e4) / 1e4,
	}
}
