package inference

import (
	"strings"

	"github.com/montanaflynn/stats"
	"golang.org/x/text/cases"
)

const (
	ScalePercent  = "percent"
	ScaleFraction = "fraction"
)

const (
	RiskHigh     = "HIGH"
	RiskModerate = "MODERATE"
	RiskLow      = "LOW"
	RiskUnknown  = "UNKNOWN"
)

type MaternalResult struct {
	Success       bool               `json:"success"`
	Risk          string             `json:"risk,omitempty"`
	RiskLevel     string             `json:"riskLevel"`
	Confidence    float64            `json:"confidence"`
	Probabilities map[string]float64 `json:"probabilities"`
}

type PCOSResult struct {
	Success     bool    `json:"success"`
	Risk        string  `json:"risk,omitempty"`
	HasPCOS     bool    `json:"hasPCOS"`
	Confidence  float64 `json:"confidence"`
	Probability float64 `json:"probability"`
}

// RuleResult is returned by bundles scored with fixed thresholds.
type RuleResult struct {
	Success    bool    `json:"success"`
	Risk       string  `json:"risk"`
	Confidence float64 `json:"confidence"`
	Score      int     `json:"score"`
}

// Failure is the only error shape callers ever see.
type Failure struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func Fail(err error) Failure {
	return Failure{Success: false, Error: err.Error()}
}

var riskBuckets = map[string]string{
	"high risk":     RiskHigh,
	"mid risk":      RiskModerate,
	"moderate risk": RiskModerate,
	"low risk":      RiskLow,
	"high":          RiskHigh,
	"moderate":      RiskModerate,
	"low":           RiskLow,
}

// NormalizeRisk maps a decoded class name onto a canonical bucket. The
// second return is false for labels outside the lookup, which map to
// RiskUnknown.
func NormalizeRisk(label string) (string, bool) {
	bucket, ok := riskBuckets[strings.TrimSpace(cases.Fold().String(label))]
	if !ok {
		return RiskUnknown, false
	}
	return bucket, true
}

// scaled renders a probability on the configured scale: percent with two
// decimals, or the raw fraction with four.
func scaled(p float64, scale string) float64 {
	var (
		v   float64
		err error
	)
	if scale == ScaleFraction {
		v, err = stats.Round(p, 4)
	} else {
		v, err = stats.Round(p*100, 2)
	}
	if err != nil {
		return 0
	}
	return v
}

func maxProbability(proba []float64) float64 {
	m, err := stats.Max(stats.Float64Data(proba))
	if err != nil {
		return 0
	}
	return m
}

// OverallRisk rolls a patient's most recent risks, newest first, into one
// bucket: two HIGH make HIGH, one HIGH or two MODERATE make MODERATE.
func OverallRisk(recent []string) string {
	var high, moderate int
	for _, r := range recent {
		switch r {
		case RiskHigh:
			high++
		case RiskModerate:
			moderate++
		}
	}
	switch {
	case high >= 2:
		return RiskHigh
	case high >= 1, moderate >= 2:
		return RiskModerate
	default:
		return RiskLow
	}
}
