package inference

import (
	"context"
	"time"
)

const (
	DomainMaternal = "maternal"
	DomainPCOS     = "pcos"
)

// Prediction describes one successful inference. Hooks receive it after
// the response has been built.
type Prediction struct {
	ID        string                 `json:"id"`
	PatientID string                 `json:"patientId,omitempty"`
	Domain    string                 `json:"domain"`
	Bundle    string                 `json:"bundle"`
	Version   string                 `json:"version"`
	RunID     string                 `json:"runId,omitempty"`
	Input     map[string]interface{} `json:"input"`
	Result    interface{}            `json:"result"`
	Risk      string                 `json:"risk"`
	Elapsed   time.Duration          `json:"elapsed"`
	CreatedAt time.Time              `json:"createdAt"`
}

type Hook interface {
	OnPrediction(ctx context.Context, p *Prediction) error
}

type HookFunc func(ctx context.Context, p *Prediction) error

func (f HookFunc) OnPrediction(ctx context.Context, p *Prediction) error {
	return f(ctx, p)
}

// Observer receives per-call outcomes, including failures, for metrics.
type Observer interface {
	ObservePrediction(domain string, elapsed time.Duration, err error)
	UnrecognizedLabel(domain, label string)
}
