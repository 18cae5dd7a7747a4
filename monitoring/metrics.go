package monitoring

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"healthrisk/artifact"
	"healthrisk/inference"
	"healthrisk/ml"
)

const metricsNamespace = "healthrisk"

const (
	OutcomeSuccess       = "success"
	OutcomeInvalidInput  = "invalid_input"
	OutcomeArtifactError = "artifact_error"
	OutcomeShapeMismatch = "shape_mismatch"
	OutcomeError         = "error"
)

// 指标定义
var (
	PredictionCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "inference",
		Name:      "predictions_total",
		Help:      "Counter of predictions by domain and outcome.",
	}, []string{"domain", "outcome"})

	PredictionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Subsystem: "inference",
		Name:      "prediction_duration_seconds",
		Help:      "Histogram of the prediction latency, artifact loading included.",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
	}, []string{"domain"})

	RiskCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "inference",
		Name:      "risk_total",
		Help:      "Counter of successful predictions by risk bucket.",
	}, []string{"domain", "risk"})

	UnrecognizedLabelCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "inference",
		Name:      "unrecognized_label_total",
		Help:      "Counter of decoded labels outside the risk bucket lookup.",
	}, []string{"domain"})

	BundleLoadCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "artifact",
		Name:      "bundle_loads_total",
		Help:      "Counter of bundle loads from disk by result.",
	}, []string{"bundle", "result"})

	BundleLoadDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Subsystem: "artifact",
		Name:      "bundle_load_duration_seconds",
		Help:      "Histogram of the time spent loading a bundle from disk.",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
	}, []string{"bundle"})

	BundleEvictionCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "artifact",
		Name:      "bundle_evictions_total",
		Help:      "Counter of cached bundle evictions by reason.",
	}, []string{"bundle", "reason"})

	AlertClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: "alerts",
		Name:      "clients",
		Help:      "Gauge of connected alert stream clients.",
	})

	AlertDroppedCount = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "alerts",
		Name:      "dropped_total",
		Help:      "Counter of alerts dropped because the broadcast queue was full.",
	})
)

// Recorder 将推理与制品事件写入 Prometheus 指标
type Recorder struct{}

var (
	_ inference.Observer = Recorder{}
	_ inference.Hook     = Recorder{}
	_ artifact.Observer  = Recorder{}
)

func (Recorder) ObservePrediction(domain string, elapsed time.Duration, err error) {
	PredictionCount.WithLabelValues(domain, Outcome(err)).Inc()
	PredictionDuration.WithLabelValues(domain).Observe(elapsed.Seconds())
}

func (Recorder) UnrecognizedLabel(domain, _ string) {
	UnrecognizedLabelCount.WithLabelValues(domain).Inc()
}

func (Recorder) OnPrediction(_ context.Context, p *inference.Prediction) error {
	RiskCount.WithLabelValues(p.Domain, p.Risk).Inc()
	return nil
}

func (Recorder) BundleLoaded(name string, elapsed time.Duration, err error) {
	result := OutcomeSuccess
	if err != nil {
		result = OutcomeError
	}
	BundleLoadCount.WithLabelValues(name, result).Inc()
	BundleLoadDuration.WithLabelValues(name).Observe(elapsed.Seconds())
}

func (Recorder) BundleEvicted(name, reason string) {
	BundleEvictionCount.WithLabelValues(name, reason).Inc()
}

// Outcome 将错误归类为指标标签
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, inference.ErrMissingField), errors.Is(err, inference.ErrInvalidValue), errors.Is(err, inference.ErrInvalidDomain):
		return OutcomeInvalidInput
	case errors.Is(err, ml.ErrShapeMismatch), errors.Is(err, artifact.ErrMismatch):
		return OutcomeShapeMismatch
	case errors.Is(err, artifact.ErrArtifact), errors.Is(err, ml.ErrInvalidArtifact):
		return OutcomeArtifactError
	default:
		return OutcomeError
	}
}

// Handler 返回 /metrics 处理器
func Handler() http.Handler {
	return promhttp.Handler()
}
