package inference

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"healthrisk/artifact"
	"healthrisk/logging"
	"healthrisk/ml"
)

var (
	ErrArtifact      = artifact.ErrArtifact
	ErrInvalidDomain = errors.New("Invalid model type")
)

// BundleSource resolves artifact bundles by name. *artifact.Registry
// implements it.
type BundleSource interface {
	Get(name string) (*artifact.Bundle, error)
}

type Options struct {
	MaternalBundle   string
	PCOSBundle       string
	ProbabilityScale string
	NormalizeRisk    bool
	Observer         Observer
}

type Service struct {
	bundles BundleSource
	opts    Options

	mu    sync.RWMutex
	hooks []Hook
}

func NewService(bundles BundleSource, opts Options) *Service {
	if opts.ProbabilityScale == "" {
		opts.ProbabilityScale = ScalePercent
	}
	return &Service{bundles: bundles, opts: opts}
}

func (s *Service) AddHook(h Hook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, h)
}

// Bundles returns the configured bundle name per domain.
func (s *Service) Bundles() map[string]string {
	return map[string]string{
		DomainMaternal: s.opts.MaternalBundle,
		DomainPCOS:     s.opts.PCOSBundle,
	}
}

// Respond runs one prediction for the raw JSON payload and returns either
// a result or a Failure. It never panics.
func (s *Service) Respond(ctx context.Context, domain string, payload []byte) (resp interface{}) {
	start := time.Now()
	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("internal error: %v", r)
			logging.L().Error("prediction panicked", zap.String("domain", domain), zap.Any("panic", r), zap.Stack("stack"))
			resp = Fail(err)
		}
		if s.opts.Observer != nil && (domain == DomainMaternal || domain == DomainPCOS) {
			s.opts.Observer.ObservePrediction(domain, time.Since(start), err)
		}
	}()

	var raw map[string]interface{}
	raw, err = decodeObject(payload)
	if err == nil {
		_, err = DecodePatientID(raw)
	}
	if err == nil {
		switch domain {
		case DomainMaternal:
			resp, err = s.respondMaternal(ctx, raw)
		case DomainPCOS:
			resp, err = s.respondPCOS(ctx, raw)
		default:
			err = ErrInvalidDomain
		}
	}
	if err != nil {
		logging.L().Info("prediction failed", zap.String("domain", domain), zap.Error(err))
		return Fail(err)
	}
	return resp
}

func decodeObject(payload []byte) (map[string]interface{}, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: request body is empty", ErrInvalidValue)
	}
	var raw map[string]interface{}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("%w: body is not a JSON object: %v", ErrInvalidValue, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: body is not a JSON object", ErrInvalidValue)
	}
	return raw, nil
}

func (s *Service) bundle(name, domain string) (*artifact.Bundle, error) {
	b, err := s.bundles.Get(name)
	if err != nil {
		return nil, err
	}
	if b.Manifest.Domain != domain {
		return nil, fmt.Errorf("%w: bundle %s serves %s, not %s", ErrArtifact, name, b.Manifest.Domain, domain)
	}
	return b, nil
}

// respondMaternal picks the estimator or the threshold scorer by bundle type.
func (s *Service) respondMaternal(ctx context.Context, raw map[string]interface{}) (interface{}, error) {
	start := time.Now()
	m, b, err := s.maternalInput(raw)
	if err != nil {
		return nil, err
	}
	if b.Rules() {
		score := ml.ScoreMaternalRules(m)
		result := s.ruleResult(score)
		s.emit(ctx, b, DomainMaternal, raw, result, score.Risk, start)
		return result, nil
	}
	return s.predictMaternal(ctx, b, m, raw, start)
}

func (s *Service) respondPCOS(ctx context.Context, raw map[string]interface{}) (interface{}, error) {
	start := time.Now()
	values, b, err := s.pcosInput(raw)
	if err != nil {
		return nil, err
	}
	if b.Rules() {
		score := ml.ScorePCOSRules(values)
		result := s.ruleResult(score)
		s.emit(ctx, b, DomainPCOS, raw, result, score.Risk, start)
		return result, nil
	}
	return s.predictPCOS(ctx, b, values, raw, start)
}

func (s *Service) maternalInput(raw map[string]interface{}) (ml.MaternalMeasurements, *artifact.Bundle, error) {
	m, err := DecodeMaternal(raw)
	if err != nil {
		return m, nil, err
	}
	b, err := s.bundle(s.opts.MaternalBundle, DomainMaternal)
	if err != nil {
		return m, nil, err
	}
	return m, b, nil
}

func (s *Service) pcosInput(raw map[string]interface{}) (map[string]float64, *artifact.Bundle, error) {
	b, err := s.bundle(s.opts.PCOSBundle, DomainPCOS)
	if err != nil {
		return nil, nil, err
	}
	values, err := DecodePCOS(raw, b.Features)
	if err != nil {
		return nil, nil, err
	}
	return values, b, nil
}

func (s *Service) ruleResult(score ml.RuleScore) *RuleResult {
	return &RuleResult{
		Success:    true,
		Risk:       score.Risk,
		Confidence: scaled(score.Confidence, s.opts.ProbabilityScale),
		Score:      score.Score,
	}
}

func errRulesBundle(b *artifact.Bundle) error {
	return fmt.Errorf("%w: bundle %s is scored by rules and has no estimator", ErrArtifact, b.Name())
}

// PredictMaternal runs the estimator of the maternal bundle.
func (s *Service) PredictMaternal(ctx context.Context, raw map[string]interface{}) (*MaternalResult, error) {
	start := time.Now()
	m, b, err := s.maternalInput(raw)
	if err != nil {
		return nil, err
	}
	if b.Rules() {
		return nil, errRulesBundle(b)
	}
	return s.predictMaternal(ctx, b, m, raw, start)
}

func (s *Service) predictMaternal(ctx context.Context, b *artifact.Bundle, m ml.MaternalMeasurements, raw map[string]interface{}, start time.Time) (*MaternalResult, error) {
	var err error
	values := m.Values()
	if b.Manifest.DerivedFeatures {
		if values, err = ml.DeriveMaternalFeatures(m); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
		}
	}
	vector, err := b.Vector(values, ml.MissingFail)
	if err != nil {
		return nil, fmt.Errorf("%w: bundle %s: %v", ErrShapeMismatch, b.Name(), err)
	}
	idx, proba, err := b.Predict(vector)
	if err != nil {
		return nil, err
	}
	label, err := b.Labels.InverseTransform(idx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrArtifact, err)
	}

	result := &MaternalResult{
		Success:       true,
		RiskLevel:     label,
		Confidence:    scaled(maxProbability(proba), s.opts.ProbabilityScale),
		Probabilities: make(map[string]float64, len(proba)),
	}
	for i, p := range proba {
		result.Probabilities[b.Labels.Classes[i]] = scaled(p, s.opts.ProbabilityScale)
	}

	risk, ok := NormalizeRisk(label)
	if !ok {
		logging.L().Warn("unrecognized risk label", zap.String("bundle", b.Name()), zap.String("label", label))
		if s.opts.Observer != nil {
			s.opts.Observer.UnrecognizedLabel(DomainMaternal, label)
		}
	}
	if s.opts.NormalizeRisk {
		result.Risk = risk
	}

	s.emit(ctx, b, DomainMaternal, raw, result, risk, start)
	return result, nil
}

// PredictPCOS runs the estimator of the PCOS bundle.
func (s *Service) PredictPCOS(ctx context.Context, raw map[string]interface{}) (*PCOSResult, error) {
	start := time.Now()
	values, b, err := s.pcosInput(raw)
	if err != nil {
		return nil, err
	}
	if b.Rules() {
		return nil, errRulesBundle(b)
	}
	return s.predictPCOS(ctx, b, values, raw, start)
}

func (s *Service) predictPCOS(ctx context.Context, b *artifact.Bundle, values map[string]float64, raw map[string]interface{}, start time.Time) (*PCOSResult, error) {
	vector, err := b.Vector(values, ml.MissingZero)
	if err != nil {
		return nil, err
	}
	idx, proba, err := b.Predict(vector)
	if err != nil {
		return nil, err
	}
	if len(proba) != 2 {
		return nil, fmt.Errorf("%w: pcos model returned %d probabilities", ErrShapeMismatch, len(proba))
	}

	result := &PCOSResult{
		Success:     true,
		HasPCOS:     idx == 1,
		Confidence:  scaled(maxProbability(proba), s.opts.ProbabilityScale),
		Probability: scaled(proba[1], s.opts.ProbabilityScale),
	}
	risk := RiskLow
	if result.HasPCOS {
		risk = RiskHigh
	}
	if s.opts.NormalizeRisk {
		result.Risk = risk
	}

	s.emit(ctx, b, DomainPCOS, raw, result, risk, start)
	return result, nil
}

func (s *Service) emit(ctx context.Context, b *artifact.Bundle, domain string, input map[string]interface{}, result interface{}, risk string, start time.Time) {
	s.mu.RLock()
	hooks := s.hooks
	s.mu.RUnlock()
	if len(hooks) == 0 {
		return
	}

	patientID, _ := DecodePatientID(input)
	p := &Prediction{
		ID:        uuid.NewString(),
		PatientID: patientID,
		Domain:    domain,
		Bundle:    b.Name(),
		Version:   b.Manifest.Version,
		RunID:     b.Manifest.RunID,
		Input:     input,
		Result:    result,
		Risk:      risk,
		Elapsed:   time.Since(start),
		CreatedAt: time.Now().UTC(),
	}
	for _, h := range hooks {
		if err := h.OnPrediction(ctx, p); err != nil {
			logging.L().Warn("prediction hook failed", zap.String("id", p.ID), zap.String("domain", domain), zap.Error(err))
		}
	}
}
