package artifact

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-multierror"

	"healthrisk/ml"
)

var (
	ErrArtifact = errors.New("artifact error")
	ErrMismatch = errors.New("artifacts are not a matched set")
)

// Bundle 一组同源的模型制品，加载后只读
type Bundle struct {
	Dir      string
	Manifest Manifest
	Model    ml.Model
	Scaler   ml.Scaler
	Labels   *ml.LabelEncoder
	Features []string
	LoadedAt time.Time
}

type provenanced interface {
	Run() string
}

// LoadBundle 加载并校验一个制品包，所有不一致一次性报告
func LoadBundle(dir string) (*Bundle, error) {
	manifest, err := LoadManifest(dir)
	if err != nil {
		return nil, fmt.Errorf("bundle %s: %w", dir, err)
	}

	b := &Bundle{Dir: dir, Manifest: *manifest, LoadedAt: time.Now()}
	if manifest.Rules() {
		b.Features = ml.FeatureNames()
		if manifest.Domain == DomainPCOS {
			b.Features = ml.PCOSRuleFeatures()
		}
		return b, nil
	}

	var loadErr *multierror.Error
	if b.Model, err = ml.LoadModel(manifest.ModelType, filepath.Join(dir, manifest.Model)); err != nil {
		loadErr = multierror.Append(loadErr, fmt.Errorf("%w: model: %v", ErrArtifact, err))
	}
	if b.Scaler, err = ml.LoadScaler(filepath.Join(dir, manifest.Scaler)); err != nil {
		loadErr = multierror.Append(loadErr, fmt.Errorf("%w: scaler: %v", ErrArtifact, err))
	}
	if b.Labels, err = ml.LoadLabelEncoder(filepath.Join(dir, manifest.Labels)); err != nil {
		loadErr = multierror.Append(loadErr, fmt.Errorf("%w: labels: %v", ErrArtifact, err))
	}

	var featureList *ml.FeatureList
	if manifest.Features != "" {
		featureList, err = ml.LoadFeatureList(filepath.Join(dir, manifest.Features))
		if err != nil {
			loadErr = multierror.Append(loadErr, fmt.Errorf("%w: features: %v", ErrArtifact, err))
		} else {
			b.Features = featureList.Names
		}
	} else {
		b.Features = ml.FeatureNames()
		if manifest.DerivedFeatures {
			b.Features = append(b.Features, ml.DerivedFeatureNames()...)
		}
	}
	if err := loadErr.ErrorOrNil(); err != nil {
		return nil, fmt.Errorf("bundle %s: %w", dir, err)
	}

	var parts []interface{}
	parts = append(parts, b.Model, b.Scaler, b.Labels)
	if featureList != nil {
		parts = append(parts, featureList)
	}
	if err := b.validate(parts); err != nil {
		return nil, fmt.Errorf("bundle %s: %w", dir, err)
	}
	return b, nil
}

func (b *Bundle) validate(parts []interface{}) error {
	var result *multierror.Error

	runID := b.Manifest.RunID
	for _, part := range parts {
		p, ok := part.(provenanced)
		if !ok || p.Run() == "" {
			continue
		}
		if runID == "" {
			runID = p.Run()
			continue
		}
		if p.Run() != runID {
			result = multierror.Append(result, fmt.Errorf("%w: %T comes from run %q, bundle is %q", ErrMismatch, part, p.Run(), runID))
		}
	}

	width := len(b.Features)
	if b.Scaler.NumFeatures() != width {
		result = multierror.Append(result, fmt.Errorf("%w: scaler has %d features, feature list %d", ErrMismatch, b.Scaler.NumFeatures(), width))
	}
	if b.Model.NumFeatures() != width {
		result = multierror.Append(result, fmt.Errorf("%w: model expects %d features, feature list %d", ErrMismatch, b.Model.NumFeatures(), width))
	}
	if len(b.Labels.Classes) != b.Model.NumClasses() {
		result = multierror.Append(result, fmt.Errorf("%w: %d labels for %d model classes", ErrMismatch, len(b.Labels.Classes), b.Model.NumClasses()))
	}
	if b.Manifest.Domain == DomainPCOS && b.Model.NumClasses() != 2 {
		result = multierror.Append(result, fmt.Errorf("%w: pcos model must be binary, has %d classes", ErrMismatch, b.Model.NumClasses()))
	}
	return result.ErrorOrNil()
}

func (b *Bundle) Name() string {
	return b.Manifest.Name
}

// Classes 返回标签类别，阈值评分包没有标签
func (b *Bundle) Classes() []string {
	if b.Labels == nil {
		return nil
	}
	return b.Labels.Classes
}

func (b *Bundle) Rules() bool {
	return b.Manifest.Rules()
}

// Vector 按特征列表顺序组装原始特征向量
func (b *Bundle) Vector(values map[string]float64, policy ml.MissingPolicy) ([]float64, error) {
	return ml.VectorFromMap(b.Features, values, policy)
}

// Predict 对原始特征向量做缩放后预测，返回类别下标与概率
func (b *Bundle) Predict(raw []float64) (int, []float64, error) {
	if b.Rules() {
		return 0, nil, fmt.Errorf("%w: bundle %s has no estimator", ErrArtifact, b.Name())
	}
	scaled, err := b.Scaler.Transform(raw)
	if err != nil {
		return 0, nil, err
	}
	return ml.Predict(b.Model, scaled)
}
