// Package artifact 管理模型制品包的加载、校验与缓存
package artifact

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v2"

	"healthrisk/ml"
)

const ManifestFile = "bundle.yaml"

const (
	DomainMaternal = "maternal"
	DomainPCOS     = "pcos"
)

// Manifest 制品包清单，描述同一次训练导出的模型、缩放器、标签与特征列表
type Manifest struct {
	Name            string `yaml:"name"`
	Domain          string `yaml:"domain"`
	Version         string `yaml:"version"`
	RunID           string `yaml:"run_id"`
	ModelType       string `yaml:"model_type"`
	Model           string `yaml:"model"`
	Scaler          string `yaml:"scaler"`
	Labels          string `yaml:"labels"`
	Features        string `yaml:"features"`
	DerivedFeatures bool   `yaml:"derived_features"`
}

// LoadManifest 读取目录下的 bundle.yaml 并补全默认文件名
func LoadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, fmt.Errorf("读取清单失败: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("解析清单失败: %w", err)
	}
	m.applyDefaults(dir)
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Manifest) applyDefaults(dir string) {
	if m.Name == "" {
		m.Name = filepath.Base(dir)
	}
	if m.Rules() {
		return
	}
	if m.Model == "" {
		m.Model = "model.json"
	}
	if m.Scaler == "" {
		m.Scaler = "scaler.json"
	}
	if m.Labels == "" {
		m.Labels = "labels.json"
	}
}

// Validate 检查清单必填项
func (m *Manifest) Validate() error {
	switch m.Domain {
	case DomainMaternal, DomainPCOS:
	default:
		return fmt.Errorf("%w: unknown domain %q", ErrArtifact, m.Domain)
	}
	if m.ModelType == "" {
		return fmt.Errorf("%w: model_type is required", ErrArtifact)
	}
	if m.Domain == DomainPCOS && m.Features == "" && !m.Rules() {
		return fmt.Errorf("%w: pcos bundles need a feature list", ErrArtifact)
	}
	return nil
}

// Rules 阈值评分包，不含模型、缩放器与标签文件
func (m *Manifest) Rules() bool {
	return m.ModelType == ml.TypeRules
}
