package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// LabelEncoder maps class indices back to the class names seen at training
// time. Classes are stored in index order.
type LabelEncoder struct {
	Provenance
	Classes []string `json:"classes"`
}

func LoadLabelEncoder(path string) (*LabelEncoder, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var le LabelEncoder
	if err := json.Unmarshal(payload, &le); err != nil {
		return nil, fmt.Errorf("%w: decode labels %s: %v", ErrInvalidArtifact, path, err)
	}
	if len(le.Classes) == 0 {
		return nil, fmt.Errorf("%w: %s has no classes", ErrInvalidArtifact, path)
	}
	return &le, nil
}

func (le *LabelEncoder) InverseTransform(idx int) (string, error) {
	if le == nil {
		return "", errors.New("label encoder is nil")
	}
	if idx < 0 || idx >= len(le.Classes) {
		return "", fmt.Errorf("class index %d out of range [0, %d)", idx, len(le.Classes))
	}
	return le.Classes[idx], nil
}

// FeatureList is the ordered feature names a model was trained on.
type FeatureList struct {
	Provenance
	Names []string `json:"names"`
}

func LoadFeatureList(path string) (*FeatureList, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var fl FeatureList
	if err := json.Unmarshal(payload, &fl); err != nil {
		return nil, fmt.Errorf("%w: decode features %s: %v", ErrInvalidArtifact, path, err)
	}
	if len(fl.Names) == 0 {
		return nil, fmt.Errorf("%w: %s has no feature names", ErrInvalidArtifact, path)
	}
	seen := make(map[string]struct{}, len(fl.Names))
	for _, name := range fl.Names {
		if _, ok := seen[name]; ok {
			return nil, fmt.Errorf("%w: %s lists %q twice", ErrInvalidArtifact, path, name)
		}
		seen[name] = struct{}{}
	}
	return &fl, nil
}
