package ml

import (
	"encoding/json"
	"fmt"
	"os"
)

const (
	TypeDecisionTree       = "decision_tree"
	TypeRandomForest       = "random_forest"
	TypeExtraTrees         = "extra_trees"
	TypeGradientBoosting   = "gradient_boosting"
	TypeLogisticRegression = "logistic_regression"
	TypeStacking           = "stacking"
)

type validatingModel interface {
	Model
	validate() error
}

func LoadModel(modelType, path string) (Model, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	model, err := DecodeModel(modelType, payload)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return model, nil
}

func DecodeModel(modelType string, payload []byte) (Model, error) {
	var model validatingModel
	switch modelType {
	case TypeDecisionTree:
		model = &DecisionTree{}
	case TypeRandomForest, TypeExtraTrees:
		model = &RandomForest{}
	case TypeGradientBoosting:
		model = &GradientBoosting{}
	case TypeLogisticRegression:
		model = &LogisticRegression{}
	case TypeStacking:
		model = &Stacking{}
	default:
		return nil, fmt.Errorf("%w: unsupported model type %q", ErrInvalidArtifact, modelType)
	}
	if err := json.Unmarshal(payload, model); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrInvalidArtifact, modelType, err)
	}
	if err := model.validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidArtifact, modelType, err)
	}
	return model, nil
}
