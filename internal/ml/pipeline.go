package ml

import (
	"errors"
	"fmt"

	"churn-service/internal/dataset"
	"churn-service/internal/features"
)

var ErrPipelineIncomplete = errors.New("pipeline is missing a preprocessor or classifier step")

// Step names exposed to callers that need to inspect a pipeline.
const (
	StepPreprocessor = "preprocessor"
	StepClassifier   = "classifier"
)

// Pipeline chains a fitted preprocessor with a classifier so that raw
// customer frames can be scored directly.
type Pipeline struct {
	Name         string
	Preprocessor *features.Preprocessor
	Classifier   Classifier
	Baseline     *DriftBaseline
}

// NewPipeline wires the two steps together.
func NewPipeline(name string, pre *features.Preprocessor, clf Classifier) *Pipeline {
	return &Pipeline{Name: name, Preprocessor: pre, Classifier: clf}
}

// Steps returns the preprocessor and classifier; ok is false when either
// step is missing.
func (p *Pipeline) Steps() (pre *features.Preprocessor, clf Classifier, ok bool) {
	if p == nil || p.Preprocessor == nil || p.Classifier == nil {
		return nil, nil, false
	}
	return p.Preprocessor, p.Classifier, true
}

// PredictProba returns the churn probability of every row in frame.
func (p *Pipeline) PredictProba(frame *dataset.Frame) ([]float64, error) {
	pre, clf, ok := p.Steps()
	if !ok {
		return nil, ErrPipelineIncomplete
	}
	if frame.Rows() == 0 {
		return []float64{}, nil
	}
	return clf.PredictProba(pre.Transform(frame)), nil
}

// Predict thresholds PredictProba at 0.5.
func (p *Pipeline) Predict(frame *dataset.Frame) ([]int, error) {
	proba, err := p.PredictProba(frame)
	if err != nil {
		return nil, err
	}
	out := make([]int, len(proba))
	for i, v := range proba {
		if v >= 0.5 {
			out[i] = 1
		}
	}
	return out, nil
}

// importanceProvider is implemented by classifiers exposing a native
// per-column importance.
type importanceProvider interface {
	FeatureImportances() []float64
}

// FeatureImportances aggregates the classifier's native importance by input
// feature, normalised so the values sum to one.
func (p *Pipeline) FeatureImportances() (map[string]float64, error) {
	pre, clf, ok := p.Steps()
	if !ok {
		return nil, ErrPipelineIncomplete
	}
	provider, ok := clf.(importanceProvider)
	if !ok {
		return nil, fmt.Errorf("classifier %s exposes no feature importance", clf.Name())
	}

	names := pre.FeatureNamesOut()
	values := provider.FeatureImportances()
	if len(values) != len(names) {
		return nil, fmt.Errorf("importance length %d does not match %d features", len(values), len(names))
	}

	out := make(map[string]float64)
	total := 0.0
	for i, name := range names {
		business := features.BusinessFeatureName(name, dataset.RequiredFeatures)
		out[business] += values[i]
		total += values[i]
	}
	if total > 0 {
		for k := range out {
			out[k] /= total
		}
	}
	return out, nil
}
