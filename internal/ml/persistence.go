package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"churn-service/internal/features"
)

var ErrUnknownClassifier = errors.New("unknown classifier type")

// artifactFormat is bumped when the on-disk layout changes.
const artifactFormat = 1

type artifact struct {
	Format         int                    `json:"format"`
	Name           string                 `json:"name"`
	ClassifierType string                 `json:"classifier_type"`
	SavedAt        time.Time              `json:"saved_at"`
	Preprocessor   *features.Preprocessor `json:"preprocessor"`
	Classifier     json.RawMessage        `json:"classifier"`
	Baseline       *DriftBaseline         `json:"drift_baseline,omitempty"`
}

// SavePipeline writes p to path as a JSON artifact. The file is written to a
// temporary sibling first and renamed into place.
func SavePipeline(path string, p *Pipeline) error {
	pre, clf, ok := p.Steps()
	if !ok {
		return ErrPipelineIncomplete
	}

	clfData, err := json.Marshal(clf)
	if err != nil {
		return fmt.Errorf("failed to encode classifier: %w", err)
	}
	data, err := json.Marshal(artifact{
		Format:         artifactFormat,
		Name:           p.Name,
		ClassifierType: clf.Name(),
		SavedAt:        time.Now().UTC(),
		Preprocessor:   pre,
		Classifier:     clfData,
		Baseline:       p.Baseline,
	})
	if err != nil {
		return fmt.Errorf("failed to encode model artifact: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create model directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write model artifact: %w", err)
	}
	return os.Rename(tmp, path)
}

// LoadPipeline reads an artifact written by SavePipeline.
func LoadPipeline(path string) (*Pipeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var a artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("failed to decode model artifact: %w", err)
	}
	if a.Preprocessor == nil {
		return nil, ErrPipelineIncomplete
	}

	var clf Classifier
	switch a.ClassifierType {
	case ModelLogisticRegression:
		m := &LogisticRegression{}
		if err := json.Unmarshal(a.Classifier, m); err != nil {
			return nil, fmt.Errorf("failed to decode logistic regression: %w", err)
		}
		clf = m
	case ModelRandomForest:
		m := &RandomForest{}
		if err := json.Unmarshal(a.Classifier, m); err != nil {
			return nil, fmt.Errorf("failed to decode random forest: %w", err)
		}
		clf = m
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownClassifier, a.ClassifierType)
	}

	p := NewPipeline(a.Name, a.Preprocessor, clf)
	p.Baseline = a.Baseline
	return p, nil
}
