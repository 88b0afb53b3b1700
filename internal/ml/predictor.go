package ml

import (
	"errors"
	"fmt"
	"math"
	"os"
	"sync"
	"time"

	"churn-service/internal/dataset"

	"github.com/rs/zerolog/log"
)

// ErrModelNotFound is returned when no trained artifact exists at the model
// path.
var ErrModelNotFound = errors.New("model not found")

// MetricsInterface defines metrics methods needed by the predictor
type MetricsInterface interface {
	MLPredictionsAdd(int)
	MLFailuresInc()
	MLLatencyObserve(float64)
	MLModelAgeSet(float64)
	MLAccuracyObserve(float64)
	MLPredictionScoresObserve(float64)
	MLFallbackUseInc()
}

// Predictor is a process-wide handle on the trained pipeline. The artifact
// is loaded on first use and kept until Reload.
type Predictor struct {
	mu           sync.RWMutex
	modelPath    string
	pipeline     *Pipeline
	loadedAt     time.Time
	modelCreated time.Time
	metrics      MetricsInterface
}

// NewPredictor returns a handle on the artifact at path. Nothing is read
// until the model is first needed.
func NewPredictor(path string, metrics MetricsInterface) *Predictor {
	return &Predictor{modelPath: path, metrics: metrics}
}

// NewPredictorFromPipeline wraps an in-memory pipeline.
func NewPredictorFromPipeline(p *Pipeline, metrics MetricsInterface) *Predictor {
	return &Predictor{pipeline: p, loadedAt: time.Now(), modelCreated: time.Now(), metrics: metrics}
}

// ModelPath returns the artifact location.
func (p *Predictor) ModelPath() string {
	return p.modelPath
}

// Model returns the loaded pipeline, loading it on first call.
func (p *Predictor) Model() (*Pipeline, error) {
	p.mu.RLock()
	model := p.pipeline
	p.mu.RUnlock()
	if model != nil {
		p.updateModelAge()
		return model, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pipeline != nil {
		return p.pipeline, nil
	}
	if err := p.loadLocked(); err != nil {
		return nil, err
	}
	return p.pipeline, nil
}

// Reload discards the cached pipeline and reads the artifact again.
func (p *Predictor) Reload() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loadLocked()
}

// Use loads the artifact at path and serves it from then on. The current
// pipeline stays in place when loading fails.
func (p *Predictor) Use(path string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	previous := p.modelPath
	p.modelPath = path
	if err := p.loadLocked(); err != nil {
		p.modelPath = previous
		return err
	}
	return nil
}

func (p *Predictor) loadLocked() error {
	info, err := os.Stat(p.modelPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w at %s", ErrModelNotFound, p.modelPath)
		}
		return fmt.Errorf("failed to stat model: %w", err)
	}

	start := time.Now()
	pipeline, err := LoadPipeline(p.modelPath)
	if err != nil {
		log.Error().Err(err).Str("model_path", p.modelPath).Msg("Failed to load model")
		return err
	}

	p.pipeline = pipeline
	p.loadedAt = time.Now()
	p.modelCreated = info.ModTime()
	if p.metrics != nil {
		p.metrics.MLModelAgeSet(time.Since(p.modelCreated).Seconds())
	}

	log.Info().
		Str("model_path", p.modelPath).
		Str("model", pipeline.Name).
		Dur("load_time", time.Since(start)).
		Msg("Model loaded")
	return nil
}

func (p *Predictor) updateModelAge() {
	if p.metrics == nil {
		return
	}
	p.mu.RLock()
	created := p.modelCreated
	p.mu.RUnlock()
	if !created.IsZero() {
		p.metrics.MLModelAgeSet(time.Since(created).Seconds())
	}
}

// LoadedAt reports when the current pipeline was loaded; zero if never.
func (p *Predictor) LoadedAt() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.loadedAt
}

// PredictProba scores every row of frame and records prediction metrics.
func (p *Predictor) PredictProba(frame *dataset.Frame) ([]float64, error) {
	model, err := p.Model()
	if err != nil {
		return nil, err
	}

	start := time.Now()
	proba, err := model.PredictProba(frame)
	if p.metrics != nil {
		p.metrics.MLLatencyObserve(time.Since(start).Seconds())
	}
	if err != nil {
		if p.metrics != nil {
			p.metrics.MLFailuresInc()
		}
		return nil, err
	}

	if p.metrics != nil {
		p.metrics.MLPredictionsAdd(len(proba))
		for _, v := range proba {
			p.metrics.MLPredictionScoresObserve(v)
		}
	}
	return proba, nil
}

// PredictChurnProba scores a single customer and returns the probability and
// a whole-percent string such as "42%".
func (p *Predictor) PredictChurnProba(c dataset.Customer) (float64, string, error) {
	proba, err := p.PredictProba(dataset.FromCustomers([]dataset.Customer{c}))
	if err != nil {
		return 0, "", err
	}
	return proba[0], FormatRiskPercent(proba[0]), nil
}

// ObserveAccuracy records batch accuracy when ground truth is available.
func (p *Predictor) ObserveAccuracy(y []int, proba []float64) {
	if p.metrics == nil || len(y) == 0 || len(y) != len(proba) {
		return
	}
	p.metrics.MLAccuracyObserve(ScoreProbabilities(y, proba).Accuracy)
}

// FormatRiskPercent renders p as a whole percentage.
func FormatRiskPercent(p float64) string {
	return fmt.Sprintf("%.0f%%", p*100)
}

// RoundTo rounds v to the given number of decimal places.
func RoundTo(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}
