package ml

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"churn-service/internal/dataset"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/integrate"
	"gonum.org/v1/gonum/stat"
)

// SelectionMetric describes how SelectBestModel ranks candidates.
const SelectionMetric = "roc_auc (fallback: f1)"

// EvaluationMetrics holds test-set metrics of a binary classifier. ROCAUC is
// nil when only one class is present in the labels.
type EvaluationMetrics struct {
	Accuracy          float64        `json:"accuracy"`
	Precision         float64        `json:"precision"`
	Recall            float64        `json:"recall"`
	F1                float64        `json:"f1"`
	ROCAUC            *float64       `json:"roc_auc"`
	ConfusionMatrix   [2][2]int      `json:"confusion_matrix"`
	ClassDistribution map[string]int `json:"class_distribution"`
}

// Evaluate scores model on the held-out frame.
func Evaluate(model *Pipeline, X *dataset.Frame, y []int) (EvaluationMetrics, error) {
	proba, err := model.PredictProba(X)
	if err != nil {
		return EvaluationMetrics{}, err
	}
	if len(proba) != len(y) {
		return EvaluationMetrics{}, fmt.Errorf("got %d predictions for %d labels", len(proba), len(y))
	}

	m := ScoreProbabilities(y, proba)
	event := log.Info().
		Str("model", model.Name).
		Interface("class_distribution", m.ClassDistribution).
		Float64("accuracy", m.Accuracy).
		Float64("precision", m.Precision).
		Float64("recall", m.Recall).
		Float64("f1", m.F1)
	if m.ROCAUC != nil {
		event = event.Float64("roc_auc", *m.ROCAUC)
	}
	event.Msg("Model evaluated")
	return m, nil
}

// ScoreProbabilities computes EvaluationMetrics from labels and positive-class
// probabilities, predicting churn at p >= 0.5.
func ScoreProbabilities(y []int, proba []float64) EvaluationMetrics {
	var tn, fp, fn, tp int
	dist := make(map[string]int)
	for i, label := range y {
		dist[strconv.Itoa(label)]++
		pred := proba[i] >= 0.5
		switch {
		case label == 1 && pred:
			tp++
		case label == 1:
			fn++
		case pred:
			fp++
		default:
			tn++
		}
	}

	m := EvaluationMetrics{
		ConfusionMatrix:   [2][2]int{{tn, fp}, {fn, tp}},
		ClassDistribution: dist,
	}
	if n := len(y); n > 0 {
		m.Accuracy = float64(tp+tn) / float64(n)
	}
	m.Precision = safeDiv(float64(tp), float64(tp+fp))
	m.Recall = safeDiv(float64(tp), float64(tp+fn))
	m.F1 = safeDiv(2*float64(tp), float64(2*tp+fp+fn))
	if auc, ok := ROCAUC(y, proba); ok {
		m.ROCAUC = &auc
	}
	return m
}

func safeDiv(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}

// ROCAUC integrates the ROC curve over every distinct score cutoff, so tied
// scores contribute a diagonal segment. ok is false when y holds a single
// class.
func ROCAUC(y []int, scores []float64) (float64, bool) {
	n := len(y)
	idx := make([]int, n)
	var pos int
	for i := range idx {
		idx[i] = i
		if y[i] == 1 {
			pos++
		}
	}
	if pos == 0 || pos == n {
		return math.NaN(), false
	}
	sort.SliceStable(idx, func(a, b int) bool { return scores[idx[a]] < scores[idx[b]] })

	sorted := make([]float64, n)
	classes := make([]bool, n)
	for i, j := range idx {
		sorted[i] = scores[j]
		classes[i] = y[j] == 1
	}
	tpr, fpr, _ := stat.ROC(nil, sorted, classes, nil)
	return integrate.Trapezoidal(fpr, tpr), true
}

// SelectBestModel returns the model with the highest ROC AUC, using F1 for
// models whose ROC AUC is undefined. Ties go to the first name in order.
func SelectBestModel(metricsByModel map[string]EvaluationMetrics) (string, error) {
	if len(metricsByModel) == 0 {
		return "", fmt.Errorf("no models to select from")
	}

	names := make([]string, 0, len(metricsByModel))
	for name := range metricsByModel {
		names = append(names, name)
	}
	sort.Strings(names)

	best, bestScore := "", math.Inf(-1)
	for _, name := range names {
		m := metricsByModel[name]
		score := m.F1
		if m.ROCAUC != nil {
			score = *m.ROCAUC
		}
		if score > bestScore {
			best, bestScore = name, score
		}
	}
	return best, nil
}

// TrainingReport is the metrics document written after training.
type TrainingReport struct {
	SelectionMetric       string                       `json:"selection_metric"`
	BestModel             string                       `json:"best_model"`
	MetricsByModel        map[string]EvaluationMetrics `json:"metrics_by_model"`
	PermutationImportance []FeatureScore               `json:"permutation_importance,omitempty"`
}

// NewTrainingReport selects the best model and assembles the report.
func NewTrainingReport(metricsByModel map[string]EvaluationMetrics) (*TrainingReport, error) {
	best, err := SelectBestModel(metricsByModel)
	if err != nil {
		return nil, err
	}
	return &TrainingReport{
		SelectionMetric: SelectionMetric,
		BestModel:       best,
		MetricsByModel:  metricsByModel,
	}, nil
}

// WriteTrainingReport writes report as indented JSON, creating parent
// directories.
func WriteTrainingReport(path string, report *TrainingReport) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadTrainingReport loads a report written by WriteTrainingReport.
func ReadTrainingReport(path string) (*TrainingReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var report TrainingReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("failed to decode training report: %w", err)
	}
	return &report, nil
}
