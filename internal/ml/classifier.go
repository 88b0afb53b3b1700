// Package ml trains, evaluates, persists and serves the churn classifiers.
// It includes a logistic regression and a random forest behind a common
// Classifier interface, the preprocessing pipeline that feeds them, model
// selection, an on-disk version registry and a lazily loaded model handle.
package ml

// Classifier scores an already preprocessed design matrix.
type Classifier interface {
	// PredictProba returns the positive-class probability of every row.
	PredictProba(X [][]float64) []float64

	// Name returns the model identifier used in reports.
	Name() string
}

// Classifier type tags used in persisted artifacts.
const (
	ModelLogisticRegression = "logistic_regression"
	ModelRandomForest       = "random_forest"
)

// balancedWeights returns n_samples / (n_classes * count) for both classes,
// the weighting scheme of class_weight="balanced".
func balancedWeights(y []int, idx []int) [2]float64 {
	var counts [2]float64
	if idx == nil {
		for _, label := range y {
			counts[label]++
		}
	} else {
		for _, i := range idx {
			counts[y[i]]++
		}
	}

	total := counts[0] + counts[1]
	present := 0.0
	for _, c := range counts {
		if c > 0 {
			present++
		}
	}

	var w [2]float64
	for k, c := range counts {
		if c > 0 {
			w[k] = total / (present * c)
		}
	}
	return w
}
