package ml

import (
	"errors"
	"fmt"
	"math"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"
)

var ErrEmptyTrainingSet = errors.New("empty training set")

// LogisticRegression is an L2-regularised binary logistic model fitted with
// L-BFGS on class-balanced sample weights.
type LogisticRegression struct {
	Coef      []float64 `json:"coef"`
	Intercept float64   `json:"intercept"`
	C         float64   `json:"c"`
	MaxIter   int       `json:"max_iter"`
}

// NewLogisticRegression returns an unfitted model with inverse regularisation
// strength c.
func NewLogisticRegression(c float64, maxIter int) *LogisticRegression {
	if c <= 0 {
		c = 1
	}
	if maxIter <= 0 {
		maxIter = 1000
	}
	return &LogisticRegression{C: c, MaxIter: maxIter}
}

func (m *LogisticRegression) Name() string { return ModelLogisticRegression }

// Fit minimises the weighted log loss plus ||w||^2 / (2C). The intercept is
// not penalised.
func (m *LogisticRegression) Fit(X [][]float64, y []int) error {
	if len(X) == 0 || len(X) != len(y) {
		return ErrEmptyTrainingSet
	}
	d := len(X[0])
	classWeight := balancedWeights(y, nil)

	sw := make([]float64, len(y))
	for i, label := range y {
		sw[i] = classWeight[label]
	}
	swSum := floats.Sum(sw)
	alpha := 1 / (m.C * swSum)

	z := make([]float64, len(X))
	problem := optimize.Problem{
		Func: func(theta []float64) float64 {
			w, b := theta[:d], theta[d]
			loss := 0.0
			for i, row := range X {
				z[i] = floats.Dot(w, row) + b
				loss += sw[i] * (log1pExp(z[i]) - float64(y[i])*z[i])
			}
			return loss/swSum + 0.5*alpha*floats.Dot(w, w)
		},
		Grad: func(grad, theta []float64) {
			w, b := theta[:d], theta[d]
			for j := range grad {
				grad[j] = 0
			}
			for i, row := range X {
				r := sw[i] * (sigmoid(floats.Dot(w, row)+b) - float64(y[i])) / swSum
				floats.AddScaled(grad[:d], r, row)
				grad[d] += r
			}
			floats.AddScaled(grad[:d], alpha, w)
		},
	}

	settings := &optimize.Settings{
		MajorIterations:   m.MaxIter,
		GradientThreshold: 1e-6,
	}
	result, err := optimize.Minimize(problem, make([]float64, d+1), settings, &optimize.LBFGS{})
	if result == nil || len(result.X) != d+1 {
		return fmt.Errorf("logistic regression optimisation failed: %w", err)
	}
	if err != nil {
		log.Warn().Err(err).Str("status", result.Status.String()).Msg("Logistic regression did not fully converge")
	}

	m.Coef = append([]float64(nil), result.X[:d]...)
	m.Intercept = result.X[d]

	log.Debug().
		Int("features", d).
		Int("iterations", result.Stats.MajorIterations).
		Float64("loss", result.F).
		Msg("Logistic regression fitted")
	return nil
}

func (m *LogisticRegression) PredictProba(X [][]float64) []float64 {
	out := make([]float64, len(X))
	for i, row := range X {
		out[i] = sigmoid(floats.Dot(m.Coef, row) + m.Intercept)
	}
	return out
}

// FeatureImportances returns |coef| per transformed column.
func (m *LogisticRegression) FeatureImportances() []float64 {
	out := make([]float64, len(m.Coef))
	for i, c := range m.Coef {
		out[i] = math.Abs(c)
	}
	return out
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

// log1pExp computes log(1 + e^z) without overflow.
func log1pExp(z float64) float64 {
	if z > 0 {
		return z + math.Log1p(math.Exp(-z))
	}
	return math.Log1p(math.Exp(z))
}
