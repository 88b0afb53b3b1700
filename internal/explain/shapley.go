package explain

import (
	"context"
	"fmt"
	"math"
	"math/bits"
	"runtime"

	"churn-service/internal/dataset"
	"churn-service/internal/features"
	"churn-service/internal/ml"

	"golang.org/x/sync/errgroup"
)

// maxPlayers bounds the exact enumeration of 2^n coalitions.
const maxPlayers = 16

// Explainer computes exact interventional Shapley values of a pipeline's
// churn probability. Players are input features; each owns the block of
// transformed columns derived from it, so one-hot groups move together.
type Explainer struct {
	pre     *features.Preprocessor
	clf     ml.Classifier
	players []string
	blocks  [][]int
	weights []float64
}

// Attribution holds per-row Shapley values. For every row the values sum to
// Predictions[i] - BaseValue.
type Attribution struct {
	Players     []string
	Values      [][]float64
	BaseValue   float64
	Predictions []float64
}

// NewExplainer prepares attribution over players, in the given order.
// Players the model does not consume always receive zero.
func NewExplainer(p *ml.Pipeline, players []string) (*Explainer, error) {
	pre, clf, ok := p.Steps()
	if !ok {
		return nil, ErrUnsupportedModel
	}
	if len(players) == 0 || len(players) > maxPlayers {
		return nil, fmt.Errorf("%w: %d players", ErrAttribution, len(players))
	}

	position := make(map[string]int, len(players))
	for i, name := range players {
		position[name] = i
	}
	blocks := make([][]int, len(players))
	for j, name := range pre.FeatureNamesOut() {
		if i, ok := position[features.BusinessFeatureName(name, players)]; ok {
			blocks[i] = append(blocks[i], j)
		}
	}

	return &Explainer{
		pre:     pre,
		clf:     clf,
		players: players,
		blocks:  blocks,
		weights: shapleyWeights(len(players)),
	}, nil
}

// shapleyWeights returns |S|! (n-|S|-1)! / n! indexed by |S|.
func shapleyWeights(n int) []float64 {
	w := make([]float64, n)
	for s := 0; s < n; s++ {
		lg1, _ := math.Lgamma(float64(s + 1))
		lg2, _ := math.Lgamma(float64(n - s))
		lgn, _ := math.Lgamma(float64(n + 1))
		w[s] = math.Exp(lg1 + lg2 - lgn)
	}
	return w
}

// ModelPlayers orders players by their first transformed column, the order
// in which the preprocessor emits them. Players the model ignores are
// appended last.
func ModelPlayers(p *ml.Pipeline, players []string) []string {
	pre, _, ok := p.Steps()
	if !ok {
		return players
	}
	seen := make(map[string]bool, len(players))
	wanted := make(map[string]bool, len(players))
	for _, name := range players {
		wanted[name] = true
	}

	out := make([]string, 0, len(players))
	for _, name := range pre.FeatureNamesOut() {
		b := features.BusinessFeatureName(name, players)
		if wanted[b] && !seen[b] {
			seen[b] = true
			out = append(out, b)
		}
	}
	for _, name := range players {
		if !seen[name] {
			out = append(out, name)
		}
	}
	return out
}

// Explain attributes every row of X against background, computing rows
// concurrently on up to workers goroutines (GOMAXPROCS when <= 0).
func (e *Explainer) Explain(ctx context.Context, X, background *dataset.Frame, workers int) (*Attribution, error) {
	if X.Rows() == 0 {
		return &Attribution{Players: e.players}, nil
	}
	if background.Rows() == 0 {
		return nil, fmt.Errorf("%w: empty background", ErrAttribution)
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	xt := e.pre.Transform(X)
	bt := e.pre.Transform(background)

	out := &Attribution{
		Players:     e.players,
		Values:      make([][]float64, len(xt)),
		Predictions: make([]float64, len(xt)),
	}
	base := make([]float64, len(xt))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for r := range xt {
		r := r
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			values, v0, vn, err := e.explainRow(xt[r], bt)
			if err != nil {
				return err
			}
			out.Values[r] = values
			base[r] = v0
			out.Predictions[r] = vn
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out.BaseValue = base[0]
	return out, nil
}

// explainRow evaluates every coalition on the background and combines the
// marginal contributions.
func (e *Explainer) explainRow(x []float64, background [][]float64) ([]float64, float64, float64, error) {
	n := len(e.players)
	coalitions := 1 << n
	nb := len(background)
	width := len(x)

	backing := make([]float64, coalitions*nb*width)
	matrix := make([][]float64, coalitions*nb)
	for mask := 0; mask < coalitions; mask++ {
		for b, bg := range background {
			k := mask*nb + b
			row := backing[k*width : (k+1)*width]
			copy(row, bg)
			for i := 0; i < n; i++ {
				if mask&(1<<i) == 0 {
					continue
				}
				for _, j := range e.blocks[i] {
					row[j] = x[j]
				}
			}
			matrix[k] = row
		}
	}

	preds := e.clf.PredictProba(matrix)
	value := make([]float64, coalitions)
	for mask := 0; mask < coalitions; mask++ {
		sum := 0.0
		for b := 0; b < nb; b++ {
			sum += preds[mask*nb+b]
		}
		value[mask] = sum / float64(nb)
		if math.IsNaN(value[mask]) || math.IsInf(value[mask], 0) {
			return nil, 0, 0, fmt.Errorf("%w: non-finite model output", ErrAttribution)
		}
	}

	phi := make([]float64, n)
	for i := 0; i < n; i++ {
		bit := 1 << i
		for mask := 0; mask < coalitions; mask++ {
			if mask&bit != 0 {
				continue
			}
			phi[i] += e.weights[bits.OnesCount(uint(mask))] * (value[mask|bit] - value[mask])
		}
	}
	return phi, value[0], value[coalitions-1], nil
}
