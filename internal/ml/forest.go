package ml

import (
	"context"
	"math"
	"math/rand"
	"runtime"
	"sort"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// ForestConfig controls random forest training.
type ForestConfig struct {
	Trees          int   `json:"trees"`
	MaxDepth       int   `json:"max_depth"`
	MinSamplesLeaf int   `json:"min_samples_leaf"`
	MaxBins        int   `json:"max_bins"`
	Seed           int64 `json:"seed"`
	Workers        int   `json:"-"`
}

// DefaultForestConfig returns the training defaults.
func DefaultForestConfig() ForestConfig {
	return ForestConfig{
		Trees:          100,
		MaxDepth:       14,
		MinSamplesLeaf: 1,
		MaxBins:        32,
		Seed:           42,
	}
}

// Tree is a fitted binary decision tree stored as parallel node arrays.
// Feature is -1 on leaves; Value holds the weighted share of the positive
// class at every node.
type Tree struct {
	Feature   []int     `json:"feature"`
	Threshold []float64 `json:"threshold"`
	Left      []int     `json:"left"`
	Right     []int     `json:"right"`
	Value     []float64 `json:"value"`
	Gain      []float64 `json:"gain"`
}

func (t *Tree) predict(row []float64) float64 {
	node := 0
	for t.Feature[node] >= 0 {
		if row[t.Feature[node]] <= t.Threshold[node] {
			node = t.Left[node]
		} else {
			node = t.Right[node]
		}
	}
	return t.Value[node]
}

// RandomForest is a bagged ensemble of Gini trees trained on bootstrap
// samples with per-bootstrap balanced class weights.
type RandomForest struct {
	Config    ForestConfig `json:"config"`
	NFeatures int          `json:"n_features"`
	Trees     []*Tree      `json:"trees"`
}

func NewRandomForest(cfg ForestConfig) *RandomForest {
	def := DefaultForestConfig()
	if cfg.Trees <= 0 {
		cfg.Trees = def.Trees
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = def.MaxDepth
	}
	if cfg.MinSamplesLeaf <= 0 {
		cfg.MinSamplesLeaf = def.MinSamplesLeaf
	}
	if cfg.MaxBins < 2 || cfg.MaxBins > 256 {
		cfg.MaxBins = def.MaxBins
	}
	return &RandomForest{Config: cfg}
}

func (f *RandomForest) Name() string { return ModelRandomForest }

// Fit grows every tree concurrently. Trees are seeded from a single source
// so the result does not depend on scheduling.
func (f *RandomForest) Fit(ctx context.Context, X [][]float64, y []int) error {
	if len(X) == 0 || len(X) != len(y) {
		return ErrEmptyTrainingSet
	}
	f.NFeatures = len(X[0])

	data := binMatrix(X, f.Config.MaxBins)
	master := rand.New(rand.NewSource(f.Config.Seed))
	seeds := make([]int64, f.Config.Trees)
	for i := range seeds {
		seeds[i] = master.Int63()
	}

	workers := f.Config.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	f.Trees = make([]*Tree, f.Config.Trees)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range f.Trees {
		i := i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			f.Trees[i] = growTree(data, y, f.Config, rand.New(rand.NewSource(seeds[i])))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	log.Debug().
		Int("trees", len(f.Trees)).
		Int("features", f.NFeatures).
		Int("max_depth", f.Config.MaxDepth).
		Msg("Random forest fitted")
	return nil
}

func (f *RandomForest) PredictProba(X [][]float64) []float64 {
	out := make([]float64, len(X))
	if len(f.Trees) == 0 {
		return out
	}
	for i, row := range X {
		sum := 0.0
		for _, t := range f.Trees {
			sum += t.predict(row)
		}
		out[i] = sum / float64(len(f.Trees))
	}
	return out
}

// FeatureImportances returns the mean decrease in impurity per transformed
// column, normalised to sum to one.
func (f *RandomForest) FeatureImportances() []float64 {
	imp := make([]float64, f.NFeatures)
	for _, t := range f.Trees {
		treeImp := make([]float64, f.NFeatures)
		total := 0.0
		for n, feat := range t.Feature {
			if feat >= 0 {
				treeImp[feat] += t.Gain[n]
				total += t.Gain[n]
			}
		}
		if total == 0 {
			continue
		}
		for j := range imp {
			imp[j] += treeImp[j] / total
		}
	}
	sum := 0.0
	for _, v := range imp {
		sum += v
	}
	if sum > 0 {
		for j := range imp {
			imp[j] /= sum
		}
	}
	return imp
}

// binnedData is a column-major matrix of bin indices plus the threshold that
// closes each bin: x <= edges[b] for every row in bin b.
type binnedData struct {
	rows  int
	bins  [][]uint8
	edges [][]float64
}

const binSampleLimit = 50000

func binMatrix(X [][]float64, maxBins int) *binnedData {
	n, d := len(X), len(X[0])
	data := &binnedData{rows: n, bins: make([][]uint8, d), edges: make([][]float64, d)}

	stride := 1
	if n > binSampleLimit {
		stride = n / binSampleLimit
	}

	for j := 0; j < d; j++ {
		sample := make([]float64, 0, n/stride+1)
		for i := 0; i < n; i += stride {
			sample = append(sample, X[i][j])
		}
		edges := binEdges(sample, maxBins)
		data.edges[j] = edges

		col := make([]uint8, n)
		for i := 0; i < n; i++ {
			col[i] = uint8(sort.SearchFloat64s(edges, X[i][j]))
		}
		data.bins[j] = col
	}
	return data
}

// binEdges returns split thresholds: midpoints between distinct values when
// there are few of them, otherwise quantiles of the sample. The last edge is
// +Inf so every value falls in a bin.
func binEdges(sample []float64, maxBins int) []float64 {
	sort.Float64s(sample)
	distinct := sample[:0:0]
	for i, v := range sample {
		if i == 0 || v != sample[i-1] {
			distinct = append(distinct, v)
		}
	}

	var edges []float64
	if len(distinct) <= maxBins {
		for i := 1; i < len(distinct); i++ {
			edges = append(edges, (distinct[i-1]+distinct[i])/2)
		}
	} else {
		for k := 1; k < maxBins; k++ {
			q := sample[k*len(sample)/maxBins]
			if len(edges) == 0 || q > edges[len(edges)-1] {
				edges = append(edges, q)
			}
		}
	}
	return append(edges, math.Inf(1))
}

type treeBuilder struct {
	data     *binnedData
	y        []int
	weight   []float64
	cfg      ForestConfig
	mtry     int
	rng      *rand.Rand
	tree     *Tree
	features []int
	hist     [][2]float64
}

func growTree(data *binnedData, y []int, cfg ForestConfig, rng *rand.Rand) *Tree {
	n := data.rows
	counts := make([]float64, n)
	for i := 0; i < n; i++ {
		counts[rng.Intn(n)]++
	}

	idx := make([]int, 0, n)
	for i, c := range counts {
		if c > 0 {
			idx = append(idx, i)
		}
	}

	classWeight := bootstrapWeights(y, counts)
	weight := make([]float64, n)
	for _, i := range idx {
		weight[i] = counts[i] * classWeight[y[i]]
	}

	d := len(data.bins)
	mtry := int(math.Sqrt(float64(d)))
	if mtry < 1 {
		mtry = 1
	}
	features := make([]int, d)
	for j := range features {
		features[j] = j
	}

	b := &treeBuilder{
		data:     data,
		y:        y,
		weight:   weight,
		cfg:      cfg,
		mtry:     mtry,
		rng:      rng,
		tree:     &Tree{},
		features: features,
		hist:     make([][2]float64, cfg.MaxBins+1),
	}
	b.build(idx, 0)
	return b.tree
}

func bootstrapWeights(y []int, counts []float64) [2]float64 {
	var per [2]float64
	for i, c := range counts {
		per[y[i]] += c
	}
	total := per[0] + per[1]
	present := 0.0
	for _, c := range per {
		if c > 0 {
			present++
		}
	}
	var w [2]float64
	for k, c := range per {
		if c > 0 {
			w[k] = total / (present * c)
		}
	}
	return w
}

func (b *treeBuilder) addNode() int {
	t := b.tree
	t.Feature = append(t.Feature, -1)
	t.Threshold = append(t.Threshold, 0)
	t.Left = append(t.Left, -1)
	t.Right = append(t.Right, -1)
	t.Value = append(t.Value, 0)
	t.Gain = append(t.Gain, 0)
	return len(t.Feature) - 1
}

func gini(w0, w1 float64) float64 {
	total := w0 + w1
	if total == 0 {
		return 0
	}
	p0, p1 := w0/total, w1/total
	return 1 - p0*p0 - p1*p1
}

func (b *treeBuilder) build(idx []int, depth int) int {
	node := b.addNode()

	var w [2]float64
	for _, i := range idx {
		w[b.y[i]] += b.weight[i]
	}
	if total := w[0] + w[1]; total > 0 {
		b.tree.Value[node] = w[1] / total
	}

	if depth >= b.cfg.MaxDepth || len(idx) < 2*b.cfg.MinSamplesLeaf || w[0] == 0 || w[1] == 0 {
		return node
	}

	feature, bin, gain := b.bestSplit(idx, w)
	if feature < 0 {
		return node
	}

	left := make([]int, 0, len(idx))
	right := make([]int, 0, len(idx))
	col := b.data.bins[feature]
	for _, i := range idx {
		if int(col[i]) <= bin {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	b.tree.Feature[node] = feature
	b.tree.Threshold[node] = b.data.edges[feature][bin]
	b.tree.Gain[node] = gain

	l := b.build(left, depth+1)
	r := b.build(right, depth+1)
	b.tree.Left[node] = l
	b.tree.Right[node] = r
	return node
}

// bestSplit draws features without replacement until mtry of them have been
// evaluated and at least one valid split exists, as the exhaustive splitter
// does when the first candidates are constant.
func (b *treeBuilder) bestSplit(idx []int, parent [2]float64) (int, int, float64) {
	parentW := parent[0] + parent[1]
	parentImpurity := parentW * gini(parent[0], parent[1])

	bestFeature, bestBin, bestGain := -1, -1, 0.0
	d := len(b.features)
	visited := 0
	for k := 0; k < d; k++ {
		if visited >= b.mtry && bestFeature >= 0 {
			break
		}
		j := k + b.rng.Intn(d-k)
		b.features[k], b.features[j] = b.features[j], b.features[k]
		feature := b.features[k]
		visited++

		nbins := len(b.data.edges[feature])
		if nbins < 2 {
			continue
		}
		hist := b.hist[:nbins]
		counts := make([]int, nbins)
		for h := range hist {
			hist[h] = [2]float64{}
		}
		col := b.data.bins[feature]
		for _, i := range idx {
			hist[col[i]][b.y[i]] += b.weight[i]
			counts[col[i]]++
		}

		var left [2]float64
		leftN := 0
		for bin := 0; bin < nbins-1; bin++ {
			left[0] += hist[bin][0]
			left[1] += hist[bin][1]
			leftN += counts[bin]
			rightN := len(idx) - leftN
			if leftN < b.cfg.MinSamplesLeaf {
				continue
			}
			if rightN < b.cfg.MinSamplesLeaf {
				break
			}
			right := [2]float64{parent[0] - left[0], parent[1] - left[1]}
			lw, rw := left[0]+left[1], right[0]+right[1]
			if lw <= 0 || rw <= 0 {
				continue
			}
			gain := parentImpurity - lw*gini(left[0], left[1]) - rw*gini(right[0], right[1])
			if gain > bestGain+1e-12 {
				bestFeature, bestBin, bestGain = feature, bin, gain
			}
		}
	}
	return bestFeature, bestBin, bestGain
}
