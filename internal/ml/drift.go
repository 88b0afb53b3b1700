package ml

import (
	"fmt"
	"math"
	"sort"
	"time"

	"churn-service/internal/dataset"

	"gonum.org/v1/gonum/stat"
)

const (
	driftBins       = 10
	driftMinSamples = 30
	driftEpsilon    = 1e-4

	DefaultDriftThreshold = 0.1
)

// FeatureDistribution is the training-time distribution of one input column:
// decile edges and bin shares for numeric columns, category shares for text.
type FeatureDistribution struct {
	Name        string             `json:"name"`
	Kind        string             `json:"kind"`
	Edges       []float64          `json:"edges,omitempty"`
	Proportions []float64          `json:"proportions,omitempty"`
	Categories  map[string]float64 `json:"categories,omitempty"`
	Mean        float64            `json:"mean"`
	StandardDev float64            `json:"standard_dev"`
}

// DriftBaseline captures the training distribution of every input column.
type DriftBaseline struct {
	SampleCount int                   `json:"sample_count"`
	CreatedAt   time.Time             `json:"created_at"`
	Features    []FeatureDistribution `json:"features"`
}

// DriftAlert reports a column whose population stability index exceeds the
// alert threshold.
type DriftAlert struct {
	FeatureName string  `json:"feature_name"`
	Method      string  `json:"method"`
	DriftScore  float64 `json:"drift_score"`
	Threshold   float64 `json:"threshold"`
	Severity    string  `json:"severity"`
	Description string  `json:"description"`
}

// NewDriftBaseline summarises frame column by column.
func NewDriftBaseline(frame *dataset.Frame) *DriftBaseline {
	b := &DriftBaseline{SampleCount: frame.Rows(), CreatedAt: time.Now().UTC()}
	for _, name := range frame.Columns() {
		col, _ := frame.Column(name)
		if col.Kind == dataset.KindNumeric {
			b.Features = append(b.Features, numericDistribution(col))
		} else {
			b.Features = append(b.Features, categoricalDistribution(col))
		}
	}
	return b
}

func presentValues(col *dataset.Column) []float64 {
	out := make([]float64, 0, col.Len())
	for i := 0; i < col.Len(); i++ {
		if v := col.Float(i); !math.IsNaN(v) {
			out = append(out, v)
		}
	}
	return out
}

func numericDistribution(col *dataset.Column) FeatureDistribution {
	dist := FeatureDistribution{Name: col.Name, Kind: dataset.KindNumeric.String()}
	values := presentValues(col)
	if len(values) == 0 {
		return dist
	}
	sort.Float64s(values)
	dist.Mean, dist.StandardDev = stat.PopMeanStdDev(values, nil)

	for k := 1; k < driftBins; k++ {
		q := stat.Quantile(float64(k)/driftBins, stat.Empirical, values, nil)
		if len(dist.Edges) == 0 || q > dist.Edges[len(dist.Edges)-1] {
			dist.Edges = append(dist.Edges, q)
		}
	}
	dist.Proportions = binShares(values, dist.Edges)
	return dist
}

func categoricalDistribution(col *dataset.Column) FeatureDistribution {
	dist := FeatureDistribution{Name: col.Name, Kind: dataset.KindText.String()}
	dist.Categories = categoryShares(col)
	return dist
}

func binShares(values, edges []float64) []float64 {
	shares := make([]float64, len(edges)+1)
	for _, v := range values {
		shares[sort.SearchFloat64s(edges, v)]++
	}
	for i := range shares {
		shares[i] /= float64(len(values))
	}
	return shares
}

func categoryShares(col *dataset.Column) map[string]float64 {
	shares := make(map[string]float64)
	n := 0.0
	for i := 0; i < col.Len(); i++ {
		if v := col.String(i); v != "" {
			shares[v]++
			n++
		}
	}
	for k := range shares {
		shares[k] /= n
	}
	return shares
}

// psi sums (a - e) * ln(a / e) with shares floored at a small epsilon so empty
// bins do not diverge.
func psi(expected, actual []float64) float64 {
	total := 0.0
	for i := range expected {
		e := math.Max(expected[i], driftEpsilon)
		a := math.Max(actual[i], driftEpsilon)
		total += (a - e) * math.Log(a/e)
	}
	return total
}

// Detect compares frame against the baseline and returns one alert per
// drifting column, sorted by descending score. Frames with fewer than 30
// rows are not assessed.
func (b *DriftBaseline) Detect(frame *dataset.Frame, threshold float64) []DriftAlert {
	if b == nil || frame.Rows() < driftMinSamples || b.SampleCount < driftMinSamples {
		return nil
	}
	if threshold <= 0 {
		threshold = DefaultDriftThreshold
	}

	alerts := make([]DriftAlert, 0)
	for _, dist := range b.Features {
		col, ok := frame.Column(dist.Name)
		if !ok {
			continue
		}

		var score float64
		if dist.Kind == dataset.KindNumeric.String() {
			values := presentValues(col)
			if len(values) == 0 || len(dist.Proportions) == 0 {
				continue
			}
			score = psi(dist.Proportions, binShares(values, dist.Edges))
		} else {
			current := categoryShares(col)
			keys := make(map[string]bool, len(dist.Categories)+len(current))
			for k := range dist.Categories {
				keys[k] = true
			}
			for k := range current {
				keys[k] = true
			}
			var expected, actual []float64
			for k := range keys {
				expected = append(expected, dist.Categories[k])
				actual = append(actual, current[k])
			}
			score = psi(expected, actual)
		}

		if score <= threshold {
			continue
		}
		severity := "medium"
		if score > threshold*2 {
			severity = "high"
		}
		if score > threshold*3 {
			severity = "critical"
		}
		alerts = append(alerts, DriftAlert{
			FeatureName: dist.Name,
			Method:      "population_stability_index",
			DriftScore:  math.Round(score*10000) / 10000,
			Threshold:   threshold,
			Severity:    severity,
			Description: fmt.Sprintf("Distribution of %s shifted from training data (PSI %.3f)", dist.Name, score),
		})
	}

	sort.Slice(alerts, func(i, j int) bool { return alerts[i].DriftScore > alerts[j].DriftScore })
	return alerts
}
