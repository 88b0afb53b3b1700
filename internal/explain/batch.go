package explain

import (
	"context"
	"math"
	"math/rand"
	"sort"

	"churn-service/internal/dataset"
	"churn-service/internal/ml"

	"github.com/rs/zerolog/log"
)

const globalDriverLimit = 5

// BatchOptions controls attribution sampling for batch insights.
type BatchOptions struct {
	SampleRows     int
	BackgroundRows int
	Seed           int64
	Workers        int
}

// DefaultBatchOptions returns the sampling defaults.
func DefaultBatchOptions() BatchOptions {
	return BatchOptions{SampleRows: 300, BackgroundRows: 20, Seed: 42}
}

// Segment counts customers in one risk tier.
type Segment struct {
	Count int     `json:"count"`
	Rate  float64 `json:"rate"`
}

// Segments splits a batch into risk tiers.
type Segments struct {
	High   Segment `json:"high"`
	Medium Segment `json:"medium"`
	Low    Segment `json:"low"`
}

// GlobalDriver is a feature's relative weight in the batch's churn risk,
// normalised so the strongest driver has importance 1.
type GlobalDriver struct {
	Feature        string  `json:"feature"`
	Importance     float64 `json:"importance"`
	Interpretation string  `json:"interpretation"`
}

// BatchInsights summarises a scored batch for account managers.
type BatchInsights struct {
	NRows            int            `json:"n_rows"`
	ProbabilityMean  float64        `json:"probability_mean"`
	HighRiskCount    int            `json:"high_risk_count"`
	HighRiskRate     float64        `json:"high_risk_rate"`
	RiskLevelGlobal  string         `json:"risk_level_global"`
	Segments         Segments       `json:"segments"`
	GlobalTopDrivers []GlobalDriver `json:"global_top_drivers"`
	Recommendations  []string       `json:"recommendations"`

	// HeuristicDrivers is set when attribution failed and drivers come from
	// trait ratios instead.
	HeuristicDrivers bool `json:"-"`
}

// EmptyInsights is the summary of an empty batch.
func EmptyInsights() *BatchInsights {
	return &BatchInsights{
		RiskLevelGlobal:  RiskFaible,
		GlobalTopDrivers: []GlobalDriver{},
		Recommendations:  []string{},
	}
}

// BuildBatchInsights computes risk segments, global drivers and
// recommendations. probabilities[i] scores row i of frame. Driver
// attribution falls back to heuristics and never fails the batch.
func BuildBatchInsights(ctx context.Context, model *ml.Pipeline, frame *dataset.Frame, probabilities []float64, opts BatchOptions) *BatchInsights {
	n := len(probabilities)
	if n == 0 {
		return EmptyInsights()
	}

	var high, medium, low int
	sum := 0.0
	for _, p := range probabilities {
		sum += p
		switch {
		case p >= HighRiskThreshold:
			high++
		case p >= MediumRiskThreshold:
			medium++
		default:
			low++
		}
	}
	rate := func(c int) float64 { return float64(c) / float64(n) }

	insights := &BatchInsights{
		NRows:           n,
		ProbabilityMean: sum / float64(n),
		HighRiskCount:   high,
		HighRiskRate:    rate(high),
		RiskLevelGlobal: GlobalRiskLevel(rate(high)),
		Segments: Segments{
			High:   Segment{Count: high, Rate: rate(high)},
			Medium: Segment{Count: medium, Rate: rate(medium)},
			Low:    Segment{Count: low, Rate: rate(low)},
		},
		Recommendations: BuildGlobalRecommendations(frame, probabilities),
	}

	drivers, err := AttributionDrivers(ctx, model, frame, opts)
	if err != nil || len(drivers) == 0 {
		log.Warn().Err(err).Int("rows", n).Msg("Falling back to heuristic churn drivers")
		drivers = HeuristicDrivers(frame, probabilities)
		insights.HeuristicDrivers = true
	}
	insights.GlobalTopDrivers = drivers
	return insights
}

// SampleRows returns up to limit row indices drawn without replacement,
// deterministic for a seed. All rows are returned in order when the frame
// is small enough.
func SampleRows(rows, limit int, seed int64) []int {
	if rows <= limit {
		idx := make([]int, rows)
		for i := range idx {
			idx[i] = i
		}
		return idx
	}
	return rand.New(rand.NewSource(seed)).Perm(rows)[:limit]
}

// AttributionDrivers ranks features by mean absolute Shapley value over a
// sample of the batch, using the first sampled rows as background.
func AttributionDrivers(ctx context.Context, model *ml.Pipeline, frame *dataset.Frame, opts BatchOptions) ([]GlobalDriver, error) {
	def := DefaultBatchOptions()
	if opts.SampleRows <= 0 {
		opts.SampleRows = def.SampleRows
	}
	if opts.BackgroundRows <= 0 {
		opts.BackgroundRows = def.BackgroundRows
	}

	players := ModelPlayers(model, dataset.RequiredFeatures)
	explainer, err := NewExplainer(model, players)
	if err != nil {
		return nil, err
	}

	sampleIdx := SampleRows(frame.Rows(), opts.SampleRows, opts.Seed)
	sample := frame.Take(sampleIdx)
	bgRows := opts.BackgroundRows
	if bgRows > len(sampleIdx) {
		bgRows = len(sampleIdx)
	}
	background := frame.Take(sampleIdx[:bgRows])

	attribution, err := explainer.Explain(ctx, sample, background, opts.Workers)
	if err != nil {
		return nil, err
	}
	if len(attribution.Values) == 0 {
		return nil, ErrAttribution
	}

	meanAbs := make([]float64, len(players))
	for _, row := range attribution.Values {
		for i, v := range row {
			meanAbs[i] += math.Abs(v)
		}
	}
	for i := range meanAbs {
		meanAbs[i] /= float64(len(attribution.Values))
	}
	return formatGlobalDrivers(players, meanAbs, globalDriverLimit), nil
}

// formatGlobalDrivers keeps the limit strongest features, in stable
// descending order, scaled by the strongest one.
func formatGlobalDrivers(names []string, scores []float64, limit int) []GlobalDriver {
	order := make([]int, len(names))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return scores[order[a]] > scores[order[b]] })
	if len(order) > limit {
		order = order[:limit]
	}
	if len(order) == 0 {
		return []GlobalDriver{}
	}

	peak := scores[order[0]]
	if peak <= 0 {
		peak = 1
	}
	drivers := make([]GlobalDriver, len(order))
	for k, i := range order {
		drivers[k] = GlobalDriver{
			Feature:        names[i],
			Importance:     ml.RoundTo(scores[i]/peak, 4),
			Interpretation: DriverInterpretation(names[i]),
		}
	}
	return drivers
}
