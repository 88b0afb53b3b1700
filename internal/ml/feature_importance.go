package ml

import (
	"fmt"
	"math/rand"
	"sort"

	"churn-service/internal/dataset"

	"github.com/rs/zerolog/log"
)

// FeatureScore pairs an input feature with an importance value.
type FeatureScore struct {
	Feature    string  `json:"feature"`
	Importance float64 `json:"importance"`
}

// RankFeatures sorts importances in descending order, breaking ties by name.
func RankFeatures(importance map[string]float64) []FeatureScore {
	out := make([]FeatureScore, 0, len(importance))
	for name, v := range importance {
		out = append(out, FeatureScore{Feature: name, Importance: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Importance != out[j].Importance {
			return out[i].Importance > out[j].Importance
		}
		return out[i].Feature < out[j].Feature
	})
	return out
}

// TopFeatures returns the names of the n most important features.
func TopFeatures(importance map[string]float64, n int) []string {
	ranked := RankFeatures(importance)
	if n > len(ranked) {
		n = len(ranked)
	}
	names := make([]string, n)
	for i := 0; i < n; i++ {
		names[i] = ranked[i].Feature
	}
	return names
}

// PermutationImportance measures how much the model's score drops when one
// input column is shuffled. The score is ROC AUC, or accuracy when AUC is
// undefined. Each column is shuffled repeats times and the drops averaged.
func PermutationImportance(model *Pipeline, X *dataset.Frame, y []int, repeats int, seed int64) ([]FeatureScore, error) {
	if repeats <= 0 {
		repeats = 1
	}
	baseline, err := pipelineScore(model, X, y)
	if err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewSource(seed))
	importance := make(map[string]float64, len(X.Columns()))
	for _, name := range X.Columns() {
		drop := 0.0
		for r := 0; r < repeats; r++ {
			perm := rng.Perm(X.Rows())
			shuffled, err := permuteColumn(X, name, perm)
			if err != nil {
				return nil, err
			}
			score, err := pipelineScore(model, shuffled, y)
			if err != nil {
				return nil, err
			}
			drop += baseline - score
		}
		importance[name] = drop / float64(repeats)
	}

	ranked := RankFeatures(importance)
	log.Debug().
		Str("model", model.Name).
		Float64("baseline", baseline).
		Strs("top_features", TopFeatures(importance, 3)).
		Msg("Permutation importance computed")
	return ranked, nil
}

func pipelineScore(model *Pipeline, X *dataset.Frame, y []int) (float64, error) {
	proba, err := model.PredictProba(X)
	if err != nil {
		return 0, err
	}
	m := ScoreProbabilities(y, proba)
	if m.ROCAUC != nil {
		return *m.ROCAUC, nil
	}
	return m.Accuracy, nil
}

// permuteColumn returns a shallow copy of X whose column name is reordered by
// perm. Other columns are shared with X.
func permuteColumn(X *dataset.Frame, name string, perm []int) (*dataset.Frame, error) {
	out := dataset.NewFrame(X.Rows())
	for _, colName := range X.Columns() {
		col, _ := X.Column(colName)
		var err error
		switch {
		case colName != name && col.Kind == dataset.KindNumeric:
			err = out.AddNumeric(colName, col.Num)
		case colName != name:
			err = out.AddText(colName, col.Text)
		case col.Kind == dataset.KindNumeric:
			values := make([]float64, len(perm))
			for i, p := range perm {
				values[i] = col.Num[p]
			}
			err = out.AddNumeric(colName, values)
		default:
			values := make([]string, len(perm))
			for i, p := range perm {
				values[i] = col.Text[p]
			}
			err = out.AddText(colName, values)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to permute %s: %w", name, err)
		}
	}
	return out, nil
}
