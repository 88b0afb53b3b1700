package ml

import (
	"context"
	"fmt"
	"time"

	"churn-service/internal/dataset"
	"churn-service/internal/features"

	"github.com/rs/zerolog/log"
)

// TrainConfig holds the hyperparameters shared by TrainModels.
type TrainConfig struct {
	RandomState     int64
	LogisticC       float64
	LogisticMaxIter int
	Forest          ForestConfig
}

// DefaultTrainConfig returns the defaults used by churntrain.
func DefaultTrainConfig() TrainConfig {
	return TrainConfig{
		RandomState:     42,
		LogisticC:       1,
		LogisticMaxIter: 1000,
		Forest:          DefaultForestConfig(),
	}
}

// TrainModels fits one pipeline per candidate classifier. Each pipeline gets
// its own preprocessor fitted on Xtrain.
func TrainModels(ctx context.Context, Xtrain *dataset.Frame, ytrain []int, cfg TrainConfig) (map[string]*Pipeline, error) {
	if Xtrain.Rows() == 0 || Xtrain.Rows() != len(ytrain) {
		return nil, ErrEmptyTrainingSet
	}

	baseline := NewDriftBaseline(Xtrain)
	trainers := []struct {
		name string
		fit  func(X [][]float64) (Classifier, error)
	}{
		{ModelLogisticRegression, func(X [][]float64) (Classifier, error) {
			m := NewLogisticRegression(cfg.LogisticC, cfg.LogisticMaxIter)
			return m, m.Fit(X, ytrain)
		}},
		{ModelRandomForest, func(X [][]float64) (Classifier, error) {
			forestCfg := cfg.Forest
			forestCfg.Seed = cfg.RandomState
			m := NewRandomForest(forestCfg)
			return m, m.Fit(ctx, X, ytrain)
		}},
	}

	models := make(map[string]*Pipeline, len(trainers))
	for _, tr := range trainers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		start := time.Now()
		log.Info().Str("model", tr.name).Msg("Training model")

		pre, err := features.Fit(Xtrain)
		if err != nil {
			return nil, fmt.Errorf("failed to fit preprocessor for %s: %w", tr.name, err)
		}
		clf, err := tr.fit(pre.Transform(Xtrain))
		if err != nil {
			return nil, fmt.Errorf("failed to train %s: %w", tr.name, err)
		}

		p := NewPipeline(tr.name, pre, clf)
		p.Baseline = baseline
		models[tr.name] = p

		log.Info().
			Str("model", tr.name).
			Int("rows", Xtrain.Rows()).
			Int("features", pre.NumFeatures()).
			Dur("duration", time.Since(start)).
			Msg("Model trained")
	}
	return models, nil
}
