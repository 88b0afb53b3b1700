package ml

import (
	"context"
	"path/filepath"
	"testing"

	"churn-service/internal/dataset"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrainModels_EndToEnd(t *testing.T) {
	frame, y := syntheticCustomers(t, 1000, 7)
	split, err := dataset.StratifiedSplit(y, 0.2, 42)
	require.NoError(t, err)

	Xtrain, Xtest := frame.Take(split.Train), frame.Take(split.Test)
	ytrain, ytest := dataset.TakeLabels(y, split.Train), dataset.TakeLabels(y, split.Test)

	models, err := TrainModels(context.Background(), Xtrain, ytrain, smallTrainConfig())
	require.NoError(t, err)
	require.Len(t, models, 2)
	require.Contains(t, models, ModelLogisticRegression)
	require.Contains(t, models, ModelRandomForest)

	metricsByModel := make(map[string]EvaluationMetrics)
	for name, model := range models {
		assert.Equal(t, name, model.Name)
		assert.NotNil(t, model.Baseline)
		assert.NotSame(t, models[ModelLogisticRegression].Preprocessor, models[ModelRandomForest].Preprocessor)

		m, err := Evaluate(model, Xtest, ytest)
		require.NoError(t, err)
		require.NotNil(t, m.ROCAUC)
		assert.Greater(t, *m.ROCAUC, 0.7, name)
		metricsByModel[name] = m
	}

	report, err := NewTrainingReport(metricsByModel)
	require.NoError(t, err)
	assert.Contains(t, []string{ModelLogisticRegression, ModelRandomForest}, report.BestModel)

	best := models[report.BestModel]
	path := filepath.Join(t.TempDir(), "models", "churn_model.json")
	require.NoError(t, SavePipeline(path, best))

	lines, err := ExamplePredictions(NewPredictor(path, nil))
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Regexp(t, `^Client A -> \d\.\d{2} \(\d+% risque\)$`, lines[0])
	assert.Regexp(t, `^Client B -> \d\.\d{2} \(\d+% risque\)$`, lines[1])

	predictor := NewPredictor(path, nil)
	pa, _, err := predictor.PredictChurnProba(ExampleClients()[0].Customer)
	require.NoError(t, err)
	pb, _, err := predictor.PredictChurnProba(ExampleClients()[1].Customer)
	require.NoError(t, err)
	assert.Greater(t, pa, pb, "the month-to-month newcomer is riskier than the loyal two-year client")
}

func TestTrainModels_Errors(t *testing.T) {
	_, err := TrainModels(context.Background(), dataset.NewFrame(0), nil, smallTrainConfig())
	assert.ErrorIs(t, err, ErrEmptyTrainingSet)

	frame, y := syntheticCustomers(t, 50, 8)
	_, err = TrainModels(context.Background(), frame, y[:10], smallTrainConfig())
	assert.ErrorIs(t, err, ErrEmptyTrainingSet)
}

func TestPermutationImportance(t *testing.T) {
	frame, y := syntheticCustomers(t, 600, 9)
	models, err := TrainModels(context.Background(), frame, y, smallTrainConfig())
	require.NoError(t, err)

	scores, err := PermutationImportance(models[ModelLogisticRegression], frame, y, 2, 42)
	require.NoError(t, err)
	require.Len(t, scores, len(dataset.RequiredFeatures))

	rank := make(map[string]int)
	for i, s := range scores {
		rank[s.Feature] = i
	}
	assert.Less(t, rank["Contract"], rank["Gender"])

	for i := 1; i < len(scores); i++ {
		assert.GreaterOrEqual(t, scores[i-1].Importance, scores[i].Importance)
	}
}

func TestRankAndTopFeatures(t *testing.T) {
	importance := map[string]float64{"Tenure": 0.2, "Contract": 0.5, "Age": 0.2}
	ranked := RankFeatures(importance)
	assert.Equal(t, []FeatureScore{
		{Feature: "Contract", Importance: 0.5},
		{Feature: "Age", Importance: 0.2},
		{Feature: "Tenure", Importance: 0.2},
	}, ranked)
	assert.Equal(t, []string{"Contract", "Age"}, TopFeatures(importance, 2))
	assert.Len(t, TopFeatures(importance, 10), 3)
}

func TestPipelineFeatureImportances(t *testing.T) {
	frame, y := syntheticCustomers(t, 400, 10)
	models, err := TrainModels(context.Background(), frame, y, smallTrainConfig())
	require.NoError(t, err)

	for name, model := range models {
		importance, err := model.FeatureImportances()
		require.NoError(t, err, name)
		total := 0.0
		for feature, v := range importance {
			assert.Contains(t, dataset.RequiredFeatures, feature)
			total += v
		}
		assert.InDelta(t, 1, total, 1e-9, name)
	}

	_, err = (&Pipeline{}).FeatureImportances()
	assert.ErrorIs(t, err, ErrPipelineIncomplete)
}
