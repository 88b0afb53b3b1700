package ml

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeArtifact(t *testing.T, path, content string) string {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestModelManager_Lifecycle(t *testing.T) {
	dir := t.TempDir()
	mm, err := NewModelManager(dir)
	require.NoError(t, err)
	assert.Nil(t, mm.CurrentVersion())
	assert.Error(t, mm.Rollback())

	artifact := filepath.Join(t.TempDir(), "churn_model.json")
	auc := 0.81
	first, err := mm.AddVersion(ModelLogisticRegression, writeArtifact(t, artifact, "first"), ModelMetrics{AUCScore: &auc})
	require.NoError(t, err)
	require.NoError(t, mm.ActivateVersion(first.Version))

	second, err := mm.AddVersion(ModelRandomForest, writeArtifact(t, artifact, "second"), ModelMetrics{F1Score: 0.7})
	require.NoError(t, err)
	assert.NotEqual(t, first.Version, second.Version)
	require.NoError(t, mm.ActivateVersion(second.Version))

	current := mm.CurrentVersion()
	require.NotNil(t, current)
	assert.Equal(t, second.Version, current.Version)
	assert.Equal(t, ModelRandomForest, current.ModelName)

	versions := mm.ListVersions()
	require.Len(t, versions, 2)
	assert.Equal(t, second.Version, versions[0].Version, "newest first")

	// each version keeps its own copy of the artifact
	firstContent, err := os.ReadFile(first.Path)
	require.NoError(t, err)
	assert.Equal(t, "first", string(firstContent))
	secondContent, err := os.ReadFile(second.Path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(secondContent))
	assert.Equal(t, filepath.Join(dir, "versions"), filepath.Dir(first.Path))

	require.NoError(t, mm.Rollback())
	assert.Equal(t, first.Version, mm.CurrentVersion().Version)
	assert.Error(t, mm.Rollback(), "oldest version has nothing before it")

	assert.Error(t, mm.ActivateVersion("does-not-exist"))

	reopened, err := NewModelManager(dir)
	require.NoError(t, err)
	require.NotNil(t, reopened.CurrentVersion())
	assert.Equal(t, first.Version, reopened.CurrentVersion().Version)
	assert.InDelta(t, 0.81, *reopened.CurrentVersion().Metrics.AUCScore, 1e-12)
}

func TestModelManager_AddVersionMissingArtifact(t *testing.T) {
	mm, err := NewModelManager(t.TempDir())
	require.NoError(t, err)

	_, err = mm.AddVersion(ModelLogisticRegression, filepath.Join(t.TempDir(), "missing.json"), ModelMetrics{})
	assert.Error(t, err)
	assert.Empty(t, mm.ListVersions())
}

func TestModelManager_Refresh(t *testing.T) {
	dir := t.TempDir()
	server, err := NewModelManager(dir)
	require.NoError(t, err)

	trainer, err := NewModelManager(dir)
	require.NoError(t, err)
	v, err := trainer.AddVersion(ModelLogisticRegression, writeArtifact(t, filepath.Join(t.TempDir(), "m.json"), "m"), ModelMetrics{})
	require.NoError(t, err)
	require.NoError(t, trainer.ActivateVersion(v.Version))

	assert.Nil(t, server.CurrentVersion())
	require.NoError(t, server.Refresh())
	require.NotNil(t, server.CurrentVersion())
	assert.Equal(t, v.Version, server.CurrentVersion().Version)
}

func TestMetricsFromEvaluation(t *testing.T) {
	auc := 0.7
	m := MetricsFromEvaluation(EvaluationMetrics{ROCAUC: &auc, F1: 0.5, Accuracy: 0.6}, 800)
	assert.Equal(t, &auc, m.AUCScore)
	assert.Equal(t, 0.5, m.F1Score)
	assert.Equal(t, 0.6, m.Accuracy)
	assert.Equal(t, 800, m.TrainingSamples)
}
