package ml

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ModelVersion represents a registered model artifact
type ModelVersion struct {
	Version   string       `json:"version"`
	ModelName string       `json:"model_name"`
	Path      string       `json:"path"`
	CreatedAt time.Time    `json:"created_at"`
	Metrics   ModelMetrics `json:"metrics"`
	IsActive  bool         `json:"is_active"`
}

// ModelMetrics contains the headline test metrics of a version
type ModelMetrics struct {
	AUCScore        *float64 `json:"auc_score"`
	F1Score         float64  `json:"f1_score"`
	Precision       float64  `json:"precision"`
	Recall          float64  `json:"recall"`
	Accuracy        float64  `json:"accuracy"`
	TrainingSamples int      `json:"training_samples"`
}

// MetricsFromEvaluation converts evaluation output into registry metrics.
func MetricsFromEvaluation(m EvaluationMetrics, trainingSamples int) ModelMetrics {
	return ModelMetrics{
		AUCScore:        m.ROCAUC,
		F1Score:         m.F1,
		Precision:       m.Precision,
		Recall:          m.Recall,
		Accuracy:        m.Accuracy,
		TrainingSamples: trainingSamples,
	}
}

// ModelManager handles model versioning and rollback
type ModelManager struct {
	mu           sync.RWMutex
	modelsDir    string
	versionsFile string
	versions     []ModelVersion
}

// NewModelManager creates a registry stored in modelsDir/model_versions.json
func NewModelManager(modelsDir string) (*ModelManager, error) {
	if err := os.MkdirAll(modelsDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create models directory: %w", err)
	}

	mm := &ModelManager{
		modelsDir:    modelsDir,
		versionsFile: filepath.Join(modelsDir, "model_versions.json"),
		versions:     make([]ModelVersion, 0),
	}

	if err := mm.loadVersions(); err != nil {
		log.Warn().Err(err).Msg("Failed to load model versions, starting fresh")
	}

	return mm, nil
}

// AddVersion registers a new, inactive model version. The artifact at
// modelPath is copied into the registry so later training runs cannot
// overwrite it.
func (mm *ModelManager) AddVersion(modelName, modelPath string, metrics ModelMetrics) (ModelVersion, error) {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	now := time.Now().UTC()
	id := now.Format("20060102-150405") + "-" + uuid.NewString()[:8]
	archived := filepath.Join(mm.modelsDir, "versions", id+filepath.Ext(modelPath))
	if err := copyFile(modelPath, archived); err != nil {
		return ModelVersion{}, fmt.Errorf("failed to archive model artifact: %w", err)
	}

	version := ModelVersion{
		Version:   id,
		ModelName: modelName,
		Path:      archived,
		CreatedAt: now,
		Metrics:   metrics,
	}

	mm.versions = append(mm.versions, version)

	// Newest first
	sort.SliceStable(mm.versions, func(i, j int) bool {
		return mm.versions[i].CreatedAt.After(mm.versions[j].CreatedAt)
	})

	return version, mm.saveVersions()
}

// ActivateVersion marks version as the only active one
func (mm *ModelManager) ActivateVersion(version string) error {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	return mm.activate(version)
}

func (mm *ModelManager) activate(version string) error {
	found := false
	for i := range mm.versions {
		if mm.versions[i].Version == version {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("version %s not found", version)
	}

	for i := range mm.versions {
		mm.versions[i].IsActive = mm.versions[i].Version == version
	}

	log.Info().Str("version", version).Msg("Model version activated")
	return mm.saveVersions()
}

// Rollback activates the version registered just before the active one
func (mm *ModelManager) Rollback() error {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	if len(mm.versions) < 2 {
		return fmt.Errorf("no previous version available for rollback")
	}

	currentIdx := -1
	for i, v := range mm.versions {
		if v.IsActive {
			currentIdx = i
			break
		}
	}
	if currentIdx == -1 {
		return fmt.Errorf("no active version found")
	}

	if currentIdx+1 < len(mm.versions) {
		return mm.activate(mm.versions[currentIdx+1].Version)
	}
	return fmt.Errorf("no previous version available")
}

// CurrentVersion returns a copy of the active version, or nil
func (mm *ModelManager) CurrentVersion() *ModelVersion {
	mm.mu.RLock()
	defer mm.mu.RUnlock()

	for _, v := range mm.versions {
		if v.IsActive {
			current := v
			return &current
		}
	}
	return nil
}

// ListVersions returns all versions, newest first
func (mm *ModelManager) ListVersions() []ModelVersion {
	mm.mu.RLock()
	defer mm.mu.RUnlock()
	return append([]ModelVersion(nil), mm.versions...)
}

// Refresh re-reads the registry file, picking up versions added by another
// process.
func (mm *ModelManager) Refresh() error {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	return mm.loadVersions()
}

func (mm *ModelManager) loadVersions() error {
	data, err := os.ReadFile(mm.versionsFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	return json.Unmarshal(data, &mm.versions)
}

func (mm *ModelManager) saveVersions() error {
	data, err := json.MarshalIndent(mm.versions, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(mm.versionsFile, data, 0o600)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
