package cfg

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"churn-service/internal/common"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Settings struct {
	ListenPort            int
	DataPath              string
	ModelPath             string
	MetricsPath           string
	StorePath             string
	LogLevel              string
	RandomState           int64
	TestSize              float64
	ForestTrees           int
	ForestMaxDepth        int
	LogisticMaxIter       int
	ExplainSampleRows     int
	ExplainBackgroundRows int
	DriftThreshold        float64
	RequestTimeout        time.Duration
	CORSOrigins           []string
}

type ConfigFile struct {
	Server struct {
		ListenPort     int      `yaml:"listenPort"`
		RequestTimeout string   `yaml:"requestTimeout"`
		CORSOrigins    []string `yaml:"corsOrigins"`
		LogLevel       string   `yaml:"logLevel"`
	} `yaml:"server"`

	Paths struct {
		Data    string `yaml:"data"`
		Model   string `yaml:"model"`
		Metrics string `yaml:"metrics"`
		Store   string `yaml:"store"`
	} `yaml:"paths"`

	Training struct {
		RandomState     int64   `yaml:"randomState"`
		TestSize        float64 `yaml:"testSize"`
		ForestTrees     int     `yaml:"forestTrees"`
		ForestMaxDepth  int     `yaml:"forestMaxDepth"`
		LogisticMaxIter int     `yaml:"logisticMaxIter"`
	} `yaml:"training"`

	Explain struct {
		SampleRows     int `yaml:"sampleRows"`
		BackgroundRows int `yaml:"backgroundRows"`
	} `yaml:"explain"`

	Monitoring struct {
		DriftThreshold float64 `yaml:"driftThreshold"`
	} `yaml:"monitoring"`
}

// Load reads settings from CONFIG_FILE when set, otherwise from the
// environment. A .env file in the working directory is honoured if present.
func Load() (Settings, error) {
	// missing .env is fine
	_ = godotenv.Load()

	if configPath := os.Getenv(common.EnvConfigFile); configPath != "" {
		return loadFromYAML(configPath)
	}

	return loadFromEnv()
}

func loadFromYAML(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config ConfigFile
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Settings{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	requestTimeout, err := time.ParseDuration(config.Server.RequestTimeout)
	if err != nil {
		requestTimeout = 60 * time.Second
	}

	settings := Settings{
		ListenPort:            getIntFromEnvOrConfig(common.EnvListenPort, config.Server.ListenPort, common.DefaultListenPort),
		DataPath:              getEnvOrDefault(common.EnvDataPath, orDefault(config.Paths.Data, common.DefaultDataPath)),
		ModelPath:             getEnvOrDefault(common.EnvModelPath, orDefault(config.Paths.Model, common.DefaultModelPath)),
		MetricsPath:           getEnvOrDefault(common.EnvMetricsPath, orDefault(config.Paths.Metrics, common.DefaultMetricsPath)),
		StorePath:             getEnvOrDefault(common.EnvStorePath, config.Paths.Store),
		LogLevel:              getEnvOrDefault(common.EnvLogLevel, orDefault(config.Server.LogLevel, common.DefaultLogLevel)),
		RandomState:           int64(getIntFromEnvOrConfig(common.EnvRandomState, int(config.Training.RandomState), common.DefaultRandomState)),
		TestSize:              getFloatFromEnvOrConfig(common.EnvTestSize, config.Training.TestSize, common.DefaultTestSize),
		ForestTrees:           getIntFromEnvOrConfig(common.EnvForestTrees, config.Training.ForestTrees, common.DefaultForestTrees),
		ForestMaxDepth:        getIntFromEnvOrConfig(common.EnvForestMaxDepth, config.Training.ForestMaxDepth, common.DefaultForestMaxDepth),
		LogisticMaxIter:       getIntFromEnvOrConfig(common.EnvLogisticMaxIter, config.Training.LogisticMaxIter, common.DefaultLogisticMaxIter),
		ExplainSampleRows:     getIntFromEnvOrConfig(common.EnvExplainSampleRows, config.Explain.SampleRows, common.DefaultExplainSampleRows),
		ExplainBackgroundRows: getIntFromEnvOrConfig(common.EnvExplainBackgroundRows, config.Explain.BackgroundRows, common.DefaultExplainBackgroundRows),
		DriftThreshold:        getFloatFromEnvOrConfig(common.EnvDriftThreshold, config.Monitoring.DriftThreshold, common.DefaultDriftThreshold),
		RequestTimeout:        getDurationOrDefault(common.EnvRequestTimeout, requestTimeout),
		CORSOrigins:           getListFromEnvOrConfig(common.EnvCORSOrigins, config.Server.CORSOrigins),
	}

	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	return settings, nil
}

func loadFromEnv() (Settings, error) {
	settings := Settings{
		ListenPort:            getIntOrDefault(common.EnvListenPort, common.DefaultListenPort),
		DataPath:              getEnvOrDefault(common.EnvDataPath, common.DefaultDataPath),
		ModelPath:             getEnvOrDefault(common.EnvModelPath, common.DefaultModelPath),
		MetricsPath:           getEnvOrDefault(common.EnvMetricsPath, common.DefaultMetricsPath),
		StorePath:             os.Getenv(common.EnvStorePath), // optional
		LogLevel:              getEnvOrDefault(common.EnvLogLevel, common.DefaultLogLevel),
		RandomState:           int64(getIntOrDefault(common.EnvRandomState, common.DefaultRandomState)),
		TestSize:              getFloatOrDefault(common.EnvTestSize, common.DefaultTestSize),
		ForestTrees:           getIntOrDefault(common.EnvForestTrees, common.DefaultForestTrees),
		ForestMaxDepth:        getIntOrDefault(common.EnvForestMaxDepth, common.DefaultForestMaxDepth),
		LogisticMaxIter:       getIntOrDefault(common.EnvLogisticMaxIter, common.DefaultLogisticMaxIter),
		ExplainSampleRows:     getIntOrDefault(common.EnvExplainSampleRows, common.DefaultExplainSampleRows),
		ExplainBackgroundRows: getIntOrDefault(common.EnvExplainBackgroundRows, common.DefaultExplainBackgroundRows),
		DriftThreshold:        getFloatOrDefault(common.EnvDriftThreshold, common.DefaultDriftThreshold),
		RequestTimeout:        getDurationOrDefault(common.EnvRequestTimeout, 60*time.Second),
		CORSOrigins:           splitOrDefault(os.Getenv(common.EnvCORSOrigins), []string{"*"}),
	}

	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	return settings, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatOrDefault(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func splitOrDefault(v string, def []string) []string {
	if v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}

func getIntFromEnvOrConfig(key string, configValue, defaultValue int) int {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.Atoi(env); err == nil {
			return val
		}
	}
	if configValue != 0 {
		return configValue
	}
	return defaultValue
}

func getFloatFromEnvOrConfig(key string, configValue, defaultValue float64) float64 {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.ParseFloat(env, 64); err == nil {
			return val
		}
	}
	if configValue != 0 {
		return configValue
	}
	return defaultValue
}

func getListFromEnvOrConfig(key string, configValue []string) []string {
	if env := os.Getenv(key); env != "" {
		return splitOrDefault(env, []string{"*"})
	}
	if len(configValue) > 0 {
		return configValue
	}
	return []string{"*"}
}

// validateSettings performs range checks on every tunable
func validateSettings(settings *Settings) error {
	if settings.ListenPort < common.MinListenPort || settings.ListenPort > common.MaxListenPort {
		return fmt.Errorf("listen port must be between %d and %d, got %d", common.MinListenPort, common.MaxListenPort, settings.ListenPort)
	}

	if settings.ModelPath == "" {
		return fmt.Errorf("model path cannot be empty")
	}
	if settings.MetricsPath == "" {
		return fmt.Errorf("metrics path cannot be empty")
	}

	if settings.TestSize < common.MinTestSize || settings.TestSize > common.MaxTestSize {
		return fmt.Errorf("test size must be between %.2f and %.2f, got %f", common.MinTestSize, common.MaxTestSize, settings.TestSize)
	}
	if settings.ForestTrees <= 0 || settings.ForestTrees > common.MaxForestTrees {
		return fmt.Errorf("forest trees must be between 1 and %d, got %d", common.MaxForestTrees, settings.ForestTrees)
	}
	if settings.ForestMaxDepth <= 0 || settings.ForestMaxDepth > common.MaxForestDepth {
		return fmt.Errorf("forest max depth must be between 1 and %d, got %d", common.MaxForestDepth, settings.ForestMaxDepth)
	}
	if settings.LogisticMaxIter <= 0 {
		return fmt.Errorf("logistic max iterations must be positive, got %d", settings.LogisticMaxIter)
	}

	if settings.ExplainSampleRows <= 0 || settings.ExplainSampleRows > common.MaxExplainSample {
		return fmt.Errorf("explain sample rows must be between 1 and %d, got %d", common.MaxExplainSample, settings.ExplainSampleRows)
	}
	if settings.ExplainBackgroundRows <= 0 || settings.ExplainBackgroundRows > common.MaxBackgroundRows {
		return fmt.Errorf("explain background rows must be between 1 and %d, got %d", common.MaxBackgroundRows, settings.ExplainBackgroundRows)
	}

	if settings.DriftThreshold <= 0 || settings.DriftThreshold > common.MaxDriftThreshold {
		return fmt.Errorf("drift threshold must be in (0, %.1f], got %f", common.MaxDriftThreshold, settings.DriftThreshold)
	}

	if settings.RequestTimeout < time.Second || settings.RequestTimeout > 10*time.Minute {
		return fmt.Errorf("request timeout must be between 1s and 10m, got %v", settings.RequestTimeout)
	}

	return nil
}
