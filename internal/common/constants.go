package common

// Environment variable keys
const (
	EnvConfigFile            = "CONFIG_FILE"
	EnvListenPort            = "LISTEN_PORT"
	EnvDataPath              = "DATA_PATH"
	EnvModelPath             = "MODEL_PATH"
	EnvMetricsPath           = "METRICS_PATH"
	EnvStorePath             = "STORE_PATH"
	EnvLogLevel              = "LOG_LEVEL"
	EnvRandomState           = "RANDOM_STATE"
	EnvTestSize              = "TEST_SIZE"
	EnvForestTrees           = "FOREST_TREES"
	EnvForestMaxDepth        = "FOREST_MAX_DEPTH"
	EnvLogisticMaxIter       = "LOGISTIC_MAX_ITER"
	EnvExplainSampleRows     = "EXPLAIN_SAMPLE_ROWS"
	EnvExplainBackgroundRows = "EXPLAIN_BACKGROUND_ROWS"
	EnvDriftThreshold        = "DRIFT_THRESHOLD"
	EnvRequestTimeout        = "REQUEST_TIMEOUT"
	EnvCORSOrigins           = "CORS_ORIGINS"
	EnvAPIURL                = "CHURN_API_URL"
)

// Configuration defaults
const (
	DefaultListenPort            = 8000
	DefaultDataPath              = "data/synthetic_customer_churn_100k.csv"
	DefaultModelPath             = "models/churn_model.json"
	DefaultMetricsPath           = "reports/metrics.json"
	DefaultLogLevel              = "info"
	DefaultRandomState           = 42
	DefaultTestSize              = 0.2
	DefaultForestTrees           = 100
	DefaultForestMaxDepth        = 14
	DefaultLogisticMaxIter       = 1000
	DefaultExplainSampleRows     = 300
	DefaultExplainBackgroundRows = 20
	DefaultDriftThreshold        = 0.1
	DefaultAPIURL                = "http://127.0.0.1:8000"
)

// Validation constants
const (
	MinListenPort     = 1
	MaxListenPort     = 65535
	MinTestSize       = 0.05
	MaxTestSize       = 0.5
	MaxForestTrees    = 2000
	MaxForestDepth    = 64
	MaxExplainSample  = 5000
	MaxBackgroundRows = 500
	MaxDriftThreshold = 1.0
)
