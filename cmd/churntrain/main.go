package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"churn-service/internal/cfg"
	"churn-service/internal/dataset"
	"churn-service/internal/ml"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const permutationRepeats = 5

func main() {
	var (
		dataPath    = flag.String("data", "", "Path to the training CSV (overrides DATA_PATH)")
		modelPath   = flag.String("model", "", "Output path of the model artifact (overrides MODEL_PATH)")
		metricsPath = flag.String("metrics", "", "Output path of the metrics report (overrides METRICS_PATH)")
		logLevel    = flag.String("log-level", "", "Log level: debug, info, warn, error")
		noRegistry  = flag.Bool("no-registry", false, "Skip registering the trained model as a new version")
		importance  = flag.Bool("importance", true, "Compute permutation importance on the test split")
		list        = flag.Bool("list-versions", false, "List registered model versions and exit")
		rollback    = flag.Bool("rollback", false, "Activate the previous model version, restore its artifact and exit")
	)
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	config, err := cfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	// Override config with command line arguments
	if *dataPath != "" {
		config.DataPath = *dataPath
	}
	if *modelPath != "" {
		config.ModelPath = *modelPath
	}
	if *metricsPath != "" {
		config.MetricsPath = *metricsPath
	}
	if *logLevel != "" {
		config.LogLevel = *logLevel
	}

	level, err := zerolog.ParseLevel(config.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	switch {
	case *list:
		if err := listVersions(config.ModelPath); err != nil {
			log.Fatal().Err(err).Msg("Failed to list model versions")
		}
		return
	case *rollback:
		if err := rollbackVersion(config.ModelPath); err != nil {
			log.Fatal().Err(err).Msg("Rollback failed")
		}
		return
	}

	fmt.Println("=== Training Configuration ===")
	fmt.Printf("Data Path: %s\n", config.DataPath)
	fmt.Printf("Model Path: %s\n", config.ModelPath)
	fmt.Printf("Metrics Path: %s\n", config.MetricsPath)
	fmt.Printf("Test Size: %.2f\n", config.TestSize)
	fmt.Printf("Random State: %d\n", config.RandomState)
	fmt.Printf("Forest: %d trees, max depth %d\n", config.ForestTrees, config.ForestMaxDepth)
	fmt.Println("==============================")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, config, !*noRegistry, *importance); err != nil {
		log.Fatal().Err(err).Msg("Training failed")
	}
}

func run(ctx context.Context, config cfg.Settings, register, importance bool) error {
	start := time.Now()

	frame, err := dataset.LoadCSV(config.DataPath)
	if err != nil {
		return err
	}

	target, err := dataset.FindTargetColumn(frame.Columns())
	if err != nil {
		return err
	}
	log.Info().Str("target", target).Msg("Target column detected")

	frame = dataset.DropIdentifierColumns(frame)
	targetCol, _ := frame.Column(target)
	y := dataset.EncodeTarget(targetCol)
	X := dataset.DropTargetColumns(frame)
	printTargetDistribution(y)

	split, err := dataset.StratifiedSplit(y, config.TestSize, config.RandomState)
	if err != nil {
		return err
	}
	Xtrain, Xtest := X.Take(split.Train), X.Take(split.Test)
	ytrain, ytest := dataset.TakeLabels(y, split.Train), dataset.TakeLabels(y, split.Test)
	log.Info().
		Int("train_rows", len(ytrain)).
		Int("test_rows", len(ytest)).
		Int("features", len(X.Columns())).
		Msg("Data split")

	trainCfg := ml.DefaultTrainConfig()
	trainCfg.RandomState = config.RandomState
	trainCfg.LogisticMaxIter = config.LogisticMaxIter
	trainCfg.Forest.Trees = config.ForestTrees
	trainCfg.Forest.MaxDepth = config.ForestMaxDepth

	models, err := ml.TrainModels(ctx, Xtrain, ytrain, trainCfg)
	if err != nil {
		return err
	}

	names := make([]string, 0, len(models))
	for name := range models {
		names = append(names, name)
	}
	sort.Strings(names)

	metricsByModel := make(map[string]ml.EvaluationMetrics, len(models))
	for _, name := range names {
		log.Info().Str("model", name).Msg("Evaluating model")
		m, err := ml.Evaluate(models[name], Xtest, ytest)
		if err != nil {
			return fmt.Errorf("failed to evaluate %s: %w", name, err)
		}
		metricsByModel[name] = m
		printEvaluation(name, m)
	}

	report, err := ml.NewTrainingReport(metricsByModel)
	if err != nil {
		return err
	}
	best := models[report.BestModel]
	log.Info().
		Str("model", report.BestModel).
		Str("metric", report.SelectionMetric).
		Msg("Best model selected")

	if importance {
		scores, err := ml.PermutationImportance(best, Xtest, ytest, permutationRepeats, config.RandomState)
		if err != nil {
			log.Warn().Err(err).Msg("Permutation importance failed, report written without it")
		} else {
			report.PermutationImportance = scores
		}
	}

	if err := ml.SavePipeline(config.ModelPath, best); err != nil {
		return err
	}
	log.Info().Str("path", config.ModelPath).Msg("Model saved")

	if err := ml.WriteTrainingReport(config.MetricsPath, report); err != nil {
		return fmt.Errorf("failed to write metrics report: %w", err)
	}
	log.Info().Str("path", config.MetricsPath).Msg("Metrics saved")

	if register {
		registerVersion(config.ModelPath, report.BestModel, metricsByModel[report.BestModel], len(ytrain))
	}

	lines, err := ml.ExamplePredictions(ml.NewPredictorFromPipeline(best, nil))
	if err != nil {
		log.Warn().Err(err).Msg("Example predictions failed")
	} else {
		fmt.Println("=== Example predictions ===")
		for _, line := range lines {
			fmt.Println(line)
		}
	}

	log.Info().Dur("duration", time.Since(start)).Msg("Training complete")
	return nil
}

// registerVersion records the saved artifact in the version registry next
// to it. Failures are logged; the artifact on disk stays usable.
func registerVersion(modelPath, modelName string, m ml.EvaluationMetrics, trainingSamples int) {
	mm, err := ml.NewModelManager(filepath.Dir(modelPath))
	if err != nil {
		log.Warn().Err(err).Msg("Model registry unavailable")
		return
	}
	version, err := mm.AddVersion(modelName, modelPath, ml.MetricsFromEvaluation(m, trainingSamples))
	if err != nil {
		log.Warn().Err(err).Msg("Failed to register model version")
		return
	}
	if err := mm.ActivateVersion(version.Version); err != nil {
		log.Warn().Err(err).Str("version", version.Version).Msg("Failed to activate model version")
		return
	}
	log.Info().Str("version", version.Version).Msg("Model version activated")
}

func listVersions(modelPath string) error {
	mm, err := ml.NewModelManager(filepath.Dir(modelPath))
	if err != nil {
		return err
	}
	versions := mm.ListVersions()
	if len(versions) == 0 {
		fmt.Println("No registered model versions")
		return nil
	}

	fmt.Println("=== Model versions ===")
	for _, v := range versions {
		active, auc := "", "n/a"
		if v.IsActive {
			active = "*"
		}
		if v.Metrics.AUCScore != nil {
			auc = fmt.Sprintf("%.4f", *v.Metrics.AUCScore)
		}
		fmt.Printf("%1s %-24s %-20s %s  auc=%s f1=%.4f\n",
			active, v.Version, v.ModelName, v.CreatedAt.Format(time.RFC3339), auc, v.Metrics.F1Score)
	}
	return nil
}

// rollbackVersion activates the previous version and copies its artifact to
// modelPath so the next API start serves it. A running API picks it up on
// POST /model/reload.
func rollbackVersion(modelPath string) error {
	mm, err := ml.NewModelManager(filepath.Dir(modelPath))
	if err != nil {
		return err
	}
	if err := mm.Rollback(); err != nil {
		return err
	}
	current := mm.CurrentVersion()

	pipeline, err := ml.LoadPipeline(current.Path)
	if err != nil {
		return fmt.Errorf("failed to load version %s: %w", current.Version, err)
	}
	if err := ml.SavePipeline(modelPath, pipeline); err != nil {
		return err
	}
	log.Info().
		Str("version", current.Version).
		Str("model", current.ModelName).
		Str("path", modelPath).
		Msg("Rolled back model version")
	return nil
}

func printTargetDistribution(y []int) {
	positives := 0
	for _, v := range y {
		positives += v
	}
	n := len(y)
	share := func(c int) float64 {
		if n == 0 {
			return 0
		}
		return float64(c) / float64(n)
	}
	fmt.Println("=== Target distribution ===")
	fmt.Printf("0: %d (%.4f)\n", n-positives, share(n-positives))
	fmt.Printf("1: %d (%.4f)\n", positives, share(positives))
}

func printEvaluation(name string, m ml.EvaluationMetrics) {
	auc := "n/a"
	if m.ROCAUC != nil {
		auc = fmt.Sprintf("%.4f", *m.ROCAUC)
	}
	fmt.Printf("--- %s ---\n", name)
	fmt.Printf("Accuracy:  %.4f\n", m.Accuracy)
	fmt.Printf("Precision: %.4f\n", m.Precision)
	fmt.Printf("Recall:    %.4f\n", m.Recall)
	fmt.Printf("F1:        %.4f\n", m.F1)
	fmt.Printf("ROC AUC:   %s\n", auc)
}
