package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"churn-service/internal/common"
	"churn-service/internal/dataset"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	var (
		output   = flag.String("output", common.DefaultDataPath, "Output CSV path")
		rows     = flag.Int("rows", 100_000, "Number of customers to generate")
		seed     = flag.Int64("seed", common.DefaultRandomState, "Random seed")
		noTarget = flag.Bool("no-target", false, "Omit the Churn column, e.g. for scoring uploads")
	)
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if *rows <= 0 {
		log.Fatal().Int("rows", *rows).Msg("rows must be positive")
	}

	fmt.Printf("Generating synthetic customers...\n")
	fmt.Printf("  Rows: %d\n", *rows)
	fmt.Printf("  Seed: %d\n", *seed)
	fmt.Printf("  Output: %s\n", *output)

	customers, y := dataset.GenerateCustomers(*rows, *seed)
	if *noTarget {
		y = nil
	}

	if err := os.MkdirAll(filepath.Dir(*output), 0o755); err != nil {
		log.Fatal().Err(err).Msg("Failed to create output directory")
	}
	file, err := os.Create(*output)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create output file")
	}
	defer file.Close()

	if err := dataset.WriteCustomersCSV(file, customers, y); err != nil {
		log.Fatal().Err(err).Msg("Failed to write customers")
	}

	positives := 0
	for _, v := range y {
		positives += v
	}
	log.Info().Int("rows", len(customers)).Int("churned", positives).Str("path", *output).Msg("Synthetic data written")
}
