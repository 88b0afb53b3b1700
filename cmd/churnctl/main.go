package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"churn-service/internal/client"
	"churn-service/internal/common"
	"churn-service/internal/dataset"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const usage = `usage: churnctl [flags] <command> [args]

commands:
  health                 check the API is up
  predict <json|@file>   score one customer
  explain <json|@file>   explain one customer's score
  upload <file.csv>      score a CSV of customers
  model                  show the served model
  versions               list registered model versions
  rollback               serve the previous model version
  reload                 load the active model version again
  history [limit]        show recent audited predictions
`

func main() {
	var (
		apiURL   = flag.String("url", "", "Churn API base URL (overrides CHURN_API_URL)")
		timeout  = flag.Duration("timeout", 60*time.Second, "Request timeout")
		logLevel = flag.String("log-level", "warn", "Log level: debug, info, warn, error")
	)
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		level = zerolog.WarnLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	base := *apiURL
	if base == "" {
		base = os.Getenv(common.EnvAPIURL)
	}
	if base == "" {
		base = common.DefaultAPIURL
	}
	log.Debug().Str("url", base).Msg("Using churn API")

	c := client.NewREST(base, *timeout)
	if err := run(c, flag.Arg(0), flag.Args()[1:]); err != nil {
		log.Error().Err(err).Str("command", flag.Arg(0)).Msg("Command failed")
		os.Exit(1)
	}
}

func run(c *client.Client, command string, args []string) error {
	switch command {
	case "health":
		status, err := c.Health()
		if err != nil {
			return err
		}
		fmt.Println(status)
	case "predict":
		customer, err := readCustomer(args)
		if err != nil {
			return err
		}
		p, err := c.Predict(customer)
		if err != nil {
			return err
		}
		fmt.Printf("%.4f (%s) %s\n", p.ChurnProbability, p.RiskPercent, p.RiskLevel)
	case "explain":
		customer, err := readCustomer(args)
		if err != nil {
			return err
		}
		e, err := c.Explain(customer)
		if err != nil {
			return err
		}
		fmt.Printf("Probability: %.4f  Risk: %s\n", e.Probability, e.RiskLevel)
		fmt.Println("Top drivers:")
		for _, d := range e.TopDrivers {
			fmt.Printf("  %-16s %-9s %+.4f  %s\n", d.Feature, d.Direction, d.ShapValue, d.HumanExplanation)
		}
		fmt.Println("Recommendations:")
		for _, r := range e.Recommendations {
			fmt.Printf("  - %s\n", r)
		}
	case "upload":
		if len(args) != 1 {
			return fmt.Errorf("upload expects one CSV path")
		}
		res, err := c.UploadCSV(args[0])
		if err != nil {
			return err
		}
		printBatch(res)
	case "model":
		info, err := c.ModelInfo()
		if err != nil {
			return err
		}
		return printJSON(info)
	case "versions":
		out, err := c.Versions()
		if err != nil {
			return err
		}
		return printJSON(out)
	case "rollback":
		out, err := c.Rollback()
		if err != nil {
			return err
		}
		return printJSON(out)
	case "reload":
		out, err := c.Reload()
		if err != nil {
			return err
		}
		return printJSON(out)
	case "history":
		limit := 0
		if len(args) > 0 {
			if _, err := fmt.Sscanf(args[0], "%d", &limit); err != nil {
				return fmt.Errorf("invalid limit %q", args[0])
			}
		}
		out, err := c.History(limit)
		if err != nil {
			return err
		}
		return printJSON(out)
	default:
		return fmt.Errorf("unknown command %q", command)
	}
	return nil
}

// readCustomer parses a customer from an inline JSON argument or, with a
// leading @, from a file.
func readCustomer(args []string) (dataset.Customer, error) {
	var customer dataset.Customer
	if len(args) != 1 {
		return customer, fmt.Errorf("expected one customer JSON argument")
	}

	raw := []byte(args[0])
	if path, ok := strings.CutPrefix(args[0], "@"); ok {
		data, err := os.ReadFile(path)
		if err != nil {
			return customer, fmt.Errorf("failed to read customer file: %w", err)
		}
		raw = data
	}

	if err := json.Unmarshal(raw, &customer); err != nil {
		return customer, fmt.Errorf("invalid customer JSON: %w", err)
	}
	return customer, nil
}

func printBatch(res *client.BatchResult) {
	fmt.Printf("=== %s ===\n", res.Filename)
	fmt.Printf("Rows: %d\n", res.RowCount)
	fmt.Printf("Average probability: %.4f\n", res.Summary.AvgProbability)
	fmt.Printf("High risk: %d (%.2f%%)\n", res.Summary.HighRiskCount, res.Summary.HighRiskRate*100)
	fmt.Printf("Global risk: %s\n", res.RiskLevelGlobal)

	if len(res.GlobalTopDrivers) > 0 {
		fmt.Println("Drivers:")
		for _, d := range res.GlobalTopDrivers {
			fmt.Printf("  %-16s %.2f  %s\n", d.Feature, d.Importance, d.Interpretation)
		}
	}
	if len(res.DataDrift) > 0 {
		fmt.Printf("Drift alerts: %d\n", len(res.DataDrift))
	}

	limit := min(len(res.Rows), 10)
	fmt.Println("Most at risk:")
	for _, r := range res.Rows[:limit] {
		fmt.Printf("  %-12s %-8s %-7s %s\n", r.CustomerID, r.ChurnRiskPercent, r.RiskLevel, r.Contract)
	}
	for _, rec := range res.Recommendations {
		fmt.Printf("  - %s\n", rec)
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
