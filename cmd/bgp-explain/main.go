// bgp-explain - Explains BGP anomaly incidents from RIPE RIS routing data.
//
// For each incident it builds per-collector routing tables for the history
// baseline and the windows before and after the incident start, then asks
// a language model to describe, classify and report the change.
//
// Usage:
//
//	bgp-explain report --time "2008-02-24 18:47:00" --prefix 208.65.153.0/24
//	bgp-explain batch incidents.csv --skip 9,20
//	bgp-explain watch --prefix 203.0.113.0/24
//
// Environment variables (alternative to flags):
//
//	OPENAI_API_KEY           - Model API key
//	BGP_EXPLAIN_COLLECTORS   - Comma-separated list of RIS collectors
//	BGP_EXPLAIN_REDIS        - Redis URL for the snapshot cache
//	BGP_EXPLAIN_DATABASE     - PostgreSQL URL for report storage
//	BGP_EXPLAIN_ASN_DATA     - Path to ASN-country CSV file
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hervehildenbrand/bgp-explain/pkg/config"
	"github.com/hervehildenbrand/bgp-explain/pkg/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configPath string
	verbose    bool
	console    bool
	timeout    time.Duration

	collectors  []string
	sample      int
	seed        int64
	model       string
	rounds      int
	readPath    string
	savePath    string
	redisURL    string
	databaseURL string
	asnData     string
	concurrency int

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "bgp-explain",
	Short: "Explain BGP anomaly incidents with a language model",
	Long: `bgp-explain retrieves RIPE RIS routing data around an incident and
produces a written report of what changed and what kind of anomaly it was.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		logger, err = logging.New(verbose, console)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		if err := config.LoadDotEnv(".env"); err != nil {
			return err
		}
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		applyFlags(cmd)
		return cfg.Validate()
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "bgp-explain.yaml", "YAML configuration file")
	flags.BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	flags.BoolVar(&console, "console", false, "Human-readable log output")
	flags.DurationVar(&timeout, "timeout", 0, "Overall run timeout (0 for none)")

	flags.StringSliceVar(&collectors, "collectors", nil, "RIS collectors to query")
	flags.IntVar(&sample, "sample", 0, "Collectors drawn per incident for the before/after tables (0 keeps all)")
	flags.Int64Var(&seed, "seed", 0, "Sampling seed (0 uses the clock)")
	flags.StringVar(&model, "model", "", "Model name")
	flags.IntVar(&rounds, "rounds", 0, "Self-consistency rounds")
	flags.StringVar(&readPath, "read-path", "", "Directory holding saved snapshots")
	flags.StringVar(&savePath, "save-path", "", "Directory for snapshots and reports")
	flags.StringVar(&redisURL, "redis", "", "Redis URL for the snapshot cache")
	flags.StringVar(&databaseURL, "database", "", "PostgreSQL URL for report storage")
	flags.StringVar(&asnData, "asn-data", "", "ASN-country CSV file")
	flags.IntVar(&concurrency, "concurrency", 0, "Collectors queried at once")

	rootCmd.AddCommand(reportCmd, batchCmd, watchCmd, reportsCmd)
}

// applyFlags lets explicitly set flags win over file and environment.
func applyFlags(cmd *cobra.Command) {
	changed := cmd.Flags().Changed
	if changed("collectors") {
		cfg.Collectors = collectors
	}
	if changed("sample") {
		cfg.Sample = sample
	}
	if changed("seed") {
		cfg.Seed = seed
	}
	if changed("model") {
		cfg.LLM.Model = model
	}
	if changed("rounds") {
		cfg.LLM.Rounds = rounds
	}
	if changed("read-path") {
		cfg.ReadPath = readPath
	}
	if changed("save-path") {
		cfg.SavePath = savePath
	}
	if changed("redis") {
		cfg.RedisURL = redisURL
	}
	if changed("database") {
		cfg.DatabaseURL = databaseURL
	}
	if changed("asn-data") {
		cfg.ASNData = asnData
	}
	if changed("concurrency") {
		cfg.Concurrency = concurrency
	}
}

// runContext is cancelled on SIGINT/SIGTERM or when the timeout elapses.
func runContext() (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	if timeout <= 0 {
		return ctx, stop
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	return ctx, func() {
		cancel()
		stop()
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
