package main

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/speedframe/speed/pkg/compression"
	"github.com/speedframe/speed/pkg/config"
	"github.com/speedframe/speed/pkg/dispatch"
	"github.com/speedframe/speed/pkg/logger"
	"github.com/speedframe/speed/pkg/pipeline"
)

var version = "0.1.0"

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:   "speed",
		Short: "Speed - adaptive data transformation dispatcher",
		Long: `Speed runs a transformation pipeline over a dataset and automatically picks
the fastest execution path: push-down into an embedded SQL database, chunked
parallel execution with bounded workers, or direct in-memory execution.`,
	}

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Speed v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	root.AddCommand(newRunCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRunCmd() *cobra.Command {
	var (
		inputFile    string
		pipelineFile string
		outputFile   string
		configFile   string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a transformation pipeline over a dataset",
		Long: `Run a transformation pipeline, described as a JSON operation list, over a CSV
dataset. The execution path is chosen automatically.

Example:
  speed run --input data.csv --pipeline pipeline.json --output out.csv`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd, inputFile, pipelineFile, outputFile, configFile)
		},
	}

	cmd.Flags().StringVarP(&inputFile, "input", "i", "", "Path to input CSV file (required)")
	cmd.Flags().StringVarP(&pipelineFile, "pipeline", "p", "", "Path to pipeline JSON file (required)")
	_ = cmd.MarkFlagRequired("input")
	_ = cmd.MarkFlagRequired("pipeline")

	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "Path to output CSV file (default stdout)")
	cmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to YAML config file (optional)")
	cmd.Flags().Float64("memory-threshold-gb", 2, "In-memory routing threshold in GiB")
	cmd.Flags().Int("reserve-cores", 2, "Cores held back from the chunk worker pool")
	cmd.Flags().Float64("reserve-ram-gb", 4, "RAM in GiB held back from chunk sizing")
	cmd.Flags().Float64("max-chunk-gb", 0.5, "Upper bound on one chunk's size in GiB")
	cmd.Flags().String("db-file", "ben_speed.db", "Embedded database file for the relational path")
	cmd.Flags().String("temp-dir", "", "Directory for chunk intermediates (default OS temp)")
	cmd.Flags().String("spill-compression", "snappy", "Chunk spill codec (none, gzip, snappy, lz4, zstd, s2)")
	cmd.Flags().String("log-level", "info", "Log level (debug, info, warn, error)")

	// Every flag can also come from the environment: --db-file is
	// SPEED_DB_FILE and so on.
	viper.SetEnvPrefix("SPEED")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	_ = viper.BindPFlags(cmd.Flags())

	return cmd
}

func runPipeline(cmd *cobra.Command, inputFile, pipelineFile, outputFile, configFile string) error {
	cfg := config.Default()
	if configFile != "" {
		loaded, err := config.Load(configFile)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	applyFlags(cmd, &cfg)

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
		Encoding:    cfg.Logging.Encoding,
		OutputPaths: cfg.Logging.OutputPaths,
	}); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	p, err := loadPipeline(pipelineFile)
	if err != nil {
		return err
	}

	opts := dispatch.DefaultOptions()
	opts.MemoryThresholdGB = cfg.Dispatch.MemoryThresholdGB
	opts.ReserveCores = cfg.Dispatch.ReserveCores
	opts.ReserveRAMGB = cfg.Dispatch.ReserveRAMGB
	opts.MaxChunkGB = cfg.Dispatch.MaxChunkGB
	opts.DBFile = cfg.Dispatch.DBFile
	opts.TempDir = cfg.Dispatch.TempDir
	opts.SpillCompression = compression.Algorithm(cfg.Dispatch.SpillCompression)

	out, err := dispatch.Speed(context.Background(), dispatch.FileInput{Path: inputFile}, p, opts)
	if err != nil {
		logger.Error("pipeline run failed", zap.Error(err))
		return err
	}

	if outputFile == "" {
		return out.WriteCSV(os.Stdout)
	}
	if err := out.WriteCSVFile(outputFile); err != nil {
		return err
	}
	logger.Info("pipeline run completed",
		zap.Int("rows", out.NumRows()),
		zap.String("output", outputFile))
	return nil
}

// applyFlags overlays flag/env values onto the config. Flags set explicitly
// on the command line win over the config file; unset flags fall back to the
// environment through viper, then to the config file value.
func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	set := func(name string, apply func()) {
		if cmd.Flags().Changed(name) || os.Getenv(envName(name)) != "" {
			apply()
		}
	}
	set("memory-threshold-gb", func() { cfg.Dispatch.MemoryThresholdGB = viper.GetFloat64("memory-threshold-gb") })
	set("reserve-cores", func() { cfg.Dispatch.ReserveCores = viper.GetInt("reserve-cores") })
	set("reserve-ram-gb", func() { cfg.Dispatch.ReserveRAMGB = viper.GetFloat64("reserve-ram-gb") })
	set("max-chunk-gb", func() { cfg.Dispatch.MaxChunkGB = viper.GetFloat64("max-chunk-gb") })
	set("db-file", func() { cfg.Dispatch.DBFile = viper.GetString("db-file") })
	set("temp-dir", func() { cfg.Dispatch.TempDir = viper.GetString("temp-dir") })
	set("spill-compression", func() { cfg.Dispatch.SpillCompression = viper.GetString("spill-compression") })
	set("log-level", func() { cfg.Logging.Level = viper.GetString("log-level") })
}

func envName(flag string) string {
	return "SPEED_" + strings.ToUpper(strings.ReplaceAll(flag, "-", "_"))
}

func loadPipeline(path string) (*pipeline.Pipeline, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: caller-controlled pipeline file
	if err != nil {
		return nil, fmt.Errorf("failed to read pipeline file %s: %w", path, err)
	}
	p, err := pipeline.ParseSpec(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse pipeline file %s: %w", path, err)
	}
	return p, nil
}
