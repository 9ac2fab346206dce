package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tidemill-io/tidemill/internal/pipeline"
	"github.com/tidemill-io/tidemill/pkg/config"
	"github.com/tidemill-io/tidemill/pkg/logger"
)

var version = "0.1.0"

func main() {
	// Load .env if present; absence is not an error.
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:   "tidemill",
		Short: "Tidemill - batch ETL pipeline for daily reporting",
		Long: `Tidemill is a batch ETL orchestrator. It extracts tabular data from
databases, APIs and files, applies SQL transformations with validation,
and loads results into a target database and spreadsheet reports.`,
	}

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Tidemill v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "sources",
		Short: "List supported source kinds",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("Supported source types:")
			for _, t := range config.SourceTypes() {
				fmt.Printf("  - %s\n", t)
			}
		},
	})

	var configFile, stageFlag string

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the ETL pipeline",
		Long: `Run the full ETL pipeline or a single stage. Omitting --stage runs
extract, transform and load in order; a single stage assumes its
prerequisite artifacts already exist from a prior run.

Example:
  tidemill run --config config/development.yaml --stage transform`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(configFile, stageFlag)
		},
		SilenceUsage: true,
	}
	runCmd.Flags().StringVarP(&configFile, "config", "c", "config/development.yaml", "Configuration file path")
	runCmd.Flags().StringVarP(&stageFlag, "stage", "s", "", "Run a single stage (extract, transform or load)")
	root.AddCommand(runCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// runPipeline loads configuration, wires the pipeline and executes it.
// Item-level failures produce a FAILED summary but a zero exit code; only
// a stage-fatal error escapes as a non-zero exit.
func runPipeline(configFile, stageFlag string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	stageName, err := pipeline.ParseStage(stageFlag)
	if err != nil {
		return err
	}

	logCfg := logger.Config{
		Level:    cfg.Logging.Level,
		Encoding: cfg.Logging.Encoding,
	}
	if cfg.Logging.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Logging.File), 0o755); err != nil {
			return fmt.Errorf("logger error: %w", err)
		}
		logCfg.OutputPaths = []string{"stdout", cfg.Logging.File}
	}
	if err := logger.Init(logCfg); err != nil {
		return fmt.Errorf("logger error: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	log := logger.With(
		zap.String("component", "tidemill-cli"),
		zap.String("config", configFile))

	p := pipeline.New(cfg, log)
	summary, err := p.Run(context.Background(), stageName)
	if err != nil {
		fmt.Printf("ETL pipeline failed: %v\n", err)
		return err
	}

	if summary.Status == pipeline.StatusSuccess {
		fmt.Printf("ETL pipeline completed successfully (%d records processed)\n",
			summary.RecordsProcessed)
	} else {
		fmt.Printf("ETL pipeline completed with %d error(s) (%d records processed)\n",
			summary.ErrorsCount, summary.RecordsProcessed)
	}
	return nil
}
