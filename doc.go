// Package tidemill provides a batch ETL orchestrator that moves data from
// heterogeneous sources through SQL transformations into a relational
// warehouse and a spreadsheet report.
//
// A run proceeds through three stages, each handing its output to the next
// through on-disk Parquet artifacts:
//
// 1. Extract: each configured source (PostgreSQL, MySQL, HTTP API, CSV/JSON
// file) is pulled into a columnar dataset and written to the staging
// directory. Sources fail independently; one broken source never aborts
// the run.
//
// 2. Transform: every staged dataset is seeded into an in-memory SQLite
// database, the configured SQL query files run against it, and each result
// is validated and written to the output directory.
//
// 3. Load: transformed datasets are bulk-copied into their target tables
// and rendered into a multi-sheet workbook report.
//
// Every run finishes by persisting a pipeline_summary.json describing the
// records processed, the errors accumulated and the overall status.
//
// # Quick Start
//
// Run the full pipeline with a configuration file:
//
//	tidemill run --config config/development.yaml
//
// Or run a single stage:
//
//	tidemill run --config config/development.yaml --stage transform
//
// Embedders can drive the orchestrator directly:
//
//	cfg, err := config.Load("config/development.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	p := pipeline.New(cfg, logger.Get())
//	summary, err := p.Run(ctx, "")
//
// See the config package for the configuration schema and the pipeline
// package for stage semantics and failure isolation.
package tidemill
