// Package pipeline provides the batch ETL orchestrator: it sequences the
// extract, transform and load stages (or a single requested stage),
// isolates per-item failures so one bad source, query or table never
// aborts a run, and persists a run summary exactly once per execution.
//
// Stages hand datasets to each other exclusively through the on-disk
// staging and output stores; nothing is passed between stages in memory.
// Each stage returns explicit per-item results and its own error
// accumulator, which Run merges into the final summary.
package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tidemill-io/tidemill/pkg/config"
	"github.com/tidemill-io/tidemill/pkg/errlist"
	"github.com/tidemill-io/tidemill/pkg/errors"
	"github.com/tidemill-io/tidemill/pkg/extract"
	"github.com/tidemill-io/tidemill/pkg/load"
	"github.com/tidemill-io/tidemill/pkg/metrics"
	"github.com/tidemill-io/tidemill/pkg/stage"
	"github.com/tidemill-io/tidemill/pkg/table"
	"github.com/tidemill-io/tidemill/pkg/transform"
)

// StageName names one pipeline stage.
type StageName string

const (
	StageExtract   StageName = "extract"
	StageTransform StageName = "transform"
	StageLoad      StageName = "load"
)

// ParseStage validates a --stage flag value. Empty means run all stages.
func ParseStage(s string) (StageName, error) {
	switch StageName(s) {
	case "", StageExtract, StageTransform, StageLoad:
		return StageName(s), nil
	}
	return "", errors.Newf(errors.ErrorTypeConfig, "unknown stage %q", s)
}

// Extractors supplies extractors per source kind and owns their shared
// resources.
type Extractors interface {
	For(t config.SourceType) (extract.Extractor, error)
	Close() error
}

// Transformer executes one named query over the staged datasets.
type Transformer interface {
	Execute(ctx context.Context, queryPath string, staged map[string]*table.Dataset) (*table.Dataset, error)
}

// DatasetValidator checks a transformed dataset against structural rules.
type DatasetValidator interface {
	Validate(ds *table.Dataset) transform.ValidationResult
}

// TableLoader writes one dataset into one target table.
type TableLoader interface {
	LoadTable(ctx context.Context, tableName string, ds *table.Dataset) error
}

// ReportGenerator renders the workbook report from transformed datasets.
type ReportGenerator interface {
	GenerateReports(datasets map[string]*table.Dataset) error
}

// LoaderFactory connects the table loader on demand. The returned func
// releases the connection.
type LoaderFactory func(ctx context.Context) (TableLoader, func(), error)

// ItemResult is the outcome of processing one item (a source, a query or
// a target table). Exactly one of Dataset and Err is meaningful; a nil
// Dataset with a nil Err means the item produced nothing and reported
// nothing, which contributes zero records and zero errors.
type ItemResult struct {
	Name    string
	Dataset *table.Dataset
	Err     error
}

// Pipeline orchestrates one ETL run.
type Pipeline struct {
	cfg *config.Config
	log *zap.Logger

	staging *stage.Store
	output  *stage.Store

	extractors    Extractors
	transformer   Transformer
	validator     DatasetValidator
	loaderFactory LoaderFactory
	reports       ReportGenerator
}

// Option overrides one collaborator, used by embedders and tests.
type Option func(*Pipeline)

// WithExtractors overrides the extractor factory.
func WithExtractors(e Extractors) Option {
	return func(p *Pipeline) { p.extractors = e }
}

// WithTransformer overrides the SQL transformer.
func WithTransformer(t Transformer) Option {
	return func(p *Pipeline) { p.transformer = t }
}

// WithValidator overrides the dataset validator.
func WithValidator(v DatasetValidator) Option {
	return func(p *Pipeline) { p.validator = v }
}

// WithLoaderFactory overrides how the table loader is connected.
func WithLoaderFactory(f LoaderFactory) Option {
	return func(p *Pipeline) { p.loaderFactory = f }
}

// WithReportGenerator overrides the report writer.
func WithReportGenerator(r ReportGenerator) Option {
	return func(p *Pipeline) { p.reports = r }
}

// New creates a pipeline wired with production collaborators unless
// overridden by options.
func New(cfg *config.Config, log *zap.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		cfg:         cfg,
		log:         log.With(zap.String("component", "pipeline")),
		staging:     stage.NewStagingStore(cfg.Directories.Staging),
		output:      stage.NewOutputStore(cfg.Directories.Output),
		extractors:  extract.NewFactory(cfg),
		transformer: transform.NewSQLTransformer(),
		validator:   transform.NewValidator(cfg.Validation),
		reports:     load.NewReportWriter(cfg.Directories.Output),
	}
	p.loaderFactory = func(ctx context.Context) (TableLoader, func(), error) {
		loader, err := load.NewDatabaseLoader(ctx, cfg.Database.DSN())
		if err != nil {
			return nil, nil, err
		}
		return loader, loader.Close, nil
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run executes the requested stage, or all three in order when stage is
// empty. Per-item failures accumulate without aborting the run; an error
// raised outside the per-item loops aborts after the summary and cleanup
// paths complete and is returned alongside the summary. The summary is
// persisted exactly once regardless of outcome.
func (p *Pipeline) Run(ctx context.Context, stageName StageName) (*RunSummary, error) {
	start := time.Now()
	p.log.Info("starting pipeline run", zap.String("stage", string(stageName)))

	var (
		acc     errlist.List
		records int64
		fatal   error
	)

	if err := p.ensureDirectories(); err != nil {
		fatal = err
		acc.Appendf("pipeline failed: %v", err)
	}

	if fatal == nil && (stageName == "" || stageName == StageExtract) {
		n, list, err := p.runExtract(ctx)
		records += n
		acc.Merge(list)
		if err != nil {
			fatal = err
			acc.Appendf("pipeline failed: %v", err)
		}
	}
	if fatal == nil && (stageName == "" || stageName == StageTransform) {
		list, err := p.runTransform(ctx)
		acc.Merge(list)
		if err != nil {
			fatal = err
			acc.Appendf("pipeline failed: %v", err)
		}
	}
	if fatal == nil && (stageName == "" || stageName == StageLoad) {
		list, err := p.runLoad(ctx)
		acc.Merge(list)
		if err != nil {
			fatal = err
			acc.Appendf("pipeline failed: %v", err)
		}
	}

	end := time.Now()
	summary := newRunSummary(start, end, records, acc.Messages())
	if err := summary.write(p.cfg.Directories.Output); err != nil {
		p.log.Error("failed to persist run summary", zap.Error(err))
	} else {
		p.log.Info("persisted run summary",
			zap.String("status", summary.Status),
			zap.Int64("records_processed", summary.RecordsProcessed),
			zap.Int("errors", summary.ErrorsCount))
	}

	p.cleanup()

	if err := p.extractors.Close(); err != nil {
		p.log.Warn("error releasing extractor resources", zap.Error(err))
	}

	return summary, fatal
}

// ensureDirectories creates the working directories. Failure here is
// stage-fatal: nothing downstream can proceed without them.
func (p *Pipeline) ensureDirectories() error {
	for _, dir := range []string{
		p.cfg.Directories.Staging,
		p.cfg.Directories.Output,
		p.cfg.Directories.Temp,
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, errors.ErrorTypeFile, "failed to create directory %s", dir)
		}
	}
	return nil
}

// runExtract iterates the declared sources, failure-isolated per source.
// A failed extraction contributes exactly one error entry and zero
// records; successful datasets are persisted to the staging store.
func (p *Pipeline) runExtract(ctx context.Context) (int64, errlist.List, error) {
	p.log.Info("starting extract stage")
	timer := metrics.NewTimer(string(StageExtract))

	results := make([]ItemResult, 0, len(p.cfg.Sources))
	for _, src := range p.cfg.Sources {
		results = append(results, p.extractOne(ctx, src))
	}

	var list errlist.List
	var records int64
	for _, r := range results {
		if r.Err != nil {
			list.Appendf("failed to extract from %s: %v", r.Name, r.Err)
			metrics.ItemErrors.WithLabelValues(string(StageExtract)).Inc()
			continue
		}
		n := int64(r.Dataset.NumRows())
		records += n
		metrics.RecordsProcessed.WithLabelValues(string(StageExtract)).Add(float64(n))
	}

	p.log.Info("extract stage completed",
		zap.Duration("duration", timer.Stop()),
		zap.Int64("records", records),
		zap.Int("failures", list.Len()))
	return records, list, nil
}

func (p *Pipeline) extractOne(ctx context.Context, src config.SourceSpec) ItemResult {
	p.log.Info("extracting source",
		zap.String("source", src.Name),
		zap.String("type", string(src.Type)))

	extractor, err := p.extractors.For(src.Type)
	if err != nil {
		p.log.Error("no extractor for source", zap.String("source", src.Name), zap.Error(err))
		return ItemResult{Name: src.Name, Err: err}
	}

	ds, err := extractor.Extract(ctx, src)
	if err != nil {
		p.log.Error("extraction failed", zap.String("source", src.Name), zap.Error(err))
		return ItemResult{Name: src.Name, Err: err}
	}
	if ds == nil {
		// Nothing produced and nothing reported: zero records, no error.
		p.log.Warn("source produced no dataset", zap.String("source", src.Name))
		return ItemResult{Name: src.Name}
	}

	if err := p.staging.Save(src.Name, ds); err != nil {
		p.log.Error("failed to stage dataset", zap.String("source", src.Name), zap.Error(err))
		return ItemResult{Name: src.Name, Err: err}
	}
	return ItemResult{Name: src.Name, Dataset: ds}
}

// runTransform loads every staged dataset and applies the declared query
// files, failure-isolated per query. Validation failures are advisory:
// they accumulate as errors but never block persisting the result.
func (p *Pipeline) runTransform(ctx context.Context) (errlist.List, error) {
	p.log.Info("starting transform stage")
	timer := metrics.NewTimer(string(StageTransform))

	var list errlist.List

	staged, err := p.staging.LoadAll(ctx)
	if err != nil {
		// Outside the per-item loop: aborts the run.
		return list, err
	}

	queries := p.cfg.Pipeline.Stages.Transform.SQLQueries
	for _, queryPath := range queries {
		name := transform.ResultName(queryPath)
		p.log.Info("executing transformation", zap.String("query", name))

		ds, err := p.transformer.Execute(ctx, queryPath, staged)
		if err != nil {
			p.log.Error("transformation failed", zap.String("query", name), zap.Error(err))
			list.Appendf("failed to transform %s: %v", queryPath, err)
			metrics.ItemErrors.WithLabelValues(string(StageTransform)).Inc()
			continue
		}

		if result := p.validator.Validate(ds); !result.IsValid {
			list.Appendf("data validation failed for %s: %s", name, strings.Join(result.Errors, "; "))
			metrics.ItemErrors.WithLabelValues(string(StageTransform)).Inc()
		}

		if err := p.output.Save(name, ds); err != nil {
			p.log.Error("failed to save transformed dataset", zap.String("query", name), zap.Error(err))
			list.Appendf("failed to save transformed data for %s: %v", name, err)
			metrics.ItemErrors.WithLabelValues(string(StageTransform)).Inc()
		}
	}

	p.log.Info("transform stage completed",
		zap.Duration("duration", timer.Stop()),
		zap.Int("queries", len(queries)),
		zap.Int("failures", list.Len()))
	return list, nil
}

// runLoad loads every transformed dataset into its target table plus the
// workbook report. Tables are failure-isolated individually; report
// generation is one item of its own.
func (p *Pipeline) runLoad(ctx context.Context) (errlist.List, error) {
	p.log.Info("starting load stage")
	timer := metrics.NewTimer(string(StageLoad))

	var list errlist.List

	transformed, err := p.output.LoadAll(ctx)
	if err != nil {
		// Outside the per-item loop: aborts the run.
		return list, err
	}

	targets := p.cfg.Pipeline.Stages.Load.TargetTables
	if len(targets) > 0 {
		loader, release, err := p.loaderFactory(ctx)
		if err != nil {
			// Connecting happens outside the per-item loop: aborts the run.
			return list, err
		}
		defer release()

		for _, tableName := range targets {
			key := resolveDatasetName(tableName)
			ds, ok := transformed[key]
			if !ok {
				// Missing data is a warning, not a failure.
				p.log.Warn("no transformed data for target table",
					zap.String("table", tableName),
					zap.String("dataset", key))
				continue
			}

			p.log.Info("loading table", zap.String("table", tableName))
			if err := loader.LoadTable(ctx, tableName, ds); err != nil {
				p.log.Error("table load failed", zap.String("table", tableName), zap.Error(err))
				list.Appendf("failed to load data to %s: %v", tableName, err)
				metrics.ItemErrors.WithLabelValues(string(StageLoad)).Inc()
				continue
			}
			metrics.RecordsProcessed.WithLabelValues(string(StageLoad)).Add(float64(ds.NumRows()))
		}
	}

	if err := p.reports.GenerateReports(transformed); err != nil {
		p.log.Error("report generation failed", zap.Error(err))
		list.Appendf("failed to generate reports: %v", err)
		metrics.ItemErrors.WithLabelValues(string(StageLoad)).Inc()
	}

	p.log.Info("load stage completed",
		zap.Duration("duration", timer.Stop()),
		zap.Int("tables", len(targets)),
		zap.Int("failures", list.Len()))
	return list, nil
}

// resolveDatasetName maps a target table to its transformed dataset by
// stripping the fact_/dim_ naming prefixes; unprefixed names map to
// themselves.
func resolveDatasetName(tableName string) string {
	name := strings.TrimPrefix(tableName, "fact_")
	name = strings.TrimPrefix(name, "dim_")
	return name
}

// cleanup removes temporary files, best effort. Failures are warnings and
// never surface past this method.
func (p *Pipeline) cleanup() {
	entries, err := os.ReadDir(p.cfg.Directories.Temp)
	if err != nil {
		if !os.IsNotExist(err) {
			p.log.Warn("cleanup failed", zap.Error(err))
		}
		return
	}
	for _, entry := range entries {
		path := filepath.Join(p.cfg.Directories.Temp, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			p.log.Warn("failed to remove temp file", zap.String("path", path), zap.Error(err))
		}
	}
	p.log.Info("cleanup completed")
}
