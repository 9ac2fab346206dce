package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tidemill-io/tidemill/pkg/config"
	"github.com/tidemill-io/tidemill/pkg/extract"
	"github.com/tidemill-io/tidemill/pkg/stage"
	"github.com/tidemill-io/tidemill/pkg/table"
)

// fakeExtractor serves canned per-source results keyed by source name.
type fakeExtractor struct {
	datasets map[string]*table.Dataset
	errs     map[string]error
}

func (f *fakeExtractor) Extract(_ context.Context, spec config.SourceSpec) (*table.Dataset, error) {
	if err, ok := f.errs[spec.Name]; ok {
		return nil, err
	}
	return f.datasets[spec.Name], nil
}

type fakeExtractors struct {
	extractor *fakeExtractor
	closed    bool
}

func (f *fakeExtractors) For(config.SourceType) (extract.Extractor, error) {
	return f.extractor, nil
}

func (f *fakeExtractors) Close() error {
	f.closed = true
	return nil
}

// fakeTransformer returns canned results keyed by the query's result name.
type fakeTransformer struct {
	datasets map[string]*table.Dataset
	errs     map[string]error
	staged   map[string]*table.Dataset
}

func (f *fakeTransformer) Execute(_ context.Context, queryPath string, staged map[string]*table.Dataset) (*table.Dataset, error) {
	f.staged = staged
	name := filepath.Base(queryPath)
	name = name[:len(name)-len(filepath.Ext(name))]
	if err, ok := f.errs[name]; ok {
		return nil, err
	}
	if ds, ok := f.datasets[name]; ok {
		return ds, nil
	}
	return nil, fmt.Errorf("no canned result for %s", name)
}

// fakeLoader records every table it is asked to load.
type fakeLoader struct {
	loaded map[string]int
	errs   map[string]error
}

func (f *fakeLoader) LoadTable(_ context.Context, tableName string, ds *table.Dataset) error {
	if err, ok := f.errs[tableName]; ok {
		return err
	}
	if f.loaded == nil {
		f.loaded = make(map[string]int)
	}
	f.loaded[tableName] = ds.NumRows()
	return nil
}

type fakeReports struct {
	datasets map[string]*table.Dataset
	err      error
}

func (f *fakeReports) GenerateReports(datasets map[string]*table.Dataset) error {
	f.datasets = datasets
	return f.err
}

func makeDataset(name string, rows int) *table.Dataset {
	ds := table.New(name, []table.Field{
		{Name: "id", Type: table.FieldTypeInt},
		{Name: "label", Type: table.FieldTypeString, Nullable: true},
	})
	for i := 0; i < rows; i++ {
		_ = ds.AppendRow([]interface{}{int64(i + 1), fmt.Sprintf("row-%d", i+1)})
	}
	return ds
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()
	return &config.Config{
		Directories: config.Directories{
			Staging: filepath.Join(root, "staging"),
			Output:  filepath.Join(root, "output"),
			Temp:    filepath.Join(root, "temp"),
		},
	}
}

func readSummaryFile(t *testing.T, outputDir string) *RunSummary {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(outputDir, SummaryFileName))
	require.NoError(t, err)
	var s RunSummary
	require.NoError(t, json.Unmarshal(data, &s))
	return &s
}

func TestRunFullPipelineSuccess(t *testing.T) {
	cfg := testConfig(t)
	cfg.Sources = []config.SourceSpec{
		{Name: "orders", Type: config.SourceTypeFile},
		{Name: "customers", Type: config.SourceTypeFile},
	}
	cfg.Pipeline.Stages.Transform.SQLQueries = []string{"sql/sales_summary.sql"}
	cfg.Pipeline.Stages.Load.TargetTables = []string{"fact_sales_summary"}

	extractors := &fakeExtractors{extractor: &fakeExtractor{
		datasets: map[string]*table.Dataset{
			"orders":    makeDataset("orders", 4),
			"customers": makeDataset("customers", 2),
		},
	}}
	transformer := &fakeTransformer{
		datasets: map[string]*table.Dataset{
			"sales_summary": makeDataset("sales_summary", 3),
		},
	}
	loader := &fakeLoader{}
	reports := &fakeReports{}

	p := New(cfg, zap.NewNop(),
		WithExtractors(extractors),
		WithTransformer(transformer),
		WithLoaderFactory(func(context.Context) (TableLoader, func(), error) {
			return loader, func() {}, nil
		}),
		WithReportGenerator(reports))

	summary, err := p.Run(context.Background(), "")
	require.NoError(t, err)

	assert.Equal(t, StatusSuccess, summary.Status)
	assert.Equal(t, int64(6), summary.RecordsProcessed)
	assert.Equal(t, 0, summary.ErrorsCount)
	assert.Empty(t, summary.Errors)

	// Staged datasets flowed through disk into the transformer.
	require.Contains(t, transformer.staged, "orders")
	require.Contains(t, transformer.staged, "customers")
	assert.Equal(t, 4, transformer.staged["orders"].NumRows())

	// The fact_ prefix resolves to the transformed dataset.
	assert.Equal(t, map[string]int{"fact_sales_summary": 3}, loader.loaded)
	require.Contains(t, reports.datasets, "sales_summary")

	assert.True(t, extractors.closed)

	persisted := readSummaryFile(t, cfg.Directories.Output)
	assert.Equal(t, StatusSuccess, persisted.Status)
	assert.Equal(t, int64(6), persisted.RecordsProcessed)
}

func TestRunExtractFailureIsolated(t *testing.T) {
	cfg := testConfig(t)
	cfg.Sources = []config.SourceSpec{
		{Name: "bad_source", Type: config.SourceTypeFile},
		{Name: "good_source", Type: config.SourceTypeFile},
	}

	extractors := &fakeExtractors{extractor: &fakeExtractor{
		datasets: map[string]*table.Dataset{
			"good_source": makeDataset("good_source", 5),
		},
		errs: map[string]error{
			"bad_source": fmt.Errorf("file not found"),
		},
	}}

	p := New(cfg, zap.NewNop(),
		WithExtractors(extractors),
		WithReportGenerator(&fakeReports{}))

	summary, err := p.Run(context.Background(), StageExtract)
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, summary.Status)
	assert.Equal(t, int64(5), summary.RecordsProcessed)
	require.Equal(t, 1, summary.ErrorsCount)
	assert.Contains(t, summary.Errors[0], "failed to extract from bad_source")
	assert.Contains(t, summary.Errors[0], "file not found")

	// The healthy source was still staged.
	staged, loadErr := stage.NewStagingStore(cfg.Directories.Staging).LoadAll(context.Background())
	require.NoError(t, loadErr)
	require.Contains(t, staged, "good_source")
	assert.Equal(t, 5, staged["good_source"].NumRows())
}

func TestRunRecordsAcrossSources(t *testing.T) {
	cfg := testConfig(t)
	cfg.Sources = []config.SourceSpec{
		{Name: "a", Type: config.SourceTypeFile},
		{Name: "b", Type: config.SourceTypeFile},
		{Name: "silent", Type: config.SourceTypeFile},
	}

	// "silent" returns neither a dataset nor an error: zero records, zero errors.
	extractors := &fakeExtractors{extractor: &fakeExtractor{
		datasets: map[string]*table.Dataset{
			"a": makeDataset("a", 10),
			"b": makeDataset("b", 15),
		},
	}}

	p := New(cfg, zap.NewNop(), WithExtractors(extractors))

	summary, err := p.Run(context.Background(), StageExtract)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, summary.Status)
	assert.Equal(t, int64(25), summary.RecordsProcessed)
	assert.Equal(t, 0, summary.ErrorsCount)
}

func TestRunTransformOnlyWithEmptyStaging(t *testing.T) {
	cfg := testConfig(t)
	cfg.Pipeline.Stages.Transform.SQLQueries = []string{"sql/sales_summary.sql"}

	transformer := &fakeTransformer{
		errs: map[string]error{
			"sales_summary": fmt.Errorf("no such table: orders"),
		},
	}

	p := New(cfg, zap.NewNop(),
		WithExtractors(&fakeExtractors{extractor: &fakeExtractor{}}),
		WithTransformer(transformer))

	summary, err := p.Run(context.Background(), StageTransform)
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, summary.Status)
	require.Equal(t, 1, summary.ErrorsCount)
	assert.Contains(t, summary.Errors[0], "failed to transform sql/sales_summary.sql")
	assert.Empty(t, transformer.staged)
}

func TestRunTransformValidationAdvisory(t *testing.T) {
	cfg := testConfig(t)
	cfg.Pipeline.Stages.Transform.SQLQueries = []string{"sql/sales_summary.sql"}
	cfg.Validation.MinRows = 5

	transformer := &fakeTransformer{
		datasets: map[string]*table.Dataset{
			"sales_summary": makeDataset("sales_summary", 2),
		},
	}

	p := New(cfg, zap.NewNop(),
		WithExtractors(&fakeExtractors{extractor: &fakeExtractor{}}),
		WithTransformer(transformer))

	summary, err := p.Run(context.Background(), StageTransform)
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, summary.Status)
	require.Equal(t, 1, summary.ErrorsCount)
	assert.Contains(t, summary.Errors[0], "data validation failed for sales_summary")

	// Validation never blocks persisting the result.
	out, loadErr := stage.NewOutputStore(cfg.Directories.Output).LoadAll(context.Background())
	require.NoError(t, loadErr)
	require.Contains(t, out, "sales_summary")
	assert.Equal(t, 2, out["sales_summary"].NumRows())
}

func TestRunLoadTableResolution(t *testing.T) {
	cfg := testConfig(t)
	cfg.Pipeline.Stages.Load.TargetTables = []string{
		"fact_sales", "dim_customer", "orders", "fact_ghost",
	}

	out := stage.NewOutputStore(cfg.Directories.Output)
	require.NoError(t, os.MkdirAll(cfg.Directories.Output, 0o755))
	require.NoError(t, out.Save("sales", makeDataset("sales", 3)))
	require.NoError(t, out.Save("customer", makeDataset("customer", 2)))
	require.NoError(t, out.Save("orders", makeDataset("orders", 7)))

	loader := &fakeLoader{}
	p := New(cfg, zap.NewNop(),
		WithExtractors(&fakeExtractors{extractor: &fakeExtractor{}}),
		WithLoaderFactory(func(context.Context) (TableLoader, func(), error) {
			return loader, func() {}, nil
		}),
		WithReportGenerator(&fakeReports{}))

	summary, err := p.Run(context.Background(), StageLoad)
	require.NoError(t, err)

	// fact_ghost has no transformed dataset: skipped without an error entry.
	assert.Equal(t, StatusSuccess, summary.Status)
	assert.Equal(t, 0, summary.ErrorsCount)
	assert.Equal(t, map[string]int{
		"fact_sales":   3,
		"dim_customer": 2,
		"orders":       7,
	}, loader.loaded)
}

func TestRunLoadTableFailureIsolated(t *testing.T) {
	cfg := testConfig(t)
	cfg.Pipeline.Stages.Load.TargetTables = []string{"fact_sales", "dim_customer"}

	out := stage.NewOutputStore(cfg.Directories.Output)
	require.NoError(t, os.MkdirAll(cfg.Directories.Output, 0o755))
	require.NoError(t, out.Save("sales", makeDataset("sales", 3)))
	require.NoError(t, out.Save("customer", makeDataset("customer", 2)))

	loader := &fakeLoader{errs: map[string]error{
		"fact_sales": fmt.Errorf("deadlock detected"),
	}}
	p := New(cfg, zap.NewNop(),
		WithExtractors(&fakeExtractors{extractor: &fakeExtractor{}}),
		WithLoaderFactory(func(context.Context) (TableLoader, func(), error) {
			return loader, func() {}, nil
		}),
		WithReportGenerator(&fakeReports{}))

	summary, err := p.Run(context.Background(), StageLoad)
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, summary.Status)
	require.Equal(t, 1, summary.ErrorsCount)
	assert.Contains(t, summary.Errors[0], "failed to load data to fact_sales")
	assert.Equal(t, map[string]int{"dim_customer": 2}, loader.loaded)
}

func TestRunLoaderConnectFatal(t *testing.T) {
	cfg := testConfig(t)
	cfg.Pipeline.Stages.Load.TargetTables = []string{"fact_sales"}

	p := New(cfg, zap.NewNop(),
		WithExtractors(&fakeExtractors{extractor: &fakeExtractor{}}),
		WithLoaderFactory(func(context.Context) (TableLoader, func(), error) {
			return nil, nil, fmt.Errorf("connection refused")
		}),
		WithReportGenerator(&fakeReports{}))

	summary, err := p.Run(context.Background(), StageLoad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")

	// The summary is still finalized and persisted on a fatal error.
	assert.Equal(t, StatusFailed, summary.Status)
	require.Equal(t, 1, summary.ErrorsCount)
	assert.Contains(t, summary.Errors[0], "pipeline failed:")

	persisted := readSummaryFile(t, cfg.Directories.Output)
	assert.Equal(t, StatusFailed, persisted.Status)
}

func TestRunReportFailureIsolated(t *testing.T) {
	cfg := testConfig(t)

	out := stage.NewOutputStore(cfg.Directories.Output)
	require.NoError(t, os.MkdirAll(cfg.Directories.Output, 0o755))
	require.NoError(t, out.Save("sales", makeDataset("sales", 3)))

	p := New(cfg, zap.NewNop(),
		WithExtractors(&fakeExtractors{extractor: &fakeExtractor{}}),
		WithReportGenerator(&fakeReports{err: fmt.Errorf("disk full")}))

	summary, err := p.Run(context.Background(), StageLoad)
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, summary.Status)
	require.Equal(t, 1, summary.ErrorsCount)
	assert.Contains(t, summary.Errors[0], "failed to generate reports")
}

func TestRunCleansTempDirectory(t *testing.T) {
	cfg := testConfig(t)

	require.NoError(t, os.MkdirAll(cfg.Directories.Temp, 0o755))
	leftover := filepath.Join(cfg.Directories.Temp, "chunk-0001.tmp")
	require.NoError(t, os.WriteFile(leftover, []byte("x"), 0o644))

	p := New(cfg, zap.NewNop(),
		WithExtractors(&fakeExtractors{extractor: &fakeExtractor{}}),
		WithReportGenerator(&fakeReports{}))

	_, err := p.Run(context.Background(), StageLoad)
	require.NoError(t, err)

	_, statErr := os.Stat(leftover)
	assert.True(t, os.IsNotExist(statErr))
}

func TestParseStage(t *testing.T) {
	for _, valid := range []string{"", "extract", "transform", "load"} {
		s, err := ParseStage(valid)
		require.NoError(t, err)
		assert.Equal(t, StageName(valid), s)
	}

	_, err := ParseStage("reload")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown stage")
}

func TestResolveDatasetName(t *testing.T) {
	assert.Equal(t, "sales", resolveDatasetName("fact_sales"))
	assert.Equal(t, "customer", resolveDatasetName("dim_customer"))
	assert.Equal(t, "orders", resolveDatasetName("orders"))
}
