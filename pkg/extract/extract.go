// Package extract provides the extraction stage: one extractor per source
// category, pulling raw tabular data into an in-memory dataset. Extractors
// are independently failable; a failed extraction returns (nil, error) and
// the orchestrator records exactly one error entry per failed source.
//
// Source kinds form a closed set. Extractor selection is an exhaustive
// switch over config.SourceType, so adding a kind without wiring an
// extractor fails at compile time rather than at run time.
package extract

import (
	"context"

	"github.com/tidemill-io/tidemill/pkg/config"
	"github.com/tidemill-io/tidemill/pkg/errors"
	"github.com/tidemill-io/tidemill/pkg/table"
)

// Extractor pulls one source's data into a dataset.
type Extractor interface {
	Extract(ctx context.Context, spec config.SourceSpec) (*table.Dataset, error)
}

// Factory builds extractors per source kind and owns the shared database
// engine pool. Close releases every pooled handle; call it at shutdown.
type Factory struct {
	cfg  *config.Config
	pool *EnginePool
}

// NewFactory creates an extractor factory for one pipeline run.
func NewFactory(cfg *config.Config) *Factory {
	return &Factory{
		cfg:  cfg,
		pool: NewEnginePool(),
	}
}

// For returns the extractor handling the given source kind.
func (f *Factory) For(t config.SourceType) (Extractor, error) {
	switch t {
	case config.SourceTypePostgres:
		return &DatabaseExtractor{pool: f.pool, driver: "pgx"}, nil
	case config.SourceTypeMySQL:
		return &DatabaseExtractor{pool: f.pool, driver: "mysql"}, nil
	case config.SourceTypeAPI:
		return NewAPIExtractor(f.cfg.API.Timeout()), nil
	case config.SourceTypeFile:
		return &FileExtractor{}, nil
	}
	return nil, errors.Newf(errors.ErrorTypeConfig, "no extractor for source type %q", t)
}

// Close releases all pooled database handles.
func (f *Factory) Close() error {
	return f.pool.Close()
}
