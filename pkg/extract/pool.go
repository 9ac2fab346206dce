package extract

import (
	"database/sql"
	"sync"

	"go.uber.org/zap"

	// Database drivers for the engine pool.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/tidemill-io/tidemill/pkg/errors"
	"github.com/tidemill-io/tidemill/pkg/logger"
)

// EnginePool lazily opens database handles keyed by driver and connection
// string and reuses them across extractions within a run. Handles are
// released together via Close at shutdown. The pool is owned by the
// extractor factory; there is no ambient global state.
type EnginePool struct {
	mu      sync.Mutex
	engines map[string]*sql.DB
	log     *zap.Logger
}

// NewEnginePool creates an empty pool.
func NewEnginePool() *EnginePool {
	return &EnginePool{
		engines: make(map[string]*sql.DB),
		log:     logger.With(zap.String("component", "engine_pool")),
	}
}

// Get returns the handle for driver+dsn, opening it on first use.
func (p *EnginePool) Get(driver, dsn string) (*sql.DB, error) {
	key := driver + "|" + dsn

	p.mu.Lock()
	defer p.mu.Unlock()

	if db, ok := p.engines[key]; ok {
		return db, nil
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeConnection, "failed to open %s engine", driver)
	}
	p.engines[key] = db
	p.log.Info("created database engine", zap.String("driver", driver))
	return db, nil
}

// Close releases every pooled handle. Individual close failures are
// logged and the first one is returned.
func (p *EnginePool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for key, db := range p.engines {
		if err := db.Close(); err != nil {
			p.log.Warn("error closing database engine", zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
		delete(p.engines, key)
	}
	return firstErr
}
