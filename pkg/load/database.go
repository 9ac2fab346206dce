// Package load provides the load stage: writing transformed datasets into
// the target relational store and rendering the workbook report.
package load

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/tidemill-io/tidemill/pkg/errors"
	"github.com/tidemill-io/tidemill/pkg/logger"
	"github.com/tidemill-io/tidemill/pkg/table"
)

// DatabaseLoader replaces target table contents from transformed datasets
// using COPY. Each LoadTable call is one transaction: create the table if
// absent, truncate, bulk-insert. Failures raise to the per-item loop.
type DatabaseLoader struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

// NewDatabaseLoader connects to the target database.
func NewDatabaseLoader(ctx context.Context, dsn string) (*DatabaseLoader, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to create connection pool")
	}
	return &DatabaseLoader{
		pool: pool,
		log:  logger.With(zap.String("component", "database_loader")),
	}, nil
}

// LoadTable replaces the named table's contents with the dataset's rows.
func (l *DatabaseLoader) LoadTable(ctx context.Context, tableName string, ds *table.Dataset) error {
	if ds.NumFields() == 0 {
		return errors.Newf(errors.ErrorTypeData, "dataset for table %s has no columns", tableName)
	}

	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return errors.Wrapf(err, errors.ErrorTypeConnection, "failed to begin transaction for %s", tableName)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ident := pgx.Identifier{tableName}
	if _, err := tx.Exec(ctx, createTableDDL(tableName, ds)); err != nil {
		return errors.Wrapf(err, errors.ErrorTypeQuery, "failed to create table %s", tableName)
	}
	if _, err := tx.Exec(ctx, "TRUNCATE TABLE "+ident.Sanitize()); err != nil {
		return errors.Wrapf(err, errors.ErrorTypeQuery, "failed to truncate table %s", tableName)
	}

	copied, err := tx.CopyFrom(ctx, ident, ds.ColumnNames(), pgx.CopyFromRows(ds.Rows))
	if err != nil {
		return errors.Wrapf(err, errors.ErrorTypeQuery, "failed to copy rows into %s", tableName)
	}
	if err := tx.Commit(ctx); err != nil {
		return errors.Wrapf(err, errors.ErrorTypeQuery, "failed to commit load of %s", tableName)
	}

	l.log.Info("loaded table",
		zap.String("table", tableName),
		zap.Int64("rows", copied))
	return nil
}

// Close releases the connection pool.
func (l *DatabaseLoader) Close() {
	l.pool.Close()
}

func createTableDDL(tableName string, ds *table.Dataset) string {
	cols := make([]string, len(ds.Fields))
	for i, f := range ds.Fields {
		cols[i] = fmt.Sprintf("%s %s", pgx.Identifier{f.Name}.Sanitize(), postgresType(f.Type))
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)",
		pgx.Identifier{tableName}.Sanitize(), strings.Join(cols, ", "))
}

func postgresType(ft table.FieldType) string {
	switch ft {
	case table.FieldTypeInt:
		return "BIGINT"
	case table.FieldTypeFloat:
		return "DOUBLE PRECISION"
	case table.FieldTypeBool:
		return "BOOLEAN"
	case table.FieldTypeTimestamp:
		return "TIMESTAMPTZ"
	default:
		return "TEXT"
	}
}
