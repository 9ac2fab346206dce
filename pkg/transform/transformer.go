// Package transform provides the transform stage: named SQL query files
// executed against the staged datasets, plus an advisory validator
// applying structural rules from configuration.
package transform

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	// In-memory SQL engine backing the transformations.
	_ "modernc.org/sqlite"

	"github.com/tidemill-io/tidemill/pkg/errors"
	"github.com/tidemill-io/tidemill/pkg/logger"
	"github.com/tidemill-io/tidemill/pkg/table"
)

// SQLTransformer executes SQL query files over staged datasets. Each call
// seeds a fresh in-memory SQLite database with one table per staged
// dataset, runs the file's query, and returns the result as a dataset
// named after the file (basename minus extension).
type SQLTransformer struct {
	log *zap.Logger
}

// NewSQLTransformer creates a SQL transformer.
func NewSQLTransformer() *SQLTransformer {
	return &SQLTransformer{
		log: logger.With(zap.String("component", "sql_transformer")),
	}
}

// ResultName derives the logical result name from a query file path.
func ResultName(queryPath string) string {
	base := filepath.Base(queryPath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Execute runs one query file against the staged datasets. A bad query or
// a reference to a dataset that was never staged is reported as an error
// to the caller; it never aborts anything beyond this one item.
func (t *SQLTransformer) Execute(ctx context.Context, queryPath string, staged map[string]*table.Dataset) (*table.Dataset, error) {
	query, err := os.ReadFile(queryPath) //nolint:gosec // G304: path comes from config
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeFile, "failed to read query file %s", queryPath)
	}

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to open in-memory database")
	}
	defer db.Close()

	for name, ds := range staged {
		if err := seedTable(ctx, db, name, ds); err != nil {
			return nil, err
		}
	}

	name := ResultName(queryPath)
	rows, err := db.QueryContext(ctx, string(query))
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeQuery, "transformation %s failed", name)
	}
	defer rows.Close()

	result, err := table.ScanRows(rows, name)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeQuery, "transformation %s failed", name)
	}

	t.log.Info("executed transformation",
		zap.String("name", name),
		zap.Int("rows", result.NumRows()))
	return result, nil
}

// seedTable creates and fills one SQLite table from a dataset. Booleans
// are stored as integers and timestamps as RFC 3339 text; SQLite has no
// native types for either.
func seedTable(ctx context.Context, db *sql.DB, name string, ds *table.Dataset) error {
	if ds.NumFields() == 0 {
		return nil
	}

	colDefs := make([]string, len(ds.Fields))
	for i, f := range ds.Fields {
		colDefs[i] = fmt.Sprintf("%s %s", quoteIdent(f.Name), sqliteType(f.Type))
	}
	ddl := fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(name), strings.Join(colDefs, ", "))
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return errors.Wrapf(err, errors.ErrorTypeQuery, "failed to create staging table %s", name)
	}

	if ds.NumRows() == 0 {
		return nil
	}

	placeholders := make([]string, len(ds.Fields))
	for i := range placeholders {
		placeholders[i] = "?"
	}
	insert := fmt.Sprintf("INSERT INTO %s VALUES (%s)", quoteIdent(name), strings.Join(placeholders, ", "))

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrapf(err, errors.ErrorTypeQuery, "failed to begin seeding %s", name)
	}
	stmt, err := tx.PrepareContext(ctx, insert)
	if err != nil {
		_ = tx.Rollback()
		return errors.Wrapf(err, errors.ErrorTypeQuery, "failed to prepare insert for %s", name)
	}
	defer stmt.Close()

	for _, row := range ds.Rows {
		args := make([]interface{}, len(row))
		for i, v := range row {
			args[i] = sqliteValue(v)
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			_ = tx.Rollback()
			return errors.Wrapf(err, errors.ErrorTypeQuery, "failed to seed table %s", name)
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrapf(err, errors.ErrorTypeQuery, "failed to commit seeding %s", name)
	}
	return nil
}

func sqliteType(ft table.FieldType) string {
	switch ft {
	case table.FieldTypeInt, table.FieldTypeBool:
		return "INTEGER"
	case table.FieldTypeFloat:
		return "REAL"
	default:
		return "TEXT"
	}
}

func sqliteValue(v interface{}) interface{} {
	switch x := v.(type) {
	case bool:
		if x {
			return int64(1)
		}
		return int64(0)
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	default:
		return x
	}
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
