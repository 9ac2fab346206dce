package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	t.Setenv("TIDEMILL_TEST_DB_PASSWORD", "s3cret")

	path := writeConfig(t, `
environment: development
directories:
  staging: data/staging
  output: data/output
database:
  driver: postgresql
  host: localhost
  port: 5432
  user: etl
  password: ${TIDEMILL_TEST_DB_PASSWORD}
  name: warehouse
sources:
  - name: orders
    type: file
    path: data/input/orders.csv
  - name: customers
    type: postgresql
    connection: postgres://localhost/app
    query: SELECT * FROM customers
pipeline:
  stages:
    transform:
      sql_queries:
        - sql/sales_summary.sql
    load:
      target_tables:
        - fact_sales
logging:
  level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "s3cret", cfg.Database.Password)
	require.Len(t, cfg.Sources, 2)
	assert.Equal(t, SourceTypeFile, cfg.Sources[0].Type)
	assert.Equal(t, SourceTypePostgres, cfg.Sources[1].Type)
	assert.Equal(t, []string{"sql/sales_summary.sql"}, cfg.Pipeline.Stages.Transform.SQLQueries)
	assert.Equal(t, []string{"fact_sales"}, cfg.Pipeline.Stages.Load.TargetTables)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadUnresolvedPlaceholderPassesThrough(t *testing.T) {
	path := writeConfig(t, `
database:
  password: ${TIDEMILL_TEST_UNSET_VAR}
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "${TIDEMILL_TEST_UNSET_VAR}", cfg.Database.Password)
}

func TestLoadRejectsUnknownSourceType(t *testing.T) {
	path := writeConfig(t, `
sources:
  - name: events
    type: kafka
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported source type")
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "environment: production\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "data/staging", cfg.Directories.Staging)
	assert.Equal(t, "data/output", cfg.Directories.Output)
	assert.Equal(t, "data/temp", cfg.Directories.Temp)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestGetDotPath(t *testing.T) {
	path := writeConfig(t, `
pipeline:
  stages:
    transform:
      batch: 100
logging:
  level: warn
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	tests := []struct {
		name string
		key  string
		def  interface{}
		want interface{}
	}{
		{"nested hit", "pipeline.stages.transform.batch", 0, 100},
		{"top level hit", "logging.level", "info", "warn"},
		{"missing leaf", "logging.file", "none", "none"},
		{"missing branch", "metrics.enabled", true, true},
		{"scalar traversed as map", "logging.level.deeper", "x", "x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cfg.Get(tt.key, tt.def))
		})
	}
}

func TestDatabaseDSN(t *testing.T) {
	db := Database{
		Host:     "db.internal",
		Port:     5432,
		User:     "etl",
		Password: "pw",
		Name:     "warehouse",
	}
	assert.Equal(t, "postgres://etl:pw@db.internal:5432/warehouse?sslmode=disable", db.DSN())
}
