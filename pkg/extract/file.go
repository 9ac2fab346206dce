package extract

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/tidemill-io/tidemill/pkg/config"
	"github.com/tidemill-io/tidemill/pkg/errors"
	"github.com/tidemill-io/tidemill/pkg/logger"
	"github.com/tidemill-io/tidemill/pkg/table"
)

// FileExtractor reads CSV or JSON files into datasets. The format comes
// from the source spec, falling back to the file extension.
type FileExtractor struct{}

// Extract reads the source file.
func (e *FileExtractor) Extract(ctx context.Context, spec config.SourceSpec) (*table.Dataset, error) {
	log := logger.With(
		zap.String("component", "file_extractor"),
		zap.String("source", spec.Name))

	if spec.Path == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "file source needs a path")
	}

	format := spec.Format
	if format == "" {
		format = strings.TrimPrefix(filepath.Ext(spec.Path), ".")
	}

	var (
		ds  *table.Dataset
		err error
	)
	switch format {
	case "csv":
		ds, err = e.extractCSV(spec)
	case "json":
		ds, err = e.extractJSON(spec)
	default:
		return nil, errors.Newf(errors.ErrorTypeConfig, "unsupported file format %q", format)
	}
	if err != nil {
		return nil, err
	}

	log.Info("extracted records", zap.String("format", format), zap.Int("rows", ds.NumRows()))
	return ds, nil
}

// extractCSV reads a header-first CSV file. Column types cover every
// non-empty cell in the column; a single cell outside the candidate type
// widens the whole column, so mixed columns land on string instead of
// failing the source downstream. Empty cells become nulls.
func (e *FileExtractor) extractCSV(spec config.SourceSpec) (*table.Dataset, error) {
	f, err := os.Open(spec.Path) //nolint:gosec // G304: path is operator-configured
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeFile, "failed to open file for source %s", spec.Name)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	records, err := reader.ReadAll()
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeFile, "failed to parse CSV for source %s", spec.Name)
	}
	if len(records) == 0 {
		return nil, errors.Newf(errors.ErrorTypeData, "CSV file for source %s has no header", spec.Name)
	}

	header := records[0]
	body := records[1:]
	fields := make([]table.Field, len(header))
	for i, name := range header {
		fields[i] = table.Field{Name: name, Type: csvColumnType(body, i), Nullable: true}
	}

	ds := table.New(spec.Name, fields)
	for _, rec := range body {
		row := make([]interface{}, len(header))
		for i := range header {
			if i >= len(rec) || rec[i] == "" {
				continue
			}
			row[i] = csvValue(rec[i], fields[i].Type)
		}
		ds.Rows = append(ds.Rows, row)
	}
	return ds, nil
}

// csvColumnType reports the narrowest type covering every non-empty cell
// in column i: int, then float, then bool, else string.
func csvColumnType(records [][]string, i int) table.FieldType {
	seen := false
	isInt, isFloat, isBool := true, true, true
	for _, rec := range records {
		if i >= len(rec) || rec[i] == "" {
			continue
		}
		seen = true
		s := rec[i]
		if _, err := strconv.ParseInt(s, 10, 64); err != nil {
			isInt = false
		}
		if _, err := strconv.ParseFloat(s, 64); err != nil {
			isFloat = false
		}
		if s != "true" && s != "false" {
			isBool = false
		}
	}
	switch {
	case !seen:
		return table.FieldTypeString
	case isInt:
		return table.FieldTypeInt
	case isFloat:
		return table.FieldTypeFloat
	case isBool:
		return table.FieldTypeBool
	default:
		return table.FieldTypeString
	}
}

func csvValue(s string, ft table.FieldType) interface{} {
	switch ft {
	case table.FieldTypeInt:
		n, _ := strconv.ParseInt(s, 10, 64)
		return n
	case table.FieldTypeFloat:
		f, _ := strconv.ParseFloat(s, 64)
		return f
	case table.FieldTypeBool:
		return s == "true"
	default:
		return s
	}
}

func (e *FileExtractor) extractJSON(spec config.SourceSpec) (*table.Dataset, error) {
	data, err := os.ReadFile(spec.Path) //nolint:gosec // G304: path is operator-configured
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeFile, "failed to read file for source %s", spec.Name)
	}

	var records []map[string]interface{}
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeData, "failed to decode JSON for source %s", spec.Name)
	}
	return objectsToDataset(spec.Name, records), nil
}
