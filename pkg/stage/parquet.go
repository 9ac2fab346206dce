package stage

import (
	"context"
	"os"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"

	"github.com/tidemill-io/tidemill/pkg/errors"
	"github.com/tidemill-io/tidemill/pkg/table"
)

// writeParquet encodes a dataset into a Parquet file at path, overwriting
// any existing artifact.
func writeParquet(path string, ds *table.Dataset) error {
	if ds.NumFields() == 0 {
		return errors.New(errors.ErrorTypeData, "dataset has no columns")
	}

	schema, err := toArrowSchema(ds)
	if err != nil {
		return err
	}

	f, err := os.Create(path) //nolint:gosec // G304: path derives from configured directories
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to create artifact")
	}
	defer f.Close()

	props := parquet.NewWriterProperties(
		parquet.WithCompression(compress.Codecs.Snappy),
	)
	writer, err := pqarrow.NewFileWriter(schema, f, props, pqarrow.DefaultWriterProps())
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to create parquet writer")
	}

	mem := memory.NewGoAllocator()
	builder := array.NewRecordBuilder(mem, schema)
	defer builder.Release()

	for _, row := range ds.Rows {
		for i, field := range ds.Fields {
			if err := appendValue(builder.Field(i), field.Type, row[i]); err != nil {
				_ = writer.Close()
				return errors.Wrapf(err, errors.ErrorTypeData, "column %s", field.Name)
			}
		}
	}

	rec := builder.NewRecord()
	defer rec.Release()

	if err := writer.Write(rec); err != nil {
		_ = writer.Close()
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to write parquet record")
	}
	if err := writer.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to close parquet writer")
	}
	return nil
}

// readParquet decodes a Parquet artifact into a dataset named name.
func readParquet(ctx context.Context, path, name string) (*table.Dataset, error) {
	f, err := os.Open(path) //nolint:gosec // G304: path comes from the store's own enumeration
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to open artifact")
	}
	defer f.Close()

	reader, err := file.NewParquetReader(f)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to read parquet file")
	}
	defer reader.Close()

	arrowReader, err := pqarrow.NewFileReader(reader, pqarrow.ArrowReadProperties{BatchSize: 4096}, memory.DefaultAllocator)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to create arrow reader")
	}

	tbl, err := arrowReader.ReadTable(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to read parquet table")
	}
	defer tbl.Release()

	fields := make([]table.Field, tbl.NumCols())
	for i := 0; i < int(tbl.NumCols()); i++ {
		af := tbl.Schema().Field(i)
		ft, err := fromArrowType(af.Type)
		if err != nil {
			return nil, err
		}
		fields[i] = table.Field{Name: af.Name, Type: ft, Nullable: af.Nullable}
	}

	ds := table.New(name, fields)

	columns := make([][]interface{}, tbl.NumCols())
	for i := 0; i < int(tbl.NumCols()); i++ {
		col := tbl.Column(i)
		values := make([]interface{}, 0, tbl.NumRows())
		for _, chunk := range col.Data().Chunks() {
			chunkValues, err := arrayValues(chunk)
			if err != nil {
				return nil, errors.Wrapf(err, errors.ErrorTypeData, "column %s", fields[i].Name)
			}
			values = append(values, chunkValues...)
		}
		columns[i] = values
	}

	for r := 0; r < int(tbl.NumRows()); r++ {
		row := make([]interface{}, len(fields))
		for c := range fields {
			row[c] = columns[c][r]
		}
		ds.Rows = append(ds.Rows, row)
	}

	return ds, nil
}

func toArrowSchema(ds *table.Dataset) (*arrow.Schema, error) {
	fields := make([]arrow.Field, len(ds.Fields))
	for i, f := range ds.Fields {
		var dt arrow.DataType
		switch f.Type {
		case table.FieldTypeString:
			dt = arrow.BinaryTypes.String
		case table.FieldTypeInt:
			dt = arrow.PrimitiveTypes.Int64
		case table.FieldTypeFloat:
			dt = arrow.PrimitiveTypes.Float64
		case table.FieldTypeBool:
			dt = arrow.FixedWidthTypes.Boolean
		case table.FieldTypeTimestamp:
			dt = arrow.FixedWidthTypes.Timestamp_us
		default:
			return nil, errors.Newf(errors.ErrorTypeData, "unsupported field type %q", f.Type)
		}
		fields[i] = arrow.Field{Name: f.Name, Type: dt, Nullable: true}
	}
	return arrow.NewSchema(fields, nil), nil
}

func fromArrowType(dt arrow.DataType) (table.FieldType, error) {
	switch dt.ID() {
	case arrow.STRING:
		return table.FieldTypeString, nil
	case arrow.INT64:
		return table.FieldTypeInt, nil
	case arrow.FLOAT64:
		return table.FieldTypeFloat, nil
	case arrow.BOOL:
		return table.FieldTypeBool, nil
	case arrow.TIMESTAMP:
		return table.FieldTypeTimestamp, nil
	}
	return "", errors.Newf(errors.ErrorTypeData, "unsupported arrow type %s", dt.Name())
}

func appendValue(b array.Builder, ft table.FieldType, v interface{}) error {
	if v == nil {
		b.AppendNull()
		return nil
	}
	switch builder := b.(type) {
	case *array.StringBuilder:
		s, ok := v.(string)
		if !ok {
			return errors.Newf(errors.ErrorTypeData, "expected string, got %T", v)
		}
		builder.Append(s)
	case *array.Int64Builder:
		switch n := v.(type) {
		case int64:
			builder.Append(n)
		case int:
			builder.Append(int64(n))
		case int32:
			builder.Append(int64(n))
		default:
			return errors.Newf(errors.ErrorTypeData, "expected int, got %T", v)
		}
	case *array.Float64Builder:
		switch n := v.(type) {
		case float64:
			builder.Append(n)
		case float32:
			builder.Append(float64(n))
		default:
			return errors.Newf(errors.ErrorTypeData, "expected float, got %T", v)
		}
	case *array.BooleanBuilder:
		bv, ok := v.(bool)
		if !ok {
			return errors.Newf(errors.ErrorTypeData, "expected bool, got %T", v)
		}
		builder.Append(bv)
	case *array.TimestampBuilder:
		t, ok := v.(time.Time)
		if !ok {
			return errors.Newf(errors.ErrorTypeData, "expected timestamp, got %T", v)
		}
		builder.Append(arrow.Timestamp(t.UnixMicro()))
	default:
		return errors.Newf(errors.ErrorTypeData, "unsupported builder for field type %q", ft)
	}
	return nil
}

func arrayValues(arr arrow.Array) ([]interface{}, error) {
	values := make([]interface{}, arr.Len())
	switch typed := arr.(type) {
	case *array.String:
		for i := 0; i < typed.Len(); i++ {
			if typed.IsNull(i) {
				continue
			}
			values[i] = typed.Value(i)
		}
	case *array.Int64:
		for i := 0; i < typed.Len(); i++ {
			if typed.IsNull(i) {
				continue
			}
			values[i] = typed.Value(i)
		}
	case *array.Float64:
		for i := 0; i < typed.Len(); i++ {
			if typed.IsNull(i) {
				continue
			}
			values[i] = typed.Value(i)
		}
	case *array.Boolean:
		for i := 0; i < typed.Len(); i++ {
			if typed.IsNull(i) {
				continue
			}
			values[i] = typed.Value(i)
		}
	case *array.Timestamp:
		tsType, ok := typed.DataType().(*arrow.TimestampType)
		if !ok {
			return nil, errors.New(errors.ErrorTypeData, "timestamp array without timestamp type")
		}
		for i := 0; i < typed.Len(); i++ {
			if typed.IsNull(i) {
				continue
			}
			values[i] = typed.Value(i).ToTime(tsType.Unit).UTC()
		}
	default:
		return nil, errors.Newf(errors.ErrorTypeData, "unsupported arrow array %T", arr)
	}
	return values, nil
}
