// Package table provides the in-memory tabular dataset model shared by
// extractors, transformers, stores and loaders. A Dataset is an ordered
// sequence of rows under a fixed column schema; it is replaced wholesale
// between stages, never mutated in place.
package table

import (
	"fmt"
	"time"
)

// FieldType represents the data type of a column
type FieldType string

const (
	FieldTypeString    FieldType = "string"
	FieldTypeInt       FieldType = "int"
	FieldTypeFloat     FieldType = "float"
	FieldTypeBool      FieldType = "bool"
	FieldTypeTimestamp FieldType = "timestamp"
)

// Field represents a column in the dataset schema
type Field struct {
	Name     string
	Type     FieldType
	Nullable bool
}

// Dataset is an in-memory table: a column schema plus ordered rows.
// Row values are nil, string, int64, float64, bool or time.Time, matching
// the field type. Cells may be nil regardless of Nullable; Nullable is a
// schema annotation, not an enforcement point.
type Dataset struct {
	Name   string
	Fields []Field
	Rows   [][]interface{}
}

// New creates an empty dataset with the given name and schema.
func New(name string, fields []Field) *Dataset {
	return &Dataset{
		Name:   name,
		Fields: fields,
		Rows:   make([][]interface{}, 0),
	}
}

// NumRows returns the number of rows.
func (d *Dataset) NumRows() int {
	if d == nil {
		return 0
	}
	return len(d.Rows)
}

// NumFields returns the number of columns.
func (d *Dataset) NumFields() int {
	if d == nil {
		return 0
	}
	return len(d.Fields)
}

// ColumnNames returns the column names in schema order.
func (d *Dataset) ColumnNames() []string {
	names := make([]string, len(d.Fields))
	for i, f := range d.Fields {
		names[i] = f.Name
	}
	return names
}

// ColumnIndex returns the index of the named column, or -1.
func (d *Dataset) ColumnIndex(name string) int {
	for i, f := range d.Fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// AppendRow appends one row. The row length must match the schema.
func (d *Dataset) AppendRow(row []interface{}) error {
	if len(row) != len(d.Fields) {
		return fmt.Errorf("row length %d does not match schema length %d", len(row), len(d.Fields))
	}
	d.Rows = append(d.Rows, row)
	return nil
}

// Equal reports whether two datasets carry the same schema and rows.
// Dataset names are not compared; a dataset keeps its identity through
// its logical name within a stage, not its payload.
func (d *Dataset) Equal(other *Dataset) bool {
	if d == nil || other == nil {
		return d == other
	}
	if len(d.Fields) != len(other.Fields) || len(d.Rows) != len(other.Rows) {
		return false
	}
	for i := range d.Fields {
		if d.Fields[i].Name != other.Fields[i].Name || d.Fields[i].Type != other.Fields[i].Type {
			return false
		}
	}
	for i := range d.Rows {
		for j := range d.Rows[i] {
			if !cellEqual(d.Rows[i][j], other.Rows[i][j]) {
				return false
			}
		}
	}
	return true
}

func cellEqual(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if at, ok := a.(time.Time); ok {
		bt, ok := b.(time.Time)
		return ok && at.Equal(bt)
	}
	return a == b
}

// InferType reports the narrowest FieldType covering a Go value.
func InferType(v interface{}) FieldType {
	switch v.(type) {
	case int, int32, int64:
		return FieldTypeInt
	case float32, float64:
		return FieldTypeFloat
	case bool:
		return FieldTypeBool
	case time.Time:
		return FieldTypeTimestamp
	default:
		return FieldTypeString
	}
}
