package table

import (
	"database/sql"
	"fmt"
	"time"
)

// ScanRows drains a database/sql result set into a dataset. Column types
// start as string and are narrowed by the first non-null value observed,
// so an empty result still carries the full column schema.
func ScanRows(rows *sql.Rows, name string) (*Dataset, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}

	fields := make([]Field, len(cols))
	for i, c := range cols {
		fields[i] = Field{Name: c, Type: FieldTypeString, Nullable: true}
	}
	typed := make([]bool, len(cols))
	ds := New(name, fields)

	for rows.Next() {
		raw := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		row := make([]interface{}, len(cols))
		for i, v := range raw {
			row[i] = NormalizeSQLValue(v)
			if row[i] != nil && !typed[i] {
				ds.Fields[i].Type = InferType(row[i])
				typed[i] = true
			}
		}
		ds.Rows = append(ds.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration failed: %w", err)
	}
	return ds, nil
}

// NormalizeSQLValue maps driver values onto the dataset value domain.
func NormalizeSQLValue(v interface{}) interface{} {
	switch x := v.(type) {
	case nil:
		return nil
	case []byte:
		return string(x)
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case float32:
		return float64(x)
	case time.Time:
		return x.UTC()
	default:
		return x
	}
}
