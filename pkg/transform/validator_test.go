package transform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidemill-io/tidemill/pkg/config"
	"github.com/tidemill-io/tidemill/pkg/table"
)

func validDataset() *table.Dataset {
	ds := table.New("sales", []table.Field{
		{Name: "day", Type: table.FieldTypeString},
		{Name: "total", Type: table.FieldTypeFloat},
	})
	ds.Rows = [][]interface{}{
		{"2024-05-20", 120.5},
		{"2024-05-21", 80.0},
	}
	return ds
}

func TestValidatePasses(t *testing.T) {
	v := NewValidator(config.Validation{
		RequiredColumns: map[string][]string{"sales": {"day", "total"}},
		NonNullColumns:  map[string][]string{"sales": {"day"}},
		MinRows:         1,
	})

	result := v.Validate(validDataset())
	assert.True(t, result.IsValid)
	assert.Empty(t, result.Errors)
}

func TestValidateMissingRequiredColumn(t *testing.T) {
	v := NewValidator(config.Validation{
		RequiredColumns: map[string][]string{"sales": {"region"}},
	})

	result := v.Validate(validDataset())
	assert.False(t, result.IsValid)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "region")
}

func TestValidateNullValues(t *testing.T) {
	ds := validDataset()
	ds.Rows[1][0] = nil

	v := NewValidator(config.Validation{
		NonNullColumns: map[string][]string{"sales": {"day"}},
	})

	result := v.Validate(ds)
	assert.False(t, result.IsValid)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "null value")
}

func TestValidateRowBounds(t *testing.T) {
	tests := []struct {
		name  string
		rules config.Validation
		valid bool
	}{
		{"within bounds", config.Validation{MinRows: 1, MaxRows: 5}, true},
		{"below minimum", config.Validation{MinRows: 3}, false},
		{"above maximum", config.Validation{MaxRows: 1}, false},
		{"unset bounds", config.Validation{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := NewValidator(tt.rules).Validate(validDataset())
			assert.Equal(t, tt.valid, result.IsValid)
		})
	}
}

func TestValidateRulesForOtherDatasetIgnored(t *testing.T) {
	v := NewValidator(config.Validation{
		RequiredColumns: map[string][]string{"inventory": {"sku"}},
	})
	result := v.Validate(validDataset())
	assert.True(t, result.IsValid)
}

func TestValidateNeverMutates(t *testing.T) {
	ds := validDataset()
	v := NewValidator(config.Validation{NonNullColumns: map[string][]string{"sales": {"day", "total"}}})
	_ = v.Validate(ds)
	assert.Equal(t, 2, ds.NumRows())
	assert.Equal(t, "2024-05-20", ds.Rows[0][0])
}
