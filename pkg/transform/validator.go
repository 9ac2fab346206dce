package transform

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/tidemill-io/tidemill/pkg/config"
	"github.com/tidemill-io/tidemill/pkg/logger"
	"github.com/tidemill-io/tidemill/pkg/table"
)

// ValidationResult reports the outcome of validating one dataset.
type ValidationResult struct {
	IsValid bool
	Errors  []string
}

// Validator checks transformed datasets against structural rules sourced
// from configuration. Validation is advisory: a failing result is recorded
// as a pipeline error but never blocks persistence of the dataset.
type Validator struct {
	rules config.Validation
	log   *zap.Logger
}

// NewValidator creates a validator over the configured rules.
func NewValidator(rules config.Validation) *Validator {
	return &Validator{
		rules: rules,
		log:   logger.With(zap.String("component", "data_validator")),
	}
}

// Validate checks required columns, non-null columns and row-count bounds.
// The dataset is never mutated.
func (v *Validator) Validate(ds *table.Dataset) ValidationResult {
	var errs []string

	for _, col := range v.rules.RequiredColumns[ds.Name] {
		if ds.ColumnIndex(col) == -1 {
			errs = append(errs, fmt.Sprintf("missing required column %q", col))
		}
	}

	for _, col := range v.rules.NonNullColumns[ds.Name] {
		idx := ds.ColumnIndex(col)
		if idx == -1 {
			errs = append(errs, fmt.Sprintf("non-null rule references missing column %q", col))
			continue
		}
		for r, row := range ds.Rows {
			if row[idx] == nil {
				errs = append(errs, fmt.Sprintf("column %q has null value at row %d", col, r))
				break
			}
		}
	}

	if v.rules.MinRows > 0 && ds.NumRows() < v.rules.MinRows {
		errs = append(errs, fmt.Sprintf("row count %d below minimum %d", ds.NumRows(), v.rules.MinRows))
	}
	if v.rules.MaxRows > 0 && ds.NumRows() > v.rules.MaxRows {
		errs = append(errs, fmt.Sprintf("row count %d above maximum %d", ds.NumRows(), v.rules.MaxRows))
	}

	result := ValidationResult{IsValid: len(errs) == 0, Errors: errs}
	if result.IsValid {
		v.log.Info("validation passed", zap.String("dataset", ds.Name))
	} else {
		v.log.Warn("validation failed",
			zap.String("dataset", ds.Name),
			zap.Strings("errors", errs))
	}
	return result
}
