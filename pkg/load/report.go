package load

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/tidemill-io/tidemill/pkg/errors"
	"github.com/tidemill-io/tidemill/pkg/logger"
	"github.com/tidemill-io/tidemill/pkg/table"
)

// ReportFileName is the workbook written to the output directory.
const ReportFileName = "pipeline_report.xlsx"

// Excel caps sheet names at 31 characters.
const maxSheetNameLen = 31

// ReportWriter renders one workbook with one sheet per transformed
// dataset. Report generation is a single pipeline item: any failure here
// surfaces as one error at the call site, not per sheet.
type ReportWriter struct {
	outputDir string
	log       *zap.Logger
}

// NewReportWriter creates a report writer targeting the output directory.
func NewReportWriter(outputDir string) *ReportWriter {
	return &ReportWriter{
		outputDir: outputDir,
		log:       logger.With(zap.String("component", "report_writer")),
	}
}

// ReportPath returns the workbook path.
func (w *ReportWriter) ReportPath() string {
	return filepath.Join(w.outputDir, ReportFileName)
}

// GenerateReports writes the workbook. Sheets appear in sorted dataset
// order so repeated runs produce identical layouts.
func (w *ReportWriter) GenerateReports(datasets map[string]*table.Dataset) error {
	if len(datasets) == 0 {
		return errors.New(errors.ErrorTypeData, "no datasets to report")
	}

	names := make([]string, 0, len(datasets))
	for name := range datasets {
		names = append(names, name)
	}
	sort.Strings(names)

	f := excelize.NewFile()
	defer f.Close()

	used := make(map[string]bool, len(names))
	for _, name := range names {
		if err := writeSheet(f, sheetName(name, used), datasets[name]); err != nil {
			return err
		}
	}

	// Drop the workbook's default sheet, which nothing was written to.
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to remove default sheet")
	}

	path := w.ReportPath()
	if err := f.SaveAs(path); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to save workbook")
	}

	w.log.Info("generated report",
		zap.String("path", path),
		zap.Int("sheets", len(names)))
	return nil
}

// sheetName fits a dataset name into the sheet-name limit. Names that
// collide after truncation get a numeric suffix so no sheet is silently
// reused and overwritten.
func sheetName(name string, used map[string]bool) string {
	sheet := name
	if len(sheet) > maxSheetNameLen {
		sheet = sheet[:maxSheetNameLen]
	}
	for n := 2; used[sheet]; n++ {
		suffix := fmt.Sprintf("~%d", n)
		base := name
		if len(base) > maxSheetNameLen-len(suffix) {
			base = base[:maxSheetNameLen-len(suffix)]
		}
		sheet = base + suffix
	}
	used[sheet] = true
	return sheet
}

func writeSheet(f *excelize.File, sheet string, ds *table.Dataset) error {
	if _, err := f.NewSheet(sheet); err != nil {
		return errors.Wrapf(err, errors.ErrorTypeFile, "failed to create sheet %s", sheet)
	}

	header := make([]interface{}, ds.NumFields())
	for i, field := range ds.Fields {
		header[i] = field.Name
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return errors.Wrapf(err, errors.ErrorTypeFile, "failed to write header for %s", sheet)
	}

	for r, row := range ds.Rows {
		cell, err := excelize.CoordinatesToCellName(1, r+2)
		if err != nil {
			return errors.Wrapf(err, errors.ErrorTypeFile, "bad cell coordinates for %s", sheet)
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return errors.Wrapf(err, errors.ErrorTypeFile, "failed to write row for %s", sheet)
		}
	}
	return nil
}
