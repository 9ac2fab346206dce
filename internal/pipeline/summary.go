package pipeline

import (
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"

	"github.com/tidemill-io/tidemill/pkg/errors"
)

// SummaryFileName is the run summary document written once per run.
const SummaryFileName = "pipeline_summary.json"

// Run statuses.
const (
	StatusSuccess = "SUCCESS"
	StatusFailed  = "FAILED"
)

// RunSummary is the final record of a pipeline execution. It is created
// at run start, finalized at run end, persisted exactly once and never
// mutated after write.
type RunSummary struct {
	StartTime        time.Time `json:"start_time"`
	EndTime          time.Time `json:"end_time"`
	DurationSeconds  float64   `json:"duration_seconds"`
	RecordsProcessed int64     `json:"records_processed"`
	ErrorsCount      int       `json:"errors_count"`
	Errors           []string  `json:"errors"`
	Status           string    `json:"status"`
}

// newRunSummary finalizes a summary from the run's outcome. Status derives
// purely from whether any errors accumulated.
func newRunSummary(start, end time.Time, records int64, errs []string) *RunSummary {
	status := StatusSuccess
	if len(errs) > 0 {
		status = StatusFailed
	}
	return &RunSummary{
		StartTime:        start,
		EndTime:          end,
		DurationSeconds:  end.Sub(start).Seconds(),
		RecordsProcessed: records,
		ErrorsCount:      len(errs),
		Errors:           errs,
		Status:           status,
	}
}

// write persists the summary document to the output directory.
func (s *RunSummary) write(outputDir string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to marshal run summary")
	}
	path := filepath.Join(outputDir, SummaryFileName)
	if err := os.WriteFile(path, data, 0o644); err != nil { //nolint:gosec
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to write run summary")
	}
	return nil
}
