package quality

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"intrabar/internal/domain"
	"intrabar/internal/store"
)

// maxEvidence caps the spans and flags listed per report row.
const maxEvidence = 20

// ReportRecord is the flat per-symbol row written to CSV and Parquet.
type ReportRecord struct {
	RunID              string `parquet:"run_id"`
	Symbol             string `parquet:"symbol"`
	Status             string `parquet:"status"`
	State              string `parquet:"state"`
	GapCount           int64  `parquet:"gap_count"`
	IncompleteDays     int64  `parquet:"incomplete_days"`
	InconsistencyCount int64  `parquet:"inconsistency_count"`
	MissingBars        int64  `parquet:"missing_bars"`
	Evidence           string `parquet:"evidence"`
	Error              string `parquet:"error"`
}

var reportHeader = []string{
	"run_id", "symbol", "status", "state", "gap_count", "incomplete_days",
	"inconsistency_count", "missing_bars", "evidence", "error",
}

// Records flattens reports into rows sorted by symbol.
func Records(runID string, reports []domain.SymbolQualityReport) []ReportRecord {
	out := make([]ReportRecord, 0, len(reports))
	for _, r := range reports {
		missing := 0
		for _, s := range r.Spans {
			missing += s.Missing
		}
		out = append(out, ReportRecord{
			RunID:              runID,
			Symbol:             r.Symbol,
			Status:             string(r.Status),
			State:              string(r.State),
			GapCount:           int64(r.GapCount),
			IncompleteDays:     int64(r.IncompleteDays),
			InconsistencyCount: int64(r.InconsistencyCount),
			MissingBars:        int64(missing),
			Evidence:           Evidence(r),
			Error:              r.Error,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Evidence renders the spans and flags of r as one field.
func Evidence(r domain.SymbolQualityReport) string {
	items := make([]string, 0, min(len(r.Spans)+len(r.Flags), maxEvidence))
	for _, s := range r.Spans {
		items = append(items, fmt.Sprintf("gap[%s..%s]#%d",
			s.Start.Format("2006-01-02T15:04Z07:00"), s.End.Format("2006-01-02T15:04Z07:00"), s.Missing))
	}
	for _, f := range r.Flags {
		items = append(items, fmt.Sprintf("%s@%s(%s)", f.Kind, f.Date.Format("2006-01-02"), f.Detail))
	}
	if extra := len(items) - maxEvidence; extra > 0 {
		items = append(items[:maxEvidence], fmt.Sprintf("+%d more", extra))
	}
	return strings.Join(items, "; ")
}

// WriteCSV writes the quality report as CSV with a header row.
func WriteCSV(path, runID string, reports []domain.SymbolQualityReport) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating report %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(reportHeader); err != nil {
		return err
	}
	for _, r := range Records(runID, reports) {
		row := []string{
			r.RunID, r.Symbol, r.Status, r.State,
			strconv.FormatInt(r.GapCount, 10),
			strconv.FormatInt(r.IncompleteDays, 10),
			strconv.FormatInt(r.InconsistencyCount, 10),
			strconv.FormatInt(r.MissingBars, 10),
			r.Evidence, r.Error,
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return f.Close()
}

// WriteParquet writes the quality report as a Parquet file.
func WriteParquet(path, runID string, reports []domain.SymbolQualityReport) error {
	return store.WriteParquetFile(path, Records(runID, reports))
}

// Usable returns the symbols whose status is ok or recoverable.
func Usable(reports []domain.SymbolQualityReport) []string {
	var out []string
	for _, r := range reports {
		if r.Status == domain.StatusOK || r.Status == domain.StatusRecoverable {
			out = append(out, r.Symbol)
		}
	}
	sort.Strings(out)
	return out
}
