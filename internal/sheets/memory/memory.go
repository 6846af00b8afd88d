package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"pairxpenses/internal/sheets"
)

// Exporter keeps exported rows in memory. It stands in for Google Sheets
// when no spreadsheet is configured.
type Exporter struct {
	mu     sync.Mutex
	rows   []sheets.ReportRow
	resets []time.Time
	seen   map[string]string
}

var _ sheets.ReportExporter = (*Exporter)(nil)

func New() *Exporter {
	return &Exporter{seen: map[string]string{}}
}

// ExportReport is idempotent per row id, so redelivered messages do not duplicate rows.
func (e *Exporter) ExportReport(_ context.Context, r sheets.ReportRow) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ref, ok := e.seen[r.ID]; ok && r.ID != "" {
		return ref, nil
	}
	e.rows = append(e.rows, r)
	ref := fmt.Sprintf("mem:%d", len(e.rows))
	if r.ID != "" {
		e.seen[r.ID] = ref
	}
	return ref, nil
}

func (e *Exporter) ExportReset(_ context.Context, _ string, at time.Time) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resets = append(e.resets, at)
	return fmt.Sprintf("mem:reset:%d", len(e.resets)), nil
}

// Rows returns a copy of the exported reports.
func (e *Exporter) Rows() []sheets.ReportRow {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]sheets.ReportRow(nil), e.rows...)
}

func (e *Exporter) Resets() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.resets)
}
