package sheets

import (
	"context"
	"time"
)

// ReportRow is one settlement as written to the report sheet.
type ReportRow struct {
	ID          string
	GeneratedAt time.Time
	PercentageA int
	NameA       string
	NameB       string
	// Payer is "A", "B" or empty.
	Payer   string
	Amount  int64
	Summary string
	Lines   [5]string
}

// ReportExporter appends settlements and period boundaries to an external sheet.
type ReportExporter interface {
	ExportReport(ctx context.Context, r ReportRow) (rowRef string, err error)
	ExportReset(ctx context.Context, id string, at time.Time) (rowRef string, err error)
}

// Values renders r as a sheet row: date, id, split, names, payer, amount, summary, lines.
func (r ReportRow) Values() []any {
	payer := r.Payer
	if payer == "" {
		payer = "-"
	}
	row := []any{
		r.GeneratedAt.UTC().Format("2006-01-02 15:04"),
		r.ID,
		r.PercentageA,
		r.NameA,
		r.NameB,
		payer,
		r.Amount,
		r.Summary,
	}
	for _, l := range r.Lines {
		row = append(row, l)
	}
	return row
}
