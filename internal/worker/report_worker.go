package worker

import (
	"context"
	"fmt"

	"pairxpenses/internal/amqp"
	"pairxpenses/internal/log"
	"pairxpenses/internal/metrics"
	"pairxpenses/internal/sheets"
)

// ReportWorker copies ledger events into the report sheet.
type ReportWorker struct {
	exporter sheets.ReportExporter
	metrics  *metrics.Metrics
	logger   *log.Logger
}

var _ amqp.Handler = (*ReportWorker)(nil)

func NewReportWorker(exporter sheets.ReportExporter, m *metrics.Metrics, logger *log.Logger) *ReportWorker {
	if logger == nil {
		logger = log.Nop()
	}
	return &ReportWorker{
		exporter: exporter,
		metrics:  m,
		logger:   logger.WithComponent(log.ComponentWorker),
	}
}

// HandleReportGenerated appends the report row. An error requeues the message.
func (w *ReportWorker) HandleReportGenerated(ctx context.Context, msg *amqp.ReportGeneratedMessage) error {
	w.logger.InfoContext(ctx, "Processing report message",
		log.FieldMessageID, msg.ID,
		log.FieldPayer, msg.Payer,
		log.FieldAmount, msg.Amount)

	ref, err := w.exporter.ExportReport(ctx, RowFromMessage(msg))
	if err != nil {
		return fmt.Errorf("export report %s: %w", msg.ID, err)
	}

	w.logger.InfoContext(ctx, "Report exported", log.FieldMessageID, msg.ID, "ref", ref)
	return nil
}

// HandlePeriodReset marks the period boundary in the sheet.
func (w *ReportWorker) HandlePeriodReset(ctx context.Context, msg *amqp.PeriodResetMessage) error {
	ref, err := w.exporter.ExportReset(ctx, msg.ID, msg.Timestamp)
	if err != nil {
		return fmt.Errorf("export period reset %s: %w", msg.ID, err)
	}
	w.logger.InfoContext(ctx, "Period reset exported", log.FieldMessageID, msg.ID, "ref", ref)
	return nil
}

// ObserveOutcome records how a delivery was settled.
func (w *ReportWorker) ObserveOutcome(eventType string, outcome amqp.Outcome) {
	w.metrics.EventConsumed(eventType, outcome.String())
}

func RowFromMessage(msg *amqp.ReportGeneratedMessage) sheets.ReportRow {
	return sheets.ReportRow{
		ID:          msg.ID,
		GeneratedAt: msg.Timestamp,
		PercentageA: msg.PercentageA,
		NameA:       msg.Names[0],
		NameB:       msg.Names[1],
		Payer:       msg.Payer,
		Amount:      msg.Amount,
		Summary:     msg.Summary,
		Lines:       msg.Lines,
	}
}
