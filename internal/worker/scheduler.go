package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"pairxpenses/internal/core"
	"pairxpenses/internal/log"
	"pairxpenses/internal/notify"
	"pairxpenses/internal/services"
)

// ReportGenerator is satisfied by *services.LedgerService.
type ReportGenerator interface {
	GenerateReport(ctx context.Context, percentageA core.Percentage) (services.GeneratedReport, error)
}

// MonthlyReport generates the settlement at a fixed split and notifies the users.
type MonthlyReport struct {
	ledger      ReportGenerator
	notifier    notify.Notifier
	percentageA core.Percentage
	logger      *log.Logger
	now         func() time.Time
}

func NewMonthlyReport(ledger ReportGenerator, notifier notify.Notifier, percentageA int, logger *log.Logger) *MonthlyReport {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &MonthlyReport{
		ledger:      ledger,
		notifier:    notifier,
		percentageA: core.Percentage(percentageA),
		logger:      logger.WithComponent(log.ComponentScheduler),
		now:         time.Now,
	}
}

// Run generates one report. Empty periods are skipped without notifying.
func (j *MonthlyReport) Run(ctx context.Context) error {
	rep, err := j.ledger.GenerateReport(ctx, j.percentageA)
	if err != nil {
		return fmt.Errorf("generate monthly report: %w", err)
	}
	if rep.Result.Empty {
		j.logger.InfoContext(ctx, "Nothing recorded this period, skipping notification")
		return nil
	}

	r := rep.Result.Report
	if err := j.notifier.NotifyReport(ctx, notify.Report{
		GeneratedAt: j.now(),
		PercentageA: int(rep.PercentageA),
		Names:       [2]string{rep.Users.A.Name, rep.Users.B.Name},
		Payer:       services.PayerLabel(r.Verdict),
		Summary:     r.Summary,
		Lines:       r.Lines,
	}); err != nil {
		return fmt.Errorf("notify monthly report: %w", err)
	}

	j.logger.InfoContext(ctx, "Monthly report delivered", "event_id", rep.EventID)
	return nil
}

// Scheduler runs the monthly report on a cron schedule.
type Scheduler struct {
	cron   *cron.Cron
	logger *log.Logger
}

// NewScheduler registers job under spec, a standard five-field cron expression.
func NewScheduler(spec string, job *MonthlyReport, logger *log.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = log.Nop()
	}
	logger = logger.WithComponent(log.ComponentScheduler)

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if err := job.Run(ctx); err != nil {
			logger.ErrorContext(ctx, "Scheduled report failed", "error", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid report schedule %q: %w", spec, err)
	}
	return &Scheduler{cron: c, logger: logger}, nil
}

// Next is the time of the next scheduled run.
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

// Run starts the schedule and blocks until ctx ends, then waits for a running job.
func (s *Scheduler) Run(ctx context.Context) error {
	s.cron.Start()
	s.logger.InfoContext(ctx, "Report scheduler started", "next_run", s.Next())

	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.logger.Info("Report scheduler stopped")
	return nil
}
