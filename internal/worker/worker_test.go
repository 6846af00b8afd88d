package worker

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pairxpenses/internal/amqp"
	"pairxpenses/internal/core"
	"pairxpenses/internal/metrics"
	"pairxpenses/internal/notify"
	"pairxpenses/internal/services"
	"pairxpenses/internal/settlement"
	"pairxpenses/internal/sheets"
	sheetsmem "pairxpenses/internal/sheets/memory"
)

type failingExporter struct{}

func (failingExporter) ExportReport(context.Context, sheets.ReportRow) (string, error) {
	return "", errors.New("quota exceeded")
}

func (failingExporter) ExportReset(context.Context, string, time.Time) (string, error) {
	return "", errors.New("quota exceeded")
}

func reportMessage() *amqp.ReportGeneratedMessage {
	return amqp.NewReportGeneratedMessage(30, [2]string{"Ana", "Beto"}, "A", 320,
		"Ana owes Beto $ 320 for the month's expenses.",
		[5]string{"l1", "l2", "l3", "l4", "l5"})
}

func TestRowFromMessage(t *testing.T) {
	msg := reportMessage()
	row := RowFromMessage(msg)

	assert.Equal(t, msg.ID, row.ID)
	assert.Equal(t, "Ana", row.NameA)
	assert.Equal(t, "Beto", row.NameB)
	assert.Equal(t, "A", row.Payer)
	assert.Equal(t, int64(320), row.Amount)
	assert.Equal(t, msg.Lines, row.Lines)
	assert.Equal(t, msg.Timestamp, row.GeneratedAt)
}

func TestReportWorkerExports(t *testing.T) {
	exp := sheetsmem.New()
	w := NewReportWorker(exp, nil, nil)
	ctx := context.Background()

	msg := reportMessage()
	body, err := msg.ToJSON()
	require.NoError(t, err)
	assert.Equal(t, amqp.OutcomeAck, amqp.Dispatch(ctx, w, amqp.EventReportGenerated, body, nil))

	// redelivery of the same message does not duplicate the row
	assert.Equal(t, amqp.OutcomeAck, amqp.Dispatch(ctx, w, amqp.EventReportGenerated, body, nil))
	require.Len(t, exp.Rows(), 1)
	assert.Equal(t, msg.ID, exp.Rows()[0].ID)

	reset, err := amqp.NewPeriodResetMessage().ToJSON()
	require.NoError(t, err)
	assert.Equal(t, amqp.OutcomeAck, amqp.Dispatch(ctx, w, amqp.EventPeriodReset, reset, nil))
	assert.Equal(t, 1, exp.Resets())
}

func TestReportWorkerFailuresRequeue(t *testing.T) {
	w := NewReportWorker(failingExporter{}, nil, nil)
	ctx := context.Background()

	body, err := reportMessage().ToJSON()
	require.NoError(t, err)
	assert.Equal(t, amqp.OutcomeRequeue, amqp.Dispatch(ctx, w, amqp.EventReportGenerated, body, nil))

	reset, err := amqp.NewPeriodResetMessage().ToJSON()
	require.NoError(t, err)
	assert.Equal(t, amqp.OutcomeRequeue, amqp.Dispatch(ctx, w, amqp.EventPeriodReset, reset, nil))

	assert.Equal(t, amqp.OutcomeReject, amqp.Dispatch(ctx, w, amqp.EventReportGenerated, []byte("{"), nil))
}

func TestObserveOutcome(t *testing.T) {
	m := metrics.New()
	w := NewReportWorker(sheetsmem.New(), m, nil)

	w.ObserveOutcome(amqp.EventReportGenerated, amqp.OutcomeAck)
	w.ObserveOutcome(amqp.EventReportGenerated, amqp.OutcomeRequeue)
	w.ObserveOutcome(amqp.EventReportGenerated, amqp.OutcomeAck)

	n, err := testutil.GatherAndCount(m.Registry(), "pairxpenses_events_consumed_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n, "one series per outcome")
}

type fakeGenerator struct {
	report services.GeneratedReport
	err    error
	got    core.Percentage
}

func (f *fakeGenerator) GenerateReport(_ context.Context, pct core.Percentage) (services.GeneratedReport, error) {
	f.got = pct
	return f.report, f.err
}

type recordingNotifier struct {
	reports []notify.Report
	err     error
}

func (n *recordingNotifier) NotifyReport(_ context.Context, r notify.Report) error {
	n.reports = append(n.reports, r)
	return n.err
}

func generatedReport(t *testing.T) services.GeneratedReport {
	t.Helper()
	in := settlement.NewInput(0, 900, 50, 0, 30)
	in.Names = core.Pair[string]{A: "Ana", B: "Beto"}
	res, err := settlement.Compute(in)
	require.NoError(t, err)
	return services.GeneratedReport{
		PercentageA: 30,
		Users: core.Pair[core.User]{
			A: core.User{ID: 1, Name: "Ana", Party: core.PartyA},
			B: core.User{ID: 2, Name: "Beto", Party: core.PartyB},
		},
		Result: res,
	}
}

func TestMonthlyReportNotifies(t *testing.T) {
	gen := &fakeGenerator{report: generatedReport(t)}
	n := &recordingNotifier{}
	job := NewMonthlyReport(gen, n, 30, nil)
	job.now = func() time.Time { return time.Date(2026, 10, 1, 8, 0, 0, 0, time.UTC) }

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, core.Percentage(30), gen.got)
	require.Len(t, n.reports, 1)

	r := n.reports[0]
	assert.Equal(t, [2]string{"Ana", "Beto"}, r.Names)
	assert.Equal(t, "A", r.Payer)
	assert.Equal(t, 30, r.PercentageA)
	assert.Equal(t, gen.report.Result.Report.Summary, r.Summary)
}

func TestMonthlyReportSkipsEmptyPeriod(t *testing.T) {
	gen := &fakeGenerator{report: services.GeneratedReport{Result: settlement.Result{Empty: true}}}
	n := &recordingNotifier{}

	require.NoError(t, NewMonthlyReport(gen, n, 50, nil).Run(context.Background()))
	assert.Empty(t, n.reports)
}

func TestMonthlyReportErrors(t *testing.T) {
	gen := &fakeGenerator{err: services.ErrReportUnavailable}
	err := NewMonthlyReport(gen, &recordingNotifier{}, 50, nil).Run(context.Background())
	assert.ErrorIs(t, err, services.ErrReportUnavailable)

	gen = &fakeGenerator{report: generatedReport(t)}
	err = NewMonthlyReport(gen, &recordingNotifier{err: errors.New("smtp down")}, 50, nil).Run(context.Background())
	assert.ErrorContains(t, err, "smtp down")
}

func TestNewSchedulerRejectsBadSpec(t *testing.T) {
	_, err := NewScheduler("every tuesday", NewMonthlyReport(&fakeGenerator{}, nil, 50, nil), nil)
	assert.Error(t, err)
}

func TestSchedulerRunStopsWithContext(t *testing.T) {
	s, err := NewScheduler("0 8 1 * *", NewMonthlyReport(&fakeGenerator{}, nil, 50, nil), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return !s.Next().IsZero() }, time.Second, 10*time.Millisecond)
	next := s.Next()
	assert.Equal(t, 1, next.Day())
	assert.Equal(t, 8, next.Hour())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestMetricsServerExposesCounters(t *testing.T) {
	m := metrics.New()
	w := NewReportWorker(sheetsmem.New(), m, nil)
	w.ObserveOutcome(amqp.EventReportGenerated, amqp.OutcomeAck)

	ms := NewMetricsServer("127.0.0.1:0", m, nil)
	rr := httptest.NewRecorder()
	ms.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "pairxpenses_events_consumed_total")
}

func TestMetricsServerStopsWithContext(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ms := NewMetricsServer(ln.Addr().String(), metrics.New(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ms.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("metrics server did not stop")
	}
}
