package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/errgroup"

	"pairxpenses/internal/amqp"
	"pairxpenses/internal/cache"
	"pairxpenses/internal/core"
	"pairxpenses/internal/log"
	"pairxpenses/internal/metrics"
	"pairxpenses/internal/settlement"
	"pairxpenses/internal/storage"
)

var (
	// ErrInvalidRequest wraps DTO validation failures.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrReportUnavailable means the totals could not be read, so no report
	// (not even an empty one) can be produced.
	ErrReportUnavailable = errors.New("report unavailable")
)

const overviewCacheKey = "overview"

// EventPublisher is satisfied by *amqp.Client.
type EventPublisher interface {
	PublishReportGenerated(ctx context.Context, msg *amqp.ReportGeneratedMessage) error
	PublishPeriodReset(ctx context.Context, msg *amqp.PeriodResetMessage) error
}

type (
	CreateEntryInput struct {
		Kind   core.EntryKind `json:"-" validate:"required,oneof=payment debt"`
		UserID int64          `json:"userId" validate:"required,gt=0"`
		Name   string         `json:"name" validate:"required,max=200"`
		Value  int64          `json:"value" validate:"gte=0"`
	}

	UpdateEntryInput struct {
		Name  string `json:"name" validate:"required,max=200"`
		Value int64  `json:"value" validate:"gte=0"`
	}

	RenameUserInput struct {
		Name string `json:"name" validate:"required,max=60"`
	}

	// UserLedger is one user with the current period's records.
	UserLedger struct {
		User          core.User
		Payments      []core.Entry
		Debts         []core.Entry
		TotalPayments core.Money
		TotalDebts    core.Money
	}

	Overview struct {
		Users core.Pair[UserLedger]
	}

	// GeneratedReport is a settlement result plus the context it was computed in.
	GeneratedReport struct {
		PercentageA core.Percentage
		Users       core.Pair[core.User]
		Result      settlement.Result
		// EventID is the id of the published report.generated message, if any.
		EventID string
	}
)

type Dependencies struct {
	Store     storage.LedgerStore
	Engine    *settlement.Engine
	Publisher EventPublisher
	Metrics   *metrics.Metrics
	Cache     cache.Cache[Overview]
	Logger    *log.Logger
}

// LedgerService validates requests, delegates to the store, keeps the overview
// cache fresh and publishes ledger events.
type LedgerService struct {
	store     storage.LedgerStore
	engine    *settlement.Engine
	publisher EventPublisher
	metrics   *metrics.Metrics
	cache     cache.Cache[Overview]
	logger    *log.Logger
	events    *log.StructuredLogger
	validate  *validator.Validate

	// cacheMu orders overview stores against invalidations; generation counts writes.
	cacheMu    sync.Mutex
	generation uint64
}

func NewLedgerService(deps Dependencies) *LedgerService {
	logger := deps.Logger
	if logger == nil {
		logger = log.Nop()
	}
	engine := deps.Engine
	if engine == nil {
		engine = settlement.New(nil)
	}
	return &LedgerService{
		store:     deps.Store,
		engine:    engine,
		publisher: deps.Publisher,
		metrics:   deps.Metrics,
		cache:     deps.Cache,
		logger:    logger.WithComponent(log.ComponentLedger),
		events:    log.NewStructuredLogger(logger),
		validate:  validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Engine returns the settlement engine used for reports.
func (s *LedgerService) Engine() *settlement.Engine { return s.engine }

func (s *LedgerService) Ready(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// CacheStats reports the overview cache counters; ok is false without a cache.
func (s *LedgerService) CacheStats() (stats cache.Stats, ok bool) {
	if s.cache == nil {
		return cache.Stats{}, false
	}
	return s.cache.Stats(), true
}

func (s *LedgerService) check(v any) error {
	err := s.validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	problems := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			problems = append(problems, fmt.Sprintf("%s must satisfy %s=%s", strings.ToLower(fe.Field()), fe.Tag(), fe.Param()))
		} else {
			problems = append(problems, fmt.Sprintf("%s is %s", strings.ToLower(fe.Field()), fe.Tag()))
		}
	}
	return fmt.Errorf("%w: %s", ErrInvalidRequest, strings.Join(problems, "; "))
}

func (s *LedgerService) invalidate() {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.generation++
	if s.cache != nil {
		s.cache.Purge()
	}
}

func (s *LedgerService) currentGeneration() uint64 {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	return s.generation
}

// storeOverview caches ov unless a write happened after the load began at gen.
func (s *LedgerService) storeOverview(gen uint64, ov Overview) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if s.generation == gen {
		s.cache.Set(overviewCacheKey, ov)
	}
}

func (s *LedgerService) Users(ctx context.Context) ([]core.User, error) {
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

func (s *LedgerService) RenameUser(ctx context.Context, id int64, in RenameUserInput) (core.User, error) {
	in.Name = strings.TrimSpace(in.Name)
	if err := s.check(in); err != nil {
		return core.User{}, err
	}
	if err := core.ValidateName(in.Name, core.MaxUserNameLength); err != nil {
		return core.User{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	u, err := s.store.RenameUser(ctx, id, in.Name)
	if err != nil {
		return core.User{}, fmt.Errorf("rename user: %w", err)
	}
	s.invalidate()
	return u, nil
}

func (s *LedgerService) Entries(ctx context.Context, kind core.EntryKind, userID int64) ([]core.Entry, error) {
	if err := kind.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	entries, err := s.store.ListEntries(ctx, kind, userID)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", kind.Plural(), err)
	}
	return entries, nil
}

func (s *LedgerService) Total(ctx context.Context, kind core.EntryKind, userID int64) (core.Money, error) {
	if err := kind.Validate(); err != nil {
		return core.Money{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	total, err := s.store.TotalFor(ctx, kind, userID)
	if err != nil {
		return core.Money{}, fmt.Errorf("total %s: %w", kind.Plural(), err)
	}
	return total, nil
}

func (s *LedgerService) CreateEntry(ctx context.Context, in CreateEntryInput) (core.Entry, error) {
	in.Name = strings.TrimSpace(in.Name)
	if err := s.check(in); err != nil {
		return core.Entry{}, err
	}
	e := core.Entry{Kind: in.Kind, UserID: in.UserID, Name: in.Name, Value: core.NewMoney(in.Value)}
	if err := e.Validate(); err != nil {
		return core.Entry{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	created, err := s.store.CreateEntry(ctx, e)
	if err != nil {
		return core.Entry{}, fmt.Errorf("create %s: %w", in.Kind, err)
	}
	s.invalidate()
	s.events.LogEntryChanged(ctx, log.OpCreate, string(created.Kind), created.ID, created.UserID, created.Value.Units)
	return created, nil
}

func (s *LedgerService) UpdateEntry(ctx context.Context, kind core.EntryKind, id int64, in UpdateEntryInput) (core.Entry, error) {
	if err := kind.Validate(); err != nil {
		return core.Entry{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	in.Name = strings.TrimSpace(in.Name)
	if err := s.check(in); err != nil {
		return core.Entry{}, err
	}
	if err := core.ValidateName(in.Name, core.MaxEntryNameLength); err != nil {
		return core.Entry{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	updated, err := s.store.UpdateEntry(ctx, kind, id, in.Name, core.NewMoney(in.Value))
	if err != nil {
		return core.Entry{}, fmt.Errorf("update %s: %w", kind, err)
	}
	s.invalidate()
	s.events.LogEntryChanged(ctx, log.OpUpdate, string(kind), id, updated.UserID, updated.Value.Units)
	return updated, nil
}

func (s *LedgerService) DeleteEntry(ctx context.Context, kind core.EntryKind, id int64) error {
	if err := kind.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if err := s.store.DeleteEntry(ctx, kind, id); err != nil {
		return fmt.Errorf("delete %s: %w", kind, err)
	}
	s.invalidate()
	s.events.LogEntryChanged(ctx, log.OpDelete, string(kind), id, 0, 0)
	return nil
}

// DeleteAllEntries removes every entry of kind and returns how many were removed.
func (s *LedgerService) DeleteAllEntries(ctx context.Context, kind core.EntryKind) (int64, error) {
	if err := kind.Validate(); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	n, err := s.store.DeleteAllEntries(ctx, kind)
	if err != nil {
		return 0, fmt.Errorf("delete all %s: %w", kind.Plural(), err)
	}
	s.invalidate()
	return n, nil
}

// Overview loads both users and their records concurrently. The result is
// cached until the next write.
func (s *LedgerService) Overview(ctx context.Context) (Overview, error) {
	if s.cache != nil {
		if ov, ok := s.cache.Get(overviewCacheKey); ok {
			return ov, nil
		}
	}
	gen := s.currentGeneration()

	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return Overview{}, fmt.Errorf("load overview: %w", err)
	}

	var ov Overview
	ledgers := make([]UserLedger, len(users))
	g, gctx := errgroup.WithContext(ctx)
	for i, u := range users {
		ledgers[i].User = u
		g.Go(func() error {
			payments, err := s.store.ListEntries(gctx, core.KindPayment, u.ID)
			if err != nil {
				return fmt.Errorf("payments of user %d: %w", u.ID, err)
			}
			ledgers[i].Payments = payments
			ledgers[i].TotalPayments = sum(payments)
			return nil
		})
		g.Go(func() error {
			debts, err := s.store.ListEntries(gctx, core.KindDebt, u.ID)
			if err != nil {
				return fmt.Errorf("debts of user %d: %w", u.ID, err)
			}
			ledgers[i].Debts = debts
			ledgers[i].TotalDebts = sum(debts)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Overview{}, fmt.Errorf("load overview: %w", err)
	}

	for _, l := range ledgers {
		ov.Users = ov.Users.With(l.User.Party, l)
	}
	if s.cache != nil {
		s.storeOverview(gen, ov)
	}
	return ov, nil
}

func sum(entries []core.Entry) core.Money {
	var total core.Money
	for _, e := range entries {
		total = total.Add(e.Value)
	}
	return total
}

// GenerateReport computes the settlement for the stored totals at the given split.
func (s *LedgerService) GenerateReport(ctx context.Context, percentageA core.Percentage) (GeneratedReport, error) {
	out := GeneratedReport{PercentageA: percentageA}

	if err := percentageA.Validate(); err != nil {
		s.metrics.ReportOutcome(metrics.OutcomeInvalid)
		return out, fmt.Errorf("%w: %w", settlement.ErrInvalidInput, err)
	}

	snap, err := s.store.Snapshot(ctx)
	if err != nil {
		s.metrics.ReportOutcome(metrics.OutcomeUnavailable)
		s.events.LogError(ctx, "Failed to read ledger totals", err, log.ComponentReport, log.OpReport, nil)
		return out, fmt.Errorf("%w: %v", ErrReportUnavailable, err)
	}
	out.Users = snap.Users

	res, err := s.engine.Compute(settlement.Input{
		Totals:      snap.Totals,
		PercentageA: percentageA,
		Names:       snap.Names(),
	})
	if err != nil {
		s.metrics.ReportOutcome(metrics.OutcomeInvalid)
		return out, fmt.Errorf("compute settlement: %w", err)
	}
	out.Result = res

	if res.Empty {
		s.metrics.ReportOutcome(metrics.OutcomeEmpty)
		s.logger.InfoContext(ctx, "Nothing to report for the period", log.FieldPercentage, int(percentageA))
		return out, nil
	}

	r := res.Report
	payer := PayerLabel(r.Verdict)
	s.metrics.ReportOutcome(metrics.OutcomeGenerated)
	s.metrics.ObserveVerdict(r.Verdict.Amount.Units)
	s.events.LogReportGenerated(ctx, int(percentageA), r.Breakdown.Branch.String(), payer, r.Verdict.Amount.Units)

	msg := amqp.NewReportGeneratedMessage(int(percentageA),
		[2]string{snap.Users.A.Name, snap.Users.B.Name},
		payer, r.Verdict.Amount.Units, r.Summary, r.Lines)
	if s.publish(ctx, amqp.EventReportGenerated, func(p EventPublisher) error {
		return p.PublishReportGenerated(ctx, msg)
	}) {
		out.EventID = msg.ID
	}
	return out, nil
}

// ResetPeriod clears every payment and debt and announces the new period.
func (s *LedgerService) ResetPeriod(ctx context.Context) error {
	if err := s.store.ResetPeriod(ctx); err != nil {
		return fmt.Errorf("reset period: %w", err)
	}
	s.invalidate()
	s.logger.InfoContext(ctx, "Period reset", log.FieldOperation, log.OpReset)

	msg := amqp.NewPeriodResetMessage()
	s.publish(ctx, amqp.EventPeriodReset, func(p EventPublisher) error {
		return p.PublishPeriodReset(ctx, msg)
	})
	return nil
}

// publish never fails the caller: the ledger change already happened.
func (s *LedgerService) publish(ctx context.Context, eventType string, fn func(EventPublisher) error) bool {
	if s.publisher == nil {
		s.logger.WarnContext(ctx, "AMQP client not available, skipping event", "type", eventType)
		return false
	}
	err := fn(s.publisher)
	s.metrics.EventPublished(eventType, err)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to publish event", "type", eventType, "error", err)
		return false
	}
	return true
}

// PayerLabel renders the verdict payer as "A", "B" or "".
func PayerLabel(v settlement.Verdict) string {
	if p, ok := v.Payer(); ok {
		return p.String()
	}
	return ""
}
