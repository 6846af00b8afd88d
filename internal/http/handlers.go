package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"pairxpenses/internal/core"
	"pairxpenses/internal/log"
	"pairxpenses/internal/middleware/trace"
	"pairxpenses/internal/services"
	"pairxpenses/internal/settlement"
)

type (
	userJSON struct {
		ID    int64  `json:"id"`
		Name  string `json:"name"`
		Party string `json:"party"`
	}

	entryJSON struct {
		ID        int64     `json:"id"`
		UserID    int64     `json:"userId"`
		Kind      string    `json:"kind"`
		Name      string    `json:"name"`
		Value     int64     `json:"value"`
		CreatedAt time.Time `json:"createdAt"`
	}

	totalJSON struct {
		UserID int64  `json:"userId"`
		Kind   string `json:"kind"`
		Total  int64  `json:"total"`
	}

	userLedgerJSON struct {
		User          userJSON    `json:"user"`
		Payments      []entryJSON `json:"payments"`
		Debts         []entryJSON `json:"debts"`
		TotalPayments int64       `json:"totalPayments"`
		TotalDebts    int64       `json:"totalDebts"`
	}

	overviewJSON struct {
		Users []userLedgerJSON `json:"users"`
	}

	breakdownJSON struct {
		TotalExpense int64  `json:"totalExpense"`
		ShareA       int64  `json:"shareA"`
		ShareB       int64  `json:"shareB"`
		Branch       string `json:"branch"`
		Surplus      int64  `json:"surplus"`
	}

	reportJSON struct {
		Empty       bool           `json:"empty"`
		PercentageA int            `json:"percentageA"`
		Lines       []string       `json:"lines"`
		Payer       *string        `json:"payer"`
		Amount      int64          `json:"amount"`
		Summary     string         `json:"summary"`
		Breakdown   *breakdownJSON `json:"breakdown"`
		EventID     string         `json:"eventId,omitempty"`
	}

	emptyReportJSON struct {
		Empty bool `json:"empty"`
	}
)

func toUserJSON(u core.User) userJSON {
	return userJSON{ID: u.ID, Name: u.Name, Party: u.Party.String()}
}

func toEntryJSON(e core.Entry) entryJSON {
	return entryJSON{
		ID:        e.ID,
		UserID:    e.UserID,
		Kind:      string(e.Kind),
		Name:      e.Name,
		Value:     e.Value.Units,
		CreatedAt: e.CreatedAt,
	}
}

func toEntriesJSON(entries []core.Entry) []entryJSON {
	out := make([]entryJSON, 0, len(entries))
	for _, e := range entries {
		out = append(out, toEntryJSON(e))
	}
	return out
}

// toReportJSON renders an engine result; an empty period is just {"empty": true}.
func toReportJSON(res settlement.Result, percentageA core.Percentage, eventID string) any {
	if res.Empty {
		return emptyReportJSON{Empty: true}
	}
	r := res.Report
	out := reportJSON{
		PercentageA: int(percentageA),
		Lines:       r.Lines[:],
		Amount:      r.Verdict.Amount.Units,
		Summary:     r.Summary,
		Breakdown: &breakdownJSON{
			TotalExpense: r.Breakdown.TotalExpense.Units,
			ShareA:       r.Breakdown.Shares.A.Units,
			ShareB:       r.Breakdown.Shares.B.Units,
			Branch:       r.Breakdown.Branch.String(),
			Surplus:      r.Breakdown.Surplus.Units,
		},
		EventID: eventID,
	}
	if payer := services.PayerLabel(r.Verdict); payer != "" {
		out.Payer = &payer
	}
	return out
}

// fail writes the error reply for err. Server-side failures are logged with the request id.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		log.FromContext(r.Context()).WithComponent(log.ComponentHTTP).ErrorContext(r.Context(), "Request failed",
			log.FieldPath, r.URL.Path,
			log.FieldStatusCode, status,
			log.FieldError, err)
	}
	NewJSONResponse().
		Status(status).
		Data(errorBody{Error: publicMessage(status, err), RequestID: trace.GetRequestID(r.Context())}).
		Write(w)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	NewJSONResponse().Data(map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    time.Since(s.started).Round(time.Second).String(),
	}).Write(w)
}

// handleReady checks the store and reports the state of the request-side helpers.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	httpStatus := http.StatusOK
	checks := map[string]any{}

	if err := s.ledger.Ready(ctx); err != nil {
		checks["store"] = fmt.Sprintf("failed: %v", err)
		status = "not_ready"
		httpStatus = http.StatusServiceUnavailable
	} else {
		checks["store"] = "ok"
	}
	checks["rate_limiter"] = map[string]any{
		"active_clients": s.limiter.ActiveClients(),
		"rejected":       s.limiter.Rejected(),
	}
	if cs, ok := s.ledger.CacheStats(); ok {
		checks["overview_cache"] = map[string]any{
			"size":   cs.Size,
			"hits":   cs.Hits,
			"misses": cs.Misses,
		}
	}
	stats := s.tracer.Stats()
	checks["requests"] = map[string]any{
		"total":     stats.TotalRequests,
		"in_flight": stats.InFlight,
	}

	NewJSONResponse().Status(httpStatus).Data(map[string]any{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"checks":    checks,
	}).Write(w)
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.ledger.Users(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]userJSON, 0, len(users))
	for _, u := range users {
		out = append(out, toUserJSON(u))
	}
	NewJSONResponse().Data(out).Write(w)
}

func (s *Server) handleRenameUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req renameUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	u, err := s.ledger.RenameUser(r.Context(), id, services.RenameUserInput{Name: req.Name})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	NewJSONResponse().Data(toUserJSON(u)).Write(w)
}

func (s *Server) handleListEntries(kind core.EntryKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := pathID(r)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		entries, err := s.ledger.Entries(r.Context(), kind, userID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		NewJSONResponse().Data(toEntriesJSON(entries)).Write(w)
	}
}

func (s *Server) handleTotal(kind core.EntryKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := pathID(r)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		total, err := s.ledger.Total(r.Context(), kind, userID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		NewJSONResponse().Data(totalJSON{UserID: userID, Kind: string(kind), Total: total.Units}).Write(w)
	}
}

func (s *Server) handleCreateEntry(kind core.EntryKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createEntryRequest
		if err := decodeJSON(w, r, &req); err != nil {
			s.fail(w, r, err)
			return
		}
		e, err := s.ledger.CreateEntry(r.Context(), req.toInput(kind))
		if err != nil {
			s.fail(w, r, err)
			return
		}
		NewJSONResponse().
			Status(http.StatusCreated).
			Header("Location", fmt.Sprintf("/api/%s/%d", kind.Plural(), e.ID)).
			Data(toEntryJSON(e)).
			Write(w)
	}
}

func (s *Server) handleUpdateEntry(kind core.EntryKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		var req updateEntryRequest
		if err := decodeJSON(w, r, &req); err != nil {
			s.fail(w, r, err)
			return
		}
		e, err := s.ledger.UpdateEntry(r.Context(), kind, id, req.toInput())
		if err != nil {
			s.fail(w, r, err)
			return
		}
		NewJSONResponse().Data(toEntryJSON(e)).Write(w)
	}
}

func (s *Server) handleDeleteEntry(kind core.EntryKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		if err := s.ledger.DeleteEntry(r.Context(), kind, id); err != nil {
			s.fail(w, r, err)
			return
		}
		NewJSONResponse().Status(http.StatusNoContent).Write(w)
	}
}

func (s *Server) handleDeleteAllEntries(kind core.EntryKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := s.ledger.DeleteAllEntries(r.Context(), kind)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		NewJSONResponse().Data(map[string]int64{"deleted": n}).Write(w)
	}
}

func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	ov, err := s.ledger.Overview(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := overviewJSON{Users: make([]userLedgerJSON, 0, 2)}
	for _, p := range core.Parties() {
		l := ov.Users.Of(p)
		out.Users = append(out.Users, userLedgerJSON{
			User:          toUserJSON(l.User),
			Payments:      toEntriesJSON(l.Payments),
			Debts:         toEntriesJSON(l.Debts),
			TotalPayments: l.TotalPayments.Units,
			TotalDebts:    l.TotalDebts.Units,
		})
	}
	NewJSONResponse().Data(out).Write(w)
}

// handleReport settles the stored totals at the requested (or default) split.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	var req reportRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			s.fail(w, r, err)
			return
		}
	}
	pct := percentageOr(req.PercentageA, s.defaultPercentageA)

	rep, err := s.ledger.GenerateReport(r.Context(), pct)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	NewJSONResponse().Data(toReportJSON(rep.Result, pct, rep.EventID)).Write(w)
}

// handleSettlement runs the engine on caller-supplied totals without touching the ledger.
func (s *Server) handleSettlement(w http.ResponseWriter, r *http.Request) {
	var req settlementRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	pct := percentageOr(req.PercentageA, s.defaultPercentageA)

	in := settlement.NewInput(req.PaymentsA, req.PaymentsB, req.DebtsA, req.DebtsB, int(pct))
	in.Names = core.Pair[string]{A: req.NameA, B: req.NameB}

	res, err := s.ledger.Engine().Compute(in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	NewJSONResponse().Data(toReportJSON(res, pct, "")).Write(w)
}

func (s *Server) handleResetPeriod(w http.ResponseWriter, r *http.Request) {
	if err := s.ledger.ResetPeriod(r.Context()); err != nil {
		s.fail(w, r, err)
		return
	}
	NewJSONResponse().Status(http.StatusNoContent).Write(w)
}
