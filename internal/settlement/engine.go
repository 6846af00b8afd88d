// Package settlement turns the pair's period totals and split percentage into a
// settlement statement. It is pure: no I/O, no shared state, safe for concurrent use.
package settlement

import (
	"errors"
	"fmt"
	"math"

	"pairxpenses/internal/core"
)

// ErrInvalidInput is returned for negative totals or a percentage outside [0, 100].
var ErrInvalidInput = errors.New("invalid settlement input")

// Branch is the overspend classification of a period.
type Branch int

const (
	BranchBalanced Branch = iota
	BranchAOverspent
	BranchBOverspent
)

func (b Branch) String() string {
	switch b {
	case BranchAOverspent:
		return "a_overspent"
	case BranchBOverspent:
		return "b_overspent"
	default:
		return "balanced"
	}
}

// Overspender returns the party that paid more than its share, if any.
func (b Branch) Overspender() (core.Party, bool) {
	switch b {
	case BranchAOverspent:
		return core.PartyA, true
	case BranchBOverspent:
		return core.PartyB, true
	default:
		return 0, false
	}
}

// Direction tells who pays whom in the final verdict.
type Direction int

const (
	NeitherOwes Direction = iota
	AOwesB
	BOwesA
)

func (d Direction) String() string {
	switch d {
	case AOwesB:
		return "a_owes_b"
	case BOwesA:
		return "b_owes_a"
	default:
		return "neither"
	}
}

type (
	// Input is a consistent snapshot of the four totals plus the split.
	// Names are only used by the narrative; empty names fall back to "User A" / "User B".
	Input struct {
		Totals      core.Pair[core.PartyTotals]
		PercentageA core.Percentage
		Names       core.Pair[string]
	}

	// Breakdown holds the numeric classification of a period.
	Breakdown struct {
		TotalExpense core.Money
		Shares       core.Pair[core.Money]
		Branch       Branch
		// Surplus is what the overspender paid above its share; zero when balanced.
		Surplus core.Money
	}

	// Verdict is the net settlement. Amount is zero iff Direction is NeitherOwes.
	Verdict struct {
		Direction Direction
		Amount    core.Money
	}

	Report struct {
		Breakdown Breakdown
		Lines     [5]string
		Verdict   Verdict
		Summary   string
	}

	// Result is either an empty period or a report.
	Result struct {
		Empty  bool
		Report Report
	}
)

// NewInput builds an Input from the five raw values.
func NewInput(paymentsA, paymentsB, debtsA, debtsB int64, percentageA int) Input {
	return Input{
		Totals: core.Pair[core.PartyTotals]{
			A: core.PartyTotals{Payments: core.NewMoney(paymentsA), Debts: core.NewMoney(debtsA)},
			B: core.PartyTotals{Payments: core.NewMoney(paymentsB), Debts: core.NewMoney(debtsB)},
		},
		PercentageA: core.Percentage(percentageA),
	}
}

// Payer returns the paying party, or false when nobody owes anything.
func (v Verdict) Payer() (core.Party, bool) {
	switch v.Direction {
	case AOwesB:
		return core.PartyA, true
	case BOwesA:
		return core.PartyB, true
	default:
		return 0, false
	}
}

func (r Result) String() string {
	if r.Empty {
		return "empty period"
	}
	return r.Report.Summary
}

// Validate checks the preconditions of Compute.
func Validate(in Input) error {
	if err := in.PercentageA.Validate(); err != nil {
		return fmt.Errorf("%w: %w (got %d)", ErrInvalidInput, err, int(in.PercentageA))
	}
	for _, p := range core.Parties() {
		if err := in.Totals.Of(p).Validate(); err != nil {
			return fmt.Errorf("%w: party %s %w", ErrInvalidInput, p, err)
		}
	}
	pa, pb := in.Totals.A.Payments.Units, in.Totals.B.Payments.Units
	if pa > math.MaxInt64-pb || pa+pb > math.MaxInt64/100 {
		return fmt.Errorf("%w: payments too large", ErrInvalidInput)
	}
	da, db := in.Totals.A.Debts.Units, in.Totals.B.Debts.Units
	if pa+pb > math.MaxInt64-da-db {
		return fmt.Errorf("%w: debts too large", ErrInvalidInput)
	}
	return nil
}

// IsEmpty reports whether all four totals are zero.
func IsEmpty(totals core.Pair[core.PartyTotals]) bool {
	return totals.A.IsZero() && totals.B.IsZero()
}

// Classify computes the shares and picks the branch. A is tested before B.
// Totals must already be valid.
func Classify(totals core.Pair[core.PartyTotals], percentageA core.Percentage) Breakdown {
	total := totals.A.Payments.Add(totals.B.Payments)
	shareA := core.NewMoney(total.Units * int64(percentageA) / 100)
	shareB := total.Sub(shareA)

	b := Breakdown{
		TotalExpense: total,
		Shares:       core.Pair[core.Money]{A: shareA, B: shareB},
		Branch:       BranchBalanced,
	}
	switch {
	case totals.A.Payments.Units > shareA.Units:
		b.Branch = BranchAOverspent
		b.Surplus = totals.A.Payments.Sub(shareA)
	case totals.B.Payments.Units > shareB.Units:
		b.Branch = BranchBOverspent
		b.Surplus = totals.B.Payments.Sub(shareB)
	}
	return b
}

// Settle nets the period surplus against the standing debts.
func Settle(totals core.Pair[core.PartyTotals], b Breakdown) Verdict {
	var net int64
	// positive net means `debtor` owes the other party
	debtor := core.PartyA
	switch b.Branch {
	case BranchAOverspent:
		net = b.Surplus.Units + totals.B.Debts.Units - totals.A.Debts.Units
		debtor = core.PartyB
	case BranchBOverspent:
		net = b.Surplus.Units + totals.A.Debts.Units - totals.B.Debts.Units
	default:
		net = totals.A.Debts.Units - totals.B.Debts.Units
	}

	switch {
	case net == 0:
		return Verdict{Direction: NeitherOwes}
	case net < 0:
		debtor = debtor.Other()
		net = -net
	}
	if debtor == core.PartyA {
		return Verdict{Direction: AOwesB, Amount: core.NewMoney(net)}
	}
	return Verdict{Direction: BOwesA, Amount: core.NewMoney(net)}
}

// Narrate produces the five descriptive lines for a classified period.
// Line 2 is empty when spending was balanced.
func Narrate(in Input, b Breakdown, f Formatter) [5]string {
	names := displayNames(in.Names)
	var lines [5]string
	lines[0] = fmt.Sprintf("Total pair expenses during the month: %s.", f.Format(b.TotalExpense))

	// the overspender's debts come first; A leads when balanced
	first := core.PartyA
	if over, ok := b.Branch.Overspender(); ok {
		first = over
		under := over.Other()
		lines[1] = fmt.Sprintf("%s spent %s during the month. Which is more than their share (%d%% / %s).",
			names.Of(over), f.Format(in.Totals.Of(over).Payments), in.PercentageA.Of(over), f.Format(b.Shares.Of(over)))
		if paid := in.Totals.Of(under).Payments; !paid.IsZero() {
			lines[2] = fmt.Sprintf("%s spent %s during the month. Which is less than their share (%d%% / %s).",
				names.Of(under), f.Format(paid), in.PercentageA.Of(under), f.Format(b.Shares.Of(under)))
		} else {
			lines[2] = fmt.Sprintf("%s did not register payments during the month and their share is %d%% / %s.",
				names.Of(under), in.PercentageA.Of(under), f.Format(b.Shares.Of(under)))
		}
	} else {
		lines[2] = "All users spent accordingly to their shares"
	}

	lines[3] = debtLine(names, first, in.Totals.Of(first).Debts, f)
	lines[4] = debtLine(names, first.Other(), in.Totals.Of(first.Other()).Debts, f)
	return lines
}

// Summarize renders the verdict sentence.
func Summarize(v Verdict, branch Branch, names core.Pair[string], f Formatter) string {
	payer, ok := v.Payer()
	if !ok {
		return "Both users spent within their share and neither owes anything to the other."
	}
	names = displayNames(names)
	if branch == BranchBalanced {
		return fmt.Sprintf("%s owes %s to %s", names.Of(payer), f.Format(v.Amount), names.Of(payer.Other()))
	}
	return fmt.Sprintf("%s owes %s %s for the month's expenses.", names.Of(payer), names.Of(payer.Other()), f.Format(v.Amount))
}

func debtLine(names core.Pair[string], p core.Party, debt core.Money, f Formatter) string {
	if debt.IsZero() {
		return fmt.Sprintf("%s does not have any debts with %s.", names.Of(p), names.Of(p.Other()))
	}
	return fmt.Sprintf("%s accumulated a total of debts with %s amounting to %s", names.Of(p), names.Of(p.Other()), f.Format(debt))
}

func displayNames(n core.Pair[string]) core.Pair[string] {
	if n.A == "" {
		n.A = "User A"
	}
	if n.B == "" {
		n.B = "User B"
	}
	return n
}

// Engine composes Classify, Narrate and Settle with a fixed Formatter.
type Engine struct {
	formatter Formatter
}

// New returns an Engine. A nil formatter selects DefaultFormatter.
func New(f Formatter) *Engine {
	if f == nil {
		f = DefaultFormatter
	}
	return &Engine{formatter: f}
}

// Compute validates the input, short-circuits empty periods and builds the report.
func (e *Engine) Compute(in Input) (Result, error) {
	if err := Validate(in); err != nil {
		return Result{}, err
	}
	if IsEmpty(in.Totals) {
		return Result{Empty: true}, nil
	}

	b := Classify(in.Totals, in.PercentageA)
	v := Settle(in.Totals, b)
	return Result{Report: Report{
		Breakdown: b,
		Lines:     Narrate(in, b, e.formatter),
		Verdict:   v,
		Summary:   Summarize(v, b.Branch, in.Names, e.formatter),
	}}, nil
}

var defaultEngine = New(nil)

// Compute runs the default engine.
func Compute(in Input) (Result, error) {
	return defaultEngine.Compute(in)
}
