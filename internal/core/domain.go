package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	PartyA Party = iota
	PartyB
)

const (
	KindPayment EntryKind = "payment"
	KindDebt    EntryKind = "debt"
)

const (
	MaxEntryNameLength = 200
	MaxUserNameLength  = 60
)

type (
	// Party identifies one of the two users sharing expenses.
	Party int

	// EntryKind distinguishes period payments from standing debts.
	EntryKind string

	// Percentage is party A's share of the period expenses, in [0, 100].
	Percentage int

	// Pair holds one value per party. Index it with Of, never by building names.
	Pair[T any] struct {
		A T
		B T
	}

	// PartyTotals are the sums of one party's records for the current period.
	PartyTotals struct {
		Payments Money
		Debts    Money
	}

	User struct {
		ID    int64
		Name  string
		Party Party
	}

	// Entry is a single payment or debt record.
	Entry struct {
		ID        int64
		UserID    int64
		Kind      EntryKind
		Name      string
		Value     Money
		CreatedAt time.Time
	}

	// PairSnapshot is a consistent read of both users and their four totals.
	PairSnapshot struct {
		Users  Pair[User]
		Totals Pair[PartyTotals]
	}
)

var (
	ErrInvalidParty      = errors.New("invalid party")
	ErrInvalidKind       = errors.New("invalid entry kind")
	ErrInvalidPercentage = errors.New("percentage must be between 0 and 100")
	ErrNegativeAmount    = errors.New("amount must not be negative")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrEmptyName         = errors.New("empty name")
	ErrNameTooLong       = errors.New("name too long")
)

// Parties lists both parties in display order.
func Parties() [2]Party {
	return [2]Party{PartyA, PartyB}
}

func (p Party) String() string {
	switch p {
	case PartyA:
		return "A"
	case PartyB:
		return "B"
	default:
		return fmt.Sprintf("Party(%d)", int(p))
	}
}

// Other returns the counterpart of p.
func (p Party) Other() Party {
	if p == PartyA {
		return PartyB
	}
	return PartyA
}

func (p Party) Validate() error {
	if p != PartyA && p != PartyB {
		return ErrInvalidParty
	}
	return nil
}

// ParseParty accepts "A" or "B", case-insensitive.
func ParseParty(s string) (Party, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "A":
		return PartyA, nil
	case "B":
		return PartyB, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidParty, s)
	}
}

// Of returns the value belonging to party.
func (p Pair[T]) Of(party Party) T {
	if party == PartyB {
		return p.B
	}
	return p.A
}

// With returns a copy of p with party's value replaced.
func (p Pair[T]) With(party Party, v T) Pair[T] {
	if party == PartyB {
		p.B = v
	} else {
		p.A = v
	}
	return p
}

func (k EntryKind) Validate() error {
	switch k {
	case KindPayment, KindDebt:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidKind, string(k))
	}
}

// Plural is used for route and table naming.
func (k EntryKind) Plural() string {
	return string(k) + "s"
}

func (pc Percentage) Validate() error {
	if pc < 0 || pc > 100 {
		return ErrInvalidPercentage
	}
	return nil
}

// Complement is party B's share when pc is party A's.
func (pc Percentage) Complement() Percentage {
	return 100 - pc
}

// Of returns the share percentage of the given party when pc belongs to A.
func (pc Percentage) Of(party Party) Percentage {
	if party == PartyB {
		return pc.Complement()
	}
	return pc
}

func (t PartyTotals) Validate() error {
	if err := t.Payments.Validate(); err != nil {
		return fmt.Errorf("payments: %w", err)
	}
	if err := t.Debts.Validate(); err != nil {
		return fmt.Errorf("debts: %w", err)
	}
	return nil
}

func (t PartyTotals) IsZero() bool {
	return t.Payments.IsZero() && t.Debts.IsZero()
}

// Add accumulates an entry value into the matching total.
func (t PartyTotals) Add(kind EntryKind, v Money) PartyTotals {
	switch kind {
	case KindPayment:
		t.Payments = t.Payments.Add(v)
	case KindDebt:
		t.Debts = t.Debts.Add(v)
	}
	return t
}

func (u User) Validate() error {
	if err := u.Party.Validate(); err != nil {
		return err
	}
	return ValidateName(u.Name, MaxUserNameLength)
}

func (e Entry) Validate() error {
	if err := e.Kind.Validate(); err != nil {
		return err
	}
	if err := ValidateName(e.Name, MaxEntryNameLength); err != nil {
		return err
	}
	return e.Value.Validate()
}

// ValidateName checks that a trimmed name is present and at most max characters.
func ValidateName(name string, max int) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrEmptyName
	}
	if len([]rune(name)) > max {
		return fmt.Errorf("%w (max %d characters)", ErrNameTooLong, max)
	}
	return nil
}

// Names returns the display names of both users.
func (s PairSnapshot) Names() Pair[string] {
	return Pair[string]{A: s.Users.A.Name, B: s.Users.B.Name}
}
