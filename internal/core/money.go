// Package core provides the value objects shared by the ledger and the settlement engine.
//
// This file contains the Money type. Amounts are whole currency units; there are
// no fractional units in this domain, so all arithmetic is exact int64 math.
package core

import (
	"strconv"
	"strings"
	"unicode"
)

// Money is a non-negative amount of whole currency units.
type Money struct {
	Units int64
}

// NewMoney is shorthand for Money{Units: n}.
func NewMoney(n int64) Money {
	return Money{Units: n}
}

func (m Money) Validate() error {
	if m.Units < 0 {
		return ErrNegativeAmount
	}
	return nil
}

func (m Money) IsZero() bool {
	return m.Units == 0
}

func (m Money) Add(o Money) Money {
	return Money{Units: m.Units + o.Units}
}

// Sub may return a negative Money; callers comparing signed balances use it.
func (m Money) Sub(o Money) Money {
	return Money{Units: m.Units - o.Units}
}

// Abs returns the magnitude of m.
func (m Money) Abs() Money {
	if m.Units < 0 {
		return Money{Units: -m.Units}
	}
	return m
}

// ParseAmount converts user input such as "12000", "12.000" or "12,000" to Money.
//
// Thousands separators (dot, comma, space, apostrophe) are accepted anywhere between
// digits. Fractional units are not part of the domain, so input like "12.5" is rejected:
// a separator must be followed by exactly three digits. Zero is allowed.
func ParseAmount(s string) (Money, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Money{}, ErrInvalidAmount
	}
	if strings.HasPrefix(s, "-") {
		return Money{}, ErrNegativeAmount
	}
	s = strings.TrimPrefix(s, "+")

	var digits strings.Builder
	group := -1 // digits seen since the last separator, -1 before any separator
	for i, r := range s {
		switch {
		case unicode.IsDigit(r):
			digits.WriteRune(r)
			if group >= 0 {
				group++
			}
		case r == '.' || r == ',' || r == ' ' || r == '\'':
			if i == 0 || (group >= 0 && group != 3) {
				return Money{}, ErrInvalidAmount
			}
			group = 0
		default:
			return Money{}, ErrInvalidAmount
		}
	}
	if group >= 0 && group != 3 {
		return Money{}, ErrInvalidAmount
	}

	v, err := strconv.ParseInt(digits.String(), 10, 64)
	if err != nil {
		return Money{}, ErrInvalidAmount
	}
	return Money{Units: v}, nil
}

func (m Money) String() string {
	return strconv.FormatInt(m.Units, 10)
}
