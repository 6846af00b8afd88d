package settlement

import (
	"strings"

	"github.com/dustin/go-humanize"

	"pairxpenses/internal/core"
)

// Formatter renders an amount for the narrative lines.
type Formatter interface {
	Format(core.Money) string
}

// FormatterFunc adapts a plain function to Formatter.
type FormatterFunc func(core.Money) string

func (f FormatterFunc) Format(m core.Money) string { return f(m) }

// CurrencyFormatter renders whole-unit amounts as "<symbol> 1.234.567".
type CurrencyFormatter struct {
	Symbol    string
	Separator string
}

// DefaultFormatter matches the peso style used by the pair: "$ 1.234.567".
var DefaultFormatter = CurrencyFormatter{Symbol: "$", Separator: "."}

func (c CurrencyFormatter) Format(m core.Money) string {
	sep := c.Separator
	if sep == "" {
		sep = ","
	}
	s := humanize.Comma(m.Units)
	if sep != "," {
		s = strings.ReplaceAll(s, ",", sep)
	}
	if c.Symbol == "" {
		return s
	}
	return c.Symbol + " " + s
}
