// Package amount turns the free-form currency strings stored on transactions
// into numbers. The raw string stays the source of truth; every value here is
// derived on read.
package amount

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// A single separator kind used strictly as thousands grouping, e.g. 100,000 or 1.234.567
	groupedComma  = regexp.MustCompile(`^[1-9]\d{0,2}(,\d{3})+$`)
	groupedPeriod = regexp.MustCompile(`^[1-9]\d{0,2}(\.\d{3})+$`)

	numericPrefix = regexp.MustCompile(`^\d*\.?\d*`)
	looksNumeric  = regexp.MustCompile(`^\s*[+-]?(\d+\.?\d*|\.\d+)`)
)

// Normalize parses a currency string such as "$1,234.50", "1.234,50" or
// "150,000 VND" into its magnitude. It never fails: anything that cannot be
// read as a number yields 0. Signs are not represented.
func Normalize(raw string) float64 {
	prefix := numericPrefix.FindString(Canonical(raw))
	if strings.Trim(prefix, ".") == "" {
		return 0
	}

	v, err := strconv.ParseFloat(prefix, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// Canonical strips everything except digits and separators from raw and
// rewrites the separators so that '.' is the only decimal point.
func Canonical(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if (r >= '0' && r <= '9') || r == ',' || r == '.' {
			b.WriteRune(r)
		}
	}
	s := b.String()

	comma := strings.Index(s, ",")
	period := strings.Index(s, ".")

	switch {
	case comma >= 0 && period >= 0 && comma > period:
		// 1.234,50
		s = strings.ReplaceAll(s, ".", "")
		if last := strings.LastIndex(s, ","); last >= 0 {
			s = s[:last] + "." + s[last+1:]
		}
	case comma >= 0 && period >= 0:
		// 1,234.50
		s = strings.ReplaceAll(s, ",", "")
	case comma >= 0:
		if groupedComma.MatchString(s) {
			return strings.ReplaceAll(s, ",", "")
		}
		s = strings.Replace(s, ",", ".", 1)
	case period >= 0:
		if groupedPeriod.MatchString(s) {
			return strings.ReplaceAll(s, ".", "")
		}
	}
	return s
}

// Valid reports whether raw starts with something a user would call a number.
// It is stricter than Normalize, which silently drops currency symbols.
func Valid(raw string) bool {
	return looksNumeric.MatchString(raw)
}

// String renders v the way it is matched by free-text search: the shortest
// decimal form, without grouping or trailing zeros.
func String(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Accumulator sums amounts exactly, so a total does not depend on the order
// in which records arrived.
type Accumulator struct {
	total decimal.Decimal
}

// Add adds v to the running total.
func (a *Accumulator) Add(v float64) {
	a.total = a.total.Add(decimal.NewFromFloat(v))
}

// Float64 returns the running total.
func (a Accumulator) Float64() float64 {
	f, _ := a.total.Float64()
	return f
}

// Sum adds values exactly and returns the result as a float64.
func Sum(values ...float64) float64 {
	var acc Accumulator
	for _, v := range values {
		acc.Add(v)
	}
	return acc.Float64()
}
