/*
number.go - Billing periods and the YY/MM/NNNN invoice number format

PURPOSE:
  An invoice number encodes the period it was issued in plus an ordinal
  within that period: "24/11/0001" is the first invoice of November 2024.
  This file owns parsing and formatting. Allocation lives in allocator.go.

PERIOD BOUNDARIES:
  A Period is a calendar month. Start/End form a half-open range
  [Start, End) in a given location, so a lesson at 00:00 on the 1st of
  the next month belongs to the next period.

SEE ALSO:
  - allocator.go: sequence allocation and manual reconciliation
*/
package invoice

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
)

// MaxSequence is the highest ordinal a four-digit sequence can carry.
const MaxSequence = 9999

var numberPattern = regexp.MustCompile(`^(\d{2})/(\d{2})/(\d{4})$`)

// =============================================================================
// PERIOD
// =============================================================================

// Period is a calendar month. Sequences are kept per (workspace, period).
type Period struct {
	Year  int
	Month time.Month
}

// NewPeriod validates and returns a period.
func NewPeriod(year, month int) (Period, error) {
	p := Period{Year: year, Month: time.Month(month)}
	return p, p.Validate()
}

// PeriodOf returns the period containing t, in t's location.
func PeriodOf(t time.Time) Period {
	return Period{Year: t.Year(), Month: t.Month()}
}

func (p Period) Validate() error {
	if p.Year < 1970 || p.Year > 9999 {
		return errors.Wrapf(ErrInvalidPeriod, "year %d out of range", p.Year)
	}
	if p.Month < time.January || p.Month > time.December {
		return errors.Wrapf(ErrInvalidPeriod, "month %d out of range", int(p.Month))
	}
	return nil
}

// Start is the first instant of the period in loc.
func (p Period) Start(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(p.Year, p.Month, 1, 0, 0, 0, 0, loc)
}

// End is the first instant of the following period (exclusive).
func (p Period) End(loc *time.Location) time.Time {
	return p.Start(loc).AddDate(0, 1, 0)
}

// Contains reports whether t falls within [Start, End) in loc.
func (p Period) Contains(t time.Time, loc *time.Location) bool {
	return !t.Before(p.Start(loc)) && t.Before(p.End(loc))
}

// Prev returns the preceding calendar month.
func (p Period) Prev() Period {
	if p.Month == time.January {
		return Period{Year: p.Year - 1, Month: time.December}
	}
	return Period{Year: p.Year, Month: p.Month - 1}
}

func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month))
}

// =============================================================================
// NUMBER
// =============================================================================

// Number is a parsed invoice number.
type Number struct {
	YY       int
	MM       int
	Sequence int
}

// ParseNumber parses "YY/MM/NNNN". Month must be 01..12 and sequence at least 1.
func ParseNumber(s string) (Number, error) {
	m := numberPattern.FindStringSubmatch(s)
	if m == nil {
		return Number{}, errors.WithHintf(
			errors.Wrapf(ErrInvalidNumberFormat, "%q", s),
			"invoice numbers look like YY/MM/NNNN, e.g. 24/11/0001")
	}
	yy, _ := strconv.Atoi(m[1])
	mm, _ := strconv.Atoi(m[2])
	seq, _ := strconv.Atoi(m[3])
	if mm < 1 || mm > 12 {
		return Number{}, errors.Wrapf(ErrInvalidNumberFormat, "%q: month %02d", s, mm)
	}
	if seq == 0 {
		return Number{}, errors.Wrapf(ErrInvalidNumberFormat, "%q: sequence starts at 0001", s)
	}
	return Number{YY: yy, MM: mm, Sequence: seq}, nil
}

// InPeriod reports whether the number's YY/MM matches p.
func (n Number) InPeriod(p Period) bool {
	return n.YY == p.Year%100 && n.MM == int(p.Month)
}

func (n Number) String() string {
	return fmt.Sprintf("%02d/%02d/%04d", n.YY, n.MM, n.Sequence)
}

// FormatNumber renders the seq-th number of period p.
func FormatNumber(p Period, seq int) (string, error) {
	if seq < 1 {
		return "", errors.Newf("sequence %d must be positive", seq)
	}
	if seq > MaxSequence {
		return "", errors.Wrapf(ErrSequenceExhausted, "period %s reached %d", p, seq)
	}
	return Number{YY: p.Year % 100, MM: int(p.Month), Sequence: seq}.String(), nil
}
