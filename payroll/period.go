package payroll

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// TIME POINT - Date abstraction (payroll resolves at day granularity)
// =============================================================================

type TimePoint struct {
	Time time.Time
}

func NewDate(year int, month time.Month, day int) TimePoint {
	return TimePoint{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

func DateOf(t time.Time) TimePoint {
	return TimePoint{Time: time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)}
}

func Today() TimePoint {
	return DateOf(time.Now().UTC())
}

func ParseDate(s string) (TimePoint, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return TimePoint{}, err
	}
	return TimePoint{Time: t}, nil
}

// Comparison
func (tp TimePoint) Before(o TimePoint) bool { return tp.normalize().Before(o.normalize()) }
func (tp TimePoint) Equal(o TimePoint) bool { return tp.normalize().Equal(o.normalize()) }
func (tp TimePoint) After(o TimePoint) bool { return tp.normalize().After(o.normalize()) }
func (tp TimePoint) BeforeOrEqual(o TimePoint) bool { return tp.Before(o) || tp.Equal(o) }
func (tp TimePoint) AfterOrEqual(o TimePoint) bool { return tp.After(o) || tp.Equal(o) }
func (tp TimePoint) IsZero() bool { return tp.Time.IsZero() }

func (tp TimePoint) normalize() time.Time {
	return time.Date(tp.Time.Year(), tp.Time.Month(), tp.Time.Day(), 0, 0, 0, 0, time.UTC)
}

// Arithmetic
func (tp TimePoint) AddDays(n int) TimePoint { return TimePoint{Time: tp.Time.AddDate(0, 0, n)} }
func (tp TimePoint) AddMonths(n int) TimePoint { return TimePoint{Time: tp.Time.AddDate(0, n, 0)} }
func (tp TimePoint) AddYears(n int) TimePoint { return TimePoint{Time: tp.Time.AddDate(n, 0, 0)} }

func (tp TimePoint) String() string { return tp.Time.Format("2006-01-02") }

func DaysBetween(from, to TimePoint) int {
	return int(to.normalize().Sub(from.normalize()).Hours() / 24)
}

// =============================================================================
// PAY PERIOD - Inclusive date range for one payroll cycle
// =============================================================================

type PayPeriod struct {
	Start TimePoint
	End   TimePoint
}

func NewPayPeriod(start, end TimePoint) PayPeriod {
	return PayPeriod{Start: start, End: end}
}

// MonthPeriod returns the full calendar month containing the given year/month.
func MonthPeriod(year int, month time.Month) PayPeriod {
	start := NewDate(year, month, 1)
	end := start.AddMonths(1).AddDays(-1)
	return PayPeriod{Start: start, End: end}
}

func (p PayPeriod) Valid() bool {
	return !p.Start.IsZero() && !p.End.IsZero() && !p.End.Before(p.Start)
}

// Days returns the number of calendar days in the period, inclusive.
func (p PayPeriod) Days() int {
	return DaysBetween(p.Start, p.End) + 1
}

// DaysInMonth returns the calendar days of the month the period starts in.
// Proration is computed against the start month by convention: a period
// crossing a month boundary is prorated against its opening month.
func (p PayPeriod) DaysInMonth() int {
	start := NewDate(p.Start.Time.Year(), p.Start.Time.Month(), 1)
	return DaysBetween(start, start.AddMonths(1))
}

// ProrationFactor returns days-in-period / days-in-month as an exact ratio.
// A full calendar month yields exactly 1.
func (p PayPeriod) ProrationFactor() decimal.Decimal {
	return decimal.NewFromInt(int64(p.Days())).Div(decimal.NewFromInt(int64(p.DaysInMonth())))
}

// IsFullMonth reports whether the period covers exactly one calendar month.
func (p PayPeriod) IsFullMonth() bool {
	return p.Start.Time.Day() == 1 && p.End.Equal(p.Start.AddMonths(1).AddDays(-1))
}

func (p PayPeriod) String() string {
	return p.Start.String() + ".." + p.End.String()
}

// =============================================================================
// TENURE - Completed service units for severance formulas
// =============================================================================

// CompletedMonths returns the number of whole months of service between
// hire and termination. Partial months do not count.
func CompletedMonths(hire, termination TimePoint) int {
	if termination.Before(hire) {
		return 0
	}
	months := 0
	for !hire.AddMonths(months + 1).After(termination) {
		months++
	}
	return months
}

// CompletedYears returns whole years of service.
func CompletedYears(hire, termination TimePoint) int {
	return CompletedMonths(hire, termination) / 12
}
