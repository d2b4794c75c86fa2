package payroll

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// PAY PERIOD FACTS - Per-employee input for one calculation
// =============================================================================

// PayPeriodFacts is the employee-specific input for one pay period,
// supplied by the attendance subsystem. Read-only to the engine.
type PayPeriodFacts struct {
	EmployeeID    EmployeeID
	Country       CountryCode
	Period        PayPeriod
	BaseSalary    Money // monthly
	HoursWorked   decimal.Decimal
	OvertimeHours decimal.Decimal
	Bonuses       []Bonus
	Currency      Currency
}

type Bonus struct {
	Name   string
	Amount Money
}

// Validate rejects malformed facts before any calculation runs.
// One bad record must fail loudly for that employee, never silently default.
func (f PayPeriodFacts) Validate() error {
	if f.EmployeeID == "" {
		return &InvalidPayPeriodFactsError{Field: "employee_id", Reason: "required"}
	}
	if f.Country == "" {
		return &InvalidPayPeriodFactsError{Field: "country", Reason: "required"}
	}
	if !f.Period.Valid() {
		return &InvalidPayPeriodFactsError{Field: "period", Reason: "end before start"}
	}
	if f.BaseSalary.IsNegative() {
		return &InvalidPayPeriodFactsError{Field: "base_salary", Reason: "negative"}
	}
	if f.HoursWorked.IsNegative() {
		return &InvalidPayPeriodFactsError{Field: "hours_worked", Reason: "negative"}
	}
	if f.OvertimeHours.IsNegative() {
		return &InvalidPayPeriodFactsError{Field: "overtime_hours", Reason: "negative"}
	}
	if f.Currency == "" {
		return &InvalidPayPeriodFactsError{Field: "currency", Reason: "required"}
	}
	return nil
}

// =============================================================================
// TERMINATION FACTS - Input for a severance calculation
// =============================================================================

type TerminationFacts struct {
	EmployeeID       EmployeeID
	Country          CountryCode
	HireDate         TimePoint
	TerminationDate  TimePoint
	Type             TerminationType
	LastSalary       Money // monthly
	AccruedLeaveDays decimal.Decimal
	Currency         Currency
}

func (f TerminationFacts) Validate() error {
	if f.EmployeeID == "" {
		return &InvalidTerminationFactsError{Field: "employee_id", Reason: "required"}
	}
	if f.Country == "" {
		return &InvalidTerminationFactsError{Field: "country", Reason: "required"}
	}
	if f.HireDate.IsZero() || f.TerminationDate.IsZero() {
		return &InvalidTerminationFactsError{Field: "dates", Reason: "hire and termination dates required"}
	}
	if f.TerminationDate.Before(f.HireDate) {
		return &InvalidTerminationFactsError{Field: "termination_date", Reason: "before hire date"}
	}
	if !f.Type.Valid() {
		return &InvalidTerminationFactsError{Field: "type", Reason: "unknown termination type"}
	}
	if f.LastSalary.IsNegative() {
		return &InvalidTerminationFactsError{Field: "last_salary", Reason: "negative"}
	}
	if f.AccruedLeaveDays.IsNegative() {
		return &InvalidTerminationFactsError{Field: "accrued_leave_days", Reason: "negative"}
	}
	return nil
}

// TenureMonths returns completed months of service.
func (f TerminationFacts) TenureMonths() int {
	return CompletedMonths(f.HireDate, f.TerminationDate)
}
