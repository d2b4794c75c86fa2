/*
Package payroll provides the core multi-country payroll calculation engine.

PURPOSE:
  This package contains the country-agnostic types and algorithms for turning
  an employee's pay-period facts (salary, hours, bonuses) into a legally
  compliant gross-to-net breakdown, and termination facts into a severance
  payout. Country differences live in data (RuleSet), never in code paths.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: A monetary amount in a specific currency
  - CountryCode / Currency: Jurisdiction and denomination identifiers
  - RoundingMode: Per-country rounding convention for monetary lines
  - Employee / Company IDs: Type-safe identifiers

DESIGN PRINCIPLES:
  1. Immutability: RuleSets and results are never modified after creation
  2. Precision: Uses decimal.Decimal to avoid floating-point errors
  3. Data-driven: Brackets, multipliers and severance applicability are
     RuleSet data - adding a country requires new rows, not new branches
  4. Reproducibility: Every result records the RuleSet version that produced
     it, and resolving the same (country, date) always yields that version

USAGE:
  gross := payroll.NewMoney(15000, "MXN")
  net := gross.Sub(deductions)

SEE ALSO:
  - ruleset.go: Versioned country rule data
  - grossnet.go: Gross-to-net calculation
  - severance.go: Termination payout calculation
*/
package payroll

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Monetary amount with currency
// =============================================================================

type Currency string

const (
	CurrencyMXN Currency = "MXN"
	CurrencyBRL Currency = "BRL"
	CurrencyUSD Currency = "USD"
)

// MinorUnits returns the number of decimal places for the currency's
// smallest unit. All shipped currencies use 2.
func (c Currency) MinorUnits() int32 {
	return 2
}

type Money struct {
	Value    decimal.Decimal
	Currency Currency
}

func NewMoney(value float64, currency Currency) Money {
	return Money{Value: decimal.NewFromFloat(value), Currency: currency}
}

func NewMoneyFromInt(value int, currency Currency) Money {
	return Money{Value: decimal.NewFromInt(int64(value)), Currency: currency}
}

func ZeroMoney(currency Currency) Money {
	return Money{Value: decimal.Zero, Currency: currency}
}

func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func (m Money) Zero() Money { return Money{Value: decimal.Zero, Currency: m.Currency} }
func (m Money) Add(b Money) Money { return Money{Value: m.Value.Add(b.Value), Currency: m.Currency} }
func (m Money) Sub(b Money) Money { return Money{Value: m.Value.Sub(b.Value), Currency: m.Currency} }
func (m Money) Mul(s decimal.Decimal) Money { return Money{Value: m.Value.Mul(s), Currency: m.Currency} }
func (m Money) Div(s decimal.Decimal) Money { return Money{Value: m.Value.Div(s), Currency: m.Currency} }
func (m Money) Neg() Money { return Money{Value: m.Value.Neg(), Currency: m.Currency} }
func (m Money) IsNegative() bool { return m.Value.IsNegative() }
func (m Money) IsZero() bool { return m.Value.IsZero() }
func (m Money) IsPositive() bool { return m.Value.IsPositive() }
func (m Money) GreaterThan(b Money) bool { return m.Value.GreaterThan(b.Value) }
func (m Money) LessThan(b Money) bool { return m.Value.LessThan(b.Value) }
func (m Money) Equal(b Money) bool { return m.Value.Equal(b.Value) && m.Currency == b.Currency }

// Round rounds to the currency's minor unit using the given convention.
func (m Money) Round(mode RoundingMode) Money {
	places := m.Currency.MinorUnits()
	switch mode {
	case RoundHalfUp:
		return Money{Value: m.Value.Round(places), Currency: m.Currency}
	default: // RoundHalfEven
		return Money{Value: m.Value.RoundBank(places), Currency: m.Currency}
	}
}

// =============================================================================
// ROUNDING - Per-RuleSet convention, jurisdiction-specific
// =============================================================================

// RoundingMode is carried on the RuleSet so the convention can vary by
// country without code changes.
type RoundingMode string

const (
	// RoundHalfEven (banker's rounding) avoids systematic bias across
	// repeated payroll runs. Default for all shipped country data.
	RoundHalfEven RoundingMode = "half_even"

	// RoundHalfUp rounds .5 away from zero.
	RoundHalfUp RoundingMode = "half_up"
)

func (r RoundingMode) Valid() bool {
	return r == RoundHalfEven || r == RoundHalfUp
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

// CountryCode is an ISO 3166-1 alpha-2 code ("MX", "BR").
type CountryCode string

type EmployeeID string
type CompanyID string

// =============================================================================
// EMPLOYEE - Minimal master record backing the facts registry
// =============================================================================

// Employee is the engine's view of an employee: just enough to resolve
// default pay-period facts when the attendance subsystem has not pushed
// period-specific hours yet.
type Employee struct {
	ID         EmployeeID
	CompanyID  CompanyID
	Name       string
	Country    CountryCode
	Currency   Currency
	BaseSalary Money // monthly
	HireDate   TimePoint
	CreatedAt  TimePoint
}

// =============================================================================
// TERMINATION TYPES
// =============================================================================

type TerminationType string

const (
	TerminationVoluntary               TerminationType = "voluntary"
	TerminationInvoluntaryWithCause    TerminationType = "involuntary_with_cause"
	TerminationInvoluntaryWithoutCause TerminationType = "involuntary_without_cause"
)

func (t TerminationType) Valid() bool {
	switch t {
	case TerminationVoluntary, TerminationInvoluntaryWithCause, TerminationInvoluntaryWithoutCause:
		return true
	}
	return false
}
