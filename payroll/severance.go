/*
severance.go - Termination payout calculation

PURPOSE:
  Applies a country's severance rules to termination facts and produces an
  itemized payout. Tenure is computed in completed units, then every
  component the RuleSet defines is evaluated independently and summed.

DATA-DRIVEN APPLICABILITY:
  Which components a termination type owes is RuleSet data (AppliesTo on
  each rule), never a compiled branch per country. A voluntary resignation
  typically excludes tenure indemnity and notice-in-lieu while keeping the
  accrued-leave payout - but that policy comes from the rule rows, so
  adding a country requires no code change.

  Components defined for the country but not owed for this termination are
  itemized at zero with the reason, so payout documents explain themselves.

SEE ALSO:
  - ruleset.go: SeveranceRule data shapes
  - period.go: Completed-tenure arithmetic
*/
package payroll

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SeveranceCalculator computes termination payouts. Stateless and safe
// for concurrent use.
type SeveranceCalculator struct{}

func NewSeveranceCalculator() *SeveranceCalculator {
	return &SeveranceCalculator{}
}

// Calculate applies the RuleSet's severance rules to the facts.
func (c *SeveranceCalculator) Calculate(rs *RuleSet, facts TerminationFacts) (*SeveranceResult, error) {
	if err := facts.Validate(); err != nil {
		return nil, err
	}
	if facts.Currency != rs.Currency {
		return nil, &InvalidTerminationFactsError{Field: "currency", Reason: "does not match ruleset currency"}
	}

	currency := rs.Currency
	rounding := rs.Rounding
	tenureMonths := facts.TenureMonths()

	// The severance section is optional rule data; a country that ships
	// none owes an empty payout, not an error.
	dailyRate := ZeroMoney(currency)
	if rs.Severance.DailyRateDivisor.IsPositive() {
		dailyRate = facts.LastSalary.Div(rs.Severance.DailyRateDivisor)
	}

	lines := make([]SeveranceLine, 0, len(rs.Severance.Components))
	total := ZeroMoney(currency)
	for _, rule := range rs.Severance.Components {
		line := c.evaluateComponent(rule, facts, tenureMonths, dailyRate, rounding)
		total = total.Add(line.Amount)
		lines = append(lines, line)
	}

	return &SeveranceResult{
		ID:              uuid.New(),
		EmployeeID:      facts.EmployeeID,
		Country:         facts.Country,
		TerminationType: facts.Type,
		TenureMonths:    tenureMonths,
		DailyRate:       dailyRate.Round(rounding),
		Lines:           lines,
		Total:           total,
		Currency:        currency,
		RuleSetID:       rs.ID,
		RuleSetVersion:  rs.Version,
		CreatedAt:       time.Now().UTC(),
	}, nil
}

func (c *SeveranceCalculator) evaluateComponent(rule SeveranceRule, facts TerminationFacts, tenureMonths int, dailyRate Money, rounding RoundingMode) SeveranceLine {
	zero := SeveranceLine{
		Component: rule.Component,
		Amount:    dailyRate.Zero(),
	}

	if !rule.AppliesToType(facts.Type) {
		zero.Reason = "not owed for termination type " + string(facts.Type)
		return zero
	}
	if tenureMonths < rule.MinTenureMonths {
		zero.Reason = "below minimum tenure"
		return zero
	}

	var days decimal.Decimal
	if rule.Component == ComponentAccruedLeave {
		// accrued leave: unused days x (1 + premium), independent of tenure
		days = facts.AccruedLeaveDays.Mul(one.Add(rule.PremiumRate))
	} else {
		units := decimal.NewFromInt(int64(tenureMonths))
		if rule.TenureUnit == TenureYears {
			units = decimal.NewFromInt(int64(tenureMonths / 12))
		}
		days = rule.BaseDays.Add(rule.DaysPerUnit.Mul(units))
		if rule.CapDays != nil && days.GreaterThan(*rule.CapDays) {
			days = *rule.CapDays
		}
	}

	amount := dailyRate.Mul(days).Round(rounding)
	return SeveranceLine{
		Component: rule.Component,
		Days:      days,
		Amount:    amount,
		Applied:   true,
	}
}
