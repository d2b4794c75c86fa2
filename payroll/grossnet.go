/*
grossnet.go - Gross-to-net calculation for one employee and period

PURPOSE:
  Applies a country's RuleSet to one employee's pay-period facts and
  produces an itemized breakdown: gross, each deduction with the bracket
  that produced it, and net.

ALGORITHM:
  1. gross = base salary prorated over the period (calendar days) +
     overtime premium (hours x hourly rate x band multiplier) + bonuses
  2. For each contribution type the country profile levies, clamp the
     taxable base to the schedule's cap, subtract the allowance, and walk
     the brackets in order (standard progressive evaluation).
  3. Every monetary line is rounded to the currency's minor unit with the
     RuleSet's rounding convention; net = gross - sum(deductions), exact.

ERRORS:
  Malformed facts are rejected before calculation with
  InvalidPayPeriodFactsError. Missing rules propagate
  NoApplicableRuleSetError from the resolver. No retries happen here -
  errors surface per employee so one bad record never aborts a batch.

SEE ALSO:
  - ruleset.go: Bracket evaluation and schedule data
  - orchestrator.go: Batch execution with per-employee isolation
*/
package payroll

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// GrossNetCalculator computes one employee's breakdown. Stateless and
// safe for concurrent use.
type GrossNetCalculator struct{}

func NewGrossNetCalculator() *GrossNetCalculator {
	return &GrossNetCalculator{}
}

// Calculate applies the RuleSet to the facts. The RuleSet must already be
// resolved for the facts' country and period.
func (c *GrossNetCalculator) Calculate(profile CountryProfile, rs *RuleSet, facts PayPeriodFacts) (*CalculationResult, error) {
	if err := facts.Validate(); err != nil {
		return nil, err
	}
	if facts.Currency != rs.Currency {
		return nil, &InvalidPayPeriodFactsError{Field: "currency", Reason: "does not match ruleset currency"}
	}

	currency := rs.Currency
	rounding := rs.Rounding

	// 1. Gross: prorated base + overtime premium + bonuses.
	base := facts.BaseSalary.Mul(facts.Period.ProrationFactor())

	overtime := c.overtimePay(rs, facts).Round(rounding)

	bonuses := ZeroMoney(currency)
	for _, b := range facts.Bonuses {
		bonuses = bonuses.Add(b.Amount)
	}

	gross := base.Add(overtime).Add(bonuses).Round(rounding)
	if gross.IsNegative() {
		return nil, &InvalidPayPeriodFactsError{Field: "gross", Reason: "negative after proration"}
	}

	// 2. Deductions: walk each levied contribution's brackets.
	var deductions []Deduction
	for _, ct := range profile.Contributions {
		sched := rs.Schedule(ct)
		if sched == nil {
			continue // profile levies it, but this version defines no schedule
		}
		deductions = append(deductions, c.evaluateSchedule(*sched, gross, currency, rounding))
	}

	// 3. Net, exact against the rounded lines.
	net := gross
	for _, d := range deductions {
		net = net.Sub(d.Amount)
	}

	return &CalculationResult{
		ID:             uuid.New(),
		EmployeeID:     facts.EmployeeID,
		Country:        facts.Country,
		Period:         facts.Period,
		Gross:          gross,
		Overtime:       overtime,
		BonusTotal:     bonuses,
		Deductions:     deductions,
		Net:            net,
		Currency:       currency,
		RuleSetID:      rs.ID,
		RuleSetVersion: rs.Version,
		CreatedAt:      time.Now().UTC(),
	}, nil
}

// overtimePay walks the overtime bands over the overtime hours: each band
// covers hours up to its (cumulative) bound at its multiplier.
func (c *GrossNetCalculator) overtimePay(rs *RuleSet, facts PayPeriodFacts) Money {
	if facts.OvertimeHours.IsZero() || len(rs.Overtime.Bands) == 0 {
		return ZeroMoney(rs.Currency)
	}

	hourlyRate := facts.BaseSalary.Div(rs.Overtime.StandardMonthlyHours)

	pay := ZeroMoney(rs.Currency)
	consumed := decimal.Zero
	remaining := facts.OvertimeHours
	for _, band := range rs.Overtime.Bands {
		if remaining.IsZero() {
			break
		}
		inBand := remaining
		if band.UpToHours != nil {
			capacity := band.UpToHours.Sub(consumed)
			if capacity.IsNegative() {
				continue
			}
			if inBand.GreaterThan(capacity) {
				inBand = capacity
			}
		}
		pay = pay.Add(hourlyRate.Mul(inBand).Mul(band.Multiplier))
		consumed = consumed.Add(inBand)
		remaining = remaining.Sub(inBand)
	}
	// Hours beyond the last bounded band fall into the last band's rate
	// only when it is unbounded; otherwise they pay at the top multiplier.
	if remaining.IsPositive() {
		top := rs.Overtime.Bands[len(rs.Overtime.Bands)-1]
		pay = pay.Add(hourlyRate.Mul(remaining).Mul(top.Multiplier))
	}
	return pay
}

// evaluateSchedule runs the progressive bracket walk for one contribution
// and records which bracket topped out, for the audit trail.
func (c *GrossNetCalculator) evaluateSchedule(sched ContributionSchedule, gross Money, currency Currency, rounding RoundingMode) Deduction {
	base := sched.TaxableBase(gross.Value)
	amount := Money{Value: EvaluateBrackets(sched.Brackets, base), Currency: currency}.Round(rounding)

	top := 0
	for i, b := range sched.Brackets {
		if b.Contains(base) {
			top = i
			break
		}
		if b.Upper == nil || base.GreaterThanOrEqual(*b.Upper) {
			top = i
		}
	}

	return Deduction{
		Type:         sched.Type,
		Name:         sched.Name,
		Basis:        Money{Value: base, Currency: currency},
		Amount:       amount,
		MarginalRate: sched.Brackets[top].Rate,
		BracketIndex: top,
	}
}
