/*
ruleset.go - Versioned, immutable country rule data

PURPOSE:
  A RuleSet is a snapshot of everything jurisdiction-specific the engine
  needs: contribution brackets and caps, overtime multiplier bands,
  severance component formulas, and conventions (rounding, rate divisors).
  RuleSets are resolved by (country, date) and never mutated - a correction
  produces a new version, so historical payslips stay reproducible.

KEY CONCEPTS:
  - RuleSet: One version of one country's rules, valid over a date interval
  - Bracket: [Lower, Upper) range with a marginal rate (plus optional fixed
    surcharge at entry); brackets are contiguous and the last is unbounded
  - ContributionSchedule: Ordered brackets + cap + allowance for one
    contribution type
  - OvertimeBand: Premium multiplier bands over overtime hours
  - SeveranceRule: Data-driven applicability and formula for one payout
    component per termination type

VALIDATION:
  Validate() enforces the structural invariants before a RuleSet may be
  committed: contiguous monotonically increasing brackets, rates in [0,1],
  unbounded last bracket, non-negative caps, a present checksum, and a
  known rounding convention. Corrupt compliance data must never become
  queryable.

SEE ALSO:
  - resolver.go: (country, date) -> RuleSet resolution
  - store.go: Append-only persistence contract
  - countries/: Shipped rule data for Mexico and Brazil
*/
package payroll

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// BRACKET - Progressive rate band
// =============================================================================

// Bracket is a half-open range [Lower, Upper) of taxable amount.
// Upper == nil means unbounded (the mandatory last bracket).
// Rate is marginal: it applies only to the slice of the base inside the
// bracket. Fixed, when present, is charged once when the base enters the
// bracket.
type Bracket struct {
	Lower decimal.Decimal
	Upper *decimal.Decimal
	Rate  decimal.Decimal
	Fixed decimal.Decimal
}

// Contains reports whether the taxable base falls inside this bracket.
func (b Bracket) Contains(base decimal.Decimal) bool {
	if base.LessThan(b.Lower) {
		return false
	}
	return b.Upper == nil || base.LessThan(*b.Upper)
}

// EvaluateBrackets computes the progressive deduction for a taxable base
// against an ordered, contiguous bracket list. Each bracket contributes
// (min(upper, base) - lower) x rate, plus its fixed surcharge once entered.
// The piecewise function is continuous at bracket boundaries when fixed
// surcharges are zero.
func EvaluateBrackets(brackets []Bracket, base decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	if base.IsNegative() {
		return total
	}
	for _, b := range brackets {
		if base.LessThanOrEqual(b.Lower) {
			break
		}
		slice := base.Sub(b.Lower)
		if b.Upper != nil {
			width := b.Upper.Sub(b.Lower)
			if slice.GreaterThan(width) {
				slice = width
			}
		}
		total = total.Add(slice.Mul(b.Rate)).Add(b.Fixed)
	}
	return total
}

// =============================================================================
// CONTRIBUTION SCHEDULE - Brackets + cap for one deduction type
// =============================================================================

// ContributionSchedule holds the bracket table for one contribution type.
//
// BaseCap, when set, clamps the taxable base before bracket evaluation
// (e.g. social-security contribution ceilings). Allowance, when set, is
// subtracted from the base first (never below zero).
type ContributionSchedule struct {
	Type      ContributionType
	Name      string // statutory short name, e.g. "ISR", "INSS"
	BaseCap   *decimal.Decimal
	Allowance decimal.Decimal
	Brackets  []Bracket
}

// TaxableBase applies the schedule's cap and allowance to a gross base.
func (s ContributionSchedule) TaxableBase(gross decimal.Decimal) decimal.Decimal {
	base := gross
	if s.BaseCap != nil && base.GreaterThan(*s.BaseCap) {
		base = *s.BaseCap
	}
	base = base.Sub(s.Allowance)
	if base.IsNegative() {
		return decimal.Zero
	}
	return base
}

// =============================================================================
// OVERTIME - Premium multiplier bands
// =============================================================================

// OvertimeBand covers overtime hours up to UpToHours (cumulative across
// bands; nil = unbounded last band) at the given pay multiplier.
type OvertimeBand struct {
	UpToHours  *decimal.Decimal
	Multiplier decimal.Decimal
}

type OvertimeRules struct {
	Bands []OvertimeBand
	// StandardMonthlyHours converts the monthly salary into an hourly rate.
	StandardMonthlyHours decimal.Decimal
}

// =============================================================================
// SEVERANCE RULES - Data-driven termination payout components
// =============================================================================

// SeveranceComponent names one independently computed payout element.
type SeveranceComponent string

const (
	ComponentTenureIndemnity  SeveranceComponent = "tenure_indemnity"
	ComponentNoticeInLieu     SeveranceComponent = "notice_in_lieu"
	ComponentAccruedLeave     SeveranceComponent = "accrued_leave"
	ComponentSeniorityPremium SeveranceComponent = "seniority_premium"
)

// TenureUnit selects the service unit a day-based formula multiplies over.
type TenureUnit string

const (
	TenureMonths TenureUnit = "months"
	TenureYears  TenureUnit = "years"
)

// SeveranceRule is the formula and applicability for one component.
// Which components apply for a termination type is configuration, not a
// compiled branch - adding a country means new rule rows, not new code.
//
// Day-based components compute:
//   days   = BaseDays + DaysPerUnit x completed tenure units   (capped)
//   amount = days x (last salary / DailyRateDivisor)
// The accrued-leave component instead computes:
//   amount = unused days x daily rate x (1 + PremiumRate)
type SeveranceRule struct {
	Component       SeveranceComponent
	AppliesTo       []TerminationType
	MinTenureMonths int
	BaseDays        decimal.Decimal
	DaysPerUnit     decimal.Decimal
	TenureUnit      TenureUnit
	CapDays         *decimal.Decimal
	PremiumRate     decimal.Decimal
}

// AppliesToType reports whether the component is owed for the termination type.
func (r SeveranceRule) AppliesToType(t TerminationType) bool {
	for _, tt := range r.AppliesTo {
		if tt == t {
			return true
		}
	}
	return false
}

type SeveranceRules struct {
	// DailyRateDivisor converts monthly salary to a daily rate (typically 30).
	DailyRateDivisor decimal.Decimal
	Components       []SeveranceRule
}

// =============================================================================
// RULE SET - One immutable version of one country's rules
// =============================================================================

type RuleSet struct {
	ID             uuid.UUID
	Country        CountryCode
	Currency       Currency
	Version        int
	EffectiveFrom  TimePoint
	EffectiveTo    *TimePoint // nil = open-ended (current head)
	SourceChecksum string
	Rounding       RoundingMode

	// MinimumWage is the statutory monthly minimum, kept as reference data
	// for downstream reporting.
	MinimumWage decimal.Decimal

	Contributions []ContributionSchedule
	Overtime      OvertimeRules
	Severance     SeveranceRules

	CreatedAt TimePoint
}

// ContainsDate reports whether the validity interval [EffectiveFrom,
// EffectiveTo) covers the given date.
func (rs *RuleSet) ContainsDate(at TimePoint) bool {
	if at.Before(rs.EffectiveFrom) {
		return false
	}
	return rs.EffectiveTo == nil || at.Before(*rs.EffectiveTo)
}

// Schedule returns the contribution schedule for the given type, or nil.
func (rs *RuleSet) Schedule(ct ContributionType) *ContributionSchedule {
	for i := range rs.Contributions {
		if rs.Contributions[i].Type == ct {
			return &rs.Contributions[i]
		}
	}
	return nil
}

// SeveranceRuleFor returns the rule for a component, or nil if the country
// doesn't define it.
func (rs *RuleSet) SeveranceRuleFor(c SeveranceComponent) *SeveranceRule {
	for i := range rs.Severance.Components {
		if rs.Severance.Components[i].Component == c {
			return &rs.Severance.Components[i]
		}
	}
	return nil
}

// =============================================================================
// VALIDATION - Structural integrity, enforced before any commit
// =============================================================================

var one = decimal.NewFromInt(1)

// Validate checks the structural invariants of the rule data. A RuleSet
// that fails validation must never be committed to the store.
func (rs *RuleSet) Validate() error {
	var violations []string

	if rs.Country == "" {
		violations = append(violations, "country is required")
	}
	if rs.Currency == "" {
		violations = append(violations, "currency is required")
	}
	if rs.EffectiveFrom.IsZero() {
		violations = append(violations, "effective_from is required")
	}
	if rs.EffectiveTo != nil && !rs.EffectiveFrom.Before(*rs.EffectiveTo) {
		violations = append(violations, "effective_to must be after effective_from")
	}
	if rs.SourceChecksum == "" {
		violations = append(violations, "source_checksum is required")
	}
	if !rs.Rounding.Valid() {
		violations = append(violations, fmt.Sprintf("unknown rounding mode %q", rs.Rounding))
	}
	if len(rs.Contributions) == 0 {
		violations = append(violations, "at least one contribution schedule is required")
	}

	seen := make(map[ContributionType]bool)
	for _, sched := range rs.Contributions {
		prefix := fmt.Sprintf("contribution %s", sched.Type)
		if !sched.Type.Valid() {
			violations = append(violations, prefix+": unknown contribution type")
		}
		if seen[sched.Type] {
			violations = append(violations, prefix+": duplicate schedule")
		}
		seen[sched.Type] = true
		if sched.BaseCap != nil && sched.BaseCap.IsNegative() {
			violations = append(violations, prefix+": negative base cap")
		}
		if sched.Allowance.IsNegative() {
			violations = append(violations, prefix+": negative allowance")
		}
		violations = append(violations, validateBrackets(prefix, sched.Brackets)...)
	}

	if rs.Overtime.StandardMonthlyHours.IsNegative() || rs.Overtime.StandardMonthlyHours.IsZero() {
		if len(rs.Overtime.Bands) > 0 {
			violations = append(violations, "overtime: standard monthly hours must be positive")
		}
	}
	prevCap := decimal.Zero
	for i, band := range rs.Overtime.Bands {
		if band.Multiplier.LessThan(one) {
			violations = append(violations, fmt.Sprintf("overtime band %d: multiplier below 1", i))
		}
		if band.UpToHours == nil {
			if i != len(rs.Overtime.Bands)-1 {
				violations = append(violations, fmt.Sprintf("overtime band %d: only the last band may be unbounded", i))
			}
			continue
		}
		if !band.UpToHours.GreaterThan(prevCap) {
			violations = append(violations, fmt.Sprintf("overtime band %d: bounds must increase", i))
		}
		prevCap = *band.UpToHours
	}

	if len(rs.Severance.Components) > 0 && !rs.Severance.DailyRateDivisor.IsPositive() {
		violations = append(violations, "severance: daily rate divisor must be positive")
	}
	for _, rule := range rs.Severance.Components {
		prefix := fmt.Sprintf("severance %s", rule.Component)
		if len(rule.AppliesTo) == 0 {
			violations = append(violations, prefix+": applies_to is empty")
		}
		for _, tt := range rule.AppliesTo {
			if !tt.Valid() {
				violations = append(violations, fmt.Sprintf("%s: unknown termination type %q", prefix, tt))
			}
		}
		if rule.MinTenureMonths < 0 {
			violations = append(violations, prefix+": negative minimum tenure")
		}
		if rule.BaseDays.IsNegative() || rule.DaysPerUnit.IsNegative() {
			violations = append(violations, prefix+": negative day counts")
		}
		if rule.PremiumRate.IsNegative() {
			violations = append(violations, prefix+": negative premium rate")
		}
		if rule.TenureUnit != TenureMonths && rule.TenureUnit != TenureYears && !rule.DaysPerUnit.IsZero() {
			violations = append(violations, prefix+": unknown tenure unit")
		}
	}

	if len(violations) > 0 {
		return &RuleValidationError{Country: rs.Country, Violations: violations}
	}
	return nil
}

func validateBrackets(prefix string, brackets []Bracket) []string {
	var violations []string
	if len(brackets) == 0 {
		return append(violations, prefix+": no brackets")
	}
	if !brackets[0].Lower.IsZero() {
		violations = append(violations, prefix+": first bracket must start at 0")
	}
	for i, b := range brackets {
		if b.Rate.IsNegative() || b.Rate.GreaterThan(one) {
			violations = append(violations, fmt.Sprintf("%s bracket %d: rate outside [0,1]", prefix, i))
		}
		if b.Fixed.IsNegative() {
			violations = append(violations, fmt.Sprintf("%s bracket %d: negative fixed amount", prefix, i))
		}
		last := i == len(brackets)-1
		if last {
			if b.Upper != nil {
				violations = append(violations, fmt.Sprintf("%s bracket %d: last bracket must be unbounded", prefix, i))
			}
			continue
		}
		if b.Upper == nil {
			violations = append(violations, fmt.Sprintf("%s bracket %d: only the last bracket may be unbounded", prefix, i))
			continue
		}
		if !b.Upper.GreaterThan(b.Lower) {
			violations = append(violations, fmt.Sprintf("%s bracket %d: upper must exceed lower", prefix, i))
		}
		if !brackets[i+1].Lower.Equal(*b.Upper) {
			violations = append(violations, fmt.Sprintf("%s bracket %d: gap before next bracket", prefix, i))
		}
	}
	return violations
}

// =============================================================================
// CHECKSUM - Canonical fingerprint of rule content
// =============================================================================

// checksumDoc is the canonical serialization the checksum covers: the rule
// CONTENT only. Identity fields (ID, version, timestamps) are excluded so
// the same authority data always hashes identically.
type checksumDoc struct {
	Country       CountryCode            `json:"country"`
	Currency      Currency               `json:"currency"`
	Rounding      RoundingMode           `json:"rounding"`
	MinimumWage   string                 `json:"minimum_wage"`
	Contributions []ContributionSchedule `json:"contributions"`
	Overtime      OvertimeRules          `json:"overtime"`
	Severance     SeveranceRules         `json:"severance"`
}

// ComputeChecksum returns the sha256 fingerprint of the rule content.
// The refresh scheduler uses it to skip commits when the authority feed
// returns unchanged data.
func ComputeChecksum(rs *RuleSet) string {
	doc := checksumDoc{
		Country:       rs.Country,
		Currency:      rs.Currency,
		Rounding:      rs.Rounding,
		MinimumWage:   rs.MinimumWage.String(),
		Contributions: rs.Contributions,
		Overtime:      rs.Overtime,
		Severance:     rs.Severance,
	}
	raw, _ := json.Marshal(doc)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// Seal assigns an ID, computes the checksum, and stamps creation time.
// Used by the countries package and tests when building rule data in code;
// feed-sourced RuleSets arrive with their checksum already declared.
func (rs *RuleSet) Seal() {
	if rs.ID == uuid.Nil {
		rs.ID = uuid.New()
	}
	if rs.SourceChecksum == "" {
		rs.SourceChecksum = ComputeChecksum(rs)
	}
	if rs.CreatedAt.IsZero() {
		rs.CreatedAt = Today()
	}
}
