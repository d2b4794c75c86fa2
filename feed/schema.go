/*
Package feed parses authority rule documents into engine RuleSets.

PURPOSE:
  Each country's authoritative source publishes a JSON rule document. This
  package defines that wire schema, parses it, verifies the declared
  checksum against the document body, and converts it into a
  payroll.RuleSet ready for structural validation and commit.

DOCUMENT SHAPE:
  {
    "country": "MX",
    "currency": "MXN",
    "effective_from": "2025-01-01",
    "rounding": "half_even",
    "checksum": "<sha256 of the canonical rules object>",
    "rules": { "minimum_wage": "...", "contributions": [...],
               "overtime": {...}, "severance": {...} }
  }

CHECKSUM DISCIPLINE:
  The checksum covers the canonical (compact) encoding of the "rules"
  object. A document whose declared checksum does not match its body is
  rejected before any rule content is even looked at - transport
  corruption and half-written uploads never reach the store.

SEE ALSO:
  - client.go: HTTP retrieval with a hard timeout
  - refresh/: The scheduler that drives fetch -> parse -> validate -> commit
*/
package feed

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/warp/payroll-engine/payroll"
)

// =============================================================================
// WIRE SCHEMA
// =============================================================================

type Document struct {
	Country       string          `json:"country"`
	Currency      string          `json:"currency"`
	EffectiveFrom string          `json:"effective_from"` // YYYY-MM-DD
	EffectiveTo   string          `json:"effective_to,omitempty"`
	Rounding      string          `json:"rounding"`
	Checksum      string          `json:"checksum"`
	Rules         json.RawMessage `json:"rules"`
}

type rulesBody struct {
	MinimumWage   string             `json:"minimum_wage"`
	Contributions []contributionJSON `json:"contributions"`
	Overtime      overtimeJSON       `json:"overtime"`
	Severance     severanceJSON      `json:"severance"`
}

type contributionJSON struct {
	Type      string        `json:"type"`
	Name      string        `json:"name"`
	BaseCap   string        `json:"base_cap,omitempty"`
	Allowance string        `json:"allowance,omitempty"`
	Brackets  []bracketJSON `json:"brackets"`
}

type bracketJSON struct {
	Lower string `json:"lower"`
	Upper string `json:"upper,omitempty"` // empty = unbounded
	Rate  string `json:"rate"`
	Fixed string `json:"fixed,omitempty"`
}

type overtimeJSON struct {
	StandardMonthlyHours string     `json:"standard_monthly_hours"`
	Bands                []bandJSON `json:"bands"`
}

type bandJSON struct {
	UpToHours  string `json:"up_to_hours,omitempty"` // empty = unbounded
	Multiplier string `json:"multiplier"`
}

type severanceJSON struct {
	DailyRateDivisor string              `json:"daily_rate_divisor"`
	Components       []severanceCompJSON `json:"components"`
}

type severanceCompJSON struct {
	Component       string   `json:"component"`
	AppliesTo       []string `json:"applies_to"`
	MinTenureMonths int      `json:"min_tenure_months,omitempty"`
	BaseDays        string   `json:"base_days,omitempty"`
	DaysPerUnit     string   `json:"days_per_unit,omitempty"`
	TenureUnit      string   `json:"tenure_unit,omitempty"`
	CapDays         string   `json:"cap_days,omitempty"`
	PremiumRate     string   `json:"premium_rate,omitempty"`
}

// =============================================================================
// PARSING
// =============================================================================

// Parse decodes an authority document, verifies its checksum, and
// converts it to a RuleSet. The returned RuleSet still needs Validate()
// (the refresh scheduler runs it) before commit.
func Parse(raw []byte) (*payroll.RuleSet, error) {
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("malformed rule document: %w", err)
	}
	return doc.ToRuleSet()
}

// ToRuleSet converts a decoded document into a RuleSet.
func (d *Document) ToRuleSet() (*payroll.RuleSet, error) {
	country := payroll.CountryCode(d.Country)

	if d.Checksum == "" {
		return nil, &payroll.RuleValidationError{
			Country: country, Violations: []string{"checksum is missing"},
		}
	}
	if computed := ChecksumBody(d.Rules); computed != d.Checksum {
		return nil, &payroll.RuleValidationError{
			Country: country,
			Violations: []string{fmt.Sprintf("checksum mismatch: declared %s, computed %s", d.Checksum, computed)},
		}
	}

	effectiveFrom, err := payroll.ParseDate(d.EffectiveFrom)
	if err != nil {
		return nil, &payroll.RuleValidationError{
			Country: country, Violations: []string{"effective_from: " + err.Error()},
		}
	}
	var effectiveTo *payroll.TimePoint
	if d.EffectiveTo != "" {
		to, err := payroll.ParseDate(d.EffectiveTo)
		if err != nil {
			return nil, &payroll.RuleValidationError{
				Country: country, Violations: []string{"effective_to: " + err.Error()},
			}
		}
		effectiveTo = &to
	}

	var body rulesBody
	if err := json.Unmarshal(d.Rules, &body); err != nil {
		return nil, fmt.Errorf("malformed rules body: %w", err)
	}

	// Feed content is untrusted; malformed numbers become validation
	// violations rather than panics.
	dp := &decParser{}

	rs := &payroll.RuleSet{
		Country:        country,
		Currency:       payroll.Currency(d.Currency),
		EffectiveFrom:  effectiveFrom,
		EffectiveTo:    effectiveTo,
		SourceChecksum: d.Checksum,
		Rounding:       payroll.RoundingMode(d.Rounding),
		MinimumWage:    dp.parse("minimum_wage", body.MinimumWage),
	}

	for _, c := range body.Contributions {
		sched := payroll.ContributionSchedule{
			Type:      payroll.ContributionType(c.Type),
			Name:      c.Name,
			Allowance: dp.parse(c.Type+".allowance", c.Allowance),
		}
		if c.BaseCap != "" {
			cap := dp.parse(c.Type+".base_cap", c.BaseCap)
			sched.BaseCap = &cap
		}
		for _, b := range c.Brackets {
			bracket := payroll.Bracket{
				Lower: dp.parse(c.Type+".lower", b.Lower),
				Rate:  dp.parse(c.Type+".rate", b.Rate),
				Fixed: dp.parse(c.Type+".fixed", b.Fixed),
			}
			if b.Upper != "" {
				upper := dp.parse(c.Type+".upper", b.Upper)
				bracket.Upper = &upper
			}
			sched.Brackets = append(sched.Brackets, bracket)
		}
		rs.Contributions = append(rs.Contributions, sched)
	}

	rs.Overtime.StandardMonthlyHours = dp.parse("overtime.standard_monthly_hours", body.Overtime.StandardMonthlyHours)
	for _, band := range body.Overtime.Bands {
		ob := payroll.OvertimeBand{Multiplier: dp.parse("overtime.multiplier", band.Multiplier)}
		if band.UpToHours != "" {
			up := dp.parse("overtime.up_to_hours", band.UpToHours)
			ob.UpToHours = &up
		}
		rs.Overtime.Bands = append(rs.Overtime.Bands, ob)
	}

	rs.Severance.DailyRateDivisor = dp.parse("severance.daily_rate_divisor", body.Severance.DailyRateDivisor)
	for _, comp := range body.Severance.Components {
		rule := payroll.SeveranceRule{
			Component:       payroll.SeveranceComponent(comp.Component),
			MinTenureMonths: comp.MinTenureMonths,
			BaseDays:        dp.parse(comp.Component+".base_days", comp.BaseDays),
			DaysPerUnit:     dp.parse(comp.Component+".days_per_unit", comp.DaysPerUnit),
			TenureUnit:      payroll.TenureUnit(comp.TenureUnit),
			PremiumRate:     dp.parse(comp.Component+".premium_rate", comp.PremiumRate),
		}
		for _, tt := range comp.AppliesTo {
			rule.AppliesTo = append(rule.AppliesTo, payroll.TerminationType(tt))
		}
		if comp.CapDays != "" {
			cap := dp.parse(comp.Component+".cap_days", comp.CapDays)
			rule.CapDays = &cap
		}
		rs.Severance.Components = append(rs.Severance.Components, rule)
	}

	if len(dp.violations) > 0 {
		return nil, &payroll.RuleValidationError{Country: country, Violations: dp.violations}
	}
	return rs, nil
}

// decParser accumulates malformed decimal fields so a single parse pass
// can report all of them at once.
type decParser struct {
	violations []string
}

func (p *decParser) parse(field, s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		p.violations = append(p.violations, fmt.Sprintf("%s: not a decimal: %q", field, s))
		return decimal.Zero
	}
	return d
}

// ChecksumBody computes the sha256 fingerprint over the compact encoding
// of the rules object, which is what publishers declare.
func ChecksumBody(rules json.RawMessage) string {
	var compact bytes.Buffer
	if err := json.Compact(&compact, rules); err != nil {
		// Not valid JSON; hash the raw bytes so the mismatch is reported
		// as a checksum failure with the real content in hand.
		sum := sha256.Sum256(rules)
		return hex.EncodeToString(sum[:])
	}
	sum := sha256.Sum256(compact.Bytes())
	return hex.EncodeToString(sum[:])
}
