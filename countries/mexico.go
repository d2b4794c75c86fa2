/*
mexico.go - Mexico (MX) payroll rule data

SOURCING:
  - ISR monthly withholding table: Anexo 8, Resolución Miscelánea Fiscal
    2024 (tarifa mensual). Marginal rates reproduce the published cuota
    fija by construction.
  - IMSS employee share: combined worker quota (enfermedad y maternidad,
    invalidez y vida, cesantía y vejez) at a flat effective rate, with the
    contribution base capped at 25 UMA monthly (UMA 2024: 108.57/day).
  - Overtime: LFT arts. 66-68 - first 9 weekly overtime hours at double
    pay, beyond that triple pay (modeled monthly here).
  - Severance: LFT arts. 48-50 and 162 - 3 months plus 20 days per year of
    service for unjustified dismissal, 12-day seniority premium after 15
    years, vacation payout with 25% prima vacacional.
  - Rounding: half-to-even, the engine default.
*/
package countries

import (
	"github.com/shopspring/decimal"

	"github.com/warp/payroll-engine/payroll"
)

func MexicoProfile() payroll.CountryProfile {
	return payroll.CountryProfile{
		Country:  "MX",
		Name:     "Mexico",
		Currency: payroll.CurrencyMXN,
		Contributions: []payroll.ContributionType{
			payroll.ContributionIncomeTax,
			payroll.ContributionHealth,
		},
	}
}

// MexicoRuleSet returns the MX rule data effective 2024-01-01.
func MexicoRuleSet() payroll.RuleSet {
	imssCap := payroll.MustParseDecimal("82532.85") // 25 UMA x 30.4 days

	rs := payroll.RuleSet{
		Country:       "MX",
		Currency:      payroll.CurrencyMXN,
		EffectiveFrom: payroll.NewDate(2024, 1, 1),
		Rounding:      payroll.RoundHalfEven,
		MinimumWage:   payroll.MustParseDecimal("7467.90"), // general zone, monthly
		Contributions: []payroll.ContributionSchedule{
			{
				Type:     payroll.ContributionIncomeTax,
				Name:     "ISR",
				Brackets: mxISRMonthly2024(),
			},
			{
				Type:    payroll.ContributionHealth,
				Name:    "IMSS",
				BaseCap: &imssCap,
				Brackets: []payroll.Bracket{
					{Lower: decimal.Zero, Rate: payroll.MustParseDecimal("0.02775")},
				},
			},
		},
		Overtime: payroll.OvertimeRules{
			StandardMonthlyHours: payroll.MustParseDecimal("240"), // 30 days x 8h
			Bands: []payroll.OvertimeBand{
				{UpToHours: decPtr("9"), Multiplier: payroll.MustParseDecimal("2")},
				{UpToHours: nil, Multiplier: payroll.MustParseDecimal("3")},
			},
		},
		Severance: payroll.SeveranceRules{
			DailyRateDivisor: payroll.MustParseDecimal("30"),
			Components: []payroll.SeveranceRule{
				{
					Component:   payroll.ComponentTenureIndemnity,
					AppliesTo:   []payroll.TerminationType{payroll.TerminationInvoluntaryWithoutCause},
					BaseDays:    payroll.MustParseDecimal("90"), // constitutional 3 months
					DaysPerUnit: payroll.MustParseDecimal("20"),
					TenureUnit:  payroll.TenureYears,
				},
				{
					Component: payroll.ComponentNoticeInLieu,
					AppliesTo: []payroll.TerminationType{payroll.TerminationInvoluntaryWithoutCause},
					BaseDays:  payroll.MustParseDecimal("30"),
				},
				{
					// Prima de antigüedad: 12 days/year, owed on resignation
					// after 15 years of service.
					Component:       payroll.ComponentSeniorityPremium,
					AppliesTo:       []payroll.TerminationType{payroll.TerminationVoluntary},
					MinTenureMonths: 180,
					DaysPerUnit:     payroll.MustParseDecimal("12"),
					TenureUnit:      payroll.TenureYears,
				},
				{
					Component: payroll.ComponentAccruedLeave,
					AppliesTo: []payroll.TerminationType{
						payroll.TerminationVoluntary,
						payroll.TerminationInvoluntaryWithCause,
						payroll.TerminationInvoluntaryWithoutCause,
					},
					PremiumRate: payroll.MustParseDecimal("0.25"), // prima vacacional
				},
			},
		},
	}
	rs.Seal()
	return rs
}

// mxISRMonthly2024 is the monthly ISR withholding tariff. Marginal
// evaluation over these contiguous brackets reproduces the published
// cuota fija exactly.
func mxISRMonthly2024() []payroll.Bracket {
	rows := []struct {
		upper string // empty = unbounded
		rate  string
	}{
		{"746.04", "0.0192"},
		{"6332.05", "0.0640"},
		{"11128.01", "0.1088"},
		{"12935.82", "0.1600"},
		{"15487.71", "0.1792"},
		{"31236.49", "0.2136"},
		{"49233.00", "0.2352"},
		{"93993.90", "0.3000"},
		{"125325.20", "0.3200"},
		{"375975.61", "0.3400"},
		{"", "0.3500"},
	}

	brackets := make([]payroll.Bracket, len(rows))
	lower := decimal.Zero
	for i, row := range rows {
		b := payroll.Bracket{Lower: lower, Rate: payroll.MustParseDecimal(row.rate)}
		if row.upper != "" {
			upper := payroll.MustParseDecimal(row.upper)
			b.Upper = &upper
			lower = upper
		}
		brackets[i] = b
	}
	return brackets
}

func decPtr(s string) *decimal.Decimal {
	d := payroll.MustParseDecimal(s)
	return &d
}
