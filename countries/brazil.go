/*
brazil.go - Brazil (BR) payroll rule data

SOURCING:
  - INSS employee contribution: Portaria Interministerial MPS/MF 2024
    progressive table (7.5% / 9% / 12% / 14%), contribution base capped
    at the teto of 7,786.02.
  - IRRF monthly table: Receita Federal 2024 (0% / 7.5% / 15% / 22.5% /
    27.5%), marginal evaluation reproduces the parcela a deduzir.
  - Overtime: CLT art. 59 - minimum 50% premium; 220 standard monthly
    hours (44-hour week).
  - Severance: CLT arts. 477-487 - aviso prévio of 30 days plus 3 days
    per year of service capped at 90 (Lei 12.506/2011), dismissal
    indemnity modeled in days over tenure, vacation payout with the
    constitutional um terço (1/3) premium.
  - Rounding: half-to-even, the engine default.
*/
package countries

import (
	"github.com/shopspring/decimal"

	"github.com/warp/payroll-engine/payroll"
)

func BrazilProfile() payroll.CountryProfile {
	return payroll.CountryProfile{
		Country:  "BR",
		Name:     "Brazil",
		Currency: payroll.CurrencyBRL,
		Contributions: []payroll.ContributionType{
			payroll.ContributionPension,
			payroll.ContributionIncomeTax,
		},
	}
}

// BrazilRuleSet returns the BR rule data effective 2024-01-01.
func BrazilRuleSet() payroll.RuleSet {
	inssCap := payroll.MustParseDecimal("7786.02") // teto previdenciário

	rs := payroll.RuleSet{
		Country:       "BR",
		Currency:      payroll.CurrencyBRL,
		EffectiveFrom: payroll.NewDate(2024, 1, 1),
		Rounding:      payroll.RoundHalfEven,
		MinimumWage:   payroll.MustParseDecimal("1412.00"),
		Contributions: []payroll.ContributionSchedule{
			{
				// INSS is withheld before IRRF in the statutory order;
				// schedules evaluate independently against gross here, with
				// the base cap carrying the teto.
				Type:    payroll.ContributionPension,
				Name:    "INSS",
				BaseCap: &inssCap,
				Brackets: []payroll.Bracket{
					{Lower: decimal.Zero, Upper: decPtr("1412.00"), Rate: payroll.MustParseDecimal("0.075")},
					{Lower: payroll.MustParseDecimal("1412.00"), Upper: decPtr("2666.68"), Rate: payroll.MustParseDecimal("0.09")},
					{Lower: payroll.MustParseDecimal("2666.68"), Upper: decPtr("4000.03"), Rate: payroll.MustParseDecimal("0.12")},
					{Lower: payroll.MustParseDecimal("4000.03"), Rate: payroll.MustParseDecimal("0.14")},
				},
			},
			{
				Type: payroll.ContributionIncomeTax,
				Name: "IRRF",
				Brackets: []payroll.Bracket{
					{Lower: decimal.Zero, Upper: decPtr("2259.20"), Rate: decimal.Zero},
					{Lower: payroll.MustParseDecimal("2259.20"), Upper: decPtr("2826.65"), Rate: payroll.MustParseDecimal("0.075")},
					{Lower: payroll.MustParseDecimal("2826.65"), Upper: decPtr("3751.05"), Rate: payroll.MustParseDecimal("0.15")},
					{Lower: payroll.MustParseDecimal("3751.05"), Upper: decPtr("4664.68"), Rate: payroll.MustParseDecimal("0.225")},
					{Lower: payroll.MustParseDecimal("4664.68"), Rate: payroll.MustParseDecimal("0.275")},
				},
			},
		},
		Overtime: payroll.OvertimeRules{
			StandardMonthlyHours: payroll.MustParseDecimal("220"),
			Bands: []payroll.OvertimeBand{
				{UpToHours: nil, Multiplier: payroll.MustParseDecimal("1.5")},
			},
		},
		Severance: payroll.SeveranceRules{
			DailyRateDivisor: payroll.MustParseDecimal("30"),
			Components: []payroll.SeveranceRule{
				{
					Component:       payroll.ComponentTenureIndemnity,
					AppliesTo:       []payroll.TerminationType{payroll.TerminationInvoluntaryWithoutCause},
					MinTenureMonths: 3, // contrato de experiência: no indemnity during probation
					DaysPerUnit:     payroll.MustParseDecimal("12"),
					TenureUnit:      payroll.TenureYears,
					BaseDays:        payroll.MustParseDecimal("12"),
				},
				{
					// Aviso prévio indenizado: 30 days + 3 per year, capped at 90.
					Component:   payroll.ComponentNoticeInLieu,
					AppliesTo:   []payroll.TerminationType{payroll.TerminationInvoluntaryWithoutCause},
					BaseDays:    payroll.MustParseDecimal("30"),
					DaysPerUnit: payroll.MustParseDecimal("3"),
					TenureUnit:  payroll.TenureYears,
					CapDays:     decPtr("90"),
				},
				{
					Component: payroll.ComponentAccruedLeave,
					AppliesTo: []payroll.TerminationType{
						payroll.TerminationVoluntary,
						payroll.TerminationInvoluntaryWithCause,
						payroll.TerminationInvoluntaryWithoutCause,
					},
					PremiumRate: payroll.MustParseDecimal("0.333333"), // férias + 1/3
				},
			},
		},
	}
	rs.Seal()
	return rs
}
