package payroll

// =============================================================================
// COUNTRY PROFILE - Immutable jurisdiction reference data
// =============================================================================

// ContributionType classifies a mandatory deduction.
type ContributionType string

const (
	ContributionIncomeTax        ContributionType = "income_tax"
	ContributionPension          ContributionType = "pension"
	ContributionHealth           ContributionType = "health"
	ContributionOccupationalRisk ContributionType = "occupational_risk"
	ContributionHousingFund      ContributionType = "housing_fund"
)

func (c ContributionType) Valid() bool {
	switch c {
	case ContributionIncomeTax, ContributionPension, ContributionHealth,
		ContributionOccupationalRisk, ContributionHousingFund:
		return true
	}
	return false
}

// CountryProfile identifies a jurisdiction and enumerates which contribution
// types apply to employees there. Created at system setup, never mutated.
// The amounts and brackets for each contribution live in the versioned
// RuleSet, not here - the profile only says WHICH deductions exist.
type CountryProfile struct {
	Country       CountryCode
	Name          string
	Currency      Currency
	Contributions []ContributionType
}

// Applies reports whether the given contribution type is levied in this
// jurisdiction.
func (p CountryProfile) Applies(ct ContributionType) bool {
	for _, c := range p.Contributions {
		if c == ct {
			return true
		}
	}
	return false
}
