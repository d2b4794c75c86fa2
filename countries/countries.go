/*
Package countries ships ready-to-use country profiles and rule data.

PURPOSE:
  Provides code-constructed CountryProfile and RuleSet values for the
  jurisdictions the platform launches with (Mexico, Brazil). These are
  used for initial seeding and as test fixtures; ongoing updates arrive
  through the authority feeds consumed by the refresh scheduler.

SOURCING:
  Bracket tables, contribution ceilings and severance day counts follow
  the statutory formulas published for each jurisdiction (see the
  per-country files). They are representative datasets for the shipped
  effective dates - production deployments refresh them from the
  configured authority feeds.

USAGE:
  for _, p := range countries.Profiles() {
      store.PutProfile(ctx, p)
  }
  for _, rs := range countries.RuleSets() {
      store.PutRuleSet(ctx, rs)
  }

SEE ALSO:
  - mexico.go / brazil.go: The per-country data
  - feed/: JSON schema for authority-sourced updates
*/
package countries

import (
	"github.com/warp/payroll-engine/payroll"
)

// Profiles returns the country profiles for every shipped jurisdiction.
func Profiles() []payroll.CountryProfile {
	return []payroll.CountryProfile{
		MexicoProfile(),
		BrazilProfile(),
	}
}

// RuleSets returns the initial RuleSet version for every shipped
// jurisdiction, sealed (ID + checksum assigned) and ready for PutRuleSet.
func RuleSets() []payroll.RuleSet {
	return []payroll.RuleSet{
		MexicoRuleSet(),
		BrazilRuleSet(),
	}
}
