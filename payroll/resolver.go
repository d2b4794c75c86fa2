/*
resolver.go - (country, date) -> RuleSet resolution

PURPOSE:
  Pure lookup over the rule store: given a country and a calculation date,
  return the single RuleSet version whose validity interval contains the
  date. The calculators never touch the store directly - everything goes
  through here, so resolution policy lives in exactly one place.

TIE-BREAK:
  The store's overlap check makes multiple candidates impossible under
  normal operation. If a data-entry error ever produces them anyway, the
  version with the latest EffectiveFrom not exceeding the date wins, and
  the collision is logged as a data-integrity warning - an upstream
  invariant was violated and someone should look.

SEE ALSO:
  - store.go: RuleStore contract
  - grossnet.go / severance.go: Consumers
*/
package payroll

import (
	"context"

	"github.com/rs/zerolog"
)

// Resolver resolves the applicable RuleSet for a country and date.
type Resolver struct {
	store RuleStore
	log   zerolog.Logger
}

func NewResolver(store RuleStore, log zerolog.Logger) *Resolver {
	return &Resolver{store: store, log: log}
}

// ResolveAt returns the RuleSet valid at the given date, or
// NoApplicableRuleSetError when none exists. It never defaults: payroll
// must not run on guessed rules.
func (r *Resolver) ResolveAt(ctx context.Context, country CountryCode, at TimePoint) (*RuleSet, error) {
	versions, err := r.store.ListRuleSets(ctx, country)
	if err != nil {
		return nil, err
	}

	var candidates []*RuleSet
	for i := range versions {
		if versions[i].ContainsDate(at) {
			candidates = append(candidates, &versions[i])
		}
	}

	switch len(candidates) {
	case 0:
		return nil, &NoApplicableRuleSetError{Country: country, At: at}
	case 1:
		return candidates[0], nil
	}

	// Multiple candidates means the non-overlap invariant was violated
	// upstream. Pick the latest EffectiveFrom <= date, but say so loudly.
	winner := candidates[0]
	for _, c := range candidates[1:] {
		if c.EffectiveFrom.After(winner.EffectiveFrom) {
			winner = c
		}
	}
	r.log.Warn().
		Str("country", string(country)).
		Str("date", at.String()).
		Int("candidates", len(candidates)).
		Int("resolved_version", winner.Version).
		Msg("overlapping ruleset versions resolved by latest effective_from; data-integrity violation upstream")

	return winner, nil
}

// VersionAt returns the identity of the RuleSet valid at the date, for
// audit and reporting.
func (r *Resolver) VersionAt(ctx context.Context, country CountryCode, at TimePoint) (*RuleSet, error) {
	return r.ResolveAt(ctx, country, at)
}
