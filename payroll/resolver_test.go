package payroll_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payroll-engine/payroll"
	memstore "github.com/warp/payroll-engine/payroll/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// twoVersionStore seeds v1 [2024-01-01, 2025-01-01) and v2 [2025-01-01, open).
// v1's bracket rate differs so results distinguish the versions.
func twoVersionStore(t *testing.T) payroll.RuleStore {
	t.Helper()
	ctx := context.Background()
	st := memstore.NewMemory()

	v1 := validRuleSet()
	v1.EffectiveFrom = payroll.NewDate(2024, 1, 1)
	require.NoError(t, st.PutRuleSet(ctx, v1))

	v2 := validRuleSet()
	v2.EffectiveFrom = payroll.NewDate(2025, 1, 1)
	v2.Contributions[0].Brackets[0].Rate = dec("0.12")
	v2.SourceChecksum = ""
	v2.Seal()
	require.NoError(t, st.PutRuleSet(ctx, v2))

	return st
}

// overlapStore returns whatever rulesets it was given, bypassing the
// append-only overlap check, to exercise the resolver's tie-break path.
type overlapStore struct {
	sets []payroll.RuleSet
}

func (s *overlapStore) PutRuleSet(context.Context, payroll.RuleSet) error { return nil }
func (s *overlapStore) ListRuleSets(context.Context, payroll.CountryCode) ([]payroll.RuleSet, error) {
	return s.sets, nil
}
func (s *overlapStore) HeadRuleSet(context.Context, payroll.CountryCode) (*payroll.RuleSet, error) {
	return nil, nil
}

// =============================================================================
// RESOLUTION TESTS
// =============================================================================

func TestResolveAt_PicksVersionCoveringDate(t *testing.T) {
	resolver := payroll.NewResolver(twoVersionStore(t), zerolog.Nop())

	rs, err := resolver.ResolveAt(context.Background(), "MX", payroll.NewDate(2024, time.June, 15))
	require.NoError(t, err)
	assert.Equal(t, 1, rs.Version)

	rs, err = resolver.ResolveAt(context.Background(), "MX", payroll.NewDate(2025, time.June, 15))
	require.NoError(t, err)
	assert.Equal(t, 2, rs.Version)
}

func TestResolveAt_BoundaryBelongsToSuccessor(t *testing.T) {
	// GIVEN: v1 closed at 2025-01-01 when v2 became effective
	// WHEN: Resolving exactly on the boundary date
	// THEN: The successor wins - intervals are half-open

	resolver := payroll.NewResolver(twoVersionStore(t), zerolog.Nop())

	rs, err := resolver.ResolveAt(context.Background(), "MX", payroll.NewDate(2025, 1, 1))
	require.NoError(t, err)
	assert.Equal(t, 2, rs.Version)

	rs, err = resolver.ResolveAt(context.Background(), "MX", payroll.NewDate(2024, 12, 31))
	require.NoError(t, err)
	assert.Equal(t, 1, rs.Version)
}

func TestResolveAt_HistoricalReproducibility(t *testing.T) {
	// GIVEN: A newer version committed after a historical calculation
	// WHEN: Re-resolving the historical date
	// THEN: The same old version answers - results stay reproducible

	ctx := context.Background()
	st := memstore.NewMemory()
	resolver := payroll.NewResolver(st, zerolog.Nop())

	v1 := validRuleSet()
	v1.EffectiveFrom = payroll.NewDate(2024, 1, 1)
	require.NoError(t, st.PutRuleSet(ctx, v1))

	historical := payroll.NewDate(2024, time.June, 15)
	before, err := resolver.ResolveAt(ctx, "MX", historical)
	require.NoError(t, err)

	v2 := validRuleSet()
	v2.EffectiveFrom = payroll.NewDate(2025, 1, 1)
	require.NoError(t, st.PutRuleSet(ctx, v2))

	after, err := resolver.ResolveAt(ctx, "MX", historical)
	require.NoError(t, err)

	assert.Equal(t, before.Version, after.Version)
	assert.Equal(t, before.SourceChecksum, after.SourceChecksum)
}

func TestResolveAt_NoApplicableVersion(t *testing.T) {
	resolver := payroll.NewResolver(twoVersionStore(t), zerolog.Nop())

	_, err := resolver.ResolveAt(context.Background(), "MX", payroll.NewDate(2020, 1, 1))
	require.Error(t, err)
	assert.ErrorIs(t, err, payroll.ErrNoApplicableRuleSet)

	_, err = resolver.ResolveAt(context.Background(), "JP", payroll.NewDate(2025, 6, 1))
	require.Error(t, err)
	assert.ErrorIs(t, err, payroll.ErrNoApplicableRuleSet)
}

func TestResolveAt_OverlapTieBreak_LatestEffectiveFromWins(t *testing.T) {
	// GIVEN: A store whose overlap invariant was violated upstream
	// WHEN: Two versions cover the same date
	// THEN: The resolver picks the latest EffectiveFrom and still answers

	older := validRuleSet()
	older.Version = 1
	older.EffectiveFrom = payroll.NewDate(2024, 1, 1)

	newer := validRuleSet()
	newer.Version = 2
	newer.EffectiveFrom = payroll.NewDate(2024, 6, 1)

	resolver := payroll.NewResolver(&overlapStore{sets: []payroll.RuleSet{older, newer}}, zerolog.Nop())

	rs, err := resolver.ResolveAt(context.Background(), "MX", payroll.NewDate(2024, 9, 1))
	require.NoError(t, err)
	assert.Equal(t, 2, rs.Version)
}
