package refresh_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payroll-engine/countries"
	"github.com/warp/payroll-engine/payroll"
	memstore "github.com/warp/payroll-engine/payroll/store"
	"github.com/warp/payroll-engine/refresh"
)

// =============================================================================
// FAKES
// =============================================================================

// scriptedFetcher plays back a fixed sequence of results and counts calls.
type scriptedFetcher struct {
	mu      sync.Mutex
	results []fetchResult
	calls   int
}

type fetchResult struct {
	rs  *payroll.RuleSet
	err error
}

func (f *scriptedFetcher) Fetch(_ context.Context, _ payroll.CountryCode) (*payroll.RuleSet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	if i >= len(f.results) {
		i = len(f.results) - 1 // repeat the last result
	}
	r := f.results[i]
	return r.rs, r.err
}

func (f *scriptedFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// blockingFetcher parks until released, to hold the country token.
type blockingFetcher struct {
	entered chan struct{}
	release chan struct{}
}

func (f *blockingFetcher) Fetch(_ context.Context, _ payroll.CountryCode) (*payroll.RuleSet, error) {
	close(f.entered)
	<-f.release
	rs := sealedRuleSet("2024-01-01")
	return &rs, nil
}

// recordingAlerter captures lifecycle events.
type recordingAlerter struct {
	mu        sync.Mutex
	committed []payroll.RuleSet
	failures  []int // streak at each RefreshFailed call
}

func (a *recordingAlerter) RulesCommitted(_ context.Context, rs payroll.RuleSet) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.committed = append(a.committed, rs)
}

func (a *recordingAlerter) RefreshFailed(_ context.Context, _ payroll.CountryCode, streak int, _ error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failures = append(a.failures, streak)
}

func (a *recordingAlerter) commits() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.committed)
}

func (a *recordingAlerter) failureStreaks() []int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]int(nil), a.failures...)
}

// =============================================================================
// FIXTURES
// =============================================================================

// sealedRuleSet is Mexico's shipped data re-dated and re-sealed, which
// gives a structurally valid set with a content-accurate checksum.
func sealedRuleSet(effectiveFrom string) payroll.RuleSet {
	rs := countries.MexicoRuleSet()
	from, err := payroll.ParseDate(effectiveFrom)
	if err != nil {
		panic(err)
	}
	rs.EffectiveFrom = from
	rs.Seal()
	return rs
}

// updatedRuleSet changes the rule content so the checksum differs from
// the shipped version.
func updatedRuleSet(effectiveFrom string) payroll.RuleSet {
	rs := sealedRuleSet(effectiveFrom)
	rs.MinimumWage = rs.MinimumWage.Add(decimal.NewFromInt(100))
	rs.SourceChecksum = ""
	rs.Seal()
	return rs
}

func newScheduler(store payroll.RuleStore, fetcher refresh.Fetcher, alerter refresh.Alerter, cfg refresh.Config) *refresh.Scheduler {
	if cfg.Countries == nil {
		cfg.Countries = []payroll.CountryCode{"MX"}
	}
	if cfg.RetryBase == 0 {
		cfg.RetryBase = time.Millisecond
	}
	if cfg.RetryCap == 0 {
		cfg.RetryCap = 5 * time.Millisecond
	}
	return refresh.NewScheduler(store, fetcher, alerter, nil, zerolog.Nop(), cfg)
}

// =============================================================================
// COMMIT PATH
// =============================================================================

func TestRefresh_CommitsNewVersion(t *testing.T) {
	// GIVEN an empty store and an authority with a valid document
	store := memstore.NewMemory()
	rs := sealedRuleSet("2024-01-01")
	fetcher := &scriptedFetcher{results: []fetchResult{{rs: &rs}}}
	alerter := &recordingAlerter{}
	sched := newScheduler(store, fetcher, alerter, refresh.Config{})

	// WHEN one cycle runs
	require.NoError(t, sched.Refresh(context.Background(), "MX"))

	// THEN the document is committed as version 1
	head, err := store.HeadRuleSet(context.Background(), "MX")
	require.NoError(t, err)
	require.NotNil(t, head)
	assert.Equal(t, 1, head.Version)
	assert.Equal(t, rs.SourceChecksum, head.SourceChecksum)

	// AND the commit is announced
	assert.Equal(t, 1, alerter.commits())
	assert.Equal(t, 0, sched.FailureStreak("MX"))
}

func TestRefresh_UnchangedDocumentSkipsCommit(t *testing.T) {
	// GIVEN a store whose head already carries the authority's document
	store := memstore.NewMemory()
	rs := sealedRuleSet("2024-01-01")
	require.NoError(t, store.PutRuleSet(context.Background(), rs))

	same := rs
	fetcher := &scriptedFetcher{results: []fetchResult{{rs: &same}}}
	alerter := &recordingAlerter{}
	sched := newScheduler(store, fetcher, alerter, refresh.Config{})

	// WHEN a cycle fetches the identical document
	require.NoError(t, sched.Refresh(context.Background(), "MX"))

	// THEN no new version is appended and nothing is announced
	head, err := store.HeadRuleSet(context.Background(), "MX")
	require.NoError(t, err)
	assert.Equal(t, 1, head.Version)
	assert.Equal(t, 0, alerter.commits())
}

func TestRefresh_ChangedDocumentAppendsVersion(t *testing.T) {
	// GIVEN a store at version 1 and an authority publishing updated rules
	store := memstore.NewMemory()
	require.NoError(t, store.PutRuleSet(context.Background(), sealedRuleSet("2024-01-01")))

	updated := updatedRuleSet("2025-01-01")
	fetcher := &scriptedFetcher{results: []fetchResult{{rs: &updated}}}
	alerter := &recordingAlerter{}
	sched := newScheduler(store, fetcher, alerter, refresh.Config{})

	// WHEN the cycle runs
	require.NoError(t, sched.Refresh(context.Background(), "MX"))

	// THEN the head advances and the previous version is closed
	head, err := store.HeadRuleSet(context.Background(), "MX")
	require.NoError(t, err)
	assert.Equal(t, 2, head.Version)

	history, err := store.ListRuleSets(context.Background(), "MX")
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.NotNil(t, history[0].EffectiveTo)
	assert.True(t, history[0].EffectiveTo.Equal(head.EffectiveFrom))
}

// =============================================================================
// FAILURE DISCIPLINE
// =============================================================================

func TestRefresh_TransientFailureRetriesWithinCycle(t *testing.T) {
	// GIVEN an authority that recovers on the third attempt
	store := memstore.NewMemory()
	rs := sealedRuleSet("2024-01-01")
	flaky := &payroll.RuleFetchError{Country: "MX", Source: "test", Cause: context.DeadlineExceeded}
	fetcher := &scriptedFetcher{results: []fetchResult{
		{err: flaky}, {err: flaky}, {rs: &rs},
	}}
	sched := newScheduler(store, fetcher, &recordingAlerter{}, refresh.Config{MaxRetries: 3})

	// WHEN the cycle runs
	require.NoError(t, sched.Refresh(context.Background(), "MX"))

	// THEN the cycle retried past both transient failures and committed
	assert.Equal(t, 3, fetcher.callCount())
	head, err := store.HeadRuleSet(context.Background(), "MX")
	require.NoError(t, err)
	require.NotNil(t, head)
	assert.Equal(t, 0, sched.FailureStreak("MX"))
}

func TestRefresh_ContentFailureIsNotRetried(t *testing.T) {
	// GIVEN an authority serving a document that fails its checksum
	store := memstore.NewMemory()
	bad := &payroll.RuleValidationError{Country: "MX", Violations: []string{"checksum mismatch"}}
	fetcher := &scriptedFetcher{results: []fetchResult{{err: bad}}}
	sched := newScheduler(store, fetcher, &recordingAlerter{}, refresh.Config{MaxRetries: 3})

	// WHEN the cycle runs
	err := sched.Refresh(context.Background(), "MX")

	// THEN it fails after a single attempt and the store stays untouched
	require.ErrorIs(t, err, payroll.ErrRuleValidation)
	assert.Equal(t, 1, fetcher.callCount())
	head, herr := store.HeadRuleSet(context.Background(), "MX")
	require.NoError(t, herr)
	assert.Nil(t, head)
	assert.Equal(t, 1, sched.FailureStreak("MX"))
}

func TestRefresh_AlertsOnceStreakReachesThreshold(t *testing.T) {
	// GIVEN a persistently failing authority and a threshold of 2
	store := memstore.NewMemory()
	bad := &payroll.RuleValidationError{Country: "MX", Violations: []string{"broken"}}
	fetcher := &scriptedFetcher{results: []fetchResult{{err: bad}}}
	alerter := &recordingAlerter{}
	sched := newScheduler(store, fetcher, alerter, refresh.Config{AlertThreshold: 2})

	// WHEN three cycles fail in a row
	for i := 0; i < 3; i++ {
		require.Error(t, sched.Refresh(context.Background(), "MX"))
	}

	// THEN the first failure is silent, then every one alerts
	assert.Equal(t, []int{2, 3}, alerter.failureStreaks())
	assert.Equal(t, 3, sched.FailureStreak("MX"))
}

func TestRefresh_SuccessResetsStreak(t *testing.T) {
	// GIVEN two failures followed by a recovery
	store := memstore.NewMemory()
	rs := sealedRuleSet("2024-01-01")
	bad := &payroll.RuleValidationError{Country: "MX", Violations: []string{"broken"}}
	fetcher := &scriptedFetcher{results: []fetchResult{{err: bad}, {err: bad}, {rs: &rs}}}
	alerter := &recordingAlerter{}
	sched := newScheduler(store, fetcher, alerter, refresh.Config{AlertThreshold: 5})

	require.Error(t, sched.Refresh(context.Background(), "MX"))
	require.Error(t, sched.Refresh(context.Background(), "MX"))
	require.NoError(t, sched.Refresh(context.Background(), "MX"))

	// THEN the streak is back to zero and the threshold was never hit
	assert.Equal(t, 0, sched.FailureStreak("MX"))
	assert.Empty(t, alerter.failureStreaks())
}

// =============================================================================
// LIFECYCLE
// =============================================================================

func TestStart_RunsInitialCycleAndStops(t *testing.T) {
	// GIVEN a scheduler with a long interval between cycles
	store := memstore.NewMemory()
	rs := sealedRuleSet("2024-01-01")
	fetcher := &scriptedFetcher{results: []fetchResult{{rs: &rs}}}
	sched := newScheduler(store, fetcher, &recordingAlerter{}, refresh.Config{
		Interval: time.Hour,
	})

	// WHEN it starts
	require.NoError(t, sched.Start())

	// THEN the immediate first cycle commits without waiting for the cron
	require.Eventually(t, func() bool {
		head, err := store.HeadRuleSet(context.Background(), "MX")
		return err == nil && head != nil
	}, time.Second, 5*time.Millisecond)

	// AND Stop returns once no cycle is in flight
	sched.Stop()
	assert.Equal(t, 1, fetcher.callCount())
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestRefresh_SecondTriggerReportsBusy(t *testing.T) {
	// GIVEN a cycle parked inside the fetcher, holding the country token
	store := memstore.NewMemory()
	fetcher := &blockingFetcher{entered: make(chan struct{}), release: make(chan struct{})}
	sched := newScheduler(store, fetcher, &recordingAlerter{}, refresh.Config{
		AcquireTimeout: 20 * time.Millisecond,
	})

	done := make(chan error, 1)
	go func() { done <- sched.Refresh(context.Background(), "MX") }()
	<-fetcher.entered

	// WHEN a manual trigger arrives for the same country
	err := sched.Refresh(context.Background(), "MX")

	// THEN it reports busy instead of queueing
	require.ErrorIs(t, err, refresh.ErrRefreshBusy)

	close(fetcher.release)
	require.NoError(t, <-done)
}

func TestRefresh_UnconfiguredCountryStillRefreshable(t *testing.T) {
	// GIVEN a scheduler configured only for MX
	store := memstore.NewMemory()
	rs := countries.BrazilRuleSet()
	fetcher := &scriptedFetcher{results: []fetchResult{{rs: &rs}}}
	sched := newScheduler(store, fetcher, &recordingAlerter{}, refresh.Config{})

	// WHEN a manual trigger asks for BR
	require.NoError(t, sched.Refresh(context.Background(), "BR"))

	// THEN the cycle runs with a throwaway token and commits
	head, err := store.HeadRuleSet(context.Background(), "BR")
	require.NoError(t, err)
	require.NotNil(t, head)
}
