/*
Package refresh keeps the rule store current against authority feeds.

PURPOSE:
  Runs a scheduled fetch -> parse -> validate -> commit cycle per
  configured country. Committed versions are appended to the rule store;
  failures never touch it, so calculations always see the last good
  version.

FAILURE DISCIPLINE:
  - A refresh failure leaves the store untouched and bumps a per-country
    consecutive-failure counter.
  - Transient (fetch) failures retry with exponential backoff within the
    cycle; content failures (checksum, validation) fail the cycle
    immediately - retrying a bad document yields the same bad document.
  - Once the streak reaches the alert threshold, the alerter is told on
    every further failure until a success resets the streak to zero.

CONCURRENCY:
  At most one refresh per country runs at a time, enforced by a
  per-country token. A manual trigger that cannot take the token within
  its grace period reports busy instead of queueing behind the cycle.

SEE ALSO:
  - feed/: Document retrieval and parsing
  - payroll/store.go: The append-only PutRuleSet contract
*/
package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/warp/payroll-engine/metrics"
	"github.com/warp/payroll-engine/payroll"
)

// ErrRefreshBusy means a refresh for the country is already in flight.
var ErrRefreshBusy = errors.New("refresh already in progress for country")

// Fetcher retrieves the current rule document for a country.
// feed.Client is the production implementation.
type Fetcher interface {
	Fetch(ctx context.Context, country payroll.CountryCode) (*payroll.RuleSet, error)
}

// Alerter receives refresh lifecycle events. Implementations must not
// block; errors stay on their side.
type Alerter interface {
	RulesCommitted(ctx context.Context, rs payroll.RuleSet)
	RefreshFailed(ctx context.Context, country payroll.CountryCode, streak int, err error)
}

// NopAlerter discards all events.
type NopAlerter struct{}

func (NopAlerter) RulesCommitted(context.Context, payroll.RuleSet) {}
func (NopAlerter) RefreshFailed(context.Context, payroll.CountryCode, int, error) {}

// =============================================================================
// CONFIGURATION
// =============================================================================

type Config struct {
	// Countries to keep refreshed.
	Countries []payroll.CountryCode

	// Interval between scheduled cycles per country.
	Interval time.Duration

	// MaxRetries bounds transient-failure retries within one cycle.
	MaxRetries int

	// RetryBase is the first backoff delay; it doubles per attempt up to
	// RetryCap.
	RetryBase time.Duration
	RetryCap  time.Duration

	// AlertThreshold is the consecutive-failure count that starts alerting.
	AlertThreshold int

	// AcquireTimeout bounds how long a trigger waits for the country token.
	AcquireTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = 6 * time.Hour
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 2 * time.Second
	}
	if c.RetryCap <= 0 {
		c.RetryCap = time.Minute
	}
	if c.AlertThreshold <= 0 {
		c.AlertThreshold = 3
	}
	if c.AcquireTimeout <= 0 {
		c.AcquireTimeout = 5 * time.Second
	}
}

// =============================================================================
// SCHEDULER
// =============================================================================

type Scheduler struct {
	store   payroll.RuleStore
	fetcher Fetcher
	alerter Alerter
	metrics *metrics.Collector
	log     zerolog.Logger
	cfg     Config

	cron   *cron.Cron
	tokens map[payroll.CountryCode]chan struct{}

	mu      sync.Mutex
	streaks map[payroll.CountryCode]int
}

func NewScheduler(
	store payroll.RuleStore,
	fetcher Fetcher,
	alerter Alerter,
	collector *metrics.Collector,
	log zerolog.Logger,
	cfg Config,
) *Scheduler {
	cfg.applyDefaults()
	if alerter == nil {
		alerter = NopAlerter{}
	}

	tokens := make(map[payroll.CountryCode]chan struct{}, len(cfg.Countries))
	for _, country := range cfg.Countries {
		token := make(chan struct{}, 1)
		token <- struct{}{}
		tokens[country] = token
	}

	return &Scheduler{
		store:   store,
		fetcher: fetcher,
		alerter: alerter,
		metrics: collector,
		log:     log.With().Str("component", "refresh").Logger(),
		cfg:     cfg,
		cron:    cron.New(cron.WithLocation(time.UTC)),
		tokens:  tokens,
		streaks: make(map[payroll.CountryCode]int),
	}
}

// Start registers one cron entry per country and runs the first cycle
// immediately in the background.
func (s *Scheduler) Start() error {
	spec := fmt.Sprintf("@every %s", s.cfg.Interval)
	for _, country := range s.cfg.Countries {
		country := country
		if _, err := s.cron.AddFunc(spec, func() { s.refreshScheduled(country) }); err != nil {
			return fmt.Errorf("schedule refresh for %s: %w", country, err)
		}
	}
	s.cron.Start()

	go func() {
		for _, country := range s.cfg.Countries {
			s.refreshScheduled(country)
		}
	}()

	s.log.Info().
		Int("countries", len(s.cfg.Countries)).
		Dur("interval", s.cfg.Interval).
		Msg("rule refresh scheduler started")
	return nil
}

// Stop stops the cron loop and waits for in-flight cycles to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	// Draining every token guarantees no cycle still holds one.
	for _, token := range s.tokens {
		<-token
	}
	s.log.Info().Msg("rule refresh scheduler stopped")
}

// FailureStreak reports the consecutive-failure count for a country.
func (s *Scheduler) FailureStreak(country payroll.CountryCode) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streaks[country]
}

func (s *Scheduler) refreshScheduled(country payroll.CountryCode) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cycleBudget())
	defer cancel()

	if err := s.Refresh(ctx, country); err != nil && !errors.Is(err, ErrRefreshBusy) {
		// Refresh already logged the detail; this is the cycle summary.
		s.log.Warn().Str("country", string(country)).Err(err).Msg("scheduled refresh cycle failed")
	}
}

// cycleBudget is the worst-case duration of one cycle: every retry plus
// its capped backoff, with headroom for the commit.
func (s *Scheduler) cycleBudget() time.Duration {
	return time.Duration(s.cfg.MaxRetries+1)*s.cfg.RetryCap + time.Minute
}

// Refresh runs one fetch-validate-commit cycle for a country. Safe to
// call from the API for a manual trigger; returns ErrRefreshBusy when a
// cycle already holds the country token.
func (s *Scheduler) Refresh(ctx context.Context, country payroll.CountryCode) error {
	token, ok := s.tokens[country]
	if !ok {
		// Manual trigger for a country outside the configured set still
		// works; it just gets a throwaway token.
		token = make(chan struct{}, 1)
		token <- struct{}{}
	}

	select {
	case <-token:
		defer func() { token <- struct{}{} }()
	case <-time.After(s.cfg.AcquireTimeout):
		return fmt.Errorf("%w: %s", ErrRefreshBusy, country)
	case <-ctx.Done():
		return ctx.Err()
	}

	err := s.refreshOnce(ctx, country)

	s.mu.Lock()
	if err != nil {
		s.streaks[country]++
	} else {
		s.streaks[country] = 0
	}
	streak := s.streaks[country]
	s.mu.Unlock()

	if s.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		s.metrics.ObserveRefresh(string(country), status, streak)
	}

	if err != nil && streak >= s.cfg.AlertThreshold {
		s.alerter.RefreshFailed(ctx, country, streak, err)
	}
	return err
}

// refreshOnce is a single cycle body: fetch with retries, skip if the
// head already carries the document, validate, commit.
func (s *Scheduler) refreshOnce(ctx context.Context, country payroll.CountryCode) error {
	rs, err := s.fetchWithRetry(ctx, country)
	if err != nil {
		s.log.Error().Str("country", string(country)).Err(err).Msg("rule fetch failed")
		return err
	}

	head, err := s.store.HeadRuleSet(ctx, country)
	if err != nil {
		return err
	}
	if head != nil && head.SourceChecksum == rs.SourceChecksum {
		s.log.Debug().
			Str("country", string(country)).
			Int("head_version", head.Version).
			Msg("rule document unchanged, skipping commit")
		return nil
	}

	if err := rs.Validate(); err != nil {
		s.log.Error().Str("country", string(country)).Err(err).Msg("rule document failed validation")
		return err
	}

	if err := s.store.PutRuleSet(ctx, *rs); err != nil {
		s.log.Error().Str("country", string(country)).Err(err).Msg("rule commit failed")
		return err
	}

	committed, err := s.store.HeadRuleSet(ctx, country)
	if err != nil || committed == nil {
		// The put succeeded; the read-back is only for the event payload.
		committed = rs
	}
	if s.metrics != nil {
		s.metrics.SetHeadVersion(string(country), committed.Version)
	}
	s.alerter.RulesCommitted(ctx, *committed)

	s.log.Info().
		Str("country", string(country)).
		Int("version", committed.Version).
		Str("checksum", committed.SourceChecksum).
		Msg("new ruleset version committed")
	return nil
}

// fetchWithRetry retries transient failures with doubling backoff.
// Content failures are terminal: the same document would fail again.
func (s *Scheduler) fetchWithRetry(ctx context.Context, country payroll.CountryCode) (*payroll.RuleSet, error) {
	delay := s.cfg.RetryBase
	var lastErr error

	for attempt := 0; attempt <= s.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			delay *= 2
			if delay > s.cfg.RetryCap {
				delay = s.cfg.RetryCap
			}
		}

		rs, err := s.fetcher.Fetch(ctx, country)
		if err == nil {
			return rs, nil
		}
		lastErr = err

		if !payroll.IsRetryable(err) {
			return nil, err
		}
		s.log.Warn().
			Str("country", string(country)).
			Int("attempt", attempt+1).
			Err(err).
			Msg("transient fetch failure, will retry")
	}
	return nil, lastErr
}
