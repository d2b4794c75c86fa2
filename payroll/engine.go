/*
engine.go - The calculation engine facade

PURPOSE:
  Binds the resolver and both calculators to a store and exposes the
  operations the surrounding application consumes:

    CalculatePayroll(facts)  -> CalculationResult
    CalculateSeverance(facts) -> SeveranceResult
    RuleSetVersionAt(country, date) -> version identity (audit)

  Batch execution lives in orchestrator.go.

RESOLUTION DATE:
  A pay period resolves against the rules in force on its END date
  (payment-date convention): the rules applicable when the payment falls
  due govern the whole period.

SEE ALSO:
  - orchestrator.go: RunPayroll batches
  - api/: HTTP surface over these operations
*/
package payroll

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/warp/payroll-engine/metrics"
)

type Engine struct {
	store     Store
	resolver  *Resolver
	grossNet  *GrossNetCalculator
	severance *SeveranceCalculator
	metrics   *metrics.Collector
	log       zerolog.Logger
}

func NewEngine(store Store, collector *metrics.Collector, log zerolog.Logger) *Engine {
	return &Engine{
		store:     store,
		resolver:  NewResolver(store, log),
		grossNet:  NewGrossNetCalculator(),
		severance: NewSeveranceCalculator(),
		metrics:   collector,
		log:       log,
	}
}

// Resolver exposes the engine's rule resolver (the refresh scheduler and
// audit endpoints share it).
func (e *Engine) Resolver() *Resolver { return e.resolver }

// Store exposes the bound store.
func (e *Engine) Store() Store { return e.store }

// CalculatePayroll resolves the applicable rules and computes one
// employee's gross-to-net breakdown. The result is not persisted here;
// the orchestrator persists results it produces within runs.
func (e *Engine) CalculatePayroll(ctx context.Context, facts PayPeriodFacts) (*CalculationResult, error) {
	start := time.Now()
	res, err := e.calculatePayroll(ctx, facts)
	if e.metrics != nil {
		e.metrics.ObserveCalculation(string(facts.Country), err, time.Since(start))
	}
	return res, err
}

func (e *Engine) calculatePayroll(ctx context.Context, facts PayPeriodFacts) (*CalculationResult, error) {
	if err := facts.Validate(); err != nil {
		return nil, err
	}

	profile, err := e.store.GetProfile(ctx, facts.Country)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, ErrProfileNotFound
	}

	rs, err := e.resolver.ResolveAt(ctx, facts.Country, facts.Period.End)
	if err != nil {
		return nil, err
	}

	return e.grossNet.Calculate(*profile, rs, facts)
}

// CalculateSeverance resolves rules at the termination date and computes
// the payout. The result is persisted for audit.
func (e *Engine) CalculateSeverance(ctx context.Context, facts TerminationFacts) (*SeveranceResult, error) {
	if err := facts.Validate(); err != nil {
		return nil, err
	}

	rs, err := e.resolver.ResolveAt(ctx, facts.Country, facts.TerminationDate)
	if err != nil {
		return nil, err
	}

	res, err := e.severance.Calculate(rs, facts)
	if err != nil {
		return nil, err
	}

	if err := e.store.SaveSeverance(ctx, *res); err != nil {
		return nil, err
	}
	e.log.Info().
		Str("employee", string(facts.EmployeeID)).
		Str("country", string(facts.Country)).
		Str("type", string(facts.Type)).
		Str("total", res.Total.Value.String()).
		Msg("severance calculated")
	return res, nil
}

// RuleSetVersionAt returns the identity of the RuleSet governing a
// country at a date, for audit and reporting.
func (e *Engine) RuleSetVersionAt(ctx context.Context, country CountryCode, at TimePoint) (*RuleSet, error) {
	return e.resolver.VersionAt(ctx, country, at)
}
