/*
orchestrator.go - Batch payroll execution with idempotency

PURPOSE:
  Runs many employees through the gross-to-net calculator for one pay
  period, producing an auditable PayrollRun record. Employees are
  independent, so the batch runs on a bounded worker pool reading the
  immutable rule store lock-free.

STATE MACHINE:
  pending -> in_progress -> completed      (every employee succeeded)
                          | failed_partial (some employees failed)
                          | canceled       (cancelled between employees)

ISOLATION:
  A single employee's error is captured on that employee's line item and
  never aborts the run. A run that finishes with failures reports
  failed_partial with per-employee reasons so the caller can fix data and
  re-run only the failed subset.

IDEMPOTENCY:
  The run key is deterministic over (company, period, employee set).
  Re-submitting the same request returns the existing run unchanged. Within
  a run, each employee's result slot is checked before computing, so a
  retried run never double-pays.

CANCELLATION:
  Runs may be cancelled between employees but never mid-calculation
  (calculations are short and atomic). Unprocessed employees are marked
  skipped, not failed.

SEE ALSO:
  - result.go: PayrollRun and line-item shapes
  - engine.go: The per-employee calculation
*/
package payroll

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/warp/payroll-engine/metrics"
)

const defaultWorkers = 8

type Orchestrator struct {
	engine   *Engine
	store    Store
	facts    FactsSource
	notifier Notifier
	metrics  *metrics.Collector
	log      zerolog.Logger
	workers  int

	mu      sync.Mutex
	cancels map[uuid.UUID]context.CancelFunc
}

func NewOrchestrator(engine *Engine, facts FactsSource, notifier Notifier, collector *metrics.Collector, log zerolog.Logger, workers int) *Orchestrator {
	if workers <= 0 {
		workers = defaultWorkers
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Orchestrator{
		engine:   engine,
		store:    engine.Store(),
		facts:    facts,
		notifier: notifier,
		metrics:  collector,
		log:      log,
		workers:  workers,
		cancels:  make(map[uuid.UUID]context.CancelFunc),
	}
}

// StartRun registers a pending run (or returns an existing one for the
// same request) and executes it on a background goroutine. Callers poll
// GetRun or subscribe to run-completion notifications.
func (o *Orchestrator) StartRun(ctx context.Context, companyID CompanyID, period PayPeriod, employees []EmployeeID) (*PayrollRun, error) {
	run, existing, err := o.prepareRun(ctx, companyID, period, employees)
	if err != nil {
		return nil, err
	}
	if existing {
		return run, nil
	}

	runCtx, cancel := context.WithCancel(context.Background())
	o.mu.Lock()
	o.cancels[run.ID] = cancel
	o.mu.Unlock()

	go func() {
		defer func() {
			cancel()
			o.mu.Lock()
			delete(o.cancels, run.ID)
			o.mu.Unlock()
		}()
		if _, err := o.Execute(runCtx, run.ID); err != nil {
			o.log.Error().Err(err).Str("run", run.ID.String()).Msg("payroll run execution failed")
		}
	}()

	return run, nil
}

// Run executes a batch synchronously and returns the terminal run record.
func (o *Orchestrator) Run(ctx context.Context, companyID CompanyID, period PayPeriod, employees []EmployeeID) (*PayrollRun, error) {
	run, existing, err := o.prepareRun(ctx, companyID, period, employees)
	if err != nil {
		return nil, err
	}
	if existing {
		return run, nil
	}
	return o.Execute(ctx, run.ID)
}

// Cancel requests cancellation of an in-flight run. Employees already
// processed keep their results; the rest are marked skipped.
func (o *Orchestrator) Cancel(runID uuid.UUID) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	cancel, ok := o.cancels[runID]
	if ok {
		cancel()
	}
	return ok
}

// prepareRun creates the pending run record, or returns the already-known
// run for an identical request (idempotent re-submission).
func (o *Orchestrator) prepareRun(ctx context.Context, companyID CompanyID, period PayPeriod, employees []EmployeeID) (*PayrollRun, bool, error) {
	if !period.Valid() {
		return nil, false, &InvalidPayPeriodFactsError{Field: "period", Reason: "end before start"}
	}

	key := RunKey(companyID, period, employees)
	if existing, err := o.store.GetRunByKey(ctx, key); err != nil {
		return nil, false, err
	} else if existing != nil {
		o.log.Info().Str("run", existing.ID.String()).Str("key", key).Msg("identical run already exists; returning it")
		return existing, true, nil
	}

	run := PayrollRun{
		ID:        uuid.New(),
		Key:       key,
		CompanyID: companyID,
		Period:    period,
		Status:    RunPending,
		CreatedAt: time.Now().UTC(),
	}
	for _, id := range employees {
		run.LineItems = append(run.LineItems, RunLineItem{EmployeeID: id, Status: LineSkipped})
	}
	if err := o.store.SaveRun(ctx, run); err != nil {
		return nil, false, err
	}
	return &run, false, nil
}

// Execute drives a prepared run to a terminal state.
func (o *Orchestrator) Execute(ctx context.Context, runID uuid.UUID) (*PayrollRun, error) {
	// Load with a background context: run bookkeeping must survive the
	// run's own cancellation so skipped employees get recorded.
	bg := context.Background()

	run, err := o.store.GetRun(bg, runID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, ErrRunNotFound
	}

	started := time.Now().UTC()
	run.Status = RunInProgress
	run.StartedAt = &started
	if err := o.store.SaveRun(bg, *run); err != nil {
		return nil, err
	}
	o.log.Info().Str("run", run.ID.String()).Int("employees", len(run.LineItems)).Msg("payroll run started")

	var mu sync.Mutex // guards run.LineItems
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.workers)

	canceled := false
	for i := range run.LineItems {
		i := i
		if gctx.Err() != nil {
			canceled = true
			break // remaining line items stay skipped
		}
		g.Go(func() error {
			item := o.processEmployee(gctx, run, run.LineItems[i].EmployeeID)
			mu.Lock()
			run.LineItems[i] = item
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	if ctx.Err() != nil {
		canceled = true
	}

	_, failed, _ := run.Counts()
	switch {
	case canceled:
		run.Status = RunCanceled
	case failed > 0:
		run.Status = RunFailedPartial
	default:
		run.Status = RunCompleted
	}
	completed := time.Now().UTC()
	run.CompletedAt = &completed

	if err := o.store.SaveRun(bg, *run); err != nil {
		return nil, err
	}

	ok, failedCount, skipped := run.Counts()
	o.log.Info().
		Str("run", run.ID.String()).
		Str("status", string(run.Status)).
		Int("succeeded", ok).
		Int("failed", failedCount).
		Int("skipped", skipped).
		Msg("payroll run finished")
	if o.metrics != nil {
		o.metrics.ObserveRun(string(run.Status), len(run.LineItems), time.Since(started))
	}
	o.notifier.RunCompleted(bg, *run)

	if run.Status == RunFailedPartial {
		return run, &PartialRunError{RunKey: run.Key, Failed: failedCount}
	}
	return run, nil
}

// processEmployee computes (or reuses) one employee's result. Errors are
// captured on the returned line item, never propagated.
func (o *Orchestrator) processEmployee(ctx context.Context, run *PayrollRun, id EmployeeID) RunLineItem {
	// Cancellation between employees, never mid-calculation.
	if ctx.Err() != nil {
		return RunLineItem{EmployeeID: id, Status: LineSkipped}
	}

	key := ResultIdempotencyKey(run.Key, id, run.Period)
	if existing, err := o.store.GetResultByKey(ctx, key); err == nil && existing != nil {
		return RunLineItem{EmployeeID: id, Status: LineSucceeded, ResultID: &existing.ID}
	}

	facts, err := o.facts.FactsFor(ctx, id, run.Period)
	if err != nil {
		return RunLineItem{EmployeeID: id, Status: LineFailed, Error: err.Error()}
	}

	res, err := o.engine.CalculatePayroll(ctx, *facts)
	if err != nil {
		o.log.Warn().Err(err).Str("run", run.ID.String()).Str("employee", string(id)).Msg("employee calculation failed")
		return RunLineItem{EmployeeID: id, Status: LineFailed, Error: err.Error()}
	}

	res.RunKey = run.Key
	if err := o.store.SaveResult(context.WithoutCancel(ctx), *res); err != nil {
		return RunLineItem{EmployeeID: id, Status: LineFailed, Error: err.Error()}
	}
	return RunLineItem{EmployeeID: id, Status: LineSucceeded, ResultID: &res.ID}
}
