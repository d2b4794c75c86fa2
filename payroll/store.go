/*
store.go - Persistence interfaces for rules, results, and runs

PURPOSE:
  Defines the interface between the engine and the database. Different
  implementations use SQLite, PostgreSQL, or in-memory storage, selected
  by configuration.

APPEND-ONLY CONTRACT (rule store):
  RuleSets are append-only: PutRuleSet is the only write, and no update or
  delete operation exists. A previously produced CalculationResult is
  therefore reproducible forever - re-resolving the same country+date
  always yields the same RuleSet version.

  One bookkeeping exception: when a new version supersedes an open-ended
  head, the store records the head's derived closing bound (= the new
  version's EffectiveFrom). The head's rule CONTENT never changes, and no
  date that previously resolved to it resolves differently afterwards.

OVERLAP ENFORCEMENT:
  PutRuleSet rejects any RuleSet whose validity interval overlaps an
  existing one for the same country with OverlappingRuleSetError. Writes
  are serialized per country (mutex in memory, unique-index insert in SQL)
  so concurrent commits cannot race past the check.

IDEMPOTENCY (result store):
  Every CalculationResult written by a run carries an idempotency key over
  (run key, employee, period). A retried run finds the existing result and
  returns it unchanged - no double pay.

IMPLEMENTATIONS:
  - payroll/store/memory.go: In-memory for tests and dev
  - store/sqlite:            Embedded production store
  - store/postgres:          Server deployments

SEE ALSO:
  - resolver.go: Reads rule versions through RuleStore
  - orchestrator.go: Uses ResultStore + RunStore for idempotent batches
*/
package payroll

import (
	"context"

	"github.com/google/uuid"
)

// =============================================================================
// RULE STORE - Append-only versioned rule data
// =============================================================================

type RuleStore interface {
	// PutRuleSet appends a new version. Rejects overlapping validity
	// intervals and structurally invalid rule data. If rs.Version is 0 the
	// store assigns head version + 1.
	PutRuleSet(ctx context.Context, rs RuleSet) error

	// ListRuleSets returns all versions for a country, ordered by
	// EffectiveFrom ascending. RuleSets are immutable; reads need no locks.
	ListRuleSets(ctx context.Context, country CountryCode) ([]RuleSet, error)

	// HeadRuleSet returns the version with the latest EffectiveFrom, or nil.
	HeadRuleSet(ctx context.Context, country CountryCode) (*RuleSet, error)
}

// =============================================================================
// PROFILE STORE - Jurisdiction reference data
// =============================================================================

type ProfileStore interface {
	PutProfile(ctx context.Context, p CountryProfile) error
	GetProfile(ctx context.Context, country CountryCode) (*CountryProfile, error)
	ListProfiles(ctx context.Context) ([]CountryProfile, error)
}

// =============================================================================
// RESULT STORE - Immutable calculation outputs
// =============================================================================

type ResultStore interface {
	// SaveResult persists a calculation result keyed by its idempotency key.
	SaveResult(ctx context.Context, res CalculationResult) error

	// GetResultByKey returns the result for an idempotency key, or nil.
	GetResultByKey(ctx context.Context, key string) (*CalculationResult, error)

	// ListResultsByRun returns all results written by one run.
	ListResultsByRun(ctx context.Context, runKey string) ([]CalculationResult, error)

	// SaveSeverance persists a severance result for audit.
	SaveSeverance(ctx context.Context, res SeveranceResult) error
}

// =============================================================================
// RUN STORE - Batch run records
// =============================================================================

type RunStore interface {
	// SaveRun upserts a run record (runs transition through their lifecycle).
	SaveRun(ctx context.Context, run PayrollRun) error

	GetRun(ctx context.Context, id uuid.UUID) (*PayrollRun, error)
	GetRunByKey(ctx context.Context, key string) (*PayrollRun, error)
	ListRuns(ctx context.Context, companyID CompanyID) ([]PayrollRun, error)
}

// =============================================================================
// EMPLOYEE STORE - Master records and attendance facts
// =============================================================================

type EmployeeStore interface {
	SaveEmployee(ctx context.Context, e Employee) error
	GetEmployee(ctx context.Context, id EmployeeID) (*Employee, error)
	ListEmployees(ctx context.Context, companyID CompanyID) ([]Employee, error)

	// SaveFacts records attendance-pushed facts for (employee, period),
	// replacing any earlier push for the same slot.
	SaveFacts(ctx context.Context, f PayPeriodFacts) error
	GetFacts(ctx context.Context, id EmployeeID, period PayPeriod) (*PayPeriodFacts, error)
}

// Store is the full persistence surface the engine binds against.
type Store interface {
	RuleStore
	ProfileStore
	ResultStore
	RunStore
	EmployeeStore
}

// =============================================================================
// FACTS SOURCE - Collaborator seam for the attendance subsystem
// =============================================================================

// FactsSource resolves the pay-period facts for an employee. The bundled
// implementation reads facts pushed over the HTTP API, falling back to the
// employee's master record (full period, no overtime) when the attendance
// subsystem hasn't reported for the slot.
type FactsSource interface {
	FactsFor(ctx context.Context, id EmployeeID, period PayPeriod) (*PayPeriodFacts, error)
}

// StoreFactsSource is the bundled FactsSource over an EmployeeStore.
type StoreFactsSource struct {
	Store EmployeeStore
}

func (s *StoreFactsSource) FactsFor(ctx context.Context, id EmployeeID, period PayPeriod) (*PayPeriodFacts, error) {
	facts, err := s.Store.GetFacts(ctx, id, period)
	if err != nil {
		return nil, err
	}
	if facts != nil {
		return facts, nil
	}

	emp, err := s.Store.GetEmployee(ctx, id)
	if err != nil {
		return nil, err
	}
	if emp == nil {
		return nil, ErrEmployeeNotFound
	}
	return &PayPeriodFacts{
		EmployeeID: emp.ID,
		Country:    emp.Country,
		Period:     period,
		BaseSalary: emp.BaseSalary,
		Currency:   emp.Currency,
	}, nil
}

// Notifier receives fire-and-forget engine events. Implementations must
// never block or propagate errors into the calculation path.
type Notifier interface {
	RunCompleted(ctx context.Context, run PayrollRun)
}

// NopNotifier discards all events.
type NopNotifier struct{}

func (NopNotifier) RunCompleted(context.Context, PayrollRun) {}
