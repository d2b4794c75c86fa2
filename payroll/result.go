package payroll

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// CALCULATION RESULT - Immutable gross-to-net breakdown
// =============================================================================

// Deduction is one named line of the breakdown, referencing the schedule
// and bracket that produced it for audit.
type Deduction struct {
	Type         ContributionType
	Name         string
	Basis        Money // taxable base after cap/allowance
	Amount       Money
	MarginalRate decimal.Decimal // rate of the top bracket consumed
	BracketIndex int             // index of the top bracket consumed
}

// CalculationResult is the engine's output for one employee and period.
// Invariant: Net = Gross - sum(Deductions), exact to the currency minor unit.
// Immutable once produced; persisted by the orchestrator for audit.
type CalculationResult struct {
	ID             uuid.UUID
	RunKey         string // empty for one-off API calculations
	EmployeeID     EmployeeID
	Country        CountryCode
	Period         PayPeriod
	Gross          Money
	Overtime       Money
	BonusTotal     Money
	Deductions     []Deduction
	Net            Money
	Currency       Currency
	RuleSetID      uuid.UUID
	RuleSetVersion int
	CreatedAt      time.Time
}

// TotalDeductions sums the deduction lines.
func (r *CalculationResult) TotalDeductions() Money {
	total := ZeroMoney(r.Currency)
	for _, d := range r.Deductions {
		total = total.Add(d.Amount)
	}
	return total
}

// IdempotencyKey identifies this result slot within a run. Re-running the
// same (run, employee, period) returns the stored result unchanged.
func ResultIdempotencyKey(runKey string, employeeID EmployeeID, period PayPeriod) string {
	return fmt.Sprintf("%s|%s|%s", runKey, employeeID, period)
}

// =============================================================================
// SEVERANCE RESULT - Itemized termination payout
// =============================================================================

// SeveranceLine is one payout component. Components that are defined for
// the country but not owed for this termination are itemized with a zero
// amount and the reason, so the payout document is self-explanatory.
type SeveranceLine struct {
	Component SeveranceComponent
	Days      decimal.Decimal
	Amount    Money
	Applied   bool
	Reason    string // why the component is zero, when it is
}

type SeveranceResult struct {
	ID              uuid.UUID
	EmployeeID      EmployeeID
	Country         CountryCode
	TerminationType TerminationType
	TenureMonths    int
	DailyRate       Money
	Lines           []SeveranceLine
	Total           Money
	Currency        Currency
	RuleSetID       uuid.UUID
	RuleSetVersion  int
	CreatedAt       time.Time
}

// Line returns the line for a component, or nil.
func (r *SeveranceResult) Line(c SeveranceComponent) *SeveranceLine {
	for i := range r.Lines {
		if r.Lines[i].Component == c {
			return &r.Lines[i]
		}
	}
	return nil
}

// =============================================================================
// PAYROLL RUN - Auditable batch record with idempotency
// =============================================================================

type RunStatus string

const (
	RunPending       RunStatus = "pending"
	RunInProgress    RunStatus = "in_progress"
	RunCompleted     RunStatus = "completed"
	RunFailedPartial RunStatus = "failed_partial"
	RunCanceled      RunStatus = "canceled"
)

type LineStatus string

const (
	LineSucceeded LineStatus = "succeeded"
	LineFailed    LineStatus = "failed"
	LineSkipped   LineStatus = "skipped"
)

// RunLineItem records the outcome for one employee in a run. A failed
// employee carries its error here and never aborts the batch.
type RunLineItem struct {
	EmployeeID EmployeeID
	Status     LineStatus
	ResultID   *uuid.UUID
	Error      string
}

// PayrollRun is one batch execution for a (company, period) pair.
// Lifecycle: pending -> in_progress -> completed | failed_partial | canceled.
type PayrollRun struct {
	ID          uuid.UUID
	Key         string // deterministic over (company, period, employee set)
	CompanyID   CompanyID
	Period      PayPeriod
	Status      RunStatus
	LineItems   []RunLineItem
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// Counts returns (succeeded, failed, skipped).
func (r *PayrollRun) Counts() (int, int, int) {
	var ok, failed, skipped int
	for _, li := range r.LineItems {
		switch li.Status {
		case LineSucceeded:
			ok++
		case LineFailed:
			failed++
		case LineSkipped:
			skipped++
		}
	}
	return ok, failed, skipped
}

// RunKey derives the deterministic idempotency key for a run request.
// The employee set is sorted first, so submission order doesn't matter.
func RunKey(companyID CompanyID, period PayPeriod, employees []EmployeeID) string {
	ids := make([]string, len(employees))
	for i, e := range employees {
		ids[i] = string(e)
	}
	sort.Strings(ids)
	raw := fmt.Sprintf("%s|%s|%s", companyID, period, strings.Join(ids, ","))
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:16])
}
