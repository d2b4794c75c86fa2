/*
errors.go - Centralized error types for the payroll engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Calling packages (api, refresh) wrap these errors with transport context.

ERROR CATEGORIES:
  1. Resolution errors - No applicable rules for a country+date
  2. Integrity errors  - Rule store invariant violations (always block writes)
  3. Input errors      - Malformed pay-period or termination facts
  4. Refresh errors    - Authority feed failures (recoverable via fallback)
  5. Run errors        - Batch-level summaries of per-employee failures

USAGE:
  if errors.Is(err, payroll.ErrNoApplicableRuleSet) {
      // fatal for this calculation - never default to guessed rules
  }

SEE ALSO:
  - resolver.go: Emits resolution errors
  - store.go: Store implementations emit integrity errors
*/
package payroll

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNoApplicableRuleSet is returned when no RuleSet covers a
	// (country, date) pair. Calculations must fail rather than run on
	// guessed rules.
	ErrNoApplicableRuleSet = errors.New("no applicable ruleset")

	// ErrOverlappingRuleSet is returned when a write would create two
	// RuleSets whose validity intervals overlap for the same country.
	ErrOverlappingRuleSet = errors.New("overlapping ruleset validity")

	// ErrInvalidRuleSet is returned when rule data fails structural
	// validation (non-contiguous brackets, negative rates, missing checksum).
	ErrInvalidRuleSet = errors.New("invalid ruleset")

	// ErrInvalidPayPeriodFacts is returned for malformed calculation input.
	ErrInvalidPayPeriodFacts = errors.New("invalid pay period facts")

	// ErrInvalidTerminationFacts is returned for malformed severance input.
	ErrInvalidTerminationFacts = errors.New("invalid termination facts")

	// ErrRuleFetch is returned when an authority feed cannot be reached.
	ErrRuleFetch = errors.New("rule fetch failed")

	// ErrRuleValidation is returned when fetched rule data fails validation.
	ErrRuleValidation = errors.New("rule validation failed")

	// ErrPartialRun indicates a payroll run completed with per-employee failures.
	ErrPartialRun = errors.New("payroll run completed with failures")

	// ErrRunNotFound is returned when a referenced run doesn't exist.
	ErrRunNotFound = errors.New("payroll run not found")

	// ErrEmployeeNotFound is returned when a referenced employee doesn't exist.
	ErrEmployeeNotFound = errors.New("employee not found")

	// ErrProfileNotFound is returned when a country has no configured profile.
	ErrProfileNotFound = errors.New("country profile not found")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// NoApplicableRuleSetError reports the (country, date) pair that failed
// to resolve.
type NoApplicableRuleSetError struct {
	Country CountryCode
	At      TimePoint
}

func (e *NoApplicableRuleSetError) Error() string {
	return fmt.Sprintf("no applicable ruleset for %s at %s", e.Country, e.At)
}

func (e *NoApplicableRuleSetError) Unwrap() error { return ErrNoApplicableRuleSet }

// OverlappingRuleSetError reports the existing version whose validity
// interval collides with the rejected write.
type OverlappingRuleSetError struct {
	Country         CountryCode
	ExistingVersion int
	RejectedVersion int
	EffectiveFrom   TimePoint
}

func (e *OverlappingRuleSetError) Error() string {
	return fmt.Sprintf("ruleset for %s effective %s overlaps existing version %d",
		e.Country, e.EffectiveFrom, e.ExistingVersion)
}

func (e *OverlappingRuleSetError) Unwrap() error { return ErrOverlappingRuleSet }

// InvalidPayPeriodFactsError pinpoints the offending input field.
type InvalidPayPeriodFactsError struct {
	Field  string
	Reason string
}

func (e *InvalidPayPeriodFactsError) Error() string {
	return fmt.Sprintf("invalid pay period facts: %s: %s", e.Field, e.Reason)
}

func (e *InvalidPayPeriodFactsError) Unwrap() error { return ErrInvalidPayPeriodFacts }

// InvalidTerminationFactsError pinpoints the offending input field.
type InvalidTerminationFactsError struct {
	Field  string
	Reason string
}

func (e *InvalidTerminationFactsError) Error() string {
	return fmt.Sprintf("invalid termination facts: %s: %s", e.Field, e.Reason)
}

func (e *InvalidTerminationFactsError) Unwrap() error { return ErrInvalidTerminationFacts }

// RuleValidationError collects every structural violation found in a
// candidate RuleSet so feed operators see the full picture at once.
type RuleValidationError struct {
	Country    CountryCode
	Violations []string
}

func (e *RuleValidationError) Error() string {
	return fmt.Sprintf("ruleset for %s failed validation: %s",
		e.Country, strings.Join(e.Violations, "; "))
}

func (e *RuleValidationError) Unwrap() error { return ErrRuleValidation }

// RuleFetchError reports an authority feed failure for one country.
type RuleFetchError struct {
	Country CountryCode
	Source  string
	Cause   error
}

func (e *RuleFetchError) Error() string {
	return fmt.Sprintf("rule fetch for %s from %s: %v", e.Country, e.Source, e.Cause)
}

func (e *RuleFetchError) Unwrap() error { return ErrRuleFetch }

// PartialRunError summarizes per-employee failures in a run.
type PartialRunError struct {
	RunKey string
	Failed int
}

func (e *PartialRunError) Error() string {
	return fmt.Sprintf("run %s: %d employee(s) failed", e.RunKey, e.Failed)
}

func (e *PartialRunError) Unwrap() error { return ErrPartialRun }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidPayPeriodFacts) ||
		errors.Is(err, ErrInvalidTerminationFacts) ||
		errors.Is(err, ErrOverlappingRuleSet) ||
		errors.Is(err, ErrInvalidRuleSet)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNoApplicableRuleSet) ||
		errors.Is(err, ErrRunNotFound) ||
		errors.Is(err, ErrEmployeeNotFound) ||
		errors.Is(err, ErrProfileNotFound)
}

// IsRetryable returns true if the error might succeed on retry.
// Fetch failures are retried with backoff; validation failures are not.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRuleFetch)
}
