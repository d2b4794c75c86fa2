/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements the full payroll.Store surface (rules, profiles, results,
  runs, employees) over an embedded SQLite database. Suitable for
  single-node deployments and local development; server deployments use
  store/postgres with the same semantics.

APPEND-ONLY ENFORCEMENT:
  The rulesets table is append-only:
  - No DELETE statements exist for it
  - The only UPDATE closes an open-ended head's effective_to when a later
    version supersedes it (derived bookkeeping; rule content is untouched)
  - UNIQUE(country, version) backstops the in-process serialization

  Results are write-once: saving under an existing idempotency key is a
  no-op, so a retried run can never produce a second payment record.

KEY TABLES:
  rulesets:          Versioned country rule data (content as JSON)
  country_profiles:  Jurisdiction reference data
  results:           Immutable gross-to-net breakdowns
  severance_results: Immutable termination payouts
  runs:              Batch run lifecycle records
  employees:         Master records backing the facts registry
  period_facts:      Attendance-pushed facts per (employee, period)

CONCURRENCY:
  Uses sync.RWMutex for thread-safety; commits to the rulesets table are
  additionally wrapped in a database transaction so the overlap check and
  the insert are atomic.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging): readers don't block,
  single writer at a time, better crash recovery.

USAGE:
  store, err := sqlite.New("./data/payroll.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - payroll/store.go: Interface definitions and contracts
  - payroll/store/memory.go: In-memory implementation for testing
  - store/postgres: Server-grade implementation
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/payroll-engine/payroll"
)

const dateFormat = "2006-01-02"

// Store implements payroll.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Versioned country rules (append-only)
	CREATE TABLE IF NOT EXISTS rulesets (
		id TEXT PRIMARY KEY,
		country TEXT NOT NULL,
		currency TEXT NOT NULL,
		version INTEGER NOT NULL,
		effective_from TEXT NOT NULL,
		effective_to TEXT,
		source_checksum TEXT NOT NULL,
		rounding TEXT NOT NULL,
		rules_json TEXT NOT NULL,
		created_at TEXT NOT NULL,
		UNIQUE(country, version),
		UNIQUE(country, effective_from)
	);

	CREATE INDEX IF NOT EXISTS idx_rulesets_country_from
		ON rulesets(country, effective_from);

	-- Jurisdiction reference data
	CREATE TABLE IF NOT EXISTS country_profiles (
		country TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		currency TEXT NOT NULL,
		contributions_json TEXT NOT NULL
	);

	-- Immutable gross-to-net results
	CREATE TABLE IF NOT EXISTS results (
		id TEXT PRIMARY KEY,
		idempotency_key TEXT UNIQUE,
		run_key TEXT,
		employee_id TEXT NOT NULL,
		country TEXT NOT NULL,
		period_start TEXT NOT NULL,
		period_end TEXT NOT NULL,
		gross TEXT NOT NULL,
		overtime TEXT NOT NULL,
		bonus_total TEXT NOT NULL,
		net TEXT NOT NULL,
		currency TEXT NOT NULL,
		deductions_json TEXT NOT NULL,
		ruleset_id TEXT NOT NULL,
		ruleset_version INTEGER NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_results_run_key
		ON results(run_key) WHERE run_key IS NOT NULL AND run_key != '';
	CREATE INDEX IF NOT EXISTS idx_results_employee
		ON results(employee_id, period_start);

	-- Immutable severance payouts
	CREATE TABLE IF NOT EXISTS severance_results (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		country TEXT NOT NULL,
		termination_type TEXT NOT NULL,
		tenure_months INTEGER NOT NULL,
		daily_rate TEXT NOT NULL,
		total TEXT NOT NULL,
		currency TEXT NOT NULL,
		lines_json TEXT NOT NULL,
		ruleset_id TEXT NOT NULL,
		ruleset_version INTEGER NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_severance_employee
		ON severance_results(employee_id);

	-- Batch runs (lifecycle upserts keyed by deterministic run key)
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		run_key TEXT NOT NULL UNIQUE,
		company_id TEXT NOT NULL,
		period_start TEXT NOT NULL,
		period_end TEXT NOT NULL,
		status TEXT NOT NULL,
		line_items_json TEXT NOT NULL,
		created_at TEXT NOT NULL,
		started_at TEXT,
		completed_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_runs_company
		ON runs(company_id, created_at);

	-- Employee master records
	CREATE TABLE IF NOT EXISTS employees (
		id TEXT PRIMARY KEY,
		company_id TEXT NOT NULL,
		name TEXT NOT NULL,
		country TEXT NOT NULL,
		currency TEXT NOT NULL,
		base_salary TEXT NOT NULL,
		hire_date TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_employees_company
		ON employees(company_id);

	-- Attendance-pushed facts, one row per (employee, period)
	CREATE TABLE IF NOT EXISTS period_facts (
		employee_id TEXT NOT NULL,
		period_start TEXT NOT NULL,
		period_end TEXT NOT NULL,
		country TEXT NOT NULL,
		base_salary TEXT NOT NULL,
		hours_worked TEXT NOT NULL,
		overtime_hours TEXT NOT NULL,
		bonuses_json TEXT NOT NULL,
		currency TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY(employee_id, period_start, period_end)
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// RULE STORE (payroll.RuleStore interface)
// =============================================================================

// rulesDoc is the JSON shape of the rules_json column: the pure rule
// content, excluding identity and validity columns.
type rulesDoc struct {
	MinimumWage   decimal.Decimal                `json:"minimum_wage"`
	Contributions []payroll.ContributionSchedule `json:"contributions"`
	Overtime      payroll.OvertimeRules          `json:"overtime"`
	Severance     payroll.SeveranceRules         `json:"severance"`
}

// PutRuleSet appends a new version. The write lock plus the enclosing
// database transaction make the overlap check and insert atomic.
func (s *Store) PutRuleSet(ctx context.Context, rs payroll.RuleSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := rs.Validate(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	existing, err := s.queryRuleSets(ctx, tx,
		`SELECT id, country, currency, version, effective_from, effective_to,
		        source_checksum, rounding, rules_json, created_at
		 FROM rulesets WHERE country = ? ORDER BY effective_from ASC`, rs.Country)
	if err != nil {
		return err
	}

	if rs.Version == 0 {
		rs.Version = len(existing) + 1
	}
	if rs.ID == uuid.Nil {
		rs.ID = uuid.New()
	}
	if rs.CreatedAt.IsZero() {
		rs.CreatedAt = payroll.Today()
	}

	for i := range existing {
		prev := &existing[i]
		if prev.EffectiveTo == nil && rs.EffectiveFrom.After(prev.EffectiveFrom) {
			// Open-ended head superseded by a later version; closed below.
			continue
		}
		if intervalsOverlap(rs, *prev) {
			return &payroll.OverlappingRuleSetError{
				Country:         rs.Country,
				ExistingVersion: prev.Version,
				RejectedVersion: rs.Version,
				EffectiveFrom:   rs.EffectiveFrom,
			}
		}
	}

	// Close any open head superseded by this version. Content is untouched
	// and no date that resolved to the head resolves differently.
	_, err = tx.ExecContext(ctx,
		`UPDATE rulesets SET effective_to = ?
		 WHERE country = ? AND effective_to IS NULL AND effective_from < ?`,
		rs.EffectiveFrom.String(), rs.Country, rs.EffectiveFrom.String())
	if err != nil {
		return fmt.Errorf("failed to close superseded head: %w", err)
	}

	rulesJSON, err := json.Marshal(rulesDoc{
		MinimumWage:   rs.MinimumWage,
		Contributions: rs.Contributions,
		Overtime:      rs.Overtime,
		Severance:     rs.Severance,
	})
	if err != nil {
		return fmt.Errorf("failed to encode rules: %w", err)
	}

	var effectiveTo *string
	if rs.EffectiveTo != nil {
		v := rs.EffectiveTo.String()
		effectiveTo = &v
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO rulesets
		 (id, country, currency, version, effective_from, effective_to,
		  source_checksum, rounding, rules_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rs.ID.String(), rs.Country, rs.Currency, rs.Version,
		rs.EffectiveFrom.String(), effectiveTo,
		rs.SourceChecksum, rs.Rounding, string(rulesJSON),
		rs.CreatedAt.String(),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return &payroll.OverlappingRuleSetError{
				Country:         rs.Country,
				RejectedVersion: rs.Version,
				EffectiveFrom:   rs.EffectiveFrom,
			}
		}
		return fmt.Errorf("failed to insert ruleset: %w", err)
	}

	return tx.Commit()
}

// intervalsOverlap reports whether two half-open validity intervals
// intersect. A nil EffectiveTo is treated as unbounded.
func intervalsOverlap(a, b payroll.RuleSet) bool {
	startsBeforeEnd := func(start payroll.TimePoint, end *payroll.TimePoint) bool {
		return end == nil || start.Before(*end)
	}
	return startsBeforeEnd(a.EffectiveFrom, b.EffectiveTo) &&
		startsBeforeEnd(b.EffectiveFrom, a.EffectiveTo)
}

// ListRuleSets returns all versions for a country, oldest first.
func (s *Store) ListRuleSets(ctx context.Context, country payroll.CountryCode) ([]payroll.RuleSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryRuleSets(ctx, s.db,
		`SELECT id, country, currency, version, effective_from, effective_to,
		        source_checksum, rounding, rules_json, created_at
		 FROM rulesets WHERE country = ? ORDER BY effective_from ASC`, country)
}

// HeadRuleSet returns the version with the latest EffectiveFrom, or nil.
func (s *Store) HeadRuleSet(ctx context.Context, country payroll.CountryCode) (*payroll.RuleSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rulesets, err := s.queryRuleSets(ctx, s.db,
		`SELECT id, country, currency, version, effective_from, effective_to,
		        source_checksum, rounding, rules_json, created_at
		 FROM rulesets WHERE country = ?
		 ORDER BY effective_from DESC LIMIT 1`, country)
	if err != nil {
		return nil, err
	}
	if len(rulesets) == 0 {
		return nil, nil
	}
	return &rulesets[0], nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Store) queryRuleSets(ctx context.Context, db querier, query string, args ...any) ([]payroll.RuleSet, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query rulesets: %w", err)
	}
	defer rows.Close()

	var rulesets []payroll.RuleSet
	for rows.Next() {
		rs, err := scanRuleSet(rows)
		if err != nil {
			return nil, err
		}
		rulesets = append(rulesets, rs)
	}
	return rulesets, rows.Err()
}

func scanRuleSet(rows *sql.Rows) (payroll.RuleSet, error) {
	var (
		rs            payroll.RuleSet
		id            string
		effectiveFrom string
		effectiveTo   sql.NullString
		rulesJSON     string
		createdAt     string
	)

	err := rows.Scan(&id, &rs.Country, &rs.Currency, &rs.Version,
		&effectiveFrom, &effectiveTo, &rs.SourceChecksum, &rs.Rounding,
		&rulesJSON, &createdAt)
	if err != nil {
		return rs, fmt.Errorf("failed to scan ruleset: %w", err)
	}

	rs.ID, _ = uuid.Parse(id)
	rs.EffectiveFrom = parseDate(effectiveFrom)
	if effectiveTo.Valid {
		to := parseDate(effectiveTo.String)
		rs.EffectiveTo = &to
	}
	rs.CreatedAt = parseDate(createdAt)

	var doc rulesDoc
	if err := json.Unmarshal([]byte(rulesJSON), &doc); err != nil {
		return rs, fmt.Errorf("failed to decode rules for %s v%d: %w", rs.Country, rs.Version, err)
	}
	rs.MinimumWage = doc.MinimumWage
	rs.Contributions = doc.Contributions
	rs.Overtime = doc.Overtime
	rs.Severance = doc.Severance

	return rs, nil
}

// =============================================================================
// PROFILE STORE (payroll.ProfileStore interface)
// =============================================================================

func (s *Store) PutProfile(ctx context.Context, p payroll.CountryProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	contributions, _ := json.Marshal(p.Contributions)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO country_profiles (country, name, currency, contributions_json)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(country) DO UPDATE SET
			name = excluded.name,
			currency = excluded.currency,
			contributions_json = excluded.contributions_json`,
		p.Country, p.Name, p.Currency, string(contributions),
	)
	return err
}

func (s *Store) GetProfile(ctx context.Context, country payroll.CountryCode) (*payroll.CountryProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var p payroll.CountryProfile
	var contributions string

	err := s.db.QueryRowContext(ctx,
		`SELECT country, name, currency, contributions_json
		 FROM country_profiles WHERE country = ?`, country,
	).Scan(&p.Country, &p.Name, &p.Currency, &contributions)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(contributions), &p.Contributions); err != nil {
		return nil, fmt.Errorf("failed to decode profile %s: %w", country, err)
	}
	return &p, nil
}

func (s *Store) ListProfiles(ctx context.Context) ([]payroll.CountryProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT country, name, currency, contributions_json
		 FROM country_profiles ORDER BY country`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var profiles []payroll.CountryProfile
	for rows.Next() {
		var p payroll.CountryProfile
		var contributions string
		if err := rows.Scan(&p.Country, &p.Name, &p.Currency, &contributions); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(contributions), &p.Contributions); err != nil {
			return nil, fmt.Errorf("failed to decode profile %s: %w", p.Country, err)
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

// =============================================================================
// RESULT STORE (payroll.ResultStore interface)
// =============================================================================

// SaveResult persists a calculation result. First write wins: saving
// under an existing idempotency key leaves the stored result untouched.
func (s *Store) SaveResult(ctx context.Context, res payroll.CalculationResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	deductions, err := json.Marshal(res.Deductions)
	if err != nil {
		return fmt.Errorf("failed to encode deductions: %w", err)
	}

	key := payroll.ResultIdempotencyKey(res.RunKey, res.EmployeeID, res.Period)

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO results
		 (id, idempotency_key, run_key, employee_id, country, period_start, period_end,
		  gross, overtime, bonus_total, net, currency, deductions_json,
		  ruleset_id, ruleset_version, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(idempotency_key) DO NOTHING`,
		res.ID.String(), key, res.RunKey, res.EmployeeID, res.Country,
		res.Period.Start.String(), res.Period.End.String(),
		res.Gross.Value.String(), res.Overtime.Value.String(),
		res.BonusTotal.Value.String(), res.Net.Value.String(), res.Currency,
		string(deductions), res.RuleSetID.String(), res.RuleSetVersion,
		res.CreatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) GetResultByKey(ctx context.Context, key string) (*payroll.CalculationResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	results, err := s.queryResults(ctx,
		resultSelect+` WHERE idempotency_key = ?`, key)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}
	return &results[0], nil
}

func (s *Store) ListResultsByRun(ctx context.Context, runKey string) ([]payroll.CalculationResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryResults(ctx,
		resultSelect+` WHERE run_key = ? ORDER BY employee_id`, runKey)
}

const resultSelect = `
	SELECT id, run_key, employee_id, country, period_start, period_end,
	       gross, overtime, bonus_total, net, currency, deductions_json,
	       ruleset_id, ruleset_version, created_at
	FROM results`

func (s *Store) queryResults(ctx context.Context, query string, args ...any) ([]payroll.CalculationResult, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query results: %w", err)
	}
	defer rows.Close()

	var results []payroll.CalculationResult
	for rows.Next() {
		var (
			res           payroll.CalculationResult
			id, rsID      string
			periodStart   string
			periodEnd     string
			gross         string
			overtime      string
			bonusTotal    string
			net           string
			deductions    string
			createdAt     string
		)
		if err := rows.Scan(&id, &res.RunKey, &res.EmployeeID, &res.Country,
			&periodStart, &periodEnd, &gross, &overtime, &bonusTotal, &net,
			&res.Currency, &deductions, &rsID, &res.RuleSetVersion, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}

		res.ID, _ = uuid.Parse(id)
		res.RuleSetID, _ = uuid.Parse(rsID)
		res.Period = payroll.PayPeriod{Start: parseDate(periodStart), End: parseDate(periodEnd)}
		res.Gross = moneyFrom(gross, res.Currency)
		res.Overtime = moneyFrom(overtime, res.Currency)
		res.BonusTotal = moneyFrom(bonusTotal, res.Currency)
		res.Net = moneyFrom(net, res.Currency)
		res.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)

		if err := json.Unmarshal([]byte(deductions), &res.Deductions); err != nil {
			return nil, fmt.Errorf("failed to decode deductions: %w", err)
		}
		results = append(results, res)
	}
	return results, rows.Err()
}

// SaveSeverance persists a severance result for audit.
func (s *Store) SaveSeverance(ctx context.Context, res payroll.SeveranceResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lines, err := json.Marshal(res.Lines)
	if err != nil {
		return fmt.Errorf("failed to encode severance lines: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO severance_results
		 (id, employee_id, country, termination_type, tenure_months, daily_rate,
		  total, currency, lines_json, ruleset_id, ruleset_version, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		res.ID.String(), res.EmployeeID, res.Country, res.TerminationType,
		res.TenureMonths, res.DailyRate.Value.String(), res.Total.Value.String(),
		res.Currency, string(lines), res.RuleSetID.String(), res.RuleSetVersion,
		res.CreatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

// =============================================================================
// RUN STORE (payroll.RunStore interface)
// =============================================================================

// SaveRun upserts a run record as it moves through its lifecycle.
func (s *Store) SaveRun(ctx context.Context, run payroll.PayrollRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lineItems, err := json.Marshal(run.LineItems)
	if err != nil {
		return fmt.Errorf("failed to encode line items: %w", err)
	}

	var startedAt, completedAt *string
	if run.StartedAt != nil {
		v := run.StartedAt.UTC().Format(time.RFC3339)
		startedAt = &v
	}
	if run.CompletedAt != nil {
		v := run.CompletedAt.UTC().Format(time.RFC3339)
		completedAt = &v
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs
		 (id, run_key, company_id, period_start, period_end, status,
		  line_items_json, created_at, started_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_key) DO UPDATE SET
			status = excluded.status,
			line_items_json = excluded.line_items_json,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at`,
		run.ID.String(), run.Key, run.CompanyID,
		run.Period.Start.String(), run.Period.End.String(), run.Status,
		string(lineItems), run.CreatedAt.UTC().Format(time.RFC3339),
		startedAt, completedAt,
	)
	return err
}

func (s *Store) GetRun(ctx context.Context, id uuid.UUID) (*payroll.PayrollRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryRun(ctx, runSelect+` WHERE id = ?`, id.String())
}

func (s *Store) GetRunByKey(ctx context.Context, key string) (*payroll.PayrollRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryRun(ctx, runSelect+` WHERE run_key = ?`, key)
}

func (s *Store) ListRuns(ctx context.Context, companyID payroll.CompanyID) ([]payroll.PayrollRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		runSelect+` WHERE company_id = ? ORDER BY created_at DESC`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []payroll.PayrollRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

const runSelect = `
	SELECT id, run_key, company_id, period_start, period_end, status,
	       line_items_json, created_at, started_at, completed_at
	FROM runs`

func (s *Store) queryRun(ctx context.Context, query string, args ...any) (*payroll.PayrollRun, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	run, err := scanRun(rows)
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func scanRun(rows *sql.Rows) (payroll.PayrollRun, error) {
	var (
		run                    payroll.PayrollRun
		id                     string
		periodStart, periodEnd string
		lineItems              string
		createdAt              string
		startedAt, completedAt sql.NullString
	)

	err := rows.Scan(&id, &run.Key, &run.CompanyID, &periodStart, &periodEnd,
		&run.Status, &lineItems, &createdAt, &startedAt, &completedAt)
	if err != nil {
		return run, fmt.Errorf("failed to scan run: %w", err)
	}

	run.ID, _ = uuid.Parse(id)
	run.Period = payroll.PayPeriod{Start: parseDate(periodStart), End: parseDate(periodEnd)}
	run.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	if startedAt.Valid {
		t, _ := time.Parse(time.RFC3339, startedAt.String)
		run.StartedAt = &t
	}
	if completedAt.Valid {
		t, _ := time.Parse(time.RFC3339, completedAt.String)
		run.CompletedAt = &t
	}

	if err := json.Unmarshal([]byte(lineItems), &run.LineItems); err != nil {
		return run, fmt.Errorf("failed to decode line items: %w", err)
	}
	return run, nil
}

// =============================================================================
// EMPLOYEE STORE (payroll.EmployeeStore interface)
// =============================================================================

func (s *Store) SaveEmployee(ctx context.Context, e payroll.Employee) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.CreatedAt.IsZero() {
		e.CreatedAt = payroll.Today()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO employees
		 (id, company_id, name, country, currency, base_salary, hire_date, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			company_id = excluded.company_id,
			name = excluded.name,
			country = excluded.country,
			currency = excluded.currency,
			base_salary = excluded.base_salary,
			hire_date = excluded.hire_date`,
		e.ID, e.CompanyID, e.Name, e.Country, e.Currency,
		e.BaseSalary.Value.String(), e.HireDate.String(), e.CreatedAt.String(),
	)
	return err
}

func (s *Store) GetEmployee(ctx context.Context, id payroll.EmployeeID) (*payroll.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		e          payroll.Employee
		baseSalary string
		hireDate   string
		createdAt  string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, company_id, name, country, currency, base_salary, hire_date, created_at
		 FROM employees WHERE id = ?`, id,
	).Scan(&e.ID, &e.CompanyID, &e.Name, &e.Country, &e.Currency,
		&baseSalary, &hireDate, &createdAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	e.BaseSalary = moneyFrom(baseSalary, e.Currency)
	e.HireDate = parseDate(hireDate)
	e.CreatedAt = parseDate(createdAt)
	return &e, nil
}

func (s *Store) ListEmployees(ctx context.Context, companyID payroll.CompanyID) ([]payroll.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, company_id, name, country, currency, base_salary, hire_date, created_at
		 FROM employees WHERE company_id = ? ORDER BY name`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var employees []payroll.Employee
	for rows.Next() {
		var (
			e          payroll.Employee
			baseSalary string
			hireDate   string
			createdAt  string
		)
		if err := rows.Scan(&e.ID, &e.CompanyID, &e.Name, &e.Country, &e.Currency,
			&baseSalary, &hireDate, &createdAt); err != nil {
			return nil, err
		}
		e.BaseSalary = moneyFrom(baseSalary, e.Currency)
		e.HireDate = parseDate(hireDate)
		e.CreatedAt = parseDate(createdAt)
		employees = append(employees, e)
	}
	return employees, rows.Err()
}

// SaveFacts replaces any earlier attendance push for the same slot.
func (s *Store) SaveFacts(ctx context.Context, f payroll.PayPeriodFacts) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	bonuses, err := json.Marshal(f.Bonuses)
	if err != nil {
		return fmt.Errorf("failed to encode bonuses: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO period_facts
		 (employee_id, period_start, period_end, country, base_salary,
		  hours_worked, overtime_hours, bonuses_json, currency, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(employee_id, period_start, period_end) DO UPDATE SET
			country = excluded.country,
			base_salary = excluded.base_salary,
			hours_worked = excluded.hours_worked,
			overtime_hours = excluded.overtime_hours,
			bonuses_json = excluded.bonuses_json,
			currency = excluded.currency,
			updated_at = excluded.updated_at`,
		f.EmployeeID, f.Period.Start.String(), f.Period.End.String(),
		f.Country, f.BaseSalary.Value.String(),
		f.HoursWorked.String(), f.OvertimeHours.String(),
		string(bonuses), f.Currency,
		time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) GetFacts(ctx context.Context, id payroll.EmployeeID, period payroll.PayPeriod) (*payroll.PayPeriodFacts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		f             payroll.PayPeriodFacts
		baseSalary    string
		hoursWorked   string
		overtimeHours string
		bonuses       string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT employee_id, country, base_salary, hours_worked, overtime_hours,
		        bonuses_json, currency
		 FROM period_facts
		 WHERE employee_id = ? AND period_start = ? AND period_end = ?`,
		id, period.Start.String(), period.End.String(),
	).Scan(&f.EmployeeID, &f.Country, &baseSalary, &hoursWorked,
		&overtimeHours, &bonuses, &f.Currency)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	f.Period = period
	f.BaseSalary = moneyFrom(baseSalary, f.Currency)
	f.HoursWorked = payroll.MustParseDecimal(hoursWorked)
	f.OvertimeHours = payroll.MustParseDecimal(overtimeHours)
	if err := json.Unmarshal([]byte(bonuses), &f.Bonuses); err != nil {
		return nil, fmt.Errorf("failed to decode bonuses: %w", err)
	}
	return &f, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func parseDate(s string) payroll.TimePoint {
	tp, _ := payroll.ParseDate(s)
	return tp
}

func moneyFrom(value string, currency payroll.Currency) payroll.Money {
	return payroll.Money{Value: payroll.MustParseDecimal(value), Currency: currency}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
