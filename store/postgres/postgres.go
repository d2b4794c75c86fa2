/*
Package postgres provides a PostgreSQL-backed implementation of the storage
interfaces for server deployments.

PURPOSE:
  Same contracts as store/sqlite, backed by sqlx over lib/pq with
  versioned schema migrations. Multi-instance deployments point at one
  database; per-country commit serialization uses an advisory lock
  instead of an in-process mutex, so the append-only overlap check holds
  across processes.

MIGRATIONS:
  Schema lives in migrations/ (embedded) and is applied with
  golang-migrate on startup via RunMigrations.

SEE ALSO:
  - payroll/store.go: Interface definitions and contracts
  - store/sqlite: Embedded single-node implementation
*/
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/warp/payroll-engine/payroll"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store implements payroll.Store using PostgreSQL.
type Store struct {
	db *sqlx.DB
}

// Connect opens a connection pool and verifies it.
func Connect(dsn string, maxOpen, maxIdle int, connMaxLifetime time.Duration) (*Store, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(connMaxLifetime)

	return &Store{db: db}, nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// RunMigrations applies the embedded schema migrations.
func RunMigrations(dsn string) error {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database for migrations: %w", err)
	}
	defer db.Close()

	driver, err := migratepg.WithInstance(db, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load embedded migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// =============================================================================
// ROW TYPES
// =============================================================================

type rulesetRow struct {
	ID             uuid.UUID    `db:"id"`
	Country        string       `db:"country"`
	Currency       string       `db:"currency"`
	Version        int          `db:"version"`
	EffectiveFrom  time.Time    `db:"effective_from"`
	EffectiveTo    *time.Time   `db:"effective_to"`
	SourceChecksum string       `db:"source_checksum"`
	Rounding       string       `db:"rounding"`
	RulesJSON      []byte       `db:"rules_json"`
	CreatedAt      time.Time    `db:"created_at"`
}

type rulesDoc struct {
	MinimumWage   string                         `json:"minimum_wage"`
	Contributions []payroll.ContributionSchedule `json:"contributions"`
	Overtime      payroll.OvertimeRules          `json:"overtime"`
	Severance     payroll.SeveranceRules         `json:"severance"`
}

func (r rulesetRow) toDomain() (payroll.RuleSet, error) {
	rs := payroll.RuleSet{
		ID:             r.ID,
		Country:        payroll.CountryCode(r.Country),
		Currency:       payroll.Currency(r.Currency),
		Version:        r.Version,
		EffectiveFrom:  payroll.DateOf(r.EffectiveFrom),
		SourceChecksum: r.SourceChecksum,
		Rounding:       payroll.RoundingMode(r.Rounding),
		CreatedAt:      payroll.DateOf(r.CreatedAt),
	}
	if r.EffectiveTo != nil {
		to := payroll.DateOf(*r.EffectiveTo)
		rs.EffectiveTo = &to
	}

	var doc rulesDoc
	if err := json.Unmarshal(r.RulesJSON, &doc); err != nil {
		return rs, fmt.Errorf("failed to decode rules for %s v%d: %w", rs.Country, rs.Version, err)
	}
	rs.MinimumWage = payroll.MustParseDecimal(doc.MinimumWage)
	rs.Contributions = doc.Contributions
	rs.Overtime = doc.Overtime
	rs.Severance = doc.Severance
	return rs, nil
}

type resultRow struct {
	ID             uuid.UUID `db:"id"`
	IdempotencyKey string    `db:"idempotency_key"`
	RunKey         string    `db:"run_key"`
	EmployeeID     string    `db:"employee_id"`
	Country        string    `db:"country"`
	PeriodStart    time.Time `db:"period_start"`
	PeriodEnd      time.Time `db:"period_end"`
	Gross          string    `db:"gross"`
	Overtime       string    `db:"overtime"`
	BonusTotal     string    `db:"bonus_total"`
	Net            string    `db:"net"`
	Currency       string    `db:"currency"`
	DeductionsJSON []byte    `db:"deductions_json"`
	RuleSetID      uuid.UUID `db:"ruleset_id"`
	RuleSetVersion int       `db:"ruleset_version"`
	CreatedAt      time.Time `db:"created_at"`
}

func (r resultRow) toDomain() (payroll.CalculationResult, error) {
	currency := payroll.Currency(r.Currency)
	res := payroll.CalculationResult{
		ID:             r.ID,
		RunKey:         r.RunKey,
		EmployeeID:     payroll.EmployeeID(r.EmployeeID),
		Country:        payroll.CountryCode(r.Country),
		Period:         payroll.PayPeriod{Start: payroll.DateOf(r.PeriodStart), End: payroll.DateOf(r.PeriodEnd)},
		Gross:          moneyFrom(r.Gross, currency),
		Overtime:       moneyFrom(r.Overtime, currency),
		BonusTotal:     moneyFrom(r.BonusTotal, currency),
		Net:            moneyFrom(r.Net, currency),
		Currency:       currency,
		RuleSetID:      r.RuleSetID,
		RuleSetVersion: r.RuleSetVersion,
		CreatedAt:      r.CreatedAt,
	}
	if err := json.Unmarshal(r.DeductionsJSON, &res.Deductions); err != nil {
		return res, fmt.Errorf("failed to decode deductions: %w", err)
	}
	return res, nil
}

type runRow struct {
	ID            uuid.UUID  `db:"id"`
	RunKey        string     `db:"run_key"`
	CompanyID     string     `db:"company_id"`
	PeriodStart   time.Time  `db:"period_start"`
	PeriodEnd     time.Time  `db:"period_end"`
	Status        string     `db:"status"`
	LineItemsJSON []byte     `db:"line_items_json"`
	CreatedAt     time.Time  `db:"created_at"`
	StartedAt     *time.Time `db:"started_at"`
	CompletedAt   *time.Time `db:"completed_at"`
}

func (r runRow) toDomain() (payroll.PayrollRun, error) {
	run := payroll.PayrollRun{
		ID:          r.ID,
		Key:         r.RunKey,
		CompanyID:   payroll.CompanyID(r.CompanyID),
		Period:      payroll.PayPeriod{Start: payroll.DateOf(r.PeriodStart), End: payroll.DateOf(r.PeriodEnd)},
		Status:      payroll.RunStatus(r.Status),
		CreatedAt:   r.CreatedAt,
		StartedAt:   r.StartedAt,
		CompletedAt: r.CompletedAt,
	}
	if err := json.Unmarshal(r.LineItemsJSON, &run.LineItems); err != nil {
		return run, fmt.Errorf("failed to decode line items: %w", err)
	}
	return run, nil
}

type employeeRow struct {
	ID         string    `db:"id"`
	CompanyID  string    `db:"company_id"`
	Name       string    `db:"name"`
	Country    string    `db:"country"`
	Currency   string    `db:"currency"`
	BaseSalary string    `db:"base_salary"`
	HireDate   time.Time `db:"hire_date"`
	CreatedAt  time.Time `db:"created_at"`
}

func (r employeeRow) toDomain() payroll.Employee {
	currency := payroll.Currency(r.Currency)
	return payroll.Employee{
		ID:         payroll.EmployeeID(r.ID),
		CompanyID:  payroll.CompanyID(r.CompanyID),
		Name:       r.Name,
		Country:    payroll.CountryCode(r.Country),
		Currency:   currency,
		BaseSalary: moneyFrom(r.BaseSalary, currency),
		HireDate:   payroll.DateOf(r.HireDate),
		CreatedAt:  payroll.DateOf(r.CreatedAt),
	}
}

// =============================================================================
// RULE STORE
// =============================================================================

// PutRuleSet appends a new version. A transaction-scoped advisory lock on
// the country serializes concurrent commits across all processes, making
// the overlap check and insert atomic.
func (s *Store) PutRuleSet(ctx context.Context, rs payroll.RuleSet) error {
	if err := rs.Validate(); err != nil {
		return err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`SELECT pg_advisory_xact_lock(hashtext($1))`, "rulesets:"+string(rs.Country)); err != nil {
		return fmt.Errorf("failed to take country lock: %w", err)
	}

	var rows []rulesetRow
	err = tx.SelectContext(ctx, &rows,
		`SELECT id, country, currency, version, effective_from, effective_to,
		        source_checksum, rounding, rules_json, created_at
		 FROM rulesets WHERE country = $1 ORDER BY effective_from ASC`, rs.Country)
	if err != nil {
		return fmt.Errorf("failed to load existing versions: %w", err)
	}

	existing := make([]payroll.RuleSet, 0, len(rows))
	for _, row := range rows {
		prev, err := row.toDomain()
		if err != nil {
			return err
		}
		existing = append(existing, prev)
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

	// Close any open head superseded by this version. Content is untouched.
	if _, err := tx.ExecContext(ctx,
		`UPDATE rulesets SET effective_to = $1
		 WHERE country = $2 AND effective_to IS NULL AND effective_from < $1`,
		rs.EffectiveFrom.Time, rs.Country); err != nil {
		return fmt.Errorf("failed to close superseded head: %w", err)
	}

	rulesJSON, err := json.Marshal(rulesDoc{
		MinimumWage:   rs.MinimumWage.String(),
		Contributions: rs.Contributions,
		Overtime:      rs.Overtime,
		Severance:     rs.Severance,
	})
	if err != nil {
		return fmt.Errorf("failed to encode rules: %w", err)
	}

	var effectiveTo *time.Time
	if rs.EffectiveTo != nil {
		effectiveTo = &rs.EffectiveTo.Time
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO rulesets
		 (id, country, currency, version, effective_from, effective_to,
		  source_checksum, rounding, rules_json, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		rs.ID, rs.Country, rs.Currency, rs.Version,
		rs.EffectiveFrom.Time, effectiveTo,
		rs.SourceChecksum, rs.Rounding, rulesJSON, rs.CreatedAt.Time,
	)
	if err != nil {
		if isUniqueViolation(err) {
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

func intervalsOverlap(a, b payroll.RuleSet) bool {
	startsBeforeEnd := func(start payroll.TimePoint, end *payroll.TimePoint) bool {
		return end == nil || start.Before(*end)
	}
	return startsBeforeEnd(a.EffectiveFrom, b.EffectiveTo) &&
		startsBeforeEnd(b.EffectiveFrom, a.EffectiveTo)
}

func (s *Store) ListRuleSets(ctx context.Context, country payroll.CountryCode) ([]payroll.RuleSet, error) {
	var rows []rulesetRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT id, country, currency, version, effective_from, effective_to,
		        source_checksum, rounding, rules_json, created_at
		 FROM rulesets WHERE country = $1 ORDER BY effective_from ASC`, country)
	if err != nil {
		return nil, fmt.Errorf("failed to query rulesets: %w", err)
	}

	rulesets := make([]payroll.RuleSet, 0, len(rows))
	for _, row := range rows {
		rs, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		rulesets = append(rulesets, rs)
	}
	return rulesets, nil
}

func (s *Store) HeadRuleSet(ctx context.Context, country payroll.CountryCode) (*payroll.RuleSet, error) {
	var row rulesetRow
	err := s.db.GetContext(ctx, &row,
		`SELECT id, country, currency, version, effective_from, effective_to,
		        source_checksum, rounding, rules_json, created_at
		 FROM rulesets WHERE country = $1
		 ORDER BY effective_from DESC LIMIT 1`, country)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query head ruleset: %w", err)
	}
	rs, err := row.toDomain()
	if err != nil {
		return nil, err
	}
	return &rs, nil
}

// =============================================================================
// PROFILE STORE
// =============================================================================

func (s *Store) PutProfile(ctx context.Context, p payroll.CountryProfile) error {
	contributions, _ := json.Marshal(p.Contributions)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO country_profiles (country, name, currency, contributions_json)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (country) DO UPDATE SET
			name = EXCLUDED.name,
			currency = EXCLUDED.currency,
			contributions_json = EXCLUDED.contributions_json`,
		p.Country, p.Name, p.Currency, contributions)
	return err
}

func (s *Store) GetProfile(ctx context.Context, country payroll.CountryCode) (*payroll.CountryProfile, error) {
	var row struct {
		Country           string `db:"country"`
		Name              string `db:"name"`
		Currency          string `db:"currency"`
		ContributionsJSON []byte `db:"contributions_json"`
	}
	err := s.db.GetContext(ctx, &row,
		`SELECT country, name, currency, contributions_json
		 FROM country_profiles WHERE country = $1`, country)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	p := payroll.CountryProfile{
		Country:  payroll.CountryCode(row.Country),
		Name:     row.Name,
		Currency: payroll.Currency(row.Currency),
	}
	if err := json.Unmarshal(row.ContributionsJSON, &p.Contributions); err != nil {
		return nil, fmt.Errorf("failed to decode profile %s: %w", country, err)
	}
	return &p, nil
}

func (s *Store) ListProfiles(ctx context.Context) ([]payroll.CountryProfile, error) {
	rows, err := s.db.QueryxContext(ctx,
		`SELECT country, name, currency, contributions_json
		 FROM country_profiles ORDER BY country`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var profiles []payroll.CountryProfile
	for rows.Next() {
		var country, name, currency string
		var contributions []byte
		if err := rows.Scan(&country, &name, &currency, &contributions); err != nil {
			return nil, err
		}
		p := payroll.CountryProfile{
			Country:  payroll.CountryCode(country),
			Name:     name,
			Currency: payroll.Currency(currency),
		}
		if err := json.Unmarshal(contributions, &p.Contributions); err != nil {
			return nil, fmt.Errorf("failed to decode profile %s: %w", country, err)
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

// =============================================================================
// RESULT STORE
// =============================================================================

// SaveResult persists a calculation result. First write wins under the
// idempotency key.
func (s *Store) SaveResult(ctx context.Context, res payroll.CalculationResult) error {
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
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		 ON CONFLICT (idempotency_key) DO NOTHING`,
		res.ID, key, res.RunKey, res.EmployeeID, res.Country,
		res.Period.Start.Time, res.Period.End.Time,
		res.Gross.Value.String(), res.Overtime.Value.String(),
		res.BonusTotal.Value.String(), res.Net.Value.String(), res.Currency,
		deductions, res.RuleSetID, res.RuleSetVersion, res.CreatedAt.UTC())
	return err
}

func (s *Store) GetResultByKey(ctx context.Context, key string) (*payroll.CalculationResult, error) {
	var row resultRow
	err := s.db.GetContext(ctx, &row, resultSelect+` WHERE idempotency_key = $1`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query result: %w", err)
	}
	res, err := row.toDomain()
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (s *Store) ListResultsByRun(ctx context.Context, runKey string) ([]payroll.CalculationResult, error) {
	var rows []resultRow
	err := s.db.SelectContext(ctx, &rows,
		resultSelect+` WHERE run_key = $1 ORDER BY employee_id`, runKey)
	if err != nil {
		return nil, fmt.Errorf("failed to query results: %w", err)
	}

	results := make([]payroll.CalculationResult, 0, len(rows))
	for _, row := range rows {
		res, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, nil
}

const resultSelect = `
	SELECT id, idempotency_key, run_key, employee_id, country, period_start, period_end,
	       gross, overtime, bonus_total, net, currency, deductions_json,
	       ruleset_id, ruleset_version, created_at
	FROM results`

func (s *Store) SaveSeverance(ctx context.Context, res payroll.SeveranceResult) error {
	lines, err := json.Marshal(res.Lines)
	if err != nil {
		return fmt.Errorf("failed to encode severance lines: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO severance_results
		 (id, employee_id, country, termination_type, tenure_months, daily_rate,
		  total, currency, lines_json, ruleset_id, ruleset_version, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		res.ID, res.EmployeeID, res.Country, res.TerminationType,
		res.TenureMonths, res.DailyRate.Value.String(), res.Total.Value.String(),
		res.Currency, lines, res.RuleSetID, res.RuleSetVersion, res.CreatedAt.UTC())
	return err
}

// =============================================================================
// RUN STORE
// =============================================================================

func (s *Store) SaveRun(ctx context.Context, run payroll.PayrollRun) error {
	lineItems, err := json.Marshal(run.LineItems)
	if err != nil {
		return fmt.Errorf("failed to encode line items: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs
		 (id, run_key, company_id, period_start, period_end, status,
		  line_items_json, created_at, started_at, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (run_key) DO UPDATE SET
			status = EXCLUDED.status,
			line_items_json = EXCLUDED.line_items_json,
			started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at`,
		run.ID, run.Key, run.CompanyID,
		run.Period.Start.Time, run.Period.End.Time, run.Status,
		lineItems, run.CreatedAt.UTC(), run.StartedAt, run.CompletedAt)
	return err
}

func (s *Store) GetRun(ctx context.Context, id uuid.UUID) (*payroll.PayrollRun, error) {
	return s.getRun(ctx, runSelect+` WHERE id = $1`, id)
}

func (s *Store) GetRunByKey(ctx context.Context, key string) (*payroll.PayrollRun, error) {
	return s.getRun(ctx, runSelect+` WHERE run_key = $1`, key)
}

func (s *Store) getRun(ctx context.Context, query string, arg any) (*payroll.PayrollRun, error) {
	var row runRow
	err := s.db.GetContext(ctx, &row, query, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query run: %w", err)
	}
	run, err := row.toDomain()
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (s *Store) ListRuns(ctx context.Context, companyID payroll.CompanyID) ([]payroll.PayrollRun, error) {
	var rows []runRow
	err := s.db.SelectContext(ctx, &rows,
		runSelect+` WHERE company_id = $1 ORDER BY created_at DESC`, companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}

	runs := make([]payroll.PayrollRun, 0, len(rows))
	for _, row := range rows {
		run, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, nil
}

const runSelect = `
	SELECT id, run_key, company_id, period_start, period_end, status,
	       line_items_json, created_at, started_at, completed_at
	FROM runs`

// =============================================================================
// EMPLOYEE STORE
// =============================================================================

func (s *Store) SaveEmployee(ctx context.Context, e payroll.Employee) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = payroll.Today()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO employees
		 (id, company_id, name, country, currency, base_salary, hire_date, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO UPDATE SET
			company_id = EXCLUDED.company_id,
			name = EXCLUDED.name,
			country = EXCLUDED.country,
			currency = EXCLUDED.currency,
			base_salary = EXCLUDED.base_salary,
			hire_date = EXCLUDED.hire_date`,
		e.ID, e.CompanyID, e.Name, e.Country, e.Currency,
		e.BaseSalary.Value.String(), e.HireDate.Time, e.CreatedAt.Time)
	return err
}

func (s *Store) GetEmployee(ctx context.Context, id payroll.EmployeeID) (*payroll.Employee, error) {
	var row employeeRow
	err := s.db.GetContext(ctx, &row,
		`SELECT id, company_id, name, country, currency, base_salary, hire_date, created_at
		 FROM employees WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	e := row.toDomain()
	return &e, nil
}

func (s *Store) ListEmployees(ctx context.Context, companyID payroll.CompanyID) ([]payroll.Employee, error) {
	var rows []employeeRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT id, company_id, name, country, currency, base_salary, hire_date, created_at
		 FROM employees WHERE company_id = $1 ORDER BY name`, companyID)
	if err != nil {
		return nil, err
	}

	employees := make([]payroll.Employee, 0, len(rows))
	for _, row := range rows {
		employees = append(employees, row.toDomain())
	}
	return employees, nil
}

func (s *Store) SaveFacts(ctx context.Context, f payroll.PayPeriodFacts) error {
	bonuses, err := json.Marshal(f.Bonuses)
	if err != nil {
		return fmt.Errorf("failed to encode bonuses: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO period_facts
		 (employee_id, period_start, period_end, country, base_salary,
		  hours_worked, overtime_hours, bonuses_json, currency, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (employee_id, period_start, period_end) DO UPDATE SET
			country = EXCLUDED.country,
			base_salary = EXCLUDED.base_salary,
			hours_worked = EXCLUDED.hours_worked,
			overtime_hours = EXCLUDED.overtime_hours,
			bonuses_json = EXCLUDED.bonuses_json,
			currency = EXCLUDED.currency,
			updated_at = EXCLUDED.updated_at`,
		f.EmployeeID, f.Period.Start.Time, f.Period.End.Time,
		f.Country, f.BaseSalary.Value.String(),
		f.HoursWorked.String(), f.OvertimeHours.String(),
		bonuses, f.Currency, time.Now().UTC())
	return err
}

func (s *Store) GetFacts(ctx context.Context, id payroll.EmployeeID, period payroll.PayPeriod) (*payroll.PayPeriodFacts, error) {
	var row struct {
		EmployeeID    string `db:"employee_id"`
		Country       string `db:"country"`
		BaseSalary    string `db:"base_salary"`
		HoursWorked   string `db:"hours_worked"`
		OvertimeHours string `db:"overtime_hours"`
		BonusesJSON   []byte `db:"bonuses_json"`
		Currency      string `db:"currency"`
	}
	err := s.db.GetContext(ctx, &row,
		`SELECT employee_id, country, base_salary, hours_worked, overtime_hours,
		        bonuses_json, currency
		 FROM period_facts
		 WHERE employee_id = $1 AND period_start = $2 AND period_end = $3`,
		id, period.Start.Time, period.End.Time)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	currency := payroll.Currency(row.Currency)
	f := payroll.PayPeriodFacts{
		EmployeeID:    payroll.EmployeeID(row.EmployeeID),
		Country:       payroll.CountryCode(row.Country),
		Period:        period,
		BaseSalary:    moneyFrom(row.BaseSalary, currency),
		HoursWorked:   payroll.MustParseDecimal(row.HoursWorked),
		OvertimeHours: payroll.MustParseDecimal(row.OvertimeHours),
		Currency:      currency,
	}
	if err := json.Unmarshal(row.BonusesJSON, &f.Bonuses); err != nil {
		return nil, fmt.Errorf("failed to decode bonuses: %w", err)
	}
	return &f, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func moneyFrom(value string, currency payroll.Currency) payroll.Money {
	return payroll.Money{Value: payroll.MustParseDecimal(value), Currency: currency}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
