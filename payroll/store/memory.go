// Package store provides the in-memory Store implementation used by
// tests and local development.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/warp/payroll-engine/payroll"
)

// =============================================================================
// MEMORY STORE - All engine persistence in maps
// =============================================================================

type Memory struct {
	mu        sync.RWMutex
	rulesets  map[payroll.CountryCode][]payroll.RuleSet
	profiles  map[payroll.CountryCode]payroll.CountryProfile
	results   map[string]payroll.CalculationResult // idempotency key -> result
	severance map[uuid.UUID]payroll.SeveranceResult
	runs      map[uuid.UUID]payroll.PayrollRun
	runKeys   map[string]uuid.UUID
	employees map[payroll.EmployeeID]payroll.Employee
	facts     map[string]payroll.PayPeriodFacts // employee|period -> facts
}

func NewMemory() *Memory {
	return &Memory{
		rulesets:  make(map[payroll.CountryCode][]payroll.RuleSet),
		profiles:  make(map[payroll.CountryCode]payroll.CountryProfile),
		results:   make(map[string]payroll.CalculationResult),
		severance: make(map[uuid.UUID]payroll.SeveranceResult),
		runs:      make(map[uuid.UUID]payroll.PayrollRun),
		runKeys:   make(map[string]uuid.UUID),
		employees: make(map[payroll.EmployeeID]payroll.Employee),
		facts:     make(map[string]payroll.PayPeriodFacts),
	}
}

// =============================================================================
// RULE STORE - Append-only with per-country serialization
// =============================================================================

// PutRuleSet appends a new version. The write lock serializes all
// commits, so the overlap check and the insert are atomic.
func (m *Memory) PutRuleSet(_ context.Context, rs payroll.RuleSet) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := rs.Validate(); err != nil {
		return err
	}

	existing := m.rulesets[rs.Country]
	if rs.Version == 0 {
		rs.Version = len(existing) + 1
	}
	if rs.ID == uuid.Nil {
		rs.ID = uuid.New()
	}

	for i := range existing {
		prev := &existing[i]
		if prev.EffectiveTo == nil && rs.EffectiveFrom.After(prev.EffectiveFrom) {
			// Open-ended head superseded by a later version: the head is
			// closed at the new EffectiveFrom below. Content is untouched
			// and no date that resolved to the head resolves differently.
			continue
		}
		if overlaps(rs, *prev) {
			return &payroll.OverlappingRuleSetError{
				Country:         rs.Country,
				ExistingVersion: prev.Version,
				RejectedVersion: rs.Version,
				EffectiveFrom:   rs.EffectiveFrom,
			}
		}
	}

	// Close any open head superseded by this version.
	for i := range existing {
		if existing[i].EffectiveTo == nil && rs.EffectiveFrom.After(existing[i].EffectiveFrom) {
			to := rs.EffectiveFrom
			existing[i].EffectiveTo = &to
		}
	}

	existing = append(existing, rs)
	sort.Slice(existing, func(i, j int) bool {
		return existing[i].EffectiveFrom.Before(existing[j].EffectiveFrom)
	})
	m.rulesets[rs.Country] = existing
	return nil
}

// overlaps reports whether two half-open validity intervals intersect.
// A nil EffectiveTo is treated as unbounded.
func overlaps(a, b payroll.RuleSet) bool {
	startsBeforeEnd := func(start payroll.TimePoint, end *payroll.TimePoint) bool {
		return end == nil || start.Before(*end)
	}
	return startsBeforeEnd(a.EffectiveFrom, b.EffectiveTo) &&
		startsBeforeEnd(b.EffectiveFrom, a.EffectiveTo)
}

func (m *Memory) ListRuleSets(_ context.Context, country payroll.CountryCode) ([]payroll.RuleSet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]payroll.RuleSet, len(m.rulesets[country]))
	copy(out, m.rulesets[country])
	return out, nil
}

func (m *Memory) HeadRuleSet(_ context.Context, country payroll.CountryCode) (*payroll.RuleSet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	versions := m.rulesets[country]
	if len(versions) == 0 {
		return nil, nil
	}
	head := versions[len(versions)-1]
	return &head, nil
}

// =============================================================================
// PROFILE STORE
// =============================================================================

func (m *Memory) PutProfile(_ context.Context, p payroll.CountryProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[p.Country] = p
	return nil
}

func (m *Memory) GetProfile(_ context.Context, country payroll.CountryCode) (*payroll.CountryProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[country]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *Memory) ListProfiles(_ context.Context) ([]payroll.CountryProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]payroll.CountryProfile, 0, len(m.profiles))
	for _, p := range m.profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Country < out[j].Country })
	return out, nil
}

// =============================================================================
// RESULT STORE
// =============================================================================

func (m *Memory) SaveResult(_ context.Context, res payroll.CalculationResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := payroll.ResultIdempotencyKey(res.RunKey, res.EmployeeID, res.Period)
	if _, exists := m.results[key]; exists {
		return nil // idempotent: first write wins
	}
	m.results[key] = res
	return nil
}

func (m *Memory) GetResultByKey(_ context.Context, key string) (*payroll.CalculationResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res, ok := m.results[key]
	if !ok {
		return nil, nil
	}
	return &res, nil
}

func (m *Memory) ListResultsByRun(_ context.Context, runKey string) ([]payroll.CalculationResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []payroll.CalculationResult
	for _, res := range m.results {
		if res.RunKey == runKey {
			out = append(out, res)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EmployeeID < out[j].EmployeeID })
	return out, nil
}

func (m *Memory) SaveSeverance(_ context.Context, res payroll.SeveranceResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.severance[res.ID] = res
	return nil
}

// =============================================================================
// RUN STORE
// =============================================================================

func (m *Memory) SaveRun(_ context.Context, run payroll.PayrollRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run.LineItems = append([]payroll.RunLineItem(nil), run.LineItems...)
	m.runs[run.ID] = run
	m.runKeys[run.Key] = run.ID
	return nil
}

func (m *Memory) GetRun(_ context.Context, id uuid.UUID) (*payroll.PayrollRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, nil
	}
	run.LineItems = append([]payroll.RunLineItem(nil), run.LineItems...)
	return &run, nil
}

func (m *Memory) GetRunByKey(ctx context.Context, key string) (*payroll.PayrollRun, error) {
	m.mu.RLock()
	id, ok := m.runKeys[key]
	m.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return m.GetRun(ctx, id)
}

func (m *Memory) ListRuns(_ context.Context, companyID payroll.CompanyID) ([]payroll.PayrollRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []payroll.PayrollRun
	for _, run := range m.runs {
		if companyID == "" || run.CompanyID == companyID {
			out = append(out, run)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// =============================================================================
// EMPLOYEE STORE
// =============================================================================

func (m *Memory) SaveEmployee(_ context.Context, e payroll.Employee) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.employees[e.ID] = e
	return nil
}

func (m *Memory) GetEmployee(_ context.Context, id payroll.EmployeeID) (*payroll.Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.employees[id]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (m *Memory) ListEmployees(_ context.Context, companyID payroll.CompanyID) ([]payroll.Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []payroll.Employee
	for _, e := range m.employees {
		if companyID == "" || e.CompanyID == companyID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) SaveFacts(_ context.Context, f payroll.PayPeriodFacts) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.facts[factsKey(f.EmployeeID, f.Period)] = f
	return nil
}

func (m *Memory) GetFacts(_ context.Context, id payroll.EmployeeID, period payroll.PayPeriod) (*payroll.PayPeriodFacts, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.facts[factsKey(id, period)]
	if !ok {
		return nil, nil
	}
	return &f, nil
}

func factsKey(id payroll.EmployeeID, period payroll.PayPeriod) string {
	return string(id) + "|" + period.String()
}
