/*
handlers.go - HTTP request handlers

PURPOSE:
  Translates HTTP requests into engine, orchestrator, and store calls and
  domain results back into DTOs. Handlers hold no business logic: every
  rule lives in payroll/, every persistence detail in store/.

ENDPOINTS:
  Calculations:
    POST   /api/calculate                     One-off gross-to-net
    POST   /api/severance                     Severance calculation

  Runs:
    POST   /api/runs                          Start a batch run (async)
    GET    /api/runs?company_id=X             List runs for a company
    GET    /api/runs/{id}                     Run status with line items
    GET    /api/runs/{id}/results             Results written by the run
    POST   /api/runs/{id}/cancel              Cancel an in-flight run

  Rules:
    GET    /api/rulesets/{country}            Full version history
    GET    /api/rulesets/{country}/at?date=D  Version governing a date
    PUT    /api/rulesets/{country}            Manual rule import
    POST   /api/rulesets/{country}/refresh    On-demand feed refresh

  Reference data:
    GET    /api/countries                     Supported jurisdictions
    POST   /api/employees                     Create employee
    GET    /api/employees?company_id=X        List employees
    GET    /api/employees/{id}                Employee details
    PUT    /api/employees/{id}/facts          Push pay-period facts

ERROR MAPPING:
  payroll.IsClientError  -> 400 Bad Request
  payroll.IsNotFound     -> 404 Not Found
  ErrOverlappingRuleSet  -> 409 Conflict (append-only store rejected the write)
  refresh.ErrRefreshBusy -> 409 Conflict (a refresh is already in flight)
  feed errors            -> 502 Bad Gateway
  everything else        -> 500 Internal Server Error

VALIDATION:
  Request bodies are decoded with DisallowUnknownFields and run through
  the shared validator before decimals are parsed.

SEE ALSO:
  - dto.go: Request/response shapes
  - server.go: Route registration
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/warp/payroll-engine/feed"
	"github.com/warp/payroll-engine/payroll"
	"github.com/warp/payroll-engine/refresh"
)

// =============================================================================
// HANDLER
// =============================================================================

// Handler carries the dependencies shared by all endpoints. The refresh
// scheduler is optional; when nil the manual-refresh endpoint reports 503.
type Handler struct {
	store        payroll.Store
	engine       *payroll.Engine
	orchestrator *payroll.Orchestrator
	scheduler    *refresh.Scheduler
	validate     *validator.Validate
	log          zerolog.Logger
}

func NewHandler(store payroll.Store, engine *payroll.Engine, orchestrator *payroll.Orchestrator, scheduler *refresh.Scheduler, log zerolog.Logger) *Handler {
	return &Handler{
		store:        store,
		engine:       engine,
		orchestrator: orchestrator,
		scheduler:    scheduler,
		validate:     validator.New(validator.WithRequiredStructEnabled()),
		log:          log,
	}
}

// decodeAndValidate decodes a JSON body into dst and runs struct validation.
// Returns false after writing the error response.
func (h *Handler) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		h.writeError(w, http.StatusBadRequest, "validation failed", err)
		return false
	}
	return true
}

// =============================================================================
// CALCULATION ENDPOINTS
// =============================================================================

// CalculatePayroll handles POST /api/calculate.
func (h *Handler) CalculatePayroll(w http.ResponseWriter, r *http.Request) {
	var req CalculateRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	facts, err := req.toFacts()
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid calculation input", err)
		return
	}

	res, err := h.engine.CalculatePayroll(r.Context(), facts)
	if err != nil {
		h.writeDomainError(w, "calculation failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, resultDTO(res))
}

// CalculateSeverance handles POST /api/severance.
func (h *Handler) CalculateSeverance(w http.ResponseWriter, r *http.Request) {
	var req SeveranceRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	facts, err := req.toFacts()
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid severance input", err)
		return
	}

	res, err := h.engine.CalculateSeverance(r.Context(), facts)
	if err != nil {
		h.writeDomainError(w, "severance calculation failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, severanceDTO(res))
}

// =============================================================================
// RUN ENDPOINTS
// =============================================================================

// StartRun handles POST /api/runs. Idempotent: re-submitting an identical
// request returns the existing run with 200 instead of 202.
func (h *Handler) StartRun(w http.ResponseWriter, r *http.Request) {
	var req StartRunRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	period, err := req.Period.toDomain()
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid period", err)
		return
	}
	employees := make([]payroll.EmployeeID, 0, len(req.Employees))
	for _, id := range req.Employees {
		employees = append(employees, payroll.EmployeeID(id))
	}

	run, err := h.orchestrator.StartRun(r.Context(), payroll.CompanyID(req.CompanyID), period, employees)
	if err != nil {
		h.writeDomainError(w, "failed to start run", err)
		return
	}

	status := http.StatusAccepted
	if run.Status != payroll.RunPending {
		status = http.StatusOK
	}
	h.writeJSON(w, status, runDTO(run, true))
}

// GetRun handles GET /api/runs/{id}.
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid run id", err)
		return
	}

	run, err := h.store.GetRun(r.Context(), id)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to load run", err)
		return
	}
	if run == nil {
		h.writeError(w, http.StatusNotFound, "run not found", nil)
		return
	}
	h.writeJSON(w, http.StatusOK, runDTO(run, true))
}

// ListRuns handles GET /api/runs?company_id=X.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	companyID := r.URL.Query().Get("company_id")
	if companyID == "" {
		h.writeError(w, http.StatusBadRequest, "company_id query parameter is required", nil)
		return
	}

	runs, err := h.store.ListRuns(r.Context(), payroll.CompanyID(companyID))
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to list runs", err)
		return
	}

	dtos := make([]RunDTO, 0, len(runs))
	for i := range runs {
		dtos = append(dtos, runDTO(&runs[i], false))
	}
	h.writeJSON(w, http.StatusOK, dtos)
}

// CancelRun handles POST /api/runs/{id}/cancel. Cancellation is best
// effort: a run that already reached a terminal state reports 409.
func (h *Handler) CancelRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid run id", err)
		return
	}

	if !h.orchestrator.Cancel(id) {
		run, err := h.store.GetRun(r.Context(), id)
		if err != nil {
			h.writeError(w, http.StatusInternalServerError, "failed to load run", err)
			return
		}
		if run == nil {
			h.writeError(w, http.StatusNotFound, "run not found", nil)
			return
		}
		h.writeError(w, http.StatusConflict, "run is not in flight", nil)
		return
	}
	h.writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancel requested"})
}

// ListRunResults handles GET /api/runs/{id}/results.
func (h *Handler) ListRunResults(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid run id", err)
		return
	}

	run, err := h.store.GetRun(r.Context(), id)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to load run", err)
		return
	}
	if run == nil {
		h.writeError(w, http.StatusNotFound, "run not found", nil)
		return
	}

	results, err := h.store.ListResultsByRun(r.Context(), run.Key)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to list results", err)
		return
	}

	dtos := make([]ResultDTO, 0, len(results))
	for i := range results {
		dtos = append(dtos, resultDTO(&results[i]))
	}
	h.writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// RULESET ENDPOINTS
// =============================================================================

// ListRuleSets handles GET /api/rulesets/{country}: the full version
// history, oldest first.
func (h *Handler) ListRuleSets(w http.ResponseWriter, r *http.Request) {
	country := payroll.CountryCode(chi.URLParam(r, "country"))

	sets, err := h.store.ListRuleSets(r.Context(), country)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to list rulesets", err)
		return
	}

	dtos := make([]RuleSetDTO, 0, len(sets))
	for i := range sets {
		dtos = append(dtos, ruleSetDTO(&sets[i]))
	}
	h.writeJSON(w, http.StatusOK, dtos)
}

// RuleSetAt handles GET /api/rulesets/{country}/at?date=2025-06-01: the
// version that governed the given date.
func (h *Handler) RuleSetAt(w http.ResponseWriter, r *http.Request) {
	country := payroll.CountryCode(chi.URLParam(r, "country"))
	raw := r.URL.Query().Get("date")
	if raw == "" {
		h.writeError(w, http.StatusBadRequest, "date query parameter is required", nil)
		return
	}
	at, err := payroll.ParseDate(raw)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid date", err)
		return
	}

	rs, err := h.engine.RuleSetVersionAt(r.Context(), country, at)
	if err != nil {
		h.writeDomainError(w, "failed to resolve ruleset", err)
		return
	}
	h.writeJSON(w, http.StatusOK, ruleSetDTO(rs))
}

// PutRuleSet handles PUT /api/rulesets/{country}: a manual rule import
// using the same feed document format (and the same checksum and
// validation gates) as the scheduled refresh.
func (h *Handler) PutRuleSet(w http.ResponseWriter, r *http.Request) {
	country := payroll.CountryCode(chi.URLParam(r, "country"))

	var body json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	rs, err := feed.Parse(body)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid rule document", err)
		return
	}
	if rs.Country != country {
		h.writeError(w, http.StatusBadRequest, "document country does not match URL",
			fmt.Errorf("document is for %s, URL names %s", rs.Country, country))
		return
	}
	if err := rs.Validate(); err != nil {
		h.writeError(w, http.StatusBadRequest, "rule validation failed", err)
		return
	}

	if err := h.store.PutRuleSet(r.Context(), *rs); err != nil {
		h.writeDomainError(w, "failed to store ruleset", err)
		return
	}

	head, err := h.store.HeadRuleSet(r.Context(), country)
	if err != nil || head == nil {
		h.writeJSON(w, http.StatusCreated, map[string]string{"status": "created"})
		return
	}
	h.writeJSON(w, http.StatusCreated, ruleSetDTO(head))
}

// TriggerRefresh handles POST /api/rulesets/{country}/refresh: an
// on-demand feed refresh outside the cron schedule.
func (h *Handler) TriggerRefresh(w http.ResponseWriter, r *http.Request) {
	if h.scheduler == nil {
		h.writeError(w, http.StatusServiceUnavailable, "rule refresh is not enabled", nil)
		return
	}
	country := payroll.CountryCode(chi.URLParam(r, "country"))

	if err := h.scheduler.Refresh(r.Context(), country); err != nil {
		if errors.Is(err, refresh.ErrRefreshBusy) {
			h.writeError(w, http.StatusConflict, "refresh already in progress", err)
			return
		}
		h.writeDomainError(w, "refresh failed", err)
		return
	}

	head, err := h.store.HeadRuleSet(r.Context(), country)
	if err != nil || head == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "refreshed"})
		return
	}
	h.writeJSON(w, http.StatusOK, ruleSetDTO(head))
}

// =============================================================================
// COUNTRY ENDPOINTS
// =============================================================================

// ListCountries handles GET /api/countries: every configured jurisdiction
// with its current head rule version.
func (h *Handler) ListCountries(w http.ResponseWriter, r *http.Request) {
	profiles, err := h.store.ListProfiles(r.Context())
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to list countries", err)
		return
	}

	dtos := make([]CountryProfileDTO, 0, len(profiles))
	for _, p := range profiles {
		dto := CountryProfileDTO{
			Country:  string(p.Country),
			Name:     p.Name,
			Currency: string(p.Currency),
		}
		for _, c := range p.Contributions {
			dto.Contributions = append(dto.Contributions, string(c))
		}
		if head, err := h.store.HeadRuleSet(r.Context(), p.Country); err == nil && head != nil {
			dto.HeadVersion = head.Version
		}
		dtos = append(dtos, dto)
	}
	h.writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// EMPLOYEE ENDPOINTS
// =============================================================================

// CreateEmployee handles POST /api/employees.
func (h *Handler) CreateEmployee(w http.ResponseWriter, r *http.Request) {
	var req CreateEmployeeRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	salary, err := parseDecimal("base_salary", req.BaseSalary)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid base salary", err)
		return
	}
	hire, err := payroll.ParseDate(req.HireDate)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid hire date", err)
		return
	}

	emp := payroll.Employee{
		ID:         payroll.EmployeeID(req.ID),
		CompanyID:  payroll.CompanyID(req.CompanyID),
		Name:       req.Name,
		Country:    payroll.CountryCode(req.Country),
		Currency:   payroll.Currency(req.Currency),
		BaseSalary: payroll.Money{Value: salary, Currency: payroll.Currency(req.Currency)},
		HireDate:   hire,
		CreatedAt:  payroll.Today(),
	}
	if err := h.store.SaveEmployee(r.Context(), emp); err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to save employee", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, employeeDTO(&emp))
}

// GetEmployee handles GET /api/employees/{id}.
func (h *Handler) GetEmployee(w http.ResponseWriter, r *http.Request) {
	id := payroll.EmployeeID(chi.URLParam(r, "id"))

	emp, err := h.store.GetEmployee(r.Context(), id)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to load employee", err)
		return
	}
	if emp == nil {
		h.writeError(w, http.StatusNotFound, "employee not found", nil)
		return
	}
	h.writeJSON(w, http.StatusOK, employeeDTO(emp))
}

// ListEmployees handles GET /api/employees?company_id=X.
func (h *Handler) ListEmployees(w http.ResponseWriter, r *http.Request) {
	companyID := r.URL.Query().Get("company_id")
	if companyID == "" {
		h.writeError(w, http.StatusBadRequest, "company_id query parameter is required", nil)
		return
	}

	employees, err := h.store.ListEmployees(r.Context(), payroll.CompanyID(companyID))
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to list employees", err)
		return
	}

	dtos := make([]EmployeeDTO, 0, len(employees))
	for i := range employees {
		dtos = append(dtos, employeeDTO(&employees[i]))
	}
	h.writeJSON(w, http.StatusOK, dtos)
}

// PushFacts handles PUT /api/employees/{id}/facts: attendance data for
// one pay period, consumed later by batch runs.
func (h *Handler) PushFacts(w http.ResponseWriter, r *http.Request) {
	id := payroll.EmployeeID(chi.URLParam(r, "id"))

	emp, err := h.store.GetEmployee(r.Context(), id)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to load employee", err)
		return
	}
	if emp == nil {
		h.writeError(w, http.StatusNotFound, "employee not found", nil)
		return
	}

	var req PushFactsRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	facts, err := req.toFacts(emp)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid facts", err)
		return
	}
	if err := h.store.SaveFacts(r.Context(), facts); err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to save facts", err)
		return
	}
	h.writeJSON(w, http.StatusNoContent, nil)
}

func (r PushFactsRequest) toFacts(emp *payroll.Employee) (payroll.PayPeriodFacts, error) {
	period, err := r.Period.toDomain()
	if err != nil {
		return payroll.PayPeriodFacts{}, err
	}
	base, err := parseDecimal("base_salary", r.BaseSalary)
	if err != nil {
		return payroll.PayPeriodFacts{}, err
	}
	hours, err := parseDecimal("hours_worked", r.HoursWorked)
	if err != nil {
		return payroll.PayPeriodFacts{}, err
	}
	overtime, err := parseDecimal("overtime_hours", r.OvertimeHours)
	if err != nil {
		return payroll.PayPeriodFacts{}, err
	}

	facts := payroll.PayPeriodFacts{
		EmployeeID:    emp.ID,
		Country:       emp.Country,
		Period:        period,
		BaseSalary:    payroll.Money{Value: base, Currency: emp.Currency},
		HoursWorked:   hours,
		OvertimeHours: overtime,
		Currency:      emp.Currency,
	}
	for i, b := range r.Bonuses {
		amount, err := parseDecimal(fmt.Sprintf("bonuses[%d].amount", i), b.Amount)
		if err != nil {
			return payroll.PayPeriodFacts{}, err
		}
		facts.Bonuses = append(facts.Bonuses, payroll.Bonus{
			Name:   b.Name,
			Amount: payroll.Money{Value: amount, Currency: emp.Currency},
		})
	}
	return facts, nil
}

// =============================================================================
// HEALTH
// =============================================================================

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("failed to encode response")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Str("message", message).Msg("request failed")
	}
	h.writeJSON(w, status, resp)
}

// writeDomainError maps engine and store errors onto HTTP status codes.
func (h *Handler) writeDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case errors.Is(err, payroll.ErrOverlappingRuleSet):
		h.writeError(w, http.StatusConflict, message, err)
	case payroll.IsClientError(err):
		h.writeError(w, http.StatusBadRequest, message, err)
	case payroll.IsNotFound(err):
		h.writeError(w, http.StatusNotFound, message, err)
	case errors.Is(err, payroll.ErrRuleValidation), errors.Is(err, payroll.ErrRuleFetch):
		h.writeError(w, http.StatusBadGateway, message, err)
	default:
		h.writeError(w, http.StatusInternalServerError, message, err)
	}
}
