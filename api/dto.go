/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY ENCODING:
  All monetary amounts cross the wire as decimal strings ("15000.00"),
  never as floats. Responses render with two fraction digits; rates keep
  their full precision.

VALIDATION:
  Request types carry validator tags; handlers run the shared validator
  before any decimal parsing, so malformed input never reaches the engine.

SEE ALSO:
  - handlers.go: Uses these types
  - payroll/: The domain model these map to
*/
package api

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/payroll-engine/payroll"
)

// =============================================================================
// COMMON
// =============================================================================

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// PeriodDTO is an inclusive date range.
type PeriodDTO struct {
	Start string `json:"start" validate:"required,datetime=2006-01-02"`
	End   string `json:"end" validate:"required,datetime=2006-01-02"`
}

func (p PeriodDTO) toDomain() (payroll.PayPeriod, error) {
	start, err := payroll.ParseDate(p.Start)
	if err != nil {
		return payroll.PayPeriod{}, fmt.Errorf("period.start: %w", err)
	}
	end, err := payroll.ParseDate(p.End)
	if err != nil {
		return payroll.PayPeriod{}, fmt.Errorf("period.end: %w", err)
	}
	return payroll.PayPeriod{Start: start, End: end}, nil
}

func periodDTO(p payroll.PayPeriod) PeriodDTO {
	return PeriodDTO{Start: p.Start.String(), End: p.End.String()}
}

// parseDecimal parses a wire decimal. Empty means zero; anything else
// must be a valid decimal string.
func parseDecimal(field, s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: not a decimal: %q", field, s)
	}
	return d, nil
}

// =============================================================================
// CALCULATION
// =============================================================================

type BonusDTO struct {
	Name   string `json:"name"`
	Amount string `json:"amount" validate:"required"`
}

// CalculateRequest is a one-off gross-to-net calculation with inline facts.
type CalculateRequest struct {
	EmployeeID    string     `json:"employee_id" validate:"required"`
	Country       string     `json:"country" validate:"required,len=2,uppercase"`
	Period        PeriodDTO  `json:"period" validate:"required"`
	BaseSalary    string     `json:"base_salary" validate:"required"`
	HoursWorked   string     `json:"hours_worked,omitempty"`
	OvertimeHours string     `json:"overtime_hours,omitempty"`
	Bonuses       []BonusDTO `json:"bonuses,omitempty" validate:"dive"`
	Currency      string     `json:"currency" validate:"required,len=3,uppercase"`
}

func (r CalculateRequest) toFacts() (payroll.PayPeriodFacts, error) {
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

	currency := payroll.Currency(r.Currency)
	facts := payroll.PayPeriodFacts{
		EmployeeID:    payroll.EmployeeID(r.EmployeeID),
		Country:       payroll.CountryCode(r.Country),
		Period:        period,
		BaseSalary:    payroll.Money{Value: base, Currency: currency},
		HoursWorked:   hours,
		OvertimeHours: overtime,
		Currency:      currency,
	}
	for i, b := range r.Bonuses {
		amount, err := parseDecimal(fmt.Sprintf("bonuses[%d].amount", i), b.Amount)
		if err != nil {
			return payroll.PayPeriodFacts{}, err
		}
		facts.Bonuses = append(facts.Bonuses, payroll.Bonus{
			Name:   b.Name,
			Amount: payroll.Money{Value: amount, Currency: currency},
		})
	}
	return facts, nil
}

type DeductionDTO struct {
	Type         string `json:"type"`
	Name         string `json:"name"`
	Basis        string `json:"basis"`
	Amount       string `json:"amount"`
	MarginalRate string `json:"marginal_rate"`
}

// ResultDTO is the gross-to-net breakdown returned to clients.
type ResultDTO struct {
	ID             string         `json:"id"`
	EmployeeID     string         `json:"employee_id"`
	Country        string         `json:"country"`
	Period         PeriodDTO      `json:"period"`
	Gross          string         `json:"gross"`
	Overtime       string         `json:"overtime"`
	BonusTotal     string         `json:"bonus_total"`
	Deductions     []DeductionDTO `json:"deductions"`
	Net            string         `json:"net"`
	Currency       string         `json:"currency"`
	RuleSetVersion int            `json:"ruleset_version"`
	CreatedAt      string         `json:"created_at,omitempty"`
}

func resultDTO(res *payroll.CalculationResult) ResultDTO {
	dto := ResultDTO{
		ID:             res.ID.String(),
		EmployeeID:     string(res.EmployeeID),
		Country:        string(res.Country),
		Period:         periodDTO(res.Period),
		Gross:          res.Gross.Value.StringFixed(2),
		Overtime:       res.Overtime.Value.StringFixed(2),
		BonusTotal:     res.BonusTotal.Value.StringFixed(2),
		Net:            res.Net.Value.StringFixed(2),
		Currency:       string(res.Currency),
		RuleSetVersion: res.RuleSetVersion,
		Deductions:     make([]DeductionDTO, 0, len(res.Deductions)),
	}
	if !res.CreatedAt.IsZero() {
		dto.CreatedAt = res.CreatedAt.UTC().Format(time.RFC3339)
	}
	for _, d := range res.Deductions {
		dto.Deductions = append(dto.Deductions, DeductionDTO{
			Type:         string(d.Type),
			Name:         d.Name,
			Basis:        d.Basis.Value.StringFixed(2),
			Amount:       d.Amount.Value.StringFixed(2),
			MarginalRate: d.MarginalRate.String(),
		})
	}
	return dto
}

// =============================================================================
// SEVERANCE
// =============================================================================

type SeveranceRequest struct {
	EmployeeID       string `json:"employee_id" validate:"required"`
	Country          string `json:"country" validate:"required,len=2,uppercase"`
	HireDate         string `json:"hire_date" validate:"required,datetime=2006-01-02"`
	TerminationDate  string `json:"termination_date" validate:"required,datetime=2006-01-02"`
	Type             string `json:"type" validate:"required,oneof=voluntary involuntary_with_cause involuntary_without_cause"`
	LastSalary       string `json:"last_salary" validate:"required"`
	AccruedLeaveDays string `json:"accrued_leave_days,omitempty"`
	Currency         string `json:"currency" validate:"required,len=3,uppercase"`
}

func (r SeveranceRequest) toFacts() (payroll.TerminationFacts, error) {
	hire, err := payroll.ParseDate(r.HireDate)
	if err != nil {
		return payroll.TerminationFacts{}, fmt.Errorf("hire_date: %w", err)
	}
	termination, err := payroll.ParseDate(r.TerminationDate)
	if err != nil {
		return payroll.TerminationFacts{}, fmt.Errorf("termination_date: %w", err)
	}
	salary, err := parseDecimal("last_salary", r.LastSalary)
	if err != nil {
		return payroll.TerminationFacts{}, err
	}
	leave, err := parseDecimal("accrued_leave_days", r.AccruedLeaveDays)
	if err != nil {
		return payroll.TerminationFacts{}, err
	}

	currency := payroll.Currency(r.Currency)
	return payroll.TerminationFacts{
		EmployeeID:       payroll.EmployeeID(r.EmployeeID),
		Country:          payroll.CountryCode(r.Country),
		HireDate:         hire,
		TerminationDate:  termination,
		Type:             payroll.TerminationType(r.Type),
		LastSalary:       payroll.Money{Value: salary, Currency: currency},
		AccruedLeaveDays: leave,
		Currency:         currency,
	}, nil
}

type SeveranceLineDTO struct {
	Component string `json:"component"`
	Days      string `json:"days"`
	Amount    string `json:"amount"`
	Applied   bool   `json:"applied"`
	Reason    string `json:"reason,omitempty"`
}

type SeveranceDTO struct {
	ID              string             `json:"id"`
	EmployeeID      string             `json:"employee_id"`
	Country         string             `json:"country"`
	TerminationType string             `json:"termination_type"`
	TenureMonths    int                `json:"tenure_months"`
	DailyRate       string             `json:"daily_rate"`
	Lines           []SeveranceLineDTO `json:"lines"`
	Total           string             `json:"total"`
	Currency        string             `json:"currency"`
	RuleSetVersion  int                `json:"ruleset_version"`
}

func severanceDTO(res *payroll.SeveranceResult) SeveranceDTO {
	dto := SeveranceDTO{
		ID:              res.ID.String(),
		EmployeeID:      string(res.EmployeeID),
		Country:         string(res.Country),
		TerminationType: string(res.TerminationType),
		TenureMonths:    res.TenureMonths,
		DailyRate:       res.DailyRate.Value.StringFixed(2),
		Total:           res.Total.Value.StringFixed(2),
		Currency:        string(res.Currency),
		RuleSetVersion:  res.RuleSetVersion,
		Lines:           make([]SeveranceLineDTO, 0, len(res.Lines)),
	}
	for _, line := range res.Lines {
		dto.Lines = append(dto.Lines, SeveranceLineDTO{
			Component: string(line.Component),
			Days:      line.Days.String(),
			Amount:    line.Amount.Value.StringFixed(2),
			Applied:   line.Applied,
			Reason:    line.Reason,
		})
	}
	return dto
}

// =============================================================================
// RUNS
// =============================================================================

type StartRunRequest struct {
	CompanyID string    `json:"company_id" validate:"required"`
	Period    PeriodDTO `json:"period" validate:"required"`
	Employees []string  `json:"employees" validate:"required,min=1,dive,required"`
}

type RunLineDTO struct {
	EmployeeID string `json:"employee_id"`
	Status     string `json:"status"`
	ResultID   string `json:"result_id,omitempty"`
	Error      string `json:"error,omitempty"`
}

type RunDTO struct {
	ID          string       `json:"id"`
	Key         string       `json:"key"`
	CompanyID   string       `json:"company_id"`
	Period      PeriodDTO    `json:"period"`
	Status      string       `json:"status"`
	Succeeded   int          `json:"succeeded"`
	Failed      int          `json:"failed"`
	Skipped     int          `json:"skipped"`
	Lines       []RunLineDTO `json:"lines,omitempty"`
	CreatedAt   string       `json:"created_at"`
	StartedAt   string       `json:"started_at,omitempty"`
	CompletedAt string       `json:"completed_at,omitempty"`
}

func runDTO(run *payroll.PayrollRun, includeLines bool) RunDTO {
	ok, failed, skipped := run.Counts()
	dto := RunDTO{
		ID:        run.ID.String(),
		Key:       run.Key,
		CompanyID: string(run.CompanyID),
		Period:    periodDTO(run.Period),
		Status:    string(run.Status),
		Succeeded: ok,
		Failed:    failed,
		Skipped:   skipped,
		CreatedAt: run.CreatedAt.UTC().Format(time.RFC3339),
	}
	if run.StartedAt != nil {
		dto.StartedAt = run.StartedAt.UTC().Format(time.RFC3339)
	}
	if run.CompletedAt != nil {
		dto.CompletedAt = run.CompletedAt.UTC().Format(time.RFC3339)
	}
	if includeLines {
		for _, li := range run.LineItems {
			line := RunLineDTO{
				EmployeeID: string(li.EmployeeID),
				Status:     string(li.Status),
				Error:      li.Error,
			}
			if li.ResultID != nil {
				line.ResultID = li.ResultID.String()
			}
			dto.Lines = append(dto.Lines, line)
		}
	}
	return dto
}

// =============================================================================
// RULESETS
// =============================================================================

type RuleSetDTO struct {
	ID            string `json:"id"`
	Country       string `json:"country"`
	Currency      string `json:"currency"`
	Version       int    `json:"version"`
	EffectiveFrom string `json:"effective_from"`
	EffectiveTo   string `json:"effective_to,omitempty"`
	Checksum      string `json:"checksum"`
	Rounding      string `json:"rounding"`
	MinimumWage   string `json:"minimum_wage"`
}

func ruleSetDTO(rs *payroll.RuleSet) RuleSetDTO {
	dto := RuleSetDTO{
		ID:            rs.ID.String(),
		Country:       string(rs.Country),
		Currency:      string(rs.Currency),
		Version:       rs.Version,
		EffectiveFrom: rs.EffectiveFrom.String(),
		Checksum:      rs.SourceChecksum,
		Rounding:      string(rs.Rounding),
		MinimumWage:   rs.MinimumWage.String(),
	}
	if rs.EffectiveTo != nil {
		dto.EffectiveTo = rs.EffectiveTo.String()
	}
	return dto
}

// =============================================================================
// EMPLOYEES AND FACTS
// =============================================================================

type EmployeeDTO struct {
	ID         string `json:"id"`
	CompanyID  string `json:"company_id"`
	Name       string `json:"name"`
	Country    string `json:"country"`
	Currency   string `json:"currency"`
	BaseSalary string `json:"base_salary"`
	HireDate   string `json:"hire_date"`
}

type CreateEmployeeRequest struct {
	ID         string `json:"id" validate:"required"`
	CompanyID  string `json:"company_id" validate:"required"`
	Name       string `json:"name" validate:"required"`
	Country    string `json:"country" validate:"required,len=2,uppercase"`
	Currency   string `json:"currency" validate:"required,len=3,uppercase"`
	BaseSalary string `json:"base_salary" validate:"required"`
	HireDate   string `json:"hire_date" validate:"required,datetime=2006-01-02"`
}

func employeeDTO(e *payroll.Employee) EmployeeDTO {
	return EmployeeDTO{
		ID:         string(e.ID),
		CompanyID:  string(e.CompanyID),
		Name:       e.Name,
		Country:    string(e.Country),
		Currency:   string(e.Currency),
		BaseSalary: e.BaseSalary.Value.StringFixed(2),
		HireDate:   e.HireDate.String(),
	}
}

// PushFactsRequest records attendance facts for an (employee, period) slot.
type PushFactsRequest struct {
	Period        PeriodDTO  `json:"period" validate:"required"`
	BaseSalary    string     `json:"base_salary" validate:"required"`
	HoursWorked   string     `json:"hours_worked,omitempty"`
	OvertimeHours string     `json:"overtime_hours,omitempty"`
	Bonuses       []BonusDTO `json:"bonuses,omitempty" validate:"dive"`
}

// CountryProfileDTO describes a supported jurisdiction.
type CountryProfileDTO struct {
	Country       string   `json:"country"`
	Name          string   `json:"name"`
	Currency      string   `json:"currency"`
	Contributions []string `json:"contributions"`
	HeadVersion   int      `json:"head_version,omitempty"`
}
