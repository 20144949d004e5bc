/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Hours, rates and pay
  travel as decimal strings ("10.5", "770.00") so clients never see float
  rounding.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/laborcost/labor"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

type CreateWorkerRequest struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Role       string `json:"role"`
	SkillLevel string `json:"skill_level,omitempty"`
}

type CreateJobRequest struct {
	ID           string `json:"id"`
	Number       string `json:"number"`
	Name         string `json:"name"`
	CustomerName string `json:"customer_name"`
}

// CreateRateRequest creates a rate record. Scope is job, worker or skill.
type CreateRateRequest struct {
	Scope         string           `json:"scope"`
	JobID         string           `json:"job_id,omitempty"`
	WorkerID      string           `json:"worker_id,omitempty"`
	SkillLevel    string           `json:"skill_level,omitempty"`
	RegularRate   decimal.Decimal  `json:"regular_rate"`
	OvertimeRate  *decimal.Decimal `json:"overtime_rate,omitempty"`
	EffectiveDate string           `json:"effective_date"`
	ExpiryDate    string           `json:"expiry_date,omitempty"`
}

type CreateEntryRequest struct {
	WorkerID     string          `json:"worker_id"`
	JobID        string          `json:"job_id"`
	WorkDate     string          `json:"work_date"`
	Hours        decimal.Decimal `json:"hours"`
	Description  string          `json:"description"`
	HasBreaks    bool            `json:"has_breaks"`
	ChangeReason string          `json:"change_reason,omitempty"`
	Notes        string          `json:"notes,omitempty"`
}

// UpdateEntryRequest changes only the fields that are present.
type UpdateEntryRequest struct {
	JobID        *string          `json:"job_id,omitempty"`
	WorkDate     *string          `json:"work_date,omitempty"`
	Hours        *decimal.Decimal `json:"hours,omitempty"`
	Description  *string          `json:"description,omitempty"`
	HasBreaks    *bool            `json:"has_breaks,omitempty"`
	ChangeReason string           `json:"change_reason,omitempty"`
	Notes        string           `json:"notes,omitempty"`
}

// StatusRequest is the optional body of submit/approve/reject/void.
type StatusRequest struct {
	Reason string `json:"reason,omitempty"`
	Notes  string `json:"notes,omitempty"`
}

type BulkRequestDTO struct {
	EntryIDs []string `json:"entry_ids"`
	Reason   string   `json:"reason,omitempty"`
	Notes    string   `json:"notes,omitempty"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

type WorkerDTO struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Role       string `json:"role"`
	SkillLevel string `json:"skill_level,omitempty"`
	Tier       string `json:"tier"`
}

type JobDTO struct {
	ID           string `json:"id"`
	Number       string `json:"number"`
	Name         string `json:"name"`
	CustomerName string `json:"customer_name"`
}

type RateRecordDTO struct {
	ID            string           `json:"id"`
	Scope         string           `json:"scope"`
	JobID         string           `json:"job_id,omitempty"`
	WorkerID      string           `json:"worker_id,omitempty"`
	SkillLevel    string           `json:"skill_level,omitempty"`
	RegularRate   decimal.Decimal  `json:"regular_rate"`
	OvertimeRate  *decimal.Decimal `json:"overtime_rate,omitempty"`
	EffectiveDate string           `json:"effective_date"`
	ExpiryDate    string           `json:"expiry_date,omitempty"`
	Active        bool             `json:"active"`
	CreatedBy     string           `json:"created_by"`
}

type ResolvedRateDTO struct {
	RegularRate  decimal.Decimal `json:"regular_rate"`
	OvertimeRate decimal.Decimal `json:"overtime_rate"`
	Source       string          `json:"source"`
	RecordID     string          `json:"record_id,omitempty"`
	SkillLevel   string          `json:"skill_level,omitempty"`
	Degraded     bool            `json:"degraded,omitempty"`
}

type WarningDTO struct {
	Type     string            `json:"type"`
	Severity string            `json:"severity"`
	Message  string            `json:"message"`
	Details  map[string]string `json:"details,omitempty"`
}

type EvaluationDTO struct {
	IsValid             bool            `json:"is_valid"`
	Warnings            []WarningDTO    `json:"warnings"`
	WeekStart           string          `json:"week_start"`
	DailyHours          decimal.Decimal `json:"daily_hours"`
	WeekToDateHours     decimal.Decimal `json:"week_to_date_hours"`
	WeeklyHours         decimal.Decimal `json:"weekly_hours"`
	WeeklyOvertime      decimal.Decimal `json:"weekly_overtime"`
	IncrementalOvertime decimal.Decimal `json:"incremental_overtime"`
}

type EntryDTO struct {
	ID                  string          `json:"id,omitempty"`
	WorkerID            string          `json:"worker_id"`
	JobID               string          `json:"job_id"`
	WorkDate            string          `json:"work_date"`
	Description         string          `json:"description,omitempty"`
	HasBreaks           bool            `json:"has_breaks"`
	Hours               decimal.Decimal `json:"hours"`
	RegularHours        decimal.Decimal `json:"regular_hours"`
	OvertimeHours       decimal.Decimal `json:"overtime_hours"`
	DoubletimeHours     decimal.Decimal `json:"doubletime_hours"`
	AppliedRegularRate  decimal.Decimal `json:"applied_regular_rate"`
	AppliedOvertimeRate decimal.Decimal `json:"applied_overtime_rate"`
	RateSource          string          `json:"rate_source"`
	TotalPay            string          `json:"total_pay"`
	Status              string          `json:"status"`
	CreatedAt           *time.Time      `json:"created_at,omitempty"`
	UpdatedAt           *time.Time      `json:"updated_at,omitempty"`
}

// EntryResponse wraps a mutation result.
type EntryResponse struct {
	Entry      EntryDTO         `json:"entry"`
	Rate       *ResolvedRateDTO `json:"rate,omitempty"`
	Evaluation *EvaluationDTO   `json:"evaluation,omitempty"`
	AuditID    string           `json:"audit_id,omitempty"`
	Warnings   []WarningDTO     `json:"warnings"`
}

type FieldChangeDTO struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type AuditRecordDTO struct {
	ID               string                    `json:"id"`
	EntryID          string                    `json:"entry_id"`
	WorkerID         string                    `json:"worker_id"`
	JobID            string                    `json:"job_id"`
	JobNumber        string                    `json:"job_number,omitempty"`
	CustomerName     string                    `json:"customer_name,omitempty"`
	Action           string                    `json:"action"`
	FieldDiffs       map[string]FieldChangeDTO `json:"field_diffs"`
	ChangedBy        string                    `json:"changed_by"`
	ChangedAt        time.Time                 `json:"changed_at"`
	Notes            string                    `json:"notes,omitempty"`
	ChangeReason     string                    `json:"change_reason,omitempty"`
	CorrelationID    string                    `json:"correlation_id,omitempty"`
	RelatedCostRunID string                    `json:"related_cost_run_id,omitempty"`
}

type BulkFailureDTO struct {
	EntryID string `json:"entry_id"`
	Error   string `json:"error"`
}

type BulkResultDTO struct {
	Op            string           `json:"op"`
	CorrelationID string           `json:"correlation_id"`
	CostRunID     string           `json:"cost_run_id,omitempty"`
	Succeeded     []EntryDTO       `json:"succeeded"`
	Failed        []BulkFailureDTO `json:"failed"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error     string       `json:"error"`
	Code      string       `json:"code,omitempty"`
	Details   any          `json:"details,omitempty"`
	Warnings  []WarningDTO `json:"warnings,omitempty"`
	Reference string       `json:"reference,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toWorkerDTO(w labor.Worker, tier labor.SkillLevel) WorkerDTO {
	return WorkerDTO{
		ID:         string(w.ID),
		Name:       w.Name,
		Role:       w.Role,
		SkillLevel: string(w.SkillLevel),
		Tier:       string(tier),
	}
}

func toJobDTO(j labor.JobInfo) JobDTO {
	return JobDTO{ID: string(j.ID), Number: j.Number, Name: j.Name, CustomerName: j.CustomerName}
}

func toRateRecordDTO(r labor.RateRecord) RateRecordDTO {
	dto := RateRecordDTO{
		ID:            string(r.ID),
		Scope:         string(r.Key.Scope),
		JobID:         string(r.Key.JobID),
		WorkerID:      string(r.Key.WorkerID),
		SkillLevel:    string(r.Key.SkillLevel),
		RegularRate:   r.RegularRate,
		OvertimeRate:  r.OvertimeRate,
		EffectiveDate: r.EffectiveDate.Format(labor.DateLayout),
		Active:        r.Active,
		CreatedBy:     r.CreatedBy,
	}
	if r.ExpiryDate != nil {
		dto.ExpiryDate = r.ExpiryDate.Format(labor.DateLayout)
	}
	return dto
}

func toResolvedRateDTO(r labor.ResolvedRate) ResolvedRateDTO {
	return ResolvedRateDTO{
		RegularRate:  r.RegularRate,
		OvertimeRate: r.OvertimeRate,
		Source:       string(r.Source),
		RecordID:     string(r.RecordID),
		SkillLevel:   string(r.SkillLevel),
		Degraded:     r.Degraded,
	}
}

func toWarningDTOs(ws []labor.Warning) []WarningDTO {
	out := make([]WarningDTO, 0, len(ws))
	for _, w := range ws {
		out = append(out, WarningDTO{
			Type:     string(w.Type),
			Severity: string(w.Severity),
			Message:  w.Message,
			Details:  w.Details,
		})
	}
	return out
}

func toEvaluationDTO(e labor.Evaluation) EvaluationDTO {
	dto := EvaluationDTO{
		IsValid:             e.IsValid,
		Warnings:            toWarningDTOs(e.Warnings),
		DailyHours:          e.DailyHours,
		WeekToDateHours:     e.WeekToDateHours,
		WeeklyHours:         e.WeeklyHours,
		WeeklyOvertime:      e.WeeklyOvertime,
		IncrementalOvertime: e.IncrementalOvertime,
	}
	if !e.WeekStart.IsZero() {
		dto.WeekStart = e.WeekStart.Format(labor.DateLayout)
	}
	return dto
}

func toEntryDTO(e labor.TimeEntry) EntryDTO {
	dto := EntryDTO{
		ID:                  string(e.ID),
		WorkerID:            string(e.WorkerID),
		JobID:               string(e.JobID),
		WorkDate:            e.WorkDate.Format(labor.DateLayout),
		Description:         e.Description,
		HasBreaks:           e.HasBreaks,
		Hours:               e.Hours,
		RegularHours:        e.RegularHours,
		OvertimeHours:       e.OvertimeHours,
		DoubletimeHours:     e.DoubletimeHours,
		AppliedRegularRate:  e.AppliedRegularRate,
		AppliedOvertimeRate: e.AppliedOvertimeRate,
		RateSource:          string(e.RateSource),
		TotalPay:            e.TotalPay.StringFixed(2),
		Status:              string(e.Status),
	}
	if !e.CreatedAt.IsZero() {
		t := e.CreatedAt
		dto.CreatedAt = &t
	}
	if !e.UpdatedAt.IsZero() {
		t := e.UpdatedAt
		dto.UpdatedAt = &t
	}
	return dto
}

func toEntryResponse(res labor.EntryResult) EntryResponse {
	out := EntryResponse{
		Entry:    toEntryDTO(res.Entry),
		AuditID:  string(res.Audit.ID),
		Warnings: toWarningDTOs(res.Warnings()),
	}
	if res.Rate.Source != "" {
		rate := toResolvedRateDTO(res.Rate)
		out.Rate = &rate
	}
	if !res.Evaluation.WeekStart.IsZero() {
		eval := toEvaluationDTO(res.Evaluation)
		out.Evaluation = &eval
	}
	return out
}

func toAuditRecordDTO(r labor.AuditRecord) AuditRecordDTO {
	diffs := make(map[string]FieldChangeDTO, len(r.FieldDiffs))
	for k, v := range r.FieldDiffs {
		diffs[k] = FieldChangeDTO{From: v.From, To: v.To}
	}
	return AuditRecordDTO{
		ID:               string(r.ID),
		EntryID:          string(r.EntryID),
		WorkerID:         string(r.WorkerID),
		JobID:            string(r.JobID),
		Action:           string(r.Action),
		FieldDiffs:       diffs,
		ChangedBy:        r.ChangedBy,
		ChangedAt:        r.ChangedAt,
		Notes:            r.Notes,
		ChangeReason:     r.ChangeReason,
		CorrelationID:    string(r.CorrelationID),
		RelatedCostRunID: string(r.RelatedCostRunID),
	}
}

func toBulkResultDTO(r labor.BulkResult) BulkResultDTO {
	dto := BulkResultDTO{
		Op:            string(r.Op),
		CorrelationID: string(r.CorrelationID),
		CostRunID:     string(r.CostRunID),
		Succeeded:     make([]EntryDTO, 0, len(r.Succeeded)),
		Failed:        make([]BulkFailureDTO, 0, len(r.Failed)),
	}
	for _, s := range r.Succeeded {
		dto.Succeeded = append(dto.Succeeded, toEntryDTO(s.Entry))
	}
	for _, f := range r.Failed {
		dto.Failed = append(dto.Failed, BulkFailureDTO{EntryID: string(f.EntryID), Error: f.Err.Error()})
	}
	return dto
}
