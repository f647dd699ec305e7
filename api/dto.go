/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the domain model in tips/ from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY AND HOURS:
  decimal.Decimal fields marshal as JSON strings ("12.50") and accept either
  strings or numbers on input. Timestamps are RFC 3339.

VALIDATION:
  Request types carry go-playground/validator struct tags, checked in
  decode() before the engine is called. decimal.Decimal is registered as a
  custom type so numeric tags (gte=0) apply to it. Team settings are
  validated by factory.FromJSON instead, which names the offending field.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/settings.go: SettingsJSON, used as the settings DTO
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/tiptop/tip-engine/tips"
)

// =============================================================================
// REQUESTS
// =============================================================================

// AddTipRequest logs a tip into the active period.
type AddTipRequest struct {
	Amount decimal.Decimal `json:"amount" validate:"gte=0"`
	Note   string          `json:"note,omitempty" validate:"max=500"`
	Date   *time.Time      `json:"date,omitempty"`
}

// CreateMemberRequest adds a member to the team.
type CreateMemberRequest struct {
	Name string `json:"name" validate:"required,max=100"`
}

// AddHoursRequest registers hours. Correction entries may be negative.
type AddHoursRequest struct {
	Hours      decimal.Decimal `json:"hours"`
	Date       *time.Time      `json:"date,omitempty"`
	Correction bool            `json:"correction,omitempty"`
}

// PeriodsRequest selects periods for a distribution preview.
type PeriodsRequest struct {
	PeriodIDs []string `json:"period_ids" validate:"required,min=1,dive,required"`
}

// SettleRequest selects periods to pay out, with optional per-member
// overrides of the disbursed amount.
type SettleRequest struct {
	PeriodIDs []string                   `json:"period_ids" validate:"required,min=1,dive,required"`
	Overrides map[string]decimal.Decimal `json:"overrides,omitempty" validate:"omitempty,dive,keys,required,endkeys,gte=0"`
}

// PreviewRequest is a SettleRequest with an optional rounding step for this
// preview only.
type PreviewRequest struct {
	SettleRequest
	RoundingStep string `json:"rounding_step,omitempty" validate:"omitempty,oneof=none 0.50 1.00 2.00 5.00 10.00"`
}

// =============================================================================
// RESPONSES
// =============================================================================

// TipDTO represents a tip entry in API responses.
type TipDTO struct {
	ID        string          `json:"id"`
	PeriodID  string          `json:"period_id"`
	Amount    decimal.Decimal `json:"amount"`
	Date      string          `json:"date"`
	Note      string          `json:"note,omitempty"`
	CreatedBy string          `json:"created_by,omitempty"`
	CreatedAt string          `json:"created_at"`
}

// PeriodDTO represents a period in API responses.
type PeriodDTO struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Status        string          `json:"status"`
	StartDate     string          `json:"start_date"`
	EndDate       *string         `json:"end_date,omitempty"`
	AutoCloseDate *string         `json:"auto_close_date,omitempty"`
	IsActive      bool            `json:"is_active"`
	IsPaid        bool            `json:"is_paid"`
	TotalTips     decimal.Decimal `json:"total_tips"`
	Tips          []TipDTO        `json:"tips"`
}

// HourRegistrationDTO represents one hours entry.
type HourRegistrationDTO struct {
	ID        string          `json:"id"`
	MemberID  string          `json:"member_id"`
	Hours     decimal.Decimal `json:"hours"`
	Date      string          `json:"date"`
	CreatedBy string          `json:"created_by,omitempty"`
}

// MemberDTO represents a team member with derived hours.
type MemberDTO struct {
	ID            string                `json:"id"`
	Name          string                `json:"name"`
	Hours         decimal.Decimal       `json:"hours"`
	Balance       decimal.Decimal       `json:"balance"`
	Registrations []HourRegistrationDTO `json:"registrations"`
}

// ShareDTO is one member's share in a distribution preview.
type ShareDTO struct {
	MemberID   string          `json:"member_id"`
	MemberName string          `json:"member_name"`
	TipAmount  decimal.Decimal `json:"tip_amount"`
}

// AverageDTO carries the average tip per hour.
type AverageDTO struct {
	PeriodIDs         []string        `json:"period_ids,omitempty"`
	AverageTipPerHour decimal.Decimal `json:"average_tip_per_hour"`
}

// PayoutItemDTO is one member's line in a payout.
type PayoutItemDTO struct {
	MemberID     string          `json:"member_id"`
	MemberName   string          `json:"member_name"`
	Hours        decimal.Decimal `json:"hours"`
	Amount       decimal.Decimal `json:"amount"`
	PriorBalance decimal.Decimal `json:"prior_balance"`
	ActualAmount decimal.Decimal `json:"actual_amount"`
	Balance      decimal.Decimal `json:"balance"`
}

// PayoutDTO represents a settled (or previewed) payout.
type PayoutDTO struct {
	ID           string          `json:"id,omitempty"`
	PeriodIDs    []string        `json:"period_ids"`
	Date         string          `json:"date"`
	RoundingStep string          `json:"rounding_step"`
	TotalActual  decimal.Decimal `json:"total_actual"`
	Items        []PayoutItemDTO `json:"items"`
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION
// =============================================================================

func formatTime(t time.Time) string {
	return t.Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

func toPeriodDTO(p tips.Period) PeriodDTO {
	dto := PeriodDTO{
		ID:            string(p.ID),
		Name:          p.Name,
		Status:        string(p.Status()),
		StartDate:     formatTime(p.StartDate),
		EndDate:       formatTimePtr(p.EndDate),
		AutoCloseDate: formatTimePtr(p.AutoCloseDate),
		IsActive:      p.IsActive,
		IsPaid:        p.IsPaid,
		TotalTips:     p.TotalTips(),
		Tips:          make([]TipDTO, len(p.Tips)),
	}
	for i, t := range p.Tips {
		dto.Tips[i] = toTipDTO(t)
	}
	return dto
}

func toTipDTO(t tips.TipEntry) TipDTO {
	return TipDTO{
		ID:        string(t.ID),
		PeriodID:  string(t.PeriodID),
		Amount:    t.Amount,
		Date:      formatTime(t.Date),
		Note:      t.Note,
		CreatedBy: t.CreatedBy,
		CreatedAt: formatTime(t.CreatedAt),
	}
}

func toRegistrationDTO(r tips.HourRegistration) HourRegistrationDTO {
	return HourRegistrationDTO{
		ID:        string(r.ID),
		MemberID:  string(r.MemberID),
		Hours:     r.Hours,
		Date:      formatTime(r.Date),
		CreatedBy: r.CreatedBy,
	}
}

func toMemberDTO(m tips.TeamMember) MemberDTO {
	dto := MemberDTO{
		ID:            string(m.ID),
		Name:          m.Name,
		Hours:         m.Hours(),
		Balance:       m.Balance,
		Registrations: make([]HourRegistrationDTO, len(m.Registrations)),
	}
	for i, r := range m.Registrations {
		dto.Registrations[i] = toRegistrationDTO(r)
	}
	return dto
}

func toPayoutDTO(p tips.PayoutData) PayoutDTO {
	dto := PayoutDTO{
		ID:           string(p.ID),
		PeriodIDs:    make([]string, len(p.PeriodIDs)),
		Date:         formatTime(p.Date),
		RoundingStep: string(p.RoundingStep),
		TotalActual:  p.TotalActual(),
		Items:        make([]PayoutItemDTO, len(p.Items)),
	}
	for i, id := range p.PeriodIDs {
		dto.PeriodIDs[i] = string(id)
	}
	for i, it := range p.Items {
		dto.Items[i] = PayoutItemDTO{
			MemberID:     string(it.MemberID),
			MemberName:   it.MemberName,
			Hours:        it.Hours,
			Amount:       it.Amount,
			PriorBalance: it.PriorBalance,
			ActualAmount: it.ActualAmount,
			Balance:      it.Balance,
		}
	}
	return dto
}

func toPeriodIDs(ids []string) []tips.PeriodID {
	out := make([]tips.PeriodID, len(ids))
	for i, id := range ids {
		out[i] = tips.PeriodID(id)
	}
	return out
}

func toOverrides(in map[string]decimal.Decimal) map[tips.MemberID]decimal.Decimal {
	if len(in) == 0 {
		return nil
	}
	out := make(map[tips.MemberID]decimal.Decimal, len(in))
	for id, amount := range in {
		out[tips.MemberID(id)] = amount
	}
	return out
}
