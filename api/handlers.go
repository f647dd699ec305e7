/*
handlers.go - HTTP API handlers for the tip pool engine

PURPOSE:
  Exposes the engine via REST API. Handles HTTP request/response, JSON
  serialization and validation, and delegates to engine.Engine.

ENDPOINTS (all under /api/teams/{teamID}):
  Settings:
    GET    /settings                          Team settings (defaults if unset)
    PUT    /settings                          Replace team settings

  Tips and periods:
    POST   /tips                              Log a tip into the active period
    GET    /periods                           List periods
    POST   /periods                           Close the active period, open a new one
    POST   /periods/current/end               Close the active period
    GET    /periods/{periodID}                Period with its tips
    DELETE /periods/{periodID}                Delete an unpaid period

  Members and hours:
    GET    /members                           Members with derived hours
    POST   /members                           Add a member
    POST   /members/{memberID}/hours          Register (or correct) hours
    DELETE /members/{memberID}/hours/{regID}  Remove a registration

  Distribution and payouts:
    POST   /distribution                      Preview shares for periods
    GET    /average-tip-per-hour              ?period_id=..&period_id=..
    POST   /payouts/preview                   Settle without persisting
    POST   /payouts                           Settle and mark periods paid
    GET    /payouts                           Payout history
    GET    /payouts/pending                   Settlement awaiting retry
    POST   /payouts/retry                     Retry a failed settlement

ACTING USER:
  Read from the X-User-ID header and recorded on tips and hours. It is not
  authenticated here.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid settings
  - 404: Team record not found
  - 409: Period state conflict, duplicate member name, nothing to retry
  - 500: Persistence errors (retryable)

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"reflect"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/tiptop/tip-engine/engine"
	"github.com/tiptop/tip-engine/factory"
	"github.com/tiptop/tip-engine/tips"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *engine.Engine
	DB     Pinger // optional, used by /healthz

	validate *validator.Validate
	log      *slog.Logger
}

// NewHandler creates a new handler around the engine.
func NewHandler(eng *engine.Engine, db Pinger, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	v := validator.New()
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		d, ok := field.Interface().(decimal.Decimal)
		if !ok {
			return nil
		}
		f, _ := d.Float64()
		return f
	}, decimal.Decimal{})

	return &Handler{
		Engine:   eng,
		DB:       db,
		validate: v,
		log:      logger.With("component", "api"),
	}
}

const actorHeader = "X-User-ID"

func teamID(r *http.Request) tips.TeamID {
	return tips.TeamID(chi.URLParam(r, "teamID"))
}

func actor(r *http.Request) string {
	if a := r.Header.Get(actorHeader); a != "" {
		return a
	}
	return "anonymous"
}

// =============================================================================
// SETTINGS HANDLERS
// =============================================================================

// GetSettings returns the team's settings.
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	s, err := h.Engine.GetSettings(r.Context(), teamID(r))
	if err != nil {
		h.writeEngineError(w, "Failed to get settings", err)
		return
	}
	writeJSON(w, http.StatusOK, factory.ToJSON(s))
}

// UpdateSettings replaces the team's settings.
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req factory.SettingsJSON
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	s, err := factory.FromJSON(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid settings", err)
		return
	}

	saved, err := h.Engine.UpdateSettings(r.Context(), teamID(r), s)
	if err != nil {
		h.writeEngineError(w, "Failed to update settings", err)
		return
	}
	writeJSON(w, http.StatusOK, factory.ToJSON(saved))
}

// =============================================================================
// TIP AND PERIOD HANDLERS
// =============================================================================

// AddTip logs a tip into the active period, opening one if needed.
func (h *Handler) AddTip(w http.ResponseWriter, r *http.Request) {
	var req AddTipRequest
	if !h.decode(w, r, &req) {
		return
	}

	tip, err := h.Engine.AddTip(r.Context(), teamID(r), actor(r), engine.TipInput{
		Amount: req.Amount,
		Note:   req.Note,
		Date:   req.Date,
	})
	if err != nil {
		h.writeEngineError(w, "Failed to add tip", err)
		return
	}
	writeJSON(w, http.StatusCreated, toTipDTO(tip))
}

// ListPeriods returns every period of the team.
func (h *Handler) ListPeriods(w http.ResponseWriter, r *http.Request) {
	periods, err := h.Engine.ListPeriods(r.Context(), teamID(r))
	if err != nil {
		h.writeEngineError(w, "Failed to list periods", err)
		return
	}
	dtos := make([]PeriodDTO, len(periods))
	for i, p := range periods {
		dtos[i] = toPeriodDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// StartPeriod closes the active period and opens a new one.
func (h *Handler) StartPeriod(w http.ResponseWriter, r *http.Request) {
	p, err := h.Engine.StartNewPeriod(r.Context(), teamID(r))
	if err != nil {
		h.writeEngineError(w, "Failed to start period", err)
		return
	}
	writeJSON(w, http.StatusCreated, toPeriodDTO(p))
}

// EndCurrentPeriod closes the active period. 204 when there is none.
func (h *Handler) EndCurrentPeriod(w http.ResponseWriter, r *http.Request) {
	p, err := h.Engine.EndCurrentPeriod(r.Context(), teamID(r))
	if err != nil {
		h.writeEngineError(w, "Failed to end period", err)
		return
	}
	if p == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, toPeriodDTO(*p))
}

// GetPeriod returns one period with its tips.
func (h *Handler) GetPeriod(w http.ResponseWriter, r *http.Request) {
	p, err := h.Engine.GetPeriod(r.Context(), teamID(r), tips.PeriodID(chi.URLParam(r, "periodID")))
	if err != nil {
		h.writeEngineError(w, "Failed to get period", err)
		return
	}
	writeJSON(w, http.StatusOK, toPeriodDTO(p))
}

// DeletePeriod removes an unpaid period and its tips.
func (h *Handler) DeletePeriod(w http.ResponseWriter, r *http.Request) {
	err := h.Engine.DeletePeriod(r.Context(), teamID(r), tips.PeriodID(chi.URLParam(r, "periodID")))
	if err != nil {
		h.writeEngineError(w, "Failed to delete period", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// MEMBER HANDLERS
// =============================================================================

// ListMembers returns the team's members.
func (h *Handler) ListMembers(w http.ResponseWriter, r *http.Request) {
	members, err := h.Engine.ListMembers(r.Context(), teamID(r))
	if err != nil {
		h.writeEngineError(w, "Failed to list members", err)
		return
	}
	dtos := make([]MemberDTO, len(members))
	for i, m := range members {
		dtos[i] = toMemberDTO(m)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateMember adds a member.
func (h *Handler) CreateMember(w http.ResponseWriter, r *http.Request) {
	var req CreateMemberRequest
	if !h.decode(w, r, &req) {
		return
	}
	m, err := h.Engine.AddMember(r.Context(), teamID(r), req.Name)
	if err != nil {
		h.writeEngineError(w, "Failed to create member", err)
		return
	}
	writeJSON(w, http.StatusCreated, toMemberDTO(m))
}

// AddHours registers hours for a member. With correction set the hours may
// be negative.
func (h *Handler) AddHours(w http.ResponseWriter, r *http.Request) {
	var req AddHoursRequest
	if !h.decode(w, r, &req) {
		return
	}

	register := h.Engine.AddHours
	if req.Correction {
		register = h.Engine.CorrectHours
	}
	reg, err := register(r.Context(), teamID(r), actor(r), tips.MemberID(chi.URLParam(r, "memberID")),
		engine.HoursInput{Hours: req.Hours, Date: req.Date})
	if err != nil {
		h.writeEngineError(w, "Failed to register hours", err)
		return
	}
	writeJSON(w, http.StatusCreated, toRegistrationDTO(reg))
}

// DeleteHourRegistration removes one hours entry.
func (h *Handler) DeleteHourRegistration(w http.ResponseWriter, r *http.Request) {
	err := h.Engine.DeleteHourRegistration(r.Context(), teamID(r),
		tips.MemberID(chi.URLParam(r, "memberID")),
		tips.RegistrationID(chi.URLParam(r, "registrationID")))
	if err != nil {
		h.writeEngineError(w, "Failed to delete hours", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// DISTRIBUTION AND PAYOUT HANDLERS
// =============================================================================

// Distribution previews each member's share of the given periods.
func (h *Handler) Distribution(w http.ResponseWriter, r *http.Request) {
	var req PeriodsRequest
	if !h.decode(w, r, &req) {
		return
	}

	ctx := r.Context()
	shares, err := h.Engine.CalculateTipDistribution(ctx, teamID(r), toPeriodIDs(req.PeriodIDs))
	if err != nil {
		h.writeEngineError(w, "Failed to calculate distribution", err)
		return
	}
	members, err := h.Engine.ListMembers(ctx, teamID(r))
	if err != nil {
		h.writeEngineError(w, "Failed to list members", err)
		return
	}
	names := make(map[tips.MemberID]string, len(members))
	for _, m := range members {
		names[m.ID] = m.Name
	}

	dtos := make([]ShareDTO, len(shares))
	for i, s := range shares {
		dtos[i] = ShareDTO{MemberID: string(s.MemberID), MemberName: names[s.MemberID], TipAmount: s.TipAmount}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// AverageTipPerHour returns tips per hour over the given periods, or over
// every unpaid period when none are given.
func (h *Handler) AverageTipPerHour(w http.ResponseWriter, r *http.Request) {
	ids := r.URL.Query()["period_id"]
	avg, err := h.Engine.CalculateAverageTipPerHour(r.Context(), teamID(r), toPeriodIDs(ids))
	if err != nil {
		h.writeEngineError(w, "Failed to calculate average", err)
		return
	}
	writeJSON(w, http.StatusOK, AverageDTO{PeriodIDs: ids, AverageTipPerHour: avg})
}

// PreviewPayout computes a settlement without persisting it.
func (h *Handler) PreviewPayout(w http.ResponseWriter, r *http.Request) {
	var req PreviewRequest
	if !h.decode(w, r, &req) {
		return
	}

	preq := engine.PreviewRequest{SettleRequest: engine.SettleRequest{
		PeriodIDs: toPeriodIDs(req.PeriodIDs),
		Overrides: toOverrides(req.Overrides),
	}}
	if req.RoundingStep != "" {
		step := tips.RoundingStep(req.RoundingStep)
		preq.RoundingStep = &step
	}

	payout, err := h.Engine.PreviewPayout(r.Context(), teamID(r), preq)
	if err != nil {
		h.writeEngineError(w, "Failed to preview payout", err)
		return
	}
	writeJSON(w, http.StatusOK, toPayoutDTO(payout))
}

// SettlePayout marks periods as paid and records the payout.
func (h *Handler) SettlePayout(w http.ResponseWriter, r *http.Request) {
	var req SettleRequest
	if !h.decode(w, r, &req) {
		return
	}

	payout, err := h.Engine.MarkPeriodsAsPaid(r.Context(), teamID(r), engine.SettleRequest{
		PeriodIDs: toPeriodIDs(req.PeriodIDs),
		Overrides: toOverrides(req.Overrides),
	})
	if err != nil {
		h.writeEngineError(w, "Failed to settle payout", err)
		return
	}
	writeJSON(w, http.StatusCreated, toPayoutDTO(payout))
}

// ListPayouts returns the team's payout history.
func (h *Handler) ListPayouts(w http.ResponseWriter, r *http.Request) {
	payouts, err := h.Engine.ListPayouts(r.Context(), teamID(r))
	if err != nil {
		h.writeEngineError(w, "Failed to list payouts", err)
		return
	}
	dtos := make([]PayoutDTO, len(payouts))
	for i, p := range payouts {
		dtos[i] = toPayoutDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// PendingPayout returns the settlement whose commit failed, if any.
func (h *Handler) PendingPayout(w http.ResponseWriter, r *http.Request) {
	payout, ok := h.Engine.PendingSettlement(teamID(r))
	if !ok {
		writeError(w, http.StatusNotFound, "No pending settlement", nil)
		return
	}
	writeJSON(w, http.StatusOK, toPayoutDTO(payout))
}

// RetryPayout re-commits the pending settlement.
func (h *Handler) RetryPayout(w http.ResponseWriter, r *http.Request) {
	payout, err := h.Engine.RetryPendingSettlement(r.Context(), teamID(r))
	if err != nil {
		h.writeEngineError(w, "Failed to retry settlement", err)
		return
	}
	writeJSON(w, http.StatusCreated, toPayoutDTO(payout))
}

// =============================================================================
// HEALTH
// =============================================================================

// Health reports whether the store is reachable.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.DB != nil {
		if err := h.DB.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "Database unavailable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

// decode reads and validates a JSON body. On failure it writes a 400 and
// returns false.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return false
	}
	return true
}

// writeEngineError maps the engine's error taxonomy to an HTTP status.
func (h *Handler) writeEngineError(w http.ResponseWriter, message string, err error) {
	status := http.StatusInternalServerError
	switch {
	case tips.IsClientError(err):
		status = http.StatusBadRequest
		if errors.Is(err, tips.ErrDuplicateName) {
			status = http.StatusConflict
		}
	case tips.IsNotFound(err):
		status = http.StatusNotFound
	case errors.Is(err, tips.ErrStateConflict), errors.Is(err, tips.ErrNoPendingSettlement):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		h.log.Error(message, "error", err, "retryable", tips.IsRetryable(err))
	}
	writeError(w, status, message, err)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
