/*
handlers.go - HTTP handlers for the points economy

PURPOSE:
  Exposes the engine's command and query surface over REST. Handles
  HTTP request/response and JSON; all rules live in the economy
  package.

ENDPOINTS:
  Sessions:
    POST   /api/children/{id}/sessions/start      Begin a usage session
    POST   /api/children/{id}/sessions/heartbeat  Activity heartbeat
    POST   /api/children/{id}/sessions/end        End session, accrue points
    GET    /api/children/{id}/sessions            Active session presence

  Balances:
    GET    /api/children/{id}/balance             Total/per-app/unattributed
    GET    /api/children/{id}/points/today        Day-keyed accrual total
    GET    /api/children/{id}/entries             Recent ledger entries
    GET    /api/children/{id}/entries/range       Entries in [from, to]

  Redemption:
    POST   /api/children/{id}/redeem/check        Dry-run validation
    POST   /api/children/{id}/redeem              Spend points, start window

  Exemption:
    GET    /api/children/{id}/exemption           Active window, remaining
    POST   /api/children/{id}/exemption/extend    Grow the window
    DELETE /api/children/{id}/exemption           Cancel the window

  Admin:
    POST   /api/admin/adjustments                 Manual correction

ERROR HANDLING:
  400 invalid input / below or above redemption bounds
  404 unknown child, no active session/window
  409 insufficient balance, stacking policy refusal

SECURITY NOTE:
  PIN gating and pairing live outside this core; endpoints here trust
  the caller.

SEE ALSO:
  - dto.go: Request/response structures
  - server.go: Router setup and middleware
*/
package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/warp/points-engine/economy"
)

// Handler holds all engine dependencies.
type Handler struct {
	Ledger     *economy.Ledger
	Accrual    *economy.AccrualEngine
	Redemption *economy.RedemptionEngine
	Exemptions *economy.ExemptionManager
	Clock      economy.Clock

	// OnExpiry is the shield/enforcement collaborator's callback,
	// attached to every window this handler starts.
	OnExpiry economy.ExpiryCallback

	Log zerolog.Logger
}

// =============================================================================
// SESSION HANDLERS
// =============================================================================

func (h *Handler) StartSession(w http.ResponseWriter, r *http.Request) {
	childID := economy.ChildID(chi.URLParam(r, "id"))
	var req SessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}

	s := h.Accrual.StartSession(childID, economy.AppID(req.AppID), h.at(req.At))
	writeJSON(w, http.StatusCreated, toSessionDTO(s))
}

func (h *Handler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	childID := economy.ChildID(chi.URLParam(r, "id"))
	var req SessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}

	s, ok := h.Accrual.ActiveSession(childID, economy.AppID(req.AppID))
	if !ok {
		writeError(w, http.StatusNotFound, "no_active_session", "no active session for child/app")
		return
	}
	s = h.Accrual.UpdateActivity(s, h.at(req.At))
	writeJSON(w, http.StatusOK, toSessionDTO(s))
}

func (h *Handler) EndSession(w http.ResponseWriter, r *http.Request) {
	childID := economy.ChildID(chi.URLParam(r, "id"))
	var req SessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	if req.Config == nil {
		writeError(w, http.StatusBadRequest, "missing_config", "points configuration is required to end a session")
		return
	}

	s, ok := h.Accrual.ActiveSession(childID, economy.AppID(req.AppID))
	if !ok {
		writeError(w, http.StatusNotFound, "no_active_session", "no active session for child/app")
		return
	}

	ended, earned := h.Accrual.EndSession(r.Context(), s, req.Config.toConfig(), h.at(req.At))
	writeJSON(w, http.StatusOK, EndSessionResponse{
		Session:      toSessionDTO(ended),
		PointsEarned: earned,
	})
}

func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	childID := economy.ChildID(chi.URLParam(r, "id"))
	appID := economy.AppID(r.URL.Query().Get("app_id"))

	s, ok := h.Accrual.ActiveSession(childID, appID)
	if !ok {
		writeError(w, http.StatusNotFound, "no_active_session", "no active session for child/app")
		return
	}
	writeJSON(w, http.StatusOK, toSessionDTO(s))
}

// =============================================================================
// BALANCE / LEDGER HANDLERS
// =============================================================================

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	childID := economy.ChildID(chi.URLParam(r, "id"))

	total := h.Ledger.Balance(childID)
	perApp := h.Ledger.Balances(childID)

	unattributed := total
	dto := BalanceDTO{
		ChildID: string(childID),
		Total:   total,
		PerApp:  make(map[string]int, len(perApp)),
		AsOf:    h.Clock.Now().Format(time.RFC3339Nano),
	}
	for app, b := range perApp {
		dto.PerApp[string(app)] = b
		unattributed -= b
	}
	dto.Unattributed = unattributed

	writeJSON(w, http.StatusOK, dto)
}

func (h *Handler) GetTodayPoints(w http.ResponseWriter, r *http.Request) {
	childID := economy.ChildID(chi.URLParam(r, "id"))
	appID := economy.AppID(r.URL.Query().Get("app_id"))
	now := h.Clock.Now()

	var points int
	if appID != "" {
		points = h.Accrual.TodayPointsForApp(childID, appID, now)
	} else {
		points = h.Accrual.TodayPoints(childID, now)
	}
	writeJSON(w, http.StatusOK, TodayPointsDTO{
		ChildID: string(childID),
		AppID:   string(appID),
		Points:  points,
		Day:     now.Format("2006-01-02"),
	})
}

func (h *Handler) GetEntries(w http.ResponseWriter, r *http.Request) {
	childID := economy.ChildID(chi.URLParam(r, "id"))
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, toEntryDTOs(h.Ledger.Entries(childID, limit)))
}

func (h *Handler) GetEntriesInRange(w http.ResponseWriter, r *http.Request) {
	childID := economy.ChildID(chi.URLParam(r, "id"))
	from, err := time.Parse(time.RFC3339, r.URL.Query().Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_from", "from must be RFC3339")
		return
	}
	to, err := time.Parse(time.RFC3339, r.URL.Query().Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_to", "to must be RFC3339")
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTOs(h.Ledger.EntriesInRange(childID, from, to)))
}

// =============================================================================
// REDEMPTION HANDLERS
// =============================================================================

func (h *Handler) CheckRedeem(w http.ResponseWriter, r *http.Request) {
	childID := economy.ChildID(chi.URLParam(r, "id"))
	var req RedeemRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}

	balance, err := h.Redemption.CanRedeem(childID, req.Points, req.Config.toConfig(), economy.AppID(req.SourceAppID))
	resp := RedeemCheckResponse{Allowed: err == nil, Balance: balance}
	if err != nil {
		resp.Reason = redemptionCode(err)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	childID := economy.ChildID(chi.URLParam(r, "id"))
	var req RedeemRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}

	policy := economy.StackingPolicy(req.StackingPolicy)
	if policy == "" {
		policy = economy.StackingReplace
	}
	if !h.Exemptions.CanStartExemption(childID, policy) {
		writeError(w, http.StatusConflict, "window_active", "an exemption window is already active (block policy)")
		return
	}

	window, err := h.Redemption.Redeem(r.Context(), economy.RedeemRequest{
		ChildID:   childID,
		Points:    req.Points,
		Config:    req.Config.toConfig(),
		SourceApp: economy.AppID(req.SourceAppID),
		RewardApp: economy.AppID(req.RewardAppID),
	})
	if err != nil {
		writeRedemptionError(w, err)
		return
	}

	h.Exemptions.StartExemption(r.Context(), window, h.OnExpiry)
	writeJSON(w, http.StatusCreated, toWindowDTO(window, h.Clock.Now()))
}

// =============================================================================
// EXEMPTION HANDLERS
// =============================================================================

func (h *Handler) GetExemption(w http.ResponseWriter, r *http.Request) {
	childID := economy.ChildID(chi.URLParam(r, "id"))
	window := h.Exemptions.ActiveWindow(childID)
	if window == nil {
		writeError(w, http.StatusNotFound, "no_active_window", "no active exemption window")
		return
	}
	writeJSON(w, http.StatusOK, toWindowDTO(*window, h.Clock.Now()))
}

func (h *Handler) ExtendExemption(w http.ResponseWriter, r *http.Request) {
	childID := economy.ChildID(chi.URLParam(r, "id"))
	var req ExtendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}

	window := h.Exemptions.ExtendExemption(r.Context(), childID,
		time.Duration(req.AdditionalSeconds)*time.Second, req.MaxTotalMinutes)
	if window == nil {
		writeError(w, http.StatusNotFound, "no_active_window", "no active exemption window to extend")
		return
	}
	writeJSON(w, http.StatusOK, toWindowDTO(*window, h.Clock.Now()))
}

func (h *Handler) CancelExemption(w http.ResponseWriter, r *http.Request) {
	childID := economy.ChildID(chi.URLParam(r, "id"))
	h.Exemptions.CancelExemption(r.Context(), childID)
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

func (h *Handler) CreateAdjustment(w http.ResponseWriter, r *http.Request) {
	var req AdjustmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	if req.ChildID == "" || req.Reason == "" {
		writeError(w, http.StatusBadRequest, "missing_fields", "child_id and reason are required")
		return
	}

	e := h.Ledger.RecordAdjustment(r.Context(), economy.ChildID(req.ChildID),
		economy.AppID(req.AppID), req.Points, h.Clock.Now(), req.Reason)
	writeJSON(w, http.StatusCreated, toEntryDTO(e))
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) at(t *time.Time) time.Time {
	if t != nil {
		return *t
	}
	return h.Clock.Now()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg, Code: code})
}

func writeRedemptionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, economy.ErrChildNotFound):
		writeError(w, http.StatusNotFound, redemptionCode(err), err.Error())
	case errors.Is(err, economy.ErrInsufficientBalance):
		writeError(w, http.StatusConflict, redemptionCode(err), err.Error())
	case economy.IsRedemptionRejected(err):
		writeError(w, http.StatusBadRequest, redemptionCode(err), err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}

func redemptionCode(err error) string {
	switch {
	case errors.Is(err, economy.ErrBelowMinimum):
		return "below_minimum"
	case errors.Is(err, economy.ErrAboveMaximum):
		return "above_maximum"
	case errors.Is(err, economy.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, economy.ErrChildNotFound):
		return "child_not_found"
	default:
		return "internal"
	}
}
