/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  JSON structures for API communication, decoupling the internal domain
  model from the external contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Done in handlers; DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/warp/points-engine/economy"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// PointsConfigDTO carries the accrual configuration the settings
// collaborator supplies per child/app.
type PointsConfigDTO struct {
	PointsPerMinute    int     `json:"points_per_minute"`
	DailyCapPoints     int     `json:"daily_cap_points"`
	IdleTimeoutSeconds float64 `json:"idle_timeout_seconds"`
}

func (c PointsConfigDTO) toConfig() economy.PointsConfiguration {
	return economy.PointsConfiguration{
		PointsPerMinute: c.PointsPerMinute,
		DailyCapPoints:  c.DailyCapPoints,
		IdleTimeout:     time.Duration(c.IdleTimeoutSeconds * float64(time.Second)),
	}
}

// RedemptionConfigDTO carries the redemption configuration.
type RedemptionConfigDTO struct {
	PointsPerMinute     int `json:"points_per_minute"`
	MinRedemptionPoints int `json:"min_redemption_points"`
	MaxRedemptionPoints int `json:"max_redemption_points"`
	MaxTotalMinutes     int `json:"max_total_minutes"`
}

func (c RedemptionConfigDTO) toConfig() economy.RedemptionConfiguration {
	return economy.RedemptionConfiguration(c)
}

// SessionRequest drives start/heartbeat/end. At is optional; the
// server clock is used when absent.
type SessionRequest struct {
	AppID  string           `json:"app_id,omitempty"`
	At     *time.Time       `json:"at,omitempty"`
	Config *PointsConfigDTO `json:"config,omitempty"` // required for end
}

// RedeemRequestDTO is the request to spend points.
type RedeemRequestDTO struct {
	Points         int                 `json:"points"`
	Config         RedemptionConfigDTO `json:"config"`
	SourceAppID    string              `json:"source_app_id,omitempty"`
	RewardAppID    string              `json:"reward_app_id,omitempty"`
	StackingPolicy string              `json:"stacking_policy,omitempty"` // default: replace
}

// ExtendRequest grows the active exemption window.
type ExtendRequest struct {
	AdditionalSeconds int `json:"additional_seconds"`
	MaxTotalMinutes   int `json:"max_total_minutes"`
}

// AdjustmentRequest is an admin correction with an audit reason.
type AdjustmentRequest struct {
	ChildID string `json:"child_id"`
	AppID   string `json:"app_id,omitempty"`
	Points  int    `json:"points"`
	Reason  string `json:"reason"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// SessionDTO represents a usage session.
type SessionDTO struct {
	ChildID      string  `json:"child_id"`
	AppID        string  `json:"app_id,omitempty"`
	Start        string  `json:"start"`
	End          *string `json:"end,omitempty"`
	LastActivity string  `json:"last_activity"`
}

// EndSessionResponse reports what an ended session earned.
type EndSessionResponse struct {
	Session      SessionDTO `json:"session"`
	PointsEarned int        `json:"points_earned"`
}

// BalanceDTO is the full balance picture for a child.
type BalanceDTO struct {
	ChildID      string         `json:"child_id"`
	Total        int            `json:"total"`
	PerApp       map[string]int `json:"per_app"`
	Unattributed int            `json:"unattributed"`
	AsOf         string         `json:"as_of"`
}

// EntryDTO represents a ledger entry.
type EntryDTO struct {
	ID        string `json:"id"`
	ChildID   string `json:"child_id"`
	AppID     string `json:"app_id,omitempty"`
	Type      string `json:"type"`
	Amount    int    `json:"amount"`
	Timestamp string `json:"timestamp"`
}

// WindowDTO represents an earned-time window.
type WindowDTO struct {
	ID               string `json:"id"`
	ChildID          string `json:"child_id"`
	DurationSeconds  int    `json:"duration_seconds"`
	Start            string `json:"start"`
	End              string `json:"end"`
	RemainingSeconds int    `json:"remaining_seconds"`
}

// RedeemCheckResponse is the dry-run validation result.
type RedeemCheckResponse struct {
	Allowed bool   `json:"allowed"`
	Balance int    `json:"balance"`
	Reason  string `json:"reason,omitempty"`
}

// TodayPointsDTO reports the day-keyed accrual accumulator.
type TodayPointsDTO struct {
	ChildID string `json:"child_id"`
	AppID   string `json:"app_id,omitempty"`
	Points  int    `json:"points"`
	Day     string `json:"day"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toSessionDTO(s economy.UsageSession) SessionDTO {
	dto := SessionDTO{
		ChildID:      string(s.ChildID),
		AppID:        string(s.AppID),
		Start:        s.Start.Format(time.RFC3339Nano),
		LastActivity: s.LastActivity.Format(time.RFC3339Nano),
	}
	if s.Ended() {
		end := s.End.Format(time.RFC3339Nano)
		dto.End = &end
	}
	return dto
}

func toEntryDTO(e economy.LedgerEntry) EntryDTO {
	return EntryDTO{
		ID:        string(e.ID),
		ChildID:   string(e.ChildID),
		AppID:     string(e.AppID),
		Type:      string(e.Type),
		Amount:    e.Amount,
		Timestamp: e.Timestamp.Format(time.RFC3339Nano),
	}
}

func toEntryDTOs(es []economy.LedgerEntry) []EntryDTO {
	dtos := make([]EntryDTO, len(es))
	for i, e := range es {
		dtos[i] = toEntryDTO(e)
	}
	return dtos
}

func toWindowDTO(w economy.EarnedTimeWindow, now time.Time) WindowDTO {
	return WindowDTO{
		ID:               string(w.ID),
		ChildID:          string(w.ChildID),
		DurationSeconds:  int(w.Duration / time.Second),
		Start:            w.Start.Format(time.RFC3339Nano),
		End:              w.EndTime().Format(time.RFC3339Nano),
		RemainingSeconds: int(w.Remaining(now) / time.Second),
	}
}
