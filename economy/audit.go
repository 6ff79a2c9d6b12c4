/*
audit.go - Audit side-channel for sensitive ledger actions

PURPOSE:
  Redemptions and adjustments are parent-visible money movements, so
  they get an audit record; routine accruals do not. The audit trail is
  a structured-log side-channel, not part of the ledger itself - the
  adjustment reason in particular lives here and never in an entry.
*/
package economy

import "github.com/rs/zerolog"

// Auditor records sensitive ledger actions.
type Auditor interface {
	Redemption(e LedgerEntry)
	Adjustment(e LedgerEntry, reason string)
}

// LogAuditor writes audit records through zerolog.
type LogAuditor struct {
	Log zerolog.Logger
}

func NewLogAuditor(log zerolog.Logger) *LogAuditor {
	return &LogAuditor{Log: log.With().Str("component", "audit").Logger()}
}

func (a *LogAuditor) Redemption(e LedgerEntry) {
	a.Log.Info().
		Str("action", "redemption").
		Str("child_id", string(e.ChildID)).
		Str("app_id", string(e.AppID)).
		Int("amount", e.Amount).
		Time("at", e.Timestamp).
		Msg("points redeemed")
}

func (a *LogAuditor) Adjustment(e LedgerEntry, reason string) {
	a.Log.Info().
		Str("action", "adjustment").
		Str("child_id", string(e.ChildID)).
		Str("app_id", string(e.AppID)).
		Int("amount", e.Amount).
		Str("reason", reason).
		Time("at", e.Timestamp).
		Msg("balance adjusted")
}

// NopAuditor discards audit records. Used in tests.
type NopAuditor struct{}

func (NopAuditor) Redemption(LedgerEntry)         {}
func (NopAuditor) Adjustment(LedgerEntry, string) {}
