/*
errors.go - Centralized error types for the points economy

PURPOSE:
  All error types in one place for consistency and discoverability.
  The redemption taxonomy is deliberately small: every error here is
  recoverable and surfaced to the caller to display/retry with
  different input.

ERROR CATEGORIES:
  1. Redemption validation - business rule violations
  2. Store errors - persistence-level failures (absorbed by callers)

USAGE:
    if errors.Is(err, economy.ErrInsufficientBalance) {
        // show "not enough points" and the current balance
    }
*/
package economy

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrBelowMinimum is returned when a spend is smaller than the
	// configured minimum redemption size.
	ErrBelowMinimum = errors.New("redemption below minimum")

	// ErrAboveMaximum is returned when a spend exceeds the configured
	// maximum redemption size.
	ErrAboveMaximum = errors.New("redemption above maximum")

	// ErrInsufficientBalance is returned when a spend exceeds the
	// available balance.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrChildNotFound is returned when redeeming for a child with no
	// ledger history at all. Treated as a no-op failure.
	ErrChildNotFound = errors.New("child not found")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientBalanceError reports a balance shortage with details.
type InsufficientBalanceError struct {
	ChildID   ChildID
	AppID     AppID // empty when the total balance was checked
	Available int
	Requested int
}

func (e *InsufficientBalanceError) Error() string {
	if e.AppID != "" {
		return fmt.Sprintf("insufficient balance for %s/%s: available %d, requested %d",
			e.ChildID, e.AppID, e.Available, e.Requested)
	}
	return fmt.Sprintf("insufficient balance for %s: available %d, requested %d",
		e.ChildID, e.Available, e.Requested)
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRedemptionRejected reports whether the error is one of the
// recoverable redemption-validation failures.
func IsRedemptionRejected(err error) bool {
	return errors.Is(err, ErrBelowMinimum) ||
		errors.Is(err, ErrAboveMaximum) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrChildNotFound)
}
