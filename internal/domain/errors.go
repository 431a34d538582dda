// Package domain holds the core trading types shared by the backtest
// and live execution paths: bars, signals, intents, orders, fills and
// positions. All monetary and size fields use decimal arithmetic.
package domain

import (
	"errors"
	"fmt"
)

// Error taxonomy. Every failure in the signal -> intent -> order -> fill
// pipeline maps onto exactly one of these roots so callers can branch
// with errors.Is.
var (
	// ErrValidation marks a malformed intent or bar. Rejected locally,
	// never reaches a broker.
	ErrValidation = errors.New("validation error")

	// ErrRiskRejected marks a risk-engine rejection. Always carries a
	// reason code and is recorded in the ledger.
	ErrRiskRejected = errors.New("risk rejected")

	// ErrInvalidTransition marks an order state-machine misuse. This is
	// an integration bug: it fails the specific order and is logged as
	// an error, never silently ignored.
	ErrInvalidTransition = errors.New("invalid order state transition")

	// ErrBroker marks a network/auth/rate-limit failure from the live
	// broker client. The order is marked SUBMIT_FAILED and never
	// retried automatically.
	ErrBroker = errors.New("broker error")

	// ErrStrategy marks a failure inside a strategy. It disables that
	// symbol/strategy pair for the rest of the run.
	ErrStrategy = errors.New("strategy error")

	// ErrDuplicateIntent marks a resubmission of an intent_id already
	// submitted within the dedup window.
	ErrDuplicateIntent = errors.New("duplicate intent")
)

// RiskRejection is the typed rejection returned by the risk engine.
type RiskRejection struct {
	ReasonCode string
	Detail     string
}

func (r *RiskRejection) Error() string {
	if r.Detail == "" {
		return fmt.Sprintf("risk rejected: %s", r.ReasonCode)
	}
	return fmt.Sprintf("risk rejected: %s (%s)", r.ReasonCode, r.Detail)
}

func (r *RiskRejection) Unwrap() error { return ErrRiskRejected }
