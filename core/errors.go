package core

import (
	"errors"
	"fmt"
)

var (
	// ErrQuotaExceeded marks a hard provider-quota rejection. It is the only
	// provider failure surfaced to the conversation layer ("retry later").
	ErrQuotaExceeded = errors.New("provider quota exceeded")

	// ErrCapabilityUnsupported marks a provider rejecting request options the
	// selected model does not support (for example reasoning controls).
	ErrCapabilityUnsupported = errors.New("capability unsupported")

	// ErrModelAccessDenied marks a model that does not exist or is not
	// accessible with the current credentials.
	ErrModelAccessDenied = errors.New("model access denied")

	// ErrValidation marks provider output that does not match the expected shape.
	ErrValidation = errors.New("invalid provider output")
)

// QuotaCodeDailyTokens is the rejection code for an exhausted daily token budget.
const QuotaCodeDailyTokens = "daily_token_limit_exceeded"

// QuotaError is the typed hard rejection produced by the admission controller.
type QuotaError struct {
	Code      string `json:"code"`
	Estimated int    `json:"estimated"`
	Remaining int    `json:"remaining"`
}

// Error implements the error interface.
func (e *QuotaError) Error() string {
	return fmt.Sprintf("%s: estimated %d tokens, %d remaining", e.Code, e.Estimated, e.Remaining)
}

// Is reports whether target is ErrQuotaExceeded.
func (e *QuotaError) Is(target error) bool { return target == ErrQuotaExceeded }

// ShapeError describes why provider text could not be turned into the
// expected structure.
type ShapeError struct {
	Kind   string // "turn" or "interaction"
	Reason string
}

// Error implements the error interface.
func (e *ShapeError) Error() string {
	return fmt.Sprintf("invalid %s payload: %s", e.Kind, e.Reason)
}

// Is reports whether target is ErrValidation.
func (e *ShapeError) Is(target error) bool { return target == ErrValidation }
