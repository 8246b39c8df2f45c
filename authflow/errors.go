package authflow

import (
	"errors"
	"fmt"
)

// FailureReason is the coarse outcome attached to a failed login attempt.
// Values double as the error codes surfaced to the login page.
type FailureReason string

const (
	// ReasonInvalidCallback covers callbacks rejected before any network
	// call: missing parameters, no in-flight attempt, or a state mismatch.
	ReasonInvalidCallback FailureReason = "invalid_callback"

	// ReasonAuthFailed covers failures after validation: the token exchange
	// or the identity lookup did not succeed.
	ReasonAuthFailed FailureReason = "auth_failed"
)

// ErrCallbackInFlight is returned when HandleCallback is invoked while a
// previous invocation on the same controller is still running.
var ErrCallbackInFlight = errors.New("authflow: callback already being handled")

// ConfigError reports a missing or unusable configuration field, detected
// when the flow first needs it rather than at startup.
type ConfigError struct {
	Field string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("authflow: missing configuration: %s", e.Field)
}

// ValidationError reports a callback rejected during validation. It always
// maps to ReasonInvalidCallback.
type ValidationError struct {
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("authflow: invalid callback: %s", e.Detail)
}
