package q402gate

import (
	"errors"
	"fmt"
)

// GatewayError is a typed failure surfaced by the gateway. The protocol
// handler maps codes to HTTP statuses; nothing below the handler writes a
// response.
type GatewayError struct {
	Code    string
	Message string
	Cause   error
}

func (e *GatewayError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *GatewayError) Unwrap() error {
	return e.Cause
}

// Error codes.
const (
	// ErrCodeValidation marks a malformed request. Not retryable without
	// fixing the input.
	ErrCodeValidation = "VALIDATION_ERROR"

	// ErrCodeInvalidSignature marks a signature that does not verify over
	// the submitted witness, or a witness diverging from the built action.
	ErrCodeInvalidSignature = "INVALID_SIGNATURE"

	// ErrCodeExpiredChallenge marks a correctly formed witness whose
	// deadline has passed. Clients should request a fresh challenge.
	ErrCodeExpiredChallenge = "EXPIRED_CHALLENGE"

	// Policy violation codes. The action must change or the policy must be
	// updated; resubmitting the same payload cannot succeed.
	ErrCodeCapExceeded        = "CAP_EXCEEDED"
	ErrCodeSpendLimitExceeded = "SPEND_LIMIT_EXCEEDED"
	ErrCodeTargetBlocked      = "TARGET_BLOCKED"
	ErrCodeTargetNotAllowed   = "TARGET_NOT_ALLOWED"

	// ErrCodeReplay marks a payment id that has already been consumed.
	ErrCodeReplay = "REPLAY_DETECTED"

	// ErrCodeUpstream marks an execution backend failure. Safe to retry
	// with a fresh challenge.
	ErrCodeUpstream = "UPSTREAM_ERROR"

	// ErrCodeConfig marks missing or invalid deployment configuration.
	ErrCodeConfig = "CONFIG_ERROR"
)

// NewGatewayError creates a new GatewayError.
func NewGatewayError(code, message string, cause error) *GatewayError {
	return &GatewayError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// AsGatewayError unwraps err into a *GatewayError if possible.
func AsGatewayError(err error) (*GatewayError, bool) {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge, true
	}
	return nil, false
}

// IsPolicyViolation reports whether code is one of the guardrail denial
// codes.
func IsPolicyViolation(code string) bool {
	switch code {
	case ErrCodeCapExceeded, ErrCodeSpendLimitExceeded, ErrCodeTargetBlocked, ErrCodeTargetNotAllowed:
		return true
	}
	return false
}
