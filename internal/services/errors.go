// internal/services/errors.go
package services

import (
	"errors"
	"fmt"
)

var (
	ErrAccessDenied           = errors.New("access denied")
	ErrNotFound               = errors.New("not found")
	ErrAlreadyExists          = errors.New("already exists")
	ErrAlreadySubmitted       = errors.New("proof already submitted")
	ErrConcurrentModification = errors.New("concurrent modification")
	ErrValidationFailed       = errors.New("validation failed")
	ErrInsufficientBalance    = errors.New("insufficient balance")
	ErrSupplyExceeded         = errors.New("max supply exceeded")
	ErrDuplicateVote          = errors.New("duplicate vote")
	ErrUnknownValidator       = errors.New("unknown validator")
	ErrComplianceNotApproved  = errors.New("compliance not approved")
	ErrDatasetInactive        = errors.New("dataset inactive")
	ErrInvalidSignature       = errors.New("invalid signature")
	ErrProofFinalized         = errors.New("proof already finalized")
	ErrProofExpired           = errors.New("proof expired")
	ErrInvalidCredentials     = errors.New("invalid credentials")
)

// InputError wraps a struct validation failure. It matches ErrValidationFailed
// and unwraps to the validator's field errors.
type InputError struct {
	cause error
}

func (e *InputError) Error() string { return "validation failed: " + e.cause.Error() }

func (e *InputError) Is(target error) bool { return target == ErrValidationFailed }

func (e *InputError) Unwrap() error { return e.cause }

func invalid(err error) error {
	return &InputError{cause: err}
}

func invalidf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidationFailed, fmt.Sprintf(format, args...))
}

func notFound(what string, id interface{}) error {
	return fmt.Errorf("%w: %s %v", ErrNotFound, what, id)
}

func accessDenied(reason string) error {
	return fmt.Errorf("%w: %s", ErrAccessDenied, reason)
}

// ErrorCode names the error category for API responses and per-item
// results.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAccessDenied):
		return "ACCESS_DENIED"
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrAlreadySubmitted):
		return "ALREADY_SUBMITTED"
	case errors.Is(err, ErrAlreadyExists):
		return "ALREADY_EXISTS"
	case errors.Is(err, ErrConcurrentModification):
		return "CONCURRENT_MODIFICATION"
	case errors.Is(err, ErrInsufficientBalance):
		return "INSUFFICIENT_BALANCE"
	case errors.Is(err, ErrSupplyExceeded):
		return "SUPPLY_EXCEEDED"
	case errors.Is(err, ErrDuplicateVote):
		return "DUPLICATE_VOTE"
	case errors.Is(err, ErrUnknownValidator):
		return "UNKNOWN_VALIDATOR"
	case errors.Is(err, ErrComplianceNotApproved):
		return "COMPLIANCE_NOT_APPROVED"
	case errors.Is(err, ErrDatasetInactive):
		return "DATASET_INACTIVE"
	case errors.Is(err, ErrInvalidSignature):
		return "INVALID_SIGNATURE"
	case errors.Is(err, ErrProofFinalized):
		return "PROOF_FINALIZED"
	case errors.Is(err, ErrProofExpired):
		return "PROOF_EXPIRED"
	case errors.Is(err, ErrInvalidCredentials):
		return "INVALID_CREDENTIALS"
	case errors.Is(err, ErrValidationFailed):
		return "VALIDATION_FAILED"
	}
	return "INTERNAL_ERROR"
}
