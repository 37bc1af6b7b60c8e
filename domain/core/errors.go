package core

import (
	"errors"
	"fmt"
)

// Domain errors - centralized error definitions
var (
	// Not found errors
	ErrNotFound          = errors.New("resource not found")
	ErrArtifactNotFound  = fmt.Errorf("%w: artifact", ErrNotFound)
	ErrDocumentNotFound  = fmt.Errorf("%w: corpus document", ErrNotFound)
	ErrFrameworkNotFound = fmt.Errorf("%w: framework", ErrNotFound)
	ErrIndexNotFound     = fmt.Errorf("%w: knowledge index", ErrNotFound)

	// Storage errors
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrIntegrityViolation = errors.New("integrity violation: stored bytes no longer hash to their id")

	// Gateway errors
	ErrBudgetExceeded       = errors.New("cost budget exceeded")
	ErrProviderUnavailable  = errors.New("provider unavailable")
	ErrRateLimited          = errors.New("rate limited by provider")
	ErrSafetyFilterBlocked  = errors.New("safety filter blocked the request")
	ErrParseFailure         = errors.New("structured output unreadable")
	ErrTransientNetwork     = errors.New("transient network failure")
	ErrExtractionFailed     = errors.New("extraction failed")
	ErrUnboundSlot          = errors.New("prompt slot unbound")
	ErrSchemaValidation     = errors.New("tool-call arguments violate schema")
	ErrEmptyResponse        = errors.New("provider returned empty response")
	ErrUnsupportedProvider  = errors.New("unsupported provider")
	ErrMissingCredentials   = errors.New("missing provider credentials")

	// Pipeline errors
	ErrVerificationFailed     = errors.New("verification failed")
	ErrTransactionIntegrity   = errors.New("transaction integrity violation")
	ErrHallucinationDetected  = errors.New("synthesized quote not found in corpus")
	ErrInsufficientSample     = errors.New("insufficient sample for analysis")
	ErrRunAborted             = errors.New("experiment run aborted")
)

// Error constructors with context
func NewNotFoundError(resource string, id string) error {
	return fmt.Errorf("%w: %s with id %s", ErrNotFound, resource, id)
}

func NewIntegrityError(id Hash, actual Hash) error {
	return fmt.Errorf("%w: artifact %s hashes to %s", ErrIntegrityViolation, id.Short(), actual.Short())
}

func NewVerificationError(analysisHash Hash, reason string) error {
	return fmt.Errorf("%w for analysis %s: %s", ErrVerificationFailed, analysisHash.Short(), reason)
}

func NewBudgetError(accumulated, estimate, limit float64) error {
	return fmt.Errorf("%w: accumulated $%.4f + estimate $%.4f > daily limit $%.2f",
		ErrBudgetExceeded, accumulated, estimate, limit)
}

// Error checking helpers
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransientNetwork) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrProviderUnavailable) ||
		errors.Is(err, ErrStorageUnavailable)
}

func IsFatal(err error) bool {
	return errors.Is(err, ErrBudgetExceeded) ||
		errors.Is(err, ErrVerificationFailed) ||
		errors.Is(err, ErrTransactionIntegrity) ||
		errors.Is(err, ErrIntegrityViolation)
}
