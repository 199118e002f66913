package domain

import "errors"

var (
	// ErrNotFound is returned when the requested resource does not exist.
	// Keeping this sentinel in domain allows adapters to map it consistently to 404/NOT_FOUND.
	ErrNotFound = errors.New("resource not found")
	// ErrTrialExhausted signals the fingerprint has spent its full action budget.
	// It is distinct from rate limiting so clients can prompt for sign-up instead of backing off.
	ErrTrialExhausted = errors.New("trial exhausted")
	// ErrRateLimited signals too many metered actions inside the trailing window.
	ErrRateLimited = errors.New("rate limited")
	// ErrBlockedDevice signals the fingerprint is inside an active block window.
	ErrBlockedDevice = errors.New("device blocked")
	// ErrInvalidFingerprint covers malformed or too-short fingerprints.
	// Low confidence alone does not raise this; soft keys stay usable under stricter limits.
	ErrInvalidFingerprint = errors.New("invalid fingerprint")
	ErrValidationFailed   = errors.New("validation failed")
	// ErrStorage wraps backing-store failures surfaced as generic 500s after logging.
	ErrStorage = errors.New("storage error")

	// ErrSessionExpired is never fatal; it always drives a controlled re-authentication.
	ErrSessionExpired   = errors.New("session expired")
	ErrSessionRevoked   = errors.New("session revoked")
	ErrSession          = errors.New("session error")
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrForbidden        = errors.New("forbidden")
	ErrInvalidInput     = errors.New("invalid input")
	// ErrIdempotencyConflict marks a replayed mutation whose payload changed.
	ErrIdempotencyConflict = errors.New("idempotency conflict")
)

// Wire error codes. The fingerprint-client codes at the bottom are produced by
// browsers and only pass through this service inside event context.
const (
	CodeTrialExhausted      = "TRIAL_EXHAUSTED"
	CodeRateLimited         = "RATE_LIMITED"
	CodeInvalidFingerprint  = "INVALID_FINGERPRINT"
	CodeBlockedDevice       = "BLOCKED_DEVICE"
	CodeValidationFailed    = "VALIDATION_FAILED"
	CodeStorageError        = "STORAGE_ERROR"
	CodeSessionExpired      = "SESSION_EXPIRED"
	CodeSessionError        = "SESSION_ERROR"
	CodeNotAuthenticated    = "NOT_AUTHENTICATED"
	CodeForbidden           = "FORBIDDEN"
	CodeGenerationFailed    = "GENERATION_FAILED"
	CodeTimeoutError        = "TIMEOUT_ERROR"
	CodeBrowserNotSupported = "BROWSER_NOT_SUPPORTED"
)

// IsRetryable reports whether a caller may safely retry the failed operation.
// The trial decrement is excluded by policy even on storage errors, so callers
// must check the operation, not only the sentinel.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStorage)
}
