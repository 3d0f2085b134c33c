package types

import "net/http"

// Error codes for the settlement core. Each code maps to exactly one HTTP
// status; handlers detect and return these without persistence side effects.
const (
	ErrNotFound              = "NOT_FOUND"
	ErrValidation            = "VALIDATION_ERROR"
	ErrInvalidState          = "INVALID_STATE"
	ErrTreasuryNotConfigured = "TREASURY_NOT_CONFIGURED"
	ErrAdmissionRejected     = "ADMISSION_REJECTED"
	ErrInternal              = "INTERNAL_ERROR"
)

// SettleError is a coded error surfaced to HTTP callers.
type SettleError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *SettleError) Error() string {
	return e.Message
}

// HTTPStatus maps the error code to its response status.
func (e *SettleError) HTTPStatus() int {
	switch e.Code {
	case ErrNotFound:
		return http.StatusNotFound
	case ErrValidation, ErrInvalidState:
		return http.StatusBadRequest
	case ErrTreasuryNotConfigured:
		return http.StatusServiceUnavailable
	case ErrAdmissionRejected:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// NewNotFound reports a missing resource.
func NewNotFound(msg string) *SettleError {
	return &SettleError{Code: ErrNotFound, Message: msg}
}

// NewValidation reports malformed caller input.
func NewValidation(msg string) *SettleError {
	return &SettleError{Code: ErrValidation, Message: msg}
}

// NewInvalidState reports an operation that the resource's current state
// does not permit.
func NewInvalidState(msg string) *SettleError {
	return &SettleError{Code: ErrInvalidState, Message: msg}
}

// NewTreasuryNotConfigured reports that the platform treasury recipient is
// required but absent from the environment.
func NewTreasuryNotConfigured() *SettleError {
	return &SettleError{Code: ErrTreasuryNotConfigured, Message: "platform treasury not configured"}
}

// NewInternal wraps an unexpected failure. The message is caller-safe; the
// underlying cause is logged, never returned.
func NewInternal() *SettleError {
	return &SettleError{Code: ErrInternal, Message: "internal server error"}
}
