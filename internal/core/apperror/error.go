// Package apperror provides structured error handling following RFC 7807 Problem Details.
// Every posting outcome other than success is an AppError carrying one of the codes below.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes of the posting taxonomy.
const (
	// Infrastructure errors (5xx)
	CodeInternal              = "INTERNAL_ERROR"
	CodeConnectionUnavailable = "CONNECTION_UNAVAILABLE"
	CodeLedgerBusy            = "LEDGER_BUSY"

	// Validation errors (400)
	CodeValidation = "VALIDATION_ERROR"

	// Posting outcomes
	CodeIdentityAlreadyClaimed   = "IDENTITY_ALREADY_CLAIMED"
	CodeAlreadyPosted            = "ALREADY_POSTED"
	CodeNumberingConflict        = "NUMBERING_CONFLICT"
	CodeCriticalNumberingFailure = "CRITICAL_NUMBERING_FAILURE"
	CodeWriteStepFailure         = "WRITE_STEP_FAILURE"
	CodePostCommitMetadataDrift  = "POST_COMMIT_METADATA_DRIFT"
	CodePipelineHalted           = "PIPELINE_HALTED"

	// Authorization errors (401, 403)
	CodeUnauthorized = "UNAUTHORIZED"
	CodeForbidden    = "FORBIDDEN"

	// Not found (404)
	CodeNotFound = "NOT_FOUND"
)

// Metadata describes how callers should react to a code.
type Metadata struct {
	HTTPStatus int
	// Retryable means "skip this invoice now, try again later".
	Retryable bool
	// Fatal means the surrounding pipeline must stop.
	Fatal bool
}

var registry = map[string]Metadata{
	CodeInternal:                 {HTTPStatus: http.StatusInternalServerError},
	CodeConnectionUnavailable:    {HTTPStatus: http.StatusServiceUnavailable, Retryable: true},
	CodeLedgerBusy:               {HTTPStatus: http.StatusServiceUnavailable, Retryable: true},
	CodeValidation:               {HTTPStatus: http.StatusBadRequest},
	CodeIdentityAlreadyClaimed:   {HTTPStatus: http.StatusConflict, Retryable: true},
	CodeAlreadyPosted:            {HTTPStatus: http.StatusConflict},
	CodeNumberingConflict:        {HTTPStatus: http.StatusConflict, Retryable: true},
	CodeCriticalNumberingFailure: {HTTPStatus: http.StatusInternalServerError, Fatal: true},
	CodeWriteStepFailure:         {HTTPStatus: http.StatusUnprocessableEntity},
	CodePostCommitMetadataDrift:  {HTTPStatus: http.StatusOK},
	CodePipelineHalted:           {HTTPStatus: http.StatusServiceUnavailable, Fatal: true},
	CodeUnauthorized:             {HTTPStatus: http.StatusUnauthorized},
	CodeForbidden:                {HTTPStatus: http.StatusForbidden},
	CodeNotFound:                 {HTTPStatus: http.StatusNotFound},
}

// Lookup returns metadata registered for code.
func Lookup(code string) (Metadata, bool) {
	m, ok := registry[code]
	return m, ok
}

// AppError is the standard error type for the platform.
// It implements error interface and provides structured details for API responses.
type AppError struct {
	// Code is a machine-readable error identifier
	Code string `json:"code"`

	// Message is a human-readable error description
	Message string `json:"message"`

	// Details contains additional context (identity, step, line index, etc.)
	Details map[string]any `json:"details,omitempty"`

	// HTTPStatus is the suggested HTTP status code
	HTTPStatus int `json:"-"`

	// Err is the underlying error (not exposed in JSON)
	Err error `json:"-"`
}

// Error implements error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetail adds a key-value pair to error details
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithCause sets the underlying error
func (e *AppError) WithCause(err error) *AppError {
	e.Err = err
	return e
}

func newCode(code, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: registry[code].HTTPStatus,
	}
}

// --- Factory functions ---

// NewValidation creates a validation error (400)
func NewValidation(message string) *AppError {
	return newCode(CodeValidation, message)
}

// NewNotFound creates a not found error (404)
func NewNotFound(entity string, id any) *AppError {
	return newCode(CodeNotFound, fmt.Sprintf("%s not found", entity)).
		WithDetail("entity", entity).
		WithDetail("id", id)
}

// NewInternal creates an internal server error (hides details from client)
func NewInternal(err error) *AppError {
	return newCode(CodeInternal, "Internal server error").WithCause(err)
}

// NewUnauthorized creates an authentication error (401)
func NewUnauthorized(message string) *AppError {
	return newCode(CodeUnauthorized, message)
}

// NewForbidden creates an authorization error (403)
func NewForbidden(message string) *AppError {
	return newCode(CodeForbidden, message)
}

// NewConnectionUnavailable is returned when the ledger cannot be reached even after reconnecting.
func NewConnectionUnavailable(err error) *AppError {
	return newCode(CodeConnectionUnavailable, "Ledger connection unavailable").WithCause(err)
}

// NewLedgerBusy is returned when the ledger rejected a statement because of lock
// contention or a deadlock. The connection stays usable.
func NewLedgerBusy(err error) *AppError {
	return newCode(CodeLedgerBusy, "Ledger is busy").WithCause(err)
}

// NewIdentityAlreadyClaimed is returned when another attempt for the same invoice is in flight.
func NewIdentityAlreadyClaimed(key string) *AppError {
	return newCode(CodeIdentityAlreadyClaimed, "Invoice is already being posted").
		WithDetail("identity", key)
}

// NewAlreadyPosted is returned when the ledger already holds the invoice.
func NewAlreadyPosted(key string, ledgerID int64) *AppError {
	return newCode(CodeAlreadyPosted, "Invoice already posted").
		WithDetail("identity", key).
		WithDetail("ledger_id", ledgerID)
}

// NewNumberingConflict reports a rejected or silently dropped candidate number.
func NewNumberingConflict(docType, prefix string, number int64) *AppError {
	return newCode(CodeNumberingConflict, "Candidate number was not accepted").
		WithDetail("document_type", docType).
		WithDetail("prefix", prefix).
		WithDetail("number", number)
}

// NewCriticalNumberingFailure reports allocator retry exhaustion.
func NewCriticalNumberingFailure(docType, prefix string, attempts int) *AppError {
	return newCode(CodeCriticalNumberingFailure, "Consecutive numbering is no longer trustworthy").
		WithDetail("document_type", docType).
		WithDetail("prefix", prefix).
		WithDetail("attempts", attempts)
}

// NewWriteStepFailure reports a failed ledger write inside the posting transaction.
// index is the line or payment position, or -1 when the step is not per-item.
func NewWriteStepFailure(step string, index int, err error) *AppError {
	e := newCode(CodeWriteStepFailure, fmt.Sprintf("Ledger write failed at step %s", step)).
		WithDetail("step", step).
		WithCause(err)
	if index >= 0 {
		e.WithDetail("index", index)
	}
	return e
}

// NewPostCommitMetadataDrift reports metadata fields that stayed null after a retry.
func NewPostCommitMetadataDrift(key string, fields []string) *AppError {
	return newCode(CodePostCommitMetadataDrift, "Post-commit metadata did not persist").
		WithDetail("identity", key).
		WithDetail("fields", fields)
}

// NewPipelineHalted is returned while the circuit breaker is tripped.
func NewPipelineHalted(reason string) *AppError {
	return newCode(CodePipelineHalted, "Posting halted until operator reset").
		WithDetail("reason", reason)
}

// --- Helper functions ---

// IsAppError checks if error is AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// AsAppError extracts AppError from error chain
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// CodeOf returns the code of err, CodeInternal for foreign errors and "" for nil.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code
	}
	return CodeInternal
}

// Is reports whether err carries code.
func Is(err error, code string) bool {
	return err != nil && CodeOf(err) == code
}

// IsRetryable reports whether the caller should skip and try later.
func IsRetryable(err error) bool {
	return registry[CodeOf(err)].Retryable
}

// IsFatal reports whether the pipeline must stop.
func IsFatal(err error) bool {
	return registry[CodeOf(err)].Fatal
}

// GetHTTPStatus returns appropriate HTTP status for any error
func GetHTTPStatus(err error) int {
	if appErr, ok := AsAppError(err); ok && appErr.HTTPStatus != 0 {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}
