// Package errors provides a structured application error type shared by
// every component of the ingestion engine. All §7 error kinds are
// represented as ErrorType constants so that pipeline code can classify
// failures without string matching and the REST façade can map them to
// HTTP status codes consistently.
package errors

import (
	"fmt"
	"net/http"
)

// ErrorType classifies an AppError for retry policy and HTTP mapping.
type ErrorType string

const (
	ErrorTypeValidation         ErrorType = "validation"
	ErrorTypeEnrichment         ErrorType = "enrichment"
	ErrorTypeStateIllegal       ErrorType = "state_illegal_transition"
	ErrorTypeStateConflict      ErrorType = "state_version_conflict"
	ErrorTypeRulesEval          ErrorType = "rules_eval"
	ErrorTypeDeadlock           ErrorType = "deadlock_victim"
	ErrorTypeDuplicateTrade     ErrorType = "duplicate_trade_id"
	ErrorTypeDuplicatePayload   ErrorType = "duplicate_different_payload"
	ErrorTypeRateLimit          ErrorType = "rate_limit_exceeded"
	ErrorTypeLockTimeout        ErrorType = "lock_timeout"
	ErrorTypeBufferedPending    ErrorType = "buffered_pending_sequence"
	ErrorTypeGapTooLarge        ErrorType = "gap_too_large"
	ErrorTypeSequenceTimeout    ErrorType = "sequence_timeout"
	ErrorTypeDependencyDown     ErrorType = "dependency_unavailable"
	ErrorTypeSerialization      ErrorType = "serialization_error"
	ErrorTypePublishFailure     ErrorType = "publish_failure"
	ErrorTypeDatabase           ErrorType = "database"
	ErrorTypeNetwork            ErrorType = "network"
	ErrorTypeAuth               ErrorType = "auth"
	ErrorTypeNotFound           ErrorType = "not_found"
	ErrorTypeConflict           ErrorType = "conflict"
	ErrorTypeInternal           ErrorType = "internal"
	ErrorTypeTimeout            ErrorType = "timeout"
)

// statusByType maps each ErrorType to the HTTP status the REST façade
// returns for it. Kinds with no natural façade exposure fall back to 500.
var statusByType = map[ErrorType]int{
	ErrorTypeValidation:       http.StatusBadRequest,
	ErrorTypeEnrichment:       http.StatusInternalServerError,
	ErrorTypeStateIllegal:     http.StatusConflict,
	ErrorTypeStateConflict:    http.StatusConflict,
	ErrorTypeRulesEval:        http.StatusInternalServerError,
	ErrorTypeDeadlock:         http.StatusServiceUnavailable,
	ErrorTypeDuplicateTrade:   http.StatusConflict,
	ErrorTypeDuplicatePayload: http.StatusConflict,
	ErrorTypeRateLimit:        http.StatusTooManyRequests,
	ErrorTypeLockTimeout:      http.StatusServiceUnavailable,
	ErrorTypeBufferedPending:  http.StatusAccepted,
	ErrorTypeGapTooLarge:      http.StatusBadRequest,
	ErrorTypeSequenceTimeout:  http.StatusBadRequest,
	ErrorTypeDependencyDown:   http.StatusServiceUnavailable,
	ErrorTypeSerialization:    http.StatusInternalServerError,
	ErrorTypePublishFailure:   http.StatusInternalServerError,
	ErrorTypeDatabase:         http.StatusInternalServerError,
	ErrorTypeNetwork:          http.StatusInternalServerError,
	ErrorTypeAuth:             http.StatusUnauthorized,
	ErrorTypeNotFound:         http.StatusNotFound,
	ErrorTypeConflict:         http.StatusConflict,
	ErrorTypeInternal:         http.StatusInternalServerError,
	ErrorTypeTimeout:          http.StatusRequestTimeout,
}

// retryable lists the §7 kinds that are locally retryable.
var retryable = map[ErrorType]bool{
	ErrorTypeStateConflict: true,
	ErrorTypeDeadlock:      true,
	ErrorTypeLockTimeout:   true,
	ErrorTypeDependencyDown: true,
	ErrorTypeNetwork:        true,
	ErrorTypeTimeout:        true,
}

// AppError is the structured error carried through the pipeline.
type AppError struct {
	Type       ErrorType
	Message    string
	StatusCode int
	Details    string
	Cause      error
}

func New(t ErrorType, message string) *AppError {
	return &AppError{
		Type:       t,
		Message:    message,
		StatusCode: statusCodeFor(t),
	}
}

func Newf(t ErrorType, format string, args ...interface{}) *AppError {
	return New(t, fmt.Sprintf(format, args...))
}

func Wrap(cause error, t ErrorType, message string) *AppError {
	return &AppError{
		Type:       t,
		Message:    message,
		StatusCode: statusCodeFor(t),
		Cause:      cause,
	}
}

func Wrapf(cause error, t ErrorType, format string, args ...interface{}) *AppError {
	return Wrap(cause, t, fmt.Sprintf(format, args...))
}

func (e *AppError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Type, e.Message)
	if e.Details != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Details)
	}
	return msg
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

func (e *AppError) WithDetailsf(format string, args ...interface{}) *AppError {
	e.Details = fmt.Sprintf(format, args...)
	return e
}

// Retryable reports whether this error kind is in the §7 locally-retryable
// set (deadlock, version conflict, lock timeout, transient dependency).
func (e *AppError) Retryable() bool {
	return retryable[e.Type]
}

func statusCodeFor(t ErrorType) int {
	if code, ok := statusByType[t]; ok {
		return code
	}
	return http.StatusInternalServerError
}

// --- predefined constructors, mirroring common failure sites ---

func NewValidationError(message string) *AppError {
	return New(ErrorTypeValidation, message)
}

func NewDatabaseError(operation string, cause error) *AppError {
	return Wrapf(cause, ErrorTypeDatabase, "database operation failed: %s", operation)
}

func NewNotFoundError(resource string) *AppError {
	return Newf(ErrorTypeNotFound, "%s not found", resource)
}

func NewAuthError(message string) *AppError {
	return New(ErrorTypeAuth, message)
}

func NewTimeoutError(operation string) *AppError {
	return Newf(ErrorTypeTimeout, "operation timed out: %s", operation)
}

func NewDuplicateTradeError(tradeID string) *AppError {
	return Newf(ErrorTypeDuplicateTrade, "trade %s already processed", tradeID)
}

func NewDuplicatePayloadError(key string) *AppError {
	return Newf(ErrorTypeDuplicatePayload, "idempotency key %s reused with a different payload", key)
}

func NewStateConflictError(partitionKey string) *AppError {
	return Newf(ErrorTypeStateConflict, "partition %s state version conflict", partitionKey)
}

func NewIllegalTransitionError(partitionKey, from, to string) *AppError {
	return Newf(ErrorTypeStateIllegal, "partition %s: illegal transition %s -> %s", partitionKey, from, to)
}

func NewDeadlockError(operation string, cause error) *AppError {
	return Wrapf(cause, ErrorTypeDeadlock, "deadlock victim during: %s", operation)
}

func NewRateLimitError(partitionKey string) *AppError {
	return Newf(ErrorTypeRateLimit, "rate limit exceeded for partition %s", partitionKey)
}

func NewLockTimeoutError(partitionKey string) *AppError {
	return Newf(ErrorTypeLockTimeout, "timed out acquiring lock for partition %s", partitionKey)
}

func NewGapTooLargeError(partitionKey string, seq int64) *AppError {
	return Newf(ErrorTypeGapTooLarge, "partition %s: sequence %d exceeds buffer window", partitionKey, seq)
}

func NewSequenceTimeoutError(partitionKey string) *AppError {
	return Newf(ErrorTypeSequenceTimeout, "partition %s: buffered messages timed out", partitionKey)
}

func NewDependencyUnavailableError(dependency string, cause error) *AppError {
	return Wrapf(cause, ErrorTypeDependencyDown, "dependency unavailable: %s", dependency)
}

// IsType reports whether err is an *AppError of the given type.
func IsType(err error, t ErrorType) bool {
	appErr, ok := err.(*AppError)
	return ok && appErr.Type == t
}

// GetType returns the ErrorType of err, or ErrorTypeInternal if err is not
// an *AppError.
func GetType(err error) ErrorType {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Type
	}
	return ErrorTypeInternal
}

// GetStatusCode returns the HTTP status code associated with err.
func GetStatusCode(err error) int {
	if appErr, ok := err.(*AppError); ok {
		return appErr.StatusCode
	}
	return http.StatusInternalServerError
}

// IsRetryable reports whether err should be retried locally per §7 policy.
func IsRetryable(err error) bool {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Retryable()
	}
	return false
}

// errorMessages holds user-safe messages for error types whose internal
// Message may leak implementation detail.
type errorMessages struct {
	ResourceNotFound       string
	AuthenticationFailed   string
	OperationTimeout       string
	RateLimitExceeded      string
	ConcurrentModification string
}

var ErrorMessages = errorMessages{
	ResourceNotFound:       "The requested resource was not found",
	AuthenticationFailed:   "Authentication failed",
	OperationTimeout:       "The operation timed out",
	RateLimitExceeded:      "Rate limit exceeded, please retry later",
	ConcurrentModification: "The resource was concurrently modified",
}

// SafeErrorMessage returns a message safe to return to external callers,
// never leaking internal details for non-validation error types.
func SafeErrorMessage(err error) string {
	appErr, ok := err.(*AppError)
	if !ok {
		return "An unexpected error occurred"
	}
	switch appErr.Type {
	case ErrorTypeValidation:
		return appErr.Message
	case ErrorTypeNotFound:
		return ErrorMessages.ResourceNotFound
	case ErrorTypeAuth:
		return ErrorMessages.AuthenticationFailed
	case ErrorTypeTimeout:
		return ErrorMessages.OperationTimeout
	case ErrorTypeRateLimit:
		return ErrorMessages.RateLimitExceeded
	case ErrorTypeConflict, ErrorTypeStateConflict:
		return ErrorMessages.ConcurrentModification
	default:
		return "An internal error occurred"
	}
}

// LogFields returns a structured field map suitable for passing to a
// zap.Logger via zap.Any per field, or to logging.Fields.Merge.
func LogFields(err error) map[string]interface{} {
	fields := map[string]interface{}{
		"error": err.Error(),
	}
	appErr, ok := err.(*AppError)
	if !ok {
		return fields
	}
	fields["error_type"] = string(appErr.Type)
	fields["status_code"] = appErr.StatusCode
	if appErr.Details != "" {
		fields["error_details"] = appErr.Details
	}
	if appErr.Cause != nil {
		fields["underlying_error"] = appErr.Cause.Error()
	}
	return fields
}

// Chain joins non-nil errors with " -> ", returning nil if none are
// non-nil and the error itself unwrapped if exactly one remains.
func Chain(errs ...error) error {
	var nonNil []error
	for _, e := range errs {
		if e != nil {
			nonNil = append(nonNil, e)
		}
	}
	switch len(nonNil) {
	case 0:
		return nil
	case 1:
		return nonNil[0]
	}
	msg := nonNil[0].Error()
	for _, e := range nonNil[1:] {
		msg += " -> " + e.Error()
	}
	return fmt.Errorf("%s", msg)
}
