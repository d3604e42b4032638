package domain

import (
	"errors"
	"fmt"
)

// Category sentinels.
var (
	ErrNotFound     = fmt.Errorf("not found")
	ErrTimeout      = fmt.Errorf("operation timed out")
	ErrInvalidInput = fmt.Errorf("invalid input")
	ErrRateLimit    = fmt.Errorf("rate limit exceeded")
)

// Sentinel errors for the chat client.
var (
	ErrTransportNotReady  = fmt.Errorf("transport not ready")
	ErrTransportFailure   = fmt.Errorf("transport failure")
	ErrRestFailure        = fmt.Errorf("backend request failed")
	ErrBackendUnavailable = fmt.Errorf("backend unavailable")
	ErrGenerationBusy     = fmt.Errorf("generation in progress")
	ErrRegenerateInFlight = fmt.Errorf("regeneration already in flight")
	ErrNoConversation     = fmt.Errorf("no conversation selected")
	ErrSessionClosed      = fmt.Errorf("session closed")
	ErrConfigLoad         = fmt.Errorf("failed to load configuration")
	ErrCacheStore         = fmt.Errorf("transcript cache operation failed")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op     string // operation name (e.g., "Session.Submit")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsRetryableError reports whether err is a transient error that may succeed
// when the user repeats the action.
func IsRetryableError(err error) bool {
	return errors.Is(err, ErrTransportNotReady) ||
		errors.Is(err, ErrBackendUnavailable) ||
		errors.Is(err, ErrRateLimit) ||
		errors.Is(err, ErrTimeout)
}

// ErrorCode is a machine-parseable error category carried on session.error events.
type ErrorCode string

const (
	CodeUnknown            ErrorCode = "UNKNOWN"
	CodeNotFound           ErrorCode = "NOT_FOUND"
	CodeTimeout            ErrorCode = "TIMEOUT"
	CodeInvalidInput       ErrorCode = "INVALID_INPUT"
	CodeRateLimit          ErrorCode = "RATE_LIMIT"
	CodeTransportNotReady  ErrorCode = "TRANSPORT_NOT_READY"
	CodeTransportFailure   ErrorCode = "TRANSPORT_FAILURE"
	CodeRestFailure        ErrorCode = "REST_FAILURE"
	CodeBackendUnavailable ErrorCode = "BACKEND_UNAVAILABLE"
	CodeGenerationBusy     ErrorCode = "GENERATION_BUSY"
	CodeRegenerateInFlight ErrorCode = "REGENERATE_IN_FLIGHT"
	CodeNoConversation     ErrorCode = "NO_CONVERSATION"
	CodeSessionClosed      ErrorCode = "SESSION_CLOSED"
	CodeConfigLoad         ErrorCode = "CONFIG_LOAD"
	CodeCacheStore         ErrorCode = "CACHE_STORE"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrNotFound:     CodeNotFound,
	ErrTimeout:      CodeTimeout,
	ErrInvalidInput: CodeInvalidInput,
	ErrRateLimit:    CodeRateLimit,

	ErrTransportNotReady:  CodeTransportNotReady,
	ErrTransportFailure:   CodeTransportFailure,
	ErrRestFailure:        CodeRestFailure,
	ErrBackendUnavailable: CodeBackendUnavailable,
	ErrGenerationBusy:     CodeGenerationBusy,
	ErrRegenerateInFlight: CodeRegenerateInFlight,
	ErrNoConversation:     CodeNoConversation,
	ErrSessionClosed:      CodeSessionClosed,
	ErrConfigLoad:         CodeConfigLoad,
	ErrCacheStore:         CodeCacheStore,
}

// codePriority lists the sentinels checked when an error wraps several of
// them (a 404 is both a REST failure and not found). More specific first.
var codePriority = []error{
	ErrNotFound,
	ErrRateLimit,
	ErrTimeout,
	ErrBackendUnavailable,
	ErrTransportNotReady,
	ErrTransportFailure,
	ErrGenerationBusy,
	ErrRegenerateInFlight,
	ErrNoConversation,
	ErrSessionClosed,
	ErrInvalidInput,
	ErrConfigLoad,
	ErrCacheStore,
	ErrRestFailure,
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// It walks the error chain with errors.Is, so errors joined or wrapped with
// several sentinels resolve to the most specific one.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	// Fast path: direct sentinel lookup.
	if code, ok := errorCodeMap[err]; ok {
		return code
	}

	for _, sentinel := range codePriority {
		if errors.Is(err, sentinel) {
			return errorCodeMap[sentinel]
		}
	}
	return CodeUnknown
}

// Code returns the ErrorCode for this DomainError's underlying sentinel.
func (e *DomainError) Code() ErrorCode {
	return ErrorCodeOf(e.Err)
}
