package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the domain layer. Expected outcomes (AlreadyRunning,
// NotRunning, Timeout, UnknownCommand) travel inside Responses; they are never
// allowed to escape as control-loop failures.
var (
	ErrAlreadyRunning = fmt.Errorf("recording is already running")
	ErrNotRunning     = fmt.Errorf("recording is not running")
	ErrTimeout        = fmt.Errorf("operation timed out")
	ErrUnknownCommand = fmt.Errorf("unknown command")
	ErrInvalidInput   = fmt.Errorf("invalid input")
	ErrShuttingDown   = fmt.Errorf("coordinator is shutting down")

	ErrCaptureFailed  = fmt.Errorf("screenshot capture failed")
	ErrAnalysisFailed = fmt.Errorf("activity analysis failed")
	ErrStoreFailed    = fmt.Errorf("activity store operation failed")
	ErrProtocol       = fmt.Errorf("protocol error")

	// Analysis transport errors, mapped from HTTP status codes.
	ErrRateLimit   = fmt.Errorf("rate limit exceeded")
	ErrAuthInvalid = fmt.Errorf("authentication failed")
)

// DomainError wraps a sentinel error with operation context.
type DomainError struct {
	Op     string // operation name (e.g., "Pipeline.Capture")
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

// ErrorCode is a machine-parseable error category for monitoring.
type ErrorCode string

const (
	CodeUnknown        ErrorCode = "UNKNOWN"
	CodeAlreadyRunning ErrorCode = "ALREADY_RUNNING"
	CodeNotRunning     ErrorCode = "NOT_RUNNING"
	CodeTimeout        ErrorCode = "TIMEOUT"
	CodeUnknownCommand ErrorCode = "UNKNOWN_COMMAND"
	CodeInvalidInput   ErrorCode = "INVALID_INPUT"
	CodeShuttingDown   ErrorCode = "SHUTTING_DOWN"
	CodeCaptureFailed  ErrorCode = "CAPTURE_FAILED"
	CodeAnalysisFailed ErrorCode = "ANALYSIS_FAILED"
	CodeStoreFailed    ErrorCode = "STORE_FAILED"
	CodeProtocol       ErrorCode = "PROTOCOL_ERROR"
	CodeRateLimit      ErrorCode = "RATE_LIMIT"
	CodeAuthInvalid    ErrorCode = "AUTH_INVALID"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrAlreadyRunning: CodeAlreadyRunning,
	ErrNotRunning:     CodeNotRunning,
	ErrTimeout:        CodeTimeout,
	ErrUnknownCommand: CodeUnknownCommand,
	ErrInvalidInput:   CodeInvalidInput,
	ErrShuttingDown:   CodeShuttingDown,
	ErrCaptureFailed:  CodeCaptureFailed,
	ErrAnalysisFailed: CodeAnalysisFailed,
	ErrStoreFailed:    CodeStoreFailed,
	ErrProtocol:       CodeProtocol,
	ErrRateLimit:      CodeRateLimit,
	ErrAuthInvalid:    CodeAuthInvalid,
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// It unwraps DomainError and walks the chain with errors.Is.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	if code, ok := errorCodeMap[err]; ok {
		return code
	}

	var de *DomainError
	if errors.As(err, &de) {
		if code, ok := errorCodeMap[de.Err]; ok {
			return code
		}
	}

	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}

	return CodeUnknown
}
