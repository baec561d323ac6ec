package errors

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"syscall"
)

// Kind classifies a failure so callers can branch on failure mode
// instead of matching error strings.
type Kind string

const (
	// KindValidation - caller supplied input that can never succeed
	KindValidation Kind = "validation"
	// KindNotFound - a referenced task, user, or backup does not exist
	KindNotFound Kind = "not_found"
	// KindConflict - the operation contradicts current state
	KindConflict Kind = "conflict"
	// KindTransientExternal - an external dependency failed in a retry-able way
	KindTransientExternal Kind = "transient_external"
	// KindFatalExternal - an external dependency rejected the request for good
	KindFatalExternal Kind = "fatal_external"
	// KindCorrupt - persisted state failed to load or verify
	KindCorrupt Kind = "corrupt"
	// KindTimeout - a deadline expired before the operation finished
	KindTimeout Kind = "timeout"
	// KindInvalidLLMOutput - the model returned output that could not be parsed
	KindInvalidLLMOutput Kind = "invalid_llm_output"
)

// Error is the structured error used across genie components.
// Op names the logical operation ("store.Save", "llm.Complete") and is
// stable enough to grep logs by.
type Error struct {
	Kind       Kind
	Op         string
	Message    string
	StatusCode int // HTTP status from the upstream service, if applicable
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Message != "" {
		b.WriteString(e.Message)
		if e.Err != nil {
			b.WriteString(": ")
		}
	}
	if e.Err != nil {
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an Error with no underlying cause.
func New(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and operation to an underlying error.
func Wrap(kind Kind, op string, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...), Err: err}
}

// ErrCircuitOpen marks requests short-circuited by an open circuit breaker.
// They surface as transient to callers but must not be retried inline,
// the breaker already knows the service is down.
var ErrCircuitOpen = errors.New("circuit breaker open")

// KindOf reports the Kind of err, classifying plain errors by their
// network and HTTP signature. Unclassifiable errors report the empty Kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}

	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	if statusCode := extractHTTPStatusCode(err); statusCode > 0 {
		if isTransientHTTPStatus(statusCode) {
			return KindTransientExternal
		}
		return KindFatalExternal
	}

	if isNetworkError(err) || isSyscallError(err) {
		return KindTransientExternal
	}

	return ""
}

// Is reports whether err classifies as the given Kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsTransient checks if an error is retry-able
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	// Breaker rejections fail fast; the breaker owns the recovery schedule
	if errors.Is(err, ErrCircuitOpen) {
		return false
	}

	// Check explicit classification first
	var e *Error
	if errors.As(err, &e) {
		switch e.Kind {
		case KindTransientExternal, KindTimeout:
			return true
		default:
			return false
		}
	}

	// Network errors (connection refused, timeout, etc.)
	if isNetworkError(err) {
		return true
	}

	// HTTP status codes
	if statusCode := extractHTTPStatusCode(err); statusCode > 0 {
		return isTransientHTTPStatus(statusCode)
	}

	// Syscall errors
	if isSyscallError(err) {
		return true
	}

	// Default: not transient
	return false
}

// IsPermanent checks if an error is non-retry-able
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}

	var e *Error
	if errors.As(err, &e) {
		switch e.Kind {
		case KindTransientExternal, KindTimeout:
			return false
		default:
			return true
		}
	}

	if statusCode := extractHTTPStatusCode(err); statusCode > 0 {
		return isPermanentHTTPStatus(statusCode)
	}

	// Common permanent errors
	errStr := strings.ToLower(err.Error())
	permanentPatterns := []string{
		"not found",
		"permission denied",
		"invalid",
		"unauthorized",
		"forbidden",
		"bad request",
	}
	for _, pattern := range permanentPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

// HTTPStatus maps an error to the status code the HTTP layer should return.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindTransientExternal:
		return http.StatusServiceUnavailable
	case KindFatalExternal, KindInvalidLLMOutput:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// UserMessage converts technical errors to actionable messages for the
// CLI and HTTP surfaces.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	switch KindOf(err) {
	case KindValidation:
		return trimmedMessage(err, "The request was invalid. Please check the input and try again.")
	case KindNotFound:
		return trimmedMessage(err, "The requested item was not found.")
	case KindConflict:
		return trimmedMessage(err, "The request conflicts with the current state.")
	case KindTimeout:
		return "The operation timed out before finishing. Partial results may have been saved."
	case KindTransientExternal:
		return "A backing service is temporarily unavailable. The system will retry automatically."
	case KindFatalExternal:
		return "A backing service rejected the request. Please check the service configuration and credentials."
	case KindCorrupt:
		return "Stored data could not be read. A backup restore may be needed."
	case KindInvalidLLMOutput:
		return "The language model returned output that could not be understood. Please try rephrasing."
	}

	errStr := strings.ToLower(err.Error())

	if strings.Contains(errStr, "connection refused") {
		return "A required service is not reachable. Please check that it is running."
	}
	if strings.Contains(errStr, "rate limit") || strings.Contains(errStr, "429") {
		return "API rate limit reached. The system will automatically retry with backoff."
	}
	if strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline exceeded") {
		return "The operation timed out. Please try again."
	}
	if strings.Contains(errStr, "unauthorized") || strings.Contains(errStr, "401") {
		return "Authentication failed. Please check your API key configuration."
	}

	return err.Error()
}

// trimmedMessage prefers the structured message over the full chain so
// users see "task not found: t3" rather than internal op prefixes.
func trimmedMessage(err error, fallback string) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return fallback
}

// Helper functions

func isNetworkError(err error) bool {
	// net.Error with Timeout or Temporary
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout() || netErr.Temporary()
	}

	// Connection errors
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	// DNS errors
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.Temporary()
	}

	// Check error strings for common network error patterns
	errStr := strings.ToLower(err.Error())
	networkPatterns := []string{
		"connection refused",
		"timeout",
		"deadline exceeded",
		"network",
		"dns",
		"connection reset",
		"broken pipe",
	}
	for _, pattern := range networkPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

func isSyscallError(err error) bool {
	// Connection reset, broken pipe, etc.
	var syscallErr syscall.Errno
	if errors.As(err, &syscallErr) {
		switch syscallErr {
		case syscall.ECONNREFUSED, syscall.ECONNRESET, syscall.EPIPE,
			syscall.ETIMEDOUT, syscall.ENETUNREACH, syscall.EHOSTUNREACH:
			return true
		}
	}
	return false
}

func isTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests, // 429
		http.StatusInternalServerError, // 500
		http.StatusBadGateway,          // 502
		http.StatusServiceUnavailable,  // 503
		http.StatusGatewayTimeout:      // 504
		return true
	}
	return false
}

func isPermanentHTTPStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusBadRequest, // 400
		http.StatusUnauthorized,        // 401
		http.StatusForbidden,           // 403
		http.StatusNotFound,            // 404
		http.StatusMethodNotAllowed,    // 405
		http.StatusConflict,            // 409
		http.StatusGone,                // 410
		http.StatusUnprocessableEntity: // 422
		return true
	}
	return false
}

var httpStatusPattern = regexp.MustCompile(`\b([45]\d{2})\b`)

// extractHTTPStatusCode pulls a status code out of error text like
// "API error 429: ..." or "HTTP 500: ...". Only codes genie actually
// classifies count, so port numbers and request ids do not match.
func extractHTTPStatusCode(err error) int {
	for _, match := range httpStatusPattern.FindAllString(err.Error(), -1) {
		code, convErr := strconv.Atoi(match)
		if convErr != nil {
			continue
		}
		if isTransientHTTPStatus(code) || isPermanentHTTPStatus(code) {
			return code
		}
	}
	return 0
}
