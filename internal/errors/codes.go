package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents internal error codes for routing operations
type ErrorCode int

const (
	// Success
	ErrCodeOK ErrorCode = 0

	// Client errors (4xx equivalent)
	ErrCodeMalformedInput ErrorCode = 1000
	ErrCodeRateLimited    ErrorCode = 1001
	ErrCodeDeviceNotFound ErrorCode = 1002

	// Server errors (5xx equivalent)
	ErrCodeInternal              ErrorCode = 2000
	ErrCodeConfiguration         ErrorCode = 2001
	ErrCodeClassifierUnavailable ErrorCode = 2002
	ErrCodeDispatchFailed        ErrorCode = 2003
	ErrCodeDispatchTimeout       ErrorCode = 2004
	ErrCodeSinkFailed            ErrorCode = 2005
)

// String returns the wire name of the code
func (c ErrorCode) String() string {
	switch c {
	case ErrCodeOK:
		return "OK"
	case ErrCodeMalformedInput:
		return "MALFORMED_INPUT"
	case ErrCodeRateLimited:
		return "RATE_LIMITED"
	case ErrCodeDeviceNotFound:
		return "DEVICE_NOT_FOUND"
	case ErrCodeConfiguration:
		return "CONFIGURATION_ERROR"
	case ErrCodeClassifierUnavailable:
		return "CLASSIFIER_UNAVAILABLE"
	case ErrCodeDispatchFailed:
		return "DISPATCH_FAILED"
	case ErrCodeDispatchTimeout:
		return "DISPATCH_TIMEOUT"
	case ErrCodeSinkFailed:
		return "SINK_FAILED"
	default:
		return "INTERNAL_ERROR"
	}
}

// RouterError represents a structured error with code and context
type RouterError struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Cause   error
}

// Error implements the error interface
func (e *RouterError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *RouterError) Unwrap() error {
	return e.Cause
}

// HTTPStatus maps internal error codes to HTTP status codes
func (e *RouterError) HTTPStatus() int {
	switch e.Code {
	case ErrCodeOK:
		return http.StatusOK
	case ErrCodeMalformedInput:
		return http.StatusBadRequest
	case ErrCodeRateLimited:
		return http.StatusTooManyRequests
	case ErrCodeDeviceNotFound:
		return http.StatusNotFound
	case ErrCodeDispatchFailed:
		return http.StatusBadGateway
	case ErrCodeDispatchTimeout:
		return http.StatusGatewayTimeout
	case ErrCodeClassifierUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// NewRouterError creates a new RouterError
func NewRouterError(code ErrorCode, message string, cause error) *RouterError {
	return &RouterError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Cause:   cause,
	}
}

// WithDetail adds a detail to the error
func (e *RouterError) WithDetail(key string, value interface{}) *RouterError {
	e.Details[key] = value
	return e
}

// Convenience constructors for common errors

func MalformedInput(field, reason string) *RouterError {
	return NewRouterError(ErrCodeMalformedInput, fmt.Sprintf("invalid %s: %s", field, reason), nil).
		WithDetail("field", field).
		WithDetail("reason", reason)
}

func DeviceNotFound(deviceID string) *RouterError {
	return NewRouterError(ErrCodeDeviceNotFound, fmt.Sprintf("device %s has never reported", deviceID), nil).
		WithDetail("device_id", deviceID)
}

func Configuration(message string, cause error) *RouterError {
	return NewRouterError(ErrCodeConfiguration, message, cause)
}

func ClassifierUnavailable(message string, cause error) *RouterError {
	return NewRouterError(ErrCodeClassifierUnavailable, message, cause)
}

func DispatchFailed(tier string, cause error) *RouterError {
	return NewRouterError(ErrCodeDispatchFailed, fmt.Sprintf("dispatch to %s failed", tier), cause).
		WithDetail("tier", tier)
}

func DispatchTimeout(tier string, cause error) *RouterError {
	return NewRouterError(ErrCodeDispatchTimeout, fmt.Sprintf("dispatch to %s timed out", tier), cause).
		WithDetail("tier", tier)
}

func SinkFailed(sink string, cause error) *RouterError {
	return NewRouterError(ErrCodeSinkFailed, fmt.Sprintf("sink %s failed", sink), cause).
		WithDetail("sink", sink)
}

func InternalError(message string, cause error) *RouterError {
	return NewRouterError(ErrCodeInternal, message, cause)
}

// IsRouterError checks if an error is, or wraps, a RouterError
func IsRouterError(err error) bool {
	var re *RouterError
	return errors.As(err, &re)
}

// GetCode extracts the error code from an error
func GetCode(err error) ErrorCode {
	if err == nil {
		return ErrCodeOK
	}
	var re *RouterError
	if errors.As(err, &re) {
		return re.Code
	}
	return ErrCodeInternal
}

// HasCode reports whether err carries the given code
func HasCode(err error, code ErrorCode) bool {
	return GetCode(err) == code
}
