package tesla

import (
	"fmt"
	"net/http"
)

// ErrorKind classifies a failed call against the vehicle API. Every status
// code and every local transport failure resolves to exactly one kind, so
// callers need a single dispatch mechanism.
type ErrorKind string

const (
	ErrUnknown      ErrorKind = "Unknown"
	ErrUnauthorized ErrorKind = "Unauthorized"
	ErrNoVehicle    ErrorKind = "Vehicle not found"
	ErrInService    ErrorKind = "Vehicle in service"
	ErrUnavailable  ErrorKind = "Vehicle unavailable"
	ErrTimeout      ErrorKind = "Timeout"
	ErrNetwork      ErrorKind = "Network unavailable"
	ErrServer       ErrorKind = "Internal server error"
)

// APIError is the one error shape produced by the vehicle client. It carries
// the classified kind and the underlying cause, immutable once constructed.
type APIError struct {
	Kind  ErrorKind
	cause error
}

func newAPIError(kind ErrorKind, cause error) *APIError {
	if kind == "" {
		kind = ErrUnknown
	}
	return &APIError{Kind: kind, cause: cause}
}

func (e *APIError) Error() string {
	if e.cause == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.cause)
}

func (e *APIError) Unwrap() error { return e.cause }

// decodeStatus maps an HTTP status code from the vehicle API onto an
// ErrorKind. 540 is undocumented but observed while the vehicle systems
// are booting.
func decodeStatus(statusCode int) ErrorKind {
	switch statusCode {
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusNotFound:
		return ErrNoVehicle
	case http.StatusMethodNotAllowed:
		return ErrInService
	case http.StatusNotAcceptable:
		return ErrNetwork
	case http.StatusRequestTimeout:
		return ErrUnavailable
	case http.StatusInternalServerError:
		return ErrServer
	case http.StatusBadGateway:
		return ErrNetwork
	case http.StatusServiceUnavailable:
		return ErrNetwork
	case http.StatusGatewayTimeout:
		return ErrTimeout
	case 540:
		return ErrUnavailable
	default:
		return ErrUnknown
	}
}
