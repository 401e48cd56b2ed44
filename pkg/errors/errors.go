// Package errors provides the structured error system used across chassis.
//
// Every error surfaced by the assembly layer is an *Errno carrying a unique
// numeric code plus HTTP and gRPC status mappings, so callers can classify
// failures with errors.Is against the registered sentinels regardless of how
// many times the error was wrapped or annotated on the way up.
//
// Usage:
//
//	// Classify
//	if errors.Is(err, errors.ErrDuplicateMethod) { ... }
//
//	// Annotate while keeping the code
//	return errors.ErrInvalidArgument.WithMessagef("service %q: empty method name", name)
//
//	// Wrap an underlying cause
//	return errors.ErrResourceAcquisition.WithCause(err)
package errors

import (
	"fmt"
	"net/http"
	"sync"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Errno represents a structured error with code and status mappings.
type Errno struct {
	// Code is the unique error code.
	Code int `json:"code"`

	// HTTP is the HTTP status code to return.
	HTTP int `json:"-"`

	// GRPCCode is the gRPC status code.
	GRPCCode codes.Code `json:"-"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// cause is the underlying error.
	cause error
}

// Error implements the error interface.
func (e *Errno) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("errno %d: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("errno %d: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Errno) Unwrap() error {
	return e.cause
}

// WithCause creates a new Errno with the given cause.
func (e *Errno) WithCause(cause error) *Errno {
	clone := *e
	clone.cause = cause
	return &clone
}

// WithMessage creates a new Errno with a custom message.
func (e *Errno) WithMessage(msg string) *Errno {
	clone := *e
	clone.Message = msg
	return &clone
}

// WithMessagef creates a new Errno with a formatted message.
func (e *Errno) WithMessagef(format string, args ...interface{}) *Errno {
	return e.WithMessage(fmt.Sprintf(format, args...))
}

// HTTPStatus returns the HTTP status code.
func (e *Errno) HTTPStatus() int {
	if e.HTTP != 0 {
		return e.HTTP
	}
	return http.StatusInternalServerError
}

// GRPCStatus returns the error as a gRPC status.
func (e *Errno) GRPCStatus() *status.Status {
	return status.New(e.GRPCCode, e.Message)
}

// Is reports whether target carries the same error code. Combined with the
// value-copy semantics of WithCause/WithMessage this makes errors.Is work
// against the registered sentinels.
func (e *Errno) Is(target error) bool {
	if t, ok := target.(*Errno); ok {
		return e.Code == t.Code
	}
	return false
}

// errnoRegistry stores all registered error codes for uniqueness validation.
var (
	errnoRegistry = make(map[int]*Errno)
	registryMu    sync.Mutex
)

// Register registers an Errno and validates code uniqueness.
// Panics if the code is already registered.
func Register(e *Errno) *Errno {
	registryMu.Lock()
	defer registryMu.Unlock()

	if existing, ok := errnoRegistry[e.Code]; ok {
		panic(fmt.Sprintf("errno code %d already registered: %s", e.Code, existing.Message))
	}
	errnoRegistry[e.Code] = e
	return e
}
