package errors

import (
	"net/http"

	"google.golang.org/grpc/codes"
)

// Configuration errors, raised at the offending call and never deferred.
var (
	// ErrInvalidArgument indicates a nil or malformed input to a configuration call.
	ErrInvalidArgument = Register(&Errno{
		Code:     10001,
		HTTP:     http.StatusBadRequest,
		GRPCCode: codes.InvalidArgument,
		Message:  "Invalid argument",
	})

	// ErrDuplicateMethod indicates a conflicting full method name at registration.
	ErrDuplicateMethod = Register(&Errno{
		Code:     10002,
		HTTP:     http.StatusConflict,
		GRPCCode: codes.AlreadyExists,
		Message:  "Duplicate method name",
	})

	// ErrMethodNotFound indicates a lookup miss in both the primary and the
	// fallback registry.
	ErrMethodNotFound = Register(&Errno{
		Code:     10003,
		HTTP:     http.StatusNotFound,
		GRPCCode: codes.Unimplemented,
		Message:  "Method not found",
	})
)

// Lifecycle errors.
var (
	// ErrIllegalState indicates an operation issued against an object in the
	// wrong lifecycle state.
	ErrIllegalState = Register(&Errno{
		Code:     10101,
		HTTP:     http.StatusInternalServerError,
		GRPCCode: codes.FailedPrecondition,
		Message:  "Illegal state",
	})

	// ErrAlreadyBuilt indicates a second Build on an already-built Builder.
	ErrAlreadyBuilt = Register(&Errno{
		Code:     10102,
		HTTP:     http.StatusInternalServerError,
		GRPCCode: codes.FailedPrecondition,
		Message:  "Builder has already built a server",
	})

	// ErrServerStopped indicates a call against a server that was stopped.
	ErrServerStopped = Register(&Errno{
		Code:     10103,
		HTTP:     http.StatusServiceUnavailable,
		GRPCCode: codes.Unavailable,
		Message:  "Server is stopped",
	})
)

// Resource and construction errors.
var (
	// ErrResourceAcquisition indicates the executor resource could not be
	// created or validated.
	ErrResourceAcquisition = Register(&Errno{
		Code:     10201,
		HTTP:     http.StatusServiceUnavailable,
		GRPCCode: codes.Unavailable,
		Message:  "Resource acquisition failed",
	})

	// ErrExecutorClosed indicates a task was submitted to a released executor.
	ErrExecutorClosed = Register(&Errno{
		Code:     10202,
		HTTP:     http.StatusServiceUnavailable,
		GRPCCode: codes.Unavailable,
		Message:  "Executor is closed",
	})

	// ErrExecutorOverload indicates the executor rejected a task because its
	// queue is full.
	ErrExecutorOverload = Register(&Errno{
		Code:     10203,
		HTTP:     http.StatusServiceUnavailable,
		GRPCCode: codes.ResourceExhausted,
		Message:  "Executor overloaded",
	})

	// ErrTransportConstruction indicates the transport extension point failed.
	ErrTransportConstruction = Register(&Errno{
		Code:     10301,
		HTTP:     http.StatusInternalServerError,
		GRPCCode: codes.Internal,
		Message:  "Transport construction failed",
	})

	// ErrBuildListener indicates a build listener raised an error during
	// notification.
	ErrBuildListener = Register(&Errno{
		Code:     10401,
		HTTP:     http.StatusInternalServerError,
		GRPCCode: codes.Internal,
		Message:  "Build listener failed",
	})
)
