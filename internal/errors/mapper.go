package errors

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gorm.io/gorm"

	"github.com/oggyb/storymatch/internal/matching"
	"github.com/oggyb/storymatch/internal/upstream"
	"github.com/oggyb/storymatch/internal/vectorindex"
)

// Map converts domain/repo/infra errors into gRPC-friendly status errors.
// Keeps service layer clean by centralizing error mapping.
func Map(err error) error {
	if err == nil {
		return nil
	}
	// already a status (e.g. from InvalidArgument); wrapped provider statuses
	// still go through the domain mapping below
	if _, ok := err.(interface{ GRPCStatus() *status.Status }); ok {
		return err
	}

	switch {
	case errors.Is(err, matching.ErrInvalidArgument),
		errors.Is(err, vectorindex.ErrInvalidTopK):
		return status.Error(codes.InvalidArgument, err.Error())

	case errors.Is(err, matching.ErrUserNotFound):
		return status.Error(codes.NotFound, err.Error())

	case errors.Is(err, matching.ErrBusy):
		return status.Error(codes.Aborted, err.Error())

	case errors.Is(err, matching.ErrNotReady):
		return status.Error(codes.FailedPrecondition, err.Error())

	// upstream wraps its own deadline/cancel errors, so check it first
	case errors.Is(err, upstream.ErrUnavailable):
		return status.Error(codes.Unavailable, err.Error())

	case errors.Is(err, upstream.ErrTerminal):
		return status.Error(codes.Internal, err.Error())

	case errors.Is(err, gorm.ErrRecordNotFound):
		return status.Error(codes.NotFound, "record not found")

	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, "request timed out")

	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "request was canceled")

	default:
		// fallback → bubble up error message for debugging
		return status.Error(codes.Internal, err.Error())
	}
}

// InvalidArgument creates a gRPC InvalidArgument error.
// Use this in service layer for bad input validation.
func InvalidArgument(msg string) error {
	return status.Error(codes.InvalidArgument, msg)
}

// Process exit codes used by storyctl.
const (
	ExitOK          = 0
	ExitFailure     = 1
	ExitInvalid     = 2
	ExitBusy        = 3
	ExitNotReady    = 4
	ExitUnavailable = 5
)

// ExitCode picks the process exit status for err, which may be a gRPC
// status from a remote call or a domain error from an in-process run.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	switch status.Code(Map(err)) {
	case codes.InvalidArgument, codes.NotFound:
		return ExitInvalid
	case codes.Aborted:
		return ExitBusy
	case codes.FailedPrecondition:
		return ExitNotReady
	case codes.Unavailable, codes.DeadlineExceeded:
		return ExitUnavailable
	default:
		return ExitFailure
	}
}
