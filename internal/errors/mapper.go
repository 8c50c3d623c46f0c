// internal/errors/mapper.go
package errors

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gorm.io/gorm"
)

// Domain errors shared by the store adapters and the sync core.
// Callers match them with errors.Is; adapters wrap them with %w.
var (
	ErrNotFound              = errors.New("document not found")
	ErrAlreadyExists         = errors.New("document already exists")
	ErrPermissionDenied      = errors.New("permission denied")
	ErrInvalidArgument       = errors.New("invalid argument")
	ErrBanned                = errors.New("account is suspended")
	ErrProvisioningExhausted = errors.New("no available username within attempt bound")
	ErrInFlight              = errors.New("mutation already in flight")
	ErrClosed                = errors.New("resource closed")
	ErrUnauthenticated       = errors.New("not signed in")
)

// Is and As re-export the standard helpers so callers importing this package
// under its usual alias do not need a second errors import.
func Is(err, target error) bool { return errors.Is(err, target) }
func As(err error, target any) bool { return errors.As(err, target) }

// FromStatus classifies gRPC status errors (as returned by Firestore) into
// domain errors. Unknown codes pass through untouched.
func FromStatus(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.NotFound:
		return errors.Join(ErrNotFound, err)
	case codes.AlreadyExists:
		return errors.Join(ErrAlreadyExists, err)
	case codes.PermissionDenied, codes.Unauthenticated:
		return errors.Join(ErrPermissionDenied, err)
	case codes.InvalidArgument, codes.FailedPrecondition:
		return errors.Join(ErrInvalidArgument, err)
	case codes.Canceled:
		return errors.Join(context.Canceled, err)
	case codes.DeadlineExceeded:
		return errors.Join(context.DeadlineExceeded, err)
	}
	return err
}

// Map converts repo/infra errors into gRPC-friendly status errors.
// Keeps transport callers clean by centralizing error mapping.
func Map(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, gorm.ErrRecordNotFound):
		return status.Error(codes.NotFound, "record not found")

	case errors.Is(err, ErrAlreadyExists):
		return status.Error(codes.AlreadyExists, err.Error())

	case errors.Is(err, ErrPermissionDenied):
		return status.Error(codes.PermissionDenied, err.Error())

	case errors.Is(err, ErrInvalidArgument):
		return status.Error(codes.InvalidArgument, err.Error())

	case errors.Is(err, ErrBanned), errors.Is(err, ErrUnauthenticated):
		return status.Error(codes.Unauthenticated, err.Error())

	case errors.Is(err, ErrProvisioningExhausted):
		return status.Error(codes.ResourceExhausted, err.Error())

	case errors.Is(err, ErrInFlight):
		return status.Error(codes.Aborted, err.Error())

	case errors.Is(err, ErrClosed):
		return status.Error(codes.Unavailable, err.Error())

	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, "request timed out")

	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "request was canceled")

	default:
		// fallback → bubble up error message for debugging
		return status.Error(codes.Internal, err.Error())
	}
}
