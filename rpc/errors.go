package rpc

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/aifs-project/aifs"
	"github.com/aifs-project/aifs/auth"
	"github.com/aifs-project/aifs/chunkstore"
	"github.com/aifs-project/aifs/metastore"
	"github.com/aifs-project/aifs/tx"
)

// toStatus maps engine errors onto gRPC status codes. Unknown errors
// surface as Internal without leaking detail beyond the message.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "request cancelled")
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, "deadline exceeded")
	case errors.Is(err, aifs.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, aifs.ErrAlreadyExists):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, aifs.ErrInvalidK),
		errors.Is(err, aifs.ErrInvalidName):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, aifs.ErrConflict):
		return status.Error(codes.Aborted, err.Error())
	case errors.Is(err, tx.ErrNotPending),
		errors.Is(err, metastore.ErrTxTerminal):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, aifs.ErrSignatureInvalid):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, aifs.ErrClosed):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, auth.ErrExpired):
		return status.Error(codes.Unauthenticated, err.Error())
	case errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrMethodNotAllowed),
		errors.Is(err, auth.ErrNamespaceMismatch):
		return status.Error(codes.PermissionDenied, err.Error())
	}

	var validation *aifs.ValidationError
	if errors.As(err, &validation) {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	var cycle *aifs.CycleError
	if errors.As(err, &cycle) {
		return status.Error(codes.FailedPrecondition, err.Error())
	}
	var divergence *aifs.KeyDivergenceError
	if errors.As(err, &divergence) {
		return status.Error(codes.FailedPrecondition, err.Error())
	}
	var parent *tx.ParentNotVisibleError
	if errors.As(err, &parent) {
		return status.Error(codes.FailedPrecondition, err.Error())
	}
	var unavailable *chunkstore.UnavailableError
	if errors.As(err, &unavailable) {
		return status.Error(codes.Unavailable, err.Error())
	}

	return status.Error(codes.Internal, err.Error())
}
