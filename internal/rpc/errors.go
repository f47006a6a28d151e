package rpc

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/reva/bridge/internal/resource"
)

// InvalidRequestError means the caller sent malformed input. No action is
// created for such a request.
type InvalidRequestError struct {
	Field  string
	Reason string
}

func (e *InvalidRequestError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// StatusFromError maps a pipeline error onto a gRPC status error. Errors
// that already carry a status pass through unchanged.
func StatusFromError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	var invalid *InvalidRequestError
	var notFound *resource.LocationNotFoundError
	switch {
	case errors.As(err, &invalid):
		return status.Error(codes.InvalidArgument, invalid.Error())
	case errors.As(err, &notFound):
		return status.Error(codes.NotFound, notFound.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	default:
		return status.Errorf(codes.Internal, "internal error: %v", err)
	}
}

// rejected is the status a caller sees when the reviewer turns the request
// down. The description is the reviewer's reason verbatim.
func rejected(reason string) error {
	return status.Error(codes.Canceled, reason)
}
