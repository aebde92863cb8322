package control

import (
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"keepalive/config"
	"keepalive/internal/orchestrator"
)

// ErrUnavailable is returned by the client when nothing serves the control
// socket.
var ErrUnavailable = errors.New("keepalive is not running")

func toGRPCError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, orchestrator.ErrNotInitialized):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, orchestrator.ErrAlreadyInitialized):
		return status.Error(codes.AlreadyExists, err.Error())
	}
	var valErr *config.ValidationError
	if errors.As(err, &valErr) {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}

// fromGRPCError maps a status back onto the orchestrator's sentinels.
func fromGRPCError(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.FailedPrecondition:
		return orchestrator.ErrNotInitialized
	case codes.AlreadyExists:
		return orchestrator.ErrAlreadyInitialized
	case codes.Unavailable:
		return ErrUnavailable
	}
	return errors.New(st.Message())
}
