package grpc

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/gophvault/internal/common"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var errorCodes = []struct {
	err  error
	code codes.Code
}{
	{common.ErrValidation, codes.InvalidArgument},
	{common.ErrInvalidOTP, codes.InvalidArgument},
	{common.ErrDuplicatePendingRequest, codes.AlreadyExists},
	{common.ErrorAlreadyExists, codes.AlreadyExists},
	{common.ErrInvalidStateTransition, codes.FailedPrecondition},
	{common.ErrNotAuthorized, codes.PermissionDenied},
	{common.ErrorNotFound, codes.NotFound},
	{common.ErrStaleState, codes.Aborted},
	{common.ErrorUnauthorized, codes.Unauthenticated},
	{common.ErrInvalidToken, codes.Unauthenticated},
	{common.ErrTokenExpired, codes.Unauthenticated},
	{common.ErrRefreshTokenExpired, codes.Unauthenticated},
	{context.DeadlineExceeded, codes.DeadlineExceeded},
	{context.Canceled, codes.Canceled},
}

// toStatus maps a service error to a gRPC status. Unknown errors become
// Internal without leaking their text.
func (s *GRPCServer) toStatus(ctx context.Context, err error) error {
	if _, ok := status.FromError(err); ok {
		return err
	}
	for _, e := range errorCodes {
		if errors.Is(err, e.err) {
			return status.Error(e.code, err.Error())
		}
	}
	s.logger.Error(ctx, "internal error", "error", err)
	return status.Error(codes.Internal, "internal error")
}
