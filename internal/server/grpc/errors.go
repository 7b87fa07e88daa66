package grpc

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/tenantguard/internal/common"
	"github.com/dmitrijs2005/tenantguard/internal/logging"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// toStatus maps service errors onto gRPC codes. Authentication failures all
// share one message; internal causes only reach the log.
func toStatus(ctx context.Context, log logging.Logger, err error) error {
	switch {
	case err == nil:
		return nil
	case common.IsUnauthenticated(err):
		log.Info(ctx, "unauthenticated", "reason", err)
		return status.Error(codes.Unauthenticated, "unauthenticated")
	case errors.Is(err, common.ErrAccessDenied):
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.Is(err, common.ErrProjectNotFunctional):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "canceled")
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, "deadline exceeded")
	default:
		log.Error(ctx, "internal error", "error", err)
		return status.Error(codes.Internal, "internal error")
	}
}
