package hgrpc

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"settlement-service/internal/domain"
	"settlement-service/internal/provider"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ===============================
// ERROR HANDLING
// ===============================

func handleUsecaseError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	logger := log.WithFields(log.Fields{
		"function":   "handleUsecaseError",
		"error":      err.Error(),
		"error_type": fmt.Sprintf("%T", err),
	})

	switch {
	case errors.Is(err, domain.ErrNotFound):
		logger.WithField("grpc_code", codes.NotFound).Warn("resource not found")
		return status.Error(codes.NotFound, err.Error())

	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrInvalidFreezeAmount):
		logger.WithField("grpc_code", codes.InvalidArgument).Warn("invalid request")
		return status.Error(codes.InvalidArgument, err.Error())

	case errors.Is(err, domain.ErrInsufficientFunds),
		errors.Is(err, domain.ErrLimitExceeded),
		errors.Is(err, domain.ErrBillNotPayable),
		errors.Is(err, domain.ErrBillCancelled):
		logger.WithField("grpc_code", codes.FailedPrecondition).Warn("payment precondition failed")
		return status.Error(codes.FailedPrecondition, err.Error())

	case errors.Is(err, domain.ErrNotAuthorized),
		errors.Is(err, domain.ErrWalletNotActive):
		logger.WithField("grpc_code", codes.PermissionDenied).Warn("operation not permitted")
		return status.Error(codes.PermissionDenied, err.Error())

	case errors.Is(err, domain.ErrAlreadyPaid),
		errors.Is(err, domain.ErrDuplicateActiveDispute),
		errors.Is(err, domain.ErrDuplicateIdempotencyKey),
		errors.Is(err, domain.ErrWalletExists):
		logger.WithField("grpc_code", codes.AlreadyExists).Warn("resource already exists")
		return status.Error(codes.AlreadyExists, err.Error())

	case errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrConflict):
		logger.WithField("grpc_code", codes.Aborted).Warn("state conflict")
		return status.Error(codes.Aborted, err.Error())

	case provider.IsTimeout(err),
		errors.Is(err, context.DeadlineExceeded):
		logger.WithField("grpc_code", codes.DeadlineExceeded).Error("upstream timed out")
		return status.Error(codes.DeadlineExceeded, "upstream timed out")

	case errors.Is(err, domain.ErrGatewayError):
		logger.WithField("grpc_code", codes.Unavailable).Error("payment provider error")
		return status.Error(codes.Unavailable, "payment provider unavailable")

	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "request cancelled")
	}

	logger.WithField("grpc_code", codes.Internal).Error("unhandled error")
	return status.Error(codes.Internal, "internal server error")
}
