package hgrpc

import (
	"context"
	"runtime/debug"
	"time"

	log "github.com/sirupsen/logrus"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
)

// UnaryInterceptor logs each call, turns panics into Internal and maps
// domain errors to gRPC status codes.
func UnaryInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp interface{}, err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			log.WithFields(log.Fields{
				"method": info.FullMethod,
				"panic":  r,
				"stack":  string(debug.Stack()),
			}).Error("grpc handler panicked")
			err = status.Error(codes.Internal, "internal server error")
		}
		entry := log.WithFields(log.Fields{
			"method":   info.FullMethod,
			"code":     status.Code(err).String(),
			"duration": time.Since(start).String(),
		})
		if err != nil {
			entry.Warn("grpc call failed")
			return
		}
		entry.Debug("grpc call")
	}()

	resp, err = handler(ctx, req)
	return resp, handleUsecaseError(err)
}

func NewServer(extra ...grpc.ServerOption) *grpc.Server {
	opts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(UnaryInterceptor),
		grpc.MaxRecvMsgSize(4 * 1024 * 1024),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			MaxConnectionIdle:     15 * time.Minute,
			MaxConnectionAge:      30 * time.Minute,
			MaxConnectionAgeGrace: 5 * time.Minute,
			Time:                  5 * time.Minute,
			Timeout:               1 * time.Minute,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             30 * time.Second,
			PermitWithoutStream: true,
		}),
	}
	return grpc.NewServer(append(opts, extra...)...)
}
