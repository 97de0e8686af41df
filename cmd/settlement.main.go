package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"settlement-service/internal/config"
	"settlement-service/internal/server"

	"go.uber.org/zap"
)

func main() {
	config.LoadDotEnv()
	cfg := config.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting settlement service",
		zap.String("http_addr", cfg.HTTPAddr),
		zap.String("grpc_addr", cfg.GRPCAddr),
		zap.String("storage", cfg.Storage))

	app, err := server.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("settlement service failed to start", zap.Error(err))
	}
	defer app.Close()

	if err := app.Run(ctx); err != nil {
		logger.Error("settlement service failed", zap.Error(err))
		return
	}
	logger.Info("settlement service stopped")
}
