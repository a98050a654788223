package main

import (
	"context"
	"log/slog"
	"net"

	"github.com/md-rashed-zaman/bookslots/libs/config"
	"github.com/md-rashed-zaman/bookslots/libs/db"
	"github.com/md-rashed-zaman/bookslots/libs/grpcx"
	"github.com/md-rashed-zaman/bookslots/services/schedule-service/internal/grpcserver"
	"github.com/md-rashed-zaman/bookslots/services/schedule-service/internal/storage"
)

func startGrpcServer(ctx context.Context, logger *slog.Logger, pool *db.Pool, repo *storage.Repository) error {
	port, err := config.Port("GRPC_PORT", "9090")
	if err != nil {
		return err
	}
	lis, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return err
	}

	srv := grpcx.NewServer()
	grpcserver.Register(srv, repo, pool, logger)
	grpcx.Serve(ctx, logger, srv, lis)
	return nil
}
