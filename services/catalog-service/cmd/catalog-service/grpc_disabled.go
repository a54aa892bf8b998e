//go:build !protogen

package main

import (
	"context"
	"log/slog"

	"github.com/servihub/servihub/libs/db"
	"github.com/servihub/servihub/services/catalog-service/internal/storage"
)

func startGrpcServer(_ context.Context, _ *slog.Logger, _ *db.Pool, _ *storage.Repository) error {
	return nil
}
