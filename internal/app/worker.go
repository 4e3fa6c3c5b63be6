package app

import (
	"context"
	"log/slog"

	"github.com/hitoshi/libman/internal/config"
	"github.com/hitoshi/libman/internal/worker/cleanup"
)

// runWorker はワーカーモードで起動する。
// ctxがキャンセルされるまで期限切れセッションの削除を繰り返す。
func runWorker(ctx context.Context, cfg *config.Config) error {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	job := cleanup.NewSessionCleanupJob(db, slog.Default())
	job.Start(ctx, cfg.SessionCleanupInterval)

	slog.Info("worker stopped gracefully")
	return nil
}
