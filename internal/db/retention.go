package db

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"fastanalytics/internal/db/timescale"
)

// runRetentionOnce drops, for every registered hypertable, the chunks whose
// data is entirely older than the retention window.
func runRetentionOnce(ctx context.Context, gdb *gorm.DB, reg *Registry, days int, logger *zap.Logger) error {
	olderThan := fmt.Sprintf("%d days", days)
	for _, e := range reg.Entities() {
		dropped, err := timescale.DropChunks(ctx, gdb, e.QualifiedTable(), olderThan)
		if err != nil {
			return fmt.Errorf("drop chunks of %s: %w", e.QualifiedTable(), err)
		}
		if len(dropped) > 0 {
			logger.Info("Dropped expired chunks",
				zap.String("table", e.QualifiedTable()),
				zap.String("older_than", olderThan),
				zap.Strings("chunks", dropped),
			)
		}
	}
	return nil
}

// StartRetentionWorker launches a background goroutine that runs the
// retention cleanup once at startup and then once per day, until ctx is done.
// It does nothing when days is not positive.
func StartRetentionWorker(ctx context.Context, gdb *gorm.DB, reg *Registry, days int, logger *zap.Logger) {
	if days <= 0 {
		return
	}
	go func() {
		if err := runRetentionOnce(ctx, gdb, reg, days, logger); err != nil {
			logger.Error("retention cleanup error (startup)", zap.Error(err))
		}

		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := runRetentionOnce(ctx, gdb, reg, days, logger); err != nil {
					logger.Error("retention cleanup error", zap.Error(err))
				}
			}
		}
	}()
}
