package db

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"fastanalytics/internal/config"
	"fastanalytics/internal/db/timescale"
)

// extensions are enabled at startup, in order.
var extensions = []string{"timescaledb", "uuid-ossp"}

// Connect opens the GORM connection pool using APP_DATABASE_URL (PostgreSQL URL).
// The pool is owned by the caller and must be released with Close.
func Connect(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*gorm.DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	dsn, err := cfg.DSN()
	if err != nil {
		return nil, err
	}

	level := gormlogger.Warn
	if cfg.IsDev() {
		level = gormlogger.Info
	}

	// PrepareStmt: true prevents the GORM postgres migrator from forcing simple protocol
	// for "SELECT * FROM table LIMIT 1", which would otherwise trigger "insufficient arguments".
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		PrepareStmt:          true,
		DisableAutomaticPing: true,
		Logger:               NewGormLogger(logger, level, time.Second),
		NowFunc:              func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	err = withBackoff(ctx, DefaultBackoff(cfg.ConnectAttempts), logger, "ping database", func(ctx context.Context) error {
		pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		return sqlDB.PingContext(pingCtx)
	})
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	logger.Info("Database connection pool configured",
		zap.String("timezone", cfg.Timezone),
		zap.Int("max_open_conns", cfg.MaxOpenConns),
		zap.Int("max_idle_conns", cfg.MaxIdleConns),
		zap.Duration("conn_max_lifetime", cfg.ConnMaxLifetime),
	)
	return gdb, nil
}

// Close releases the pool.
func Close(gdb *gorm.DB) error {
	sqlDB, err := gdb.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Bootstrap prepares the database before the service accepts traffic: it
// enables the required extensions, creates the schemas and tables of the
// registered models and converts them to hypertables. Any failure means the
// schema is not in a state the service can serve from.
func Bootstrap(ctx context.Context, gdb *gorm.DB, reg *Registry, logger *zap.Logger) error {
	for _, ext := range extensions {
		logger.Debug("Activating extension", zap.String("extension", ext))
		if err := timescale.ActivateExtension(ctx, gdb, ext); err != nil {
			return fmt.Errorf("activate extension %s: %w", ext, err)
		}
	}

	seen := make(map[string]bool)
	models := make([]any, 0, len(reg.Entities()))
	for _, e := range reg.Entities() {
		if s := e.Schema(); s != "" && !seen[s] {
			seen[s] = true
			if err := gdb.WithContext(ctx).Exec("CREATE SCHEMA IF NOT EXISTS " + timescale.QuoteIdent(s)).Error; err != nil {
				return fmt.Errorf("create schema %s: %w", s, err)
			}
		}
		models = append(models, e.Model())
	}

	// Auto-migrate the hypertable backed tables.
	if err := gdb.WithContext(ctx).AutoMigrate(models...); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	sync := &timescale.Synchronizer{Store: timescale.NewGormStore(gdb), Logger: logger}
	created, err := sync.Synchronize(ctx, reg.Models())
	if err != nil {
		return fmt.Errorf("synchronize hypertables: %w", err)
	}
	if len(created) > 0 {
		logger.Info("Hypertables synchronized", zap.Strings("created", created))
	}
	return nil
}
