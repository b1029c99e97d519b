package timescale

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// ErrEntityNotMaterialized is returned when a model has no physical table to
// convert into a hypertable.
var ErrEntityNotMaterialized = errors.New("table does not exist in the database")

// defaultSchema is where Postgres resolves unqualified table names.
const defaultSchema = "public"

// HypertableState is a row of timescaledb_information.hypertables.
type HypertableState struct {
	Schema             string  `gorm:"column:hypertable_schema"`
	Name               string  `gorm:"column:hypertable_name"`
	Owner              string  `gorm:"column:owner"`
	NumDimensions      int     `gorm:"column:num_dimensions"`
	NumChunks          int64   `gorm:"column:num_chunks"`
	CompressionEnabled bool    `gorm:"column:compression_enabled"`
	Tablespaces        *string `gorm:"column:tablespaces"`
}

func (h HypertableState) QualifiedName() string {
	return QualifiedName(h.Schema, h.Name)
}

// CreateResult is what create_hypertable reports back.
type CreateResult struct {
	HypertableID int32 `gorm:"column:hypertable_id"`
	Created      bool  `gorm:"column:created"`
}

// Store is the storage side of the synchronization.
type Store interface {
	ListHypertables(ctx context.Context) ([]HypertableState, error)
	TableExists(ctx context.Context, qualifiedName string) (bool, error)
	CreateHypertable(ctx context.Context, p Params) (CreateResult, error)
}

// Synchronizer makes sure every registered model is backed by a hypertable.
type Synchronizer struct {
	Store  Store
	Logger *zap.Logger
}

// Synchronize creates the hypertables missing for models, in the given order.
// The first failure aborts the remaining models and is returned. It returns
// the qualified names of the tables it converted.
func (s *Synchronizer) Synchronize(ctx context.Context, models []Model) ([]string, error) {
	logger := s.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Debug("Checking models for hypertables", zap.Int("models", len(models)))

	current, err := s.Store.ListHypertables(ctx)
	if err != nil {
		return nil, fmt.Errorf("list hypertables: %w", err)
	}
	existing := make(map[string]struct{}, len(current))
	for _, h := range current {
		existing[h.QualifiedName()] = struct{}{}
	}

	pending := make([]Model, 0, len(models))
	for _, m := range models {
		if _, ok := existing[resolvedName(m)]; !ok {
			pending = append(pending, m)
		}
	}
	if len(pending) == 0 {
		logger.Debug("No new models to create hypertables for")
		return nil, nil
	}

	names := make([]string, 0, len(pending))
	for _, m := range pending {
		names = append(names, m.Name())
	}
	logger.Info("Creating hypertables", zap.String("models", strings.Join(names, ",")))

	created := make([]string, 0, len(pending))
	for _, m := range pending {
		if err := s.create(ctx, logger, m); err != nil {
			return created, err
		}
		created = append(created, QualifiedName(m.Schema(), m.Table()))
	}
	return created, nil
}

func (s *Synchronizer) create(ctx context.Context, logger *zap.Logger, m Model) error {
	params, err := ExtractParams(m)
	if err != nil {
		return err
	}
	ok, err := s.Store.TableExists(ctx, params.TableName)
	if err != nil {
		return fmt.Errorf("check table %s: %w", params.TableName, err)
	}
	if !ok {
		return fmt.Errorf("%s (%s): %w", m.Name(), params.TableName, ErrEntityNotMaterialized)
	}

	logger.Debug("Creating hypertable",
		zap.String("model", m.Name()),
		zap.String("table", params.TableName),
		zap.String("time_column", params.TimeColumn),
		zap.Stringer("chunk_time_interval", params.ChunkTimeInterval),
	)
	res, err := s.Store.CreateHypertable(ctx, params)
	if err != nil {
		logger.Error("Could not create hypertable",
			zap.String("model", m.Name()),
			zap.String("table", params.TableName),
			zap.Error(err),
		)
		return fmt.Errorf("create hypertable for %s: %w", m.Name(), err)
	}
	logger.Info("Hypertable ready",
		zap.String("table", params.TableName),
		zap.Int32("hypertable_id", res.HypertableID),
		zap.Bool("created", res.Created),
	)
	return nil
}

func resolvedName(m Model) string {
	schema := m.Schema()
	if schema == "" {
		schema = defaultSchema
	}
	return QualifiedName(schema, m.Table())
}
