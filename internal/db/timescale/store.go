package timescale

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// ErrExtensionUnavailable is returned when the server does not ship a
// requested extension.
var ErrExtensionUnavailable = errors.New("extension is not available in the database")

// SQLSTATE codes inspected when classifying driver errors.
const (
	codeUndefinedTable = "42P01"
)

// GormStore implements Store on top of a GORM connection pool.
type GormStore struct {
	DB *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{DB: db}
}

func (s *GormStore) ListHypertables(ctx context.Context) ([]HypertableState, error) {
	var rows []HypertableState
	if err := s.DB.WithContext(ctx).Raw(availableHypertables).Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *GormStore) TableExists(ctx context.Context, qualifiedName string) (bool, error) {
	var ok bool
	if err := s.DB.WithContext(ctx).Raw(tableExists, qualifiedName).Scan(&ok).Error; err != nil {
		return false, err
	}
	return ok, nil
}

func (s *GormStore) CreateHypertable(ctx context.Context, p Params) (CreateResult, error) {
	stmt, args := createStatement(p)
	var res CreateResult
	if err := s.DB.WithContext(ctx).Raw(stmt, args...).Scan(&res).Error; err != nil {
		if IsUndefinedTable(err) {
			return CreateResult{}, fmt.Errorf("%s: %w", p.TableName, ErrEntityNotMaterialized)
		}
		return CreateResult{}, err
	}
	return res, nil
}

// ApproximateRowCount returns TimescaleDB's statistics based row estimate for
// the table, avoiding a full scan.
func ApproximateRowCount(ctx context.Context, db *gorm.DB, qualifiedName string) (int64, error) {
	var n int64
	if err := db.WithContext(ctx).Raw(approximateRowCount, qualifiedName).Scan(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}

// DropChunks removes the chunks of a hypertable older than the given interval
// (e.g. "30 days") and returns the dropped chunk names.
func DropChunks(ctx context.Context, db *gorm.DB, qualifiedName, olderThan string) ([]string, error) {
	var dropped []string
	if err := db.WithContext(ctx).Raw(dropChunksOlderThan, qualifiedName, olderThan).Scan(&dropped).Error; err != nil {
		return nil, err
	}
	return dropped, nil
}

// ActivateExtension enables ext if the server provides it.
func ActivateExtension(ctx context.Context, db *gorm.DB, ext string) error {
	var name string
	if err := db.WithContext(ctx).Raw(availableExtension, ext).Scan(&name).Error; err != nil {
		return err
	}
	if name == "" {
		return fmt.Errorf("%q: %w", ext, ErrExtensionUnavailable)
	}
	return db.WithContext(ctx).Exec(`CREATE EXTENSION IF NOT EXISTS "` + name + `"`).Error
}

// IsUndefinedTable reports whether err carries SQLSTATE 42P01.
func IsUndefinedTable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == codeUndefinedTable
}
