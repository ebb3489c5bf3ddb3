// Package gormstore persists catalog nodes in a relational database through
// gorm. MySQL is the production dialect; SQLite is accepted for local runs.
package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/starford/mediacat/internal/checksum"
	"github.com/starford/mediacat/internal/models"
	"github.com/starford/mediacat/internal/registry"
)

// Dialects accepted by Open.
const (
	DialectMySQL  = "mysql"
	DialectSQLite = "sqlite"
)

type nodeRow struct {
	ID       int64  `gorm:"primaryKey;autoIncrement:false"`
	ParentID int64  `gorm:"index"`
	Class    string `gorm:"size:255"`
	UpdateID uint64
	Doc      string `gorm:"type:text"`
}

func (nodeRow) TableName() string { return "catalog_nodes" }

type seqRow struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"`
}

func (seqRow) TableName() string { return "catalog_node_seq" }

type metaRow struct {
	ContentKey string `gorm:"primaryKey;size:64"`
	Path       string `gorm:"index;size:1024"`
	MTime      time.Time
	Doc        string `gorm:"type:text"`
}

func (metaRow) TableName() string { return "catalog_metas" }

// Store is a registry backend over gorm.
type Store struct {
	db *gorm.DB
}

var _ registry.Registry = (*Store)(nil)

// Open connects with the given dialect and migrates the catalog tables.
func Open(dialect, dsn string, log *slog.Logger) (*Store, error) {
	var dial gorm.Dialector
	switch dialect {
	case DialectMySQL:
		dial = mysql.Open(dsn)
	case DialectSQLite:
		dial = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("gormstore: unsupported dialect %q", dialect)
	}

	gormLogger := logger.New(
		slog.NewLogLogger(log.Handler(), slog.LevelWarn),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		},
	)
	db, err := gorm.Open(dial, &gorm.Config{Logger: gormLogger})
	if err != nil {
		return nil, fmt.Errorf("gormstore: open: %w", err)
	}
	if err := db.AutoMigrate(&nodeRow{}, &seqRow{}, &metaRow{}); err != nil {
		return nil, fmt.Errorf("gormstore: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) AllocateNodeID(ctx context.Context) (models.NodeID, error) {
	row := seqRow{}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return models.NoID, fmt.Errorf("gormstore: allocate: %w", err)
	}
	return models.NodeID(row.ID), nil
}

// SaveNode upserts the node. A non-empty change is replayed onto the stored
// document in a transaction.
func (s *Store) SaveNode(ctx context.Context, n *models.Node, change models.Change) error {
	rec := n.Snapshot()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(change) > 0 {
			var row nodeRow
			err := tx.First(&row, int64(n.ID)).Error
			switch {
			case errors.Is(err, gorm.ErrRecordNotFound):
			case err != nil:
				return fmt.Errorf("gormstore: load node %s: %w", n.ID, err)
			default:
				var stored models.Record
				if err := json.Unmarshal([]byte(row.Doc), &stored); err != nil {
					return fmt.Errorf("gormstore: decode node %s: %w", n.ID, err)
				}
				if err := models.ApplyChange(&stored, change); err != nil {
					return err
				}
				rec = stored
			}
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("gormstore: encode node %s: %w", n.ID, err)
		}
		row := nodeRow{
			ID:       int64(rec.ID),
			ParentID: int64(rec.ParentID),
			Class:    rec.Class,
			UpdateID: rec.UpdateID,
			Doc:      string(data),
		}
		return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
	})
}

func (s *Store) GetNodeByID(ctx context.Context, id models.NodeID) (*models.Node, error) {
	var row nodeRow
	err := s.db.WithContext(ctx).First(&row, int64(id)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, registry.NotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("gormstore: get node %s: %w", id, err)
	}
	return models.DecodeNode([]byte(row.Doc))
}

func (s *Store) UnregisterNode(ctx context.Context, n *models.Node) error {
	if err := s.db.WithContext(ctx).Delete(&nodeRow{}, int64(n.ID)).Error; err != nil {
		return fmt.Errorf("gormstore: delete node %s: %w", n.ID, err)
	}
	return nil
}

func (s *Store) GetMetas(ctx context.Context, path string, mtime time.Time) (models.Attributes, error) {
	var row metaRow
	err := s.db.WithContext(ctx).Where("content_key = ?", checksum.ContentKey(path, mtime)).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("gormstore: get metas %s: %w", path, err)
	}
	var out models.Attributes
	if err := json.Unmarshal([]byte(row.Doc), &out); err != nil {
		return nil, fmt.Errorf("gormstore: decode metas %s: %w", path, err)
	}
	return out, nil
}

func (s *Store) PutMetas(ctx context.Context, path string, mtime time.Time, metas models.Attributes) error {
	data, err := json.Marshal(metas)
	if err != nil {
		return fmt.Errorf("gormstore: encode metas %s: %w", path, err)
	}
	row := metaRow{ContentKey: checksum.ContentKey(path, mtime), Path: path, MTime: mtime.UTC(), Doc: string(data)}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("path = ? AND content_key <> ?", path, row.ContentKey).Delete(&metaRow{}).Error; err != nil {
			return err
		}
		return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
	})
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
