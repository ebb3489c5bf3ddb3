package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/starford/mediacat/internal/checksum"
	"github.com/starford/mediacat/internal/models"
	"github.com/starford/mediacat/internal/registry"
)

var _ registry.Registry = (*Store)(nil)

// AllocateNodeID draws the next id from the node_seq autoincrement table.
func (s *Store) AllocateNodeID(ctx context.Context) (models.NodeID, error) {
	res, err := s.conn.ExecContext(ctx, `INSERT INTO node_seq DEFAULT VALUES`)
	if err != nil {
		return models.NoID, fmt.Errorf("sqlitestore: allocate: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return models.NoID, fmt.Errorf("sqlitestore: allocate: %w", err)
	}
	return models.NodeID(id), nil
}

// SaveNode upserts the node document. A non-empty change is replayed onto
// the stored document inside the same transaction.
func (s *Store) SaveNode(ctx context.Context, n *models.Node, change models.Change) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlitestore: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	rec := n.Snapshot()
	if len(change) > 0 {
		var doc string
		err := tx.QueryRowContext(ctx, `SELECT doc FROM nodes WHERE id = ?`, n.ID).Scan(&doc)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return fmt.Errorf("sqlitestore: load node %s: %w", n.ID, err)
		default:
			var stored models.Record
			if err := json.Unmarshal([]byte(doc), &stored); err != nil {
				return fmt.Errorf("sqlitestore: decode node %s: %w", n.ID, err)
			}
			if err := models.ApplyChange(&stored, change); err != nil {
				return err
			}
			rec = stored
		}
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("sqlitestore: encode node %s: %w", n.ID, err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO nodes (id, parent_id, class, update_id, doc)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			parent_id = excluded.parent_id,
			class     = excluded.class,
			update_id = excluded.update_id,
			doc       = excluded.doc
	`, int64(rec.ID), int64(rec.ParentID), rec.Class, int64(rec.UpdateID), string(data))
	if err != nil {
		return fmt.Errorf("sqlitestore: upsert node %s: %w", n.ID, err)
	}
	return tx.Commit()
}

func (s *Store) GetNodeByID(ctx context.Context, id models.NodeID) (*models.Node, error) {
	var doc string
	err := s.conn.QueryRowContext(ctx, `SELECT doc FROM nodes WHERE id = ?`, int64(id)).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, registry.NotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: get node %s: %w", id, err)
	}
	return models.DecodeNode([]byte(doc))
}

func (s *Store) UnregisterNode(ctx context.Context, n *models.Node) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM nodes WHERE id = ?`, int64(n.ID)); err != nil {
		return fmt.Errorf("sqlitestore: delete node %s: %w", n.ID, err)
	}
	return nil
}

func (s *Store) GetMetas(ctx context.Context, path string, mtime time.Time) (models.Attributes, error) {
	var doc string
	err := s.conn.QueryRowContext(ctx, `SELECT doc FROM metas WHERE key = ?`, checksum.ContentKey(path, mtime)).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: get metas %s: %w", path, err)
	}
	var out models.Attributes
	if err := json.Unmarshal([]byte(doc), &out); err != nil {
		return nil, fmt.Errorf("sqlitestore: decode metas %s: %w", path, err)
	}
	return out, nil
}

// PutMetas stores metas and drops entries recorded for older versions of path.
func (s *Store) PutMetas(ctx context.Context, path string, mtime time.Time, metas models.Attributes) error {
	data, err := json.Marshal(metas)
	if err != nil {
		return fmt.Errorf("sqlitestore: encode metas %s: %w", path, err)
	}
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlitestore: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	key := checksum.ContentKey(path, mtime)
	_, _ = tx.ExecContext(ctx, `DELETE FROM metas WHERE path = ? AND key <> ?`, path, key)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO metas (key, path, mtime, doc) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET doc = excluded.doc
	`, key, path, mtime.UTC(), string(data))
	if err != nil {
		return fmt.Errorf("sqlitestore: put metas %s: %w", path, err)
	}
	return tx.Commit()
}

// Children returns the ids stored with parent as their structural parent.
func (s *Store) Children(ctx context.Context, parent models.NodeID) ([]models.NodeID, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT id FROM nodes WHERE parent_id = ? ORDER BY id`, int64(parent))
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: children of %s: %w", parent, err)
	}
	defer rows.Close()

	var out []models.NodeID
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, models.NodeID(id))
	}
	return out, rows.Err()
}
