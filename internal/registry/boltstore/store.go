// Package boltstore persists catalog nodes in an embedded bbolt file.
package boltstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/starford/mediacat/internal/checksum"
	"github.com/starford/mediacat/internal/models"
	"github.com/starford/mediacat/internal/registry"
)

var (
	nodesBucket = []byte("nodes")
	metasBucket = []byte("metas")
)

// Store is a registry backend over a single bbolt database file.
type Store struct {
	db *bolt.DB
}

var _ registry.Registry = (*Store)(nil)

// Open opens (or creates) the database at path and ensures its buckets.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("boltstore: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{nodesBucket, metasBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("boltstore: %w", err)
	}
	return &Store{db: db}, nil
}

func nodeKey(id models.NodeID) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(id))
	return b[:]
}

// AllocateNodeID uses the nodes bucket sequence, which starts at 1.
func (s *Store) AllocateNodeID(_ context.Context) (models.NodeID, error) {
	var id models.NodeID
	err := s.db.Update(func(tx *bolt.Tx) error {
		seq, err := tx.Bucket(nodesBucket).NextSequence()
		if err != nil {
			return err
		}
		id = models.NodeID(seq)
		return nil
	})
	if err != nil {
		return models.NoID, fmt.Errorf("boltstore: allocate: %w", err)
	}
	return id, nil
}

// SaveNode writes the node document. A non-empty change is replayed onto the
// stored document within one read-modify-write transaction.
func (s *Store) SaveNode(_ context.Context, n *models.Node, change models.Change) error {
	rec := n.Snapshot()
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(nodesBucket)
		key := nodeKey(n.ID)
		if len(change) > 0 {
			if data := b.Get(key); data != nil {
				var stored models.Record
				if err := json.Unmarshal(data, &stored); err != nil {
					return fmt.Errorf("boltstore: decode node %s: %w", n.ID, err)
				}
				if err := models.ApplyChange(&stored, change); err != nil {
					return err
				}
				rec = stored
			}
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("boltstore: encode node %s: %w", n.ID, err)
		}
		if err := b.Put(key, data); err != nil {
			return fmt.Errorf("boltstore: put node %s: %w", n.ID, err)
		}
		return nil
	})
}

func (s *Store) GetNodeByID(_ context.Context, id models.NodeID) (*models.Node, error) {
	var n *models.Node
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(nodesBucket).Get(nodeKey(id))
		if data == nil {
			return registry.NotFound(id)
		}
		// data is only valid inside the transaction; DecodeNode copies it.
		var err error
		n, err = models.DecodeNode(data)
		return err
	})
	if err != nil {
		return nil, err
	}
	return n, nil
}

func (s *Store) UnregisterNode(_ context.Context, n *models.Node) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(nodesBucket).Delete(nodeKey(n.ID))
	})
}

func (s *Store) GetMetas(_ context.Context, path string, mtime time.Time) (models.Attributes, error) {
	var out models.Attributes
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(metasBucket).Get([]byte(checksum.ContentKey(path, mtime)))
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &out)
	})
	if err != nil {
		return nil, fmt.Errorf("boltstore: get metas %s: %w", path, err)
	}
	return out, nil
}

func (s *Store) PutMetas(_ context.Context, path string, mtime time.Time, metas models.Attributes) error {
	data, err := json.Marshal(metas)
	if err != nil {
		return fmt.Errorf("boltstore: encode metas %s: %w", path, err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(metasBucket).Put([]byte(checksum.ContentKey(path, mtime)), data)
	})
}

// Close closes the database file.
func (s *Store) Close() error {
	return s.db.Close()
}
