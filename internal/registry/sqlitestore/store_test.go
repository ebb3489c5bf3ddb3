package sqlitestore

import (
	"context"
	"path/filepath"
	"slices"
	"testing"

	"github.com/starford/mediacat/internal/models"
	"github.com/starford/mediacat/internal/registry"
	"github.com/starford/mediacat/internal/registry/registrytest"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func TestSchemaCreation(t *testing.T) {
	s := testStore(t)
	defer s.Close()
	for _, table := range []string{"nodes", "node_seq", "metas"} {
		var count int
		if err := s.conn.QueryRow(`SELECT count(*) FROM ` + table).Scan(&count); err != nil {
			t.Fatalf("%s table missing: %v", table, err)
		}
	}
}

func TestContract(t *testing.T) {
	registrytest.Run(t, func(t *testing.T) registry.Registry { return testStore(t) })
}

func TestChildren(t *testing.T) {
	s := testStore(t)
	defer s.Close()
	ctx := context.Background()

	for _, id := range []models.NodeID{3, 1, 2} {
		n := models.NewNode(id, "n", "object.item", nil)
		n.ParentID = models.RootID
		if err := s.SaveNode(ctx, n, nil); err != nil {
			t.Fatal(err)
		}
	}
	got, err := s.Children(ctx, models.RootID)
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(got, []models.NodeID{1, 2, 3}) {
		t.Errorf("children = %v", got)
	}
}
