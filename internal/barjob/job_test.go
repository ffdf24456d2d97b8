package barjob

import (
	"context"
	"iter"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"barchive/internal/barconfig"
	"barchive/internal/barindex"
	"barchive/internal/barindex/sqlitecat"
	"barchive/internal/barpipeline"
	"barchive/internal/barstorage"
)

func newCatalog(t *testing.T) *sqlitecat.Store {
	t.Helper()
	store, err := sqlitecat.Open(":memory:", nil)
	if err != nil {
		t.Fatalf("open catalog: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func newTarget(t *testing.T, name string) Target {
	t.Helper()
	adapter, err := barstorage.NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	return Target{Name: name, Adapter: adapter}
}

func seqOf(entries ...barpipeline.SourceEntry) iter.Seq[barpipeline.SourceEntry] {
	return func(yield func(barpipeline.SourceEntry) bool) {
		for _, e := range entries {
			if !yield(e) {
				return
			}
		}
	}
}

func TestJobRunCompletesAndRecordsHistory(t *testing.T) {
	cat := newCatalog(t)
	pipeline := barpipeline.New(cat, 0, nil)
	pool := NewPool(2, nil)
	defer pool.Shutdown()

	dir := t.TempDir()
	path := filepath.Join(dir, "f.txt")
	if err := os.WriteFile(path, []byte("data"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	j := New(uuid.New(), uuid.New(), cat, pool, pipeline, barconfig.Config{
		Mode: barconfig.ModeFull,
	}, []Target{newTarget(t, "vol0001")}, nil)

	out, err := j.Run(context.Background(), seqOf(barpipeline.SourceEntry{Path: path, Name: "f.txt"}))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.State != barindex.EntityComplete {
		t.Fatalf("expected EntityComplete, got %v", out.State)
	}
	if out.TotalEntryCount != 1 {
		t.Fatalf("expected 1 entry processed, got %d", out.TotalEntryCount)
	}

	hist, err := cat.ListHistory(context.Background(), barindex.Filter{}, barindex.Order{}, barindex.Page{})
	if err != nil {
		t.Fatalf("ListHistory: %v", err)
	}
	if len(hist) != 1 {
		t.Fatalf("expected 1 history row, got %d", len(hist))
	}
}

func TestJobRunFansOutAcrossTargets(t *testing.T) {
	cat := newCatalog(t)
	pipeline := barpipeline.New(cat, 0, nil)
	pool := NewPool(2, nil)
	defer pool.Shutdown()

	dir := t.TempDir()
	path := filepath.Join(dir, "f.txt")
	if err := os.WriteFile(path, []byte("data"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	j := New(uuid.New(), uuid.New(), cat, pool, pipeline, barconfig.Config{
		Mode: barconfig.ModeFull,
	}, []Target{newTarget(t, "a"), newTarget(t, "b")}, nil)

	out, err := j.Run(context.Background(), seqOf(barpipeline.SourceEntry{Path: path, Name: "f.txt"}))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	storages, err := cat.ListStorages(context.Background(), barindex.Filter{IDEquals: &barindex.IndexID{Kind: barindex.KindEntity, N: out.EntityID.N}}, barindex.Order{}, barindex.Page{})
	if err != nil {
		t.Fatalf("ListStorages: %v", err)
	}
	if len(storages) != 2 {
		t.Fatalf("expected 2 storages (one per target), got %d", len(storages))
	}
	for _, s := range storages {
		if s.State != barindex.StorageOK {
			t.Fatalf("expected storage %s to be OK, got %v", s.Name, s.State)
		}
	}
}

func TestJobRunAbortsOnCancellation(t *testing.T) {
	cat := newCatalog(t)
	pipeline := barpipeline.New(cat, 0, nil)
	pool := NewPool(2, nil)
	defer pool.Shutdown()

	j := New(uuid.New(), uuid.New(), cat, pool, pipeline, barconfig.Config{
		Mode: barconfig.ModeFull,
	}, []Target{newTarget(t, "vol0001")}, nil)
	j.Abort()

	dir := t.TempDir()
	path := filepath.Join(dir, "f.txt")
	if err := os.WriteFile(path, []byte("data"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	_, err := j.Run(context.Background(), seqOf(barpipeline.SourceEntry{Path: path, Name: "f.txt"}))
	if err == nil {
		t.Fatal("expected an error from an aborted run")
	}
}
