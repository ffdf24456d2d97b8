package barpipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"barchive/internal/bararchive"
	"barchive/internal/barconfig"
	"barchive/internal/barindex"
	"barchive/internal/barindex/sqlitecat"
	"barchive/internal/barstorage"
)

func newTestCatalog(t *testing.T) *sqlitecat.Store {
	t.Helper()
	store, err := sqlitecat.Open(":memory:", nil)
	if err != nil {
		t.Fatalf("open catalog: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestWriter(t *testing.T) *bararchive.Writer {
	t.Helper()
	adapter, err := barstorage.NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	w, err := bararchive.Create(adapter, "vol", bararchive.WriterConfig{
		Compression:    barconfig.CompressionNone,
		Encryption:     barconfig.EncryptionNone,
		VolumeMaxBytes: 1 << 30,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return w
}

func newRows(t *testing.T, cat *sqlitecat.Store) (uuidID, storageID barindex.IndexID) {
	t.Helper()
	ctx := context.Background()
	uuidID, err := cat.NewUUID(ctx, uuid.New())
	if err != nil {
		t.Fatalf("NewUUID: %v", err)
	}
	entityID, err := cat.NewEntity(ctx, uuidID, uuid.New(), barindex.EntityFull, time.Now())
	if err != nil {
		t.Fatalf("NewEntity: %v", err)
	}
	storageID, err = cat.NewStorage(ctx, entityID, "vol0001")
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}
	return uuidID, storageID
}

func TestPipelineProcessFile(t *testing.T) {
	cat := newTestCatalog(t)
	uuidID, storageID := newRows(t, cat)
	w := newTestWriter(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "hello.txt")
	if err := os.WriteFile(path, []byte("hello world!"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	p := New(cat, 4, nil) // tiny segment size to exercise multi-segment streaming
	var progressCalls int
	err := p.Process(context.Background(), uuidID, storageID, barconfig.ModeFull,
		SourceEntry{Path: path, Name: "hello.txt"}, w, func(pr Progress) { progressCalls++ })
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if progressCalls == 0 {
		t.Fatal("expected at least one progress callback")
	}
	if _, err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	entries, err := cat.ListEntries(context.Background(), barindex.Filter{IDEquals: &storageID}, barindex.Order{}, barindex.Page{})
	if err != nil {
		t.Fatalf("ListEntries: %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "hello.txt" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestPipelineIncrementalSkipsUnchanged(t *testing.T) {
	cat := newTestCatalog(t)
	uuidID, storageID1 := newRows(t, cat)

	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	if err := os.WriteFile(path, []byte("v1"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	p := New(cat, defaultSegmentSize, nil)
	w1 := newTestWriter(t)
	if err := p.Process(context.Background(), uuidID, storageID1, barconfig.ModeFull, SourceEntry{Path: path, Name: "a.txt"}, w1, nil); err != nil {
		t.Fatalf("first Process: %v", err)
	}
	if _, err := w1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Second job, same uuidID, unchanged file: incremental mode must not
	// record a new entries row for it (spec 4.6/8 scenario 3).
	entityID2, err := cat.NewEntity(context.Background(), uuidID, uuid.New(), barindex.EntityIncremental, time.Now())
	if err != nil {
		t.Fatalf("NewEntity: %v", err)
	}
	storageID2, err := cat.NewStorage(context.Background(), entityID2, "vol0002")
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}

	w2 := newTestWriter(t)
	if err := p.Process(context.Background(), uuidID, storageID2, barconfig.ModeIncremental, SourceEntry{Path: path, Name: "a.txt"}, w2, nil); err != nil {
		t.Fatalf("second Process: %v", err)
	}
	if _, err := w2.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	entries, err := cat.ListEntries(context.Background(), barindex.Filter{IDEquals: &storageID2}, barindex.Order{}, barindex.Page{})
	if err != nil {
		t.Fatalf("ListEntries: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no new entries for unchanged file, got %+v", entries)
	}
}

func TestPipelineDirectoryAndSymlink(t *testing.T) {
	cat := newTestCatalog(t)
	uuidID, storageID := newRows(t, cat)
	w := newTestWriter(t)

	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	target := filepath.Join(dir, "target.txt")
	if err := os.WriteFile(target, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	link := filepath.Join(dir, "link")
	if err := os.Symlink(target, link); err != nil {
		t.Fatalf("Symlink: %v", err)
	}

	p := New(cat, defaultSegmentSize, nil)
	ctx := context.Background()
	if err := p.Process(ctx, uuidID, storageID, barconfig.ModeFull, SourceEntry{Path: sub, Name: "sub"}, w, nil); err != nil {
		t.Fatalf("Process(dir): %v", err)
	}
	if err := p.Process(ctx, uuidID, storageID, barconfig.ModeFull, SourceEntry{Path: link, Name: "link"}, w, nil); err != nil {
		t.Fatalf("Process(link): %v", err)
	}
	if _, err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	entries, err := cat.ListEntries(ctx, barindex.Filter{IDEquals: &storageID}, barindex.Order{}, barindex.Page{})
	if err != nil {
		t.Fatalf("ListEntries: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %+v", entries)
	}
}

func TestPipelineHardlink(t *testing.T) {
	cat := newTestCatalog(t)
	uuidID, storageID := newRows(t, cat)
	w := newTestWriter(t)

	dir := t.TempDir()
	a := filepath.Join(dir, "a")
	b := filepath.Join(dir, "b")
	if err := os.WriteFile(a, []byte("shared content"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := os.Link(a, b); err != nil {
		t.Fatalf("Link: %v", err)
	}

	p := New(cat, defaultSegmentSize, nil)
	ctx := context.Background()
	if err := p.Process(ctx, uuidID, storageID, barconfig.ModeFull, SourceEntry{Path: a, Name: "a"}, w, nil); err != nil {
		t.Fatalf("Process(a): %v", err)
	}
	if err := p.Process(ctx, uuidID, storageID, barconfig.ModeFull, SourceEntry{Path: b, Name: "b"}, w, nil); err != nil {
		t.Fatalf("Process(b): %v", err)
	}
	if _, err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	entries, err := cat.ListEntries(ctx, barindex.Filter{IDEquals: &storageID}, barindex.Order{}, barindex.Page{})
	if err != nil {
		t.Fatalf("ListEntries: %v", err)
	}
	var sawHardlink bool
	for _, e := range entries {
		if e.Type == barindex.EntryTypeHardlink {
			sawHardlink = true
		}
	}
	if !sawHardlink {
		t.Fatalf("expected one hardlink entry among %+v", entries)
	}
}

func TestPipelineCancellation(t *testing.T) {
	cat := newTestCatalog(t)
	uuidID, storageID := newRows(t, cat)
	w := newTestWriter(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "big.bin")
	if err := os.WriteFile(path, make([]byte, 64), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := New(cat, 8, nil)
	err := p.Process(ctx, uuidID, storageID, barconfig.ModeFull, SourceEntry{Path: path, Name: "big.bin"}, w, nil)
	if err == nil {
		t.Fatal("expected cancellation error")
	}
}
