package sqlitecat

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"barchive/internal/barindex"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:", nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewUUIDIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	job := uuid.New()

	id1, err := s.NewUUID(ctx, job)
	if err != nil {
		t.Fatalf("new_uuid: %v", err)
	}
	id2, err := s.NewUUID(ctx, job)
	if err != nil {
		t.Fatalf("new_uuid again: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("new_uuid not idempotent: %+v != %+v", id1, id2)
	}

	other, err := s.NewUUID(ctx, uuid.New())
	if err != nil {
		t.Fatalf("new_uuid for distinct job: %v", err)
	}
	if other == id1 {
		t.Fatalf("distinct jobUUIDs got the same IndexID")
	}
}

func TestEntityStorageLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	uuidID, err := s.NewUUID(ctx, uuid.New())
	if err != nil {
		t.Fatalf("new_uuid: %v", err)
	}
	entityID, err := s.NewEntity(ctx, uuidID, uuid.New(), barindex.EntityFull, time.Now())
	if err != nil {
		t.Fatalf("new_entity: %v", err)
	}

	storageID, err := s.NewStorage(ctx, entityID, "vol0001")
	if err != nil {
		t.Fatalf("new_storage: %v", err)
	}

	if err := s.UpdateStorageState(ctx, storageID, barindex.StorageOK, ""); err != nil {
		t.Fatalf("update_storage_state: %v", err)
	}
	if err := s.UpdateEntityState(ctx, entityID, barindex.EntityComplete); err != nil {
		t.Fatalf("update_entity_state: %v", err)
	}

	storages, err := s.ListStorages(ctx, barindex.Filter{IDEquals: &entityID}, barindex.Order{}, barindex.Page{})
	if err != nil {
		t.Fatalf("list_storages: %v", err)
	}
	if len(storages) != 1 || storages[0].State != barindex.StorageOK {
		t.Fatalf("unexpected storages after update: %+v", storages)
	}

	entities, err := s.ListEntities(ctx, barindex.Filter{UUIDEquals: &uuid.UUID{}}, barindex.Order{}, barindex.Page{})
	if err != nil {
		t.Fatalf("list_entities with zero uuid filter: %v", err)
	}
	if len(entities) != 0 {
		t.Fatalf("expected no entities for zero uuid, got %d", len(entities))
	}
}

func TestAddFileEntryAndLookupPriorEntry(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	uuidID, err := s.NewUUID(ctx, uuid.New())
	if err != nil {
		t.Fatalf("new_uuid: %v", err)
	}
	entityID, err := s.NewEntity(ctx, uuidID, uuid.New(), barindex.EntityFull, time.Now())
	if err != nil {
		t.Fatalf("new_entity: %v", err)
	}
	storageID, err := s.NewStorage(ctx, entityID, "vol0001")
	if err != nil {
		t.Fatalf("new_storage: %v", err)
	}

	mtime := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	entryID, err := s.AddFileEntry(ctx, storageID, barindex.FileEntry{
		Name: "hello.txt",
		Attrs: barindex.Attributes{
			UID: 1000, GID: 1000, Mode: 0o644,
			MTime: mtime, CTime: mtime, ATime: mtime,
			XAttrs: map[string][]byte{"user.note": []byte("hi")},
		},
		Size:     12,
		Checksum: "deadbeef",
		Fragments: []barindex.Fragment{
			{Offset: 0, Length: 12, Checksum: "deadbeef"},
		},
	})
	if err != nil {
		t.Fatalf("add_file_entry: %v", err)
	}
	if entryID.Kind != barindex.KindEntry {
		t.Fatalf("add_file_entry returned wrong kind: %+v", entryID)
	}

	prior, err := s.LookupPriorEntry(ctx, uuidID, "hello.txt")
	if err != nil {
		t.Fatalf("lookup_prior_entry: %v", err)
	}
	if prior == nil {
		t.Fatal("expected a prior entry")
	}
	if prior.Size != 12 || prior.Checksum != "deadbeef" || !prior.TimeLastChanged.Equal(mtime) {
		t.Fatalf("unexpected prior entry: %+v", prior)
	}

	// Unchanged (size, time) must not be treated as a new entry by a caller
	// (the incremental decision lives in barpipeline; here we just confirm
	// the lookup surfaces exactly what was stored).
	missing, err := s.LookupPriorEntry(ctx, uuidID, "does-not-exist")
	if err != nil {
		t.Fatalf("lookup_prior_entry missing: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil for unknown name, got %+v", missing)
	}
}

func TestDeleteStorageRemovesEntries(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	uuidID, err := s.NewUUID(ctx, uuid.New())
	if err != nil {
		t.Fatalf("new_uuid: %v", err)
	}
	entityID, err := s.NewEntity(ctx, uuidID, uuid.New(), barindex.EntityFull, time.Now())
	if err != nil {
		t.Fatalf("new_entity: %v", err)
	}
	storageID, err := s.NewStorage(ctx, entityID, "vol0001")
	if err != nil {
		t.Fatalf("new_storage: %v", err)
	}
	mtime := time.Now()
	if _, err := s.AddDirectoryEntry(ctx, storageID, barindex.DirectoryEntry{
		Name:  "etc",
		Attrs: barindex.Attributes{MTime: mtime, CTime: mtime, ATime: mtime},
	}); err != nil {
		t.Fatalf("add_directory_entry: %v", err)
	}

	if err := s.DeleteStorage(ctx, storageID); err != nil {
		t.Fatalf("delete_storage: %v", err)
	}

	entries, err := s.ListEntries(ctx, barindex.Filter{IDEquals: &storageID}, barindex.Order{}, barindex.Page{})
	if err != nil {
		t.Fatalf("list_entries after delete: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no entries after delete_storage, got %d", len(entries))
	}

	if err := s.DeleteStorage(ctx, storageID); err == nil {
		t.Fatal("expected error deleting an already-deleted storage")
	}
}

func TestHistoryAppendAndList(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	job := uuid.New()
	h := barindex.History{
		JobUUID:         job,
		ScheduleUUID:    uuid.New(),
		HostName:        "backup01",
		UserName:        "root",
		Type:            barindex.EntityFull,
		Created:         time.Now(),
		TotalEntryCount: 100,
		TotalEntrySize:  1 << 20,
		ErrorEntryCount: 1,
		ErrorEntrySize:  4096,
		Duration:        2 * time.Second,
	}
	id, err := s.NewHistory(ctx, h)
	if err != nil {
		t.Fatalf("new_history: %v", err)
	}

	list, err := s.ListHistory(ctx, barindex.Filter{UUIDEquals: &job}, barindex.Order{Column: "created", Desc: true}, barindex.Page{})
	if err != nil {
		t.Fatalf("list_history: %v", err)
	}
	if len(list) != 1 || list[0].ErrorEntryCount != 1 || list[0].TotalEntryCount != 100 {
		t.Fatalf("unexpected history: %+v", list)
	}

	if err := s.DeleteHistory(ctx, id); err != nil {
		t.Fatalf("delete_history: %v", err)
	}
	list, err = s.ListHistory(ctx, barindex.Filter{UUIDEquals: &job}, barindex.Order{}, barindex.Page{})
	if err != nil {
		t.Fatalf("list_history after delete: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("expected no history after delete, got %d", len(list))
	}
}
