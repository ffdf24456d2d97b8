package remote

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/raft"

	"barchive/internal/barindex"
	"barchive/internal/barindex/sqlitecat"
)

func newTestFSM(t *testing.T) *fsm {
	t.Helper()
	store, err := sqlitecat.Open(":memory:", nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return newFSM(store)
}

// newFileFSM opens a file-backed (not in-memory) store: Snapshot/Restore
// need a real database file to VACUUM INTO and swap underneath the
// connection.
func newFileFSM(t *testing.T, name string) *fsm {
	t.Helper()
	store, err := sqlitecat.Open(filepath.Join(t.TempDir(), name), nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return newFSM(store)
}

// applyCmd marshals op/args and applies it to the fsm, failing the test on a
// marshal error or a non-nil result.Err.
func applyCmd(t *testing.T, f *fsm, op opcode, args any) result {
	t.Helper()
	data, err := marshalCommand(op, args)
	if err != nil {
		t.Fatalf("marshal command: %v", err)
	}
	res, ok := f.Apply(&raft.Log{Data: data}).(result)
	if !ok {
		t.Fatalf("apply did not return a result")
	}
	return res
}

func TestFSMApplyNewUUIDIdempotent(t *testing.T) {
	f := newTestFSM(t)
	job := uuid.New()

	r1 := applyCmd(t, f, opNewUUID, newUUIDArgs{JobUUID: job})
	if r1.Err != "" {
		t.Fatalf("new_uuid: %s", r1.Err)
	}
	r2 := applyCmd(t, f, opNewUUID, newUUIDArgs{JobUUID: job})
	if r2.Err != "" {
		t.Fatalf("new_uuid again: %s", r2.Err)
	}
	if r1.ID != r2.ID {
		t.Fatalf("new_uuid not idempotent via fsm: %+v != %+v", r1.ID, r2.ID)
	}
}

func TestFSMApplyEntityStorageLifecycle(t *testing.T) {
	f := newTestFSM(t)

	uuidRes := applyCmd(t, f, opNewUUID, newUUIDArgs{JobUUID: uuid.New()})
	if uuidRes.Err != "" {
		t.Fatalf("new_uuid: %s", uuidRes.Err)
	}

	entityRes := applyCmd(t, f, opNewEntity, newEntityArgs{
		UUIDID: uuidRes.ID, ScheduleUUID: uuid.New(), Type: barindex.EntityFull, Created: time.Now(),
	})
	if entityRes.Err != "" {
		t.Fatalf("new_entity: %s", entityRes.Err)
	}
	if entityRes.ID.Kind != barindex.KindEntity {
		t.Fatalf("unexpected entity id: %+v", entityRes.ID)
	}

	storageRes := applyCmd(t, f, opNewStorage, newStorageArgs{EntityID: entityRes.ID, Name: "vol0001"})
	if storageRes.Err != "" {
		t.Fatalf("new_storage: %s", storageRes.Err)
	}

	updateRes := applyCmd(t, f, opUpdateStorageState, updateStorageStateArgs{
		ID: storageRes.ID, State: barindex.StorageOK,
	})
	if updateRes.Err != "" {
		t.Fatalf("update_storage_state: %s", updateRes.Err)
	}

	storages, err := f.store.ListStorages(context.Background(), barindex.Filter{IDEquals: &entityRes.ID}, barindex.Order{}, barindex.Page{})
	if err != nil {
		t.Fatalf("list_storages: %v", err)
	}
	if len(storages) != 1 || storages[0].State != barindex.StorageOK {
		t.Fatalf("unexpected storages: %+v", storages)
	}
}

// TestFSMSnapshotRestoreMatchesSource exercises the path a lagging
// follower or a newly-joined node takes: one fsm's catalog accumulates
// several mutations, Snapshot captures it, and Restore loads that snapshot
// into a second, independent fsm's store, which must then read back the
// same rows.
func TestFSMSnapshotRestoreMatchesSource(t *testing.T) {
	source := newFileFSM(t, "source.db")

	uuidRes := applyCmd(t, source, opNewUUID, newUUIDArgs{JobUUID: uuid.New()})
	if uuidRes.Err != "" {
		t.Fatalf("new_uuid: %s", uuidRes.Err)
	}
	entityRes := applyCmd(t, source, opNewEntity, newEntityArgs{
		UUIDID: uuidRes.ID, ScheduleUUID: uuid.New(), Type: barindex.EntityFull, Created: time.Now(),
	})
	if entityRes.Err != "" {
		t.Fatalf("new_entity: %s", entityRes.Err)
	}
	storageRes := applyCmd(t, source, opNewStorage, newStorageArgs{EntityID: entityRes.ID, Name: "vol0001"})
	if storageRes.Err != "" {
		t.Fatalf("new_storage: %s", storageRes.Err)
	}

	snap, err := source.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	var buf bytes.Buffer
	if err := snap.Persist(&bufSink{buf: &buf}); err != nil {
		t.Fatalf("Persist: %v", err)
	}
	snap.Release()

	follower := newFileFSM(t, "follower.db")
	if err := follower.Restore(io.NopCloser(&buf)); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	storages, err := follower.store.ListStorages(context.Background(), barindex.Filter{IDEquals: &entityRes.ID}, barindex.Order{}, barindex.Page{})
	if err != nil {
		t.Fatalf("list_storages on follower: %v", err)
	}
	if len(storages) != 1 || storages[0].Name != "vol0001" {
		t.Fatalf("follower storages after restore: %+v", storages)
	}
}

func TestFSMApplyUnknownOpcode(t *testing.T) {
	f := newTestFSM(t)
	data, err := marshalCommand(opcode("bogus"), struct{}{})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	res, ok := f.Apply(&raft.Log{Data: data}).(result)
	if !ok {
		t.Fatal("expected a result")
	}
	if res.Err == "" {
		t.Fatal("expected an error for an unknown opcode")
	}
}

// bufSink is a test raft.SnapshotSink backed by a bytes.Buffer.
type bufSink struct {
	buf *bytes.Buffer
}

func (s *bufSink) Write(p []byte) (int, error) { return s.buf.Write(p) }
func (s *bufSink) Close() error                { return nil }
func (s *bufSink) Cancel() error               { return nil }
func (s *bufSink) ID() string                  { return "test" }
