package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/hashicorp/raft"
	"github.com/vmihailenco/msgpack/v5"

	"barchive/internal/barindex"
	"barchive/internal/barindex/sqlitecat"
)

// fsm implements raft.FSM by dispatching deserialized commands onto an
// embedded sqlitecat.Store: dispatch-by-type Apply plus a snapshot/restore
// pair, replaying Catalog mutations instead of generic config commands.
type fsm struct {
	store *sqlitecat.Store
}

var _ raft.FSM = (*fsm)(nil)

func newFSM(store *sqlitecat.Store) *fsm {
	return &fsm{store: store}
}

// Apply deserializes a committed raft log entry and dispatches it to the
// embedded store, returning a result for the caller blocked on raft.Apply.
func (f *fsm) Apply(l *raft.Log) any {
	cmd, err := unmarshalCommand(l.Data)
	if err != nil {
		return result{Err: err.Error()}
	}

	ctx := context.Background()
	id, err := f.dispatch(ctx, cmd)
	if err != nil {
		return result{Err: err.Error()}
	}
	return result{ID: id}
}

func (f *fsm) dispatch(ctx context.Context, cmd command) (barindex.IndexID, error) {
	switch cmd.Op {
	case opNewUUID:
		var a newUUIDArgs
		if err := msgpack.Unmarshal(cmd.Args, &a); err != nil {
			return barindex.None, err
		}
		return f.store.NewUUID(ctx, a.JobUUID)

	case opNewEntity:
		var a newEntityArgs
		if err := msgpack.Unmarshal(cmd.Args, &a); err != nil {
			return barindex.None, err
		}
		return f.store.NewEntity(ctx, a.UUIDID, a.ScheduleUUID, a.Type, a.Created)

	case opUpdateEntityState:
		var a updateEntityStateArgs
		if err := msgpack.Unmarshal(cmd.Args, &a); err != nil {
			return barindex.None, err
		}
		return barindex.None, f.store.UpdateEntityState(ctx, a.ID, a.State)

	case opNewStorage:
		var a newStorageArgs
		if err := msgpack.Unmarshal(cmd.Args, &a); err != nil {
			return barindex.None, err
		}
		return f.store.NewStorage(ctx, a.EntityID, a.Name)

	case opUpdateStorageState:
		var a updateStorageStateArgs
		if err := msgpack.Unmarshal(cmd.Args, &a); err != nil {
			return barindex.None, err
		}
		return barindex.None, f.store.UpdateStorageState(ctx, a.ID, a.State, a.ErrMsg)

	case opAddFileEntry:
		var a addFileEntryArgs
		if err := msgpack.Unmarshal(cmd.Args, &a); err != nil {
			return barindex.None, err
		}
		return f.store.AddFileEntry(ctx, a.StorageID, a.Entry)

	case opAddImageEntry:
		var a addImageEntryArgs
		if err := msgpack.Unmarshal(cmd.Args, &a); err != nil {
			return barindex.None, err
		}
		return f.store.AddImageEntry(ctx, a.StorageID, a.Entry)

	case opAddDirectoryEntry:
		var a addDirectoryEntryArgs
		if err := msgpack.Unmarshal(cmd.Args, &a); err != nil {
			return barindex.None, err
		}
		return f.store.AddDirectoryEntry(ctx, a.StorageID, a.Entry)

	case opAddLinkEntry:
		var a addLinkEntryArgs
		if err := msgpack.Unmarshal(cmd.Args, &a); err != nil {
			return barindex.None, err
		}
		return f.store.AddLinkEntry(ctx, a.StorageID, a.Entry)

	case opAddHardlinkEntry:
		var a addHardlinkEntryArgs
		if err := msgpack.Unmarshal(cmd.Args, &a); err != nil {
			return barindex.None, err
		}
		return f.store.AddHardlinkEntry(ctx, a.StorageID, a.Entry)

	case opAddSpecialEntry:
		var a addSpecialEntryArgs
		if err := msgpack.Unmarshal(cmd.Args, &a); err != nil {
			return barindex.None, err
		}
		return f.store.AddSpecialEntry(ctx, a.StorageID, a.Entry)

	case opDeleteStorage:
		var a deleteStorageArgs
		if err := msgpack.Unmarshal(cmd.Args, &a); err != nil {
			return barindex.None, err
		}
		return barindex.None, f.store.DeleteStorage(ctx, a.ID)

	case opNewHistory:
		var a newHistoryArgs
		if err := msgpack.Unmarshal(cmd.Args, &a); err != nil {
			return barindex.None, err
		}
		return f.store.NewHistory(ctx, a.History)

	case opDeleteHistory:
		var a deleteHistoryArgs
		if err := msgpack.Unmarshal(cmd.Args, &a); err != nil {
			return barindex.None, err
		}
		return barindex.None, f.store.DeleteHistory(ctx, a.ID)

	default:
		return barindex.None, fmt.Errorf("unknown command opcode: %s", cmd.Op)
	}
}

// Snapshot serializes the embedded catalog's current on-disk state (via
// sqlitecat.Store.Backup) so that a node joining the cluster, or a
// follower lagging far enough behind that raft has already compacted the
// log entries it would need, can be brought current with InstallSnapshot
// instead of ending up with a silently empty store.
func (f *fsm) Snapshot() (raft.FSMSnapshot, error) {
	var buf bytes.Buffer
	if err := f.store.Backup(context.Background(), &buf); err != nil {
		return nil, fmt.Errorf("snapshot catalog: %w", err)
	}
	return &catalogSnapshot{data: buf.Bytes()}, nil
}

// Restore loads a snapshot produced by Snapshot back into the embedded
// catalog, replacing whatever it held before.
func (f *fsm) Restore(rc io.ReadCloser) error {
	defer rc.Close()
	return f.store.Restore(context.Background(), rc)
}

type catalogSnapshot struct {
	data []byte
}

func (c *catalogSnapshot) Persist(sink raft.SnapshotSink) error {
	if _, err := sink.Write(c.data); err != nil {
		sink.Cancel()
		return fmt.Errorf("persist catalog snapshot: %w", err)
	}
	return sink.Close()
}

func (c *catalogSnapshot) Release() {}
