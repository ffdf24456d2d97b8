// Package remote implements the master-index RPC forwarding decorator: a
// Proxy that satisfies barindex.Catalog by forwarding every call over
// HTTP+JWT to a Server, which replicates mutating calls through
// hashicorp/raft before applying them to an embedded sqlitecat.Store.
//
// Commands are dispatched through a raft.FSM the same way a replicated
// config store would: write methods marshal their arguments and call
// raft.Apply, read methods are served directly from the embedded store.
// Commands are plain Go structs encoded with msgpack rather than a
// protobuf oneof, since generating protobuf stubs has no place in this
// exercise and msgpack has no native sum-type support; the RPC transport
// is plain net/http (msgpack request bodies, JSON responses) rather than a
// gRPC service.
package remote

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"barchive/internal/barindex"
)

// opcode names the mutating Catalog operation a command applies.
type opcode string

const (
	opNewUUID            opcode = "new_uuid"
	opNewEntity          opcode = "new_entity"
	opUpdateEntityState  opcode = "update_entity_state"
	opNewStorage         opcode = "new_storage"
	opUpdateStorageState opcode = "update_storage_state"
	opAddFileEntry       opcode = "add_file_entry"
	opAddImageEntry      opcode = "add_image_entry"
	opAddDirectoryEntry  opcode = "add_directory_entry"
	opAddLinkEntry       opcode = "add_link_entry"
	opAddHardlinkEntry   opcode = "add_hardlink_entry"
	opAddSpecialEntry    opcode = "add_special_entry"
	opDeleteStorage      opcode = "delete_storage"
	opNewHistory         opcode = "new_history"
	opDeleteHistory      opcode = "delete_history"

	// Read-only opcodes, accepted only by the /query endpoint: served
	// directly from the master's embedded store, never through raft.Apply.
	opLookupPriorEntry opcode = "lookup_prior_entry"
	opListEntities     opcode = "list_entities"
	opListStorages     opcode = "list_storages"
	opListEntries      opcode = "list_entries"
	opListHistory      opcode = "list_history"
)

// command is one replicated log entry: an opcode plus its msgpack-encoded
// argument struct. Kept as a flat envelope rather than one struct per op
// embedded in an interface, since msgpack has no native sum-type support.
type command struct {
	Op   opcode
	Args []byte
}

// result is what Server.applyCommand returns through raft.Apply's response,
// and what is sent back over HTTP: either an IndexID or an error string.
type result struct {
	ID  barindex.IndexID
	Err string
}

func (r result) toError() error {
	if r.Err == "" {
		return nil
	}
	return fmt.Errorf("%s", r.Err)
}

func marshalCommand(op opcode, args any) ([]byte, error) {
	argData, err := msgpack.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("marshal %s args: %w", op, err)
	}
	data, err := msgpack.Marshal(command{Op: op, Args: argData})
	if err != nil {
		return nil, fmt.Errorf("marshal command envelope: %w", err)
	}
	return data, nil
}

func unmarshalCommand(data []byte) (command, error) {
	var cmd command
	if err := msgpack.Unmarshal(data, &cmd); err != nil {
		return command{}, fmt.Errorf("unmarshal command envelope: %w", err)
	}
	return cmd, nil
}

// Argument structs for each opcode. Read-only List*/Lookup* calls never go
// through raft; they are plain reads against the local embedded store.

type newUUIDArgs struct {
	JobUUID uuid.UUID
}

type newEntityArgs struct {
	UUIDID       barindex.IndexID
	ScheduleUUID uuid.UUID
	Type         barindex.EntityType
	Created      time.Time
}

type updateEntityStateArgs struct {
	ID    barindex.IndexID
	State barindex.EntityState
}

type newStorageArgs struct {
	EntityID barindex.IndexID
	Name     string
}

type updateStorageStateArgs struct {
	ID      barindex.IndexID
	State   barindex.StorageState
	ErrMsg  string
}

type addFileEntryArgs struct {
	StorageID barindex.IndexID
	Entry     barindex.FileEntry
}

type addImageEntryArgs struct {
	StorageID barindex.IndexID
	Entry     barindex.ImageEntry
}

type addDirectoryEntryArgs struct {
	StorageID barindex.IndexID
	Entry     barindex.DirectoryEntry
}

type addLinkEntryArgs struct {
	StorageID barindex.IndexID
	Entry     barindex.LinkEntry
}

type addHardlinkEntryArgs struct {
	StorageID barindex.IndexID
	Entry     barindex.HardlinkEntry
}

type addSpecialEntryArgs struct {
	StorageID barindex.IndexID
	Entry     barindex.SpecialEntry
}

type deleteStorageArgs struct {
	ID barindex.IndexID
}

type newHistoryArgs struct {
	History barindex.History
}

type deleteHistoryArgs struct {
	ID barindex.IndexID
}

type lookupPriorEntryArgs struct {
	UUIDID barindex.IndexID
	Name   string
}

type listArgs struct {
	Filter barindex.Filter
	Order  barindex.Order
	Page   barindex.Page
}
