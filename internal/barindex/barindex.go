// Package barindex implements the Index Catalog (spec section 4.8): the
// relational schema and query surface mapping job/schedule UUIDs to
// entities, storages, entries, and history. The catalog is the single
// authority for durable state about what has been backed up; the archive
// engine (bararchive) is only the wire format.
//
// Catalog is satisfied by internal/barindex/sqlitecat (a direct
// database/sql-backed implementation) and internal/barindex/remote (a
// decorator that forwards calls to a master instance). Callers depend only
// on this package's types and interface, never on a concrete backend.
package barindex

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Kind tags an IndexID with the entity it identifies (spec section 3).
type Kind byte

const (
	KindNone Kind = iota
	KindUUID
	KindEntity
	KindStorage
	KindEntry
	KindFile
	KindImage
	KindDirectory
	KindLink
	KindHardlink
	KindSpecial
	KindHistory
	// KindWildcard matches any id of its Kind in a Filter predicate. It is
	// never stored; IDEquals(KindWildcard, 0) means "any entity of this kind".
	KindWildcard
)

// IndexID is a typed 64-bit identity: (kind tag, numeric id). The zero
// value (Kind=KindNone, N=0) means NONE.
type IndexID struct {
	Kind Kind
	N    int64
}

// None is the IndexID meaning "no such record".
var None = IndexID{}

// IsNone reports whether id is the NONE identity.
func (id IndexID) IsNone() bool { return id.Kind == KindNone && id.N == 0 }

// EntityType distinguishes what kind of run produced an entity row.
type EntityType string

const (
	EntityFull        EntityType = "full"
	EntityIncremental EntityType = "incremental"
	EntityDifferential EntityType = "differential"
	EntityContinuous  EntityType = "continuous"
)

// EntityState is the entities lifecycle (spec section 3).
type EntityState string

const (
	EntityRunning  EntityState = "RUNNING"
	EntityComplete EntityState = "COMPLETE"
	EntityError    EntityState = "ERROR"
)

// StorageState is the storages lifecycle (spec section 3).
type StorageState string

const (
	StorageCreating     StorageState = "CREATING"
	StorageCreated      StorageState = "CREATED"
	StorageTransferring StorageState = "TRANSFERRING"
	StorageOK           StorageState = "OK"
	StorageError        StorageState = "ERROR"
)

// EntryType names which per-type child table an entries row extends.
type EntryType string

const (
	EntryTypeFile      EntryType = "file"
	EntryTypeImage     EntryType = "image"
	EntryTypeDirectory EntryType = "directory"
	EntryTypeLink      EntryType = "link"
	EntryTypeHardlink  EntryType = "hardlink"
	EntryTypeSpecial   EntryType = "special"
)

// Fragment describes one data-block child of a file/image entry, recording
// enough to reconstruct dedup/restore bookkeeping without re-reading the
// archive (entryFragments child table, spec section 3).
type Fragment struct {
	Offset   int64
	Length   int64
	Checksum string // hex-encoded content hash of this fragment, used for dedup lookups
}

// Attributes carries the shared filesystem attributes every entry variant
// has (spec section 3: "Shared attributes").
type Attributes struct {
	UID, GID            uint32
	Mode                uint32
	MTime, CTime, ATime time.Time
	XAttrs              map[string][]byte
}

// FileEntry is a regular-file entries row plus its fileEntries child row.
type FileEntry struct {
	Name       string
	Attrs      Attributes
	Size       int64
	Fragments  []Fragment
	Checksum   string
}

// ImageEntry is a block-device entries row.
type ImageEntry struct {
	Name      string
	Attrs     Attributes
	Size      int64
	Fragments []Fragment
}

// DirectoryEntry is a directory entries row.
type DirectoryEntry struct {
	Name  string
	Attrs Attributes
}

// LinkEntry is a symlink entries row.
type LinkEntry struct {
	Name   string
	Attrs  Attributes
	Target string
}

// HardlinkEntry references a previously-seen inode by its stored entry id
// (spec section 9: "the hardlink entry stores the target entry id by
// value, not by pointer").
type HardlinkEntry struct {
	Name           string
	Attrs          Attributes
	TargetEntryID  IndexID
}

// SpecialEntry is a char/block/fifo/socket entries row.
type SpecialEntry struct {
	Name  string
	Attrs Attributes
	RDev  uint64
}

// PriorEntry is what LookupPriorEntry returns for the incremental decision
// (spec section 4.6 step (b), section 8 "Incremental decision").
type PriorEntry struct {
	EntryID        IndexID
	TimeLastChanged time.Time
	Size           int64
	Checksum       string
}

// Entity is one row of the entities relation.
type Entity struct {
	ID            IndexID
	UUIDID        IndexID
	ScheduleUUID  uuid.UUID
	Type          EntityType
	State         EntityState
	CreatedDateTime time.Time
}

// Storage is one row of the storages relation.
type Storage struct {
	ID           IndexID
	EntityID     IndexID
	Name         string
	Size         int64
	State        StorageState
	ErrorMessage string
	Created      time.Time
}

// Entry is one row of the entries relation (the type-generic parent row;
// per-type attributes live in the child tables and are not repeated here).
type Entry struct {
	ID              IndexID
	EntityID        IndexID
	Type            EntryType
	Name            string
	TimeLastChanged time.Time
}

// History is one completed-job record (append-only, spec section 3).
type History struct {
	ID                IndexID
	JobUUID           uuid.UUID
	ScheduleUUID      uuid.UUID
	HostName          string
	UserName          string
	Type              EntityType
	Created           time.Time
	ErrorMessage      string
	Duration          time.Duration
	TotalEntryCount   int64
	TotalEntrySize    int64
	SkippedEntryCount int64
	SkippedEntrySize  int64
	ErrorEntryCount   int64
	ErrorEntrySize    int64
}

// Order sorts a List* call's results by one named column, ascending or
// descending (spec section 4.8: "Ordering is caller-specified").
type Order struct {
	Column string
	Desc   bool
}

// Page bounds a List* call's results (spec section 4.8: "(offset, limit)").
type Page struct {
	Offset int
	Limit  int
}

// Filter composes conjunctive typed predicates over a List* call (spec
// section 4.8). The zero Filter matches everything. Only the predicates
// set (non-nil / non-zero) are applied; every additional predicate narrows
// the result set further (pure AND, no OR/NOT).
type Filter struct {
	IDEquals     *IndexID // KindWildcard N=0 means "any id of that Kind"
	UUIDEquals   *uuid.UUID
	TimeAfter    *time.Time
	TimeBefore   *time.Time
	NamePattern  string // SQL LIKE pattern (% and _ wildcards), empty means unset
}

// Catalog is the operation set spec section 4.8 names. It is implemented
// directly by sqlitecat.Store and, as a forwarding decorator, by
// remote.Proxy; callers throughout barpipeline/barjob depend only on this
// interface.
type Catalog interface {
	NewUUID(ctx context.Context, jobUUID uuid.UUID) (IndexID, error)
	NewEntity(ctx context.Context, uuidID IndexID, scheduleUUID uuid.UUID, typ EntityType, created time.Time) (IndexID, error)
	UpdateEntityState(ctx context.Context, id IndexID, state EntityState) error
	NewStorage(ctx context.Context, entityID IndexID, name string) (IndexID, error)
	UpdateStorageState(ctx context.Context, id IndexID, state StorageState, errMsg string) error

	AddFileEntry(ctx context.Context, storageID IndexID, f FileEntry) (IndexID, error)
	AddImageEntry(ctx context.Context, storageID IndexID, img ImageEntry) (IndexID, error)
	AddDirectoryEntry(ctx context.Context, storageID IndexID, d DirectoryEntry) (IndexID, error)
	AddLinkEntry(ctx context.Context, storageID IndexID, l LinkEntry) (IndexID, error)
	AddHardlinkEntry(ctx context.Context, storageID IndexID, h HardlinkEntry) (IndexID, error)
	AddSpecialEntry(ctx context.Context, storageID IndexID, s SpecialEntry) (IndexID, error)

	LookupPriorEntry(ctx context.Context, uuidID IndexID, name string) (*PriorEntry, error)
	DeleteStorage(ctx context.Context, id IndexID) error

	ListEntities(ctx context.Context, f Filter, o Order, p Page) ([]Entity, error)
	ListStorages(ctx context.Context, f Filter, o Order, p Page) ([]Storage, error)
	ListEntries(ctx context.Context, f Filter, o Order, p Page) ([]Entry, error)

	NewHistory(ctx context.Context, h History) (IndexID, error)
	ListHistory(ctx context.Context, f Filter, o Order, p Page) ([]History, error)
	DeleteHistory(ctx context.Context, id IndexID) error

	Close() error
}
