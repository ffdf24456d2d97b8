// Package sqlitecat is the reference Index Catalog backend (spec section
// 4.8): a direct database/sql implementation over modernc.org/sqlite,
// ported from a single-writer database/sql config store (single-writer pragma
// set, embedded numbered migrations, one migration per transaction).
package sqlitecat

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"barchive/internal/barerr"
	"barchive/internal/barindex"
	"barchive/internal/barlog"
)

const timeFormat = time.RFC3339Nano

// Store is a SQLite-backed barindex.Catalog.
type Store struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

var _ barindex.Catalog = (*Store)(nil)

// Open opens (creating if necessary) a catalog database at path and runs
// any pending migrations. path may be ":memory:" for tests.
func Open(path string, logger *slog.Logger) (*Store, error) {
	logger = barlog.Default(logger).With("component", "barindex/sqlitecat")

	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create index directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite index: %w", err)
	}

	// Single-writer-per-file invariant (spec section 6 "Persisted state
	// layout"): one connection total, so SQLite's own locking plus this
	// pool size enforce it without a separate advisory lock file.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set journal_mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set foreign_keys: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{db: db, path: path, logger: logger}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// NewUUID returns the IndexID for jobUUID, inserting a new uuids row if
// this is the first time it has been observed (idempotent, spec section
// 4.8: "reuses existing row").
func (s *Store) NewUUID(ctx context.Context, jobUUID uuid.UUID) (barindex.IndexID, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return barindex.None, fmt.Errorf("begin new_uuid: %w", err)
	}
	defer tx.Rollback()

	var id int64
	err = tx.QueryRowContext(ctx, "SELECT id FROM uuids WHERE job_uuid = ?", jobUUID.String()).Scan(&id)
	switch {
	case err == sql.ErrNoRows:
		res, err := tx.ExecContext(ctx, "INSERT INTO uuids (job_uuid) VALUES (?)", jobUUID.String())
		if err != nil {
			return barindex.None, fmt.Errorf("insert uuid %s: %w", jobUUID, err)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return barindex.None, fmt.Errorf("new_uuid last insert id: %w", err)
		}
	case err != nil:
		return barindex.None, fmt.Errorf("lookup uuid %s: %w", jobUUID, err)
	}

	if err := tx.Commit(); err != nil {
		return barindex.None, fmt.Errorf("commit new_uuid: %w", err)
	}
	return barindex.IndexID{Kind: barindex.KindUUID, N: id}, nil
}

// NewEntity inserts an entities row in RUNNING state (spec section 4.7:
// "Pending->Running: entity row inserted in C8").
func (s *Store) NewEntity(ctx context.Context, uuidID barindex.IndexID, scheduleUUID uuid.UUID, typ barindex.EntityType, created time.Time) (barindex.IndexID, error) {
	if uuidID.Kind != barindex.KindUUID {
		return barindex.None, fmt.Errorf("new_entity: %w: uuidID is not a UUID kind id", barerr.ErrIntegrityViolation)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO entities (uuid_id, schedule_uuid, type, state, created_date_time)
		VALUES (?, ?, ?, ?, ?)`,
		uuidID.N, scheduleUUID.String(), string(typ), string(barindex.EntityRunning), created.UTC().Format(timeFormat))
	if err != nil {
		return barindex.None, fmt.Errorf("insert entity: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return barindex.None, fmt.Errorf("new_entity last insert id: %w", err)
	}
	return barindex.IndexID{Kind: barindex.KindEntity, N: id}, nil
}

// UpdateEntityState transitions an entities row, per spec section 4.7's
// state machine (Running -> Completed|Failed|Aborted, recorded here as
// COMPLETE|ERROR; "Failed"/"Aborted" distinctions live in the history row).
func (s *Store) UpdateEntityState(ctx context.Context, id barindex.IndexID, state barindex.EntityState) error {
	if id.Kind != barindex.KindEntity {
		return fmt.Errorf("update_entity_state: %w: id is not an entity kind id", barerr.ErrIntegrityViolation)
	}
	res, err := s.db.ExecContext(ctx, "UPDATE entities SET state = ? WHERE id = ?", string(state), id.N)
	if err != nil {
		return fmt.Errorf("update entity %d state: %w", id.N, err)
	}
	return requireRowsAffected(res, "entity", id.N)
}

// NewStorage inserts a storages row in CREATING state.
func (s *Store) NewStorage(ctx context.Context, entityID barindex.IndexID, name string) (barindex.IndexID, error) {
	if entityID.Kind != barindex.KindEntity {
		return barindex.None, fmt.Errorf("new_storage: %w: entityID is not an entity kind id", barerr.ErrIntegrityViolation)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO storages (entity_id, name, size, state, error_message, created)
		VALUES (?, ?, 0, ?, '', ?)`,
		entityID.N, name, string(barindex.StorageCreating), time.Now().UTC().Format(timeFormat))
	if err != nil {
		return barindex.None, fmt.Errorf("insert storage %s: %w", name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return barindex.None, fmt.Errorf("new_storage last insert id: %w", err)
	}
	return barindex.IndexID{Kind: barindex.KindStorage, N: id}, nil
}

// UpdateStorageState transitions a storages row through
// CREATING->CREATED->TRANSFERRING->{OK,ERROR} (spec section 3).
func (s *Store) UpdateStorageState(ctx context.Context, id barindex.IndexID, state barindex.StorageState, errMsg string) error {
	if id.Kind != barindex.KindStorage {
		return fmt.Errorf("update_storage_state: %w: id is not a storage kind id", barerr.ErrIntegrityViolation)
	}
	res, err := s.db.ExecContext(ctx, "UPDATE storages SET state = ?, error_message = ? WHERE id = ?",
		string(state), errMsg, id.N)
	if err != nil {
		return fmt.Errorf("update storage %d state: %w", id.N, err)
	}
	return requireRowsAffected(res, "storage", id.N)
}

// Backup writes a self-contained copy of the entire catalog database to w.
// It asks SQLite itself to copy the live database into a fresh file
// (VACUUM INTO) rather than reading table rows by hand, so a writer
// committing concurrently never leaves Backup holding a half-copied view.
func (s *Store) Backup(ctx context.Context, w io.Writer) error {
	tmp, err := os.CreateTemp("", "sqlitecat-backup-*.db")
	if err != nil {
		return fmt.Errorf("create backup temp file: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	if _, err := s.db.ExecContext(ctx, "VACUUM INTO ?", tmpPath); err != nil {
		return fmt.Errorf("vacuum into backup file: %w", err)
	}

	f, err := os.Open(tmpPath)
	if err != nil {
		return fmt.Errorf("open backup file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("stream backup file: %w", err)
	}
	return nil
}

// Restore replaces the catalog's on-disk database with the bytes read from
// r (as produced by Backup) and reopens the connection against the
// replacement file. Not supported against an in-memory (":memory:") store,
// since there is no file to swap underneath it.
func (s *Store) Restore(ctx context.Context, r io.Reader) error {
	if s.path == ":memory:" {
		return fmt.Errorf("sqlitecat: restore not supported for an in-memory store")
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, "sqlitecat-restore-*.db")
	if err != nil {
		return fmt.Errorf("create restore temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write restore temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close restore temp file: %w", err)
	}

	if err := s.db.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close catalog before restore: %w", err)
	}
	for _, suffix := range []string{"", "-wal", "-shm"} {
		os.Remove(s.path + suffix)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("install restored catalog: %w", err)
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return fmt.Errorf("reopen restored catalog: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return fmt.Errorf("set journal_mode after restore: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return fmt.Errorf("set foreign_keys after restore: %w", err)
	}
	s.db = db
	return nil
}

func requireRowsAffected(res sql.Result, what string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for %s %d: %w", what, id, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %d: %w", what, id, barerr.ErrNotFound)
	}
	return nil
}
