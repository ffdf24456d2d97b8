package sqlitecat

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"barchive/internal/barerr"
	"barchive/internal/barindex"
)

func encodeXAttrs(m map[string][]byte) ([]byte, error) {
	if len(m) == 0 {
		return nil, nil
	}
	return msgpack.Marshal(m)
}

func decodeXAttrs(b []byte) (map[string][]byte, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var m map[string][]byte
	if err := msgpack.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("decode xattrs: %w", err)
	}
	return m, nil
}

// insertEntry inserts the shared entries row and returns its IndexID; the
// caller inserts the per-type child row (and any fragments) in the same
// transaction.
func insertEntry(ctx context.Context, tx *sql.Tx, storageID barindex.IndexID, typ barindex.EntryType, name string, changed time.Time) (int64, error) {
	var entityID int64
	if err := tx.QueryRowContext(ctx, "SELECT entity_id FROM storages WHERE id = ?", storageID.N).Scan(&entityID); err != nil {
		if err == sql.ErrNoRows {
			return 0, fmt.Errorf("add entry: storage %d: %w", storageID.N, barerr.ErrNotFound)
		}
		return 0, fmt.Errorf("add entry: lookup storage %d: %w", storageID.N, err)
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO entries (entity_id, storage_id, type, name, time_last_changed)
		VALUES (?, ?, ?, ?, ?)`,
		entityID, storageID.N, string(typ), name, changed.UTC().Format(timeFormat))
	if err != nil {
		return 0, fmt.Errorf("insert entry %s: %w", name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("add entry last insert id: %w", err)
	}
	return id, nil
}

func insertFragments(ctx context.Context, tx *sql.Tx, entryID int64, frags []barindex.Fragment) error {
	for _, f := range frags {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO entry_fragments (entry_id, offset, length, checksum) VALUES (?, ?, ?, ?)`,
			entryID, f.Offset, f.Length, f.Checksum); err != nil {
			return fmt.Errorf("insert fragment of entry %d: %w", entryID, err)
		}
	}
	return nil
}

func withTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) (int64, error)) (barindex.IndexID, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return barindex.None, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()
	n, err := fn(tx)
	if err != nil {
		return barindex.None, err
	}
	if err := tx.Commit(); err != nil {
		return barindex.None, fmt.Errorf("commit: %w", err)
	}
	return barindex.IndexID{Kind: barindex.KindEntry, N: n}, nil
}

// AddFileEntry records a regular-file entries row plus its fileEntries
// child row and any data-block fragments, in one transaction.
func (s *Store) AddFileEntry(ctx context.Context, storageID barindex.IndexID, f barindex.FileEntry) (barindex.IndexID, error) {
	xattrs, err := encodeXAttrs(f.Attrs.XAttrs)
	if err != nil {
		return barindex.None, err
	}
	id, err := withTx(ctx, s.db, func(tx *sql.Tx) (int64, error) {
		entryID, err := insertEntry(ctx, tx, storageID, barindex.EntryTypeFile, f.Name, f.Attrs.MTime)
		if err != nil {
			return 0, err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO file_entries (entry_id, uid, gid, mode, mtime, ctime, atime, xattrs, size, checksum)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			entryID, f.Attrs.UID, f.Attrs.GID, f.Attrs.Mode,
			f.Attrs.MTime.UTC().Format(timeFormat), f.Attrs.CTime.UTC().Format(timeFormat), f.Attrs.ATime.UTC().Format(timeFormat),
			xattrs, f.Size, f.Checksum); err != nil {
			return 0, fmt.Errorf("insert file_entries %s: %w", f.Name, err)
		}
		if err := insertFragments(ctx, tx, entryID, f.Fragments); err != nil {
			return 0, err
		}
		return entryID, nil
	})
	return id, err
}

// AddImageEntry records a block-device entries row.
func (s *Store) AddImageEntry(ctx context.Context, storageID barindex.IndexID, img barindex.ImageEntry) (barindex.IndexID, error) {
	xattrs, err := encodeXAttrs(img.Attrs.XAttrs)
	if err != nil {
		return barindex.None, err
	}
	id, err := withTx(ctx, s.db, func(tx *sql.Tx) (int64, error) {
		entryID, err := insertEntry(ctx, tx, storageID, barindex.EntryTypeImage, img.Name, img.Attrs.MTime)
		if err != nil {
			return 0, err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO image_entries (entry_id, uid, gid, mode, mtime, ctime, atime, xattrs, size)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			entryID, img.Attrs.UID, img.Attrs.GID, img.Attrs.Mode,
			img.Attrs.MTime.UTC().Format(timeFormat), img.Attrs.CTime.UTC().Format(timeFormat), img.Attrs.ATime.UTC().Format(timeFormat),
			xattrs, img.Size); err != nil {
			return 0, fmt.Errorf("insert image_entries %s: %w", img.Name, err)
		}
		if err := insertFragments(ctx, tx, entryID, img.Fragments); err != nil {
			return 0, err
		}
		return entryID, nil
	})
	return id, err
}

// AddDirectoryEntry records a directory entries row.
func (s *Store) AddDirectoryEntry(ctx context.Context, storageID barindex.IndexID, d barindex.DirectoryEntry) (barindex.IndexID, error) {
	xattrs, err := encodeXAttrs(d.Attrs.XAttrs)
	if err != nil {
		return barindex.None, err
	}
	id, err := withTx(ctx, s.db, func(tx *sql.Tx) (int64, error) {
		entryID, err := insertEntry(ctx, tx, storageID, barindex.EntryTypeDirectory, d.Name, d.Attrs.MTime)
		if err != nil {
			return 0, err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO directory_entries (entry_id, uid, gid, mode, mtime, ctime, atime, xattrs)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			entryID, d.Attrs.UID, d.Attrs.GID, d.Attrs.Mode,
			d.Attrs.MTime.UTC().Format(timeFormat), d.Attrs.CTime.UTC().Format(timeFormat), d.Attrs.ATime.UTC().Format(timeFormat),
			xattrs); err != nil {
			return 0, fmt.Errorf("insert directory_entries %s: %w", d.Name, err)
		}
		return entryID, nil
	})
	return id, err
}

// AddLinkEntry records a symlink entries row.
func (s *Store) AddLinkEntry(ctx context.Context, storageID barindex.IndexID, l barindex.LinkEntry) (barindex.IndexID, error) {
	xattrs, err := encodeXAttrs(l.Attrs.XAttrs)
	if err != nil {
		return barindex.None, err
	}
	id, err := withTx(ctx, s.db, func(tx *sql.Tx) (int64, error) {
		entryID, err := insertEntry(ctx, tx, storageID, barindex.EntryTypeLink, l.Name, l.Attrs.MTime)
		if err != nil {
			return 0, err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO link_entries (entry_id, uid, gid, mode, mtime, ctime, atime, xattrs, target)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			entryID, l.Attrs.UID, l.Attrs.GID, l.Attrs.Mode,
			l.Attrs.MTime.UTC().Format(timeFormat), l.Attrs.CTime.UTC().Format(timeFormat), l.Attrs.ATime.UTC().Format(timeFormat),
			xattrs, l.Target); err != nil {
			return 0, fmt.Errorf("insert link_entries %s: %w", l.Name, err)
		}
		return entryID, nil
	})
	return id, err
}

// AddHardlinkEntry records a hardlink entries row referencing a previously
// stored entry id by value (spec section 9).
func (s *Store) AddHardlinkEntry(ctx context.Context, storageID barindex.IndexID, h barindex.HardlinkEntry) (barindex.IndexID, error) {
	if h.TargetEntryID.Kind != barindex.KindEntry {
		return barindex.None, fmt.Errorf("add_hardlink_entry: %w: target entry id is not an entry kind id", barerr.ErrIntegrityViolation)
	}
	xattrs, err := encodeXAttrs(h.Attrs.XAttrs)
	if err != nil {
		return barindex.None, err
	}
	id, err := withTx(ctx, s.db, func(tx *sql.Tx) (int64, error) {
		entryID, err := insertEntry(ctx, tx, storageID, barindex.EntryTypeHardlink, h.Name, h.Attrs.MTime)
		if err != nil {
			return 0, err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO hardlink_entries (entry_id, uid, gid, mode, mtime, ctime, atime, xattrs, target_entry_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			entryID, h.Attrs.UID, h.Attrs.GID, h.Attrs.Mode,
			h.Attrs.MTime.UTC().Format(timeFormat), h.Attrs.CTime.UTC().Format(timeFormat), h.Attrs.ATime.UTC().Format(timeFormat),
			xattrs, h.TargetEntryID.N); err != nil {
			return 0, fmt.Errorf("insert hardlink_entries %s: %w", h.Name, err)
		}
		return entryID, nil
	})
	return id, err
}

// AddSpecialEntry records a char/block/fifo/socket entries row.
func (s *Store) AddSpecialEntry(ctx context.Context, storageID barindex.IndexID, sp barindex.SpecialEntry) (barindex.IndexID, error) {
	xattrs, err := encodeXAttrs(sp.Attrs.XAttrs)
	if err != nil {
		return barindex.None, err
	}
	id, err := withTx(ctx, s.db, func(tx *sql.Tx) (int64, error) {
		entryID, err := insertEntry(ctx, tx, storageID, barindex.EntryTypeSpecial, sp.Name, sp.Attrs.MTime)
		if err != nil {
			return 0, err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO special_entries (entry_id, uid, gid, mode, mtime, ctime, atime, xattrs, rdev)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			entryID, sp.Attrs.UID, sp.Attrs.GID, sp.Attrs.Mode,
			sp.Attrs.MTime.UTC().Format(timeFormat), sp.Attrs.CTime.UTC().Format(timeFormat), sp.Attrs.ATime.UTC().Format(timeFormat),
			xattrs, sp.RDev); err != nil {
			return 0, fmt.Errorf("insert special_entries %s: %w", sp.Name, err)
		}
		return entryID, nil
	})
	return id, err
}

// LookupPriorEntry implements the incremental decision lookup (spec
// section 4.6/4.8, section 8 "Incremental decision"): the most recent
// entries row named name under any entity of uuidID, along with the size
// recorded for it if it was a file/image and the checksum if it was a file.
func (s *Store) LookupPriorEntry(ctx context.Context, uuidID barindex.IndexID, name string) (*barindex.PriorEntry, error) {
	if uuidID.Kind != barindex.KindUUID {
		return nil, fmt.Errorf("lookup_prior_entry: %w: uuidID is not a UUID kind id", barerr.ErrIntegrityViolation)
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT e.id, e.time_last_changed,
		       COALESCE(f.size, i.size, 0),
		       COALESCE(f.checksum, '')
		FROM entries e
		JOIN entities en ON en.id = e.entity_id
		LEFT JOIN file_entries f ON f.entry_id = e.id
		LEFT JOIN image_entries i ON i.entry_id = e.id
		WHERE en.uuid_id = ? AND e.name = ?
		ORDER BY e.id DESC LIMIT 1`, uuidID.N, name)

	var entryID int64
	var changedStr, checksum string
	var size int64
	if err := row.Scan(&entryID, &changedStr, &size, &checksum); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("lookup prior entry %s: %w", name, err)
	}
	changed, err := time.Parse(timeFormat, changedStr)
	if err != nil {
		return nil, fmt.Errorf("parse prior entry time %s: %w", name, err)
	}
	return &barindex.PriorEntry{
		EntryID:        barindex.IndexID{Kind: barindex.KindEntry, N: entryID},
		TimeLastChanged: changed,
		Size:           size,
		Checksum:       checksum,
	}, nil
}

// DeleteStorage removes a storages row and every entries row (and child
// rows) it owns, in one transaction (spec section 4.8: "removes the
// storage row and all its child entry rows in a single transaction").
func (s *Store) DeleteStorage(ctx context.Context, id barindex.IndexID) error {
	if id.Kind != barindex.KindStorage {
		return fmt.Errorf("delete_storage: %w: id is not a storage kind id", barerr.ErrIntegrityViolation)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete_storage: %w", err)
	}
	defer tx.Rollback()

	childTables := []string{
		"file_entries", "image_entries", "directory_entries",
		"link_entries", "hardlink_entries", "special_entries", "entry_fragments",
	}
	entryIDCol := map[string]string{"entry_fragments": "entry_id"}
	for _, t := range childTables {
		col := entryIDCol[t]
		if col == "" {
			col = "entry_id"
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(
			"DELETE FROM %s WHERE %s IN (SELECT id FROM entries WHERE storage_id = ?)", t, col),
			id.N); err != nil {
			return fmt.Errorf("delete %s for storage %d: %w", t, id.N, err)
		}
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM entries WHERE storage_id = ?", id.N); err != nil {
		return fmt.Errorf("delete entries for storage %d: %w", id.N, err)
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM storages WHERE id = ?", id.N)
	if err != nil {
		return fmt.Errorf("delete storage %d: %w", id.N, err)
	}
	if err := requireRowsAffected(res, "storage", id.N); err != nil {
		return err
	}
	return tx.Commit()
}

// whereClause builds a parameterized WHERE clause from f's set predicates,
// joining against uuids through uuidJoinCol (the column on the queried
// table's side used to reach a uuid, e.g. "uuid_id" for entities, or ""
// when the table has no uuid relation), so every caller-supplied value
// binds through a placeholder rather than string concatenation.
func whereClause(f barindex.Filter, idCol, uuidJoinTable, uuidJoinCol, timeCol, nameCol string) (string, []any) {
	var conds []string
	var args []any

	if f.IDEquals != nil && f.IDEquals.Kind != barindex.KindWildcard {
		conds = append(conds, idCol+" = ?")
		args = append(args, f.IDEquals.N)
	}
	if f.UUIDEquals != nil {
		if uuidJoinTable != "" {
			conds = append(conds, fmt.Sprintf("%s IN (SELECT id FROM %s WHERE job_uuid = ?)", uuidJoinCol, uuidJoinTable))
		} else {
			conds = append(conds, uuidJoinCol+" = ?")
		}
		args = append(args, f.UUIDEquals.String())
	}
	if f.TimeAfter != nil {
		conds = append(conds, timeCol+" >= ?")
		args = append(args, f.TimeAfter.UTC().Format(timeFormat))
	}
	if f.TimeBefore != nil {
		conds = append(conds, timeCol+" <= ?")
		args = append(args, f.TimeBefore.UTC().Format(timeFormat))
	}
	if f.NamePattern != "" && nameCol != "" {
		conds = append(conds, nameCol+" LIKE ?")
		args = append(args, f.NamePattern)
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func orderClause(o barindex.Order, allowed map[string]bool, def string) string {
	col := o.Column
	if col == "" || !allowed[col] {
		col = def
	}
	dir := "ASC"
	if o.Desc {
		dir = "DESC"
	}
	return fmt.Sprintf(" ORDER BY %s %s", col, dir)
}

func pageClause(p barindex.Page) (string, []any) {
	if p.Limit <= 0 {
		return "", nil
	}
	return " LIMIT ? OFFSET ?", []any{p.Limit, p.Offset}
}

var entityOrderCols = map[string]bool{"id": true, "created_date_time": true, "type": true, "state": true}
var storageOrderCols = map[string]bool{"id": true, "created": true, "name": true, "size": true, "state": true}
var entryOrderCols = map[string]bool{"id": true, "time_last_changed": true, "name": true, "type": true}
var historyOrderCols = map[string]bool{"id": true, "created": true, "duration_ms": true}

// ListEntities lists entities rows matching f, ordered by o, paged by p.
// f.IDEquals matches entities.id; f.UUIDEquals matches through uuids.job_uuid.
func (s *Store) ListEntities(ctx context.Context, f barindex.Filter, o barindex.Order, p barindex.Page) ([]barindex.Entity, error) {
	where, args := whereClause(f, "id", "uuids", "uuid_id", "created_date_time", "")
	query := "SELECT id, uuid_id, schedule_uuid, type, state, created_date_time FROM entities" + where
	query += orderClause(o, entityOrderCols, "id")
	limitClause, limitArgs := pageClause(p)
	query += limitClause
	args = append(args, limitArgs...)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	defer rows.Close()

	var out []barindex.Entity
	for rows.Next() {
		var e barindex.Entity
		var uuidID int64
		var scheduleUUID, createdStr string
		if err := rows.Scan(&e.ID.N, &uuidID, &scheduleUUID, &e.Type, &e.State, &createdStr); err != nil {
			return nil, fmt.Errorf("scan entity: %w", err)
		}
		e.ID.Kind = barindex.KindEntity
		e.UUIDID = barindex.IndexID{Kind: barindex.KindUUID, N: uuidID}
		if su, err := uuid.Parse(scheduleUUID); err == nil {
			e.ScheduleUUID = su
		}
		if t, err := time.Parse(timeFormat, createdStr); err == nil {
			e.CreatedDateTime = t
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListStorages lists storages rows matching f. f.IDEquals matches
// storages.entity_id when Kind is KindEntity, storages.id when KindStorage.
func (s *Store) ListStorages(ctx context.Context, f barindex.Filter, o barindex.Order, p barindex.Page) ([]barindex.Storage, error) {
	idCol := "id"
	if f.IDEquals != nil && f.IDEquals.Kind == barindex.KindEntity {
		idCol = "entity_id"
	}
	where, args := whereClause(f, idCol, "", "", "created", "name")
	query := "SELECT id, entity_id, name, size, state, error_message, created FROM storages" + where
	query += orderClause(o, storageOrderCols, "id")
	limitClause, limitArgs := pageClause(p)
	query += limitClause
	args = append(args, limitArgs...)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list storages: %w", err)
	}
	defer rows.Close()

	var out []barindex.Storage
	for rows.Next() {
		var st barindex.Storage
		var entityID int64
		var createdStr string
		if err := rows.Scan(&st.ID.N, &entityID, &st.Name, &st.Size, &st.State, &st.ErrorMessage, &createdStr); err != nil {
			return nil, fmt.Errorf("scan storage: %w", err)
		}
		st.ID.Kind = barindex.KindStorage
		st.EntityID = barindex.IndexID{Kind: barindex.KindEntity, N: entityID}
		if t, err := time.Parse(timeFormat, createdStr); err == nil {
			st.Created = t
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// ListEntries lists entries rows matching f. f.IDEquals matches
// entries.storage_id when Kind is KindStorage, entries.entity_id when
// KindEntity, entries.id when KindEntry.
func (s *Store) ListEntries(ctx context.Context, f barindex.Filter, o barindex.Order, p barindex.Page) ([]barindex.Entry, error) {
	idCol := "id"
	if f.IDEquals != nil {
		switch f.IDEquals.Kind {
		case barindex.KindStorage:
			idCol = "storage_id"
		case barindex.KindEntity:
			idCol = "entity_id"
		}
	}
	where, args := whereClause(f, idCol, "", "", "time_last_changed", "name")
	query := "SELECT id, entity_id, type, name, time_last_changed FROM entries" + where
	query += orderClause(o, entryOrderCols, "id")
	limitClause, limitArgs := pageClause(p)
	query += limitClause
	args = append(args, limitArgs...)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	var out []barindex.Entry
	for rows.Next() {
		var e barindex.Entry
		var entityID int64
		var changedStr string
		if err := rows.Scan(&e.ID.N, &entityID, &e.Type, &e.Name, &changedStr); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		e.ID.Kind = barindex.KindEntry
		e.EntityID = barindex.IndexID{Kind: barindex.KindEntity, N: entityID}
		if t, err := time.Parse(timeFormat, changedStr); err == nil {
			e.TimeLastChanged = t
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// NewHistory appends a completed-job history row (append-only, spec
// section 3).
func (s *Store) NewHistory(ctx context.Context, h barindex.History) (barindex.IndexID, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO history (job_uuid, schedule_uuid, host_name, user_name, type, created,
			error_message, duration_ms, total_entry_count, total_entry_size,
			skipped_entry_count, skipped_entry_size, error_entry_count, error_entry_size)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		h.JobUUID.String(), h.ScheduleUUID.String(), h.HostName, h.UserName, string(h.Type),
		h.Created.UTC().Format(timeFormat), h.ErrorMessage, h.Duration.Milliseconds(),
		h.TotalEntryCount, h.TotalEntrySize, h.SkippedEntryCount, h.SkippedEntrySize,
		h.ErrorEntryCount, h.ErrorEntrySize)
	if err != nil {
		return barindex.None, fmt.Errorf("insert history: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return barindex.None, fmt.Errorf("new_history last insert id: %w", err)
	}
	return barindex.IndexID{Kind: barindex.KindHistory, N: id}, nil
}

// ListHistory lists history rows matching f.
func (s *Store) ListHistory(ctx context.Context, f barindex.Filter, o barindex.Order, p barindex.Page) ([]barindex.History, error) {
	where, args := whereClause(f, "id", "", "job_uuid", "created", "")
	query := `SELECT id, job_uuid, schedule_uuid, host_name, user_name, type, created,
		error_message, duration_ms, total_entry_count, total_entry_size,
		skipped_entry_count, skipped_entry_size, error_entry_count, error_entry_size FROM history` + where
	query += orderClause(o, historyOrderCols, "id")
	limitClause, limitArgs := pageClause(p)
	query += limitClause
	args = append(args, limitArgs...)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	var out []barindex.History
	for rows.Next() {
		var h barindex.History
		var jobUUID, scheduleUUID, createdStr string
		var durationMs int64
		if err := rows.Scan(&h.ID.N, &jobUUID, &scheduleUUID, &h.HostName, &h.UserName, &h.Type, &createdStr,
			&h.ErrorMessage, &durationMs, &h.TotalEntryCount, &h.TotalEntrySize,
			&h.SkippedEntryCount, &h.SkippedEntrySize, &h.ErrorEntryCount, &h.ErrorEntrySize); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		h.ID.Kind = barindex.KindHistory
		if ju, err := uuid.Parse(jobUUID); err == nil {
			h.JobUUID = ju
		}
		if su, err := uuid.Parse(scheduleUUID); err == nil {
			h.ScheduleUUID = su
		}
		if t, err := time.Parse(timeFormat, createdStr); err == nil {
			h.Created = t
		}
		h.Duration = time.Duration(durationMs) * time.Millisecond
		out = append(out, h)
	}
	return out, rows.Err()
}

// DeleteHistory removes one history row.
func (s *Store) DeleteHistory(ctx context.Context, id barindex.IndexID) error {
	if id.Kind != barindex.KindHistory {
		return fmt.Errorf("delete_history: %w: id is not a history kind id", barerr.ErrIntegrityViolation)
	}
	res, err := s.db.ExecContext(ctx, "DELETE FROM history WHERE id = ?", id.N)
	if err != nil {
		return fmt.Errorf("delete history %d: %w", id.N, err)
	}
	return requireRowsAffected(res, "history", id.N)
}
