package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"tasksync/backend"
)

// SQLiteError represents errors specific to SQLite store operations
type SQLiteError struct {
	Op  string    // Operation that failed
	ID  uuid.UUID // Optional: entity id if relevant
	Err error     // Underlying error
}

func (e *SQLiteError) Error() string {
	if e.ID != uuid.Nil {
		return fmt.Sprintf("sqlite %s failed for %s: %v", e.Op, e.ID, e.Err)
	}
	return fmt.Sprintf("sqlite %s failed: %v", e.Op, e.Err)
}

func (e *SQLiteError) Unwrap() error {
	return e.Err
}

// SQLiteBackend is the local replica stored in a SQLite database.
// It implements backend.TaskStore.
type SQLiteBackend struct {
	db *Database
}

var _ backend.TaskStore = (*SQLiteBackend)(nil)

// NewSQLiteBackend opens (and creates if needed) the replica at dbPath.
// An empty path selects the XDG data directory.
func NewSQLiteBackend(dbPath string) (*SQLiteBackend, error) {
	db, err := InitDatabase(dbPath)
	if err != nil {
		return nil, &SQLiteError{Op: "init", Err: err}
	}
	return &SQLiteBackend{db: db}, nil
}

// GetDB returns the underlying database
func (sb *SQLiteBackend) GetDB() *Database {
	return sb.db
}

// Close closes the database connection
func (sb *SQLiteBackend) Close() error {
	if sb.db != nil {
		return sb.db.Close()
	}
	return nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const taskColumns = `id, name, done, pinned, emoji, color, created_at, deadline,
	description, categories, position, last_save, shared_by`

// ReadLocalSnapshot returns a copy of the whole replica.
func (sb *SQLiteBackend) ReadLocalSnapshot(ctx context.Context) (*backend.Snapshot, error) {
	tx, err := sb.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &SQLiteError{Op: "ReadLocalSnapshot", Err: err}
	}
	defer tx.Rollback()

	snap := &backend.Snapshot{}
	if snap.Tasks, err = getTasks(ctx, tx); err != nil {
		return nil, &SQLiteError{Op: "ReadLocalSnapshot", Err: err}
	}
	if snap.Categories, err = getCategories(ctx, tx); err != nil {
		return nil, &SQLiteError{Op: "ReadLocalSnapshot", Err: err}
	}
	if snap.DeletedTaskIDs, err = getTombstones(ctx, tx, entityTask); err != nil {
		return nil, &SQLiteError{Op: "ReadLocalSnapshot", Err: err}
	}
	if snap.DeletedCategoryIDs, err = getTombstones(ctx, tx, entityCategory); err != nil {
		return nil, &SQLiteError{Op: "ReadLocalSnapshot", Err: err}
	}
	if snap.Other, err = getOtherData(ctx, tx); err != nil {
		return nil, &SQLiteError{Op: "ReadLocalSnapshot", Err: err}
	}
	return snap, tx.Commit()
}

// WriteMergedSnapshot replaces the replica with snap in a single transaction.
// Tombstones are only added; other data is replaced only when snap carries it.
func (sb *SQLiteBackend) WriteMergedSnapshot(ctx context.Context, snap *backend.Snapshot, syncedAt time.Time) error {
	tx, err := sb.db.BeginTx(ctx, nil)
	if err != nil {
		return &SQLiteError{Op: "WriteMergedSnapshot", Err: err}
	}
	defer tx.Rollback()

	for _, stmt := range []string{"DELETE FROM tasks", "DELETE FROM categories"} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return &SQLiteError{Op: "WriteMergedSnapshot", Err: err}
		}
	}
	for _, t := range snap.Tasks {
		if err := insertTask(ctx, tx, t); err != nil {
			return &SQLiteError{Op: "WriteMergedSnapshot", ID: t.ID, Err: err}
		}
	}
	for _, c := range snap.Categories {
		if err := insertCategory(ctx, tx, c); err != nil {
			return &SQLiteError{Op: "WriteMergedSnapshot", ID: c.ID, Err: err}
		}
	}
	for _, id := range snap.DeletedTaskIDs {
		if err := insertTombstone(ctx, tx, entityTask, id, syncedAt); err != nil {
			return &SQLiteError{Op: "WriteMergedSnapshot", ID: id, Err: err}
		}
	}
	for _, id := range snap.DeletedCategoryIDs {
		if err := insertTombstone(ctx, tx, entityCategory, id, syncedAt); err != nil {
			return &SQLiteError{Op: "WriteMergedSnapshot", ID: id, Err: err}
		}
	}
	if snap.Other != nil {
		if err := putOtherData(ctx, tx, *snap.Other); err != nil {
			return &SQLiteError{Op: "WriteMergedSnapshot", Err: err}
		}
	}
	if err := putMeta(ctx, tx, metaLastSyncedAt, fmt.Sprint(syncedAt.UnixNano())); err != nil {
		return &SQLiteError{Op: "WriteMergedSnapshot", Err: err}
	}

	return tx.Commit()
}

// GetTasks retrieves all live tasks, pinned first then by position
func (sb *SQLiteBackend) GetTasks(ctx context.Context) ([]backend.Task, error) {
	tasks, err := getTasks(ctx, sb.db)
	if err != nil {
		return nil, &SQLiteError{Op: "GetTasks", Err: err}
	}
	return tasks, nil
}

// GetTask retrieves a single live task
func (sb *SQLiteBackend) GetTask(ctx context.Context, id uuid.UUID) (backend.Task, error) {
	rows, err := sb.db.QueryContext(ctx, "SELECT "+taskColumns+" FROM tasks WHERE id = ?", id.String())
	if err != nil {
		return backend.Task{}, &SQLiteError{Op: "GetTask", ID: id, Err: err}
	}
	defer rows.Close()

	tasks, err := scanTasks(rows)
	if err != nil {
		return backend.Task{}, &SQLiteError{Op: "GetTask", ID: id, Err: err}
	}
	if len(tasks) == 0 {
		return backend.Task{}, backend.NewStoreError("GetTask", "task", id, backend.ErrNotFound)
	}
	return tasks[0], nil
}

// AddTask creates a new task. Tombstoned ids cannot be reused.
func (sb *SQLiteBackend) AddTask(ctx context.Context, task backend.Task) error {
	if task.ID == uuid.Nil {
		task.ID = uuid.New()
	}

	tx, err := sb.db.BeginTx(ctx, nil)
	if err != nil {
		return &SQLiteError{Op: "AddTask", ID: task.ID, Err: err}
	}
	defer tx.Rollback()

	if deleted, err := isTombstoned(ctx, tx, entityTask, task.ID); err != nil {
		return &SQLiteError{Op: "AddTask", ID: task.ID, Err: err}
	} else if deleted {
		return backend.NewStoreError("AddTask", "task", task.ID, backend.ErrDeleted)
	}
	if exists, err := rowExists(ctx, tx, "tasks", task.ID); err != nil {
		return &SQLiteError{Op: "AddTask", ID: task.ID, Err: err}
	} else if exists {
		return backend.NewStoreError("AddTask", "task", task.ID, backend.ErrDuplicateID)
	}

	now := time.Now()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	if task.LastSave.IsZero() {
		task.LastSave = now
	}
	if err := insertTask(ctx, tx, task); err != nil {
		return &SQLiteError{Op: "AddTask", ID: task.ID, Err: err}
	}
	return tx.Commit()
}

// UpdateTask updates an existing task and bumps its LastSave
func (sb *SQLiteBackend) UpdateTask(ctx context.Context, task backend.Task) error {
	task.LastSave = time.Now()
	result, err := sb.db.ExecContext(ctx, `
		UPDATE tasks
		SET name = ?, done = ?, pinned = ?, emoji = ?, color = ?, created_at = ?,
		    deadline = ?, description = ?, categories = ?, position = ?,
		    last_save = ?, shared_by = ?
		WHERE id = ?
	`,
		task.Name,
		task.Done,
		task.Pinned,
		nullString(task.Emoji),
		nullString(task.Color),
		timeValueToNullInt64(task.CreatedAt),
		timeToNullInt64(task.Deadline),
		nullString(task.Description),
		nullString(joinIDs(task.Categories)),
		intToNullInt64(task.Position),
		timeValueToNullInt64(task.LastSave),
		nullString(task.SharedBy),
		task.ID.String(),
	)
	if err != nil {
		return &SQLiteError{Op: "UpdateTask", ID: task.ID, Err: err}
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return &SQLiteError{Op: "UpdateTask", ID: task.ID, Err: err}
	}
	if rowsAffected == 0 {
		return backend.NewStoreError("UpdateTask", "task", task.ID, backend.ErrNotFound)
	}
	return nil
}

// DeleteTask removes a task and records its tombstone
func (sb *SQLiteBackend) DeleteTask(ctx context.Context, id uuid.UUID) error {
	tx, err := sb.db.BeginTx(ctx, nil)
	if err != nil {
		return &SQLiteError{Op: "DeleteTask", ID: id, Err: err}
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, "DELETE FROM tasks WHERE id = ?", id.String())
	if err != nil {
		return &SQLiteError{Op: "DeleteTask", ID: id, Err: err}
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return backend.NewStoreError("DeleteTask", "task", id, backend.ErrNotFound)
	}
	if err := insertTombstone(ctx, tx, entityTask, id, time.Now()); err != nil {
		return &SQLiteError{Op: "DeleteTask", ID: id, Err: err}
	}
	return tx.Commit()
}

// GetCategories retrieves all live categories ordered by name
func (sb *SQLiteBackend) GetCategories(ctx context.Context) ([]backend.Category, error) {
	categories, err := getCategories(ctx, sb.db)
	if err != nil {
		return nil, &SQLiteError{Op: "GetCategories", Err: err}
	}
	return categories, nil
}

// AddCategory creates a new category. Tombstoned ids cannot be reused.
func (sb *SQLiteBackend) AddCategory(ctx context.Context, category backend.Category) error {
	if category.ID == uuid.Nil {
		category.ID = uuid.New()
	}

	tx, err := sb.db.BeginTx(ctx, nil)
	if err != nil {
		return &SQLiteError{Op: "AddCategory", ID: category.ID, Err: err}
	}
	defer tx.Rollback()

	if deleted, err := isTombstoned(ctx, tx, entityCategory, category.ID); err != nil {
		return &SQLiteError{Op: "AddCategory", ID: category.ID, Err: err}
	} else if deleted {
		return backend.NewStoreError("AddCategory", "category", category.ID, backend.ErrDeleted)
	}
	if exists, err := rowExists(ctx, tx, "categories", category.ID); err != nil {
		return &SQLiteError{Op: "AddCategory", ID: category.ID, Err: err}
	} else if exists {
		return backend.NewStoreError("AddCategory", "category", category.ID, backend.ErrDuplicateID)
	}

	if category.LastSave.IsZero() {
		category.LastSave = time.Now()
	}
	if err := insertCategory(ctx, tx, category); err != nil {
		return &SQLiteError{Op: "AddCategory", ID: category.ID, Err: err}
	}
	return tx.Commit()
}

// UpdateCategory renames or recolors a category and bumps its LastSave
func (sb *SQLiteBackend) UpdateCategory(ctx context.Context, category backend.Category) error {
	category.LastSave = time.Now()
	result, err := sb.db.ExecContext(ctx, `
		UPDATE categories SET name = ?, emoji = ?, color = ?, last_save = ? WHERE id = ?
	`,
		category.Name,
		nullString(category.Emoji),
		nullString(category.Color),
		timeValueToNullInt64(category.LastSave),
		category.ID.String(),
	)
	if err != nil {
		return &SQLiteError{Op: "UpdateCategory", ID: category.ID, Err: err}
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return backend.NewStoreError("UpdateCategory", "category", category.ID, backend.ErrNotFound)
	}
	return nil
}

// DeleteCategory removes a category, records its tombstone and strips the
// reference from every task that used it, all in one transaction
func (sb *SQLiteBackend) DeleteCategory(ctx context.Context, id uuid.UUID) error {
	tx, err := sb.db.BeginTx(ctx, nil)
	if err != nil {
		return &SQLiteError{Op: "DeleteCategory", ID: id, Err: err}
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, "DELETE FROM categories WHERE id = ?", id.String())
	if err != nil {
		return &SQLiteError{Op: "DeleteCategory", ID: id, Err: err}
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return backend.NewStoreError("DeleteCategory", "category", id, backend.ErrNotFound)
	}
	now := time.Now()
	if err := insertTombstone(ctx, tx, entityCategory, id, now); err != nil {
		return &SQLiteError{Op: "DeleteCategory", ID: id, Err: err}
	}

	tasks, err := getTasks(ctx, tx)
	if err != nil {
		return &SQLiteError{Op: "DeleteCategory", ID: id, Err: err}
	}
	for _, t := range tasks {
		if !t.HasCategory(id) {
			continue
		}
		kept := make([]uuid.UUID, 0, len(t.Categories))
		for _, c := range t.Categories {
			if c != id {
				kept = append(kept, c)
			}
		}
		_, err := tx.ExecContext(ctx, "UPDATE tasks SET categories = ?, last_save = ? WHERE id = ?",
			nullString(joinIDs(kept)), now.UnixNano(), t.ID.String())
		if err != nil {
			return &SQLiteError{Op: "DeleteCategory", ID: t.ID, Err: err}
		}
	}
	return tx.Commit()
}

// GetOtherData returns the stored other-data block, or nil if none was set
func (sb *SQLiteBackend) GetOtherData(ctx context.Context) (*backend.OtherData, error) {
	other, err := getOtherData(ctx, sb.db)
	if err != nil {
		return nil, &SQLiteError{Op: "GetOtherData", Err: err}
	}
	return other, nil
}

// SetOtherData replaces the other-data block
func (sb *SQLiteBackend) SetOtherData(ctx context.Context, other backend.OtherData) error {
	if err := putOtherData(ctx, sb.db, other); err != nil {
		return &SQLiteError{Op: "SetOtherData", Err: err}
	}
	return nil
}

// LastSyncedAt returns when the replica last completed a sync
func (sb *SQLiteBackend) LastSyncedAt(ctx context.Context) (time.Time, error) {
	value, ok, err := getMeta(ctx, sb.db, metaLastSyncedAt)
	if err != nil {
		return time.Time{}, &SQLiteError{Op: "LastSyncedAt", Err: err}
	}
	if !ok {
		return time.Time{}, nil
	}
	var nanos int64
	if _, err := fmt.Sscan(value, &nanos); err != nil {
		return time.Time{}, &SQLiteError{Op: "LastSyncedAt", Err: err}
	}
	return time.Unix(0, nanos), nil
}

func getTasks(ctx context.Context, q querier) ([]backend.Task, error) {
	rows, err := q.QueryContext(ctx, "SELECT "+taskColumns+` FROM tasks
		ORDER BY pinned DESC, position IS NULL, position ASC, created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTasks(rows)
}

// scanTasks converts database rows to Task structs
func scanTasks(rows *sql.Rows) ([]backend.Task, error) {
	tasks := []backend.Task{}
	for rows.Next() {
		var (
			task                          backend.Task
			id                            string
			emoji, color, description     sql.NullString
			categories, sharedBy          sql.NullString
			createdAt, deadline, lastSave sql.NullInt64
			position                      sql.NullInt64
		)

		err := rows.Scan(
			&id,
			&task.Name,
			&task.Done,
			&task.Pinned,
			&emoji,
			&color,
			&createdAt,
			&deadline,
			&description,
			&categories,
			&position,
			&lastSave,
			&sharedBy,
		)
		if err != nil {
			return nil, err
		}

		if task.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("corrupt task id %q: %w", id, err)
		}
		task.Emoji = emoji.String
		task.Color = color.String
		task.Description = description.String
		task.SharedBy = sharedBy.String
		task.CreatedAt = nullInt64ToTimeValue(createdAt)
		task.Deadline = nullInt64ToTime(deadline)
		task.LastSave = nullInt64ToTimeValue(lastSave)
		if position.Valid {
			p := int(position.Int64)
			task.Position = &p
		}
		if task.Categories, err = splitIDs(categories.String); err != nil {
			return nil, fmt.Errorf("corrupt categories for task %s: %w", task.ID, err)
		}

		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

func insertTask(ctx context.Context, q querier, task backend.Task) error {
	_, err := q.ExecContext(ctx, "INSERT INTO tasks ("+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID.String(),
		task.Name,
		task.Done,
		task.Pinned,
		nullString(task.Emoji),
		nullString(task.Color),
		timeValueToNullInt64(task.CreatedAt),
		timeToNullInt64(task.Deadline),
		nullString(task.Description),
		nullString(joinIDs(task.Categories)),
		intToNullInt64(task.Position),
		timeValueToNullInt64(task.LastSave),
		nullString(task.SharedBy),
	)
	return err
}

func getCategories(ctx context.Context, q querier) ([]backend.Category, error) {
	rows, err := q.QueryContext(ctx, `SELECT id, name, emoji, color, last_save FROM categories ORDER BY name ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	categories := []backend.Category{}
	for rows.Next() {
		var (
			c            backend.Category
			id           string
			emoji, color sql.NullString
			lastSave     sql.NullInt64
		)
		if err := rows.Scan(&id, &c.Name, &emoji, &color, &lastSave); err != nil {
			return nil, err
		}
		if c.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("corrupt category id %q: %w", id, err)
		}
		c.Emoji = emoji.String
		c.Color = color.String
		c.LastSave = nullInt64ToTimeValue(lastSave)
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

func insertCategory(ctx context.Context, q querier, c backend.Category) error {
	_, err := q.ExecContext(ctx, `INSERT INTO categories (id, name, emoji, color, last_save) VALUES (?, ?, ?, ?, ?)`,
		c.ID.String(),
		c.Name,
		nullString(c.Emoji),
		nullString(c.Color),
		timeValueToNullInt64(c.LastSave),
	)
	return err
}

func getTombstones(ctx context.Context, q querier, entity string) ([]uuid.UUID, error) {
	rows, err := q.QueryContext(ctx, `SELECT id FROM tombstones WHERE entity = ? ORDER BY deleted_at ASC, id ASC`, entity)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []uuid.UUID{}
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("corrupt tombstone %q: %w", raw, err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func insertTombstone(ctx context.Context, q querier, entity string, id uuid.UUID, at time.Time) error {
	_, err := q.ExecContext(ctx, `INSERT OR IGNORE INTO tombstones (entity, id, deleted_at) VALUES (?, ?, ?)`,
		entity, id.String(), at.UnixNano())
	return err
}

func isTombstoned(ctx context.Context, q querier, entity string, id uuid.UUID) (bool, error) {
	var exists bool
	err := q.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM tombstones WHERE entity = ? AND id = ?)", entity, id.String()).Scan(&exists)
	return exists, err
}

func rowExists(ctx context.Context, q querier, table string, id uuid.UUID) (bool, error) {
	var exists bool
	err := q.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM "+table+" WHERE id = ?)", id.String()).Scan(&exists)
	return exists, err
}

func getOtherData(ctx context.Context, q querier) (*backend.OtherData, error) {
	value, ok, err := getMeta(ctx, q, metaOtherData)
	if err != nil || !ok {
		return nil, err
	}
	var other backend.OtherData
	if err := json.Unmarshal([]byte(value), &other); err != nil {
		return nil, fmt.Errorf("corrupt other data: %w", err)
	}
	return &other, nil
}

func putOtherData(ctx context.Context, q querier, other backend.OtherData) error {
	data, err := json.Marshal(other)
	if err != nil {
		return err
	}
	return putMeta(ctx, q, metaOtherData, string(data))
}

func getMeta(ctx context.Context, q querier, key string) (string, bool, error) {
	var value string
	err := q.QueryRowContext(ctx, "SELECT value FROM replica_metadata WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func putMeta(ctx context.Context, q querier, key, value string) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO replica_metadata (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

func joinIDs(ids []uuid.UUID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = id.String()
	}
	return strings.Join(parts, ",")
}

func splitIDs(s string) ([]uuid.UUID, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	ids := make([]uuid.UUID, 0, len(parts))
	for _, p := range parts {
		id, err := uuid.Parse(p)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func timeToNullInt64(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return timeValueToNullInt64(*t)
}

func timeValueToNullInt64(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func nullInt64ToTime(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.Unix(0, n.Int64)
	return &t
}

func nullInt64ToTimeValue(n sql.NullInt64) time.Time {
	if !n.Valid {
		return time.Time{}
	}
	return time.Unix(0, n.Int64)
}

func intToNullInt64(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}
