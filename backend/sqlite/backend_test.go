package sqlite

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tasksync/backend"
)

// Helper function to create a test SQLite backend
func createTestSQLiteBackend(t *testing.T) (*SQLiteBackend, func()) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	sb, err := NewSQLiteBackend(dbPath)
	if err != nil {
		t.Fatalf("Failed to create SQLite backend: %v", err)
	}

	cleanup := func() {
		sb.Close()
	}

	return sb, cleanup
}

// TestNewSQLiteBackend tests backend creation
func TestNewSQLiteBackend(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "test.db")

	sb, err := NewSQLiteBackend(dbPath)
	if err != nil {
		t.Fatalf("Failed to create backend: %v", err)
	}
	defer sb.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Errorf("Database file was not created")
	}

	version, err := sb.GetDB().GetSchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, version)
}

func TestGetDatabasePath(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/tmp/xdg-data")

	path, err := GetDatabasePath("")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/xdg-data/tasksync/replica.db", path)

	path, err = GetDatabasePath("/custom/replica.db")
	require.NoError(t, err)
	assert.Equal(t, "/custom/replica.db", path)
}

func TestAddAndGetTask(t *testing.T) {
	sb, cleanup := createTestSQLiteBackend(t)
	defer cleanup()
	ctx := context.Background()

	deadline := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	pos := 3
	cat := backend.NewCategory("Work")
	require.NoError(t, sb.AddCategory(ctx, cat))

	task := backend.NewTask("Write report")
	task.Description = "quarterly numbers"
	task.Emoji = "1f4dd"
	task.Deadline = &deadline
	task.Position = &pos
	task.Pinned = true
	task.Categories = []uuid.UUID{cat.ID}
	require.NoError(t, sb.AddTask(ctx, task))

	got, err := sb.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, task.Name, got.Name)
	assert.Equal(t, task.Description, got.Description)
	assert.Equal(t, task.Emoji, got.Emoji)
	assert.Equal(t, task.Color, got.Color)
	assert.True(t, got.Pinned)
	assert.Equal(t, []uuid.UUID{cat.ID}, got.Categories)
	require.NotNil(t, got.Deadline)
	assert.True(t, deadline.Equal(*got.Deadline))
	require.NotNil(t, got.Position)
	assert.Equal(t, 3, *got.Position)
	assert.True(t, task.LastSave.Equal(got.LastSave))
	assert.True(t, task.CreatedAt.Equal(got.CreatedAt))
}

func TestAddTaskRejectsDuplicateAndDeleted(t *testing.T) {
	sb, cleanup := createTestSQLiteBackend(t)
	defer cleanup()
	ctx := context.Background()

	task := backend.NewTask("Once")
	require.NoError(t, sb.AddTask(ctx, task))

	err := sb.AddTask(ctx, task)
	assert.ErrorIs(t, err, backend.ErrDuplicateID)

	require.NoError(t, sb.DeleteTask(ctx, task.ID))
	err = sb.AddTask(ctx, task)
	assert.ErrorIs(t, err, backend.ErrDeleted)
}

func TestGetTaskNotFound(t *testing.T) {
	sb, cleanup := createTestSQLiteBackend(t)
	defer cleanup()

	_, err := sb.GetTask(context.Background(), uuid.New())
	if !backend.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}

	var storeErr *backend.StoreError
	require.True(t, errors.As(err, &storeErr))
	assert.Equal(t, "GetTask", storeErr.Operation)
}

func TestUpdateTask(t *testing.T) {
	sb, cleanup := createTestSQLiteBackend(t)
	defer cleanup()
	ctx := context.Background()

	task := backend.NewTask("Draft")
	task.LastSave = time.Now().Add(-time.Hour)
	require.NoError(t, sb.AddTask(ctx, task))

	task.Name = "Final"
	task.Done = true
	require.NoError(t, sb.UpdateTask(ctx, task))

	got, err := sb.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "Final", got.Name)
	assert.True(t, got.Done)
	assert.True(t, got.LastSave.After(task.LastSave), "LastSave should be bumped")
}

func TestUpdateNonexistentTask(t *testing.T) {
	sb, cleanup := createTestSQLiteBackend(t)
	defer cleanup()

	err := sb.UpdateTask(context.Background(), backend.NewTask("ghost"))
	assert.True(t, backend.IsNotFound(err))
}

func TestDeleteTaskRecordsTombstone(t *testing.T) {
	sb, cleanup := createTestSQLiteBackend(t)
	defer cleanup()
	ctx := context.Background()

	task := backend.NewTask("Temporary")
	require.NoError(t, sb.AddTask(ctx, task))
	require.NoError(t, sb.DeleteTask(ctx, task.ID))

	snap, err := sb.ReadLocalSnapshot(ctx)
	require.NoError(t, err)
	assert.Empty(t, snap.Tasks)
	assert.Equal(t, []uuid.UUID{task.ID}, snap.DeletedTaskIDs)

	err = sb.DeleteTask(ctx, task.ID)
	assert.True(t, backend.IsNotFound(err))
}

func TestDeleteCategoryStripsTasks(t *testing.T) {
	sb, cleanup := createTestSQLiteBackend(t)
	defer cleanup()
	ctx := context.Background()

	work := backend.NewCategory("Work")
	home := backend.NewCategory("Home")
	require.NoError(t, sb.AddCategory(ctx, work))
	require.NoError(t, sb.AddCategory(ctx, home))

	task := backend.NewTask("Both")
	task.Categories = []uuid.UUID{work.ID, home.ID}
	task.LastSave = time.Now().Add(-time.Hour)
	require.NoError(t, sb.AddTask(ctx, task))

	require.NoError(t, sb.DeleteCategory(ctx, work.ID))

	got, err := sb.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{home.ID}, got.Categories)
	assert.True(t, got.LastSave.After(task.LastSave))

	categories, err := sb.GetCategories(ctx)
	require.NoError(t, err)
	require.Len(t, categories, 1)
	assert.Equal(t, "Home", categories[0].Name)

	err = sb.AddCategory(ctx, work)
	assert.ErrorIs(t, err, backend.ErrDeleted)
}

func TestUpdateCategory(t *testing.T) {
	sb, cleanup := createTestSQLiteBackend(t)
	defer cleanup()
	ctx := context.Background()

	cat := backend.NewCategory("Errands")
	require.NoError(t, sb.AddCategory(ctx, cat))

	cat.Name = "Shopping"
	cat.Color = "#00ff00"
	require.NoError(t, sb.UpdateCategory(ctx, cat))

	categories, err := sb.GetCategories(ctx)
	require.NoError(t, err)
	require.Len(t, categories, 1)
	assert.Equal(t, "Shopping", categories[0].Name)
	assert.Equal(t, "#00ff00", categories[0].Color)

	err = sb.UpdateCategory(ctx, backend.NewCategory("missing"))
	assert.True(t, backend.IsNotFound(err))
}

func TestOtherDataRoundTrip(t *testing.T) {
	sb, cleanup := createTestSQLiteBackend(t)
	defer cleanup()
	ctx := context.Background()

	other, err := sb.GetOtherData(ctx)
	require.NoError(t, err)
	assert.Nil(t, other, "fresh replica has no other data")

	want := backend.OtherData{Name: "Ada", DarkMode: "dark", Settings: map[string]string{"lang": "en"}}
	require.NoError(t, sb.SetOtherData(ctx, want))

	other, err = sb.GetOtherData(ctx)
	require.NoError(t, err)
	require.NotNil(t, other)
	assert.Equal(t, want, *other)
}

func TestWriteMergedSnapshot(t *testing.T) {
	sb, cleanup := createTestSQLiteBackend(t)
	defer cleanup()
	ctx := context.Background()

	old := backend.NewTask("replaced")
	deleted := uuid.New()
	require.NoError(t, sb.AddTask(ctx, old))
	require.NoError(t, sb.SetOtherData(ctx, backend.OtherData{Name: "Local"}))

	kept := backend.NewTask("merged")
	cat := backend.NewCategory("Merged")
	syncedAt := time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC)
	merged := &backend.Snapshot{
		Tasks:          []backend.Task{kept},
		Categories:     []backend.Category{cat},
		DeletedTaskIDs: []uuid.UUID{old.ID, deleted},
	}
	require.NoError(t, sb.WriteMergedSnapshot(ctx, merged, syncedAt))

	snap, err := sb.ReadLocalSnapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Tasks, 1)
	assert.Equal(t, kept.ID, snap.Tasks[0].ID)
	require.Len(t, snap.Categories, 1)
	assert.Equal(t, cat.ID, snap.Categories[0].ID)
	assert.ElementsMatch(t, []uuid.UUID{old.ID, deleted}, snap.DeletedTaskIDs)
	require.NotNil(t, snap.Other, "other data is kept when the merge carries none")
	assert.Equal(t, "Local", snap.Other.Name)

	last, err := sb.LastSyncedAt(ctx)
	require.NoError(t, err)
	assert.True(t, syncedAt.Equal(last))
}

func TestWriteMergedSnapshotReplacesOtherData(t *testing.T) {
	sb, cleanup := createTestSQLiteBackend(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, sb.SetOtherData(ctx, backend.OtherData{Name: "Local"}))
	merged := &backend.Snapshot{Other: &backend.OtherData{Name: "Remote", Theme: "blue"}}
	require.NoError(t, sb.WriteMergedSnapshot(ctx, merged, time.Now()))

	other, err := sb.GetOtherData(ctx)
	require.NoError(t, err)
	require.NotNil(t, other)
	assert.Equal(t, "Remote", other.Name)
	assert.Equal(t, "blue", other.Theme)
}

// TestTransactionRollback checks that a failing write-back leaves the replica untouched
func TestTransactionRollback(t *testing.T) {
	sb, cleanup := createTestSQLiteBackend(t)
	defer cleanup()
	ctx := context.Background()

	original := backend.NewTask("original")
	require.NoError(t, sb.AddTask(ctx, original))

	dup := backend.NewTask("dup")
	merged := &backend.Snapshot{Tasks: []backend.Task{dup, dup}}
	err := sb.WriteMergedSnapshot(ctx, merged, time.Now())
	require.Error(t, err)

	var sqlErr *SQLiteError
	assert.True(t, errors.As(err, &sqlErr))

	tasks, err := sb.GetTasks(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, original.ID, tasks[0].ID)

	last, err := sb.LastSyncedAt(ctx)
	require.NoError(t, err)
	assert.True(t, last.IsZero())
}

func TestGetTasksOrdering(t *testing.T) {
	sb, cleanup := createTestSQLiteBackend(t)
	defer cleanup()
	ctx := context.Background()

	first, second := 1, 2
	a := backend.NewTask("second")
	a.Position = &second
	b := backend.NewTask("first")
	b.Position = &first
	c := backend.NewTask("pinned")
	c.Pinned = true
	for _, task := range []backend.Task{a, b, c} {
		require.NoError(t, sb.AddTask(ctx, task))
	}

	tasks, err := sb.GetTasks(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 3)
	assert.Equal(t, []string{"pinned", "first", "second"}, []string{tasks[0].Name, tasks[1].Name, tasks[2].Name})
}

func TestDatabaseStats(t *testing.T) {
	sb, cleanup := createTestSQLiteBackend(t)
	defer cleanup()
	ctx := context.Background()

	task := backend.NewTask("counted")
	require.NoError(t, sb.AddTask(ctx, task))
	require.NoError(t, sb.AddTask(ctx, backend.NewTask("gone")))
	tasks, err := sb.GetTasks(ctx)
	require.NoError(t, err)
	for _, tk := range tasks {
		if tk.Name == "gone" {
			require.NoError(t, sb.DeleteTask(ctx, tk.ID))
		}
	}

	stats, err := sb.GetDB().GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Tasks)
	assert.Equal(t, 1, stats.DeletedTasks)
	assert.Equal(t, 0, stats.DeletedCategories)
	assert.Greater(t, stats.SizeBytes, int64(0))
	assert.Contains(t, stats.String(), "1 tasks")

	reopened, err := NewSQLiteBackend(sb.GetDB().Path())
	require.NoError(t, err, "migrating an existing file is a no-op")
	defer reopened.Close()
	version, err := reopened.GetDB().GetSchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, version)
}

func TestClose(t *testing.T) {
	sb, _ := createTestSQLiteBackend(t)
	if err := sb.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}
