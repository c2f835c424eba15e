package backend

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ReplicaStore is the persistence collaborator the sync engine needs: one read
// at session start and one atomic write-back when a merge completed.
type ReplicaStore interface {
	ReadLocalSnapshot(ctx context.Context) (*Snapshot, error)
	// WriteMergedSnapshot replaces the live entities, extends the tombstones,
	// replaces other data when snap.Other is set, and records syncedAt.
	// It either applies everything or nothing.
	WriteMergedSnapshot(ctx context.Context, snap *Snapshot, syncedAt time.Time) error
}

// TaskStore is the full local replica used by the command line.
// Mutations bump LastSave; deletions record tombstones.
type TaskStore interface {
	ReplicaStore

	GetTasks(ctx context.Context) ([]Task, error)
	GetTask(ctx context.Context, id uuid.UUID) (Task, error)
	AddTask(ctx context.Context, task Task) error
	UpdateTask(ctx context.Context, task Task) error
	DeleteTask(ctx context.Context, id uuid.UUID) error

	GetCategories(ctx context.Context) ([]Category, error)
	AddCategory(ctx context.Context, category Category) error
	UpdateCategory(ctx context.Context, category Category) error
	// DeleteCategory tombstones the category and strips it from every task.
	DeleteCategory(ctx context.Context, id uuid.UUID) error

	GetOtherData(ctx context.Context) (*OtherData, error)
	SetOtherData(ctx context.Context, other OtherData) error

	// LastSyncedAt returns the zero time when the replica never synced.
	LastSyncedAt(ctx context.Context) (time.Time, error)
	Close() error
}
