package backend

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process TaskStore. It backs tests and the loopback
// sync used by integration tests, and can inject read/write failures.
type MemoryStore struct {
	mu           sync.RWMutex
	snap         *Snapshot
	lastSyncedAt time.Time
	writes       int

	ReadErr  error // returned by ReadLocalSnapshot when set
	WriteErr error // returned by WriteMergedSnapshot when set
}

var _ TaskStore = (*MemoryStore)(nil)

// NewMemoryStore creates a store holding a copy of initial (nil means empty).
func NewMemoryStore(initial *Snapshot) *MemoryStore {
	if initial == nil {
		initial = &Snapshot{}
	}
	return &MemoryStore{snap: initial.Clone()}
}

func (m *MemoryStore) ReadLocalSnapshot(ctx context.Context) (*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.ReadErr != nil {
		return nil, m.ReadErr
	}
	return m.snap.Clone(), nil
}

func (m *MemoryStore) WriteMergedSnapshot(ctx context.Context, snap *Snapshot, syncedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.WriteErr != nil {
		return NewStoreError("WriteMergedSnapshot", "snapshot", uuid.Nil, m.WriteErr)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	next := snap.Clone()
	next.DeletedTaskIDs = unionIDs(m.snap.DeletedTaskIDs, snap.DeletedTaskIDs)
	next.DeletedCategoryIDs = unionIDs(m.snap.DeletedCategoryIDs, snap.DeletedCategoryIDs)
	if next.Other == nil {
		next.Other = m.snap.Other.Clone()
	}
	m.snap = next
	m.lastSyncedAt = syncedAt
	m.writes++
	return nil
}

// Writes returns how many merged snapshots were written back.
func (m *MemoryStore) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}

func (m *MemoryStore) GetTasks(ctx context.Context) ([]Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snap.Clone().Tasks, nil
}

func (m *MemoryStore) GetTask(ctx context.Context, id uuid.UUID) (Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.snap.TaskByID(id)
	if !ok {
		return Task{}, NewStoreError("GetTask", "task", id, ErrNotFound)
	}
	return t.Clone(), nil
}

func (m *MemoryStore) AddTask(ctx context.Context, task Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snap.IsTaskDeleted(task.ID) {
		return NewStoreError("AddTask", "task", task.ID, ErrDeleted)
	}
	if _, exists := m.snap.TaskByID(task.ID); exists {
		return NewStoreError("AddTask", "task", task.ID, ErrDuplicateID)
	}
	task = task.Clone()
	touch(&task.LastSave)
	m.snap.Tasks = append(m.snap.Tasks, task)
	return nil
}

func (m *MemoryStore) UpdateTask(ctx context.Context, task Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, t := range m.snap.Tasks {
		if t.ID == task.ID {
			task = task.Clone()
			task.LastSave = time.Now()
			m.snap.Tasks[i] = task
			return nil
		}
	}
	return NewStoreError("UpdateTask", "task", task.ID, ErrNotFound)
}

func (m *MemoryStore) DeleteTask(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := slices.IndexFunc(m.snap.Tasks, func(t Task) bool { return t.ID == id })
	if idx < 0 {
		return NewStoreError("DeleteTask", "task", id, ErrNotFound)
	}
	m.snap.Tasks = slices.Delete(m.snap.Tasks, idx, idx+1)
	m.snap.DeletedTaskIDs = unionIDs(m.snap.DeletedTaskIDs, []uuid.UUID{id})
	return nil
}

func (m *MemoryStore) GetCategories(ctx context.Context) ([]Category, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.snap.Categories), nil
}

func (m *MemoryStore) AddCategory(ctx context.Context, category Category) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snap.IsCategoryDeleted(category.ID) {
		return NewStoreError("AddCategory", "category", category.ID, ErrDeleted)
	}
	if _, exists := m.snap.CategoryByID(category.ID); exists {
		return NewStoreError("AddCategory", "category", category.ID, ErrDuplicateID)
	}
	touch(&category.LastSave)
	m.snap.Categories = append(m.snap.Categories, category)
	return nil
}

func (m *MemoryStore) UpdateCategory(ctx context.Context, category Category) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, c := range m.snap.Categories {
		if c.ID == category.ID {
			category.LastSave = time.Now()
			m.snap.Categories[i] = category
			return nil
		}
	}
	return NewStoreError("UpdateCategory", "category", category.ID, ErrNotFound)
}

func (m *MemoryStore) DeleteCategory(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := slices.IndexFunc(m.snap.Categories, func(c Category) bool { return c.ID == id })
	if idx < 0 {
		return NewStoreError("DeleteCategory", "category", id, ErrNotFound)
	}
	m.snap.Categories = slices.Delete(m.snap.Categories, idx, idx+1)
	m.snap.DeletedCategoryIDs = unionIDs(m.snap.DeletedCategoryIDs, []uuid.UUID{id})

	now := time.Now()
	for i, t := range m.snap.Tasks {
		if t.HasCategory(id) {
			m.snap.Tasks[i].Categories = slices.DeleteFunc(slices.Clone(t.Categories), func(c uuid.UUID) bool { return c == id })
			m.snap.Tasks[i].LastSave = now
		}
	}
	return nil
}

func (m *MemoryStore) GetOtherData(ctx context.Context) (*OtherData, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snap.Other.Clone(), nil
}

func (m *MemoryStore) SetOtherData(ctx context.Context, other OtherData) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap.Other = other.Clone()
	return nil
}

func (m *MemoryStore) LastSyncedAt(ctx context.Context) (time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastSyncedAt, nil
}

func (m *MemoryStore) Close() error {
	return nil
}

// touch sets a zero timestamp to now.
func touch(t *time.Time) {
	if t.IsZero() {
		*t = time.Now()
	}
}

// unionIDs returns a ∪ b keeping the order of first appearance.
func unionIDs(a, b []uuid.UUID) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(a)+len(b))
	seen := make(map[uuid.UUID]struct{}, len(a)+len(b))
	for _, list := range [][]uuid.UUID{a, b} {
		for _, id := range list {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}
