// Package sync merges two replica snapshots into one.
//
// Merge is pure: it reads both snapshots, never mutates them, and returns a new
// snapshot plus statistics. Tasks and categories follow the same rule:
// tombstones from either side win, otherwise the copy with the newer LastSave
// wins and equal timestamps keep the local copy.
package sync

import (
	"cmp"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"tasksync/backend"
)

// Resolution records which copy of an entity present on both sides was kept.
type Resolution string

const (
	LocalWins  Resolution = "local_wins"
	RemoteWins Resolution = "remote_wins"
)

// Conflict describes an entity that was live on both sides with different content.
type Conflict struct {
	Entity     string     `json:"entity" yaml:"entity"` // "task" or "category"
	ID         uuid.UUID  `json:"id" yaml:"id"`
	LocalSave  time.Time  `json:"local_save" yaml:"local_save"`
	RemoteSave time.Time  `json:"remote_save" yaml:"remote_save"`
	Resolution Resolution `json:"resolution" yaml:"resolution"`
}

// MergeStats contains statistics about a merge, from the local replica's point of view
type MergeStats struct {
	Added     int `json:"added" yaml:"added"`         // live ids taken from the remote side only
	Updated   int `json:"updated" yaml:"updated"`     // ids on both sides where the remote copy won
	Removed   int `json:"removed" yaml:"removed"`     // local live ids dropped because of a tombstone
	Conflicts int `json:"conflicts" yaml:"conflicts"` // ids on both sides whose content differed
	Stripped  int `json:"stripped" yaml:"stripped"`   // category references removed from tasks
}

// Result is the outcome of Merge.
type Result struct {
	Snapshot *backend.Snapshot
	// OtherDataSource is whose other data ended up in Snapshot, seen from the
	// local side: ThisDevice, OtherDevice, or NoSync when it was left alone.
	OtherDataSource backend.OtherDataSyncOption
	Stats           MergeStats
	Conflicts       []Conflict
}

// MergeError is returned when the merged result would violate a replica
// invariant. Nothing derived from a failed merge may be written back.
type MergeError struct {
	Reason string
}

func (e *MergeError) Error() string {
	return "merge failed: " + e.Reason
}

// Merge combines local (A) and remote (B) into a new snapshot.
func Merge(local, remote *backend.Snapshot, option backend.OtherDataSyncOption) (*Result, error) {
	if local == nil || remote == nil {
		return nil, &MergeError{Reason: "missing snapshot"}
	}
	if !option.Valid() {
		return nil, &MergeError{Reason: fmt.Sprintf("unknown other data option %q", option)}
	}

	result := &Result{Snapshot: &backend.Snapshot{}}
	out := result.Snapshot

	deletedTasks := union(local.DeletedTaskIDs, remote.DeletedTaskIDs)
	deletedCategories := union(local.DeletedCategoryIDs, remote.DeletedCategoryIDs)
	out.DeletedTaskIDs = deletedTasks.ids()
	out.DeletedCategoryIDs = deletedCategories.ids()

	tasks := mergeEntities(local.Tasks, remote.Tasks, deletedTasks, taskKey, result)
	for i := range tasks {
		tasks[i] = tasks[i].Clone()
		cleaned, stripped := cleanCategoryRefs(tasks[i].Categories, deletedCategories)
		tasks[i].Categories = cleaned
		result.Stats.Stripped += stripped
	}
	sortTasks(tasks)
	out.Tasks = tasks

	categories := mergeEntities(local.Categories, remote.Categories, deletedCategories, categoryKey, result)
	slices.SortFunc(categories, func(a, b backend.Category) int {
		if c := cmp.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return compareIDs(a.ID, b.ID)
	})
	out.Categories = categories

	out.Other, result.OtherDataSource = mergeOther(local.Other, remote.Other, option)

	if err := checkInvariants(out, deletedTasks, deletedCategories); err != nil {
		return nil, err
	}
	return result, nil
}

// entityKey extracts the merge identity of an entity.
type entityKey[T any] struct {
	kind     string
	id       func(T) uuid.UUID
	lastSave func(T) time.Time
	equal    func(a, b T) bool
}

var taskKey = entityKey[backend.Task]{
	kind:     "task",
	id:       func(t backend.Task) uuid.UUID { return t.ID },
	lastSave: func(t backend.Task) time.Time { return t.LastSave },
	equal:    tasksEqual,
}

var categoryKey = entityKey[backend.Category]{
	kind:     "category",
	id:       func(c backend.Category) uuid.UUID { return c.ID },
	lastSave: func(c backend.Category) time.Time { return c.LastSave },
	equal:    categoriesEqual,
}

// tasksEqual compares content. Times compare as instants, so a copy that
// crossed the wire in another zone or lost its monotonic reading is equal.
func tasksEqual(a, b backend.Task) bool {
	return a.ID == b.ID &&
		a.Name == b.Name &&
		a.Done == b.Done &&
		a.Pinned == b.Pinned &&
		a.Emoji == b.Emoji &&
		a.Color == b.Color &&
		a.CreatedAt.Equal(b.CreatedAt) &&
		timesEqual(a.Deadline, b.Deadline) &&
		a.Description == b.Description &&
		slices.Equal(a.Categories, b.Categories) &&
		intsEqual(a.Position, b.Position) &&
		a.LastSave.Equal(b.LastSave) &&
		a.SharedBy == b.SharedBy
}

func categoriesEqual(a, b backend.Category) bool {
	return a.ID == b.ID &&
		a.Name == b.Name &&
		a.Emoji == b.Emoji &&
		a.Color == b.Color &&
		a.LastSave.Equal(b.LastSave)
}

func timesEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func intsEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func mergeEntities[T any](local, remote []T, deleted idSet, key entityKey[T], result *Result) []T {
	remoteByID := make(map[uuid.UUID]T, len(remote))
	for _, r := range remote {
		remoteByID[key.id(r)] = r
	}
	localIDs := make(idSet, len(local))

	merged := make([]T, 0, len(local)+len(remote))
	for _, l := range local {
		id := key.id(l)
		localIDs[id] = struct{}{}
		if deleted.has(id) {
			result.Stats.Removed++
			continue
		}
		r, onBoth := remoteByID[id]
		if !onBoth {
			merged = append(merged, l)
			continue
		}
		if key.equal(l, r) {
			merged = append(merged, l)
			continue
		}

		conflict := Conflict{
			Entity:     key.kind,
			ID:         id,
			LocalSave:  key.lastSave(l),
			RemoteSave: key.lastSave(r),
			Resolution: LocalWins,
		}
		if conflict.RemoteSave.After(conflict.LocalSave) {
			conflict.Resolution = RemoteWins
			result.Stats.Updated++
			merged = append(merged, r)
		} else {
			merged = append(merged, l)
		}
		result.Conflicts = append(result.Conflicts, conflict)
		result.Stats.Conflicts++
	}

	for _, r := range remote {
		id := key.id(r)
		if localIDs.has(id) || deleted.has(id) {
			continue
		}
		localIDs[id] = struct{}{}
		merged = append(merged, r)
		result.Stats.Added++
	}
	return merged
}

// cleanCategoryRefs drops references to tombstoned categories and repeated
// references, keeping the first occurrence order.
func cleanCategoryRefs(refs []uuid.UUID, deleted idSet) ([]uuid.UUID, int) {
	if len(refs) == 0 {
		return refs, 0
	}
	seen := make(idSet, len(refs))
	kept := make([]uuid.UUID, 0, len(refs))
	stripped := 0
	for _, id := range refs {
		if deleted.has(id) {
			stripped++
			continue
		}
		if seen.has(id) {
			continue
		}
		seen[id] = struct{}{}
		kept = append(kept, id)
	}
	return kept, stripped
}

func mergeOther(local, remote *backend.OtherData, option backend.OtherDataSyncOption) (*backend.OtherData, backend.OtherDataSyncOption) {
	switch option {
	case backend.OtherDevice:
		if remote != nil {
			return remote.Clone(), backend.OtherDevice
		}
		return local.Clone(), backend.ThisDevice
	case backend.ThisDevice:
		return local.Clone(), backend.ThisDevice
	default:
		return local.Clone(), backend.NoSync
	}
}

// sortTasks orders tasks by position (unpositioned last), then creation time, then id.
func sortTasks(tasks []backend.Task) {
	slices.SortStableFunc(tasks, func(a, b backend.Task) int {
		switch {
		case a.Position != nil && b.Position == nil:
			return -1
		case a.Position == nil && b.Position != nil:
			return 1
		case a.Position != nil && b.Position != nil:
			if c := cmp.Compare(*a.Position, *b.Position); c != 0 {
				return c
			}
		}
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return compareIDs(a.ID, b.ID)
	})
}

func compareIDs(a, b uuid.UUID) int {
	return slices.Compare(a[:], b[:])
}

func checkInvariants(s *backend.Snapshot, deletedTasks, deletedCategories idSet) error {
	seen := make(idSet, len(s.Tasks))
	for _, t := range s.Tasks {
		if deletedTasks.has(t.ID) {
			return &MergeError{Reason: fmt.Sprintf("tombstoned task %s is live", t.ID)}
		}
		if seen.has(t.ID) {
			return &MergeError{Reason: fmt.Sprintf("task %s appears twice", t.ID)}
		}
		seen[t.ID] = struct{}{}
		for _, ref := range t.Categories {
			if deletedCategories.has(ref) {
				return &MergeError{Reason: fmt.Sprintf("task %s references deleted category %s", t.ID, ref)}
			}
		}
	}
	seen = make(idSet, len(s.Categories))
	for _, c := range s.Categories {
		if deletedCategories.has(c.ID) {
			return &MergeError{Reason: fmt.Sprintf("tombstoned category %s is live", c.ID)}
		}
		if seen.has(c.ID) {
			return &MergeError{Reason: fmt.Sprintf("category %s appears twice", c.ID)}
		}
		seen[c.ID] = struct{}{}
	}
	return nil
}

type idSet map[uuid.UUID]struct{}

func union(a, b []uuid.UUID) idSet {
	s := make(idSet, len(a)+len(b))
	for _, id := range a {
		s[id] = struct{}{}
	}
	for _, id := range b {
		s[id] = struct{}{}
	}
	return s
}

func (s idSet) has(id uuid.UUID) bool {
	_, ok := s[id]
	return ok
}

// ids returns the members sorted so merged tombstone lists are deterministic.
func (s idSet) ids() []uuid.UUID {
	out := make([]uuid.UUID, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	slices.SortFunc(out, compareIDs)
	return out
}
