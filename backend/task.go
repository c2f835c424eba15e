package backend

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Task is one entry of the user's task list.
// ID is assigned once at creation and never reused; LastSave is bumped on every
// mutation and decides which copy survives a sync.
type Task struct {
	ID          uuid.UUID   `json:"id" yaml:"id" validate:"required"`
	Name        string      `json:"name" yaml:"name" validate:"required"`
	Done        bool        `json:"done" yaml:"done"`
	Pinned      bool        `json:"pinned" yaml:"pinned"`
	Emoji       string      `json:"emoji,omitempty" yaml:"emoji,omitempty"`
	Color       string      `json:"color" yaml:"color" validate:"omitempty,hexcolor"`
	CreatedAt   time.Time   `json:"date" yaml:"date"`
	Deadline    *time.Time  `json:"deadline,omitempty" yaml:"deadline,omitempty"`
	Description string      `json:"description,omitempty" yaml:"description,omitempty"`
	Categories  []uuid.UUID `json:"category,omitempty" yaml:"category,omitempty"`
	Position    *int        `json:"position,omitempty" yaml:"position,omitempty"`
	LastSave    time.Time   `json:"lastSave" yaml:"lastSave"`
	SharedBy    string      `json:"sharedBy,omitempty" yaml:"sharedBy,omitempty"`
}

// Category groups tasks. The ID survives renames and recolors.
type Category struct {
	ID       uuid.UUID `json:"id" yaml:"id" validate:"required"`
	Name     string    `json:"name" yaml:"name" validate:"required"`
	Emoji    string    `json:"emoji,omitempty" yaml:"emoji,omitempty"`
	Color    string    `json:"color" yaml:"color" validate:"omitempty,hexcolor"`
	LastSave time.Time `json:"lastSave" yaml:"lastSave"`
}

// OtherData holds the profile and appearance preferences that are synced by
// user policy instead of by timestamp.
type OtherData struct {
	Name           string            `json:"name" yaml:"name"`
	ProfilePicture string            `json:"profilePicture,omitempty" yaml:"profilePicture,omitempty"`
	EmojisStyle    string            `json:"emojisStyle,omitempty" yaml:"emojisStyle,omitempty"`
	Theme          string            `json:"theme,omitempty" yaml:"theme,omitempty"`
	DarkMode       string            `json:"darkmode,omitempty" yaml:"darkmode,omitempty" validate:"omitempty,oneof=auto system light dark"`
	Settings       map[string]string `json:"settings,omitempty" yaml:"settings,omitempty"`
}

// Snapshot is a point-in-time copy of a replica: live entities, tombstones and
// optionally the other-data block. Values handed out by stores are copies.
type Snapshot struct {
	Tasks              []Task      `json:"tasks" yaml:"tasks" validate:"dive"`
	Categories         []Category  `json:"categories" yaml:"categories" validate:"dive"`
	DeletedTaskIDs     []uuid.UUID `json:"deletedTasks" yaml:"deletedTasks"`
	DeletedCategoryIDs []uuid.UUID `json:"deletedCategories" yaml:"deletedCategories"`
	Other              *OtherData  `json:"otherData,omitempty" yaml:"otherData,omitempty"`
}

// OtherDataSyncOption selects whose other data survives a sync.
type OtherDataSyncOption string

const (
	ThisDevice  OtherDataSyncOption = "this_device"
	OtherDevice OtherDataSyncOption = "other_device"
	NoSync      OtherDataSyncOption = "no_sync"
)

// ParseOtherDataSyncOption accepts the canonical names and a few spellings
// users type on the command line ("this", "other", "none").
func ParseOtherDataSyncOption(s string) (OtherDataSyncOption, error) {
	switch strings.ToLower(strings.TrimSpace(strings.ReplaceAll(s, "-", "_"))) {
	case "this_device", "this", "local":
		return ThisDevice, nil
	case "other_device", "other", "remote":
		return OtherDevice, nil
	case "no_sync", "none", "nosync":
		return NoSync, nil
	}
	return "", fmt.Errorf("invalid other data option %q: expected this_device, other_device or no_sync", s)
}

// Valid reports whether o is one of the three known options.
func (o OtherDataSyncOption) Valid() bool {
	return o == ThisDevice || o == OtherDevice || o == NoSync
}

// Flip returns the same decision seen from the peer's side.
func (o OtherDataSyncOption) Flip() OtherDataSyncOption {
	switch o {
	case ThisDevice:
		return OtherDevice
	case OtherDevice:
		return ThisDevice
	}
	return o
}

// NewTask creates a task with a fresh ID and both timestamps set to now.
func NewTask(name string) Task {
	now := time.Now()
	return Task{
		ID:        uuid.New(),
		Name:      name,
		Color:     DefaultColor,
		CreatedAt: now,
		LastSave:  now,
	}
}

// NewCategory creates a category with a fresh ID.
func NewCategory(name string) Category {
	return Category{
		ID:       uuid.New(),
		Name:     name,
		Color:    DefaultColor,
		LastSave: time.Now(),
	}
}

// DefaultColor is used for tasks and categories created without a color.
const DefaultColor = "#b624ff"

// HasCategory reports whether the task references categoryID.
func (t Task) HasCategory(categoryID uuid.UUID) bool {
	return slices.Contains(t.Categories, categoryID)
}

// Clone returns a deep copy of t.
func (t Task) Clone() Task {
	c := t
	if t.Deadline != nil {
		d := *t.Deadline
		c.Deadline = &d
	}
	if t.Position != nil {
		p := *t.Position
		c.Position = &p
	}
	c.Categories = slices.Clone(t.Categories)
	return c
}

// Clone returns a deep copy of o.
func (o *OtherData) Clone() *OtherData {
	if o == nil {
		return nil
	}
	c := *o
	if o.Settings != nil {
		c.Settings = make(map[string]string, len(o.Settings))
		for k, v := range o.Settings {
			c.Settings[k] = v
		}
	}
	return &c
}

// Clone returns a deep copy of s so the caller can hold it independently of
// the store it came from.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	c := &Snapshot{
		Tasks:              make([]Task, len(s.Tasks)),
		Categories:         slices.Clone(s.Categories),
		DeletedTaskIDs:     slices.Clone(s.DeletedTaskIDs),
		DeletedCategoryIDs: slices.Clone(s.DeletedCategoryIDs),
		Other:              s.Other.Clone(),
	}
	for i, t := range s.Tasks {
		c.Tasks[i] = t.Clone()
	}
	if c.Categories == nil {
		c.Categories = []Category{}
	}
	return c
}

// WithoutOther returns a copy of s with the other-data block removed.
func (s *Snapshot) WithoutOther() *Snapshot {
	c := s.Clone()
	c.Other = nil
	return c
}

// TaskByID returns the live task with the given id.
func (s *Snapshot) TaskByID(id uuid.UUID) (Task, bool) {
	for _, t := range s.Tasks {
		if t.ID == id {
			return t, true
		}
	}
	return Task{}, false
}

// CategoryByID returns the live category with the given id.
func (s *Snapshot) CategoryByID(id uuid.UUID) (Category, bool) {
	for _, c := range s.Categories {
		if c.ID == id {
			return c, true
		}
	}
	return Category{}, false
}

// IsTaskDeleted reports whether id is tombstoned in s.
func (s *Snapshot) IsTaskDeleted(id uuid.UUID) bool {
	return slices.Contains(s.DeletedTaskIDs, id)
}

// IsCategoryDeleted reports whether id is tombstoned in s.
func (s *Snapshot) IsCategoryDeleted(id uuid.UUID) bool {
	return slices.Contains(s.DeletedCategoryIDs, id)
}

// Stats summarises a snapshot for status output.
type Stats struct {
	Tasks             int `json:"tasks" yaml:"tasks"`
	DoneTasks         int `json:"done_tasks" yaml:"done_tasks"`
	Categories        int `json:"categories" yaml:"categories"`
	DeletedTasks      int `json:"deleted_tasks" yaml:"deleted_tasks"`
	DeletedCategories int `json:"deleted_categories" yaml:"deleted_categories"`
}

// Stats counts the entities in s.
func (s *Snapshot) Stats() Stats {
	st := Stats{
		Tasks:             len(s.Tasks),
		Categories:        len(s.Categories),
		DeletedTasks:      len(s.DeletedTaskIDs),
		DeletedCategories: len(s.DeletedCategoryIDs),
	}
	for _, t := range s.Tasks {
		if t.Done {
			st.DoneTasks++
		}
	}
	return st
}

// String returns a human-readable representation of the stats
func (st Stats) String() string {
	return fmt.Sprintf("%d tasks (%d done), %d categories, %d/%d tombstones",
		st.Tasks, st.DoneTasks, st.Categories, st.DeletedTasks, st.DeletedCategories)
}
