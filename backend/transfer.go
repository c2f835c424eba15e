package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
)

// TransferFile is the JSON document produced by ExportTasks. Categories used
// by the exported tasks travel alongside them so the importer can recreate them.
type TransferFile struct {
	Tasks      []Task     `json:"tasks"`
	Categories []Category `json:"categories,omitempty"`
	ExportedAt time.Time  `json:"exportedAt"`
	SharedBy   string     `json:"sharedBy,omitempty"`
}

// ImportResult contains statistics about an import
type ImportResult struct {
	Imported          int `json:"imported" yaml:"imported"`
	Skipped           int `json:"skipped" yaml:"skipped"`
	CreatedCategories int `json:"created_categories" yaml:"created_categories"`
}

// ExportTasks writes the selected tasks (all when ids is empty) to w.
func ExportTasks(ctx context.Context, store TaskStore, ids []uuid.UUID, sharedBy string, w io.Writer) (int, error) {
	tasks, err := store.GetTasks(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read tasks: %w", err)
	}
	categories, err := store.GetCategories(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read categories: %w", err)
	}

	selected := tasks
	if len(ids) > 0 {
		want := make(map[uuid.UUID]bool, len(ids))
		for _, id := range ids {
			want[id] = true
		}
		selected = selected[:0:0]
		for _, t := range tasks {
			if want[t.ID] {
				selected = append(selected, t)
				delete(want, t.ID)
			}
		}
		for id := range want {
			return 0, NewStoreError("ExportTasks", "task", id, ErrNotFound)
		}
	}
	if len(selected) == 0 {
		return 0, fmt.Errorf("no tasks to export")
	}

	used := make(map[uuid.UUID]bool)
	for _, t := range selected {
		for _, c := range t.Categories {
			used[c] = true
		}
	}
	file := TransferFile{
		Tasks:      selected,
		ExportedAt: time.Now(),
		SharedBy:   sharedBy,
	}
	for _, c := range categories {
		if used[c.ID] {
			file.Categories = append(file.Categories, c)
		}
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(file); err != nil {
		return 0, fmt.Errorf("failed to encode tasks: %w", err)
	}
	return len(selected), nil
}

// ReadTransferFile decodes an exported task file, refusing files above
// MaxImportFileSize and files that fail ValidateImport.
func ReadTransferFile(r io.Reader) (*TransferFile, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxImportFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read import file: %w", err)
	}
	if len(data) > MaxImportFileSize {
		return nil, fmt.Errorf("import file is too large (max %d MiB)", MaxImportFileSize/(1024*1024))
	}

	var file TransferFile
	if err := json.Unmarshal(data, &file); err != nil {
		// Older exports are a bare array of tasks.
		var tasks []Task
		if arrErr := json.Unmarshal(data, &tasks); arrErr != nil {
			return nil, fmt.Errorf("import file has an invalid structure: %w", err)
		}
		file.Tasks = tasks
	}
	if err := ValidateImport(file.Tasks, file.Categories); err != nil {
		return nil, err
	}
	return &file, nil
}

// ImportTasks adds the tasks of file to store. Tasks whose id already exists
// or was deleted locally are skipped; missing categories are created.
// Imported tasks lose their SharedBy marker and get a fresh LastSave.
func ImportTasks(ctx context.Context, store TaskStore, file *TransferFile) (*ImportResult, error) {
	result := &ImportResult{}

	existing, err := store.GetCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read categories: %w", err)
	}
	known := make(map[uuid.UUID]bool, len(existing))
	for _, c := range existing {
		known[c.ID] = true
	}
	for _, c := range file.Categories {
		if known[c.ID] {
			continue
		}
		err := store.AddCategory(ctx, c)
		if errors.Is(err, ErrDeleted) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to create category %q: %w", c.Name, err)
		}
		known[c.ID] = true
		result.CreatedCategories++
	}

	now := time.Now()
	for _, t := range file.Tasks {
		t = t.Clone()
		t.SharedBy = ""
		t.LastSave = now
		kept := t.Categories[:0]
		for _, c := range t.Categories {
			if known[c] {
				kept = append(kept, c)
			}
		}
		t.Categories = kept

		err := store.AddTask(ctx, t)
		switch {
		case err == nil:
			result.Imported++
		case isSkippable(err):
			result.Skipped++
		default:
			return result, fmt.Errorf("failed to import task %q: %w", t.Name, err)
		}
	}
	return result, nil
}

func isSkippable(err error) bool {
	return errors.Is(err, ErrDuplicateID) || errors.Is(err, ErrDeleted)
}

// PurgeDone deletes every completed task, recording a tombstone for each.
func PurgeDone(ctx context.Context, store TaskStore) (int, error) {
	tasks, err := store.GetTasks(ctx)
	if err != nil {
		return 0, err
	}
	purged := 0
	for _, t := range tasks {
		if !t.Done {
			continue
		}
		if err := store.DeleteTask(ctx, t.ID); err != nil {
			return purged, fmt.Errorf("failed to purge task %q: %w", t.Name, err)
		}
		purged++
	}
	return purged, nil
}
