package operations

import (
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"tasksync/backend"
	"tasksync/internal/utils"
)

// Task states accepted by --status.
const (
	StatusTodo = "todo"
	StatusDone = "done"
)

// SortFields are the values accepted by --sort.
var SortFields = []string{"position", "name", "deadline", "created", "modified"}

// TaskFilter narrows the task list. The zero value keeps everything.
type TaskFilter struct {
	Statuses   []string
	PinnedOnly bool
	Category   uuid.UUID
}

// BuildFilter constructs a TaskFilter from the --status and --pinned flags.
// Statuses may be repeated or comma separated, and abbreviated to t or d.
func BuildFilter(cmd *cobra.Command) (*TaskFilter, error) {
	filter := &TaskFilter{}

	statuses, _ := cmd.Flags().GetStringArray("status")
	for _, status := range statuses {
		for part := range strings.SplitSeq(status, ",") {
			s := strings.ToLower(strings.TrimSpace(part))
			switch s {
			case "t", StatusTodo:
				s = StatusTodo
			case "d", StatusDone:
				s = StatusDone
			case "":
				continue
			default:
				return nil, utils.ErrInvalidOption("status", part, []string{StatusTodo, StatusDone})
			}
			if !slices.Contains(filter.Statuses, s) {
				filter.Statuses = append(filter.Statuses, s)
			}
		}
	}

	filter.PinnedOnly, _ = cmd.Flags().GetBool("pinned")
	return filter, nil
}

// Matches reports whether task passes the filter.
func (f *TaskFilter) Matches(task backend.Task) bool {
	if f == nil {
		return true
	}
	if len(f.Statuses) > 0 {
		status := StatusTodo
		if task.Done {
			status = StatusDone
		}
		if !slices.Contains(f.Statuses, status) {
			return false
		}
	}
	if f.PinnedOnly && !task.Pinned {
		return false
	}
	if f.Category != uuid.Nil && !task.HasCategory(f.Category) {
		return false
	}
	return true
}

// ApplyFilter returns the tasks that pass filter, keeping their order.
func ApplyFilter(tasks []backend.Task, filter *TaskFilter) []backend.Task {
	var kept []backend.Task
	for _, t := range tasks {
		if filter.Matches(t) {
			kept = append(kept, t)
		}
	}
	return kept
}

// SortTasks orders tasks in place. Pinned tasks always come first; within
// each group tasks are ordered by sortBy ("position" when empty).
func SortTasks(tasks []backend.Task, sortBy string, sortOrder string) error {
	if sortBy == "" {
		sortBy = "position"
	}
	if !slices.Contains(SortFields, sortBy) {
		return utils.ErrInvalidOption("sort field", sortBy, SortFields)
	}
	ascending := !strings.EqualFold(sortOrder, "desc")

	sort.SliceStable(tasks, func(i, j int) bool {
		ti, tj := tasks[i], tasks[j]
		if ti.Pinned != tj.Pinned {
			return ti.Pinned
		}

		var less, greater bool
		switch sortBy {
		case "name":
			a, b := strings.ToLower(ti.Name), strings.ToLower(tj.Name)
			less, greater = a < b, a > b
		case "deadline":
			less = compareDatePointers(ti.Deadline, tj.Deadline, true)
			greater = compareDatePointers(tj.Deadline, ti.Deadline, true)
		case "created":
			less, greater = ti.CreatedAt.Before(tj.CreatedAt), ti.CreatedAt.After(tj.CreatedAt)
		case "modified":
			less, greater = ti.LastSave.Before(tj.LastSave), ti.LastSave.After(tj.LastSave)
		default:
			less = comparePositions(ti.Position, tj.Position)
			greater = comparePositions(tj.Position, ti.Position)
		}

		if ascending {
			return less
		}
		return greater
	})
	return nil
}

// compareDatePointers compares two date pointers, handling nil values
// nilsLast determines whether nil values should be considered greater than non-nil
func compareDatePointers(a, b *time.Time, nilsLast bool) bool {
	if a == nil && b == nil {
		return false
	}
	if a == nil {
		return !nilsLast
	}
	if b == nil {
		return nilsLast
	}
	return a.Before(*b)
}

// comparePositions orders unpositioned tasks after positioned ones.
func comparePositions(a, b *int) bool {
	if a == nil || b == nil {
		return a != nil && b == nil
	}
	return *a < *b
}

// CategoryNames resolves the category ids of task to names, skipping ids the
// replica no longer knows.
func CategoryNames(task backend.Task, categories []backend.Category) []string {
	byID := make(map[uuid.UUID]string, len(categories))
	for _, c := range categories {
		byID[c.ID] = c.Name
	}
	var names []string
	for _, id := range task.Categories {
		if name, ok := byID[id]; ok {
			names = append(names, name)
		}
	}
	return names
}

// ResolveCategories maps names (or ids) given on the command line to
// category ids.
func ResolveCategories(terms []string, categories []backend.Category) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	for _, term := range terms {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		idx := slices.IndexFunc(categories, func(c backend.Category) bool {
			return strings.EqualFold(c.Name, term) || c.ID.String() == strings.ToLower(term)
		})
		if idx < 0 {
			return nil, utils.ErrCategoryNotFound(term)
		}
		if !slices.Contains(ids, categories[idx].ID) {
			ids = append(ids, categories[idx].ID)
		}
	}
	return ids, nil
}

// ShortID is the id prefix printed in task lists and accepted as a task
// reference.
func ShortID(id uuid.UUID) string {
	return fmt.Sprintf("%.8s", id.String())
}
