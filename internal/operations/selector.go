package operations

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"tasksync/backend"
)

// ErrSelectionCancelled is returned when the user picks 0 or closes input.
var ErrSelectionCancelled = errors.New("operation cancelled")

// TaskSelector asks the user to pick one task out of several matches.
type TaskSelector struct {
	in         io.Reader
	out        io.Writer
	categories []backend.Category
	dateFormat string
}

// NewTaskSelector creates a selector reading choices from in and printing
// candidates to out.
func NewTaskSelector(in io.Reader, out io.Writer, categories []backend.Category, dateFormat string) *TaskSelector {
	return &TaskSelector{
		in:         in,
		out:        out,
		categories: categories,
		dateFormat: dateFormat,
	}
}

// Select prints the numbered candidates and returns the chosen task.
func (ts *TaskSelector) Select(tasks []backend.Task, searchTerm string) (*backend.Task, error) {
	if len(tasks) == 0 {
		return nil, fmt.Errorf("no tasks to select from")
	}
	if len(tasks) == 1 {
		return &tasks[0], nil
	}

	fmt.Fprintf(ts.out, "\n%d tasks found matching '%s':\n", len(tasks), searchTerm)
	for i, task := range tasks {
		fmt.Fprintf(ts.out, "%d: %s  %s", i+1, ShortID(task.ID), task.Name)
		if names := CategoryNames(task, ts.categories); len(names) > 0 {
			fmt.Fprintf(ts.out, "  [%s]", strings.Join(names, ", "))
		}
		if task.Deadline != nil {
			fmt.Fprintf(ts.out, "  (due %s)", task.Deadline.Format(ts.dateFormat))
		}
		fmt.Fprintln(ts.out)
	}

	fmt.Fprintf(ts.out, "Select task (1-%d) or 0 to cancel: ", len(tasks))
	line, err := bufio.NewReader(ts.in).ReadString('\n')
	if err != nil && (err != io.EOF || strings.TrimSpace(line) == "") {
		return nil, ErrSelectionCancelled
	}

	choice, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if choice == 0 {
		return nil, ErrSelectionCancelled
	}
	if choice < 1 || choice > len(tasks) {
		return nil, fmt.Errorf("invalid choice: %d", choice)
	}

	return &tasks[choice-1], nil
}
