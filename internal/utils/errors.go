package utils

import (
	"fmt"
	"strings"
)

// ErrorWithSuggestion wraps an error with a helpful suggestion for the user
type ErrorWithSuggestion struct {
	Err        error
	Suggestion string
}

// Error implements the error interface
func (e *ErrorWithSuggestion) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("%v\n\nSuggestion: %s", e.Err, e.Suggestion)
	}
	return e.Err.Error()
}

// Unwrap allows errors.Is and errors.As to work
func (e *ErrorWithSuggestion) Unwrap() error {
	return e.Err
}

// Common error constructors with suggestions

// ErrTaskNotFound creates an error when no task matches a search term or id
func ErrTaskNotFound(searchTerm string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("no tasks found matching '%s'", searchTerm),
		Suggestion: "Run 'tasksync task list' to see all tasks and their ids",
	}
}

// ErrAmbiguousTask creates an error when a search term matches several tasks
func ErrAmbiguousTask(searchTerm string, matches int) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("%d tasks match '%s'", matches, searchTerm),
		Suggestion: "Use the task id shown by 'tasksync task list' instead",
	}
}

// ErrCategoryNotFound creates an error when a category is not found
func ErrCategoryNotFound(name string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("category '%s' not found", name),
		Suggestion: "Run 'tasksync category list' to see available categories",
	}
}

// PairingCodeHint explains what a pairing code looks like.
const PairingCodeHint = "Codes are 10 letters and digits, like ABCDE-FGHJK. Dashes and spaces are ignored"

// ErrInvalidPairingCode creates an error for a code the other device could not have shown
func ErrInvalidPairingCode(input string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("'%s' is not a valid pairing code", input),
		Suggestion: PairingCodeHint,
	}
}

// ErrHostUnreachable creates an error when the hosting device cannot be reached
func ErrHostUnreachable(addr, reason string) error {
	suggestion := "Make sure the other device is running 'tasksync sync host' and try again"
	if strings.Contains(reason, "refused") {
		suggestion = "Nothing is listening at " + addr + ". Check the address and that the host is still waiting"
	} else if strings.Contains(reason, "timeout") || strings.Contains(reason, "timed out") {
		suggestion = "Both devices must be on the same network, and a firewall may block the port"
	} else if addr == "" {
		suggestion = "Join with the full invite (tasksync://...) or set sync.host_addr in the config"
	}

	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("cannot reach the host: %s", reason),
		Suggestion: suggestion,
	}
}

// ErrIncompatiblePeer creates an error when the devices speak different protocol versions
func ErrIncompatiblePeer() error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("the other device runs an incompatible version of tasksync"),
		Suggestion: "Update tasksync on both devices",
	}
}

// ErrInvalidDate creates an error for invalid date formats
func ErrInvalidDate(dateStr string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("invalid date format: %s", dateStr),
		Suggestion: "Use YYYY-MM-DD format (e.g., 2026-01-15)",
	}
}

// ErrInvalidColor creates an error for colors that are not #rrggbb
func ErrInvalidColor(color string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("invalid color: %s", color),
		Suggestion: "Use a hex color such as #b624ff",
	}
}

// ErrInvalidOption creates an error for a value outside a fixed set
func ErrInvalidOption(name, value string, valid []string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("invalid %s: %s", name, value),
		Suggestion: fmt.Sprintf("Valid values: %s", strings.Join(valid, ", ")),
	}
}

// ErrInvalidConfig creates an error for invalid configuration
func ErrInvalidConfig(field string, reason string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("invalid configuration for '%s': %s", field, reason),
		Suggestion: fmt.Sprintf("Check ~/.config/tasksync/config.yaml and fix the '%s' field", field),
	}
}

// WrapWithSuggestion wraps an existing error with a suggestion
func WrapWithSuggestion(err error, suggestion string) error {
	if err == nil {
		return nil
	}
	return &ErrorWithSuggestion{
		Err:        err,
		Suggestion: suggestion,
	}
}
