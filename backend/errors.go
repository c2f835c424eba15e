package backend

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a task or category does not exist in a replica.
var ErrNotFound = errors.New("not found")

// ErrDuplicateID is returned when adding an entity whose id already exists.
var ErrDuplicateID = errors.New("id already exists")

// ErrDeleted is returned when an operation targets a tombstoned id.
var ErrDeleted = errors.New("entity was deleted")

// StoreError represents an error from a replica store operation.
// It records the operation and the affected entity for context.
type StoreError struct {
	Operation string    // e.g., "AddTask", "WriteMergedSnapshot"
	Entity    string    // "task", "category", "snapshot"
	ID        uuid.UUID // Optional: affected entity
	Err       error
}

// Error implements the error interface
func (e *StoreError) Error() string {
	if e.ID != uuid.Nil {
		return fmt.Sprintf("%s failed for %s %s: %v", e.Operation, e.Entity, e.ID, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Operation, e.Err)
}

// Unwrap returns the underlying error for error wrapping
func (e *StoreError) Unwrap() error {
	return e.Err
}

// IsNotFound returns true if the error reports a missing entity
func (e *StoreError) IsNotFound() bool {
	return errors.Is(e.Err, ErrNotFound)
}

// NewStoreError creates a new StoreError
func NewStoreError(operation, entity string, id uuid.UUID, err error) *StoreError {
	return &StoreError{
		Operation: operation,
		Entity:    entity,
		ID:        id,
		Err:       err,
	}
}

// IsNotFound reports whether err is, or wraps, ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
