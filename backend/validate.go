package backend

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Limits enforced on imported task files.
const (
	TaskNameMaxLength     = 40
	DescriptionMaxLength  = 350
	CategoryNameMaxLength = 20
	MaxImportFileSize     = 6 * 1024 * 1024
)

// ErrInvalidSnapshot is wrapped by every snapshot validation failure.
var ErrInvalidSnapshot = errors.New("invalid snapshot")

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// ValidationError lists every problem found in a snapshot or import file.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	if len(e.Problems) == 1 {
		return fmt.Sprintf("%v: %s", ErrInvalidSnapshot, e.Problems[0])
	}
	return fmt.Sprintf("%v: %d problems: %s", ErrInvalidSnapshot, len(e.Problems), strings.Join(e.Problems, "; "))
}

// Unwrap allows errors.Is(err, ErrInvalidSnapshot)
func (e *ValidationError) Unwrap() error {
	return ErrInvalidSnapshot
}

func (e *ValidationError) add(format string, args ...any) {
	e.Problems = append(e.Problems, fmt.Sprintf(format, args...))
}

func (e *ValidationError) orNil() error {
	if len(e.Problems) == 0 {
		return nil
	}
	return e
}

// ValidateSnapshot checks the fields a peer must always send: IDs, names and
// color formats, plus uniqueness of IDs inside each collection.
func ValidateSnapshot(s *Snapshot) error {
	verr := &ValidationError{}
	if s == nil {
		verr.add("snapshot is empty")
		return verr
	}

	if err := getValidator().Struct(s); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			for _, fe := range fieldErrs {
				verr.add("%s failed %q", fe.Namespace(), fe.Tag())
			}
		} else {
			verr.add("%v", err)
		}
	}

	seen := make(map[uuid.UUID]struct{}, len(s.Tasks))
	for i, t := range s.Tasks {
		if t.ID == uuid.Nil {
			verr.add("task %d has no id", i)
			continue
		}
		if _, dup := seen[t.ID]; dup {
			verr.add("duplicate task id %s", t.ID)
		}
		seen[t.ID] = struct{}{}
	}

	seen = make(map[uuid.UUID]struct{}, len(s.Categories))
	for i, c := range s.Categories {
		if c.ID == uuid.Nil {
			verr.add("category %d has no id", i)
			continue
		}
		if _, dup := seen[c.ID]; dup {
			verr.add("duplicate category id %s", c.ID)
		}
		seen[c.ID] = struct{}{}
	}

	for _, id := range s.DeletedTaskIDs {
		if id == uuid.Nil {
			verr.add("deleted task list contains the nil id")
		}
	}
	for _, id := range s.DeletedCategoryIDs {
		if id == uuid.Nil {
			verr.add("deleted category list contains the nil id")
		}
	}

	return verr.orNil()
}

// ValidateImport applies the stricter rules used for task files shared between
// users: length limits on names and descriptions, and hex colors everywhere.
func ValidateImport(tasks []Task, categories []Category) error {
	verr := &ValidationError{}
	for _, t := range tasks {
		if err := getValidator().Struct(t); err != nil {
			verr.add("task %q: %v", t.Name, err)
			continue
		}
		if utf8.RuneCountInString(t.Name) > TaskNameMaxLength {
			verr.add("task %q exceeds %d characters", t.Name, TaskNameMaxLength)
		}
		if utf8.RuneCountInString(t.Description) > DescriptionMaxLength {
			verr.add("task %q description exceeds %d characters", t.Name, DescriptionMaxLength)
		}
	}
	for _, c := range categories {
		if err := getValidator().Struct(c); err != nil {
			verr.add("category %q: %v", c.Name, err)
			continue
		}
		if utf8.RuneCountInString(c.Name) > CategoryNameMaxLength {
			verr.add("category %q exceeds %d characters", c.Name, CategoryNameMaxLength)
		}
	}
	return verr.orNil()
}

// ValidateColor returns an error unless color is a hex color like #ff00aa.
func ValidateColor(color string) error {
	if err := getValidator().Var(color, "required,hexcolor"); err != nil {
		return fmt.Errorf("invalid color %q: expected hex format like #b624ff", color)
	}
	return nil
}
