package operations

import (
	"fmt"
	"math"
	"time"
)

// ValidateDeadline checks that a deadline does not fall before the day the
// task was created.
func ValidateDeadline(createdAt time.Time, deadline *time.Time) error {
	if deadline == nil {
		return nil
	}

	created := startOfDay(createdAt)
	if deadline.Before(created) {
		return fmt.Errorf("deadline (%s) cannot be before the task was created (%s)",
			deadline.Format("2006-01-02"),
			created.Format("2006-01-02"))
	}

	return nil
}

// FormatDeadline renders a deadline relative to now: "due today",
// "due tomorrow", "due in 3 days", "overdue by 2 days", or the date itself
// when it is more than a week away.
func FormatDeadline(deadline *time.Time, now time.Time, layout string) string {
	if deadline == nil {
		return ""
	}
	if layout == "" {
		layout = "2006-01-02"
	}

	days := int(math.Round(startOfDay(deadline.In(now.Location())).Sub(startOfDay(now)).Hours() / 24))
	switch {
	case days == 0:
		return "due today"
	case days == 1:
		return "due tomorrow"
	case days == -1:
		return "overdue by 1 day"
	case days < 0:
		return fmt.Sprintf("overdue by %d days", -days)
	case days <= 7:
		return fmt.Sprintf("due in %d days", days)
	}
	return "due " + deadline.Format(layout)
}

// IsOverdue reports whether the deadline day has passed.
func IsOverdue(deadline *time.Time, now time.Time) bool {
	return deadline != nil && startOfDay(deadline.In(now.Location())).Before(startOfDay(now))
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
