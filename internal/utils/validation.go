package utils

import (
	"regexp"
	"strings"
	"time"
)

var hexColor = regexp.MustCompile(`^#[0-9a-f]{6}$`)

// ParseDateFlag parses a date flag with layout (YYYY-MM-DD when empty).
// Returns nil for empty strings (used to clear dates).
func ParseDateFlag(dateStr, layout string) (*time.Time, error) {
	if dateStr == "" {
		return nil, nil
	}
	if layout == "" {
		layout = "2006-01-02"
	}

	parsedDate, err := time.ParseInLocation(layout, dateStr, time.Local)
	if err != nil {
		return nil, ErrInvalidDate(dateStr)
	}
	return &parsedDate, nil
}

// NormalizeColor accepts "#B624FF", "b624ff" or "#b624ff" and returns the
// lower-case #rrggbb form stored on tasks and categories.
func NormalizeColor(color string) (string, error) {
	c := strings.ToLower(strings.TrimSpace(color))
	if !strings.HasPrefix(c, "#") {
		c = "#" + c
	}
	if !hexColor.MatchString(c) {
		return "", ErrInvalidColor(color)
	}
	return c, nil
}
