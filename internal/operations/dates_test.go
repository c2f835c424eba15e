package operations

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestValidateDeadline(t *testing.T) {
	created := time.Date(2026, 1, 31, 15, 0, 0, 0, time.Local)
	sameDay := time.Date(2026, 1, 31, 0, 0, 0, 0, time.Local)
	before := time.Date(2026, 1, 30, 0, 0, 0, 0, time.Local)

	assert.NoError(t, ValidateDeadline(created, nil))
	assert.NoError(t, ValidateDeadline(created, &sameDay))

	err := ValidateDeadline(created, &before)
	if assert.Error(t, err) {
		assert.Equal(t, "deadline (2026-01-30) cannot be before the task was created (2026-01-31)", err.Error())
	}
}

func TestFormatDeadline(t *testing.T) {
	now := time.Date(2026, 6, 10, 18, 30, 0, 0, time.UTC)
	at := func(days int) *time.Time {
		d := time.Date(2026, 6, 10+days, 9, 0, 0, 0, time.UTC)
		return &d
	}

	tests := []struct {
		name     string
		deadline *time.Time
		want     string
	}{
		{"none", nil, ""},
		{"today", at(0), "due today"},
		{"tomorrow", at(1), "due tomorrow"},
		{"this week", at(4), "due in 4 days"},
		{"far away", at(20), "due 30/06/2026"},
		{"yesterday", at(-1), "overdue by 1 day"},
		{"last week", at(-6), "overdue by 6 days"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatDeadline(tt.deadline, now, "02/01/2006"))
		})
	}
}

func TestIsOverdue(t *testing.T) {
	now := time.Date(2026, 6, 10, 8, 0, 0, 0, time.UTC)
	earlierToday := time.Date(2026, 6, 10, 7, 0, 0, 0, time.UTC)
	yesterday := time.Date(2026, 6, 9, 23, 0, 0, 0, time.UTC)

	assert.False(t, IsOverdue(nil, now))
	assert.False(t, IsOverdue(&earlierToday, now))
	assert.True(t, IsOverdue(&yesterday, now))
}
