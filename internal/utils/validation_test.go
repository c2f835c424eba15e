package utils

import (
	"errors"
	"testing"
	"time"
)

func TestParseDateFlag(t *testing.T) {
	tests := []struct {
		name     string
		dateFlag string
		layout   string
		wantDate *time.Time
		wantErr  bool
	}{
		{
			name:     "empty string returns nil",
			dateFlag: "",
			wantDate: nil,
		},
		{
			name:     "valid ISO date",
			dateFlag: "2026-01-15",
			wantDate: ptrTime(time.Date(2026, 1, 15, 0, 0, 0, 0, time.Local)),
		},
		{
			name:     "custom layout",
			dateFlag: "15/01/2026",
			layout:   "02/01/2006",
			wantDate: ptrTime(time.Date(2026, 1, 15, 0, 0, 0, 0, time.Local)),
		},
		{
			name:     "invalid format - text",
			dateFlag: "not-a-date",
			wantErr:  true,
		},
		{
			name:     "invalid format - wrong separator",
			dateFlag: "2026/01/15",
			wantErr:  true,
		},
		{
			name:     "invalid month",
			dateFlag: "2026-13-15",
			wantErr:  true,
		},
		{
			name:     "invalid day",
			dateFlag: "2026-01-40",
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ParseDateFlag(tt.dateFlag, tt.layout)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseDateFlag(%q) error = %v, wantErr %v", tt.dateFlag, err, tt.wantErr)
				return
			}
			if tt.wantErr {
				var suggestion *ErrorWithSuggestion
				if !errors.As(err, &suggestion) {
					t.Errorf("ParseDateFlag(%q) error should carry a suggestion, got %T", tt.dateFlag, err)
				}
				return
			}
			if (result == nil) != (tt.wantDate == nil) {
				t.Errorf("ParseDateFlag(%q) nil mismatch: got %v, want %v", tt.dateFlag, result, tt.wantDate)
				return
			}
			if result != nil && !result.Equal(*tt.wantDate) {
				t.Errorf("ParseDateFlag(%q) = %v, want %v", tt.dateFlag, result, tt.wantDate)
			}
		})
	}
}

// ptrTime is a helper to create a time pointer
func ptrTime(t time.Time) *time.Time {
	return &t
}

func TestNormalizeColor(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{"#b624ff", "#b624ff", false},
		{"#B624FF", "#b624ff", false},
		{"b624ff", "#b624ff", false},
		{" #00aa11 ", "#00aa11", false},
		{"purple", "", true},
		{"#fff", "", true},
		{"#b624ffaa", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := NormalizeColor(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NormalizeColor(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("NormalizeColor(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
