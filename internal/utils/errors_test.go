package utils

import (
	"errors"
	"strings"
	"testing"
)

func TestErrorWithSuggestion_Error(t *testing.T) {
	tests := []struct {
		name           string
		err            error
		suggestion     string
		wantContains   []string
		wantNotContain string
	}{
		{
			name:         "with suggestion",
			err:          errors.New("task not found"),
			suggestion:   "Try searching with a different term",
			wantContains: []string{"task not found", "Suggestion:", "Try searching"},
		},
		{
			name:           "without suggestion",
			err:            errors.New("simple error"),
			suggestion:     "",
			wantContains:   []string{"simple error"},
			wantNotContain: "Suggestion:",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &ErrorWithSuggestion{
				Err:        tt.err,
				Suggestion: tt.suggestion,
			}

			result := e.Error()

			for _, want := range tt.wantContains {
				if !strings.Contains(result, want) {
					t.Errorf("Error() = %q, want to contain %q", result, want)
				}
			}

			if tt.wantNotContain != "" && strings.Contains(result, tt.wantNotContain) {
				t.Errorf("Error() = %q, should not contain %q", result, tt.wantNotContain)
			}
		})
	}
}

func TestErrorWithSuggestion_Unwrap(t *testing.T) {
	originalErr := errors.New("original error")
	wrapped := &ErrorWithSuggestion{
		Err:        originalErr,
		Suggestion: "do something",
	}

	unwrapped := wrapped.Unwrap()
	if unwrapped != originalErr {
		t.Errorf("Unwrap() returned %v, want %v", unwrapped, originalErr)
	}

	// Test with errors.Is
	if !errors.Is(wrapped, originalErr) {
		t.Error("errors.Is should work with wrapped error")
	}
}

func TestErrTaskNotFound(t *testing.T) {
	err := ErrTaskNotFound("my task")

	errStr := err.Error()
	if !strings.Contains(errStr, "my task") {
		t.Errorf("Error should contain search term 'my task', got: %s", errStr)
	}
	if !strings.Contains(errStr, "Suggestion:") {
		t.Errorf("Error should contain suggestion, got: %s", errStr)
	}
	if !strings.Contains(errStr, "tasksync task list") {
		t.Errorf("Error should suggest 'tasksync task list', got: %s", errStr)
	}
}

func TestErrAmbiguousTask(t *testing.T) {
	errStr := ErrAmbiguousTask("milk", 3).Error()
	if !strings.Contains(errStr, "3 tasks match 'milk'") {
		t.Errorf("Error should report the match count, got: %s", errStr)
	}
}

func TestErrCategoryNotFound(t *testing.T) {
	errStr := ErrCategoryNotFound("Work").Error()
	if !strings.Contains(errStr, "Work") {
		t.Errorf("Error should contain category name 'Work', got: %s", errStr)
	}
	if !strings.Contains(errStr, "tasksync category list") {
		t.Errorf("Error should suggest 'tasksync category list', got: %s", errStr)
	}
}

func TestErrInvalidPairingCode(t *testing.T) {
	errStr := ErrInvalidPairingCode("HELLO").Error()
	if !strings.Contains(errStr, "HELLO") {
		t.Errorf("Error should contain the input, got: %s", errStr)
	}
	if !strings.Contains(errStr, "ABCDE-FGHJK") {
		t.Errorf("Error should show the code format, got: %s", errStr)
	}
}

func TestErrHostUnreachable(t *testing.T) {
	tests := []struct {
		name           string
		addr           string
		reason         string
		wantSuggestion string
	}{
		{
			name:           "Connection refused",
			addr:           "192.168.1.20:7420",
			reason:         "connection refused",
			wantSuggestion: "Nothing is listening at 192.168.1.20:7420",
		},
		{
			name:           "Timeout",
			addr:           "192.168.1.20:7420",
			reason:         "connect timed out",
			wantSuggestion: "firewall",
		},
		{
			name:           "No address",
			addr:           "",
			reason:         "no host address known",
			wantSuggestion: "sync.host_addr",
		},
		{
			name:           "Generic error",
			addr:           "192.168.1.20:7420",
			reason:         "no one is hosting this code",
			wantSuggestion: "tasksync sync host",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errStr := ErrHostUnreachable(tt.addr, tt.reason).Error()
			if !strings.Contains(errStr, tt.reason) {
				t.Errorf("Error should contain reason, got: %s", errStr)
			}
			if !strings.Contains(errStr, tt.wantSuggestion) {
				t.Errorf("Error should contain suggestion about '%s', got: %s", tt.wantSuggestion, errStr)
			}
		})
	}
}

func TestErrIncompatiblePeer(t *testing.T) {
	errStr := ErrIncompatiblePeer().Error()
	if !strings.Contains(errStr, "both devices") {
		t.Errorf("Error should suggest updating both devices, got: %s", errStr)
	}
}

func TestErrInvalidDate(t *testing.T) {
	err := ErrInvalidDate("01/15/2026")

	errStr := err.Error()
	if !strings.Contains(errStr, "01/15/2026") {
		t.Errorf("Error should contain invalid date, got: %s", errStr)
	}
	if !strings.Contains(errStr, "YYYY-MM-DD") {
		t.Errorf("Error should suggest correct format, got: %s", errStr)
	}
}

func TestErrInvalidColor(t *testing.T) {
	errStr := ErrInvalidColor("purple").Error()
	if !strings.Contains(errStr, "purple") || !strings.Contains(errStr, "#b624ff") {
		t.Errorf("Error should contain the color and an example, got: %s", errStr)
	}
}

func TestErrInvalidOption(t *testing.T) {
	valid := []string{"this_device", "other_device", "no_sync"}
	errStr := ErrInvalidOption("other data option", "both", valid).Error()
	if !strings.Contains(errStr, "both") {
		t.Errorf("Error should contain invalid value, got: %s", errStr)
	}
	for _, v := range valid {
		if !strings.Contains(errStr, v) {
			t.Errorf("Error should list valid value '%s', got: %s", v, errStr)
		}
	}
}

func TestErrInvalidConfig(t *testing.T) {
	errStr := ErrInvalidConfig("sync.listen_addr", "bad port").Error()
	if !strings.Contains(errStr, "'sync.listen_addr'") || !strings.Contains(errStr, "config.yaml") {
		t.Errorf("Error should name the field and the config file, got: %s", errStr)
	}
}

func TestWrapWithSuggestion(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		suggestion string
		wantNil    bool
	}{
		{
			name:       "wrap error",
			err:        errors.New("original error"),
			suggestion: "try this instead",
			wantNil:    false,
		},
		{
			name:       "wrap nil",
			err:        nil,
			suggestion: "this should not appear",
			wantNil:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := WrapWithSuggestion(tt.err, tt.suggestion)

			if tt.wantNil {
				if result != nil {
					t.Errorf("WrapWithSuggestion(nil, _) should return nil, got %v", result)
				}
				return
			}

			if result == nil {
				t.Fatal("WrapWithSuggestion() returned nil for non-nil error")
			}

			errStr := result.Error()
			if !strings.Contains(errStr, "original error") {
				t.Errorf("Wrapped error should contain original message, got: %s", errStr)
			}
			if !strings.Contains(errStr, tt.suggestion) {
				t.Errorf("Wrapped error should contain suggestion, got: %s", errStr)
			}
		})
	}
}
