package sync

import (
	"fmt"

	"tasksync/backend"
)

// Mode is the coordinator's position in the session state machine.
type Mode int

const (
	ModeIdle Mode = iota
	ModeAdvertising
	ModeDialing
	ModeConnected
	ModeExchanging
	ModeCompleted
	ModeFailed
)

var modeNames = map[Mode]string{
	ModeIdle:        "idle",
	ModeAdvertising: "advertising",
	ModeDialing:     "dialing",
	ModeConnected:   "connected",
	ModeExchanging:  "exchanging",
	ModeCompleted:   "completed",
	ModeFailed:      "failed",
}

func (m Mode) String() string {
	if name, ok := modeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// Active reports whether a session is running in this mode.
func (m Mode) Active() bool {
	return m != ModeIdle && m != ModeCompleted && m != ModeFailed
}

// Severity tags a status for presentation.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Status is what a UI shows about the current session.
type Status struct {
	Mode     Mode     `json:"-" yaml:"-"`
	Severity Severity `json:"severity" yaml:"severity"`
	Message  string   `json:"message" yaml:"message"`
	// Err is set for failures.
	Err *SyncError `json:"-" yaml:"-"`
}

// StatusSink receives every status change, in order, outside the
// coordinator's lock.
type StatusSink interface {
	OnStatusChanged(Status)
}

// StatusFunc adapts a function to StatusSink.
type StatusFunc func(Status)

func (f StatusFunc) OnStatusChanged(s Status) {
	f(s)
}

// Role is which side of the pairing this device took.
type Role string

const (
	RoleNone  Role = ""
	RoleHost  Role = "host"
	RoleGuest Role = "guest"
)

// OtherDataSourceLabel names whose other data was applied, as seen by role.
// source is the merge result's OtherDataSource (this device's perspective).
func OtherDataSourceLabel(role Role, source backend.OtherDataSyncOption) string {
	switch source {
	case backend.ThisDevice:
		return "This device"
	case backend.OtherDevice:
		if role == RoleGuest {
			return "Host device"
		}
		return "Other device"
	case backend.NoSync:
		return "Not synced"
	}
	return ""
}
