// Package protocol defines the messages two peers exchange during a sync and
// drives the hello/snapshot/ack handshake over a transport connection.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"

	"tasksync/backend"
)

// ProtocolVersion is sent in every message. Peers must run the same version.
const ProtocolVersion = 1

// DefaultMaxSnapshotBytes bounds a single encoded message.
const DefaultMaxSnapshotBytes = backend.MaxImportFileSize

// Kind discriminates messages on the wire.
type Kind string

const (
	KindHello    Kind = "hello"
	KindSnapshot Kind = "snapshot"
	KindAck      Kind = "ack"
	KindError    Kind = "error"
)

// Role is the posture a peer took when pairing.
type Role string

const (
	RoleHost  Role = "host"
	RoleGuest Role = "guest"
)

// Valid reports whether r is host or guest.
func (r Role) Valid() bool {
	return r == RoleHost || r == RoleGuest
}

// ErrorCode identifies why a peer aborted the exchange.
type ErrorCode string

const (
	CodeVersionMismatch   ErrorCode = "version_mismatch"
	CodeMalformedSnapshot ErrorCode = "malformed_snapshot"
	CodeRoleConflict      ErrorCode = "role_conflict"
	CodeUnexpectedMessage ErrorCode = "unexpected_message"
)

// Message is the envelope of every frame. Only the fields of its Kind are set.
type Message struct {
	Type    Kind `json:"type"`
	Version int  `json:"version"`

	// hello
	Role      Role                        `json:"role,omitempty"`
	OtherData backend.OtherDataSyncOption `json:"other_data,omitempty"`

	// snapshot
	Payload json.RawMessage `json:"payload,omitempty"`

	// error
	Code   ErrorCode `json:"code,omitempty"`
	Reason string    `json:"message,omitempty"`
}

// Hello announces the sender's role. Hosts also send their other-data option.
func Hello(role Role, option backend.OtherDataSyncOption) Message {
	m := Message{Type: KindHello, Version: ProtocolVersion, Role: role}
	if role == RoleHost {
		m.OtherData = option
	}
	return m
}

// SnapshotMessage wraps a replica snapshot.
func SnapshotMessage(s *backend.Snapshot) (Message, error) {
	payload, err := json.Marshal(s)
	if err != nil {
		return Message{}, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return Message{Type: KindSnapshot, Version: ProtocolVersion, Payload: payload}, nil
}

// Ack confirms receipt of the peer's snapshot.
func Ack() Message {
	return Message{Type: KindAck, Version: ProtocolVersion}
}

// ErrorMessage tells the peer the exchange is aborted.
func ErrorMessage(code ErrorCode, reason string) Message {
	return Message{Type: KindError, Version: ProtocolVersion, Code: code, Reason: reason}
}

// Encode serializes m.
func Encode(m Message) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s message: %w", m.Type, err)
	}
	return data, nil
}

// Decode parses one frame. The size bound is checked before any parsing, so
// an oversize frame is never unmarshalled.
func Decode(data []byte, maxBytes int) (Message, error) {
	if maxBytes > 0 && len(data) > maxBytes {
		return Message{}, &ProtocolError{
			Code:   CodeMalformedSnapshot,
			Reason: fmt.Sprintf("message of %d bytes exceeds limit of %d", len(data), maxBytes),
		}
	}
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, &ProtocolError{Code: CodeMalformedSnapshot, Reason: "undecodable message", Err: err}
	}
	if m.Type == "" {
		return Message{}, &ProtocolError{Code: CodeUnexpectedMessage, Reason: "message has no type"}
	}
	return m, nil
}

// Snapshot decodes and validates the payload of a snapshot message.
func (m Message) Snapshot() (*backend.Snapshot, error) {
	if m.Type != KindSnapshot {
		return nil, &ProtocolError{Code: CodeUnexpectedMessage, Reason: fmt.Sprintf("expected snapshot, got %s", m.Type)}
	}
	if len(m.Payload) == 0 || bytes.Equal(m.Payload, []byte("null")) {
		return nil, &ProtocolError{Code: CodeMalformedSnapshot, Reason: "snapshot payload is empty"}
	}

	dec := json.NewDecoder(bytes.NewReader(m.Payload))
	var s backend.Snapshot
	if err := dec.Decode(&s); err != nil {
		return nil, &ProtocolError{Code: CodeMalformedSnapshot, Reason: "undecodable snapshot", Err: err}
	}
	if err := backend.ValidateSnapshot(&s); err != nil {
		return nil, &ProtocolError{Code: CodeMalformedSnapshot, Reason: "snapshot failed validation", Err: err}
	}
	return &s, nil
}

// ProtocolError reports a violated exchange rule. Remote is set when the
// peer sent the error rather than this side detecting it.
type ProtocolError struct {
	Code   ErrorCode
	Reason string
	Remote bool
	Err    error
}

func (e *ProtocolError) Error() string {
	who := "protocol error"
	if e.Remote {
		who = "peer reported"
	}
	msg := fmt.Sprintf("%s %s", who, e.Code)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}
