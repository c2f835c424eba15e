package sync

import (
	"context"
	"errors"
	"fmt"

	"tasksync/backend"
	backendsync "tasksync/backend/sync"
	"tasksync/internal/pairing"
	"tasksync/internal/protocol"
	"tasksync/internal/transport"
)

var (
	// ErrSessionActive is returned when a session is already running or has
	// not been reset since it finished.
	ErrSessionActive = errors.New("a sync session is already active, reset it first")
	// ErrExchangeStarted is returned when the other-data option changes too late.
	ErrExchangeStarted = errors.New("the data exchange has already started")
	// ErrExchangeTimeout is the cause recorded when the exchange budget runs out.
	ErrExchangeTimeout = errors.New("data exchange timed out")
	// ErrReset is the cause recorded when Reset aborts a session.
	ErrReset = errors.New("sync session was reset")
)

// Kind groups failures by the layer that produced them.
type Kind string

const (
	KindNegotiation Kind = "negotiation"
	KindTransport   Kind = "transport"
	KindProtocol    Kind = "protocol"
	KindMerge       Kind = "merge"
	KindStorage     Kind = "storage"
)

// Failure codes reported in SyncError.Code. Protocol failures use the wire
// error code instead.
const (
	CodeInvalidCode      = "invalid_code"
	CodePeerUnavailable  = "peer_unavailable"
	CodeConnectTimeout   = "connect_timeout"
	CodeExchangeTimeout  = "exchange_timeout"
	CodePeerDisconnected = "peer_disconnected"
	CodeCanceled         = "canceled"
	CodeMergeInvariant   = "merge_invariant"
	CodeStorage          = "storage_failure"
	CodeUnknown          = "unknown"
)

// SyncError is the classified form of any error that ends a session.
type SyncError struct {
	Kind Kind
	Code string
	Err  error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("%s error (%s): %v", e.Kind, e.Code, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// Retryable reports whether trying again with the same peer may succeed.
func (e *SyncError) Retryable() bool {
	switch e.Code {
	case CodePeerUnavailable, CodeConnectTimeout, CodeExchangeTimeout, CodePeerDisconnected, CodeCanceled:
		return true
	}
	return false
}

// Severity is warning for retryable failures and error otherwise.
func (e *SyncError) Severity() Severity {
	if e.Retryable() {
		return SeverityWarning
	}
	return SeverityError
}

func storageError(err error) *SyncError {
	return &SyncError{Kind: KindStorage, Code: CodeStorage, Err: err}
}

// Classify maps an error from pairing, transport, protocol, merge or storage
// to a SyncError. Already classified errors are returned as is.
func Classify(err error) *SyncError {
	if err == nil {
		return nil
	}

	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		return syncErr
	}

	var protoErr *protocol.ProtocolError
	if errors.As(err, &protoErr) {
		return &SyncError{Kind: KindProtocol, Code: string(protoErr.Code), Err: err}
	}

	var closedErr *transport.ClosedError
	if errors.As(err, &closedErr) {
		switch closedErr.Reason {
		case transport.ReasonOversize:
			return &SyncError{Kind: KindProtocol, Code: string(protocol.CodeMalformedSnapshot), Err: err}
		case transport.ReasonTimeout:
			return &SyncError{Kind: KindTransport, Code: CodeExchangeTimeout, Err: err}
		}
		return &SyncError{Kind: KindTransport, Code: CodePeerDisconnected, Err: err}
	}

	var mergeErr *backendsync.MergeError
	if errors.As(err, &mergeErr) {
		return &SyncError{Kind: KindMerge, Code: CodeMergeInvariant, Err: err}
	}

	var storeErr *backend.StoreError
	if errors.As(err, &storeErr) {
		return storageError(err)
	}

	switch {
	case errors.Is(err, pairing.ErrInvalidCode):
		return &SyncError{Kind: KindNegotiation, Code: CodeInvalidCode, Err: err}
	case errors.Is(err, pairing.ErrPeerUnavailable):
		return &SyncError{Kind: KindNegotiation, Code: CodePeerUnavailable, Err: err}
	case errors.Is(err, transport.ErrConnectTimeout):
		return &SyncError{Kind: KindTransport, Code: CodeConnectTimeout, Err: err}
	case errors.Is(err, ErrExchangeTimeout), errors.Is(err, context.DeadlineExceeded):
		return &SyncError{Kind: KindTransport, Code: CodeExchangeTimeout, Err: err}
	case errors.Is(err, transport.ErrNotOpen):
		return &SyncError{Kind: KindTransport, Code: CodePeerDisconnected, Err: err}
	case errors.Is(err, context.Canceled), errors.Is(err, ErrReset):
		return &SyncError{Kind: KindTransport, Code: CodeCanceled, Err: err}
	}
	return &SyncError{Kind: KindTransport, Code: CodeUnknown, Err: err}
}
