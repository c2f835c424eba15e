// Package transport carries opaque byte messages between exactly two peers.
//
// A host listens under its pairing code and accepts one Session; a guest dials
// the host's Target. Sessions deliver messages in send order and report why
// they closed.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"tasksync/internal/pairing"
)

// DefaultConnectTimeout bounds Dial when the caller sets no deadline.
const DefaultConnectTimeout = 30 * time.Second

// DefaultMaxFrameBytes is the largest message a session accepts.
const DefaultMaxFrameBytes = 8 << 20

var (
	// ErrNotOpen is returned by Send on a session that is not Open.
	ErrNotOpen = errors.New("transport session is not open")
	// ErrConnectTimeout is returned when the host did not answer in time.
	ErrConnectTimeout = errors.New("connection to host timed out")
	// ErrPeerUnavailable wraps pairing.ErrPeerUnavailable so callers can test either.
	ErrPeerUnavailable = fmt.Errorf("transport: %w", pairing.ErrPeerUnavailable)
	// ErrListenerClosed is returned by Accept after Close.
	ErrListenerClosed = errors.New("listener closed")
)

// State is the lifecycle position of a Session.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// CloseReason explains why a session reached StateClosed.
type CloseReason string

const (
	ReasonLocal      CloseReason = "local"
	ReasonPeerClosed CloseReason = "peer_closed"
	ReasonTimeout    CloseReason = "timeout"
	ReasonOversize   CloseReason = "oversize"
	ReasonError      CloseReason = "error"
)

// ClosedError is returned by Receive once the session is closed and every
// message received before the close has been delivered.
type ClosedError struct {
	Reason CloseReason
	Err    error
}

func (e *ClosedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transport closed (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("transport closed (%s)", e.Reason)
}

func (e *ClosedError) Unwrap() error {
	return e.Err
}

// Session is one open connection between host and guest.
type Session interface {
	State() State
	// Send queues data for the peer. It fails with ErrNotOpen unless Open.
	Send(ctx context.Context, data []byte) error
	// Receive blocks until the next message, ctx is done, or the session
	// closes (*ClosedError).
	Receive(ctx context.Context) ([]byte, error)
	Close() error
}

// Listener is the host posture: it yields exactly one Session.
type Listener interface {
	// Addr is the address a guest should dial.
	Addr() string
	Accept(ctx context.Context) (Session, error)
	Close() error
}

// Network opens listeners and dials peers.
type Network interface {
	Listen(code pairing.Code) (Listener, error)
	Dial(ctx context.Context, target pairing.Target) (Session, error)
}

// inboxSize bounds buffered, not yet received messages per session.
const inboxSize = 16

// conn holds the state and inbox shared by every Session implementation.
type conn struct {
	mu     sync.Mutex
	state  State
	reason CloseReason
	err    error

	inbox chan []byte
	done  chan struct{}
}

func newConn() *conn {
	return &conn{
		state: StateOpen,
		inbox: make(chan []byte, inboxSize),
		done:  make(chan struct{}),
	}
}

func (c *conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// markClosed moves the session to StateClosed once; later calls are no-ops.
func (c *conn) markClosed(reason CloseReason, err error) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return false
	}
	c.state = StateClosed
	c.reason = reason
	c.err = err
	close(c.done)
	return true
}

func (c *conn) closedError() *ClosedError {
	c.mu.Lock()
	defer c.mu.Unlock()
	return &ClosedError{Reason: c.reason, Err: c.err}
}

// deliver hands a received message to Receive. It gives up when the session closes.
func (c *conn) deliver(data []byte) bool {
	select {
	case c.inbox <- data:
		return true
	case <-c.done:
		return false
	}
}

func (c *conn) Receive(ctx context.Context) ([]byte, error) {
	select {
	case data := <-c.inbox:
		return data, nil
	default:
	}

	select {
	case data := <-c.inbox:
		return data, nil
	case <-c.done:
		// Messages that raced with the close are still delivered.
		select {
		case data := <-c.inbox:
			return data, nil
		default:
		}
		return nil, c.closedError()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
