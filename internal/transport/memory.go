package transport

import (
	"context"
	"fmt"
	"sync"

	"tasksync/internal/pairing"
)

// MemoryNetwork connects hosts and guests inside one process.
type MemoryNetwork struct {
	// DuplicateDelivery delivers every sent message twice.
	DuplicateDelivery bool
	// Unreachable makes Dial block until its context ends, like a host that
	// never answers.
	Unreachable bool
	// MaxFrameBytes closes a session with ReasonOversize when exceeded. Zero
	// means DefaultMaxFrameBytes.
	MaxFrameBytes int

	mu        sync.Mutex
	listeners map[pairing.Code]*memoryListener
}

var _ Network = (*MemoryNetwork)(nil)

// NewMemoryNetwork creates an empty in-process network.
func NewMemoryNetwork() *MemoryNetwork {
	return &MemoryNetwork{listeners: make(map[pairing.Code]*memoryListener)}
}

func (n *MemoryNetwork) Listen(code pairing.Code) (Listener, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, taken := n.listeners[code]; taken {
		return nil, fmt.Errorf("code %s is already listening", code)
	}
	l := &memoryListener{
		network: n,
		code:    code,
		pending: make(chan *memorySession, 1),
		closed:  make(chan struct{}),
	}
	n.listeners[code] = l
	return l, nil
}

func (n *MemoryNetwork) Dial(ctx context.Context, target pairing.Target) (Session, error) {
	if n.Unreachable {
		<-ctx.Done()
		return nil, fmt.Errorf("%w: %v", ErrConnectTimeout, ctx.Err())
	}

	n.mu.Lock()
	l, ok := n.listeners[target.Code]
	n.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPeerUnavailable, target.Code)
	}

	host, guest := n.pipe()
	if !l.offer(host) {
		return nil, fmt.Errorf("%w: %s is already paired", ErrPeerUnavailable, target.Code)
	}
	return guest, nil
}

// Listening reports how many codes currently have an open listener.
func (n *MemoryNetwork) Listening() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.listeners)
}

func (n *MemoryNetwork) remove(code pairing.Code) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.listeners, code)
}

func (n *MemoryNetwork) pipe() (*memorySession, *memorySession) {
	limit := n.MaxFrameBytes
	if limit <= 0 {
		limit = DefaultMaxFrameBytes
	}
	a := &memorySession{conn: newConn(), duplicate: n.DuplicateDelivery, limit: limit}
	b := &memorySession{conn: newConn(), duplicate: n.DuplicateDelivery, limit: limit}
	a.peer, b.peer = b, a
	return a, b
}

type memoryListener struct {
	network *MemoryNetwork
	code    pairing.Code
	pending chan *memorySession

	mu    sync.Mutex
	taken bool

	closeOnce sync.Once
	closed    chan struct{}
}

// MemoryAddr is the address every in-process listener reports. Dial only
// looks at the code.
const MemoryAddr = "memory:0"

func (l *memoryListener) Addr() string {
	return MemoryAddr
}

// offer queues s for Accept unless a guest already connected.
func (l *memoryListener) offer(s *memorySession) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	select {
	case <-l.closed:
		return false
	default:
	}
	if l.taken {
		return false
	}
	l.taken = true
	l.pending <- s
	return true
}

func (l *memoryListener) Accept(ctx context.Context) (Session, error) {
	select {
	case s := <-l.pending:
		return s, nil
	case <-l.closed:
		return nil, ErrListenerClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *memoryListener) Close() error {
	l.closeOnce.Do(func() {
		close(l.closed)
		l.network.remove(l.code)
	})
	return nil
}

type memorySession struct {
	*conn
	peer      *memorySession
	duplicate bool
	limit     int
}

func (s *memorySession) Send(ctx context.Context, data []byte) error {
	if s.State() != StateOpen {
		return ErrNotOpen
	}
	if len(data) > s.limit {
		err := fmt.Errorf("message of %d bytes exceeds limit of %d", len(data), s.limit)
		s.peer.markClosed(ReasonOversize, err)
		s.markClosed(ReasonOversize, err)
		return &ClosedError{Reason: ReasonOversize, Err: err}
	}

	copies := 1
	if s.duplicate {
		copies = 2
	}
	for i := 0; i < copies; i++ {
		msg := append([]byte(nil), data...)
		select {
		case s.peer.inbox <- msg:
		case <-s.peer.done:
			return ErrNotOpen
		case <-s.done:
			return ErrNotOpen
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (s *memorySession) Close() error {
	if s.markClosed(ReasonLocal, nil) {
		s.peer.markClosed(ReasonPeerClosed, nil)
	}
	return nil
}
