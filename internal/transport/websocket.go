package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tasksync/internal/pairing"
)

// SyncPath is the HTTP route a host serves; the pairing code is the last segment.
const SyncPath = "/sync/"

const (
	writeWait    = 10 * time.Second
	closeWait    = time.Second
	bufferSize   = 32 * 1024
	shutdownWait = 5 * time.Second
)

// WebSocketConfig configures a WebSocketNetwork.
type WebSocketConfig struct {
	ListenAddr     string        // host:port to bind, ":0" picks a free port
	AdvertiseAddr  string        // host:port put into invites; defaults to the bound address
	ConnectTimeout time.Duration // zero means DefaultConnectTimeout
	MaxFrameBytes  int64         // zero means DefaultMaxFrameBytes
}

// WebSocketNetwork carries sessions over a WebSocket per pairing. The host runs
// a small HTTP server that upgrades exactly one request for its code.
type WebSocketNetwork struct {
	cfg    WebSocketConfig
	logger *zap.Logger
	dialer websocket.Dialer
}

var _ Network = (*WebSocketNetwork)(nil)

// NewWebSocketNetwork creates a network using cfg.
func NewWebSocketNetwork(cfg WebSocketConfig, logger *zap.Logger) *WebSocketNetwork {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.MaxFrameBytes <= 0 {
		cfg.MaxFrameBytes = DefaultMaxFrameBytes
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebSocketNetwork{
		cfg:    cfg,
		logger: logger,
		dialer: websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.ConnectTimeout,
			ReadBufferSize:   bufferSize,
			WriteBufferSize:  bufferSize,
		},
	}
}

// Listen binds the configured address and serves SyncPath+code until the
// listener is closed.
func (n *WebSocketNetwork) Listen(code pairing.Code) (Listener, error) {
	ln, err := net.Listen("tcp", n.cfg.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", n.cfg.ListenAddr, err)
	}

	addr := n.cfg.AdvertiseAddr
	if addr == "" {
		addr = reachableAddr(ln.Addr())
	}

	l := &wsListener{
		code:     code,
		addr:     addr,
		maxFrame: n.cfg.MaxFrameBytes,
		logger:   n.logger.With(zap.String("addr", ln.Addr().String())),
		accepted: make(chan *wsSession, 1),
		closed:   make(chan struct{}),
	}
	l.upgrader = websocket.Upgrader{
		ReadBufferSize:  bufferSize,
		WriteBufferSize: bufferSize,
		// Peers are other devices, never browsers; possession of the code is the check.
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+SyncPath+"{code}", l.handle)
	l.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: n.cfg.ConnectTimeout,
	}

	l.group.Go(func() error {
		if err := l.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	l.logger.Debug("listening for sync guest", zap.String("advertise", addr))
	return l, nil
}

// Dial connects to target and waits until the session is open or the
// connect timeout expires.
func (n *WebSocketNetwork) Dial(ctx context.Context, target pairing.Target) (Session, error) {
	dialCtx, cancel := context.WithTimeout(ctx, n.cfg.ConnectTimeout)
	defer cancel()

	u := url.URL{Scheme: "ws", Host: target.Addr, Path: SyncPath + string(target.Code)}
	c, resp, err := n.dialer.DialContext(dialCtx, u.String(), nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, n.classifyDialError(ctx, dialCtx, resp, err)
	}

	n.logger.Debug("connected to sync host", zap.String("addr", target.Addr))
	return newWSSession(c, n.cfg.MaxFrameBytes), nil
}

func (n *WebSocketNetwork) classifyDialError(ctx, dialCtx context.Context, resp *http.Response, err error) error {
	if resp != nil {
		switch resp.StatusCode {
		case http.StatusNotFound, http.StatusConflict, http.StatusGone:
			return fmt.Errorf("%w: host answered %s", ErrPeerUnavailable, resp.Status)
		}
		return fmt.Errorf("handshake failed with %s: %w", resp.Status, err)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(dialCtx.Err(), context.DeadlineExceeded) || isTimeout(err) {
		return fmt.Errorf("%w: %v", ErrConnectTimeout, err)
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EHOSTUNREACH) {
		return fmt.Errorf("%w: %v", ErrPeerUnavailable, err)
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return fmt.Errorf("%w: %v", ErrPeerUnavailable, err)
	}
	return fmt.Errorf("failed to connect: %w", err)
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

type wsListener struct {
	code     pairing.Code
	addr     string
	maxFrame int64
	logger   *zap.Logger
	upgrader websocket.Upgrader
	server   *http.Server
	group    errgroup.Group

	mu       sync.Mutex
	taken    bool
	accepted chan *wsSession

	closeOnce sync.Once
	closed    chan struct{}
	closeErr  error
}

func (l *wsListener) Addr() string {
	return l.addr
}

func (l *wsListener) handle(w http.ResponseWriter, r *http.Request) {
	if pairing.Code(r.PathValue("code")) != l.code {
		http.NotFound(w, r)
		return
	}

	l.mu.Lock()
	if l.taken {
		l.mu.Unlock()
		http.Error(w, "host already paired", http.StatusConflict)
		return
	}
	l.taken = true
	l.mu.Unlock()

	c, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.logger.Warn("websocket upgrade failed", zap.Error(err))
		l.mu.Lock()
		l.taken = false
		l.mu.Unlock()
		return
	}

	l.logger.Debug("sync guest connected", zap.String("remote", r.RemoteAddr))
	s := newWSSession(c, l.maxFrame)
	select {
	case l.accepted <- s:
	case <-l.closed:
		s.Close()
	}
}

func (l *wsListener) Accept(ctx context.Context) (Session, error) {
	select {
	case s := <-l.accepted:
		return s, nil
	case <-l.closed:
		return nil, ErrListenerClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops the HTTP server. A session already accepted stays open.
func (l *wsListener) Close() error {
	l.closeOnce.Do(func() {
		close(l.closed)
		ctx, cancel := context.WithTimeout(context.Background(), shutdownWait)
		defer cancel()
		err := l.server.Shutdown(ctx)
		if waitErr := l.group.Wait(); err == nil {
			err = waitErr
		}
		// drop a session that was upgraded but never accepted
		select {
		case s := <-l.accepted:
			s.Close()
		default:
		}
		l.closeErr = err
	})
	return l.closeErr
}

type wsSession struct {
	*conn
	ws      *websocket.Conn
	writeMu sync.Mutex
}

func newWSSession(c *websocket.Conn, maxFrame int64) *wsSession {
	c.SetReadLimit(maxFrame)
	s := &wsSession{conn: newConn(), ws: c}
	go s.readPump()
	return s
}

// readPump moves frames from the socket into the inbox until the socket fails.
func (s *wsSession) readPump() {
	for {
		_, data, err := s.ws.ReadMessage()
		if err != nil {
			reason, cause := readCloseReason(err)
			if s.markClosed(reason, cause) {
				s.ws.Close()
			}
			return
		}
		if !s.deliver(data) {
			return
		}
	}
}

func readCloseReason(err error) (CloseReason, error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		return ReasonOversize, err
	case websocket.IsCloseError(err, websocket.CloseMessageTooBig):
		return ReasonOversize, err
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
		return ReasonPeerClosed, nil
	case isTimeout(err):
		return ReasonTimeout, err
	case errors.Is(err, net.ErrClosed):
		return ReasonLocal, nil
	}
	return ReasonError, err
}

func (s *wsSession) Send(ctx context.Context, data []byte) error {
	if s.State() != StateOpen {
		return ErrNotOpen
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	s.ws.SetWriteDeadline(deadline)
	if err := s.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		reason := ReasonError
		if isTimeout(err) {
			reason = ReasonTimeout
		}
		if s.markClosed(reason, err) {
			s.ws.Close()
		}
		return &ClosedError{Reason: reason, Err: err}
	}
	return nil
}

// Close sends a close frame and releases the socket.
func (s *wsSession) Close() error {
	if !s.markClosed(ReasonLocal, nil) {
		return nil
	}
	s.writeMu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	s.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWait))
	s.writeMu.Unlock()
	return s.ws.Close()
}

// reachableAddr replaces an unspecified bind address (0.0.0.0, ::) with the
// first non-loopback IPv4 address of this machine, so invites can be dialed.
func reachableAddr(bound net.Addr) string {
	tcp, ok := bound.(*net.TCPAddr)
	if !ok || !tcp.IP.IsUnspecified() {
		return bound.String()
	}
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return bound.String()
	}
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() || ipnet.IP.To4() == nil || ipnet.IP.IsLinkLocalUnicast() {
			continue
		}
		return net.JoinHostPort(ipnet.IP.String(), strconv.Itoa(tcp.Port))
	}
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(tcp.Port))
}
