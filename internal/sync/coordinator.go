// Package sync drives one peer-to-peer sync session at a time: pairing,
// connecting, exchanging snapshots, merging, and writing the result back.
package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"tasksync/backend"
	backendsync "tasksync/backend/sync"
	"tasksync/internal/pairing"
	"tasksync/internal/protocol"
	"tasksync/internal/transport"
)

// DefaultExchangeTimeout bounds a session from Connected to Completed.
const DefaultExchangeTimeout = 2 * time.Minute

// Opt configures a Coordinator.
type Opt func(*Coordinator)

// WithClock replaces the wall clock used for timeouts and sync stamps.
func WithClock(clock clockwork.Clock) Opt {
	return func(c *Coordinator) {
		c.clock = clock
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Opt {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// WithConnectTimeout bounds dialing a host.
func WithConnectTimeout(d time.Duration) Opt {
	return func(c *Coordinator) {
		c.connectTimeout = d
	}
}

// WithExchangeTimeout bounds the exchange after the peers connected.
func WithExchangeTimeout(d time.Duration) Opt {
	return func(c *Coordinator) {
		c.exchangeTimeout = d
	}
}

// WithMaxSnapshotBytes bounds a received message.
func WithMaxSnapshotBytes(n int) Opt {
	return func(c *Coordinator) {
		c.maxSnapshotBytes = n
	}
}

// WithResolver sets how a guest finds the host for a bare code.
func WithResolver(r pairing.Resolver) Opt {
	return func(c *Coordinator) {
		c.negotiator = pairing.NewNegotiator(r)
	}
}

// WithAdvertiser publishes hosted codes, and withdraws them when the session ends.
func WithAdvertiser(a pairing.Advertiser) Opt {
	return func(c *Coordinator) {
		c.advertiser = a
	}
}

// WithOtherDataSyncOption sets the initial other-data option.
func WithOtherDataSyncOption(o backend.OtherDataSyncOption) Opt {
	return func(c *Coordinator) {
		c.option = o
	}
}

// Coordinator is the sync state machine. It owns at most one session; the
// session runs on its own goroutine and reports through status sinks.
type Coordinator struct {
	store            backend.ReplicaStore
	network          transport.Network
	negotiator       *pairing.Negotiator
	advertiser       pairing.Advertiser
	clock            clockwork.Clock
	logger           *zap.Logger
	connectTimeout   time.Duration
	exchangeTimeout  time.Duration
	maxSnapshotBytes int

	mu              sync.Mutex
	mode            Mode
	role            Role
	option          backend.OtherDataSyncOption
	status          Status
	session         *session
	invite          pairing.Invite
	otherDataSource backend.OtherDataSyncOption
	lastSyncedAt    time.Time
	result          *backendsync.Result
	sinks           []StatusSink
	pending         []Status

	// notifyMu keeps sink notifications in the order they were queued.
	notifyMu sync.Mutex
}

// session is the resources of one sync attempt.
type session struct {
	role     Role
	local    *backend.Snapshot
	ctx      context.Context
	cancel   context.CancelCauseFunc
	done     chan struct{}
	code     pairing.Code
	listener transport.Listener

	mu   sync.Mutex
	conn transport.Session
}

func (s *session) setConn(conn transport.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn = conn
}

// teardown closes whatever transport the session holds. Safe to repeat.
func (s *session) teardown() {
	if s.listener != nil {
		s.listener.Close()
	}
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

// NewCoordinator creates an idle coordinator writing back to store.
func NewCoordinator(store backend.ReplicaStore, network transport.Network, opts ...Opt) *Coordinator {
	c := &Coordinator{
		store:            store,
		network:          network,
		negotiator:       pairing.NewNegotiator(nil),
		clock:            clockwork.NewRealClock(),
		logger:           zap.NewNop(),
		connectTimeout:   transport.DefaultConnectTimeout,
		exchangeTimeout:  DefaultExchangeTimeout,
		maxSnapshotBytes: protocol.DefaultMaxSnapshotBytes,
		option:           backend.ThisDevice,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.status = Status{Mode: ModeIdle, Severity: SeverityInfo, Message: "Ready to sync"}
	return c
}

// AddStatusSink registers a sink for future status changes.
func (c *Coordinator) AddStatusSink(sink StatusSink) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sinks = append(c.sinks, sink)
}

// StartHost begins hosting: it reads the local replica, generates a pairing
// code and waits for a guest in the background. HostCode and Invite are
// available when it returns. The session outlives ctx; use Reset to stop it.
// A Reset while StartHost is still preparing makes it return ErrReset.
func (c *Coordinator) StartHost(ctx context.Context) error {
	sess, err := c.claim(ctx, RoleHost, ModeAdvertising)
	if err != nil {
		return err
	}
	if err := c.load(ctx, sess); err != nil {
		return c.abortStart(sess, err)
	}

	code, err := pairing.GenerateCode()
	if err != nil {
		return c.abortStart(sess, err)
	}
	listener, err := c.network.Listen(code)
	if err != nil {
		return c.abortStart(sess, &SyncError{Kind: KindTransport, Code: CodeUnknown, Err: err})
	}
	if c.advertiser != nil {
		if err := c.advertiser.Advertise(code, listener.Addr()); err != nil {
			listener.Close()
			return c.abortStart(sess, &SyncError{Kind: KindNegotiation, Code: CodeUnknown, Err: err})
		}
	}

	invite := pairing.Invite{Addr: listener.Addr(), Code: code}
	c.mu.Lock()
	if c.session != sess {
		c.mu.Unlock()
		// reset while preparing: this listener and code belong to nobody
		listener.Close()
		if c.advertiser != nil {
			c.advertiser.Withdraw(code)
		}
		c.release(sess)
		return ErrReset
	}
	sess.code = code
	sess.listener = listener
	c.invite = invite
	c.setStatusLocked(SeverityInfo, fmt.Sprintf("Waiting for a device to join with code %s", code))
	c.mu.Unlock()
	c.flush()

	c.logger.Info("hosting sync session", zap.Stringer("code", code), zap.String("addr", invite.Addr))
	go c.runHost(sess)
	return nil
}

// ConnectToHost joins the host identified by input, a pairing code or an
// invite string. It returns immediately; the outcome is reported by status.
func (c *Coordinator) ConnectToHost(ctx context.Context, input string) error {
	sess, err := c.claim(ctx, RoleGuest, ModeDialing)
	if err != nil {
		return err
	}
	if err := c.load(ctx, sess); err != nil {
		return c.abortStart(sess, err)
	}

	c.mu.Lock()
	if c.session != sess {
		c.mu.Unlock()
		c.release(sess)
		return ErrReset
	}
	c.setStatusLocked(SeverityInfo, "Connecting to host...")
	c.mu.Unlock()
	c.flush()

	go c.runGuest(sess, input)
	return nil
}

// claim installs a new session while the coordinator is idle. From here on
// Reset sees the session and waits for its done channel, so every path out
// of the start must either launch the session goroutine or call release.
func (c *Coordinator) claim(ctx context.Context, role Role, mode Mode) (*session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mode != ModeIdle {
		return nil, ErrSessionActive
	}
	sessCtx, cancel := context.WithCancelCause(context.WithoutCancel(ctx))
	sess := &session{role: role, ctx: sessCtx, cancel: cancel, done: make(chan struct{})}
	c.session = sess
	c.mode = mode
	c.role = role
	return sess, nil
}

// load reads the local replica into sess. The read is abandoned when either
// ctx or the session is cancelled.
func (c *Coordinator) load(ctx context.Context, sess *session) error {
	readCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	stop := context.AfterFunc(sess.ctx, func() { cancel(context.Cause(sess.ctx)) })
	defer stop()

	local, err := c.store.ReadLocalSnapshot(readCtx)
	if err != nil {
		return storageError(fmt.Errorf("reading local replica: %w", err))
	}
	sess.local = local
	return nil
}

// release ends a session that never got its goroutine.
func (c *Coordinator) release(sess *session) {
	sess.cancel(nil)
	close(sess.done)
}

// abortStart records a failure that happened before the session goroutine
// started. If Reset already took the session it returns ErrReset instead.
func (c *Coordinator) abortStart(sess *session, err error) error {
	defer c.release(sess)
	c.mu.Lock()
	if c.session != sess {
		c.mu.Unlock()
		return ErrReset
	}
	syncErr := Classify(err)
	c.session = nil
	c.mode = ModeFailed
	c.setFailureLocked(syncErr)
	c.mu.Unlock()
	c.flush()
	return syncErr
}

func (c *Coordinator) runHost(sess *session) {
	ctx := sess.ctx
	defer close(sess.done)
	defer sess.cancel(nil)

	conn, err := sess.listener.Accept(ctx)
	// one guest per code: stop listening and advertising either way
	sess.listener.Close()
	c.withdraw(sess)
	if err != nil {
		c.fail(sess, causeOf(ctx, err))
		return
	}
	sess.setConn(conn)
	defer conn.Close()

	if !c.transition(sess, ModeConnected, SeverityInfo, "Device connected") {
		return
	}
	c.exchange(ctx, sess, conn)
}

func (c *Coordinator) runGuest(sess *session, input string) {
	ctx := sess.ctx
	defer close(sess.done)
	defer sess.cancel(nil)

	target, err := c.negotiator.Negotiate(ctx, input)
	if err != nil {
		c.fail(sess, err)
		return
	}

	dialCtx, stop := c.budget(ctx, c.connectTimeout, transport.ErrConnectTimeout)
	conn, err := c.network.Dial(dialCtx, target)
	stop()
	if err != nil {
		c.fail(sess, causeOf(dialCtx, err))
		return
	}
	sess.setConn(conn)
	defer conn.Close()

	if !c.transition(sess, ModeConnected, SeverityInfo, "Connected to host") {
		return
	}
	c.exchange(ctx, sess, conn)
}

// exchange runs the protocol, merges and writes back.
func (c *Coordinator) exchange(ctx context.Context, sess *session, conn transport.Session) {
	c.mu.Lock()
	option := c.option
	c.mu.Unlock()
	if !c.transition(sess, ModeExchanging, SeverityInfo, "Exchanging data") {
		return
	}

	role := protocol.RoleGuest
	if sess.role == RoleHost {
		role = protocol.RoleHost
	}

	exCtx, stop := c.budget(ctx, c.exchangeTimeout, ErrExchangeTimeout)
	defer stop()
	outcome, err := protocol.Exchange(exCtx, conn, sess.local, protocol.Config{
		Role:             role,
		Option:           option,
		MaxSnapshotBytes: c.maxSnapshotBytes,
		Logger:           c.logger,
	}, nil)
	if err != nil {
		c.fail(sess, causeOf(exCtx, err))
		return
	}

	result, err := backendsync.Merge(sess.local, outcome.Remote, outcome.Option)
	if err != nil {
		c.fail(sess, err)
		return
	}

	c.complete(ctx, sess, result)
}

// complete writes the merged snapshot back, unless the session was reset.
// The write happens under the lock so Reset cannot interleave with it.
func (c *Coordinator) complete(ctx context.Context, sess *session, result *backendsync.Result) {
	c.mu.Lock()
	if c.session != sess || ctx.Err() != nil {
		c.mu.Unlock()
		return
	}
	syncedAt := c.clock.Now()
	if err := c.store.WriteMergedSnapshot(ctx, result.Snapshot, syncedAt); err != nil {
		c.mu.Unlock()
		c.fail(sess, storageError(fmt.Errorf("writing merged replica: %w", err)))
		return
	}

	c.mode = ModeCompleted
	c.result = result
	c.lastSyncedAt = syncedAt
	c.otherDataSource = result.OtherDataSource
	c.setStatusLocked(SeveritySuccess, fmt.Sprintf("Sync completed: %s", result.Snapshot.Stats()))
	c.mu.Unlock()
	c.flush()

	c.logger.Info("sync completed",
		zap.Int("added", result.Stats.Added),
		zap.Int("updated", result.Stats.Updated),
		zap.Int("removed", result.Stats.Removed),
		zap.Int("conflicts", result.Stats.Conflicts),
		zap.String("other_data", string(result.OtherDataSource)))
}

// transition moves a still-current session to mode. It returns false when
// the session was reset in the meantime.
func (c *Coordinator) transition(sess *session, mode Mode, severity Severity, message string) bool {
	c.mu.Lock()
	if c.session != sess {
		c.mu.Unlock()
		return false
	}
	c.mode = mode
	c.setStatusLocked(severity, message)
	c.mu.Unlock()
	c.flush()
	c.logger.Debug("sync mode changed", zap.Stringer("mode", mode))
	return true
}

func (c *Coordinator) fail(sess *session, err error) {
	syncErr := Classify(err)
	sess.teardown()
	c.withdraw(sess)

	c.mu.Lock()
	if c.session != sess {
		c.mu.Unlock()
		return
	}
	c.mode = ModeFailed
	c.setFailureLocked(syncErr)
	c.mu.Unlock()
	c.flush()

	c.logger.Warn("sync failed",
		zap.String("kind", string(syncErr.Kind)),
		zap.String("code", syncErr.Code),
		zap.Error(syncErr.Err))
}

func (c *Coordinator) withdraw(sess *session) {
	if c.advertiser != nil && sess.code != "" {
		c.advertiser.Withdraw(sess.code)
	}
}

// budget derives a context cancelled with cause once d elapses on the
// coordinator's clock. stop releases the watchdog.
func (c *Coordinator) budget(ctx context.Context, d time.Duration, cause error) (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(ctx)
	if d <= 0 {
		return ctx, func() { cancel(nil) }
	}
	timer := c.clock.After(d)
	go func() {
		select {
		case <-timer:
			cancel(cause)
		case <-ctx.Done():
		}
	}()
	return ctx, func() { cancel(nil) }
}

// causeOf prefers the recorded cancellation cause (timeout, reset) over
// the generic context error an operation returned.
func causeOf(ctx context.Context, err error) error {
	if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, cause) {
			return cause
		}
		return fmt.Errorf("%w: %v", cause, err)
	}
	return err
}

// Reset aborts any session, closes its transport and returns to Idle. The
// store is not touched. It waits for the session goroutine to finish.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	sess := c.session
	wasIdle := c.mode == ModeIdle
	c.session = nil
	c.mode = ModeIdle
	c.role = RoleNone
	c.invite = pairing.Invite{}
	c.result = nil
	c.otherDataSource = ""
	if !wasIdle {
		c.setStatusLocked(SeverityInfo, "Ready to sync")
	}
	c.mu.Unlock()

	if sess != nil {
		sess.cancel(ErrReset)
		sess.teardown()
		c.withdraw(sess)
		<-sess.done
	}
	c.flush()
}

// SetOtherDataSyncOption chooses whose profile data survives. It can be
// changed until the exchange starts. A guest always follows the host's choice.
func (c *Coordinator) SetOtherDataSyncOption(option backend.OtherDataSyncOption) error {
	if !option.Valid() {
		return fmt.Errorf("invalid other data option %q", option)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.mode {
	case ModeIdle, ModeAdvertising, ModeDialing:
		c.option = option
		return nil
	}
	return ErrExchangeStarted
}

func (c *Coordinator) setStatusLocked(severity Severity, message string) {
	c.status = Status{Mode: c.mode, Severity: severity, Message: message}
	c.pending = append(c.pending, c.status)
}

func (c *Coordinator) setFailureLocked(err *SyncError) {
	c.status = Status{Mode: c.mode, Severity: err.Severity(), Message: failureMessage(err), Err: err}
	c.pending = append(c.pending, c.status)
}

// flush delivers queued statuses to the sinks without holding c.mu.
func (c *Coordinator) flush() {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	for {
		c.mu.Lock()
		if len(c.pending) == 0 {
			c.mu.Unlock()
			return
		}
		status := c.pending[0]
		c.pending = c.pending[1:]
		sinks := append([]StatusSink(nil), c.sinks...)
		c.mu.Unlock()

		for _, sink := range sinks {
			sink.OnStatusChanged(status)
		}
	}
}

// failureMessage turns a classified error into the text shown to the user.
func failureMessage(err *SyncError) string {
	switch err.Code {
	case CodeInvalidCode:
		return "Invalid pairing code, check it and try again"
	case CodePeerUnavailable:
		return "No device is hosting with this code"
	case CodeConnectTimeout:
		return "Connection to the host timed out, try again"
	case CodeExchangeTimeout:
		return "The other device stopped responding, try again"
	case CodePeerDisconnected:
		return "The other device disconnected, try again"
	case CodeCanceled:
		return "Sync was cancelled"
	case string(protocol.CodeVersionMismatch):
		return "The other device runs an incompatible version, update both devices"
	case string(protocol.CodeMalformedSnapshot):
		return "The other device sent invalid data"
	case string(protocol.CodeRoleConflict):
		return "Both devices tried to take the same role"
	case CodeMergeInvariant:
		return "Could not merge the replicas, nothing was changed"
	case CodeStorage:
		return "Could not access the local task list"
	}
	return fmt.Sprintf("Sync failed: %v", err.Err)
}

// Mode returns the current mode.
func (c *Coordinator) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Role returns the role of the current session.
func (c *Coordinator) Role() Role {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role
}

// Status returns the latest status.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// HostCode returns the advertised code while hosting, or "".
func (c *Coordinator) HostCode() pairing.Code {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.invite.Code
}

// Invite returns the string handed to a visual code renderer while hosting.
func (c *Coordinator) Invite() pairing.Invite {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.invite
}

// OtherDataSyncOption returns the option the next exchange will use.
func (c *Coordinator) OtherDataSyncOption() backend.OtherDataSyncOption {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.option
}

// OtherDataSource returns whose other data the last completed sync applied,
// labelled for this device's role, or "" before completion.
func (c *Coordinator) OtherDataSource() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return OtherDataSourceLabel(c.role, c.otherDataSource)
}

// LastSyncedAt returns when this coordinator last completed a sync.
func (c *Coordinator) LastSyncedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSyncedAt
}

// Result returns the merge result of a completed session.
func (c *Coordinator) Result() *backendsync.Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result
}

// Wait blocks until the current session leaves the active modes or ctx ends.
func (c *Coordinator) Wait(ctx context.Context) (Status, error) {
	c.mu.Lock()
	sess := c.session
	c.mu.Unlock()
	if sess != nil {
		select {
		case <-sess.done:
		case <-ctx.Done():
			return c.Status(), ctx.Err()
		}
	}
	return c.Status(), nil
}
