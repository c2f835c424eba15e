package sync

import (
	"context"
	"errors"
	"strings"
	stdsync "sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"tasksync/backend"
	"tasksync/internal/pairing"
	"tasksync/internal/protocol"
	"tasksync/internal/transport"
)

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// recorder is a StatusSink that keeps every status it saw.
type recorder struct {
	mu       stdsync.Mutex
	statuses []Status
}

func (r *recorder) OnStatusChanged(s Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, s)
}

func (r *recorder) modes() []Mode {
	r.mu.Lock()
	defer r.mu.Unlock()
	modes := make([]Mode, len(r.statuses))
	for i, s := range r.statuses {
		modes[i] = s.Mode
	}
	return modes
}

type testEnv struct {
	network   *transport.MemoryNetwork
	directory *pairing.Directory
	clock     clockwork.FakeClock
}

func newTestEnv() *testEnv {
	return &testEnv{
		network:   transport.NewMemoryNetwork(),
		directory: pairing.NewDirectory(),
		clock:     clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
	}
}

func (e *testEnv) coordinator(t *testing.T, store backend.ReplicaStore, opts ...Opt) *Coordinator {
	t.Helper()
	opts = append([]Opt{
		WithClock(e.clock),
		WithLogger(zaptest.NewLogger(t)),
		WithAdvertiser(e.directory),
		WithResolver(e.directory),
	}, opts...)
	c := NewCoordinator(store, e.network, opts...)
	t.Cleanup(c.Reset)
	return c
}

func waitFor(t *testing.T, c *Coordinator) Status {
	t.Helper()
	status, err := c.Wait(testContext(t))
	require.NoError(t, err)
	return status
}

func replicaWith(names ...string) *backend.Snapshot {
	s := &backend.Snapshot{}
	for _, name := range names {
		s.Tasks = append(s.Tasks, backend.NewTask(name))
	}
	return s
}

func taskNames(t *testing.T, store backend.ReplicaStore) []string {
	t.Helper()
	snap, err := store.ReadLocalSnapshot(testContext(t))
	require.NoError(t, err)
	names := make([]string, len(snap.Tasks))
	for i, task := range snap.Tasks {
		names[i] = task.Name
	}
	return names
}

func TestFullSync(t *testing.T) {
	env := newTestEnv()

	hostSnap := replicaWith("buy milk")
	hostSnap.Other = &backend.OtherData{Name: "Host"}
	guestSnap := replicaWith("walk dog")
	guestSnap.Other = &backend.OtherData{Name: "Guest"}

	hostStore := backend.NewMemoryStore(hostSnap)
	guestStore := backend.NewMemoryStore(guestSnap)
	host := env.coordinator(t, hostStore)
	guest := env.coordinator(t, guestStore)

	hostEvents := &recorder{}
	host.AddStatusSink(hostEvents)

	require.NoError(t, host.StartHost(testContext(t)))
	assert.Equal(t, ModeAdvertising, host.Mode())
	assert.Equal(t, RoleHost, host.Role())
	code := host.HostCode()
	require.NotEmpty(t, code)
	assert.Equal(t, 1, env.directory.Len())

	require.NoError(t, guest.ConnectToHost(testContext(t), code.String()))
	assert.Equal(t, RoleGuest, guest.Role())

	hostStatus := waitFor(t, host)
	guestStatus := waitFor(t, guest)
	require.Equal(t, ModeCompleted, hostStatus.Mode, hostStatus.Message)
	require.Equal(t, ModeCompleted, guestStatus.Mode, guestStatus.Message)
	assert.Equal(t, SeveritySuccess, hostStatus.Severity)

	assert.ElementsMatch(t, []string{"buy milk", "walk dog"}, taskNames(t, hostStore))
	assert.ElementsMatch(t, []string{"buy milk", "walk dog"}, taskNames(t, guestStore))
	assert.Equal(t, 1, hostStore.Writes())
	assert.Equal(t, 1, guestStore.Writes())

	// the host kept its own profile and the guest adopted it
	hostOther, err := hostStore.GetOtherData(testContext(t))
	require.NoError(t, err)
	guestOther, err := guestStore.GetOtherData(testContext(t))
	require.NoError(t, err)
	assert.Equal(t, "Host", hostOther.Name)
	assert.Equal(t, "Host", guestOther.Name)
	assert.Equal(t, "This device", host.OtherDataSource())
	assert.Equal(t, "Host device", guest.OtherDataSource())

	assert.Equal(t, env.clock.Now(), host.LastSyncedAt())
	require.NotNil(t, host.Result())
	assert.Equal(t, 1, host.Result().Stats.Added)

	assert.Equal(t, []Mode{ModeAdvertising, ModeConnected, ModeExchanging, ModeCompleted}, hostEvents.modes())
	assert.Zero(t, env.network.Listening())
	assert.Zero(t, env.directory.Len())
}

func TestSyncWithInvite(t *testing.T) {
	env := newTestEnv()
	hostStore := backend.NewMemoryStore(replicaWith("a"))
	guestStore := backend.NewMemoryStore(replicaWith("b"))
	host := env.coordinator(t, hostStore)
	// no resolver: the invite carries the address
	guest := NewCoordinator(guestStore, env.network, WithClock(env.clock), WithLogger(zaptest.NewLogger(t)))
	t.Cleanup(guest.Reset)

	require.NoError(t, host.StartHost(testContext(t)))
	invite := host.Invite()
	assert.True(t, pairing.IsInvite(invite.String()))

	require.NoError(t, guest.ConnectToHost(testContext(t), invite.String()))
	assert.Equal(t, ModeCompleted, waitFor(t, guest).Mode)
	assert.Equal(t, ModeCompleted, waitFor(t, host).Mode)
	assert.Len(t, taskNames(t, guestStore), 2)
}

func TestConnectToUnadvertisedCode(t *testing.T) {
	env := newTestEnv()
	store := backend.NewMemoryStore(replicaWith("a"))
	guest := env.coordinator(t, store)

	code, err := pairing.GenerateCode()
	require.NoError(t, err)
	require.NoError(t, guest.ConnectToHost(testContext(t), code.String()))

	status := waitFor(t, guest)
	assert.Equal(t, ModeFailed, status.Mode)
	require.NotNil(t, status.Err)
	assert.Equal(t, KindNegotiation, status.Err.Kind)
	assert.Equal(t, CodePeerUnavailable, status.Err.Code)
	assert.Equal(t, SeverityWarning, status.Severity)

	assert.Zero(t, env.network.Listening())
	assert.Zero(t, store.Writes())
}

func TestConnectWithInvalidCode(t *testing.T) {
	env := newTestEnv()
	guest := env.coordinator(t, backend.NewMemoryStore(nil))

	require.NoError(t, guest.ConnectToHost(testContext(t), "not-a-code!"))
	status := waitFor(t, guest)
	assert.Equal(t, ModeFailed, status.Mode)
	require.NotNil(t, status.Err)
	assert.Equal(t, CodeInvalidCode, status.Err.Code)
	assert.Equal(t, SeverityError, status.Severity)
}

func TestOversizeSnapshotLeavesReplicasUnchanged(t *testing.T) {
	env := newTestEnv()
	hostStore := backend.NewMemoryStore(replicaWith("small"))
	big := replicaWith("big")
	big.Tasks[0].Description = strings.Repeat("x", 4096)
	guestStore := backend.NewMemoryStore(big)

	host := env.coordinator(t, hostStore, WithMaxSnapshotBytes(1024))
	guest := env.coordinator(t, guestStore)

	require.NoError(t, host.StartHost(testContext(t)))
	require.NoError(t, guest.ConnectToHost(testContext(t), host.HostCode().String()))

	hostStatus := waitFor(t, host)
	guestStatus := waitFor(t, guest)

	assert.Equal(t, ModeFailed, hostStatus.Mode)
	require.NotNil(t, hostStatus.Err)
	assert.Equal(t, KindProtocol, hostStatus.Err.Kind)
	assert.Equal(t, string(protocol.CodeMalformedSnapshot), hostStatus.Err.Code)

	assert.Equal(t, ModeFailed, guestStatus.Mode)
	require.NotNil(t, guestStatus.Err)
	assert.Equal(t, KindProtocol, guestStatus.Err.Kind)

	assert.Zero(t, hostStore.Writes())
	assert.Zero(t, guestStore.Writes())
	assert.Equal(t, []string{"small"}, taskNames(t, hostStore))
}

func TestExchangeTimeout(t *testing.T) {
	env := newTestEnv()
	store := backend.NewMemoryStore(replicaWith("a"))
	host := env.coordinator(t, store, WithExchangeTimeout(time.Minute))

	require.NoError(t, host.StartHost(testContext(t)))

	// a guest that connects and then says nothing
	silent, err := env.network.Dial(testContext(t), pairing.Target{Code: host.HostCode()})
	require.NoError(t, err)
	t.Cleanup(func() { silent.Close() })

	env.clock.BlockUntil(1)
	env.clock.Advance(time.Minute)

	status := waitFor(t, host)
	assert.Equal(t, ModeFailed, status.Mode)
	require.NotNil(t, status.Err)
	assert.Equal(t, CodeExchangeTimeout, status.Err.Code)
	assert.Equal(t, SeverityWarning, status.Severity)
	assert.Zero(t, store.Writes())
}

func TestConnectTimeout(t *testing.T) {
	env := newTestEnv()
	env.network.Unreachable = true
	guest := NewCoordinator(backend.NewMemoryStore(nil), env.network,
		WithClock(env.clock),
		WithLogger(zaptest.NewLogger(t)),
		WithConnectTimeout(10*time.Second),
		WithResolver(pairing.StaticResolver{Addr: transport.MemoryAddr}))
	t.Cleanup(guest.Reset)

	require.NoError(t, guest.ConnectToHost(testContext(t), "ABCDE-FGHJK"))
	assert.Equal(t, ModeDialing, guest.Mode())

	env.clock.BlockUntil(1)
	env.clock.Advance(10 * time.Second)

	status := waitFor(t, guest)
	assert.Equal(t, ModeFailed, status.Mode)
	require.NotNil(t, status.Err)
	assert.Equal(t, CodeConnectTimeout, status.Err.Code)
	assert.True(t, status.Err.Retryable())
}

func TestStorageWriteFailure(t *testing.T) {
	env := newTestEnv()
	hostStore := backend.NewMemoryStore(replicaWith("a"))
	hostStore.WriteErr = errors.New("disk full")
	host := env.coordinator(t, hostStore)
	guest := env.coordinator(t, backend.NewMemoryStore(replicaWith("b")))

	require.NoError(t, host.StartHost(testContext(t)))
	require.NoError(t, guest.ConnectToHost(testContext(t), host.HostCode().String()))

	status := waitFor(t, host)
	assert.Equal(t, ModeFailed, status.Mode)
	require.NotNil(t, status.Err)
	assert.Equal(t, KindStorage, status.Err.Kind)
	assert.Equal(t, SeverityError, status.Severity)
	assert.Nil(t, host.Result())
	assert.True(t, host.LastSyncedAt().IsZero())
}

func TestStartHostReadFailure(t *testing.T) {
	env := newTestEnv()
	store := backend.NewMemoryStore(nil)
	store.ReadErr = errors.New("locked")
	host := env.coordinator(t, store)

	err := host.StartHost(testContext(t))
	var syncErr *SyncError
	require.True(t, errors.As(err, &syncErr))
	assert.Equal(t, KindStorage, syncErr.Kind)
	assert.Equal(t, ModeFailed, host.Mode())
	assert.Zero(t, env.network.Listening())
}

func TestSessionActive(t *testing.T) {
	env := newTestEnv()
	host := env.coordinator(t, backend.NewMemoryStore(nil))

	require.NoError(t, host.StartHost(testContext(t)))
	assert.ErrorIs(t, host.StartHost(testContext(t)), ErrSessionActive)
	assert.ErrorIs(t, host.ConnectToHost(testContext(t), "ABCDEFGHJK"), ErrSessionActive)

	host.Reset()
	require.NoError(t, host.StartHost(testContext(t)))
}

func TestResetWhileAdvertising(t *testing.T) {
	env := newTestEnv()
	store := backend.NewMemoryStore(replicaWith("a"))
	host := env.coordinator(t, store)
	events := &recorder{}
	host.AddStatusSink(events)

	require.NoError(t, host.StartHost(testContext(t)))
	code := host.HostCode()
	host.Reset()

	assert.Equal(t, ModeIdle, host.Mode())
	assert.Equal(t, RoleNone, host.Role())
	assert.Empty(t, host.HostCode())
	assert.Zero(t, env.network.Listening())
	assert.Zero(t, env.directory.Len())
	assert.Equal(t, []Mode{ModeAdvertising, ModeIdle}, events.modes())

	_, err := env.network.Dial(testContext(t), pairing.Target{Code: code})
	assert.ErrorIs(t, err, transport.ErrPeerUnavailable)
	assert.Zero(t, store.Writes())
}

// gatedStore holds its first ReadLocalSnapshot until release is closed,
// without watching ctx, like a store stuck on a file lock.
type gatedStore struct {
	*backend.MemoryStore
	entered chan struct{}
	release chan struct{}
	once    stdsync.Once
}

func newGatedStore(snap *backend.Snapshot) *gatedStore {
	return &gatedStore{
		MemoryStore: backend.NewMemoryStore(snap),
		entered:     make(chan struct{}),
		release:     make(chan struct{}),
	}
}

func (g *gatedStore) ReadLocalSnapshot(ctx context.Context) (*backend.Snapshot, error) {
	g.once.Do(func() {
		close(g.entered)
		<-g.release
	})
	return g.MemoryStore.ReadLocalSnapshot(ctx)
}

// resetDuringStart resets c while start is inside the first replica read
// and returns what start reported.
func resetDuringStart(t *testing.T, c *Coordinator, store *gatedStore, start func() error) error {
	t.Helper()
	started := make(chan error, 1)
	go func() { started <- start() }()
	<-store.entered

	resetDone := make(chan struct{})
	go func() {
		c.Reset()
		close(resetDone)
	}()
	require.Eventually(t, func() bool { return c.Mode() == ModeIdle }, 5*time.Second, time.Millisecond)
	close(store.release)

	err := <-started
	select {
	case <-resetDone:
	case <-testContext(t).Done():
		t.Fatal("Reset never returned")
	}
	return err
}

func TestResetWhileStartingHost(t *testing.T) {
	env := newTestEnv()
	store := newGatedStore(replicaWith("a"))
	host := env.coordinator(t, store)

	err := resetDuringStart(t, host, store, func() error { return host.StartHost(testContext(t)) })
	assert.ErrorIs(t, err, ErrReset)
	assert.Equal(t, ModeIdle, host.Mode())
	assert.Empty(t, host.HostCode())
	assert.Nil(t, host.Status().Err)
	assert.Zero(t, env.network.Listening())
	assert.Zero(t, env.directory.Len())

	require.NoError(t, host.StartHost(testContext(t)))
	assert.Equal(t, 1, env.network.Listening())
	host.Reset()
	assert.Zero(t, env.network.Listening())
	assert.Zero(t, env.directory.Len())
}

func TestResetWhileStartingGuest(t *testing.T) {
	env := newTestEnv()
	host := env.coordinator(t, backend.NewMemoryStore(replicaWith("a")))
	require.NoError(t, host.StartHost(testContext(t)))

	store := newGatedStore(replicaWith("b"))
	guest := env.coordinator(t, store)
	err := resetDuringStart(t, guest, store, func() error {
		return guest.ConnectToHost(testContext(t), host.HostCode().String())
	})
	assert.ErrorIs(t, err, ErrReset)
	assert.Equal(t, ModeIdle, guest.Mode())
	assert.Equal(t, RoleNone, guest.Role())
	assert.Equal(t, ModeAdvertising, host.Mode(), "a reset guest never dials")

	require.NoError(t, guest.ConnectToHost(testContext(t), host.HostCode().String()))
	assert.Equal(t, ModeCompleted, waitFor(t, guest).Mode)
	assert.ElementsMatch(t, []string{"a", "b"}, taskNames(t, store))
}

func TestResetWhileExchanging(t *testing.T) {
	env := newTestEnv()
	store := backend.NewMemoryStore(replicaWith("a"))
	host := env.coordinator(t, store)

	exchanging := make(chan struct{})
	var once stdsync.Once
	host.AddStatusSink(StatusFunc(func(s Status) {
		if s.Mode == ModeExchanging {
			once.Do(func() { close(exchanging) })
		}
	}))

	require.NoError(t, host.StartHost(testContext(t)))
	silent, err := env.network.Dial(testContext(t), pairing.Target{Code: host.HostCode()})
	require.NoError(t, err)
	t.Cleanup(func() { silent.Close() })

	select {
	case <-exchanging:
	case <-testContext(t).Done():
		t.Fatal("host never started exchanging")
	}

	host.Reset()
	assert.Equal(t, ModeIdle, host.Mode())
	assert.Zero(t, store.Writes())

	// the guest side sees the session close
	ctx := testContext(t)
	for {
		_, err := silent.Receive(ctx)
		if err != nil {
			var closed *transport.ClosedError
			require.True(t, errors.As(err, &closed), "expected ClosedError, got %v", err)
			break
		}
	}
}

func TestResetAfterFailure(t *testing.T) {
	env := newTestEnv()
	guest := env.coordinator(t, backend.NewMemoryStore(nil))

	require.NoError(t, guest.ConnectToHost(testContext(t), "ABCDEFGHJK"))
	assert.Equal(t, ModeFailed, waitFor(t, guest).Mode)
	assert.ErrorIs(t, guest.ConnectToHost(testContext(t), "ABCDEFGHJK"), ErrSessionActive)

	guest.Reset()
	assert.Equal(t, ModeIdle, guest.Mode())
	assert.Equal(t, SeverityInfo, guest.Status().Severity)
	assert.Nil(t, guest.Status().Err)
}

func TestSetOtherDataSyncOption(t *testing.T) {
	env := newTestEnv()
	hostStore := backend.NewMemoryStore(&backend.Snapshot{Other: &backend.OtherData{Name: "Host"}})
	guestStore := backend.NewMemoryStore(&backend.Snapshot{Other: &backend.OtherData{Name: "Guest"}})
	host := env.coordinator(t, hostStore)
	guest := env.coordinator(t, guestStore)

	assert.Error(t, host.SetOtherDataSyncOption("bogus"))
	require.NoError(t, host.SetOtherDataSyncOption(backend.NoSync))
	require.NoError(t, host.StartHost(testContext(t)))
	require.NoError(t, host.SetOtherDataSyncOption(backend.OtherDevice))
	assert.Equal(t, backend.OtherDevice, host.OtherDataSyncOption())

	require.NoError(t, guest.ConnectToHost(testContext(t), host.HostCode().String()))
	require.Equal(t, ModeCompleted, waitFor(t, host).Mode)
	require.Equal(t, ModeCompleted, waitFor(t, guest).Mode)
	assert.ErrorIs(t, host.SetOtherDataSyncOption(backend.ThisDevice), ErrExchangeStarted)

	hostOther, err := hostStore.GetOtherData(testContext(t))
	require.NoError(t, err)
	guestOther, err := guestStore.GetOtherData(testContext(t))
	require.NoError(t, err)
	assert.Equal(t, "Guest", hostOther.Name)
	assert.Equal(t, "Guest", guestOther.Name)
	assert.Equal(t, "Other device", host.OtherDataSource())
	assert.Equal(t, "This device", guest.OtherDataSource())
}

func TestSinksNotifiedInOrder(t *testing.T) {
	env := newTestEnv()
	host := env.coordinator(t, backend.NewMemoryStore(nil))
	first, second := &recorder{}, &recorder{}
	host.AddStatusSink(first)
	host.AddStatusSink(second)

	// a sink may call back into the coordinator
	host.AddStatusSink(StatusFunc(func(s Status) {
		_ = host.Mode()
	}))

	require.NoError(t, host.StartHost(testContext(t)))
	host.Reset()

	assert.Equal(t, first.modes(), second.modes())
	assert.Equal(t, []Mode{ModeAdvertising, ModeIdle}, first.modes())
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind Kind
		code string
	}{
		{"invalid code", pairing.ErrInvalidCode, KindNegotiation, CodeInvalidCode},
		{"peer unavailable", transport.ErrPeerUnavailable, KindNegotiation, CodePeerUnavailable},
		{"connect timeout", transport.ErrConnectTimeout, KindTransport, CodeConnectTimeout},
		{"exchange timeout", ErrExchangeTimeout, KindTransport, CodeExchangeTimeout},
		{"oversize frame", &transport.ClosedError{Reason: transport.ReasonOversize}, KindProtocol, string(protocol.CodeMalformedSnapshot)},
		{"peer closed", &transport.ClosedError{Reason: transport.ReasonPeerClosed}, KindTransport, CodePeerDisconnected},
		{"protocol", &protocol.ProtocolError{Code: protocol.CodeRoleConflict}, KindProtocol, string(protocol.CodeRoleConflict)},
		{"store", backend.NewStoreError("GetTask", "task", uuid.Nil, backend.ErrNotFound), KindStorage, CodeStorage},
		{"reset", ErrReset, KindTransport, CodeCanceled},
		{"other", errors.New("boom"), KindTransport, CodeUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err)
			assert.Equal(t, tt.kind, got.Kind)
			assert.Equal(t, tt.code, got.Code)
			assert.ErrorIs(t, got, tt.err)
		})
	}
	assert.Nil(t, Classify(nil))
}
