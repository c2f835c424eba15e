package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"tasksync/backend"
	"tasksync/backend/sqlite"
	"tasksync/internal/cache"
	"tasksync/internal/config"
	"tasksync/internal/pairing"
	tasksync "tasksync/internal/sync"
	"tasksync/internal/transport"
	"tasksync/internal/utils"
)

// App holds the application state: the local replica and the sync
// coordinator working on it.
type App struct {
	config      *config.Config
	store       backend.TaskStore
	network     transport.Network
	coordinator *tasksync.Coordinator
	clock       clockwork.Clock
	logger      *zap.Logger

	// joinedAddr is remembered in the peer cache once a join completes
	joinedAddr string
}

// Option overrides a collaborator, mostly for tests.
type Option func(*App)

// WithStore uses store instead of the SQLite database from the config.
func WithStore(store backend.TaskStore) Option {
	return func(a *App) {
		a.store = store
	}
}

// WithNetwork uses network instead of the websocket transport.
func WithNetwork(network transport.Network) Option {
	return func(a *App) {
		a.network = network
	}
}

func WithClock(clock clockwork.Clock) Option {
	return func(a *App) {
		a.clock = clock
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(a *App) {
		a.logger = logger
	}
}

// NewApp creates an App from the user's configuration file.
func NewApp() (*App, error) {
	cfg, err := config.GetConfig()
	if err != nil {
		return nil, err
	}
	return New(cfg)
}

// New creates an App from cfg.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{
		config: cfg,
		clock:  clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = utils.GetLogger().Zap()
	}

	if a.store == nil {
		store, err := sqlite.NewSQLiteBackend(cfg.DatabasePath)
		if err != nil {
			return nil, utils.WrapWithSuggestion(
				fmt.Errorf("failed to open task database: %w", err),
				"Check database_path in the config, or remove it to use the default location")
		}
		a.store = store
	}

	if a.network == nil {
		a.network = transport.NewWebSocketNetwork(transport.WebSocketConfig{
			ListenAddr:     cfg.Sync.ListenAddr,
			AdvertiseAddr:  cfg.Sync.AdvertiseAddr,
			ConnectTimeout: cfg.Sync.ConnectTimeout,
			MaxFrameBytes:  cfg.Sync.MaxFrameBytes,
		}, a.logger.Named("transport"))
	}

	a.coordinator = tasksync.NewCoordinator(a.store, a.network,
		tasksync.WithClock(a.clock),
		tasksync.WithLogger(a.logger.Named("coordinator")),
		tasksync.WithConnectTimeout(cfg.Sync.ConnectTimeout),
		tasksync.WithExchangeTimeout(cfg.Sync.ExchangeTimeout),
		tasksync.WithMaxSnapshotBytes(cfg.Sync.MaxSnapshotBytes),
		tasksync.WithResolver(pairing.StaticResolver{Addr: cache.HostAddr(cfg.Sync.HostAddr)}),
		tasksync.WithOtherDataSyncOption(cfg.OtherDataSyncOption()),
	)
	return a, nil
}

// Config returns the configuration the app was built from.
func (a *App) Config() *config.Config {
	return a.config
}

// Store returns the local replica.
func (a *App) Store() backend.TaskStore {
	return a.store
}

// Coordinator returns the sync coordinator.
func (a *App) Coordinator() *tasksync.Coordinator {
	return a.coordinator
}

// Host starts a hosting session and returns the invite to show the guest.
func (a *App) Host(ctx context.Context, option backend.OtherDataSyncOption, sinks ...tasksync.StatusSink) (pairing.Invite, error) {
	for _, sink := range sinks {
		a.coordinator.AddStatusSink(sink)
	}
	if option != "" {
		if err := a.coordinator.SetOtherDataSyncOption(option); err != nil {
			return pairing.Invite{}, err
		}
	}
	if err := a.coordinator.StartHost(ctx); err != nil {
		return pairing.Invite{}, err
	}
	return a.coordinator.Invite(), nil
}

// Join connects to the host named by input, a pairing code or an invite.
func (a *App) Join(ctx context.Context, input string, sinks ...tasksync.StatusSink) error {
	for _, sink := range sinks {
		a.coordinator.AddStatusSink(sink)
	}
	if pairing.IsInvite(input) {
		if invite, err := pairing.ParseInvite(input); err == nil {
			a.joinedAddr = invite.Addr
		}
	} else {
		a.joinedAddr = cache.HostAddr(a.config.Sync.HostAddr)
	}
	return a.coordinator.ConnectToHost(ctx, input)
}

// Wait blocks until the running session completes or fails, and remembers
// the host of a successful join.
func (a *App) Wait(ctx context.Context) (tasksync.Status, error) {
	status, err := a.coordinator.Wait(ctx)
	if err != nil {
		return status, err
	}
	if status.Mode == tasksync.ModeCompleted && a.coordinator.Role() == tasksync.RoleGuest && a.joinedAddr != "" {
		if err := cache.RememberPeer(a.joinedAddr, a.clock.Now()); err != nil {
			a.logger.Debug("could not cache host address", zap.Error(err))
		}
	}
	return status, nil
}

// SyncReport is what 'sync status' prints.
type SyncReport struct {
	DeviceName   string        `json:"device_name" yaml:"device_name"`
	LastSyncedAt *time.Time    `json:"last_synced_at,omitempty" yaml:"last_synced_at,omitempty"`
	Replica      backend.Stats `json:"replica" yaml:"replica"`
	OtherData    string        `json:"other_data" yaml:"other_data"`
	LastHost     string        `json:"last_host,omitempty" yaml:"last_host,omitempty"`
	// Database is set when the replica lives in SQLite.
	Database *sqlite.DatabaseStats `json:"database,omitempty" yaml:"database,omitempty"`
}

// SyncStatus reports the local replica and when it last synced.
func (a *App) SyncStatus(ctx context.Context) (*SyncReport, error) {
	snap, err := a.store.ReadLocalSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	report := &SyncReport{
		DeviceName: a.config.DeviceName,
		Replica:    snap.Stats(),
		OtherData:  string(a.coordinator.OtherDataSyncOption()),
		LastHost:   cache.LastPeerAddr(),
	}
	last, err := a.store.LastSyncedAt(ctx)
	if err != nil {
		return nil, err
	}
	if !last.IsZero() {
		report.LastSyncedAt = &last
	}
	if sb, ok := a.store.(*sqlite.SQLiteBackend); ok {
		stats, err := sb.GetDB().GetStats(ctx)
		if err != nil {
			a.logger.Debug("could not read database stats", zap.Error(err))
		} else {
			report.Database = &stats
		}
	}
	return report, nil
}

// FindTask resolves a task by full id, id prefix, or case-insensitive name.
func (a *App) FindTask(ctx context.Context, term string) (backend.Task, error) {
	matches, err := a.MatchTasks(ctx, term)
	if err != nil {
		return backend.Task{}, err
	}
	switch len(matches) {
	case 0:
		return backend.Task{}, utils.ErrTaskNotFound(term)
	case 1:
		return matches[0], nil
	}
	return backend.Task{}, utils.ErrAmbiguousTask(term, len(matches))
}

// MatchTasks returns every task term could refer to.
func (a *App) MatchTasks(ctx context.Context, term string) ([]backend.Task, error) {
	if id, err := uuid.Parse(term); err == nil {
		task, err := a.store.GetTask(ctx, id)
		if backend.IsNotFound(err) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return []backend.Task{task}, nil
	}

	tasks, err := a.store.GetTasks(ctx)
	if err != nil {
		return nil, err
	}
	var matches []backend.Task
	for _, t := range tasks {
		if strings.HasPrefix(t.ID.String(), strings.ToLower(term)) || strings.EqualFold(t.Name, term) {
			matches = append(matches, t)
		}
	}
	return matches, nil
}

// FindCategory resolves a category by id or case-insensitive name.
func (a *App) FindCategory(ctx context.Context, term string) (backend.Category, error) {
	categories, err := a.store.GetCategories(ctx)
	if err != nil {
		return backend.Category{}, err
	}
	for _, c := range categories {
		if c.ID.String() == strings.ToLower(term) || strings.EqualFold(c.Name, term) {
			return c, nil
		}
	}
	return backend.Category{}, utils.ErrCategoryNotFound(term)
}

// Shutdown aborts any running sync session and closes the replica.
func (a *App) Shutdown() error {
	a.coordinator.Reset()
	return a.store.Close()
}
