package protocol

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"tasksync/backend"
)

// Conn is the part of a transport session the exchange needs.
type Conn interface {
	Send(ctx context.Context, data []byte) error
	Receive(ctx context.Context) ([]byte, error)
}

// Config describes the local side of an exchange.
type Config struct {
	Role Role
	// Option is the host's other-data choice. A guest's value is ignored and
	// replaced by the host's, seen from the guest's side.
	Option           backend.OtherDataSyncOption
	MaxSnapshotBytes int
	Logger           *zap.Logger
}

// Outcome is what a completed exchange produced.
type Outcome struct {
	Remote *backend.Snapshot
	// Option is the agreed other-data option from this side's point of view.
	Option backend.OtherDataSyncOption
}

// Phase is reported to the observer as the exchange progresses.
type Phase string

const (
	PhaseHelloReceived    Phase = "hello_received"
	PhaseSnapshotSent     Phase = "snapshot_sent"
	PhaseSnapshotReceived Phase = "snapshot_received"
	PhaseAcked            Phase = "acked"
)

// exchange holds the per-session handshake state.
type exchange struct {
	conn     Conn
	cfg      Config
	local    *backend.Snapshot
	logger   *zap.Logger
	observer func(Phase)

	option       backend.OtherDataSyncOption
	gotHello     bool
	sentSnapshot bool
	acked        bool
	remote       *backend.Snapshot
}

// Exchange runs the handshake on conn: both sides send Hello; each sends its
// snapshot once it knows the peer's Hello; each acknowledges the peer's
// snapshot. It returns once the peer's snapshot is in and ours is
// acknowledged. Duplicate messages are ignored. On a rule violation the peer
// is sent an Error message and a *ProtocolError is returned.
func Exchange(ctx context.Context, conn Conn, local *backend.Snapshot, cfg Config, observer func(Phase)) (*Outcome, error) {
	if !cfg.Role.Valid() {
		return nil, fmt.Errorf("invalid role %q", cfg.Role)
	}
	if cfg.Role == RoleHost && !cfg.Option.Valid() {
		return nil, fmt.Errorf("invalid other data option %q", cfg.Option)
	}
	if cfg.MaxSnapshotBytes <= 0 {
		cfg.MaxSnapshotBytes = DefaultMaxSnapshotBytes
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if observer == nil {
		observer = func(Phase) {}
	}

	x := &exchange{
		conn:     conn,
		cfg:      cfg,
		local:    local,
		logger:   logger.With(zap.String("role", string(cfg.Role))),
		observer: observer,
		option:   cfg.Option,
	}
	return x.run(ctx)
}

func (x *exchange) run(ctx context.Context) (*Outcome, error) {
	if err := x.send(ctx, Hello(x.cfg.Role, x.cfg.Option)); err != nil {
		return nil, err
	}

	for x.remote == nil || !x.acked {
		data, err := x.conn.Receive(ctx)
		if err != nil {
			return nil, fmt.Errorf("waiting for peer: %w", err)
		}

		msg, err := Decode(data, x.cfg.MaxSnapshotBytes)
		if err != nil {
			return nil, x.fail(ctx, err)
		}
		if msg.Version != ProtocolVersion {
			return nil, x.fail(ctx, &ProtocolError{
				Code:   CodeVersionMismatch,
				Reason: fmt.Sprintf("peer speaks version %d, this device %d", msg.Version, ProtocolVersion),
			})
		}

		switch msg.Type {
		case KindHello:
			err = x.onHello(ctx, msg)
		case KindSnapshot:
			err = x.onSnapshot(ctx, msg)
		case KindAck:
			err = x.onAck(msg)
		case KindError:
			return nil, &ProtocolError{Code: msg.Code, Reason: msg.Reason, Remote: true}
		default:
			err = &ProtocolError{Code: CodeUnexpectedMessage, Reason: fmt.Sprintf("unknown message type %q", msg.Type)}
		}
		if err != nil {
			return nil, x.fail(ctx, err)
		}
	}

	x.logger.Debug("exchange complete",
		zap.Int("remote_tasks", len(x.remote.Tasks)),
		zap.Int("remote_categories", len(x.remote.Categories)),
		zap.String("other_data", string(x.option)))
	return &Outcome{Remote: x.remote, Option: x.option}, nil
}

func (x *exchange) onHello(ctx context.Context, msg Message) error {
	if x.gotHello {
		x.logger.Debug("ignoring duplicate hello")
		return nil
	}
	if !msg.Role.Valid() || msg.Role == x.cfg.Role {
		return &ProtocolError{Code: CodeRoleConflict, Reason: fmt.Sprintf("both peers claim role %q", msg.Role)}
	}
	if x.cfg.Role == RoleGuest {
		if !msg.OtherData.Valid() {
			return &ProtocolError{Code: CodeUnexpectedMessage, Reason: fmt.Sprintf("host sent other data option %q", msg.OtherData)}
		}
		x.option = msg.OtherData.Flip()
	}
	x.gotHello = true
	x.observer(PhaseHelloReceived)

	out := x.local.Clone()
	// Our block is only used by the peer when we keep our own data.
	if x.option != backend.ThisDevice {
		out.Other = nil
	}
	snap, err := SnapshotMessage(out)
	if err != nil {
		return err
	}
	if err := x.send(ctx, snap); err != nil {
		return err
	}
	x.sentSnapshot = true
	x.observer(PhaseSnapshotSent)
	return nil
}

func (x *exchange) onSnapshot(ctx context.Context, msg Message) error {
	if !x.gotHello {
		return &ProtocolError{Code: CodeUnexpectedMessage, Reason: "snapshot before hello"}
	}
	if x.remote != nil {
		x.logger.Debug("ignoring duplicate snapshot")
		return nil
	}
	remote, err := msg.Snapshot()
	if err != nil {
		return err
	}
	if err := x.send(ctx, Ack()); err != nil {
		return err
	}
	x.remote = remote
	x.observer(PhaseSnapshotReceived)
	return nil
}

func (x *exchange) onAck(msg Message) error {
	if !x.sentSnapshot {
		return &ProtocolError{Code: CodeUnexpectedMessage, Reason: "ack before snapshot"}
	}
	if x.acked {
		x.logger.Debug("ignoring duplicate ack")
		return nil
	}
	x.acked = true
	x.observer(PhaseAcked)
	return nil
}

func (x *exchange) send(ctx context.Context, m Message) error {
	data, err := Encode(m)
	if err != nil {
		return err
	}
	if err := x.conn.Send(ctx, data); err != nil {
		return fmt.Errorf("sending %s: %w", m.Type, err)
	}
	return nil
}

// fail tells the peer about a locally detected protocol error. Transport and
// context errors are returned unchanged.
func (x *exchange) fail(ctx context.Context, err error) error {
	var perr *ProtocolError
	if !errors.As(err, &perr) || perr.Remote {
		return err
	}
	x.logger.Warn("aborting exchange", zap.String("code", string(perr.Code)), zap.Error(err))
	if sendErr := x.send(ctx, ErrorMessage(perr.Code, perr.Reason)); sendErr != nil {
		x.logger.Debug("could not notify peer", zap.Error(sendErr))
	}
	return err
}
