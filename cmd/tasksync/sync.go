package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"tasksync/backend"
	backendsync "tasksync/backend/sync"
	"tasksync/internal/app"
	"tasksync/internal/cache"
	"tasksync/internal/cli"
	"tasksync/internal/protocol"
	tasksync "tasksync/internal/sync"
	"tasksync/internal/utils"
)

// syncOutcome is what 'sync host' and 'sync join' print when done.
type syncOutcome struct {
	Role      string                 `json:"role" yaml:"role"`
	Status    string                 `json:"status" yaml:"status"`
	Message   string                 `json:"message" yaml:"message"`
	Replica   backend.Stats          `json:"replica" yaml:"replica"`
	Merge     backendsync.MergeStats `json:"merge" yaml:"merge"`
	OtherData string                 `json:"other_data" yaml:"other_data"`
	SyncedAt  time.Time              `json:"synced_at" yaml:"synced_at"`
	Conflicts []backendsync.Conflict `json:"conflicts,omitempty" yaml:"conflicts,omitempty"`
}

func newSyncCmd(c *command) *cobra.Command {
	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Synchronize tasks with another device",
		Long: `Synchronize this device's tasks with another device on the same network.

One device runs 'sync host' and shows a pairing code and an invite. The other
runs 'sync join' with either of them. Both devices end up with the same tasks
and categories: the most recently saved copy of each entry wins, and entries
deleted on either side stay deleted.

Examples:
  tasksync sync host                          # wait for a device to join
  tasksync sync host --other-data other_device
  tasksync sync join ABCDE-FGHJK              # join the host set in the config
  tasksync sync join tasksync://192.168.1.20:7420/ABCDE-FGHJK
  tasksync sync status`,
	}

	syncCmd.AddCommand(newSyncHostCmd(c))
	syncCmd.AddCommand(newSyncJoinCmd(c))
	syncCmd.AddCommand(newSyncStatusCmd(c))
	syncCmd.AddCommand(newSyncForgetCmd(c))
	return syncCmd
}

func newSyncHostCmd(c *command) *cobra.Command {
	var otherData string

	cmd := &cobra.Command{
		Use:   "host",
		Short: "Host a sync session and wait for a device to join",
		Long: `Host a sync session. A pairing code and an invite are shown; the other
device joins with either one. The session ends after one exchange.

--other-data decides whose profile and appearance settings survive:
  this_device   keep this device's settings on both devices
  other_device  take the joining device's settings
  no_sync       leave both devices' settings alone`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.getApp()
			if err != nil {
				return err
			}
			var option backend.OtherDataSyncOption
			if otherData != "" {
				option, err = backend.ParseOtherDataSyncOption(otherData)
				if err != nil {
					return utils.ErrInvalidOption("--other-data", otherData,
						[]string{string(backend.ThisDevice), string(backend.OtherDevice), string(backend.NoSync)})
				}
			}

			ctx := cmd.Context()
			return c.runSession(ctx, a, "Hosting sync", func(sink tasksync.StatusSink) (string, error) {
				invite, err := a.Host(ctx, option, sink)
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("Code:   %s\nInvite: %s", invite.Code, invite), nil
			})
		},
	}

	cmd.Flags().StringVar(&otherData, "other-data", "", "whose profile settings to keep: this_device, other_device or no_sync (default from config)")
	_ = cmd.RegisterFlagCompletionFunc("other-data", cli.OtherDataCompletion)
	return cmd
}

func newSyncJoinCmd(c *command) *cobra.Command {
	return &cobra.Command{
		Use:   "join [code|invite]",
		Short: "Join a device that is hosting a sync session",
		Long: `Join a hosting device with the pairing code or the invite it shows.
Without an argument the code is read from the terminal.

A bare code is looked up at sync.host_addr from the config, or at the last
host this device joined. An invite carries the address itself.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.getApp()
			if err != nil {
				return err
			}
			var input string
			if len(args) == 1 {
				input = args[0]
			} else {
				input, err = utils.PromptLine(c.in, c.out, "Pairing code or invite")
				if err != nil || input == "" {
					return utils.ErrInvalidPairingCode(input)
				}
			}
			ctx := cmd.Context()
			return c.runSession(ctx, a, "Joining sync", func(sink tasksync.StatusSink) (string, error) {
				return "", a.Join(ctx, input, sink)
			})
		},
	}
}

// runSession starts a session through start and follows it until it ends,
// with a progress view on terminals and plain status lines otherwise.
func (c *command) runSession(ctx context.Context, a *app.App, title string, start cli.StartFunc) error {
	if c.interactive() {
		_, err := cli.RunProgress(ctx, title, start)
		if err != nil {
			a.Coordinator().Reset()
			return startFailure(err, a)
		}
	} else {
		format, err := c.format()
		if err != nil {
			return err
		}
		var sinkOut io.Writer = c.out
		if format != utils.FormatText {
			sinkOut = io.Discard
		}
		banner, err := start(cli.TextSink{W: sinkOut})
		if err != nil {
			return startFailure(err, a)
		}
		if banner != "" {
			fmt.Fprintln(sinkOut, banner)
		}
	}

	status, err := a.Wait(ctx)
	if err != nil {
		a.Coordinator().Reset()
		return err
	}
	if status.Mode == tasksync.ModeFailed {
		return syncFailure(status.Err, a.Config().Sync.HostAddr)
	}
	return c.printOutcome(a, status)
}

func (c *command) printOutcome(a *app.App, status tasksync.Status) error {
	format, err := c.format()
	if err != nil {
		return err
	}
	coordinator := a.Coordinator()
	result := coordinator.Result()
	outcome := syncOutcome{
		Role:      string(coordinator.Role()),
		Status:    status.Mode.String(),
		Message:   status.Message,
		OtherData: coordinator.OtherDataSource(),
		SyncedAt:  coordinator.LastSyncedAt(),
	}
	if result != nil {
		outcome.Replica = result.Snapshot.Stats()
		outcome.Merge = result.Stats
		outcome.Conflicts = result.Conflicts
	}

	return utils.Write(c.out, format, outcome, func(w io.Writer) error {
		if c.interactive() {
			fmt.Fprintln(w, status.Message)
		}
		cli.KeyValue(w, "Sync result", [][2]string{
			{"Added", fmt.Sprint(outcome.Merge.Added)},
			{"Updated", fmt.Sprint(outcome.Merge.Updated)},
			{"Removed", fmt.Sprint(outcome.Merge.Removed)},
			{"Conflicts", fmt.Sprint(outcome.Merge.Conflicts)},
			{"Profile from", outcome.OtherData},
			{"Replica", outcome.Replica.String()},
		})
		return nil
	})
}

// startFailure maps classified errors returned while starting a session.
func startFailure(err error, a *app.App) error {
	var syncErr *tasksync.SyncError
	if errors.As(err, &syncErr) {
		return syncFailure(syncErr, a.Config().Sync.HostAddr)
	}
	return err
}

// syncFailure turns a classified session failure into an error with a
// suggestion for the user.
func syncFailure(err *tasksync.SyncError, hostAddr string) error {
	if err == nil {
		return errors.New("sync failed")
	}
	switch err.Code {
	case tasksync.CodeInvalidCode:
		return utils.WrapWithSuggestion(err, utils.PairingCodeHint)
	case tasksync.CodePeerUnavailable, tasksync.CodeConnectTimeout:
		return utils.ErrHostUnreachable(cache.HostAddr(hostAddr), err.Error())
	case string(protocol.CodeVersionMismatch):
		return utils.ErrIncompatiblePeer()
	case tasksync.CodeStorage:
		return utils.WrapWithSuggestion(err, "Check that database_path is writable and not used by another program")
	}
	if err.Retryable() {
		return utils.WrapWithSuggestion(err, "Start a new session on both devices and try again")
	}
	return err
}

func newSyncStatusCmd(c *command) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the local replica and when it last synced",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.getApp()
			if err != nil {
				return err
			}
			format, err := c.format()
			if err != nil {
				return err
			}
			report, err := a.SyncStatus(cmd.Context())
			if err != nil {
				return err
			}

			return utils.Write(c.out, format, report, func(w io.Writer) error {
				last := "never"
				if report.LastSyncedAt != nil {
					last = report.LastSyncedAt.Local().Format(a.Config().GetDateFormat() + " 15:04")
				}
				lastHost := report.LastHost
				if lastHost == "" {
					lastHost = "none"
				}
				rows := [][2]string{
					{"Device", report.DeviceName},
					{"Last synced", last},
					{"Last host", lastHost},
					{"Profile option", report.OtherData},
					{"Replica", report.Replica.String()},
				}
				if report.Database != nil {
					rows = append(rows, [2]string{"Database", report.Database.String()})
				}
				cli.KeyValue(w, "Sync status", rows)
				return nil
			})
		},
	}
}

func newSyncForgetCmd(c *command) *cobra.Command {
	return &cobra.Command{
		Use:   "forget",
		Short: "Forget the hosts this device joined before",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cache.ForgetPeers(); err != nil {
				return fmt.Errorf("failed to clear peer cache: %w", err)
			}
			fmt.Fprintln(c.out, "Forgot all remembered hosts")
			return nil
		},
	}
}
