package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"tasksync/internal/app"
	"tasksync/internal/cli"
	"tasksync/internal/config"
	"tasksync/internal/utils"
)

// command carries what every subcommand needs: the lazily built App and the
// global output flags.
type command struct {
	configPath string
	verbose    bool
	jsonOut    bool
	yamlOut    bool

	in  io.Reader
	out io.Writer
	now func() time.Time

	// interactive is false when stdout is not a terminal or the config
	// selects the plain cli interface.
	interactive func() bool

	newApp func() (*app.App, error)
	app    *app.App
}

func newCommand() *command {
	c := &command{
		in:  os.Stdin,
		out: os.Stdout,
		now: time.Now,
	}
	c.newApp = func() (*app.App, error) {
		cfg, err := config.GetConfig()
		if err != nil {
			return nil, err
		}
		return app.New(cfg)
	}
	c.interactive = func() bool {
		return c.app != nil && c.app.Config().UI == "tui" && cli.IsTerminal(os.Stdout) && !c.jsonOut && !c.yamlOut
	}
	return c
}

// getApp opens the replica on first use, so 'completion' and '--help' work
// without a config file.
func (c *command) getApp() (*app.App, error) {
	if c.app != nil {
		return c.app, nil
	}
	a, err := c.newApp()
	if err != nil {
		return nil, err
	}
	c.app = a
	return a, nil
}

func (c *command) close() {
	if c.app == nil {
		return
	}
	if err := c.app.Shutdown(); err != nil {
		utils.Debugf("closing replica: %v", err)
	}
}

func (c *command) format() (utils.OutputFormat, error) {
	return utils.FormatFromFlags(c.jsonOut, c.yamlOut)
}

func (c *command) dateFormat() string {
	if c.app == nil {
		return ""
	}
	return c.app.Config().GetDateFormat()
}

func newRootCmd(c *command) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "tasksync",
		Short: "Keep a task list in sync between two devices",
		Long: `tasksync keeps a local task list and synchronizes it directly with
another device on the same network. One device hosts and shows a pairing
code; the other joins with that code. No server or account is involved.

Examples:
  tasksync task add "Buy milk" --deadline 2026-05-01
  tasksync task list --status todo
  tasksync sync host
  tasksync sync join ABCDE-FGHJK`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if c.configPath != "" {
				config.SetCustomConfigPath(c.configPath)
			}
			utils.SetVerboseMode(c.verbose)
		},
	}
	rootCmd.SetIn(c.in)
	rootCmd.SetOut(c.out)

	rootCmd.PersistentFlags().StringVar(&c.configPath, "config", "", "config file or directory (default: $XDG_CONFIG_HOME/tasksync/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&c.jsonOut, "json", false, "output as JSON")
	rootCmd.PersistentFlags().BoolVar(&c.yamlOut, "yaml", false, "output as YAML")
	rootCmd.MarkFlagsMutuallyExclusive("json", "yaml")

	rootCmd.AddCommand(newSyncCmd(c))
	rootCmd.AddCommand(newTaskCmd(c))
	rootCmd.AddCommand(newCategoryCmd(c))
	rootCmd.AddCommand(newProfileCmd(c))
	rootCmd.AddCommand(newExportCmd(c))
	rootCmd.AddCommand(newImportCmd(c))
	rootCmd.AddCommand(newConfigCmd(c))

	return rootCmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := newCommand()
	err := newRootCmd(c).ExecuteContext(ctx)
	c.close()
	_ = utils.GetLogger().Sync()

	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		if errors.Is(err, cli.ErrCancelled) || errors.Is(err, context.Canceled) {
			os.Exit(130)
		}
		os.Exit(1)
	}
}
