package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"tasksync/internal/config"
	"tasksync/internal/utils"
)

func newConfigCmd(c *command) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the configuration",
	}

	configCmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Print the config file location",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.GetConfigPath()
			if err != nil {
				return err
			}
			fmt.Fprintln(c.out, path)
			return nil
		},
	})

	configCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration, after environment overrides",
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
			if format == utils.FormatText {
				format = utils.FormatYAML
			}
			return utils.Write(c.out, format, a.Config(), func(io.Writer) error { return nil })
		},
	})

	configCmd.AddCommand(&cobra.Command{
		Use:   "set <key> <value>",
		Short: "Change one setting in the config file",
		Example: `  tasksync config set sync.host_addr 192.168.1.20:7420
  tasksync config set sync.other_data no_sync
  tasksync config set ui cli`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.GetConfigPath()
			if err != nil {
				return err
			}
			if _, err := config.Update(path, args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(c.out, "Set %s in %s\n", args[0], path)
			return nil
		},
	})

	return configCmd
}
