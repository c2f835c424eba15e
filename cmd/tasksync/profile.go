package main

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"tasksync/backend"
	"tasksync/internal/cli"
	"tasksync/internal/utils"
)

var darkModes = []string{"auto", "system", "light", "dark"}

func newProfileCmd(c *command) *cobra.Command {
	profileCmd := &cobra.Command{
		Use:   "profile",
		Short: "Show or change the profile and appearance settings",
		Long: `The profile holds the user name, picture and appearance settings. It is
synced separately from tasks: 'sync host --other-data' decides whose profile
survives a sync.`,
	}

	profileCmd.AddCommand(newProfileShowCmd(c))
	profileCmd.AddCommand(newProfileSetCmd(c))
	return profileCmd
}

func newProfileShowCmd(c *command) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the profile",
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
			other, err := a.Store().GetOtherData(cmd.Context())
			if err != nil {
				return err
			}
			return utils.Write(c.out, format, other, func(w io.Writer) error {
				cli.ShowOtherData(w, other)
				return nil
			})
		},
	}
}

func newProfileSetCmd(c *command) *cobra.Command {
	var name, picture, emojis, theme, darkMode string
	var settings []string

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Change profile settings",
		Example: `  tasksync profile set --name Alex --dark-mode dark
  tasksync profile set --setting language=en --setting sound=off`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.getApp()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			current, err := a.Store().GetOtherData(ctx)
			if err != nil {
				return err
			}
			other := backend.OtherData{}
			if current != nil {
				other = *current.Clone()
			}

			flags := cmd.Flags()
			if flags.Changed("name") {
				other.Name = name
			}
			if flags.Changed("picture") {
				other.ProfilePicture = picture
			}
			if flags.Changed("emoji-style") {
				other.EmojisStyle = emojis
			}
			if flags.Changed("theme") {
				other.Theme = theme
			}
			if flags.Changed("dark-mode") {
				mode := strings.ToLower(darkMode)
				if !slices.Contains(darkModes, mode) {
					return utils.ErrInvalidOption("dark mode", darkMode, darkModes)
				}
				other.DarkMode = mode
			}
			for _, kv := range settings {
				key, value, ok := strings.Cut(kv, "=")
				if !ok || key == "" {
					return fmt.Errorf("invalid setting %q: expected key=value", kv)
				}
				if other.Settings == nil {
					other.Settings = make(map[string]string)
				}
				if value == "" {
					delete(other.Settings, key)
				} else {
					other.Settings[key] = value
				}
			}

			if err := a.Store().SetOtherData(ctx, other); err != nil {
				return fmt.Errorf("failed to save profile: %w", err)
			}
			fmt.Fprintln(c.out, "Profile updated")
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "user name")
	cmd.Flags().StringVar(&picture, "picture", "", "profile picture URL or path")
	cmd.Flags().StringVar(&emojis, "emoji-style", "", "emoji style")
	cmd.Flags().StringVar(&theme, "theme", "", "theme color")
	cmd.Flags().StringVar(&darkMode, "dark-mode", "", "auto, system, light or dark")
	cmd.Flags().StringArrayVar(&settings, "setting", nil, "key=value setting; an empty value removes the key (repeatable)")
	return cmd
}
