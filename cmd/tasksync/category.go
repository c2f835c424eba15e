package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"tasksync/backend"
	"tasksync/internal/cli"
	"tasksync/internal/utils"
)

func newCategoryCmd(c *command) *cobra.Command {
	categoryCmd := &cobra.Command{
		Use:     "category",
		Aliases: []string{"categories", "cat"},
		Short:   "Manage task categories",
	}

	categoryCmd.AddCommand(newCategoryAddCmd(c))
	categoryCmd.AddCommand(newCategoryListCmd(c))
	categoryCmd.AddCommand(newCategoryEditCmd(c))
	categoryCmd.AddCommand(newCategoryDeleteCmd(c))
	return categoryCmd
}

func newCategoryAddCmd(c *command) *cobra.Command {
	var color, emoji string

	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Add a category",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.getApp()
			if err != nil {
				return err
			}
			if _, err := a.FindCategory(cmd.Context(), args[0]); err == nil {
				return fmt.Errorf("category '%s' already exists", args[0])
			}

			category := backend.NewCategory(args[0])
			category.Emoji = emoji
			if color != "" {
				if category.Color, err = utils.NormalizeColor(color); err != nil {
					return err
				}
			}
			if err := a.Store().AddCategory(cmd.Context(), category); err != nil {
				return fmt.Errorf("failed to add category: %w", err)
			}
			fmt.Fprintf(c.out, "Category '%s' added\n", category.Name)
			return nil
		},
	}

	cmd.Flags().StringVar(&color, "color", "", "hex color such as #b624ff")
	cmd.Flags().StringVar(&emoji, "emoji", "", "emoji shown before the name")
	return cmd
}

func newCategoryListCmd(c *command) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List categories",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.getApp()
			if err != nil {
				return err
			}
			format, err := c.format()
			if err != nil {
				return err
			}
			categories, err := a.Store().GetCategories(cmd.Context())
			if err != nil {
				return err
			}
			tasks, err := a.Store().GetTasks(cmd.Context())
			if err != nil {
				return err
			}
			if categories == nil {
				categories = []backend.Category{}
			}

			return utils.Write(c.out, format, categories, func(w io.Writer) error {
				cli.ShowCategories(w, categories, tasks)
				return nil
			})
		},
	}
}

func newCategoryEditCmd(c *command) *cobra.Command {
	var name, color, emoji string

	cmd := &cobra.Command{
		Use:               "edit <category>",
		Short:             "Rename or recolor a category",
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: cli.CategoryCompletion(c.loadCategories),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.getApp()
			if err != nil {
				return err
			}
			category, err := a.FindCategory(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			flags := cmd.Flags()
			if flags.Changed("name") {
				category.Name = name
			}
			if flags.Changed("emoji") {
				category.Emoji = emoji
			}
			if flags.Changed("color") {
				if category.Color, err = utils.NormalizeColor(color); err != nil {
					return err
				}
			}
			if err := a.Store().UpdateCategory(cmd.Context(), category); err != nil {
				return fmt.Errorf("failed to update category: %w", err)
			}
			fmt.Fprintf(c.out, "Category '%s' updated\n", category.Name)
			return nil
		},
	}

	cmd.Flags().StringVarP(&name, "name", "n", "", "new name")
	cmd.Flags().StringVar(&color, "color", "", "hex color such as #b624ff")
	cmd.Flags().StringVar(&emoji, "emoji", "", "emoji shown before the name")
	return cmd
}

func newCategoryDeleteCmd(c *command) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:               "delete <category>",
		Aliases:           []string{"rm"},
		Short:             "Delete a category and remove it from its tasks",
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: cli.CategoryCompletion(c.loadCategories),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.getApp()
			if err != nil {
				return err
			}
			category, err := a.FindCategory(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !yes && !utils.Confirm(c.in, c.out, fmt.Sprintf("Delete category '%s'? Tasks keep existing", category.Name)) {
				fmt.Fprintln(c.out, "Cancelled")
				return nil
			}
			if err := a.Store().DeleteCategory(cmd.Context(), category.ID); err != nil {
				return fmt.Errorf("failed to delete category: %w", err)
			}
			fmt.Fprintf(c.out, "Category '%s' deleted\n", category.Name)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	return cmd
}
