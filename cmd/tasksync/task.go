package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"tasksync/backend"
	"tasksync/internal/app"
	"tasksync/internal/cli"
	"tasksync/internal/operations"
	"tasksync/internal/utils"
)

// taskFields are the flags shared by 'task add' and 'task edit'.
type taskFields struct {
	description string
	deadline    string
	color       string
	emoji       string
	categories  []string
	pinned      bool
}

func (f *taskFields) register(cmd *cobra.Command, c *command) {
	cmd.Flags().StringVarP(&f.description, "description", "D", "", "task description")
	cmd.Flags().StringVar(&f.deadline, "deadline", "", "deadline date (config date_format, default YYYY-MM-DD); empty clears it")
	cmd.Flags().StringVar(&f.color, "color", "", "hex color such as #b624ff")
	cmd.Flags().StringVar(&f.emoji, "emoji", "", "emoji shown before the name")
	cmd.Flags().StringSliceVarP(&f.categories, "category", "c", nil, "category name or id (repeatable)")
	cmd.Flags().BoolVar(&f.pinned, "pinned", false, "pin the task to the top of the list")
	_ = cmd.RegisterFlagCompletionFunc("category", cli.CategoryCompletion(c.loadCategories))
}

// apply copies the flags the user actually set onto task.
func (f *taskFields) apply(ctx context.Context, cmd *cobra.Command, a *app.App, task *backend.Task) error {
	flags := cmd.Flags()
	if flags.Changed("description") {
		task.Description = f.description
	}
	if flags.Changed("deadline") {
		deadline, err := utils.ParseDateFlag(f.deadline, a.Config().GetDateFormat())
		if err != nil {
			return err
		}
		if err := operations.ValidateDeadline(task.CreatedAt, deadline); err != nil {
			return err
		}
		task.Deadline = deadline
	}
	if flags.Changed("color") {
		color, err := utils.NormalizeColor(f.color)
		if err != nil {
			return err
		}
		task.Color = color
	}
	if flags.Changed("emoji") {
		task.Emoji = f.emoji
	}
	if flags.Changed("category") {
		categories, err := a.Store().GetCategories(ctx)
		if err != nil {
			return err
		}
		ids, err := operations.ResolveCategories(f.categories, categories)
		if err != nil {
			return err
		}
		task.Categories = ids
	}
	if flags.Changed("pinned") {
		task.Pinned = f.pinned
	}
	return nil
}

func (c *command) loadTasks() ([]backend.Task, error) {
	a, err := c.getApp()
	if err != nil {
		return nil, err
	}
	return a.Store().GetTasks(context.Background())
}

func (c *command) loadCategories() ([]backend.Category, error) {
	a, err := c.getApp()
	if err != nil {
		return nil, err
	}
	return a.Store().GetCategories(context.Background())
}

// resolveTask finds the task term refers to. Several matches are offered
// for selection when stdin is a terminal.
func (c *command) resolveTask(ctx context.Context, a *app.App, term string) (backend.Task, error) {
	task, err := a.FindTask(ctx, term)
	if err == nil {
		return task, nil
	}
	f, ok := c.in.(*os.File)
	if !ok || !cli.IsTerminal(f) {
		return backend.Task{}, err
	}

	matches, merr := a.MatchTasks(ctx, term)
	if merr != nil || len(matches) < 2 {
		return backend.Task{}, err
	}
	categories, cerr := a.Store().GetCategories(ctx)
	if cerr != nil {
		return backend.Task{}, cerr
	}
	selected, serr := operations.NewTaskSelector(c.in, c.out, categories, c.dateFormat()).Select(matches, term)
	if serr != nil {
		return backend.Task{}, serr
	}
	return *selected, nil
}

func newTaskCmd(c *command) *cobra.Command {
	taskCmd := &cobra.Command{
		Use:     "task",
		Aliases: []string{"tasks", "t"},
		Short:   "Manage the local task list",
		Long: `Manage the local task list. Tasks are referred to by name, by the id
prefix shown in 'task list', or by full id.

Examples:
  tasksync task add "Book flights" --deadline 2026-07-01 -c Travel
  tasksync task list --status todo --sort deadline
  tasksync task done "Book flights"
  tasksync task edit 3f2a91bc --pinned
  tasksync task purge`,
	}

	taskCmd.AddCommand(newTaskAddCmd(c))
	taskCmd.AddCommand(newTaskListCmd(c))
	taskCmd.AddCommand(newTaskShowCmd(c))
	taskCmd.AddCommand(newTaskDoneCmd(c, true))
	taskCmd.AddCommand(newTaskDoneCmd(c, false))
	taskCmd.AddCommand(newTaskEditCmd(c))
	taskCmd.AddCommand(newTaskDeleteCmd(c))
	taskCmd.AddCommand(newTaskPurgeCmd(c))
	return taskCmd
}

func newTaskAddCmd(c *command) *cobra.Command {
	var fields taskFields

	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Add a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.getApp()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			task := backend.NewTask(args[0])
			task.CreatedAt = c.now()
			task.LastSave = task.CreatedAt
			if err := fields.apply(ctx, cmd, a, &task); err != nil {
				return err
			}
			if err := a.Store().AddTask(ctx, task); err != nil {
				return fmt.Errorf("failed to add task: %w", err)
			}

			return c.writeTask(task, fmt.Sprintf("Task '%s' added (%s)", task.Name, operations.ShortID(task.ID)))
		},
	}

	fields.register(cmd, c)
	return cmd
}

func newTaskListCmd(c *command) *cobra.Command {
	var category, sortBy, order string

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List tasks",
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
			ctx := cmd.Context()

			filter, err := operations.BuildFilter(cmd)
			if err != nil {
				return err
			}
			if category != "" {
				cat, err := a.FindCategory(ctx, category)
				if err != nil {
					return err
				}
				filter.Category = cat.ID
			}

			tasks, err := a.Store().GetTasks(ctx)
			if err != nil {
				return err
			}
			categories, err := a.Store().GetCategories(ctx)
			if err != nil {
				return err
			}
			tasks = operations.ApplyFilter(tasks, filter)
			if err := operations.SortTasks(tasks, sortBy, order); err != nil {
				return err
			}
			if tasks == nil {
				tasks = []backend.Task{}
			}

			return utils.Write(c.out, format, tasks, func(w io.Writer) error {
				cli.ShowTasks(w, tasks, categories, a.Config().GetDateFormat(), c.now())
				return nil
			})
		},
	}

	cmd.Flags().StringArrayP("status", "s", nil, "filter by status: todo, done (t, d; repeatable or comma separated)")
	cmd.Flags().Bool("pinned", false, "only pinned tasks")
	cmd.Flags().StringVarP(&category, "category", "c", "", "only tasks in this category")
	cmd.Flags().StringVar(&sortBy, "sort", "", "sort by position, name, deadline, created or modified")
	cmd.Flags().StringVar(&order, "order", "asc", "sort order: asc or desc")
	_ = cmd.RegisterFlagCompletionFunc("category", cli.CategoryCompletion(c.loadCategories))
	return cmd
}

func newTaskShowCmd(c *command) *cobra.Command {
	return &cobra.Command{
		Use:               "show <task>",
		Short:             "Show one task",
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: cli.TaskCompletion(c.loadTasks),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.getApp()
			if err != nil {
				return err
			}
			format, err := c.format()
			if err != nil {
				return err
			}
			task, err := c.resolveTask(cmd.Context(), a, args[0])
			if err != nil {
				return err
			}
			categories, err := a.Store().GetCategories(cmd.Context())
			if err != nil {
				return err
			}

			return utils.Write(c.out, format, task, func(w io.Writer) error {
				layout := a.Config().GetDateFormat()
				rows := [][2]string{
					{"ID", task.ID.String()},
					{"Name", task.Name},
					{"Done", fmt.Sprint(task.Done)},
					{"Pinned", fmt.Sprint(task.Pinned)},
					{"Color", task.Color},
					{"Created", task.CreatedAt.Local().Format(layout)},
					{"Last saved", task.LastSave.Local().Format(layout + " 15:04")},
				}
				if task.Deadline != nil {
					rows = append(rows, [2]string{"Deadline", task.Deadline.Format(layout) + " (" + operations.FormatDeadline(task.Deadline, c.now(), layout) + ")"})
				}
				if names := operations.CategoryNames(task, categories); len(names) > 0 {
					rows = append(rows, [2]string{"Categories", fmt.Sprint(names)})
				}
				if task.SharedBy != "" {
					rows = append(rows, [2]string{"Shared by", task.SharedBy})
				}
				if task.Description != "" {
					rows = append(rows, [2]string{"Description", task.Description})
				}
				cli.KeyValue(w, "Task", rows)
				return nil
			})
		},
	}
}

func newTaskDoneCmd(c *command, done bool) *cobra.Command {
	use, short, verb := "done <task>", "Mark a task as done", "completed"
	if !done {
		use, short, verb = "undo <task>", "Mark a task as not done", "reopened"
	}

	return &cobra.Command{
		Use:               use,
		Short:             short,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: cli.TaskCompletion(c.loadTasks),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.getApp()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			task, err := c.resolveTask(ctx, a, args[0])
			if err != nil {
				return err
			}
			task.Done = done
			if err := a.Store().UpdateTask(ctx, task); err != nil {
				return fmt.Errorf("failed to update task: %w", err)
			}
			return c.writeTask(task, fmt.Sprintf("Task '%s' %s", task.Name, verb))
		},
	}
}

func newTaskEditCmd(c *command) *cobra.Command {
	var fields taskFields
	var name string

	cmd := &cobra.Command{
		Use:               "edit <task>",
		Short:             "Change a task",
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: cli.TaskCompletion(c.loadTasks),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.getApp()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			task, err := c.resolveTask(ctx, a, args[0])
			if err != nil {
				return err
			}

			if cmd.Flags().Changed("name") {
				if name == "" {
					return errors.New("task name cannot be empty")
				}
				task.Name = name
			}
			if err := fields.apply(ctx, cmd, a, &task); err != nil {
				return err
			}
			if err := a.Store().UpdateTask(ctx, task); err != nil {
				return fmt.Errorf("failed to update task: %w", err)
			}
			return c.writeTask(task, fmt.Sprintf("Task '%s' updated", task.Name))
		},
	}

	cmd.Flags().StringVarP(&name, "name", "n", "", "new name")
	fields.register(cmd, c)
	return cmd
}

func newTaskDeleteCmd(c *command) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:               "delete <task>",
		Aliases:           []string{"rm"},
		Short:             "Delete a task on every synced device",
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: cli.TaskCompletion(c.loadTasks),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.getApp()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			task, err := c.resolveTask(ctx, a, args[0])
			if err != nil {
				return err
			}
			if !yes && !utils.Confirm(c.in, c.out, fmt.Sprintf("Delete task '%s'?", task.Name)) {
				fmt.Fprintln(c.out, "Cancelled")
				return nil
			}
			if err := a.Store().DeleteTask(ctx, task.ID); err != nil {
				return fmt.Errorf("failed to delete task: %w", err)
			}
			fmt.Fprintf(c.out, "Task '%s' deleted\n", task.Name)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	return cmd
}

func newTaskPurgeCmd(c *command) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete every completed task",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.getApp()
			if err != nil {
				return err
			}
			if !yes && !utils.Confirm(c.in, c.out, "Delete all completed tasks?") {
				fmt.Fprintln(c.out, "Cancelled")
				return nil
			}
			purged, err := backend.PurgeDone(cmd.Context(), a.Store())
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "Purged %d completed task(s)\n", purged)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	return cmd
}

// writeTask prints task in the selected format, or message for text output.
func (c *command) writeTask(task backend.Task, message string) error {
	format, err := c.format()
	if err != nil {
		return err
	}
	return utils.Write(c.out, format, task, func(w io.Writer) error {
		_, err := fmt.Fprintln(w, message)
		return err
	})
}
