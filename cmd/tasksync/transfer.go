package main

import (
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"tasksync/backend"
	"tasksync/internal/cli"
	"tasksync/internal/utils"
)

func newExportCmd(c *command) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "export [task...]",
		Short: "Export tasks to a file another user can import",
		Long: `Export tasks, with the categories they use, as a JSON file. Without
arguments every task is exported. The file is marked as shared by the
profile name of this device.

Examples:
  tasksync export -o tasks.json
  tasksync export "Book flights" 3f2a91bc -o trip.json`,
		ValidArgsFunction: cli.TaskCompletion(c.loadTasks),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.getApp()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			var ids []uuid.UUID
			for _, term := range args {
				task, err := c.resolveTask(ctx, a, term)
				if err != nil {
					return err
				}
				ids = append(ids, task.ID)
			}

			sharedBy := a.Config().DeviceName
			if other, err := a.Store().GetOtherData(ctx); err == nil && other != nil && other.Name != "" {
				sharedBy = other.Name
			}

			var w io.Writer = c.out
			if output != "" && output != "-" {
				path, err := utils.ExpandPath(output)
				if err != nil {
					return err
				}
				f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
				if err != nil {
					return fmt.Errorf("failed to create export file: %w", err)
				}
				defer f.Close()
				w = f
			}

			var n int
			err = utils.LogOperationf("export to %q", func() error {
				var err error
				n, err = backend.ExportTasks(ctx, a.Store(), ids, sharedBy, w)
				return err
			}, output)
			if err != nil {
				return err
			}
			if w != c.out {
				fmt.Fprintf(c.out, "Exported %d task(s) to %s\n", n, output)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "file to write (default stdout)")
	return cmd
}

func newImportCmd(c *command) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Import tasks exported by 'tasksync export'",
		Long: `Import tasks from an export file. Tasks that already exist here, or
that were deleted here, are skipped. Missing categories are created.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.getApp()
			if err != nil {
				return err
			}
			format, err := c.format()
			if err != nil {
				return err
			}

			path, err := utils.ExpandPath(args[0])
			if err != nil {
				return err
			}
			f, err := os.Open(path)
			if err != nil {
				return utils.WrapWithSuggestion(fmt.Errorf("failed to open import file: %w", err),
					"Check the path to the file written by 'tasksync export'")
			}
			defer f.Close()

			file, err := backend.ReadTransferFile(f)
			if err != nil {
				return err
			}
			var result *backend.ImportResult
			err = utils.LogOperation("import "+path, func() error {
				var err error
				result, err = backend.ImportTasks(cmd.Context(), a.Store(), file)
				return err
			})
			if err != nil {
				return err
			}

			return utils.Write(c.out, format, result, func(w io.Writer) error {
				from := ""
				if file.SharedBy != "" {
					from = " shared by " + file.SharedBy
				}
				_, err := fmt.Fprintf(w, "Imported %d task(s)%s, skipped %d, created %d categor(ies)\n",
					result.Imported, from, result.Skipped, result.CreatedCategories)
				return err
			})
		},
	}
}
