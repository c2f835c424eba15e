package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"tasksync/backend"
	"tasksync/internal/operations"
)

// CompletionFunc is what cobra calls for dynamic argument completion.
type CompletionFunc func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective)

// TaskCompletion completes task names and id prefixes. load is only called
// when the shell asks for completions.
func TaskCompletion(load func() ([]backend.Task, error)) CompletionFunc {
	return func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		if len(args) > 0 {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}
		tasks, err := load()
		if err != nil {
			return nil, cobra.ShellCompDirectiveError
		}

		var completions []string
		prefix := strings.ToLower(toComplete)
		for _, t := range tasks {
			if strings.HasPrefix(strings.ToLower(t.Name), prefix) {
				completions = append(completions, t.Name+"\t"+operations.ShortID(t.ID))
			} else if id := operations.ShortID(t.ID); strings.HasPrefix(id, prefix) {
				completions = append(completions, id+"\t"+t.Name)
			}
		}
		return completions, cobra.ShellCompDirectiveNoFileComp
	}
}

// CategoryCompletion completes category names.
func CategoryCompletion(load func() ([]backend.Category, error)) CompletionFunc {
	return func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		categories, err := load()
		if err != nil {
			return nil, cobra.ShellCompDirectiveError
		}
		var completions []string
		for _, c := range categories {
			if strings.HasPrefix(strings.ToLower(c.Name), strings.ToLower(toComplete)) {
				completions = append(completions, c.Name)
			}
		}
		return completions, cobra.ShellCompDirectiveNoFileComp
	}
}

// OtherDataCompletion completes the --other-data flag.
func OtherDataCompletion(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	options := []string{
		string(backend.ThisDevice) + "\tkeep this device's profile",
		string(backend.OtherDevice) + "\ttake the other device's profile",
		string(backend.NoSync) + "\tleave both profiles alone",
	}
	var completions []string
	for _, o := range options {
		if strings.HasPrefix(o, toComplete) {
			completions = append(completions, o)
		}
	}
	return completions, cobra.ShellCompDirectiveNoFileComp
}
