package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"tasksync/backend"
	"tasksync/internal/operations"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6"))
	idStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	doneStyle    = lipgloss.NewStyle().Strikethrough(true).Foreground(lipgloss.Color("8"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	overdueStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	labelStyle   = lipgloss.NewStyle().Bold(true)
)

// GetTerminalWidth returns the current terminal width, defaulting to 80 if unable to detect
func GetTerminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return 80
	}
	return width
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

func borderWidth() int {
	width := GetTerminalWidth() - 2
	if width < 40 {
		width = 40
	}
	if width > 100 {
		width = 100
	}
	return width
}

func header(w io.Writer, title string) {
	text := "─ " + title + " "
	padding := borderWidth() - lipgloss.Width(text)
	if padding < 0 {
		padding = 0
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, headerStyle.Render("┌"+text+strings.Repeat("─", padding)+"┐"))
}

func footer(w io.Writer) {
	fmt.Fprintln(w, headerStyle.Render("└"+strings.Repeat("─", borderWidth())+"┘"))
}

// swatch renders a small block in the entity's color.
func swatch(color string) string {
	if color == "" {
		return " "
	}
	return lipgloss.NewStyle().Foreground(lipgloss.Color(color)).Render("●")
}

// ShowTasks prints tasks with their id prefix, categories and deadline.
func ShowTasks(w io.Writer, tasks []backend.Task, categories []backend.Category, dateFormat string, now time.Time) {
	header(w, fmt.Sprintf("Tasks (%d)", len(tasks)))
	if len(tasks) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("  No tasks yet. Add one with 'tasksync task add <name>'"))
	}

	for _, task := range tasks {
		check := "○"
		name := task.Name
		if task.Done {
			check = "✓"
			name = doneStyle.Render(name)
		}
		if task.Emoji != "" {
			name = task.Emoji + " " + name
		}
		pin := " "
		if task.Pinned {
			pin = "📌"
		}

		line := fmt.Sprintf("  %s %s %s %s %s", idStyle.Render(operations.ShortID(task.ID)), swatch(task.Color), check, pin, name)
		if names := operations.CategoryNames(task, categories); len(names) > 0 {
			line += " " + mutedStyle.Render("["+strings.Join(names, ", ")+"]")
		}
		if task.Deadline != nil && !task.Done {
			due := operations.FormatDeadline(task.Deadline, now, dateFormat)
			if operations.IsOverdue(task.Deadline, now) {
				due = overdueStyle.Render(due)
			} else {
				due = mutedStyle.Render(due)
			}
			line += "  " + due
		}
		if task.SharedBy != "" {
			line += " " + mutedStyle.Render("(shared by "+task.SharedBy+")")
		}
		fmt.Fprintln(w, line)

		if task.Description != "" {
			fmt.Fprintln(w, mutedStyle.Render("      "+firstLine(task.Description)))
		}
	}

	footer(w)
}

// ShowCategories prints categories with the number of tasks using each.
func ShowCategories(w io.Writer, categories []backend.Category, tasks []backend.Task) {
	header(w, fmt.Sprintf("Categories (%d)", len(categories)))
	for _, c := range categories {
		count := 0
		for _, t := range tasks {
			if t.HasCategory(c.ID) {
				count++
			}
		}
		name := c.Name
		if c.Emoji != "" {
			name = c.Emoji + " " + name
		}
		fmt.Fprintf(w, "  %s %s %-30s %s\n", idStyle.Render(operations.ShortID(c.ID)), swatch(c.Color), name,
			mutedStyle.Render(pluralize(count, "task")))
	}
	footer(w)
}

// ShowOtherData prints the profile block.
func ShowOtherData(w io.Writer, other *backend.OtherData) {
	header(w, "Profile")
	if other == nil {
		fmt.Fprintln(w, mutedStyle.Render("  No profile set. Use 'tasksync profile set --name <name>'"))
		footer(w)
		return
	}
	row := func(label, value string) {
		if value != "" {
			fmt.Fprintf(w, "  %s %s\n", labelStyle.Render(fmt.Sprintf("%-16s", label+":")), value)
		}
	}
	row("Name", other.Name)
	row("Profile picture", other.ProfilePicture)
	row("Emoji style", other.EmojisStyle)
	row("Theme", other.Theme)
	row("Dark mode", other.DarkMode)
	for key, value := range other.Settings {
		row(key, value)
	}
	footer(w)
}

// KeyValue prints aligned "label: value" rows under a title.
func KeyValue(w io.Writer, title string, rows [][2]string) {
	header(w, title)
	for _, r := range rows {
		fmt.Fprintf(w, "  %s %s\n", labelStyle.Render(fmt.Sprintf("%-16s", r[0]+":")), r[1])
	}
	footer(w)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " …"
	}
	return s
}

func pluralize(n int, word string) string {
	if n == 1 {
		return fmt.Sprintf("(%d %s)", n, word)
	}
	return fmt.Sprintf("(%d %ss)", n, word)
}
