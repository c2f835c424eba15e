package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	tasksync "tasksync/internal/sync"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6"))
	bannerStyle  = lipgloss.NewStyle().Bold(true).Border(lipgloss.RoundedBorder()).Padding(0, 2)
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	helpStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

type statusMsg tasksync.Status

type bannerMsg string

// progressModel shows the session status while a sync runs and quits once
// the session has finished.
type progressModel struct {
	spinner   spinner.Model
	title     string
	banner    string
	history   []tasksync.Status
	current   tasksync.Status
	finished  bool
	cancelled bool
}

func newProgressModel(title string) progressModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = titleStyle
	return progressModel{spinner: s, title: title}
}

func (m progressModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc", "q":
			m.cancelled = true
			return m, tea.Quit
		}

	case bannerMsg:
		m.banner = string(msg)
		return m, nil

	case statusMsg:
		status := tasksync.Status(msg)
		if status.Message != m.current.Message {
			m.history = append(m.history, status)
		}
		m.current = status
		if status.Mode == tasksync.ModeCompleted || status.Mode == tasksync.ModeFailed {
			m.finished = true
			return m, tea.Quit
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m progressModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(m.title))
	b.WriteString("\n\n")
	if m.banner != "" {
		b.WriteString(bannerStyle.Render(m.banner))
		b.WriteString("\n\n")
	}

	for i, s := range m.history {
		if i == len(m.history)-1 && !m.finished {
			b.WriteString(m.spinner.View() + " " + s.Message + "\n")
			continue
		}
		b.WriteString("  " + styleStatus(s) + "\n")
	}

	if !m.finished && !m.cancelled {
		b.WriteString("\n" + helpStyle.Render("esc/q: cancel") + "\n")
	}
	return b.String()
}

func styleStatus(s tasksync.Status) string {
	switch s.Severity {
	case tasksync.SeveritySuccess:
		return successStyle.Render("✓ " + s.Message)
	case tasksync.SeverityWarning:
		return warningStyle.Render("! " + s.Message)
	case tasksync.SeverityError:
		return errorStyle.Render("✗ " + s.Message)
	}
	return "· " + s.Message
}

// programSink forwards coordinator status changes into a running program.
type programSink struct {
	program *tea.Program
}

func (s programSink) OnStatusChanged(status tasksync.Status) {
	s.program.Send(statusMsg(status))
}

// StartFunc starts a sync session, registering sink for status updates, and
// returns a banner to display (the invite for hosts).
type StartFunc func(sink tasksync.StatusSink) (banner string, err error)

// ErrCancelled is returned by RunProgress when the user quit before the
// session finished.
var ErrCancelled = errors.New("sync cancelled")

// RunProgress shows an interactive progress view until the session started
// by start finishes or the user cancels.
func RunProgress(ctx context.Context, title string, start StartFunc, opts ...tea.ProgramOption) (tasksync.Status, error) {
	opts = append([]tea.ProgramOption{tea.WithContext(ctx)}, opts...)
	p := tea.NewProgram(newProgressModel(title), opts...)

	type outcome struct {
		model tea.Model
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		m, err := p.Run()
		done <- outcome{m, err}
	}()

	banner, err := start(programSink{program: p})
	if err != nil {
		p.Quit()
		<-done
		return tasksync.Status{}, err
	}
	if banner != "" {
		p.Send(bannerMsg(banner))
	}

	out := <-done
	if out.err != nil && ctx.Err() == nil {
		return tasksync.Status{}, fmt.Errorf("error running progress view: %w", out.err)
	}
	m, ok := out.model.(progressModel)
	if !ok {
		return tasksync.Status{}, fmt.Errorf("unexpected model type")
	}
	if m.cancelled || !m.finished {
		return m.current, ErrCancelled
	}
	return m.current, nil
}

// TextSink prints every status change as a line. It is used when the output
// is not a terminal or the config selects the plain cli interface.
type TextSink struct {
	W io.Writer
}

func (s TextSink) OnStatusChanged(status tasksync.Status) {
	if status.Severity == tasksync.SeverityInfo {
		fmt.Fprintln(s.W, status.Message)
		return
	}
	fmt.Fprintf(s.W, "[%s] %s\n", status.Severity, status.Message)
}
