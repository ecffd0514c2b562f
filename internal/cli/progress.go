package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/raphaelgruber/clashcheck/internal/client"
	"github.com/raphaelgruber/clashcheck/internal/models"
)

// Theme holds the color scheme for the progress display.
type Theme struct {
	Status     lipgloss.Color
	Success    lipgloss.Color
	Error      lipgloss.Color
	Hint       lipgloss.Color
	ProgressBg lipgloss.Color
}

// defaultTheme provides default colors.
var defaultTheme = Theme{
	Status:     lipgloss.Color("#5FAFD7"), // light blue
	Success:    lipgloss.Color("#00D787"), // green
	Error:      lipgloss.Color("#FF005F"), // red
	Hint:       lipgloss.Color("#6C6C6C"), // dim gray
	ProgressBg: lipgloss.Color("#3A3A3A"), // dark gray
}

func (t Theme) statusStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Status)
}

func (t Theme) completedStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Success).Bold(true)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

// jobUpdateMsg carries a job snapshot from the watch stream.
type jobUpdateMsg struct {
	job models.ClashDetectionJob
}

// watchDoneMsg ends the watch stream.
type watchDoneMsg struct {
	job *models.ClashDetectionJob
	err error
}

// progressModel is the bubbletea model for job progress.
type progressModel struct {
	jobID    string
	job      *models.ClashDetectionJob
	progress progress.Model
	theme    Theme
	done     bool
	quitting bool
	err      error
}

func newProgressModel(job *models.ClashDetectionJob) progressModel {
	prog := progress.New(
		progress.WithDefaultBlend(),
		progress.WithWidth(40),
	)

	return progressModel{
		jobID:    job.GUID,
		job:      job,
		progress: prog,
		theme:    defaultTheme,
	}
}

// Init returns the initial command.
func (m progressModel) Init() tea.Cmd {
	return m.progress.Init()
}

// Update handles messages and returns the updated model.
func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}

	case jobUpdateMsg:
		job := msg.job
		m.job = &job
		return m, nil

	case watchDoneMsg:
		m.done = true
		if msg.job != nil {
			m.job = msg.job
		}
		m.err = msg.err
		if m.err == nil && m.job != nil && m.job.Status == models.JobStatusFailed {
			m.err = jobError(m.job)
		}
		return m, tea.Quit

	case progress.FrameMsg:
		var cmd tea.Cmd
		m.progress, cmd = m.progress.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the progress display.
func (m progressModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

func (m progressModel) renderContent() string {
	if m.done || m.quitting {
		return m.finalView()
	}

	if m.job == nil {
		return "Waiting for job status...\n"
	}

	status := m.theme.statusStyle().Render(fmt.Sprintf("[%s]", m.job.Status))
	bar := m.progress.ViewAs(float64(m.job.Progress) / 100)
	hint := m.theme.hintStyle().Render("Press Ctrl+C to continue in background")

	return fmt.Sprintf("%s %s %3d%%\n%s\n", status, bar, m.job.Progress, hint)
}

func (m progressModel) finalView() string {
	if m.quitting {
		msg := fmt.Sprintf("\nJob %s continues in background.\nUse 'clashcheck watch %s' to follow it.\n",
			m.jobID, m.jobID)
		return m.theme.hintStyle().Render(msg)
	}

	if m.err != nil {
		return m.theme.errorStyle().Render(fmt.Sprintf("\n✗ Job failed: %s\n", m.err))
	}

	return m.theme.completedStyle().Render("✓ Completed") + "\n\n" + completionSummary(m.job)
}

// completionSummary describes a completed job in a few lines.
func completionSummary(job *models.ClashDetectionJob) string {
	if job == nil {
		return ""
	}
	return fmt.Sprintf("  Elements analyzed: %d\n  Clashes found:     %d\n\nUse 'clashcheck clashes %s' to review them.\n",
		job.TotalElementsAnalyzed, job.Results.TotalClashes, job.GUID)
}

func jobError(job *models.ClashDetectionJob) error {
	if job.Error == "" {
		return fmt.Errorf("job failed with unknown error")
	}
	if job.FailureKind != "" {
		return fmt.Errorf("%s (%s)", job.Error, job.FailureKind)
	}
	return fmt.Errorf("%s", job.Error)
}

// RunJobProgress follows a job until it finishes. On a terminal it shows a
// progress bar; otherwise it prints one line per update. Returns nil on
// success or when the user detaches with Ctrl+C, and an error when the job
// fails.
func RunJobProgress(ctx context.Context, c *client.Client, job *models.ClashDetectionJob) error {
	if job.Status.IsTerminal() {
		return finishPlain(os.Stdout, job)
	}
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return watchPlain(ctx, os.Stdout, c, job.GUID)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(newProgressModel(job))
	go func() {
		last, err := c.WatchJob(ctx, job.GUID, func(update models.ClashDetectionJob) error {
			p.Send(jobUpdateMsg{job: update})
			return nil
		})
		p.Send(watchDoneMsg{job: last, err: err})
	}()

	finalModel, err := p.Run()
	if err != nil {
		return fmt.Errorf("progress UI error: %w", err)
	}

	if m, ok := finalModel.(progressModel); ok {
		// Detached with Ctrl+C: the job keeps running on the server
		if m.quitting {
			return nil
		}
		if m.err != nil {
			return m.err
		}
	}
	return nil
}

// watchPlain prints progress lines for non-interactive output.
func watchPlain(ctx context.Context, w io.Writer, c *client.Client, id string) error {
	lastProgress := -1
	last, err := c.WatchJob(ctx, id, func(job models.ClashDetectionJob) error {
		if job.Progress != lastProgress {
			lastProgress = job.Progress
			fmt.Fprintf(w, "[%s] %d%%\n", job.Status, job.Progress)
		}
		return nil
	})
	if err != nil {
		return err
	}
	return finishPlain(w, last)
}

func finishPlain(w io.Writer, job *models.ClashDetectionJob) error {
	if job.Status == models.JobStatusFailed {
		return jobError(job)
	}
	fmt.Fprintf(w, "Completed\n%s", completionSummary(job))
	return nil
}
