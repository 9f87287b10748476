package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/dmx/internal/tasks"
)

// RunOutcome is the job goroutine's final word, delivered once.
type RunOutcome struct {
	Result *tasks.RunResult
	Err    error
}

type progressUpdateMsg tasks.ProgressUpdate

type runDoneMsg RunOutcome

var _ tea.Model = Model{}

// Model renders a live migration run: current phase, step progress,
// and the pass summaries seen so far.
type Model struct {
	updates <-chan tasks.ProgressUpdate
	done    <-chan RunOutcome

	spinner spinner.Model
	bar     progress.Model

	phase   tasks.Phase
	message string
	step    int
	total   int
	lines   []string

	outcome  *RunOutcome
	width    int
	quitting bool
}

// NewModel wires a monitor to the job's update and outcome channels.
func NewModel(updates <-chan tasks.ProgressUpdate, done <-chan RunOutcome) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = styles.title
	return Model{
		updates: updates,
		done:    done,
		spinner: sp,
		bar:     progress.New(progress.WithDefaultGradient()),
		message: "Starting migration...",
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.waitForUpdate(), m.waitForDone())
}

func (m Model) waitForUpdate() tea.Cmd {
	return func() tea.Msg {
		update, ok := <-m.updates
		if !ok {
			return nil
		}
		return progressUpdateMsg(update)
	}
}

func (m Model) waitForDone() tea.Cmd {
	return func() tea.Msg {
		return runDoneMsg(<-m.done)
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = min(msg.Width-4, 60)

	case progressUpdateMsg:
		update := tasks.ProgressUpdate(msg)
		m.phase = update.Phase
		m.message = update.Message
		m.step = update.Step
		m.total = update.Total
		if update.Phase == tasks.PassDone {
			m.lines = append(m.lines, styles.ok.Render(update.Message))
		}
		return m, m.waitForUpdate()

	case runDoneMsg:
		outcome := RunOutcome(msg)
		m.outcome = &outcome
		m.quitting = true
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(styles.title.Render("dmx migration"))
	b.WriteString("\n")

	for _, line := range m.lines {
		b.WriteString(line)
		b.WriteString("\n")
	}

	if m.outcome != nil {
		if m.outcome.Err != nil {
			b.WriteString(styles.err.Render("✗ " + m.outcome.Err.Error()))
		} else {
			b.WriteString(styles.ok.Render(summary(m.outcome.Result)))
			if result := m.outcome.Result; result != nil && len(result.MissingParents) > 0 {
				b.WriteString("\n")
				b.WriteString(styles.warn.Render(fmt.Sprintf("%d unresolved parent lookups", len(result.MissingParents))))
			}
		}
		b.WriteString("\n")
		return b.String()
	}

	b.WriteString(fmt.Sprintf("%s %s\n", m.spinner.View(), m.message))
	if m.total > 1 {
		b.WriteString(m.bar.ViewAs(float64(m.step) / float64(m.total)))
		b.WriteString("\n")
	}
	b.WriteString(styles.help.Render("q to quit"))
	b.WriteString("\n")
	return b.String()
}

// Outcome returns the run result once the model has quit.
func (m Model) Outcome() *RunOutcome { return m.outcome }

func summary(result *tasks.RunResult) string {
	if result == nil {
		return "✓ done"
	}
	var inserted, updated, deleted, failed int
	for _, s := range result.Objects {
		inserted += s.Inserted
		updated += s.Updated
		deleted += s.Deleted
		failed += s.Failed
	}
	mode := ""
	if result.Simulation {
		mode = " (simulation)"
	}
	return fmt.Sprintf("✓ finished%s: %d passes, %d inserted, %d updated, %d deleted, %d failed",
		mode, result.Passes, inserted, updated, deleted, failed)
}
