package progress

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	bprogress "github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/yairfalse/tally/internal/collector"
)

type tickMsg time.Time

// Model is the bubbletea view of a running scan.
type Model struct {
	src      Source
	interval time.Duration
	onQuit   func()

	bar      bprogress.Model
	current  collector.Progress
	started  time.Time
	quitting bool

	titleStyle  lipgloss.Style
	statusStyle lipgloss.Style
	failStyle   lipgloss.Style
}

// NewModel creates a model polling src. onQuit runs when the user quits.
func NewModel(src Source, interval time.Duration, onQuit func()) Model {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return Model{
		src:         src,
		interval:    interval,
		onQuit:      onQuit,
		bar:         bprogress.New(bprogress.WithDefaultGradient(), bprogress.WithWidth(40)),
		started:     time.Now(),
		titleStyle:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205")),
		statusStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("244")),
		failStyle:   lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) Init() tea.Cmd {
	return m.tick()
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			if m.onQuit != nil {
				m.onQuit()
			}
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.bar.Width = max(10, min(60, msg.Width-30))

	case tickMsg:
		m.current = m.src.Progress()
		if m.current.Finished() {
			return m, tea.Quit
		}
		return m, m.tick()
	}

	return m, nil
}

func (m Model) View() string {
	p := m.current

	var b strings.Builder
	b.WriteString(m.titleStyle.Render("tally collect"))
	b.WriteString("\n\n  ")
	b.WriteString(m.bar.ViewAs(Percent(p) / 100))
	fmt.Fprintf(&b, "  %d/%d\n\n", p.Done, p.Total)

	b.WriteString(m.statusStyle.Render(fmt.Sprintf("  completed %d  skipped %d  cancelled %d  elapsed %s",
		p.Completed, p.Skipped, p.Cancelled, time.Since(m.started).Round(time.Second))))
	if p.Failed > 0 {
		b.WriteString(m.failStyle.Render(fmt.Sprintf("  failed %d", p.Failed)))
	}
	b.WriteString("\n")

	if m.quitting {
		b.WriteString("\n  stopping, waiting for in-flight tasks\n")
	}
	return b.String()
}

// RunTUI renders the model until the scan finishes, the user quits, or ctx is
// done.
func RunTUI(ctx context.Context, src Source, out io.Writer, onQuit func()) error {
	p := tea.NewProgram(NewModel(src, 200*time.Millisecond, onQuit),
		tea.WithContext(ctx),
		tea.WithOutput(out),
		tea.WithoutSignalHandler(),
	)
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("progress view: %w", err)
	}
	return nil
}
