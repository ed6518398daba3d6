package ui

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Aman-CERP/amanidx/internal/index"
)

// TUIRenderer provides rich terminal UI using bubbletea.
type TUIRenderer struct {
	mu      sync.Mutex
	cfg     Config
	program *tea.Program
	model   *indexingModel
	started bool
	done    chan struct{}
}

// NewTUIRenderer creates a TUI renderer. It fails when the output is not
// a terminal.
func NewTUIRenderer(cfg Config) (*TUIRenderer, error) {
	if !IsTTY(cfg.Output) {
		return nil, fmt.Errorf("output is not a TTY")
	}
	model := newIndexingModel(cfg.Title)
	if cfg.NoColor || DetectNoColor() {
		model.styles = NoColorStyles()
	}
	return &TUIRenderer{cfg: cfg, model: model, done: make(chan struct{})}, nil
}

// Start implements Renderer.
func (r *TUIRenderer) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return nil
	}

	opts := []tea.ProgramOption{tea.WithContext(ctx)}
	if f, ok := r.cfg.Output.(*os.File); ok {
		opts = append(opts, tea.WithOutput(f))
	}
	r.program = tea.NewProgram(r.model, opts...)
	r.started = true

	go func() {
		defer close(r.done)
		_, _ = r.program.Run()
	}()
	return nil
}

// Update implements Renderer.
func (r *TUIRenderer) Update(snap index.ProgressSnapshot) {
	r.send(snapshotMsg(snap))
}

// Complete implements Renderer.
func (r *TUIRenderer) Complete(s Summary) {
	r.send(completeMsg(s))
}

func (r *TUIRenderer) send(msg tea.Msg) {
	r.mu.Lock()
	p := r.program
	r.mu.Unlock()
	if p != nil {
		p.Send(msg)
	}
}

// Stop implements Renderer.
func (r *TUIRenderer) Stop() error {
	r.mu.Lock()
	p := r.program
	r.mu.Unlock()
	if p == nil {
		return nil
	}

	p.Quit()
	select {
	case <-r.done:
	case <-time.After(2 * time.Second):
		// An unresponsive terminal must not hang shutdown.
	}
	return nil
}

type snapshotMsg index.ProgressSnapshot
type completeMsg Summary
type tickMsg time.Time

// indexingModel is the bubbletea model for indexing progress.
type indexingModel struct {
	title    string
	snap     index.ProgressSnapshot
	lastDocs int
	rate     *Sparkline
	summary  *Summary
	quitting bool
	width    int
	spinner  spinner.Model
	styles   Styles
}

func newIndexingModel(title string) *indexingModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color(ColorLime))
	return &indexingModel{
		title:   title,
		rate:    NewSparkline(40),
		width:   80,
		spinner: s,
		styles:  DefaultStyles(),
	}
}

// Init implements tea.Model.
func (m *indexingModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tickCmd())
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update implements tea.Model.
func (m *indexingModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case snapshotMsg:
		m.snap = index.ProgressSnapshot(msg)
	case completeMsg:
		s := Summary(msg)
		m.summary = &s
		return m, tea.Quit
	case tickMsg:
		m.rate.Add(float64(m.snap.DocumentsStored - m.lastDocs))
		m.lastDocs = m.snap.DocumentsStored
		return m, tickCmd()
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View implements tea.Model.
func (m *indexingModel) View() string {
	if m.quitting {
		return "Cancelled.\n"
	}
	if m.summary != nil {
		return m.renderComplete()
	}

	label := func(name string, value any) string {
		return fmt.Sprintf("%s %v", m.styles.Label.Render(fmt.Sprintf("%-10s", name)), value)
	}

	state := m.styles.Dim.Render("idle")
	if m.snap.Status == string(index.StatusIndexing) {
		state = m.spinner.View() + " " + m.styles.Active.Render(m.snap.Indexer)
	}
	lines := []string{
		m.styles.Header.Render(m.title),
		"",
		label("State", state),
		label("Root", truncate(m.snap.Root, m.width-16)),
		label("Units", m.snap.UnitsDone),
		label("Passes", fmt.Sprintf("%d (%d degraded, %d recoveries)", m.snap.PassesTotal, m.snap.PassesDegraded, m.snap.Recoveries)),
		label("Documents", m.snap.DocumentsStored),
		label("Flushed", FormatBytes(int64(m.snap.BytesFlushed))),
		label("Docs/sec", m.styles.Success.Render(m.rate.Render())),
	}
	if m.snap.LastError != "" {
		lines = append(lines, "", m.styles.Error.Render("✗ "+m.snap.LastError))
	}
	lines = append(lines, "", m.styles.Dim.Render("q to quit"))
	return m.styles.Panel.Render(strings.Join(lines, "\n")) + "\n"
}

func (m *indexingModel) renderComplete() string {
	s := m.summary
	lines := []string{
		m.styles.Success.Render("✓ Indexing complete"),
		"",
		fmt.Sprintf("%s %d", m.styles.Label.Render("Roots:    "), s.Roots),
		fmt.Sprintf("%s %d", m.styles.Label.Render("Documents:"), s.Progress.DocumentsStored),
		fmt.Sprintf("%s %s", m.styles.Label.Render("Duration: "), formatDuration(s.Duration)),
	}
	if s.Progress.PassesDegraded > 0 {
		lines = append(lines, m.styles.Warning.Render(fmt.Sprintf("⚠ %d degraded passes", s.Progress.PassesDegraded)))
	}
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(ColorLime)).
		Padding(1, 2).
		Render(strings.Join(lines, "\n")) + "\n"
}

// formatDuration formats a duration in a human-friendly way.
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		if s == 0 {
			return fmt.Sprintf("%dm", m)
		}
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}

// truncate shortens s to max runes, keeping the end.
func truncate(s string, max int) string {
	r := []rune(s)
	if max < 4 || len(r) <= max {
		return s
	}
	return "..." + string(r[len(r)-max+3:])
}

var _ Renderer = (*TUIRenderer)(nil)
