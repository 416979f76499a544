package ui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/Aman-CERP/atrium/internal/jobs"
)

// ErrDetached is returned when the user stops watching a job that is
// still running.
var ErrDetached = errors.New("stopped watching; the job keeps running")

// ErrStreamEnded is returned when updates stop before the job finished.
var ErrStreamEnded = errors.New("job stream ended before the job finished")

// JobView follows a job from a stream of snapshots until it is terminal.
type JobView interface {
	Run(ctx context.Context, updates <-chan jobs.Job) (jobs.Job, error)
}

// NewJobView returns the bubbletea view on interactive terminals and the
// line renderer otherwise. onCancel, when set, is bound to the "c" key.
func NewJobView(cfg Config, onCancel func()) JobView {
	if cfg.Interactive() {
		return &tuiJobView{cfg: cfg, onCancel: onCancel}
	}
	return &PlainJobView{out: cfg.Output}
}

// PlainJobView prints one line per visible change.
type PlainJobView struct {
	out io.Writer
}

// NewPlainJobView creates a line renderer writing to out.
func NewPlainJobView(out io.Writer) *PlainJobView {
	return &PlainJobView{out: out}
}

// Run implements JobView.
func (v *PlainJobView) Run(ctx context.Context, updates <-chan jobs.Job) (jobs.Job, error) {
	var last jobs.Job
	var lastLine string
	for {
		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case j, ok := <-updates:
			if !ok {
				return last, ErrStreamEnded
			}
			last = j
			if line := JobLine(j); line != lastLine {
				_, _ = fmt.Fprintln(v.out, line)
				lastLine = line
			}
			if j.Terminal() {
				return j, nil
			}
		}
	}
}

// JobLine formats a snapshot as "[status/phase] cur/total - message".
func JobLine(j jobs.Job) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s", j.Status)
	if j.Phase != "" && j.Phase != string(j.Status) {
		fmt.Fprintf(&b, "/%s", j.Phase)
	}
	b.WriteString("]")
	if j.Progress.Total > 0 {
		fmt.Fprintf(&b, " %d/%d", j.Progress.Current, j.Progress.Total)
	}
	if j.Message != "" {
		fmt.Fprintf(&b, " - %s", j.Message)
	}
	if j.Error != "" {
		fmt.Fprintf(&b, " (error: %s)", j.Error)
	}
	return b.String()
}

// RenderJobs writes a table of job snapshots.
func RenderJobs(out io.Writer, list []jobs.Job, noColor bool) error {
	styles := GetStyles(noColor)
	if len(list) == 0 {
		_, err := fmt.Fprintln(out, styles.Dim.Render("no jobs"))
		return err
	}
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(styles.Border).
		Headers("ID", "TYPE", "STATUS", "PHASE", "PROGRESS", "CREATED")
	for _, j := range list {
		prog := ""
		if j.Progress.Total > 0 {
			prog = strconv.Itoa(j.Progress.Current) + "/" + strconv.Itoa(j.Progress.Total)
		}
		t.Row(j.ID, string(j.Type), string(j.Status), j.Phase, prog, j.CreatedAt.Local().Format(time.TimeOnly))
	}
	t.StyleFunc(func(row, _ int) lipgloss.Style {
		s := lipgloss.NewStyle().Padding(0, 1)
		if row == table.HeaderRow {
			return s.Inherit(styles.Header)
		}
		return s
	})
	_, err := fmt.Fprintln(out, t.String())
	return err
}

type tuiJobView struct {
	cfg      Config
	onCancel func()
}

type jobMsg jobs.Job
type streamEndMsg struct{}

func (v *tuiJobView) Run(ctx context.Context, updates <-chan jobs.Job) (jobs.Job, error) {
	m := newJobModel(v.onCancel)
	if v.cfg.NoColor {
		m.styles = NoColorStyles()
	}
	opts := []tea.ProgramOption{tea.WithContext(ctx)}
	if f, ok := v.cfg.Output.(*os.File); ok {
		opts = append(opts, tea.WithOutput(f))
	}
	p := tea.NewProgram(m, opts...)

	go func() {
		for j := range updates {
			p.Send(jobMsg(j))
			if j.Terminal() {
				return
			}
		}
		p.Send(streamEndMsg{})
	}()

	final, err := p.Run()
	if fm, ok := final.(*jobModel); ok && fm != nil {
		m = fm
	}
	switch {
	case m.job.Terminal():
		return m.job, nil
	case err != nil && ctx.Err() != nil:
		return m.job, ctx.Err()
	case err != nil:
		return m.job, err
	case m.detached:
		return m.job, ErrDetached
	default:
		return m.job, ErrStreamEnded
	}
}

// jobModel is the bubbletea model of a single job.
type jobModel struct {
	job        jobs.Job
	seen       bool
	detached   bool
	cancelling bool
	onCancel   func()
	spinner    spinner.Model
	bar        progress.Model
	styles     Styles
	width      int
}

func newJobModel(onCancel func()) *jobModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color(ColorAccent))
	return &jobModel{
		onCancel: onCancel,
		spinner:  s,
		bar:      progress.New(progress.WithSolidFill(ColorAccent), progress.WithWidth(40), progress.WithoutPercentage()),
		styles:   DefaultStyles(),
		width:    80,
	}
}

// Init implements tea.Model.
func (m *jobModel) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update implements tea.Model.
func (m *jobModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.detached = true
			return m, tea.Quit
		case "c":
			if m.onCancel != nil && !m.cancelling && !m.job.Terminal() {
				m.cancelling = true
				cancel := m.onCancel
				return m, func() tea.Msg { cancel(); return nil }
			}
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = max(20, min(60, msg.Width-30))
	case jobMsg:
		m.job = jobs.Job(msg)
		m.seen = true
		if m.job.Terminal() {
			return m, tea.Quit
		}
	case streamEndMsg:
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View implements tea.Model.
func (m *jobModel) View() string {
	if !m.seen {
		return m.spinner.View() + " waiting for job...\n"
	}
	j := m.job
	var lines []string
	lines = append(lines, m.styles.Header.Render(fmt.Sprintf("%s job %s", j.Type, j.ID)))

	switch j.Status {
	case jobs.StatusCompleted:
		lines = append(lines, m.styles.Success.Render("✓ "+nonEmpty(j.Message, "Done")))
	case jobs.StatusFailed:
		lines = append(lines, m.styles.Error.Render("✗ "+nonEmpty(j.Error, j.Message)))
	case jobs.StatusCancelled:
		lines = append(lines, m.styles.Warning.Render("cancelled"))
	default:
		phase := nonEmpty(j.Phase, string(j.Status))
		lines = append(lines, fmt.Sprintf("%s %s %s", m.spinner.View(), m.styles.Label.Render(phase), j.Message))
	}

	if j.Progress.Total > 0 {
		frac := float64(j.Progress.Current) / float64(j.Progress.Total)
		lines = append(lines, fmt.Sprintf("%s  %d/%d", m.bar.ViewAs(frac), j.Progress.Current, j.Progress.Total))
	}

	if !j.Terminal() {
		hint := "q to detach"
		if m.onCancel != nil {
			hint = "c to cancel, " + hint
		}
		if m.cancelling {
			hint = "cancelling..."
		}
		lines = append(lines, m.styles.Dim.Render(hint))
	}
	return strings.Join(lines, "\n") + "\n"
}

func nonEmpty(s, fallback string) string {
	if s != "" {
		return s
	}
	return fallback
}
