package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/raphaelgruber/docingest/internal/client"
	"github.com/raphaelgruber/docingest/internal/models"
)

const pollInterval = time.Second

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

// queueStatus is one observation of the documents being waited on.
type queueStatus struct {
	Outstanding int
	Completed   int
	Failed      int
	Failures    []string
}

func (s queueStatus) done() bool {
	return s.Outstanding == 0
}

// statusFetcher reads the current queue status.
type statusFetcher func(ctx context.Context) (queueStatus, error)

// statusStream passes observations to emit until emit returns an error, the
// source ends or ctx is done.
type statusStream func(ctx context.Context, emit func(queueStatus) error) error

// errStreamDone stops a stream once nothing is outstanding.
var errStreamDone = errors.New("status stream done")

// errStreamEnded means the source stopped before the work finished.
var errStreamEnded = errors.New("status stream ended before work finished")

// polled turns a fetcher into a stream that reads every interval.
func polled(fetch statusFetcher, interval time.Duration) statusStream {
	return func(ctx context.Context, emit func(queueStatus) error) error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			s, err := fetch(ctx)
			if err != nil {
				return fmt.Errorf("fetch status: %w", err)
			}
			if err := emit(s); err != nil {
				return err
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		}
	}
}

// watched streams queue-wide counts pushed by a server.
func watched(c *client.Client) statusStream {
	return func(ctx context.Context, emit func(queueStatus) error) error {
		return c.WatchQueue(ctx, func(qs client.QueueStats) error {
			return emit(queueStatus{Outstanding: qs.Pending + qs.InProgress})
		})
	}
}

// follow runs stream until the work is done and returns the last status.
func follow(ctx context.Context, stream statusStream, onStatus func(queueStatus)) (queueStatus, error) {
	var last queueStatus
	err := stream(ctx, func(s queueStatus) error {
		last = s
		onStatus(s)
		if s.done() {
			return errStreamDone
		}
		return nil
	})
	switch {
	case errors.Is(err, errStreamDone):
		return last, nil
	case err == nil:
		return last, errStreamEnded
	}
	return last, err
}

// statusMsg carries the updated queue status
type statusMsg struct {
	status queueStatus
	err    error
}

// progressModel is the bubbletea model for queue progress.
type progressModel struct {
	status   *queueStatus
	baseline int
	progress progress.Model
	theme    Theme
	done     bool
	quitting bool
	err      error
}

func newProgressModel() progressModel {
	prog := progress.New(
		progress.WithDefaultBlend(),
		progress.WithWidth(40),
	)
	return progressModel{
		progress: prog,
		theme:    defaultTheme,
	}
}

// Init starts the bar; statuses arrive from the stream goroutine.
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
			m.done = true
			return m, tea.Quit
		}

	case statusMsg:
		if msg.err != nil {
			m.err = msg.err
			m.done = true
			return m, tea.Quit
		}
		m.observe(msg.status)
		if msg.status.done() {
			m.done = true
			m.err = failureError(msg.status)
			return m, tea.Quit
		}
		return m, nil

	case progress.FrameMsg:
		var cmd tea.Cmd
		m.progress, cmd = m.progress.Update(msg)
		return m, cmd
	}

	return m, nil
}

// observe records a status and widens the baseline when new work shows up.
func (m *progressModel) observe(s queueStatus) {
	m.status = &s
	if total := s.Outstanding + s.Completed + s.Failed; total > m.baseline {
		m.baseline = total
	}
}

// percent is the finished share of the largest workload seen so far.
func (m progressModel) percent() float64 {
	if m.status == nil || m.baseline == 0 {
		return 0
	}
	return float64(m.baseline-m.status.Outstanding) / float64(m.baseline)
}

// View renders the progress display.
func (m progressModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

func (m progressModel) renderContent() string {
	if m.done {
		return m.finalView()
	}
	if m.status == nil {
		return "Loading queue status...\n"
	}

	status := m.theme.statusStyle().Render(fmt.Sprintf("[%d outstanding]", m.status.Outstanding))
	bar := m.progress.ViewAs(m.percent())
	counts := fmt.Sprintf("%d/%d documents", m.baseline-m.status.Outstanding, m.baseline)
	hint := m.theme.hintStyle().Render("Press Ctrl+C to stop waiting; processing continues")

	return fmt.Sprintf("%s %s %s\n%s\n", status, bar, counts, hint)
}

func (m progressModel) finalView() string {
	if m.quitting {
		return m.theme.hintStyle().Render("\nStopped waiting. Use 'docingest list' to check status.\n")
	}
	if m.err != nil {
		out := m.theme.errorStyle().Render(fmt.Sprintf("\n✗ %s\n", m.err))
		if m.status != nil {
			for _, f := range m.status.Failures {
				out += fmt.Sprintf("  • %s\n", f)
			}
		}
		return out
	}
	return m.theme.completedStyle().Render("✓ Completed") + "\n"
}

func failureError(s queueStatus) error {
	if s.Failed == 0 {
		return nil
	}
	return fmt.Errorf("%d of %d documents failed", s.Failed, s.Completed+s.Failed)
}

// documentsStatus follows a fixed set of index log entries. A row counts as
// failed once its retries exceed maxRetries.
func documentsStatus(api documentAPI, ids []string, maxRetries int) statusFetcher {
	return func(ctx context.Context) (queueStatus, error) {
		var s queueStatus
		for _, id := range ids {
			row, err := api.GetByID(ctx, id)
			if err != nil {
				return s, err
			}
			switch {
			case row.Status == models.StatusCompleted:
				s.Completed++
			case row.Status == models.StatusFailed && row.RetryCount > maxRetries:
				s.Failed++
				msg := "unknown error"
				if row.ErrorMessage != nil {
					msg = *row.ErrorMessage
				}
				s.Failures = append(s.Failures, fmt.Sprintf("%s: %s", row.Source, msg))
			default:
				s.Outstanding++
			}
		}
		return s, nil
	}
}

// queueWideStatus follows every pending or in-progress entry.
func queueWideStatus(api documentAPI) statusFetcher {
	return func(ctx context.Context) (queueStatus, error) {
		stats, err := api.QueueStats(ctx)
		if err != nil {
			return queueStatus{}, err
		}
		return queueStatus{Outstanding: stats.Outstanding()}, nil
	}
}

// runProgress shows the interactive display, or plain status lines when
// out is not a terminal.
func runProgress(ctx context.Context, out io.Writer, stream statusStream) error {
	if f, ok := out.(*os.File); !ok || !term.IsTerminal(int(f.Fd())) {
		return printStatus(ctx, out, stream)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(newProgressModel())
	go func() {
		_, err := follow(ctx, stream, func(s queueStatus) {
			p.Send(statusMsg{status: s})
		})
		if err != nil && ctx.Err() == nil {
			p.Send(statusMsg{err: err})
		}
	}()

	finalModel, err := p.Run()
	if err != nil {
		return fmt.Errorf("progress UI error: %w", err)
	}
	if m, ok := finalModel.(progressModel); ok && !m.quitting {
		return m.err
	}
	return nil
}

// printStatus prints a line whenever the outstanding count changes until
// nothing is outstanding.
func printStatus(ctx context.Context, out io.Writer, stream statusStream) error {
	shown := -1
	s, err := follow(ctx, stream, func(s queueStatus) {
		if s.Outstanding != shown {
			fmt.Fprintf(out, "%d outstanding, %d completed, %d failed\n", s.Outstanding, s.Completed, s.Failed)
			shown = s.Outstanding
		}
	})
	if err != nil {
		return err
	}
	if len(s.Failures) > 0 {
		fmt.Fprintln(out, strings.Join(s.Failures, "\n"))
	}
	return failureError(s)
}

var waitCmd = &cobra.Command{
	Use:   "wait [id...]",
	Short: "Wait for documents to finish processing",
	Long: `Wait until the given documents are completed or have failed for good.
Without ids, wait until no document is pending or in progress.

Processing is done by a worker ('docingest jobs worker' or the server).
With --server and no ids, the queue counts are pushed by the server.

Examples:
  docingest wait
  docingest wait 0199f1d2-7c1e-7a3b-9c4d-1e2f3a4b5c6d`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return waitFor(cmd, args)
	},
}

func waitFor(cmd *cobra.Command, ids []string) error {
	return runProgress(cmd.Context(), cmd.OutOrStdout(), waitStream(ids))
}

// waitStream picks how to observe progress: per document by polling, or the
// whole queue pushed by a server when one is configured.
func waitStream(ids []string) statusStream {
	switch {
	case len(ids) > 0:
		return polled(documentsStatus(docs, ids, cfg.MaxRetries), pollInterval)
	case remote != nil:
		return watched(remote)
	default:
		return polled(queueWideStatus(docs), pollInterval)
	}
}
