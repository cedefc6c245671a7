package tui

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Status mirrors the JSON body the engine's debug listener serves at
// /status — the exact same payload "status" (non-watch) rendering uses, so
// the TUI never sees data the static path doesn't also show.
type Status struct {
	Metrics struct {
		ExecutionsStarted   int64 `json:"ExecutionsStarted"`
		ExecutionsCompleted int64 `json:"ExecutionsCompleted"`
		ExecutionsFailed    int64 `json:"ExecutionsFailed"`
		ExecutionsCancelled int64 `json:"ExecutionsCancelled"`
		ExecutionsTimedOut  int64 `json:"ExecutionsTimedOut"`
		SchedulerEnqueued   int64 `json:"SchedulerEnqueued"`
		SchedulerDequeued   int64 `json:"SchedulerDequeued"`
		SchedulerDropped    int64 `json:"SchedulerDropped"`
		Reconnects          int64 `json:"Reconnects"`
		SendErrors          int64 `json:"SendErrors"`
	} `json:"metrics"`
	SchedulerDepth    int         `json:"scheduler_depth"`
	PriorityHistogram map[int]int `json:"priority_histogram"`
	RunningCount      int         `json:"running_count"`
	MaxConcurrent     int         `json:"max_concurrent"`
}

// FetchStatus performs a single GET against the debug listener's /status
// endpoint and decodes the result.
func FetchStatus(addr string) (*Status, error) {
	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Get("http://" + addr + "/status")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status endpoint returned %d", resp.StatusCode)
	}

	var s Status
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return nil, fmt.Errorf("decoding status response: %w", err)
	}
	return &s, nil
}

type statusMsg struct {
	status *Status
	err    error
}

type keyMap struct {
	Quit key.Binding
}

var statusKeys = keyMap{
	Quit: key.NewBinding(key.WithKeys("q", "ctrl+c")),
}

// StatusModel is a Bubble Tea model that polls a worker node's debug
// listener on an interval and re-renders its scheduler/execution counters.
type StatusModel struct {
	addr     string
	interval time.Duration
	status   *Status
	err      error
	quitting bool
}

// NewStatusModel creates a StatusModel that polls addr every interval.
func NewStatusModel(addr string, interval time.Duration) StatusModel {
	return StatusModel{addr: addr, interval: interval}
}

func (m StatusModel) Init() tea.Cmd {
	return m.poll()
}

func (m StatusModel) poll() tea.Cmd {
	addr := m.addr
	return func() tea.Msg {
		s, err := FetchStatus(addr)
		return statusMsg{status: s, err: err}
	}
}

func (m StatusModel) tick() tea.Cmd {
	addr := m.addr
	return tea.Tick(m.interval, func(time.Time) tea.Msg {
		s, err := FetchStatus(addr)
		return statusMsg{status: s, err: err}
	})
}

func (m StatusModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if key.Matches(msg, statusKeys.Quit) {
			m.quitting = true
			return m, tea.Quit
		}
	case statusMsg:
		m.status = msg.status
		m.err = msg.err
		return m, m.tick()
	}
	return m, nil
}

func (m StatusModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("workernode status — %s", m.addr)))
	b.WriteString("\n\n")

	if m.err != nil {
		b.WriteString(errorStyle.Render(fmt.Sprintf("error: %v", m.err)))
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("Press q or Ctrl+C to quit"))
		return b.String()
	}

	if m.status == nil {
		b.WriteString(valueStyle.Render("connecting..."))
		return b.String()
	}

	s := m.status
	boxes := []string{
		renderStatBox("Running", s.RunningCount, warningColor),
		renderStatBox("Capacity", s.MaxConcurrent, highlightColor),
		renderStatBox("Queued", s.SchedulerDepth, highlightColor),
		renderStatBox("Completed", int(s.Metrics.ExecutionsCompleted), successColor),
		renderStatBox("Failed", int(s.Metrics.ExecutionsFailed), errorColor),
		renderStatBox("Timed out", int(s.Metrics.ExecutionsTimedOut), errorColor),
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, boxes...))
	b.WriteString("\n\n")

	b.WriteString(fmt.Sprintf("%s %d\n", labelStyle.Render("Reconnects:"), s.Metrics.Reconnects))
	b.WriteString(fmt.Sprintf("%s %d\n", labelStyle.Render("Send errors:"), s.Metrics.SendErrors))
	b.WriteString(fmt.Sprintf("%s %d\n", labelStyle.Render("Scheduler dropped:"), s.Metrics.SchedulerDropped))

	b.WriteString(helpStyle.Render("Press q or Ctrl+C to quit"))
	return b.String()
}

func renderStatBox(label string, value int, color lipgloss.Color) string {
	box := statBoxStyle.BorderForeground(color)
	valueStr := statValueStyle.Foreground(color).Render(fmt.Sprintf("%d", value))
	labelStr := statLabelStyle.Render(label)
	content := lipgloss.JoinVertical(lipgloss.Center, valueStr, labelStr)
	return box.Render(content)
}

// RunStatusTUI runs the live-polling status dashboard until the user quits.
func RunStatusTUI(addr string, interval time.Duration) error {
	p := tea.NewProgram(NewStatusModel(addr, interval), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
