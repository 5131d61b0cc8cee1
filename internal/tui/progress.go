package tui

import (
	"fmt"
	"math"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/tinybatch/tinybatch/internal/imaging"
)

// ProgressModel renders a live progress bar while a batch runs. It
// drains the dispatcher's progress channel and quits when the channel
// closes.
type ProgressModel struct {
	events    <-chan imaging.ProgressEvent
	started   time.Time
	width     int
	total     int
	processed int
	failed    int
	quitting  bool
}

type progressDoneMsg struct{}

type progressEventMsg imaging.ProgressEvent

// NewProgressModel creates a ProgressModel over the given event channel.
func NewProgressModel(events <-chan imaging.ProgressEvent) ProgressModel {
	return ProgressModel{events: events, started: time.Now()}
}

func (m ProgressModel) Init() tea.Cmd {
	return listenForEvents(m.events)
}

func (m ProgressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case progressEventMsg:
		m.total = msg.Total
		m.processed = msg.Current
		if !msg.Success {
			m.failed++
		}
		return m, listenForEvents(m.events)
	case progressDoneMsg:
		m.quitting = true
		return m, tea.Quit
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil
	default:
		return m, nil
	}
}

func (m ProgressModel) View() string {
	if m.quitting {
		return ""
	}

	barWidth := 40
	if m.width > 0 {
		barWidth = int(math.Min(60, float64(m.width-10)))
		if barWidth < 20 {
			barWidth = 20
		}
	}

	ratio := 0.0
	if m.total > 0 {
		ratio = math.Min(1, float64(m.processed)/float64(m.total))
	}

	elapsed := time.Since(m.started).Round(time.Millisecond)
	lines := []string{
		titleStyle.Render("tinybatch"),
		itemStyle.Render(fmt.Sprintf("Files: %d/%d", m.processed, m.total)) + dimStyle.Render(fmt.Sprintf("  failed:%d", m.failed)),
		dimStyle.Render(fmt.Sprintf("Elapsed: %s", elapsed)),
		renderBar(barWidth, ratio),
	}
	return strings.Join(lines, "\n")
}

func listenForEvents(events <-chan imaging.ProgressEvent) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-events
		if !ok {
			return progressDoneMsg{}
		}
		return progressEventMsg(event)
	}
}

func renderBar(width int, ratio float64) string {
	filled := int(math.Round(ratio * float64(width)))
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}
	return "[" + strings.Repeat("=", filled) + strings.Repeat(" ", width-filled) + "]"
}
