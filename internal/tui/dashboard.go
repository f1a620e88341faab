// Package tui renders the live dashboard behind `taskhive watch`: queue
// statistics plus a scrolling feed of engine events.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/cbright/taskhive/internal/bus"
	"github.com/cbright/taskhive/internal/queue"
)

const maxFeedLines = 200

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFC857")).
			Bold(true)

	subtitleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243")).
			Italic(true)

	statLabelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	statValueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#4ECDC4")).
			Bold(true)

	completedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#96E6A1"))
	failedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))
	poisonStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF8E53")).Bold(true)
	eventStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("250"))
	timeStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			MarginTop(1)
)

type tickMsg time.Time

type eventMsg bus.Event

// Dashboard is the bubbletea model for the watch view.
type Dashboard struct {
	// queue is the engine queue being observed.
	queue *queue.TaskQueue
	// events receives the fan-in of all engine topics.
	events <-chan bus.Event
	// detach removes the bus subscriptions.
	detach func()
	// feed holds the most recent events, newest last.
	feed []bus.Event
	// stats is the last sampled queue snapshot.
	stats queue.Stats
	// refresh is the stats sampling interval.
	refresh time.Duration
	// spin animates while tasks are running.
	spin spinner.Model
	// width and height track the terminal size.
	width  int
	height int
	// quitting suppresses the final repaint.
	quitting bool
}

// NewDashboard builds a Dashboard observing the given queue and bus.
func NewDashboard(q *queue.TaskQueue, events *bus.Bus, refresh time.Duration) *Dashboard {
	if refresh <= 0 {
		refresh = 100 * time.Millisecond
	}

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#45B7D1"))

	ch, detach := fanIn(events)
	return &Dashboard{
		queue:   q,
		events:  ch,
		detach:  detach,
		refresh: refresh,
		spin:    sp,
		width:   80,
		height:  24,
	}
}

// fanIn merges every engine topic into one channel.
func fanIn(b *bus.Bus) (<-chan bus.Event, func()) {
	topics := []string{
		bus.TopicTaskCreated,
		bus.TopicTaskStarted,
		bus.TopicTaskCompleted,
		bus.TopicTaskFailed,
		bus.TopicAgentStarted,
		bus.TopicAgentEvent,
		bus.TopicPoisonPill,
	}

	out := make(chan bus.Event, 128)
	var cancels []func()
	for _, topic := range topics {
		ch, cancel := b.Subscribe(topic)
		cancels = append(cancels, cancel)
		go func() {
			for ev := range ch {
				select {
				case out <- ev:
				default:
				}
			}
		}()
	}
	return out, func() {
		for _, cancel := range cancels {
			cancel()
		}
	}
}

// Init starts the tick, event wait, and spinner.
func (d *Dashboard) Init() tea.Cmd {
	return tea.Batch(d.tick(), d.waitForEvent(), d.spin.Tick)
}

func (d *Dashboard) tick() tea.Cmd {
	return tea.Tick(d.refresh, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (d *Dashboard) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-d.events
		if !ok {
			return nil
		}
		return eventMsg(ev)
	}
}

// Update handles messages.
func (d *Dashboard) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			d.quitting = true
			d.detach()
			return d, tea.Quit
		}

	case tea.WindowSizeMsg:
		d.width = msg.Width
		d.height = msg.Height

	case tickMsg:
		d.stats = d.queue.Stats()
		return d, d.tick()

	case eventMsg:
		d.feed = append(d.feed, bus.Event(msg))
		if len(d.feed) > maxFeedLines {
			d.feed = d.feed[len(d.feed)-maxFeedLines:]
		}
		return d, d.waitForEvent()

	case spinner.TickMsg:
		var cmd tea.Cmd
		d.spin, cmd = d.spin.Update(msg)
		return d, cmd
	}
	return d, nil
}

// View renders the dashboard.
func (d *Dashboard) View() string {
	if d.quitting {
		return ""
	}

	var b strings.Builder

	title := titleStyle.Render("taskhive")
	subtitle := subtitleStyle.Render("task orchestration engine")
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Center, title, "  ", subtitle))
	b.WriteString("\n\n")

	b.WriteString(d.statsLine())
	b.WriteString("\n\n")

	b.WriteString(d.feedView())
	b.WriteString(footerStyle.Render("q: quit"))
	return b.String()
}

func (d *Dashboard) statsLine() string {
	running := fmt.Sprintf("%d", d.stats.Running)
	if d.stats.Running > 0 {
		running = d.spin.View() + running
	}

	parts := []string{
		statLabelStyle.Render("pending ") + statValueStyle.Render(fmt.Sprintf("%d", d.stats.Pending)),
		statLabelStyle.Render("running ") + statValueStyle.Render(running),
		statLabelStyle.Render("completed ") + completedStyle.Render(fmt.Sprintf("%d", d.stats.Completed)),
		statLabelStyle.Render("failed ") + failedStyle.Render(fmt.Sprintf("%d", d.stats.Failed)),
		statLabelStyle.Render("processed ") + statValueStyle.Render(fmt.Sprintf("%d", d.stats.TotalProcessed)),
	}
	return strings.Join(parts, statLabelStyle.Render("  │  "))
}

func (d *Dashboard) feedView() string {
	// Leave room for the header, stats, and footer.
	visible := d.height - 8
	if visible < 3 {
		visible = 3
	}

	start := 0
	if len(d.feed) > visible {
		start = len(d.feed) - visible
	}

	var lines []string
	for _, ev := range d.feed[start:] {
		lines = append(lines, d.renderEvent(ev))
	}
	if len(lines) == 0 {
		lines = append(lines, statLabelStyle.Render("waiting for events..."))
	}
	return strings.Join(lines, "\n") + "\n"
}

func (d *Dashboard) renderEvent(ev bus.Event) string {
	ts := timeStyle.Render(ev.Timestamp.Format("15:04:05"))

	var body string
	switch ev.Topic {
	case bus.TopicTaskCompleted:
		body = completedStyle.Render(fmt.Sprintf("✓ %s completed", ev.TaskID))
	case bus.TopicTaskFailed:
		body = failedStyle.Render(fmt.Sprintf("✗ %s failed", ev.TaskID))
		if ev.Message != "" {
			body += failedStyle.Render(": " + ev.Message)
		}
	case bus.TopicPoisonPill:
		body = poisonStyle.Render(fmt.Sprintf("☠ poison pill %s (%s)", ev.TaskID, ev.Action))
	case bus.TopicAgentStarted:
		body = eventStyle.Render(fmt.Sprintf("agent %s %s", ev.AgentName, ev.Action))
	case bus.TopicAgentEvent:
		body = eventStyle.Render(fmt.Sprintf("agent %s: %s %s", ev.AgentName, ev.Action, ev.TaskID))
	default:
		body = eventStyle.Render(fmt.Sprintf("%s %s", ev.Topic, ev.TaskID))
	}
	return ts + " " + body
}

// Run blocks until the dashboard exits.
func Run(d *Dashboard) error {
	p := tea.NewProgram(d, tea.WithAltScreen())
	_, err := p.Run()
	return err
}
