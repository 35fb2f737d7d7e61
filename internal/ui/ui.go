// Package ui provides a terminal UI for monitoring a running questline
// engine. Uses Bubbletea for the live event feed and counters.
package ui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Panel represents which panel is currently focused.
type Panel int

const (
	PanelStats Panel = iota
	PanelFeed
)

// FeedEntry is one engine lifecycle event shown in the feed.
type FeedEntry struct {
	Time   time.Time
	Kind   string
	UserID int64
	TaskID string
	Type   string
	Detail string
}

// EventMsg delivers an engine event into the running program. The watch
// command sends these from the engine's event handler.
type EventMsg FeedEntry

// Counters are the running totals shown in the stats panel.
type Counters struct {
	Assigned  int
	Completed int
	Expired   int
	Cancelled int
	Rewarded  int
	Reviews   int
}

// Model holds the TUI state.
type Model struct {
	width       int
	height      int
	activePanel Panel
	quitting    bool

	engineLive   int
	counters     Counters
	lastEventAt  time.Time
	startedAt    time.Time
	progressTick int

	feed       []FeedEntry
	feedScroll int

	styles *Styles
}

// Styles holds lipgloss styles for the UI.
type Styles struct {
	ActiveBorder   lipgloss.Style
	InactiveBorder lipgloss.Style

	Title     lipgloss.Style
	Label     lipgloss.Style
	Value     lipgloss.Style
	Highlight lipgloss.Style
	Muted     lipgloss.Style

	KindAssigned  lipgloss.Style
	KindCompleted lipgloss.Style
	KindExpired   lipgloss.Style
	KindRewarded  lipgloss.Style
	KindReview    lipgloss.Style

	HelpKey  lipgloss.Style
	HelpText lipgloss.Style
}

func newStyles() *Styles {
	subtle := lipgloss.AdaptiveColor{Light: "#666", Dark: "#888"}
	highlight := lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	green := lipgloss.AdaptiveColor{Light: "#22863a", Dark: "#3fb950"}
	yellow := lipgloss.AdaptiveColor{Light: "#b08800", Dark: "#d29922"}
	red := lipgloss.AdaptiveColor{Light: "#cb2431", Dark: "#f85149"}
	blue := lipgloss.AdaptiveColor{Light: "#0366d6", Dark: "#58a6ff"}

	return &Styles{
		ActiveBorder: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(highlight),

		InactiveBorder: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(subtle),

		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(highlight).
			MarginBottom(1),

		Label: lipgloss.NewStyle().
			Foreground(subtle),

		Value: lipgloss.NewStyle().
			Bold(true),

		Highlight: lipgloss.NewStyle().
			Foreground(highlight).
			Bold(true),

		Muted: lipgloss.NewStyle().
			Foreground(subtle),

		KindAssigned:  lipgloss.NewStyle().Foreground(blue),
		KindCompleted: lipgloss.NewStyle().Foreground(green).Bold(true),
		KindExpired:   lipgloss.NewStyle().Foreground(red),
		KindRewarded:  lipgloss.NewStyle().Foreground(yellow).Bold(true),
		KindReview:    lipgloss.NewStyle().Foreground(highlight),

		HelpKey: lipgloss.NewStyle().
			Foreground(highlight).
			Bold(true),

		HelpText: lipgloss.NewStyle().
			Foreground(subtle),
	}
}

// tickMsg is sent periodically to update the UI.
type tickMsg time.Time

// LiveCountMsg refreshes the live instance counter.
type LiveCountMsg int

// New creates a new TUI model.
func New() *Model {
	return &Model{
		width:       80,
		height:      24,
		activePanel: PanelFeed,
		startedAt:   time.Now(),
		feed:        make([]FeedEntry, 0),
		styles:      newStyles(),
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		tea.EnterAltScreen,
	)
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tickMsg:
		m.progressTick++
		return m, tickCmd()

	case LiveCountMsg:
		m.engineLive = int(msg)
		return m, nil

	case EventMsg:
		m.addEvent(FeedEntry(msg))
		return m, nil
	}

	return m, nil
}

func (m *Model) addEvent(entry FeedEntry) {
	m.feed = append(m.feed, entry)
	m.lastEventAt = entry.Time

	switch entry.Kind {
	case "assigned":
		m.counters.Assigned++
	case "completed":
		m.counters.Completed++
	case "expired":
		m.counters.Expired++
	case "cancelled":
		m.counters.Cancelled++
	case "rewarded":
		m.counters.Rewarded++
	case "review_submitted", "review_resolved":
		m.counters.Reviews++
	}

	// Follow the tail unless the user scrolled up.
	if m.feedScroll >= len(m.feed)-2 {
		m.feedScroll = len(m.feed) - 1
	}
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		return m, tea.Quit

	case "tab", "right", "l", "shift+tab", "left", "h":
		if m.activePanel == PanelStats {
			m.activePanel = PanelFeed
		} else {
			m.activePanel = PanelStats
		}
		return m, nil

	case "up", "k":
		if m.activePanel == PanelFeed && m.feedScroll > 0 {
			m.feedScroll--
		}
		return m, nil

	case "down", "j":
		if m.activePanel == PanelFeed && m.feedScroll < len(m.feed)-1 {
			m.feedScroll++
		}
		return m, nil

	case "home", "g":
		m.feedScroll = 0
		return m, nil

	case "end", "G":
		if len(m.feed) > 0 {
			m.feedScroll = len(m.feed) - 1
		}
		return m, nil
	}

	return m, nil
}

// View implements tea.Model.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	statsHeight := 9
	feedHeight := m.height - statsHeight - 3
	if feedHeight < 3 {
		feedHeight = 3
	}

	statsPanel := m.renderStatsPanel()
	feedPanel := m.renderFeedPanel(m.width-4, feedHeight-2)

	statsBorder := m.getBorder(PanelStats).Width(m.width - 2).Height(statsHeight - 2)
	feedBorder := m.getBorder(PanelFeed).Width(m.width - 2).Height(feedHeight - 2)

	return lipgloss.JoinVertical(
		lipgloss.Left,
		statsBorder.Render(statsPanel),
		feedBorder.Render(feedPanel),
		m.renderHelpBar(),
	)
}

func (m Model) getBorder(panel Panel) lipgloss.Style {
	if m.activePanel == panel {
		return m.styles.ActiveBorder
	}
	return m.styles.InactiveBorder
}

func (m Model) renderStatsPanel() string {
	var b strings.Builder

	b.WriteString(m.styles.Title.Render("Questline Engine"))
	b.WriteString("\n\n")

	b.WriteString(m.styles.Label.Render("Live instances: "))
	b.WriteString(m.styles.Value.Render(fmt.Sprintf("%d", m.engineLive)))
	b.WriteString("   ")
	b.WriteString(m.styles.Label.Render("Uptime: "))
	b.WriteString(m.styles.Value.Render(formatDuration(time.Since(m.startedAt))))
	b.WriteString("\n\n")

	c := m.counters
	line := fmt.Sprintf("assigned %s  completed %s  expired %s  cancelled %s  rewarded %s  reviews %s",
		m.styles.KindAssigned.Render(fmt.Sprintf("%d", c.Assigned)),
		m.styles.KindCompleted.Render(fmt.Sprintf("%d", c.Completed)),
		m.styles.KindExpired.Render(fmt.Sprintf("%d", c.Expired)),
		m.styles.Muted.Render(fmt.Sprintf("%d", c.Cancelled)),
		m.styles.KindRewarded.Render(fmt.Sprintf("%d", c.Rewarded)),
		m.styles.KindReview.Render(fmt.Sprintf("%d", c.Reviews)),
	)
	b.WriteString(line)
	b.WriteString("\n\n")

	b.WriteString(m.styles.Label.Render("Last event: "))
	if m.lastEventAt.IsZero() {
		b.WriteString(m.styles.Muted.Render("none " + m.spinner()))
	} else {
		b.WriteString(m.styles.Value.Render(formatDuration(time.Since(m.lastEventAt)) + " ago"))
	}

	return b.String()
}

func (m Model) spinner() string {
	frames := []string{"|", "/", "-", "\\"}
	return frames[m.progressTick%len(frames)]
}

func (m Model) renderFeedPanel(width, height int) string {
	var b strings.Builder

	b.WriteString(m.styles.Title.Render("Events"))
	b.WriteString("\n\n")

	if len(m.feed) == 0 {
		b.WriteString(m.styles.Muted.Render("Waiting for engine events"))
		return b.String()
	}

	visible := height - 4
	if visible < 1 {
		visible = 1
	}

	start := m.feedScroll - visible + 1
	if start < 0 {
		start = 0
	}

	for i := start; i < len(m.feed) && i < start+visible; i++ {
		entry := m.feed[i]

		var kindStyle lipgloss.Style
		switch entry.Kind {
		case "assigned":
			kindStyle = m.styles.KindAssigned
		case "completed":
			kindStyle = m.styles.KindCompleted
		case "expired", "cancelled":
			kindStyle = m.styles.KindExpired
		case "rewarded":
			kindStyle = m.styles.KindRewarded
		case "review_submitted", "review_resolved":
			kindStyle = m.styles.KindReview
		default:
			kindStyle = m.styles.Muted
		}

		detail := entry.Detail
		maxDetail := width - 50
		if len(detail) > maxDetail && maxDetail > 3 {
			detail = detail[:maxDetail-3] + "..."
		}

		line := fmt.Sprintf("%s %s user=%d %s %s",
			m.styles.Muted.Render(entry.Time.Format("15:04:05")),
			kindStyle.Render(fmt.Sprintf("%-16s", entry.Kind)),
			entry.UserID,
			entry.Type,
			m.styles.Muted.Render(detail),
		)

		b.WriteString(line)
		b.WriteString("\n")
	}

	if len(m.feed) > visible {
		b.WriteString(m.styles.Muted.Render(fmt.Sprintf(" [%d/%d]", m.feedScroll+1, len(m.feed))))
	}

	return b.String()
}

func (m Model) renderHelpBar() string {
	helpItems := []struct {
		key  string
		desc string
	}{
		{"tab", "switch panel"},
		{"j/k", "scroll"},
		{"q", "quit"},
	}

	var parts []string
	for _, item := range helpItems {
		parts = append(parts, fmt.Sprintf("%s %s",
			m.styles.HelpKey.Render(item.key),
			m.styles.HelpText.Render(item.desc),
		))
	}

	return "  " + strings.Join(parts, "  |  ")
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	} else if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	} else if d < 24*time.Hour {
		return fmt.Sprintf("%dh", int(d.Hours()))
	}
	return fmt.Sprintf("%dd", int(d.Hours()/24))
}

// SetLiveCount updates the live instance counter outside the program
// loop. Used before the program starts.
func (m *Model) SetLiveCount(n int) {
	m.engineLive = n
}

// AddEvent appends an engine event before the program starts. Once
// running, send EventMsg through the program instead.
func (m *Model) AddEvent(entry FeedEntry) {
	m.addEvent(entry)
}

// Run starts the TUI and blocks until quit.
func (m *Model) Run() error {
	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// RunWithProgram starts the TUI in the background and returns the
// program so callers can Send messages into it.
func (m *Model) RunWithProgram() (*tea.Program, error) {
	p := tea.NewProgram(m, tea.WithAltScreen())
	go func() {
		_, _ = p.Run()
	}()
	return p, nil
}
