package ui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/melos-app/melos/internal/models"
	"github.com/melos-app/melos/internal/realtime"
	"github.com/melos-app/melos/internal/sync"
)

// refreshInterval is how often the dashboard polls for a fresh snapshot.
const refreshInterval = 2 * time.Second

// Dashboard styles. Green for healthy states, amber for transitional
// ones, red for failures.
var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5FAFFF")).Padding(0, 1)
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#2ECC71"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#E5C07B"))
	errStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#E06C75"))
)

// Snapshot is one dashboard refresh: engine state plus queue contents.
type Snapshot struct {
	Transport realtime.ConnState
	// TransportError is the failure reason while Transport is
	// [realtime.StateError].
	TransportError string
	Sync           sync.State

	CursorSeq int64
	HasCursor bool

	PendingLikes    []models.LikedContent
	PendingSettings []models.UserSetting
	PendingSessions []models.ListeningEvent
}

// SnapshotFunc produces the current engine snapshot.
type SnapshotFunc func() (Snapshot, error)

// likeItem wraps [models.LikedContent] to implement [list.Item].
type likeItem struct {
	like models.LikedContent
}

func (i likeItem) FilterValue() string { return i.like.ContentID }
func (i likeItem) Title() string {
	verb := "like"
	if !i.like.Liked {
		verb = "unlike"
	}
	return fmt.Sprintf("%s %s/%s", verb, i.like.ContentType, i.like.ContentID)
}
func (i likeItem) Description() string { return string(i.like.SyncStatus) }

// settingItem wraps [models.UserSetting] to implement [list.Item].
type settingItem struct {
	setting models.UserSetting
}

func (i settingItem) FilterValue() string { return i.setting.Key }
func (i settingItem) Title() string {
	return fmt.Sprintf("setting %s = %s", i.setting.Key, i.setting.Value)
}
func (i settingItem) Description() string { return string(i.setting.SyncStatus) }

// sessionItem wraps [models.ListeningEvent] to implement [list.Item].
type sessionItem struct {
	session models.ListeningEvent
}

func (i sessionItem) FilterValue() string { return i.session.TrackID }
func (i sessionItem) Title() string {
	return fmt.Sprintf("session %s (%ds)", i.session.TrackID, i.session.DurationSeconds)
}
func (i sessionItem) Description() string { return string(i.session.SyncStatus) }

type snapshotMsg struct {
	snapshot Snapshot
	err      error
}

type tickMsg time.Time

// Model represents the dashboard state.
type Model struct {
	fetch  SnapshotFunc
	width  int
	height int

	snapshot Snapshot
	err      error
	queue    list.Model
	ready    bool

	help help.Model
	keys keyMap
}

// NewModel creates a dashboard model over the given snapshot function.
func NewModel(fetch SnapshotFunc) *Model {
	return &Model{
		fetch: fetch,
		help:  help.New(),
		keys:  newKeyMap(),
	}
}

// Init fetches the first snapshot and starts the refresh ticker.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.refresh(), tick())
}

// Update handles incoming messages and updates the model state.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		if m.ready {
			m.queue.SetSize(msg.Width-4, msg.Height-12)
		}
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			return m, m.refresh()
		}
		if m.ready {
			var cmd tea.Cmd
			m.queue, cmd = m.queue.Update(msg)
			return m, cmd
		}
		return m, nil

	case tickMsg:
		return m, tea.Batch(m.refresh(), tick())

	case snapshotMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.err = nil
		m.snapshot = msg.snapshot
		items := queueItems(msg.snapshot)
		if !m.ready {
			m.queue = list.New(items, list.NewDefaultDelegate(), m.width-4, m.height-12)
			m.queue.Title = "Pending Writes"
			m.queue.SetShowHelp(false)
			m.ready = true
		} else {
			m.queue.SetItems(items)
		}
		return m, nil
	}

	if m.ready {
		var cmd tea.Cmd
		m.queue, cmd = m.queue.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View renders the dashboard.
func (m *Model) View() string {
	if m.err != nil {
		return errStyle.Render(fmt.Sprintf("Error: %v\n\nPress r to retry, q to quit", m.err))
	}
	if !m.ready {
		return "Loading..."
	}

	title := titleStyle.Render("Melos Sync")

	transport := string(m.snapshot.Transport)
	switch m.snapshot.Transport {
	case realtime.StateConnected:
		transport = okStyle.Render(transport)
	case realtime.StateError:
		transport = errStyle.Render(fmt.Sprintf("error: %s (retrying)", m.snapshot.TransportError))
	default:
		transport = warnStyle.Render(transport)
	}

	syncLine := string(m.snapshot.Sync.Status)
	switch m.snapshot.Sync.Status {
	case sync.StatusSynced:
		syncLine = okStyle.Render(fmt.Sprintf("synced @ %d", m.snapshot.Sync.Seq))
	case sync.StatusError:
		syncLine = errStyle.Render(fmt.Sprintf("error: %s", m.snapshot.Sync.Reason))
	}

	cursor := "none (full sync pending)"
	if m.snapshot.HasCursor {
		cursor = fmt.Sprintf("%d", m.snapshot.CursorSeq)
	}

	header := fmt.Sprintf(
		"%s\nTransport: %s\nSync: %s\nCursor: %s\nQueues: %d likes, %d settings, %d sessions\n",
		title, transport, syncLine, cursor,
		len(m.snapshot.PendingLikes), len(m.snapshot.PendingSettings), len(m.snapshot.PendingSessions),
	)

	helpView := m.help.ShortHelpView(m.keys.ShortHelp())
	return fmt.Sprintf("%s\n%s\n\n%s", header, m.queue.View(), helpView)
}

func (m *Model) refresh() tea.Cmd {
	return func() tea.Msg {
		snapshot, err := m.fetch()
		return snapshotMsg{snapshot: snapshot, err: err}
	}
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func queueItems(s Snapshot) []list.Item {
	items := make([]list.Item, 0, len(s.PendingLikes)+len(s.PendingSettings)+len(s.PendingSessions))
	for _, like := range s.PendingLikes {
		items = append(items, likeItem{like: like})
	}
	for _, setting := range s.PendingSettings {
		items = append(items, settingItem{setting: setting})
	}
	for _, session := range s.PendingSessions {
		items = append(items, sessionItem{session: session})
	}
	return items
}
