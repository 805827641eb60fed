// ABOUTME: Terminal User Interface using bubbletea framework
// ABOUTME: Renders live collection snapshots and maps terminal focus to visibility signals
package tui

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/harperreed/huddle/models"
	"github.com/harperreed/huddle/session"
	"github.com/harperreed/huddle/viewmodel"
)

// ViewMode represents the current TUI view
type ViewMode int

const (
	ViewList ViewMode = iota
	ViewDetail
	ViewEdit
	ViewConfirmDelete
)

// Tab is one collection shown as a table.
type Tab struct {
	Title      string
	Collection string
}

// Tabs in display order.
var Tabs = []Tab{
	{"Tasks", models.CollectionTasks},
	{"Comments", models.CollectionComments},
	{"Meetings", models.CollectionMeetings},
	{"Discussion", models.CollectionDiscussionComments},
	{"Notifications", models.CollectionNotifications},
}

// snapshotMsg tells the model a collection changed.
type snapshotMsg struct{ collection string }

// writeDoneMsg reports the outcome of a background write.
type writeDoneMsg struct {
	action string
	err    error
}

// statusTickMsg refreshes the connection panel.
type statusTickMsg time.Time

// Model is the main bubbletea model
type Model struct {
	sess *session.Session
	ctx  context.Context

	viewMode ViewMode
	tab      int

	// List view state
	selectedRow int

	// Detail and delete views act on this record.
	selectedID string

	// Edit view state
	formInputs []textinput.Model
	focusIndex int
	editTarget string

	spinner spinner.Model
	status  session.Status
	message string
	err     error
	writing int

	width  int
	height int
}

// NewModel creates a new TUI model
func NewModel(ctx context.Context, sess *session.Session) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("170"))

	return Model{
		sess:     sess,
		ctx:      ctx,
		viewMode: ViewList,
		spinner:  sp,
		status:   sess.Status(),
		width:    80,
		height:   24,
	}
}

// Run starts the program and forwards store changes into it until the
// user quits.
func Run(ctx context.Context, sess *session.Session) error {
	p := tea.NewProgram(NewModel(ctx, sess), tea.WithAltScreen(), tea.WithReportFocus(), tea.WithContext(ctx))

	cancel := sess.Store().ObserveAll(func(snap viewmodel.Snapshot) {
		p.Send(snapshotMsg{collection: snap.Collection})
	})
	defer cancel()

	_, err := p.Run()
	return err
}

func statusTick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return statusTickMsg(t) })
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, statusTick())
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyPress(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil
	case tea.FocusMsg:
		m.sess.Monitor().NotifyVisible()
		return m, nil
	case tea.BlurMsg:
		m.sess.Monitor().NotifyHidden()
		return m, nil
	case snapshotMsg:
		m.status = m.sess.Status()
		m.clampSelection()
		return m, nil
	case statusTickMsg:
		m.status = m.sess.Status()
		return m, statusTick()
	case writeDoneMsg:
		m.writing--
		m.err = msg.err
		if msg.err == nil {
			m.message = msg.action
		} else {
			m.message = ""
		}
		m.status = m.sess.Status()
		m.clampSelection()
		return m, nil
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	if m.viewMode == ViewEdit {
		return m.updateInputs(msg)
	}
	return m, nil
}

func (m Model) View() string {
	switch m.viewMode {
	case ViewList:
		return m.renderListView()
	case ViewDetail:
		return m.renderDetailView()
	case ViewEdit:
		return m.renderEditView()
	case ViewConfirmDelete:
		return m.renderConfirmDeleteView()
	}
	return ""
}

func (m Model) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "ctrl+c" {
		return m, tea.Quit
	}
	if msg.String() == "q" && m.viewMode != ViewEdit {
		return m, tea.Quit
	}

	switch m.viewMode {
	case ViewList:
		return m.handleListKeys(msg)
	case ViewDetail:
		return m.handleDetailKeys(msg)
	case ViewEdit:
		return m.handleEditKeys(msg)
	case ViewConfirmDelete:
		return m.handleConfirmDeleteKeys(msg)
	}

	return m, nil
}

// write runs fn off the update loop and reports back with action.
func (m *Model) write(action string, fn func(ctx context.Context) error) tea.Cmd {
	m.writing++
	m.err = nil
	ctx := m.ctx
	return func() tea.Msg {
		return writeDoneMsg{action: action, err: fn(ctx)}
	}
}

func (m Model) currentTab() Tab {
	return Tabs[m.tab]
}

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("170")).
			MarginBottom(1)

	tabActiveStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("170")).
			Background(lipgloss.Color("235")).
			Padding(0, 2)

	tabInactiveStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("240")).
				Padding(0, 2)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			MarginTop(1)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9"))

	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	staleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))
)
