// ABOUTME: Collection list view for the TUI
// ABOUTME: Renders one table per collection with a live connection status bar
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/harperreed/huddle/gateway"
	"github.com/harperreed/huddle/models"
	"github.com/harperreed/huddle/viewmodel"
)

func (m Model) renderListView() string {
	var s strings.Builder

	s.WriteString(titleStyle.Render("HUDDLE"))
	s.WriteString("\n\n")

	s.WriteString(m.renderTabs())
	s.WriteString("\n\n")

	s.WriteString(m.renderTable())
	s.WriteString("\n\n")

	s.WriteString(m.renderStatusBar())
	s.WriteString("\n")

	s.WriteString(m.renderListHelp())

	return s.String()
}

func (m Model) renderTabs() string {
	var rendered []string
	for i, tab := range Tabs {
		label := tab.Title
		if tab.Collection == models.CollectionNotifications {
			if n := len(m.sess.Notifications(true)); n > 0 {
				label = fmt.Sprintf("%s (%d)", label, n)
			}
		}
		if i == m.tab {
			rendered = append(rendered, tabActiveStyle.Render(label))
		} else {
			rendered = append(rendered, tabInactiveStyle.Render(label))
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, rendered...)
}

// tableRows returns columns, rows, and the record id behind each row.
func (m Model) tableRows() ([]table.Column, []table.Row, []string) {
	var (
		columns []table.Column
		rows    []table.Row
		ids     []string
	)
	now := time.Now()

	switch m.currentTab().Collection {
	case models.CollectionTasks:
		columns = []table.Column{{Title: "Title", Width: 36}, {Title: "Status", Width: 12}, {Title: "Due", Width: 16}}
		for _, t := range m.sess.Tasks("") {
			due := "-"
			if t.DueAt != nil {
				due = t.DueAt.Local().Format("Jan 2 15:04")
				if t.IsOverdue(now) {
					due += " !"
				}
			}
			rows = append(rows, table.Row{t.Title, t.Status, due})
			ids = append(ids, t.ID)
		}
	case models.CollectionComments:
		columns = []table.Column{{Title: "Comment", Width: 48}, {Title: "Author", Width: 12}, {Title: "When", Width: 12}}
		for _, c := range m.sess.Comments("") {
			rows = append(rows, table.Row{c.Body, c.AuthorID, ago(now, c.CreatedAt)})
			ids = append(ids, c.ID)
		}
	case models.CollectionMeetings:
		columns = []table.Column{{Title: "Meeting", Width: 30}, {Title: "When", Width: 18}, {Title: "Length", Width: 8}, {Title: "Where", Width: 14}}
		for _, mt := range m.sess.Meetings() {
			rows = append(rows, table.Row{mt.Title, mt.ScheduledAt.Local().Format("Mon Jan 2 15:04"), fmt.Sprintf("%dm", mt.DurationMinutes), mt.Location})
			ids = append(ids, mt.ID)
		}
	case models.CollectionDiscussionComments:
		columns = []table.Column{{Title: "Message", Width: 44}, {Title: "Author", Width: 12}, {Title: "Reactions", Width: 14}}
		for _, d := range m.sess.Discussion() {
			body := d.Body
			if d.ParentID != "" {
				body = "  ↳ " + body
			}
			rows = append(rows, table.Row{body, d.AuthorID, formatReactions(m.sess.Reactions(d.ID))})
			ids = append(ids, d.ID)
		}
	case models.CollectionNotifications:
		columns = []table.Column{{Title: "", Width: 2}, {Title: "Notification", Width: 50}, {Title: "When", Width: 12}}
		for _, n := range m.sess.Notifications(false) {
			mark := "•"
			if n.Read {
				mark = " "
			}
			rows = append(rows, table.Row{mark, n.Message, ago(now, n.CreatedAt)})
			ids = append(ids, n.ID)
		}
	}
	return columns, rows, ids
}

func (m Model) renderTable() string {
	columns, rows, _ := m.tableRows()

	height := m.height - 12
	if height < 3 {
		height = 3
	}
	t := table.New(
		table.WithColumns(columns),
		table.WithRows(rows),
		table.WithFocused(true),
		table.WithHeight(height),
	)
	if m.selectedRow < len(rows) {
		t.SetCursor(m.selectedRow)
	}

	out := t.View()
	if len(rows) == 0 {
		out += "\n" + helpStyle.Render("  nothing here yet")
	}
	return out
}

func (m Model) renderStatusBar() string {
	var parts []string

	snapStatus := m.sess.Store().Status(m.currentTab().Collection)
	switch snapStatus {
	case viewmodel.StatusLoading, viewmodel.StatusEmpty:
		parts = append(parts, m.spinner.View()+" loading")
	case viewmodel.StatusStale:
		parts = append(parts, staleStyle.Render("stale"))
	default:
		parts = append(parts, okStyle.Render("synced"))
	}

	if m.status.Health.Online {
		parts = append(parts, okStyle.Render("online"))
	} else {
		parts = append(parts, errorStyle.Render("offline"))
	}

	live := 0
	for _, sub := range m.status.Subscriptions {
		if sub.State == gateway.StateSubscribed {
			live++
		}
	}
	feeds := fmt.Sprintf("feeds %d/%d", live, len(m.status.Subscriptions))
	if live < len(m.status.Subscriptions) || len(m.status.Subscriptions) == 0 {
		feeds = staleStyle.Render(feeds)
	}
	parts = append(parts, feeds)

	if m.writing > 0 {
		parts = append(parts, m.spinner.View()+" saving")
	}
	if m.err != nil {
		parts = append(parts, errorStyle.Render(m.err.Error()))
	} else if m.message != "" {
		parts = append(parts, m.message)
	}
	return strings.Join(parts, "  ")
}

func (m Model) renderListHelp() string {
	help := []string{
		"Tab: Switch",
		"↑/↓: Navigate",
		"Enter: Open",
		"n: New",
	}
	switch m.currentTab().Collection {
	case models.CollectionTasks:
		help = append(help, "s: Start", "d: Done", "x: Delete")
	case models.CollectionDiscussionComments:
		help = append(help, "+: React 👍")
	case models.CollectionNotifications:
		help = append(help, "r: Mark read")
	}
	help = append(help, "q: Quit")
	return helpStyle.Render(strings.Join(help, " • "))
}

func (m Model) handleListKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	_, rows, ids := m.tableRows()

	switch msg.String() {
	case "tab", "right", "l":
		m.tab = (m.tab + 1) % len(Tabs)
		m.selectedRow = 0
	case "shift+tab", "left", "h":
		m.tab = (m.tab + len(Tabs) - 1) % len(Tabs)
		m.selectedRow = 0
	case "up", "k":
		if m.selectedRow > 0 {
			m.selectedRow--
		}
	case "down", "j":
		if m.selectedRow < len(rows)-1 {
			m.selectedRow++
		}
	case "enter":
		if m.currentTab().Collection == models.CollectionTasks && m.selectedRow < len(ids) {
			m.selectedID = ids[m.selectedRow]
			m.viewMode = ViewDetail
		}
	case "n":
		return m.startEdit(m.currentTab().Collection, "")
	}

	if m.selectedRow >= len(ids) {
		return m, nil
	}
	id := ids[m.selectedRow]
	sess := m.sess

	switch m.currentTab().Collection {
	case models.CollectionTasks:
		switch msg.String() {
		case "s":
			cmd := m.setTaskStatus(id, models.TaskStatusInProgress)
			return m, cmd
		case "d":
			cmd := m.setTaskStatus(id, models.TaskStatusCompleted)
			return m, cmd
		case "x":
			m.selectedID = id
			m.viewMode = ViewConfirmDelete
		}
	case models.CollectionDiscussionComments:
		if msg.String() == "+" {
			cmd := m.write("reaction toggled", func(ctx context.Context) error {
				_, err := sess.ToggleReaction(ctx, id, "👍")
				return err
			})
			return m, cmd
		}
	case models.CollectionNotifications:
		if msg.String() == "r" {
			cmd := m.write("marked read", func(ctx context.Context) error {
				return sess.MarkNotificationRead(ctx, id)
			})
			return m, cmd
		}
	}
	return m, nil
}

func (m *Model) setTaskStatus(id, status string) tea.Cmd {
	sess := m.sess
	return m.write("task "+strings.ReplaceAll(status, "_", " "), func(ctx context.Context) error {
		_, err := sess.UpdateTaskStatus(ctx, id, status)
		return err
	})
}

// clampSelection keeps the cursor on a row after the list shrinks.
func (m *Model) clampSelection() {
	_, rows, _ := m.tableRows()
	if m.selectedRow >= len(rows) {
		m.selectedRow = len(rows) - 1
	}
	if m.selectedRow < 0 {
		m.selectedRow = 0
	}
}

func ago(now, t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return t.Local().Format("Jan 2")
	}
}

func formatReactions(counts map[string]int) string {
	var parts []string
	for emoji, n := range counts {
		parts = append(parts, fmt.Sprintf("%s%d", emoji, n))
	}
	return strings.Join(parts, " ")
}
