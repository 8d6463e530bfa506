package ui

import (
	"context"
	"fmt"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/desertthunder/moviesnow/internal/models"
	"github.com/desertthunder/moviesnow/internal/tasks"
)

// ViewState represents the current view in the TUI.
type ViewState int

const (
	SessionListView ViewState = iota
	ConfirmView
	RevokeView
	ResultView
)

// SessionLister lists the account's active sessions.
type SessionLister interface {
	ListSessions(ctx context.Context) ([]models.AccountSession, error)
}

// Model represents the session manager state.
type Model struct {
	ctx          context.Context
	view         ViewState
	sessions     SessionLister
	revoker      *tasks.BulkRevoker
	opts         tasks.BulkOpts
	width        int
	height       int
	sessionList  list.Model
	progressChan chan tasks.ProgressUpdate
	progress     tasks.ProgressUpdate
	result       *tasks.BulkResult
	err          error
	help         help.Model
	keys         keyMap
}

// NewModel creates a new session manager with the provided dependencies.
func NewModel(ctx context.Context, sessions SessionLister, revoker *tasks.BulkRevoker, opts tasks.BulkOpts) *Model {
	return &Model{
		ctx:         ctx,
		view:        SessionListView,
		sessions:    sessions,
		revoker:     revoker,
		opts:        opts,
		sessionList: list.New(nil, list.NewDefaultDelegate(), 0, 0),
		help:        help.New(),
		keys:        newKeyMap(),
	}
}

// Init initializes the TUI by fetching the account's sessions.
func (m *Model) Init() tea.Cmd {
	return m.fetchSessions()
}

// Update handles incoming messages and updates the model state.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.sessionList.SetSize(msg.Width-4, msg.Height-8)
		return m, nil

	case tea.KeyMsg:
		switch m.view {
		case SessionListView:
			return m.handleSessionListKeys(msg)
		case ConfirmView:
			return m.handleConfirmKeys(msg)
		case ResultView:
			return m.handleResultKeys(msg)
		}
		return m, nil

	case Msg:
		return m.handleMsg(msg)
	}

	var cmd tea.Cmd
	m.sessionList, cmd = m.sessionList.Update(msg)
	return m, cmd
}

func (m *Model) handleMsg(msg Msg) (tea.Model, tea.Cmd) {
	switch msg.kind {
	case MsgSessionsFetched:
		data := msg.data.(sessionsFetched)
		if data.err != nil {
			m.err = data.err
			return m, nil
		}
		m.err = nil
		items := make([]list.Item, len(data.sessions))
		for i, s := range data.sessions {
			items[i] = sessionItem{session: s}
		}
		m.sessionList = list.New(items, list.NewDefaultDelegate(), 0, 0)
		m.sessionList.Title = "Active Sessions"
		m.sessionList.SetSize(m.width-4, m.height-8)
		return m, nil

	case MsgProgressUpdate:
		m.progress = msg.data.(tasks.ProgressUpdate)
		return m, m.waitForProgress()

	case MsgRevokeComplete:
		data := msg.data.(revokeComplete)
		m.result = data.result
		m.err = data.err
		m.view = ResultView
		m.progressChan = nil
		return m, nil
	}
	return m, nil
}

// View renders the UI based on the current view state.
func (m *Model) View() string {
	if m.err != nil && m.view == SessionListView {
		return styles.Err(fmt.Sprintf("Error: %v\n\nPress r to reload, q to quit", m.err))
	}

	switch m.view {
	case SessionListView:
		return m.renderSessionList()
	case ConfirmView:
		return m.renderConfirm()
	case RevokeView:
		return m.renderRevoke()
	case ResultView:
		return m.renderResult()
	default:
		return ""
	}
}

// Selected returns the ids of the sessions marked for revocation.
func (m *Model) Selected() []string {
	var ids []string
	for _, item := range m.sessionList.Items() {
		if s, ok := item.(sessionItem); ok && s.selected {
			ids = append(ids, s.session.ID)
		}
	}
	return ids
}

func (m *Model) handleSessionListKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.sessionList.FilterState() == list.Filtering {
		var cmd tea.Cmd
		m.sessionList, cmd = m.sessionList.Update(msg)
		return m, cmd
	}

	switch {
	case key.Matches(msg, m.keys.quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.restart):
		return m, m.fetchSessions()
	case key.Matches(msg, m.keys.toggle):
		idx := m.sessionList.Index()
		if item, ok := m.sessionList.SelectedItem().(sessionItem); ok && !item.session.Current {
			item.selected = !item.selected
			return m, m.sessionList.SetItem(idx, item)
		}
		return m, nil
	case key.Matches(msg, m.keys.enter):
		if len(m.Selected()) > 0 {
			m.view = ConfirmView
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.sessionList, cmd = m.sessionList.Update(msg)
	return m, cmd
}

func (m *Model) handleConfirmKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.no, m.keys.back, m.keys.quit):
		m.view = SessionListView
		return m, nil
	case key.Matches(msg, m.keys.yes):
		m.view = RevokeView
		return m, m.startRevoke()
	}
	return m, nil
}

func (m *Model) handleResultKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.restart):
		m.view = SessionListView
		m.result = nil
		m.err = nil
		return m, m.fetchSessions()
	}
	return m, nil
}

func (m *Model) fetchSessions() tea.Cmd {
	return func() tea.Msg {
		sessions, err := m.sessions.ListSessions(m.ctx)
		return sessionsFetchedMsg(sessions, err)
	}
}

func (m *Model) startRevoke() tea.Cmd {
	ids := m.Selected()
	progress := make(chan tasks.ProgressUpdate, 50)
	m.progressChan = progress

	go func() {
		result, err := m.revoker.Revoke(m.ctx, progress, ids, m.opts)
		m.result = result
		m.err = err
		close(progress)
	}()

	return m.waitForProgress()
}

func (m *Model) waitForProgress() tea.Cmd {
	progress := m.progressChan
	return func() tea.Msg {
		if progress == nil {
			return revokeCompleteMsg(m.result, m.err)
		}

		update, ok := <-progress
		if !ok {
			return revokeCompleteMsg(m.result, m.err)
		}
		return progressUpdateMsg(update)
	}
}

func (m *Model) renderSessionList() string {
	helpKeys := []key.Binding{m.keys.toggle, m.keys.enter, m.keys.restart, m.keys.quit}
	helpView := m.help.ShortHelpView(helpKeys)
	return fmt.Sprintf("%s\n\n%s", m.sessionList.View(), helpView)
}

func (m *Model) renderConfirm() string {
	ids := m.Selected()
	title := styles.Title(fmt.Sprintf("Sign out %d sessions?", len(ids)))

	info := ""
	for _, id := range ids {
		info += fmt.Sprintf("\n  • %s", id)
	}

	helpKeys := []key.Binding{m.keys.yes, m.keys.no}
	helpView := m.help.ShortHelpView(helpKeys)

	return fmt.Sprintf("%s\n%s\n\n%s", title, info, helpView)
}

func (m *Model) renderRevoke() string {
	title := styles.Title("Revoking Sessions")

	var phase string
	switch m.progress.Phase {
	case tasks.RevokeSessions:
		phase = fmt.Sprintf("Revoked %d/%d", m.progress.Step, m.progress.Total)
	case tasks.Summarize:
		phase = "Finishing..."
	default:
		phase = "Dispatching..."
	}

	return fmt.Sprintf("%s\n\n%s\n%s", title, phase, m.progress.Message)
}

func (m *Model) renderResult() string {
	if m.result == nil {
		msg := "No result available"
		if m.err != nil {
			msg = fmt.Sprintf("Revocation failed: %v", m.err)
		}
		return styles.Err(msg + "\n\nPress r to reload, q to quit")
	}

	title := styles.OK(fmt.Sprintf("✓ %d of %d sessions signed out", m.result.Succeeded, m.result.Total))

	var failed string
	if m.result.Failed > 0 {
		failed = fmt.Sprintf("\n\n%s", styles.Warn(fmt.Sprintf("%d sessions could not be signed out:", m.result.Failed)))
		for _, res := range m.result.Failures() {
			failed += fmt.Sprintf("\n  • %s: %s", res.SessionID, res.Error)
		}
	}

	helpKeys := []key.Binding{m.keys.restart, m.keys.quit}
	helpView := m.help.ShortHelpView(helpKeys)

	return fmt.Sprintf("%s%s\n\n%s", title, failed, helpView)
}
