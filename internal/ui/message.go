package ui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/desertthunder/moviesnow/internal/models"
	"github.com/desertthunder/moviesnow/internal/tasks"
)

// MsgKind enumerates all message types in the application.
type MsgKind int

// Msg represents all possible messages in the TUI (Elm-style message union).
type Msg struct {
	kind MsgKind
	data any
}

var (
	_ tea.Msg = Msg{}
)

const (
	MsgSessionsFetched MsgKind = iota
	MsgProgressUpdate
	MsgRevokeComplete
)

type sessionsFetched struct {
	sessions []models.AccountSession
	err      error
}

type revokeComplete struct {
	result *tasks.BulkResult
	err    error
}

// sessionsFetchedMsg is the constructor for [MsgSessionsFetched]
func sessionsFetchedMsg(sessions []models.AccountSession, err error) Msg {
	return Msg{kind: MsgSessionsFetched, data: sessionsFetched{sessions, err}}
}

// progressUpdateMsg is the constructor for [MsgProgressUpdate]
func progressUpdateMsg(update tasks.ProgressUpdate) Msg {
	return Msg{kind: MsgProgressUpdate, data: update}
}

// revokeCompleteMsg is the constructor for [MsgRevokeComplete]
func revokeCompleteMsg(result *tasks.BulkResult, err error) Msg {
	return Msg{kind: MsgRevokeComplete, data: revokeComplete{result, err}}
}
