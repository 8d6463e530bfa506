package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/list"

	"github.com/desertthunder/moviesnow/internal/models"
)

var (
	_ list.Item = sessionItem{}
)

// sessionItem wraps [models.AccountSession] to implement [list.Item].
type sessionItem struct {
	session  models.AccountSession
	selected bool
}

func (i sessionItem) FilterValue() string { return i.session.UserAgent + " " + i.session.IP }

func (i sessionItem) Title() string {
	name := i.session.UserAgent
	if name == "" {
		name = i.session.ID
	}
	mark := "[ ]"
	if i.selected {
		mark = "[x]"
	}
	return fmt.Sprintf("%s %s", mark, name)
}

func (i sessionItem) Description() string {
	parts := []string{i.session.ID}
	if i.session.IP != "" {
		parts = append(parts, i.session.IP)
	}
	if !i.session.CreatedAt.IsZero() {
		parts = append(parts, "since "+i.session.CreatedAt.Format("2006-01-02 15:04"))
	}
	if i.session.Current {
		parts = append(parts, "this device")
	}
	return strings.Join(parts, " • ")
}
