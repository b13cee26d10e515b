package main

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"unicode"

	"github.com/charmbracelet/lipgloss"

	"github.com/omochice/socket-room/internal/room"
)

const lineWidth = 72

var (
	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243")).
			Italic(true)

	systemStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("135")).
			Width(lineWidth).
			Align(lipgloss.Center)

	sentStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")).
			Width(lineWidth).
			Align(lipgloss.Right)

	avatarStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212"))

	authorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("62")).
			Bold(true)

	rosterStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)
)

// renderer prints session updates as terminal lines.
type renderer struct {
	mu      sync.Mutex
	w       io.Writer
	version uint64
	state   room.State
	roster  string
}

func newRenderer(w io.Writer) *renderer {
	return &renderer{w: w}
}

// Update is a room.Observer.
func (r *renderer) Update(u room.Update) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, line := range r.lines(u) {
		fmt.Fprintln(r.w, line)
	}
}

func (r *renderer) lines(u room.Update) []string {
	var out []string
	if u.Entry != nil {
		out = append(out, renderEntry(u.Entry))
	}
	// Join can race with transport updates; state and roster follow the
	// newest version only.
	if u.Version <= r.version {
		return out
	}
	r.version = u.Version

	if u.State != r.state || u.Reason != "" {
		r.state = u.State
		out = append(out, renderStatus(u))
	}
	if u.State != room.StateDisconnected {
		if roster := strings.Join(u.Roster, ", "); roster != r.roster {
			r.roster = roster
			out = append(out, renderRoster(u.Roster))
		}
	}
	return out
}

// Println writes a plain line, serialized with updates.
func (r *renderer) Println(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintln(r.w, line)
}

// Error writes an error line.
func (r *renderer) Error(err error) {
	r.Println(errorStyle.Render("! " + err.Error()))
}

func renderEntry(e room.Entry) string {
	switch e := e.(type) {
	case room.ChatEntry:
		if e.OriginatedLocally {
			return sentStyle.Render(e.Text)
		}
		return fmt.Sprintf("%s %s %s",
			avatarStyle.Render("["+avatar(e.Author)+"]"),
			authorStyle.Render(e.Author+":"),
			e.Text)
	case room.SystemEntry:
		return systemStyle.Render(e.Text)
	default:
		return ""
	}
}

func renderStatus(u room.Update) string {
	text := "* " + u.State.String()
	switch u.State {
	case room.StateJoining, room.StateJoined:
		text += " as " + u.Identity
	}
	if u.Reason != "" {
		text += ": " + u.Reason
	}
	return statusStyle.Render(text)
}

func renderRoster(users []string) string {
	if len(users) == 0 {
		return rosterStyle.Render("Online Users: (none)")
	}
	return rosterStyle.Render("Online Users: " + strings.Join(users, ", "))
}

// avatar is the upper-cased first letter of name.
func avatar(name string) string {
	for _, r := range name {
		return string(unicode.ToUpper(r))
	}
	return "?"
}
