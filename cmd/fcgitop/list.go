package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	fastcgi "github.com/mickamy/fastcgi"
	"github.com/mickamy/fastcgi/internal/paramsutil"
)

func kindStyle(k fastcgi.EventKind) string {
	switch k {
	case fastcgi.EventAborted:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Render(k.String())
	case fastcgi.EventCompleted:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Render(k.String())
	case fastcgi.EventReady:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("3")).Render(k.String())
	default:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("6")).Render(k.String())
	}
}

const (
	colTime    = 12
	colConn    = 10
	colReq     = 6
	colRole    = 11
	colKind    = 10
	colRequest = 32
)

// requestLine renders the access-log-style summary for an event's
// column, falling back to Event.ScriptName when Params is empty. A begin
// event is published before PARAMS arrives and carries neither, so its
// column is blank.
func requestLine(ev fastcgi.Event) string {
	if len(ev.Params) == 0 {
		return ev.ScriptName
	}
	return paramsutil.RequestLine(ev.Params)
}

func (m model) renderList() string {
	innerWidth := max(m.width-4, 20)
	maxRows := max(m.height-4, 1)

	title := fmt.Sprintf(" fcgitop (%d events, %s) ", len(m.events), m.target)

	border := lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Width(innerWidth)

	start := 0
	if len(m.events) > maxRows {
		start = max(m.cursor-maxRows/2, 0)
		if start+maxRows > len(m.events) {
			start = len(m.events) - maxRows
		}
	}
	end := min(start+maxRows, len(m.events))

	header := fmt.Sprintf("  %-*s %-*s %-*s %-*s %-*s %s",
		colTime, "time", colConn, "conn", colReq, "req", colRole, "role", colKind, "kind", "request")
	rows := []string{lipgloss.NewStyle().Bold(true).Render(header)}

	for i := start; i < end; i++ {
		ev := m.events[i]
		marker := "  "
		if i == m.cursor {
			marker = "> "
		}
		row := fmt.Sprintf("%s%-*s %-*s %-*d %-*s %-*s %s",
			marker,
			colTime, ev.At.Format("15:04:05.000"),
			colConn, truncate(ev.ConnID, colConn),
			colReq, ev.RequestID,
			colRole, ev.Role.String(),
			colKind, kindStyle(ev.Kind),
			truncate(requestLine(ev), colRequest),
		)
		if i == m.cursor {
			row = lipgloss.NewStyle().Bold(true).Render(row)
		}
		rows = append(rows, row)
	}

	footer := "q: quit  j/k: navigate  enter: inspect  G: follow tail"
	if m.statusMsg != "" {
		footer = m.statusMsg + "  |  " + footer
	}

	body := strings.Join(rows, "\n")
	return lipgloss.JoinVertical(lipgloss.Left,
		border.Render(title+"\n"+body),
		footer,
	)
}

func truncate(s string, width int) string {
	if len(s) <= width {
		return s
	}
	if width <= 1 {
		return s[:width]
	}
	return s[:width-1] + "…"
}
