package main

import (
	"encoding/json"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/mickamy/fastcgi/internal/clipboard"
	"github.com/mickamy/fastcgi/internal/highlight"
)

func (m model) updateInspect(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		return m, tea.Quit
	case "q":
		m.view = viewList
		return m, nil
	case "c":
		ev := m.events[m.cursor]
		payload, err := json.MarshalIndent(ev, "", "  ")
		if err != nil {
			return m, func() tea.Msg { return copiedMsg{err: err} }
		}
		return m, func() tea.Msg { return copiedMsg{err: clipboard.Write(string(payload))} }
	case "j", "down":
		if m.inspectScroll < m.inspectMaxScroll() {
			m.inspectScroll++
		}
		return m, nil
	case "k", "up":
		if m.inspectScroll > 0 {
			m.inspectScroll--
		}
		return m, nil
	}
	return m, nil
}

func (m model) inspectLines() []string {
	ev := m.events[m.cursor]
	payload, err := json.MarshalIndent(ev, "", "  ")
	if err != nil {
		return []string{err.Error()}
	}
	rendered, err := highlight.ANSI("json", string(payload))
	if err != nil {
		rendered = string(payload)
	}
	return strings.Split(rendered, "\n")
}

func (m model) inspectVisibleRows() int {
	return max(m.height-6, 1)
}

func (m model) inspectMaxScroll() int {
	return max(len(m.inspectLines())-m.inspectVisibleRows(), 0)
}

func (m model) renderInspector() string {
	innerWidth := max(m.width-4, 20)
	lines := m.inspectLines()
	visible := m.inspectVisibleRows()

	end := min(m.inspectScroll+visible, len(lines))
	clipped := make([]string, 0, end-m.inspectScroll)
	for _, line := range lines[m.inspectScroll:end] {
		clipped = append(clipped, ansi.Truncate(line, innerWidth-2, "…"))
	}
	body := strings.Join(clipped, "\n")

	title := fmt.Sprintf(" request %d ", m.events[m.cursor].RequestID)
	border := lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Width(innerWidth)

	footer := "q: back  j/k: scroll  c: copy JSON"
	if m.statusMsg != "" {
		footer = m.statusMsg + "  |  " + footer
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		border.Render(title+"\n"+body),
		footer,
	)
}
