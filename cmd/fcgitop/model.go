package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	fastcgi "github.com/mickamy/fastcgi"
)

type viewMode int

const (
	viewList viewMode = iota
	viewInspect
)

// model is the Bubble Tea model for fcgitop.
type model struct {
	target string

	scanner *bufio.Scanner
	body    io.Closer

	events []fastcgi.Event
	cursor int
	follow bool
	width  int
	height int
	err    error
	view   viewMode

	inspectScroll int
	statusMsg     string
}

func newModel(target string) model {
	return model{target: target, follow: true}
}

type connectedMsg struct {
	scanner *bufio.Scanner
	body    io.Closer
}

type eventMsg struct{ Event fastcgi.Event }

type errMsg struct{ Err error }

type copiedMsg struct{ err error }

func (m model) Init() tea.Cmd {
	return connect(m.target)
}

func connect(target string) tea.Cmd {
	return func() tea.Msg {
		resp, err := http.Get(strings.TrimRight(target, "/") + "/events")
		if err != nil {
			return errMsg{Err: fmt.Errorf("connect %s: %w", target, err)}
		}
		if resp.StatusCode != http.StatusOK {
			_ = resp.Body.Close()
			return errMsg{Err: fmt.Errorf("connect %s: status %s", target, resp.Status)}
		}
		return connectedMsg{scanner: bufio.NewScanner(resp.Body), body: resp.Body}
	}
}

func recvEvent(scanner *bufio.Scanner, body io.Closer) tea.Cmd {
	return func() tea.Msg {
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var ev fastcgi.Event
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
				continue
			}
			return eventMsg{Event: ev}
		}
		_ = body.Close()
		if err := scanner.Err(); err != nil {
			return errMsg{Err: err}
		}
		return errMsg{Err: fmt.Errorf("event stream closed")}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case connectedMsg:
		m.scanner = msg.scanner
		m.body = msg.body
		return m, recvEvent(m.scanner, m.body)

	case eventMsg:
		m.events = append(m.events, msg.Event)
		if m.follow {
			m.cursor = max(len(m.events)-1, 0)
		}
		return m, recvEvent(m.scanner, m.body)

	case errMsg:
		m.err = msg.Err
		return m, nil

	case copiedMsg:
		if msg.err != nil {
			m.statusMsg = "copy failed: " + msg.err.Error()
		} else {
			m.statusMsg = "copied to clipboard"
		}
		return m, nil

	case tea.KeyMsg:
		switch m.view {
		case viewInspect:
			return m.updateInspect(msg)
		case viewList:
			return m.updateList(msg)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil
	}
	return m, nil
}

func (m model) updateList(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		return m, tea.Quit
	case "j", "down":
		if m.cursor < len(m.events)-1 {
			m.cursor++
			m.follow = m.cursor == len(m.events)-1
		}
		return m, nil
	case "k", "up":
		if m.cursor > 0 {
			m.cursor--
			m.follow = false
		}
		return m, nil
	case "G":
		m.cursor = max(len(m.events)-1, 0)
		m.follow = true
		return m, nil
	case "enter":
		if len(m.events) > 0 {
			m.view = viewInspect
			m.inspectScroll = 0
		}
		return m, nil
	}
	return m, nil
}

func (m model) View() string {
	if m.width == 0 {
		return ""
	}
	if m.err != nil {
		return lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Render("error: " + m.err.Error())
	}
	if len(m.events) == 0 {
		return "waiting for requests..."
	}
	switch m.view {
	case viewInspect:
		return m.renderInspector()
	default:
		return m.renderList()
	}
}
