package main

import (
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	fastcgi "github.com/mickamy/fastcgi"
)

func withEvents(n int) model {
	m := newModel("http://example.invalid")
	for i := range n {
		m.events = append(m.events, fastcgi.Event{
			RequestID: uint16(i + 1),
			Kind:      fastcgi.EventCompleted,
			At:        time.Unix(int64(i), 0),
		})
	}
	m.width, m.height = 80, 24
	return m
}

func TestEventMsgAppendsAndFollowsCursor(t *testing.T) {
	t.Parallel()

	m := withEvents(2)
	next, cmd := m.Update(eventMsg{Event: fastcgi.Event{RequestID: 3}})
	nm := next.(model)

	if len(nm.events) != 3 {
		t.Fatalf("len(events) = %d, want 3", len(nm.events))
	}
	if nm.cursor != 2 {
		t.Fatalf("cursor = %d, want 2 (follow mode should track the tail)", nm.cursor)
	}
	if cmd == nil {
		t.Fatal("expected a non-nil Cmd to keep receiving events")
	}
}

func TestNavigatingUpDisablesFollow(t *testing.T) {
	t.Parallel()

	m := withEvents(5)
	m.cursor = 4
	next, _ := m.updateList(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("k")})
	nm := next.(model)

	if nm.cursor != 3 {
		t.Fatalf("cursor = %d, want 3", nm.cursor)
	}
	if nm.follow {
		t.Fatal("follow should be disabled after navigating away from the tail")
	}
}

func TestShiftGReenablesFollowAtTail(t *testing.T) {
	t.Parallel()

	m := withEvents(5)
	m.cursor = 0
	m.follow = false
	next, _ := m.updateList(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("G")})
	nm := next.(model)

	if nm.cursor != 4 || !nm.follow {
		t.Fatalf("cursor = %d, follow = %v, want 4, true", nm.cursor, nm.follow)
	}
}

func TestEnterEntersInspectView(t *testing.T) {
	t.Parallel()

	m := withEvents(1)
	next, _ := m.updateList(tea.KeyMsg{Type: tea.KeyEnter})
	nm := next.(model)

	if nm.view != viewInspect {
		t.Fatalf("view = %v, want viewInspect", nm.view)
	}
}

func TestInspectQReturnsToList(t *testing.T) {
	t.Parallel()

	m := withEvents(1)
	m.view = viewInspect
	next, _ := m.updateInspect(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	nm := next.(model)

	if nm.view != viewList {
		t.Fatalf("view = %v, want viewList", nm.view)
	}
}

func TestErrMsgSetsErr(t *testing.T) {
	t.Parallel()

	m := withEvents(0)
	next, _ := m.Update(errMsg{Err: errBoom})
	nm := next.(model)

	if nm.err == nil {
		t.Fatal("expected err to be set")
	}
}

var errBoom = errTestSentinel("boom")

type errTestSentinel string

func (e errTestSentinel) Error() string { return string(e) }
