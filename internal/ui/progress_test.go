package ui

import (
	"strings"
	"testing"

	"reclayout/internal/driver"
)

func TestProgressModel_FollowsEvents(t *testing.T) {
	files := []string{"a.toml", "b.toml"}
	m := NewProgressModel("check", files, nil)
	events := []driver.Event{
		{File: "a.toml", Stage: driver.StageLoad, Status: driver.StatusQueued},
		{File: "b.toml", Stage: driver.StageLoad, Status: driver.StatusQueued},
		{File: "a.toml", Stage: driver.StageLoad, Status: driver.StatusDone},
		{File: "b.toml", Stage: driver.StageLoad, Status: driver.StatusError},
		{File: "a.toml", Stage: driver.StageCheck, Status: driver.StatusWorking},
		{File: "b.toml", Stage: driver.StageCheck, Status: driver.StatusWorking},
		{File: "unknown.toml", Stage: driver.StageCheck, Status: driver.StatusDone},
	}
	for _, ev := range events {
		m, _ = m.Update(eventMsg(ev))
	}
	view := stripANSI(m.View())
	if !strings.Contains(view, "checking a.toml") {
		t.Fatalf("a.toml should be checking:\n%s", view)
	}
	// The load failure sticks.
	if !strings.Contains(view, "error b.toml") || !strings.Contains(view, "1 with errors") {
		t.Fatalf("b.toml should stay failed:\n%s", view)
	}

	m, _ = m.Update(eventMsg{File: "a.toml", Stage: driver.StageCheck, Status: driver.StatusDone})
	m, _ = m.Update(doneMsg{})
	view = stripANSI(m.View())
	if !strings.HasPrefix(view, "done: check 2 file(s)") {
		t.Fatalf("unexpected final header:\n%s", view)
	}
	if !strings.Contains(view, "done a.toml") {
		t.Fatalf("a.toml should be done:\n%s", view)
	}
}

func TestProgressOf(t *testing.T) {
	tests := []struct {
		item fileItem
		want float64
	}{
		{fileItem{status: "queued"}, 0},
		{fileItem{stage: driver.StageLoad, status: "loading"}, 0.1},
		{fileItem{stage: driver.StageLoad, status: "loaded", final: true}, 0.33},
		{fileItem{stage: driver.StageLoad, status: "error", final: true}, 1},
		{fileItem{stage: driver.StageLayout, status: "laying out"}, 0.5},
		{fileItem{stage: driver.StageLayout, status: "done", final: true}, 1},
	}
	for _, tt := range tests {
		if got := progressOf(tt.item); got != tt.want {
			t.Errorf("progressOf(%+v) = %v, want %v", tt.item, got, tt.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in    string
		width int
		want  string
	}{
		{"short.toml", 20, "short.toml"},
		{"a/very/long/path.toml", 10, "a/very/..."},
		{"abcdef", 3, "abc"},
		{"abc", 0, "abc"},
	}
	for _, tt := range tests {
		if got := truncate(tt.in, tt.width); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.width, got, tt.want)
		}
	}
}

// stripANSI drops escape sequences so tests match plain text.
func stripANSI(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == 0x1b {
			for i < len(s) && !(s[i] >= 'a' && s[i] <= 'z' || s[i] >= 'A' && s[i] <= 'Z') {
				i++
			}
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
