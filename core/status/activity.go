package status

import (
	"strings"

	"github.com/muesli/reflow/truncate"
)

const maxActivityLineWidth = 120

// ActivityLog is a short append-only log of what the relay is doing.
// Consecutive duplicate lines are collapsed and only the newest lines are
// kept.
type ActivityLog struct {
	lines    []string
	capacity int
}

func NewActivityLog(capacity int) *ActivityLog {
	if capacity <= 0 {
		capacity = 1
	}
	return &ActivityLog{capacity: capacity}
}

// Append adds a line and reports whether the log changed.
func (l *ActivityLog) Append(line string) bool {
	if l == nil {
		return false
	}

	line = strings.TrimSpace(strings.ReplaceAll(line, "\n", " "))
	if line == "" {
		return false
	}
	line = truncate.StringWithTail(line, maxActivityLineWidth, "…")

	if n := len(l.lines); n > 0 && l.lines[n-1] == line {
		return false
	}

	l.lines = append(l.lines, line)
	if overflow := len(l.lines) - l.capacity; overflow > 0 {
		l.lines = append(l.lines[:0:0], l.lines[overflow:]...)
	}
	return true
}

func (l *ActivityLog) Lines() []string {
	if l == nil {
		return nil
	}
	return append([]string(nil), l.lines...)
}

func (l *ActivityLog) Last() string {
	if l == nil || len(l.lines) == 0 {
		return ""
	}
	return l.lines[len(l.lines)-1]
}
