package testutil

import "sync"

// LogLines captures user-facing protocol lines emitted through the
// engine's LogWriter so tests can assert on them.
type LogLines struct {
	mu    sync.Mutex
	lines []string
}

// WriteLog records one line.
func (l *LogLines) WriteLog(line string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, line)
}

// Lines returns a copy of everything recorded so far.
func (l *LogLines) Lines() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.lines))
	copy(out, l.lines)
	return out
}
