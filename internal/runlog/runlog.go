// Package runlog keeps the human-readable log of a single prune run. The file
// is rewritten at the start of every run and attached to the report mail.
package runlog

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// TimeLayout prefixes each line.
const TimeLayout = "2006-01-02 15:04:05"

// RunLog is an append-only text log. Write errors are remembered, never
// returned: a broken log file must not stop a run.
type RunLog struct {
	mu       sync.Mutex
	path     string
	buf      bytes.Buffer
	writeErr error

	// Now is the clock used for line timestamps.
	Now func() time.Time
}

// New returns a run log writing to path. An empty path keeps lines in memory only.
func New(path string) *RunLog {
	return &RunLog{path: path, Now: time.Now}
}

// Name is the file's base name, used for the mail attachment.
func (l *RunLog) Name() string {
	if l.path == "" {
		return "radarr-prune.log"
	}
	return filepath.Base(l.path)
}

// Start truncates the log and writes msg as the first line.
func (l *RunLog) Start(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.buf.Reset()
	l.writeErr = nil
	if l.path != "" {
		if err := os.WriteFile(l.path, nil, 0o600); err != nil {
			l.writeErr = err
		}
	}
	l.appendLocked(msg)
}

// Write appends "<timestamp> - msg".
func (l *RunLog) Write(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.appendLocked(msg)
}

func (l *RunLog) appendLocked(msg string) {
	line := l.Now().Format(TimeLayout) + " - " + msg + "\n"
	l.buf.WriteString(line)

	if l.path == "" || l.writeErr != nil {
		return
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		l.writeErr = err
		return
	}
	if _, err := f.WriteString(line); err != nil {
		l.writeErr = err
	}
	if err := f.Close(); err != nil && l.writeErr == nil {
		l.writeErr = err
	}
}

// Bytes returns the lines written since Start.
func (l *RunLog) Bytes() []byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	return bytes.Clone(l.buf.Bytes())
}

// Err returns the first write error since Start, if any.
func (l *RunLog) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.writeErr
}
