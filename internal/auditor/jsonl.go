package auditor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ChrisB0-2/radarr-prune/internal/core"
)

// JSONLAuditor appends one AuditRecord per line. Records carry the same
// checksum as the SQLite store, so a line can be verified on its own.
type JSONLAuditor struct {
	mu       sync.Mutex
	f        *os.File
	enc      *json.Encoder
	writeErr error // first failure; recording never blocks a run
}

// NewJSONL opens path for appending, creating it and its directory.
func NewJSONL(path string) (*JSONLAuditor, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("audit directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	enc := json.NewEncoder(f)
	enc.SetEscapeHTML(false)
	return &JSONLAuditor{f: f, enc: enc}, nil
}

func (a *JSONLAuditor) Record(_ context.Context, evt core.AuditEvent) {
	r := newRecord(evt)

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.f == nil {
		return
	}
	if err := a.enc.Encode(r); err != nil && a.writeErr == nil {
		a.writeErr = fmt.Errorf("audit write: %w", err)
	}
}

// Err returns the first write error encountered, if any.
func (a *JSONLAuditor) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.writeErr
}

func (a *JSONLAuditor) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.f == nil {
		return nil
	}
	err := a.f.Close()
	a.f = nil
	return err
}

var _ Store = (*JSONLAuditor)(nil)
