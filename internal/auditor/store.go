package auditor

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/ChrisB0-2/radarr-prune/internal/core"
)

// Store is an auditor that owns a file handle.
type Store interface {
	core.Auditor
	Err() error
	Close() error
}

// IsSQLitePath reports whether path names a SQLite database (.db, .sqlite, .sqlite3).
func IsSQLitePath(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".db", ".sqlite", ".sqlite3":
		return true
	}
	return false
}

// Open picks the backend by file extension: SQLite for database paths,
// a JSONL file otherwise. Retention only applies to SQLite.
func Open(path string, retention time.Duration) (Store, error) {
	if IsSQLitePath(path) {
		a, err := NewSQLite(SQLiteConfig{Path: path, Retention: retention})
		if err != nil {
			return nil, err
		}
		return a, nil
	}
	a, err := NewJSONL(path)
	if err != nil {
		return nil, err
	}
	return a, nil
}
