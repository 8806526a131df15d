// Package firstseen tracks when media files first appeared in a movie directory.
//
// The first time a monitored video file is observed, an empty marker file is
// created next to it. The marker's modification time is the download date from
// then on, so it survives restarts and re-scans.
package firstseen

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const DefaultMarker = ".firstseen"

// Tracker implements core.FirstSeen.
type Tracker struct {
	Marker     string
	Extensions []string

	// ReadOnly reports a missing marker as created now without writing it.
	ReadOnly bool
	Now      func() time.Time
}

// New creates a tracker. Extensions are matched case-insensitively and may be
// given with or without a leading dot.
func New(marker string, extensions []string) *Tracker {
	if marker == "" {
		marker = DefaultMarker
	}
	return &Tracker{
		Marker:     marker,
		Extensions: normalizeExtensions(extensions),
	}
}

// DownloadDate returns the marker mtime for dir, creating the marker if the
// directory holds a video file and no marker exists yet. created reports that
// the marker was written by this call. A directory without video files, or one
// that does not exist, yields the zero time.
func (t *Tracker) DownloadDate(dir string) (time.Time, bool, error) {
	if dir == "" {
		return time.Time{}, false, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("read movie dir: %w", err)
	}

	if !t.hasVideo(entries) {
		return time.Time{}, false, nil
	}

	marker := filepath.Join(dir, t.Marker)
	created := false

	info, err := os.Stat(marker)
	if errors.Is(err, fs.ErrNotExist) && t.ReadOnly {
		return t.now(), true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		f, cerr := os.OpenFile(marker, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if cerr != nil && !errors.Is(cerr, fs.ErrExist) {
			return time.Time{}, false, fmt.Errorf("create marker: %w", cerr)
		}
		if cerr == nil {
			_ = f.Close()
			created = true
		}
		info, err = os.Stat(marker)
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("stat marker: %w", err)
	}

	return info.ModTime(), created, nil
}

func (t *Tracker) now() time.Time {
	if t.Now != nil {
		return t.Now()
	}
	return time.Now()
}

func (t *Tracker) hasVideo(entries []os.DirEntry) bool {
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := strings.ToLower(e.Name())
		for _, ext := range t.Extensions {
			if strings.HasSuffix(name, ext) {
				return true
			}
		}
	}
	return false
}

func normalizeExtensions(exts []string) []string {
	out := make([]string, 0, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		out = append(out, ext)
	}
	return out
}
