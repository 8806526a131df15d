package auditor

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ChrisB0-2/radarr-prune/internal/core"
)

func readRecords(t *testing.T, path string) []AuditRecord {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("failed to open file: %v", err)
	}
	defer f.Close()

	var out []AuditRecord
	sc := bufio.NewScanner(f)
	for line := 1; sc.Scan(); line++ {
		var r AuditRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			t.Fatalf("line %d is not valid JSON: %v", line, err)
		}
		out = append(out, r)
	}
	return out
}

func TestJSONLAuditor_PlanRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	aud, err := NewJSONL(path)
	if err != nil {
		t.Fatalf("NewJSONL() error = %v", err)
	}

	it := core.PlanItem{
		Movie:    core.Movie{ID: 42, Title: "Alien", Year: 1979},
		Decision: core.Decision{Reason: core.ReasonRemoved, IsRemoved: true},
	}
	evt := core.NewPlanAuditEvent("run-1", core.ModeExecute, it)
	evt.Time = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	aud.Record(context.Background(), evt)

	if err := aud.Err(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := aud.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	records := readRecords(t, path)
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	r := records[0]
	if r.Action != "plan" || r.RunID != "run-1" || r.MovieID != 42 {
		t.Errorf("unexpected record %+v", r)
	}
	if r.Reason != string(core.ReasonRemoved) || !r.Removed || r.Planned {
		t.Errorf("decision fields not promoted: %+v", r)
	}
	if r.ID != 0 {
		t.Errorf("JSONL records have no row id, got %d", r.ID)
	}
}

func TestJSONLAuditor_ChecksumMatchesSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	aud, err := NewJSONL(path)
	if err != nil {
		t.Fatal(err)
	}
	aud.Record(context.Background(), core.AuditEvent{
		Time:   time.Date(2024, 3, 1, 8, 0, 0, 0, time.FixedZone("CET", 3600)),
		Level:  "info",
		Action: "run",
		Fields: map[string]any{"removed_count": 2},
	})
	aud.Close()

	r := readRecords(t, path)[0]
	want := r.Checksum
	r.Checksum = ""
	if got := checksum(r); got != want {
		t.Errorf("checksum(%+v) = %s, stored %s", r, got, want)
	}
}

func TestJSONLAuditor_RecordWithError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	aud, err := NewJSONL(path)
	if err != nil {
		t.Fatal(err)
	}

	before := time.Now().Add(-time.Second)
	aud.Record(context.Background(), core.AuditEvent{Level: "error", Action: "execute", Err: errors.New("radarr returned 500")})
	aud.Close()

	r := readRecords(t, path)[0]
	if r.Error != "radarr returned 500" {
		t.Errorf("error = %q", r.Error)
	}
	if r.Timestamp.Before(before) {
		t.Errorf("timestamp not filled in: %v", r.Timestamp)
	}
}

func TestJSONLAuditor_Appends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")

	for _, action := range []string{"first", "second"} {
		aud, err := NewJSONL(path)
		if err != nil {
			t.Fatal(err)
		}
		aud.Record(context.Background(), core.AuditEvent{Level: "info", Action: action})
		aud.Close()
	}

	records := readRecords(t, path)
	if len(records) != 2 || records[0].Action != "first" || records[1].Action != "second" {
		t.Errorf("unexpected records: %+v", records)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("expected permissions 0600, got %o", perm)
	}
}

func TestJSONLAuditor_BadDirectory(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "blocker")
	if err := os.WriteFile(blocker, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := NewJSONL(filepath.Join(blocker, "audit.jsonl")); err == nil {
		t.Error("expected error when the parent is a file")
	}
}

func TestJSONLAuditor_RecordAfterClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	aud, err := NewJSONL(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := aud.Close(); err != nil {
		t.Errorf("first close failed: %v", err)
	}
	if err := aud.Close(); err != nil {
		t.Errorf("second close should not error: %v", err)
	}

	aud.Record(context.Background(), core.AuditEvent{Level: "info"})

	if data, _ := os.ReadFile(path); len(data) > 0 {
		t.Errorf("expected empty file after close, got %d bytes", len(data))
	}
	if err := aud.Err(); err != nil {
		t.Errorf("Err() = %v", err)
	}
}

func TestJSONLAuditor_ConcurrentWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	aud, err := NewJSONL(path)
	if err != nil {
		t.Fatal(err)
	}

	const goroutines, iterations = 10, 50

	var wg sync.WaitGroup
	for i := range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range iterations {
				aud.Record(context.Background(), core.AuditEvent{Level: "info", Action: "plan", MovieID: i*iterations + j})
			}
		}()
	}
	wg.Wait()
	aud.Close()

	if err := aud.Err(); err != nil {
		t.Errorf("write error: %v", err)
	}
	if got := len(readRecords(t, path)); got != goroutines*iterations {
		t.Errorf("expected %d lines, got %d", goroutines*iterations, got)
	}
}
