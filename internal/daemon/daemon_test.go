package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ChrisB0-2/radarr-prune/internal/auditor"
	"github.com/ChrisB0-2/radarr-prune/internal/auth"
	"github.com/ChrisB0-2/radarr-prune/internal/core"
	"github.com/ChrisB0-2/radarr-prune/internal/logger"
	"github.com/ChrisB0-2/radarr-prune/internal/pruner"
)

func okRun(removed, planned int) RunFunc {
	return func(ctx context.Context) (pruner.Summary, error) {
		return pruner.Summary{RunID: "run-1", Mode: core.ModeDryRun, Removed: removed, Planned: planned}, nil
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateStarting, "starting"},
		{StateReady, "ready"},
		{StateRunning, "running"},
		{StateStopping, "stopping"},
		{StateStopped, "stopped"},
		{State(99), "unknown"},
	}

	for _, tc := range tests {
		if got := tc.state.String(); got != tc.want {
			t.Errorf("State(%d).String() = %q, want %q", tc.state, got, tc.want)
		}
	}
}

func TestNew_Defaults(t *testing.T) {
	d := New(nil, okRun(0, 0), Config{})

	if d.httpAddr != ":8080" {
		t.Errorf("httpAddr = %q, want :8080", d.httpAddr)
	}
	if d.runTimeout != 30*time.Minute {
		t.Errorf("runTimeout = %v, want 30m", d.runTimeout)
	}
	if d.State() != StateStarting {
		t.Errorf("State() = %v, want starting", d.State())
	}
	if !d.NextRun().IsZero() {
		t.Error("NextRun() should be zero before the scheduler starts")
	}
}

func TestTriggerRun_RecordsSummary(t *testing.T) {
	d := New(logger.NewNop(), okRun(2, 3), Config{})

	sum, err := d.TriggerRun(context.Background())
	if err != nil {
		t.Fatalf("TriggerRun() error = %v", err)
	}
	if sum.Removed != 2 || sum.Planned != 3 {
		t.Errorf("summary = %+v, want removed=2 planned=3", sum)
	}

	lastRun, count, lastErr := d.LastRun()
	if lastRun.IsZero() {
		t.Error("lastRun not recorded")
	}
	if count != 1 {
		t.Errorf("runCount = %d, want 1", count)
	}
	if lastErr != nil {
		t.Errorf("lastErr = %v, want nil", lastErr)
	}
	if got := d.LastSummary(); got == nil || got.Removed != 2 {
		t.Errorf("LastSummary() = %+v", got)
	}
}

func TestTriggerRun_RecordsError(t *testing.T) {
	boom := errors.New("radarr down")
	d := New(logger.NewNop(), func(ctx context.Context) (pruner.Summary, error) {
		return pruner.Summary{}, boom
	}, Config{})

	_, err := d.TriggerRun(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("TriggerRun() error = %v, want %v", err, boom)
	}

	_, count, lastErr := d.LastRun()
	if count != 1 {
		t.Errorf("runCount = %d, want 1", count)
	}
	if !errors.Is(lastErr, boom) {
		t.Errorf("lastErr = %v, want %v", lastErr, boom)
	}
	if d.LastSummary() != nil {
		t.Error("failed run should not replace the last summary")
	}
}

func TestTriggerRun_AlreadyRunning(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	d := New(logger.NewNop(), func(ctx context.Context) (pruner.Summary, error) {
		close(started)
		<-release
		return pruner.Summary{}, nil
	}, Config{})

	done := make(chan error, 1)
	go func() {
		_, err := d.TriggerRun(context.Background())
		done <- err
	}()
	<-started

	if !d.IsRunning() {
		t.Error("IsRunning() = false during a run")
	}
	if _, err := d.TriggerRun(context.Background()); !errors.Is(err, core.ErrRunInProgress) {
		t.Errorf("second TriggerRun() error = %v, want ErrRunInProgress", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Errorf("first TriggerRun() error = %v", err)
	}
	if d.IsRunning() {
		t.Error("IsRunning() = true after the run finished")
	}
}

func TestTriggerRun_RecoversPanic(t *testing.T) {
	d := New(logger.NewNop(), func(ctx context.Context) (pruner.Summary, error) {
		panic("nil map")
	}, Config{})

	_, err := d.TriggerRun(context.Background())
	if err == nil || !strings.Contains(err.Error(), "panicked") {
		t.Fatalf("TriggerRun() error = %v, want panic error", err)
	}
	if d.IsRunning() {
		t.Error("running flag not released after panic")
	}
}

func TestTriggerRun_NoRunFunc(t *testing.T) {
	d := New(logger.NewNop(), nil, Config{})

	if _, err := d.TriggerRun(context.Background()); err == nil {
		t.Error("expected error without a run function")
	}
}

func TestSetRunFunc(t *testing.T) {
	d := New(logger.NewNop(), okRun(1, 0), Config{})
	d.SetRunFunc(okRun(5, 0))

	sum, err := d.TriggerRun(context.Background())
	if err != nil {
		t.Fatalf("TriggerRun() error = %v", err)
	}
	if sum.Removed != 5 {
		t.Errorf("Removed = %d, want 5 from the replaced run func", sum.Removed)
	}
}

func TestReschedule(t *testing.T) {
	d := New(logger.NewNop(), okRun(0, 0), Config{Schedule: "0 3 * * *"})

	if err := d.Reschedule("@every 6h"); err != nil {
		t.Fatalf("Reschedule() error = %v", err)
	}
	if got := d.Schedule(); got != "@every 6h" {
		t.Errorf("Schedule() = %q, want @every 6h", got)
	}
	if err := d.Reschedule("not a schedule"); err == nil {
		t.Error("expected error for invalid schedule")
	}
	if got := d.Schedule(); got != "@every 6h" {
		t.Errorf("invalid reschedule changed Schedule() to %q", got)
	}
}

func TestHealthEndpoint(t *testing.T) {
	d := New(logger.NewNop(), okRun(0, 0), Config{})
	h := d.routes()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]string
	decode(t, rec, &body)
	if body["status"] != "ok" || body["state"] != "starting" {
		t.Errorf("body = %v", body)
	}
}

func TestReadyEndpoint(t *testing.T) {
	d := New(logger.NewNop(), okRun(0, 0), Config{})
	h := d.routes()

	tests := []struct {
		state State
		want  int
	}{
		{StateStarting, http.StatusServiceUnavailable},
		{StateReady, http.StatusOK},
		{StateRunning, http.StatusOK},
		{StateStopping, http.StatusServiceUnavailable},
	}

	for _, tc := range tests {
		d.state.Store(int32(tc.state))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
		if rec.Code != tc.want {
			t.Errorf("state %s: status = %d, want %d", tc.state, rec.Code, tc.want)
		}
	}
}

func TestStatusEndpoint(t *testing.T) {
	d := New(logger.NewNop(), okRun(4, 1), Config{Schedule: "@daily"})
	h := d.routes()

	if _, err := d.TriggerRun(context.Background()); err != nil {
		t.Fatalf("TriggerRun() error = %v", err)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body statusResponse
	decode(t, rec, &body)
	if body.RunCount != 1 {
		t.Errorf("run_count = %d, want 1", body.RunCount)
	}
	if body.Schedule != "@daily" {
		t.Errorf("schedule = %q, want @daily", body.Schedule)
	}
	if body.LastRun == "" {
		t.Error("last_run missing")
	}
	if body.LastError != "" {
		t.Errorf("last_error = %q, want empty", body.LastError)
	}
	if body.LastSummary == nil || body.LastSummary.Removed != 4 || body.LastSummary.Planned != 1 {
		t.Errorf("last_summary = %+v", body.LastSummary)
	}
}

func TestTriggerEndpoint(t *testing.T) {
	d := New(logger.NewNop(), okRun(1, 2), Config{})
	h := d.routes()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/trigger", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	var body struct {
		Triggered bool           `json:"triggered"`
		Summary   pruner.Summary `json:"summary"`
	}
	decode(t, rec, &body)
	if !body.Triggered || body.Summary.Removed != 1 || body.Summary.Planned != 2 {
		t.Errorf("body = %+v", body)
	}
}

func TestTriggerEndpoint_MethodNotAllowed(t *testing.T) {
	d := New(logger.NewNop(), okRun(0, 0), Config{})

	rec := httptest.NewRecorder()
	d.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/trigger", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

func TestTriggerEndpoint_Conflict(t *testing.T) {
	d := New(logger.NewNop(), okRun(0, 0), Config{})
	d.running.Store(true)

	rec := httptest.NewRecorder()
	d.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/trigger", nil))
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
}

func TestTriggerEndpoint_Errors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"disabled", core.ErrDisabled, http.StatusOK},
		{"failure", core.ErrBackendUnavailable, http.StatusInternalServerError},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d := New(logger.NewNop(), func(ctx context.Context) (pruner.Summary, error) {
				return pruner.Summary{}, tc.err
			}, Config{})

			rec := httptest.NewRecorder()
			d.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/trigger", nil))
			if rec.Code != tc.want {
				t.Errorf("status = %d, want %d", rec.Code, tc.want)
			}
		})
	}
}

func TestAuditEndpoints_NotConfigured(t *testing.T) {
	d := New(logger.NewNop(), okRun(0, 0), Config{})
	h := d.routes()

	for _, path := range []string{"/audit", "/audit/stats"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusNotFound {
			t.Errorf("%s: status = %d, want 404", path, rec.Code)
		}
	}
}

func newAuditDB(t *testing.T) *auditor.SQLiteAuditor {
	t.Helper()
	db, err := auditor.NewSQLite(auditor.SQLiteConfig{Path: filepath.Join(t.TempDir(), "audit.db")})
	if err != nil {
		t.Fatalf("NewSQLite() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	movies := []struct {
		id     int
		title  string
		reason core.Reason
	}{
		{1, "Heat", core.ReasonRemoved},
		{2, "Alien", core.ReasonKeepTag},
		{3, "Jaws", core.ReasonActive},
	}
	for _, m := range movies {
		it := core.PlanItem{
			Movie:    core.Movie{ID: m.id, Title: m.title, Year: 1990},
			Decision: core.Decision{Reason: m.reason, IsRemoved: m.reason == core.ReasonRemoved},
		}
		db.Record(ctx, core.NewPlanAuditEvent("run-1", core.ModeExecute, it))
	}
	db.Record(ctx, core.NewRunAuditEvent("run-1", core.ModeExecute, 1, 0, 3, 91.5))
	return db
}

func TestAuditQueryEndpoint(t *testing.T) {
	d := New(logger.NewNop(), okRun(0, 0), Config{Audit: newAuditDB(t)})
	h := d.routes()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/audit?action=plan&reason=keep-tag", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	var records []auditor.AuditRecord
	decode(t, rec, &records)
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	if records[0].Title != "Alien (1990)" {
		t.Errorf("title = %q, want Alien (1990)", records[0].Title)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/audit?limit=2", nil))
	decode(t, rec, &records)
	if len(records) != 2 {
		t.Errorf("limit=2 returned %d records", len(records))
	}
}

func TestAuditQueryEndpoint_EmptyResult(t *testing.T) {
	d := New(logger.NewNop(), okRun(0, 0), Config{Audit: newAuditDB(t)})

	rec := httptest.NewRecorder()
	d.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/audit?run_id=missing", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != "[]" {
		t.Errorf("body = %q, want []", got)
	}
}

func TestAuditQueryEndpoint_BadParams(t *testing.T) {
	d := New(logger.NewNop(), okRun(0, 0), Config{Audit: newAuditDB(t)})
	h := d.routes()

	for _, q := range []string{"limit=abc", "limit=0", "action=delete", "level=fatal", "since=yesterday"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/audit?"+q, nil))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", q, rec.Code)
		}
	}
}

func TestAuditStatsEndpoint(t *testing.T) {
	d := New(logger.NewNop(), okRun(0, 0), Config{Audit: newAuditDB(t)})

	rec := httptest.NewRecorder()
	d.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/audit/stats", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var stats auditor.AuditStats
	decode(t, rec, &stats)
	if stats.TotalRecords != 4 {
		t.Errorf("total_records = %d, want 4", stats.TotalRecords)
	}
	if stats.Runs != 1 {
		t.Errorf("runs = %d, want 1", stats.Runs)
	}
	if stats.ByReason["keep-tag"] != 1 {
		t.Errorf("by_reason = %v", stats.ByReason)
	}
}

func TestRoutes_Auth(t *testing.T) {
	const (
		opKey     = "rp_0123456789abcdef0123456789abcdef"
		viewerKey = "rp_fedcba9876543210fedcba9876543210"
	)
	keys, err := auth.NewAPIKeys(auth.KeyConfig{Key: opKey})
	if err != nil {
		t.Fatal(err)
	}
	if err := keys.Add(viewerKey, "dashboard", auth.RoleViewer); err != nil {
		t.Fatal(err)
	}

	d := New(logger.NewNop(), okRun(0, 0), Config{Auth: keys, Audit: newAuditDB(t)})
	d.state.Store(int32(StateReady))
	h := d.routes()

	tests := []struct {
		method string
		path   string
		key    string
		want   int
	}{
		{http.MethodGet, "/health", "", http.StatusOK},
		{http.MethodGet, "/ready", "", http.StatusOK},
		{http.MethodGet, "/status", "", http.StatusUnauthorized},
		{http.MethodGet, "/status", "rp_00000000000000000000000000000000", http.StatusUnauthorized},
		{http.MethodGet, "/status", viewerKey, http.StatusOK},
		{http.MethodGet, "/audit/stats", viewerKey, http.StatusOK},
		{http.MethodPost, "/trigger", "", http.StatusUnauthorized},
		{http.MethodPost, "/trigger", viewerKey, http.StatusForbidden},
		{http.MethodPost, "/trigger", opKey, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.key != "" {
				req.Header.Set(auth.HeaderName, tt.key)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("%s %s = %d, want %d (%s)", tt.method, tt.path, rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestParseDurationWithDays(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"24h", 24 * time.Hour, false},
		{"7d", 7 * 24 * time.Hour, false},
		{"0d", 0, false},
		{"90m", 90 * time.Minute, false},
		{"xd", 0, true},
		{"-1d", 0, true},
		{"-5h", 0, true},
		{"soon", 0, true},
	}

	for _, tc := range tests {
		got, err := ParseDurationWithDays(tc.in)
		if (err != nil) != tc.wantErr {
			t.Errorf("ParseDurationWithDays(%q) error = %v, wantErr %v", tc.in, err, tc.wantErr)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseDurationWithDays(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestParseTimeParam(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

	got, err := ParseTimeParam("2024-05-01T00:00:00Z", now)
	if err != nil || !got.Equal(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("RFC3339: got %v, %v", got, err)
	}

	got, err = ParseTimeParam("2d", now)
	if err != nil || !got.Equal(now.Add(-48*time.Hour)) {
		t.Errorf("2d: got %v, %v", got, err)
	}

	if _, err := ParseTimeParam("last week", now); err == nil {
		t.Error("expected error for unparseable value")
	}
}

func TestRun_InvalidSchedule(t *testing.T) {
	d := New(logger.NewNop(), okRun(0, 0), Config{Schedule: "every tuesday", HTTPAddr: "127.0.0.1:0"})

	if err := d.Run(context.Background()); err == nil {
		t.Fatal("Run() should fail with an invalid schedule")
	}
}

func TestRun_ServesAndStops(t *testing.T) {
	d := New(logger.NewNop(), okRun(0, 0), Config{Schedule: "@daily", HTTPAddr: "127.0.0.1:0"})

	done := make(chan error, 1)
	go func() { done <- d.Run(context.Background()) }()

	waitFor(t, 5*time.Second, func() bool { return d.State() == StateReady })

	if d.NextRun().IsZero() {
		t.Error("NextRun() is zero with a schedule")
	}

	resp, err := http.Get("http://" + d.Addr() + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /health status = %d", resp.StatusCode)
	}

	d.Stop()
	d.Stop()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("Run() did not return after Stop()")
	}
	if d.State() != StateStopped {
		t.Errorf("State() = %v, want stopped", d.State())
	}
}

func TestRun_ContextCancel(t *testing.T) {
	d := New(logger.NewNop(), okRun(0, 0), Config{HTTPAddr: "127.0.0.1:0"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	waitFor(t, 5*time.Second, func() bool { return d.State() == StateReady })
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}

func TestRun_ScheduledRuns(t *testing.T) {
	var calls atomic.Int32
	d := New(logger.NewNop(), func(ctx context.Context) (pruner.Summary, error) {
		calls.Add(1)
		return pruner.Summary{}, nil
	}, Config{Schedule: "@every 1s", HTTPAddr: "127.0.0.1:0"})

	done := make(chan error, 1)
	go func() { done <- d.Run(context.Background()) }()

	waitFor(t, 5*time.Second, func() bool { return calls.Load() >= 1 })
	d.Stop()
	<-done

	if _, count, _ := d.LastRun(); count < 1 {
		t.Errorf("runCount = %d, want >= 1", count)
	}
}

func TestRun_StopCancelsTriggeredRun(t *testing.T) {
	started := make(chan struct{})
	d := New(logger.NewNop(), func(ctx context.Context) (pruner.Summary, error) {
		close(started)
		<-ctx.Done()
		return pruner.Summary{}, ctx.Err()
	}, Config{HTTPAddr: "127.0.0.1:0", RunTimeout: time.Hour})

	done := make(chan error, 1)
	go func() { done <- d.Run(context.Background()) }()
	waitFor(t, 5*time.Second, func() bool { return d.State() == StateReady })

	type result struct {
		code int
		err  error
	}
	respCh := make(chan result, 1)
	go func() {
		resp, err := http.Post("http://"+d.Addr()+"/trigger", "application/json", nil)
		if err != nil {
			respCh <- result{err: err}
			return
		}
		_ = resp.Body.Close()
		respCh <- result{code: resp.StatusCode}
	}()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("triggered run did not start")
	}
	d.Stop()

	select {
	case res := <-respCh:
		if res.err != nil {
			t.Fatalf("POST /trigger: %v", res.err)
		}
		if res.code != http.StatusInternalServerError {
			t.Errorf("status = %d, want 500", res.code)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("triggered run was not canceled on stop")
	}

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("Run() did not return after Stop()")
	}

	if _, _, lastErr := d.LastRun(); !errors.Is(lastErr, context.Canceled) {
		t.Errorf("last error = %v, want context.Canceled", lastErr)
	}
}

func TestRun_AddressInUse(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	addr := strings.TrimPrefix(srv.URL, "http://")
	d := New(logger.NewNop(), okRun(0, 0), Config{Schedule: "@daily", HTTPAddr: addr})

	if err := d.Run(context.Background()); err == nil {
		t.Fatal("Run() should fail when the address is taken")
	}
}
