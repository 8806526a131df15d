package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/robfig/cron/v3"

	"github.com/ChrisB0-2/radarr-prune/internal/auditor"
	"github.com/ChrisB0-2/radarr-prune/internal/auth"
	"github.com/ChrisB0-2/radarr-prune/internal/config"
	"github.com/ChrisB0-2/radarr-prune/internal/core"
	"github.com/ChrisB0-2/radarr-prune/internal/logger"
	"github.com/ChrisB0-2/radarr-prune/internal/pruner"
)

// State represents the current daemon state.
type State int32

const (
	StateStarting State = iota
	StateReady
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// RunFunc performs one prune run.
type RunFunc func(ctx context.Context) (pruner.Summary, error)

// AuditReader is the read side of the audit database.
type AuditReader interface {
	Query(ctx context.Context, filter auditor.QueryFilter) ([]auditor.AuditRecord, error)
	Stats(ctx context.Context) (*auditor.AuditStats, error)
}

// Config holds daemon configuration.
type Config struct {
	Schedule   string        // cron expression or descriptor ("0 3 * * *", "@every 6h")
	HTTPAddr   string        // address for the HTTP API (e.g. ":8080")
	RunTimeout time.Duration // bound on a manually triggered run
	Audit      AuditReader   // optional; enables /audit endpoints

	// Auth, when set, guards every endpoint except /health and /ready.
	// Viewers read status and audit; operators may also trigger runs.
	Auth auth.Authenticator
}

const (
	defaultQueryLimit = 100
	maxQueryLimit     = 1000
)

// Daemon runs prune passes on a schedule and serves health and control endpoints.
type Daemon struct {
	log        logger.Logger
	httpAddr   string
	runTimeout time.Duration
	audit      AuditReader
	auth       auth.Authenticator

	state   atomic.Int32
	running atomic.Bool

	mu          sync.RWMutex
	runFunc     RunFunc
	schedule    string
	lastRun     time.Time
	lastErr     error
	lastSummary *pruner.Summary
	runCount    int64
	cron        *cron.Cron
	entry       cron.EntryID
	job         cron.Job

	// runCtx outlives single requests; it is canceled when the daemon stops.
	runCtx     context.Context
	cancelRuns context.CancelFunc

	stopOnce   sync.Once
	stopCh     chan struct{}
	httpServer *http.Server
	listener   net.Listener
}

// New creates a new daemon instance.
func New(log logger.Logger, runFunc RunFunc, cfg Config) *Daemon {
	if log == nil {
		log = logger.NewNop()
	}
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8080"
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 30 * time.Minute
	}

	d := &Daemon{
		log:        log,
		runFunc:    runFunc,
		schedule:   cfg.Schedule,
		httpAddr:   cfg.HTTPAddr,
		runTimeout: cfg.RunTimeout,
		audit:      cfg.Audit,
		auth:       cfg.Auth,
		stopCh:     make(chan struct{}),
	}
	d.runCtx, d.cancelRuns = context.WithCancel(context.Background())
	d.state.Store(int32(StateStarting))

	return d
}

// Run starts the daemon and blocks until shutdown.
// It handles SIGINT and SIGTERM for graceful shutdown.
func (d *Daemon) Run(ctx context.Context) error {
	d.log.Info("daemon starting", logger.F("http_addr", d.httpAddr), logger.F("schedule", d.Schedule()))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := d.startScheduler(ctx); err != nil {
		return err
	}

	if err := d.startHTTP(); err != nil {
		d.stopScheduler()
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	d.state.Store(int32(StateReady))
	d.log.Info("daemon ready", logger.F("addr", d.Addr()))

	select {
	case sig := <-sigCh:
		d.log.Info("received signal", logger.F("signal", sig.String()))
	case <-ctx.Done():
		d.log.Info("context canceled")
	case <-d.stopCh:
		d.log.Info("stop requested")
	}

	d.state.Store(int32(StateStopping))
	d.log.Info("daemon stopping")

	// Cancel in-flight runs, then wait for the scheduler to drain.
	cancel()
	d.cancelRuns()
	d.stopScheduler()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := d.httpServer.Shutdown(shutdownCtx); err != nil {
		d.log.Warn("HTTP server shutdown error", logger.F("error", err.Error()))
	}

	d.state.Store(int32(StateStopped))
	d.log.Info("daemon stopped")

	return nil
}

// Stop signals the daemon to shut down. Safe to call more than once.
func (d *Daemon) Stop() {
	d.stopOnce.Do(func() { close(d.stopCh) })
}

// SetRunFunc swaps the run function, e.g. after a config reload.
// A run in progress finishes with the old function.
func (d *Daemon) SetRunFunc(fn RunFunc) {
	d.mu.Lock()
	d.runFunc = fn
	d.mu.Unlock()
}

// Schedule returns the active schedule expression.
func (d *Daemon) Schedule() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.schedule
}

// Reschedule replaces the schedule. If the scheduler is not running it only
// records the expression for the next Run.
func (d *Daemon) Reschedule(spec string) error {
	sched, err := config.ParseSchedule(spec)
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.schedule == spec {
		return nil
	}
	d.schedule = spec
	if d.cron != nil {
		d.cron.Remove(d.entry)
		d.entry = d.cron.Schedule(sched, d.job)
	}
	d.log.Info("schedule updated", logger.F("schedule", spec))
	return nil
}

// NextRun returns the next scheduled run, or the zero time without a schedule.
func (d *Daemon) NextRun() time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.cron == nil {
		return time.Time{}
	}
	return d.cron.Entry(d.entry).Next
}

// Addr returns the listening address once the HTTP server is up.
func (d *Daemon) Addr() string {
	if d.listener != nil {
		return d.listener.Addr().String()
	}
	return d.httpAddr
}

// TriggerRun runs immediately. It returns core.ErrRunInProgress if a run is
// already going.
func (d *Daemon) TriggerRun(ctx context.Context) (pruner.Summary, error) {
	if !d.running.CompareAndSwap(false, true) {
		return pruner.Summary{}, core.ErrRunInProgress
	}
	defer d.running.Store(false)

	return d.executeRun(ctx)
}

// State returns the current daemon state.
func (d *Daemon) State() State {
	return State(d.state.Load())
}

// IsRunning returns true if a prune run is currently in progress.
func (d *Daemon) IsRunning() bool {
	return d.running.Load()
}

// LastRun returns info about the last run.
func (d *Daemon) LastRun() (time.Time, int64, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lastRun, d.runCount, d.lastErr
}

// LastSummary returns the summary of the last completed run, if any.
func (d *Daemon) LastSummary() *pruner.Summary {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.lastSummary == nil {
		return nil
	}
	s := *d.lastSummary
	return &s
}

func (d *Daemon) startScheduler(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.schedule == "" {
		d.log.Info("no schedule configured, runs only on trigger")
		return nil
	}

	sched, err := config.ParseSchedule(d.schedule)
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", d.schedule, err)
	}

	d.job = cron.FuncJob(func() { d.scheduledRun(ctx) })
	d.cron = cron.New()
	d.entry = d.cron.Schedule(sched, d.job)
	d.cron.Start()

	d.log.Info("scheduler started",
		logger.F("schedule", d.schedule),
		logger.F("next_run", d.cron.Entry(d.entry).Next.Format(time.RFC3339)))
	return nil
}

// stopScheduler stops cron and waits for a running job to return.
func (d *Daemon) stopScheduler() {
	d.mu.RLock()
	c := d.cron
	d.mu.RUnlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
	d.log.Debug("scheduler stopped")
}

func (d *Daemon) scheduledRun(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if !d.running.CompareAndSwap(false, true) {
		d.log.Warn("skipping scheduled run - previous run still in progress")
		return
	}
	defer d.running.Store(false)

	_, err := d.executeRun(ctx)
	if err != nil && ctx.Err() == nil && !errors.Is(err, core.ErrDisabled) {
		d.log.Error("scheduled run failed", logger.F("error", err.Error()))
	}
}

// executeRun performs a single run. A panicking run is reported as an error.
func (d *Daemon) executeRun(ctx context.Context) (sum pruner.Summary, err error) {
	d.mu.RLock()
	run := d.runFunc
	d.mu.RUnlock()

	d.state.CompareAndSwap(int32(StateReady), int32(StateRunning))
	defer d.state.CompareAndSwap(int32(StateRunning), int32(StateReady))

	d.log.Info("starting prune run")
	start := time.Now()

	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("run panicked: %v", r)
				d.log.Error("run panicked",
					logger.F("panic", fmt.Sprint(r)),
					logger.F("stack", string(debug.Stack())))
			}
		}()
		if run == nil {
			err = errors.New("no run function configured")
			return
		}
		sum, err = run(ctx)
	}()

	d.mu.Lock()
	d.lastRun = start
	d.lastErr = err
	d.runCount++
	if err == nil {
		s := sum
		d.lastSummary = &s
	}
	d.mu.Unlock()

	duration := time.Since(start)
	switch {
	case errors.Is(err, core.ErrDisabled):
		d.log.Info("prune run skipped", logger.F("reason", err.Error()))
	case err != nil:
		d.log.Error("prune run failed",
			logger.F("duration", duration.String()),
			logger.F("error", err.Error()))
	default:
		d.log.Info("prune run completed",
			logger.F("duration", duration.String()),
			logger.F("removed", sum.Removed),
			logger.F("planned", sum.Planned))
	}

	return sum, err
}

// startHTTP binds the listener and serves the API in the background.
func (d *Daemon) startHTTP() error {
	ln, err := net.Listen("tcp", d.httpAddr)
	if err != nil {
		return err
	}
	d.listener = ln

	d.httpServer = &http.Server{
		Handler:           d.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := d.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.log.Error("HTTP server error", logger.F("error", err.Error()))
		}
	}()

	return nil
}

func (d *Daemon) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", d.handleHealth)
	r.Get("/ready", d.handleReady)

	r.Group(func(r chi.Router) {
		if d.auth != nil {
			r.Use(auth.Middleware(d.auth, d.log))
		}

		r.With(d.require(auth.RoleViewer)).Get("/status", d.handleStatus)
		r.With(d.require(auth.RoleOperator)).Post("/trigger", d.handleTrigger)

		r.Route("/audit", func(r chi.Router) {
			r.Use(d.require(auth.RoleViewer))
			r.Get("/", d.handleAuditQuery)
			r.Get("/stats", d.handleAuditStats)
		})
	})

	return r
}

// require enforces a minimum role when auth is configured.
func (d *Daemon) require(role auth.Role) func(http.Handler) http.Handler {
	if d.auth == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return auth.Require(role)
}

func (d *Daemon) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSONResponse(w, http.StatusOK, map[string]string{
		"status": "ok",
		"state":  d.State().String(),
	})
}

func (d *Daemon) handleReady(w http.ResponseWriter, _ *http.Request) {
	state := d.State()
	ready := state == StateReady || state == StateRunning

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	writeJSONResponse(w, status, map[string]any{
		"ready": ready,
		"state": state.String(),
	})
}

type statusResponse struct {
	State       string          `json:"state"`
	Running     bool            `json:"running"`
	Schedule    string          `json:"schedule"`
	RunCount    int64           `json:"run_count"`
	LastRun     string          `json:"last_run,omitempty"`
	LastError   string          `json:"last_error,omitempty"`
	NextRun     string          `json:"next_run,omitempty"`
	LastSummary *pruner.Summary `json:"last_summary,omitempty"`
}

func (d *Daemon) handleStatus(w http.ResponseWriter, _ *http.Request) {
	lastRun, runCount, lastErr := d.LastRun()

	resp := statusResponse{
		State:       d.State().String(),
		Running:     d.IsRunning(),
		Schedule:    d.Schedule(),
		RunCount:    runCount,
		LastSummary: d.LastSummary(),
	}
	if !lastRun.IsZero() {
		resp.LastRun = lastRun.Format(time.RFC3339)
	}
	if lastErr != nil {
		resp.LastError = lastErr.Error()
	}
	if next := d.NextRun(); !next.IsZero() {
		resp.NextRun = next.Format(time.RFC3339)
	}

	writeJSONResponse(w, http.StatusOK, resp)
}

func (d *Daemon) handleTrigger(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(d.runCtx, d.runTimeout)
	defer cancel()
	stop := context.AfterFunc(r.Context(), cancel)
	defer stop()

	sum, err := d.TriggerRun(ctx)
	switch {
	case errors.Is(err, core.ErrRunInProgress):
		writeJSONResponse(w, http.StatusConflict, map[string]any{"triggered": false, "error": err.Error()})
	case errors.Is(err, core.ErrDisabled):
		writeJSONResponse(w, http.StatusOK, map[string]any{"triggered": true, "skipped": err.Error()})
	case err != nil:
		writeJSONResponse(w, http.StatusInternalServerError, map[string]any{"triggered": true, "error": err.Error()})
	default:
		writeJSONResponse(w, http.StatusOK, map[string]any{"triggered": true, "summary": sum})
	}
}

func (d *Daemon) handleAuditQuery(w http.ResponseWriter, r *http.Request) {
	if d.audit == nil {
		writeJSONError(w, http.StatusNotFound, "audit database not configured")
		return
	}

	q := r.URL.Query()
	filter := auditor.QueryFilter{
		Action: q.Get("action"),
		Level:  q.Get("level"),
		RunID:  q.Get("run_id"),
		Reason: q.Get("reason"),
		Title:  q.Get("title"),
		Limit:  defaultQueryLimit,
	}

	if filter.Action != "" && !oneOf(filter.Action, core.AuditActionPlan, core.AuditActionExecute, core.AuditActionRun) {
		writeJSONError(w, http.StatusBadRequest, "invalid action: "+filter.Action)
		return
	}
	if filter.Level != "" && !oneOf(filter.Level, "debug", "info", "warn", "error") {
		writeJSONError(w, http.StatusBadRequest, "invalid level: "+filter.Level)
		return
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSONError(w, http.StatusBadRequest, "invalid limit: "+v)
			return
		}
		filter.Limit = min(n, maxQueryLimit)
	}
	if v := q.Get("since"); v != "" {
		t, err := ParseTimeParam(v, time.Now())
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		filter.Since = t
	}

	records, err := d.audit.Query(r.Context(), filter)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if records == nil {
		records = []auditor.AuditRecord{}
	}
	writeJSONResponse(w, http.StatusOK, records)
}

func (d *Daemon) handleAuditStats(w http.ResponseWriter, r *http.Request) {
	if d.audit == nil {
		writeJSONError(w, http.StatusNotFound, "audit database not configured")
		return
	}
	stats, err := d.audit.Stats(r.Context())
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSONResponse(w, http.StatusOK, stats)
}

// ParseDurationWithDays extends time.ParseDuration with a "d" suffix for days.
func ParseDurationWithDays(s string) (time.Duration, error) {
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return d, nil
}

// ParseTimeParam accepts an RFC3339 timestamp or a look-back duration such as "24h" or "7d".
func ParseTimeParam(s string, now time.Time) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	d, err := ParseDurationWithDays(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q: want RFC3339 or a duration like 24h or 7d", s)
	}
	return now.Add(-d), nil
}

func oneOf(v string, options ...string) bool {
	for _, o := range options {
		if v == o {
			return true
		}
	}
	return false
}

func writeJSONResponse(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSONResponse(w, status, map[string]string{"error": msg})
}
