package auditor

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration

	"github.com/ChrisB0-2/radarr-prune/internal/core"
)

// SQLiteAuditor persists prune decisions to a SQLite database.
// Each row carries a checksum so edits to history can be detected.
type SQLiteAuditor struct {
	db        *sql.DB
	mu        sync.Mutex
	retention time.Duration // 0 = keep forever
	writeErr  error
}

// SQLiteConfig configures the SQLite auditor.
type SQLiteConfig struct {
	Path      string        // Database file path
	Retention time.Duration // How long to keep records (0 = forever)
}

// AuditRecord represents a single audit log entry.
type AuditRecord struct {
	ID           int64     `json:"id,omitempty"` // SQLite row id
	Timestamp    time.Time `json:"timestamp"`
	Level        string    `json:"level"`
	Action       string    `json:"action"`
	RunID        string    `json:"run_id,omitempty"`
	MovieID      int       `json:"movie_id,omitempty"`
	Title        string    `json:"title,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	Removed      bool      `json:"removed"`
	Planned      bool      `json:"planned"`
	DownloadDate string    `json:"download_date,omitempty"`
	Error        string    `json:"error,omitempty"`
	Fields       string    `json:"fields,omitempty"` // JSON-encoded event fields
	Checksum     string    `json:"checksum"`
}

// NewSQLite opens (or creates) the audit database. Records older than
// cfg.Retention are dropped on open.
func NewSQLite(cfg SQLiteConfig) (*SQLiteAuditor, error) {
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	a := &SQLiteAuditor{
		db:        db,
		retention: cfg.Retention,
	}

	if a.retention > 0 {
		if _, err := a.Prune(context.Background(), a.retention); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply retention: %w", err)
		}
	}

	return a, nil
}

func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS audit_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp TEXT NOT NULL,
		level TEXT NOT NULL,
		action TEXT NOT NULL,
		run_id TEXT,
		movie_id INTEGER,
		title TEXT,
		reason TEXT,
		removed INTEGER NOT NULL DEFAULT 0,
		planned INTEGER NOT NULL DEFAULT 0,
		download_date TEXT,
		error TEXT,
		fields TEXT,
		checksum TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_log(timestamp);
	CREATE INDEX IF NOT EXISTS idx_audit_action ON audit_log(action);
	CREATE INDEX IF NOT EXISTS idx_audit_run ON audit_log(run_id);
	CREATE INDEX IF NOT EXISTS idx_audit_reason ON audit_log(reason);

	CREATE TABLE IF NOT EXISTS audit_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`

	if _, err := db.Exec(schema); err != nil {
		return err
	}

	_, err := db.Exec(`
		INSERT OR IGNORE INTO audit_meta (key, value)
		VALUES ('created_at', ?)
	`, time.Now().UTC().Format(time.RFC3339))

	return err
}

// Record persists an audit event. Write failures are kept for Err and never
// returned: auditing must not interrupt a run.
func (a *SQLiteAuditor) Record(ctx context.Context, evt core.AuditEvent) {
	r := newRecord(evt)

	a.mu.Lock()
	defer a.mu.Unlock()

	_, err := a.db.ExecContext(ctx, `
		INSERT INTO audit_log (timestamp, level, action, run_id, movie_id, title, reason, removed, planned, download_date, error, fields, checksum)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.Timestamp.UTC().Format(time.RFC3339Nano),
		r.Level,
		r.Action,
		r.RunID,
		r.MovieID,
		r.Title,
		r.Reason,
		r.Removed,
		r.Planned,
		r.DownloadDate,
		r.Error,
		r.Fields,
		r.Checksum,
	)
	if err != nil && a.writeErr == nil {
		a.writeErr = fmt.Errorf("audit write: %w", err)
	}
}

// Err returns the first write error encountered, if any.
func (a *SQLiteAuditor) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.writeErr
}

// checksum is a SHA256 over every stored column except id.
// newRecord flattens an event into the stored shape shared by every backend.
func newRecord(evt core.AuditEvent) AuditRecord {
	if evt.Time.IsZero() {
		evt.Time = time.Now()
	}

	r := AuditRecord{
		Timestamp: evt.Time,
		Level:     evt.Level,
		Action:    evt.Action,
		RunID:     evt.RunID,
		MovieID:   evt.MovieID,
		Title:     evt.Title,
	}
	if evt.Err != nil {
		r.Error = evt.Err.Error()
	}
	if evt.Fields != nil {
		r.Reason, _ = evt.Fields["reason"].(string)
		r.Removed, _ = evt.Fields["removed"].(bool)
		r.Planned, _ = evt.Fields["planned"].(bool)
		r.DownloadDate, _ = evt.Fields["download_date"].(string)
		if b, err := json.Marshal(evt.Fields); err == nil {
			r.Fields = string(b)
		}
	}
	r.Checksum = checksum(r)
	return r
}

func checksum(r AuditRecord) string {
	data := fmt.Sprintf("%s|%s|%s|%s|%d|%s|%s|%t|%t|%s|%s|%s",
		r.Timestamp.UTC().Format(time.RFC3339Nano),
		r.Level, r.Action, r.RunID, r.MovieID, r.Title, r.Reason,
		r.Removed, r.Planned, r.DownloadDate, r.Error, r.Fields)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

// Close closes the database connection.
func (a *SQLiteAuditor) Close() error {
	return a.db.Close()
}

const selectColumns = `SELECT id, timestamp, level, action, run_id, movie_id, title, reason, removed, planned, download_date, error, fields, checksum FROM audit_log`

// QueryFilter specifies filters for querying audit records.
type QueryFilter struct {
	Since  time.Time
	Until  time.Time
	Action string // plan, execute, run
	Level  string // info, warn, error
	RunID  string
	Reason string // keep-tag, removed, ...
	Title  string // partial match
	Limit  int
}

// Query retrieves audit records matching the given filters, newest first.
func (a *SQLiteAuditor) Query(ctx context.Context, filter QueryFilter) ([]AuditRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	query := selectColumns + ` WHERE 1=1`
	args := []interface{}{}

	if !filter.Since.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, filter.Since.UTC().Format(time.RFC3339Nano))
	}
	if !filter.Until.IsZero() {
		query += " AND timestamp <= ?"
		args = append(args, filter.Until.UTC().Format(time.RFC3339Nano))
	}
	if filter.Action != "" {
		query += " AND action = ?"
		args = append(args, filter.Action)
	}
	if filter.Level != "" {
		query += " AND level = ?"
		args = append(args, filter.Level)
	}
	if filter.RunID != "" {
		query += " AND run_id = ?"
		args = append(args, filter.RunID)
	}
	if filter.Reason != "" {
		query += " AND reason = ?"
		args = append(args, filter.Reason)
	}
	if filter.Title != "" {
		query += " AND title LIKE ?"
		args = append(args, "%"+filter.Title+"%")
	}

	query += " ORDER BY timestamp DESC, id DESC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	var records []AuditRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}

	return records, rows.Err()
}

func scanRecord(rows *sql.Rows) (AuditRecord, error) {
	var r AuditRecord
	var ts string
	var runID, title, reason, downloadDate, errStr, fields sql.NullString
	var movieID sql.NullInt64

	err := rows.Scan(&r.ID, &ts, &r.Level, &r.Action, &runID, &movieID, &title, &reason,
		&r.Removed, &r.Planned, &downloadDate, &errStr, &fields, &r.Checksum)
	if err != nil {
		return r, fmt.Errorf("scan row: %w", err)
	}

	r.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
	r.RunID = runID.String
	r.MovieID = int(movieID.Int64)
	r.Title = title.String
	r.Reason = reason.String
	r.DownloadDate = downloadDate.String
	r.Error = errStr.String
	r.Fields = fields.String
	return r, nil
}

// VerifyIntegrity checks all records for tampering.
// Returns list of record IDs with invalid checksums.
func (a *SQLiteAuditor) VerifyIntegrity(ctx context.Context) ([]int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	rows, err := a.db.QueryContext(ctx, selectColumns+` ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query for integrity check: %w", err)
	}
	defer rows.Close()

	var tampered []int64
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		if r.Checksum != checksum(r) {
			tampered = append(tampered, r.ID)
		}
	}

	return tampered, rows.Err()
}

// AuditStats contains summary statistics.
type AuditStats struct {
	TotalRecords int64            `json:"total_records"`
	FirstRecord  time.Time        `json:"first_record"`
	LastRecord   time.Time        `json:"last_record"`
	Runs         int64            `json:"runs"`
	Removed      int64            `json:"removed"` // successful removals in execute mode
	Planned      int64            `json:"planned"`
	Errors       int64            `json:"errors"`
	ByReason     map[string]int64 `json:"by_reason"` // plan decisions per reason
}

// Stats returns summary statistics from the audit log.
func (a *SQLiteAuditor) Stats(ctx context.Context) (*AuditStats, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	stats := &AuditStats{ByReason: map[string]int64{}}

	if err := a.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_log").Scan(&stats.TotalRecords); err != nil {
		return nil, err
	}

	var firstTS, lastTS sql.NullString
	if err := a.db.QueryRowContext(ctx, "SELECT MIN(timestamp), MAX(timestamp) FROM audit_log").Scan(&firstTS, &lastTS); err != nil && err != sql.ErrNoRows {
		return nil, err
	}
	if firstTS.Valid {
		stats.FirstRecord, _ = time.Parse(time.RFC3339Nano, firstTS.String)
	}
	if lastTS.Valid {
		stats.LastRecord, _ = time.Parse(time.RFC3339Nano, lastTS.String)
	}

	counts := []struct {
		dst   *int64
		query string
	}{
		{&stats.Runs, "SELECT COUNT(DISTINCT run_id) FROM audit_log WHERE run_id <> ''"},
		{&stats.Removed, "SELECT COUNT(*) FROM audit_log WHERE action = 'execute' AND removed = 1 AND error = '' AND fields LIKE '%\"deleted\":true%'"},
		{&stats.Planned, "SELECT COUNT(*) FROM audit_log WHERE action = 'execute' AND planned = 1"},
		{&stats.Errors, "SELECT COUNT(*) FROM audit_log WHERE level = 'error'"},
	}
	for _, c := range counts {
		if err := a.db.QueryRowContext(ctx, c.query).Scan(c.dst); err != nil {
			return nil, err
		}
	}

	rows, err := a.db.QueryContext(ctx, "SELECT reason, COUNT(*) FROM audit_log WHERE action = 'plan' AND reason <> '' GROUP BY reason")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var reason string
		var n int64
		if err := rows.Scan(&reason, &n); err != nil {
			return nil, err
		}
		stats.ByReason[reason] = n
	}

	return stats, rows.Err()
}

// Prune removes records older than the retention period.
func (a *SQLiteAuditor) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	cutoff := time.Now().Add(-olderThan).UTC().Format(time.RFC3339Nano)
	result, err := a.db.ExecContext(ctx, "DELETE FROM audit_log WHERE timestamp < ?", cutoff)
	if err != nil {
		return 0, err
	}

	return result.RowsAffected()
}

// Export writes all records since the given time as indented JSON.
func (a *SQLiteAuditor) Export(ctx context.Context, since time.Time) ([]byte, error) {
	records, err := a.Query(ctx, QueryFilter{Since: since})
	if err != nil {
		return nil, err
	}

	return json.MarshalIndent(records, "", "  ")
}

var _ core.Auditor = (*SQLiteAuditor)(nil)
