/*
Package sqlite provides a SQLite-backed implementation of labor.Store.

PURPOSE:
  Persists time entries, rate records, the audit trail and the local copy of
  the worker/job directories. Every mutation the core makes goes through
  WithTx, so an entry write and its audit record commit or roll back together.

APPEND-ONLY ENFORCEMENT:
  audit_records carries BEFORE UPDATE / BEFORE DELETE triggers that abort.
  No code path issues UPDATE or DELETE against it, and the triggers make
  sure nothing else can either.

KEY TABLES:
  time_entries:  priced entries (hours, rates and pay as decimal TEXT)
  rate_records:  job / worker / skill rates with [effective, expiry) windows
  audit_records: immutable mutation history, field diffs as JSON
  workers, jobs: directory data used for tier derivation and enrichment

CONCURRENCY:
  The pool is capped at one connection. SQLite serializes writers anyway,
  and ":memory:" databases exist per connection. The consequence: inside a
  WithTx callback only the Tx may be used. Touching the Store there would
  wait for the connection the callback already holds.

TIMESTAMPS:
  Stored as fixed-width UTC RFC3339 with nanoseconds so that string order
  is time order. Work and rate dates are stored as YYYY-MM-DD.

USAGE:
  store, err := sqlite.New("./data/laborcost.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - labor/store.go: interface definitions
  - labor/store/memory.go: in-memory implementation for testing
  - store/pg: PostgreSQL implementation
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/laborcost/labor"
)

const timestampLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements labor.Store using SQLite.
type Store struct {
	db *sql.DB
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the handle for health checks and tests.
func (s *Store) DB() *sql.DB {
	return s.db
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS workers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT '',
		skill_level TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		number TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL DEFAULT '',
		customer_name TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS time_entries (
		id TEXT PRIMARY KEY,
		worker_id TEXT NOT NULL,
		job_id TEXT NOT NULL,
		work_date TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		has_breaks INTEGER NOT NULL DEFAULT 0,
		hours TEXT NOT NULL,
		regular_hours TEXT NOT NULL,
		overtime_hours TEXT NOT NULL,
		doubletime_hours TEXT NOT NULL,
		applied_regular_rate TEXT NOT NULL,
		applied_overtime_rate TEXT NOT NULL,
		rate_source TEXT NOT NULL,
		total_pay TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Week-to-date aggregation (hot path)
	CREATE INDEX IF NOT EXISTS idx_time_entries_worker_date
		ON time_entries(worker_id, work_date);
	CREATE INDEX IF NOT EXISTS idx_time_entries_status_date
		ON time_entries(status, work_date);

	CREATE TABLE IF NOT EXISTS rate_records (
		id TEXT PRIMARY KEY,
		scope TEXT NOT NULL,
		job_id TEXT NOT NULL DEFAULT '',
		worker_id TEXT NOT NULL DEFAULT '',
		skill_level TEXT NOT NULL DEFAULT '',
		regular_rate TEXT NOT NULL,
		overtime_rate TEXT,
		effective_date TEXT NOT NULL,
		expiry_date TEXT,
		active INTEGER NOT NULL DEFAULT 1,
		created_by TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_rate_records_key
		ON rate_records(scope, job_id, worker_id, skill_level, effective_date);

	CREATE TABLE IF NOT EXISTS audit_records (
		id TEXT PRIMARY KEY,
		entry_id TEXT NOT NULL,
		worker_id TEXT NOT NULL,
		job_id TEXT NOT NULL DEFAULT '',
		action TEXT NOT NULL,
		field_diffs TEXT NOT NULL,
		changed_by TEXT NOT NULL,
		changed_at TEXT NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		change_reason TEXT NOT NULL DEFAULT '',
		correlation_id TEXT,
		related_cost_run_id TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_audit_records_entry
		ON audit_records(entry_id, changed_at);
	CREATE INDEX IF NOT EXISTS idx_audit_records_worker
		ON audit_records(worker_id, changed_at);
	CREATE INDEX IF NOT EXISTS idx_audit_records_correlation
		ON audit_records(correlation_id) WHERE correlation_id IS NOT NULL;

	-- Audit records are immutable
	CREATE TRIGGER IF NOT EXISTS audit_records_no_update
		BEFORE UPDATE ON audit_records
	BEGIN
		SELECT RAISE(ABORT, 'audit_records is append-only');
	END;

	CREATE TRIGGER IF NOT EXISTS audit_records_no_delete
		BEFORE DELETE ON audit_records
	BEGIN
		SELECT RAISE(ABORT, 'audit_records is append-only');
	END;
	`

	_, err := s.db.Exec(schema)
	return err
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

// =============================================================================
// TIME ENTRIES
// =============================================================================

const entryColumns = `id, worker_id, job_id, work_date, description, has_breaks,
	hours, regular_hours, overtime_hours, doubletime_hours,
	applied_regular_rate, applied_overtime_rate, rate_source, total_pay,
	status, created_at, updated_at`

func (s *Store) GetEntry(ctx context.Context, id labor.EntryID) (labor.TimeEntry, error) {
	return getEntry(ctx, s.db, id)
}

func (s *Store) ListEntries(ctx context.Context, f labor.EntryFilter) ([]labor.TimeEntry, error) {
	return listEntries(ctx, s.db, f)
}

func getEntry(ctx context.Context, q querier, id labor.EntryID) (labor.TimeEntry, error) {
	row := q.QueryRowContext(ctx, "SELECT "+entryColumns+" FROM time_entries WHERE id = ?", id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return labor.TimeEntry{}, labor.ErrEntryNotFound
	}
	return e, err
}

func listEntries(ctx context.Context, q querier, f labor.EntryFilter) ([]labor.TimeEntry, error) {
	var (
		where []string
		args  []any
	)
	if f.WorkerID != "" {
		where, args = append(where, "worker_id = ?"), append(args, f.WorkerID)
	}
	if f.JobID != "" {
		where, args = append(where, "job_id = ?"), append(args, f.JobID)
	}
	if !f.From.IsZero() {
		where, args = append(where, "work_date >= ?"), append(args, f.From.Format(labor.DateLayout))
	}
	if !f.To.IsZero() {
		where, args = append(where, "work_date < ?"), append(args, f.To.Format(labor.DateLayout))
	}
	if len(f.Statuses) > 0 {
		marks := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			marks[i] = "?"
			args = append(args, st)
		}
		where = append(where, "status IN ("+strings.Join(marks, ", ")+")")
	}

	query := "SELECT " + entryColumns + " FROM time_entries"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY work_date ASC, created_at ASC, id ASC"

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	var entries []labor.TimeEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanEntry(row scanner) (labor.TimeEntry, error) {
	var (
		e                                    labor.TimeEntry
		workDate, createdAt, updatedAt       string
		hours, regular, overtime, doubletime string
		regularRate, overtimeRate, totalPay  string
		hasBreaks                            bool
	)
	err := row.Scan(&e.ID, &e.WorkerID, &e.JobID, &workDate, &e.Description, &hasBreaks,
		&hours, &regular, &overtime, &doubletime,
		&regularRate, &overtimeRate, &e.RateSource, &totalPay,
		&e.Status, &createdAt, &updatedAt)
	if err != nil {
		return e, err
	}
	e.HasBreaks = hasBreaks
	e.WorkDate, _ = labor.ParseDate(workDate)
	e.CreatedAt = parseTimestamp(createdAt)
	e.UpdatedAt = parseTimestamp(updatedAt)

	for _, f := range []struct {
		dst *decimal.Decimal
		src string
	}{
		{&e.Hours, hours}, {&e.RegularHours, regular}, {&e.OvertimeHours, overtime},
		{&e.DoubletimeHours, doubletime}, {&e.AppliedRegularRate, regularRate},
		{&e.AppliedOvertimeRate, overtimeRate}, {&e.TotalPay, totalPay},
	} {
		d, err := decimal.NewFromString(f.src)
		if err != nil {
			return e, fmt.Errorf("failed to parse decimal %q for entry %s: %w", f.src, e.ID, err)
		}
		*f.dst = d
	}
	return e, nil
}

func insertEntry(ctx context.Context, q querier, e labor.TimeEntry) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO time_entries (`+entryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.WorkerID, e.JobID, e.WorkDate.Format(labor.DateLayout), e.Description, e.HasBreaks,
		e.Hours.String(), e.RegularHours.String(), e.OvertimeHours.String(), e.DoubletimeHours.String(),
		e.AppliedRegularRate.String(), e.AppliedOvertimeRate.String(), e.RateSource, e.TotalPay.String(),
		e.Status, formatTimestamp(e.CreatedAt), formatTimestamp(e.UpdatedAt),
	)
	if isUniqueConstraintError(err) {
		return fmt.Errorf("%w: entry %s already exists", labor.ErrInvalidInput, e.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to insert entry: %w", err)
	}
	return nil
}

func updateEntry(ctx context.Context, q querier, e labor.TimeEntry) error {
	res, err := q.ExecContext(ctx, `
		UPDATE time_entries SET
			job_id = ?, work_date = ?, description = ?, has_breaks = ?,
			hours = ?, regular_hours = ?, overtime_hours = ?, doubletime_hours = ?,
			applied_regular_rate = ?, applied_overtime_rate = ?, rate_source = ?, total_pay = ?,
			status = ?, updated_at = ?
		WHERE id = ?`,
		e.JobID, e.WorkDate.Format(labor.DateLayout), e.Description, e.HasBreaks,
		e.Hours.String(), e.RegularHours.String(), e.OvertimeHours.String(), e.DoubletimeHours.String(),
		e.AppliedRegularRate.String(), e.AppliedOvertimeRate.String(), e.RateSource, e.TotalPay.String(),
		e.Status, formatTimestamp(e.UpdatedAt),
		e.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update entry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return labor.ErrEntryNotFound
	}
	return nil
}

// =============================================================================
// RATE RECORDS
// =============================================================================

const rateColumns = `id, scope, job_id, worker_id, skill_level, regular_rate, overtime_rate,
	effective_date, expiry_date, active, created_by, created_at`

// ActiveRates returns active records for key whose window contains asOf.
func (s *Store) ActiveRates(ctx context.Context, key labor.RateKey, asOf time.Time) ([]labor.RateRecord, error) {
	day := labor.NormalizeDate(asOf).Format(labor.DateLayout)
	return queryRates(ctx, s.db, `
		SELECT `+rateColumns+` FROM rate_records
		WHERE scope = ? AND job_id = ? AND worker_id = ? AND skill_level = ?
		  AND active = 1
		  AND effective_date <= ?
		  AND (expiry_date IS NULL OR expiry_date > ?)
		ORDER BY effective_date DESC`,
		key.Scope, key.JobID, key.WorkerID, key.SkillLevel, day, day)
}

func ratesForKey(ctx context.Context, q querier, key labor.RateKey) ([]labor.RateRecord, error) {
	return queryRates(ctx, q, `
		SELECT `+rateColumns+` FROM rate_records
		WHERE scope = ? AND job_id = ? AND worker_id = ? AND skill_level = ?
		ORDER BY effective_date ASC`,
		key.Scope, key.JobID, key.WorkerID, key.SkillLevel)
}

func getRate(ctx context.Context, q querier, id labor.RateID) (labor.RateRecord, error) {
	r, err := scanRate(q.QueryRowContext(ctx, "SELECT "+rateColumns+" FROM rate_records WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return labor.RateRecord{}, labor.ErrRateNotFound
	}
	return r, err
}

func queryRates(ctx context.Context, q querier, query string, args ...any) ([]labor.RateRecord, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query rates: %w", err)
	}
	defer rows.Close()

	var out []labor.RateRecord
	for rows.Next() {
		r, err := scanRate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanRate(row scanner) (labor.RateRecord, error) {
	var (
		r                      labor.RateRecord
		regular, effective, at string
		overtime, expiry       sql.NullString
	)
	err := row.Scan(&r.ID, &r.Key.Scope, &r.Key.JobID, &r.Key.WorkerID, &r.Key.SkillLevel,
		&regular, &overtime, &effective, &expiry, &r.Active, &r.CreatedBy, &at)
	if err != nil {
		return r, err
	}
	if r.RegularRate, err = decimal.NewFromString(regular); err != nil {
		return r, fmt.Errorf("failed to parse rate %s: %w", r.ID, err)
	}
	if overtime.Valid {
		ot, err := decimal.NewFromString(overtime.String)
		if err != nil {
			return r, fmt.Errorf("failed to parse overtime rate %s: %w", r.ID, err)
		}
		r.OvertimeRate = &ot
	}
	r.EffectiveDate, _ = labor.ParseDate(effective)
	if expiry.Valid {
		exp, _ := labor.ParseDate(expiry.String)
		r.ExpiryDate = &exp
	}
	r.CreatedAt = parseTimestamp(at)
	return r, nil
}

func insertRate(ctx context.Context, q querier, r labor.RateRecord) error {
	var overtime, expiry sql.NullString
	if r.OvertimeRate != nil {
		overtime = sql.NullString{String: r.OvertimeRate.String(), Valid: true}
	}
	if r.ExpiryDate != nil {
		expiry = sql.NullString{String: r.ExpiryDate.Format(labor.DateLayout), Valid: true}
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO rate_records (`+rateColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Key.Scope, r.Key.JobID, r.Key.WorkerID, r.Key.SkillLevel,
		r.RegularRate.String(), overtime, r.EffectiveDate.Format(labor.DateLayout), expiry,
		r.Active, r.CreatedBy, formatTimestamp(r.CreatedAt),
	)
	if isUniqueConstraintError(err) {
		return fmt.Errorf("%w: rate %s already exists", labor.ErrInvalidInput, r.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to insert rate: %w", err)
	}
	return nil
}

func setRateActive(ctx context.Context, q querier, id labor.RateID, active bool) error {
	res, err := q.ExecContext(ctx, "UPDATE rate_records SET active = ? WHERE id = ?", active, id)
	if err != nil {
		return fmt.Errorf("failed to update rate: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return labor.ErrRateNotFound
	}
	return nil
}

// =============================================================================
// AUDIT RECORDS
// =============================================================================

const auditColumns = `id, entry_id, worker_id, job_id, action, field_diffs, changed_by, changed_at,
	notes, change_reason, correlation_id, related_cost_run_id`

// QueryAudit returns records matching f, newest first unless f.Ascending.
func (s *Store) QueryAudit(ctx context.Context, f labor.AuditFilter) ([]labor.AuditRecord, error) {
	f = f.Normalize()
	var (
		where []string
		args  []any
	)
	add := func(clause string, v any) {
		where = append(where, clause)
		args = append(args, v)
	}
	if f.EntryID != "" {
		add("entry_id = ?", f.EntryID)
	}
	if f.WorkerID != "" {
		add("worker_id = ?", f.WorkerID)
	}
	if f.JobID != "" {
		add("job_id = ?", f.JobID)
	}
	if f.Action != "" {
		add("action = ?", f.Action)
	}
	if f.CorrelationID != "" {
		add("correlation_id = ?", f.CorrelationID)
	}
	if !f.From.IsZero() {
		add("changed_at >= ?", formatTimestamp(f.From))
	}
	if !f.To.IsZero() {
		add("changed_at < ?", formatTimestamp(f.To))
	}

	query := "SELECT " + auditColumns + " FROM audit_records"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	if f.Ascending {
		query += " ORDER BY changed_at ASC, rowid ASC"
	} else {
		query += " ORDER BY changed_at DESC, rowid DESC"
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, f.Limit, f.Offset)

	return queryAudit(ctx, s.db, query, args...)
}

// AuditByCorrelation returns one batch's records, oldest first.
func (s *Store) AuditByCorrelation(ctx context.Context, id labor.CorrelationID) ([]labor.AuditRecord, error) {
	return queryAudit(ctx, s.db, `
		SELECT `+auditColumns+` FROM audit_records
		WHERE correlation_id = ?
		ORDER BY changed_at ASC, rowid ASC`, id)
}

func queryAudit(ctx context.Context, q querier, query string, args ...any) ([]labor.AuditRecord, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit records: %w", err)
	}
	defer rows.Close()

	var out []labor.AuditRecord
	for rows.Next() {
		var (
			r                    labor.AuditRecord
			diffs, changedAt     string
			correlation, costRun sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.EntryID, &r.WorkerID, &r.JobID, &r.Action, &diffs,
			&r.ChangedBy, &changedAt, &r.Notes, &r.ChangeReason, &correlation, &costRun); err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}
		r.FieldDiffs = labor.FieldDiffs{}
		if err := json.Unmarshal([]byte(diffs), &r.FieldDiffs); err != nil {
			return nil, fmt.Errorf("failed to decode diffs for audit record %s: %w", r.ID, err)
		}
		r.ChangedAt = parseTimestamp(changedAt)
		r.CorrelationID = labor.CorrelationID(correlation.String)
		r.RelatedCostRunID = labor.CostRunID(costRun.String)
		out = append(out, r)
	}
	return out, rows.Err()
}

func appendAudit(ctx context.Context, q querier, r labor.AuditRecord) error {
	diffs := r.FieldDiffs
	if diffs == nil {
		diffs = labor.FieldDiffs{}
	}
	diffsJSON, err := json.Marshal(diffs)
	if err != nil {
		return fmt.Errorf("failed to encode field diffs: %w", err)
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO audit_records (`+auditColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.EntryID, r.WorkerID, r.JobID, r.Action, string(diffsJSON),
		r.ChangedBy, formatTimestamp(r.ChangedAt), r.Notes, r.ChangeReason,
		nullString(string(r.CorrelationID)), nullString(string(r.RelatedCostRunID)),
	)
	if err != nil {
		return fmt.Errorf("failed to append audit record: %w", err)
	}
	return nil
}

// =============================================================================
// DIRECTORIES
// =============================================================================

func (s *Store) GetWorker(ctx context.Context, id labor.WorkerID) (labor.Worker, error) {
	var (
		w         labor.Worker
		createdAt string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, role, skill_level, created_at FROM workers WHERE id = ?", id,
	).Scan(&w.ID, &w.Name, &w.Role, &w.SkillLevel, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return labor.Worker{}, labor.ErrWorkerNotFound
	}
	if err != nil {
		return labor.Worker{}, err
	}
	w.CreatedAt = parseTimestamp(createdAt)
	return w, nil
}

// SaveWorker upserts a worker.
func (s *Store) SaveWorker(ctx context.Context, w labor.Worker) error {
	if w.CreatedAt.IsZero() {
		w.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workers (id, name, role, skill_level, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			role = excluded.role,
			skill_level = excluded.skill_level`,
		w.ID, w.Name, w.Role, w.SkillLevel, formatTimestamp(w.CreatedAt),
	)
	return err
}

func (s *Store) LookupJob(ctx context.Context, id labor.JobID) (labor.JobInfo, error) {
	var j labor.JobInfo
	err := s.db.QueryRowContext(ctx,
		"SELECT id, number, name, customer_name FROM jobs WHERE id = ?", id,
	).Scan(&j.ID, &j.Number, &j.Name, &j.CustomerName)
	if errors.Is(err, sql.ErrNoRows) {
		return labor.JobInfo{}, labor.ErrJobNotFound
	}
	return j, err
}

// SaveJob upserts a job.
func (s *Store) SaveJob(ctx context.Context, j labor.JobInfo) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, number, name, customer_name)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			number = excluded.number,
			name = excluded.name,
			customer_name = excluded.customer_name`,
		j.ID, j.Number, j.Name, j.CustomerName,
	)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// WithTx executes fn within a database transaction. The transaction is bound
// to ctx: if ctx is done before commit, it rolls back.
func (s *Store) WithTx(ctx context.Context, fn func(labor.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = sqlTx.Rollback() }()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) GetEntry(ctx context.Context, id labor.EntryID) (labor.TimeEntry, error) {
	return getEntry(ctx, ts.tx, id)
}

func (ts *txStore) ListEntries(ctx context.Context, f labor.EntryFilter) ([]labor.TimeEntry, error) {
	return listEntries(ctx, ts.tx, f)
}

func (ts *txStore) InsertEntry(ctx context.Context, e labor.TimeEntry) error {
	return insertEntry(ctx, ts.tx, e)
}

func (ts *txStore) UpdateEntry(ctx context.Context, e labor.TimeEntry) error {
	return updateEntry(ctx, ts.tx, e)
}

func (ts *txStore) GetRate(ctx context.Context, id labor.RateID) (labor.RateRecord, error) {
	return getRate(ctx, ts.tx, id)
}

func (ts *txStore) RatesForKey(ctx context.Context, key labor.RateKey) ([]labor.RateRecord, error) {
	return ratesForKey(ctx, ts.tx, key)
}

func (ts *txStore) InsertRate(ctx context.Context, r labor.RateRecord) error {
	return insertRate(ctx, ts.tx, r)
}

func (ts *txStore) SetRateActive(ctx context.Context, id labor.RateID, active bool) error {
	return setRateActive(ctx, ts.tx, id, active)
}

func (ts *txStore) AppendAudit(ctx context.Context, r labor.AuditRecord) error {
	return appendAudit(ctx, ts.tx, r)
}

var (
	_ labor.Store = (*Store)(nil)
	_ labor.Tx    = (*txStore)(nil)
)

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func parseTimestamp(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t.UTC()
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
