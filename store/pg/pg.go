// Package pg implements labor.Store on PostgreSQL through the pgx stdlib driver.
//
// Entries re-read inside a transaction are locked with SELECT ... FOR UPDATE,
// so two writers to the same entry serialize on the row. audit_records is
// protected by a trigger that rejects UPDATE and DELETE.
package pg

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"github.com/warp/laborcost/labor"
)

//go:embed schema.sql
var schema string

// Postgres SQLSTATE codes the store maps to domain errors.
const (
	codeUniqueViolation      = "23505"
	codeSerializationFailure = "40001"
	codeQueryCanceled        = "57014"
)

type Store struct {
	db *sql.DB
}

// Open connects with the pgx driver. It does not create the schema; call Migrate.
func Open(dsn string, maxOpenConns int) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if maxOpenConns <= 0 {
		maxOpenConns = 25
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxOpenConns / 2)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// New wraps an existing handle.
func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Migrate applies the embedded schema. It is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

// args numbers placeholders as they are appended.
type args struct {
	vals []any
}

func (a *args) add(v any) string {
	a.vals = append(a.vals, v)
	return fmt.Sprintf("$%d", len(a.vals))
}

// ===== entries =====

const entryColumns = `id, worker_id, job_id, work_date, description, has_breaks,
	hours, regular_hours, overtime_hours, doubletime_hours,
	applied_regular_rate, applied_overtime_rate, rate_source, total_pay,
	status, created_at, updated_at`

func (s *Store) GetEntry(ctx context.Context, id labor.EntryID) (labor.TimeEntry, error) {
	return getEntry(ctx, s.db, id, false)
}

func (s *Store) ListEntries(ctx context.Context, f labor.EntryFilter) ([]labor.TimeEntry, error) {
	return listEntries(ctx, s.db, f)
}

func getEntry(ctx context.Context, q querier, id labor.EntryID, lock bool) (labor.TimeEntry, error) {
	query := `select ` + entryColumns + ` from time_entries where id = $1`
	if lock {
		query += ` for update`
	}
	e, err := scanEntry(q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return labor.TimeEntry{}, labor.ErrEntryNotFound
	}
	if err != nil {
		return labor.TimeEntry{}, mapErr(err)
	}
	return e, nil
}

func listEntries(ctx context.Context, q querier, f labor.EntryFilter) ([]labor.TimeEntry, error) {
	var (
		a     args
		where []string
	)
	if f.WorkerID != "" {
		where = append(where, "worker_id = "+a.add(f.WorkerID))
	}
	if f.JobID != "" {
		where = append(where, "job_id = "+a.add(f.JobID))
	}
	if !f.From.IsZero() {
		where = append(where, "work_date >= "+a.add(f.From))
	}
	if !f.To.IsZero() {
		where = append(where, "work_date < "+a.add(f.To))
	}
	if len(f.Statuses) > 0 {
		marks := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			marks[i] = a.add(string(st))
		}
		where = append(where, "status in ("+strings.Join(marks, ", ")+")")
	}
	query := `select ` + entryColumns + ` from time_entries`
	if len(where) > 0 {
		query += ` where ` + strings.Join(where, " and ")
	}
	query += ` order by work_date, created_at, id`

	rows, err := q.QueryContext(ctx, query, a.vals...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []labor.TimeEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, mapErr(rows.Err())
}

func scanEntry(row scanner) (labor.TimeEntry, error) {
	var e labor.TimeEntry
	err := row.Scan(&e.ID, &e.WorkerID, &e.JobID, &e.WorkDate, &e.Description, &e.HasBreaks,
		&e.Hours, &e.RegularHours, &e.OvertimeHours, &e.DoubletimeHours,
		&e.AppliedRegularRate, &e.AppliedOvertimeRate, &e.RateSource, &e.TotalPay,
		&e.Status, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return e, err
	}
	e.WorkDate = labor.NormalizeDate(e.WorkDate)
	e.CreatedAt = e.CreatedAt.UTC()
	e.UpdatedAt = e.UpdatedAt.UTC()
	return e, nil
}

func insertEntry(ctx context.Context, q querier, e labor.TimeEntry) error {
	_, err := q.ExecContext(ctx, `
		insert into time_entries (`+entryColumns+`)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		e.ID, e.WorkerID, e.JobID, e.WorkDate, e.Description, e.HasBreaks,
		e.Hours, e.RegularHours, e.OvertimeHours, e.DoubletimeHours,
		e.AppliedRegularRate, e.AppliedOvertimeRate, e.RateSource, e.TotalPay,
		e.Status, e.CreatedAt, e.UpdatedAt,
	)
	return mapErr(err)
}

func updateEntry(ctx context.Context, q querier, e labor.TimeEntry) error {
	res, err := q.ExecContext(ctx, `
		update time_entries set
			job_id = $2, work_date = $3, description = $4, has_breaks = $5,
			hours = $6, regular_hours = $7, overtime_hours = $8, doubletime_hours = $9,
			applied_regular_rate = $10, applied_overtime_rate = $11, rate_source = $12, total_pay = $13,
			status = $14, updated_at = $15
		where id = $1`,
		e.ID, e.JobID, e.WorkDate, e.Description, e.HasBreaks,
		e.Hours, e.RegularHours, e.OvertimeHours, e.DoubletimeHours,
		e.AppliedRegularRate, e.AppliedOvertimeRate, e.RateSource, e.TotalPay,
		e.Status, e.UpdatedAt,
	)
	if err != nil {
		return mapErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return labor.ErrEntryNotFound
	}
	return nil
}

// ===== rates =====

const rateColumns = `id, scope, job_id, worker_id, skill_level, regular_rate, overtime_rate,
	effective_date, expiry_date, active, created_by, created_at`

func (s *Store) ActiveRates(ctx context.Context, key labor.RateKey, asOf time.Time) ([]labor.RateRecord, error) {
	return queryRates(ctx, s.db, `
		select `+rateColumns+` from rate_records
		where scope = $1 and job_id = $2 and worker_id = $3 and skill_level = $4
		  and active
		  and effective_date <= $5
		  and (expiry_date is null or expiry_date > $5)
		order by effective_date desc`,
		key.Scope, key.JobID, key.WorkerID, key.SkillLevel, labor.NormalizeDate(asOf))
}

func queryRates(ctx context.Context, q querier, query string, vals ...any) ([]labor.RateRecord, error) {
	rows, err := q.QueryContext(ctx, query, vals...)
	if err != nil {
		return nil, mapErr(err)
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
	return out, mapErr(rows.Err())
}

func scanRate(row scanner) (labor.RateRecord, error) {
	var (
		r        labor.RateRecord
		overtime decimal.NullDecimal
		expiry   sql.NullTime
	)
	err := row.Scan(&r.ID, &r.Key.Scope, &r.Key.JobID, &r.Key.WorkerID, &r.Key.SkillLevel,
		&r.RegularRate, &overtime, &r.EffectiveDate, &expiry, &r.Active, &r.CreatedBy, &r.CreatedAt)
	if err != nil {
		return r, err
	}
	if overtime.Valid {
		ot := overtime.Decimal
		r.OvertimeRate = &ot
	}
	r.EffectiveDate = labor.NormalizeDate(r.EffectiveDate)
	if expiry.Valid {
		exp := labor.NormalizeDate(expiry.Time)
		r.ExpiryDate = &exp
	}
	r.CreatedAt = r.CreatedAt.UTC()
	return r, nil
}

// ===== audit =====

const auditColumns = `id, entry_id, worker_id, job_id, action, field_diffs, changed_by, changed_at,
	notes, change_reason, correlation_id, related_cost_run_id`

func (s *Store) QueryAudit(ctx context.Context, f labor.AuditFilter) ([]labor.AuditRecord, error) {
	f = f.Normalize()
	var (
		a     args
		where []string
	)
	if f.EntryID != "" {
		where = append(where, "entry_id = "+a.add(f.EntryID))
	}
	if f.WorkerID != "" {
		where = append(where, "worker_id = "+a.add(f.WorkerID))
	}
	if f.JobID != "" {
		where = append(where, "job_id = "+a.add(f.JobID))
	}
	if f.Action != "" {
		where = append(where, "action = "+a.add(f.Action))
	}
	if f.CorrelationID != "" {
		where = append(where, "correlation_id = "+a.add(f.CorrelationID))
	}
	if !f.From.IsZero() {
		where = append(where, "changed_at >= "+a.add(f.From))
	}
	if !f.To.IsZero() {
		where = append(where, "changed_at < "+a.add(f.To))
	}

	query := `select ` + auditColumns + ` from audit_records`
	if len(where) > 0 {
		query += ` where ` + strings.Join(where, " and ")
	}
	if f.Ascending {
		query += ` order by changed_at asc, seq asc`
	} else {
		query += ` order by changed_at desc, seq desc`
	}
	query += ` limit ` + a.add(f.Limit) + ` offset ` + a.add(f.Offset)
	return queryAudit(ctx, s.db, query, a.vals...)
}

func (s *Store) AuditByCorrelation(ctx context.Context, id labor.CorrelationID) ([]labor.AuditRecord, error) {
	return queryAudit(ctx, s.db, `
		select `+auditColumns+` from audit_records
		where correlation_id = $1
		order by changed_at asc, seq asc`, id)
}

func queryAudit(ctx context.Context, q querier, query string, vals ...any) ([]labor.AuditRecord, error) {
	rows, err := q.QueryContext(ctx, query, vals...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []labor.AuditRecord
	for rows.Next() {
		var (
			r                    labor.AuditRecord
			diffs                []byte
			correlation, costRun sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.EntryID, &r.WorkerID, &r.JobID, &r.Action, &diffs,
			&r.ChangedBy, &r.ChangedAt, &r.Notes, &r.ChangeReason, &correlation, &costRun); err != nil {
			return nil, err
		}
		r.FieldDiffs = labor.FieldDiffs{}
		if len(diffs) > 0 {
			if err := json.Unmarshal(diffs, &r.FieldDiffs); err != nil {
				return nil, fmt.Errorf("decode diffs for audit record %s: %w", r.ID, err)
			}
		}
		r.ChangedAt = r.ChangedAt.UTC()
		r.CorrelationID = labor.CorrelationID(correlation.String)
		r.RelatedCostRunID = labor.CostRunID(costRun.String)
		out = append(out, r)
	}
	return out, mapErr(rows.Err())
}

func appendAudit(ctx context.Context, q querier, r labor.AuditRecord) error {
	diffs := r.FieldDiffs
	if diffs == nil {
		diffs = labor.FieldDiffs{}
	}
	diffsJSON, err := json.Marshal(diffs)
	if err != nil {
		return fmt.Errorf("encode field diffs: %w", err)
	}
	_, err = q.ExecContext(ctx, `
		insert into audit_records (`+auditColumns+`)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		r.ID, r.EntryID, r.WorkerID, r.JobID, r.Action, string(diffsJSON),
		r.ChangedBy, r.ChangedAt, r.Notes, r.ChangeReason,
		nullString(string(r.CorrelationID)), nullString(string(r.RelatedCostRunID)),
	)
	return mapErr(err)
}

// ===== directories =====

func (s *Store) GetWorker(ctx context.Context, id labor.WorkerID) (labor.Worker, error) {
	var w labor.Worker
	err := s.db.QueryRowContext(ctx,
		`select id, name, role, skill_level, created_at from workers where id = $1`, id,
	).Scan(&w.ID, &w.Name, &w.Role, &w.SkillLevel, &w.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return labor.Worker{}, labor.ErrWorkerNotFound
	}
	return w, mapErr(err)
}

func (s *Store) SaveWorker(ctx context.Context, w labor.Worker) error {
	if w.CreatedAt.IsZero() {
		w.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		insert into workers (id, name, role, skill_level, created_at)
		values ($1, $2, $3, $4, $5)
		on conflict (id) do update
		set name = excluded.name, role = excluded.role, skill_level = excluded.skill_level`,
		w.ID, w.Name, w.Role, w.SkillLevel, w.CreatedAt)
	return mapErr(err)
}

func (s *Store) LookupJob(ctx context.Context, id labor.JobID) (labor.JobInfo, error) {
	var j labor.JobInfo
	err := s.db.QueryRowContext(ctx,
		`select id, number, name, customer_name from jobs where id = $1`, id,
	).Scan(&j.ID, &j.Number, &j.Name, &j.CustomerName)
	if errors.Is(err, sql.ErrNoRows) {
		return labor.JobInfo{}, labor.ErrJobNotFound
	}
	return j, mapErr(err)
}

func (s *Store) SaveJob(ctx context.Context, j labor.JobInfo) error {
	_, err := s.db.ExecContext(ctx, `
		insert into jobs (id, number, name, customer_name)
		values ($1, $2, $3, $4)
		on conflict (id) do update
		set number = excluded.number, name = excluded.name, customer_name = excluded.customer_name`,
		j.ID, j.Number, j.Name, j.CustomerName)
	return mapErr(err)
}

// ===== transactions =====

// WithTx runs fn in a read-committed transaction bound to ctx.
func (s *Store) WithTx(ctx context.Context, fn func(labor.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return mapErr(err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&txStore{tx: tx}); err != nil {
		return err
	}
	return mapErr(tx.Commit())
}

type txStore struct {
	tx *sql.Tx
}

// GetEntry locks the row for the rest of the transaction.
func (t *txStore) GetEntry(ctx context.Context, id labor.EntryID) (labor.TimeEntry, error) {
	return getEntry(ctx, t.tx, id, true)
}

func (t *txStore) ListEntries(ctx context.Context, f labor.EntryFilter) ([]labor.TimeEntry, error) {
	return listEntries(ctx, t.tx, f)
}

func (t *txStore) InsertEntry(ctx context.Context, e labor.TimeEntry) error {
	return insertEntry(ctx, t.tx, e)
}

func (t *txStore) UpdateEntry(ctx context.Context, e labor.TimeEntry) error {
	return updateEntry(ctx, t.tx, e)
}

func (t *txStore) GetRate(ctx context.Context, id labor.RateID) (labor.RateRecord, error) {
	r, err := scanRate(t.tx.QueryRowContext(ctx,
		`select `+rateColumns+` from rate_records where id = $1 for update`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return labor.RateRecord{}, labor.ErrRateNotFound
	}
	if err != nil {
		return labor.RateRecord{}, mapErr(err)
	}
	return r, nil
}

// RatesForKey takes a transaction-scoped advisory lock on the key before
// reading, so concurrent creators serialize on the overlap check even when
// the key has no rows yet for FOR UPDATE to lock.
func (t *txStore) RatesForKey(ctx context.Context, key labor.RateKey) ([]labor.RateRecord, error) {
	if _, err := t.tx.ExecContext(ctx,
		`select pg_advisory_xact_lock(hashtext($1))`, rateLockKey(key)); err != nil {
		return nil, mapErr(err)
	}
	return queryRates(ctx, t.tx, `
		select `+rateColumns+` from rate_records
		where scope = $1 and job_id = $2 and worker_id = $3 and skill_level = $4
		order by effective_date
		for update`,
		key.Scope, key.JobID, key.WorkerID, key.SkillLevel)
}

func rateLockKey(key labor.RateKey) string {
	return "rate_records|" + string(key.Scope) + "|" + string(key.JobID) + "|" +
		string(key.WorkerID) + "|" + string(key.SkillLevel)
}

func (t *txStore) InsertRate(ctx context.Context, r labor.RateRecord) error {
	var overtime decimal.NullDecimal
	if r.OvertimeRate != nil {
		overtime = decimal.NullDecimal{Decimal: *r.OvertimeRate, Valid: true}
	}
	var expiry sql.NullTime
	if r.ExpiryDate != nil {
		expiry = sql.NullTime{Time: *r.ExpiryDate, Valid: true}
	}
	_, err := t.tx.ExecContext(ctx, `
		insert into rate_records (`+rateColumns+`)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		r.ID, r.Key.Scope, r.Key.JobID, r.Key.WorkerID, r.Key.SkillLevel,
		r.RegularRate, overtime, r.EffectiveDate, expiry, r.Active, r.CreatedBy, r.CreatedAt)
	return mapErr(err)
}

func (t *txStore) SetRateActive(ctx context.Context, id labor.RateID, active bool) error {
	res, err := t.tx.ExecContext(ctx, `update rate_records set active = $2 where id = $1`, id, active)
	if err != nil {
		return mapErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return labor.ErrRateNotFound
	}
	return nil
}

func (t *txStore) AppendAudit(ctx context.Context, r labor.AuditRecord) error {
	return appendAudit(ctx, t.tx, r)
}

var (
	_ labor.Store = (*Store)(nil)
	_ labor.Tx    = (*txStore)(nil)
)

// mapErr translates driver errors into domain errors.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation:
			return fmt.Errorf("%w: duplicate key (%s)", labor.ErrInvalidInput, pgErr.ConstraintName)
		case codeSerializationFailure:
			return fmt.Errorf("%w: %s", labor.ErrConcurrentModification, pgErr.Message)
		case codeQueryCanceled:
			return fmt.Errorf("%w: %s", labor.ErrTxTimeout, pgErr.Message)
		}
	}
	return err
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
