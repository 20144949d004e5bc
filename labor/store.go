/*
store.go - Persistence interfaces for entries, rates and the audit trail

PURPOSE:
  Defines the boundary between the labor core and the database. Concrete
  stores live in labor/store (memory), store/sqlite and store/pg.

KEY INTERFACES:
  Store: reads outside a transaction plus WithTx
  Tx:    the view handed to a WithTx callback; every write goes through it

TRANSACTION CONTRACT:
  WithTx runs fn inside one database transaction. fn returning an error
  rolls back every write made through the Tx, including audit appends.
  Reads needed for pricing (rates, week-to-date hours, worker directory)
  happen BEFORE WithTx; inside fn only the Tx may be used. Stores that
  serialize connections would otherwise deadlock.

APPEND-ONLY CONTRACT:
  AuditAppender has no update or delete counterpart. Entries are never
  deleted either; voiding is a status change.

SEE ALSO:
  - audit.go: AuditWriter.RecordWithMutation, the main WithTx caller
  - labor/store/memory.go, store/sqlite/sqlite.go, store/pg/pg.go
*/
package labor

import (
	"context"
	"time"
)

// EntryFilter selects entries. Zero-valued fields do not filter.
type EntryFilter struct {
	WorkerID WorkerID
	JobID    JobID
	From     time.Time // inclusive work date
	To       time.Time // exclusive work date
	Statuses []EntryStatus
}

// Matches reports whether e satisfies the filter.
func (f EntryFilter) Matches(e TimeEntry) bool {
	if f.WorkerID != "" && e.WorkerID != f.WorkerID {
		return false
	}
	if f.JobID != "" && e.JobID != f.JobID {
		return false
	}
	if !f.From.IsZero() && e.WorkDate.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !e.WorkDate.Before(f.To) {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if e.Status == s {
			return true
		}
	}
	return false
}

type EntryReader interface {
	GetEntry(ctx context.Context, id EntryID) (TimeEntry, error)
	// ListEntries returns matching entries ordered by work date then creation time.
	ListEntries(ctx context.Context, f EntryFilter) ([]TimeEntry, error)
}

type EntryWriter interface {
	InsertEntry(ctx context.Context, e TimeEntry) error
	UpdateEntry(ctx context.Context, e TimeEntry) error
}

type RateReader interface {
	// ActiveRates returns active records for key whose window contains asOf.
	ActiveRates(ctx context.Context, key RateKey, asOf time.Time) ([]RateRecord, error)
}

type RateWriter interface {
	GetRate(ctx context.Context, id RateID) (RateRecord, error)
	// RatesForKey returns every record for key regardless of window or state.
	RatesForKey(ctx context.Context, key RateKey) ([]RateRecord, error)
	InsertRate(ctx context.Context, r RateRecord) error
	SetRateActive(ctx context.Context, id RateID, active bool) error
}

type AuditAppender interface {
	AppendAudit(ctx context.Context, rec AuditRecord) error
}

type AuditReader interface {
	QueryAudit(ctx context.Context, f AuditFilter) ([]AuditRecord, error)
	// AuditByCorrelation returns records ordered by ChangedAt ascending.
	AuditByCorrelation(ctx context.Context, id CorrelationID) ([]AuditRecord, error)
}

type WorkerDirectory interface {
	GetWorker(ctx context.Context, id WorkerID) (Worker, error)
}

type JobDirectory interface {
	LookupJob(ctx context.Context, id JobID) (JobInfo, error)
}

// DirectoryWriter maintains the local copy of the worker and job directories.
type DirectoryWriter interface {
	SaveWorker(ctx context.Context, w Worker) error
	SaveJob(ctx context.Context, j JobInfo) error
}

// Tx is the transactional view passed to WithTx callbacks.
type Tx interface {
	EntryReader
	EntryWriter
	RateWriter
	AuditAppender
}

// Store is the full persistence boundary of the labor core.
type Store interface {
	EntryReader
	RateReader
	AuditReader
	WorkerDirectory
	JobDirectory
	DirectoryWriter

	// WithTx executes fn within a transaction.
	// If fn returns error, the transaction is rolled back.
	// If fn returns nil, the transaction is committed.
	WithTx(ctx context.Context, fn func(Tx) error) error
}
