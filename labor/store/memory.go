// Package store provides an in-memory labor.Store for tests and local runs.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/warp/laborcost/labor"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu      sync.RWMutex
	entries map[labor.EntryID]labor.TimeEntry
	rates   []labor.RateRecord
	audit   []labor.AuditRecord
	workers map[labor.WorkerID]labor.Worker
	jobs    map[labor.JobID]labor.JobInfo
}

func NewMemory() *Memory {
	return &Memory{
		entries: make(map[labor.EntryID]labor.TimeEntry),
		workers: make(map[labor.WorkerID]labor.Worker),
		jobs:    make(map[labor.JobID]labor.JobInfo),
	}
}

// ===== entries =====

func (m *Memory) GetEntry(_ context.Context, id labor.EntryID) (labor.TimeEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getEntryLocked(id)
}

func (m *Memory) getEntryLocked(id labor.EntryID) (labor.TimeEntry, error) {
	e, ok := m.entries[id]
	if !ok {
		return labor.TimeEntry{}, labor.ErrEntryNotFound
	}
	return e, nil
}

func (m *Memory) ListEntries(_ context.Context, f labor.EntryFilter) ([]labor.TimeEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listEntriesLocked(f), nil
}

func (m *Memory) listEntriesLocked(f labor.EntryFilter) []labor.TimeEntry {
	var out []labor.TimeEntry
	for _, e := range m.entries {
		if f.Matches(e) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].WorkDate.Equal(out[j].WorkDate) {
			return out[i].WorkDate.Before(out[j].WorkDate)
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (m *Memory) insertEntryLocked(e labor.TimeEntry) error {
	if _, exists := m.entries[e.ID]; exists {
		return fmt.Errorf("%w: entry %s already exists", labor.ErrInvalidInput, e.ID)
	}
	m.entries[e.ID] = e
	return nil
}

func (m *Memory) updateEntryLocked(e labor.TimeEntry) error {
	if _, exists := m.entries[e.ID]; !exists {
		return labor.ErrEntryNotFound
	}
	m.entries[e.ID] = e
	return nil
}

// ===== rates =====

func (m *Memory) ActiveRates(_ context.Context, key labor.RateKey, asOf time.Time) ([]labor.RateRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []labor.RateRecord
	for _, r := range m.rates {
		if r.Key == key && r.EffectiveAt(asOf) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *Memory) ratesForKeyLocked(key labor.RateKey) []labor.RateRecord {
	var out []labor.RateRecord
	for _, r := range m.rates {
		if r.Key == key {
			out = append(out, r)
		}
	}
	return out
}

func (m *Memory) getRateLocked(id labor.RateID) (labor.RateRecord, error) {
	for _, r := range m.rates {
		if r.ID == id {
			return r, nil
		}
	}
	return labor.RateRecord{}, labor.ErrRateNotFound
}

func (m *Memory) setRateActiveLocked(id labor.RateID, active bool) error {
	for i := range m.rates {
		if m.rates[i].ID == id {
			m.rates[i].Active = active
			return nil
		}
	}
	return labor.ErrRateNotFound
}

// ===== audit =====

func (m *Memory) QueryAudit(_ context.Context, f labor.AuditFilter) ([]labor.AuditRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	f = f.Normalize()
	var matched []labor.AuditRecord
	for _, r := range m.audit {
		if f.Matches(r) {
			matched = append(matched, cloneAudit(r))
		}
	}
	if !f.Ascending {
		for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
			matched[i], matched[j] = matched[j], matched[i]
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		if f.Ascending {
			return matched[i].ChangedAt.Before(matched[j].ChangedAt)
		}
		return matched[i].ChangedAt.After(matched[j].ChangedAt)
	})
	if f.Offset >= len(matched) {
		return nil, nil
	}
	matched = matched[f.Offset:]
	if len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}
	return matched, nil
}

func (m *Memory) AuditByCorrelation(_ context.Context, id labor.CorrelationID) ([]labor.AuditRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []labor.AuditRecord
	for _, r := range m.audit {
		if r.CorrelationID == id {
			out = append(out, cloneAudit(r))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ChangedAt.Before(out[j].ChangedAt) })
	return out, nil
}

func (m *Memory) appendAuditLocked(rec labor.AuditRecord) error {
	for _, r := range m.audit {
		if r.ID == rec.ID {
			return fmt.Errorf("%w: audit record %s already exists", labor.ErrInvalidInput, rec.ID)
		}
	}
	m.audit = append(m.audit, cloneAudit(rec))
	return nil
}

func cloneAudit(r labor.AuditRecord) labor.AuditRecord {
	diffs := make(labor.FieldDiffs, len(r.FieldDiffs))
	for k, v := range r.FieldDiffs {
		diffs[k] = v
	}
	r.FieldDiffs = diffs
	return r
}

// ===== directories =====

func (m *Memory) GetWorker(_ context.Context, id labor.WorkerID) (labor.Worker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.workers[id]
	if !ok {
		return labor.Worker{}, labor.ErrWorkerNotFound
	}
	return w, nil
}

func (m *Memory) LookupJob(_ context.Context, id labor.JobID) (labor.JobInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[id]
	if !ok {
		return labor.JobInfo{}, labor.ErrJobNotFound
	}
	return j, nil
}

func (m *Memory) SaveWorker(_ context.Context, w labor.Worker) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workers[w.ID] = w
	return nil
}

func (m *Memory) SaveJob(_ context.Context, j labor.JobInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[j.ID] = j
	return nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
// A context that is done by the time fn returns also rolls back.
func (m *Memory) WithTx(ctx context.Context, fn func(labor.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.snapshot()
	if err := fn(&txView{parent: m}); err != nil {
		m.restore(snapshot)
		return err
	}
	if err := ctx.Err(); err != nil {
		m.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	entries map[labor.EntryID]labor.TimeEntry
	rates   []labor.RateRecord
	audit   []labor.AuditRecord
}

func (m *Memory) snapshot() memorySnapshot {
	entries := make(map[labor.EntryID]labor.TimeEntry, len(m.entries))
	for k, v := range m.entries {
		entries[k] = v
	}
	return memorySnapshot{
		entries: entries,
		rates:   append([]labor.RateRecord(nil), m.rates...),
		audit:   append([]labor.AuditRecord(nil), m.audit...),
	}
}

func (m *Memory) restore(s memorySnapshot) {
	m.entries = s.entries
	m.rates = s.rates
	m.audit = s.audit
}

// txView reads and writes the parent while WithTx holds its lock.
type txView struct {
	parent *Memory
}

func (tv *txView) GetEntry(_ context.Context, id labor.EntryID) (labor.TimeEntry, error) {
	return tv.parent.getEntryLocked(id)
}

func (tv *txView) ListEntries(_ context.Context, f labor.EntryFilter) ([]labor.TimeEntry, error) {
	return tv.parent.listEntriesLocked(f), nil
}

func (tv *txView) InsertEntry(_ context.Context, e labor.TimeEntry) error {
	return tv.parent.insertEntryLocked(e)
}

func (tv *txView) UpdateEntry(_ context.Context, e labor.TimeEntry) error {
	return tv.parent.updateEntryLocked(e)
}

func (tv *txView) GetRate(_ context.Context, id labor.RateID) (labor.RateRecord, error) {
	return tv.parent.getRateLocked(id)
}

func (tv *txView) RatesForKey(_ context.Context, key labor.RateKey) ([]labor.RateRecord, error) {
	return tv.parent.ratesForKeyLocked(key), nil
}

func (tv *txView) InsertRate(_ context.Context, r labor.RateRecord) error {
	if _, err := tv.parent.getRateLocked(r.ID); err == nil {
		return fmt.Errorf("%w: rate %s already exists", labor.ErrInvalidInput, r.ID)
	}
	tv.parent.rates = append(tv.parent.rates, r)
	return nil
}

func (tv *txView) SetRateActive(_ context.Context, id labor.RateID, active bool) error {
	return tv.parent.setRateActiveLocked(id, active)
}

func (tv *txView) AppendAudit(_ context.Context, rec labor.AuditRecord) error {
	return tv.parent.appendAuditLocked(rec)
}

var (
	_ labor.Store = (*Memory)(nil)
	_ labor.Tx    = (*txView)(nil)
)
