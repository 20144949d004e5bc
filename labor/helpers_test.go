package labor_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/warp/laborcost/labor"
	"github.com/warp/laborcost/labor/store"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func date(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }

// tickingClock advances one second per call so audit records order by time.
type tickingClock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *tickingClock {
	return &tickingClock{now: time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)}
}

func (c *tickingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

// fixture is a service wired to an in-memory store.
type fixture struct {
	store    *store.Memory
	clock    *tickingClock
	service  *labor.EntryService
	bulk     *labor.BulkController
	rates    *labor.RateBook
	notifier *recordingNotifier
}

type fixtureOption func(*labor.ServiceConfig)

func withAuthorizer(a labor.Authorizer) fixtureOption {
	return func(c *labor.ServiceConfig) { c.Authorizer = a }
}

func withPolicy(p labor.PayPolicy) fixtureOption {
	return func(c *labor.ServiceConfig) { c.Policy = p }
}

func withStore(s labor.Store) fixtureOption {
	return func(c *labor.ServiceConfig) { c.Store = s }
}

func withTxTimeout(d time.Duration) fixtureOption {
	return func(c *labor.ServiceConfig) { c.TxTimeout = d }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	f := &fixture{store: store.NewMemory(), clock: newClock(), notifier: &recordingNotifier{}}
	cfg := labor.ServiceConfig{
		Store:    f.store,
		Policy:   labor.DefaultPayPolicy(),
		Notifier: f.notifier,
		Clock:    f.clock.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if fs, ok := cfg.Store.(*faultyStore); ok {
		f.store = fs.Memory
	}
	f.service = labor.NewEntryService(cfg)
	f.bulk = labor.NewBulkController(f.service)
	f.rates = labor.NewRateBook(cfg.Store, cfg.Authorizer, labor.WithRateBookClock(f.clock.Now))

	ctx := context.Background()
	require.NoError(t, f.store.SaveWorker(ctx, labor.Worker{ID: "w-ana", Name: "Ana", Role: "technician"}))
	require.NoError(t, f.store.SaveWorker(ctx, labor.Worker{ID: "w-bo", Name: "Bo", Role: "foreman"}))
	require.NoError(t, f.store.SaveJob(ctx, labor.JobInfo{ID: "job-1", Number: "J-1001", Name: "Panel upgrade", CustomerName: "Acme"}))
	return f
}

// workerRate adds an open-ended worker rate effective from 2025-01-01.
func (f *fixture) workerRate(t *testing.T, worker labor.WorkerID, regular, overtime string) labor.RateRecord {
	t.Helper()
	in := labor.CreateRateInput{
		Key:           labor.WorkerRateKey(worker),
		RegularRate:   dec(regular),
		EffectiveDate: date(2025, 1, 1),
		CreatedBy:     "admin",
	}
	if overtime != "" {
		ot := dec(overtime)
		in.OvertimeRate = &ot
	}
	rec, err := f.rates.Create(context.Background(), in)
	require.NoError(t, err)
	return rec
}

func (f *fixture) create(t *testing.T, worker labor.WorkerID, day time.Time, hours string) labor.EntryResult {
	t.Helper()
	res, err := f.service.Create(context.Background(), labor.CreateEntryInput{
		WorkerID:  worker,
		JobID:     "job-1",
		WorkDate:  day,
		Hours:     dec(hours),
		HasBreaks: true,
		ChangedBy: string(worker),
	})
	require.NoError(t, err)
	return res
}

// createOn logs hours against job rather than the default job-1.
func (f *fixture) createOn(t *testing.T, job labor.JobID, day time.Time, hours string) (labor.EntryResult, error) {
	t.Helper()
	return f.service.Create(context.Background(), labor.CreateEntryInput{
		WorkerID:  "w-ana",
		JobID:     job,
		WorkDate:  day,
		Hours:     dec(hours),
		HasBreaks: true,
		ChangedBy: "w-ana",
	})
}

// secondJob registers job-2 for tests that split a day across jobs.
func (f *fixture) secondJob(t *testing.T) labor.JobID {
	t.Helper()
	require.NoError(t, f.store.SaveJob(context.Background(),
		labor.JobInfo{ID: "job-2", Number: "J-1002", Name: "Service call", CustomerName: "Acme"}))
	return "job-2"
}

func (f *fixture) submitted(t *testing.T, worker labor.WorkerID, day time.Time, hours string) labor.TimeEntry {
	t.Helper()
	res := f.create(t, worker, day, hours)
	sub, err := f.service.Submit(context.Background(), labor.StatusInput{EntryID: res.Entry.ID, Actor: string(worker)})
	require.NoError(t, err)
	return sub.Entry
}

func (f *fixture) auditFor(t *testing.T, id labor.EntryID) []labor.AuditRecord {
	t.Helper()
	recs, err := f.store.QueryAudit(context.Background(), labor.AuditFilter{EntryID: id, Ascending: true})
	require.NoError(t, err)
	return recs
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []labor.Notification
	err  error
}

func (n *recordingNotifier) Notify(_ context.Context, msg labor.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return n.err
}

// faultyStore wraps a memory store and injects failures into its transactions.
type faultyStore struct {
	*store.Memory
	appendErr   error         // returned by AppendAudit
	appendDelay time.Duration // AppendAudit sleeps, then reports ctx.Err()
	ratesErr    error         // returned by ActiveRates
	beforeTx    func()        // runs once before the next transaction opens
}

func (s *faultyStore) ActiveRates(ctx context.Context, key labor.RateKey, asOf time.Time) ([]labor.RateRecord, error) {
	if s.ratesErr != nil {
		return nil, s.ratesErr
	}
	return s.Memory.ActiveRates(ctx, key, asOf)
}

func (s *faultyStore) WithTx(ctx context.Context, fn func(labor.Tx) error) error {
	if hook := s.beforeTx; hook != nil {
		s.beforeTx = nil
		hook()
	}
	return s.Memory.WithTx(ctx, func(tx labor.Tx) error {
		return fn(&faultyTx{Tx: tx, store: s})
	})
}

type faultyTx struct {
	labor.Tx
	store *faultyStore
}

func (tx *faultyTx) AppendAudit(ctx context.Context, rec labor.AuditRecord) error {
	if tx.store.appendDelay > 0 {
		select {
		case <-time.After(tx.store.appendDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if tx.store.appendErr != nil {
		return tx.store.appendErr
	}
	return tx.Tx.AppendAudit(ctx, rec)
}

var errDiskFull = errors.New("disk full")
