package labor_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/laborcost/labor"
	"github.com/warp/laborcost/labor/store"
)

// 2025-03-09 is a Sunday, the first day of the payroll week.
var weekStart = date(2025, 3, 9)

func TestCreate_PricesAndAuditsAtomically(t *testing.T) {
	// GIVEN: a worker with a $70 / $105 worker rate
	f := newFixture(t)
	f.workerRate(t, "w-ana", "70", "105")

	// WHEN: logging a 10 hour day
	res := f.create(t, "w-ana", weekStart.AddDate(0, 0, 1), "10")

	// THEN: 8 regular + 2 overtime, $770, from the worker source
	e := res.Entry
	assert.Equal(t, labor.StatusDraft, e.Status)
	assert.True(t, dec("8").Equal(e.RegularHours))
	assert.True(t, dec("2").Equal(e.OvertimeHours))
	assert.True(t, dec("770").Equal(e.TotalPay))
	assert.Equal(t, labor.SourceWorker, e.RateSource)

	// AND: the stored entry matches and one CREATE record exists
	stored, err := f.service.Get(context.Background(), e.ID)
	require.NoError(t, err)
	assert.True(t, dec("770").Equal(stored.TotalPay))

	recs := f.auditFor(t, e.ID)
	require.Len(t, recs, 1)
	assert.Equal(t, labor.ActionCreate, recs[0].Action)
	assert.Equal(t, res.Audit.ID, recs[0].ID)
	assert.Equal(t, "w-ana", recs[0].ChangedBy)
	assert.Empty(t, recs[0].FieldDiffs)
}

func TestCreate_FallsBackToDerivedSkillTierDefault(t *testing.T) {
	// GIVEN: no persisted rates; Bo is a foreman (master tier)
	f := newFixture(t)

	// WHEN: logging 8 hours
	res := f.create(t, "w-bo", weekStart.AddDate(0, 0, 1), "8")

	// THEN: the master default of $65 applies
	assert.Equal(t, labor.SourceDefault, res.Rate.Source)
	assert.Equal(t, labor.SkillMaster, res.Rate.SkillLevel)
	assert.True(t, dec("520").Equal(res.Entry.TotalPay))
}

func TestCreate_WeeklyOvertimeIsReportedAsWarning(t *testing.T) {
	// GIVEN: 38 hours earlier in the week
	f := newFixture(t)
	f.workerRate(t, "w-ana", "40", "")
	for i, h := range []string{"8", "8", "8", "8", "6"} {
		f.create(t, "w-ana", weekStart.AddDate(0, 0, i+1), h)
	}

	// WHEN: logging 6 more hours on Saturday
	res := f.create(t, "w-ana", weekStart.AddDate(0, 0, 6), "6")

	// THEN: the entry is accepted with 44 weekly hours, 4 incremental overtime
	eval := res.Evaluation
	assert.True(t, eval.IsValid)
	assert.True(t, dec("38").Equal(eval.WeekToDateHours))
	assert.True(t, dec("44").Equal(eval.WeeklyHours))
	assert.True(t, dec("4").Equal(eval.IncrementalOvertime))
	assert.True(t, eval.HasWarning(labor.WarnOvertime))

	// AND: persisted pay follows the daily policy (6h is all regular)
	assert.True(t, dec("0").Equal(res.Entry.OvertimeHours))
	assert.True(t, dec("240").Equal(res.Entry.TotalPay))
}

func TestCreate_WeeklyPolicyPricesOvertimeAcrossTheWeek(t *testing.T) {
	// GIVEN: a weekly overtime policy and 38 hours already logged
	p := labor.DefaultPayPolicy()
	p.OvertimeMode = labor.OvertimeWeekly
	f := newFixture(t, withPolicy(p))
	f.workerRate(t, "w-ana", "40", "")
	for i, h := range []string{"8", "8", "8", "8", "6"} {
		f.create(t, "w-ana", weekStart.AddDate(0, 0, i+1), h)
	}

	// WHEN: logging 6 more hours
	res := f.create(t, "w-ana", weekStart.AddDate(0, 0, 6), "6")

	// THEN: 2 regular and 4 overtime hours are persisted
	assert.True(t, dec("2").Equal(res.Entry.RegularHours))
	assert.True(t, dec("4").Equal(res.Entry.OvertimeHours))
	assert.True(t, dec("320").Equal(res.Entry.TotalPay)) // 2*40 + 4*60
}

func weeklyFixture(t *testing.T) *fixture {
	t.Helper()
	p := labor.DefaultPayPolicy()
	p.OvertimeMode = labor.OvertimeWeekly
	f := newFixture(t, withPolicy(p))
	f.workerRate(t, "w-ana", "40", "")
	return f
}

// weekOvertime sums the persisted overtime of the worker's live entries in
// the week starting weekStart.
func weekOvertime(t *testing.T, f *fixture, worker labor.WorkerID) decimal.Decimal {
	t.Helper()
	entries, err := f.store.ListEntries(context.Background(), labor.EntryFilter{
		WorkerID: worker, From: weekStart, To: weekStart.AddDate(0, 0, 7),
	})
	require.NoError(t, err)
	sum := decimal.Zero
	for _, e := range entries {
		if e.Status != labor.StatusVoided {
			sum = sum.Add(e.OvertimeHours)
		}
	}
	return sum
}

func TestCreate_WeeklyPolicyCountsOtherJobsOnTheSameDay(t *testing.T) {
	// GIVEN: a weekly policy and Mon-Fri 8 hours on job-1
	f := weeklyFixture(t)
	job2 := f.secondJob(t)
	for i := 1; i <= 5; i++ {
		f.create(t, "w-ana", weekStart.AddDate(0, 0, i), "8")
	}

	// WHEN: logging 4 more Friday hours against job-2
	res, err := f.createOn(t, job2, weekStart.AddDate(0, 0, 5), "4")

	// THEN: all 4 hours are overtime and the week carries 4 in total
	require.NoError(t, err)
	assert.True(t, dec("12").Equal(res.Evaluation.DailyHours))
	assert.True(t, dec("44").Equal(res.Evaluation.WeeklyHours))
	assert.True(t, dec("4").Equal(res.Entry.OvertimeHours))
	assert.True(t, dec("4").Equal(res.Split.OvertimeHours))
	assert.True(t, dec("240").Equal(res.Entry.TotalPay)) // 4*60
	assert.True(t, dec("4").Equal(weekOvertime(t, f, "w-ana")))
}

func TestCreate_WeeklyPolicyAttributesOvertimeInDateOrder(t *testing.T) {
	// GIVEN: Tue-Sat 8 hours logged before Monday
	f := weeklyFixture(t)
	var sat labor.EntryResult
	for i := 2; i <= 6; i++ {
		sat = f.create(t, "w-ana", weekStart.AddDate(0, 0, i), "8")
	}
	require.True(t, dec("0").Equal(sat.Entry.OvertimeHours))

	// WHEN: Monday's 8 hours are logged late
	mon := f.create(t, "w-ana", weekStart.AddDate(0, 0, 1), "8")

	// THEN: Monday is regular and Saturday now carries the 8 overtime hours
	assert.True(t, dec("0").Equal(mon.Entry.OvertimeHours))
	assert.True(t, dec("0").Equal(mon.Evaluation.WeekToDateHours))
	assert.True(t, dec("0").Equal(mon.Evaluation.IncrementalOvertime))
	stored, err := f.store.GetEntry(context.Background(), sat.Entry.ID)
	require.NoError(t, err)
	assert.True(t, dec("8").Equal(stored.OvertimeHours))
	assert.True(t, dec("480").Equal(stored.TotalPay))
	assert.True(t, dec("8").Equal(weekOvertime(t, f, "w-ana")))

	// AND: Saturday's repricing is audited against the Monday create
	trail := f.auditFor(t, sat.Entry.ID)
	require.Len(t, trail, 2)
	assert.Equal(t, labor.ActionReprice, trail[1].Action)
	assert.Equal(t, "w-ana", trail[1].ChangedBy)
	assert.Equal(t, "weekly overtime reflow", trail[1].ChangeReason)
	assert.Contains(t, trail[1].Notes, string(mon.Entry.ID))
	assert.Contains(t, trail[1].FieldDiffs, labor.FieldOvertimeHours)
}

func TestUpdate_WeeklyPolicyRepricesLaterEntries(t *testing.T) {
	// GIVEN: Mon-Sat 8 hours each, so Saturday is all overtime
	f := weeklyFixture(t)
	var week []labor.TimeEntry
	for i := 1; i <= 6; i++ {
		week = append(week, f.create(t, "w-ana", weekStart.AddDate(0, 0, i), "8").Entry)
	}
	require.True(t, dec("8").Equal(weekOvertime(t, f, "w-ana")))

	// WHEN: Monday is cut to 4 hours
	hours := dec("4")
	_, err := f.service.Update(context.Background(), labor.UpdateEntryInput{
		EntryID: week[0].ID, Hours: &hours, ChangedBy: "w-ana",
	})
	require.NoError(t, err)

	// THEN: the week carries 4 overtime hours, all on Saturday
	assert.True(t, dec("4").Equal(weekOvertime(t, f, "w-ana")))
	sat, err := f.store.GetEntry(context.Background(), week[5].ID)
	require.NoError(t, err)
	assert.True(t, dec("4").Equal(sat.RegularHours))
	assert.True(t, dec("4").Equal(sat.OvertimeHours))
	assert.True(t, dec("400").Equal(sat.TotalPay)) // 4*40 + 4*60

	// AND: only the entry whose pay moved got a REPRICE record
	satTrail := f.auditFor(t, sat.ID)
	require.Len(t, satTrail, 2)
	assert.Equal(t, labor.ActionReprice, satTrail[1].Action)
	assert.Len(t, f.auditFor(t, week[4].ID), 1)
}

func TestUpdate_WeeklyPolicyMovingAnEntryReflowsBothWeeks(t *testing.T) {
	// GIVEN: Mon-Sat 8 hours each
	f := weeklyFixture(t)
	var week []labor.TimeEntry
	for i := 1; i <= 6; i++ {
		week = append(week, f.create(t, "w-ana", weekStart.AddDate(0, 0, i), "8").Entry)
	}

	// WHEN: Monday's entry is moved into the next week
	next := weekStart.AddDate(0, 0, 8)
	res, err := f.service.Update(context.Background(), labor.UpdateEntryInput{EntryID: week[0].ID, WorkDate: &next})
	require.NoError(t, err)

	// THEN: this week drops to 40 hours and Saturday returns to regular pay
	assert.True(t, dec("0").Equal(weekOvertime(t, f, "w-ana")))
	sat, err := f.store.GetEntry(context.Background(), week[5].ID)
	require.NoError(t, err)
	assert.True(t, dec("0").Equal(sat.OvertimeHours))
	assert.True(t, dec("0").Equal(res.Entry.OvertimeHours))
}

func TestVoid_WeeklyPolicyReleasesOvertime(t *testing.T) {
	// GIVEN: Mon-Sat 8 hours each
	f := weeklyFixture(t)
	var week []labor.TimeEntry
	for i := 1; i <= 6; i++ {
		week = append(week, f.create(t, "w-ana", weekStart.AddDate(0, 0, i), "8").Entry)
	}

	// WHEN: Monday is voided
	_, err := f.service.Void(context.Background(), labor.StatusInput{EntryID: week[0].ID, Actor: "w-ana"})
	require.NoError(t, err)

	// THEN: Saturday is regular again, with the reprice audited
	assert.True(t, dec("0").Equal(weekOvertime(t, f, "w-ana")))
	sat, err := f.store.GetEntry(context.Background(), week[5].ID)
	require.NoError(t, err)
	assert.True(t, dec("320").Equal(sat.TotalPay))
	trail := f.auditFor(t, sat.ID)
	require.Len(t, trail, 2)
	assert.Contains(t, trail[1].Notes, "VOID")
}

func TestCreate_DailyMaximumSpansJobs(t *testing.T) {
	// GIVEN: 16 hours on job-1 for Monday
	f := newFixture(t)
	f.workerRate(t, "w-ana", "40", "")
	job2 := f.secondJob(t)
	mon := weekStart.AddDate(0, 0, 1)
	f.create(t, "w-ana", mon, "16")

	// WHEN: logging another 16 hours on job-2 the same day
	_, err := f.createOn(t, job2, mon, "16")

	// THEN: the 32 hour day is rejected and nothing more is stored
	var verr *labor.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.True(t, errors.Is(err, labor.ErrHoursExceeded))
	var daily string
	for _, w := range verr.Warnings {
		if w.Type == labor.WarnExcessiveHours {
			daily = w.Details["daily_hours"]
		}
	}
	assert.Equal(t, "32", daily)
	entries, err := f.store.ListEntries(context.Background(), labor.EntryFilter{WorkerID: "w-ana"})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestWeekAround_SkipsOnlyVoidedAndExcludedEntries(t *testing.T) {
	// GIVEN: Monday split across two jobs, Tuesday, and a voided Wednesday
	f := newFixture(t)
	f.workerRate(t, "w-ana", "40", "")
	job2 := f.secondJob(t)
	mon, tue := weekStart.AddDate(0, 0, 1), weekStart.AddDate(0, 0, 2)
	first := f.create(t, "w-ana", mon, "8").Entry
	_, err := f.createOn(t, job2, mon, "3")
	require.NoError(t, err)
	tuesday := f.create(t, "w-ana", tue, "8").Entry
	wed := f.create(t, "w-ana", weekStart.AddDate(0, 0, 3), "5").Entry
	_, err = f.service.Void(context.Background(), labor.StatusInput{EntryID: wed.ID, Actor: "w-ana"})
	require.NoError(t, err)
	agg := f.service.Aggregator()
	ctx := context.Background()

	tests := []struct {
		name                 string
		in                   labor.EvaluationInput
		sameDay, rest, prior string
	}{
		{
			name:    "stored entry excludes itself but keeps the other job",
			in:      labor.EvaluationInput{WorkerID: "w-ana", WorkDate: mon, ExcludeEntryID: first.ID, CreatedAt: first.CreatedAt},
			sameDay: "3", rest: "8", prior: "0",
		},
		{
			name:    "new entry sorts after everything on its day",
			in:      labor.EvaluationInput{WorkerID: "w-ana", WorkDate: mon},
			sameDay: "11", rest: "8", prior: "11",
		},
		{
			name:    "later day sees earlier days only as prior",
			in:      labor.EvaluationInput{WorkerID: "w-ana", WorkDate: tue, ExcludeEntryID: tuesday.ID, CreatedAt: tuesday.CreatedAt},
			sameDay: "0", rest: "11", prior: "11",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			week, err := agg.WeekAround(ctx, tt.in)

			require.NoError(t, err)
			assert.True(t, dec(tt.sameDay).Equal(week.SameDay), "same day %s", week.SameDay)
			assert.True(t, dec(tt.rest).Equal(week.Rest), "rest %s", week.Rest)
			assert.True(t, dec(tt.prior).Equal(week.Prior), "prior %s", week.Prior)
		})
	}
}

func TestCreate_ExcessiveHoursRejectedWithoutWrites(t *testing.T) {
	// GIVEN: a fresh fixture
	f := newFixture(t)

	// WHEN: logging 17 hours
	_, err := f.service.Create(context.Background(), labor.CreateEntryInput{
		WorkerID: "w-ana", JobID: "job-1", WorkDate: weekStart, Hours: dec("17"), HasBreaks: true,
	})

	// THEN: a ValidationError with the EXCESSIVE_HOURS warning, nothing stored
	var verr *labor.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.True(t, errors.Is(err, labor.ErrHoursExceeded))
	var types []labor.WarningType
	for _, w := range verr.Warnings {
		types = append(types, w.Type)
	}
	assert.Contains(t, types, labor.WarnExcessiveHours)

	entries, err := f.store.ListEntries(context.Background(), labor.EntryFilter{WorkerID: "w-ana"})
	require.NoError(t, err)
	assert.Empty(t, entries)
	recs, err := f.store.QueryAudit(context.Background(), labor.AuditFilter{})
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestCreate_RejectsBadInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.Create(ctx, labor.CreateEntryInput{WorkerID: "w-ana", JobID: "job-1", WorkDate: weekStart, Hours: dec("-1")})
	assert.True(t, errors.Is(err, labor.ErrInvalidHours))

	_, err = f.service.Create(ctx, labor.CreateEntryInput{WorkerID: "w-ana", WorkDate: weekStart, Hours: dec("1")})
	assert.True(t, errors.Is(err, labor.ErrInvalidInput))

	// hours are kept to the cent; finer values would be rounded by the store
	_, err = f.service.Create(ctx, labor.CreateEntryInput{WorkerID: "w-ana", JobID: "job-1", WorkDate: weekStart, Hours: dec("8.125")})
	assert.True(t, errors.Is(err, labor.ErrInvalidInput))
	_, err = f.service.Preview(ctx, labor.CreateEntryInput{WorkerID: "w-ana", JobID: "job-1", WorkDate: weekStart, Hours: dec("0.001")})
	assert.True(t, errors.Is(err, labor.ErrInvalidInput))
}

func TestUpdate_RejectsSubCentHours(t *testing.T) {
	// GIVEN: a stored draft
	f := newFixture(t)
	created := f.create(t, "w-ana", weekStart.AddDate(0, 0, 1), "8")

	// WHEN: editing it to 7.333 hours
	hours := dec("7.333")
	_, err := f.service.Update(context.Background(), labor.UpdateEntryInput{EntryID: created.Entry.ID, Hours: &hours})

	// THEN: the edit is refused and the stored hours are untouched
	assert.True(t, errors.Is(err, labor.ErrInvalidInput))
	stored, err := f.store.GetEntry(context.Background(), created.Entry.ID)
	require.NoError(t, err)
	assert.True(t, dec("8").Equal(stored.Hours))
}

func TestUpdate_RecordsFieldDiffs(t *testing.T) {
	// GIVEN: an 8 hour entry at $40
	f := newFixture(t)
	f.workerRate(t, "w-ana", "40", "")
	created := f.create(t, "w-ana", weekStart.AddDate(0, 0, 1), "8")

	// WHEN: editing it to 10 hours
	hours := dec("10")
	res, err := f.service.Update(context.Background(), labor.UpdateEntryInput{
		EntryID: created.Entry.ID, Hours: &hours, ChangedBy: "w-ana", ChangeReason: "forgot cleanup",
	})
	require.NoError(t, err)

	// THEN: pay is recomputed and the UPDATE record carries the diffs
	assert.True(t, dec("440").Equal(res.Entry.TotalPay))
	recs := f.auditFor(t, created.Entry.ID)
	require.Len(t, recs, 2)
	upd := recs[1]
	assert.Equal(t, labor.ActionUpdate, upd.Action)
	assert.Equal(t, "forgot cleanup", upd.ChangeReason)
	assert.Equal(t, labor.FieldChange{From: "8", To: "10"}, upd.FieldDiffs[labor.FieldHours])
	assert.Equal(t, labor.FieldChange{From: "0", To: "2"}, upd.FieldDiffs[labor.FieldOvertimeHours])
	assert.Equal(t, labor.FieldChange{From: "320.00", To: "440.00"}, upd.FieldDiffs[labor.FieldTotalPay])
	_, hasRegular := upd.FieldDiffs[labor.FieldRegularHours]
	assert.False(t, hasRegular, "regular hours did not change")
}

func TestUpdate_RejectedEntryReopensAsDraft(t *testing.T) {
	f := newFixture(t)
	e := f.submitted(t, "w-ana", weekStart.AddDate(0, 0, 1), "8")
	_, err := f.service.Reject(context.Background(), labor.StatusInput{EntryID: e.ID, Actor: "sup", Reason: "wrong job"})
	require.NoError(t, err)

	desc := "corrected"
	res, err := f.service.Update(context.Background(), labor.UpdateEntryInput{EntryID: e.ID, Description: &desc, ChangedBy: "w-ana"})

	require.NoError(t, err)
	assert.Equal(t, labor.StatusDraft, res.Entry.Status)
}

func TestUpdate_ApprovedEntryIsNotEditable(t *testing.T) {
	f := newFixture(t)
	e := f.submitted(t, "w-ana", weekStart.AddDate(0, 0, 1), "8")
	_, err := f.service.Approve(context.Background(), labor.StatusInput{EntryID: e.ID, Actor: "sup"})
	require.NoError(t, err)

	hours := dec("9")
	_, err = f.service.Update(context.Background(), labor.UpdateEntryInput{EntryID: e.ID, Hours: &hours})

	assert.True(t, errors.Is(err, labor.ErrInvalidTransition))
}

func TestUpdate_ConcurrentModificationDetected(t *testing.T) {
	// GIVEN: an entry that someone else edits between the pricing read and the write
	mem := store.NewMemory()
	fs := &faultyStore{Memory: mem}
	f := newFixture(t, withStore(fs))
	created := f.create(t, "w-ana", weekStart.AddDate(0, 0, 1), "8")

	fs.beforeTx = func() {
		_ = mem.WithTx(context.Background(), func(tx labor.Tx) error {
			e, err := tx.GetEntry(context.Background(), created.Entry.ID)
			if err != nil {
				return err
			}
			e.Description = "edited elsewhere"
			e.UpdatedAt = e.UpdatedAt.Add(time.Minute)
			return tx.UpdateEntry(context.Background(), e)
		})
	}

	// WHEN: updating
	hours := dec("9")
	_, err := f.service.Update(context.Background(), labor.UpdateEntryInput{EntryID: created.Entry.ID, Hours: &hours})

	// THEN: the write is refused and the other edit survives
	assert.True(t, errors.Is(err, labor.ErrConcurrentModification))
	assert.True(t, labor.IsRetryable(err))
	stored, err := mem.GetEntry(context.Background(), created.Entry.ID)
	require.NoError(t, err)
	assert.Equal(t, "edited elsewhere", stored.Description)
	assert.True(t, dec("8").Equal(stored.Hours))
}

func TestAuditWriteFailureRollsBackMutation(t *testing.T) {
	// GIVEN: an 8 hour entry and a store whose audit append then fails
	mem := store.NewMemory()
	fs := &faultyStore{Memory: mem}
	f := newFixture(t, withStore(fs))
	f.workerRate(t, "w-ana", "40", "")
	created := f.create(t, "w-ana", weekStart.AddDate(0, 0, 1), "8")
	fs.appendErr = errDiskFull

	// WHEN: editing hours
	hours := dec("10")
	_, err := f.service.Update(context.Background(), labor.UpdateEntryInput{EntryID: created.Entry.ID, Hours: &hours, ChangedBy: "w-ana"})

	// THEN: the error names the audit failure and the entry is unchanged
	require.Error(t, err)
	assert.True(t, errors.Is(err, labor.ErrAuditWrite))
	assert.True(t, errors.Is(err, errDiskFull))
	var aerr *labor.AuditWriteError
	require.True(t, errors.As(err, &aerr))
	assert.Equal(t, created.Entry.ID, aerr.EntryID)
	assert.Equal(t, labor.ActionUpdate, aerr.Action)

	stored, err := mem.GetEntry(context.Background(), created.Entry.ID)
	require.NoError(t, err)
	assert.True(t, dec("8").Equal(stored.Hours))
	assert.True(t, dec("320").Equal(stored.TotalPay))
	assert.Len(t, f.auditFor(t, created.Entry.ID), 1)
}

func TestAuditWriteFailureOnCreateLeavesNoEntry(t *testing.T) {
	mem := store.NewMemory()
	fs := &faultyStore{Memory: mem, appendErr: errDiskFull}
	f := newFixture(t, withStore(fs))

	_, err := f.service.Create(context.Background(), labor.CreateEntryInput{
		WorkerID: "w-ana", JobID: "job-1", WorkDate: weekStart, Hours: dec("8"), HasBreaks: true,
	})

	assert.True(t, errors.Is(err, labor.ErrAuditWrite))
	entries, err := mem.ListEntries(context.Background(), labor.EntryFilter{})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestTransactionTimeoutRollsBack(t *testing.T) {
	// GIVEN: a 20ms transaction bound and an audit append that hangs
	mem := store.NewMemory()
	fs := &faultyStore{Memory: mem}
	f := newFixture(t, withStore(fs), withTxTimeout(20*time.Millisecond))
	created := f.create(t, "w-ana", weekStart.AddDate(0, 0, 1), "8")
	fs.appendDelay = time.Second

	// WHEN: submitting
	_, err := f.service.Submit(context.Background(), labor.StatusInput{EntryID: created.Entry.ID, Actor: "w-ana"})

	// THEN: a timeout error; the entry stays draft
	assert.True(t, errors.Is(err, labor.ErrTxTimeout))
	assert.True(t, labor.IsRetryable(err))
	stored, err := mem.GetEntry(context.Background(), created.Entry.ID)
	require.NoError(t, err)
	assert.Equal(t, labor.StatusDraft, stored.Status)
}

func TestResolutionFailureSurfacesAndNothingIsWritten(t *testing.T) {
	// GIVEN: the rate store is down
	mem := store.NewMemory()
	fs := &faultyStore{Memory: mem, ratesErr: errors.New("connection refused")}
	f := newFixture(t, withStore(fs))

	// WHEN: logging time
	_, err := f.service.Create(context.Background(), labor.CreateEntryInput{
		WorkerID: "w-ana", JobID: "job-1", WorkDate: weekStart, Hours: dec("8"), HasBreaks: true,
	})

	// THEN: a ResolutionError, never a zero-pay entry
	var rerr *labor.ResolutionError
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, labor.SourceJob, rerr.Source)
	assert.True(t, errors.Is(err, labor.ErrRateUnavailable))
	entries, err := mem.ListEntries(context.Background(), labor.EntryFilter{})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPreview_DegradesInsteadOfFailing(t *testing.T) {
	mem := store.NewMemory()
	fs := &faultyStore{Memory: mem, ratesErr: errors.New("connection refused")}
	f := newFixture(t, withStore(fs))

	res, err := f.service.Preview(context.Background(), labor.CreateEntryInput{
		WorkerID: "w-bo", JobID: "job-1", WorkDate: weekStart, Hours: dec("10"),
	})

	require.NoError(t, err)
	assert.True(t, res.Rate.Degraded)
	assert.True(t, dec("25").Equal(res.Rate.RegularRate), "baseline tier, not the worker's tier")
	assert.True(t, dec("275").Equal(res.Entry.TotalPay)) // 8*25 + 2*37.5
	assert.True(t, res.Evaluation.HasWarning(labor.WarnMissingBreak))
}

func TestPreview_ReportsInvalidHoursInEvaluation(t *testing.T) {
	f := newFixture(t)

	res, err := f.service.Preview(context.Background(), labor.CreateEntryInput{
		WorkerID: "w-ana", JobID: "job-1", WorkDate: weekStart, Hours: dec("18"), HasBreaks: true,
	})

	require.NoError(t, err)
	assert.False(t, res.Evaluation.IsValid)
	assert.True(t, res.Evaluation.HasWarning(labor.WarnExcessiveHours))
}

func TestStatusLifecycle(t *testing.T) {
	// GIVEN: a submitted entry
	f := newFixture(t)
	ctx := context.Background()
	e := f.submitted(t, "w-ana", weekStart.AddDate(0, 0, 1), "8")

	// WHEN: approving and then voiding
	approved, err := f.service.Approve(ctx, labor.StatusInput{EntryID: e.ID, Actor: "sup"})
	require.NoError(t, err)
	voided, err := f.service.Void(ctx, labor.StatusInput{EntryID: e.ID, Actor: "sup", Reason: "duplicate"})
	require.NoError(t, err)

	// THEN: each step is audited with a status diff
	assert.Equal(t, labor.StatusApproved, approved.Entry.Status)
	assert.Equal(t, labor.StatusVoided, voided.Entry.Status)
	recs := f.auditFor(t, e.ID)
	require.Len(t, recs, 4)
	actions := []labor.AuditAction{recs[0].Action, recs[1].Action, recs[2].Action, recs[3].Action}
	assert.Equal(t, []labor.AuditAction{labor.ActionCreate, labor.ActionSubmit, labor.ActionApprove, labor.ActionVoid}, actions)
	assert.Equal(t, labor.FieldChange{From: "approved", To: "voided"}, recs[3].FieldDiffs[labor.FieldStatus])

	// AND: the approval notified the worker
	require.Len(t, f.notifier.sent, 1)
	assert.Equal(t, labor.NotifyEntryApproved, f.notifier.sent[0].Type)

	// AND: a voided entry accepts nothing further
	_, err = f.service.Submit(ctx, labor.StatusInput{EntryID: e.ID})
	var terr *labor.TransitionError
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, labor.StatusVoided, terr.From)
}

func TestApprove_DraftCannotBeApproved(t *testing.T) {
	f := newFixture(t)
	created := f.create(t, "w-ana", weekStart, "8")

	_, err := f.service.Approve(context.Background(), labor.StatusInput{EntryID: created.Entry.ID, Actor: "sup"})

	assert.True(t, errors.Is(err, labor.ErrInvalidTransition))
	assert.Len(t, f.auditFor(t, created.Entry.ID), 1)
}

func TestApprove_RequiresPermission(t *testing.T) {
	authz := &labor.StaticAuthorizer{
		UserRoles: map[string][]string{"sup": {"approver"}},
		RolePerms: labor.DefaultRolePermissions(),
	}
	f := newFixture(t, withAuthorizer(authz))
	e := f.submitted(t, "w-ana", weekStart, "8")

	_, err := f.service.Approve(context.Background(), labor.StatusInput{EntryID: e.ID, Actor: "w-ana"})
	assert.True(t, errors.Is(err, labor.ErrForbidden))

	_, err = f.service.Approve(context.Background(), labor.StatusInput{EntryID: e.ID, Actor: "sup"})
	assert.NoError(t, err)

	_, err = f.service.Void(context.Background(), labor.StatusInput{EntryID: e.ID, Actor: "sup"})
	assert.True(t, errors.Is(err, labor.ErrForbidden), "approvers cannot void approved entries")
}

func TestNotificationFailureDoesNotUndoApproval(t *testing.T) {
	f := newFixture(t)
	f.notifier.err = errors.New("smtp down")
	e := f.submitted(t, "w-ana", weekStart, "8")

	res, err := f.service.Reject(context.Background(), labor.StatusInput{EntryID: e.ID, Actor: "sup", Reason: "wrong job"})

	require.NoError(t, err)
	assert.Equal(t, labor.StatusRejected, res.Entry.Status)
	stored, err := f.service.Get(context.Background(), e.ID)
	require.NoError(t, err)
	assert.Equal(t, labor.StatusRejected, stored.Status)
}

func TestSubmit_RevalidatesAgainstCurrentWeek(t *testing.T) {
	// GIVEN: a 10 hour draft edited up to 16 hours
	f := newFixture(t)
	created := f.create(t, "w-ana", weekStart, "10")
	hours := dec("16")
	_, err := f.service.Update(context.Background(), labor.UpdateEntryInput{EntryID: created.Entry.ID, Hours: &hours})
	require.NoError(t, err)

	// WHEN: submitting
	res, err := f.service.Submit(context.Background(), labor.StatusInput{EntryID: created.Entry.ID, Actor: "w-ana"})

	// THEN: 16h is allowed with a long-day warning carried on the result
	require.NoError(t, err)
	assert.True(t, res.Evaluation.HasWarning(labor.WarnLongDay))
}

func TestAuditTrail_NewestFirstWithPaging(t *testing.T) {
	f := newFixture(t)
	e := f.submitted(t, "w-ana", weekStart, "8")
	_, err := f.service.Approve(context.Background(), labor.StatusInput{EntryID: e.ID, Actor: "sup"})
	require.NoError(t, err)

	recs, err := f.service.AuditTrail(context.Background(), e.ID, labor.AuditFilter{Limit: 2})

	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, labor.ActionApprove, recs[0].Action)
	assert.Equal(t, labor.ActionSubmit, recs[1].Action)

	_, err = f.service.AuditTrail(context.Background(), "missing", labor.AuditFilter{})
	assert.True(t, errors.Is(err, labor.ErrEntryNotFound))
}
