package labor

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(y int, m time.Month, dd int) time.Time { return time.Date(y, m, dd, 0, 0, 0, 0, time.UTC) }

func dayPtr(y int, m time.Month, dd int) *time.Time {
	t := day(y, m, dd)
	return &t
}

func TestWindow_ContainsIsHalfOpen(t *testing.T) {
	w := Window{From: day(2025, 1, 1), To: dayPtr(2025, 2, 1)}

	assert.True(t, w.Contains(day(2025, 1, 1)))
	assert.True(t, w.Contains(day(2025, 1, 31)))
	assert.False(t, w.Contains(day(2025, 2, 1)))
	assert.False(t, w.Contains(day(2024, 12, 31)))
	assert.True(t, Window{From: day(2025, 1, 1)}.Contains(day(2099, 1, 1)))
}

func TestWindow_Overlaps(t *testing.T) {
	jan := Window{From: day(2025, 1, 1), To: dayPtr(2025, 2, 1)}
	feb := Window{From: day(2025, 2, 1), To: dayPtr(2025, 3, 1)}
	openFromMid := Window{From: day(2025, 1, 15)}

	assert.False(t, jan.Overlaps(feb), "adjacent windows do not overlap")
	assert.False(t, feb.Overlaps(jan))
	assert.True(t, jan.Overlaps(openFromMid))
	assert.True(t, openFromMid.Overlaps(feb))
	assert.True(t, Window{From: day(2024, 1, 1)}.Overlaps(Window{From: day(2030, 1, 1)}))
}

func TestRateRecord_Validate(t *testing.T) {
	base := RateRecord{
		Key:           WorkerRateKey("w1"),
		RegularRate:   d("40"),
		EffectiveDate: day(2025, 1, 1),
		Active:        true,
	}
	require.NoError(t, base.Validate())

	zero := base
	zero.RegularRate = d("0")
	assert.True(t, errors.Is(zero.Validate(), ErrInvalidRate))

	inverted := base
	inverted.ExpiryDate = dayPtr(2024, 12, 31)
	assert.True(t, errors.Is(inverted.Validate(), ErrInvalidWindow))

	empty := base
	empty.ExpiryDate = dayPtr(2025, 1, 1)
	assert.True(t, errors.Is(empty.Validate(), ErrInvalidWindow))

	badKey := base
	badKey.Key = RateKey{Scope: SourceJob, JobID: "j1"}
	assert.True(t, errors.Is(badKey.Validate(), ErrInvalidInput))
}

func TestLatestEffective(t *testing.T) {
	old := RateRecord{ID: "r-old", Key: WorkerRateKey("w1"), RegularRate: d("40"), EffectiveDate: day(2024, 1, 1), Active: true}
	cur := RateRecord{ID: "r-new", Key: WorkerRateKey("w1"), RegularRate: d("45"), EffectiveDate: day(2025, 1, 1), Active: true}

	t.Run("latest effective wins", func(t *testing.T) {
		got, ok, err := latestEffective([]RateRecord{old, cur}, day(2025, 6, 1))
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, RateID("r-new"), got.ID)
	})

	t.Run("future record ignored", func(t *testing.T) {
		got, ok, err := latestEffective([]RateRecord{old, cur}, day(2024, 6, 1))
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, RateID("r-old"), got.ID)
	})

	t.Run("tie is ambiguous", func(t *testing.T) {
		twin := cur
		twin.ID = "r-twin"
		_, _, err := latestEffective([]RateRecord{old, cur, twin}, day(2025, 6, 1))
		assert.True(t, errors.Is(err, ErrAmbiguousRate))
	})

	t.Run("tie on an older date is not ambiguous", func(t *testing.T) {
		twin := old
		twin.ID = "r-old-twin"
		got, ok, err := latestEffective([]RateRecord{old, twin, cur}, day(2025, 6, 1))
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, RateID("r-new"), got.ID)
	})

	t.Run("inactive ignored", func(t *testing.T) {
		off := cur
		off.Active = false
		_, ok, err := latestEffective([]RateRecord{off}, day(2025, 6, 1))
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestPayPolicy_TierFor(t *testing.T) {
	p := DefaultPayPolicy()

	assert.Equal(t, SkillMaster, p.TierFor(Worker{Role: "technician", SkillLevel: SkillMaster}), "explicit tier wins")
	assert.Equal(t, SkillMaster, p.TierFor(Worker{Role: "foreman"}))
	assert.Equal(t, SkillJourneyman, p.TierFor(Worker{Role: "technician"}))
	assert.Equal(t, SkillApprentice, p.TierFor(Worker{Role: "astronaut"}), "unknown role gets baseline")
}

func TestPayPolicy_DefaultRateFor(t *testing.T) {
	p := DefaultPayPolicy()

	rate, tier := p.DefaultRateFor(SkillMaster)
	assertDec(t, "65", rate)
	assert.Equal(t, SkillMaster, tier)

	rate, tier = p.DefaultRateFor("unlisted")
	assertDec(t, "25", rate)
	assert.Equal(t, SkillApprentice, tier)

	p.DefaultRates = map[SkillLevel]decimal.Decimal{}
	rate, _ = p.DefaultRateFor(SkillMaster)
	assert.True(t, rate.Equal(BaselineRate))
}

func TestPayPolicy_OvertimeRateFor(t *testing.T) {
	p := DefaultPayPolicy()
	explicit := d("80")

	assertDec(t, "60", p.OvertimeRateFor(d("40"), nil))
	assertDec(t, "80", p.OvertimeRateFor(d("40"), &explicit))
}

func TestPayPolicy_Validate(t *testing.T) {
	require.NoError(t, DefaultPayPolicy().Validate())

	p := DefaultPayPolicy()
	p.OvertimeMode = "hourly"
	assert.Error(t, p.Validate())

	p = DefaultPayPolicy()
	p.MaxDailyHours = d("10")
	assert.Error(t, p.Validate(), "max daily must exceed long day")
}
