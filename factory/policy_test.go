package factory

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/laborcost/labor"
)

func TestParsePolicy_FullDocument(t *testing.T) {
	// GIVEN: a policy with a doubletime band and custom rates
	doc := `{
		"name": "california",
		"overtime_mode": "daily",
		"daily_overtime_threshold": "8",
		"doubletime_threshold": 12,
		"overtime_multiplier": "1.5",
		"default_rates": {"apprentice": "28", "journeyman": "50.25", "master": "70"},
		"role_tiers": {"Lineman": "journeyman"},
		"baseline_tier": "apprentice"
	}`

	// WHEN: parsing
	p, err := NewPayPolicyFactory().ParsePolicy([]byte(doc))

	// THEN: explicit fields are taken and the rest default
	require.NoError(t, err)
	assert.Equal(t, "california", p.Name)
	assert.Equal(t, labor.OvertimeDaily, p.OvertimeMode)
	assert.True(t, p.DoubletimeThreshold.Equal(decimal.NewFromInt(12)))
	assert.True(t, p.DefaultRates[labor.SkillJourneyman].Equal(decimal.RequireFromString("50.25")))
	assert.Equal(t, labor.SkillJourneyman, p.RoleTiers["lineman"])
	assert.Equal(t, labor.SkillMaster, p.RoleTiers["foreman"], "standard role mappings are kept")
	assert.True(t, p.WeeklyOvertimeThreshold.Equal(decimal.NewFromInt(40)))
	assert.True(t, p.MaxDailyHours.Equal(decimal.NewFromInt(16)))
}

func TestParsePolicy_EmptyObjectIsStandard(t *testing.T) {
	p, err := NewPayPolicyFactory().ParsePolicy([]byte(`{}`))

	require.NoError(t, err)
	assert.Equal(t, labor.DefaultPayPolicy().Name, p.Name)
	assert.True(t, p.OvertimeMultiplier.Equal(decimal.RequireFromString("1.5")))
}

func TestParsePolicy_Rejections(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"malformed json", `{"name":`},
		{"unknown mode", `{"overtime_mode": "monthly"}`},
		{"bad rate", `{"default_rates": {"master": "lots"}}`},
		{"non-positive rate", `{"default_rates": {"master": "0"}}`},
		{"doubletime below overtime", `{"doubletime_threshold": "4"}`},
		{"multiplier below one", `{"overtime_multiplier": "0.5"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPayPolicyFactory().ParsePolicy([]byte(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestParsePolicy_UnknownModeIsInvalidInput(t *testing.T) {
	_, err := NewPayPolicyFactory().ParsePolicy([]byte(`{"overtime_mode": "hourly"}`))
	assert.True(t, errors.Is(err, labor.ErrInvalidInput))
}

func TestToJSON_RoundTripsThroughFromJSON(t *testing.T) {
	// GIVEN: a weekly policy with doubletime
	f := NewPayPolicyFactory()
	orig := labor.DefaultPayPolicy()
	orig.Name = "weekly"
	orig.OvertimeMode = labor.OvertimeWeekly
	orig.DoubletimeThreshold = decimal.NewFromInt(12)

	// WHEN: converting out and back
	back, err := f.FromJSON(f.ToJSON(orig))

	// THEN: the policy is unchanged
	require.NoError(t, err)
	assert.Equal(t, orig.OvertimeMode, back.OvertimeMode)
	assert.True(t, back.DoubletimeThreshold.Equal(orig.DoubletimeThreshold))
	assert.Len(t, back.DefaultRates, len(orig.DefaultRates))
}

func TestLoadFile(t *testing.T) {
	f := NewPayPolicyFactory()

	t.Run("empty path uses standard policy", func(t *testing.T) {
		p, err := f.LoadFile("")
		require.NoError(t, err)
		assert.Equal(t, "standard", p.Name)
	})

	t.Run("reads file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "policy.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"name":"weekly","overtime_mode":"weekly"}`), 0o644))

		p, err := f.LoadFile(path)
		require.NoError(t, err)
		assert.Equal(t, labor.OvertimeWeekly, p.OvertimeMode)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := f.LoadFile(filepath.Join(t.TempDir(), "nope.json"))
		assert.Error(t, err)
	})
}
