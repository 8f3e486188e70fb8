package tier

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScore(t *testing.T) {
	tests := []struct {
		name string
		m    Metrics
		want int64
	}{
		{"zero", Metrics{}, 0},
		{"verified", Metrics{Verified: true}, 50},
		{"contract verified", Metrics{ContractVerified: true}, 100},
		{"xp floors", Metrics{TotalXP: 99}, 9},
		{"apps", Metrics{AppsSubmitted: 3}, 60},
		{"launches floor", Metrics{TotalLaunches: 250}, 2},
		{"premium", Metrics{IsPremium: true}, 200},
		{"negative xp floors down", Metrics{TotalXP: -5}, -1},
		{
			"everything",
			Metrics{Verified: true, ContractVerified: true, TotalXP: 600, AppsSubmitted: 2, TotalLaunches: 1000, IsPremium: true},
			50 + 100 + 60 + 40 + 10 + 200,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Score(tt.m))
		})
	}
}

func TestForScore_Thresholds(t *testing.T) {
	tests := []struct {
		score int64
		want  Tier
	}{
		{-10, Starter},
		{0, Starter},
		{99, Starter},
		{100, Verified},
		{499, Verified},
		{500, Pro},
		{1999, Pro},
		{2000, Elite},
		{9999, Elite},
		{10000, Master},
		{1 << 40, Master},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ForScore(tt.score), "score %d", tt.score)
	}
}

func TestCalculate_MonotonicInEachMetric(t *testing.T) {
	// GIVEN: A base account and a bump for each metric
	base := Metrics{TotalXP: 900, AppsSubmitted: 1, TotalLaunches: 50}
	bumps := []func(Metrics) Metrics{
		func(m Metrics) Metrics { m.Verified = true; return m },
		func(m Metrics) Metrics { m.ContractVerified = true; return m },
		func(m Metrics) Metrics { m.TotalXP += 10000; return m },
		func(m Metrics) Metrics { m.AppsSubmitted += 100; return m },
		func(m Metrics) Metrics { m.TotalLaunches += 1000000; return m },
		func(m Metrics) Metrics { m.IsPremium = true; return m },
	}

	// THEN: Raising any single metric never lowers the tier
	for i, bump := range bumps {
		before := Calculate(base)
		after := Calculate(bump(base))
		assert.GreaterOrEqual(t, after.Rank(), before.Rank(), "bump %d", i)
	}

	for xp := int64(0); xp <= 120000; xp += 997 {
		assert.GreaterOrEqual(t, Calculate(Metrics{TotalXP: xp + 1}).Rank(), Calculate(Metrics{TotalXP: xp}).Rank())
	}
}

func TestPerks_StrictSupersets(t *testing.T) {
	tiers := Tiers()
	for i := 1; i < len(tiers); i++ {
		lower := Perks(tiers[i-1])
		higher := Perks(tiers[i])

		assert.Subset(t, higher, lower, "%s must include every %s perk", tiers[i], tiers[i-1])
		assert.Greater(t, len(higher), len(lower))
	}
	assert.Nil(t, Perks(Tier("legend")))
}

func TestNextTier(t *testing.T) {
	next, gap, ok := NextTier(Verified, 110)
	assert.True(t, ok)
	assert.Equal(t, Pro, next)
	assert.Equal(t, int64(390), gap)

	next, gap, ok = NextTier(Starter, 0)
	assert.True(t, ok)
	assert.Equal(t, Verified, next)
	assert.Equal(t, int64(100), gap)

	_, _, ok = NextTier(Master, 50000)
	assert.False(t, ok)

	_, _, ok = NextTier(Tier("legend"), 0)
	assert.False(t, ok)
}

func TestEvaluate(t *testing.T) {
	s := Evaluate(Metrics{Verified: true, TotalXP: 600})

	assert.Equal(t, int64(110), s.Score)
	assert.Equal(t, Verified, s.Tier)
	assert.Equal(t, Pro, s.Next)
	assert.Equal(t, int64(390), s.Gap)
	assert.True(t, s.HasNext)
	assert.Contains(t, s.Perks, "verified_badge")
	assert.Contains(t, s.Perks, "list_apps")
}

func TestTierThresholdAndValid(t *testing.T) {
	assert.Equal(t, int64(2000), Elite.Threshold())
	assert.Equal(t, 0, Starter.Rank())
	assert.Equal(t, 4, Master.Rank())
	assert.False(t, Tier("legend").Valid())
	assert.Equal(t, int64(0), Tier("legend").Threshold())
}
