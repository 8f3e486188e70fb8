/*
Package tier derives a reputation tier from aggregated account metrics.

SCORE:
  50*verified + 100*contractVerified + floor(totalXP/10)
  + 20*appsSubmitted + floor(totalLaunches/100) + 200*isPremium

THRESHOLDS (highest match wins):
  master   >= 10000
  elite    >= 2000
  pro      >= 500
  verified >= 100
  starter  otherwise

  Every term is non-decreasing in its metric, so raising any single metric
  never lowers the tier. Perks accumulate: each tier has every perk of the
  tier below plus its own.

EXAMPLE:
  s := tier.Evaluate(tier.Metrics{Verified: true, TotalXP: 600})
  // s.Score == 110, s.Tier == tier.Verified, s.Next == tier.Pro, s.Gap == 390
*/
package tier

// =============================================================================
// TIERS
// =============================================================================

type Tier string

const (
	Starter  Tier = "starter"
	Verified Tier = "verified"
	Pro      Tier = "pro"
	Elite    Tier = "elite"
	Master   Tier = "master"
)

type level struct {
	tier  Tier
	min   int64
	perks []string
}

// ladder is ordered lowest first. perks lists only what the level adds.
var ladder = []level{
	{tier: Starter, min: 0, perks: []string{"list_apps", "daily_quests"}},
	{tier: Verified, min: 100, perks: []string{"verified_badge", "reply_to_reviews"}},
	{tier: Pro, min: 500, perks: []string{"analytics_dashboard", "priority_review_queue"}},
	{tier: Elite, min: 2000, perks: []string{"featured_eligibility", "custom_listing_theme"}},
	{tier: Master, min: 10000, perks: []string{"early_access", "dedicated_support"}},
}

// Tiers returns all tiers, lowest first.
func Tiers() []Tier {
	out := make([]Tier, len(ladder))
	for i, l := range ladder {
		out[i] = l.tier
	}
	return out
}

func (t Tier) index() int {
	for i, l := range ladder {
		if l.tier == t {
			return i
		}
	}
	return -1
}

func (t Tier) Valid() bool { return t.index() >= 0 }

// Rank is the tier's position on the ladder, 0 for starter.
func (t Tier) Rank() int { return t.index() }

// Threshold is the minimum score for the tier.
func (t Tier) Threshold() int64 {
	if i := t.index(); i >= 0 {
		return ladder[i].min
	}
	return 0
}

// =============================================================================
// METRICS & SCORE
// =============================================================================

// Metrics are the aggregated account signals a tier is derived from.
type Metrics struct {
	Verified         bool
	ContractVerified bool
	TotalXP          int64
	AppsSubmitted    int64
	TotalLaunches    int64
	IsPremium        bool
}

func Score(m Metrics) int64 {
	var score int64
	if m.Verified {
		score += 50
	}
	if m.ContractVerified {
		score += 100
	}
	score += floorDiv(m.TotalXP, 10)
	score += 20 * m.AppsSubmitted
	score += floorDiv(m.TotalLaunches, 100)
	if m.IsPremium {
		score += 200
	}
	return score
}

// ForScore returns the highest tier whose threshold the score meets.
func ForScore(score int64) Tier {
	t := Starter
	for _, l := range ladder {
		if score >= l.min {
			t = l.tier
		}
	}
	return t
}

func Calculate(m Metrics) Tier {
	return ForScore(Score(m))
}

// NextTier returns the tier above current and the score still needed to
// reach it. ok is false at the top tier.
func NextTier(current Tier, score int64) (next Tier, gap int64, ok bool) {
	i := current.index()
	if i < 0 || i+1 >= len(ladder) {
		return "", 0, false
	}
	n := ladder[i+1]
	gap = n.min - score
	if gap < 0 {
		gap = 0
	}
	return n.tier, gap, true
}

// Perks returns every perk unlocked at t, including those of lower tiers.
func Perks(t Tier) []string {
	i := t.index()
	if i < 0 {
		return nil
	}
	var perks []string
	for _, l := range ladder[:i+1] {
		perks = append(perks, l.perks...)
	}
	return perks
}

// =============================================================================
// STANDING
// =============================================================================

// Standing is the full tier evaluation for an account.
type Standing struct {
	Score   int64
	Tier    Tier
	Perks   []string
	Next    Tier
	Gap     int64
	HasNext bool
}

func Evaluate(m Metrics) Standing {
	score := Score(m)
	t := ForScore(score)
	next, gap, ok := NextTier(t, score)
	return Standing{
		Score:   score,
		Tier:    t,
		Perks:   Perks(t),
		Next:    next,
		Gap:     gap,
		HasNext: ok,
	}
}

// floorDiv divides rounding toward negative infinity, so debited XP floors
// the same way positive XP does.
func floorDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}
