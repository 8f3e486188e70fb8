/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	data for demos. Every scenario writes through the same guard, ledger and
	store calls the API uses, so the seeded data obeys every gate.

AVAILABLE SCENARIOS:

	trending-demo: Apps with fresh/stale events, a featured app, a new app
	rewards-demo:  Quests, referrals, reviews and an admin debit
	tier-ladder:   One account per tier, from starter to master

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Create apps and accounts
 3. Drive events, quests, referrals and reviews relative to "now"

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "trending-demo"}

NOTE:

	Scenarios reset the database. Only use in development/demo environments.
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/reputation-engine/guard"
	"github.com/warp/reputation-engine/ledger"
	"github.com/warp/reputation-engine/ranking"
	"github.com/warp/reputation-engine/store/sqlite"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "trending-demo",
		Name:        "Trending Demo",
		Description: "Five apps with recent and stale events, one featured, one launched this week",
		Category:    "ranking",
	},
	{
		ID:          "rewards-demo",
		Name:        "Rewards Demo",
		Description: "Daily quests, a converted and a pending referral, reviews and an admin debit",
		Category:    "rewards",
	},
	{
		ID:          "tier-ladder",
		Name:        "Tier Ladder",
		Description: "One developer account at each reputation tier",
		Category:    "tiers",
	},
}

func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the database and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := h.loadScenario(r.Context(), req.ScenarioID); err != nil {
		if errors.Is(err, errUnknownScenario) {
			writeError(w, http.StatusBadRequest, "Unknown scenario", err)
			return
		}
		h.writeDomainError(w, r, "load scenario", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "ok",
		"scenario": req.ScenarioID,
	})
}

var errUnknownScenario = errors.New("unknown scenario")

func (h *Handler) loadScenario(ctx context.Context, id string) error {
	var load func(context.Context) error
	switch id {
	case "trending-demo":
		load = h.loadTrendingScenario
	case "rewards-demo":
		load = h.loadRewardsScenario
	case "tier-ladder":
		load = h.loadTierLadderScenario
	default:
		return errUnknownScenario
	}

	ctx, cancel := h.batchCtx(ctx)
	defer cancel()

	if err := h.Store.Reset(ctx); err != nil {
		return err
	}
	if err := load(ctx); err != nil {
		return fmt.Errorf("scenario %s: %w", id, err)
	}

	h.mu.Lock()
	h.currentScenario = id
	h.mu.Unlock()
	h.Logger.InfoContext(ctx, "scenario loaded", "scenario", id)
	return nil
}

// =============================================================================
// TRENDING DEMO
// =============================================================================

type seedApp struct {
	id        string
	name      string
	developer ledger.AccountID
	age       time.Duration
	featured  bool
	recent    map[ranking.EventKind]int // inside the trending window
	stale     map[ranking.EventKind]int // older than the window
	ratings   []int
}

func (h *Handler) loadTrendingScenario(ctx context.Context) error {
	now := h.now().UTC()

	apps := []seedApp{
		{
			id: "swapper", name: "Swapper", developer: "0xdev1", age: 90 * 24 * time.Hour,
			recent:  map[ranking.EventKind]int{ranking.EventClick: 40, ranking.EventInstall: 12, ranking.EventOpen: 30},
			ratings: []int{5, 4, 5, 4},
		},
		{
			id: "nft-gallery", name: "NFT Gallery", developer: "0xdev2", age: 60 * 24 * time.Hour,
			stale:   map[ranking.EventKind]int{ranking.EventClick: 200, ranking.EventInstall: 80},
			recent:  map[ranking.EventKind]int{ranking.EventClick: 3},
			ratings: []int{3, 4},
		},
		{
			id: "fresh-dao", name: "Fresh DAO", developer: "0xdev1", age: 2 * 24 * time.Hour,
			recent:  map[ranking.EventKind]int{ranking.EventClick: 10, ranking.EventInstall: 5, ranking.EventOpen: 5},
			ratings: []int{4},
		},
		{
			id: "staking-hub", name: "Staking Hub", developer: "0xdev3", age: 30 * 24 * time.Hour,
			featured: true,
			recent:   map[ranking.EventKind]int{ranking.EventClick: 1},
		},
		{
			id: "quiet-wallet", name: "Quiet Wallet", developer: "0xdev3", age: 120 * 24 * time.Hour,
		},
	}

	for _, a := range apps {
		if err := h.seedApp(ctx, now, a); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) seedApp(ctx context.Context, now time.Time, a seedApp) error {
	err := h.Store.SaveApp(ctx, sqlite.AppRecord{
		ID:                 a.id,
		Name:               a.name,
		DeveloperAccountID: a.developer,
		RatingAverage:      decimal.Zero,
		CreatedAt:          now.Add(-a.age),
	})
	if err != nil {
		return err
	}
	if a.featured {
		if _, err := h.Store.SetFeatured(ctx, a.id, true); err != nil {
			return err
		}
	}

	record := func(kinds map[ranking.EventKind]int, base time.Duration) error {
		for kind, n := range kinds {
			for i := 0; i < n; i++ {
				err := h.Store.RecordEvent(ctx, ranking.InteractionEvent{
					ID:         uuid.NewString(),
					AppID:      a.id,
					Kind:       kind,
					OccurredAt: now.Add(-base - time.Duration(i)*time.Minute),
				})
				if err != nil {
					return err
				}
			}
		}
		return nil
	}
	if err := record(a.recent, time.Hour); err != nil {
		return err
	}
	if err := record(a.stale, 5*24*time.Hour); err != nil {
		return err
	}

	for i, rating := range a.ratings {
		_, err := h.Guard.RecordReview(ctx, guard.ReviewInput{
			AppID:     a.id,
			AccountID: ledger.AccountID(fmt.Sprintf("0xreviewer%d", i+1)),
			Rating:    rating,
			Body:      "Seeded review",
		}, now.Add(-time.Duration(i+1)*time.Hour))
		if err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// REWARDS DEMO
// =============================================================================

func (h *Handler) loadRewardsScenario(ctx context.Context) error {
	now := h.now().UTC()

	if err := h.seedApp(ctx, now, seedApp{
		id: "swapper", name: "Swapper", developer: "0xdev1", age: 30 * 24 * time.Hour,
	}); err != nil {
		return err
	}

	// Three days of quests for 0xabc, with a same-day repeat that the gate drops.
	for day := 2; day >= 0; day-- {
		at := now.Add(-time.Duration(day) * 24 * time.Hour)
		for _, q := range []string{"daily-review", "daily-checkin"} {
			if _, err := h.Guard.RecordQuestCompletion(ctx, q, "0xabc", at); err != nil {
				return err
			}
		}
	}
	if _, err := h.Guard.RecordQuestCompletion(ctx, "daily-checkin", "0xabc", now); err != nil {
		return err
	}

	// 0xabc refers 0x111 (converted) and 0x222 (clicked twice, pending).
	if _, err := h.Guard.TrackReferralClick(ctx, "0xabc", "https://apps.example/r/0xabc", "0x111"); err != nil {
		return err
	}
	if _, err := h.Guard.ConvertReferral(ctx, "0x111", "0xabc"); err != nil {
		return err
	}
	for i := 0; i < 2; i++ {
		if _, err := h.Guard.TrackReferralClick(ctx, "0xabc", "https://apps.example/r/0xabc", "0x222"); err != nil {
			return err
		}
	}

	if _, err := h.Guard.RecordReview(ctx, guard.ReviewInput{
		AppID: "swapper", AccountID: "0x111", Rating: 5, Body: "Fast swaps",
	}, now); err != nil {
		return err
	}

	// A correction debit against 0xabc.
	if _, err := h.Ledger.Adjust(ctx, "0xabc", -5, "Correction: duplicate share", "demo-correction-1"); err != nil {
		return err
	}
	return nil
}

// =============================================================================
// TIER LADDER
// =============================================================================

func (h *Handler) loadTierLadderScenario(ctx context.Context) error {
	if err := h.Store.SetSetting(ctx, sqlite.SettingPremiumEnabled, "true"); err != nil {
		return err
	}

	yes := true
	counts := func(n int64) *int64 { return &n }

	ladder := []struct {
		account ledger.AccountID
		update  sqlite.AccountUpdate
		xp      int64
	}{
		// score 0
		{account: "0xstarter"},
		// 50 + 100 = 150
		{account: "0xverified", update: sqlite.AccountUpdate{Verified: &yes, ContractVerified: &yes}},
		// 50 + 100 + 200 + 20*5 + 100 = 550
		{account: "0xpro", update: sqlite.AccountUpdate{Verified: &yes, ContractVerified: &yes, Premium: &yes, AppsSubmitted: counts(5)}, xp: 1000},
		// 50 + 100 + 20*10 + 1000 + 700 = 2050
		{account: "0xelite", update: sqlite.AccountUpdate{Verified: &yes, ContractVerified: &yes, AppsSubmitted: counts(10), TotalLaunches: counts(100000)}, xp: 7000},
		// 50 + 100 + 200 + 20*50 + 5000 + 4000 = 10350
		{account: "0xmaster", update: sqlite.AccountUpdate{Verified: &yes, ContractVerified: &yes, Premium: &yes, AppsSubmitted: counts(50), TotalLaunches: counts(500000)}, xp: 40000},
	}

	for _, step := range ladder {
		if _, err := h.Store.UpdateAccount(ctx, step.account, step.update); err != nil {
			return err
		}
		if step.xp == 0 {
			continue
		}
		if _, err := h.Ledger.Adjust(ctx, step.account, step.xp, "Imported XP", "tier-ladder-import"); err != nil {
			return err
		}
	}
	return nil
}
