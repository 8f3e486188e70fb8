/*
handlers_test.go - HTTP tests for the API handlers

Tests for:
- Trending listings and pagination
- Quest, referral and review outcomes over HTTP
- Admin adjustments, settings and tier standing
- Error status mapping and the click rate limit
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/reputation-engine/store/sqlite"
)

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type testServer struct {
	h      *Handler
	router http.Handler
}

func newTestServer(t *testing.T, cfg RouterConfig) *testServer {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	store.SetClock(func() time.Time { return fixedNow })
	t.Cleanup(func() { store.Close() })

	h := NewHandler(store, Options{Now: func() time.Time { return fixedNow }})
	return &testServer{h: h, router: NewRouter(h, cfg)}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v), rec.Body.String())
	return v
}

func (ts *testServer) createApp(t *testing.T, id, developer string, createdAt time.Time) {
	rec := ts.do(t, http.MethodPost, "/api/apps", CreateAppRequest{
		ID: id, Name: strings.ToUpper(id), DeveloperAccountID: developer, CreatedAt: &createdAt,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func (ts *testServer) event(t *testing.T, appID, kind string) {
	rec := ts.do(t, http.MethodPost, "/api/apps/"+appID+"/events", RecordEventRequest{Kind: kind})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

// =============================================================================
// APPS & TRENDING
// =============================================================================

func TestTrending_RanksAndPaginates(t *testing.T) {
	// GIVEN: Three old apps with different activity and one featured app
	ts := newTestServer(t, RouterConfig{})
	old := fixedNow.Add(-30 * 24 * time.Hour)
	for _, id := range []string{"busy", "idle", "mid", "promo"} {
		ts.createApp(t, id, "", old)
	}
	for i := 0; i < 4; i++ {
		ts.event(t, "busy", "click")
	}
	ts.event(t, "mid", "install")
	rec := ts.do(t, http.MethodPut, "/api/admin/apps/promo/feature", FeatureRequest{Featured: true})
	require.Equal(t, http.StatusOK, rec.Code)

	// WHEN: Fetching the first page of two
	rec = ts.do(t, http.MethodGet, "/api/apps/trending?limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	first := decode[TrendingResponse](t, rec)

	// THEN: Featured leads, then by score
	assert.Equal(t, 4, first.Total)
	require.Len(t, first.Listings, 2)
	assert.Equal(t, "promo", first.Listings[0].AppID)
	assert.Equal(t, 1, first.Listings[0].Position)
	assert.Equal(t, "busy", first.Listings[1].AppID)
	assert.Equal(t, "2.00", first.Listings[1].Score)
	assert.Equal(t, 4, first.Listings[1].Clicks)

	rec = ts.do(t, http.MethodGet, "/api/apps/trending?limit=2&offset=2", nil)
	second := decode[TrendingResponse](t, rec)
	require.Len(t, second.Listings, 2)
	assert.Equal(t, "mid", second.Listings[0].AppID)
	assert.Equal(t, 3, second.Listings[0].Position)
	assert.Equal(t, "idle", second.Listings[1].AppID)
}

func TestTrending_RejectsBadPaging(t *testing.T) {
	ts := newTestServer(t, RouterConfig{})
	for _, q := range []string{"limit=0", "limit=101", "limit=x", "offset=-1"} {
		rec := ts.do(t, http.MethodGet, "/api/apps/trending?"+q, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestRecordEvent_Errors(t *testing.T) {
	ts := newTestServer(t, RouterConfig{})
	ts.createApp(t, "a", "", fixedNow)

	rec := ts.do(t, http.MethodPost, "/api/apps/a/events", RecordEventRequest{Kind: "share"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/apps/ghost/events", RecordEventRequest{Kind: "click"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "app_not_found", decode[ErrorResponse](t, rec).Code)
}

func TestRecordEvent_RejectsFarFutureTimestamp(t *testing.T) {
	// GIVEN: An old app with no activity
	ts := newTestServer(t, RouterConfig{})
	ts.createApp(t, "a", "", fixedNow.Add(-30*24*time.Hour))

	// WHEN: An install is stamped a year ahead
	future := fixedNow.Add(365 * 24 * time.Hour)
	rec := ts.do(t, http.MethodPost, "/api/apps/a/events", RecordEventRequest{Kind: "install", OccurredAt: &future})

	// THEN: It is rejected and the ranking does not move
	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, "validation", resp.Code)
	assert.Contains(t, resp.Error, "occurred_at")

	trending := decode[TrendingResponse](t, ts.do(t, http.MethodGet, "/api/apps/trending", nil))
	require.Len(t, trending.Listings, 1)
	assert.Equal(t, "0.00", trending.Listings[0].Score)
	assert.Zero(t, trending.Listings[0].Installs)

	// A stamp within the allowed clock skew still lands.
	nearby := fixedNow.Add(time.Minute)
	rec = ts.do(t, http.MethodPost, "/api/apps/a/events", RecordEventRequest{Kind: "install", OccurredAt: &nearby})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	trending = decode[TrendingResponse](t, ts.do(t, http.MethodGet, "/api/apps/trending", nil))
	assert.Equal(t, 1, trending.Listings[0].Installs)
}

func TestCreateApp_ExistingIDConflicts(t *testing.T) {
	// GIVEN: An app listed by 0xdev
	ts := newTestServer(t, RouterConfig{})
	ts.createApp(t, "a", "0xdev", fixedNow)

	// WHEN: The same ID is posted with another name and developer
	rec := ts.do(t, http.MethodPost, "/api/apps", CreateAppRequest{ID: "a", Name: "Impostor", DeveloperAccountID: "0xother"})

	// THEN: 409, and the listing and submission counts are unchanged
	require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
	assert.Equal(t, "app_exists", decode[ErrorResponse](t, rec).Code)

	app := decode[AppDTO](t, ts.do(t, http.MethodGet, "/api/apps/a", nil))
	assert.Equal(t, "A", app.Name)
	assert.Equal(t, "0xdev", app.DeveloperAccountID)

	dev := decode[AccountDTO](t, ts.do(t, http.MethodGet, "/api/accounts/0xdev", nil))
	assert.Equal(t, int64(1), dev.AppsSubmitted)
	other := decode[AccountDTO](t, ts.do(t, http.MethodGet, "/api/accounts/0xother", nil))
	assert.Zero(t, other.AppsSubmitted)
}

func TestGetApp_NotFound(t *testing.T) {
	ts := newTestServer(t, RouterConfig{})
	rec := ts.do(t, http.MethodGet, "/api/apps/ghost", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteApp(t *testing.T) {
	ts := newTestServer(t, RouterConfig{})
	ts.createApp(t, "a", "", fixedNow)

	rec := ts.do(t, http.MethodDelete, "/api/admin/apps/a", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = ts.do(t, http.MethodDelete, "/api/admin/apps/a", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// REVIEWS
// =============================================================================

func TestCreateReview_RewardedOncePerApp(t *testing.T) {
	// GIVEN: A listed app
	ts := newTestServer(t, RouterConfig{})
	ts.createApp(t, "a", "", fixedNow)
	req := ReviewRequest{AccountID: "0xABC", Rating: 4, Body: "nice"}

	// WHEN: The same account reviews twice
	first := decode[ReviewResponse](t, ts.do(t, http.MethodPost, "/api/apps/a/reviews", req))
	second := decode[ReviewResponse](t, ts.do(t, http.MethodPost, "/api/apps/a/reviews", req))

	// THEN: Only the first is credited
	assert.Equal(t, "credited", first.Outcome)
	assert.Equal(t, int64(10), first.Reward)
	assert.Equal(t, "already_reviewed", second.Outcome)
	assert.Zero(t, second.Reward)

	acc := decode[AccountDTO](t, ts.do(t, http.MethodGet, "/api/accounts/0xabc", nil))
	assert.Equal(t, int64(10), acc.Balance)

	app := decode[AppDTO](t, ts.do(t, http.MethodGet, "/api/apps/a", nil))
	assert.Equal(t, 1, app.RatingCount)
}

func TestCreateReview_Errors(t *testing.T) {
	ts := newTestServer(t, RouterConfig{})
	ts.createApp(t, "a", "", fixedNow)

	rec := ts.do(t, http.MethodPost, "/api/apps/ghost/reviews", ReviewRequest{AccountID: "0xabc", Rating: 4})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/apps/a/reviews", ReviewRequest{AccountID: "0xabc", Rating: 6})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid rating", decode[ErrorResponse](t, rec).Error)
}

// =============================================================================
// QUESTS & REFERRALS
// =============================================================================

func TestCompleteQuest_OncePerDay(t *testing.T) {
	ts := newTestServer(t, RouterConfig{})
	body := CompleteQuestRequest{AccountID: "0xabc"}

	first := decode[QuestResponse](t, ts.do(t, http.MethodPost, "/api/quests/daily-review/complete", body))
	assert.Equal(t, "credited", first.Outcome)
	assert.Equal(t, int64(10), first.Reward)
	assert.Equal(t, "2024-06-01", first.Day)

	second := decode[QuestResponse](t, ts.do(t, http.MethodPost, "/api/quests/daily-review/complete", body))
	assert.Equal(t, "already_completed", second.Outcome)

	rec := ts.do(t, http.MethodPost, "/api/quests/daily-moonwalk/complete", body)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "unknown_quest", decode[ErrorResponse](t, rec).Code)

	rec = ts.do(t, http.MethodPost, "/api/quests/daily-review/complete", CompleteQuestRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListQuests(t *testing.T) {
	ts := newTestServer(t, RouterConfig{})
	quests := decode[[]QuestDTO](t, ts.do(t, http.MethodGet, "/api/quests", nil))
	assert.NotEmpty(t, quests)
}

func TestReferral_ClickThenConvert(t *testing.T) {
	ts := newTestServer(t, RouterConfig{})
	click := ClickRequest{Referrer: "0x111", URL: "https://apps.example/r/0x111", ReferredAccountID: "123"}

	// WHEN: The same pair clicks twice, then converts twice
	c1 := decode[ClickResponse](t, ts.do(t, http.MethodPost, "/api/referrals/click", click))
	c2 := decode[ClickResponse](t, ts.do(t, http.MethodPost, "/api/referrals/click", click))
	conv := ConvertRequest{ReferredAccountID: "123", Referrer: "0x111"}
	v1 := decode[ConvertResponse](t, ts.do(t, http.MethodPost, "/api/referrals/convert", conv))
	v2 := decode[ConvertResponse](t, ts.do(t, http.MethodPost, "/api/referrals/convert", conv))

	// THEN: One click bonus, one conversion bonus
	assert.True(t, c1.IsNewClick)
	assert.Equal(t, "new_click", c1.Outcome)
	assert.False(t, c2.IsNewClick)
	assert.Equal(t, c1.ReferralID, c2.ReferralID)
	assert.Equal(t, "converted", v1.Outcome)
	assert.Equal(t, int64(50), v1.Bonus)
	assert.Equal(t, "not_found", v2.Outcome)

	acc := decode[AccountDTO](t, ts.do(t, http.MethodGet, "/api/accounts/0x111", nil))
	assert.Equal(t, int64(55), acc.Balance)

	history := decode[TransactionsResponse](t, ts.do(t, http.MethodGet, "/api/accounts/0x111/transactions", nil))
	assert.Equal(t, 2, history.Count)
	assert.Equal(t, int64(5), history.ByType["referral_click"])
	assert.Equal(t, int64(50), history.ByType["referral_conversion"])
}

func TestReferralClick_RateLimited(t *testing.T) {
	// GIVEN: A limiter that allows two clicks and never refills
	ts := newTestServer(t, RouterConfig{ClickLimiter: NewRateLimiter(0, 2, nil)})
	click := ClickRequest{Referrer: "0x111"}

	// THEN: The third request from the same client is throttled
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/api/referrals/click", click).Code)
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/api/referrals/click", click).Code)

	rec := ts.do(t, http.MethodPost, "/api/referrals/click", click)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	// Conversions are not throttled.
	rec = ts.do(t, http.MethodPost, "/api/referrals/convert", ConvertRequest{ReferredAccountID: "0x222", Referrer: "0x111"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

// =============================================================================
// ADMIN
// =============================================================================

func TestCreateAdjustment(t *testing.T) {
	ts := newTestServer(t, RouterConfig{})

	rec := ts.do(t, http.MethodPost, "/api/admin/adjustments", AdjustmentRequest{AccountID: "0xabc", Amount: 30, Reason: "import"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodPost, "/api/admin/adjustments", AdjustmentRequest{AccountID: "0xabc", Amount: -40, ReferenceID: "fix-1"})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, float64(-10), decode[map[string]any](t, rec)["balance"])

	rec = ts.do(t, http.MethodPost, "/api/admin/adjustments", AdjustmentRequest{AccountID: "0xabc", Amount: -40, ReferenceID: "fix-1"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/admin/adjustments", AdjustmentRequest{AccountID: "0xabc", Amount: 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	check := decode[BalanceCheckDTO](t, ts.do(t, http.MethodGet, "/api/admin/accounts/0xabc/verify", nil))
	assert.True(t, check.Consistent)
	assert.Equal(t, int64(-10), check.Logged)
}

func TestSettings(t *testing.T) {
	ts := newTestServer(t, RouterConfig{})

	settings := decode[map[string]string](t, ts.do(t, http.MethodGet, "/api/admin/settings", nil))
	assert.Equal(t, "false", settings[sqlite.SettingPremiumEnabled])

	rec := ts.do(t, http.MethodPut, "/api/admin/settings/premium_enabled", SettingRequest{Value: "yes please"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPut, "/api/admin/settings/dark_mode", SettingRequest{Value: "true"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodPut, "/api/admin/settings/premium_enabled", SettingRequest{Value: "true"})
	require.Equal(t, http.StatusOK, rec.Code)
	settings = decode[map[string]string](t, ts.do(t, http.MethodGet, "/api/admin/settings", nil))
	assert.Equal(t, "true", settings[sqlite.SettingPremiumEnabled])
}

// =============================================================================
// TIERS
// =============================================================================

func TestGetTier_FromAccountMetrics(t *testing.T) {
	// GIVEN: A verified developer with two apps, tracked opens and 600 XP
	ts := newTestServer(t, RouterConfig{})
	ts.createApp(t, "a", "0xdev", fixedNow)
	ts.createApp(t, "b", "0xdev", fixedNow)
	for i := 0; i < 3; i++ {
		ts.event(t, "a", "open")
	}
	yes := true
	rec := ts.do(t, http.MethodPut, "/api/admin/accounts/0xdev", UpdateAccountRequest{Verified: &yes, Premium: &yes})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = ts.do(t, http.MethodPost, "/api/admin/adjustments", AdjustmentRequest{AccountID: "0xdev", Amount: 600})
	require.Equal(t, http.StatusCreated, rec.Code)

	// WHEN: Premium is switched off (the default)
	standing := decode[StandingDTO](t, ts.do(t, http.MethodGet, "/api/accounts/0xdev/tier", nil))

	// THEN: 50 + 60 + 40 = 150, premium ignored
	assert.Equal(t, int64(150), standing.Score)
	assert.Equal(t, "verified", standing.Tier)
	assert.Equal(t, "pro", standing.NextTier)
	assert.Equal(t, int64(350), standing.PointsToNext)
	assert.Equal(t, int64(3), standing.Metrics.TotalLaunches)
	assert.False(t, standing.Metrics.IsPremium)

	// WHEN: Premium is enabled
	rec = ts.do(t, http.MethodPut, "/api/admin/settings/premium_enabled", SettingRequest{Value: "true"})
	require.Equal(t, http.StatusOK, rec.Code)
	standing = decode[StandingDTO](t, ts.do(t, http.MethodGet, "/api/accounts/0xdev/tier", nil))

	// THEN: +200, still short of pro
	assert.Equal(t, int64(350), standing.Score)
	assert.Equal(t, "verified", standing.Tier)
	assert.True(t, standing.Metrics.IsPremium)
}

func TestGetTier_UnknownAccountIsStarter(t *testing.T) {
	ts := newTestServer(t, RouterConfig{})
	standing := decode[StandingDTO](t, ts.do(t, http.MethodGet, "/api/accounts/0xnobody/tier", nil))
	assert.Equal(t, "starter", standing.Tier)
	assert.Zero(t, standing.Score)
}

func TestListTiers(t *testing.T) {
	ts := newTestServer(t, RouterConfig{})
	tiers := decode[[]TierDTO](t, ts.do(t, http.MethodGet, "/api/tiers", nil))
	require.Len(t, tiers, 5)
	assert.Equal(t, "starter", tiers[0].Tier)
	assert.Equal(t, int64(10000), tiers[4].Threshold)
}

// =============================================================================
// OPERATIONS
// =============================================================================

func TestHealthzAndMetrics(t *testing.T) {
	ts := newTestServer(t, RouterConfig{})

	rec := ts.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	ts.do(t, http.MethodPost, "/api/quests/daily-review/complete", CompleteQuestRequest{AccountID: "0xabc"})

	rec = ts.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `reputation_ledger_credits_total{type="quest"} 1`)
	assert.Contains(t, body, `reputation_guard_outcomes_total{operation="quest",outcome="credited"} 1`)
}

func TestAudit_ReportsConsistentBalances(t *testing.T) {
	ts := newTestServer(t, RouterConfig{})
	ts.do(t, http.MethodPost, "/api/quests/daily-review/complete", CompleteQuestRequest{AccountID: "0xabc"})
	ts.do(t, http.MethodPost, "/api/quests/daily-checkin/complete", CompleteQuestRequest{AccountID: "0xdef"})

	rec := ts.do(t, http.MethodGet, "/api/admin/audit", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/admin/audit", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	report := decode[AuditReport](t, rec)
	assert.Equal(t, 2, report.AccountsChecked)
	assert.Empty(t, report.Drifted)

	rec = ts.do(t, http.MethodGet, "/api/admin/audit", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, decode[AuditReport](t, rec).AccountsChecked)
}

func TestAudit_BoundedByBatchTimeout(t *testing.T) {
	// GIVEN: A handler whose batch budget is already spent
	ts := newTestServer(t, RouterConfig{})
	ts.do(t, http.MethodPost, "/api/quests/daily-review/complete", CompleteQuestRequest{AccountID: "0xabc"})
	assert.Equal(t, 10*ts.h.StoreTimeout, ts.h.BatchTimeout)
	ts.h.BatchTimeout = -time.Second

	// WHEN: An audit pass runs, with no deadline on the caller's context
	_, err := NewBalanceAuditor(ts.h, nil).RunNow(context.Background())

	// THEN: The pass gives up instead of running unbounded
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	rec := ts.do(t, http.MethodPost, "/api/admin/audit", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code, rec.Body.String())
}

func TestBatchCtx_Deadline(t *testing.T) {
	ts := newTestServer(t, RouterConfig{})
	ctx, cancel := ts.h.batchCtx(context.Background())
	defer cancel()

	deadline, ok := ctx.Deadline()
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(ts.h.BatchTimeout), deadline, time.Second)
}

func TestRateLimiter_Sweep(t *testing.T) {
	rl := NewRateLimiter(1, 1, nil)
	clock := fixedNow
	rl.now = func() time.Time { return clock }

	rl.allow("10.0.0.1")
	clock = clock.Add(5 * time.Minute)
	rl.allow("10.0.0.2")
	clock = clock.Add(6 * time.Minute)

	assert.Equal(t, 1, rl.Sweep(10*time.Minute))
	assert.Equal(t, 1, rl.Len())
}

func TestClientKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.9:5555"
	assert.Equal(t, "203.0.113.9", clientKey(req))

	req.RemoteAddr = "203.0.113.9"
	assert.Equal(t, "203.0.113.9", clientKey(req))
}
