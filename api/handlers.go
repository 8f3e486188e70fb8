/*
handlers.go - HTTP API handlers for the reputation & rewards engine

PURPOSE:
  Exposes the ledger, guard, ranking and tier packages via REST API.
  Handles HTTP request/response and JSON serialization, and delegates every
  decision to the domain packages.

ENDPOINTS:
  Apps:
    GET    /api/apps/trending            Ranked listings (?limit=&offset=)
    POST   /api/apps                     Register app
    GET    /api/apps/{id}                Get app
    POST   /api/apps/{id}/events         Record click/install/open
    POST   /api/apps/{id}/reviews        Review app (rewarded once)

  Accounts:
    GET    /api/accounts                 Leaderboard by cached balance
    GET    /api/accounts/{id}            Account + balance
    GET    /api/accounts/{id}/transactions  Ledger history
    GET    /api/accounts/{id}/tier       Tier standing

  Quests & Referrals:
    GET    /api/quests                   Quest catalog
    POST   /api/quests/{questId}/complete  Complete quest (once per day)
    POST   /api/referrals/click          Track click (rate limited)
    POST   /api/referrals/convert        Convert referral (once)

  Tiers:
    GET    /api/tiers                    Ladder with thresholds and perks

  Admin:
    POST   /api/admin/adjustments        Signed balance adjustment
    PUT    /api/admin/apps/{id}/feature  Toggle featured
    DELETE /api/admin/apps/{id}          Remove app
    PUT    /api/admin/accounts/{id}      Update verification/counters/premium
    GET    /api/admin/accounts/{id}/verify  Cache vs log balance
    GET    /api/admin/audit              Last balance audit report
    POST   /api/admin/audit              Run the balance audit now
    GET    /api/admin/settings           List settings
    PUT    /api/admin/settings/{key}     Set setting

REQUEST FLOW:
  1. Parse HTTP request
  2. Bound the store work with the configured timeout
  3. Call domain logic (guard, ledger, ranking, tier)
  4. Record metrics, serialize response

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Unknown app or quest
  - 409: Conflict (idempotency key reused)
  - 503: Store unavailable or timed out
  Guard outcomes (already_completed, repeat_click, not_found, ...) are not
  errors and come back as 200 with an "outcome" field.

SECURITY NOTE:
  No authentication. Admin routes must sit behind an authenticating proxy.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/warp/reputation-engine/catalog"
	"github.com/warp/reputation-engine/guard"
	"github.com/warp/reputation-engine/ledger"
	"github.com/warp/reputation-engine/observability"
	"github.com/warp/reputation-engine/ranking"
	"github.com/warp/reputation-engine/store/sqlite"
	"github.com/warp/reputation-engine/tier"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store   *sqlite.Store
	Ledger  *ledger.Ledger
	Guard   *guard.Guard
	Metrics *observability.Metrics
	Logger  *slog.Logger

	// StoreTimeout bounds every store call made while serving a request.
	StoreTimeout time.Duration

	// BatchTimeout bounds multi-statement work outside a single request
	// call: audit passes and scenario loads.
	BatchTimeout time.Duration

	// EventMaxSkew is how far past now a reported event may be stamped.
	EventMaxSkew time.Duration

	now func() time.Time

	mu              sync.Mutex
	currentScenario string
}

// Options configure NewHandler. Zero values take defaults.
type Options struct {
	Catalog      *catalog.Catalog
	Metrics      *observability.Metrics
	Logger       *slog.Logger
	StoreTimeout time.Duration
	EventMaxSkew time.Duration
	Now          func() time.Time
}

// NewHandler creates a new handler with the given store.
func NewHandler(store *sqlite.Store, opts Options) *Handler {
	if opts.Catalog == nil {
		opts.Catalog = catalog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = observability.NewMetrics()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 5 * time.Second
	}
	if opts.EventMaxSkew <= 0 {
		opts.EventMaxSkew = 5 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Handler{
		Store:        store,
		Ledger:       ledger.New(store).WithClock(opts.Now),
		Guard:        guard.New(store, opts.Catalog, guard.WithClock(opts.Now), guard.WithLogger(opts.Logger)),
		Metrics:      opts.Metrics,
		Logger:       opts.Logger,
		StoreTimeout: opts.StoreTimeout,
		BatchTimeout: 10 * opts.StoreTimeout,
		EventMaxSkew: opts.EventMaxSkew,
		now:          opts.Now,
	}
}

func (h *Handler) storeCtx(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), h.StoreTimeout)
}

func (h *Handler) batchCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, h.BatchTimeout)
}

// =============================================================================
// APP ENDPOINTS
// =============================================================================

// ListTrending ranks every app at the current time and returns one page.
func (h *Handler) ListTrending(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultPageSize)
	if err != nil || limit < 1 || limit > maxPageSize {
		writeError(w, http.StatusBadRequest, "limit must be between 1 and 100", err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil || offset < 0 {
		writeError(w, http.StatusBadRequest, "offset must be a non-negative integer", err)
		return
	}

	ctx, cancel := h.storeCtx(r)
	defer cancel()

	now := h.now()
	apps, err := h.Store.TrendingInput(ctx, now)
	if err != nil {
		h.writeDomainError(w, r, "load trending input", err)
		return
	}

	start := time.Now()
	listings := ranking.Rank(apps, now)
	h.Metrics.ObserveRanking(time.Since(start))

	page := ranking.Page(listings, offset, limit)
	resp := TrendingResponse{
		Listings:    make([]ListingDTO, len(page)),
		Total:       len(listings),
		Offset:      offset,
		Limit:       limit,
		GeneratedAt: now.UTC(),
	}
	for i, l := range page {
		resp.Listings[i] = toListingDTO(offset+i+1, l)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) CreateApp(w http.ResponseWriter, r *http.Request) {
	var req CreateAppRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required", nil)
		return
	}
	if req.ID = strings.TrimSpace(req.ID); req.ID == "" {
		req.ID = uuid.NewString()
	}

	app := sqlite.AppRecord{
		ID:                 req.ID,
		Name:               req.Name,
		DeveloperAccountID: ledger.NormalizeAccountID(req.DeveloperAccountID),
	}
	if req.CreatedAt != nil {
		app.CreatedAt = req.CreatedAt.UTC()
	} else {
		app.CreatedAt = h.now().UTC()
	}

	ctx, cancel := h.storeCtx(r)
	defer cancel()

	if err := h.Store.SaveApp(ctx, app); err != nil {
		h.writeDomainError(w, r, "save app", err)
		return
	}
	saved, err := h.Store.GetApp(ctx, app.ID)
	if err != nil || saved == nil {
		h.writeDomainError(w, r, "get app", err)
		return
	}
	writeJSON(w, http.StatusCreated, toAppDTO(*saved))
}

func (h *Handler) GetApp(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.storeCtx(r)
	defer cancel()

	app, err := h.Store.GetApp(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, r, "get app", err)
		return
	}
	if app == nil {
		writeError(w, http.StatusNotFound, "App not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toAppDTO(*app))
}

// RecordEvent appends a click, install or open for an app.
func (h *Handler) RecordEvent(w http.ResponseWriter, r *http.Request) {
	var req RecordEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	event := ranking.InteractionEvent{
		ID:         uuid.NewString(),
		AppID:      chi.URLParam(r, "id"),
		Kind:       ranking.EventKind(strings.ToLower(strings.TrimSpace(req.Kind))),
		OccurredAt: h.now().UTC(),
	}
	if !event.Kind.Valid() {
		writeError(w, http.StatusBadRequest, "kind must be one of click, install, open", ranking.ErrUnknownEventKind)
		return
	}
	if req.OccurredAt != nil {
		event.OccurredAt = req.OccurredAt.UTC()
	}
	if latest := h.now().Add(h.EventMaxSkew); event.OccurredAt.After(latest) {
		h.writeDomainError(w, r, "record event", &ledger.ValidationError{
			Field: "occurred_at",
			Value: event.OccurredAt.Format(time.RFC3339),
			Err:   ranking.ErrEventInFuture,
		})
		return
	}

	ctx, cancel := h.storeCtx(r)
	defer cancel()

	if err := h.Store.RecordEvent(ctx, event); err != nil {
		h.writeDomainError(w, r, "record event", err)
		return
	}
	writeJSON(w, http.StatusCreated, EventDTO{
		ID:         event.ID,
		AppID:      event.AppID,
		Kind:       string(event.Kind),
		OccurredAt: event.OccurredAt,
	})
}

// CreateReview stores a review and credits the reviewer once per app.
func (h *Handler) CreateReview(w http.ResponseWriter, r *http.Request) {
	var req ReviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ctx, cancel := h.storeCtx(r)
	defer cancel()

	res, err := h.Guard.RecordReview(ctx, guard.ReviewInput{
		AppID:     chi.URLParam(r, "id"),
		AccountID: ledger.AccountID(req.AccountID),
		Rating:    req.Rating,
		Body:      req.Body,
	}, time.Time{})
	if err != nil {
		h.writeDomainError(w, r, "record review", err)
		return
	}

	h.Metrics.RecordOutcome("review", string(res.Outcome))
	if res.Outcome.Credited() {
		h.Metrics.RecordCredit(ledger.TxReview, res.Reward)
	}

	resp := ReviewResponse{Outcome: string(res.Outcome), TransactionID: string(res.TransactionID)}
	if res.Outcome.Credited() {
		resp.ReviewID = res.Review.ID
		resp.Reward = res.Reward
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// ACCOUNT ENDPOINTS
// =============================================================================

func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultPageSize)
	if err != nil || limit < 1 || limit > maxPageSize {
		writeError(w, http.StatusBadRequest, "limit must be between 1 and 100", err)
		return
	}

	ctx, cancel := h.storeCtx(r)
	defer cancel()

	accounts, err := h.Store.ListAccounts(ctx, limit)
	if err != nil {
		h.writeDomainError(w, r, "list accounts", err)
		return
	}

	dtos := make([]AccountDTO, len(accounts))
	for i := range accounts {
		dtos[i] = toAccountDTO(accounts[i].ID, &accounts[i], accounts[i].PointsBalance)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetAccount returns account metadata and the log-derived balance. Unknown
// accounts are reported with a zero balance rather than 404.
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	id := ledger.NormalizeAccountID(chi.URLParam(r, "id"))

	ctx, cancel := h.storeCtx(r)
	defer cancel()

	acc, err := h.Store.GetAccount(ctx, id)
	if err != nil {
		h.writeDomainError(w, r, "get account", err)
		return
	}
	balance, err := h.Ledger.Balance(ctx, id)
	if err != nil {
		h.writeDomainError(w, r, "get balance", err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(id, acc, balance))
}

func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	id := ledger.NormalizeAccountID(chi.URLParam(r, "id"))

	ctx, cancel := h.storeCtx(r)
	defer cancel()

	txs, err := h.Ledger.Transactions(ctx, id)
	if err != nil {
		h.writeDomainError(w, r, "load transactions", err)
		return
	}

	summary := ledger.Summarize(txs)
	resp := TransactionsResponse{
		AccountID:    string(id),
		Balance:      summary.Balance,
		Count:        summary.Count,
		ByType:       make(map[string]int64, len(summary.ByType)),
		Transactions: make([]TransactionDTO, len(txs)),
	}
	for typ, amount := range summary.ByType {
		resp.ByType[string(typ)] = amount
	}
	for i, tx := range txs {
		resp.Transactions[i] = toTransactionDTO(tx)
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetTier evaluates the account's tier from its current metrics.
func (h *Handler) GetTier(w http.ResponseWriter, r *http.Request) {
	id := ledger.NormalizeAccountID(chi.URLParam(r, "id"))

	ctx, cancel := h.storeCtx(r)
	defer cancel()

	metrics, err := h.accountMetrics(ctx, id)
	if err != nil {
		h.writeDomainError(w, r, "load tier metrics", err)
		return
	}
	writeJSON(w, http.StatusOK, toStandingDTO(id, metrics, tier.Evaluate(metrics)))
}

// accountMetrics assembles tier inputs. TotalXP is the ledger balance,
// launches are the stored baseline plus tracked opens on the account's
// apps, and premium only counts while the premium_enabled setting is on.
func (h *Handler) accountMetrics(ctx context.Context, id ledger.AccountID) (tier.Metrics, error) {
	var m tier.Metrics

	balance, err := h.Ledger.Balance(ctx, id)
	if err != nil {
		return m, err
	}
	m.TotalXP = balance

	launches, err := h.Store.TrackedLaunches(ctx, id)
	if err != nil {
		return m, err
	}
	m.TotalLaunches = launches

	acc, err := h.Store.GetAccount(ctx, id)
	if err != nil {
		return m, err
	}
	if acc == nil {
		return m, nil
	}

	premiumEnabled, err := h.Store.BoolSetting(ctx, sqlite.SettingPremiumEnabled, false)
	if err != nil {
		return m, err
	}

	m.Verified = acc.Verified
	m.ContractVerified = acc.ContractVerified
	m.AppsSubmitted = acc.AppsSubmitted
	m.TotalLaunches += acc.TotalLaunches
	m.IsPremium = acc.Premium && premiumEnabled
	return m, nil
}

func (h *Handler) ListTiers(w http.ResponseWriter, r *http.Request) {
	tiers := tier.Tiers()
	dtos := make([]TierDTO, len(tiers))
	for i, t := range tiers {
		dtos[i] = TierDTO{Tier: string(t), Threshold: t.Threshold(), Perks: tier.Perks(t)}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// QUEST & REFERRAL ENDPOINTS
// =============================================================================

func (h *Handler) ListQuests(w http.ResponseWriter, r *http.Request) {
	quests := h.Guard.Catalog().Quests
	dtos := make([]QuestDTO, len(quests))
	for i, q := range quests {
		dtos[i] = toQuestDTO(q)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CompleteQuest records today's completion. Repeats the same UTC day are
// 200 with outcome already_completed.
func (h *Handler) CompleteQuest(w http.ResponseWriter, r *http.Request) {
	var req CompleteQuestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ctx, cancel := h.storeCtx(r)
	defer cancel()

	res, err := h.Guard.RecordQuestCompletion(ctx, chi.URLParam(r, "questId"), ledger.AccountID(req.AccountID), time.Time{})
	if err != nil {
		h.writeDomainError(w, r, "complete quest", err)
		return
	}

	h.Metrics.RecordOutcome("quest", string(res.Outcome))
	if res.Outcome.Credited() {
		h.Metrics.RecordCredit(ledger.TxQuest, res.Reward)
	}
	writeJSON(w, http.StatusOK, toQuestResponse(res))
}

func (h *Handler) TrackClick(w http.ResponseWriter, r *http.Request) {
	var req ClickRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ctx, cancel := h.storeCtx(r)
	defer cancel()

	res, err := h.Guard.TrackReferralClick(ctx, req.Referrer, req.URL, ledger.AccountID(req.ReferredAccountID))
	if err != nil {
		h.writeDomainError(w, r, "track referral click", err)
		return
	}

	h.Metrics.RecordOutcome("referral_click", string(res.Outcome()))
	if res.IsNewClick {
		h.Metrics.RecordCredit(ledger.TxReferralClick, res.Bonus)
	}
	writeJSON(w, http.StatusOK, ClickResponse{
		Outcome:       string(res.Outcome()),
		ReferralID:    res.Referral.ID,
		IsNewClick:    res.IsNewClick,
		Bonus:         res.Bonus,
		TransactionID: string(res.TransactionID),
	})
}

func (h *Handler) ConvertReferral(w http.ResponseWriter, r *http.Request) {
	var req ConvertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ctx, cancel := h.storeCtx(r)
	defer cancel()

	res, err := h.Guard.ConvertReferral(ctx, ledger.AccountID(req.ReferredAccountID), req.Referrer)
	if err != nil {
		h.writeDomainError(w, r, "convert referral", err)
		return
	}

	h.Metrics.RecordOutcome("referral_conversion", string(res.Outcome))
	if res.Outcome.Credited() {
		h.Metrics.RecordCredit(ledger.TxReferralConversion, res.Bonus)
	}
	writeJSON(w, http.StatusOK, ConvertResponse{
		Outcome:       string(res.Outcome),
		ReferralID:    res.Referral.ID,
		Bonus:         res.Bonus,
		TransactionID: string(res.TransactionID),
	})
}

// =============================================================================
// ADMIN ENDPOINTS
// =============================================================================

// CreateAdjustment appends a signed admin_adjustment. This is the only
// path that can lower a balance.
func (h *Handler) CreateAdjustment(w http.ResponseWriter, r *http.Request) {
	var req AdjustmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "Admin adjustment"
	}

	ctx, cancel := h.storeCtx(r)
	defer cancel()

	account := ledger.NormalizeAccountID(req.AccountID)
	txID, err := h.Ledger.Adjust(ctx, account, req.Amount, reason, strings.TrimSpace(req.ReferenceID))
	if err != nil {
		h.writeDomainError(w, r, "create adjustment", err)
		return
	}
	h.Metrics.RecordCredit(ledger.TxAdminAdjustment, req.Amount)

	balance, err := h.Ledger.Balance(ctx, account)
	if err != nil {
		h.writeDomainError(w, r, "get balance", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"transaction_id": string(txID),
		"account_id":     string(account),
		"amount":         req.Amount,
		"balance":        balance,
	})
}

func (h *Handler) SetFeatured(w http.ResponseWriter, r *http.Request) {
	var req FeatureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ctx, cancel := h.storeCtx(r)
	defer cancel()

	id := chi.URLParam(r, "id")
	ok, err := h.Store.SetFeatured(ctx, id, req.Featured)
	if err != nil {
		h.writeDomainError(w, r, "set featured", err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "App not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "featured": req.Featured})
}

func (h *Handler) DeleteApp(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.storeCtx(r)
	defer cancel()

	ok, err := h.Store.DeleteApp(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, r, "delete app", err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "App not found", nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) UpdateAccount(w http.ResponseWriter, r *http.Request) {
	var req UpdateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if (req.AppsSubmitted != nil && *req.AppsSubmitted < 0) || (req.TotalLaunches != nil && *req.TotalLaunches < 0) {
		writeError(w, http.StatusBadRequest, "counters must be non-negative", nil)
		return
	}
	id := ledger.NormalizeAccountID(chi.URLParam(r, "id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "account id is required", ledger.ErrMissingAccount)
		return
	}

	ctx, cancel := h.storeCtx(r)
	defer cancel()

	acc, err := h.Store.UpdateAccount(ctx, id, sqlite.AccountUpdate{
		Verified:         req.Verified,
		ContractVerified: req.ContractVerified,
		AppsSubmitted:    req.AppsSubmitted,
		TotalLaunches:    req.TotalLaunches,
		Premium:          req.Premium,
	})
	if err != nil {
		h.writeDomainError(w, r, "update account", err)
		return
	}
	balance, err := h.Ledger.Balance(ctx, id)
	if err != nil {
		h.writeDomainError(w, r, "get balance", err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(id, acc, balance))
}

func (h *Handler) VerifyBalance(w http.ResponseWriter, r *http.Request) {
	id := ledger.NormalizeAccountID(chi.URLParam(r, "id"))

	ctx, cancel := h.storeCtx(r)
	defer cancel()

	cached, logged, err := h.Store.VerifyBalance(ctx, id)
	if err != nil {
		h.writeDomainError(w, r, "verify balance", err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceCheckDTO{
		AccountID:  string(id),
		Cached:     cached,
		Logged:     logged,
		Consistent: cached == logged,
	})
}

func (h *Handler) ListSettings(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.storeCtx(r)
	defer cancel()

	settings, err := h.Store.ListSettings(ctx)
	if err != nil {
		h.writeDomainError(w, r, "list settings", err)
		return
	}
	if _, ok := settings[sqlite.SettingPremiumEnabled]; !ok {
		settings[sqlite.SettingPremiumEnabled] = "false"
	}
	writeJSON(w, http.StatusOK, settings)
}

// knownSettings validates values for settings the engine reads.
var knownSettings = map[string]func(string) error{
	sqlite.SettingPremiumEnabled: func(v string) error {
		_, err := strconv.ParseBool(v)
		return err
	},
}

func (h *Handler) SetSetting(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	validate, ok := knownSettings[key]
	if !ok {
		writeError(w, http.StatusNotFound, "Unknown setting", nil)
		return
	}

	var req SettingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	value := strings.TrimSpace(req.Value)
	if err := validate(value); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid setting value", err)
		return
	}

	ctx, cancel := h.storeCtx(r)
	defer cancel()

	if err := h.Store.SetSetting(ctx, key, value); err != nil {
		h.writeDomainError(w, r, "set setting", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"key": key, "value": value})
}

// Healthz reports whether the store answers.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.storeCtx(r)
	defer cancel()

	if err := h.Store.Ping(ctx); err != nil {
		writeError(w, http.StatusServiceUnavailable, "Store unavailable", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps domain errors onto HTTP statuses.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, op string, err error) {
	if err == nil {
		writeError(w, http.StatusNotFound, "Not found", nil)
		return
	}

	var status int
	var code string
	switch {
	case errors.Is(err, ledger.ErrAppNotFound):
		status, code = http.StatusNotFound, "app_not_found"
	case errors.Is(err, guard.ErrUnknownQuest):
		status, code = http.StatusNotFound, "unknown_quest"
	case errors.Is(err, ledger.ErrDuplicateIdempotencyKey):
		status, code = http.StatusConflict, "duplicate"
	case errors.Is(err, ledger.ErrAppExists):
		status, code = http.StatusConflict, "app_exists"
	case ledger.IsValidation(err):
		status, code = http.StatusBadRequest, "validation"
	case ledger.IsStoreUnavailable(err),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		status, code = http.StatusServiceUnavailable, "store_unavailable"
	default:
		status, code = http.StatusInternalServerError, "internal"
	}

	if status >= http.StatusInternalServerError {
		h.Logger.ErrorContext(r.Context(), op+" failed",
			slog.String("path", r.URL.Path),
			slog.Any("error", err))
	}

	resp := ErrorResponse{Error: op + " failed", Code: code, Details: err.Error()}
	var verr *ledger.ValidationError
	if errors.As(err, &verr) {
		resp.Error = "invalid " + verr.Field
	}
	writeJSON(w, status, resp)
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}
