/*
audit.go - Periodic balance audit

PURPOSE:
  Periodically compares every account's cached points_balance with the sum
  of its transaction log and reports drift. The log is authoritative; drift
  means something wrote the cache outside the store. Each pass also sweeps
  idle client rate limiters.

DESIGN:
  - Runs a background goroutine with a configurable check interval
  - Runs once immediately on Start
  - Keeps the last report, served by GET /api/admin/audit
  - Each pass is bounded by the handler's BatchTimeout

USAGE:
  auditor := NewBalanceAuditor(handler, limiter)
  auditor.Start()
  // ... later
  auditor.Stop()

SEE ALSO:
  - store/sqlite/records.go: VerifyBalance
*/
package api

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// AuditReport is the result of one audit pass.
type AuditReport struct {
	RanAt           time.Time         `json:"ran_at"`
	AccountsChecked int               `json:"accounts_checked"`
	Drifted         []BalanceCheckDTO `json:"drifted"`
	LimitersSwept   int               `json:"limiters_swept"`
}

// BalanceAuditor runs the balance audit on a ticker.
type BalanceAuditor struct {
	Handler       *Handler
	Limiter       *RateLimiter
	CheckInterval time.Duration
	LimiterIdle   time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex

	lastMu sync.Mutex
	last   *AuditReport
}

func NewBalanceAuditor(h *Handler, limiter *RateLimiter) *BalanceAuditor {
	return &BalanceAuditor{
		Handler:       h,
		Limiter:       limiter,
		CheckInterval: 1 * time.Hour,
		LimiterIdle:   10 * time.Minute,
		Enabled:       true,
	}
}

// Start begins the audit loop.
func (a *BalanceAuditor) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.Enabled || a.ticker != nil {
		return
	}

	a.ticker = time.NewTicker(a.CheckInterval)
	a.stop = make(chan struct{})
	a.wg.Add(1)
	go a.run()

	a.Handler.Logger.Info("balance audit started", slog.Duration("interval", a.CheckInterval))
}

// Stop stops the audit loop and waits for an in-flight pass.
func (a *BalanceAuditor) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.ticker == nil {
		return
	}
	a.ticker.Stop()
	close(a.stop)
	a.wg.Wait()
	a.ticker = nil
	a.Handler.Logger.Info("balance audit stopped")
}

func (a *BalanceAuditor) run() {
	defer a.wg.Done()

	a.RunNow(context.Background())
	for {
		select {
		case <-a.ticker.C:
			a.RunNow(context.Background())
		case <-a.stop:
			return
		}
	}
}

// RunNow performs one audit pass and stores the report.
func (a *BalanceAuditor) RunNow(ctx context.Context) (AuditReport, error) {
	h := a.Handler
	report := AuditReport{RanAt: h.now().UTC(), Drifted: []BalanceCheckDTO{}}

	ctx, cancel := h.batchCtx(ctx)
	defer cancel()

	if a.Limiter != nil {
		report.LimitersSwept = a.Limiter.Sweep(a.LimiterIdle)
	}

	accounts, err := h.Store.ListAccounts(ctx, 0)
	if err != nil {
		h.Logger.ErrorContext(ctx, "balance audit failed", slog.Any("error", err))
		return report, err
	}

	for _, acc := range accounts {
		cached, logged, err := h.Store.VerifyBalance(ctx, acc.ID)
		if err != nil {
			h.Logger.ErrorContext(ctx, "balance audit failed", slog.Any("error", err))
			return report, err
		}
		report.AccountsChecked++
		if cached != logged {
			report.Drifted = append(report.Drifted, BalanceCheckDTO{
				AccountID: string(acc.ID),
				Cached:    cached,
				Logged:    logged,
			})
			h.Logger.WarnContext(ctx, "balance cache drift",
				slog.String("account_id", string(acc.ID)),
				slog.Int64("cached", cached),
				slog.Int64("logged", logged))
		}
	}

	a.lastMu.Lock()
	a.last = &report
	a.lastMu.Unlock()

	h.Logger.InfoContext(ctx, "balance audit complete",
		slog.Int("accounts", report.AccountsChecked),
		slog.Int("drifted", len(report.Drifted)))
	return report, nil
}

// Last returns the most recent report, or nil before the first pass.
func (a *BalanceAuditor) Last() *AuditReport {
	a.lastMu.Lock()
	defer a.lastMu.Unlock()
	return a.last
}

// RunAudit handles POST /api/admin/audit.
func (a *BalanceAuditor) RunAudit(w http.ResponseWriter, r *http.Request) {
	report, err := a.RunNow(r.Context())
	if err != nil {
		a.Handler.writeDomainError(w, r, "balance audit", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// LastAudit handles GET /api/admin/audit. 204 before the first pass.
func (a *BalanceAuditor) LastAudit(w http.ResponseWriter, r *http.Request) {
	last := a.Last()
	if last == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, last)
}
