package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/reputation-engine/ledger"
	"github.com/warp/reputation-engine/ranking"
)

// =============================================================================
// ACCOUNTS
// =============================================================================

// Account is an account row. PointsBalance is a cache; the transaction log
// is the source of truth (see VerifyBalance).
type Account struct {
	ID               ledger.AccountID
	Verified         bool
	ContractVerified bool
	AppsSubmitted    int64
	TotalLaunches    int64
	Premium          bool
	PointsBalance    int64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// AccountUpdate carries the admin-editable account fields. Nil fields are
// left unchanged.
type AccountUpdate struct {
	Verified         *bool
	ContractVerified *bool
	AppsSubmitted    *int64
	TotalLaunches    *int64
	Premium          *bool
}

const accountColumns = `id, verified, contract_verified, apps_submitted, total_launches,
	premium, points_balance, created_at, updated_at`

// GetAccount returns the account, or nil if it has never been seen.
func (s *Store) GetAccount(ctx context.Context, id ledger.AccountID) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return getAccount(ctx, s.db, id)
}

func getAccount(ctx context.Context, q querier, id ledger.AccountID) (*Account, error) {
	row := q.QueryRowContext(ctx, "SELECT "+accountColumns+" FROM accounts WHERE id = ?", id)
	acc, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, ledger.Unavailable("get account", err)
	}
	return acc, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*Account, error) {
	var (
		acc                  Account
		createdAt, updatedAt string
	)
	err := row.Scan(
		&acc.ID, &acc.Verified, &acc.ContractVerified, &acc.AppsSubmitted,
		&acc.TotalLaunches, &acc.Premium, &acc.PointsBalance, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	acc.CreatedAt = parseTime(createdAt)
	acc.UpdatedAt = parseTime(updatedAt)
	return &acc, nil
}

// UpdateAccount applies the non-nil fields of upd, creating the account
// first if needed, and returns the updated row.
func (s *Store) UpdateAccount(ctx context.Context, id ledger.AccountID, upd AccountUpdate) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var acc *Account
	err := s.inTx(ctx, func(q querier) error {
		if err := ensureAccount(ctx, q, id, now); err != nil {
			return err
		}
		_, err := q.ExecContext(ctx, `
			UPDATE accounts SET
				verified = COALESCE(?, verified),
				contract_verified = COALESCE(?, contract_verified),
				apps_submitted = COALESCE(?, apps_submitted),
				total_launches = COALESCE(?, total_launches),
				premium = COALESCE(?, premium),
				updated_at = ?
			WHERE id = ?
		`,
			nullBool(upd.Verified),
			nullBool(upd.ContractVerified),
			nullInt(upd.AppsSubmitted),
			nullInt(upd.TotalLaunches),
			nullBool(upd.Premium),
			formatTime(now),
			id,
		)
		if err != nil {
			return ledger.Unavailable("update account", err)
		}
		acc, err = getAccount(ctx, q, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return acc, nil
}

// ListAccounts returns accounts ordered by cached balance, highest first.
func (s *Store) ListAccounts(ctx context.Context, limit int) ([]Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+accountColumns+" FROM accounts ORDER BY points_balance DESC, id ASC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, ledger.Unavailable("list accounts", err)
	}
	defer rows.Close()

	var accounts []Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, ledger.Unavailable("scan account", err)
		}
		accounts = append(accounts, *acc)
	}
	return accounts, ledger.Unavailable("list accounts", rows.Err())
}

// VerifyBalance returns the cached balance next to the log-derived sum,
// both read from one snapshot. They differ only if the cache was written
// outside this package.
func (s *Store) VerifyBalance(ctx context.Context, id ledger.AccountID) (cached, logged int64, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return 0, 0, ledger.Unavailable("begin verify", err)
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx,
		"SELECT points_balance FROM accounts WHERE id = ?", id,
	).Scan(&cached)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, 0, ledger.Unavailable("read balance cache", err)
	}
	logged, err = sumTransactions(ctx, tx, id)
	if err != nil {
		return 0, 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, 0, ledger.Unavailable("commit verify", err)
	}
	return cached, logged, nil
}

// TrackedLaunches counts open events on every app the account develops.
func (s *Store) TrackedLaunches(ctx context.Context, developer ledger.AccountID) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM interaction_events e
		JOIN apps a ON a.id = e.app_id
		WHERE a.developer_account_id = ? AND e.kind = 'open'
	`, developer).Scan(&n)
	if err != nil {
		return 0, ledger.Unavailable("count launches", err)
	}
	return n, nil
}

// =============================================================================
// APPS
// =============================================================================

// AppRecord is an app row.
type AppRecord struct {
	ID                 string
	Name               string
	DeveloperAccountID ledger.AccountID
	RatingAverage      decimal.Decimal
	RatingCount        int
	Featured           bool
	CreatedAt          time.Time
}

const appColumns = "id, name, developer_account_id, rating_average, rating_count, featured, created_at"

// SaveApp lists a new app and counts it toward its developer's
// apps_submitted. An ID already in use returns ErrAppExists and leaves the
// existing row untouched. Rating aggregates and the featured flag have
// their own write paths.
func (s *Store) SaveApp(ctx context.Context, app AppRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if app.CreatedAt.IsZero() {
		app.CreatedAt = s.now()
	}

	return s.inTx(ctx, func(q querier) error {
		res, err := q.ExecContext(ctx, `
			INSERT INTO apps (id, name, developer_account_id, rating_average, rating_count, featured, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING
		`,
			app.ID,
			app.Name,
			nullString(string(app.DeveloperAccountID)),
			app.RatingAverage.String(),
			app.RatingCount,
			app.Featured,
			formatTime(app.CreatedAt),
		)
		if err != nil {
			return ledger.Unavailable("insert app", err)
		}

		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("save app %s: %w", app.ID, ledger.ErrAppExists)
		}

		if app.DeveloperAccountID == "" {
			return nil
		}
		if err := ensureAccount(ctx, q, app.DeveloperAccountID, app.CreatedAt); err != nil {
			return err
		}
		_, err = q.ExecContext(ctx,
			"UPDATE accounts SET apps_submitted = apps_submitted + 1, updated_at = ? WHERE id = ?",
			formatTime(app.CreatedAt), app.DeveloperAccountID,
		)
		return ledger.Unavailable("count app submission", err)
	})
}

// GetApp returns the app, or nil if it does not exist.
func (s *Store) GetApp(ctx context.Context, id string) (*AppRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, "SELECT "+appColumns+" FROM apps WHERE id = ?", id)
	app, err := scanApp(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, ledger.Unavailable("get app", err)
	}
	return app, nil
}

// ListApps returns every app, oldest first.
func (s *Store) ListApps(ctx context.Context) ([]AppRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return listApps(ctx, s.db)
}

func listApps(ctx context.Context, q querier) ([]AppRecord, error) {
	rows, err := q.QueryContext(ctx, "SELECT "+appColumns+" FROM apps ORDER BY created_at ASC, id ASC")
	if err != nil {
		return nil, ledger.Unavailable("list apps", err)
	}
	defer rows.Close()

	var apps []AppRecord
	for rows.Next() {
		app, err := scanApp(rows)
		if err != nil {
			return nil, ledger.Unavailable("scan app", err)
		}
		apps = append(apps, *app)
	}
	return apps, ledger.Unavailable("list apps", rows.Err())
}

func scanApp(row rowScanner) (*AppRecord, error) {
	var (
		app       AppRecord
		developer sql.NullString
		rating    string
		createdAt string
	)
	err := row.Scan(&app.ID, &app.Name, &developer, &rating, &app.RatingCount, &app.Featured, &createdAt)
	if err != nil {
		return nil, err
	}
	app.DeveloperAccountID = ledger.AccountID(developer.String)
	app.RatingAverage, err = decimal.NewFromString(rating)
	if err != nil {
		app.RatingAverage = decimal.Zero
	}
	app.CreatedAt = parseTime(createdAt)
	return &app, nil
}

// SetFeatured sets the featured flag. Returns false if the app does not exist.
func (s *Store) SetFeatured(ctx context.Context, id string, featured bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "UPDATE apps SET featured = ? WHERE id = ?", featured, id)
	if err != nil {
		return false, ledger.Unavailable("set featured", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, ledger.Unavailable("set featured", err)
	}
	return n == 1, nil
}

// DeleteApp removes an app with its events and reviews. Points already
// credited for reviews stay in the ledger.
func (s *Store) DeleteApp(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM apps WHERE id = ?", id)
	if err != nil {
		return false, ledger.Unavailable("delete app", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, ledger.Unavailable("delete app", err)
	}
	return n == 1, nil
}

// =============================================================================
// INTERACTION EVENTS
// =============================================================================

// RecordEvent appends an interaction event. Unknown apps yield
// ledger.ErrAppNotFound.
func (s *Store) RecordEvent(ctx context.Context, e ranking.InteractionEvent) error {
	if !e.Kind.Valid() {
		return ranking.ErrUnknownEventKind
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO interaction_events (id, app_id, kind, occurred_at) VALUES (?, ?, ?, ?)",
		e.ID, e.AppID, e.Kind, formatTime(e.OccurredAt),
	)
	if err != nil {
		if isForeignKeyError(err) {
			return ledger.ErrAppNotFound
		}
		return ledger.Unavailable("record event", err)
	}
	return nil
}

// EventsSince returns events with occurred_at >= since, oldest first.
func (s *Store) EventsSince(ctx context.Context, since time.Time) ([]ranking.InteractionEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return eventsSince(ctx, s.db, since)
}

func eventsSince(ctx context.Context, q querier, since time.Time) ([]ranking.InteractionEvent, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, app_id, kind, occurred_at
		FROM interaction_events
		WHERE occurred_at >= ?
		ORDER BY occurred_at ASC, id ASC
	`, formatTime(since))
	if err != nil {
		return nil, ledger.Unavailable("query events", err)
	}
	defer rows.Close()

	var events []ranking.InteractionEvent
	for rows.Next() {
		var (
			e          ranking.InteractionEvent
			kind       string
			occurredAt string
		)
		if err := rows.Scan(&e.ID, &e.AppID, &kind, &occurredAt); err != nil {
			return nil, ledger.Unavailable("scan event", err)
		}
		e.Kind = ranking.EventKind(kind)
		e.OccurredAt = parseTime(occurredAt)
		events = append(events, e)
	}
	return events, ledger.Unavailable("query events", rows.Err())
}

// TrendingInput loads every app with the events inside the trending window
// ending at now, in a stable order suitable for ranking.Rank.
func (s *Store) TrendingInput(ctx context.Context, now time.Time) ([]ranking.App, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records, err := listApps(ctx, s.db)
	if err != nil {
		return nil, err
	}
	events, err := eventsSince(ctx, s.db, now.Add(-ranking.TrendingWindow))
	if err != nil {
		return nil, err
	}

	byApp := make(map[string][]ranking.InteractionEvent)
	for _, e := range events {
		byApp[e.AppID] = append(byApp[e.AppID], e)
	}

	apps := make([]ranking.App, len(records))
	for i, r := range records {
		apps[i] = ranking.App{
			ID:            r.ID,
			Name:          r.Name,
			RatingAverage: r.RatingAverage,
			RatingCount:   r.RatingCount,
			CreatedAt:     r.CreatedAt,
			Featured:      r.Featured,
			Events:        byApp[r.ID],
		}
	}
	return apps, nil
}

// =============================================================================
// SETTINGS
// =============================================================================

const SettingPremiumEnabled = "premium_enabled"

// GetSetting returns the value and whether it is set.
func (s *Store) GetSetting(ctx context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, ledger.Unavailable("get setting", err)
	}
	return value, true, nil
}

func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, formatTime(s.now()))
	return ledger.Unavailable("set setting", err)
}

func (s *Store) ListSettings(ctx context.Context) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT key, value FROM settings ORDER BY key")
	if err != nil {
		return nil, ledger.Unavailable("list settings", err)
	}
	defer rows.Close()

	settings := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, ledger.Unavailable("scan setting", err)
		}
		settings[key] = value
	}
	return settings, ledger.Unavailable("list settings", rows.Err())
}

// BoolSetting reads a boolean setting, falling back to def when unset or
// unparsable.
func (s *Store) BoolSetting(ctx context.Context, key string, def bool) (bool, error) {
	value, ok, err := s.GetSetting(ctx, key)
	if err != nil || !ok {
		return def, err
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return def, nil
	}
	return b, nil
}

func nullBool(b *bool) sql.NullBool {
	if b == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *b, Valid: true}
}

func nullInt(n *int64) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *n, Valid: true}
}
