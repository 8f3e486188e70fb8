/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements every persistence contract of the engine on SQLite. The same
  schema and patterns apply to PostgreSQL with minor dialect changes.

INTERFACES IMPLEMENTED:
  ledger.Store: Points transaction log
  guard.Store:  Transactional gate + credit units

APPEND-ONLY ENFORCEMENT:
  points_transactions has no UPDATE or DELETE path in this package, and
  triggers abort any UPDATE or DELETE issued against it directly.
  interaction_events are only removed by cascading app deletion.

KEY TABLES:
  accounts:            Account metadata + materialized points_balance
  points_transactions: Immutable ledger
  quest_completions:   Quest gate rows
  referrals:           Click -> conversion lifecycle
  apps:                Listed apps and their static quality signals
  interaction_events:  Click / install / open events
  reviews:             Review gate rows, feed app rating aggregates
  settings:            Persisted runtime toggles

UNIQUENESS GATES:
  - points_transactions.idempotency_key UNIQUE
  - quest_completions UNIQUE (quest_id, account_id, completion_date)
  - idx_referrals_active_pair: one non-converted referral per pair
  - reviews UNIQUE (app_id, account_id)
  Constraint violations are translated into domain sentinels; every other
  driver failure becomes ledger.ErrStoreUnavailable.

CONCURRENCY:
  Writes take the store mutex and run in an IMMEDIATE transaction, so
  credits to the same account serialize. Multiple instances sharing one
  database file serialize on SQLite's writer lock (busy_timeout applies).

TIMESTAMPS:
  Stored as fixed-width UTC strings so lexical order is chronological.

USAGE:
  store, err := sqlite.New("./data/reputation.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  l := ledger.New(store)
  g := guard.New(store, catalog.Default())

SEE ALSO:
  - records.go: Accounts, apps, events, settings
  - ledger/store.go, guard/store.go: Interface definitions
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/reputation-engine/guard"
	"github.com/warp/reputation-engine/ledger"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db  *sql.DB
	mu  sync.RWMutex
	now func() time.Time
}

var (
	_ ledger.Store = (*Store)(nil)
	_ guard.Store  = (*Store)(nil)
	_ guard.Tx     = (*txStore)(nil)
)

// New creates a new SQLite store with the given database path and migrates
// the schema. Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	dsn := dbPath + "?_foreign_keys=on&_busy_timeout=5000&_txlock=immediate"
	memory := strings.HasPrefix(dbPath, ":memory:")
	if !memory {
		dsn += "&_journal_mode=WAL"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if memory {
		// Each connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	store := NewFromDB(db)
	if err := store.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// NewFromDB wraps an already opened database without migrating it.
func NewFromDB(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// SetClock overrides the clock used for row bookkeeping timestamps.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return ledger.Unavailable("ping", s.db.PingContext(ctx))
}

// Migrate creates the database schema.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Reset drops every table and recreates the schema. The append-only
// triggers are dropped first; this is the only path that removes ledger
// rows and it exists for demo scenarios.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		DROP TRIGGER IF EXISTS trg_points_transactions_no_update;
		DROP TRIGGER IF EXISTS trg_points_transactions_no_delete;
		DROP TABLE IF EXISTS reviews;
		DROP TABLE IF EXISTS interaction_events;
		DROP TABLE IF EXISTS apps;
		DROP TABLE IF EXISTS referrals;
		DROP TABLE IF EXISTS quest_completions;
		DROP TABLE IF EXISTS points_transactions;
		DROP TABLE IF EXISTS accounts;
		DROP TABLE IF EXISTS settings;
	`)
	if err != nil {
		return ledger.Unavailable("reset", err)
	}
	return ledger.Unavailable("reset", s.Migrate(ctx))
}

const schema = `
	-- Accounts (auto-vivified on first credit)
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		verified INTEGER NOT NULL DEFAULT 0,
		contract_verified INTEGER NOT NULL DEFAULT 0,
		apps_submitted INTEGER NOT NULL DEFAULT 0,
		total_launches INTEGER NOT NULL DEFAULT 0,
		premium INTEGER NOT NULL DEFAULT 0,
		points_balance INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_accounts_balance
		ON accounts(points_balance DESC);

	-- Points transactions (append-only ledger)
	CREATE TABLE IF NOT EXISTS points_transactions (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL REFERENCES accounts(id),
		amount INTEGER NOT NULL CHECK (amount <> 0),
		tx_type TEXT NOT NULL CHECK (tx_type IN
			('review', 'referral_click', 'referral_conversion', 'quest', 'admin_adjustment')),
		description TEXT NOT NULL DEFAULT '',
		reference_id TEXT,
		idempotency_key TEXT UNIQUE,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_points_transactions_account
		ON points_transactions(account_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_points_transactions_reference
		ON points_transactions(reference_id) WHERE reference_id IS NOT NULL;

	CREATE TRIGGER IF NOT EXISTS trg_points_transactions_no_update
		BEFORE UPDATE ON points_transactions
		BEGIN SELECT RAISE(ABORT, 'points_transactions is append-only'); END;
	CREATE TRIGGER IF NOT EXISTS trg_points_transactions_no_delete
		BEFORE DELETE ON points_transactions
		BEGIN SELECT RAISE(ABORT, 'points_transactions is append-only'); END;

	-- Quest completions: one row per quest, account and calendar day
	CREATE TABLE IF NOT EXISTS quest_completions (
		id TEXT PRIMARY KEY,
		quest_id TEXT NOT NULL,
		account_id TEXT NOT NULL REFERENCES accounts(id),
		completion_date TEXT NOT NULL,
		completed_at TEXT NOT NULL,
		UNIQUE (quest_id, account_id, completion_date)
	);

	CREATE INDEX IF NOT EXISTS idx_quest_completions_account
		ON quest_completions(account_id, completion_date);

	-- Referrals
	CREATE TABLE IF NOT EXISTS referrals (
		id TEXT PRIMARY KEY,
		referrer_identity TEXT NOT NULL,
		referrer_account_id TEXT NOT NULL,
		referred_account_id TEXT,
		url TEXT NOT NULL DEFAULT '',
		clicked_at TEXT NOT NULL,
		converted_at TEXT
	);

	-- CRITICAL: at most one active (non-converted) referral per pair
	CREATE UNIQUE INDEX IF NOT EXISTS idx_referrals_active_pair
		ON referrals(referrer_identity, COALESCE(referred_account_id, ''))
		WHERE converted_at IS NULL;

	CREATE INDEX IF NOT EXISTS idx_referrals_pair_clicked
		ON referrals(referrer_identity, referred_account_id, clicked_at DESC);

	-- Apps
	CREATE TABLE IF NOT EXISTS apps (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		developer_account_id TEXT,
		rating_average TEXT NOT NULL DEFAULT '0',
		rating_count INTEGER NOT NULL DEFAULT 0,
		featured INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_apps_developer
		ON apps(developer_account_id);

	-- Interaction events (immutable, owned by their app)
	CREATE TABLE IF NOT EXISTS interaction_events (
		id TEXT PRIMARY KEY,
		app_id TEXT NOT NULL REFERENCES apps(id) ON DELETE CASCADE,
		kind TEXT NOT NULL CHECK (kind IN ('click', 'install', 'open')),
		occurred_at TEXT NOT NULL
	);

	-- Trending window scans (hot path)
	CREATE INDEX IF NOT EXISTS idx_interaction_events_occurred
		ON interaction_events(occurred_at);
	CREATE INDEX IF NOT EXISTS idx_interaction_events_app
		ON interaction_events(app_id, kind);

	-- Reviews: one per app and account
	CREATE TABLE IF NOT EXISTS reviews (
		id TEXT PRIMARY KEY,
		app_id TEXT NOT NULL REFERENCES apps(id) ON DELETE CASCADE,
		account_id TEXT NOT NULL REFERENCES accounts(id),
		rating INTEGER NOT NULL CHECK (rating BETWEEN 1 AND 5),
		body TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		UNIQUE (app_id, account_id)
	);

	-- Settings (persisted runtime toggles)
	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	`

// =============================================================================
// QUERY HANDLES
// =============================================================================

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// LEDGER STORE (ledger.Store interface)
// =============================================================================

// Append adds a transaction to the ledger and bumps the cached balance in
// the same transaction.
func (s *Store) Append(ctx context.Context, tx ledger.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.inTx(ctx, func(q querier) error {
		return appendTx(ctx, q, tx)
	})
}

// Load returns all transactions for an account, oldest first.
func (s *Store) Load(ctx context.Context, accountID ledger.AccountID) ([]ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return loadTransactions(ctx, s.db, accountID)
}

// Sum returns the log-derived balance for an account.
func (s *Store) Sum(ctx context.Context, accountID ledger.AccountID) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return sumTransactions(ctx, s.db, accountID)
}

// inTx runs fn inside a database transaction. Caller holds s.mu.
func (s *Store) inTx(ctx context.Context, fn func(q querier) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ledger.Unavailable("begin transaction", err)
	}
	defer sqlTx.Rollback()

	if err := fn(sqlTx); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return ledger.Unavailable("commit transaction", err)
	}
	return nil
}

func appendTx(ctx context.Context, q querier, tx ledger.Transaction) error {
	if err := ensureAccount(ctx, q, tx.AccountID, tx.CreatedAt); err != nil {
		return err
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO points_transactions
		(id, account_id, amount, tx_type, description, reference_id, idempotency_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		tx.ID,
		tx.AccountID,
		tx.Amount,
		tx.Type,
		tx.Description,
		nullString(tx.ReferenceID),
		nullString(tx.IdempotencyKey),
		formatTime(tx.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.ErrDuplicateIdempotencyKey
		}
		return ledger.Unavailable("append transaction", err)
	}

	_, err = q.ExecContext(ctx,
		"UPDATE accounts SET points_balance = points_balance + ?, updated_at = ? WHERE id = ?",
		tx.Amount, formatTime(tx.CreatedAt), tx.AccountID,
	)
	return ledger.Unavailable("update balance cache", err)
}

func ensureAccount(ctx context.Context, q querier, id ledger.AccountID, at time.Time) error {
	now := formatTime(at)
	_, err := q.ExecContext(ctx, `
		INSERT INTO accounts (id, created_at, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, id, now, now)
	return ledger.Unavailable("ensure account", err)
}

func loadTransactions(ctx context.Context, q querier, accountID ledger.AccountID) ([]ledger.Transaction, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, account_id, amount, tx_type, description, reference_id, idempotency_key, created_at
		FROM points_transactions
		WHERE account_id = ?
		ORDER BY created_at ASC, rowid ASC
	`, accountID)
	if err != nil {
		return nil, ledger.Unavailable("query transactions", err)
	}
	defer rows.Close()

	var transactions []ledger.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, tx)
	}
	return transactions, ledger.Unavailable("query transactions", rows.Err())
}

func scanTransaction(rows *sql.Rows) (ledger.Transaction, error) {
	var (
		tx             ledger.Transaction
		txType         string
		referenceID    sql.NullString
		idempotencyKey sql.NullString
		createdAt      string
	)

	err := rows.Scan(
		&tx.ID, &tx.AccountID, &tx.Amount, &txType, &tx.Description,
		&referenceID, &idempotencyKey, &createdAt,
	)
	if err != nil {
		return tx, ledger.Unavailable("scan transaction", err)
	}

	tx.Type = ledger.TxType(txType)
	tx.ReferenceID = referenceID.String
	tx.IdempotencyKey = idempotencyKey.String
	tx.CreatedAt = parseTime(createdAt)
	return tx, nil
}

func sumTransactions(ctx context.Context, q querier, accountID ledger.AccountID) (int64, error) {
	var sum int64
	err := q.QueryRowContext(ctx,
		"SELECT COALESCE(SUM(amount), 0) FROM points_transactions WHERE account_id = ?",
		accountID,
	).Scan(&sum)
	if err != nil {
		return 0, ledger.Unavailable("sum transactions", err)
	}
	return sum, nil
}

// =============================================================================
// TRANSACTIONAL STORE (guard.Store interface)
// =============================================================================

// WithTx executes fn within a database transaction. If fn returns an error
// the transaction is rolled back and nothing is written.
func (s *Store) WithTx(ctx context.Context, fn func(tx guard.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.inTx(ctx, func(q querier) error {
		return fn(&txStore{q: q})
	})
}

type txStore struct {
	q querier
}

func (ts *txStore) Append(ctx context.Context, tx ledger.Transaction) error {
	return appendTx(ctx, ts.q, tx)
}

func (ts *txStore) Load(ctx context.Context, accountID ledger.AccountID) ([]ledger.Transaction, error) {
	return loadTransactions(ctx, ts.q, accountID)
}

func (ts *txStore) Sum(ctx context.Context, accountID ledger.AccountID) (int64, error) {
	return sumTransactions(ctx, ts.q, accountID)
}

func (ts *txStore) InsertQuestCompletion(ctx context.Context, c guard.QuestCompletion) error {
	if err := ensureAccount(ctx, ts.q, c.AccountID, c.CompletedAt); err != nil {
		return err
	}

	_, err := ts.q.ExecContext(ctx, `
		INSERT INTO quest_completions (id, quest_id, account_id, completion_date, completed_at)
		VALUES (?, ?, ?, ?, ?)
	`, c.ID, c.QuestID, c.AccountID, c.Day, formatTime(c.CompletedAt))
	if err != nil {
		if isUniqueConstraintError(err) {
			return guard.ErrDuplicateCompletion
		}
		return ledger.Unavailable("insert quest completion", err)
	}
	return nil
}

func (ts *txStore) FindActiveReferral(ctx context.Context, referrerIdentity string, referred ledger.AccountID) (*guard.Referral, error) {
	row := ts.q.QueryRowContext(ctx, `
		SELECT id, referrer_identity, referrer_account_id, referred_account_id, url, clicked_at, converted_at
		FROM referrals
		WHERE referrer_identity = ?
		  AND COALESCE(referred_account_id, '') = ?
		  AND converted_at IS NULL
		ORDER BY clicked_at DESC
		LIMIT 1
	`, referrerIdentity, string(referred))

	ref, err := scanReferral(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, ledger.Unavailable("find active referral", err)
	}
	return ref, nil
}

func (ts *txStore) InsertReferral(ctx context.Context, r guard.Referral) error {
	_, err := ts.q.ExecContext(ctx, `
		INSERT INTO referrals
		(id, referrer_identity, referrer_account_id, referred_account_id, url, clicked_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		r.ID,
		r.ReferrerIdentity,
		r.ReferrerAccountID,
		nullString(string(r.ReferredAccountID)),
		r.URL,
		formatTime(r.ClickedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return guard.ErrDuplicateReferral
		}
		return ledger.Unavailable("insert referral", err)
	}
	return nil
}

// MarkReferralConverted is the conditional write the conversion gate relies
// on: the check and the set happen in one statement.
func (ts *txStore) MarkReferralConverted(ctx context.Context, referralID string, at time.Time) (bool, error) {
	res, err := ts.q.ExecContext(ctx,
		"UPDATE referrals SET converted_at = ? WHERE id = ? AND converted_at IS NULL",
		formatTime(at), referralID,
	)
	if err != nil {
		return false, ledger.Unavailable("convert referral", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, ledger.Unavailable("convert referral", err)
	}
	return n == 1, nil
}

func (ts *txStore) InsertReview(ctx context.Context, r guard.Review) error {
	var exists int
	err := ts.q.QueryRowContext(ctx, "SELECT 1 FROM apps WHERE id = ?", r.AppID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.ErrAppNotFound
	}
	if err != nil {
		return ledger.Unavailable("lookup app", err)
	}

	if err := ensureAccount(ctx, ts.q, r.AccountID, r.CreatedAt); err != nil {
		return err
	}

	_, err = ts.q.ExecContext(ctx, `
		INSERT INTO reviews (id, app_id, account_id, rating, body, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, r.ID, r.AppID, r.AccountID, r.Rating, r.Body, formatTime(r.CreatedAt))
	if err != nil {
		if isUniqueConstraintError(err) {
			return guard.ErrDuplicateReview
		}
		return ledger.Unavailable("insert review", err)
	}

	var count, sum int64
	err = ts.q.QueryRowContext(ctx,
		"SELECT COUNT(*), COALESCE(SUM(rating), 0) FROM reviews WHERE app_id = ?",
		r.AppID,
	).Scan(&count, &sum)
	if err != nil {
		return ledger.Unavailable("aggregate ratings", err)
	}

	_, err = ts.q.ExecContext(ctx,
		"UPDATE apps SET rating_count = ?, rating_average = ? WHERE id = ?",
		count, ratingAverage(sum, count).String(), r.AppID,
	)
	return ledger.Unavailable("update app rating", err)
}

func scanReferral(row *sql.Row) (*guard.Referral, error) {
	var (
		ref         guard.Referral
		referred    sql.NullString
		clickedAt   string
		convertedAt sql.NullString
	)
	if err := row.Scan(
		&ref.ID, &ref.ReferrerIdentity, &ref.ReferrerAccountID, &referred,
		&ref.URL, &clickedAt, &convertedAt,
	); err != nil {
		return nil, err
	}
	ref.ReferredAccountID = ledger.AccountID(referred.String)
	ref.ClickedAt = parseTime(clickedAt)
	if convertedAt.Valid {
		t := parseTime(convertedAt.String)
		ref.ConvertedAt = &t
	}
	return &ref, nil
}

// =============================================================================
// HELPERS
// =============================================================================

const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t.UTC()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func ratingAverage(sum, count int64) decimal.Decimal {
	if count == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(sum).Div(decimal.NewFromInt(count)).Round(2)
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

func isForeignKeyError(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintForeignKey
}
