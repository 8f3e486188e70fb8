/*
ledger.go - Append-only points ledger

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No Update, No Delete. EVER.
  2. IMMUTABLE: Once written, transactions cannot be modified
  3. LOG-AUTHORITATIVE: Balance is the sum of the log
  4. IDEMPOTENT: A reward credited against a reference is credited once

ENTRY POINTS:
  Credit: Positive amounts only, any transaction type. Used by reward flows.
  Adjust: Signed, non-zero amounts, always admin_adjustment. This is the
          only way points leave an account. No policy decides when debits
          happen; that belongs to the admin surface.

AUTO-VIVIFICATION:
  Crediting an account the store has never seen creates it with a zero
  balance. Balance of an unknown account is zero, not an error.

EXAMPLE:
  l := ledger.New(store)
  id, err := l.Credit(ctx, "0xabc", 10, ledger.TxQuest, "Daily review", completionID)
  bal, err := l.Balance(ctx, "0xabc") // 10
*/
package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Ledger is the write and read entry point for account points.
type Ledger struct {
	store Store
	now   func() time.Time
}

func New(store Store) *Ledger {
	return &Ledger{store: store, now: time.Now}
}

// WithClock returns a copy of the ledger stamping transactions with now().
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	return &Ledger{store: l.store, now: now}
}

// Credit appends a positive transaction and returns its ID.
func (l *Ledger) Credit(ctx context.Context, accountID AccountID, amount int64, typ TxType, description, referenceID string) (TransactionID, error) {
	if amount <= 0 {
		return "", &ValidationError{Field: "amount", Value: amount, Err: ErrInvalidAmount}
	}
	if !typ.Valid() {
		return "", &ValidationError{Field: "type", Value: string(typ), Err: ErrUnknownTxType}
	}
	return l.append(ctx, accountID, amount, typ, description, referenceID)
}

// Adjust appends a signed admin adjustment. Negative amounts are debits.
func (l *Ledger) Adjust(ctx context.Context, accountID AccountID, amount int64, description, referenceID string) (TransactionID, error) {
	if amount == 0 {
		return "", &ValidationError{Field: "amount", Value: amount, Err: ErrInvalidAmount}
	}
	return l.append(ctx, accountID, amount, TxAdminAdjustment, description, referenceID)
}

func (l *Ledger) append(ctx context.Context, accountID AccountID, amount int64, typ TxType, description, referenceID string) (TransactionID, error) {
	account := NormalizeAccountID(string(accountID))
	if account == "" {
		return "", &ValidationError{Field: "account_id", Err: ErrMissingAccount}
	}

	tx := Transaction{
		ID:             TransactionID(uuid.NewString()),
		AccountID:      account,
		Amount:         amount,
		Type:           typ,
		Description:    description,
		ReferenceID:    referenceID,
		IdempotencyKey: IdempotencyKey(typ, account, referenceID),
		CreatedAt:      l.now().UTC(),
	}
	if err := l.store.Append(ctx, tx); err != nil {
		return "", err
	}
	return tx.ID, nil
}

// Balance returns the sum of the account's transactions.
func (l *Ledger) Balance(ctx context.Context, accountID AccountID) (int64, error) {
	account := NormalizeAccountID(string(accountID))
	if account == "" {
		return 0, &ValidationError{Field: "account_id", Err: ErrMissingAccount}
	}
	return l.store.Sum(ctx, account)
}

// Transactions returns the account's history, oldest first.
func (l *Ledger) Transactions(ctx context.Context, accountID AccountID) ([]Transaction, error) {
	account := NormalizeAccountID(string(accountID))
	if account == "" {
		return nil, &ValidationError{Field: "account_id", Err: ErrMissingAccount}
	}
	return l.store.Load(ctx, account)
}

// Summary breaks a history down by transaction type.
type Summary struct {
	Balance int64
	ByType  map[TxType]int64
	Count   int
}

// Summarize folds a transaction list into per-type totals.
func Summarize(txs []Transaction) Summary {
	s := Summary{ByType: make(map[TxType]int64, len(TxTypes))}
	for _, tx := range txs {
		s.Balance += tx.Amount
		s.ByType[tx.Type] += tx.Amount
		s.Count++
	}
	return s
}
