/*
store.go - Persistence contract for the ledger

APPEND-ONLY CONTRACT:
  - Append(): the only write. Inserts one transaction, creates the account
    row if it does not exist yet, and bumps the materialized balance, all in
    one atomic unit.
  - No Update() or Delete() methods exist.

IDEMPOTENCY:
  A non-empty IdempotencyKey is unique across the log. A second append with
  the same key returns ErrDuplicateIdempotencyKey and writes nothing.

SERIALIZATION:
  Appends for the same account must serialize in the store so that no
  concurrent credit is lost.

IMPLEMENTATIONS:
  - store/sqlite: production SQLite
  - store/memory: in-memory, for tests
*/
package ledger

import "context"

// Store persists ledger transactions.
type Store interface {
	// Append persists a transaction and updates the cached balance atomically.
	Append(ctx context.Context, tx Transaction) error

	// Load returns all transactions for an account, oldest first.
	Load(ctx context.Context, accountID AccountID) ([]Transaction, error)

	// Sum returns the sum of all transaction amounts for an account.
	// Unknown accounts sum to zero.
	Sum(ctx context.Context, accountID AccountID) (int64, error)
}
