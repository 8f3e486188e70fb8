package ledger_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/reputation-engine/ledger"
	"github.com/warp/reputation-engine/store/memory"
	"github.com/warp/reputation-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newSQLiteLedger(t *testing.T) (*ledger.Ledger, *sqlite.Store) {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return ledger.New(store), store
}

// stores runs a test against every Store implementation.
func stores(t *testing.T, fn func(t *testing.T, l *ledger.Ledger)) {
	t.Run("memory", func(t *testing.T) {
		fn(t, ledger.New(memory.New()))
	})
	t.Run("sqlite", func(t *testing.T) {
		l, _ := newSQLiteLedger(t)
		fn(t, l)
	})
}

// =============================================================================
// CREDIT & BALANCE
// =============================================================================

func TestLedger_BalanceIsSumOfLog(t *testing.T) {
	stores(t, func(t *testing.T, l *ledger.Ledger) {
		// GIVEN: Three credits of different types
		ctx := context.Background()
		_, err := l.Credit(ctx, "0xabc", 10, ledger.TxQuest, "quest", "q-1")
		require.NoError(t, err)
		_, err = l.Credit(ctx, "0xabc", 5, ledger.TxReferralClick, "click", "r-1")
		require.NoError(t, err)
		_, err = l.Credit(ctx, "0xabc", 50, ledger.TxReferralConversion, "conversion", "r-1")
		require.NoError(t, err)

		// WHEN: Reading balance and history
		bal, err := l.Balance(ctx, "0xabc")
		require.NoError(t, err)
		txs, err := l.Transactions(ctx, "0xabc")
		require.NoError(t, err)

		// THEN: Balance equals the sum of the log
		assert.Equal(t, int64(65), bal)
		assert.Len(t, txs, 3)
		assert.Equal(t, bal, ledger.Summarize(txs).Balance)
	})
}

func TestLedger_UnknownAccountHasZeroBalance(t *testing.T) {
	stores(t, func(t *testing.T, l *ledger.Ledger) {
		bal, err := l.Balance(context.Background(), "0xnobody")
		require.NoError(t, err)
		assert.Zero(t, bal)
	})
}

func TestLedger_AccountIDsAreNormalized(t *testing.T) {
	stores(t, func(t *testing.T, l *ledger.Ledger) {
		ctx := context.Background()
		_, err := l.Credit(ctx, " 0xABC ", 10, ledger.TxQuest, "quest", "q-1")
		require.NoError(t, err)

		bal, err := l.Balance(ctx, "0xabc")
		require.NoError(t, err)
		assert.Equal(t, int64(10), bal)
	})
}

func TestLedger_CreditValidation(t *testing.T) {
	stores(t, func(t *testing.T, l *ledger.Ledger) {
		ctx := context.Background()

		tests := []struct {
			name    string
			account ledger.AccountID
			amount  int64
			typ     ledger.TxType
			target  error
		}{
			{"zero amount", "0xabc", 0, ledger.TxQuest, ledger.ErrInvalidAmount},
			{"negative amount", "0xabc", -5, ledger.TxQuest, ledger.ErrInvalidAmount},
			{"unknown type", "0xabc", 5, ledger.TxType("bonus"), ledger.ErrUnknownTxType},
			{"missing account", "  ", 5, ledger.TxQuest, ledger.ErrMissingAccount},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := l.Credit(ctx, tt.account, tt.amount, tt.typ, "x", "")
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.target)
				assert.True(t, ledger.IsValidation(err))
				assert.False(t, ledger.IsRetryable(err))
			})
		}

		// THEN: Nothing was written
		bal, err := l.Balance(ctx, "0xabc")
		require.NoError(t, err)
		assert.Zero(t, bal)
	})
}

func TestLedger_SameReferenceCreditsOnce(t *testing.T) {
	stores(t, func(t *testing.T, l *ledger.Ledger) {
		// GIVEN: A credit against reference completion-1
		ctx := context.Background()
		_, err := l.Credit(ctx, "0xabc", 10, ledger.TxQuest, "quest", "completion-1")
		require.NoError(t, err)

		// WHEN: The same (type, account, reference) is credited again
		_, err = l.Credit(ctx, "0xabc", 10, ledger.TxQuest, "quest", "completion-1")

		// THEN: It is rejected and the balance is unchanged
		assert.ErrorIs(t, err, ledger.ErrDuplicateIdempotencyKey)
		bal, err := l.Balance(ctx, "0xabc")
		require.NoError(t, err)
		assert.Equal(t, int64(10), bal)
	})
}

func TestLedger_EmptyReferenceIsNotDeduplicated(t *testing.T) {
	stores(t, func(t *testing.T, l *ledger.Ledger) {
		ctx := context.Background()
		for i := 0; i < 3; i++ {
			_, err := l.Credit(ctx, "0xabc", 1, ledger.TxAdminAdjustment, "manual", "")
			require.NoError(t, err)
		}
		bal, err := l.Balance(ctx, "0xabc")
		require.NoError(t, err)
		assert.Equal(t, int64(3), bal)
	})
}

// =============================================================================
// ADJUSTMENTS (DEBIT PATH)
// =============================================================================

func TestLedger_AdjustCanDebit(t *testing.T) {
	stores(t, func(t *testing.T, l *ledger.Ledger) {
		// GIVEN: 20 points
		ctx := context.Background()
		_, err := l.Credit(ctx, "0xabc", 20, ledger.TxQuest, "quest", "q-1")
		require.NoError(t, err)

		// WHEN: An admin debits 30
		_, err = l.Adjust(ctx, "0xabc", -30, "correction", "adj-1")
		require.NoError(t, err)

		// THEN: The balance goes negative; no policy blocks it
		bal, err := l.Balance(ctx, "0xabc")
		require.NoError(t, err)
		assert.Equal(t, int64(-10), bal)

		txs, err := l.Transactions(ctx, "0xabc")
		require.NoError(t, err)
		require.Len(t, txs, 2)
		assert.Equal(t, ledger.TxAdminAdjustment, txs[1].Type)
		assert.Equal(t, int64(-30), txs[1].Amount)
	})
}

func TestLedger_AdjustRejectsZero(t *testing.T) {
	stores(t, func(t *testing.T, l *ledger.Ledger) {
		_, err := l.Adjust(context.Background(), "0xabc", 0, "noop", "")
		assert.ErrorIs(t, err, ledger.ErrInvalidAmount)
	})
}

// =============================================================================
// ORDERING & CONCURRENCY
// =============================================================================

func TestLedger_TransactionsOldestFirst(t *testing.T) {
	l, _ := newSQLiteLedger(t)
	ctx := context.Background()

	base := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		at := base.Add(time.Duration(i) * time.Hour)
		_, err := l.WithClock(func() time.Time { return at }).
			Credit(ctx, "0xabc", int64(i+1), ledger.TxQuest, "quest", fmt.Sprintf("q-%d", i))
		require.NoError(t, err)
	}

	txs, err := l.Transactions(ctx, "0xabc")
	require.NoError(t, err)
	require.Len(t, txs, 3)
	for i, tx := range txs {
		assert.Equal(t, int64(i+1), tx.Amount)
		assert.True(t, tx.CreatedAt.Equal(base.Add(time.Duration(i)*time.Hour)))
	}
}

func TestLedger_ConcurrentCreditsAllLand(t *testing.T) {
	// GIVEN: 50 concurrent credits to one account
	l, store := newSQLiteLedger(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := l.Credit(ctx, "0xabc", 2, ledger.TxQuest, "quest", fmt.Sprintf("q-%d", i))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	// THEN: No lost update, and the balance cache matches the log
	bal, err := l.Balance(ctx, "0xabc")
	require.NoError(t, err)
	assert.Equal(t, int64(100), bal)

	cached, logged, err := store.VerifyBalance(ctx, "0xabc")
	require.NoError(t, err)
	assert.Equal(t, logged, cached)
}

func TestLedger_ConcurrentCreditsAcrossAccounts(t *testing.T) {
	// GIVEN: Interleaved concurrent credits to three accounts
	l, store := newSQLiteLedger(t)
	ctx := context.Background()
	amounts := map[ledger.AccountID]int64{"0xa": 1, "0xb": 2, "0xc": 3}
	const perAccount = 30

	var wg sync.WaitGroup
	errs := make(chan error, perAccount*len(amounts))
	for i := 0; i < perAccount; i++ {
		for account, amount := range amounts {
			wg.Add(1)
			go func(account ledger.AccountID, amount int64, i int) {
				defer wg.Done()
				_, err := l.Credit(ctx, account, amount, ledger.TxQuest, "quest", fmt.Sprintf("%s-%d", account, i))
				errs <- err
			}(account, amount, i)
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	// THEN: Each account holds exactly its own credits and its cache matches its log
	for account, amount := range amounts {
		bal, err := l.Balance(ctx, account)
		require.NoError(t, err)
		assert.Equal(t, perAccount*amount, bal, account)

		cached, logged, err := store.VerifyBalance(ctx, account)
		require.NoError(t, err)
		assert.Equal(t, perAccount*amount, logged, account)
		assert.Equal(t, logged, cached, account)
	}
}

func TestIdempotencyKey(t *testing.T) {
	assert.Equal(t, "quest:0xabc:c-1", ledger.IdempotencyKey(ledger.TxQuest, "0xabc", "c-1"))
	assert.Empty(t, ledger.IdempotencyKey(ledger.TxQuest, "0xabc", ""))
}

func TestParseTxType(t *testing.T) {
	typ, err := ledger.ParseTxType("referral_click")
	require.NoError(t, err)
	assert.Equal(t, ledger.TxReferralClick, typ)
	assert.True(t, typ.IsReward())
	assert.False(t, ledger.TxAdminAdjustment.IsReward())

	_, err = ledger.ParseTxType("cashback")
	assert.ErrorIs(t, err, ledger.ErrUnknownTxType)
}
