/*
store.go - Persistence contract for the guard

ATOMIC GATE + CREDIT:
  Every guarded operation runs inside WithTx. The gate write (quest
  completion insert, referral insert, conditional conversion update, review
  insert) and the ledger append share one storage transaction, so the
  credit happens if and only if the gate succeeded. If fn returns an error
  the whole unit rolls back and nothing is written.

UNIQUENESS:
  The gates are enforced by the store, not by read-then-write:
  - quest completions: unique (quest_id, account_id, completion_date)
  - referrals: at most one non-converted row per (referrer, referred)
  - reviews: unique (app_id, account_id)
  Violations surface as the sentinels below, never as raw driver errors.
*/
package guard

import (
	"context"
	"errors"
	"time"

	"github.com/warp/reputation-engine/ledger"
)

var (
	// ErrDuplicateCompletion is returned by InsertQuestCompletion when the
	// day key already exists.
	ErrDuplicateCompletion = errors.New("quest already completed for this day")

	// ErrDuplicateReferral is returned by InsertReferral when an active
	// referral for the same pair already exists.
	ErrDuplicateReferral = errors.New("active referral already exists")

	// ErrDuplicateReview is returned by InsertReview when the account already
	// reviewed the app.
	ErrDuplicateReview = errors.New("app already reviewed by account")
)

// Tx is the transactional view a guarded operation works against. It is a
// ledger.Store so credits can be appended inside the same unit.
type Tx interface {
	ledger.Store

	// InsertQuestCompletion inserts the gate row or returns ErrDuplicateCompletion.
	InsertQuestCompletion(ctx context.Context, c QuestCompletion) error

	// FindActiveReferral returns the most recent non-converted referral for
	// the pair, or nil. An empty referred ID matches anonymous clicks only.
	FindActiveReferral(ctx context.Context, referrerIdentity string, referred ledger.AccountID) (*Referral, error)

	// InsertReferral inserts a clicked referral or returns ErrDuplicateReferral.
	InsertReferral(ctx context.Context, r Referral) error

	// MarkReferralConverted sets converted_at only if it is still unset and
	// reports whether this call performed the transition.
	MarkReferralConverted(ctx context.Context, referralID string, at time.Time) (bool, error)

	// InsertReview inserts the review, refreshes the app's rating aggregate,
	// and returns ErrDuplicateReview or ledger.ErrAppNotFound on failure.
	InsertReview(ctx context.Context, r Review) error
}

// Store opens transactional units.
type Store interface {
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}
