/*
Package guard enforces at-most-once rules on reward-granting events and
then credits the ledger.

PURPOSE:
  Every reward side effect in the system goes through this package, so the
  idempotency contract lives in one place:
  - A quest is completed at most once per calendar day per account
  - A new referral click credits the referrer once
  - A referral converts at most once
  - An account is rewarded for reviewing an app at most once

ORDERING:
  Gate first, credit second, both in one store transaction. Never the
  reverse. A failed gate means no credit; a failed credit rolls the gate
  back, so a retry starts clean.

OUTCOMES VS ERRORS:
  "Already done" is an Outcome (AlreadyCompleted, NotFound, RepeatClick,
  AlreadyReviewed), not an error. Only validation failures and
  ledger.ErrStoreUnavailable are returned as errors, and the latter
  guarantees zero writes.

EXAMPLE:
  g := guard.New(store, catalog.Default())
  res, err := g.RecordQuestCompletion(ctx, "daily-review", "0xabc", time.Now())
  if err != nil {
      return err // validation or store unavailable
  }
  if res.Outcome == guard.OutcomeAlreadyCompleted {
      // silently idempotent
  }

SEE ALSO:
  - store.go: Transactional contract and uniqueness sentinels
  - ledger/ledger.go: Credit entry point used inside the unit
*/
package guard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/warp/reputation-engine/catalog"
	"github.com/warp/reputation-engine/ledger"
)

var (
	ErrUnknownQuest  = errors.New("unknown quest")
	ErrInvalidRating = errors.New("rating must be between 1 and 5")
	ErrSelfReferral  = errors.New("account cannot refer itself")
	ErrMissingField  = errors.New("required")
)

const (
	MinRating = 1
	MaxRating = 5
)

// Guard runs gate-then-credit operations against a Store.
type Guard struct {
	store   Store
	catalog *catalog.Catalog
	now     func() time.Time
	logger  *slog.Logger
}

type Option func(*Guard)

// WithClock overrides the clock used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(g *Guard) { g.now = now }
}

func WithLogger(logger *slog.Logger) Option {
	return func(g *Guard) { g.logger = logger }
}

func New(store Store, cat *catalog.Catalog, opts ...Option) *Guard {
	if cat == nil {
		cat = catalog.Default()
	}
	g := &Guard{
		store:   store,
		catalog: cat,
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Catalog returns the reward catalog the guard credits from.
func (g *Guard) Catalog() *catalog.Catalog { return g.catalog }

func (g *Guard) ledgerFor(tx Tx) *ledger.Ledger {
	return ledger.New(tx).WithClock(g.now)
}

// =============================================================================
// QUESTS
// =============================================================================

// RecordQuestCompletion inserts the (quest, account, day) gate and credits
// the quest reward. A second completion on the same UTC day returns
// OutcomeAlreadyCompleted and credits nothing.
func (g *Guard) RecordQuestCompletion(ctx context.Context, questID string, accountID ledger.AccountID, at time.Time) (QuestResult, error) {
	quest, ok := g.catalog.Quest(questID)
	if !ok {
		return QuestResult{}, &ledger.ValidationError{Field: "quest_id", Value: questID, Err: ErrUnknownQuest}
	}
	account := ledger.NormalizeAccountID(string(accountID))
	if account == "" {
		return QuestResult{}, &ledger.ValidationError{Field: "account_id", Err: ledger.ErrMissingAccount}
	}
	if at.IsZero() {
		at = g.now()
	}

	completion := QuestCompletion{
		ID:          uuid.NewString(),
		QuestID:     quest.ID,
		AccountID:   account,
		Day:         DayKey(at),
		CompletedAt: at.UTC(),
	}
	result := QuestResult{Completion: completion, Reward: quest.Reward}

	err := g.store.WithTx(ctx, func(tx Tx) error {
		if err := tx.InsertQuestCompletion(ctx, completion); err != nil {
			return err
		}
		txID, err := g.ledgerFor(tx).Credit(ctx, account, quest.Reward, ledger.TxQuest,
			fmt.Sprintf("Quest completed: %s", quest.Name), completion.ID)
		if err != nil {
			return err
		}
		result.TransactionID = txID
		return nil
	})

	switch {
	case errors.Is(err, ErrDuplicateCompletion):
		g.logger.InfoContext(ctx, "quest already completed",
			slog.String("quest_id", quest.ID),
			slog.String("account_id", string(account)),
			slog.String("day", completion.Day))
		return QuestResult{Outcome: OutcomeAlreadyCompleted, Completion: completion}, nil
	case err != nil:
		g.logError(ctx, "record quest completion", err)
		return QuestResult{}, err
	}

	result.Outcome = OutcomeCredited
	g.logger.InfoContext(ctx, "quest completed",
		slog.String("quest_id", quest.ID),
		slog.String("account_id", string(account)),
		slog.String("day", completion.Day),
		slog.Int64("reward", quest.Reward))
	return result, nil
}

// =============================================================================
// REFERRALS
// =============================================================================

// TrackReferralClick reuses the active referral for (referrer, referred) if
// one exists, otherwise inserts a new clicked referral and credits the click
// bonus to the referrer exactly once for that row.
func (g *Guard) TrackReferralClick(ctx context.Context, referrerIdentity, referralURL string, referredAccountID ledger.AccountID) (ClickResult, error) {
	referrer := normalizeIdentity(referrerIdentity)
	if referrer == "" {
		return ClickResult{}, &ledger.ValidationError{Field: "referrer", Err: ErrMissingField}
	}
	referrerAccount := ledger.NormalizeAccountID(referrer)
	referred := ledger.NormalizeAccountID(string(referredAccountID))
	if referred != "" && referred == referrerAccount {
		return ClickResult{}, &ledger.ValidationError{Field: "referred_account_id", Value: string(referred), Err: ErrSelfReferral}
	}

	var result ClickResult
	err := g.store.WithTx(ctx, func(tx Tx) error {
		existing, err := tx.FindActiveReferral(ctx, referrer, referred)
		if err != nil {
			return err
		}
		if existing != nil {
			result = ClickResult{Referral: *existing}
			return nil
		}

		ref := Referral{
			ID:                uuid.NewString(),
			ReferrerIdentity:  referrer,
			ReferrerAccountID: referrerAccount,
			ReferredAccountID: referred,
			URL:               strings.TrimSpace(referralURL),
			ClickedAt:         g.now().UTC(),
		}
		if err := tx.InsertReferral(ctx, ref); err != nil {
			return err
		}
		bonus := g.catalog.ReferralClickBonus
		txID, err := g.ledgerFor(tx).Credit(ctx, referrerAccount, bonus, ledger.TxReferralClick,
			"Referral click", ref.ID)
		if err != nil {
			return err
		}
		result = ClickResult{Referral: ref, IsNewClick: true, TransactionID: txID, Bonus: bonus}
		return nil
	})

	if errors.Is(err, ErrDuplicateReferral) {
		// Another instance inserted the active row between our lookup and
		// insert. Its click already credited; return that row.
		return g.existingClick(ctx, referrer, referred)
	}
	if err != nil {
		g.logError(ctx, "track referral click", err)
		return ClickResult{}, err
	}

	g.logger.InfoContext(ctx, "referral click",
		slog.String("referral_id", result.Referral.ID),
		slog.String("referrer", referrer),
		slog.String("referred", string(referred)),
		slog.Bool("new_click", result.IsNewClick))
	return result, nil
}

func (g *Guard) existingClick(ctx context.Context, referrer string, referred ledger.AccountID) (ClickResult, error) {
	var result ClickResult
	err := g.store.WithTx(ctx, func(tx Tx) error {
		existing, err := tx.FindActiveReferral(ctx, referrer, referred)
		if err != nil {
			return err
		}
		if existing == nil {
			// The winner converted in the meantime; the pair is no longer
			// active, so the caller may retry for a fresh click.
			return ledger.Unavailable("track referral click", ErrDuplicateReferral)
		}
		result = ClickResult{Referral: *existing}
		return nil
	})
	if err != nil {
		return ClickResult{}, err
	}
	return result, nil
}

// ConvertReferral transitions the most recent clicked-but-unconverted
// referral for the pair to converted and credits the referrer. The
// transition is a conditional update; if it does not apply (no row, or a
// concurrent conversion won) the result is OutcomeNotFound.
func (g *Guard) ConvertReferral(ctx context.Context, referredAccountID ledger.AccountID, referrerIdentity string) (ConversionResult, error) {
	referred := ledger.NormalizeAccountID(string(referredAccountID))
	if referred == "" {
		return ConversionResult{}, &ledger.ValidationError{Field: "referred_account_id", Err: ledger.ErrMissingAccount}
	}
	referrer := normalizeIdentity(referrerIdentity)
	if referrer == "" {
		return ConversionResult{}, &ledger.ValidationError{Field: "referrer", Err: ErrMissingField}
	}

	result := ConversionResult{Outcome: OutcomeNotFound}
	err := g.store.WithTx(ctx, func(tx Tx) error {
		ref, err := tx.FindActiveReferral(ctx, referrer, referred)
		if err != nil {
			return err
		}
		if ref == nil {
			return nil
		}

		now := g.now().UTC()
		converted, err := tx.MarkReferralConverted(ctx, ref.ID, now)
		if err != nil {
			return err
		}
		if !converted {
			return nil
		}
		ref.ConvertedAt = &now

		bonus := g.catalog.ReferralConversionBonus
		txID, err := g.ledgerFor(tx).Credit(ctx, ref.ReferrerAccountID, bonus, ledger.TxReferralConversion,
			fmt.Sprintf("Referral converted: %s", referred), ref.ID)
		if err != nil {
			return err
		}
		result = ConversionResult{Outcome: OutcomeConverted, Referral: *ref, TransactionID: txID, Bonus: bonus}
		return nil
	})
	if err != nil {
		g.logError(ctx, "convert referral", err)
		return ConversionResult{}, err
	}

	g.logger.InfoContext(ctx, "referral conversion",
		slog.String("referrer", referrer),
		slog.String("referred", string(referred)),
		slog.String("outcome", string(result.Outcome)))
	return result, nil
}

// =============================================================================
// REVIEWS
// =============================================================================

// ReviewInput is a review submitted by an account.
type ReviewInput struct {
	AppID     string
	AccountID ledger.AccountID
	Rating    int
	Body      string
}

// RecordReview stores the review as the gate and credits the review reward.
// A second review of the same app by the same account returns
// OutcomeAlreadyReviewed.
func (g *Guard) RecordReview(ctx context.Context, in ReviewInput, at time.Time) (ReviewResult, error) {
	appID := strings.TrimSpace(in.AppID)
	if appID == "" {
		return ReviewResult{}, &ledger.ValidationError{Field: "app_id", Err: ErrMissingField}
	}
	account := ledger.NormalizeAccountID(string(in.AccountID))
	if account == "" {
		return ReviewResult{}, &ledger.ValidationError{Field: "account_id", Err: ledger.ErrMissingAccount}
	}
	if in.Rating < MinRating || in.Rating > MaxRating {
		return ReviewResult{}, &ledger.ValidationError{Field: "rating", Value: in.Rating, Err: ErrInvalidRating}
	}
	if at.IsZero() {
		at = g.now()
	}

	review := Review{
		ID:        uuid.NewString(),
		AppID:     appID,
		AccountID: account,
		Rating:    in.Rating,
		Body:      strings.TrimSpace(in.Body),
		CreatedAt: at.UTC(),
	}
	result := ReviewResult{Review: review, Reward: g.catalog.ReviewReward}

	err := g.store.WithTx(ctx, func(tx Tx) error {
		if err := tx.InsertReview(ctx, review); err != nil {
			return err
		}
		txID, err := g.ledgerFor(tx).Credit(ctx, account, g.catalog.ReviewReward, ledger.TxReview,
			fmt.Sprintf("Reviewed app %s", appID), review.ID)
		if err != nil {
			return err
		}
		result.TransactionID = txID
		return nil
	})

	switch {
	case errors.Is(err, ErrDuplicateReview):
		return ReviewResult{Outcome: OutcomeAlreadyReviewed, Review: review}, nil
	case errors.Is(err, ledger.ErrAppNotFound):
		return ReviewResult{}, &ledger.ValidationError{Field: "app_id", Value: appID, Err: ledger.ErrAppNotFound}
	case err != nil:
		g.logError(ctx, "record review", err)
		return ReviewResult{}, err
	}

	result.Outcome = OutcomeCredited
	g.logger.InfoContext(ctx, "review rewarded",
		slog.String("app_id", appID),
		slog.String("account_id", string(account)),
		slog.Int("rating", in.Rating))
	return result, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func normalizeIdentity(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

func (g *Guard) logError(ctx context.Context, op string, err error) {
	if ledger.IsValidation(err) {
		return
	}
	g.logger.ErrorContext(ctx, op+" failed", slog.Any("error", err))
}
