package guard

import (
	"time"

	"github.com/warp/reputation-engine/ledger"
)

// =============================================================================
// GATE RECORDS
// =============================================================================

// QuestCompletion is the gate row for a quest. At most one exists per
// (QuestID, AccountID, Day).
type QuestCompletion struct {
	ID          string
	QuestID     string
	AccountID   ledger.AccountID
	Day         string // YYYY-MM-DD in UTC
	CompletedAt time.Time
}

// Referral tracks a click -> conversion relationship. ConvertedAt is nil
// until the referral converts, and it converts at most once.
type Referral struct {
	ID                string
	ReferrerIdentity  string
	ReferrerAccountID ledger.AccountID
	ReferredAccountID ledger.AccountID // empty for anonymous clicks
	URL               string
	ClickedAt         time.Time
	ConvertedAt       *time.Time
}

func (r Referral) Converted() bool { return r.ConvertedAt != nil }

// Review is the gate row for a review reward. At most one exists per
// (AppID, AccountID).
type Review struct {
	ID        string
	AppID     string
	AccountID ledger.AccountID
	Rating    int
	Body      string
	CreatedAt time.Time
}

// DayKey returns the calendar day of t in UTC.
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// =============================================================================
// OUTCOMES
// =============================================================================

// Outcome is the typed, non-error result of a guarded operation.
type Outcome string

const (
	OutcomeCredited         Outcome = "credited"
	OutcomeAlreadyCompleted Outcome = "already_completed"
	OutcomeNewClick         Outcome = "new_click"
	OutcomeRepeatClick      Outcome = "repeat_click"
	OutcomeConverted        Outcome = "converted"
	OutcomeNotFound         Outcome = "not_found"
	OutcomeAlreadyReviewed  Outcome = "already_reviewed"
)

// Credited reports whether the outcome granted points.
func (o Outcome) Credited() bool {
	switch o {
	case OutcomeCredited, OutcomeNewClick, OutcomeConverted:
		return true
	default:
		return false
	}
}

type QuestResult struct {
	Outcome       Outcome
	Completion    QuestCompletion
	TransactionID ledger.TransactionID
	Reward        int64
}

type ClickResult struct {
	Referral      Referral
	IsNewClick    bool
	TransactionID ledger.TransactionID
	Bonus         int64
}

func (r ClickResult) Outcome() Outcome {
	if r.IsNewClick {
		return OutcomeNewClick
	}
	return OutcomeRepeatClick
}

type ConversionResult struct {
	Outcome       Outcome
	Referral      Referral
	TransactionID ledger.TransactionID
	Bonus         int64
}

type ReviewResult struct {
	Outcome       Outcome
	Review        Review
	TransactionID ledger.TransactionID
	Reward        int64
}
