/*
Package ledger provides the points ledger at the core of the reputation engine.

PURPOSE:
  Every point an account ever earns or loses is recorded here as an
  immutable transaction. Balance is derived by summing the log. Stores may
  keep a materialized running total, but it is always written in the same
  atomic unit as the append and the log stays authoritative.

KEY CONCEPTS IN THIS FILE (types.go):
  - AccountID: Normalized wallet / external identity string
  - TxType: Closed set of transaction types
  - Transaction: One immutable ledger row

TRANSACTION TYPES:
  review               Reward for reviewing an app
  referral_click       Bonus to a referrer for a new referral click
  referral_conversion  Bonus to a referrer when the referred account converts
  quest                Reward for a completed daily quest
  admin_adjustment     Manual signed correction issued by an admin

SEE ALSO:
  - ledger.go: Credit / Adjust / Balance
  - store.go: Persistence contract
  - errors.go: Error taxonomy shared by the engine
*/
package ledger

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

// AccountID identifies an account by its normalized wallet or external identity.
type AccountID string

type TransactionID string

// NormalizeAccountID trims and lowercases an identity so that "0xABC " and
// "0xabc" resolve to the same account.
func NormalizeAccountID(raw string) AccountID {
	return AccountID(strings.ToLower(strings.TrimSpace(raw)))
}

func (id AccountID) String() string { return string(id) }

// =============================================================================
// TRANSACTION TYPE - closed union
// =============================================================================

type TxType string

const (
	TxReview             TxType = "review"
	TxReferralClick      TxType = "referral_click"
	TxReferralConversion TxType = "referral_conversion"
	TxQuest              TxType = "quest"
	TxAdminAdjustment    TxType = "admin_adjustment"
)

// TxTypes lists every transaction type in a stable order.
var TxTypes = []TxType{
	TxReview,
	TxReferralClick,
	TxReferralConversion,
	TxQuest,
	TxAdminAdjustment,
}

func (t TxType) Valid() bool {
	switch t {
	case TxReview, TxReferralClick, TxReferralConversion, TxQuest, TxAdminAdjustment:
		return true
	default:
		return false
	}
}

// IsReward reports whether the type is granted by a reward-bearing event
// rather than an admin.
func (t TxType) IsReward() bool {
	switch t {
	case TxReview, TxReferralClick, TxReferralConversion, TxQuest:
		return true
	case TxAdminAdjustment:
		return false
	default:
		return false
	}
}

// ParseTxType converts a stored string back into a TxType.
func ParseTxType(s string) (TxType, error) {
	t := TxType(s)
	if !t.Valid() {
		return "", &ValidationError{Field: "type", Value: s, Err: ErrUnknownTxType}
	}
	return t, nil
}

// =============================================================================
// TRANSACTION
// =============================================================================

// Transaction is an immutable ledger entry. Amount is signed: rewards are
// always positive, admin adjustments may be negative.
type Transaction struct {
	ID             TransactionID
	AccountID      AccountID
	Amount         int64
	Type           TxType
	Description    string
	ReferenceID    string
	IdempotencyKey string
	CreatedAt      time.Time
}

// IdempotencyKey builds the key that makes a reward credit single-shot for a
// given reference. Admin adjustments without a reference get no key.
func IdempotencyKey(typ TxType, account AccountID, referenceID string) string {
	if referenceID == "" {
		return ""
	}
	return fmt.Sprintf("%s:%s:%s", typ, account, referenceID)
}
