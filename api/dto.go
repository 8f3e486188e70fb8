/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

NUMBERS:
  Points are integers. Scores and rating averages are decimal strings so
  clients see exactly what the ranking compared.

VALIDATION:
  Validation is done in handlers and the domain packages, not in DTOs.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/warp/reputation-engine/catalog"
	"github.com/warp/reputation-engine/guard"
	"github.com/warp/reputation-engine/ledger"
	"github.com/warp/reputation-engine/ranking"
	"github.com/warp/reputation-engine/store/sqlite"
	"github.com/warp/reputation-engine/tier"
)

// =============================================================================
// APPS & RANKING
// =============================================================================

type AppDTO struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	DeveloperAccountID string    `json:"developer_account_id,omitempty"`
	RatingAverage      string    `json:"rating_average"`
	RatingCount        int       `json:"rating_count"`
	Featured           bool      `json:"featured"`
	CreatedAt          time.Time `json:"created_at"`
}

type CreateAppRequest struct {
	ID                 string     `json:"id"`
	Name               string     `json:"name"`
	DeveloperAccountID string     `json:"developer_account_id"`
	CreatedAt          *time.Time `json:"created_at,omitempty"`
}

type RecordEventRequest struct {
	Kind       string     `json:"kind"`
	OccurredAt *time.Time `json:"occurred_at,omitempty"`
}

type EventDTO struct {
	ID         string    `json:"id"`
	AppID      string    `json:"app_id"`
	Kind       string    `json:"kind"`
	OccurredAt time.Time `json:"occurred_at"`
}

// ListingDTO is one ranked app. Position is 1-based across the whole
// ranking, not the page.
type ListingDTO struct {
	Position      int    `json:"position"`
	AppID         string `json:"app_id"`
	Name          string `json:"name"`
	Score         string `json:"score"`
	Featured      bool   `json:"featured"`
	IsNew         bool   `json:"is_new"`
	Clicks        int    `json:"clicks"`
	Installs      int    `json:"installs"`
	Opens         int    `json:"opens"`
	RatingAverage string `json:"rating_average"`
	RatingCount   int    `json:"rating_count"`
}

type TrendingResponse struct {
	Listings    []ListingDTO `json:"listings"`
	Total       int          `json:"total"`
	Offset      int          `json:"offset"`
	Limit       int          `json:"limit"`
	GeneratedAt time.Time    `json:"generated_at"`
}

type FeatureRequest struct {
	Featured bool `json:"featured"`
}

// =============================================================================
// REVIEWS
// =============================================================================

type ReviewRequest struct {
	AccountID string `json:"account_id"`
	Rating    int    `json:"rating"`
	Body      string `json:"body"`
}

type ReviewResponse struct {
	Outcome       string `json:"outcome"`
	ReviewID      string `json:"review_id,omitempty"`
	Reward        int64  `json:"reward"`
	TransactionID string `json:"transaction_id,omitempty"`
}

// =============================================================================
// ACCOUNTS & LEDGER
// =============================================================================

type AccountDTO struct {
	ID               string     `json:"id"`
	Balance          int64      `json:"balance"`
	Verified         bool       `json:"verified"`
	ContractVerified bool       `json:"contract_verified"`
	AppsSubmitted    int64      `json:"apps_submitted"`
	TotalLaunches    int64      `json:"total_launches"`
	Premium          bool       `json:"premium"`
	CreatedAt        *time.Time `json:"created_at,omitempty"`
}

type UpdateAccountRequest struct {
	Verified         *bool  `json:"verified,omitempty"`
	ContractVerified *bool  `json:"contract_verified,omitempty"`
	AppsSubmitted    *int64 `json:"apps_submitted,omitempty"`
	TotalLaunches    *int64 `json:"total_launches,omitempty"`
	Premium          *bool  `json:"premium,omitempty"`
}

type TransactionDTO struct {
	ID          string    `json:"id"`
	AccountID   string    `json:"account_id"`
	Amount      int64     `json:"amount"`
	Type        string    `json:"type"`
	Description string    `json:"description"`
	ReferenceID string    `json:"reference_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type TransactionsResponse struct {
	AccountID    string           `json:"account_id"`
	Balance      int64            `json:"balance"`
	Count        int              `json:"count"`
	ByType       map[string]int64 `json:"by_type"`
	Transactions []TransactionDTO `json:"transactions"`
}

// AdjustmentRequest is a signed admin adjustment. ReferenceID makes the
// call idempotent; without it every call appends.
type AdjustmentRequest struct {
	AccountID   string `json:"account_id"`
	Amount      int64  `json:"amount"`
	Reason      string `json:"reason"`
	ReferenceID string `json:"reference_id"`
}

type BalanceCheckDTO struct {
	AccountID  string `json:"account_id"`
	Cached     int64  `json:"cached"`
	Logged     int64  `json:"logged"`
	Consistent bool   `json:"consistent"`
}

// =============================================================================
// TIERS
// =============================================================================

type MetricsDTO struct {
	Verified         bool  `json:"verified"`
	ContractVerified bool  `json:"contract_verified"`
	TotalXP          int64 `json:"total_xp"`
	AppsSubmitted    int64 `json:"apps_submitted"`
	TotalLaunches    int64 `json:"total_launches"`
	IsPremium        bool  `json:"is_premium"`
}

type StandingDTO struct {
	AccountID    string     `json:"account_id"`
	Score        int64      `json:"score"`
	Tier         string     `json:"tier"`
	Perks        []string   `json:"perks"`
	NextTier     string     `json:"next_tier,omitempty"`
	PointsToNext int64      `json:"points_to_next"`
	Metrics      MetricsDTO `json:"metrics"`
}

type TierDTO struct {
	Tier      string   `json:"tier"`
	Threshold int64    `json:"threshold"`
	Perks     []string `json:"perks"`
}

// =============================================================================
// QUESTS & REFERRALS
// =============================================================================

type QuestDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Reward      int64  `json:"reward"`
}

type CompleteQuestRequest struct {
	AccountID string `json:"account_id"`
}

type QuestResponse struct {
	Outcome       string `json:"outcome"`
	QuestID       string `json:"quest_id"`
	AccountID     string `json:"account_id"`
	Day           string `json:"day"`
	Reward        int64  `json:"reward"`
	TransactionID string `json:"transaction_id,omitempty"`
}

type ClickRequest struct {
	Referrer          string `json:"referrer"`
	URL               string `json:"url"`
	ReferredAccountID string `json:"referred_account_id"`
}

type ClickResponse struct {
	Outcome       string `json:"outcome"`
	ReferralID    string `json:"referral_id"`
	IsNewClick    bool   `json:"is_new_click"`
	Bonus         int64  `json:"bonus"`
	TransactionID string `json:"transaction_id,omitempty"`
}

type ConvertRequest struct {
	ReferredAccountID string `json:"referred_account_id"`
	Referrer          string `json:"referrer"`
}

type ConvertResponse struct {
	Outcome       string `json:"outcome"`
	ReferralID    string `json:"referral_id,omitempty"`
	Bonus         int64  `json:"bonus"`
	TransactionID string `json:"transaction_id,omitempty"`
}

// =============================================================================
// SETTINGS, SCENARIOS, AUDIT
// =============================================================================

type SettingRequest struct {
	Value string `json:"value"`
}

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toAppDTO(a sqlite.AppRecord) AppDTO {
	return AppDTO{
		ID:                 a.ID,
		Name:               a.Name,
		DeveloperAccountID: string(a.DeveloperAccountID),
		RatingAverage:      a.RatingAverage.StringFixed(2),
		RatingCount:        a.RatingCount,
		Featured:           a.Featured,
		CreatedAt:          a.CreatedAt,
	}
}

func toListingDTO(position int, l ranking.RankedListing) ListingDTO {
	return ListingDTO{
		Position:      position,
		AppID:         l.App.ID,
		Name:          l.App.Name,
		Score:         l.Score.StringFixed(2),
		Featured:      l.App.Featured,
		IsNew:         l.IsNew,
		Clicks:        l.Clicks,
		Installs:      l.Installs,
		Opens:         l.Opens,
		RatingAverage: l.App.RatingAverage.StringFixed(2),
		RatingCount:   l.App.RatingCount,
	}
}

func toAccountDTO(id ledger.AccountID, acc *sqlite.Account, balance int64) AccountDTO {
	dto := AccountDTO{ID: string(id), Balance: balance}
	if acc != nil {
		dto.Verified = acc.Verified
		dto.ContractVerified = acc.ContractVerified
		dto.AppsSubmitted = acc.AppsSubmitted
		dto.TotalLaunches = acc.TotalLaunches
		dto.Premium = acc.Premium
		created := acc.CreatedAt
		dto.CreatedAt = &created
	}
	return dto
}

func toTransactionDTO(tx ledger.Transaction) TransactionDTO {
	return TransactionDTO{
		ID:          string(tx.ID),
		AccountID:   string(tx.AccountID),
		Amount:      tx.Amount,
		Type:        string(tx.Type),
		Description: tx.Description,
		ReferenceID: tx.ReferenceID,
		CreatedAt:   tx.CreatedAt,
	}
}

func toStandingDTO(id ledger.AccountID, m tier.Metrics, s tier.Standing) StandingDTO {
	perks := s.Perks
	if perks == nil {
		perks = []string{}
	}
	return StandingDTO{
		AccountID:    string(id),
		Score:        s.Score,
		Tier:         string(s.Tier),
		Perks:        perks,
		NextTier:     string(s.Next),
		PointsToNext: s.Gap,
		Metrics: MetricsDTO{
			Verified:         m.Verified,
			ContractVerified: m.ContractVerified,
			TotalXP:          m.TotalXP,
			AppsSubmitted:    m.AppsSubmitted,
			TotalLaunches:    m.TotalLaunches,
			IsPremium:        m.IsPremium,
		},
	}
}

func toQuestDTO(q catalog.Quest) QuestDTO {
	return QuestDTO{ID: q.ID, Name: q.Name, Description: q.Description, Reward: q.Reward}
}

func toQuestResponse(res guard.QuestResult) QuestResponse {
	return QuestResponse{
		Outcome:       string(res.Outcome),
		QuestID:       res.Completion.QuestID,
		AccountID:     string(res.Completion.AccountID),
		Day:           res.Completion.Day,
		Reward:        res.Reward,
		TransactionID: string(res.TransactionID),
	}
}
