/*
Package catalog defines the fixed rewards the engine hands out.

PURPOSE:
  Quest rewards, referral bonuses and the review reward are fixed amounts
  configured per deployment. The catalog is loaded once at startup from a
  YAML file, or falls back to built-in defaults, and is read-only after
  that. Runtime toggles do NOT live here; they are persisted settings.

YAML SCHEMA:
  referral_click_bonus: 5
  referral_conversion_bonus: 50
  review_reward: 10
  quests:
    - id: daily-review
      name: Review an app
      reward: 10
    - id: daily-launch
      name: Launch an app
      reward: 5

VALIDATION:
  - Every amount must be positive (the ledger rejects non-positive credits)
  - Quest IDs must be non-empty and unique

USAGE:
  cat, err := catalog.Load("rewards.yaml")
  quest, ok := cat.Quest("daily-review")

SEE ALSO:
  - guard/guard.go: Consumes the catalog when crediting
*/
package catalog

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// TYPES
// =============================================================================

// Quest is a named task completable once per calendar day per account.
type Quest struct {
	ID          string `yaml:"id" json:"id"`
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Reward      int64  `yaml:"reward" json:"reward"`
}

// Catalog holds every fixed reward amount.
type Catalog struct {
	ReferralClickBonus      int64   `yaml:"referral_click_bonus"`
	ReferralConversionBonus int64   `yaml:"referral_conversion_bonus"`
	ReviewReward            int64   `yaml:"review_reward"`
	Quests                  []Quest `yaml:"quests"`

	index map[string]Quest
}

var ErrInvalidCatalog = errors.New("invalid reward catalog")

// =============================================================================
// DEFAULTS
// =============================================================================

const (
	DefaultReferralClickBonus      int64 = 5
	DefaultReferralConversionBonus int64 = 50
	DefaultReviewReward            int64 = 10
)

// DefaultQuests are the daily quests shipped with the engine.
func DefaultQuests() []Quest {
	return []Quest{
		{ID: "daily-review", Name: "Review an app", Description: "Leave a review on any listed app", Reward: 10},
		{ID: "daily-launch", Name: "Launch an app", Description: "Open any listed mini-app", Reward: 5},
		{ID: "daily-share", Name: "Share an app", Description: "Share a listing with a friend", Reward: 5},
		{ID: "daily-checkin", Name: "Daily check-in", Description: "Visit the directory", Reward: 2},
	}
}

// Default returns the built-in catalog.
func Default() *Catalog {
	c := &Catalog{
		ReferralClickBonus:      DefaultReferralClickBonus,
		ReferralConversionBonus: DefaultReferralConversionBonus,
		ReviewReward:            DefaultReviewReward,
		Quests:                  DefaultQuests(),
	}
	// Built-in values are known to be valid.
	_ = c.build()
	return c
}

// =============================================================================
// LOADING
// =============================================================================

// Load reads a YAML catalog from path. An empty path yields Default().
func Load(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a YAML catalog. Missing bonus amounts take the defaults;
// an absent quest list takes DefaultQuests().
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if c.ReferralClickBonus == 0 {
		c.ReferralClickBonus = DefaultReferralClickBonus
	}
	if c.ReferralConversionBonus == 0 {
		c.ReferralConversionBonus = DefaultReferralConversionBonus
	}
	if c.ReviewReward == 0 {
		c.ReviewReward = DefaultReviewReward
	}
	if c.Quests == nil {
		c.Quests = DefaultQuests()
	}
	if err := c.build(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks amounts and quest IDs.
func (c *Catalog) Validate() error {
	if c.ReferralClickBonus <= 0 {
		return fmt.Errorf("%w: referral_click_bonus must be positive", ErrInvalidCatalog)
	}
	if c.ReferralConversionBonus <= 0 {
		return fmt.Errorf("%w: referral_conversion_bonus must be positive", ErrInvalidCatalog)
	}
	if c.ReviewReward <= 0 {
		return fmt.Errorf("%w: review_reward must be positive", ErrInvalidCatalog)
	}
	seen := make(map[string]bool, len(c.Quests))
	for i, q := range c.Quests {
		id := strings.TrimSpace(q.ID)
		if id == "" {
			return fmt.Errorf("%w: quest %d has no id", ErrInvalidCatalog, i)
		}
		if seen[id] {
			return fmt.Errorf("%w: duplicate quest id %q", ErrInvalidCatalog, id)
		}
		if q.Reward <= 0 {
			return fmt.Errorf("%w: quest %q reward must be positive", ErrInvalidCatalog, id)
		}
		seen[id] = true
	}
	return nil
}

func (c *Catalog) build() error {
	if err := c.Validate(); err != nil {
		return err
	}
	c.index = make(map[string]Quest, len(c.Quests))
	for i := range c.Quests {
		c.Quests[i].ID = strings.TrimSpace(c.Quests[i].ID)
		if c.Quests[i].Name == "" {
			c.Quests[i].Name = c.Quests[i].ID
		}
		c.index[c.Quests[i].ID] = c.Quests[i]
	}
	return nil
}

// =============================================================================
// LOOKUPS
// =============================================================================

// Quest returns the quest with the given ID.
func (c *Catalog) Quest(id string) (Quest, bool) {
	q, ok := c.index[strings.TrimSpace(id)]
	return q, ok
}
