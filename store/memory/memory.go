// Package memory provides an in-memory implementation of the ledger and
// guard storage contracts (for testing/dev).
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/warp/reputation-engine/guard"
	"github.com/warp/reputation-engine/ledger"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

// Store keeps the transaction log and gate rows in maps. WithTx is simulated
// with a snapshot and a restore on error.
type Store struct {
	mu    sync.RWMutex
	state state
}

var (
	_ ledger.Store = (*Store)(nil)
	_ guard.Store  = (*Store)(nil)
	_ guard.Tx     = (*txView)(nil)
)

type completionKey struct {
	questID string
	account ledger.AccountID
	day     string
}

type pairKey struct {
	referrer string
	referred ledger.AccountID
}

type reviewKey struct {
	appID   string
	account ledger.AccountID
}

type rating struct {
	sum   int64
	count int64
}

type state struct {
	transactions map[ledger.AccountID][]ledger.Transaction
	idempotency  map[string]bool
	completions  map[completionKey]guard.QuestCompletion
	referrals    []guard.Referral
	active       map[pairKey]int
	reviews      map[reviewKey]guard.Review
	apps         map[string]rating
}

func New() *Store {
	return &Store{state: state{
		transactions: make(map[ledger.AccountID][]ledger.Transaction),
		idempotency:  make(map[string]bool),
		completions:  make(map[completionKey]guard.QuestCompletion),
		active:       make(map[pairKey]int),
		reviews:      make(map[reviewKey]guard.Review),
		apps:         make(map[string]rating),
	}}
}

// AddApp registers an app so it can be reviewed.
func (m *Store) AddApp(appID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.state.apps[appID]; !ok {
		m.state.apps[appID] = rating{}
	}
}

// Rating returns the app's rating sum and count.
func (m *Store) Rating(appID string) (sum, count int64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r := m.state.apps[appID]
	return r.sum, r.count
}

// Referrals returns every referral row, in insertion order.
func (m *Store) Referrals() []guard.Referral {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]guard.Referral{}, m.state.referrals...)
}

// =============================================================================
// LEDGER STORE
// =============================================================================

func (m *Store) Append(_ context.Context, tx ledger.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.append(tx)
}

func (m *Store) Load(_ context.Context, accountID ledger.AccountID) ([]ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.load(accountID), nil
}

func (m *Store) Sum(_ context.Context, accountID ledger.AccountID) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.sum(accountID), nil
}

func (s *state) append(tx ledger.Transaction) error {
	if tx.IdempotencyKey != "" && s.idempotency[tx.IdempotencyKey] {
		return ledger.ErrDuplicateIdempotencyKey
	}
	s.transactions[tx.AccountID] = append(s.transactions[tx.AccountID], tx)
	if tx.IdempotencyKey != "" {
		s.idempotency[tx.IdempotencyKey] = true
	}
	return nil
}

func (s *state) load(accountID ledger.AccountID) []ledger.Transaction {
	return append([]ledger.Transaction{}, s.transactions[accountID]...)
}

func (s *state) sum(accountID ledger.AccountID) int64 {
	var total int64
	for _, tx := range s.transactions[accountID] {
		total += tx.Amount
	}
	return total
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// WithTx executes fn holding the store lock. If fn fails the state is
// restored from a snapshot taken before it ran.
func (m *Store) WithTx(_ context.Context, fn func(tx guard.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.state.clone()
	if err := fn(&txView{s: &m.state}); err != nil {
		m.state = snapshot
		return err
	}
	return nil
}

func (s *state) clone() state {
	c := state{
		transactions: make(map[ledger.AccountID][]ledger.Transaction, len(s.transactions)),
		idempotency:  make(map[string]bool, len(s.idempotency)),
		completions:  make(map[completionKey]guard.QuestCompletion, len(s.completions)),
		referrals:    make([]guard.Referral, len(s.referrals)),
		active:       make(map[pairKey]int, len(s.active)),
		reviews:      make(map[reviewKey]guard.Review, len(s.reviews)),
		apps:         make(map[string]rating, len(s.apps)),
	}
	for k, v := range s.transactions {
		c.transactions[k] = append([]ledger.Transaction{}, v...)
	}
	for k, v := range s.idempotency {
		c.idempotency[k] = v
	}
	for k, v := range s.completions {
		c.completions[k] = v
	}
	copy(c.referrals, s.referrals)
	for k, v := range s.active {
		c.active[k] = v
	}
	for k, v := range s.reviews {
		c.reviews[k] = v
	}
	for k, v := range s.apps {
		c.apps[k] = v
	}
	return c
}

// txView writes straight into the locked state.
type txView struct {
	s *state
}

func (v *txView) Append(_ context.Context, tx ledger.Transaction) error {
	return v.s.append(tx)
}

func (v *txView) Load(_ context.Context, accountID ledger.AccountID) ([]ledger.Transaction, error) {
	return v.s.load(accountID), nil
}

func (v *txView) Sum(_ context.Context, accountID ledger.AccountID) (int64, error) {
	return v.s.sum(accountID), nil
}

func (v *txView) InsertQuestCompletion(_ context.Context, c guard.QuestCompletion) error {
	k := completionKey{questID: c.QuestID, account: c.AccountID, day: c.Day}
	if _, ok := v.s.completions[k]; ok {
		return guard.ErrDuplicateCompletion
	}
	v.s.completions[k] = c
	return nil
}

func (v *txView) FindActiveReferral(_ context.Context, referrer string, referred ledger.AccountID) (*guard.Referral, error) {
	i, ok := v.s.active[pairKey{referrer: referrer, referred: referred}]
	if !ok {
		return nil, nil
	}
	ref := v.s.referrals[i]
	return &ref, nil
}

func (v *txView) InsertReferral(_ context.Context, r guard.Referral) error {
	k := pairKey{referrer: r.ReferrerIdentity, referred: r.ReferredAccountID}
	if _, ok := v.s.active[k]; ok {
		return guard.ErrDuplicateReferral
	}
	v.s.referrals = append(v.s.referrals, r)
	v.s.active[k] = len(v.s.referrals) - 1
	return nil
}

func (v *txView) MarkReferralConverted(_ context.Context, referralID string, at time.Time) (bool, error) {
	for i := range v.s.referrals {
		r := &v.s.referrals[i]
		if r.ID != referralID {
			continue
		}
		if r.ConvertedAt != nil {
			return false, nil
		}
		t := at
		r.ConvertedAt = &t
		delete(v.s.active, pairKey{referrer: r.ReferrerIdentity, referred: r.ReferredAccountID})
		return true, nil
	}
	return false, nil
}

func (v *txView) InsertReview(_ context.Context, r guard.Review) error {
	agg, ok := v.s.apps[r.AppID]
	if !ok {
		return ledger.ErrAppNotFound
	}
	k := reviewKey{appID: r.AppID, account: r.AccountID}
	if _, ok := v.s.reviews[k]; ok {
		return guard.ErrDuplicateReview
	}
	v.s.reviews[k] = r
	agg.sum += int64(r.Rating)
	agg.count++
	v.s.apps[r.AppID] = agg
	return nil
}
