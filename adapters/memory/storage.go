// Package memory is a concurrent in-process implementation of every storage
// interface. Each actor's rows sit behind one mutex, which makes the quest
// transition, ledger adjustment and skill unlock atomic.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"habitquest/core"
)

// Store is a concurrent in-memory storage implementation.
type Store struct {
	actors sync.Map // map[core.ActorID]*actorRecord
	items  map[string]core.Item
	now    func() time.Time

	quotaMu sync.Mutex
	quotas  map[string]*quotaCounter
}

type actorRecord struct {
	mu      sync.Mutex
	profile core.Profile
	quests  map[string]core.Quest
	balance int64
	txs     []core.CurrencyTransaction
}

type quotaCounter struct {
	windowStart time.Time
	count       int64
}

// Option configures a Store.
type Option func(*Store)

// WithCatalog replaces the shop inventory.
func WithCatalog(items []core.Item) Option {
	return func(s *Store) {
		s.items = make(map[string]core.Item, len(items))
		for _, it := range items {
			s.items[it.ID] = it
		}
	}
}

func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

func New(opts ...Option) *Store {
	s := &Store{now: time.Now, quotas: map[string]*quotaCounter{}}
	WithCatalog(core.DefaultCatalog())(s)
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) getOrCreate(actor core.ActorID) *actorRecord {
	if v, ok := s.actors.Load(actor); ok {
		return v.(*actorRecord)
	}
	rec := &actorRecord{profile: core.NewProfile(actor), quests: map[string]core.Quest{}}
	actual, _ := s.actors.LoadOrStore(actor, rec)
	return actual.(*actorRecord)
}

func (s *Store) CreateQuest(_ context.Context, q core.Quest) error {
	rec := s.getOrCreate(q.ActorID)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if _, exists := rec.quests[q.ID]; exists {
		return core.E(core.KindInvalidInput, fmt.Sprintf("quest %s already exists", q.ID))
	}
	rec.quests[q.ID] = q
	return nil
}

func (s *Store) GetQuest(_ context.Context, actor core.ActorID, id string) (core.Quest, error) {
	rec := s.getOrCreate(actor)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	q, ok := rec.quests[id]
	if !ok {
		return core.Quest{}, core.ErrQuestNotFound
	}
	return q, nil
}

// ListQuests returns matching quests newest first.
func (s *Store) ListQuests(_ context.Context, actor core.ActorID, f core.QuestFilter) ([]core.Quest, error) {
	rec := s.getOrCreate(actor)
	rec.mu.Lock()
	out := make([]core.Quest, 0, len(rec.quests))
	for _, q := range rec.quests {
		if f.Match(q) {
			out = append(out, q)
		}
	}
	rec.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// CompleteQuest moves an active quest to completed under the actor lock.
func (s *Store) CompleteQuest(_ context.Context, actor core.ActorID, id string, at time.Time) error {
	rec := s.getOrCreate(actor)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	q, ok := rec.quests[id]
	if !ok {
		return core.ErrQuestNotFound
	}
	if q.Status != core.StatusActive {
		return core.ErrAlreadyCompleted
	}
	t := at.UTC()
	q.Status = core.StatusCompleted
	q.CompletedAt = &t
	rec.quests[id] = q
	return nil
}

func (s *Store) GetProfile(_ context.Context, actor core.ActorID) (core.Profile, error) {
	rec := s.getOrCreate(actor)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	p := rec.profile.Clone()
	p.Gold = rec.balance
	return p, nil
}

func (s *Store) SaveProgress(_ context.Context, actor core.ActorID, u core.ProgressUpdate) error {
	rec := s.getOrCreate(actor)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.profile.Version != u.Version {
		return core.ErrProgressConflict
	}
	rec.profile = u.Apply(rec.profile)
	return nil
}

func (s *Store) IsPremium(_ context.Context, actor core.ActorID) (bool, error) {
	rec := s.getOrCreate(actor)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.profile.Premium, nil
}

// SetPremium changes the actor's subscription tier.
func (s *Store) SetPremium(actor core.ActorID, premium bool) {
	rec := s.getOrCreate(actor)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.profile.Premium = premium
}

// SetArchetype sets the hero archetype used in narrative prompts.
func (s *Store) SetArchetype(actor core.ActorID, archetype string) {
	rec := s.getOrCreate(actor)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.profile.Archetype = archetype
}

func (s *Store) ListItems(context.Context) ([]core.Item, error) {
	out := make([]core.Item, 0, len(s.items))
	for _, it := range s.items {
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Price == out[j].Price {
			return out[i].ID < out[j].ID
		}
		return out[i].Price < out[j].Price
	})
	return out, nil
}

func (s *Store) GetItem(_ context.Context, id string) (core.Item, error) {
	it, ok := s.items[id]
	if !ok {
		return core.Item{}, core.ErrItemNotFound
	}
	return it, nil
}

func (s *Store) EquipItem(_ context.Context, actor core.ActorID, item core.Item) error {
	if _, err := core.ParseSlot(string(item.Slot)); err != nil {
		return core.Wrap(core.KindInvalidInput, err.Error(), err)
	}
	rec := s.getOrCreate(actor)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.profile.Equipment = rec.profile.Equipment.With(item)
	return nil
}

// AdjustCurrency applies a signed change and journals it under the actor lock.
func (s *Store) AdjustCurrency(_ context.Context, adj core.Adjustment) (core.AdjustResult, error) {
	if adj.Amount == 0 {
		return core.AdjustResult{}, core.ErrZeroAdjustment
	}
	rec := s.getOrCreate(adj.ActorID)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	next, err := core.AddSafe(rec.balance, adj.Amount)
	if err != nil {
		return core.AdjustResult{}, core.Wrap(core.KindInvalidInput, "amount out of range", err)
	}
	if next < 0 {
		return core.AdjustResult{}, core.ErrInsufficientFunds
	}
	tx := core.CurrencyTransaction{
		ID:           uuid.NewString(),
		ActorID:      adj.ActorID,
		Amount:       adj.Amount,
		Type:         adj.Type,
		ReferenceID:  adj.ReferenceID,
		Metadata:     adj.Metadata,
		BalanceAfter: next,
		CreatedAt:    s.now().UTC(),
	}
	rec.balance = next
	rec.txs = append(rec.txs, tx)
	return core.AdjustResult{NewBalance: next, TransactionID: tx.ID}, nil
}

// Transactions returns the most recent entries first.
func (s *Store) Transactions(_ context.Context, actor core.ActorID, limit int) ([]core.CurrencyTransaction, error) {
	rec := s.getOrCreate(actor)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	n := len(rec.txs)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]core.CurrencyTransaction, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, rec.txs[i])
	}
	return out, nil
}

func (s *Store) UnlockSkill(_ context.Context, actor core.ActorID, skillID string, cost int64) error {
	rec := s.getOrCreate(actor)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.profile.HasSkill(skillID) || rec.profile.SkillPoints < cost {
		return core.ErrSkillUnavailable
	}
	rec.profile.SkillPoints -= cost
	rec.profile.UnlockedSkills = append(rec.profile.UnlockedSkills, skillID)
	rec.profile.Version++
	return nil
}

// AdmitQuota increments the counter for the request's window if it is below the limit.
func (s *Store) AdmitQuota(_ context.Context, req core.QuotaRequest) (core.QuotaResult, error) {
	if req.Window <= 0 {
		return core.QuotaResult{}, fmt.Errorf("quota window must be positive")
	}
	start := req.WindowStart()
	key := string(req.ActorID) + "|" + req.Key

	s.quotaMu.Lock()
	defer s.quotaMu.Unlock()
	c, ok := s.quotas[key]
	if !ok || !c.windowStart.Equal(start) {
		c = &quotaCounter{windowStart: start}
		s.quotas[key] = c
	}
	res := core.QuotaResult{Current: c.count, Limit: req.Limit, ResetAt: req.ResetAt()}
	if c.count >= req.Limit {
		return res, nil
	}
	c.count++
	res.Current = c.count
	res.Allowed = true
	return res, nil
}

// ActorSnapshot is the persisted form of one actor's rows.
type ActorSnapshot struct {
	Profile      core.Profile               `json:"profile"`
	Quests       []core.Quest               `json:"quests"`
	Balance      int64                      `json:"balance"`
	Transactions []core.CurrencyTransaction `json:"transactions"`
}

// Snapshot copies all actor rows. Quota counters are not included.
func (s *Store) Snapshot() map[core.ActorID]ActorSnapshot {
	out := map[core.ActorID]ActorSnapshot{}
	s.actors.Range(func(k, v any) bool {
		rec := v.(*actorRecord)
		rec.mu.Lock()
		snap := ActorSnapshot{
			Profile:      rec.profile.Clone(),
			Quests:       make([]core.Quest, 0, len(rec.quests)),
			Balance:      rec.balance,
			Transactions: append([]core.CurrencyTransaction{}, rec.txs...),
		}
		for _, q := range rec.quests {
			snap.Quests = append(snap.Quests, q)
		}
		rec.mu.Unlock()
		sort.Slice(snap.Quests, func(i, j int) bool { return snap.Quests[i].CreatedAt.Before(snap.Quests[j].CreatedAt) })
		out[k.(core.ActorID)] = snap
		return true
	})
	return out
}

// Restore replaces the rows of every actor in snap.
func (s *Store) Restore(snap map[core.ActorID]ActorSnapshot) {
	for actor, a := range snap {
		rec := &actorRecord{profile: a.Profile, quests: map[string]core.Quest{}, balance: a.Balance, txs: a.Transactions}
		if rec.profile.UnlockedSkills == nil {
			rec.profile.UnlockedSkills = []string{}
		}
		rec.profile.Gold = 0
		for _, q := range a.Quests {
			rec.quests[q.ID] = q
		}
		s.actors.Store(actor, rec)
	}
}
