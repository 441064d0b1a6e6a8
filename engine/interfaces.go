package engine

import (
	"context"
	"time"

	"habitquest/core"
	"habitquest/ratelimit"
)

// QuestStore persists quests. CompleteQuest is the only way a quest changes
// status: it moves an active quest to completed in one conditional write and
// returns core.ErrAlreadyCompleted when the quest was no longer active.
type QuestStore interface {
	CreateQuest(ctx context.Context, q core.Quest) error
	GetQuest(ctx context.Context, actor core.ActorID, id string) (core.Quest, error)
	ListQuests(ctx context.Context, actor core.ActorID, f core.QuestFilter) ([]core.Quest, error)
	CompleteQuest(ctx context.Context, actor core.ActorID, id string, at time.Time) error
}

// ProfileStore persists progression and equipment. GetProfile creates the
// starting profile on first access and reports Gold from the ledger.
type ProfileStore interface {
	GetProfile(ctx context.Context, actor core.ActorID) (core.Profile, error)
	SaveProgress(ctx context.Context, actor core.ActorID, u core.ProgressUpdate) error
	IsPremium(ctx context.Context, actor core.ActorID) (bool, error)
	ListItems(ctx context.Context) ([]core.Item, error)
	GetItem(ctx context.Context, id string) (core.Item, error)
	EquipItem(ctx context.Context, actor core.ActorID, item core.Item) error
}

// Ledger adjusts balances and journals each change atomically. A debit that
// would make the balance negative fails with core.ErrInsufficientFunds and
// writes nothing.
type Ledger interface {
	AdjustCurrency(ctx context.Context, adj core.Adjustment) (core.AdjustResult, error)
	Transactions(ctx context.Context, actor core.ActorID, limit int) ([]core.CurrencyTransaction, error)
}

// SkillStore records unlocked skills. UnlockSkill spends cost skill points and
// adds the skill in one conditional write, or returns core.ErrSkillUnavailable.
type SkillStore interface {
	UnlockSkill(ctx context.Context, actor core.ActorID, skillID string, cost int64) error
}

// Storage is everything the quest service persists.
type Storage interface {
	QuestStore
	ProfileStore
	Ledger
	SkillStore
	ratelimit.QuotaStore
}

// RuleEngine evaluates rules and emits derived events.
type RuleEngine interface {
	Evaluate(ctx context.Context, trigger core.Event) []core.Event
}

// Limiter admits calls to rate-limited endpoints.
type Limiter interface {
	Check(ctx context.Context, actor core.ActorID, endpoint string) (ratelimit.Result, error)
}
