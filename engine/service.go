package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"habitquest/core"
	"habitquest/ratelimit"
	"habitquest/reward"
	"habitquest/skills"
	"habitquest/story"
	"habitquest/transform"
)

const (
	DefaultStoreTimeout  = 5 * time.Second
	DefaultCommitTimeout = 15 * time.Second

	maxQuestTextRunes   = 500
	maxJournalRunes     = 5000
	weeklySummaryWindow = 7 * 24 * time.Hour
)

// QuestService runs the quest lifecycle and the reward economy around it.
type QuestService struct {
	store         Storage
	bus           *EventBus
	rules         RuleEngine
	limiter       Limiter
	skills        reward.SkillEffects
	story         *story.Engine
	transformer   transform.Transformer
	logger        *slog.Logger
	now           func() time.Time
	newID         func() string
	storeTimeout  time.Duration
	commitTimeout time.Duration
}

// Option configures a QuestService.
type Option func(*QuestService)

// WithLimiter gates the AI and completion endpoints. Without one nothing is limited.
func WithLimiter(l Limiter) Option { return func(s *QuestService) { s.limiter = l } }

func WithSkillEffects(e reward.SkillEffects) Option { return func(s *QuestService) { s.skills = e } }

func WithStoryEngine(e *story.Engine) Option { return func(s *QuestService) { s.story = e } }

// WithTransformer sets the text generator. Without one quests keep the user's text.
func WithTransformer(t transform.Transformer) Option {
	return func(s *QuestService) { s.transformer = t }
}

func WithLogger(l *slog.Logger) Option { return func(s *QuestService) { s.logger = l } }

func WithClock(now func() time.Time) Option { return func(s *QuestService) { s.now = now } }

func WithIDGenerator(f func() string) Option { return func(s *QuestService) { s.newID = f } }

// WithStoreTimeout bounds every storage round trip.
func WithStoreTimeout(d time.Duration) Option {
	return func(s *QuestService) {
		if d > 0 {
			s.storeTimeout = d
		}
	}
}

// WithCommitTimeout bounds the work that follows a successful quest transition.
func WithCommitTimeout(d time.Duration) Option {
	return func(s *QuestService) {
		if d > 0 {
			s.commitTimeout = d
		}
	}
}

func NewQuestService(store Storage, bus *EventBus, rules RuleEngine, opts ...Option) *QuestService {
	if store == nil || bus == nil || rules == nil {
		panic("NewQuestService requires non-nil storage, bus, and rules")
	}
	s := &QuestService{
		store:         store,
		bus:           bus,
		rules:         rules,
		skills:        reward.NoSkills{},
		story:         story.New(nil),
		logger:        slog.Default(),
		now:           time.Now,
		newID:         uuid.NewString,
		storeTimeout:  DefaultStoreTimeout,
		commitTimeout: DefaultCommitTimeout,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func DefaultRuleEngine() RuleEngine {
	return &simpleRuleEngine{rules: []core.Rule{core.LevelUpRule{}, core.StoryCompletedRule{}}}
}

// Subscribe convenience method.
func (s *QuestService) Subscribe(typ core.EventType, handler func(context.Context, core.Event)) func() {
	return s.bus.Subscribe(typ, handler)
}

func (s *QuestService) Publish(ctx context.Context, ev core.Event) {
	s.bus.Publish(ctx, ev)
}

func (s *QuestService) Close() { s.bus.Close() }

// StoryOutcome is the narrative state after a completion and what changed.
type StoryOutcome struct {
	State core.StoryState `json:"state"`
	Delta story.Delta     `json:"delta"`
}

// Completion is the result of a successful quest completion.
type Completion struct {
	Quest   core.Quest         `json:"quest"`
	Reward  reward.Breakdown   `json:"reward"`
	Profile core.Profile       `json:"profile"`
	Story   StoryOutcome       `json:"story"`
	Skills  reward.SkillResult `json:"skills"`
	// GoldCredited is false when the ledger credit failed; Reward.Gold is still the intended amount.
	GoldCredited bool `json:"gold_credited"`
}

// CompleteQuest completes an active quest and issues its reward at most once.
// The quest transition is a storage-level compare-and-set; losing it to a
// concurrent request yields core.ErrAlreadyCompleted and no reward.
func (s *QuestService) CompleteQuest(ctx context.Context, actor core.ActorID, questID string) (Completion, error) {
	actor, err := s.actor(actor)
	if err != nil {
		return Completion{}, err
	}
	questID = strings.TrimSpace(questID)
	if questID == "" {
		return Completion{}, core.E(core.KindInvalidInput, "quest_id is required")
	}
	if err := s.checkLimit(ctx, actor, ratelimit.EndpointQuestComplete); err != nil {
		return Completion{}, err
	}

	q, err := s.getQuest(ctx, actor, questID)
	if err != nil {
		return Completion{}, err
	}
	if q.Completed() {
		return Completion{}, core.ErrAlreadyCompleted
	}

	now := s.now().UTC()
	if err := s.completeQuest(ctx, actor, questID, now); err != nil {
		if errors.Is(err, core.ErrAlreadyCompleted) {
			s.logger.Warn("quest completion lost race",
				"actor_id", actor, "quest_id", questID, "at", now)
			return Completion{}, err
		}
		if !isTimeout(err) || !s.transitionCommitted(ctx, actor, questID, now) {
			return Completion{}, err
		}
		s.logger.Warn("quest transition committed despite timeout",
			"actor_id", actor, "quest_id", questID, "at", now, "error", err)
	}

	// The transition is committed; finish even if the caller goes away.
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.commitTimeout)
	defer cancel()
	q.Status = core.StatusCompleted
	q.CompletedAt = &now
	return s.issueReward(cctx, actor, q, now)
}

// maxProgressAttempts bounds recomputation when the profile changes between
// read and write, e.g. two quests completed at once by the same actor.
const maxProgressAttempts = 3

type progress struct {
	skill  reward.SkillResult
	reward reward.Breakdown
	story  core.StoryState
	delta  story.Delta
	update core.ProgressUpdate
}

func (s *QuestService) issueReward(ctx context.Context, actor core.ActorID, q core.Quest, now time.Time) (Completion, error) {
	log := s.logger.With("actor_id", actor, "quest_id", q.ID, "at", now)
	gold := reward.GoldFor(q.Difficulty)

	var (
		p       core.Profile
		pr      progress
		saveErr error
	)
	for attempt := 1; ; attempt++ {
		var err error
		p, err = s.loadProfile(ctx, actor)
		if err != nil {
			log.Error("load profile after quest completion", "error", err)
			s.creditGold(ctx, log, actor, q, gold)
			return Completion{}, core.Wrap(core.KindInternal, "failed to record quest rewards", err)
		}
		pr = s.computeProgress(ctx, log, actor, q, p, now)

		sctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
		saveErr = s.store.SaveProgress(sctx, actor, pr.update)
		cancel()
		if !errors.Is(saveErr, core.ErrProgressConflict) || attempt == maxProgressAttempts {
			break
		}
		log.Warn("profile changed during quest completion, recomputing", "attempt", attempt)
	}
	u, b := pr.update, pr.reward
	if saveErr != nil {
		log.Error("save progress after quest completion",
			"xp", b.NewXP, "level", b.NewLevel, "streak", u.CurrentStreak, "error", saveErr)
	}

	balance, credited := s.creditGold(ctx, log, actor, q, gold)
	if saveErr != nil {
		return Completion{}, core.Wrap(core.KindInternal, "failed to record quest rewards", saveErr)
	}
	if !credited {
		balance = p.Gold + gold
	}

	updated := u.Apply(p)
	updated.Gold = balance

	thread := pr.story.CurrentThread
	if pr.delta.StoryCompleted {
		thread = pr.delta.CompletedThread
	}
	ev := core.NewQuestCompleted(actor, q.ID, b.TotalXP, b.NewXP, gold, b.OldLevel, b.NewLevel, thread, pr.delta.StoryCompleted)
	s.publishWithRules(ctx, ev)

	return Completion{
		Quest:        q,
		Reward:       b,
		Profile:      updated,
		Story:        StoryOutcome{State: pr.story, Delta: pr.delta},
		Skills:       pr.skill,
		GoldCredited: credited,
	}, nil
}

// computeProgress derives the reward, story and streak from profile p.
// Skill collaborator failures degrade to an unboosted reward.
func (s *QuestService) computeProgress(ctx context.Context, log *slog.Logger, actor core.ActorID, q core.Quest, p core.Profile, now time.Time) progress {
	skill, err := s.skills.ComputeSkillBonus(ctx, actor, q.Difficulty, q.XPValue, p.CurrentStreak)
	if err != nil {
		log.Warn("skill effects unavailable, using base xp", "error", err)
		skill = reward.Unboosted(q.XPValue)
	}
	special, err := s.skills.IsSpecialDayActive(ctx, actor)
	if err != nil {
		log.Warn("special day lookup failed", "error", err)
		special = false
	}

	b := reward.Compute(q, p, skill, special, now)
	st, delta := s.story.Advance(p.Story, q, now)
	streak, longest := nextStreak(p, now)
	return progress{
		skill:  skill,
		reward: b,
		story:  st,
		delta:  delta,
		update: core.ProgressUpdate{
			Version:                p.Version,
			XP:                     b.NewXP,
			Level:                  b.NewLevel,
			CurrentStreak:          streak,
			LongestStreak:          longest,
			LastQuestAt:            now,
			SkillPoints:            p.SkillPoints + b.SkillPointsEarned,
			TotalSkillPointsEarned: p.TotalSkillPointsEarned + b.SkillPointsEarned,
			Story:                  st,
		},
	}
}

// creditGold awards gold through the ledger. Failures are logged and swallowed.
func (s *QuestService) creditGold(ctx context.Context, log *slog.Logger, actor core.ActorID, q core.Quest, gold int64) (int64, bool) {
	lctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	res, err := s.store.AdjustCurrency(lctx, core.Adjustment{
		ActorID:     actor,
		Amount:      gold,
		Type:        core.TxReward,
		ReferenceID: q.ID,
		Metadata:    map[string]any{"source": "quest_completion", "difficulty": string(q.Difficulty)},
	})
	if err != nil {
		log.Error("gold credit failed", "gold", gold, "error", err)
		return 0, false
	}
	return res.NewBalance, true
}

// CreateQuest rewrites text as a quest through the transformer and stores it.
func (s *QuestService) CreateQuest(ctx context.Context, actor core.ActorID, text string, difficulty core.Difficulty) (core.Quest, error) {
	actor, err := s.actor(actor)
	if err != nil {
		return core.Quest{}, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return core.Quest{}, core.E(core.KindInvalidInput, "text is required")
	}
	if utf8.RuneCountInString(text) > maxQuestTextRunes {
		return core.Quest{}, core.E(core.KindInvalidInput, fmt.Sprintf("text must be at most %d characters", maxQuestTextRunes))
	}
	d, err := core.ParseDifficulty(string(difficulty))
	if err != nil {
		return core.Quest{}, core.Wrap(core.KindInvalidInput, err.Error(), err)
	}
	if err := s.checkLimit(ctx, actor, ratelimit.EndpointQuestTransform); err != nil {
		return core.Quest{}, err
	}
	p, err := s.loadProfile(ctx, actor)
	if err != nil {
		return core.Quest{}, err
	}

	result := transform.QuestResult{Quest: text}
	if s.transformer != nil {
		raw, err := s.transformer.Transform(ctx, transform.QuestPrompt(text, d, p.Archetype, p.Story))
		if err != nil {
			s.logger.Warn("quest transform failed", "actor_id", actor, "error", err)
			return core.Quest{}, core.Wrap(core.KindDownstream, core.ErrTransformFailed.Message, err)
		}
		result = transform.ParseQuestResult(raw, text)
	}

	q := core.Quest{
		ID:              s.newID(),
		ActorID:         actor,
		OriginalText:    text,
		Text:            result.Quest,
		Difficulty:      d,
		XPValue:         core.DefaultXPValue(d),
		Status:          core.StatusActive,
		CreatedAt:       s.now().UTC(),
		ThreadTag:       result.Thread,
		NarrativeImpact: result.Impact,
	}
	sctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	if err := s.store.CreateQuest(sctx, q); err != nil {
		return core.Quest{}, storeError("create quest", err)
	}
	s.bus.Publish(ctx, core.NewQuestCreated(actor, q))
	return q, nil
}

// TransformJournal retells a journal entry as narrative prose. Nothing is stored.
func (s *QuestService) TransformJournal(ctx context.Context, actor core.ActorID, entry string) (string, error) {
	actor, err := s.actor(actor)
	if err != nil {
		return "", err
	}
	entry = strings.TrimSpace(entry)
	if entry == "" {
		return "", core.E(core.KindInvalidInput, "entry is required")
	}
	if utf8.RuneCountInString(entry) > maxJournalRunes {
		return "", core.E(core.KindInvalidInput, fmt.Sprintf("entry must be at most %d characters", maxJournalRunes))
	}
	if err := s.checkLimit(ctx, actor, ratelimit.EndpointJournalTransform); err != nil {
		return "", err
	}
	if s.transformer == nil {
		return entry, nil
	}
	p, err := s.loadProfile(ctx, actor)
	if err != nil {
		return "", err
	}
	out, err := s.transformer.Transform(ctx, transform.JournalPrompt(entry, p.Archetype))
	if err != nil {
		s.logger.Warn("journal transform failed", "actor_id", actor, "error", err)
		return "", core.Wrap(core.KindDownstream, core.ErrTransformFailed.Message, err)
	}
	return out, nil
}

// WeeklySummary narrates the quests completed over the last seven days.
type WeeklySummary struct {
	Summary         string    `json:"summary"`
	QuestsCompleted int       `json:"quests_completed"`
	Since           time.Time `json:"since"`
}

func (s *QuestService) WeeklySummary(ctx context.Context, actor core.ActorID) (WeeklySummary, error) {
	actor, err := s.actor(actor)
	if err != nil {
		return WeeklySummary{}, err
	}
	if err := s.checkLimit(ctx, actor, ratelimit.EndpointWeeklySummary); err != nil {
		return WeeklySummary{}, err
	}
	since := s.now().UTC().Add(-weeklySummaryWindow)
	quests, err := s.ListQuests(ctx, actor, core.QuestFilter{Status: core.StatusCompleted, CompletedSince: since})
	if err != nil {
		return WeeklySummary{}, err
	}
	out := WeeklySummary{QuestsCompleted: len(quests), Since: since}
	if len(quests) == 0 {
		out.Summary = "A quiet week. Your legend awaits its next chapter."
		return out, nil
	}
	if s.transformer == nil {
		out.Summary = fmt.Sprintf("You completed %d quests this week.", len(quests))
		return out, nil
	}
	p, err := s.loadProfile(ctx, actor)
	if err != nil {
		return WeeklySummary{}, err
	}
	text, err := s.transformer.Transform(ctx, transform.WeeklySummaryPrompt(quests, p.Story))
	if err != nil {
		s.logger.Warn("weekly summary transform failed", "actor_id", actor, "error", err)
		return WeeklySummary{}, core.Wrap(core.KindDownstream, core.ErrTransformFailed.Message, err)
	}
	out.Summary = text
	return out, nil
}

// Purchase is the result of buying an item.
type Purchase struct {
	Item    core.Item    `json:"item"`
	Balance int64        `json:"balance"`
	Profile core.Profile `json:"profile"`
}

// PurchaseItem debits the item price and equips it. If equipping fails the
// price is refunded.
func (s *QuestService) PurchaseItem(ctx context.Context, actor core.ActorID, itemID string) (Purchase, error) {
	actor, err := s.actor(actor)
	if err != nil {
		return Purchase{}, err
	}
	itemID = strings.TrimSpace(itemID)
	if itemID == "" {
		return Purchase{}, core.E(core.KindInvalidInput, "item_id is required")
	}
	sctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	item, err := s.store.GetItem(sctx, itemID)
	cancel()
	if err != nil {
		return Purchase{}, storeError("get item", err)
	}

	sctx, cancel = context.WithTimeout(ctx, s.storeTimeout)
	res, err := s.store.AdjustCurrency(sctx, core.Adjustment{
		ActorID: actor, Amount: -item.Price, Type: core.TxPurchase, ReferenceID: item.ID,
		Metadata: map[string]any{"slot": string(item.Slot)},
	})
	cancel()
	if err != nil {
		return Purchase{}, storeError("debit purchase", err)
	}

	cctx, ccancel := context.WithTimeout(context.WithoutCancel(ctx), s.commitTimeout)
	defer ccancel()
	sctx, cancel = context.WithTimeout(cctx, s.storeTimeout)
	err = s.store.EquipItem(sctx, actor, item)
	cancel()
	if err != nil {
		s.logger.Error("equip purchased item", "actor_id", actor, "item_id", item.ID, "error", err)
		rctx, rcancel := context.WithTimeout(cctx, s.storeTimeout)
		defer rcancel()
		if _, rerr := s.store.AdjustCurrency(rctx, core.Adjustment{
			ActorID: actor, Amount: item.Price, Type: core.TxRefund, ReferenceID: item.ID,
		}); rerr != nil {
			s.logger.Error("refund failed purchase", "actor_id", actor, "item_id", item.ID, "error", rerr)
		}
		return Purchase{}, core.Wrap(core.KindInternal, "failed to equip item", err)
	}

	s.bus.Publish(cctx, core.NewItemPurchased(actor, item))
	p, err := s.loadProfile(cctx, actor)
	if err != nil {
		return Purchase{}, err
	}
	return Purchase{Item: item, Balance: res.NewBalance, Profile: p}, nil
}

// UnlockSkill spends skill points on a skill from the catalog.
func (s *QuestService) UnlockSkill(ctx context.Context, actor core.ActorID, skillID string) (core.Profile, error) {
	actor, err := s.actor(actor)
	if err != nil {
		return core.Profile{}, err
	}
	sk, err := skills.Lookup(strings.TrimSpace(skillID))
	if err != nil {
		return core.Profile{}, err
	}
	sctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	err = s.store.UnlockSkill(sctx, actor, sk.ID, sk.Cost)
	cancel()
	if err != nil {
		return core.Profile{}, storeError("unlock skill", err)
	}
	s.bus.Publish(ctx, core.NewSkillUnlocked(actor, sk.ID))
	return s.loadProfile(ctx, actor)
}

func (s *QuestService) GetProfile(ctx context.Context, actor core.ActorID) (core.Profile, error) {
	actor, err := s.actor(actor)
	if err != nil {
		return core.Profile{}, err
	}
	return s.loadProfile(ctx, actor)
}

func (s *QuestService) ListQuests(ctx context.Context, actor core.ActorID, f core.QuestFilter) ([]core.Quest, error) {
	actor, err := s.actor(actor)
	if err != nil {
		return nil, err
	}
	sctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	qs, err := s.store.ListQuests(sctx, actor, f)
	if err != nil {
		return nil, storeError("list quests", err)
	}
	return qs, nil
}

func (s *QuestService) Transactions(ctx context.Context, actor core.ActorID, limit int) ([]core.CurrencyTransaction, error) {
	actor, err := s.actor(actor)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	sctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	txs, err := s.store.Transactions(sctx, actor, limit)
	if err != nil {
		return nil, storeError("list transactions", err)
	}
	return txs, nil
}

func (s *QuestService) ListItems(ctx context.Context) ([]core.Item, error) {
	sctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	items, err := s.store.ListItems(sctx)
	if err != nil {
		return nil, storeError("list items", err)
	}
	return items, nil
}

func (s *QuestService) actor(a core.ActorID) (core.ActorID, error) {
	n, err := core.NormalizeActorID(a)
	if err != nil {
		return "", core.Wrap(core.KindUnauthorized, core.ErrUnauthorized.Message, err)
	}
	return n, nil
}

func (s *QuestService) checkLimit(ctx context.Context, actor core.ActorID, endpoint string) error {
	if s.limiter == nil {
		return nil
	}
	res, err := s.limiter.Check(ctx, actor, endpoint)
	if err != nil {
		s.logger.Error("rate limiter misconfigured", "endpoint", endpoint, "error", err)
		return core.Wrap(core.KindInternal, "rate limiter misconfigured", err)
	}
	if !res.Allowed {
		s.bus.Publish(ctx, core.NewRateLimited(actor, endpoint, res.Reason))
		return res.Err()
	}
	return nil
}

func (s *QuestService) getQuest(ctx context.Context, actor core.ActorID, id string) (core.Quest, error) {
	sctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	q, err := s.store.GetQuest(sctx, actor, id)
	if err != nil {
		return core.Quest{}, storeError("get quest", err)
	}
	return q, nil
}

func (s *QuestService) completeQuest(ctx context.Context, actor core.ActorID, id string, at time.Time) error {
	sctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	if err := s.store.CompleteQuest(sctx, actor, id, at); err != nil {
		return storeError("complete quest", err)
	}
	return nil
}

// transitionCommitted re-reads the quest after a timed-out compare-and-set.
// The update may have committed with only the reply lost; the quest then
// carries this request's completion time.
func (s *QuestService) transitionCommitted(ctx context.Context, actor core.ActorID, id string, at time.Time) bool {
	q, err := s.getQuest(context.WithoutCancel(ctx), actor, id)
	if err != nil {
		s.logger.Warn("re-check after quest transition timeout failed",
			"actor_id", actor, "quest_id", id, "at", at, "error", err)
		return false
	}
	// postgres keeps microseconds
	return q.Completed() && q.CompletedAt != nil &&
		q.CompletedAt.Truncate(time.Microsecond).Equal(at.Truncate(time.Microsecond))
}

func isTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}

func (s *QuestService) loadProfile(ctx context.Context, actor core.ActorID) (core.Profile, error) {
	sctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	p, err := s.store.GetProfile(sctx, actor)
	if err != nil {
		return core.Profile{}, storeError("get profile", err)
	}
	return p, nil
}

func (s *QuestService) publishWithRules(ctx context.Context, ev core.Event) {
	s.bus.Publish(ctx, ev)
	for _, d := range s.rules.Evaluate(ctx, ev) {
		s.bus.Publish(ctx, d)
	}
}

// storeError keeps classified errors and maps timeouts to a retryable kind.
func storeError(op string, err error) error {
	var ce *core.Error
	if errors.As(err, &ce) {
		return err
	}
	if isTimeout(err) {
		return core.Wrap(core.KindDownstream, "storage timed out, please retry", fmt.Errorf("%s: %w", op, err))
	}
	return core.Wrap(core.KindInternal, "internal server error", fmt.Errorf("%s: %w", op, err))
}

type simpleRuleEngine struct{ rules []core.Rule }

func (s *simpleRuleEngine) Evaluate(ctx context.Context, trigger core.Event) []core.Event {
	var out []core.Event
	for _, r := range s.rules {
		out = append(out, r.Evaluate(ctx, trigger)...)
	}
	return out
}
