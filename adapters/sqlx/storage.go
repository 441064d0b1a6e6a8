// Package sqlx implements storage on Postgres. The quest transition, skill
// unlock and quota admission are single conditional statements; ledger
// adjustments go through the adjust_currency stored function in schema.sql.
package sqlx

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"habitquest/core"
)

// Driver names a database/sql driver.
type Driver string

const DriverPostgres Driver = "postgres"

//go:embed schema.sql
var Schema string

// Config holds SQL connection configuration.
type Config struct {
	Driver          Driver        `json:"driver" env:"HABITQUEST_STORAGE_SQL_DRIVER"`
	DSN             string        `json:"dsn" env:"HABITQUEST_STORAGE_SQL_DSN" secret:"true"`
	MaxOpenConns    int           `json:"max_open_conns" env:"HABITQUEST_STORAGE_SQL_MAX_OPEN_CONNS"`
	MaxIdleConns    int           `json:"max_idle_conns" env:"HABITQUEST_STORAGE_SQL_MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" env:"HABITQUEST_STORAGE_SQL_CONN_MAX_LIFETIME"`
	ConnectTimeout  time.Duration `json:"connect_timeout" env:"HABITQUEST_STORAGE_SQL_CONNECT_TIMEOUT"`
	ApplySchema     bool          `json:"apply_schema" env:"HABITQUEST_STORAGE_SQL_APPLY_SCHEMA"`
}

// DefaultConfig returns defaults for the driver.
func DefaultConfig(driver Driver) Config {
	return Config{
		Driver:          driver,
		DSN:             "postgres://localhost:5432/habitquest?sslmode=disable",
		MaxOpenConns:    20,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		ConnectTimeout:  5 * time.Second,
	}
}

// Store implements every storage interface on one *sqlx.DB.
type Store struct {
	db     *sqlx.DB
	driver Driver
}

// New opens and pings the database.
func New(cfg Config) (*Store, error) {
	if cfg.Driver != DriverPostgres {
		return nil, fmt.Errorf("unsupported sql driver %q", cfg.Driver)
	}
	db, err := sqlx.Open(string(cfg.Driver), cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	s := &Store{db: db, driver: cfg.Driver}
	if cfg.ApplySchema {
		if err := s.ApplySchema(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return s, nil
}

// NewWithDB wraps an existing connection (useful for testing).
func NewWithDB(db *sqlx.DB, driver Driver) *Store {
	return &Store{db: db, driver: driver}
}

func (s *Store) Close() error { return s.db.Close() }

// ApplySchema executes the embedded reference schema. It is idempotent.
func (s *Store) ApplySchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// SeedItems upserts catalog items.
func (s *Store) SeedItems(ctx context.Context, items []core.Item) error {
	for _, it := range items {
		if _, err := s.db.ExecContext(ctx, `INSERT INTO items (id, name, slot, xp_multiplier, price)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, slot = EXCLUDED.slot,
				xp_multiplier = EXCLUDED.xp_multiplier, price = EXCLUDED.price`,
			it.ID, it.Name, string(it.Slot), it.XPMultiplier, it.Price); err != nil {
			return fmt.Errorf("seed item %s: %w", it.ID, err)
		}
	}
	return nil
}

const questColumns = `id, actor_id, original_text, text, difficulty, xp_value, status, completed_at, created_at, story_thread, narrative_impact`

type questRow struct {
	ID              string       `db:"id"`
	ActorID         string       `db:"actor_id"`
	OriginalText    string       `db:"original_text"`
	Text            string       `db:"text"`
	Difficulty      string       `db:"difficulty"`
	XPValue         int64        `db:"xp_value"`
	Status          string       `db:"status"`
	CompletedAt     sql.NullTime `db:"completed_at"`
	CreatedAt       time.Time    `db:"created_at"`
	StoryThread     string       `db:"story_thread"`
	NarrativeImpact string       `db:"narrative_impact"`
}

func (r questRow) quest() core.Quest {
	q := core.Quest{
		ID:              r.ID,
		ActorID:         core.ActorID(r.ActorID),
		OriginalText:    r.OriginalText,
		Text:            r.Text,
		Difficulty:      core.Difficulty(r.Difficulty),
		XPValue:         r.XPValue,
		Status:          core.QuestStatus(r.Status),
		CreatedAt:       r.CreatedAt.UTC(),
		ThreadTag:       r.StoryThread,
		NarrativeImpact: r.NarrativeImpact,
	}
	if r.CompletedAt.Valid {
		t := r.CompletedAt.Time.UTC()
		q.CompletedAt = &t
	}
	return q
}

func (s *Store) CreateQuest(ctx context.Context, q core.Quest) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO quests (`+questColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		q.ID, string(q.ActorID), q.OriginalText, q.Text, string(q.Difficulty), q.XPValue,
		string(q.Status), q.CompletedAt, q.CreatedAt, q.ThreadTag, q.NarrativeImpact)
	if err != nil {
		return fmt.Errorf("create quest: %w", err)
	}
	return nil
}

func (s *Store) GetQuest(ctx context.Context, actor core.ActorID, id string) (core.Quest, error) {
	var row questRow
	err := s.db.GetContext(ctx, &row, `SELECT `+questColumns+` FROM quests WHERE id = $1 AND actor_id = $2`, id, string(actor))
	if errors.Is(err, sql.ErrNoRows) {
		return core.Quest{}, core.ErrQuestNotFound
	}
	if err != nil {
		return core.Quest{}, fmt.Errorf("get quest: %w", err)
	}
	return row.quest(), nil
}

func (s *Store) ListQuests(ctx context.Context, actor core.ActorID, f core.QuestFilter) ([]core.Quest, error) {
	where := []string{"actor_id = $1"}
	args := []any{string(actor)}
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if !f.CompletedSince.IsZero() {
		args = append(args, f.CompletedSince)
		where = append(where, fmt.Sprintf("completed_at >= $%d", len(args)))
	}
	query := `SELECT ` + questColumns + ` FROM quests WHERE ` + strings.Join(where, " AND ") + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	var rows []questRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list quests: %w", err)
	}
	out := make([]core.Quest, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.quest())
	}
	return out, nil
}

// CompleteQuest is a compare-and-set on status. When no row changes, a second
// read tells a missing quest apart from one that is already completed.
func (s *Store) CompleteQuest(ctx context.Context, actor core.ActorID, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE quests SET status = 'completed', completed_at = $3
		WHERE id = $1 AND actor_id = $2 AND status = 'active'`, id, string(actor), at.UTC())
	if err != nil {
		return fmt.Errorf("complete quest: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("complete quest: %w", err)
	}
	if n == 1 {
		return nil
	}
	var exists bool
	if err := s.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM quests WHERE id = $1 AND actor_id = $2)`, id, string(actor)); err != nil {
		return fmt.Errorf("complete quest: %w", err)
	}
	if !exists {
		return core.ErrQuestNotFound
	}
	return core.ErrAlreadyCompleted
}

type profileRow struct {
	ActorID                string         `db:"actor_id"`
	XP                     int64          `db:"xp"`
	Level                  int64          `db:"level"`
	Gold                   int64          `db:"gold"`
	CurrentStreak          int64          `db:"current_streak"`
	LongestStreak          int64          `db:"longest_streak"`
	LastQuestAt            sql.NullTime   `db:"last_quest_at"`
	SkillPoints            int64          `db:"skill_points"`
	TotalSkillPointsEarned int64          `db:"total_skill_points_earned"`
	Premium                bool           `db:"is_premium"`
	Archetype              string         `db:"archetype"`
	UnlockedSkills         pq.StringArray `db:"unlocked_skills"`
	Story                  []byte         `db:"story"`
	Version                int64          `db:"version"`

	WeaponID         sql.NullString  `db:"weapon_id"`
	WeaponName       sql.NullString  `db:"weapon_name"`
	WeaponMultiplier sql.NullFloat64 `db:"weapon_multiplier"`
	WeaponPrice      sql.NullInt64   `db:"weapon_price"`

	ArmorID         sql.NullString  `db:"armor_id"`
	ArmorName       sql.NullString  `db:"armor_name"`
	ArmorMultiplier sql.NullFloat64 `db:"armor_multiplier"`
	ArmorPrice      sql.NullInt64   `db:"armor_price"`

	AccessoryID         sql.NullString  `db:"accessory_id"`
	AccessoryName       sql.NullString  `db:"accessory_name"`
	AccessoryMultiplier sql.NullFloat64 `db:"accessory_multiplier"`
	AccessoryPrice      sql.NullInt64   `db:"accessory_price"`
}

const profileQuery = `SELECT p.actor_id, p.xp, p.level, p.gold, p.current_streak, p.longest_streak,
	p.last_quest_at, p.skill_points, p.total_skill_points_earned, p.is_premium, p.archetype,
	p.unlocked_skills, p.story, p.version,
	w.id AS weapon_id, w.name AS weapon_name, w.xp_multiplier AS weapon_multiplier, w.price AS weapon_price,
	a.id AS armor_id, a.name AS armor_name, a.xp_multiplier AS armor_multiplier, a.price AS armor_price,
	c.id AS accessory_id, c.name AS accessory_name, c.xp_multiplier AS accessory_multiplier, c.price AS accessory_price
FROM profiles p
LEFT JOIN items w ON w.id = p.equipped_weapon
LEFT JOIN items a ON a.id = p.equipped_armor
LEFT JOIN items c ON c.id = p.equipped_accessory
WHERE p.actor_id = $1`

func joinedItem(slot core.Slot, id, name sql.NullString, mult sql.NullFloat64, price sql.NullInt64) *core.Item {
	if !id.Valid {
		return nil
	}
	return &core.Item{ID: id.String, Name: name.String, Slot: slot, XPMultiplier: mult.Float64, Price: price.Int64}
}

func (r profileRow) profile() (core.Profile, error) {
	p := core.NewProfile(core.ActorID(r.ActorID))
	p.XP = r.XP
	p.Level = r.Level
	p.Gold = r.Gold
	p.CurrentStreak = r.CurrentStreak
	p.LongestStreak = r.LongestStreak
	if r.LastQuestAt.Valid {
		t := r.LastQuestAt.Time.UTC()
		p.LastQuestAt = &t
	}
	p.SkillPoints = r.SkillPoints
	p.TotalSkillPointsEarned = r.TotalSkillPointsEarned
	p.Version = r.Version
	p.Premium = r.Premium
	p.Archetype = r.Archetype
	if r.UnlockedSkills != nil {
		p.UnlockedSkills = []string(r.UnlockedSkills)
	}
	if len(r.Story) > 0 {
		if err := json.Unmarshal(r.Story, &p.Story); err != nil {
			return core.Profile{}, fmt.Errorf("decode story: %w", err)
		}
		p.Story = normalizeStory(p.Story)
	}
	p.Equipment = core.Equipment{
		Weapon:    joinedItem(core.SlotWeapon, r.WeaponID, r.WeaponName, r.WeaponMultiplier, r.WeaponPrice),
		Armor:     joinedItem(core.SlotArmor, r.ArmorID, r.ArmorName, r.ArmorMultiplier, r.ArmorPrice),
		Accessory: joinedItem(core.SlotAccessory, r.AccessoryID, r.AccessoryName, r.AccessoryMultiplier, r.AccessoryPrice),
	}
	return p, nil
}

// normalizeStory replaces null lists from an empty '{}' column with empty ones.
func normalizeStory(s core.StoryState) core.StoryState {
	if s.RecentEvents == nil {
		s.RecentEvents = []string{}
	}
	if s.NPCs == nil {
		s.NPCs = []string{}
	}
	if s.Conflicts == nil {
		s.Conflicts = []string{}
	}
	if s.CompletedThreads == nil {
		s.CompletedThreads = []core.CompletedThread{}
	}
	return s
}

// GetProfile loads the profile with its equipped items, creating it on first access.
func (s *Store) GetProfile(ctx context.Context, actor core.ActorID) (core.Profile, error) {
	if _, err := s.db.ExecContext(ctx, `INSERT INTO profiles (actor_id) VALUES ($1) ON CONFLICT (actor_id) DO NOTHING`, string(actor)); err != nil {
		return core.Profile{}, fmt.Errorf("ensure profile: %w", err)
	}
	var row profileRow
	if err := s.db.GetContext(ctx, &row, profileQuery, string(actor)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Profile{}, core.ErrProfileNotFound
		}
		return core.Profile{}, fmt.Errorf("get profile: %w", err)
	}
	return row.profile()
}

// SaveProgress writes every progression column in one statement, guarded by
// the version the update was computed from. Gold is not touched.
func (s *Store) SaveProgress(ctx context.Context, actor core.ActorID, u core.ProgressUpdate) error {
	story, err := json.Marshal(u.Story)
	if err != nil {
		return fmt.Errorf("encode story: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE profiles SET xp = $2, level = $3, current_streak = $4,
		longest_streak = $5, last_quest_at = $6, skill_points = $7, total_skill_points_earned = $8, story = $9,
		version = version + 1
		WHERE actor_id = $1 AND version = $10`,
		string(actor), u.XP, u.Level, u.CurrentStreak, u.LongestStreak, u.LastQuestAt.UTC(),
		u.SkillPoints, u.TotalSkillPointsEarned, story, u.Version)
	if err != nil {
		return fmt.Errorf("save progress: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("save progress: %w", err)
	}
	if n > 0 {
		return nil
	}
	var exists bool
	if err := s.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM profiles WHERE actor_id = $1)`, string(actor)); err != nil {
		return fmt.Errorf("save progress: %w", err)
	}
	if exists {
		return core.ErrProgressConflict
	}
	return core.ErrProfileNotFound
}

func (s *Store) IsPremium(ctx context.Context, actor core.ActorID) (bool, error) {
	var premium bool
	err := s.db.GetContext(ctx, &premium, `SELECT is_premium FROM profiles WHERE actor_id = $1`, string(actor))
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("is premium: %w", err)
	}
	return premium, nil
}

type itemRow struct {
	ID           string  `db:"id"`
	Name         string  `db:"name"`
	Slot         string  `db:"slot"`
	XPMultiplier float64 `db:"xp_multiplier"`
	Price        int64   `db:"price"`
}

func (r itemRow) item() core.Item {
	return core.Item{ID: r.ID, Name: r.Name, Slot: core.Slot(r.Slot), XPMultiplier: r.XPMultiplier, Price: r.Price}
}

func (s *Store) ListItems(ctx context.Context) ([]core.Item, error) {
	var rows []itemRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT id, name, slot, xp_multiplier, price FROM items ORDER BY price, id`); err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	out := make([]core.Item, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.item())
	}
	return out, nil
}

func (s *Store) GetItem(ctx context.Context, id string) (core.Item, error) {
	var row itemRow
	err := s.db.GetContext(ctx, &row, `SELECT id, name, slot, xp_multiplier, price FROM items WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Item{}, core.ErrItemNotFound
	}
	if err != nil {
		return core.Item{}, fmt.Errorf("get item: %w", err)
	}
	return row.item(), nil
}

var slotColumns = map[core.Slot]string{
	core.SlotWeapon:    "equipped_weapon",
	core.SlotArmor:     "equipped_armor",
	core.SlotAccessory: "equipped_accessory",
}

func (s *Store) EquipItem(ctx context.Context, actor core.ActorID, item core.Item) error {
	col, ok := slotColumns[item.Slot]
	if !ok {
		return core.E(core.KindInvalidInput, fmt.Sprintf("unknown slot %q", item.Slot))
	}
	res, err := s.db.ExecContext(ctx, `UPDATE profiles SET `+col+` = $2 WHERE actor_id = $1`, string(actor), item.ID)
	if err != nil {
		return fmt.Errorf("equip item: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return core.ErrProfileNotFound
	}
	return nil
}

// AdjustCurrency calls adjust_currency, which enforces the balance floor and
// journals the change in one transaction.
func (s *Store) AdjustCurrency(ctx context.Context, adj core.Adjustment) (core.AdjustResult, error) {
	if adj.Amount == 0 {
		return core.AdjustResult{}, core.ErrZeroAdjustment
	}
	var meta []byte
	if len(adj.Metadata) > 0 {
		b, err := json.Marshal(adj.Metadata)
		if err != nil {
			return core.AdjustResult{}, fmt.Errorf("encode metadata: %w", err)
		}
		meta = b
	}
	var ref sql.NullString
	if adj.ReferenceID != "" {
		ref = sql.NullString{String: adj.ReferenceID, Valid: true}
	}
	var out struct {
		Success       bool           `db:"success"`
		NewBalance    int64          `db:"new_balance"`
		TransactionID sql.NullString `db:"transaction_id"`
	}
	err := s.db.GetContext(ctx, &out, `SELECT success, new_balance, transaction_id FROM adjust_currency($1, $2, $3, $4, $5, $6)`,
		string(adj.ActorID), adj.Amount, string(adj.Type), ref, meta, uuid.NewString())
	if err != nil {
		return core.AdjustResult{}, fmt.Errorf("adjust currency: %w", err)
	}
	if !out.Success {
		return core.AdjustResult{}, core.ErrInsufficientFunds
	}
	return core.AdjustResult{NewBalance: out.NewBalance, TransactionID: out.TransactionID.String}, nil
}

type txRow struct {
	ID           string         `db:"id"`
	ActorID      string         `db:"actor_id"`
	Amount       int64          `db:"amount"`
	Type         string         `db:"type"`
	ReferenceID  sql.NullString `db:"reference_id"`
	Metadata     []byte         `db:"metadata"`
	BalanceAfter int64          `db:"balance_after"`
	CreatedAt    time.Time      `db:"created_at"`
}

func (s *Store) Transactions(ctx context.Context, actor core.ActorID, limit int) ([]core.CurrencyTransaction, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []txRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT id, actor_id, amount, type, reference_id, metadata, balance_after, created_at
		FROM currency_transactions WHERE actor_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`, string(actor), limit); err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	out := make([]core.CurrencyTransaction, 0, len(rows))
	for _, r := range rows {
		tx := core.CurrencyTransaction{
			ID:           r.ID,
			ActorID:      core.ActorID(r.ActorID),
			Amount:       r.Amount,
			Type:         core.TxType(r.Type),
			ReferenceID:  r.ReferenceID.String,
			BalanceAfter: r.BalanceAfter,
			CreatedAt:    r.CreatedAt.UTC(),
		}
		if len(r.Metadata) > 0 {
			if err := json.Unmarshal(r.Metadata, &tx.Metadata); err != nil {
				return nil, fmt.Errorf("decode transaction metadata: %w", err)
			}
		}
		out = append(out, tx)
	}
	return out, nil
}

// UnlockSkill spends points and records the skill in one conditional update.
func (s *Store) UnlockSkill(ctx context.Context, actor core.ActorID, skillID string, cost int64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE profiles
		SET skill_points = skill_points - $3, unlocked_skills = array_append(unlocked_skills, $2),
			version = version + 1
		WHERE actor_id = $1 AND skill_points >= $3 AND NOT ($2 = ANY (unlocked_skills))`,
		string(actor), skillID, cost)
	if err != nil {
		return fmt.Errorf("unlock skill: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("unlock skill: %w", err)
	}
	if n == 0 {
		return core.ErrSkillUnavailable
	}
	return nil
}

// AdmitQuota calls admit_quota, which increments the window counter only below the limit.
func (s *Store) AdmitQuota(ctx context.Context, req core.QuotaRequest) (core.QuotaResult, error) {
	if req.Window <= 0 {
		return core.QuotaResult{}, errors.New("quota window must be positive")
	}
	res := core.QuotaResult{Limit: req.Limit, ResetAt: req.ResetAt()}
	if req.Limit <= 0 {
		return res, nil
	}
	var out struct {
		Allowed bool  `db:"allowed"`
		Current int64 `db:"current_count"`
	}
	if err := s.db.GetContext(ctx, &out, `SELECT allowed, current_count FROM admit_quota($1, $2, $3, $4)`,
		string(req.ActorID), req.Key, req.Limit, req.WindowStart()); err != nil {
		return core.QuotaResult{}, fmt.Errorf("admit quota: %w", err)
	}
	res.Allowed = out.Allowed
	res.Current = out.Current
	return res, nil
}
