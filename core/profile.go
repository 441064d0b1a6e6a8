package core

import (
	"errors"
	"time"
)

// Slot is an equipment slot on a profile.
type Slot string

const (
	SlotWeapon    Slot = "weapon"
	SlotArmor     Slot = "armor"
	SlotAccessory Slot = "accessory"
)

// ParseSlot validates a slot name.
func ParseSlot(s string) (Slot, error) {
	switch Slot(s) {
	case SlotWeapon, SlotArmor, SlotAccessory:
		return Slot(s), nil
	}
	return "", errors.New("slot must be one of: weapon, armor, accessory")
}

// Item is a catalog entry that can be equipped.
type Item struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Slot         Slot    `json:"slot"`
	XPMultiplier float64 `json:"xp_multiplier"`
	Price        int64   `json:"price"`
}

// Equipment holds the items equipped in each slot. Nil means empty.
type Equipment struct {
	Weapon    *Item `json:"weapon,omitempty"`
	Armor     *Item `json:"armor,omitempty"`
	Accessory *Item `json:"accessory,omitempty"`
}

// Slots returns the equipped items in slot order, skipping empty slots.
func (e Equipment) Slots() []Item {
	var out []Item
	for _, it := range []*Item{e.Weapon, e.Armor, e.Accessory} {
		if it != nil {
			out = append(out, *it)
		}
	}
	return out
}

// With returns a copy of e with item placed in its slot.
func (e Equipment) With(item Item) Equipment {
	it := item
	switch item.Slot {
	case SlotWeapon:
		e.Weapon = &it
	case SlotArmor:
		e.Armor = &it
	case SlotAccessory:
		e.Accessory = &it
	}
	return e
}

// Profile is the per-actor progression row.
// Gold mirrors the ledger balance and is only changed through the ledger.
type Profile struct {
	ActorID                ActorID    `json:"actor_id"`
	XP                     int64      `json:"xp"`
	Level                  int64      `json:"level"`
	Gold                   int64      `json:"gold"`
	CurrentStreak          int64      `json:"current_streak"`
	LongestStreak          int64      `json:"longest_streak"`
	LastQuestAt            *time.Time `json:"last_quest_at,omitempty"`
	SkillPoints            int64      `json:"skill_points"`
	TotalSkillPointsEarned int64      `json:"total_skill_points_earned"`
	Premium                bool       `json:"is_premium"`
	Archetype              string     `json:"archetype,omitempty"`
	UnlockedSkills         []string   `json:"unlocked_skills"`
	Equipment              Equipment  `json:"equipment"`
	Story                  StoryState `json:"story"`
	// Version counts writes to the progression fields. SaveProgress only
	// applies against the version it was computed from.
	Version int64 `json:"-"`
}

// NewProfile returns the starting profile for an actor.
func NewProfile(actor ActorID) Profile {
	return Profile{ActorID: actor, Level: 1, UnlockedSkills: []string{}, Story: NewStoryState()}
}

// HasSkill reports whether the skill is unlocked.
func (p Profile) HasSkill(id string) bool {
	for _, s := range p.UnlockedSkills {
		if s == id {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the profile.
func (p Profile) Clone() Profile {
	cp := p
	if p.LastQuestAt != nil {
		t := *p.LastQuestAt
		cp.LastQuestAt = &t
	}
	cp.UnlockedSkills = append([]string{}, p.UnlockedSkills...)
	cp.Equipment = Equipment{}
	for _, it := range p.Equipment.Slots() {
		cp.Equipment = cp.Equipment.With(it)
	}
	cp.Story = p.Story.Clone()
	return cp
}

// ProgressUpdate is the single write persisted after a quest completes.
type ProgressUpdate struct {
	// Version is the profile version the update was computed from.
	Version                int64
	XP                     int64
	Level                  int64
	CurrentStreak          int64
	LongestStreak          int64
	LastQuestAt            time.Time
	SkillPoints            int64
	TotalSkillPointsEarned int64
	Story                  StoryState
}

// Apply copies the update onto p.
func (u ProgressUpdate) Apply(p Profile) Profile {
	at := u.LastQuestAt
	p.XP = u.XP
	p.Level = u.Level
	p.CurrentStreak = u.CurrentStreak
	p.LongestStreak = u.LongestStreak
	p.LastQuestAt = &at
	p.SkillPoints = u.SkillPoints
	p.TotalSkillPointsEarned = u.TotalSkillPointsEarned
	p.Story = u.Story.Clone()
	p.Version = u.Version + 1
	return p
}

// DefaultCatalog is the starter shop inventory.
func DefaultCatalog() []Item {
	return []Item{
		{ID: "wooden-sword", Name: "Wooden Sword", Slot: SlotWeapon, XPMultiplier: 1.05, Price: 100},
		{ID: "iron-sword", Name: "Iron Sword", Slot: SlotWeapon, XPMultiplier: 1.10, Price: 300},
		{ID: "leather-armor", Name: "Leather Armor", Slot: SlotArmor, XPMultiplier: 1.05, Price: 150},
		{ID: "chainmail", Name: "Chainmail", Slot: SlotArmor, XPMultiplier: 1.10, Price: 400},
		{ID: "lucky-charm", Name: "Lucky Charm", Slot: SlotAccessory, XPMultiplier: 1.15, Price: 500},
	}
}
