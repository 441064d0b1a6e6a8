package core

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"
)

func TestAddSafe(t *testing.T) {
	if v, err := AddSafe(10, 5); err != nil || v != 15 {
		t.Fatalf("got %v %v", v, err)
	}
	if _, err := AddSafe(math.MaxInt64, 1); err == nil {
		t.Fatalf("expected overflow")
	}
}

func TestNormalizeActorID(t *testing.T) {
	id, err := NormalizeActorID(" Alice ")
	if err != nil || id != "Alice" {
		t.Fatalf("got %v %v", id, err)
	}
	id, err = NormalizeActorID("\tUSER-42\n")
	if err != nil || id != "USER-42" {
		t.Fatalf("case must be preserved, got %v %v", id, err)
	}
	if _, err := NormalizeActorID("   "); err == nil {
		t.Fatalf("expected empty error")
	}
}

func TestLevelForXP(t *testing.T) {
	cases := map[int64]int64{0: 1, 99: 1, 100: 2, 495: 5, 545: 6, 999: 10}
	for xp, want := range cases {
		if got := LevelForXP(xp); got != want {
			t.Fatalf("LevelForXP(%d) = %d, want %d", xp, got, want)
		}
	}
}

func TestSkillPointsEarned(t *testing.T) {
	if got := SkillPointsEarned(5, 6); got != 0 {
		t.Fatalf("5->6 got %d", got)
	}
	if got := SkillPointsEarned(9, 10); got != 1 {
		t.Fatalf("9->10 got %d", got)
	}
	if got := SkillPointsEarned(4, 11); got != 2 {
		t.Fatalf("4->11 got %d", got)
	}
	if got := SkillPointsEarned(10, 9); got != 0 {
		t.Fatalf("level decrease must not go negative, got %d", got)
	}
}

func TestParseDifficulty(t *testing.T) {
	d, err := ParseDifficulty(" Hard ")
	if err != nil || d != DifficultyHard {
		t.Fatalf("got %v %v", d, err)
	}
	if _, err := ParseDifficulty("legendary"); err == nil {
		t.Fatal("expected error")
	}
}

func TestWholeDaysBetween(t *testing.T) {
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	if got := WholeDaysBetween(base, base.Add(47*time.Hour)); got != 1 {
		t.Fatalf("got %d", got)
	}
	if got := WholeDaysBetween(base, base.Add(-time.Hour)); got != 0 {
		t.Fatalf("negative span should be 0, got %d", got)
	}
}

func TestQuotaRequestWindow(t *testing.T) {
	at := time.Date(2025, 3, 1, 12, 34, 56, 0, time.UTC)
	req := QuotaRequest{Window: time.Hour, At: at}
	if !req.WindowStart().Equal(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected window start %v", req.WindowStart())
	}
	if !req.ResetAt().Equal(time.Date(2025, 3, 1, 13, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected reset %v", req.ResetAt())
	}
}

func TestKindOf(t *testing.T) {
	wrapped := fmt.Errorf("load: %w", ErrQuestNotFound)
	if KindOf(wrapped) != KindNotFound {
		t.Fatalf("got %s", KindOf(wrapped))
	}
	if !errors.Is(wrapped, ErrQuestNotFound) {
		t.Fatal("expected errors.Is to match sentinel")
	}
	rl := &RateLimitError{Endpoint: "quest_transform", Limit: 20, Current: 20}
	if KindOf(fmt.Errorf("x: %w", rl)) != KindRateLimited {
		t.Fatal("expected rate limited kind")
	}
	if KindOf(errors.New("boom")) != KindInternal {
		t.Fatal("unknown errors are internal")
	}
}

func TestRateLimitErrorRetryAfter(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	e := &RateLimitError{ResetAt: now.Add(1500 * time.Millisecond), Now: now}
	if e.RetryAfter() != 2*time.Second {
		t.Fatalf("got %v", e.RetryAfter())
	}
}

func TestRules(t *testing.T) {
	ctx := context.Background()
	ev := NewQuestCompleted("a", "q1", 60, 550, 350, 5, 6, "Forge of Resolve", true)
	if out := (LevelUpRule{}).Evaluate(ctx, ev); len(out) != 1 || out[0].Level != 6 {
		t.Fatalf("unexpected level rule output %+v", out)
	}
	if out := (StoryCompletedRule{}).Evaluate(ctx, ev); len(out) != 1 || out[0].Thread != "Forge of Resolve" {
		t.Fatalf("unexpected story rule output %+v", out)
	}
	flat := NewQuestCompleted("a", "q2", 10, 20, 50, 1, 1, "", false)
	if out := (LevelUpRule{}).Evaluate(ctx, flat); out != nil {
		t.Fatalf("expected no level up, got %+v", out)
	}
}

func TestProfileCloneIsDeep(t *testing.T) {
	p := NewProfile("a")
	p.Equipment = p.Equipment.With(Item{ID: "w", Slot: SlotWeapon, XPMultiplier: 1.1})
	p.Story.NPCs = append(p.Story.NPCs, "Mira")
	cp := p.Clone()
	cp.Equipment.Weapon.XPMultiplier = 2
	cp.Story.NPCs[0] = "Other"
	if p.Equipment.Weapon.XPMultiplier != 1.1 || p.Story.NPCs[0] != "Mira" {
		t.Fatal("clone shares memory with original")
	}
}
