package leaderboard

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sort"
	"testing"
	"time"

	"habitquest/core"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func entry(actor string, score int64, after time.Duration) Entry {
	return Entry{Actor: core.ActorID(actor), Score: score, Level: core.LevelForXP(score), ReachedAt: t0.Add(after)}
}

func TestSkipListBasic(t *testing.T) {
	s := NewSkipList()
	s.Record(entry("a", 10, 0))
	s.Record(entry("b", 20, 0))
	s.Record(entry("c", 15, 0))
	top := s.TopN(3)
	if len(top) != 3 || top[0].Actor != "b" || top[1].Actor != "c" || top[2].Actor != "a" {
		t.Fatalf("unexpected order: %#v", top)
	}
	s.Record(entry("a", 25, time.Hour))
	if top = s.TopN(1); top[0].Actor != "a" {
		t.Fatalf("top should be a, got %#v", top)
	}
	if r := s.Rank("c"); r != 3 {
		t.Fatalf("expected c at rank 3, got %d", r)
	}
	s.Remove("b")
	if _, ok := s.Get("b"); ok || s.Len() != 2 || s.Rank("b") != 0 {
		t.Fatalf("b should be gone")
	}
	if r := s.Rank("c"); r != 2 {
		t.Fatalf("expected c at rank 2 after removal, got %d", r)
	}
}

func TestSkipListTieGoesToEarliest(t *testing.T) {
	s := NewSkipList()
	s.Record(entry("zed", 100, time.Minute))
	s.Record(entry("amy", 100, 2*time.Minute))
	s.Record(entry("bob", 100, time.Minute))

	top := s.TopN(3)
	got := []core.ActorID{top[0].Actor, top[1].Actor, top[2].Actor}
	want := []core.ActorID{"bob", "zed", "amy"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("tie order: want %v got %v", want, got)
		}
	}
	if s.Rank("amy") != 3 {
		t.Fatalf("amy reached 100 last and should rank 3, got %d", s.Rank("amy"))
	}
}

func TestSkipListMatchesSort(t *testing.T) {
	s := NewSkipList()
	rng := rand.New(rand.NewPCG(1, 2))
	want := map[core.ActorID]Entry{}
	for i := 0; i < 500; i++ {
		actor := fmt.Sprintf("u%02d", rng.IntN(60))
		e := entry(actor, rng.Int64N(1000), time.Duration(rng.IntN(5))*time.Minute)
		s.Record(e)
		want[e.Actor] = e
		if rng.IntN(10) == 0 {
			s.Remove(e.Actor)
			delete(want, e.Actor)
		}
	}
	expected := make([]Entry, 0, len(want))
	for _, e := range want {
		expected = append(expected, e)
	}
	sort.Slice(expected, func(i, j int) bool { return less(expected[i], expected[j]) })

	got := s.TopN(len(expected) + 10)
	if len(got) != len(expected) || s.Len() != len(expected) {
		t.Fatalf("expected %d entries, got %d (len %d)", len(expected), len(got), s.Len())
	}
	for i := range expected {
		if got[i] != expected[i] {
			t.Fatalf("position %d: want %+v got %+v", i, expected[i], got[i])
		}
		if r := s.Rank(expected[i].Actor); r != i+1 {
			t.Fatalf("rank of %s: want %d got %d", expected[i].Actor, i+1, r)
		}
	}
}

func TestXPFeed(t *testing.T) {
	s := NewSkipList()
	feed := XPFeed(s)
	ctx := context.Background()

	feed(ctx, core.NewQuestCompleted("a", "q1", 10, 110, 10, 1, 2, "", false))
	feed(ctx, core.NewQuestCompleted("b", "q2", 50, 50, 50, 1, 1, "", false))
	feed(ctx, core.NewLevelUp("b", 9))
	// an out-of-order delivery never lowers a score
	feed(ctx, core.NewQuestCompleted("a", "q0", 10, 100, 10, 1, 2, "", false))

	top := s.TopN(2)
	if len(top) != 2 || top[0].Actor != "a" || top[0].Score != 110 || top[0].Level != 2 || top[1].Score != 50 {
		t.Fatalf("unexpected board: %#v", top)
	}
	if top[0].ReachedAt.IsZero() {
		t.Fatal("reached_at should come from the event time")
	}
}
