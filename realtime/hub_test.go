package realtime

import (
	"context"
	"encoding/json"
	"testing"

	"habitquest/core"
)

func TestHubSubscribeBroadcastUnsubscribe(t *testing.T) {
	h := NewHub()
	id, ch := h.Subscribe(1)

	ev := core.NewLevelUp("bob", 2)
	h.Broadcast(context.Background(), ev)

	received := <-ch
	if received.ActorID != "bob" || received.Type != core.EventLevelUp {
		t.Fatalf("unexpected event: %+v", received)
	}

	h.Unsubscribe(id)
	_, ok := <-ch
	if ok {
		t.Fatal("expected channel closed after unsubscribe")
	}
	if h.Subscribers() != 0 {
		t.Fatalf("expected no subscribers, got %d", h.Subscribers())
	}
}

func TestHubActorFilter(t *testing.T) {
	h := NewHub()
	_, alice := h.SubscribeActor("alice", 4)

	h.Broadcast(context.Background(), core.NewLevelUp("bob", 2))
	h.Broadcast(context.Background(), core.NewLevelUp("alice", 3))

	got := <-alice
	if got.ActorID != "alice" || got.Level != 3 {
		t.Fatalf("unexpected event: %+v", got)
	}
	select {
	case ev := <-alice:
		t.Fatalf("unexpected extra event: %+v", ev)
	default:
	}
}

func TestHubDropsWhenFull(t *testing.T) {
	h := NewHub()
	_, ch := h.Subscribe(1)
	h.Broadcast(context.Background(), core.NewLevelUp("a", 2))
	h.Broadcast(context.Background(), core.NewLevelUp("a", 3))

	if h.Dropped() != 1 {
		t.Fatalf("expected 1 dropped, got %d", h.Dropped())
	}
	if ev := <-ch; ev.Level != 2 {
		t.Fatalf("expected first event kept, got %+v", ev)
	}
}

func TestMarshalJSON(t *testing.T) {
	ev := core.NewSkillUnlocked("alice", "quick_hands")
	b := MarshalJSON(ev)
	var out core.Event
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Metadata["skill_id"] != "quick_hands" {
		t.Fatalf("unexpected metadata: %v", out.Metadata)
	}
}
