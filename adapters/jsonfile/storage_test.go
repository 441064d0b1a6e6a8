package jsonfile

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"habitquest/core"
)

var t0 = time.Date(2025, 6, 11, 9, 0, 0, 0, time.UTC)

func TestStorePersistAndLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	store, err := New(path)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()

	q := core.Quest{ID: "q1", ActorID: "alice", Text: "Slay the Laundry Hydra", Difficulty: core.DifficultyHard, XPValue: 50, Status: core.StatusActive, CreatedAt: t0}
	if err := store.CreateQuest(ctx, q); err != nil {
		t.Fatalf("create quest: %v", err)
	}
	if err := store.CompleteQuest(ctx, "alice", "q1", t0.Add(time.Hour)); err != nil {
		t.Fatalf("complete quest: %v", err)
	}
	if _, err := store.AdjustCurrency(ctx, core.Adjustment{ActorID: "alice", Amount: 50, Type: core.TxReward, ReferenceID: "q1"}); err != nil {
		t.Fatalf("adjust currency: %v", err)
	}
	if err := store.SetPremium("alice", true); err != nil {
		t.Fatalf("set premium: %v", err)
	}

	// ensure file written
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected file at %s", path)
	}

	// reload
	reloaded, err := New(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}

	p, err := reloaded.GetProfile(ctx, "alice")
	if err != nil {
		t.Fatalf("get profile: %v", err)
	}
	if p.Gold != 50 {
		t.Fatalf("expected gold 50, got %d", p.Gold)
	}
	if !p.Premium {
		t.Fatalf("expected premium to survive reload")
	}
	got, err := reloaded.GetQuest(ctx, "alice", "q1")
	if err != nil {
		t.Fatalf("get quest: %v", err)
	}
	if !got.Completed() {
		t.Fatalf("expected quest completed after reload")
	}
	if err := reloaded.CompleteQuest(ctx, "alice", "q1", t0); err != core.ErrAlreadyCompleted {
		t.Fatalf("expected ErrAlreadyCompleted, got %v", err)
	}
	txs, err := reloaded.Transactions(ctx, "alice", 10)
	if err != nil || len(txs) != 1 {
		t.Fatalf("transactions: len=%d err=%v", len(txs), err)
	}
}

func TestStoreFailedMutationDoesNotWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	store, err := New(path)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	_, err = store.AdjustCurrency(context.Background(), core.Adjustment{ActorID: "bob", Amount: -10, Type: core.TxPurchase})
	if err != core.ErrInsufficientFunds {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected no file after rejected write, stat err=%v", err)
	}
}

func TestStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := New(path); err == nil {
		t.Fatalf("expected decode error")
	}
}
