// Package service tests for the staging bet slip.
package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"wager-ledger/internal/model"
)

// memSlipStore is an in-memory SlipStore for tests.
type memSlipStore struct {
	data map[string][]byte
}

func newMemSlipStore() *memSlipStore {
	return &memSlipStore{data: make(map[string][]byte)}
}

func (m *memSlipStore) key(userID, leagueID string) string {
	return userID + "/" + leagueID
}

func (m *memSlipStore) SetSlip(_ context.Context, userID, leagueID string, payload []byte, _ time.Duration) error {
	m.data[m.key(userID, leagueID)] = payload
	return nil
}

func (m *memSlipStore) GetSlip(_ context.Context, userID, leagueID string) ([]byte, error) {
	return m.data[m.key(userID, leagueID)], nil
}

func (m *memSlipStore) DeleteSlip(_ context.Context, userID, leagueID string) error {
	delete(m.data, m.key(userID, leagueID))
	return nil
}

func stagedSelection(gameID, selection string) BetRequest {
	return BetRequest{
		UserID:    "user-1",
		LeagueID:  "league-1",
		GameID:    gameID,
		EventDate: time.Now().Add(2 * time.Hour),
		Market:    model.MarketSpread,
		Selection: selection,
		Line:      -3.5,
		Odds:      -110,
	}
}

// TestSlipStagingAddAndGet tests building a slip selection by selection.
func TestSlipStagingAddAndGet(t *testing.T) {
	ctx := context.Background()
	svc := NewSlipStagingService(newMemSlipStore(), 30*time.Minute)

	slip, err := svc.GetBetSlip(ctx, "user-1", "league-1")
	if err != nil {
		t.Fatalf("GetBetSlip on empty store failed: %v", err)
	}
	if len(slip.Selections) != 0 {
		t.Fatalf("fresh slip has %d selections, want 0", len(slip.Selections))
	}

	if _, err := svc.AddToBetSlip(ctx, "user-1", "league-1", stagedSelection("game-1", "KC")); err != nil {
		t.Fatalf("AddToBetSlip failed: %v", err)
	}
	slip, err = svc.AddToBetSlip(ctx, "user-1", "league-1", stagedSelection("game-2", "BUF"))
	if err != nil {
		t.Fatalf("AddToBetSlip failed: %v", err)
	}
	if len(slip.Selections) != 2 {
		t.Fatalf("slip has %d selections, want 2", len(slip.Selections))
	}

	// Survives a reload from the store
	slip, err = svc.GetBetSlip(ctx, "user-1", "league-1")
	if err != nil {
		t.Fatalf("GetBetSlip failed: %v", err)
	}
	if len(slip.Selections) != 2 || slip.Selections[0].GameID != "game-1" {
		t.Errorf("reloaded slip = %+v", slip.Selections)
	}
}

// TestSlipStagingDuplicate tests that identical selections are rejected.
func TestSlipStagingDuplicate(t *testing.T) {
	ctx := context.Background()
	svc := NewSlipStagingService(newMemSlipStore(), 30*time.Minute)

	if _, err := svc.AddToBetSlip(ctx, "user-1", "league-1", stagedSelection("game-1", "KC")); err != nil {
		t.Fatalf("AddToBetSlip failed: %v", err)
	}
	_, err := svc.AddToBetSlip(ctx, "user-1", "league-1", stagedSelection("game-1", "KC"))
	if !errors.Is(err, ErrSlipLegDuplicate) {
		t.Errorf("duplicate add = %v, want %v", err, ErrSlipLegDuplicate)
	}

	// Same game, different selection is allowed at staging time
	if _, err := svc.AddToBetSlip(ctx, "user-1", "league-1", stagedSelection("game-1", "BUF")); err != nil {
		t.Errorf("different selection rejected: %v", err)
	}
}

// TestSlipStagingRemove tests index removal and empty-slip cleanup.
func TestSlipStagingRemove(t *testing.T) {
	ctx := context.Background()
	store := newMemSlipStore()
	svc := NewSlipStagingService(store, 30*time.Minute)

	if _, err := svc.RemoveFromBetSlip(ctx, "user-1", "league-1", 0); !errors.Is(err, ErrSlipEmpty) {
		t.Errorf("remove from empty slip = %v, want %v", err, ErrSlipEmpty)
	}

	_, _ = svc.AddToBetSlip(ctx, "user-1", "league-1", stagedSelection("game-1", "KC"))
	_, _ = svc.AddToBetSlip(ctx, "user-1", "league-1", stagedSelection("game-2", "BUF"))

	if _, err := svc.RemoveFromBetSlip(ctx, "user-1", "league-1", 5); !errors.Is(err, ErrSlipLegNotFound) {
		t.Errorf("out of range remove = %v, want %v", err, ErrSlipLegNotFound)
	}

	slip, err := svc.RemoveFromBetSlip(ctx, "user-1", "league-1", 0)
	if err != nil {
		t.Fatalf("RemoveFromBetSlip failed: %v", err)
	}
	if len(slip.Selections) != 1 || slip.Selections[0].GameID != "game-2" {
		t.Errorf("after removal slip = %+v", slip.Selections)
	}

	// Removing the last selection drops the stored slip entirely
	slip, err = svc.RemoveFromBetSlip(ctx, "user-1", "league-1", 0)
	if err != nil {
		t.Fatalf("RemoveFromBetSlip failed: %v", err)
	}
	if len(slip.Selections) != 0 {
		t.Errorf("slip not empty after removing last leg: %+v", slip.Selections)
	}
	if len(store.data) != 0 {
		t.Errorf("store still holds %d slips, want 0", len(store.data))
	}
}

// TestSlipStagingClear tests dropping the whole slip.
func TestSlipStagingClear(t *testing.T) {
	ctx := context.Background()
	svc := NewSlipStagingService(newMemSlipStore(), 30*time.Minute)

	_, _ = svc.AddToBetSlip(ctx, "user-1", "league-1", stagedSelection("game-1", "KC"))
	if err := svc.ClearBetSlip(ctx, "user-1", "league-1"); err != nil {
		t.Fatalf("ClearBetSlip failed: %v", err)
	}

	slip, err := svc.GetBetSlip(ctx, "user-1", "league-1")
	if err != nil {
		t.Fatalf("GetBetSlip failed: %v", err)
	}
	if len(slip.Selections) != 0 {
		t.Errorf("slip not empty after clear: %+v", slip.Selections)
	}
}

// TestSlipStagingIsolation tests that slips are keyed per user and league.
func TestSlipStagingIsolation(t *testing.T) {
	ctx := context.Background()
	svc := NewSlipStagingService(newMemSlipStore(), 30*time.Minute)

	_, _ = svc.AddToBetSlip(ctx, "user-1", "league-1", stagedSelection("game-1", "KC"))

	other, err := svc.GetBetSlip(ctx, "user-2", "league-1")
	if err != nil {
		t.Fatalf("GetBetSlip failed: %v", err)
	}
	if len(other.Selections) != 0 {
		t.Errorf("user-2 sees user-1's slip: %+v", other.Selections)
	}

	otherLeague, err := svc.GetBetSlip(ctx, "user-1", "league-2")
	if err != nil {
		t.Fatalf("GetBetSlip failed: %v", err)
	}
	if len(otherLeague.Selections) != 0 {
		t.Errorf("league-2 sees league-1's slip: %+v", otherLeague.Selections)
	}
}
