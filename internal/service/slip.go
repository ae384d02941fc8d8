package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Staging errors.
var (
	ErrSlipEmpty        = errors.New("staging slip is empty")
	ErrSlipLegNotFound  = errors.New("staging slip leg not found")
	ErrSlipLegDuplicate = errors.New("selection already on staging slip")
)

// SlipStore is the ephemeral key/value store behind the staging bet slip.
// Implemented by the Redis cache client.
type SlipStore interface {
	SetSlip(ctx context.Context, userID, leagueID string, payload []byte, ttl time.Duration) error
	GetSlip(ctx context.Context, userID, leagueID string) ([]byte, error)
	DeleteSlip(ctx context.Context, userID, leagueID string) error
}

// StagedSlip is a user's in-progress parlay, built selection by selection
// before submission. It carries no financial weight: nothing is validated
// against the bankroll or debited until PlaceParlayBet is called.
type StagedSlip struct {
	Selections []BetRequest `json:"selections"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

// SlipStagingService manages staging bet slips in a short-lived store.
type SlipStagingService struct {
	store SlipStore
	ttl   time.Duration
}

// NewSlipStagingService creates a new SlipStagingService instance.
func NewSlipStagingService(store SlipStore, ttl time.Duration) *SlipStagingService {
	return &SlipStagingService{store: store, ttl: ttl}
}

// AddToBetSlip appends a selection to the user's staging slip, creating the
// slip if needed. Duplicate game+market+selection entries are rejected early
// so the user hears about it before submission.
func (s *SlipStagingService) AddToBetSlip(ctx context.Context, userID, leagueID string, sel BetRequest) (*StagedSlip, error) {
	slip, err := s.load(ctx, userID, leagueID)
	if err != nil {
		return nil, err
	}
	if slip == nil {
		slip = &StagedSlip{}
	}

	for _, existing := range slip.Selections {
		if existing.GameID == sel.GameID && existing.Market == sel.Market && existing.Selection == sel.Selection {
			return nil, ErrSlipLegDuplicate
		}
	}

	slip.Selections = append(slip.Selections, sel)
	if err := s.save(ctx, userID, leagueID, slip); err != nil {
		return nil, err
	}
	return slip, nil
}

// RemoveFromBetSlip removes the selection at the given index.
func (s *SlipStagingService) RemoveFromBetSlip(ctx context.Context, userID, leagueID string, index int) (*StagedSlip, error) {
	slip, err := s.load(ctx, userID, leagueID)
	if err != nil {
		return nil, err
	}
	if slip == nil || len(slip.Selections) == 0 {
		return nil, ErrSlipEmpty
	}
	if index < 0 || index >= len(slip.Selections) {
		return nil, ErrSlipLegNotFound
	}

	slip.Selections = append(slip.Selections[:index], slip.Selections[index+1:]...)
	if len(slip.Selections) == 0 {
		if err := s.store.DeleteSlip(ctx, userID, leagueID); err != nil {
			return nil, err
		}
		return &StagedSlip{}, nil
	}

	if err := s.save(ctx, userID, leagueID, slip); err != nil {
		return nil, err
	}
	return slip, nil
}

// ClearBetSlip drops the user's staging slip entirely.
func (s *SlipStagingService) ClearBetSlip(ctx context.Context, userID, leagueID string) error {
	return s.store.DeleteSlip(ctx, userID, leagueID)
}

// GetBetSlip returns the current staging slip, empty if none exists.
func (s *SlipStagingService) GetBetSlip(ctx context.Context, userID, leagueID string) (*StagedSlip, error) {
	slip, err := s.load(ctx, userID, leagueID)
	if err != nil {
		return nil, err
	}
	if slip == nil {
		return &StagedSlip{}, nil
	}
	return slip, nil
}

func (s *SlipStagingService) load(ctx context.Context, userID, leagueID string) (*StagedSlip, error) {
	payload, err := s.store.GetSlip(ctx, userID, leagueID)
	if err != nil {
		return nil, err
	}
	if payload == nil {
		return nil, nil
	}
	var slip StagedSlip
	if err := json.Unmarshal(payload, &slip); err != nil {
		return nil, fmt.Errorf("failed to decode staging slip: %w", err)
	}
	return &slip, nil
}

func (s *SlipStagingService) save(ctx context.Context, userID, leagueID string, slip *StagedSlip) error {
	slip.UpdatedAt = time.Now()
	payload, err := json.Marshal(slip)
	if err != nil {
		return fmt.Errorf("failed to encode staging slip: %w", err)
	}
	return s.store.SetSlip(ctx, userID, leagueID, payload, s.ttl)
}
