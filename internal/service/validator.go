// Package service provides business logic implementations for the wagering
// ledger: validation, placement, bankroll management and settlement.
package service

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"wager-ledger/internal/config"
	"wager-ledger/internal/model"
	"wager-ledger/internal/odds"
)

// Validation errors. All are reported synchronously before any mutation and
// are never retried.
var (
	ErrStakeBelowMinimum   = errors.New("stake below minimum")
	ErrStakeAboveMaximum   = errors.New("stake above maximum")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidOdds         = errors.New("invalid odds")
	ErrEventStarted        = errors.New("event has already started")
	ErrDuplicateBet        = errors.New("duplicate bet on same game, market and selection")
	ErrBankrollInactive    = errors.New("bankroll is not active")
	ErrNoLegs              = errors.New("parlay has no legs")
	ErrSingleLegParlay     = errors.New("parlay needs at least two legs")
	ErrTooManyLegs         = errors.New("parlay exceeds maximum leg count")
	ErrSameGameParlay      = errors.New("parlay legs cannot share a game")
	ErrUnknownMarket       = errors.New("unknown market type")
	ErrInvalidSelection    = errors.New("invalid selection for market")
)

// BetRequest is the normalized inbound placement request for one selection.
// The bankroll week is not part of the request; placement derives it from the
// clock so a caller cannot wager against another week's bankroll.
type BetRequest struct {
	UserID     string
	LeagueID   string
	GameID     string
	EventDate  time.Time
	Market     string
	Selection  string
	Line       float64
	Odds       int64
	StakeCents int64
}

// LegError ties a validation failure to a specific parlay leg so the caller
// can surface targeted errors.
type LegError struct {
	Index int
	Err   error
}

// ParlayValidationError aggregates per-leg and slip-level failures.
type ParlayValidationError struct {
	SlipErr error
	Legs    []LegError
}

// Error implements the error interface.
func (e *ParlayValidationError) Error() string {
	parts := make([]string, 0, len(e.Legs)+1)
	if e.SlipErr != nil {
		parts = append(parts, e.SlipErr.Error())
	}
	for _, l := range e.Legs {
		parts = append(parts, fmt.Sprintf("leg %d: %v", l.Index, l.Err))
	}
	return "invalid parlay: " + strings.Join(parts, "; ")
}

// Validator performs pure, synchronous bet validation. It never touches
// storage; callers fetch the bankroll and the user's open bets first.
type Validator struct {
	minStakeCents int64
	maxStakeCents int64
	maxParlayLegs int
}

// NewValidator creates a Validator from the betting configuration.
func NewValidator(cfg config.BettingConfig) *Validator {
	return &Validator{
		minStakeCents: cfg.MinStakeCents,
		maxStakeCents: cfg.MaxStakeCents,
		maxParlayLegs: cfg.MaxParlayLegs,
	}
}

// ValidateBet checks a single bet request against the bankroll and the user's
// open bets on the same game. Checks run in a fixed order so callers get a
// stable first failure.
func (v *Validator) ValidateBet(req *BetRequest, bankroll *model.Bankroll, openBets []*model.Bet, now time.Time) error {
	if err := v.validateStake(req.StakeCents); err != nil {
		return err
	}
	if bankroll.Status != model.BankrollStatusActive {
		return ErrBankrollInactive
	}
	if req.StakeCents > bankroll.CurrentBalanceCents {
		return ErrInsufficientBalance
	}
	if err := validateSelection(req); err != nil {
		return err
	}
	if !odds.Valid(req.Odds) {
		return ErrInvalidOdds
	}
	if !req.EventDate.After(now) {
		return ErrEventStarted
	}
	for _, open := range openBets {
		if open.GameID == req.GameID && open.Market == req.Market &&
			strings.EqualFold(open.Selection, req.Selection) {
			return ErrDuplicateBet
		}
	}
	return nil
}

// ValidateParlay checks parlay legs against the slip constraints. The total
// stake is validated once for the slip; leg-level failures come back indexed
// in a ParlayValidationError.
func (v *Validator) ValidateParlay(reqs []*BetRequest, totalStakeCents int64, bankroll *model.Bankroll, openBetsByGame map[string][]*model.Bet, now time.Time) error {
	switch {
	case len(reqs) == 0:
		return &ParlayValidationError{SlipErr: ErrNoLegs}
	case len(reqs) == 1:
		return &ParlayValidationError{SlipErr: ErrSingleLegParlay}
	case len(reqs) > v.maxParlayLegs:
		return &ParlayValidationError{SlipErr: ErrTooManyLegs}
	}

	if err := v.validateStake(totalStakeCents); err != nil {
		return &ParlayValidationError{SlipErr: err}
	}
	if bankroll.Status != model.BankrollStatusActive {
		return &ParlayValidationError{SlipErr: ErrBankrollInactive}
	}
	if totalStakeCents > bankroll.CurrentBalanceCents {
		return &ParlayValidationError{SlipErr: ErrInsufficientBalance}
	}

	var legErrs []LegError
	seenGames := make(map[string]bool, len(reqs))
	for i, req := range reqs {
		// Correlated same-game legs are rejected outright.
		if seenGames[req.GameID] {
			legErrs = append(legErrs, LegError{Index: i, Err: ErrSameGameParlay})
			continue
		}
		seenGames[req.GameID] = true

		if err := validateSelection(req); err != nil {
			legErrs = append(legErrs, LegError{Index: i, Err: err})
			continue
		}
		if !odds.Valid(req.Odds) {
			legErrs = append(legErrs, LegError{Index: i, Err: ErrInvalidOdds})
			continue
		}
		if !req.EventDate.After(now) {
			legErrs = append(legErrs, LegError{Index: i, Err: ErrEventStarted})
			continue
		}
		for _, open := range openBetsByGame[req.GameID] {
			if open.Market == req.Market && strings.EqualFold(open.Selection, req.Selection) {
				legErrs = append(legErrs, LegError{Index: i, Err: ErrDuplicateBet})
				break
			}
		}
	}

	if len(legErrs) > 0 {
		return &ParlayValidationError{Legs: legErrs}
	}
	return nil
}

// validateStake checks the configured stake bounds.
func (v *Validator) validateStake(stakeCents int64) error {
	if stakeCents < v.minStakeCents {
		return ErrStakeBelowMinimum
	}
	if stakeCents > v.maxStakeCents {
		return ErrStakeAboveMaximum
	}
	return nil
}

// validateSelection enforces the closed market/selection pairing.
func validateSelection(req *BetRequest) error {
	switch req.Market {
	case model.MarketMoneyline, model.MarketSpread:
		if strings.TrimSpace(req.Selection) == "" {
			return ErrInvalidSelection
		}
	case model.MarketTotal:
		sel := strings.ToUpper(req.Selection)
		if sel != model.SelectionOver && sel != model.SelectionUnder {
			return ErrInvalidSelection
		}
	default:
		return ErrUnknownMarket
	}
	return nil
}
