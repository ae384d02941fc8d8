package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"wager-ledger/internal/events"
	"wager-ledger/internal/model"
	"wager-ledger/internal/observability"
	"wager-ledger/internal/odds"
	"wager-ledger/internal/pkg/db"
	"wager-ledger/internal/pkg/lock"
	"wager-ledger/internal/repository"
)

// Placement errors.
var (
	ErrNotBetOwner       = errors.New("bet belongs to another user")
	ErrBetNotCancellable = errors.New("bet can no longer be cancelled")
	ErrParlayLegCancel   = errors.New("parlay legs cannot be cancelled individually")
	ErrMixedParlay       = errors.New("parlay legs must share user and league")
)

// CacheInvalidator drops cached bankroll views after a balance mutation.
// Implemented by the Redis cache client; a nil invalidator is allowed.
type CacheInvalidator interface {
	InvalidateBankroll(ctx context.Context, userID, leagueID string, week int)
}

// PlacementService orchestrates bet and parlay creation: validate, price,
// persist, debit — all inside one explicit transaction per placement.
type PlacementService struct {
	pool      *db.Pool
	validator *Validator
	bankrolls *BankrollService
	bets      *repository.BetRepository
	slips     *repository.BetSlipRepository
	cache     CacheInvalidator
	publisher events.Publisher
	locks     *lock.BankrollLock
	metrics   *observability.Metrics
}

// NewPlacementService creates a new PlacementService instance.
func NewPlacementService(
	pool *db.Pool,
	validator *Validator,
	bankrolls *BankrollService,
	bets *repository.BetRepository,
	slips *repository.BetSlipRepository,
	cacheInvalidator CacheInvalidator,
	publisher events.Publisher,
	locks *lock.BankrollLock,
	metrics *observability.Metrics,
) *PlacementService {
	return &PlacementService{
		pool:      pool,
		validator: validator,
		bankrolls: bankrolls,
		bets:      bets,
		slips:     slips,
		cache:     cacheInvalidator,
		publisher: publisher,
		locks:     locks,
		metrics:   metrics,
	}
}

// bankrollKey serializes in-process placements against one weekly bankroll.
func bankrollKey(userID, leagueID string, week int) string {
	return fmt.Sprintf("%s:%s:%d", userID, leagueID, week)
}

// PlaceSingleBet places a straight bet. Within one transaction it initializes
// or fetches the weekly bankroll, validates, prices the payout, persists the
// PENDING bet and debits the stake. Returns the bet and the transaction id
// logged for audit.
func (s *PlacementService) PlaceSingleBet(ctx context.Context, req *BetRequest) (*model.Bet, string, error) {
	txID := uuid.NewString()

	// The bankroll week is always the current ISO week; callers never pick it.
	week := WeekKey(time.Now())

	var bet *model.Bet
	err := s.locks.WithLock(bankrollKey(req.UserID, req.LeagueID, week), func() error {
		return s.inTx(ctx, func(tx pgx.Tx) error {
			bankroll, err := s.bankrolls.InitializeWeekly(ctx, tx, req.UserID, req.LeagueID, week)
			if err != nil {
				return err
			}

			openBets, err := s.bets.WithTx(tx).ListOpenByUserGame(ctx, req.UserID, req.GameID)
			if err != nil {
				return err
			}

			if err := s.validator.ValidateBet(req, bankroll, openBets, time.Now()); err != nil {
				return err
			}

			payout, err := odds.Payout(req.StakeCents, req.Odds)
			if err != nil {
				return err
			}

			bet, err = s.bets.WithTx(tx).Create(ctx, &model.Bet{
				ID:                   uuid.NewString(),
				UserID:               req.UserID,
				BankrollID:           bankroll.ID,
				LeagueID:             req.LeagueID,
				GameID:               req.GameID,
				EventDate:            req.EventDate,
				Market:               req.Market,
				Selection:            req.Selection,
				Line:                 req.Line,
				Odds:                 req.Odds,
				StakeCents:           req.StakeCents,
				PotentialPayoutCents: payout,
			})
			if err != nil {
				return err
			}

			return s.bankrolls.DebitPlacement(ctx, tx, bankroll.ID, req.StakeCents)
		})
	})
	if err != nil {
		return nil, txID, err
	}

	s.afterPlacement(ctx, req.UserID, req.LeagueID, week)
	s.metrics.BetsPlaced.Inc()
	s.metrics.StakeCents.Add(float64(req.StakeCents))
	s.publishPlaced(ctx, bet, "")

	log.Info().
		Str("tx_id", txID).
		Str("bet_id", bet.ID).
		Str("bankroll_id", bet.BankrollID).
		Str("game_id", bet.GameID).
		Str("market", bet.Market).
		Int64("odds", bet.Odds).
		Int64("stake_cents", bet.StakeCents).
		Int64("potential_payout_cents", bet.PotentialPayoutCents).
		Msg("Single bet placed")

	return bet, txID, nil
}

// PlaceParlayBet places a parlay: one BetSlip plus one leg per selection.
// Combined odds are the product of per-leg decimal odds; the stake is split
// evenly across legs for audit while the bankroll is debited once for the
// full amount.
func (s *PlacementService) PlaceParlayBet(ctx context.Context, reqs []*BetRequest, totalStakeCents int64) (*model.BetSlip, []*model.Bet, string, error) {
	txID := uuid.NewString()

	if len(reqs) == 0 {
		return nil, nil, txID, &ParlayValidationError{SlipErr: ErrNoLegs}
	}
	first := reqs[0]
	for _, r := range reqs[1:] {
		if r.UserID != first.UserID || r.LeagueID != first.LeagueID {
			return nil, nil, txID, ErrMixedParlay
		}
	}
	week := WeekKey(time.Now())

	var (
		slip *model.BetSlip
		legs []*model.Bet
	)
	err := s.locks.WithLock(bankrollKey(first.UserID, first.LeagueID, week), func() error {
		return s.inTx(ctx, func(tx pgx.Tx) error {
			bankroll, err := s.bankrolls.InitializeWeekly(ctx, tx, first.UserID, first.LeagueID, week)
			if err != nil {
				return err
			}

			openByGame := make(map[string][]*model.Bet, len(reqs))
			for _, r := range reqs {
				if _, seen := openByGame[r.GameID]; seen {
					continue
				}
				open, err := s.bets.WithTx(tx).ListOpenByUserGame(ctx, r.UserID, r.GameID)
				if err != nil {
					return err
				}
				openByGame[r.GameID] = open
			}

			if err := s.validator.ValidateParlay(reqs, totalStakeCents, bankroll, openByGame, time.Now()); err != nil {
				return err
			}

			legOdds := make([]int64, len(reqs))
			for i, r := range reqs {
				legOdds[i] = r.Odds
			}
			combined, err := odds.Combine(legOdds)
			if err != nil {
				return err
			}
			american, err := odds.American(combined)
			if err != nil {
				return err
			}
			potential := odds.ParlayPayout(totalStakeCents, combined)

			slip, err = s.slips.WithTx(tx).Create(ctx, &model.BetSlip{
				ID:                   uuid.NewString(),
				UserID:               first.UserID,
				BankrollID:           bankroll.ID,
				LeagueID:             first.LeagueID,
				LegCount:             len(reqs),
				TotalStakeCents:      totalStakeCents,
				CombinedOdds:         american,
				CombinedDecimal:      combined,
				PotentialPayoutCents: potential,
			})
			if err != nil {
				return err
			}

			legStakes := odds.SplitStake(totalStakeCents, len(reqs))
			legPayouts := odds.SplitStake(potential, len(reqs))
			legs = make([]*model.Bet, len(reqs))
			for i, r := range reqs {
				slipID := slip.ID
				leg, err := s.bets.WithTx(tx).Create(ctx, &model.Bet{
					ID:                   uuid.NewString(),
					UserID:               r.UserID,
					BankrollID:           bankroll.ID,
					SlipID:               &slipID,
					LeagueID:             r.LeagueID,
					GameID:               r.GameID,
					EventDate:            r.EventDate,
					Market:               r.Market,
					Selection:            r.Selection,
					Line:                 r.Line,
					Odds:                 r.Odds,
					StakeCents:           legStakes[i],
					PotentialPayoutCents: legPayouts[i],
				})
				if err != nil {
					return err
				}
				legs[i] = leg
			}

			// One debit for the whole slip, not per leg.
			return s.bankrolls.DebitPlacement(ctx, tx, bankroll.ID, totalStakeCents)
		})
	})
	if err != nil {
		return nil, nil, txID, err
	}

	s.afterPlacement(ctx, first.UserID, first.LeagueID, week)
	s.metrics.ParlaysPlaced.Inc()
	s.metrics.StakeCents.Add(float64(totalStakeCents))
	for _, leg := range legs {
		s.publishPlaced(ctx, leg, slip.ID)
	}

	log.Info().
		Str("tx_id", txID).
		Str("slip_id", slip.ID).
		Str("bankroll_id", slip.BankrollID).
		Int("legs", slip.LegCount).
		Int64("combined_odds", slip.CombinedOdds).
		Int64("total_stake_cents", slip.TotalStakeCents).
		Int64("potential_payout_cents", slip.PotentialPayoutCents).
		Msg("Parlay placed")

	return slip, legs, txID, nil
}

// CancelBet cancels a PENDING straight bet before its event starts and fully
// refunds the stake. This is the only path that removes a bet's financial
// footprint without a game result.
func (s *PlacementService) CancelBet(ctx context.Context, betID, userID string) (*model.Bet, error) {
	var (
		cancelled *model.Bet
		week      int
	)
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		bet, err := s.bets.WithTx(tx).GetByIDForUpdate(ctx, betID)
		if err != nil {
			return err
		}
		if bet.UserID != userID {
			return ErrNotBetOwner
		}
		if bet.SlipID != nil {
			return ErrParlayLegCancel
		}
		if bet.Status != model.BetStatusPending {
			return ErrBetNotCancellable
		}
		if !bet.EventDate.After(time.Now()) {
			return ErrEventStarted
		}

		if err := s.bets.WithTx(tx).MarkCancelled(ctx, bet.ID); err != nil {
			return err
		}
		if err := s.bankrolls.RefundCancellation(ctx, tx, bet.BankrollID, bet.StakeCents); err != nil {
			return err
		}

		bankroll, err := s.bankrolls.GetByIDTx(ctx, tx, bet.BankrollID)
		if err != nil {
			return err
		}
		week = bankroll.Week

		bet.Status = model.BetStatusCancelled
		cancelled = bet
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.afterPlacement(ctx, cancelled.UserID, cancelled.LeagueID, week)
	s.metrics.BetsCancelled.Inc()

	log.Info().
		Str("bet_id", cancelled.ID).
		Str("bankroll_id", cancelled.BankrollID).
		Int64("refund_cents", cancelled.StakeCents).
		Msg("Bet cancelled")

	return cancelled, nil
}

// inTx runs fn inside a transaction, rolling back on any error.
func (s *PlacementService) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// afterPlacement drops cached bankroll views once the transaction committed.
func (s *PlacementService) afterPlacement(ctx context.Context, userID, leagueID string, week int) {
	if s.cache != nil {
		s.cache.InvalidateBankroll(ctx, userID, leagueID, week)
	}
}

// publishPlaced emits a best-effort bet-placed event.
func (s *PlacementService) publishPlaced(ctx context.Context, bet *model.Bet, slipID string) {
	if s.publisher == nil {
		return
	}
	err := s.publisher.PublishBetPlaced(ctx, events.BetPlaced{
		BetID:      bet.ID,
		SlipID:     slipID,
		UserID:     bet.UserID,
		LeagueID:   bet.LeagueID,
		GameID:     bet.GameID,
		Market:     bet.Market,
		Selection:  bet.Selection,
		Odds:       bet.Odds,
		StakeCents: bet.StakeCents,
	})
	if err != nil {
		log.Warn().Err(err).Str("bet_id", bet.ID).Msg("Failed to publish bet placed event")
	}
}
