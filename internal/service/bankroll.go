package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"wager-ledger/internal/config"
	"wager-ledger/internal/model"
	"wager-ledger/internal/repository"
)

// WeekKey returns the bankroll week for a point in time as an orderable
// integer, ISO year * 100 + ISO week. Weeks stay monotonic across year
// boundaries, which the rollover and archival sweeps rely on.
func WeekKey(t time.Time) int {
	year, week := t.UTC().ISOWeek()
	return year*100 + week
}

// BankrollService owns the per-(user, league, week) virtual balance. It is
// the single point of balance mutation: placement and settlement both go
// through it, always on an explicit transaction handle.
type BankrollService struct {
	repo           *repository.BankrollRepository
	startCents     int64
	retentionWeeks int
}

// NewBankrollService creates a new BankrollService instance.
func NewBankrollService(repo *repository.BankrollRepository, cfg config.BankrollConfig) *BankrollService {
	return &BankrollService{
		repo:           repo,
		startCents:     cfg.WeeklyStartCents,
		retentionWeeks: cfg.ArchiveRetentionWeeks,
	}
}

// InitializeWeekly gets or lazily creates the bankroll for (user, league,
// week) inside the caller's transaction and returns it row-locked. Idempotent:
// an existing bankroll is returned untouched, never reset.
func (s *BankrollService) InitializeWeekly(ctx context.Context, tx pgx.Tx, userID, leagueID string, week int) (*model.Bankroll, error) {
	repo := s.repo.WithTx(tx)

	bankroll, err := repo.GetForWeekForUpdate(ctx, userID, leagueID, week)
	if err == nil {
		return bankroll, nil
	}
	if !errors.Is(err, repository.ErrBankrollNotFound) {
		return nil, fmt.Errorf("failed to fetch bankroll: %w", err)
	}

	bankroll, err = repo.Create(ctx, uuid.NewString(), userID, leagueID, week, s.startCents)
	if err != nil {
		return nil, fmt.Errorf("failed to create weekly bankroll: %w", err)
	}

	log.Info().
		Str("bankroll_id", bankroll.ID).
		Str("user_id", userID).
		Str("league_id", leagueID).
		Int("week", week).
		Int64("starting_balance_cents", s.startCents).
		Msg("Weekly bankroll initialized")

	return bankroll, nil
}

// DebitPlacement applies a stake debit for a new bet or parlay slip. Must run
// on the transaction that also persists the bet rows.
func (s *BankrollService) DebitPlacement(ctx context.Context, tx pgx.Tx, bankrollID string, stakeCents int64) error {
	return s.repo.WithTx(tx).ApplyPlacement(ctx, bankrollID, stakeCents)
}

// RefundCancellation removes a cancelled bet's financial footprint. Must run
// on the transaction that marks the bet cancelled.
func (s *BankrollService) RefundCancellation(ctx context.Context, tx pgx.Tx, bankrollID string, stakeCents int64) error {
	return s.repo.WithTx(tx).ApplyCancellation(ctx, bankrollID, stakeCents)
}

// RecordBetSettlement atomically adjusts balance and counters for one
// resolution. Called exactly once per settled bet or parlay slip:
//
//	WIN        credit = payout, win counters move
//	PUSH/VOID  credit = stake, a plain refund
//	LOSS       credit = 0, loss counters move
func (s *BankrollService) RecordBetSettlement(ctx context.Context, tx pgx.Tx, bankrollID string, stakeCents, creditCents int64, result string) error {
	var (
		wonDelta, lostDelta int
		wonCents, lostCents int64
	)
	switch result {
	case model.ResultWin:
		wonDelta = 1
		wonCents = creditCents - stakeCents // net profit
	case model.ResultLoss:
		lostDelta = 1
		lostCents = stakeCents
	case model.ResultPush, model.ResultVoid:
		// stake refund only, no win/loss movement
	default:
		return fmt.Errorf("unknown settlement result %q", result)
	}

	return s.repo.WithTx(tx).ApplySettlement(ctx, bankrollID, creditCents, wonDelta, lostDelta, wonCents, lostCents)
}

// GetByIDTx returns a bankroll by id on the caller's transaction.
func (s *BankrollService) GetByIDTx(ctx context.Context, tx pgx.Tx, id string) (*model.Bankroll, error) {
	return s.repo.WithTx(tx).GetByID(ctx, id)
}

// GetWeekly returns the bankroll for (user, league, week) without locking.
func (s *BankrollService) GetWeekly(ctx context.Context, userID, leagueID string, week int) (*model.Bankroll, error) {
	return s.repo.GetForWeek(ctx, userID, leagueID, week)
}

// ListWeek returns all bankrolls for a league week ordered by balance.
func (s *BankrollService) ListWeek(ctx context.Context, leagueID string, week int) ([]*model.Bankroll, error) {
	return s.repo.ListByWeek(ctx, leagueID, week)
}

// ResetWeeklyBankrolls rolls every ACTIVE bankroll from past weeks forward to
// COMPLETED. Run on a schedule; harmless to re-run.
func (s *BankrollService) ResetWeeklyBankrolls(ctx context.Context, now time.Time) (int64, error) {
	rolled, err := s.repo.CompleteWeeksBefore(ctx, WeekKey(now))
	if err != nil {
		return 0, err
	}
	if rolled > 0 {
		log.Info().Int64("count", rolled).Msg("Weekly bankrolls completed")
	}
	return rolled, nil
}

// ArchiveOldBankrolls archives COMPLETED bankrolls older than the retention
// window. Run on a schedule; harmless to re-run.
func (s *BankrollService) ArchiveOldBankrolls(ctx context.Context, now time.Time) (int64, error) {
	cutoff := WeekKey(now.AddDate(0, 0, -7*s.retentionWeeks))
	archived, err := s.repo.ArchiveCompletedBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if archived > 0 {
		log.Info().Int64("count", archived).Int("cutoff_week", cutoff).Msg("Old bankrolls archived")
	}
	return archived, nil
}
