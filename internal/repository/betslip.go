package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"wager-ledger/internal/model"
)

const slipColumns = `id, user_id, bankroll_id, league_id, leg_count, total_stake_cents,
	combined_odds, combined_decimal, potential_payout_cents, actual_payout_cents,
	status, settled_at, created_at`

// BetSlipRepository handles parlay slip persistence.
type BetSlipRepository struct {
	db DBTX
}

// NewBetSlipRepository creates a new BetSlipRepository instance.
func NewBetSlipRepository(db DBTX) *BetSlipRepository {
	return &BetSlipRepository{db: db}
}

// WithTx returns a copy of the repository bound to the given transaction.
func (r *BetSlipRepository) WithTx(tx pgx.Tx) *BetSlipRepository {
	return &BetSlipRepository{db: tx}
}

func scanSlip(row pgx.Row) (*model.BetSlip, error) {
	var s model.BetSlip
	err := row.Scan(
		&s.ID, &s.UserID, &s.BankrollID, &s.LeagueID, &s.LegCount, &s.TotalStakeCents,
		&s.CombinedOdds, &s.CombinedDecimal, &s.PotentialPayoutCents, &s.ActualPayoutCents,
		&s.Status, &s.SettledAt, &s.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlipNotFound
		}
		return nil, fmt.Errorf("failed to scan bet slip: %w", err)
	}
	return &s, nil
}

// Create inserts a new PENDING parlay slip.
func (r *BetSlipRepository) Create(ctx context.Context, s *model.BetSlip) (*model.BetSlip, error) {
	const query = `
		INSERT INTO bet_slips (id, user_id, bankroll_id, league_id, leg_count, total_stake_cents,
			combined_odds, combined_decimal, potential_payout_cents, actual_payout_cents,
			status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 0, 'PENDING', NOW())
		RETURNING ` + slipColumns

	return scanSlip(r.db.QueryRow(ctx, query,
		s.ID, s.UserID, s.BankrollID, s.LeagueID, s.LegCount, s.TotalStakeCents,
		s.CombinedOdds, s.CombinedDecimal, s.PotentialPayoutCents,
	))
}

// GetByID retrieves a slip by id.
func (r *BetSlipRepository) GetByID(ctx context.Context, id string) (*model.BetSlip, error) {
	const query = `SELECT ` + slipColumns + ` FROM bet_slips WHERE id = $1`
	return scanSlip(r.db.QueryRow(ctx, query, id))
}

// GetByIDForUpdate row-locks and retrieves a slip by id.
func (r *BetSlipRepository) GetByIDForUpdate(ctx context.Context, id string) (*model.BetSlip, error) {
	const query = `SELECT ` + slipColumns + ` FROM bet_slips WHERE id = $1 FOR UPDATE`
	return scanSlip(r.db.QueryRow(ctx, query, id))
}

// MarkSettled writes the slip's derived terminal status and actual payout.
// Guarded so a slip settles exactly once.
func (r *BetSlipRepository) MarkSettled(ctx context.Context, id, status string, actualPayoutCents int64, settledAt time.Time) error {
	const query = `
		UPDATE bet_slips
		SET status = $2, actual_payout_cents = $3, settled_at = $4
		WHERE id = $1 AND status = 'PENDING'`

	tag, err := r.db.Exec(ctx, query, id, status, actualPayoutCents, settledAt)
	if err != nil {
		return fmt.Errorf("failed to settle bet slip: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotPending
	}
	return nil
}
