package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"wager-ledger/internal/model"
)

const betColumns = `id, user_id, bankroll_id, slip_id, league_id, game_id, event_date,
	market, selection, line, odds, stake_cents, potential_payout_cents,
	status, result, settled_at, created_at, updated_at`

// BetRepository handles bet persistence for both straight bets and parlay
// legs.
type BetRepository struct {
	db DBTX
}

// NewBetRepository creates a new BetRepository instance.
func NewBetRepository(db DBTX) *BetRepository {
	return &BetRepository{db: db}
}

// WithTx returns a copy of the repository bound to the given transaction.
func (r *BetRepository) WithTx(tx pgx.Tx) *BetRepository {
	return &BetRepository{db: tx}
}

func scanBet(row pgx.Row) (*model.Bet, error) {
	var b model.Bet
	err := row.Scan(
		&b.ID, &b.UserID, &b.BankrollID, &b.SlipID, &b.LeagueID, &b.GameID, &b.EventDate,
		&b.Market, &b.Selection, &b.Line, &b.Odds, &b.StakeCents, &b.PotentialPayoutCents,
		&b.Status, &b.Result, &b.SettledAt, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBetNotFound
		}
		return nil, fmt.Errorf("failed to scan bet: %w", err)
	}
	return &b, nil
}

// Create inserts a new PENDING bet.
func (r *BetRepository) Create(ctx context.Context, b *model.Bet) (*model.Bet, error) {
	const query = `
		INSERT INTO bets (id, user_id, bankroll_id, slip_id, league_id, game_id, event_date,
			market, selection, line, odds, stake_cents, potential_payout_cents,
			status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, 'PENDING', NOW(), NOW())
		RETURNING ` + betColumns

	return scanBet(r.db.QueryRow(ctx, query,
		b.ID, b.UserID, b.BankrollID, b.SlipID, b.LeagueID, b.GameID, b.EventDate,
		b.Market, b.Selection, b.Line, b.Odds, b.StakeCents, b.PotentialPayoutCents,
	))
}

// GetByID retrieves a bet by id.
func (r *BetRepository) GetByID(ctx context.Context, id string) (*model.Bet, error) {
	const query = `SELECT ` + betColumns + ` FROM bets WHERE id = $1`
	return scanBet(r.db.QueryRow(ctx, query, id))
}

// GetByIDForUpdate row-locks and retrieves a bet by id. Must be called on a
// transaction-bound repository.
func (r *BetRepository) GetByIDForUpdate(ctx context.Context, id string) (*model.Bet, error) {
	const query = `SELECT ` + betColumns + ` FROM bets WHERE id = $1 FOR UPDATE`
	return scanBet(r.db.QueryRow(ctx, query, id))
}

func (r *BetRepository) list(ctx context.Context, query string, args ...any) ([]*model.Bet, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list bets: %w", err)
	}
	defer rows.Close()

	var bets []*model.Bet
	for rows.Next() {
		b, err := scanBet(rows)
		if err != nil {
			return nil, err
		}
		bets = append(bets, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating bets: %w", err)
	}
	return bets, nil
}

// ListOpenByGameIDs returns all PENDING/LIVE bets on any of the given games.
// Settlement starts here.
func (r *BetRepository) ListOpenByGameIDs(ctx context.Context, gameIDs []string) ([]*model.Bet, error) {
	const query = `
		SELECT ` + betColumns + `
		FROM bets
		WHERE game_id = ANY($1) AND status IN ('PENDING', 'LIVE')
		ORDER BY created_at`

	return r.list(ctx, query, gameIDs)
}

// ListOpenByUserGame returns a user's open bets on a game, used by the
// validator's duplicate check.
func (r *BetRepository) ListOpenByUserGame(ctx context.Context, userID, gameID string) ([]*model.Bet, error) {
	const query = `
		SELECT ` + betColumns + `
		FROM bets
		WHERE user_id = $1 AND game_id = $2 AND status IN ('PENDING', 'LIVE')`

	return r.list(ctx, query, userID, gameID)
}

// ListBySlipIDForUpdate row-locks and returns all legs of a parlay slip in
// creation order.
func (r *BetRepository) ListBySlipIDForUpdate(ctx context.Context, slipID string) ([]*model.Bet, error) {
	const query = `
		SELECT ` + betColumns + `
		FROM bets
		WHERE slip_id = $1
		ORDER BY created_at
		FOR UPDATE`

	return r.list(ctx, query, slipID)
}

// MarkSettled transitions a bet to a terminal status. The status guard makes
// re-settlement a no-op: ErrNotPending is returned when the bet already left
// PENDING/LIVE.
func (r *BetRepository) MarkSettled(ctx context.Context, id, status, result string, settledAt time.Time) error {
	const query = `
		UPDATE bets
		SET status = $2, result = $3, settled_at = $4, updated_at = NOW()
		WHERE id = $1 AND status IN ('PENDING', 'LIVE')`

	tag, err := r.db.Exec(ctx, query, id, status, result, settledAt)
	if err != nil {
		return fmt.Errorf("failed to settle bet: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotPending
	}
	return nil
}

// MarkCancelled transitions a bet to CANCELLED. Only PENDING bets qualify;
// anything else returns ErrNotPending.
func (r *BetRepository) MarkCancelled(ctx context.Context, id string) error {
	const query = `
		UPDATE bets
		SET status = 'CANCELLED', updated_at = NOW()
		WHERE id = $1 AND status = 'PENDING'`

	tag, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to cancel bet: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotPending
	}
	return nil
}

// MarkLiveStarted flips PENDING bets whose event has started to LIVE.
// Returns the number of bets transitioned.
func (r *BetRepository) MarkLiveStarted(ctx context.Context, now time.Time) (int64, error) {
	const query = `
		UPDATE bets
		SET status = 'LIVE', updated_at = NOW()
		WHERE status = 'PENDING' AND event_date <= $1`

	tag, err := r.db.Exec(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("failed to mark live bets: %w", err)
	}
	return tag.RowsAffected(), nil
}
