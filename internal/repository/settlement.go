package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"wager-ledger/internal/model"
)

const settlementColumns = `id, bet_id, stake_cents, payout_cents, result,
	home_score, away_score, settled_by, notes, created_at`

// SettlementRepository handles the append-only settlement audit records.
// Rows are never updated after creation.
type SettlementRepository struct {
	db DBTX
}

// NewSettlementRepository creates a new SettlementRepository instance.
func NewSettlementRepository(db DBTX) *SettlementRepository {
	return &SettlementRepository{db: db}
}

// WithTx returns a copy of the repository bound to the given transaction.
func (r *SettlementRepository) WithTx(tx pgx.Tx) *SettlementRepository {
	return &SettlementRepository{db: tx}
}

func scanSettlement(row pgx.Row) (*model.Settlement, error) {
	var s model.Settlement
	err := row.Scan(
		&s.ID, &s.BetID, &s.StakeCents, &s.PayoutCents, &s.Result,
		&s.HomeScore, &s.AwayScore, &s.SettledBy, &s.Notes, &s.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBetNotFound
		}
		return nil, fmt.Errorf("failed to scan settlement: %w", err)
	}
	return &s, nil
}

// Create appends a settlement record. The unique bet_id constraint rejects a
// second record for the same bet with ErrAlreadySettled, which makes the row
// the durable idempotency marker for the whole settlement transaction.
func (r *SettlementRepository) Create(ctx context.Context, s *model.Settlement) (*model.Settlement, error) {
	const query = `
		INSERT INTO settlements (id, bet_id, stake_cents, payout_cents, result,
			home_score, away_score, settled_by, notes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		RETURNING ` + settlementColumns

	created, err := scanSettlement(r.db.QueryRow(ctx, query,
		s.ID, s.BetID, s.StakeCents, s.PayoutCents, s.Result,
		s.HomeScore, s.AwayScore, s.SettledBy, s.Notes,
	))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrAlreadySettled
		}
		return nil, err
	}
	return created, nil
}

// GetByBetID retrieves the settlement record for a bet, if any.
func (r *SettlementRepository) GetByBetID(ctx context.Context, betID string) (*model.Settlement, error) {
	const query = `SELECT ` + settlementColumns + ` FROM settlements WHERE bet_id = $1`
	return scanSettlement(r.db.QueryRow(ctx, query, betID))
}

// ListByBetIDs retrieves settlement records for several bets at once, used by
// downstream readers (statistics, competitions).
func (r *SettlementRepository) ListByBetIDs(ctx context.Context, betIDs []string) ([]*model.Settlement, error) {
	const query = `
		SELECT ` + settlementColumns + `
		FROM settlements
		WHERE bet_id = ANY($1)
		ORDER BY created_at`

	rows, err := r.db.Query(ctx, query, betIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to list settlements: %w", err)
	}
	defer rows.Close()

	var settlements []*model.Settlement
	for rows.Next() {
		s, err := scanSettlement(rows)
		if err != nil {
			return nil, err
		}
		settlements = append(settlements, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating settlements: %w", err)
	}
	return settlements, nil
}
