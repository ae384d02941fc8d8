package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"wager-ledger/internal/model"
)

// bankrollColumns is the scan list shared by every bankroll query.
const bankrollColumns = `id, user_id, league_id, week, starting_balance_cents, current_balance_cents,
	total_bets, pending_bets, won_bets, lost_bets,
	total_wagered_cents, total_won_cents, total_lost_cents, status, created_at, updated_at`

// BankrollRepository handles bankroll persistence. It is the only code that
// writes bankroll rows.
type BankrollRepository struct {
	db DBTX
}

// NewBankrollRepository creates a new BankrollRepository instance.
func NewBankrollRepository(db DBTX) *BankrollRepository {
	return &BankrollRepository{db: db}
}

// WithTx returns a copy of the repository bound to the given transaction.
func (r *BankrollRepository) WithTx(tx pgx.Tx) *BankrollRepository {
	return &BankrollRepository{db: tx}
}

func scanBankroll(row pgx.Row) (*model.Bankroll, error) {
	var b model.Bankroll
	err := row.Scan(
		&b.ID, &b.UserID, &b.LeagueID, &b.Week,
		&b.StartingBalanceCents, &b.CurrentBalanceCents,
		&b.TotalBets, &b.PendingBets, &b.WonBets, &b.LostBets,
		&b.TotalWageredCents, &b.TotalWonCents, &b.TotalLostCents,
		&b.Status, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBankrollNotFound
		}
		return nil, fmt.Errorf("failed to scan bankroll: %w", err)
	}
	return &b, nil
}

// Create inserts a fresh ACTIVE bankroll with the given starting balance.
func (r *BankrollRepository) Create(ctx context.Context, id, userID, leagueID string, week int, startCents int64) (*model.Bankroll, error) {
	const query = `
		INSERT INTO bankrolls (id, user_id, league_id, week, starting_balance_cents, current_balance_cents,
			total_bets, pending_bets, won_bets, lost_bets,
			total_wagered_cents, total_won_cents, total_lost_cents, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5, 0, 0, 0, 0, 0, 0, 0, 'ACTIVE', NOW(), NOW())
		RETURNING ` + bankrollColumns

	return scanBankroll(r.db.QueryRow(ctx, query, id, userID, leagueID, week, startCents))
}

// GetForWeek retrieves the bankroll for (user, league, week).
// Returns ErrBankrollNotFound if none exists yet.
func (r *BankrollRepository) GetForWeek(ctx context.Context, userID, leagueID string, week int) (*model.Bankroll, error) {
	const query = `
		SELECT ` + bankrollColumns + `
		FROM bankrolls
		WHERE user_id = $1 AND league_id = $2 AND week = $3`

	return scanBankroll(r.db.QueryRow(ctx, query, userID, leagueID, week))
}

// GetForWeekForUpdate row-locks and retrieves the bankroll for
// (user, league, week). Must be called on a transaction-bound repository.
func (r *BankrollRepository) GetForWeekForUpdate(ctx context.Context, userID, leagueID string, week int) (*model.Bankroll, error) {
	const query = `
		SELECT ` + bankrollColumns + `
		FROM bankrolls
		WHERE user_id = $1 AND league_id = $2 AND week = $3
		FOR UPDATE`

	return scanBankroll(r.db.QueryRow(ctx, query, userID, leagueID, week))
}

// GetByIDForUpdate row-locks and retrieves a bankroll by id.
func (r *BankrollRepository) GetByIDForUpdate(ctx context.Context, id string) (*model.Bankroll, error) {
	const query = `
		SELECT ` + bankrollColumns + `
		FROM bankrolls
		WHERE id = $1
		FOR UPDATE`

	return scanBankroll(r.db.QueryRow(ctx, query, id))
}

// GetByID retrieves a bankroll by id.
func (r *BankrollRepository) GetByID(ctx context.Context, id string) (*model.Bankroll, error) {
	const query = `
		SELECT ` + bankrollColumns + `
		FROM bankrolls
		WHERE id = $1`

	return scanBankroll(r.db.QueryRow(ctx, query, id))
}

// ApplyPlacement debits a stake: balance down, one more pending bet, total
// wagered up. The caller must already hold the row lock in its transaction.
func (r *BankrollRepository) ApplyPlacement(ctx context.Context, id string, stakeCents int64) error {
	const query = `
		UPDATE bankrolls
		SET current_balance_cents = current_balance_cents - $2,
			pending_bets = pending_bets + 1,
			total_bets = total_bets + 1,
			total_wagered_cents = total_wagered_cents + $2,
			updated_at = NOW()
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, id, stakeCents)
	if err != nil {
		return fmt.Errorf("failed to apply placement debit: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrBankrollNotFound
	}
	return nil
}

// ApplyCancellation refunds a stake and removes the bet's financial
// footprint, as if it was never placed.
func (r *BankrollRepository) ApplyCancellation(ctx context.Context, id string, stakeCents int64) error {
	const query = `
		UPDATE bankrolls
		SET current_balance_cents = current_balance_cents + $2,
			pending_bets = pending_bets - 1,
			total_bets = total_bets - 1,
			total_wagered_cents = total_wagered_cents - $2,
			updated_at = NOW()
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, id, stakeCents)
	if err != nil {
		return fmt.Errorf("failed to apply cancellation refund: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrBankrollNotFound
	}
	return nil
}

// ApplySettlement credits a resolution: creditCents goes back on the balance
// (payout on a win, stake on a push/void, zero on a loss) and the counters
// move. A parlay slip counts as one wagering unit, the same way it was
// debited once at placement.
func (r *BankrollRepository) ApplySettlement(ctx context.Context, id string, creditCents int64, wonDelta, lostDelta int, wonCents, lostCents int64) error {
	const query = `
		UPDATE bankrolls
		SET current_balance_cents = current_balance_cents + $2,
			pending_bets = pending_bets - 1,
			won_bets = won_bets + $3,
			lost_bets = lost_bets + $4,
			total_won_cents = total_won_cents + $5,
			total_lost_cents = total_lost_cents + $6,
			updated_at = NOW()
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, id, creditCents, wonDelta, lostDelta, wonCents, lostCents)
	if err != nil {
		return fmt.Errorf("failed to apply settlement credit: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrBankrollNotFound
	}
	return nil
}

// CompleteWeeksBefore rolls every ACTIVE bankroll from a week older than the
// given one forward to COMPLETED. Returns the number of bankrolls rolled.
func (r *BankrollRepository) CompleteWeeksBefore(ctx context.Context, week int) (int64, error) {
	const query = `
		UPDATE bankrolls
		SET status = 'COMPLETED', updated_at = NOW()
		WHERE status = 'ACTIVE' AND week < $1`

	tag, err := r.db.Exec(ctx, query, week)
	if err != nil {
		return 0, fmt.Errorf("failed to complete old bankrolls: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ArchiveCompletedBefore archives COMPLETED bankrolls older than the
// retention window. Returns the number of bankrolls archived.
func (r *BankrollRepository) ArchiveCompletedBefore(ctx context.Context, week int) (int64, error) {
	const query = `
		UPDATE bankrolls
		SET status = 'ARCHIVED', updated_at = NOW()
		WHERE status = 'COMPLETED' AND week < $1`

	tag, err := r.db.Exec(ctx, query, week)
	if err != nil {
		return 0, fmt.Errorf("failed to archive old bankrolls: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListByWeek returns all bankrolls for a league week ordered by balance,
// the read feed for the out-of-scope leaderboard layer.
func (r *BankrollRepository) ListByWeek(ctx context.Context, leagueID string, week int) ([]*model.Bankroll, error) {
	const query = `
		SELECT ` + bankrollColumns + `
		FROM bankrolls
		WHERE league_id = $1 AND week = $2
		ORDER BY current_balance_cents DESC`

	rows, err := r.db.Query(ctx, query, leagueID, week)
	if err != nil {
		return nil, fmt.Errorf("failed to list bankrolls: %w", err)
	}
	defer rows.Close()

	var bankrolls []*model.Bankroll
	for rows.Next() {
		b, err := scanBankroll(rows)
		if err != nil {
			return nil, err
		}
		bankrolls = append(bankrolls, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating bankrolls: %w", err)
	}
	return bankrolls, nil
}
