// Package repository integration tests.
// Tests use testcontainers-go to spin up a PostgreSQL container.
package repository

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"wager-ledger/internal/model"
)

// checkDockerAvailable checks if Docker is available and running
func checkDockerAvailable() bool {
	cmd := exec.Command("docker", "info")
	err := cmd.Run()
	return err == nil
}

// setupTestDB creates a PostgreSQL container and returns a connection pool.
// Skips the test if Docker is not available.
func setupTestDB(t *testing.T) (*pgxpool.Pool, func()) {
	if !checkDockerAvailable() {
		t.Skip("Docker is not available, skipping integration test")
	}

	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)

	err = applySchema(ctx, pool)
	require.NoError(t, err)

	cleanup := func() {
		pool.Close()
		_ = pgContainer.Terminate(ctx)
	}

	return pool, cleanup
}

// applySchema creates the ledger tables.
func applySchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS bankrolls (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			league_id TEXT NOT NULL,
			week INT NOT NULL,
			starting_balance_cents BIGINT NOT NULL,
			current_balance_cents BIGINT NOT NULL,
			total_bets INT NOT NULL DEFAULT 0,
			pending_bets INT NOT NULL DEFAULT 0,
			won_bets INT NOT NULL DEFAULT 0,
			lost_bets INT NOT NULL DEFAULT 0,
			total_wagered_cents BIGINT NOT NULL DEFAULT 0,
			total_won_cents BIGINT NOT NULL DEFAULT 0,
			total_lost_cents BIGINT NOT NULL DEFAULT 0,
			status VARCHAR(16) NOT NULL DEFAULT 'ACTIVE',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (user_id, league_id, week)
		);

		CREATE TABLE IF NOT EXISTS bet_slips (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			bankroll_id TEXT NOT NULL REFERENCES bankrolls(id),
			league_id TEXT NOT NULL,
			leg_count INT NOT NULL,
			total_stake_cents BIGINT NOT NULL,
			combined_odds BIGINT NOT NULL,
			combined_decimal DOUBLE PRECISION NOT NULL,
			potential_payout_cents BIGINT NOT NULL,
			actual_payout_cents BIGINT NOT NULL DEFAULT 0,
			status VARCHAR(16) NOT NULL DEFAULT 'PENDING',
			settled_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS bets (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			bankroll_id TEXT NOT NULL REFERENCES bankrolls(id),
			slip_id TEXT REFERENCES bet_slips(id),
			league_id TEXT NOT NULL,
			game_id TEXT NOT NULL,
			event_date TIMESTAMPTZ NOT NULL,
			market VARCHAR(16) NOT NULL,
			selection TEXT NOT NULL,
			line DOUBLE PRECISION NOT NULL DEFAULT 0,
			odds BIGINT NOT NULL,
			stake_cents BIGINT NOT NULL,
			potential_payout_cents BIGINT NOT NULL,
			status VARCHAR(16) NOT NULL DEFAULT 'PENDING',
			result VARCHAR(8),
			settled_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS settlements (
			id TEXT PRIMARY KEY,
			bet_id TEXT NOT NULL UNIQUE REFERENCES bets(id),
			stake_cents BIGINT NOT NULL,
			payout_cents BIGINT NOT NULL DEFAULT 0,
			result VARCHAR(8) NOT NULL,
			home_score INT NOT NULL DEFAULT 0,
			away_score INT NOT NULL DEFAULT 0,
			settled_by VARCHAR(8) NOT NULL,
			notes TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`)
	return err
}

// createBankroll inserts a fresh test bankroll and returns it.
func createBankroll(t *testing.T, repo *BankrollRepository, userID string) *model.Bankroll {
	t.Helper()
	bankroll, err := repo.Create(context.Background(), uuid.NewString(), userID, "league-1", 202636, 100_000)
	require.NoError(t, err)
	return bankroll
}

// createBet inserts a pending straight bet on the given bankroll.
func createBet(t *testing.T, repo *BetRepository, bankroll *model.Bankroll, gameID string) *model.Bet {
	t.Helper()
	bet, err := repo.Create(context.Background(), &model.Bet{
		ID:                   uuid.NewString(),
		UserID:               bankroll.UserID,
		BankrollID:           bankroll.ID,
		LeagueID:             bankroll.LeagueID,
		GameID:               gameID,
		EventDate:            time.Now().Add(2 * time.Hour),
		Market:               model.MarketSpread,
		Selection:            "KC",
		Line:                 -3.5,
		Odds:                 -110,
		StakeCents:           5_000,
		PotentialPayoutCents: 9_545,
	})
	require.NoError(t, err)
	return bet
}

// ============================================================================
// BankrollRepository Tests
// ============================================================================

func TestBankrollRepository_CreateAndGet(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewBankrollRepository(pool)
	ctx := context.Background()

	bankroll := createBankroll(t, repo, "user-1")
	assert.Equal(t, "user-1", bankroll.UserID)
	assert.Equal(t, int64(100_000), bankroll.StartingBalanceCents)
	assert.Equal(t, int64(100_000), bankroll.CurrentBalanceCents)
	assert.Equal(t, model.BankrollStatusActive, bankroll.Status)

	fetched, err := repo.GetForWeek(ctx, "user-1", "league-1", 202636)
	require.NoError(t, err)
	assert.Equal(t, bankroll.ID, fetched.ID)

	_, err = repo.GetForWeek(ctx, "user-1", "league-1", 202637)
	assert.ErrorIs(t, err, ErrBankrollNotFound)

	// One bankroll per (user, league, week)
	_, err = repo.Create(ctx, uuid.NewString(), "user-1", "league-1", 202636, 100_000)
	assert.Error(t, err)
}

func TestBankrollRepository_PlacementAndSettlement(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewBankrollRepository(pool)
	ctx := context.Background()

	bankroll := createBankroll(t, repo, "user-1")

	// Debit a $50 stake
	require.NoError(t, repo.ApplyPlacement(ctx, bankroll.ID, 5_000))

	after, err := repo.GetByID(ctx, bankroll.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(95_000), after.CurrentBalanceCents)
	assert.Equal(t, 1, after.PendingBets)
	assert.Equal(t, 1, after.TotalBets)
	assert.Equal(t, int64(5_000), after.TotalWageredCents)

	// Settle it as a win paying $95.45: profit is payout minus stake
	require.NoError(t, repo.ApplySettlement(ctx, bankroll.ID, 9_545, 1, 0, 4_545, 0))

	after, err = repo.GetByID(ctx, bankroll.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(104_545), after.CurrentBalanceCents)
	assert.Equal(t, 0, after.PendingBets)
	assert.Equal(t, 1, after.WonBets)
	assert.Equal(t, int64(4_545), after.TotalWonCents)
	assert.InDelta(t, 0.909, after.ROI(), 0.001)
}

func TestBankrollRepository_CancellationRestoresBalance(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewBankrollRepository(pool)
	ctx := context.Background()

	bankroll := createBankroll(t, repo, "user-1")

	require.NoError(t, repo.ApplyPlacement(ctx, bankroll.ID, 5_000))
	require.NoError(t, repo.ApplyCancellation(ctx, bankroll.ID, 5_000))

	after, err := repo.GetByID(ctx, bankroll.ID)
	require.NoError(t, err)
	assert.Equal(t, bankroll.CurrentBalanceCents, after.CurrentBalanceCents)
	assert.Equal(t, 0, after.PendingBets)
	assert.Equal(t, 0, after.TotalBets)
	assert.Equal(t, int64(0), after.TotalWageredCents)
}

func TestBankrollRepository_WeeklySweeps(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewBankrollRepository(pool)
	ctx := context.Background()

	// Weeks 35 and 36 active, current week is 37
	old, err := repo.Create(ctx, uuid.NewString(), "user-1", "league-1", 202635, 100_000)
	require.NoError(t, err)
	_, err = repo.Create(ctx, uuid.NewString(), "user-1", "league-1", 202636, 100_000)
	require.NoError(t, err)
	current, err := repo.Create(ctx, uuid.NewString(), "user-1", "league-1", 202637, 100_000)
	require.NoError(t, err)

	rolled, err := repo.CompleteWeeksBefore(ctx, 202637)
	require.NoError(t, err)
	assert.Equal(t, int64(2), rolled)

	fetched, err := repo.GetByID(ctx, current.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BankrollStatusActive, fetched.Status)

	fetched, err = repo.GetByID(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BankrollStatusCompleted, fetched.Status)

	// Re-running is harmless
	rolled, err = repo.CompleteWeeksBefore(ctx, 202637)
	require.NoError(t, err)
	assert.Equal(t, int64(0), rolled)

	// Archive everything completed before week 36
	archived, err := repo.ArchiveCompletedBefore(ctx, 202636)
	require.NoError(t, err)
	assert.Equal(t, int64(1), archived)

	fetched, err = repo.GetByID(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BankrollStatusArchived, fetched.Status)
}

func TestBankrollRepository_ListByWeekOrdersByBalance(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewBankrollRepository(pool)
	ctx := context.Background()

	rich := createBankroll(t, repo, "user-rich")
	poor := createBankroll(t, repo, "user-poor")
	require.NoError(t, repo.ApplyPlacement(ctx, poor.ID, 40_000))

	list, err := repo.ListByWeek(ctx, "league-1", 202636)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, rich.ID, list[0].ID)
	assert.Equal(t, poor.ID, list[1].ID)
}

// ============================================================================
// BetRepository Tests
// ============================================================================

func TestBetRepository_Lifecycle(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	bankrolls := NewBankrollRepository(pool)
	bets := NewBetRepository(pool)
	ctx := context.Background()

	bankroll := createBankroll(t, bankrolls, "user-1")
	bet := createBet(t, bets, bankroll, "game-1")
	assert.Equal(t, model.BetStatusPending, bet.Status)
	assert.Nil(t, bet.SlipID)
	assert.Nil(t, bet.Result)
	assert.False(t, bet.IsTerminal())

	// Settle once
	err := bets.MarkSettled(ctx, bet.ID, model.BetStatusWon, model.ResultWin, time.Now())
	require.NoError(t, err)

	settled, err := bets.GetByID(ctx, bet.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BetStatusWon, settled.Status)
	require.NotNil(t, settled.Result)
	assert.Equal(t, model.ResultWin, *settled.Result)
	assert.True(t, settled.IsTerminal())

	// Terminal states are absorbing
	err = bets.MarkSettled(ctx, bet.ID, model.BetStatusLost, model.ResultLoss, time.Now())
	assert.ErrorIs(t, err, ErrNotPending)

	err = bets.MarkCancelled(ctx, bet.ID)
	assert.ErrorIs(t, err, ErrNotPending)
}

func TestBetRepository_MarkLiveStarted(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	bankrolls := NewBankrollRepository(pool)
	bets := NewBetRepository(pool)
	ctx := context.Background()

	bankroll := createBankroll(t, bankrolls, "user-1")
	started := createBet(t, bets, bankroll, "game-1")
	upcoming := createBet(t, bets, bankroll, "game-2")

	// game-1 kicked off an hour ago
	moved, err := bets.MarkLiveStarted(ctx, time.Now().Add(3*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), moved)

	// Both events are within 3h, narrow the window instead
	_, err = pool.Exec(ctx, `UPDATE bets SET status = 'PENDING' WHERE id = $1 OR id = $2`, started.ID, upcoming.ID)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `UPDATE bets SET event_date = NOW() - INTERVAL '1 hour' WHERE id = $1`, started.ID)
	require.NoError(t, err)

	moved, err = bets.MarkLiveStarted(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), moved)

	live, err := bets.GetByID(ctx, started.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BetStatusLive, live.Status)

	pending, err := bets.GetByID(ctx, upcoming.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BetStatusPending, pending.Status)

	// LIVE bets are still open for settlement queries
	open, err := bets.ListOpenByGameIDs(ctx, []string{"game-1", "game-2"})
	require.NoError(t, err)
	assert.Len(t, open, 2)
}

func TestBetRepository_ListOpenByUserGame(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	bankrolls := NewBankrollRepository(pool)
	bets := NewBetRepository(pool)
	ctx := context.Background()

	bankroll := createBankroll(t, bankrolls, "user-1")
	bet := createBet(t, bets, bankroll, "game-1")
	createBet(t, bets, bankroll, "game-2")

	open, err := bets.ListOpenByUserGame(ctx, "user-1", "game-1")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, bet.ID, open[0].ID)

	// Cancelled bets drop out of the open set
	require.NoError(t, bets.MarkCancelled(ctx, bet.ID))
	open, err = bets.ListOpenByUserGame(ctx, "user-1", "game-1")
	require.NoError(t, err)
	assert.Empty(t, open)
}

// ============================================================================
// BetSlipRepository Tests
// ============================================================================

func TestBetSlipRepository_CreateAndSettle(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	bankrolls := NewBankrollRepository(pool)
	slips := NewBetSlipRepository(pool)
	ctx := context.Background()

	bankroll := createBankroll(t, bankrolls, "user-1")

	slip, err := slips.Create(ctx, &model.BetSlip{
		ID:                   uuid.NewString(),
		UserID:               bankroll.UserID,
		BankrollID:           bankroll.ID,
		LeagueID:             bankroll.LeagueID,
		LegCount:             2,
		TotalStakeCents:      10_000,
		CombinedOdds:         377,
		CombinedDecimal:      4.7727,
		PotentialPayoutCents: 47_727,
	})
	require.NoError(t, err)
	assert.Equal(t, model.BetStatusPending, slip.Status)
	assert.Equal(t, int64(0), slip.ActualPayoutCents)

	require.NoError(t, slips.MarkSettled(ctx, slip.ID, model.BetStatusWon, 47_727, time.Now()))

	settled, err := slips.GetByID(ctx, slip.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BetStatusWon, settled.Status)
	assert.Equal(t, int64(47_727), settled.ActualPayoutCents)
	assert.NotNil(t, settled.SettledAt)

	// A slip settles exactly once
	err = slips.MarkSettled(ctx, slip.ID, model.BetStatusLost, 0, time.Now())
	assert.ErrorIs(t, err, ErrNotPending)
}

// ============================================================================
// SettlementRepository Tests
// ============================================================================

func TestSettlementRepository_IdempotencyMarker(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	bankrolls := NewBankrollRepository(pool)
	bets := NewBetRepository(pool)
	settlements := NewSettlementRepository(pool)
	ctx := context.Background()

	bankroll := createBankroll(t, bankrolls, "user-1")
	bet := createBet(t, bets, bankroll, "game-1")

	record, err := settlements.Create(ctx, &model.Settlement{
		ID:          uuid.NewString(),
		BetID:       bet.ID,
		StakeCents:  5_000,
		PayoutCents: 9_545,
		Result:      model.ResultWin,
		HomeScore:   24,
		AwayScore:   20,
		SettledBy:   model.SettledByAuto,
	})
	require.NoError(t, err)
	assert.Equal(t, bet.ID, record.BetID)

	// Second record for the same bet is rejected
	_, err = settlements.Create(ctx, &model.Settlement{
		ID:          uuid.NewString(),
		BetID:       bet.ID,
		StakeCents:  5_000,
		PayoutCents: 0,
		Result:      model.ResultLoss,
		SettledBy:   model.SettledByAuto,
	})
	assert.ErrorIs(t, err, ErrAlreadySettled)

	fetched, err := settlements.GetByBetID(ctx, bet.ID)
	require.NoError(t, err)
	assert.Equal(t, record.ID, fetched.ID)
	assert.Equal(t, model.ResultWin, fetched.Result)
}

func TestSettlementRepository_ManualNotes(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	bankrolls := NewBankrollRepository(pool)
	bets := NewBetRepository(pool)
	settlements := NewSettlementRepository(pool)
	ctx := context.Background()

	bankroll := createBankroll(t, bankrolls, "user-1")
	bet := createBet(t, bets, bankroll, "game-1")

	notes := "result feed outage, graded from the box score"
	record, err := settlements.Create(ctx, &model.Settlement{
		ID:         uuid.NewString(),
		BetID:      bet.ID,
		StakeCents: 5_000,
		Result:     model.ResultVoid,
		SettledBy:  model.SettledByManual,
		Notes:      &notes,
	})
	require.NoError(t, err)
	assert.Equal(t, model.SettledByManual, record.SettledBy)
	require.NotNil(t, record.Notes)
	assert.Equal(t, notes, *record.Notes)

	list, err := settlements.ListByBetIDs(ctx, []string{bet.ID})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, record.ID, list[0].ID)
}
