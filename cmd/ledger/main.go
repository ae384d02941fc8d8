// Package main is the entry point for the wagering ledger service.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"wager-ledger/internal/config"
	"wager-ledger/internal/events"
	"wager-ledger/internal/jobs"
	"wager-ledger/internal/model"
	"wager-ledger/internal/observability"
	"wager-ledger/internal/pkg/cache"
	"wager-ledger/internal/pkg/db"
	"wager-ledger/internal/pkg/lock"
	"wager-ledger/internal/repository"
	"wager-ledger/internal/service"
)

// application bundles the ledger's long-lived services. Placement and slip
// staging are owned here alongside settlement so a transport layer can be
// mounted on the same instance.
type application struct {
	bankrolls   *service.BankrollService
	placements  *service.PlacementService
	settlements *service.SettlementService
	staging     *service.SlipStagingService
}

func main() {
	// Configure zerolog
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// Load configuration
	cfg, err := config.Load("config")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log.Info().Msg("Configuration loaded successfully")

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database connection pool
	dbPool, err := db.NewPool(ctx, &cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer dbPool.Close()

	// Run database migrations
	if err := runMigrations(ctx, dbPool); err != nil {
		log.Fatal().Err(err).Msg("Failed to run database migrations")
	}

	// Connect Redis for slip staging and bankroll cache invalidation
	redisClient, err := cache.Connect(ctx, cfg.Redis.Addr, cfg.Redis.InvalidateChannel)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer redisClient.Close()

	// Outbound event publisher
	var publisher events.Publisher = events.NoopPublisher{}
	if !cfg.Kafka.DisablePublisher {
		publisher = events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.TopicBetPlaced, cfg.Kafka.TopicBetSettled)
	}
	defer publisher.Close()

	// Metrics
	metrics := observability.NewDefaultMetrics()

	// Initialize repositories
	bankrollRepo := repository.NewBankrollRepository(dbPool.Pool)
	betRepo := repository.NewBetRepository(dbPool.Pool)
	slipRepo := repository.NewBetSlipRepository(dbPool.Pool)
	settlementRepo := repository.NewSettlementRepository(dbPool.Pool)

	// Initialize services
	validator := service.NewValidator(cfg.Betting)
	bankrollService := service.NewBankrollService(bankrollRepo, cfg.Bankroll)
	bankrollLock := lock.NewBankrollLock()

	app := &application{
		bankrolls: bankrollService,
		placements: service.NewPlacementService(
			dbPool, validator, bankrollService,
			betRepo, slipRepo,
			redisClient, publisher, bankrollLock, metrics,
		),
		settlements: service.NewSettlementService(
			dbPool, bankrollService,
			betRepo, slipRepo, settlementRepo,
			redisClient, publisher, metrics,
			cfg.Betting.SettlementBatchSize,
		),
		staging: service.NewSlipStagingService(redisClient, cfg.Redis.SlipTTL),
	}

	// Metrics and health endpoint
	metricsSrv := observability.StartServer(cfg.Metrics.Port, func(ctx context.Context) error {
		if err := dbPool.HealthCheck(ctx); err != nil {
			return err
		}
		return redisClient.HealthCheck(ctx)
	})

	// Background sweeps: mark live, weekly rollover, archival
	manager := jobs.NewManager()
	manager.Register(&jobs.FuncJob{
		JobName:     "mark-live",
		JobInterval: cfg.Jobs.MarkLiveInterval,
		Fn: func(ctx context.Context) error {
			_, err := app.settlements.MarkLiveBets(ctx, time.Now())
			return err
		},
	})
	manager.Register(&jobs.FuncJob{
		JobName:     "bankroll-rollover",
		JobInterval: cfg.Jobs.RolloverInterval,
		Fn: func(ctx context.Context) error {
			_, err := app.bankrolls.ResetWeeklyBankrolls(ctx, time.Now())
			return err
		},
	})
	manager.Register(&jobs.FuncJob{
		JobName:     "bankroll-archive",
		JobInterval: cfg.Jobs.ArchiveInterval,
		Fn: func(ctx context.Context) error {
			_, err := app.bankrolls.ArchiveOldBankrolls(ctx, time.Now())
			return err
		},
	})

	go manager.Start(ctx)

	// Game result feed drives settlement, one job per completed game
	if !cfg.Kafka.DisableConsumer {
		consumer := events.NewGameResultConsumer(
			cfg.Kafka.Brokers, cfg.Kafka.TopicGameResults, cfg.Kafka.ConsumerGroup,
			func(ctx context.Context, results []model.GameResult) error {
				_, err := app.settlements.SettleCompletedGames(ctx, results)
				return err
			},
		)
		go func() {
			if err := consumer.Run(ctx); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("Game result consumer stopped")
			}
		}()
	}

	log.Info().Msg("Wagering ledger is running")

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Metrics server shutdown failed")
	}

	log.Info().Msg("Wagering ledger stopped gracefully")
}

// runMigrations executes database migrations.
func runMigrations(ctx context.Context, pool *db.Pool) error {
	log.Info().Msg("Running database migrations...")

	// Migration 1: Create bankrolls table
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
		CREATE INDEX IF NOT EXISTS idx_bankrolls_league_week ON bankrolls(league_id, week);
		CREATE INDEX IF NOT EXISTS idx_bankrolls_status_week ON bankrolls(status, week);
	`)
	if err != nil {
		return err
	}
	log.Info().Msg("Migration 1: bankrolls table created")

	// Migration 2: Create bet_slips table
	_, err = pool.Exec(ctx, `
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
		CREATE INDEX IF NOT EXISTS idx_bet_slips_user ON bet_slips(user_id, status);
	`)
	if err != nil {
		return err
	}
	log.Info().Msg("Migration 2: bet_slips table created")

	// Migration 3: Create bets table
	_, err = pool.Exec(ctx, `
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
		CREATE INDEX IF NOT EXISTS idx_bets_game_status ON bets(game_id, status);
		CREATE INDEX IF NOT EXISTS idx_bets_user_game ON bets(user_id, game_id);
		CREATE INDEX IF NOT EXISTS idx_bets_slip ON bets(slip_id);
	`)
	if err != nil {
		return err
	}
	log.Info().Msg("Migration 3: bets table created")

	// Migration 4: Create settlements table. The unique bet_id is the
	// settlement idempotency marker.
	_, err = pool.Exec(ctx, `
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
	if err != nil {
		return err
	}
	log.Info().Msg("Migration 4: settlements table created")

	return nil
}
