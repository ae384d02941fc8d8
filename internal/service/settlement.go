package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"wager-ledger/internal/events"
	"wager-ledger/internal/market"
	"wager-ledger/internal/model"
	"wager-ledger/internal/observability"
	"wager-ledger/internal/odds"
	"wager-ledger/internal/pkg/db"
	"wager-ledger/internal/repository"
)

// Settlement errors.
var (
	ErrBetAlreadySettled = errors.New("bet already settled")
	ErrInvalidResult     = errors.New("invalid settlement result")
)

// SettlementError ties a batch failure to the bet or slip that produced it.
// Collected, never thrown: one failure must not abort the rest of the batch.
type SettlementError struct {
	BetID  string
	SlipID string
	GameID string
	Err    error
}

// SettlementSummary reports the outcome of one settlement batch run.
type SettlementSummary struct {
	SettledCount int
	SettledBets  []string
	Errors       []SettlementError
}

// SettlementService evaluates pending bets and parlay slips against completed
// game results, credits bankrolls and writes the immutable audit trail. Each
// bet or slip settles under its own transaction so independent settlements
// never block each other.
type SettlementService struct {
	pool        *db.Pool
	bankrolls   *BankrollService
	bets        *repository.BetRepository
	slips       *repository.BetSlipRepository
	settlements *repository.SettlementRepository
	cache       CacheInvalidator
	publisher   events.Publisher
	metrics     *observability.Metrics
	batchSize   int
}

// NewSettlementService creates a new SettlementService instance.
func NewSettlementService(
	pool *db.Pool,
	bankrolls *BankrollService,
	bets *repository.BetRepository,
	slips *repository.BetSlipRepository,
	settlements *repository.SettlementRepository,
	cacheInvalidator CacheInvalidator,
	publisher events.Publisher,
	metrics *observability.Metrics,
	batchSize int,
) *SettlementService {
	if batchSize <= 0 {
		batchSize = 10
	}
	return &SettlementService{
		pool:        pool,
		bankrolls:   bankrolls,
		bets:        bets,
		slips:       slips,
		settlements: settlements,
		cache:       cacheInvalidator,
		publisher:   publisher,
		metrics:     metrics,
		batchSize:   batchSize,
	}
}

// settleOutcome carries one committed settlement out of its transaction so
// cache invalidation, metrics and events run strictly after commit.
type settleOutcome struct {
	betIDs      []string
	slipID      string
	userID      string
	leagueID    string
	week        int
	result      string
	stakeCents  int64
	creditCents int64
	settledBy   string
}

// SettleCompletedGames evaluates every open bet and parlay slip touching the
// given batch of game results. Bets already terminal are skipped, making the
// run safe to repeat. Per-item failures are collected into the summary.
func (s *SettlementService) SettleCompletedGames(ctx context.Context, results []model.GameResult) (*SettlementSummary, error) {
	resultsByGame := make(map[string]*model.GameResult, len(results))
	gameIDs := make([]string, 0, len(results))
	for i := range results {
		r := &results[i]
		if _, dup := resultsByGame[r.GameID]; dup {
			continue
		}
		resultsByGame[r.GameID] = r
		gameIDs = append(gameIDs, r.GameID)
	}

	open, err := s.bets.ListOpenByGameIDs(ctx, gameIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch open bets: %w", err)
	}

	// Partition into standalone bets and parlay slips.
	var standalone []*model.Bet
	slipSeen := make(map[string]bool)
	var slipIDs []string
	for _, bet := range open {
		if bet.SlipID == nil {
			standalone = append(standalone, bet)
			continue
		}
		if !slipSeen[*bet.SlipID] {
			slipSeen[*bet.SlipID] = true
			slipIDs = append(slipIDs, *bet.SlipID)
		}
	}

	summary := &SettlementSummary{}
	var mu sync.Mutex

	record := func(out *settleOutcome, serr *SettlementError) {
		mu.Lock()
		defer mu.Unlock()
		if serr != nil {
			summary.Errors = append(summary.Errors, *serr)
			s.metrics.SettlementErrors.Inc()
			return
		}
		if out != nil {
			summary.SettledCount++
			summary.SettledBets = append(summary.SettledBets, out.betIDs...)
		}
	}

	work := make([]func(), 0, len(standalone)+len(slipIDs))
	for _, bet := range standalone {
		bet := bet
		work = append(work, func() {
			out, err := s.settleStandalone(ctx, bet.ID, resultsByGame[bet.GameID])
			if err != nil {
				record(nil, &SettlementError{BetID: bet.ID, GameID: bet.GameID, Err: err})
				return
			}
			if out != nil {
				s.afterSettlement(ctx, out)
			}
			record(out, nil)
		})
	}
	for _, slipID := range slipIDs {
		slipID := slipID
		work = append(work, func() {
			out, err := s.settleSlip(ctx, slipID, resultsByGame)
			if err != nil {
				record(nil, &SettlementError{SlipID: slipID, Err: err})
				return
			}
			if out != nil {
				s.afterSettlement(ctx, out)
			}
			record(out, nil)
		})
	}

	// Batch members settle concurrently, each under its own transaction; the
	// bankroll row locks serialize the rare same-user overlap.
	for start := 0; start < len(work); start += s.batchSize {
		end := start + s.batchSize
		if end > len(work) {
			end = len(work)
		}
		var wg sync.WaitGroup
		for _, fn := range work[start:end] {
			wg.Add(1)
			go func(fn func()) {
				defer wg.Done()
				fn()
			}(fn)
		}
		wg.Wait()
	}

	log.Info().
		Int("games", len(gameIDs)).
		Int("settled", summary.SettledCount).
		Int("errors", len(summary.Errors)).
		Msg("Settlement batch finished")

	return summary, nil
}

// settleStandalone settles one straight bet under its own transaction.
// Returns nil outcome when the bet was already terminal (idempotent skip).
func (s *SettlementService) settleStandalone(ctx context.Context, betID string, result *model.GameResult) (*settleOutcome, error) {
	if result == nil {
		return nil, fmt.Errorf("no result for bet %s", betID)
	}

	var out *settleOutcome
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		bet, err := s.bets.WithTx(tx).GetByIDForUpdate(ctx, betID)
		if err != nil {
			return err
		}
		if bet.IsTerminal() {
			return nil // already settled, skip
		}

		res, err := market.Evaluate(bet, result)
		if err != nil {
			return err
		}
		credit := creditFor(res, bet.StakeCents, bet.PotentialPayoutCents)
		now := time.Now()

		if err := s.bets.WithTx(tx).MarkSettled(ctx, bet.ID, market.ResultToStatus(res), res, now); err != nil {
			return err
		}
		if _, err := s.settlements.WithTx(tx).Create(ctx, &model.Settlement{
			ID:          uuid.NewString(),
			BetID:       bet.ID,
			StakeCents:  bet.StakeCents,
			PayoutCents: credit,
			Result:      res,
			HomeScore:   result.HomeScore,
			AwayScore:   result.AwayScore,
			SettledBy:   model.SettledByAuto,
		}); err != nil {
			return err
		}
		if err := s.bankrolls.RecordBetSettlement(ctx, tx, bet.BankrollID, bet.StakeCents, credit, res); err != nil {
			return err
		}

		bankroll, err := s.bankrolls.GetByIDTx(ctx, tx, bet.BankrollID)
		if err != nil {
			return err
		}
		out = &settleOutcome{
			betIDs:      []string{bet.ID},
			userID:      bet.UserID,
			leagueID:    bet.LeagueID,
			week:        bankroll.Week,
			result:      res,
			stakeCents:  bet.StakeCents,
			creditCents: credit,
			settledBy:   model.SettledByAuto,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// settleSlip settles a whole parlay slip atomically. The slip stays pending
// until every leg has a result; a single confirmed loss loses the slip; push
// and void legs reduce the payout by the remaining-leg fraction.
func (s *SettlementService) settleSlip(ctx context.Context, slipID string, resultsByGame map[string]*model.GameResult) (*settleOutcome, error) {
	var out *settleOutcome
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		slip, err := s.slips.WithTx(tx).GetByIDForUpdate(ctx, slipID)
		if err != nil {
			return err
		}
		if slip.Status != model.BetStatusPending {
			return nil // already settled, skip
		}

		legs, err := s.bets.WithTx(tx).ListBySlipIDForUpdate(ctx, slipID)
		if err != nil {
			return err
		}

		legResults := make([]string, len(legs))
		for i, leg := range legs {
			if leg.IsTerminal() {
				// Settled out of band (manual override); reuse its result.
				if leg.Result == nil {
					return fmt.Errorf("terminal leg %s has no result", leg.ID)
				}
				legResults[i] = *leg.Result
				continue
			}
			result, ok := resultsByGame[leg.GameID]
			if !ok {
				// A leg's game has not finished: no partial settlement,
				// the whole slip stays pending.
				return nil
			}
			res, err := market.Evaluate(leg, result)
			if err != nil {
				return err
			}
			legResults[i] = res
		}

		slipStatus, slipResult, credit := resolveParlay(legResults, slip.TotalStakeCents, slip.PotentialPayoutCents)
		now := time.Now()

		// Resolved payout is split across legs for audit only; the bankroll
		// credit happens once, against the slip's bankroll.
		legShares := odds.SplitStake(credit, len(legs))
		for i, leg := range legs {
			if leg.IsTerminal() {
				continue // its manual settlement row already exists
			}
			if err := s.bets.WithTx(tx).MarkSettled(ctx, leg.ID, market.ResultToStatus(legResults[i]), legResults[i], now); err != nil {
				return err
			}
			result := resultsByGame[leg.GameID]
			if _, err := s.settlements.WithTx(tx).Create(ctx, &model.Settlement{
				ID:          uuid.NewString(),
				BetID:       leg.ID,
				StakeCents:  leg.StakeCents,
				PayoutCents: legShares[i],
				Result:      legResults[i],
				HomeScore:   result.HomeScore,
				AwayScore:   result.AwayScore,
				SettledBy:   model.SettledByAuto,
			}); err != nil {
				return err
			}
		}

		if err := s.slips.WithTx(tx).MarkSettled(ctx, slip.ID, slipStatus, credit, now); err != nil {
			return err
		}
		if err := s.bankrolls.RecordBetSettlement(ctx, tx, slip.BankrollID, slip.TotalStakeCents, credit, slipResult); err != nil {
			return err
		}

		bankroll, err := s.bankrolls.GetByIDTx(ctx, tx, slip.BankrollID)
		if err != nil {
			return err
		}
		betIDs := make([]string, len(legs))
		for i, leg := range legs {
			betIDs[i] = leg.ID
		}
		out = &settleOutcome{
			betIDs:      betIDs,
			slipID:      slip.ID,
			userID:      slip.UserID,
			leagueID:    slip.LeagueID,
			week:        bankroll.Week,
			result:      slipResult,
			stakeCents:  slip.TotalStakeCents,
			creditCents: credit,
			settledBy:   model.SettledByAuto,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ManuallySettleBet is the admin escape hatch for disputed or ungradable
// bets. It bypasses market evaluation, applies the same credit logic and tags
// the settlement record MANUAL with the justification. Settling a parlay leg
// records the leg only; the slip finalizes through the normal reduction once
// every leg is terminal.
func (s *SettlementService) ManuallySettleBet(ctx context.Context, betID, result, notes string) (*model.Bet, error) {
	switch result {
	case model.ResultWin, model.ResultLoss, model.ResultPush, model.ResultVoid:
	default:
		return nil, ErrInvalidResult
	}

	var (
		settled *model.Bet
		out     *settleOutcome
	)
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		bet, err := s.bets.WithTx(tx).GetByIDForUpdate(ctx, betID)
		if err != nil {
			return err
		}

		if bet.SlipID == nil {
			if bet.IsTerminal() {
				return ErrBetAlreadySettled
			}
			return s.manualStandalone(ctx, tx, bet, result, notes, &settled, &out)
		}
		return s.manualParlayLeg(ctx, tx, bet, result, notes, &settled, &out)
	})
	if err != nil {
		return nil, err
	}

	if out != nil {
		s.afterSettlement(ctx, out)
	}
	return settled, nil
}

// manualStandalone settles a straight bet by admin decision.
func (s *SettlementService) manualStandalone(ctx context.Context, tx pgx.Tx, bet *model.Bet, result, notes string, settled **model.Bet, out **settleOutcome) error {
	credit := creditFor(result, bet.StakeCents, bet.PotentialPayoutCents)
	now := time.Now()

	if err := s.bets.WithTx(tx).MarkSettled(ctx, bet.ID, market.ResultToStatus(result), result, now); err != nil {
		return err
	}
	if _, err := s.settlements.WithTx(tx).Create(ctx, &model.Settlement{
		ID:          uuid.NewString(),
		BetID:       bet.ID,
		StakeCents:  bet.StakeCents,
		PayoutCents: credit,
		Result:      result,
		SettledBy:   model.SettledByManual,
		Notes:       &notes,
	}); err != nil {
		return err
	}
	if err := s.bankrolls.RecordBetSettlement(ctx, tx, bet.BankrollID, bet.StakeCents, credit, result); err != nil {
		return err
	}

	bankroll, err := s.bankrolls.GetByIDTx(ctx, tx, bet.BankrollID)
	if err != nil {
		return err
	}

	bet.Status = market.ResultToStatus(result)
	bet.Result = &result
	*settled = bet
	*out = &settleOutcome{
		betIDs:      []string{bet.ID},
		userID:      bet.UserID,
		leagueID:    bet.LeagueID,
		week:        bankroll.Week,
		result:      result,
		stakeCents:  bet.StakeCents,
		creditCents: credit,
		settledBy:   model.SettledByManual,
	}
	return nil
}

// manualParlayLeg settles one leg by admin decision. The leg's settlement row
// carries no payout; money only moves when the slip itself finalizes.
func (s *SettlementService) manualParlayLeg(ctx context.Context, tx pgx.Tx, bet *model.Bet, result, notes string, settled **model.Bet, out **settleOutcome) error {
	// Lock slip before legs, same order as automatic settlement.
	slip, err := s.slips.WithTx(tx).GetByIDForUpdate(ctx, *bet.SlipID)
	if err != nil {
		return err
	}
	if slip.Status != model.BetStatusPending {
		return ErrBetAlreadySettled
	}
	legs, err := s.bets.WithTx(tx).ListBySlipIDForUpdate(ctx, slip.ID)
	if err != nil {
		return err
	}

	var target *model.Bet
	for _, leg := range legs {
		if leg.ID == bet.ID {
			target = leg
			break
		}
	}
	if target == nil {
		return repository.ErrBetNotFound
	}
	if target.IsTerminal() {
		return ErrBetAlreadySettled
	}

	now := time.Now()
	if err := s.bets.WithTx(tx).MarkSettled(ctx, target.ID, market.ResultToStatus(result), result, now); err != nil {
		return err
	}
	if _, err := s.settlements.WithTx(tx).Create(ctx, &model.Settlement{
		ID:         uuid.NewString(),
		BetID:      target.ID,
		StakeCents: target.StakeCents,
		Result:     result,
		SettledBy:  model.SettledByManual,
		Notes:      &notes,
	}); err != nil {
		return err
	}

	target.Status = market.ResultToStatus(result)
	target.Result = &result
	*settled = target

	// Finalize the slip if this was the last open leg.
	legResults := make([]string, len(legs))
	for i, leg := range legs {
		if leg.ID == target.ID {
			legResults[i] = result
			continue
		}
		if !leg.IsTerminal() || leg.Result == nil {
			return nil // slip still waiting on other legs
		}
		legResults[i] = *leg.Result
	}

	slipStatus, slipResult, credit := resolveParlay(legResults, slip.TotalStakeCents, slip.PotentialPayoutCents)
	if err := s.slips.WithTx(tx).MarkSettled(ctx, slip.ID, slipStatus, credit, now); err != nil {
		return err
	}
	if err := s.bankrolls.RecordBetSettlement(ctx, tx, slip.BankrollID, slip.TotalStakeCents, credit, slipResult); err != nil {
		return err
	}

	bankroll, err := s.bankrolls.GetByIDTx(ctx, tx, slip.BankrollID)
	if err != nil {
		return err
	}
	*out = &settleOutcome{
		betIDs:      []string{target.ID},
		slipID:      slip.ID,
		userID:      slip.UserID,
		leagueID:    slip.LeagueID,
		week:        bankroll.Week,
		result:      slipResult,
		stakeCents:  slip.TotalStakeCents,
		creditCents: credit,
		settledBy:   model.SettledByManual,
	}
	return nil
}

// resolveParlay derives a slip's terminal status, result and bankroll credit
// from its legs' results.
//
// Any confirmed loss loses the slip. With no loss, push and void legs drop
// out and the payout scales by the fraction of legs that stayed active; zero
// active legs voids the slip for a full refund.
func resolveParlay(legResults []string, totalStakeCents, potentialPayoutCents int64) (status, result string, creditCents int64) {
	active := 0
	for _, r := range legResults {
		switch r {
		case model.ResultLoss:
			return model.BetStatusLost, model.ResultLoss, 0
		case model.ResultWin:
			active++
		}
	}

	total := len(legResults)
	switch {
	case active == 0:
		return model.BetStatusVoid, model.ResultVoid, totalStakeCents
	case active == total:
		return model.BetStatusWon, model.ResultWin, potentialPayoutCents
	default:
		return model.BetStatusWon, model.ResultWin, odds.ScalePayout(potentialPayoutCents, active, total)
	}
}

// creditFor maps a result to the amount returned to the bankroll.
func creditFor(result string, stakeCents, potentialPayoutCents int64) int64 {
	switch result {
	case model.ResultWin:
		return potentialPayoutCents
	case model.ResultPush, model.ResultVoid:
		return stakeCents
	default:
		return 0
	}
}

// MarkLiveBets flips PENDING bets whose event started to LIVE. Run on a
// schedule by the job manager.
func (s *SettlementService) MarkLiveBets(ctx context.Context, now time.Time) (int64, error) {
	moved, err := s.bets.MarkLiveStarted(ctx, now)
	if err != nil {
		return 0, err
	}
	if moved > 0 {
		log.Info().Int64("count", moved).Msg("Bets marked live")
	}
	return moved, nil
}

// inTx runs fn inside a transaction, rolling back on any error.
func (s *SettlementService) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
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

// afterSettlement runs post-commit side effects: cache invalidation, metrics
// and the outbound settled event.
func (s *SettlementService) afterSettlement(ctx context.Context, out *settleOutcome) {
	if s.cache != nil {
		s.cache.InvalidateBankroll(ctx, out.userID, out.leagueID, out.week)
	}
	s.metrics.BetsSettled.WithLabelValues(out.result).Inc()
	s.metrics.PayoutCents.Add(float64(out.creditCents))

	if s.publisher == nil {
		return
	}
	betID := ""
	if len(out.betIDs) > 0 {
		betID = out.betIDs[0]
	}
	err := s.publisher.PublishBetSettled(ctx, events.BetSettled{
		BetID:       betID,
		SlipID:      out.slipID,
		UserID:      out.userID,
		LeagueID:    out.leagueID,
		Result:      out.result,
		StakeCents:  out.stakeCents,
		PayoutCents: out.creditCents,
		SettledBy:   out.settledBy,
	})
	if err != nil {
		log.Warn().Err(err).Str("slip_id", out.slipID).Msg("Failed to publish bet settled event")
	}
}
