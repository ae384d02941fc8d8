// Package model defines the data models for the wagering ledger.
package model

import "time"

// Market types supported by the settlement engine. The set is closed on
// purpose: evaluation logic switches exhaustively over these values.
const (
	MarketMoneyline = "MONEYLINE"
	MarketSpread    = "SPREAD"
	MarketTotal     = "TOTAL"
)

// Selections for total markets. Moneyline and spread markets carry the
// selected team name instead.
const (
	SelectionOver  = "OVER"
	SelectionUnder = "UNDER"
)

// Bet lifecycle statuses. PENDING and LIVE are the only non-terminal states;
// everything else is absorbing and must never be rewritten.
const (
	BetStatusPending   = "PENDING"
	BetStatusLive      = "LIVE"
	BetStatusWon       = "WON"
	BetStatusLost      = "LOST"
	BetStatusPush      = "PUSH"
	BetStatusVoid      = "VOID"
	BetStatusCancelled = "CANCELLED"
)

// Bet results as recorded on settlement audit rows.
const (
	ResultWin  = "WIN"
	ResultLoss = "LOSS"
	ResultPush = "PUSH"
	ResultVoid = "VOID"
)

// Bankroll lifecycle statuses.
const (
	BankrollStatusActive    = "ACTIVE"
	BankrollStatusCompleted = "COMPLETED"
	BankrollStatusArchived  = "ARCHIVED"
)

// Settler identities on settlement records.
const (
	SettledByAuto   = "AUTO"
	SettledByManual = "MANUAL"
)

// Game result statuses delivered by the external result feed.
const (
	GameStatusCompleted = "COMPLETED"
	GameStatusCancelled = "CANCELLED"
	GameStatusPostponed = "POSTPONED"
)

// Bankroll is a user's virtual balance for one league week. All amounts are
// integer cents. Mutated only by the bankroll service inside a transaction.
type Bankroll struct {
	ID                   string    `db:"id"`
	UserID               string    `db:"user_id"`
	LeagueID             string    `db:"league_id"`
	Week                 int       `db:"week"`
	StartingBalanceCents int64     `db:"starting_balance_cents"`
	CurrentBalanceCents  int64     `db:"current_balance_cents"`
	TotalBets            int       `db:"total_bets"`
	PendingBets          int       `db:"pending_bets"`
	WonBets              int       `db:"won_bets"`
	LostBets             int       `db:"lost_bets"`
	TotalWageredCents    int64     `db:"total_wagered_cents"`
	TotalWonCents        int64     `db:"total_won_cents"`
	TotalLostCents       int64     `db:"total_lost_cents"`
	Status               string    `db:"status"`
	CreatedAt            time.Time `db:"created_at"`
	UpdatedAt            time.Time `db:"updated_at"`
}

// ROI returns the return on investment as a fraction of total wagered.
// Returns 0 when nothing has been wagered yet.
func (b *Bankroll) ROI() float64 {
	if b.TotalWageredCents == 0 {
		return 0
	}
	return float64(b.TotalWonCents-b.TotalLostCents) / float64(b.TotalWageredCents)
}

// Bet is one wagering unit: a standalone straight bet (SlipID nil) or one leg
// of a parlay (SlipID set). Line is meaningful for spread and total markets.
type Bet struct {
	ID                   string     `db:"id"`
	UserID               string     `db:"user_id"`
	BankrollID           string     `db:"bankroll_id"`
	SlipID               *string    `db:"slip_id"`
	LeagueID             string     `db:"league_id"`
	GameID               string     `db:"game_id"`
	EventDate            time.Time  `db:"event_date"`
	Market               string     `db:"market"`
	Selection            string     `db:"selection"`
	Line                 float64    `db:"line"`
	Odds                 int64      `db:"odds"`
	StakeCents           int64      `db:"stake_cents"`
	PotentialPayoutCents int64      `db:"potential_payout_cents"`
	Status               string     `db:"status"`
	Result               *string    `db:"result"`
	SettledAt            *time.Time `db:"settled_at"`
	CreatedAt            time.Time  `db:"created_at"`
	UpdatedAt            time.Time  `db:"updated_at"`
}

// IsTerminal reports whether the bet has reached an absorbing state.
func (b *Bet) IsTerminal() bool {
	return b.Status != BetStatusPending && b.Status != BetStatusLive
}

// BetSlip groups bets into a parlay. Leg stakes always sum to TotalStakeCents.
// Status is derived from the legs' terminal states, written exactly once.
type BetSlip struct {
	ID                   string     `db:"id"`
	UserID               string     `db:"user_id"`
	BankrollID           string     `db:"bankroll_id"`
	LeagueID             string     `db:"league_id"`
	LegCount             int        `db:"leg_count"`
	TotalStakeCents      int64      `db:"total_stake_cents"`
	CombinedOdds         int64      `db:"combined_odds"`
	CombinedDecimal      float64    `db:"combined_decimal"`
	PotentialPayoutCents int64      `db:"potential_payout_cents"`
	ActualPayoutCents    int64      `db:"actual_payout_cents"`
	Status               string     `db:"status"`
	SettledAt            *time.Time `db:"settled_at"`
	CreatedAt            time.Time  `db:"created_at"`
}

// Settlement is the append-only audit record proving a bet was settled. The
// unique bet_id constraint doubles as the settlement idempotency marker.
type Settlement struct {
	ID          string    `db:"id"`
	BetID       string    `db:"bet_id"`
	StakeCents  int64     `db:"stake_cents"`
	PayoutCents int64     `db:"payout_cents"`
	Result      string    `db:"result"`
	HomeScore   int       `db:"home_score"`
	AwayScore   int       `db:"away_score"`
	SettledBy   string    `db:"settled_by"`
	Notes       *string   `db:"notes"`
	CreatedAt   time.Time `db:"created_at"`
}

// GameResult is the normalized result value consumed from the external feed.
// It is never persisted beyond what settlement rows embed.
type GameResult struct {
	GameID    string `json:"game_id"`
	HomeTeam  string `json:"home_team"`
	AwayTeam  string `json:"away_team"`
	HomeScore int    `json:"home_score"`
	AwayScore int    `json:"away_score"`
	Status    string `json:"status"`
}

// Voided reports whether the game never produced a gradable result.
func (g *GameResult) Voided() bool {
	return g.Status == GameStatusCancelled || g.Status == GameStatusPostponed
}

// TotalScore returns the combined final score, used by total markets.
func (g *GameResult) TotalScore() int {
	return g.HomeScore + g.AwayScore
}
