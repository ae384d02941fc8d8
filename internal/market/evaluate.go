// Package market grades a bet's selection against a final game result.
// Evaluation is pure: it never touches storage and never mutates its inputs,
// so the settlement engine can call it freely inside or outside transactions.
package market

import (
	"fmt"
	"strings"

	"wager-ledger/internal/model"
)

// Evaluate resolves a single bet against the game result and returns one of
// the Result* constants. Cancelled and postponed games void the bet
// regardless of market.
func Evaluate(bet *model.Bet, result *model.GameResult) (string, error) {
	if result.Voided() {
		return model.ResultVoid, nil
	}

	switch bet.Market {
	case model.MarketMoneyline:
		return evaluateMoneyline(bet, result), nil
	case model.MarketSpread:
		return evaluateSpread(bet, result), nil
	case model.MarketTotal:
		return evaluateTotal(bet, result)
	default:
		return "", fmt.Errorf("unknown market type %q", bet.Market)
	}
}

// evaluateMoneyline compares the selected team to the actual winner.
// A tied final score is a push for both sides.
func evaluateMoneyline(bet *model.Bet, result *model.GameResult) string {
	if result.HomeScore == result.AwayScore {
		return model.ResultPush
	}

	winner := result.HomeTeam
	if result.AwayScore > result.HomeScore {
		winner = result.AwayTeam
	}

	if sameTeam(bet.Selection, winner) {
		return model.ResultWin
	}
	return model.ResultLoss
}

// evaluateSpread adjusts the score differential by the signed line for the
// selected side. Positive adjusted differential wins, negative loses, exactly
// zero pushes (only possible on whole-number lines).
func evaluateSpread(bet *model.Bet, result *model.GameResult) string {
	var diff float64
	if sameTeam(bet.Selection, result.HomeTeam) {
		diff = float64(result.HomeScore - result.AwayScore)
	} else {
		diff = float64(result.AwayScore - result.HomeScore)
	}

	adjusted := diff + bet.Line
	switch {
	case adjusted > 0:
		return model.ResultWin
	case adjusted < 0:
		return model.ResultLoss
	default:
		return model.ResultPush
	}
}

// evaluateTotal compares the combined score to the line. Strictly over wins
// an OVER selection, strictly under wins an UNDER, landing exactly on a
// whole-number line pushes.
func evaluateTotal(bet *model.Bet, result *model.GameResult) (string, error) {
	total := float64(result.TotalScore())

	if total == bet.Line {
		return model.ResultPush, nil
	}

	switch strings.ToUpper(bet.Selection) {
	case model.SelectionOver:
		if total > bet.Line {
			return model.ResultWin, nil
		}
		return model.ResultLoss, nil
	case model.SelectionUnder:
		if total < bet.Line {
			return model.ResultWin, nil
		}
		return model.ResultLoss, nil
	default:
		return "", fmt.Errorf("unknown total selection %q", bet.Selection)
	}
}

// ResultToStatus maps a settlement result onto the bet's terminal status.
func ResultToStatus(result string) string {
	switch result {
	case model.ResultWin:
		return model.BetStatusWon
	case model.ResultLoss:
		return model.BetStatusLost
	case model.ResultPush:
		return model.BetStatusPush
	default:
		return model.BetStatusVoid
	}
}

// sameTeam compares team identifiers case-insensitively. Result feeds are not
// consistent about casing.
func sameTeam(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
