// Package repository provides data access layer implementations.
//
// Every repository is bound to a DBTX, which is satisfied by both
// *pgxpool.Pool and pgx.Tx. Call WithTx to get a repository bound to an
// explicit transaction handle, so the atomic scope is visible at every call
// site instead of hiding inside an ambient client.
package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Common errors for repository operations.
var (
	ErrBankrollNotFound = errors.New("bankroll not found")
	ErrBetNotFound      = errors.New("bet not found")
	ErrSlipNotFound     = errors.New("bet slip not found")
	ErrAlreadySettled   = errors.New("bet already settled")
	ErrNotPending       = errors.New("bet is no longer pending")
)

// DBTX is the querier interface shared by pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// pgUniqueViolation is the Postgres error code for unique constraint hits.
const pgUniqueViolation = "23505"

// isUniqueViolation reports whether err is a unique constraint violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
