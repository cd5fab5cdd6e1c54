// Package repository implements storage.Store on PostgreSQL.
// It uses pgx directly (no ORM).
package repository

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/ejgdev/e5n/internal/apperr"
	"github.com/ejgdev/e5n/internal/storage"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema is the reference DDL for the tables this package reads and writes.
//
//go:embed schema.sql
var Schema string

// SQLSTATE codes this package reacts to.
const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

var (
	errSlotHasEvents     = apperr.New(apperr.CodeNotAllowed, "slot still has events")
	errBadEventReference = apperr.Invalid("event references a slot or event that does not exist")
)

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Postgres is a storage.Store backed by a pgx pool, or by one transaction
// when handed to an InTx callback.
type Postgres struct {
	pool *pgxpool.Pool
	db   dbtx
	inTx bool
}

var _ storage.Store = (*Postgres)(nil)

// New constructs a Postgres store.
func New(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool, db: pool}
}

// InTx runs fn inside a read-committed transaction. Rows locked with
// LockEvent stay locked until fn returns, so concurrent signups for the
// same event queue behind each other instead of both reading a stale
// occupancy.
func (p *Postgres) InTx(ctx context.Context, fn func(storage.Store) error) error {
	if p.inTx {
		return fn(p)
	}
	return pgx.BeginTxFunc(ctx, p.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(&Postgres{pool: p.pool, db: tx, inTx: true})
	})
}

// EnsureSchema applies Schema. Used by integration tests and local setups.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// notFound maps pgx.ErrNoRows onto a missing-resource error.
func notFound(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.Missing(what)
	}
	return fmt.Errorf("get %s: %w", what, err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation
}

// mustAffect turns a zero-row write into a missing-resource error.
func mustAffect(tag pgconn.CommandTag, err error, what string) error {
	if err != nil {
		return fmt.Errorf("write %s: %w", what, err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.Missing(what)
	}
	return nil
}

// where accumulates AND-ed conditions with positional arguments.
type where struct {
	conds []string
	args  []any
}

// add appends cond, replacing each ? with the next $n placeholder.
func (w *where) add(cond string, args ...any) {
	for _, a := range args {
		w.args = append(w.args, a)
		cond = strings.Replace(cond, "?", fmt.Sprintf("$%d", len(w.args)), 1)
	}
	w.conds = append(w.conds, cond)
}

func (w *where) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}
