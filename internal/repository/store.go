package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrVersionConflict is returned when a ticket changed between read and write.
var ErrVersionConflict = errors.New("ticket version conflict")

// DBTX is the query surface shared by pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Pool is a DBTX that can open transactions.
type Pool interface {
	DBTX
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store groups the repositories that take part in one unit of work.
type Store interface {
	Tickets() TicketRepository
	History() TicketHistoryRepository
	Directory() DirectoryRepository
	// WithinTx runs fn against a transactional view of the store. Returning an
	// error rolls back every write made through that view.
	WithinTx(ctx context.Context, fn func(tx Store) error) error
}

type pgStore struct {
	pool Pool
	db   DBTX
	inTx bool
}

// NewPostgresStore builds a Store backed by a pgx pool.
func NewPostgresStore(pool Pool) Store {
	return &pgStore{pool: pool, db: pool}
}

func (s *pgStore) Tickets() TicketRepository {
	return &ticketRepository{db: s.db}
}

func (s *pgStore) History() TicketHistoryRepository {
	return &ticketHistoryRepository{db: s.db}
}

func (s *pgStore) Directory() DirectoryRepository {
	return &directoryRepository{db: s.db}
}

func (s *pgStore) WithinTx(ctx context.Context, fn func(tx Store) error) error {
	if s.inTx {
		return fn(s)
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&pgStore{pool: s.pool, db: tx, inTx: true})
	})
}
