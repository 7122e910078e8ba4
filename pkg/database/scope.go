package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier is the query surface shared by pooled connections and transactions.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Scope is one acquired connection, optionally inside a transaction.
type Scope struct {
	Conn *pgxpool.Conn
	Tx   pgx.Tx
}

// Q returns the transaction when one is open, else the connection.
func (s *Scope) Q() Querier {
	if s.Tx != nil {
		return s.Tx
	}
	return s.Conn
}

// Close releases the connection to the pool. It MUST be called on every
// exit path; defer scope.Close() right after acquiring.
func (s *Scope) Close() {
	if s.Conn == nil {
		return
	}
	s.Conn.Release()
	s.Conn = nil
}

// Acquire takes a connection from the pool.
// The returned Scope MUST be closed with defer scope.Close().
func (db *DB) Acquire(ctx context.Context) (*Scope, error) {
	conn, err := db.Pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	return &Scope{Conn: conn}, nil
}

// ScopeProvider hands out database scopes through the context.
type ScopeProvider interface {
	// WithScope returns a context carrying a fresh scope. The cleanup
	// function must be called when the scope is no longer needed.
	WithScope(ctx context.Context) (context.Context, func(), error)
	// WithTx runs fn inside one transaction. fn's context carries the
	// transaction scope. The transaction commits when fn returns nil.
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// PoolScopeProvider is the ScopeProvider backed by a DB pool.
type PoolScopeProvider struct {
	db *DB
}

var _ ScopeProvider = (*PoolScopeProvider)(nil)

// NewScopeProvider creates a ScopeProvider for the given database.
func NewScopeProvider(db *DB) *PoolScopeProvider {
	return &PoolScopeProvider{db: db}
}

func (p *PoolScopeProvider) WithScope(ctx context.Context) (context.Context, func(), error) {
	scope, err := p.db.Acquire(ctx)
	if err != nil {
		return nil, nil, err
	}
	return SetScope(ctx, scope), scope.Close, nil
}

func (p *PoolScopeProvider) WithTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if existing, ok := GetScope(ctx); ok && existing.Tx != nil {
		return fn(ctx)
	}

	scope, err := p.db.Acquire(ctx)
	if err != nil {
		return err
	}
	defer scope.Close()

	tx, err := scope.Conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	scope.Tx = tx

	defer func() {
		if err == nil {
			return
		}
		if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			err = errors.Join(err, fmt.Errorf("failed to roll back: %w", rbErr))
		}
	}()

	if err = fn(SetScope(ctx, scope)); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
