// Package pg implements the store contracts on PostgreSQL.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"authforge.dev/internal/store"
)

var _ store.Store = (*Store)(nil)

// querier is satisfied by both *sql.DB and *sql.Tx so substores work
// inside and outside transactions.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements store.Store using PostgreSQL.
type Store struct {
	db   *sql.DB
	q    querier
	inTx bool
}

// Open connects with tuned pool defaults.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return NewStore(db), nil
}

// NewStore wraps an existing handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, q: db}
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Applications(context.Context) store.ApplicationStore {
	return &applicationStore{q: s.q}
}
func (s *Store) EndUsers(context.Context) store.EndUserStore {
	return &endUserStore{q: s.q, forUpdate: s.inTx}
}
func (s *Store) Developers(context.Context) store.DeveloperStore {
	return &developerStore{q: s.q, forUpdate: s.inTx}
}
func (s *Store) Admins(context.Context) store.AdminStore {
	return &adminStore{q: s.q, forUpdate: s.inTx}
}
func (s *Store) RefreshTokens(context.Context) store.RefreshTokenStore {
	return &refreshTokenStore{q: s.q, forUpdate: s.inTx}
}
func (s *Store) ResetTokens(context.Context) store.ResetTokenStore {
	return &resetTokenStore{q: s.q, forUpdate: s.inTx}
}
func (s *Store) Audit(context.Context) store.AuditStore { return &auditStore{q: s.q} }

// WithinTx runs fn against a transaction-bound Store. Nested calls reuse
// the enclosing transaction.
func (s *Store) WithinTx(ctx context.Context, fn func(store.Store) error) error {
	if s.inTx {
		return fn(s)
	}
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&Store{db: s.db, q: tx, inTx: true}); err != nil {
		return err
	}
	return tx.Commit()
}

// isUniqueViolation detects constraint conflicts so racy existence
// checks can fall back on the database guarantee.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func lockClause(forUpdate bool) string {
	if forUpdate {
		return " for update"
	}
	return ""
}

func mapFindErr(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}
