package loyalty

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// execer is satisfied by both the pool and a transaction
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresCodeStore keeps codes in the promo_codes table. Rotation is a single
// conditional UPDATE, so the row lock decides which concurrent submitter wins.
type PostgresCodeStore struct {
	db  *pgxpool.Pool
	gen CodeGenerator
}

// NewPostgresCodeStore creates a code store backed by PostgreSQL
func NewPostgresCodeStore(db *pgxpool.Pool, gen CodeGenerator) *PostgresCodeStore {
	if gen == nil {
		gen = RandomCode
	}
	return &PostgresCodeStore{db: db, gen: gen}
}

// CurrentCode returns the active code, issuing one on first use
func (s *PostgresCodeStore) CurrentCode(ctx context.Context, storeID int64) (int, error) {
	_, err := s.db.Exec(ctx, `
		INSERT INTO promo_codes (idstore, code)
		VALUES ($1, $2)
		ON CONFLICT (idstore) DO NOTHING
	`, storeID, s.gen())
	if err != nil {
		return 0, fmt.Errorf("failed to issue promo code: %w", err)
	}

	var code int
	err = s.db.QueryRow(ctx, `SELECT code FROM promo_codes WHERE idstore = $1`, storeID).Scan(&code)
	if err != nil {
		return 0, fmt.Errorf("failed to get promo code: %w", err)
	}
	return code, nil
}

// TryConsume rotates the code only if it still equals submitted
func (s *PostgresCodeStore) TryConsume(ctx context.Context, storeID int64, submitted int) (*Rotation, error) {
	return s.consume(ctx, s.db, storeID, submitted)
}

// TryConsumeTx is TryConsume inside the caller's transaction. The row stays locked
// until tx ends, so a rollback leaves the code as it was.
func (s *PostgresCodeStore) TryConsumeTx(ctx context.Context, tx pgx.Tx, storeID int64, submitted int) (*Rotation, error) {
	return s.consume(ctx, tx, storeID, submitted)
}

// Revert swaps r back with the same conditional UPDATE
func (s *PostgresCodeStore) Revert(ctx context.Context, r Rotation) error {
	if _, err := rotateCode(ctx, s.db, r.StoreID, r.Current, r.Previous); err != nil {
		return fmt.Errorf("failed to revert promo code: %w", err)
	}
	return nil
}

func (s *PostgresCodeStore) consume(ctx context.Context, db execer, storeID int64, submitted int) (*Rotation, error) {
	if !validPromoCode(submitted) {
		return nil, nil
	}

	next := nextCode(s.gen, submitted)
	ok, err := rotateCode(ctx, db, storeID, submitted, next)
	if err != nil {
		return nil, fmt.Errorf("failed to rotate promo code: %w", err)
	}
	if !ok {
		return nil, nil
	}
	return &Rotation{StoreID: storeID, Previous: submitted, Current: next}, nil
}

func rotateCode(ctx context.Context, db execer, storeID int64, from, to int) (bool, error) {
	tag, err := db.Exec(ctx, `
		UPDATE promo_codes
		SET code = $3, issued_at = NOW()
		WHERE idstore = $1 AND code = $2
	`, storeID, from, to)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
