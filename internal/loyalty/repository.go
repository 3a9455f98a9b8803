package loyalty

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/richxcame/store-loyalty/pkg/database"
)

// Repository handles database operations for the points ledger
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new loyalty repository
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// ========================================
// BALANCES
// ========================================

// GetBalance returns the balance row, or nil when the pair has none
func (r *Repository) GetBalance(ctx context.Context, storeID, customerID int64) (*Balance, error) {
	query := `
		SELECT idstore, idcustomer, points, created_at, updated_at
		FROM store_customer
		WHERE idstore = $1 AND idcustomer = $2
	`

	b := &Balance{}
	err := r.db.QueryRow(ctx, query, storeID, customerID).Scan(
		&b.StoreID, &b.CustomerID, &b.Points, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}

	return b, nil
}

// CreateBalance inserts a new balance row. ErrConflict when the row already exists,
// ErrNotFound when the store or customer does not.
func (r *Repository) CreateBalance(ctx context.Context, storeID, customerID, initialPoints int64) (*Balance, error) {
	query := `
		INSERT INTO store_customer (idstore, idcustomer, points)
		VALUES ($1, $2, $3)
		RETURNING idstore, idcustomer, points, created_at, updated_at
	`

	b := &Balance{}
	err := r.db.QueryRow(ctx, query, storeID, customerID, initialPoints).Scan(
		&b.StoreID, &b.CustomerID, &b.Points, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return nil, ErrConflict
		}
		if database.IsForeignKeyViolation(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to create balance: %w", err)
	}

	return b, nil
}

// ApplyDelta adds delta to the balance in one guarded statement. The guard keeps
// points non-negative; a rejected update leaves the row untouched.
func (r *Repository) ApplyDelta(ctx context.Context, storeID, customerID, delta int64) (*Balance, error) {
	query := `
		UPDATE store_customer
		SET points = points + $3, updated_at = NOW()
		WHERE idstore = $1 AND idcustomer = $2 AND points + $3 >= 0
		RETURNING idstore, idcustomer, points, created_at, updated_at
	`

	b := &Balance{}
	err := r.db.QueryRow(ctx, query, storeID, customerID, delta).Scan(
		&b.StoreID, &b.CustomerID, &b.Points, &b.CreatedAt, &b.UpdatedAt,
	)
	if err == nil {
		return b, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to apply points delta: %w", err)
	}

	existing, err := r.GetBalance(ctx, storeID, customerID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, ErrNotFound
	}
	return nil, ErrInsufficientBalance
}

// CodeConsumer rotates a matched promo code inside the accrual transaction.
// It reports false when another request consumed the code first.
type CodeConsumer func(ctx context.Context, tx pgx.Tx) (bool, error)

// Accrue credits points in one transaction, creating the balance row on first
// accrual. A non-nil consume runs first in the same transaction; when it reports
// false nothing is written and ErrCodeTaken is returned. ErrNotFound when the
// store or customer does not exist.
func (r *Repository) Accrue(ctx context.Context, storeID, customerID, points int64, consume CodeConsumer) (*Balance, error) {
	if points < 0 {
		return nil, fmt.Errorf("accrual must not be negative: %d", points)
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if consume != nil {
		ok, err := consume(ctx, tx)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrCodeTaken
		}
	}

	b := &Balance{}
	err = tx.QueryRow(ctx, `
		INSERT INTO store_customer (idstore, idcustomer, points)
		VALUES ($1, $2, $3)
		ON CONFLICT (idstore, idcustomer) DO UPDATE
		SET points = store_customer.points + EXCLUDED.points, updated_at = NOW()
		RETURNING idstore, idcustomer, points, created_at, updated_at
	`, storeID, customerID, points).Scan(
		&b.StoreID, &b.CustomerID, &b.Points, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		if database.IsForeignKeyViolation(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to credit points: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit accrual: %w", err)
	}

	return b, nil
}

// ListBalancesByStore returns a page of the store's customer balances
func (r *Repository) ListBalancesByStore(ctx context.Context, storeID int64, limit, offset int) ([]*Balance, int64, error) {
	var total int64
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM store_customer WHERE idstore = $1`, storeID).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count balances: %w", err)
	}

	query := `
		SELECT idstore, idcustomer, points, created_at, updated_at
		FROM store_customer
		WHERE idstore = $1
		ORDER BY idcustomer
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Query(ctx, query, storeID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list balances: %w", err)
	}
	defer rows.Close()

	balances, err := scanBalances(rows)
	if err != nil {
		return nil, 0, err
	}
	return balances, total, nil
}

// ListBalancesByCustomer returns the customer's balance at every store
func (r *Repository) ListBalancesByCustomer(ctx context.Context, customerID int64) ([]*Balance, error) {
	query := `
		SELECT idstore, idcustomer, points, created_at, updated_at
		FROM store_customer
		WHERE idcustomer = $1
		ORDER BY idstore
	`

	rows, err := r.db.Query(ctx, query, customerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list balances: %w", err)
	}
	defer rows.Close()

	return scanBalances(rows)
}

func scanBalances(rows pgx.Rows) ([]*Balance, error) {
	balances := make([]*Balance, 0)
	for rows.Next() {
		b := &Balance{}
		if err := rows.Scan(&b.StoreID, &b.CustomerID, &b.Points, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan balance: %w", err)
		}
		balances = append(balances, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate balances: %w", err)
	}
	return balances, nil
}

// ========================================
// CATALOG AND PARTIES
// ========================================

// GetPrize returns the prize only if it belongs to storeID
func (r *Repository) GetPrize(ctx context.Context, prizeID, storeID int64) (*Prize, error) {
	query := `
		SELECT id, idstore, name, category, points
		FROM prize
		WHERE id = $1 AND idstore = $2
	`

	p := &Prize{}
	err := r.db.QueryRow(ctx, query, prizeID, storeID).Scan(&p.ID, &p.StoreID, &p.Name, &p.Category, &p.Points)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get prize: %w", err)
	}

	return p, nil
}

// ListPrizes returns the store's catalog ordered by cost
func (r *Repository) ListPrizes(ctx context.Context, storeID int64) ([]*Prize, error) {
	query := `
		SELECT id, idstore, name, category, points
		FROM prize
		WHERE idstore = $1
		ORDER BY points, id
	`

	rows, err := r.db.Query(ctx, query, storeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list prizes: %w", err)
	}
	defer rows.Close()

	prizes := make([]*Prize, 0)
	for rows.Next() {
		p := &Prize{}
		if err := rows.Scan(&p.ID, &p.StoreID, &p.Name, &p.Category, &p.Points); err != nil {
			return nil, fmt.Errorf("failed to scan prize: %w", err)
		}
		prizes = append(prizes, p)
	}

	return prizes, rows.Err()
}

// GetCustomer returns the customer or nil
func (r *Repository) GetCustomer(ctx context.Context, customerID int64) (*Customer, error) {
	c := &Customer{}
	err := r.db.QueryRow(ctx, `SELECT id, birthdate FROM customers WHERE id = $1`, customerID).Scan(&c.ID, &c.Birthdate)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get customer: %w", err)
	}
	return c, nil
}

// GetStore returns the store or nil
func (r *Repository) GetStore(ctx context.Context, storeID int64) (*Store, error) {
	s := &Store{}
	err := r.db.QueryRow(ctx, `SELECT id, name, sector FROM stores WHERE id = $1`, storeID).Scan(&s.ID, &s.Name, &s.Sector)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get store: %w", err)
	}
	return s, nil
}

// ========================================
// REDEMPTION
// ========================================

// RedeemPrize debits record.Points and appends record in one transaction and returns
// the remaining balance. The guarded decrement is authoritative: if a concurrent
// redemption drained the balance after the caller's pre-check, nothing is written.
func (r *Repository) RedeemPrize(ctx context.Context, record *HistoryRecord) (int64, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var remaining int64
	err = tx.QueryRow(ctx, `
		UPDATE store_customer
		SET points = points - $3, updated_at = NOW()
		WHERE idstore = $1 AND idcustomer = $2 AND points >= $3
		RETURNING points
	`, record.StoreID, record.CustomerID, record.Points).Scan(&remaining)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrInsufficientBalance
		}
		return 0, fmt.Errorf("failed to debit points: %w", err)
	}

	var key *string
	if record.IdempotencyKey != "" {
		key = &record.IdempotencyKey
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO history (idcustomer, age, idstore, sector, idprize, points, name, category, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, date
	`, record.CustomerID, record.Age, record.StoreID, record.Sector, record.PrizeID,
		record.Points, record.Name, record.Category, key,
	).Scan(&record.ID, &record.Date)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return 0, ErrDuplicateRedemption
		}
		return 0, fmt.Errorf("failed to record history: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit redemption: %w", err)
	}

	return remaining, nil
}

// ========================================
// HISTORY
// ========================================

const historyColumns = `id, date, idcustomer, age, idstore, sector, idprize, points, name, category, COALESCE(idempotency_key, '')`

func scanHistory(row pgx.Row, h *HistoryRecord) error {
	return row.Scan(&h.ID, &h.Date, &h.CustomerID, &h.Age, &h.StoreID, &h.Sector,
		&h.PrizeID, &h.Points, &h.Name, &h.Category, &h.IdempotencyKey)
}

// GetHistoryRecord returns one history row or nil
func (r *Repository) GetHistoryRecord(ctx context.Context, id int64) (*HistoryRecord, error) {
	h := &HistoryRecord{}
	err := scanHistory(r.db.QueryRow(ctx, `SELECT `+historyColumns+` FROM history WHERE id = $1`, id), h)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get history record: %w", err)
	}
	return h, nil
}

// GetHistoryByIdempotencyKey returns the redemption recorded under key, or nil
func (r *Repository) GetHistoryByIdempotencyKey(ctx context.Context, customerID int64, key string) (*HistoryRecord, error) {
	h := &HistoryRecord{}
	query := `SELECT ` + historyColumns + ` FROM history WHERE idcustomer = $1 AND idempotency_key = $2`
	err := scanHistory(r.db.QueryRow(ctx, query, customerID, key), h)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get history by idempotency key: %w", err)
	}
	return h, nil
}

// ListHistory returns history rows matching filter, newest first
func (r *Repository) ListHistory(ctx context.Context, filter HistoryFilter, limit, offset int) ([]*HistoryRecord, int64, error) {
	where, args := historyWhere(filter)

	var total int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM history`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count history: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM history%s ORDER BY date DESC, id DESC LIMIT $%d OFFSET $%d`,
		historyColumns, where, len(args)+1, len(args)+2)
	rows, err := r.db.Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list history: %w", err)
	}
	defer rows.Close()

	records := make([]*HistoryRecord, 0)
	for rows.Next() {
		h := &HistoryRecord{}
		if err := scanHistory(rows, h); err != nil {
			return nil, 0, fmt.Errorf("failed to scan history: %w", err)
		}
		records = append(records, h)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate history: %w", err)
	}

	return records, total, nil
}

func historyWhere(filter HistoryFilter) (string, []interface{}) {
	var conds []string
	var args []interface{}

	if filter.StoreID > 0 {
		args = append(args, filter.StoreID)
		conds = append(conds, fmt.Sprintf("idstore = $%d", len(args)))
	}
	if filter.CustomerID > 0 {
		args = append(args, filter.CustomerID)
		conds = append(conds, fmt.Sprintf("idcustomer = $%d", len(args)))
	}
	if filter.Sector != "" {
		args = append(args, filter.Sector)
		conds = append(conds, fmt.Sprintf("sector = $%d", len(args)))
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}
