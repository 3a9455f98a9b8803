package loyalty

import (
	"context"
)

// RepositoryInterface defines the interface for loyalty repository operations
type RepositoryInterface interface {
	// Balances
	GetBalance(ctx context.Context, storeID, customerID int64) (*Balance, error)
	CreateBalance(ctx context.Context, storeID, customerID, initialPoints int64) (*Balance, error)
	ApplyDelta(ctx context.Context, storeID, customerID, delta int64) (*Balance, error)
	Accrue(ctx context.Context, storeID, customerID, points int64, consume CodeConsumer) (*Balance, error)
	ListBalancesByStore(ctx context.Context, storeID int64, limit, offset int) ([]*Balance, int64, error)
	ListBalancesByCustomer(ctx context.Context, customerID int64) ([]*Balance, error)

	// Catalog and parties
	GetPrize(ctx context.Context, prizeID, storeID int64) (*Prize, error)
	ListPrizes(ctx context.Context, storeID int64) ([]*Prize, error)
	GetCustomer(ctx context.Context, customerID int64) (*Customer, error)
	GetStore(ctx context.Context, storeID int64) (*Store, error)

	// Redemption
	RedeemPrize(ctx context.Context, record *HistoryRecord) (int64, error)

	// History
	GetHistoryRecord(ctx context.Context, id int64) (*HistoryRecord, error)
	GetHistoryByIdempotencyKey(ctx context.Context, customerID int64, key string) (*HistoryRecord, error)
	ListHistory(ctx context.Context, filter HistoryFilter, limit, offset int) ([]*HistoryRecord, int64, error)
}

// EventPublisher announces committed ledger changes
type EventPublisher interface {
	PointsAwarded(ctx context.Context, balance *Balance, accrual Accrual)
	PrizeRedeemed(ctx context.Context, record *HistoryRecord)
}
