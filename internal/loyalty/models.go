package loyalty

import (
	"time"
)

// Balance is the points a customer holds at one store
type Balance struct {
	StoreID    int64     `json:"idstore"`
	CustomerID int64     `json:"idcustomer"`
	Points     int64     `json:"points"`
	CreatedAt  time.Time `json:"-"`
	UpdatedAt  time.Time `json:"-"`
}

// Prize is a catalog item a store offers in exchange for points
type Prize struct {
	ID       int64  `json:"id"`
	StoreID  int64  `json:"idstore"`
	Name     string `json:"name"`
	Category string `json:"category"`
	Points   int64  `json:"points"`
}

// Customer holds the customer data the ledger needs
type Customer struct {
	ID        int64     `json:"id"`
	Birthdate time.Time `json:"birthdate"`
}

// Store holds the store data the ledger needs
type Store struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Sector string `json:"sector"`
}

// HistoryRecord is the immutable audit row written by a successful redemption.
// Prize fields are copied by value so later catalog edits do not rewrite history.
type HistoryRecord struct {
	ID             int64     `json:"id"`
	Date           time.Time `json:"date"`
	CustomerID     int64     `json:"idcustomer"`
	Age            int       `json:"age"`
	StoreID        int64     `json:"idstore"`
	Sector         string    `json:"sector"`
	PrizeID        int64     `json:"idprize"`
	Points         int64     `json:"points"`
	Name           string    `json:"name"`
	Category       string    `json:"category"`
	IdempotencyKey string    `json:"-"`
}

// HistoryFilter narrows history queries. Zero values match everything.
type HistoryFilter struct {
	StoreID    int64
	CustomerID int64
	Sector     string
}

// Redemption is the outcome of a committed prize exchange
type Redemption struct {
	Prize   *Prize         `json:"prize"`
	History *HistoryRecord `json:"history"`
	Balance int64          `json:"balance"`
	Replay  bool           `json:"-"`
}

// AwardPointsRequest is the accrual input
type AwardPointsRequest struct {
	StoreID    int64    `json:"-"`
	CustomerID int64    `json:"-"`
	Income     *float64 `json:"income" validate:"required,gte=0"`
	Code       *int     `json:"code,omitempty"`
	Date       string   `json:"date,omitempty"`
}

// RedeemPrizeRequest is the redemption input
type RedeemPrizeRequest struct {
	StoreID        int64
	CustomerID     int64
	PrizeID        int64
	IdempotencyKey string
}

// CodeResponse exposes the current promotional code of a store
type CodeResponse struct {
	StoreID int64 `json:"idstore"`
	Code    int   `json:"code"`
}

// HistoryQuery carries the admin history filters from the query string
type HistoryQuery struct {
	StoreID    int64  `form:"store_id" json:"store_id" validate:"gte=0"`
	CustomerID int64  `form:"customer_id" json:"customer_id" validate:"gte=0"`
	Sector     string `form:"sector" json:"sector" validate:"omitempty,max=64"`
}
