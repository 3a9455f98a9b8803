package eventbus

import "time"

// StreamSubjects is the subject filter bound to the loyalty stream
const StreamSubjects = "loyalty.>"

// Subjects
const (
	SubjectPointsAwarded    = "loyalty.points.awarded"
	SubjectPrizeRedeemed    = "loyalty.prize.redeemed"
	SubjectPurchaseRecorded = "loyalty.purchases.recorded"
)

// PointsAwardedData is published after an accrual commits
type PointsAwardedData struct {
	StoreID     int64     `json:"idstore"`
	CustomerID  int64     `json:"idcustomer"`
	Delta       int64     `json:"delta"`
	Balance     int64     `json:"points"`
	CodeMatched bool      `json:"code_matched"`
	DateBonus   bool      `json:"date_bonus"`
	AwardedAt   time.Time `json:"awarded_at"`
}

// PrizeRedeemedData is published after a redemption commits
type PrizeRedeemedData struct {
	HistoryID  int64     `json:"id"`
	StoreID    int64     `json:"idstore"`
	CustomerID int64     `json:"idcustomer"`
	PrizeID    int64     `json:"idprize"`
	Points     int64     `json:"points"`
	Sector     string    `json:"sector"`
	RedeemedAt time.Time `json:"redeemed_at"`
}

// PurchaseRecordedData is emitted by point-of-sale systems; consuming it accrues points
type PurchaseRecordedData struct {
	StoreID    int64   `json:"idstore"`
	CustomerID int64   `json:"idcustomer"`
	Income     float64 `json:"income"`
	Code       *int    `json:"code,omitempty"`
	Date       string  `json:"date,omitempty"`
}
