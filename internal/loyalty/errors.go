package loyalty

import "errors"

// Ledger error taxonomy. Service methods wrap these in *common.AppError so both
// the HTTP status and the domain cause survive.
var (
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrNotFound            = errors.New("not found")
	ErrInsufficientPoints  = errors.New("insufficient points")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrConflict            = errors.New("already exists")
	ErrRedemptionFailed    = errors.New("redemption failed")
	ErrDuplicateRedemption = errors.New("redemption already recorded for idempotency key")
	ErrCodeTaken           = errors.New("promo code already consumed")
)
