package loyalty

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/richxcame/store-loyalty/pkg/common"
	"github.com/richxcame/store-loyalty/pkg/logger"
	"github.com/richxcame/store-loyalty/pkg/tracing"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var tracer = tracing.Tracer("internal/loyalty")

// Service handles points accrual and prize redemption
type Service struct {
	repo    RepositoryInterface
	codes   CodeStore
	policy  AccrualPolicy
	events  EventPublisher
	timeout time.Duration
	now     func() time.Time
}

// NewService creates a new loyalty service
func NewService(repo RepositoryInterface, codes CodeStore, policy AccrualPolicy) *Service {
	return &Service{
		repo:   repo,
		codes:  codes,
		policy: policy,
		now:    time.Now,
	}
}

// SetEventPublisher enables post-commit event publishing
func (s *Service) SetEventPublisher(p EventPublisher) {
	s.events = p
}

// SetOperationTimeout bounds every service operation. Zero disables the bound.
func (s *Service) SetOperationTimeout(d time.Duration) {
	s.timeout = d
}

func (s *Service) begin(ctx context.Context, name string) (context.Context, trace.Span, context.CancelFunc) {
	cancel := context.CancelFunc(func() {})
	if s.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
	}
	ctx, span := tracer.Start(ctx, name)
	return ctx, span, cancel
}

func fail(span trace.Span, err *common.AppError) *common.AppError {
	span.SetStatus(codes.Error, err.Message)
	if err.Err != nil {
		span.RecordError(err.Err)
	}
	return err
}

// ========================================
// ACCRUAL
// ========================================

// AwardPoints credits a purchase to the customer's balance at the store, creating the
// balance on first use. A matching promotional code is consumed only if the credit commits.
func (s *Service) AwardPoints(ctx context.Context, req *AwardPointsRequest) (*Balance, error) {
	ctx, span, cancel := s.begin(ctx, "loyalty.AwardPoints")
	defer cancel()
	defer span.End()
	span.SetAttributes(tracing.Int64("store_id", req.StoreID), tracing.Int64("customer_id", req.CustomerID))

	if req.StoreID <= 0 || req.CustomerID <= 0 {
		return nil, fail(span, common.NewBadRequestError("store and customer ids must be positive", ErrInvalidArgument))
	}
	if req.Income == nil {
		return nil, fail(span, common.NewBadRequestError("income is required", ErrInvalidArgument))
	}
	income := *req.Income
	eventDate := ParseEventDate(req.Date)

	// the no-code accrual doubles as the income check and as the fallback
	// when another request consumes the code first
	fallback, err := s.policy.Compute(income, nil, eventDate, nil)
	if err != nil {
		return nil, fail(span, common.NewBadRequestError(err.Error(), err))
	}

	var current *int
	if req.Code != nil {
		code, err := s.codes.CurrentCode(ctx, req.StoreID)
		if err != nil {
			logger.WithContext(ctx).Error("Failed to read promo code",
				zap.Int64("store_id", req.StoreID),
				zap.Error(err),
			)
			return nil, fail(span, ledgerError("failed to award points", err))
		}
		current = &code
	}

	accrual, _ := s.policy.Compute(income, req.Code, eventDate, current)

	balance, accrual, err := s.credit(ctx, req, accrual, fallback)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fail(span, common.NewNotFoundError("store or customer not found", err))
		}
		logger.WithContext(ctx).Error("Failed to award points",
			zap.Int64("store_id", req.StoreID),
			zap.Int64("customer_id", req.CustomerID),
			zap.Int64("delta", accrual.Total()),
			zap.Bool("code_matched", accrual.CodeMatched),
			zap.Error(err),
		)
		return nil, fail(span, ledgerError("failed to award points", err))
	}

	pointsAwarded.Add(float64(accrual.Total()))
	span.SetAttributes(tracing.Int64("points_delta", accrual.Total()))
	logger.WithContext(ctx).Info("Points awarded",
		zap.Int64("store_id", balance.StoreID),
		zap.Int64("customer_id", balance.CustomerID),
		zap.Int64("base", accrual.Base),
		zap.Int64("code_bonus", accrual.CodeBonus),
		zap.Int64("date_bonus", accrual.DateBonus),
		zap.Int64("points", balance.Points),
	)

	if s.events != nil {
		s.events.PointsAwarded(context.WithoutCancel(ctx), balance, accrual)
	}

	return balance, nil
}

// credit writes accrual and returns the accrual actually credited. A matched code is
// rotated in the credit transaction when the code store supports it. Otherwise it is
// rotated first and reverted if the credit fails.
func (s *Service) credit(ctx context.Context, req *AwardPointsRequest, accrual, fallback Accrual) (*Balance, Accrual, error) {
	if !accrual.CodeMatched {
		balance, err := s.repo.Accrue(ctx, req.StoreID, req.CustomerID, accrual.Total(), nil)
		return balance, accrual, err
	}

	if txCodes, ok := s.codes.(TxCodeStore); ok {
		consume := func(ctx context.Context, tx pgx.Tx) (bool, error) {
			rotation, err := txCodes.TryConsumeTx(ctx, tx, req.StoreID, *req.Code)
			return rotation != nil, err
		}
		balance, err := s.repo.Accrue(ctx, req.StoreID, req.CustomerID, accrual.Total(), consume)
		if errors.Is(err, ErrCodeTaken) {
			balance, err = s.repo.Accrue(ctx, req.StoreID, req.CustomerID, fallback.Total(), nil)
			return balance, fallback, err
		}
		if err == nil {
			promoCodesConsumed.Inc()
		}
		return balance, accrual, err
	}

	rotation, err := s.codes.TryConsume(ctx, req.StoreID, *req.Code)
	if err != nil {
		return nil, accrual, fmt.Errorf("failed to rotate promo code: %w", err)
	}
	if rotation == nil {
		balance, err := s.repo.Accrue(ctx, req.StoreID, req.CustomerID, fallback.Total(), nil)
		return balance, fallback, err
	}

	balance, err := s.repo.Accrue(ctx, req.StoreID, req.CustomerID, accrual.Total(), nil)
	if err != nil {
		if rerr := s.codes.Revert(context.WithoutCancel(ctx), *rotation); rerr != nil {
			logger.WithContext(ctx).Error("Failed to revert promo code",
				zap.Int64("store_id", req.StoreID),
				zap.Int("code", rotation.Previous),
				zap.Error(rerr),
			)
		}
		return nil, accrual, err
	}
	promoCodesConsumed.Inc()
	return balance, accrual, nil
}

// ledgerError maps an infrastructure failure to 503 when the operation ran out of
// time and to 500 otherwise.
func ledgerError(message string, err error) *common.AppError {
	if errors.Is(err, context.DeadlineExceeded) {
		appErr := common.NewServiceUnavailableError(message)
		appErr.Err = err
		return appErr
	}
	return common.NewInternalError(message, err)
}

// ========================================
// REDEMPTION
// ========================================

// RedeemPrize exchanges points for a prize. The debit and the history row commit
// together or not at all. A repeated IdempotencyKey returns the stored outcome.
func (s *Service) RedeemPrize(ctx context.Context, req *RedeemPrizeRequest) (*Redemption, error) {
	ctx, span, cancel := s.begin(ctx, "loyalty.RedeemPrize")
	defer cancel()
	defer span.End()
	span.SetAttributes(
		tracing.Int64("store_id", req.StoreID),
		tracing.Int64("customer_id", req.CustomerID),
		tracing.Int64("prize_id", req.PrizeID),
	)

	if req.StoreID <= 0 || req.CustomerID <= 0 || req.PrizeID <= 0 {
		redemptionsTotal.WithLabelValues("invalid").Inc()
		return nil, fail(span, common.NewBadRequestError("store, customer and prize ids must be positive", ErrInvalidArgument))
	}

	if req.IdempotencyKey != "" {
		replay, appErr := s.replay(ctx, req)
		if appErr != nil {
			return nil, fail(span, appErr)
		}
		if replay != nil {
			return replay, nil
		}
	}

	balance, err := s.repo.GetBalance(ctx, req.StoreID, req.CustomerID)
	if err != nil {
		return nil, fail(span, s.redemptionFailed(ctx, req, err))
	}
	if balance == nil {
		redemptionsTotal.WithLabelValues("not_found").Inc()
		return nil, fail(span, common.NewNotFoundError("customer has no balance at this store", ErrNotFound))
	}

	prize, err := s.repo.GetPrize(ctx, req.PrizeID, req.StoreID)
	if err != nil {
		return nil, fail(span, s.redemptionFailed(ctx, req, err))
	}
	if prize == nil {
		redemptionsTotal.WithLabelValues("not_found").Inc()
		return nil, fail(span, common.NewNotFoundError("prize not found", ErrNotFound))
	}

	customer, err := s.repo.GetCustomer(ctx, req.CustomerID)
	if err != nil {
		return nil, fail(span, s.redemptionFailed(ctx, req, err))
	}
	if customer == nil {
		redemptionsTotal.WithLabelValues("not_found").Inc()
		return nil, fail(span, common.NewNotFoundError("customer not found", ErrNotFound))
	}

	store, err := s.repo.GetStore(ctx, req.StoreID)
	if err != nil {
		return nil, fail(span, s.redemptionFailed(ctx, req, err))
	}
	if store == nil {
		redemptionsTotal.WithLabelValues("not_found").Inc()
		return nil, fail(span, common.NewNotFoundError("store not found", ErrNotFound))
	}

	if balance.Points < prize.Points {
		redemptionsTotal.WithLabelValues("insufficient").Inc()
		return nil, fail(span, common.NewBadRequestError(
			fmt.Sprintf("insufficient points: need %d, have %d", prize.Points, balance.Points),
			ErrInsufficientPoints,
		))
	}

	record := &HistoryRecord{
		CustomerID:     customer.ID,
		Age:            AgeAt(customer.Birthdate, s.now()),
		StoreID:        store.ID,
		Sector:         store.Sector,
		PrizeID:        prize.ID,
		Points:         prize.Points,
		Name:           prize.Name,
		Category:       prize.Category,
		IdempotencyKey: req.IdempotencyKey,
	}

	remaining, err := s.repo.RedeemPrize(ctx, record)
	if err != nil {
		switch {
		case errors.Is(err, ErrInsufficientBalance):
			redemptionsTotal.WithLabelValues("insufficient").Inc()
			return nil, fail(span, common.NewBadRequestError("insufficient points", fmt.Errorf("%w: %w", ErrInsufficientPoints, err)))
		case errors.Is(err, ErrDuplicateRedemption):
			// a concurrent request with the same key committed first
			replay, appErr := s.replay(ctx, req)
			if appErr != nil {
				return nil, fail(span, appErr)
			}
			if replay != nil {
				return replay, nil
			}
		}
		return nil, fail(span, s.redemptionFailed(ctx, req, err))
	}

	redemptionsTotal.WithLabelValues("committed").Inc()
	pointsRedeemed.Add(float64(record.Points))
	logger.WithContext(ctx).Info("Prize redeemed",
		zap.Int64("history_id", record.ID),
		zap.Int64("store_id", record.StoreID),
		zap.Int64("customer_id", record.CustomerID),
		zap.Int64("prize_id", record.PrizeID),
		zap.Int64("points", record.Points),
		zap.Int64("remaining", remaining),
	)

	if s.events != nil {
		s.events.PrizeRedeemed(context.WithoutCancel(ctx), record)
	}

	return &Redemption{Prize: prize, History: record, Balance: remaining}, nil
}

// replay returns the stored redemption for req.IdempotencyKey, or nil when there is none
func (s *Service) replay(ctx context.Context, req *RedeemPrizeRequest) (*Redemption, *common.AppError) {
	record, err := s.repo.GetHistoryByIdempotencyKey(ctx, req.CustomerID, req.IdempotencyKey)
	if err != nil {
		return nil, s.redemptionFailed(ctx, req, err)
	}
	if record == nil {
		return nil, nil
	}
	if record.StoreID != req.StoreID || record.PrizeID != req.PrizeID {
		return nil, common.NewConflictError("idempotency key already used for a different redemption")
	}

	var remaining int64
	balance, err := s.repo.GetBalance(ctx, req.StoreID, req.CustomerID)
	if err != nil {
		return nil, s.redemptionFailed(ctx, req, err)
	}
	if balance != nil {
		remaining = balance.Points
	}

	redemptionsTotal.WithLabelValues("replayed").Inc()
	logger.WithContext(ctx).Info("Redemption replayed",
		zap.Int64("history_id", record.ID),
		zap.Int64("customer_id", record.CustomerID),
	)

	return &Redemption{
		Prize: &Prize{
			ID:       record.PrizeID,
			StoreID:  record.StoreID,
			Name:     record.Name,
			Category: record.Category,
			Points:   record.Points,
		},
		History: record,
		Balance: remaining,
		Replay:  true,
	}, nil
}

func (s *Service) redemptionFailed(ctx context.Context, req *RedeemPrizeRequest, err error) *common.AppError {
	redemptionsTotal.WithLabelValues("failed").Inc()
	logger.WithContext(ctx).Error("Redemption failed",
		zap.Int64("store_id", req.StoreID),
		zap.Int64("customer_id", req.CustomerID),
		zap.Int64("prize_id", req.PrizeID),
		zap.Error(err),
	)
	return common.NewInternalError("redemption failed", fmt.Errorf("%w: %w", ErrRedemptionFailed, err))
}

// AgeAt returns whole years between birth and at, not counting a birthday still ahead this year
func AgeAt(birth, at time.Time) int {
	age := at.Year() - birth.Year()
	if at.Month() < birth.Month() || (at.Month() == birth.Month() && at.Day() < birth.Day()) {
		age--
	}
	if age < 0 {
		return 0
	}
	return age
}

// ========================================
// READS
// ========================================

// CurrentCode returns the store's active promotional code
func (s *Service) CurrentCode(ctx context.Context, storeID int64) (*CodeResponse, error) {
	ctx, span, cancel := s.begin(ctx, "loyalty.CurrentCode")
	defer cancel()
	defer span.End()

	if storeID <= 0 {
		return nil, fail(span, common.NewBadRequestError("store id must be positive", ErrInvalidArgument))
	}

	code, err := s.codes.CurrentCode(ctx, storeID)
	if err != nil {
		return nil, fail(span, common.NewInternalError("failed to get promo code", err))
	}
	return &CodeResponse{StoreID: storeID, Code: code}, nil
}

// GetBalance returns one balance
func (s *Service) GetBalance(ctx context.Context, storeID, customerID int64) (*Balance, error) {
	ctx, span, cancel := s.begin(ctx, "loyalty.GetBalance")
	defer cancel()
	defer span.End()

	if storeID <= 0 || customerID <= 0 {
		return nil, fail(span, common.NewBadRequestError("store and customer ids must be positive", ErrInvalidArgument))
	}

	balance, err := s.repo.GetBalance(ctx, storeID, customerID)
	if err != nil {
		return nil, fail(span, common.NewInternalError("failed to get balance", err))
	}
	if balance == nil {
		return nil, fail(span, common.NewNotFoundError("balance not found", ErrNotFound))
	}
	return balance, nil
}

// ListStoreBalances returns a page of balances held at a store
func (s *Service) ListStoreBalances(ctx context.Context, storeID int64, limit, offset int) ([]*Balance, int64, error) {
	ctx, span, cancel := s.begin(ctx, "loyalty.ListStoreBalances")
	defer cancel()
	defer span.End()

	if storeID <= 0 {
		return nil, 0, fail(span, common.NewBadRequestError("store id must be positive", ErrInvalidArgument))
	}

	balances, total, err := s.repo.ListBalancesByStore(ctx, storeID, limit, offset)
	if err != nil {
		return nil, 0, fail(span, common.NewInternalError("failed to list balances", err))
	}
	return balances, total, nil
}

// ListCustomerBalances returns the customer's balance at every store
func (s *Service) ListCustomerBalances(ctx context.Context, customerID int64) ([]*Balance, error) {
	ctx, span, cancel := s.begin(ctx, "loyalty.ListCustomerBalances")
	defer cancel()
	defer span.End()

	if customerID <= 0 {
		return nil, fail(span, common.NewBadRequestError("customer id must be positive", ErrInvalidArgument))
	}

	balances, err := s.repo.ListBalancesByCustomer(ctx, customerID)
	if err != nil {
		return nil, fail(span, common.NewInternalError("failed to list balances", err))
	}
	return balances, nil
}

// ListPrizes returns the store's prize catalog
func (s *Service) ListPrizes(ctx context.Context, storeID int64) ([]*Prize, error) {
	ctx, span, cancel := s.begin(ctx, "loyalty.ListPrizes")
	defer cancel()
	defer span.End()

	if storeID <= 0 {
		return nil, fail(span, common.NewBadRequestError("store id must be positive", ErrInvalidArgument))
	}

	prizes, err := s.repo.ListPrizes(ctx, storeID)
	if err != nil {
		return nil, fail(span, common.NewInternalError("failed to list prizes", err))
	}
	return prizes, nil
}

// ListHistory returns the audit trail filtered by store, customer or sector
func (s *Service) ListHistory(ctx context.Context, filter HistoryFilter, limit, offset int) ([]*HistoryRecord, int64, error) {
	ctx, span, cancel := s.begin(ctx, "loyalty.ListHistory")
	defer cancel()
	defer span.End()

	if filter.StoreID < 0 || filter.CustomerID < 0 {
		return nil, 0, fail(span, common.NewBadRequestError("ids must not be negative", ErrInvalidArgument))
	}

	records, total, err := s.repo.ListHistory(ctx, filter, limit, offset)
	if err != nil {
		return nil, 0, fail(span, common.NewInternalError("failed to list history", err))
	}
	return records, total, nil
}

// GetHistoryRecord returns one audit row
func (s *Service) GetHistoryRecord(ctx context.Context, id int64) (*HistoryRecord, error) {
	ctx, span, cancel := s.begin(ctx, "loyalty.GetHistoryRecord")
	defer cancel()
	defer span.End()

	if id <= 0 {
		return nil, fail(span, common.NewBadRequestError("history id must be positive", ErrInvalidArgument))
	}

	record, err := s.repo.GetHistoryRecord(ctx, id)
	if err != nil {
		return nil, fail(span, common.NewInternalError("failed to get history record", err))
	}
	if record == nil {
		return nil, fail(span, common.NewNotFoundError("history record not found", ErrNotFound))
	}
	return record, nil
}
