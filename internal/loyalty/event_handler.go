package loyalty

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/richxcame/store-loyalty/pkg/common"
	"github.com/richxcame/store-loyalty/pkg/eventbus"
	"github.com/richxcame/store-loyalty/pkg/logger"
	"go.uber.org/zap"
)

const purchaseConsumer = "loyalty-purchase-accrual"

// subscriber is the subset of eventbus.Bus the handler needs
type subscriber interface {
	Subscribe(ctx context.Context, subject, durable string, handler eventbus.Handler) error
}

// EventHandler accrues points for purchases announced by point-of-sale systems
type EventHandler struct {
	service *Service
}

// NewEventHandler creates an event handler backed by the loyalty service
func NewEventHandler(service *Service) *EventHandler {
	return &EventHandler{service: service}
}

// RegisterSubscriptions subscribes to purchase events on the bus
func (h *EventHandler) RegisterSubscriptions(ctx context.Context, bus subscriber) error {
	if err := bus.Subscribe(ctx, eventbus.SubjectPurchaseRecorded, purchaseConsumer, h.handlePurchaseRecorded); err != nil {
		return fmt.Errorf("subscribe to %s: %w", eventbus.SubjectPurchaseRecorded, err)
	}
	logger.Info("loyalty: subscribed to purchase events for accrual")
	return nil
}

func (h *EventHandler) handlePurchaseRecorded(ctx context.Context, event *eventbus.Event) error {
	var data eventbus.PurchaseRecordedData
	if err := json.Unmarshal(event.Data, &data); err != nil {
		// malformed payloads never succeed, so acknowledge and drop them
		logger.Error("loyalty: dropping malformed purchase event",
			zap.String("event_id", event.ID),
			zap.Error(err),
		)
		return nil
	}

	income := data.Income
	balance, err := h.service.AwardPoints(ctx, &AwardPointsRequest{
		StoreID:    data.StoreID,
		CustomerID: data.CustomerID,
		Income:     &income,
		Code:       data.Code,
		Date:       data.Date,
	})
	if err != nil {
		var appErr *common.AppError
		if errors.As(err, &appErr) && appErr.Code < 500 {
			logger.Warn("loyalty: rejected purchase event",
				zap.String("event_id", event.ID),
				zap.Int64("store_id", data.StoreID),
				zap.Int64("customer_id", data.CustomerID),
				zap.Error(err),
			)
			return nil
		}
		return fmt.Errorf("award points for purchase %s: %w", event.ID, err)
	}

	logger.Info("loyalty: points awarded from purchase event",
		zap.String("event_id", event.ID),
		zap.Int64("store_id", balance.StoreID),
		zap.Int64("customer_id", balance.CustomerID),
		zap.Int64("points", balance.Points),
	)
	return nil
}
