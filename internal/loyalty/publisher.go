package loyalty

import (
	"context"
	"errors"
	"time"

	"github.com/richxcame/store-loyalty/pkg/eventbus"
	"github.com/richxcame/store-loyalty/pkg/logger"
	"github.com/richxcame/store-loyalty/pkg/resilience"
	"go.uber.org/zap"
)

const publishTimeout = 3 * time.Second

// busPublisher is the subset of eventbus.Bus the publisher needs
type busPublisher interface {
	Publish(ctx context.Context, subject string, event *eventbus.Event) error
}

// EventBusPublisher sends ledger events through a circuit breaker. Publishing happens
// after commit, so failures are logged and counted but never undo the ledger change.
type EventBusPublisher struct {
	bus     busPublisher
	breaker *resilience.CircuitBreaker
	source  string
}

// NewEventBusPublisher creates a publisher for the given bus
func NewEventBusPublisher(bus busPublisher, breaker *resilience.CircuitBreaker, source string) *EventBusPublisher {
	return &EventBusPublisher{bus: bus, breaker: breaker, source: source}
}

// PointsAwarded publishes a committed accrual
func (p *EventBusPublisher) PointsAwarded(ctx context.Context, balance *Balance, accrual Accrual) {
	p.publish(ctx, eventbus.SubjectPointsAwarded, eventbus.PointsAwardedData{
		StoreID:     balance.StoreID,
		CustomerID:  balance.CustomerID,
		Delta:       accrual.Total(),
		Balance:     balance.Points,
		CodeMatched: accrual.CodeMatched,
		DateBonus:   accrual.DateBonus > 0,
		AwardedAt:   time.Now().UTC(),
	})
}

// PrizeRedeemed publishes a committed redemption
func (p *EventBusPublisher) PrizeRedeemed(ctx context.Context, record *HistoryRecord) {
	p.publish(ctx, eventbus.SubjectPrizeRedeemed, eventbus.PrizeRedeemedData{
		HistoryID:  record.ID,
		StoreID:    record.StoreID,
		CustomerID: record.CustomerID,
		PrizeID:    record.PrizeID,
		Points:     record.Points,
		Sector:     record.Sector,
		RedeemedAt: record.Date,
	})
}

func (p *EventBusPublisher) publish(ctx context.Context, subject string, data interface{}) {
	event, err := eventbus.NewEvent(subject, p.source, data)
	if err != nil {
		eventsPublished.WithLabelValues(subject, "error").Inc()
		logger.WithContext(ctx).Error("Failed to build event", zap.String("subject", subject), zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	send := func(ctx context.Context) (interface{}, error) {
		return nil, p.bus.Publish(ctx, subject, event)
	}
	if p.breaker != nil {
		_, err = p.breaker.Execute(ctx, send)
	} else {
		_, err = send(ctx)
	}

	switch {
	case err == nil:
		eventsPublished.WithLabelValues(subject, "ok").Inc()
	case errors.Is(err, resilience.ErrCircuitOpen):
		eventsPublished.WithLabelValues(subject, "dropped").Inc()
	default:
		eventsPublished.WithLabelValues(subject, "error").Inc()
		logger.WithContext(ctx).Warn("Failed to publish event",
			zap.String("subject", subject),
			zap.String("event_id", event.ID),
			zap.Error(err),
		)
	}
}
