package loyalty

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pointsAwarded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loyalty_points_awarded_total",
		Help: "Total points credited by accruals",
	})

	pointsRedeemed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loyalty_points_redeemed_total",
		Help: "Total points debited by committed redemptions",
	})

	redemptionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loyalty_redemptions_total",
		Help: "Redemption attempts by outcome",
	}, []string{"result"})

	promoCodesConsumed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loyalty_promo_codes_consumed_total",
		Help: "Promotional codes matched and rotated",
	})

	eventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loyalty_events_published_total",
		Help: "Ledger events handed to the event bus by outcome",
	}, []string{"subject", "result"})
)
