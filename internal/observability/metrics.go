package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SettlementsTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "carpool_settlement", Name: "settlements_total", Help: "Total number of driver settlements paid out"})
	SettlementAmount = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "carpool_settlement",
		Name:      "settlement_amount",
		Help:      "Distribution of settlement payout amounts",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 14),
	})
	ZeroPayoutsTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "carpool_settlement", Name: "zero_payouts_total", Help: "Settlements where fees exceeded the escrowed fare"})

	RefundsTotal  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "carpool_settlement", Name: "refunds_total", Help: "Total cancellation refunds issued"})
	RefundAmount  = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: "carpool_settlement", Name: "refund_amount", Help: "Distribution of refund amounts", Buckets: prometheus.ExponentialBuckets(0.5, 2, 14)})
	EscrowsClosed = promauto.NewCounter(prometheus.CounterOpts{Namespace: "carpool_settlement", Name: "escrows_closed_total", Help: "Escrows closed after reaching a zero balance"})

	InvitesRemovedTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "carpool_settlement", Name: "invites_removed_total", Help: "Pairings deleted by group-eligibility hygiene"})
	StatisticUpserts    = promauto.NewCounter(prometheus.CounterOpts{Namespace: "carpool_settlement", Name: "statistic_upserts_total", Help: "reservation_match rows recomputed"})

	WalletErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "carpool_settlement", Name: "wallet_errors_total", Help: "Wallet/points service call failures"},
		[]string{"op"},
	)
)
