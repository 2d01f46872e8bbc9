package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		keysGeneratedTotal,
		keysRedeemedTotal,
		authorizedUsersActive,
		stockSoldTotal,
		stockUnsold,
	)
}

var (
	keysGeneratedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "keys_generated_total",
			Help: "License keys minted.",
		},
	)

	keysRedeemedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keys_redeemed_total",
			Help: "Redemption attempts by result.",
		},
		[]string{"result"}, // 'ok', 'not_found', 'already_used', 'error'
	)

	authorizedUsersActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "authorized_users_active",
			Help: "Users with an unexpired entitlement at the last refresh.",
		},
	)

	stockSoldTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stock_sold_total",
			Help: "Stock items sold to buyers.",
		},
	)

	stockUnsold = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "stock_unsold",
			Help: "Unsold stock items at the last refresh.",
		},
	)
)

func IncKeysGenerated() { keysGeneratedTotal.Inc() }

func IncKeyRedeemed(result string) { keysRedeemedTotal.WithLabelValues(norm(result)).Inc() }

func SetAuthorizedUsersActive(n int) { authorizedUsersActive.Set(float64(n)) }

func IncStockSold() { stockSoldTotal.Inc() }

func SetStockUnsold(n int) { stockUnsold.Set(float64(n)) }
