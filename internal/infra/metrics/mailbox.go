package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() { register(mailboxFetchTotal, mailboxFetchDuration) }

var (
	mailboxFetchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailbox_fetch_total",
			Help: "Mailbox artifact fetches by kind and result.",
		},
		[]string{"kind", "result"}, // result: 'found', 'not_found', or an error kind
	)

	mailboxFetchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mailbox_fetch_duration_seconds",
			Help:    "Wall time of a mailbox fetch, dial to close.",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30, 45, 60},
		},
		[]string{"kind"},
	)
)

func ObserveMailboxFetch(kind, result string, d time.Duration) {
	mailboxFetchTotal.WithLabelValues(norm(kind), norm(result)).Inc()
	mailboxFetchDuration.WithLabelValues(norm(kind)).Observe(d.Seconds())
}
