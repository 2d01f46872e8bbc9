package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		maintenanceCyclesTotal,
		accountsSweptTotal,
		remindersSentTotal,
	)
}

var (
	maintenanceCyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "maintenance_cycles_total",
			Help: "Reminder+sweep cycles, labeled by result.",
		},
		[]string{"result"}, // 'ok', 'failed', 'skipped'
	)

	accountsSweptTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "accounts_swept_total",
			Help: "Expired sold accounts moved back to stock.",
		},
	)

	remindersSentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reminders_sent_total",
			Help: "Expiry reminders delivered, by days left.",
		},
		[]string{"days_left"},
	)
)

func IncMaintenanceCycle(result string) {
	maintenanceCyclesTotal.WithLabelValues(norm(result)).Inc()
}

func AddAccountsSwept(n int) { accountsSweptTotal.Add(float64(n)) }

func IncReminderSent(daysLeft int) {
	remindersSentTotal.WithLabelValues(strconv.Itoa(daysLeft)).Inc()
}
