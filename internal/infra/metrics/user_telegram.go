package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		botCommandsTotal,
		telegramRateLimitTriggeredTotal,
		telegramSendFailuresTotal,
	)
}

var (
	botCommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_commands_total",
			Help: "Commands, callbacks and flow inputs handled, by outcome.",
		},
		[]string{"command", "result"}, // result: 'ok' or an error kind
	)

	telegramRateLimitTriggeredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "telegram_rate_limit_triggered_total",
			Help: "Total number of times users have been rate-limited.",
		},
	)

	telegramSendFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "telegram_send_failures_total",
			Help: "Outbound messages the transport failed to deliver.",
		},
	)
)

func IncBotCommand(command, result string) {
	if result == "" {
		result = "ok"
	}
	botCommandsTotal.WithLabelValues(norm(command), norm(result)).Inc()
}

func IncRateLimitTriggered() {
	telegramRateLimitTriggeredTotal.Inc()
}

func IncSendFailure() {
	telegramSendFailuresTotal.Inc()
}
