package call

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	started        *prometheus.CounterVec
	ended          *prometheus.CounterVec
	rejected       prometheus.Counter
	busyReplies    prometheus.Counter
	live           prometheus.Gauge
	duration       prometheus.Histogram
	transitions    *prometheus.CounterVec
	iceRestarts    prometheus.Counter
	messages       *prometheus.CounterVec
	protocolErrors *prometheus.CounterVec
	sendFailures   prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	opts := func(name, help string) prometheus.CounterOpts {
		return prometheus.CounterOpts{Namespace: "call_engine", Subsystem: "call", Name: name, Help: help}
	}

	return &metrics{
		started:     factory.NewCounterVec(opts("sessions_started_total", "Начатые сессии по направлению"), []string{"direction"}),
		ended:       factory.NewCounterVec(opts("sessions_ended_total", "Завершенные сессии по причине"), []string{"reason"}),
		rejected:    factory.NewCounter(opts("start_rejected_total", "Отклоненные попытки начать второй звонок")),
		busyReplies: factory.NewCounter(opts("busy_replies_total", "Ответы busy на входящие приглашения")),
		live: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "call_engine",
			Subsystem: "call",
			Name:      "sessions_live",
			Help:      "Незавершенные сессии",
		}),
		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "call_engine",
			Subsystem: "call",
			Name:      "duration_seconds",
			Help:      "Длительность состоявшихся звонков",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}),
		transitions:    factory.NewCounterVec(opts("transitions_total", "Переходы между фазами"), []string{"from", "to"}),
		iceRestarts:    factory.NewCounter(opts("ice_restarts_total", "Попытки ICE restart")),
		messages:       factory.NewCounterVec(opts("messages_total", "Обработанные сигнальные сообщения"), []string{"direction", "type"}),
		protocolErrors: factory.NewCounterVec(opts("protocol_errors_total", "Проигнорированные сообщения с нарушением протокола"), []string{"code"}),
		sendFailures:   factory.NewCounter(opts("send_failures_total", "Ошибки отправки сигнальных сообщений")),
	}
}
