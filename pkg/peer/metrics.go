package peer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	opened             prometheus.Counter
	closed             prometheus.Counter
	active             prometheus.Gauge
	restarts           prometheus.Counter
	candidatesBuffered prometheus.Counter
	candidatesApplied  prometheus.Counter
	negotiationErrors  *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	const ns, sub = "call_engine", "peer"

	return &metrics{
		opened: factory.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "connections_opened_total",
			Help: "Открытые соединения с участниками",
		}),
		closed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "connections_closed_total",
			Help: "Закрытые соединения с участниками",
		}),
		active: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: sub,
			Name: "connections_active",
			Help: "Текущее число соединений",
		}),
		restarts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "ice_restart_offers_total",
			Help: "Созданные restart offer",
		}),
		candidatesBuffered: factory.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "candidates_buffered_total",
			Help: "Кандидаты, отложенные до удаленного описания",
		}),
		candidatesApplied: factory.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "candidates_applied_total",
			Help: "Кандидаты, переданные платформе",
		}),
		negotiationErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "negotiation_errors_total",
			Help: "Ошибки согласования по коду",
		}, []string{"code"}),
	}
}
