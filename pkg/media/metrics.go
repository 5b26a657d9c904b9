package media

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	acquisitions *prometheus.CounterVec
	releases     prometheus.Counter
	screenShares prometheus.Counter
	held         prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	return &metrics{
		acquisitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "call_engine",
			Subsystem: "media",
			Name:      "acquisitions_total",
			Help:      "Попытки захвата локальных устройств по типу звонка и результату",
		}, []string{"kind", "result"}),
		releases: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "call_engine",
			Subsystem: "media",
			Name:      "releases_total",
			Help:      "Освобождения захваченных устройств",
		}),
		screenShares: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "call_engine",
			Subsystem: "media",
			Name:      "screen_shares_total",
			Help:      "Запуски демонстрации экрана",
		}),
		held: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "call_engine",
			Subsystem: "media",
			Name:      "devices_held",
			Help:      "1 если устройства захвачены",
		}),
	}
}
