// Package metrics exposes prometheus collectors for the signaling core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Collectors struct {
	ActiveConnections prometheus.Gauge
	ActiveRooms       prometheus.GaugeFunc
	ProducersCreated  prometheus.Counter
	ConsumersCreated  prometheus.Counter
	SignalErrors      *prometheus.CounterVec
}

// New registers collectors on reg. roomCount feeds the rooms gauge
// lazily so scrapes never block broadcasts.
func New(reg prometheus.Registerer, roomCount func() int) *Collectors {
	factory := promauto.With(reg)
	return &Collectors{
		ActiveConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "signaling_active_connections",
			Help: "Currently connected signaling clients.",
		}),
		ActiveRooms: factory.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "signaling_active_rooms",
			Help: "Rooms with at least one tracked membership set.",
		}, func() float64 { return float64(roomCount()) }),
		ProducersCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "signaling_producers_created_total",
			Help: "Producers successfully created on the media engine.",
		}),
		ConsumersCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "signaling_consumers_created_total",
			Help: "Consumers successfully created on the media engine.",
		}),
		SignalErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "signaling_errors_total",
			Help: "Typed error replies sent to clients.",
		}, []string{"code"}),
	}
}
