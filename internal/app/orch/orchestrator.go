// Package orch drives the join/produce/consume/leave protocol on top
// of the resource registry and the media engine. Handlers in the
// signaling adapter call into it; it never touches the wire format.
package orch

import (
	"github.com/dev-kishor/webcam-backend/internal/app"
	"github.com/dev-kishor/webcam-backend/internal/core"
	"github.com/dev-kishor/webcam-backend/internal/metrics"
)

type Orchestrator struct {
	Registry *app.Registry
	Rooms    core.RoomManager
	Links    *app.LinkService
	Policy   app.Policy
	Metrics  *metrics.Collectors
}

func (o *Orchestrator) countProducer() {
	if o.Metrics != nil {
		o.Metrics.ProducersCreated.Inc()
	}
}

func (o *Orchestrator) countConsumer() {
	if o.Metrics != nil {
		o.Metrics.ConsumersCreated.Inc()
	}
}
