package app

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/dev-kishor/webcam-backend/internal/core"
	"github.com/dev-kishor/webcam-backend/internal/domain"
)

// Registry is the single shared mutable store of the orchestration
// core: ride → router, (router, participant) → transport,
// ride → participant → producer/consumer, plus worker→router bindings.
//
// All mutation goes through its methods. Get-or-create paths are
// serialized per key with singleflight so that two concurrent joins
// for the same ride can never each observe "absent" and create two
// routers; unrelated keys proceed concurrently.
type Registry struct {
	engine   core.Engine
	poolSize int

	mu          sync.RWMutex
	workers     []core.Worker
	deadWorkers map[string]struct{}
	// worker id → router ids created on it, for fatal propagation.
	workerRouters map[string][]string

	routers     map[domain.RideID]core.Router
	routerRides map[string]domain.RideID
	deadRouters map[string]struct{}

	transports map[string]map[domain.ParticipantID]core.Transport
	producers  map[domain.RideID]map[domain.ParticipantID]core.Producer
	consumers  map[domain.RideID]map[domain.ParticipantID]core.Consumer

	routerFlight    singleflight.Group
	transportFlight singleflight.Group

	fatal chan error
}

func NewRegistry(engine core.Engine, poolSize int) *Registry {
	if poolSize < 1 {
		poolSize = 1
	}
	return &Registry{
		engine:        engine,
		poolSize:      poolSize,
		deadWorkers:   make(map[string]struct{}),
		workerRouters: make(map[string][]string),
		routers:       make(map[domain.RideID]core.Router),
		routerRides:   make(map[string]domain.RideID),
		deadRouters:   make(map[string]struct{}),
		transports:    make(map[string]map[domain.ParticipantID]core.Transport),
		producers:     make(map[domain.RideID]map[domain.ParticipantID]core.Producer),
		consumers:     make(map[domain.RideID]map[domain.ParticipantID]core.Consumer),
		fatal:         make(chan error, 1),
	}
}

// Start spawns the worker pool. Rides are assigned to workers by hash
// of the ride id, so one worker failure only affects a bounded subset
// of rides.
func (r *Registry) Start(ctx context.Context) error {
	for i := 0; i < r.poolSize; i++ {
		w, err := r.engine.CreateWorker(ctx)
		if err != nil {
			return fmt.Errorf("spawn worker %d: %w", i, err)
		}
		w.OnDied(func(cause error) {
			r.markWorkerDead(w.ID(), cause)
		})
		r.mu.Lock()
		r.workers = append(r.workers, w)
		r.mu.Unlock()
		log.Info().Str("module", "app.registry").Str("worker", w.ID()).Msg("worker started")
	}
	return nil
}

// Fatal delivers the first worker failure. The process supervisor
// decides whether to drain and exit.
func (r *Registry) Fatal() <-chan error { return r.fatal }

func (r *Registry) markWorkerDead(workerID string, cause error) {
	r.mu.Lock()
	r.deadWorkers[workerID] = struct{}{}
	for _, routerID := range r.workerRouters[workerID] {
		r.deadRouters[routerID] = struct{}{}
	}
	affected := len(r.workerRouters[workerID])
	r.mu.Unlock()

	log.Error().Err(cause).Str("module", "app.registry").Str("worker", workerID).
		Int("routers_affected", affected).Msg("engine worker died")
	select {
	case r.fatal <- fmt.Errorf("%w: worker %s: %v", core.ErrEngineFatal, workerID, cause):
	default:
	}
}

func (r *Registry) workerFor(rideID domain.RideID) (core.Worker, error) {
	h := fnv.New32a()
	h.Write([]byte(rideID))
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.workers) == 0 {
		return nil, fmt.Errorf("%w: no workers", core.ErrEngineFatal)
	}
	w := r.workers[int(h.Sum32())%len(r.workers)]
	if _, dead := r.deadWorkers[w.ID()]; dead {
		return nil, fmt.Errorf("%w: worker %s", core.ErrEngineFatal, w.ID())
	}
	return w, nil
}

// GetOrCreateRouter returns the ride's router, creating exactly one
// even under concurrent joins for the same ride.
func (r *Registry) GetOrCreateRouter(ctx context.Context, rideID domain.RideID) (core.Router, error) {
	if rt, ok, err := r.lookupRouter(rideID); ok {
		return rt, err
	}
	v, err, _ := r.routerFlight.Do(string(rideID), func() (any, error) {
		// Re-check under the flight: a competing call may have won.
		if rt, ok, err := r.lookupRouter(rideID); ok {
			return rt, err
		}
		w, err := r.workerFor(rideID)
		if err != nil {
			return nil, err
		}
		rt, err := r.engine.CreateRouter(ctx, w)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", core.ErrRouterCreationFailed, err)
		}
		r.mu.Lock()
		r.routers[rideID] = rt
		r.routerRides[rt.ID()] = rideID
		r.workerRouters[w.ID()] = append(r.workerRouters[w.ID()], rt.ID())
		r.mu.Unlock()
		log.Info().Str("module", "app.registry").Str("ride", string(rideID)).
			Str("router", rt.ID()).Str("worker", w.ID()).Msg("router created")
		return rt, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(core.Router), nil
}

func (r *Registry) lookupRouter(rideID domain.RideID) (core.Router, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rt, ok := r.routers[rideID]
	if !ok {
		return nil, false, nil
	}
	if _, dead := r.deadRouters[rt.ID()]; dead {
		return nil, true, fmt.Errorf("%w: router %s", core.ErrEngineFatal, rt.ID())
	}
	return rt, true, nil
}

// Router returns the ride's router without creating one. Routers on a
// dead worker are reported as absent.
func (r *Registry) Router(rideID domain.RideID) (core.Router, bool) {
	rt, ok, err := r.lookupRouter(rideID)
	if !ok || err != nil {
		return nil, false
	}
	return rt, true
}

// GetOrCreateTransport returns the participant's transport on the given
// router, invoking factory at most once per (router, participant) key
// under concurrent callers. A failed factory call installs nothing.
func (r *Registry) GetOrCreateTransport(
	routerID string,
	pid domain.ParticipantID,
	factory func() (core.Transport, error),
) (core.Transport, error) {
	if t, ok := r.Transport(routerID, pid); ok {
		return t, nil
	}
	key := routerID + "/" + string(pid)
	v, err, _ := r.transportFlight.Do(key, func() (any, error) {
		if t, ok := r.Transport(routerID, pid); ok {
			return t, nil
		}
		t, err := factory()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", core.ErrTransportCreationFailed, err)
		}
		r.mu.Lock()
		byPID, ok := r.transports[routerID]
		if !ok {
			byPID = make(map[domain.ParticipantID]core.Transport)
			r.transports[routerID] = byPID
		}
		byPID[pid] = t
		r.mu.Unlock()
		// Terminal transport closure tears down everything this
		// participant holds on the router.
		t.OnClosed(func() {
			log.Info().Str("module", "app.registry").Str("router", routerID).
				Str("pid", string(pid)).Msg("transport closed, cleaning up participant")
			r.RemoveParticipant(routerID, pid)
		})
		log.Info().Str("module", "app.registry").Str("router", routerID).
			Str("pid", string(pid)).Str("transport", t.ID()).Msg("transport created")
		return t, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(core.Transport), nil
}

func (r *Registry) Transport(routerID string, pid domain.ParticipantID) (core.Transport, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.transports[routerID][pid]
	return t, ok
}

func (r *Registry) SetProducer(rideID domain.RideID, pid domain.ParticipantID, p core.Producer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	byPID, ok := r.producers[rideID]
	if !ok {
		byPID = make(map[domain.ParticipantID]core.Producer)
		r.producers[rideID] = byPID
	}
	byPID[pid] = p
}

func (r *Registry) Producer(rideID domain.RideID, pid domain.ParticipantID) (core.Producer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.producers[rideID][pid]
	return p, ok
}

// ProducerByID resolves a producer id within a ride. Consumers hold
// producer ids from new_producer broadcasts, not participant ids.
func (r *Registry) ProducerByID(rideID domain.RideID, producerID string) (core.Producer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.producers[rideID] {
		if p.ID() == producerID {
			return p, true
		}
	}
	return nil, false
}

func (r *Registry) RemoveProducer(rideID domain.RideID, pid domain.ParticipantID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.producers[rideID], pid)
}

func (r *Registry) SetConsumer(rideID domain.RideID, pid domain.ParticipantID, c core.Consumer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	byPID, ok := r.consumers[rideID]
	if !ok {
		byPID = make(map[domain.ParticipantID]core.Consumer)
		r.consumers[rideID] = byPID
	}
	byPID[pid] = c
}

func (r *Registry) Consumer(rideID domain.RideID, pid domain.ParticipantID) (core.Consumer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.consumers[rideID][pid]
	return c, ok
}

func (r *Registry) RemoveConsumer(rideID domain.RideID, pid domain.ParticipantID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.consumers[rideID], pid)
}

// RemoveParticipant drops the participant's transport, producer and
// consumer entries for the router's ride. Idempotent; other
// participants' entries are untouched.
func (r *Registry) RemoveParticipant(routerID string, pid domain.ParticipantID) {
	r.mu.Lock()
	t, hadTransport := r.transports[routerID][pid]
	if hadTransport {
		delete(r.transports[routerID], pid)
	}
	rideID, boundToRide := r.routerRides[routerID]
	var p core.Producer
	var c core.Consumer
	if boundToRide {
		p = r.producers[rideID][pid]
		c = r.consumers[rideID][pid]
		delete(r.producers[rideID], pid)
		delete(r.consumers[rideID], pid)
	}
	r.mu.Unlock()

	// Handles are closed outside the lock; engine calls may block.
	if p != nil {
		_ = p.Close()
	}
	if c != nil {
		_ = c.Close()
	}
	if hadTransport {
		_ = t.Close()
		log.Info().Str("module", "app.registry").Str("router", routerID).
			Str("pid", string(pid)).Msg("participant removed")
	}
}

// CloseRide tears down the ride's router once the last participant has
// left, releasing engine resources. No-op while transports remain or
// for unknown rides.
func (r *Registry) CloseRide(rideID domain.RideID) {
	r.mu.Lock()
	rt, ok := r.routers[rideID]
	if !ok {
		r.mu.Unlock()
		return
	}
	if len(r.transports[rt.ID()]) > 0 {
		r.mu.Unlock()
		return
	}
	delete(r.routers, rideID)
	delete(r.routerRides, rt.ID())
	delete(r.deadRouters, rt.ID())
	delete(r.transports, rt.ID())
	delete(r.producers, rideID)
	delete(r.consumers, rideID)
	r.mu.Unlock()

	_ = rt.Close()
	log.Info().Str("module", "app.registry").Str("ride", string(rideID)).
		Str("router", rt.ID()).Msg("router closed, ride empty")
}
