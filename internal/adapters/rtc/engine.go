// Package rtc implements the media engine capability contract on
// pion/webrtc. A worker is an isolated pion API instance with its own
// media and setting engines; routers scope codec negotiation per ride.
package rtc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dev-kishor/webcam-backend/internal/core"
)

type Config struct {
	// AnnouncedIP is the public address written into ICE candidates
	// when the server sits behind NAT. Empty disables NAT 1:1 mapping.
	AnnouncedIP string
	PortMin     uint16
	PortMax     uint16
	ICEServers  []string
}

func DefaultConfig() Config {
	return Config{
		PortMin:    10000,
		PortMax:    10100,
		ICEServers: []string{"stun:stun.l.google.com:19302"},
	}
}

type Engine struct {
	cfg Config

	mu        sync.RWMutex
	closed    bool
	workers   []*worker
	producers map[string]*producer
}

func NewEngine(cfg Config) *Engine {
	return &Engine{
		cfg:       cfg,
		producers: make(map[string]*producer),
	}
}

func (e *Engine) CreateWorker(_ context.Context) (core.Worker, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, fmt.Errorf("engine closed")
	}

	me := &webrtc.MediaEngine{}
	if err := registerCodecs(me); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	se := webrtc.SettingEngine{}
	if e.cfg.PortMin > 0 && e.cfg.PortMax > 0 {
		if err := se.SetEphemeralUDPPortRange(e.cfg.PortMin, e.cfg.PortMax); err != nil {
			return nil, fmt.Errorf("set port range: %w", err)
		}
	}
	if e.cfg.AnnouncedIP != "" {
		se.SetNAT1To1IPs([]string{e.cfg.AnnouncedIP}, webrtc.ICECandidateTypeHost)
	}

	w := &worker{
		id:     uuid.NewString(),
		api:    webrtc.NewAPI(webrtc.WithMediaEngine(me), webrtc.WithSettingEngine(se)),
		engine: e,
	}
	e.workers = append(e.workers, w)
	return w, nil
}

func (e *Engine) CreateRouter(_ context.Context, w core.Worker) (core.Router, error) {
	wk, ok := w.(*worker)
	if !ok {
		return nil, fmt.Errorf("foreign worker handle %T", w)
	}
	if wk.dead.Load() {
		return nil, fmt.Errorf("worker %s is dead", wk.id)
	}
	return &router{
		id:     uuid.NewString(),
		worker: wk,
	}, nil
}

func (e *Engine) Close() error {
	e.mu.Lock()
	workers := e.workers
	e.workers = nil
	e.closed = true
	e.mu.Unlock()
	for _, w := range workers {
		_ = w.Close()
	}
	return nil
}

func (e *Engine) registerProducer(p *producer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.producers[p.id] = p
}

func (e *Engine) unregisterProducer(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.producers, id)
}

func (e *Engine) lookupProducer(id string) (*producer, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.producers[id]
	return p, ok
}

// registerCodecs installs the fixed codec profile: opus for audio,
// VP8 for video.
func registerCodecs(me *webrtc.MediaEngine) error {
	if err := me.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeOpus,
			ClockRate: 48000,
			Channels:  2,
		},
		PayloadType: 111,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		return err
	}
	return me.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeVP8,
			ClockRate: 90000,
		},
		PayloadType: 96,
	}, webrtc.RTPCodecTypeVideo)
}

type worker struct {
	id     string
	api    *webrtc.API
	engine *Engine

	dead     atomic.Bool
	diedOnce sync.Once
	onDied   func(error)
}

func (w *worker) ID() string { return w.id }

func (w *worker) OnDied(fn func(error)) { w.onDied = fn }

// fail marks the worker dead and reports it upstream once.
func (w *worker) fail(cause error) {
	w.diedOnce.Do(func() {
		w.dead.Store(true)
		log.Error().Err(cause).Str("module", "rtc").Str("worker", w.id).Msg("worker failed")
		if w.onDied != nil {
			w.onDied(cause)
		}
	})
}

func (w *worker) Close() error {
	w.dead.Store(true)
	return nil
}

type router struct {
	id     string
	worker *worker
}

func (r *router) ID() string { return r.id }

// Capabilities describes the fixed codec profile to joining clients.
func (r *router) Capabilities() json.RawMessage {
	caps := map[string]any{
		"codecs": []map[string]any{
			{"kind": "audio", "mimeType": webrtc.MimeTypeOpus, "clockRate": 48000, "channels": 2},
			{"kind": "video", "mimeType": webrtc.MimeTypeVP8, "clockRate": 90000},
		},
	}
	b, _ := json.Marshal(caps)
	return b
}

func (r *router) CreateTransport(ctx context.Context) (core.Transport, error) {
	if r.worker.dead.Load() {
		return nil, fmt.Errorf("worker %s is dead", r.worker.id)
	}
	return newTransport(ctx, r)
}

func (r *router) Close() error {
	log.Info().Str("module", "rtc").Str("router", r.id).Msg("router closed")
	return nil
}
