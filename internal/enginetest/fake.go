// Package enginetest provides an in-memory fake of the media engine
// capability contract with call counting and failure injection.
package enginetest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/dev-kishor/webcam-backend/internal/core"
)

type Engine struct {
	// Failure injection, read on each call.
	RouterErr    error
	TransportErr error
	ProduceErr   error
	ConsumeErr   error
	// RouterDelay widens the creation race window in concurrency tests.
	RouterDelay time.Duration

	mu             sync.Mutex
	seq            int
	workers        []*Worker
	routerCalls    int
	transportCalls int
	produceCalls   int
	consumeCalls   int
}

func New() *Engine {
	return &Engine{}
}

func (e *Engine) next(prefix string) string {
	e.seq++
	return fmt.Sprintf("%s%d", prefix, e.seq)
}

func (e *Engine) CreateWorker(context.Context) (core.Worker, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	w := &Worker{id: e.next("w")}
	e.workers = append(e.workers, w)
	return w, nil
}

func (e *Engine) CreateRouter(_ context.Context, w core.Worker) (core.Router, error) {
	e.mu.Lock()
	e.routerCalls++
	delay, err := e.RouterDelay, e.RouterErr
	id := e.next("router")
	e.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return nil, err
	}
	return &Router{id: id, engine: e, worker: w.(*Worker)}, nil
}

func (e *Engine) Close() error { return nil }

func (e *Engine) Workers() []*Worker {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Worker(nil), e.workers...)
}

func (e *Engine) RouterCalls() int    { e.mu.Lock(); defer e.mu.Unlock(); return e.routerCalls }
func (e *Engine) TransportCalls() int { e.mu.Lock(); defer e.mu.Unlock(); return e.transportCalls }
func (e *Engine) ProduceCalls() int   { e.mu.Lock(); defer e.mu.Unlock(); return e.produceCalls }
func (e *Engine) ConsumeCalls() int   { e.mu.Lock(); defer e.mu.Unlock(); return e.consumeCalls }

type Worker struct {
	id     string
	mu     sync.Mutex
	onDied func(error)
	dead   bool
}

func (w *Worker) ID() string { return w.id }

func (w *Worker) OnDied(fn func(error)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onDied = fn
}

// Kill simulates unexpected worker termination.
func (w *Worker) Kill(cause error) {
	w.mu.Lock()
	fn := w.onDied
	w.dead = true
	w.mu.Unlock()
	if fn != nil {
		fn(cause)
	}
}

func (w *Worker) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.dead = true
	return nil
}

type Router struct {
	id     string
	engine *Engine
	worker *Worker

	mu     sync.Mutex
	closed bool
}

func (r *Router) ID() string { return r.id }

func (r *Router) Capabilities() json.RawMessage {
	return json.RawMessage(`{"codecs":[{"kind":"audio","mimeType":"audio/opus"},{"kind":"video","mimeType":"video/VP8"}]}`)
}

func (r *Router) CreateTransport(context.Context) (core.Transport, error) {
	r.engine.mu.Lock()
	r.engine.transportCalls++
	err := r.engine.TransportErr
	id := r.engine.next("transport")
	r.engine.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &Transport{id: id, engine: r.engine}, nil
}

func (r *Router) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *Router) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

type Transport struct {
	id     string
	engine *Engine

	mu       sync.Mutex
	onClosed func()
	closed   bool
}

func (t *Transport) ID() string { return t.id }

func (t *Transport) Params() json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{"id":%q}`, t.id))
}

func (t *Transport) OnClosed(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onClosed = fn
}

// FireClosed simulates the transport reaching a terminal state.
func (t *Transport) FireClosed() {
	t.mu.Lock()
	fn := t.onClosed
	t.closed = true
	t.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (t *Transport) Connect(_ context.Context, params json.RawMessage) (json.RawMessage, error) {
	if len(params) == 0 {
		return nil, fmt.Errorf("empty connect params")
	}
	return json.RawMessage(`{"sdp":"answer"}`), nil
}

func (t *Transport) Produce(_ context.Context, kind core.MediaKind, _ json.RawMessage) (core.Producer, error) {
	t.engine.mu.Lock()
	t.engine.produceCalls++
	err := t.engine.ProduceErr
	id := t.engine.next("producer")
	t.engine.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &Producer{id: id, kind: kind}, nil
}

func (t *Transport) Consume(_ context.Context, producerID string, _ json.RawMessage) (core.Consumer, error) {
	t.engine.mu.Lock()
	t.engine.consumeCalls++
	err := t.engine.ConsumeErr
	id := t.engine.next("consumer")
	t.engine.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &Consumer{id: id, producerID: producerID}, nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *Transport) IsClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

type Producer struct {
	id   string
	kind core.MediaKind

	mu     sync.Mutex
	closed bool
}

func (p *Producer) ID() string           { return p.id }
func (p *Producer) Kind() core.MediaKind { return p.kind }

func (p *Producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

type Consumer struct {
	id         string
	producerID string

	mu     sync.Mutex
	closed bool
}

func (c *Consumer) ID() string         { return c.id }
func (c *Consumer) ProducerID() string { return c.producerID }

func (c *Consumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}
