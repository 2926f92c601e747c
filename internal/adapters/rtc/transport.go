package rtc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dev-kishor/webcam-backend/internal/core"
)

// transport wraps one PeerConnection per participant. Remote tracks
// arriving on the connection are queued per kind and claimed by
// Produce calls; Consume attaches a local track fed from another
// transport's producer.
type transport struct {
	id     string
	router *router
	pc     *webrtc.PeerConnection

	ctx    context.Context
	cancel context.CancelFunc

	audio chan *webrtc.TrackRemote
	video chan *webrtc.TrackRemote

	closeOnce sync.Once
	onClosed  func()
}

func newTransport(ctx context.Context, r *router) (core.Transport, error) {
	iceServers := make([]webrtc.ICEServer, 0, len(r.worker.engine.cfg.ICEServers))
	for _, u := range r.worker.engine.cfg.ICEServers {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: []string{u}})
	}
	pc, err := r.worker.api.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	t := &transport{
		id:     uuid.NewString(),
		router: r,
		pc:     pc,
		ctx:    ctx,
		cancel: cancel,
		audio:  make(chan *webrtc.TrackRemote, 4),
		video:  make(chan *webrtc.TrackRemote, 4),
	}

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "rtc").Str("transport", t.id).
			Str("state", s.String()).Msg("peer state")
		if s == webrtc.PeerConnectionStateFailed || s == webrtc.PeerConnectionStateClosed {
			t.terminate()
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Info().Str("module", "rtc").Str("transport", t.id).
			Str("kind", track.Kind().String()).Str("track_id", track.ID()).Msg("remote track")
		switch track.Kind() {
		case webrtc.RTPCodecTypeAudio:
			select {
			case t.audio <- track:
			default:
			}
		case webrtc.RTPCodecTypeVideo:
			select {
			case t.video <- track:
			default:
			}
		}
	})

	return t, nil
}

func (t *transport) ID() string { return t.id }

func (t *transport) Params() json.RawMessage {
	params := map[string]any{
		"id":         t.id,
		"iceServers": t.router.worker.engine.cfg.ICEServers,
	}
	b, _ := json.Marshal(params)
	return b
}

func (t *transport) OnClosed(fn func()) { t.onClosed = fn }

// Connect applies the client's SDP offer and returns the full answer
// once ICE gathering completes.
func (t *transport) Connect(_ context.Context, params json.RawMessage) (json.RawMessage, error) {
	var p struct {
		SDP string `json:"sdp"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("bad connect params: %w", err)
	}
	if p.SDP == "" {
		return nil, fmt.Errorf("connect params missing sdp")
	}

	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: p.SDP}
	if err := t.pc.SetRemoteDescription(offer); err != nil {
		return nil, err
	}
	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return nil, err
	}

	gatherComplete := webrtc.GatheringCompletePromise(t.pc)
	if err := t.pc.SetLocalDescription(answer); err != nil {
		return nil, err
	}
	<-gatherComplete

	local := t.pc.LocalDescription()
	out, _ := json.Marshal(map[string]string{"sdp": local.SDP})
	return out, nil
}

// Produce claims the next remote track of the requested kind. The
// client is expected to have negotiated the track before producing.
func (t *transport) Produce(ctx context.Context, kind core.MediaKind, rtpParameters json.RawMessage) (core.Producer, error) {
	var src chan *webrtc.TrackRemote
	switch kind {
	case core.MediaAudio:
		src = t.audio
	case core.MediaVideo:
		src = t.video
	default:
		return nil, fmt.Errorf("unknown media kind %q", kind)
	}

	select {
	case track := <-src:
		p := &producer{
			id:        uuid.NewString(),
			kind:      kind,
			track:     track,
			params:    rtpParameters,
			transport: t,
		}
		t.router.worker.engine.registerProducer(p)
		return p, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("no %s track negotiated on transport %s: %w", kind, t.id, ctx.Err())
	case <-t.ctx.Done():
		return nil, fmt.Errorf("transport %s closed", t.id)
	}
}

// Consume attaches a local track fed from the producer's remote track
// and starts the RTP forwarder for it.
func (t *transport) Consume(_ context.Context, producerID string, _ json.RawMessage) (core.Consumer, error) {
	p, ok := t.router.worker.engine.lookupProducer(producerID)
	if !ok {
		return nil, fmt.Errorf("producer %q not found on engine", producerID)
	}

	local, err := webrtc.NewTrackLocalStaticRTP(
		p.track.Codec().RTPCodecCapability, p.track.ID(), p.track.StreamID(),
	)
	if err != nil {
		return nil, err
	}
	sender, err := t.pc.AddTrack(local)
	if err != nil {
		return nil, err
	}

	fwd := newForwarder(p.track, local)
	ctx, cancel := context.WithCancel(t.ctx)
	logger := log.With().Str("module", "rtc").
		Str("producer", producerID).Str("transport", t.id).Logger()
	go fwd.loop(ctx, &logger)
	go discardRTCP(ctx, sender)

	return &consumer{
		id:         uuid.NewString(),
		producerID: producerID,
		fwd:        fwd,
		cancel:     cancel,
	}, nil
}

func (t *transport) Close() error {
	t.terminate()
	return nil
}

func (t *transport) terminate() {
	t.closeOnce.Do(func() {
		t.cancel()
		if err := t.pc.Close(); err != nil {
			log.Error().Err(err).Str("module", "rtc").Str("transport", t.id).Msg("close error")
		}
		if t.onClosed != nil {
			t.onClosed()
		}
		log.Info().Str("module", "rtc").Str("transport", t.id).Msg("transport closed")
	})
}

// discardRTCP drains sender reports so interceptors keep running.
func discardRTCP(ctx context.Context, sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

type producer struct {
	id        string
	kind      core.MediaKind
	track     *webrtc.TrackRemote
	params    json.RawMessage
	transport *transport
}

func (p *producer) ID() string           { return p.id }
func (p *producer) Kind() core.MediaKind { return p.kind }

func (p *producer) Close() error {
	p.transport.router.worker.engine.unregisterProducer(p.id)
	return nil
}

type consumer struct {
	id         string
	producerID string
	fwd        *forwarder
	cancel     context.CancelFunc
}

func (c *consumer) ID() string         { return c.id }
func (c *consumer) ProducerID() string { return c.producerID }

func (c *consumer) Close() error {
	c.fwd.markClosed()
	c.cancel()
	return nil
}
