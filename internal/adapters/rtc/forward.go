package rtc

import (
	"context"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

type forwardState int32

const (
	forwardOk forwardState = iota
	forwardPaused
	forwardClosed
)

// forwarder pumps RTP from one remote track into one local track.
// Each consumer owns exactly one forwarder.
type forwarder struct {
	src   *webrtc.TrackRemote
	dst   *webrtc.TrackLocalStaticRTP
	state atomic.Int32 // zero value is forwardOk
}

func newForwarder(src *webrtc.TrackRemote, dst *webrtc.TrackLocalStaticRTP) *forwarder {
	return &forwarder{src: src, dst: dst}
}

func (f *forwarder) getState() forwardState {
	return forwardState(f.state.Load())
}

func (f *forwarder) markPaused() { f.state.Store(int32(forwardPaused)) }
func (f *forwarder) markOk()     { f.state.Store(int32(forwardOk)) }
func (f *forwarder) markClosed() { f.state.Store(int32(forwardClosed)) }

// loop reads RTP packets from the source track and writes them to the
// destination until the context ends, the source errors, or the
// forwarder is closed.
func (f *forwarder) loop(ctx context.Context, logger *zerolog.Logger) {
	logger.Info().Msg("forwarder started")
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("forwarder ctx done")
			return
		default:
		}
		pkt, _, err := f.src.ReadRTP()
		if err != nil {
			logger.Error().Err(err).Msg("forwarder read RTP error, stopping")
			f.markClosed()
			return
		}
		if !f.forward(pkt, logger) {
			return
		}
	}
}

func (f *forwarder) forward(pkt *rtp.Packet, logger *zerolog.Logger) bool {
	switch f.getState() {
	case forwardClosed:
		return false
	case forwardPaused:
		return true
	default:
	}
	if err := f.dst.WriteRTP(pkt); err != nil {
		logger.Error().Err(err).Msg("forwarder write RTP error, stopping")
		f.markClosed()
		return false
	}
	return true
}
