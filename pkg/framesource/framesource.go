// Package framesource defines the contract between the RTSP core and
// the capture/encode stack it sits on top of (spec.md §6, Frame Source
// contract). The teacher's equivalent boundary is the callback pair
// h264Proc.OnFrame/aacProc.OnFrame in pkg/rtp — here the direction is
// inverted (the core pulls frames rather than receiving depacketized
// ones), so the contract is a blocking pull interface instead of a
// callback.
package framesource

import (
	"context"
	"time"
)

// VideoFrame is one encoder-emitted access unit.
type VideoFrame struct {
	PTSNanos int64
	IsIDR    bool
	NALUs    [][]byte // start-code and length-prefix stripped
	SPS      []byte   // present only when IsIDR and the encoder refreshed parameter sets
	PPS      []byte
}

// AudioFrame is one encoder-emitted audio frame: a G.711 20ms frame or
// one AAC access unit, depending on the stream's configured codec.
type AudioFrame struct {
	PTSNanos int64
	Payload  []byte
}

// Source is implemented by the capture/encode stack backing one
// stream. The core calls NextVideoFrame/NextAudioFrame from its
// encoder pump goroutine; both block until a frame is available, the
// frame interval ceiling elapses, or ctx is canceled.
type Source interface {
	// Start is invoked once, when the server starts this stream's
	// encoder pump; it is not tied to any client's PLAY. Start reports
	// the nominal frame interval, and the pump waits up to twice that
	// interval for each NextVideoFrame call.
	Start(ctx context.Context) (frameInterval time.Duration, err error)
	// Stop is invoked when the encoder pump exits at server shutdown; it
	// is not tied to any client's TEARDOWN.
	Stop() error

	NextVideoFrame(ctx context.Context) (VideoFrame, error)
	// NextAudioFrame returns framesource.ErrNoAudio when the stream
	// carries no audio track.
	NextAudioFrame(ctx context.Context) (AudioFrame, error)
}

// ErrNoAudio is returned by NextAudioFrame for video-only streams.
var ErrNoAudio = errNoAudio{}

type errNoAudio struct{}

func (errNoAudio) Error() string { return "framesource: stream has no audio track" }
