package rtp

import (
	"time"

	"github.com/pkg/errors"
	"github.com/rebeljah/rtpcast/media"
)

// defaultMaxPayload keeps packet size under the ethernet MTU with headroom for
// IP/UDP/RTP headers.
const defaultMaxPayload = 1200

// Sink is one outbound media stream: a transport context, a frame queue and a
// pacing loop bound together over a shared multiplexer. The audio and video
// variants form a closed set exposing the same capability set.
type Sink interface {
	// Start registers the sink's context with the multiplexer and launches
	// its pacing loop.
	Start() error

	// Stop halts the pacing loop, drains the queue and removes the context.
	Stop()

	// Packetize turns one raw sample buffer into a single queued frame via
	// the sink's opaque codec transform.
	Packetize(samples []byte) error

	// Source returns the sink's synchronization source identifier.
	Source() SSRC
}

// SinkConfig configures one media sink.
type SinkConfig struct {
	Mux     *Multiplexer
	Context ContextConfig

	// Codec is the opaque sample transform. Defaults to the lossless L16
	// mapping.
	Codec media.Codec

	// MaxPayloadSize bounds per-packet payload bytes. Defaults to
	// defaultMaxPayload.
	MaxPayloadSize int

	TicksPerFrame uint32
	Interval      time.Duration
	Loop          bool
	Hint          func(SchedulerHint)
}

// streamSink carries the behavior shared by the sink variants.
type streamSink struct {
	ctx        *TransportContext
	mux        *Multiplexer
	queue      *FrameQueue
	pacer      *Pacer
	codec      media.Codec
	maxPayload int
}

func newStreamSink(cfg SinkConfig) (*streamSink, error) {
	if cfg.Mux == nil {
		return nil, ErrInvalidConfiguration{reason: "sink requires a multiplexer"}
	}

	ctx, err := NewTransportContext(cfg.Context)
	if err != nil {
		return nil, err
	}

	queue := NewFrameQueue()

	pacer, err := NewPacer(PacerConfig{
		Context:       ctx,
		Mux:           cfg.Mux,
		Queue:         queue,
		TicksPerFrame: cfg.TicksPerFrame,
		Interval:      cfg.Interval,
		Loop:          cfg.Loop,
		Hint:          cfg.Hint,
	})
	if err != nil {
		return nil, err
	}

	codec := cfg.Codec
	if codec == nil {
		codec = media.L16{}
	}

	maxPayload := cfg.MaxPayloadSize
	if maxPayload <= 0 {
		maxPayload = defaultMaxPayload
	}

	return &streamSink{
		ctx:        ctx,
		mux:        cfg.Mux,
		queue:      queue,
		pacer:      pacer,
		codec:      codec,
		maxPayload: maxPayload,
	}, nil
}

func (s *streamSink) Start() error {
	if err := s.mux.AddContext(s.ctx); err != nil {
		return err
	}

	if err := s.pacer.Start(); err != nil {
		s.mux.RemoveContext(s.ctx.Source())
		return err
	}

	return nil
}

func (s *streamSink) Stop() {
	s.pacer.Stop()
	s.mux.RemoveContext(s.ctx.Source())
}

func (s *streamSink) Source() SSRC { return s.ctx.Source() }

// Context exposes the sink's transport context for stats and diagnostics.
func (s *streamSink) Context() *TransportContext { return s.ctx }

// Queue exposes the sink's frame queue for producers that bypass Packetize.
func (s *streamSink) Queue() *FrameQueue { return s.queue }

func (s *streamSink) Packetize(samples []byte) error {
	payload, err := s.codec.Encode(samples)
	if err != nil {
		return errors.Wrap(err, "encoding samples")
	}

	frame := NewFrame(s.ctx.Source(), 0)
	payloadType := s.ctx.Descriptor().PayloadType

	var seq uint16
	for off := 0; off < len(payload); off += s.maxPayload {
		end := off + s.maxPayload
		if end > len(payload) {
			end = len(payload)
		}

		marker := end == len(payload)
		frame.AddPacket(NewPacket(payloadType, marker, seq, payload[off:end]))
		seq++
	}

	if frame.Len() == 0 {
		return nil
	}

	s.queue.Push(frame)
	return nil
}

// AudioSink streams packetized audio samples.
type AudioSink struct {
	streamSink
}

func NewAudioSink(cfg SinkConfig) (*AudioSink, error) {
	if kind := cfg.Context.Descriptor.Kind; kind != "" && kind != media.Audio {
		return nil, ErrInvalidConfiguration{reason: "audio sink requires an audio descriptor"}
	}

	s, err := newStreamSink(cfg)
	if err != nil {
		return nil, err
	}
	return &AudioSink{streamSink: *s}, nil
}

// VideoSink streams packetized video access units; the marker bit closes each
// access unit exactly as it closes an audio frame.
type VideoSink struct {
	streamSink
}

func NewVideoSink(cfg SinkConfig) (*VideoSink, error) {
	if kind := cfg.Context.Descriptor.Kind; kind != "" && kind != media.Video {
		return nil, ErrInvalidConfiguration{reason: "video sink requires a video descriptor"}
	}

	s, err := newStreamSink(cfg)
	if err != nil {
		return nil, err
	}
	return &VideoSink{streamSink: *s}, nil
}
