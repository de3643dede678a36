package engine

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/rebeljah/rtpcast/media"
	"github.com/rebeljah/rtpcast/rtp"
	"github.com/rebeljah/rtpcast/util/bpipes"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Producer pulls fixed-size sample buffers from a media source through a
// throttled pipeline and packetizes each buffer into its sink's frame queue.
// The throttle keeps a file-backed source from flooding the queue faster than
// the pacing loop drains it; a live source is naturally paced by its writer.
type Producer struct {
	source media.Source
	sink   rtp.Sink

	bufferSize       int
	buffersPerSecond rate.Limit

	pauser *bpipes.PauserStage

	ctx           context.Context
	cancel        context.CancelCauseFunc
	interruptOnce sync.Once
}

// NewProducer sizes the pipeline for bufferSize-byte reads emitted at
// buffersPerSecond. For a lossless audio mapping, buffersPerSecond is
// clockRate * bytesPerSample / bufferSize.
func NewProducer(source media.Source, sink rtp.Sink, bufferSize int, buffersPerSecond rate.Limit) *Producer {
	ctx, cancel := context.WithCancelCause(context.Background())

	// producers flow by default; Pause raises the gate
	pauser := bpipes.NewPauserStage()
	pauser.SetPaused(false)

	return &Producer{
		source:           source,
		sink:             sink,
		bufferSize:       bufferSize,
		buffersPerSecond: buffersPerSecond,
		pauser:           pauser,
		ctx:              ctx,
		cancel:           cancel,
	}
}

// Source returns the synchronization source of the sink this producer feeds.
func (p *Producer) Source() rtp.SSRC { return p.sink.Source() }

// Pause holds sample buffers upstream of the sink. The pacing loop keeps
// running; it just finds nothing new to emit.
func (p *Producer) Pause() { p.pauser.SetPaused(true) }

// Resume releases buffers held by Pause.
func (p *Producer) Resume() { p.pauser.SetPaused(false) }

// Run pumps the source until EOF or interrupt. Packetize errors are logged
// and tolerated; the producer keeps pumping.
func (p *Producer) Run() error {
	defer p.source.Close()
	defer logrus.Infof("producer stopped for ssrc: %d", uint32(p.sink.Source()))

	head := make(chan []byte)

	// reader goroutine owns the pipe head; closing it tears the pipeline down
	go func() {
		defer close(head)

		for {
			buf := make([]byte, p.bufferSize)
			n, err := io.ReadFull(p.source, buf)

			if n > 0 {
				select {
				case head <- buf[:n]:
				case <-p.ctx.Done():
					return
				}
			}

			if err != nil {
				if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
					logrus.Warnf("producer read error: %v", err)
				}
				return
			}
		}
	}()

	tail, cherror := bpipes.NewPipeline(
		p.ctx, head,
		bpipes.NewThrottlerStage(p.buffersPerSecond, 1),
		p.pauser,
	)

	for {
		select {
		case buf, ok := <-tail:
			if !ok {
				return nil
			}

			if err := p.sink.Packetize(buf); err != nil {
				logrus.Warnf("producer packetize error for ssrc: %d: %v", uint32(p.sink.Source()), err)
			}

		case err := <-cherror:
			if errors.Is(err, bpipes.ErrPipelineClosing) || errors.Is(err, context.Canceled) {
				// teardown in progress; keep draining until the tail closes
				// so no trailing buffers are lost
				cherror = nil
				continue
			}
			return err
		}
	}
}

// Interrupt cancels the pipeline; Run returns after the drain.
func (p *Producer) Interrupt(cause error) {
	p.interruptOnce.Do(func() {
		logrus.Infof("interrupting producer for ssrc: %d: %v", uint32(p.sink.Source()), cause)
		p.cancel(cause)
	})
}
