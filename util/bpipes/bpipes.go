// Package bpipes provides buffered, cancellable sample-buffer pipelines. The
// engine uses them to move byte buffers from a media source into packetizing
// sinks, with optional throttling to the media clock and pause control.
package bpipes

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

var ErrPipelineClosing = errors.New("pipeline closing")
var ErrHeadClosed = errors.New("pipeline head channel closed")

// Stage transforms or gates sample buffers flowing through a pipeline.
type Stage interface {
	// A function that observes/modifies one sample buffer and returns any
	// unrecoverable error encountered.
	//  - The Effect function SHOULD interrupt any blocking calls upon ctx
	//    cancellation and return an error that 'Is' context.Canceled.
	Effect(context.Context, []byte) error

	// The channel buffer size for this stage's output. If this is the final
	// stage, this is the buffer size of the tail of the pipeline.
	OutputBufferSize() int

	// Releases resources the Stage created. Called automatically on stage
	// tear-down; MUST NOT be called concurrently with the Effect.
	Teardown(error)
}

type stageBase struct{}

func (s *stageBase) Effect(context.Context, []byte) error { return nil }
func (s *stageBase) OutputBufferSize() int                { return 0 }
func (s *stageBase) Teardown(error)                       {}

// ThrottlerStage limits buffer throughput to a fixed rate, typically the
// number of sample buffers per second implied by the media clock.
type ThrottlerStage struct {
	stageBase
	limiter *rate.Limiter
}

func (p *ThrottlerStage) Effect(ctx context.Context, _ []byte) error {
	return p.limiter.Wait(ctx)
}

func (p *ThrottlerStage) SetLimit(limit rate.Limit) {
	p.limiter.SetLimit(limit)
}

func (p *ThrottlerStage) SetBurst(burst uint16) {
	p.limiter.SetBurst(int(burst))
}

// NewThrottlerStage makes a stage that throttles the output of the previous
// stage to buffersPerSecond. Throughput at any instant may fall below this
// rate, or may burst if burst > 1.
func NewThrottlerStage(buffersPerSecond rate.Limit, burst uint16) *ThrottlerStage {
	return &ThrottlerStage{
		limiter: rate.NewLimiter(buffersPerSecond, int(burst)),
	}
}

// PauserStage gates the flow of buffers: while paused, buffers wait in the
// stage instead of flowing downstream. The default state is paused.
type PauserStage struct {
	stageBase
	mu       sync.Mutex
	unpaused chan struct{} // closed while flowing
}

func (p *PauserStage) Effect(ctx context.Context, _ []byte) error {
	p.mu.Lock()
	gate := p.unpaused
	p.mu.Unlock()

	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return errors.Join(ctx.Err(), context.Cause(ctx))
	}
}

func (p *PauserStage) SetPaused(isPaused bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if isPaused {
		select {
		case <-p.unpaused:
			// was flowing; raise a fresh gate
			p.unpaused = make(chan struct{})
		default:
		}
	} else {
		select {
		case <-p.unpaused:
		default:
			close(p.unpaused)
		}
	}
}

func NewPauserStage() *PauserStage {
	return &PauserStage{
		unpaused: make(chan struct{}),
	}
}

// SplitStage tees buffers to a second output channel before passing them to
// the next stage, e.g. to observe the sample flow feeding a sink.
//   - The split channel is closed when the stage is torn down.
//   - If blocking, a slow split consumer stalls the pipeline; otherwise the
//     split may skip buffers but the main pipeline never stalls.
type SplitStage struct {
	stageBase
	splitChannel chan []byte
	blocking     bool
}

func (s *SplitStage) Effect(ctx context.Context, buf []byte) error {
	if s.blocking {
		select {
		case s.splitChannel <- buf:
		case <-ctx.Done():
			return errors.Join(ctx.Err(), context.Cause(ctx))
		}
	} else {
		select {
		case s.splitChannel <- buf:
		default:
		}
	}

	return nil
}

func (s *SplitStage) Teardown(error) {
	close(s.splitChannel)
}

func NewSplitStage(splitChannelBufferSize int, blocking bool) (*SplitStage, <-chan []byte) {
	stage := &SplitStage{
		splitChannel: make(chan []byte, splitChannelBufferSize),
		blocking:     blocking,
	}

	return stage, stage.splitChannel
}

func runPreStage(ctx context.Context, head <-chan []byte, next chan<- []byte, cancelStages context.CancelCauseFunc, channelError chan<- error) {
	defer close(next)

	for {
		select {
		case <-ctx.Done():
			err := errors.Join(context.Cause(ctx), ctx.Err())
			channelError <- errors.Join(err, ErrPipelineClosing)
			return
		default:
		}

		buf, ok := <-head

		// Unblock stage effects upon pipe-head closure to prevent deadlock.
		// Stage effects that honor context cancellation enter "sink" mode
		// while waiting for their previous stage to close.
		if !ok {
			err := errors.Join(ErrPipelineClosing, ErrHeadClosed)
			cancelStages(err)
			channelError <- err
			return
		}

		next <- buf
	}
}

func runStage(plContext context.Context, prev <-chan []byte, next chan<- []byte, plStage Stage, channelError chan<- error) {
	var enterSinkMode bool  // controls if the stage consumes data after teardown
	var teardownCause error // is set before stage teardown

	var stageWasTornDown bool // prevents double teardown
	var nextWasClosed bool    // prevents double-close
	defer func() {
		if !nextWasClosed {
			close(next)
		}

		if !stageWasTornDown {
			plStage.Teardown(teardownCause)
		}
	}()

pumpData:
	for {
		select {
		case <-plContext.Done():
			teardownCause = errors.Join(context.Cause(plContext), plContext.Err())
			enterSinkMode = true
			break pumpData
		default:
		}

		buf, ok := <-prev

		// If the previous stage was just torn down, continue tearing down the
		// pipeline from this stage onward without sinking.
		if !ok {
			teardownCause = ErrPipelineClosing
			enterSinkMode = false
			break pumpData
		}

		err := plStage.Effect(plContext, buf)

		if err != nil {
			if !errors.Is(err, context.Canceled) { // the pre-stage sends this error already
				channelError <- err
			}
			teardownCause = err
			enterSinkMode = true
			break pumpData
		}

		next <- buf
	}

	close(next)
	nextWasClosed = true
	plStage.Teardown(teardownCause)
	stageWasTornDown = true

	if !enterSinkMode {
		return
	}

	// sink buffers here until the previous stage's output is closed; keeps
	// the pipeline drainable without doing work or emitting data
	for {
		if _, ok := <-prev; !ok {
			return
		}
		time.Sleep(15 * time.Millisecond)
	}
}

// NewPipeline creates a concurrent pipeline that manages all goroutines and
// channels needed. The caller is only responsible for closing the pipe-head;
// it will never close automatically. The caller MUST tear down the pipeline by
// either cancelling its context or closing the pipe-head.
//
// Returns the tail of the pipeline and a channel carrying errors from any
// stage effect. An errored stage tears down subsequent stages and then sinks
// input at a throttled rate until the head closes, which keeps the pipeline
// drainable and maintains backpressure on upstream stages.
func NewPipeline(ctx context.Context, pipeHead <-chan []byte, stages ...Stage) (<-chan []byte, <-chan error) {
	var pipeTail chan []byte
	channelError := make(chan error, 1+len(stages)) // every stage MUST be able to error without blocking

	nextInput := make(chan []byte, 1)

	if len(stages) == 0 {
		pipeTail = make(chan []byte, 1)
		nextInput = pipeTail
	}

	// pipeline-specific cancel to interrupt blocked pipeline effects
	pipeLineContext, pipeLineContextCancel := context.WithCancelCause(ctx)

	// the pre-stage just cancels the context if the input is closed to reach
	// stopped stages
	go runPreStage(ctx, pipeHead, nextInput, pipeLineContextCancel, channelError)

	for i, stage := range stages {
		currentOutput := make(chan []byte, stage.OutputBufferSize())

		if i+1 == len(stages) {
			pipeTail = currentOutput
		}

		go runStage(pipeLineContext, nextInput, currentOutput, stage, channelError)

		nextInput = currentOutput
	}

	return pipeTail, channelError
}
