package rtp

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/tevino/abool"
	"golang.org/x/time/rate"
)

// PacerState tracks the pacing loop lifecycle: Stopped -> Started -> Stopped,
// terminal only via an explicit stop or a fatal error.
type PacerState int

const (
	PacerStopped PacerState = iota
	PacerStarted
)

func (s PacerState) String() string {
	switch s {
	case PacerStopped:
		return "stopped"
	case PacerStarted:
		return "started"
	default:
		return "unknown"
	}
}

// SchedulerHint is a best-effort fairness signal raised around dispatch
// activity. It affects scheduling fairness only, never protocol correctness;
// the default hook ignores it.
type SchedulerHint int

const (
	HintIdle SchedulerHint = iota
	HintActive
)

// PacerConfig configures one pacing loop.
type PacerConfig struct {
	Context *TransportContext
	Mux     *Multiplexer
	Queue   *FrameQueue

	// TicksPerFrame is the media-clock delta applied to the outgoing timestamp
	// once per dequeued frame, independent of packet count. Defaults to the
	// context clock rate.
	TicksPerFrame uint32

	// Interval is the wall-clock pacing interval between frames. Defaults to
	// TicksPerFrame worth of media time.
	Interval time.Duration

	// Loop re-enqueues an equivalent frame after dispatch instead of releasing
	// it, so the same payload is re-stamped and re-emitted each cycle.
	Loop bool

	// Hint receives scheduler hints around dispatch activity. Optional.
	Hint func(SchedulerHint)
}

// Pacer drains a frame queue at media-clock rate, stamping outgoing packets
// through its transport context and emitting them via the multiplexer. One
// pacer goroutine runs per active sink; it is the exclusive writer of its
// context's outgoing counters.
//
// Any error other than an explicit stop is logged and the loop continues
// (packet drops are tolerated). Stop is cooperative: the cancellation signal
// is observed within one pacing interval, then the queue is drained and the
// pacing resource released.
type Pacer struct {
	ctx   *TransportContext
	mux   *Multiplexer
	queue *FrameQueue

	ticksPerFrame uint32
	interval      time.Duration
	loop          bool
	hint          func(SchedulerHint)

	limiter *rate.Limiter

	started *abool.AtomicBool
	running *abool.AtomicBool
	runCtx  context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewPacer validates the config and prepares a stopped pacing loop.
func NewPacer(cfg PacerConfig) (*Pacer, error) {
	if cfg.Context == nil || cfg.Mux == nil || cfg.Queue == nil {
		return nil, ErrInvalidConfiguration{reason: "pacer requires a context, multiplexer and frame queue"}
	}

	ticks := cfg.TicksPerFrame
	if ticks == 0 {
		ticks = cfg.Context.ClockRate()
	}

	interval := cfg.Interval
	if interval == 0 {
		interval = time.Duration(float64(ticks) / float64(cfg.Context.ClockRate()) * float64(time.Second))
	}
	if interval <= 0 {
		return nil, ErrInvalidConfiguration{reason: "pacing interval must be positive"}
	}

	hint := cfg.Hint
	if hint == nil {
		hint = func(SchedulerHint) {}
	}

	runCtx, cancel := context.WithCancel(context.Background())

	return &Pacer{
		ctx:           cfg.Context,
		mux:           cfg.Mux,
		queue:         cfg.Queue,
		ticksPerFrame: ticks,
		interval:      interval,
		loop:          cfg.Loop,
		hint:          hint,
		limiter:       rate.NewLimiter(rate.Every(interval), 1),
		started:       abool.New(),
		running:       abool.New(),
		runCtx:        runCtx,
		cancel:        cancel,
		done:          make(chan struct{}),
	}, nil
}

// State reports the current lifecycle state.
func (p *Pacer) State() PacerState {
	if p.running.IsSet() {
		return PacerStarted
	}
	return PacerStopped
}

// Interval returns the wall-clock pacing interval.
func (p *Pacer) Interval() time.Duration { return p.interval }

// Start launches the pacing goroutine. A pacer runs at most once.
func (p *Pacer) Start() error {
	if !p.started.SetToIf(false, true) {
		return errors.New("pacer already started")
	}

	p.running.Set()
	go p.run()
	return nil
}

// Stop requests a cooperative stop and waits for the drain-and-stop sequence
// to finish. The request is observed within one pacing interval. Idempotent.
func (p *Pacer) Stop() {
	p.cancel()

	if p.started.IsSet() {
		<-p.done
	}
}

func (p *Pacer) run() {
	defer close(p.done)
	defer p.running.UnSet()
	defer p.queue.Clear()
	defer p.hint(HintIdle)
	defer logrus.Infof("pacing loop stopped for ssrc: %d", uint32(p.ctx.Source()))

	logrus.Infof("pacing loop started for ssrc: %d (interval: %v)", uint32(p.ctx.Source()), p.interval)

	for {
		select {
		case <-p.runCtx.Done():
			return
		default:
		}

		frame, ok := p.queue.Pop()
		if !ok {
			// bounded suspension: a stop request is observed within one
			// pacing interval even on an empty queue
			p.hint(HintIdle)
			select {
			case <-p.runCtx.Done():
				return
			case <-time.After(p.interval):
			}
			continue
		}

		if frame == nil || frame.Len() == 0 {
			continue
		}

		if !p.ctx.IsActive() {
			logrus.Debugf("skipping frame for inactive context, ssrc: %d", uint32(p.ctx.Source()))
			continue
		}

		p.hint(HintActive)
		p.dispatchFrame(frame)

		if p.loop {
			// same payload bytes, re-stamped with fresh sequence numbers and
			// timestamp on its next trip through the loop
			p.queue.Push(frame)
		}

		if err := p.limiter.Wait(p.runCtx); err != nil {
			return
		}
	}
}

// dispatchFrame advances the context timestamp once for the frame, then stamps
// and emits every packet. Dispatch errors are logged and tolerated.
func (p *Pacer) dispatchFrame(f *Frame) {
	p.ctx.AdvanceTimestamp(p.ticksPerFrame)
	ts := p.ctx.Timestamp()

	for pkt := range f.Packets() {
		pkt.Header.Timestamp = ts
		pkt.Header.SSRC = uint32(p.ctx.Source())
		pkt.Header.PayloadType = p.ctx.Descriptor().PayloadType
		pkt.Header.SequenceNumber = p.ctx.NextSequenceNumber()

		if err := p.mux.Dispatch(pkt, p.ctx); err != nil {
			logrus.Warnf("packet dropped for ssrc: %d: %v", uint32(p.ctx.Source()), err)
			continue
		}

		// self-generated packets feed the same bookkeeping as inbound ones so
		// consumers keying off this context see consistent state
		p.ctx.ObservePacket(pkt, time.Now())
	}
}
