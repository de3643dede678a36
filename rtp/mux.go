package rtp

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/tevino/abool"
)

const (
	// maxDatagramSize bounds one read from the shared channel; RTP over UDP
	// stays under the typical ethernet MTU.
	maxDatagramSize = 1500

	defaultReassemblyTimeout = 3 * time.Second
	watchdogInterval         = 500 * time.Millisecond
)

// PacketConn defines what the multiplexer needs from the network layer: an
// already-bound datagram endpoint shared by every stream it owns. *net.UDPConn
// satisfies it.
type PacketConn interface {
	WriteTo(b []byte, addr net.Addr) (int, error)
	ReadFrom(b []byte) (int, net.Addr, error)
	Close() error
}

// PacketHandler consumes per-packet notifications (dispatched or received).
type PacketHandler func(Packet)

// FrameHandler consumes completed (or timed-out, delivered incomplete) frames.
type FrameHandler func(*Frame)

// TimeoutHandler consumes stream-timeout notifications.
type TimeoutHandler func(SSRC)

// MuxConfig tunes multiplexer behavior.
type MuxConfig struct {
	// EagerPacketNotify selects per-packet notifications as packets flow. When
	// false, notifications are coalesced into per-frame delivery only: less
	// callback churn, more latency before consumers see data.
	EagerPacketNotify bool

	// ReassemblyTimeout bounds how long an incomplete inbound frame waits for
	// its marker packet before being closed and delivered as-is. Zero selects
	// the default.
	ReassemblyTimeout time.Duration
}

// MuxStats counts protocol anomalies recovered by the receive path.
type MuxStats struct {
	MalformedDropped uint64 `json:"malformedDropped"`
	UnknownDropped   uint64 `json:"unknownDropped"`
}

type pendingFrame struct {
	frame   *Frame
	started time.Time
}

// Multiplexer owns the set of transport contexts keyed by synchronization
// source and the shared network channel they dispatch on. The context table is
// the single source of truth for which streams are live, supporting concurrent
// lookup from the pacing loops and the inbound-packet path.
//
// Notifications for a given source are delivered in the order packets/frames
// became available to that source; no ordering is guaranteed across sources.
type Multiplexer struct {
	lock     sync.RWMutex
	contexts map[SSRC]*TransportContext

	conn   PacketConn
	sendMu sync.Mutex // WriteTo is shared by every pacing loop

	cfg MuxConfig

	handlerMu  sync.RWMutex
	onReceived []PacketHandler
	onDispatch []PacketHandler
	onFrame    []FrameHandler
	onTimeout  []TimeoutHandler

	pendingMu sync.Mutex
	pending   map[SSRC]*pendingFrame

	malformedDropped atomic.Uint64
	unknownDropped   atomic.Uint64

	running        *abool.AtomicBool
	interruptCause chan error
	interruptOnce  sync.Once
}

func NewMultiplexer(conn PacketConn, cfg MuxConfig) *Multiplexer {
	if cfg.ReassemblyTimeout == 0 {
		cfg.ReassemblyTimeout = defaultReassemblyTimeout
	}

	return &Multiplexer{
		contexts:       make(map[SSRC]*TransportContext),
		conn:           conn,
		cfg:            cfg,
		pending:        make(map[SSRC]*pendingFrame),
		running:        abool.New(),
		interruptCause: make(chan error, 1),
	}
}

// Context resolves the transport context for a synchronization source.
//   - returns ErrUnknownStream if absent; inbound packets for unknown sources
//     are dropped by the receive path, never treated as fatal.
func (m *Multiplexer) Context(ssrc SSRC) (*TransportContext, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()

	ctx, ok := m.contexts[ssrc]
	if !ok {
		return nil, ErrUnknownStream{ssrc: ssrc}
	}
	return ctx, nil
}

// AddContext registers a context under its synchronization source.
//   - fails with ErrDuplicateStream if the source already has a live context.
func (m *Multiplexer) AddContext(ctx *TransportContext) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	if _, ok := m.contexts[ctx.Source()]; ok {
		return ErrDuplicateStream{ssrc: ctx.Source()}
	}
	m.contexts[ctx.Source()] = ctx
	return nil
}

// RemoveContext tears down a stream's context and any in-progress reassembly.
// Idempotent.
func (m *Multiplexer) RemoveContext(ssrc SSRC) {
	m.lock.Lock()
	delete(m.contexts, ssrc)
	m.lock.Unlock()

	m.pendingMu.Lock()
	delete(m.pending, ssrc)
	m.pendingMu.Unlock()
}

// StatsSnapshot returns per-context stats for every live stream.
func (m *Multiplexer) StatsSnapshot() []ContextStats {
	m.lock.RLock()
	defer m.lock.RUnlock()

	stats := make([]ContextStats, 0, len(m.contexts))
	for _, ctx := range m.contexts {
		stats = append(stats, ctx.Stats())
	}
	return stats
}

// Stats reports the receive path's drop counters.
func (m *Multiplexer) Stats() MuxStats {
	return MuxStats{
		MalformedDropped: m.malformedDropped.Load(),
		UnknownDropped:   m.unknownDropped.Load(),
	}
}

// OnPacketReceived registers a handler for inbound packets. Fires per packet
// only when EagerPacketNotify is set.
func (m *Multiplexer) OnPacketReceived(h PacketHandler) {
	m.handlerMu.Lock()
	defer m.handlerMu.Unlock()
	m.onReceived = append(m.onReceived, h)
}

// OnPacketDispatched registers a handler for outbound packets. Fires per
// packet only when EagerPacketNotify is set.
func (m *Multiplexer) OnPacketDispatched(h PacketHandler) {
	m.handlerMu.Lock()
	defer m.handlerMu.Unlock()
	m.onDispatch = append(m.onDispatch, h)
}

// OnFrameComplete registers a handler for reassembled inbound frames. Frames
// closed by the reassembly timeout are delivered with IsComplete() still true
// (explicit close) but possibly missing packets.
func (m *Multiplexer) OnFrameComplete(h FrameHandler) {
	m.handlerMu.Lock()
	defer m.handlerMu.Unlock()
	m.onFrame = append(m.onFrame, h)
}

// OnStreamTimeout registers a handler for receive-timeout notifications. The
// context is marked inactive but not deleted.
func (m *Multiplexer) OnStreamTimeout(h TimeoutHandler) {
	m.handlerMu.Lock()
	defer m.handlerMu.Unlock()
	m.onTimeout = append(m.onTimeout, h)
}

// Dispatch marshals and emits a fully stamped outgoing packet on the shared
// channel. Synchronous with respect to the calling pacing loop; loops for
// other contexts contend only on the raw send.
func (m *Multiplexer) Dispatch(p Packet, ctx *TransportContext) error {
	raddr := ctx.RemoteAddr()
	if raddr == nil {
		return ErrInvalidConfiguration{reason: "no remote endpoint assigned"}
	}

	b, err := p.Marshal()
	if err != nil {
		return errors.Wrap(err, "marshalling outgoing packet")
	}

	m.sendMu.Lock()
	n, err := m.conn.WriteTo(b, raddr)
	m.sendMu.Unlock()

	if err != nil {
		return errors.Wrapf(err, "writing to %v", raddr)
	}

	ctx.noteSent(n, time.Now())

	if m.cfg.EagerPacketNotify {
		m.notifyDispatched(p)
	}

	return nil
}

// Serve runs the inbound path: read datagrams off the shared channel, resolve
// the context by SSRC, update jitter bookkeeping and reassemble frames. Runs
// until Interrupt; intended as an actor in the engine's run group.
func (m *Multiplexer) Serve() error {
	m.running.Set()

	watchdogDone := make(chan struct{})
	go m.watch(watchdogDone)
	defer close(watchdogDone)

	buf := make([]byte, maxDatagramSize)
	for {
		n, raddr, err := m.conn.ReadFrom(buf)
		if err != nil {
			if !m.running.IsSet() {
				return nil
			}
			logrus.Infof("rtp receive channel closed (%v), stopping", raddr)
			return err
		}

		if !m.running.IsSet() {
			return nil
		}

		m.handleDatagram(buf[:n], time.Now())
	}
}

// InterruptCause reports the reason Serve was interrupted.
func (m *Multiplexer) InterruptCause() <-chan error {
	return m.interruptCause
}

// Interrupt stops the receive path and closes the shared channel.
func (m *Multiplexer) Interrupt(err error) {
	m.interruptOnce.Do(func() {
		logrus.Infof("interrupting rtp multiplexer: %v", err)

		m.running.UnSet()
		m.conn.Close()
		m.interruptCause <- err
	})
}

func (m *Multiplexer) handleDatagram(buf []byte, arrival time.Time) {
	pkt, err := UnmarshalPacket(buf)
	if err != nil {
		m.malformedDropped.Add(1)
		logrus.Debugf("dropping datagram: %v", err)
		return
	}

	ctx, err := m.Context(pkt.Source())
	if err != nil {
		m.unknownDropped.Add(1)
		logrus.Debugf("dropping packet: %v", err)
		return
	}

	ctx.ObservePacket(pkt, arrival)
	ctx.noteReceived(len(buf))

	if m.cfg.EagerPacketNotify {
		m.notifyReceived(pkt)
	}

	m.reassemble(pkt, arrival)
}

// reassemble folds one accepted packet into the in-progress frame for its
// source, starting a new frame on the first packet of a new (SSRC, timestamp)
// pair and delivering the previous one when the timestamp moves on.
func (m *Multiplexer) reassemble(pkt Packet, arrival time.Time) {
	var deliver []*Frame

	m.pendingMu.Lock()

	p, ok := m.pending[pkt.Source()]
	if ok && p.frame.Timestamp() != pkt.Header.Timestamp {
		// the source moved to a new frame; the old one is as complete as it
		// will ever get
		p.frame.Close()
		deliver = append(deliver, p.frame)
		ok = false
	}

	if !ok {
		p = &pendingFrame{
			frame:   NewFrame(pkt.Source(), pkt.Header.Timestamp),
			started: arrival,
		}
		m.pending[pkt.Source()] = p
	}

	p.frame.AddPacket(pkt)

	if p.frame.IsComplete() {
		deliver = append(deliver, p.frame)
		delete(m.pending, pkt.Source())
	}

	m.pendingMu.Unlock()

	for _, f := range deliver {
		m.notifyFrame(f)
	}
}

// watch periodically ages out stalled reassemblies and flags silent streams.
func (m *Multiplexer) watch(done <-chan struct{}) {
	ticker := time.NewTicker(watchdogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case now := <-ticker.C:
			m.expirePending(now)
			m.flagSilentStreams(now)
		}
	}
}

func (m *Multiplexer) expirePending(now time.Time) {
	var deliver []*Frame

	m.pendingMu.Lock()
	for ssrc, p := range m.pending {
		if now.Sub(p.started) > m.cfg.ReassemblyTimeout {
			p.frame.Close()
			deliver = append(deliver, p.frame)
			delete(m.pending, ssrc)
		}
	}
	m.pendingMu.Unlock()

	for _, f := range deliver {
		logrus.Warnf("frame reassembly timed out for ssrc: %d (%d packets)", uint32(f.Source()), f.Len())
		m.notifyFrame(f)
	}
}

func (m *Multiplexer) flagSilentStreams(now time.Time) {
	m.lock.RLock()
	var silent []SSRC
	for ssrc, ctx := range m.contexts {
		if ctx.TimedOut(now) {
			silent = append(silent, ssrc)
		}
	}
	m.lock.RUnlock()

	for _, ssrc := range silent {
		if ctx, err := m.Context(ssrc); err == nil {
			ctx.MarkInactive()
		}
		logrus.Warnf("stream timed out for ssrc: %d", uint32(ssrc))
		m.notifyTimeout(ssrc)
	}
}

func (m *Multiplexer) notifyReceived(p Packet) {
	m.handlerMu.RLock()
	handlers := m.onReceived
	m.handlerMu.RUnlock()

	for _, h := range handlers {
		h(p)
	}
}

func (m *Multiplexer) notifyDispatched(p Packet) {
	m.handlerMu.RLock()
	handlers := m.onDispatch
	m.handlerMu.RUnlock()

	for _, h := range handlers {
		h(p)
	}
}

func (m *Multiplexer) notifyFrame(f *Frame) {
	m.handlerMu.RLock()
	handlers := m.onFrame
	m.handlerMu.RUnlock()

	for _, h := range handlers {
		h(f)
	}
}

func (m *Multiplexer) notifyTimeout(ssrc SSRC) {
	m.handlerMu.RLock()
	handlers := m.onTimeout
	m.handlerMu.RUnlock()

	for _, h := range handlers {
		h(ssrc)
	}
}
