package rtp

import (
	"net"
	"sync"
	"time"

	"github.com/pion/randutil"
	"github.com/rebeljah/rtpcast/media"
)

// jitterGain is the 1/16 smoothing factor from RFC3550 §6.4.1.
const jitterGain = 16.0

var randGen = randutil.NewMathRandomGenerator()

// ContextConfig carries the setup-time parameters for one transport context.
type ContextConfig struct {
	SSRC       SSRC
	Descriptor media.Descriptor

	// ClockRate overrides the descriptor clock rate when non-zero.
	ClockRate uint32

	LocalAddr  *net.UDPAddr
	RemoteAddr *net.UDPAddr

	DataChannel    ChannelID
	ControlChannel ChannelID

	// InitialSequence seeds the outgoing sequence counter as its last-used
	// value, so the first emitted sequence number is InitialSequence+1. Nil
	// selects a random seed.
	InitialSequence *uint16

	// ReceiveTimeout bounds packet silence before the context is marked
	// inactive and a timeout is surfaced. Zero disables timeout tracking.
	ReceiveTimeout time.Duration
	SendTimeout    time.Duration
}

// ContextStats is a point-in-time snapshot of one context's bookkeeping.
type ContextStats struct {
	SSRC            SSRC      `json:"ssrc"`
	Active          bool      `json:"active"`
	Jitter          float64   `json:"jitter"`
	SequenceNumber  uint16    `json:"sequenceNumber"`
	Timestamp       uint32    `json:"timestamp"`
	ClockRate       uint32    `json:"clockRate"`
	PacketsSent     uint64    `json:"packetsSent"`
	BytesSent       uint64    `json:"bytesSent"`
	PacketsReceived uint64    `json:"packetsReceived"`
	BytesReceived   uint64    `json:"bytesReceived"`
	LastArrival     time.Time `json:"lastArrival"`
	LastDeparture   time.Time `json:"lastDeparture"`
}

// TransportContext is the mutable per-stream protocol state: endpoints,
// channel ids, the outgoing sequence and timestamp counters, and the RFC3550
// jitter estimate. Exactly one live context exists per synchronization source,
// enforced by the owning multiplexer.
//
// A context-level mutex guards the counters so that the pacing loop (outgoing
// direction) and the receive path (incoming direction) can share one context
// without serializing unrelated streams behind a global lock.
type TransportContext struct {
	mu sync.Mutex

	ssrc       SSRC
	descriptor media.Descriptor
	clockRate  uint32

	laddr *net.UDPAddr
	raddr *net.UDPAddr

	dataChannel    ChannelID
	controlChannel ChannelID

	sequence  uint16
	timestamp uint32

	// RFC3550 §6.4.1 jitter state. transit tracking always uses the two most
	// recently accepted packets, not sequence order, so reordering feeds into
	// the estimate. Arrival times are measured in media ticks from the first
	// observed arrival; the epoch offset cancels in the transit difference
	// and keeps the float math well inside float64 precision.
	jitter       float64
	transit      float64
	hasTransit   bool
	arrivalEpoch time.Time

	lastArrival   time.Time
	lastDeparture time.Time

	recvTimeout time.Duration
	sendTimeout time.Duration

	inactive bool

	packetsSent     uint64
	bytesSent       uint64
	packetsReceived uint64
	bytesReceived   uint64
}

// NewTransportContext initializes per-stream state from the config.
//   - fails with ErrInvalidConfiguration if no positive clock rate is
//     available or the descriptor is unusable.
//   - duplicate-SSRC detection belongs to Multiplexer.AddContext, which owns
//     the one-context-per-source invariant.
func NewTransportContext(cfg ContextConfig) (*TransportContext, error) {
	if err := cfg.Descriptor.Validate(); err != nil {
		return nil, ErrInvalidConfiguration{reason: err.Error()}
	}

	clockRate := cfg.ClockRate
	if clockRate == 0 {
		clockRate = cfg.Descriptor.ClockRate
	}
	if clockRate == 0 {
		return nil, ErrInvalidConfiguration{reason: "clock rate must be positive"}
	}

	ssrc := cfg.SSRC
	if ssrc == 0 {
		ssrc = SSRC(randGen.Uint32())
	}

	var seq uint16
	if cfg.InitialSequence != nil {
		seq = *cfg.InitialSequence
	} else {
		seq = uint16(randGen.Uint32())
	}

	return &TransportContext{
		ssrc:           ssrc,
		descriptor:     cfg.Descriptor,
		clockRate:      clockRate,
		laddr:          cfg.LocalAddr,
		raddr:          cfg.RemoteAddr,
		dataChannel:    cfg.DataChannel,
		controlChannel: cfg.ControlChannel,
		sequence:       seq,
		recvTimeout:    cfg.ReceiveTimeout,
		sendTimeout:    cfg.SendTimeout,
	}, nil
}

func (c *TransportContext) Source() SSRC                 { return c.ssrc }
func (c *TransportContext) ClockRate() uint32            { return c.clockRate }
func (c *TransportContext) Descriptor() media.Descriptor { return c.descriptor }
func (c *TransportContext) DataChannel() ChannelID       { return c.dataChannel }
func (c *TransportContext) ControlChannel() ChannelID    { return c.controlChannel }

func (c *TransportContext) LocalAddr() *net.UDPAddr {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.laddr
}

func (c *TransportContext) RemoteAddr() *net.UDPAddr {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.raddr
}

func (c *TransportContext) SetLocalAddr(addr *net.UDPAddr) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.laddr = addr
}

func (c *TransportContext) SetRemoteAddr(addr *net.UDPAddr) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.raddr = addr
}

// NextSequenceNumber advances the outgoing sequence counter and returns the
// new value, wrapping 65535 -> 0 through uint16 arithmetic. The stored counter
// is the last sequence number handed out; the configured initial value seeds
// it, so the first packet goes out as initial+1.
func (c *TransportContext) NextSequenceNumber() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sequence++
	return c.sequence
}

// AdvanceTimestamp adds delta media-clock ticks to the outgoing RTP timestamp
// modulo 2^32.
func (c *TransportContext) AdvanceTimestamp(delta uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.timestamp += delta
}

// Timestamp returns the current outgoing RTP timestamp.
func (c *TransportContext) Timestamp() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.timestamp
}

// ObservePacket updates the RFC3550 jitter estimate and arrival bookkeeping
// for one accepted packet: the transit difference D between this packet and
// the previously accepted one feeds jitter += (|D| - jitter) / 16. The
// receive path calls this for inbound packets; the pacing loop calls it for
// self-generated packets so consumers keying off the same context see
// consistent state.
func (c *TransportContext) ObservePacket(p Packet, arrival time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.arrivalEpoch.IsZero() {
		c.arrivalEpoch = arrival
	}

	arrivalTicks := float64(arrival.Sub(c.arrivalEpoch)) * float64(c.clockRate) / float64(time.Second)
	transit := arrivalTicks - float64(p.Header.Timestamp)

	if c.hasTransit {
		d := transit - c.transit
		if d < 0 {
			d = -d
		}
		c.jitter += (d - c.jitter) / jitterGain
	}

	c.transit = transit
	c.hasTransit = true
	c.lastArrival = arrival
	c.inactive = false
}

// Jitter returns the current smoothed jitter estimate in media-clock ticks.
func (c *TransportContext) Jitter() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.jitter
}

// IsActive reports whether the context can dispatch: both endpoints assigned
// and not marked inactive by a receive timeout.
func (c *TransportContext) IsActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.laddr != nil && c.raddr != nil && !c.inactive
}

// MarkInactive flags the context after a stream timeout. The context is not
// torn down; a fresh packet arrival reactivates it.
func (c *TransportContext) MarkInactive() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.inactive = true
}

// TimedOut reports whether the receive-timeout interval elapsed since the last
// accepted packet. Contexts that never received a packet do not time out.
func (c *TransportContext) TimedOut(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.recvTimeout == 0 || c.lastArrival.IsZero() || c.inactive {
		return false
	}
	return now.Sub(c.lastArrival) > c.recvTimeout
}

func (c *TransportContext) noteSent(n int, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.packetsSent++
	c.bytesSent += uint64(n)
	c.lastDeparture = at
}

func (c *TransportContext) noteReceived(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.packetsReceived++
	c.bytesReceived += uint64(n)
}

// Stats snapshots the context bookkeeping for stats surfaces and diagnostics.
func (c *TransportContext) Stats() ContextStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return ContextStats{
		SSRC:            c.ssrc,
		Active:          c.laddr != nil && c.raddr != nil && !c.inactive,
		Jitter:          c.jitter,
		SequenceNumber:  c.sequence,
		Timestamp:       c.timestamp,
		ClockRate:       c.clockRate,
		PacketsSent:     c.packetsSent,
		BytesSent:       c.bytesSent,
		PacketsReceived: c.packetsReceived,
		BytesReceived:   c.bytesReceived,
		LastArrival:     c.lastArrival,
		LastDeparture:   c.lastDeparture,
	}
}
