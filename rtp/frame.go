package rtp

import (
	"iter"
	"sort"
)

// Frame is an ordered aggregate of packets sharing one synchronization source
// and one RTP timestamp. Packets may be added in any arrival order; the frame
// keeps them sorted by sequence number for enumeration. A frame is complete
// once a marker-bit packet has been added or the owner closed it (e.g. on a
// reassembly timeout).
//
// A frame has a single logical writer at a time (the receive path while
// reassembling, a producer while packetizing, the pacing loop after hand-off
// through a FrameQueue); it carries no lock of its own.
//
// Sequence ordering is plain uint16 comparison: a sequence wrap *within* one
// frame is not supported. Frames span a handful of packets at normal clock
// rates, so the 65536-packet range is never crossed in practice.
type Frame struct {
	ssrc      SSRC
	timestamp uint32
	packets   []Packet // ascending by sequence number, duplicates tolerated
	complete  bool
}

// NewFrame creates an empty frame for the (ssrc, timestamp) pair. The receive
// path creates one on the first packet seen for a new pair; producers create
// one per packetized sample buffer.
func NewFrame(ssrc SSRC, timestamp uint32) *Frame {
	return &Frame{
		ssrc:      ssrc,
		timestamp: timestamp,
	}
}

func (f *Frame) Source() SSRC      { return f.ssrc }
func (f *Frame) Timestamp() uint32 { return f.timestamp }

// Len reports the number of stored packets, duplicates included.
func (f *Frame) Len() int { return len(f.packets) }

// AddPacket inserts the packet keeping ascending sequence order regardless of
// insertion order. A duplicate sequence number is stored anyway and skipped at
// enumeration. A marker-bit packet marks the frame complete.
func (f *Frame) AddPacket(p Packet) {
	i := sort.Search(len(f.packets), func(i int) bool {
		return f.packets[i].SequenceNumber > p.SequenceNumber
	})

	f.packets = append(f.packets, Packet{})
	copy(f.packets[i+1:], f.packets[i:])
	f.packets[i] = p

	if p.Marker {
		f.complete = true
	}
}

// Close marks the frame complete without a marker packet. Used by reassembly
// timeout policies owned by the multiplexer.
func (f *Frame) Close() {
	f.complete = true
}

// IsComplete reports whether a marker-bit packet has been added or the frame
// was explicitly closed.
func (f *Frame) IsComplete() bool { return f.complete }

// Packets returns a lazy, finite, restartable sequence of the frame's packets
// in ascending sequence-number order with duplicate sequence numbers skipped.
func (f *Frame) Packets() iter.Seq[Packet] {
	return func(yield func(Packet) bool) {
		for i, p := range f.packets {
			if i > 0 && p.SequenceNumber == f.packets[i-1].SequenceNumber {
				continue
			}
			if !yield(p) {
				return
			}
		}
	}
}

// PayloadBytes concatenates the payloads of the frame's packets in sequence
// order. This is the depacketization half of a lossless sample mapping.
func (f *Frame) PayloadBytes() []byte {
	var n int
	for p := range f.Packets() {
		n += len(p.Payload)
	}

	buf := make([]byte, 0, n)
	for p := range f.Packets() {
		buf = append(buf, p.Payload...)
	}
	return buf
}
