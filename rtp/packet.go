// Package rtp implements the real-time transport core: RTP packetization,
// per-stream sequencing and jitter tracking, frame reassembly, a multiplexer
// that routes many streams over one shared network channel, and the pacing
// loops that drain frames onto the wire at media-clock rate.
package rtp

import (
	pionrtp "github.com/pion/rtp"
)

// SSRC is the 32-bit synchronization source identifier naming one logical
// media stream.
type SSRC uint32

// ChannelID identifies an interleaved data or control channel negotiated by
// the session layer.
type ChannelID uint8

// rtpVersion is fixed by RFC3550.
const rtpVersion = 2

// Packet is one wire-level RTP unit: a 12-byte-minimum RFC3550 header plus
// opaque payload bytes owned by the packet. Wire marshalling is delegated to
// pion/rtp; this core never reinterprets the payload beyond the marker bit.
type Packet struct {
	pionrtp.Packet
}

// NewPacket builds a partially stamped packet: payload type, marker and
// payload are set by the producer, while sequence number, timestamp and SSRC
// are stamped later by the owning transport context at dispatch time. The
// provisional sequence number orders packets within their frame.
func NewPacket(payloadType uint8, marker bool, provisionalSeq uint16, payload []byte) Packet {
	return Packet{
		Packet: pionrtp.Packet{
			Header: pionrtp.Header{
				Version:        rtpVersion,
				Marker:         marker,
				PayloadType:    payloadType,
				SequenceNumber: provisionalSeq,
			},
			Payload: payload,
		},
	}
}

// UnmarshalPacket parses one datagram into a Packet.
//   - returns ErrMalformedPacket if the buffer cannot hold a valid RTP header;
//     callers are expected to drop, count and continue.
func UnmarshalPacket(buf []byte) (Packet, error) {
	var p Packet
	if err := p.Unmarshal(buf); err != nil {
		return Packet{}, ErrMalformedPacket{size: len(buf)}
	}
	return p, nil
}

// Source returns the packet's synchronization source identifier.
func (p Packet) Source() SSRC {
	return SSRC(p.SSRC)
}
