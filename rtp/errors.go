package rtp

import "fmt"

// Error taxonomy for the transport core. Protocol-level anomalies (malformed
// datagrams, unknown sources) are recovered locally by the receive and pacing
// loops; only setup-time misconfiguration surfaces synchronously to callers.

// ErrMalformedPacket reports a datagram too short or too mangled to carry an
// RTP header. Dropped and counted, never fatal.
type ErrMalformedPacket struct {
	size int
}

func (e ErrMalformedPacket) Error() string {
	return fmt.Sprintf("malformed rtp packet (%d bytes)", e.size)
}

// ErrUnknownStream reports an inbound packet whose synchronization source has
// no transport context. Dropped and counted, never fatal.
type ErrUnknownStream struct {
	ssrc SSRC
}

func (e ErrUnknownStream) Error() string {
	return fmt.Sprintf("no transport context for ssrc: %d", uint32(e.ssrc))
}

// ErrDuplicateStream reports a context-creation collision: a live context
// already owns the synchronization source. Fatal to that stream's setup only.
type ErrDuplicateStream struct {
	ssrc SSRC
}

func (e ErrDuplicateStream) Error() string {
	return fmt.Sprintf("transport context already exists for ssrc: %d", uint32(e.ssrc))
}

// ErrInvalidConfiguration reports a setup-time misconfiguration (non-positive
// clock rate, missing endpoint). Fatal to that stream's setup only.
type ErrInvalidConfiguration struct {
	reason string
}

func (e ErrInvalidConfiguration) Error() string {
	return fmt.Sprintf("invalid transport configuration: %s", e.reason)
}
