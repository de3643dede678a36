package media

import "fmt"

// Codec is the opaque byte transform at the boundary between raw media samples
// and RTP payload bytes. The transport core never inspects the transformed
// bytes beyond splitting them into packets; payload semantics stay on the
// codec side of this interface.
type Codec interface {
	// Encode turns raw samples into payload bytes ready for packetization.
	Encode(samples []byte) ([]byte, error)

	// Decode turns reassembled payload bytes back into raw samples.
	Decode(payload []byte) ([]byte, error)
}

// L16 is a lossless linear-PCM sample mapping: payload bytes are the sample
// bytes verbatim. Useful on its own for uncompressed audio and as the
// reference codec for transport round-trip checks.
type L16 struct{}

func (L16) Encode(samples []byte) ([]byte, error) {
	out := make([]byte, len(samples))
	copy(out, samples)
	return out, nil
}

func (L16) Decode(payload []byte) ([]byte, error) {
	out := make([]byte, len(payload))
	copy(out, payload)
	return out, nil
}

// PCMU is a placeholder mapping for G.711 mu-law streams whose samples arrive
// already companded; like L16 it is byte-preserving, but it refuses empty
// input so malformed upstream reads surface early.
type PCMU struct{}

func (PCMU) Encode(samples []byte) ([]byte, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("empty sample buffer")
	}
	out := make([]byte, len(samples))
	copy(out, samples)
	return out, nil
}

func (PCMU) Decode(payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("empty payload")
	}
	out := make([]byte, len(payload))
	copy(out, payload)
	return out, nil
}
