package rtp

import (
	"net"
	"sync"
	"time"

	"github.com/rebeljah/rtpcast/media"
)

// mockConn provides an in-memory PacketConn for transport tests.
type mockConn struct {
	mu       sync.Mutex
	sent     [][]byte
	inbound  chan []byte
	closed   chan struct{}
	closeOne sync.Once
}

func newMockConn() *mockConn {
	return &mockConn{
		inbound: make(chan []byte, 64),
		closed:  make(chan struct{}),
	}
}

func (c *mockConn) WriteTo(b []byte, addr net.Addr) (int, error) {
	buf := make([]byte, len(b))
	copy(buf, b)

	c.mu.Lock()
	c.sent = append(c.sent, buf)
	c.mu.Unlock()

	return len(b), nil
}

func (c *mockConn) ReadFrom(b []byte) (int, net.Addr, error) {
	select {
	case <-c.closed:
		return 0, nil, net.ErrClosed
	case buf := <-c.inbound:
		n := copy(b, buf)
		return n, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 5006}, nil
	}
}

func (c *mockConn) Close() error {
	c.closeOne.Do(func() { close(c.closed) })
	return nil
}

func (c *mockConn) sentPackets() []Packet {
	c.mu.Lock()
	defer c.mu.Unlock()

	pkts := make([]Packet, 0, len(c.sent))
	for _, b := range c.sent {
		if p, err := UnmarshalPacket(b); err == nil {
			pkts = append(pkts, p)
		}
	}
	return pkts
}

func (c *mockConn) sentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func testDescriptor(clockRate uint32) media.Descriptor {
	return media.Descriptor{
		TrackID:     "test-audio",
		Kind:        media.Audio,
		ControlID:   "trackID=1",
		PayloadType: 0,
		ClockRate:   clockRate,
	}
}

func testAddrs() (*net.UDPAddr, *net.UDPAddr) {
	laddr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 5004}
	raddr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 5006}
	return laddr, raddr
}

func testContext(ssrc SSRC, clockRate uint32, initialSeq uint16) *TransportContext {
	laddr, raddr := testAddrs()
	ctx, err := NewTransportContext(ContextConfig{
		SSRC:            ssrc,
		Descriptor:      testDescriptor(clockRate),
		LocalAddr:       laddr,
		RemoteAddr:      raddr,
		InitialSequence: &initialSeq,
	})
	if err != nil {
		panic(err)
	}
	return ctx
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return cond()
}
