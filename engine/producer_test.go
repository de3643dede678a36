package engine

import (
	"bytes"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/rebeljah/rtpcast/rtp"
)

// captureSink records packetized buffers instead of queuing frames.
type captureSink struct {
	mu      sync.Mutex
	buffers [][]byte
}

func (s *captureSink) Start() error { return nil }
func (s *captureSink) Stop()        {}

func (s *captureSink) Packetize(samples []byte) error {
	buf := make([]byte, len(samples))
	copy(buf, samples)

	s.mu.Lock()
	s.buffers = append(s.buffers, buf)
	s.mu.Unlock()
	return nil
}

func (s *captureSink) Source() rtp.SSRC { return 7 }

func (s *captureSink) snapshot() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.buffers))
	copy(out, s.buffers)
	return out
}

func (s *captureSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buffers)
}

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

func TestProducerPumpsSourceToEOF(t *testing.T) {
	sink := &captureSink{}
	source := io.NopCloser(bytes.NewReader([]byte("aaaabbbbcc")))

	producer := NewProducer(source, sink, 4, rate.Inf)
	require.NoError(t, producer.Run())

	got := sink.snapshot()
	require.Len(t, got, 3)
	assert.Equal(t, []byte("aaaa"), got[0])
	assert.Equal(t, []byte("bbbb"), got[1])
	assert.Equal(t, []byte("cc"), got[2], "the short tail read still reaches the sink")
}

func TestProducerInterruptStopsPump(t *testing.T) {
	sink := &captureSink{}
	source := io.NopCloser(bytes.NewReader(bytes.Repeat([]byte("x"), 1<<20)))

	// slow enough that the source cannot drain before the interrupt
	producer := NewProducer(source, sink, 4, 50)

	done := make(chan error, 1)
	go func() { done <- producer.Run() }()

	require.True(t, waitFor(time.Second, func() bool { return sink.count() >= 1 }))
	producer.Interrupt(nil)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("producer did not stop after interrupt")
	}
}

func TestProducerPauseAndResume(t *testing.T) {
	sink := &captureSink{}
	pr, pw := io.Pipe()

	producer := NewProducer(pr, sink, 4, rate.Inf)
	producer.Pause()

	done := make(chan error, 1)
	go func() { done <- producer.Run() }()
	go pw.Write([]byte("aaaabbbb"))

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, sink.count(), "paused producer delivers nothing")

	producer.Resume()
	require.True(t, waitFor(time.Second, func() bool { return sink.count() == 2 }))

	pw.Close()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("producer did not stop after source closed")
	}
}
