package bpipes

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func collect(t *testing.T, tail <-chan []byte, n int) [][]byte {
	t.Helper()

	var out [][]byte
	for range n {
		select {
		case buf, ok := <-tail:
			if !ok {
				return out
			}
			out = append(out, buf)
		case <-time.After(time.Second):
			t.Fatalf("pipeline stalled after %d buffers", len(out))
		}
	}
	return out
}

func TestPipelinePassesBuffersThrough(t *testing.T) {
	head := make(chan []byte, 4)
	tail, _ := NewPipeline(context.Background(), head, NewThrottlerStage(rate.Inf, 1))

	head <- []byte("aa")
	head <- []byte("bb")

	got := collect(t, tail, 2)
	require.Len(t, got, 2)
	assert.Equal(t, []byte("aa"), got[0])
	assert.Equal(t, []byte("bb"), got[1])
}

func TestPipelineWithoutStages(t *testing.T) {
	head := make(chan []byte, 1)
	tail, _ := NewPipeline(context.Background(), head)

	head <- []byte("xx")
	got := collect(t, tail, 1)
	require.Len(t, got, 1)
	assert.Equal(t, []byte("xx"), got[0])
}

func TestPipelineReportsHeadClosure(t *testing.T) {
	head := make(chan []byte)
	tail, cherror := NewPipeline(context.Background(), head, NewThrottlerStage(rate.Inf, 1))

	close(head)

	select {
	case err := <-cherror:
		assert.ErrorIs(t, err, ErrPipelineClosing)
		assert.ErrorIs(t, err, ErrHeadClosed)
	case <-time.After(time.Second):
		t.Fatal("no teardown error after head closure")
	}

	// the tail closes once teardown propagates
	select {
	case _, ok := <-tail:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("tail never closed")
	}
}

func TestPipelineReportsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	head := make(chan []byte, 1)
	_, cherror := NewPipeline(ctx, head, NewThrottlerStage(rate.Inf, 1))

	cancel()
	// cancellation is observed between head reads; one more buffer surfaces it
	head <- []byte("x")

	select {
	case err := <-cherror:
		assert.ErrorIs(t, err, ErrPipelineClosing)
	case <-time.After(time.Second):
		t.Fatal("no teardown error after cancellation")
	}

	close(head)
}

func TestThrottlerStagePacesBuffers(t *testing.T) {
	head := make(chan []byte, 8)
	tail, _ := NewPipeline(context.Background(), head, NewThrottlerStage(100, 1))

	for range 5 {
		head <- []byte("x")
	}

	start := time.Now()
	collect(t, tail, 5)
	elapsed := time.Since(start)

	// 5 buffers at 100/s with burst 1 take at least ~40ms of limiter waits
	assert.GreaterOrEqual(t, elapsed, 30*time.Millisecond)
}

func TestPauserStageGatesFlow(t *testing.T) {
	pauser := NewPauserStage()
	head := make(chan []byte, 2)
	tail, _ := NewPipeline(context.Background(), head, pauser)

	head <- []byte("held")

	select {
	case <-tail:
		t.Fatal("paused pipeline leaked a buffer")
	case <-time.After(50 * time.Millisecond):
	}

	pauser.SetPaused(false)
	got := collect(t, tail, 1)
	require.Len(t, got, 1)
	assert.Equal(t, []byte("held"), got[0])
}

func TestSplitStageTeesBuffers(t *testing.T) {
	stage, split := NewSplitStage(4, true)
	head := make(chan []byte, 2)
	tail, _ := NewPipeline(context.Background(), head, stage)

	head <- []byte("aa")

	got := collect(t, tail, 1)
	require.Len(t, got, 1)

	select {
	case buf := <-split:
		assert.Equal(t, []byte("aa"), buf)
	case <-time.After(time.Second):
		t.Fatal("split channel never saw the buffer")
	}

	// split channel closes with the stage
	close(head)
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-split:
			return !ok
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond, "split channel never closed")
}

type failingStage struct {
	stageBase
	err error
}

func (s *failingStage) Effect(context.Context, []byte) error { return s.err }

func TestFailingStageSurfacesErrorAndKeepsDraining(t *testing.T) {
	boom := errors.New("boom")
	head := make(chan []byte, 4)
	tail, cherror := NewPipeline(context.Background(), head, &failingStage{err: boom})

	head <- []byte("aa")

	select {
	case err := <-cherror:
		assert.ErrorIs(t, err, boom)
	case <-time.After(time.Second):
		t.Fatal("stage error never surfaced")
	}

	// errored stage sinks further input instead of deadlocking the producer
	head <- []byte("bb")
	head <- []byte("cc")
	close(head)

	select {
	case _, ok := <-tail:
		assert.False(t, ok, "tail closes without emitting data from the errored stage")
	case <-time.After(time.Second):
		t.Fatal("tail never closed")
	}
}
