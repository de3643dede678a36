package http

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rebeljah/rtpcast/media"
	"github.com/rebeljah/rtpcast/rtp"
)

// nullConn satisfies rtp.PacketConn; the stats surface never touches it.
type nullConn struct{}

func (nullConn) WriteTo(b []byte, addr net.Addr) (int, error) { return len(b), nil }
func (nullConn) ReadFrom(b []byte) (int, net.Addr, error)     { return 0, nil, net.ErrClosed }
func (nullConn) Close() error                                 { return nil }

func statsFixture(t *testing.T) *Server {
	t.Helper()

	mux := rtp.NewMultiplexer(nullConn{}, rtp.MuxConfig{})

	ctx, err := rtp.NewTransportContext(rtp.ContextConfig{
		SSRC: 42,
		Descriptor: media.Descriptor{
			TrackID:     "main-audio",
			Kind:        media.Audio,
			PayloadType: 0,
			ClockRate:   8000,
		},
	})
	require.NoError(t, err)
	require.NoError(t, mux.AddContext(ctx))

	return NewServer(mux)
}

func get(t *testing.T, s *Server, target string) *httptest.ResponseRecorder {
	t.Helper()

	rec := httptest.NewRecorder()
	s.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestGetStreamsListsAll(t *testing.T) {
	s := statsFixture(t)

	rec := get(t, s, "/streams")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var stats []rtp.ContextStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	require.Len(t, stats, 1)
	assert.Equal(t, rtp.SSRC(42), stats[0].SSRC)
	assert.Equal(t, uint32(8000), stats[0].ClockRate)
}

func TestGetStreamBySSRC(t *testing.T) {
	s := statsFixture(t)

	rec := get(t, s, "/streams/42")
	require.Equal(t, http.StatusOK, rec.Code)

	var stats rtp.ContextStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, rtp.SSRC(42), stats.SSRC)
}

func TestGetStreamErrors(t *testing.T) {
	s := statsFixture(t)

	assert.Equal(t, http.StatusNotFound, get(t, s, "/streams/7").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, s, "/streams/not-a-number").Code)
}

func TestGetDrops(t *testing.T) {
	s := statsFixture(t)

	rec := get(t, s, "/drops")
	require.Equal(t, http.StatusOK, rec.Code)

	var drops rtp.MuxStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &drops))
	assert.Zero(t, drops.MalformedDropped)
	assert.Zero(t, drops.UnknownDropped)
}
