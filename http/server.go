// Package http exposes a read-only JSON stats surface over the transport
// engine: per-stream transport statistics and receive-path drop counters.
package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rebeljah/rtpcast/rtp"
	"github.com/sirupsen/logrus"
)

type Server struct {
	http.Server
	mux           *rtp.Multiplexer
	interruptOnce sync.Once
}

func NewServer(mux *rtp.Multiplexer) *Server {
	s := &Server{mux: mux}

	routes := http.NewServeMux()
	routes.HandleFunc("GET /streams", s.handleGetStreams)
	routes.HandleFunc("GET /streams/{ssrc}", s.handleGetStreams)
	routes.HandleFunc("GET /drops", s.handleGetDrops)
	s.Handler = routes

	return s
}

// return transport stats for all live streams. If an ssrc is passed
// (e.g example.com/streams/324724), only responds with stats for that stream.
// The returned body is either a JSON array of stream stats or a single stats
// object.
func (s *Server) handleGetStreams(rw http.ResponseWriter, r *http.Request) {
	ssrcValue := r.PathValue("ssrc")

	var buf []byte
	var err error

	if ssrcValue == "" { // "/streams" -> every live stream
		buf, err = json.Marshal(s.mux.StatsSnapshot())
		if err != nil {
			http.Error(rw, "Failed to encode stream stats", http.StatusInternalServerError)
			return
		}
	} else { // "/streams/{ssrc}" -> one stream
		ssrc, parseErr := strconv.ParseUint(ssrcValue, 10, 32)
		if parseErr != nil {
			http.Error(rw, "Bad SSRC", http.StatusBadRequest)
			return
		}

		ctx, ctxErr := s.mux.Context(rtp.SSRC(ssrc))
		if ctxErr != nil {
			http.Error(rw, "Stream not found", http.StatusNotFound)
			return
		}

		buf, err = json.Marshal(ctx.Stats())
		if err != nil {
			http.Error(rw, "Failed to encode stream stats", http.StatusInternalServerError)
			return
		}
	}

	rw.Header().Set("Content-Type", "application/json")
	rw.Write(buf)
}

// counters for datagrams the receive path dropped (malformed / unknown ssrc)
func (s *Server) handleGetDrops(rw http.ResponseWriter, r *http.Request) {
	buf, err := json.Marshal(s.mux.Stats())
	if err != nil {
		http.Error(rw, "Failed to encode drop counters", http.StatusInternalServerError)
		return
	}

	rw.Header().Set("Content-Type", "application/json")
	rw.Write(buf)
}

func (s *Server) ListenAndServe(addr string) error {
	logrus.Infof("starting stats HTTP server on %s", addr)

	s.Addr = addr
	return s.Server.ListenAndServe()
}

func (s *Server) Interrupt(err error) {
	s.interruptOnce.Do(func() {
		logrus.Infof("interrupting stats HTTP server: %v", err)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := s.Server.Shutdown(ctx); err != nil {
			s.Server.Close()
		}

		logrus.Info("stats HTTP server shutdown complete")
	})
}
