package server

import (
	"context"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/SmitUplenchwar2687/tlog/internal/capture"
	"github.com/SmitUplenchwar2687/tlog/internal/clock"
)

// Source reports on a running recording. *capture.Engine implements it.
type Source interface {
	State() capture.State
	Stats() capture.Stats
}

// Server exposes the metrics and status of one recording over HTTP.
type Server struct {
	httpServer *http.Server
	source     Source
	gatherer   prometheus.Gatherer
	clock      clock.Clock
	mux        *http.ServeMux

	hub          *Hub
	liveInterval time.Duration
	done         chan struct{}
	stopOnce     sync.Once
}

// New creates a server for src. Metrics are gathered from g.
func New(addr string, src Source, g prometheus.Gatherer, clk clock.Clock) *Server {
	s := &Server{
		source:   src,
		gatherer: g,
		clock:    clk,
		mux:      http.NewServeMux(),

		hub:          NewHub(),
		liveInterval: DefaultLiveInterval,
		done:         make(chan struct{}),
	}
	s.routes()
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           logRequests(s.mux, clk),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/", s.handleRoot)
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/stats", s.handleStats)
	s.mux.HandleFunc("/stats/live", s.handleLive)
	s.mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
}

// handleRoot serves a summary of the recording.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"service": "tlog",
		"state":   s.source.State().String(),
		"time":    s.clock.Now().Format(time.RFC3339),
	})
}

// handleHealth answers 200 while the recording is alive and 503 once it
// has terminated.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.source.State() == capture.StateTerminated {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "terminated"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.source.Stats())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// SetLiveInterval changes how often /stats/live pushes. Call it before
// starting the server.
func (s *Server) SetLiveInterval(d time.Duration) {
	if d > 0 {
		s.liveInterval = d
	}
}

// Start begins listening. It blocks until the server is shut down.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	return s.StartOnListener(ln)
}

// StartOnListener begins serving on the provided listener.
// Useful for tests that need to pick an ephemeral port.
func (s *Server) StartOnListener(ln net.Listener) error {
	log.Printf("[metrics] listening on %s", ln.Addr().String())
	go s.pushLive()
	err := s.httpServer.Serve(ln)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the server. Live subscribers are
// disconnected since Shutdown does not track hijacked connections.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.done) })
	s.hub.Close()
	return s.httpServer.Shutdown(ctx)
}
