// Package health exposes the liveness and readiness HTTP endpoints
// described in spec §4.H, grounded on the teacher's Kubernetes probe
// handlers (cmd/nova/main.go) but checking broker/dispatcher state instead
// of Redis.
package health

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/oriys/taskworker/internal/jobtracker"
	"github.com/oriys/taskworker/internal/metrics"
)

// Checker reports whether the worker is connected to the broker and
// actively consuming. internal/runner supplies the real implementation;
// tests supply a stub.
type Checker interface {
	BrokerConnected() bool
	ConsumerActive() bool
}

// TaskLister reports the dispatcher's current in-flight deliveries for the
// /debug/inflight diagnostic endpoint. Optional: a Server built without one
// serves 404 there.
type TaskLister interface {
	InflightTasks() []*jobtracker.Task
}

// Server serves /live, /ready, and (if a TaskLister is supplied) an
// in-flight diagnostic endpoint over HTTP.
type Server struct {
	checker  Checker
	tasks    TaskLister
	draining atomic.Bool
	httpSrv  *http.Server
	listener net.Listener
}

// New builds a health Server bound to addr. Pass "host:0" to bind an
// ephemeral port for tests; call Addr() after Start to discover it. tasks
// may be nil, in which case /debug/inflight reports 404.
func New(checker Checker, tasks TaskLister, addr string) *Server {
	s := &Server{checker: checker, tasks: tasks}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /live", s.handleLive)
	mux.HandleFunc("GET /ready", s.handleReady)
	mux.HandleFunc("GET /debug/inflight", s.handleInflight)
	mux.Handle("GET /metrics", metrics.Handler())
	s.httpSrv = &http.Server{Addr: addr, Handler: mux}
	return s
}

// SetDraining marks the server as draining, which makes /live report 503 so
// an orchestrator stops sending new traffic during shutdown (spec §4.G).
func (s *Server) SetDraining(draining bool) { s.draining.Store(draining) }

// Start begins listening in the background. It returns once the listener is
// bound, before Serve has necessarily accepted any connections.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpSrv.Addr)
	if err != nil {
		return err
	}
	s.listener = ln
	go s.httpSrv.Serve(ln)
	return nil
}

// Addr returns the bound listener address, useful when Start was called
// with an ephemeral port.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	if s.draining.Load() {
		writeStatus(w, http.StatusServiceUnavailable, "draining")
		return
	}
	writeStatus(w, http.StatusOK, "ok")
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	_, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if !s.checker.BrokerConnected() {
		writeStatus(w, http.StatusServiceUnavailable, "broker disconnected")
		return
	}
	if !s.checker.ConsumerActive() {
		writeStatus(w, http.StatusServiceUnavailable, "consumer inactive")
		return
	}
	writeStatus(w, http.StatusOK, "ready")
}

func (s *Server) handleInflight(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.tasks.InflightTasks())
}

func writeStatus(w http.ResponseWriter, code int, status string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"status": status})
}
