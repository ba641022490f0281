package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/vigildev/vigil/internal/events"
	"github.com/vigildev/vigil/internal/history"
	"github.com/vigildev/vigil/internal/instance"
)

// Server exposes the loopback control API. It binds 127.0.0.1 only: the
// control plane is a local surface for the CLI and the dashboard, not a
// network service.
type Server struct {
	loop    *Loop
	bus     *events.Bus
	journal *history.Journal // nil disables /api/history
	log     *slog.Logger

	httpServer *http.Server
}

// NewServer wires the control API. bus and journal may be nil.
func NewServer(loop *Loop, bus *events.Bus, journal *history.Journal, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{loop: loop, bus: bus, journal: journal, log: log}
}

// Start begins serving on 127.0.0.1:port. Non-blocking; the listener is
// bound synchronously so a port conflict surfaces here.
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("control api listen on %s: %w", addr, err)
	}

	s.httpServer = &http.Server{
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.Error("control api server failed", "err", err)
		}
	}()
	s.log.Info("control api listening", "addr", addr)
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/api/status", s.handleStatus)
	r.Get("/api/events", s.handleEventStream)
	r.Get("/api/history", s.handleHistory)
	r.Post("/api/pause/{pid}", s.handlePause)
	r.Post("/api/resume/{pid}", s.handleResume)
	r.Post("/api/reset/{pid}", s.handleReset)

	return r
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Default().Debug("write response failed", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snapshots := s.loop.Snapshots()
	if snapshots == nil {
		snapshots = []instance.Snapshot{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"instances": snapshots,
		"count":     len(snapshots),
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, http.StatusNotFound, "history journal disabled")
		return
	}

	pid := 0
	if v := r.URL.Query().Get("pid"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil || p < 0 {
			writeError(w, http.StatusBadRequest, "invalid pid")
			return
		}
		pid = p
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	entries, err := s.journal.ListRecent(pid, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	pid, ok := s.pidParam(w, r)
	if !ok {
		return
	}
	s.loop.Pause(pid)
	writeJSON(w, http.StatusOK, map[string]any{"pid": pid, "paused": true})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	pid, ok := s.pidParam(w, r)
	if !ok {
		return
	}
	s.loop.Resume(pid)
	writeJSON(w, http.StatusOK, map[string]any{"pid": pid, "paused": false})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	pid, ok := s.pidParam(w, r)
	if !ok {
		return
	}
	s.loop.Reset(pid)
	writeJSON(w, http.StatusOK, map[string]any{"pid": pid, "reset": true})
}

func (s *Server) pidParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	pid, err := strconv.Atoi(chi.URLParam(r, "pid"))
	if err != nil || pid <= 0 {
		writeError(w, http.StatusBadRequest, "invalid pid")
		return 0, false
	}
	return pid, true
}

// handleEventStream streams supervision events as SSE.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		writeError(w, http.StatusNotFound, "event bus disabled")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch, cancel := s.bus.Subscribe(64)
	defer cancel()

	keepalive := time.NewTicker(30 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case ev, open := <-ch:
			if !open {
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, payload)
			flusher.Flush()
		}
	}
}
