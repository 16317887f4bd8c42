// Package api serves the read-mostly status API for running playback
// sessions, operator commands for their control boards, a health check and
// Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zsiec/livebuf/internal/control"
	"github.com/zsiec/livebuf/internal/stream"
)

const shutdownTimeout = 5 * time.Second

// Controllable is implemented by runners that expose a control board.
type Controllable interface {
	Board() *control.Board
}

// Server serves the API for the sessions registered in a stream manager.
type Server struct {
	log     *slog.Logger
	streams *stream.Manager
	router  *chi.Mux
}

// NewServer creates an API server. If log is nil, slog.Default() is used.
func NewServer(streams *stream.Manager, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		log:     log.With("component", "api"),
		streams: streams,
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(s.logRequests)
	r.Use(corsMiddleware)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Route("/api/sessions", func(r chi.Router) {
		r.Get("/", s.handleListSessions)
		r.Get("/{key}", s.handleGetSession)
		r.Post("/{key}/live/{control}", s.handleLive)
		r.Post("/{key}/scene/{scene}", s.handleScene)
		r.Post("/{key}/zoom/{control}", s.handleZoom)
	})
	s.router = r
	return s
}

// Handler returns the API's http.Handler.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Warn("shutdown", "error", err)
		}
	})
	defer stop()

	s.log.Info("API listening", "addr", ln.Addr().String())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": s.streams.Len(),
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	list := s.streams.List()
	infos := make([]stream.Info, 0, len(list))
	for _, st := range list {
		infos = append(infos, st.Info())
	}
	writeJSON(w, http.StatusOK, infos)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	st, ok := s.streams.Get(chi.URLParam(r, "key"))
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, st.Info())
}

func (s *Server) board(w http.ResponseWriter, r *http.Request) (*control.Board, bool) {
	st, ok := s.streams.Get(chi.URLParam(r, "key"))
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	c, ok := st.Runner().(Controllable)
	if !ok {
		writeError(w, http.StatusNotImplemented, "session has no control board")
		return nil, false
	}
	return c.Board(), true
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	b, ok := s.board(w, r)
	if !ok {
		return
	}
	s.command(w, b.Live(chi.URLParam(r, "control")))
}

func (s *Server) handleScene(w http.ResponseWriter, r *http.Request) {
	b, ok := s.board(w, r)
	if !ok {
		return
	}
	s.command(w, b.Scene(chi.URLParam(r, "scene")))
}

type zoomRequest struct {
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Zoom float64 `json:"zoom"`
}

func (s *Server) handleZoom(w http.ResponseWriter, r *http.Request) {
	b, ok := s.board(w, r)
	if !ok {
		return
	}
	var req zoomRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	s.command(w, b.SetZoom(chi.URLParam(r, "control"), req.X, req.Y, req.Zoom))
}

func (s *Server) command(w http.ResponseWriter, err error) {
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, control.ErrNoCommander):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, control.ErrUnknownControl):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, control.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusBadGateway, err.Error())
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start))
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
