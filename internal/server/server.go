package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"page-screenshot/internal/cache"
)

// shutdownTimeout bounds the graceful shutdown of in-flight responses.
const shutdownTimeout = 5 * time.Second

// Scheduler is told about every image request.
type Scheduler interface {
	Observe() time.Duration
	Pending() (time.Duration, bool)
	Interval() time.Duration
	Mispredictions() uint64
}

// Refresher reports on the background renders.
type Refresher interface {
	InFlight() bool
	Renders() uint64
}

// Server serves the cached screenshot.
//
// Endpoints:
//   - GET /page.png: latest screenshot, 204 before the first render completes
//   - GET /page.bmp: e-paper rendition, only when enabled
//   - GET /status: render and scheduling state as JSON
//
// Image requests never wait for a render. Each one is reported to the
// scheduler after the response is written.
type Server struct {
	cell      *cache.Cell
	sched     Scheduler
	refresher Refresher
	port      int
	epaper    bool
	logger    *slog.Logger

	httpServer *http.Server
	addr       net.Addr
	done       chan struct{}
}

// NewServer creates a [Server]. It does not listen until [Server.Start].
func NewServer(cell *cache.Cell, sched Scheduler, refresher Refresher, port int, epaper bool, logger *slog.Logger) *Server {
	return &Server{
		cell:      cell,
		sched:     sched,
		refresher: refresher,
		port:      port,
		epaper:    epaper,
		logger:    logger,
		done:      make(chan struct{}),
	}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /page.png", s.handlePNG)
	if s.epaper {
		mux.HandleFunc("GET /page.bmp", s.handleBMP)
	}
	mux.HandleFunc("GET /status", s.handleStatus)
	return mux
}

// Start binds the port and serves in the background until ctx is cancelled.
// It returns an error only if the port cannot be bound.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind to port %d: %w", s.port, err)
	}

	s.addr = ln.Addr()
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("http server error", "error", err)
		}
	}()

	go func() {
		defer close(s.done)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("http server shutdown error", "error", err)
		}
	}()

	s.logger.Info("listening", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound address, nil before Start.
func (s *Server) Addr() net.Addr {
	return s.addr
}

// Done is closed once the server has shut down after Start.
func (s *Server) Done() <-chan struct{} {
	return s.done
}

func (s *Server) handlePNG(w http.ResponseWriter, r *http.Request) {
	var data []byte
	var updatedAt time.Time
	if f := s.cell.Current(); f != nil {
		data, updatedAt = f.PNG, f.UpdatedAt
	}
	serveImage(w, r, "image/png", data, updatedAt, s.logger)
	s.sched.Observe()
}

func (s *Server) handleBMP(w http.ResponseWriter, r *http.Request) {
	var data []byte
	var updatedAt time.Time
	if f := s.cell.Current(); f != nil {
		data, updatedAt = f.BMP, f.UpdatedAt
	}
	serveImage(w, r, "image/bmp", data, updatedAt, s.logger)
	s.sched.Observe()
}

// serveImage writes data, or 204 No Content when there is nothing yet.
func serveImage(w http.ResponseWriter, r *http.Request, contentType string, data []byte, updatedAt time.Time, logger *slog.Logger) {
	w.Header().Set("Cache-Control", "no-store")
	if data == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Last-Modified", updatedAt.UTC().Format(http.TimeFormat))
	if r.Method == http.MethodHead {
		return
	}
	if _, err := w.Write(data); err != nil {
		logger.Debug("write image error", "error", err)
	}
}

type statusResponse struct {
	HasImage           bool       `json:"has_image"`
	UpdatedAt          *time.Time `json:"updated_at,omitempty"`
	LastRenderAt       *time.Time `json:"last_render_at,omitempty"`
	LastRenderDuration string     `json:"last_render_duration"`
	LastError          string     `json:"last_error,omitempty"`
	Rendering          bool       `json:"rendering"`
	Renders            uint64     `json:"renders"`
	LastInterval       string     `json:"last_interval"`
	PendingDelay       *string    `json:"pending_delay,omitempty"`
	Mispredictions     uint64     `json:"mispredictions"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.cell.Status()

	resp := statusResponse{
		HasImage:           st.HasImage,
		LastRenderDuration: st.LastDuration.String(),
		LastError:          st.LastError,
		Rendering:          s.refresher.InFlight(),
		Renders:            s.refresher.Renders(),
		LastInterval:       s.sched.Interval().String(),
		Mispredictions:     s.sched.Mispredictions(),
	}
	if st.HasImage {
		resp.UpdatedAt = &st.UpdatedAt
	}
	if !st.LastRenderAt.IsZero() {
		resp.LastRenderAt = &st.LastRenderAt
	}
	if d, ok := s.sched.Pending(); ok {
		pending := d.String()
		resp.PendingDelay = &pending
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error("failed to encode status", "error", err)
	}
}
