package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"fleet-dashboard/internal/api"
	"fleet-dashboard/internal/dashboard"
	"fleet-dashboard/internal/link"
	"fleet-dashboard/internal/render"
)

// Dashboard is the engine surface the server drives. *dashboard.Engine
// implements it.
type Dashboard interface {
	Login(ctx context.Context, creds api.Credentials) (api.User, error)
	Logout(ctx context.Context) error
	Select(ctx context.Context, vehicleID *int64) error
	SetWindow(ctx context.Context, w dashboard.Window) error
	TogglePin(ctx context.Context) (dashboard.PinMode, error)
	Click(ctx context.Context, at api.LatLng) (bool, error)
	SubmitPinName(ctx context.Context, name string) error
	CancelPin(ctx context.Context) error
	RefreshPlaces(ctx context.Context) error
	RefreshSavedStops(ctx context.Context) error
	Snapshot(ctx context.Context) (dashboard.Snapshot, error)
}

var _ Dashboard = (*dashboard.Engine)(nil)

const commandTimeout = 15 * time.Second

type Server struct {
	dash   Dashboard
	hub    *link.Hub
	loc    *time.Location
	logger *slog.Logger

	httpSrv *http.Server
}

// New builds the HTTP surface on addr and routes hub commands to dash.
func New(addr string, dash Dashboard, hub *link.Hub, loc *time.Location, lg *slog.Logger) *Server {
	s := &Server{
		dash:   dash,
		hub:    hub,
		loc:    loc,
		logger: lg.With("component", "server"),
	}
	hub.Handle(s.handleCommand)
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /api/scene", s.handleScene)
	mux.Handle("/ws", s.hub)
	return s.withLogging(mux)
}

func (s *Server) withLogging(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.logger.Debug("http request", "method", r.Method, "path", r.URL.Path, "remote", r.RemoteAddr)
		h.ServeHTTP(w, r)
	})
}

func (s *Server) handleScene(w http.ResponseWriter, r *http.Request) {
	snap, err := s.dash.Snapshot(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(render.Project(snap, s.loc)); err != nil {
		s.logger.Warn("encode scene", "err", err)
	}
}

// Run serves until ctx is done, then shuts down and closes the hub.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpSrv.Addr)
	if err != nil {
		return fmt.Errorf("error starting HTTP server: %w", err)
	}
	s.logger.Info("HTTP server listening", "addr", ln.Addr().String())

	errc := make(chan error, 1)
	go func() { errc <- s.httpSrv.Serve(ln) }()

	select {
	case err := <-errc:
		s.hub.Close()
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.hub.Close()
	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
