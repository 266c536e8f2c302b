package web

import (
	"context"
	"io/fs"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mlaroche/stripscan/internal/debug"
)

// Server wraps the HTTP server and handlers.
type Server struct {
	addr     string
	handlers *Handlers
}

// NewServer creates a server configured for the given address and dependencies.
func NewServer(addr string, engine Engine, broadcaster *Broadcaster) (*Server, error) {
	subFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		return nil, err
	}

	return &Server{
		addr:     addr,
		handlers: NewHandlers(engine, broadcaster, subFS),
	}, nil
}

// Router returns the chi router with all routes registered.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/", s.handlers.ServeIndex)
	r.Get("/api/state", s.handlers.HandleState)
	r.Get("/api/stream", s.handlers.HandleStream)
	r.Post("/api/roll", s.handlers.HandleOpenRoll)
	r.Post("/api/calibration", s.handlers.HandleCalibration)
	r.Post("/api/strip", s.handlers.HandleStrip)
	r.Post("/api/capture", s.handlers.HandleCapture)
	r.Post("/api/move", s.handlers.HandleMove)
	r.Post("/api/zero", s.handlers.HandleZero)
	r.Post("/api/auto-advance", s.handlers.HandleAutoAdvance)
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(s.handlers.staticFS))))

	return r
}

// Run starts the server and blocks until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.Router()}
	errCh := make(chan error, 1)
	go func() {
		debug.Info("web interface listening on %s", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
