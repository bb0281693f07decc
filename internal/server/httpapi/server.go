package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/peerdrop/peerdrop/internal/logging"
	sc "github.com/peerdrop/peerdrop/internal/server/config"
)

const shutdownTimeout = 10 * time.Second

// Server wraps the http.Server lifecycle: listen until ctx cancels, then
// drain with a bounded shutdown.
type Server struct {
	httpServer *http.Server
	logger     logging.Logger
}

func NewServer(config *sc.Config, handlers *Handlers, ws http.Handler, logger logging.Logger) *Server {
	mux := http.NewServeMux()
	handlers.Routes(mux, ws)

	return &Server{
		httpServer: &http.Server{
			Addr:    config.EndpointAddrHTTP,
			Handler: mux,
		},
		logger: logger.With("module", "httpapi"),
	}
}

// Run blocks until ctx is canceled or the listener fails.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info(ctx, "http server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn(shutdownCtx, "http shutdown incomplete", "error", err)
		return err
	}
	s.logger.Info(shutdownCtx, "http server stopped")
	return <-errCh
}
