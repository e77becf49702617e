// Package server wires the HTTP surface of the model store.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/geo-udf/internal/core/config"
	"github.com/mohammed-shakir/geo-udf/internal/core/health"
	middleware "github.com/mohammed-shakir/geo-udf/internal/core/middleware"
	"github.com/mohammed-shakir/geo-udf/internal/core/router"
	"github.com/mohammed-shakir/geo-udf/internal/udf/mlmodel"
)

type Deps struct {
	Store   router.ModelStore
	Loader  *mlmodel.Loader
	Metrics http.Handler
	Ready   map[string]health.ReadinessReporter
}

// NewHandler builds the router: health checks, metrics and the /models API.
func NewHandler(logger *slog.Logger, d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logging(logger))
	r.Use(middleware.Metrics())

	r.Get("/healthz", health.Liveness())
	r.Get("/readyz", health.Readiness(d.Ready))
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}
	r.Mount("/models", router.Models(logger, d.Store, d.Loader))
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func Run(ctx context.Context, cfg config.Config, logger *slog.Logger, d Deps) error {
	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return err
	}
	return Serve(ctx, ln, logger, d)
}

func Serve(ctx context.Context, ln net.Listener, logger *slog.Logger, d Deps) error {
	srv := &http.Server{
		Handler:           NewHandler(logger, d),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// remote model fetches run inside POST /models
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listen", "addr", ln.Addr().String())
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
