package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bellwetherlabs/ringdown/internal/health"
	"github.com/bellwetherlabs/ringdown/internal/observe"
)

// shutdownTimeout bounds the graceful drain of the admin listener.
const shutdownTimeout = 5 * time.Second

// serveMetrics runs the admin HTTP listener: Prometheus /metrics plus the
// health endpoints, wrapped in the tracing middleware.
func (a *App) serveMetrics(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	health.New(a.healthCheckers()...).Register(mux)

	srv := &http.Server{
		Addr:    a.cfg.Server.MetricsAddr,
		Handler: observe.Middleware(observe.DefaultMetrics())(mux),
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("admin listener started", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		err := <-errCh
		if errors.Is(err, http.ErrServerClosed) {
			return ctx.Err()
		}
		return err
	}
}

// healthCheckers builds the readiness checks: the voice plane must be up
// unless it was disabled at startup.
func (a *App) healthCheckers() []health.Checker {
	return []health.Checker{
		{
			Name: "voice",
			Check: func(context.Context) error {
				return a.voiceErr
			},
		},
	}
}
