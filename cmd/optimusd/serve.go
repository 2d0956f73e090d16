package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"optimus/internal/adapters/httpapi"
	"optimus/internal/platform/ratelimiter"
)

func runServe(ctx context.Context, flags globalFlags, stderr io.Writer) error {
	a, err := openApp(ctx, flags, stderr)
	if err != nil {
		return err
	}
	defer a.Close()
	return serve(ctx, a, nil)
}

// serve blocks until ctx is cancelled or the listener fails. ready, when not
// nil, receives the bound address.
func serve(ctx context.Context, a *app, ready chan<- string) error {
	cfg := a.cfg
	if err := a.notifier.Reset(ctx); err != nil {
		a.logger.Warn("could not clear previous notifications", "error", err)
	}

	handler, err := httpapi.NewRouter(httpapi.Options{
		Service:       a.svc,
		Notifications: a.notifier,
		Realtime:      a.hub.Handler(),
		Metrics:       promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}),
		Limiter:       ratelimiter.New(cfg.HTTP.RateLimitRPS, cfg.HTTP.RateLimitBurst, 0),
		CORSOrigin:    cfg.HTTP.CORSOrigin,
		Logger:        a.logger,
	})
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", cfg.HTTP.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.HTTP.Addr, err)
	}
	srv := &http.Server{
		Handler:           handler,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	a.logger.Info("listening", "addr", ln.Addr().String())
	if ready != nil {
		ready <- ln.Addr().String()
	}

	if interval := cfg.Simulation.AutopilotInterval; interval > 0 {
		go func() {
			a.logger.Info("autopilot enabled", "interval", interval)
			if err := a.svc.RunSimulation(ctx, 0, interval); err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Error("autopilot stopped", "error", err)
			}
		}()
	}

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	a.hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
