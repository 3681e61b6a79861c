package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"genwatch/internal/api"
	"genwatch/internal/logging"
)

const healthTrackInterval = 5 * time.Second

// handleHTTPServer starts the admin API and shuts it down when ctx is done.
func handleHTTPServer(ctx context.Context, addr string, s *api.Server, wg *sync.WaitGroup, errc chan error, logger *slog.Logger) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 60 * time.Second,
		ErrorLog:          logging.StdLog(logger, "http"),
	}
	for _, m := range s.Mounts {
		logger.Info("HTTP mounted", "method", m.Method, "verb", m.Verb, "pattern", m.Pattern)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()

		go func() {
			logger.Info("HTTP server listening", "addr", addr)
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				report(ctx, errc, err)
			}
		}()

		<-ctx.Done()
		logger.Info("shutting down HTTP server", "addr", addr)

		// Shutdown gracefully with a 30s timeout.
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("failed to shutdown HTTP server", "error", err)
		}
	}()
}

// handleGRPCServer serves grpc.health.v1, tracking connected, until ctx is done.
func handleGRPCServer(ctx context.Context, addr string, connected func() bool, wg *sync.WaitGroup, errc chan error, logger *slog.Logger) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		go report(ctx, errc, err)
		return
	}
	h := api.NewHealthServer(logger)

	wg.Add(1)
	go func() {
		defer wg.Done()

		go h.Track(ctx, connected, healthTrackInterval)
		go func() {
			if err := h.Serve(lis); err != nil {
				report(ctx, errc, err)
			}
		}()

		<-ctx.Done()
		logger.Info("shutting down gRPC server", "addr", addr)
		h.Stop()
	}()
}

// report forwards err unless the process is already stopping.
func report(ctx context.Context, errc chan error, err error) {
	select {
	case errc <- err:
	case <-ctx.Done():
	}
}
