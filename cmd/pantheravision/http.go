package main

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"pantheravision/internal/api"
)

// handleHTTPServer starts the live view server on addr. It shuts the server
// down once ctx is done.
func handleHTTPServer(ctx context.Context, addr string, server *api.Server, wg *sync.WaitGroup, errc chan error, logger *log.Logger) {
	// MJPEG and websocket responses are long lived, so only the header
	// read is bounded.
	srv := &http.Server{Addr: addr, Handler: server.Handler(), ReadHeaderTimeout: time.Second * 60}
	for _, m := range server.Mounts() {
		logger.Printf("HTTP %q mounted on %s %s", m.Method, m.Verb, m.Pattern)
	}

	(*wg).Add(1)
	go func() {
		defer (*wg).Done()

		// Start HTTP server in a separate goroutine.
		go func() {
			logger.Printf("HTTP server listening on %q", addr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errc <- err
			}
		}()

		<-ctx.Done()
		logger.Printf("shutting down HTTP server at %q", addr)

		// Shutdown gracefully with a 30s timeout.
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		err := srv.Shutdown(ctx)
		if err != nil {
			logger.Printf("failed to shutdown: %v", err)
		}
	}()
}
