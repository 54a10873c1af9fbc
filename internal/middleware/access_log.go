package middleware

import (
	"bufio"
	"errors"
	"log"
	"net"
	"net/http"
	"time"

	"goa.design/goa/v3/middleware"
)

// statusRecorder captures the response status for logging. It keeps the
// Flusher and Hijacker of the wrapped writer reachable for MJPEG and
// websocket handlers.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijack not supported")
	}
	if r.status == 0 {
		r.status = http.StatusSwitchingProtocols
	}
	return h.Hijack()
}

// AccessLog logs method, path, status, size and duration of every request
// together with the request id set by goa's RequestID middleware
func AccessLog(logger *log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)

			id := RequestID(r)
			if id == "" {
				id = "-"
			}
			status := rec.status
			if status == 0 {
				status = http.StatusOK
			}
			logger.Printf("[HTTP] [%s] %s %s %d %dB %s", id, r.Method, r.URL.Path, status, rec.bytes, time.Since(start).Round(time.Microsecond))
		})
	}
}

// RequestID returns the goa request id stored in ctx, if any
func RequestID(r *http.Request) string {
	id, _ := r.Context().Value(middleware.RequestIDKey).(string)
	return id
}
