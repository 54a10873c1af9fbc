// Package api mounts the live view, the alert log and the track feed on a
// goa muxer.
package api

import (
	"context"
	_ "embed"
	"errors"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	goahttp "goa.design/goa/v3/http"
	httpmdlwr "goa.design/goa/v3/http/middleware"

	"pantheravision/internal/alert"
	"pantheravision/internal/auth"
	"pantheravision/internal/database"
	"pantheravision/internal/middleware"
	"pantheravision/internal/pipeline"
	"pantheravision/internal/stream"
	"pantheravision/internal/ws"
)

//go:embed static/index.html
var indexHTML []byte

const (
	defaultAlertLimit = 50
	maxAlertLimit     = 500
)

// StatusSource exposes the pipeline counters
type StatusSource interface {
	Stats() pipeline.PipelineStats
}

// AlertStatsSource exposes the dispatcher counters
type AlertStatsSource interface {
	Stats() alert.Stats
}

// AlertLog reads the persisted detections
type AlertLog interface {
	GetDetection(ctx context.Context, id int64) (*database.DetectionRecord, error)
	ListDetections(ctx context.Context, since *time.Time, limit int) ([]*database.DetectionRecord, error)
	CountDetections(ctx context.Context) (int64, error)
}

// Options are the collaborators behind the routes. Nil members disable the
// routes that need them.
type Options struct {
	Status    StatusSource
	Alerts    AlertStatsSource
	Log       AlertLog
	Publisher *stream.Publisher
	StreamFPS int
	Video     *stream.VideoSocket
	Tracks    *ws.TrackHub
	Auth      *auth.Authenticator
	Ready     func(ctx context.Context) error
	Logger    *log.Logger
}

// Mount describes one mounted route
type Mount struct {
	Method  string
	Verb    string
	Pattern string
}

// Server owns the muxer and the wrapped handler
type Server struct {
	opts    Options
	mux     goahttp.Muxer
	handler http.Handler
	mounts  []Mount
	started time.Time
	mjpeg   *stream.MJPEGHandler
}

// New builds the muxer and mounts every route
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stderr, "", log.LstdFlags)
	}

	s := &Server{
		opts:    opts,
		mux:     goahttp.NewMuxer(),
		started: time.Now(),
	}

	s.handle("index", http.MethodGet, "/", s.index)
	s.handle("health", http.MethodGet, "/health", s.health)
	s.handle("ready", http.MethodGet, "/readyz", s.ready)
	s.handle("login", http.MethodPost, "/api/auth/login", s.login)
	s.handle("status", http.MethodGet, "/api/status", s.protect(s.status))

	if opts.Publisher != nil {
		s.mjpeg = stream.NewMJPEGHandler(opts.Publisher, opts.StreamFPS)
		s.handle("video", http.MethodGet, "/video", s.mjpeg.ServeHTTP)
		s.handle("snapshot", http.MethodGet, "/snapshot", stream.NewSnapshotHandler(opts.Publisher).ServeHTTP)
	}
	if opts.Video != nil {
		s.handle("video socket", http.MethodGet, "/ws/video", s.protect(opts.Video.ServeHTTP))
	}
	if opts.Tracks != nil {
		s.handle("tracks", http.MethodGet, "/ws/tracks", s.protect(ws.NewHandler(opts.Tracks).ServeHTTP))
	}
	if opts.Log != nil {
		s.handle("list alerts", http.MethodGet, "/api/alerts", s.protect(s.listAlerts))
		s.handle("show alert", http.MethodGet, "/api/alerts/{id}", s.protect(s.showAlert))
		s.handle("alert image", http.MethodGet, "/api/alerts/{id}/image", s.protect(s.alertImage))
	}

	var handler http.Handler = s.mux
	{
		handler = middleware.AccessLog(opts.Logger)(handler)
		handler = httpmdlwr.RequestID()(handler)
	}
	s.handler = handler
	return s
}

func (s *Server) handle(method, verb, pattern string, h http.HandlerFunc) {
	s.mux.Handle(verb, pattern, h)
	s.mounts = append(s.mounts, Mount{Method: method, Verb: verb, Pattern: pattern})
}

// protect applies the bearer token check when auth is configured
func (s *Server) protect(h http.HandlerFunc) http.HandlerFunc {
	if s.opts.Auth == nil {
		return h
	}
	return middleware.AuthMiddleware(s.opts.Auth)(h).ServeHTTP
}

// Handler returns the muxer wrapped with request ids and access logging
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Mounts lists the mounted routes
func (s *Server) Mounts() []Mount {
	return s.mounts
}

func (s *Server) index(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(indexHTML)
}

// HealthResponse is the liveness probe body
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	s.encode(w, r, http.StatusOK, HealthResponse{Status: "healthy", Timestamp: time.Now()})
}

func (s *Server) ready(w http.ResponseWriter, r *http.Request) {
	if s.opts.Ready != nil {
		if err := s.opts.Ready(r.Context()); err != nil {
			s.encode(w, r, http.StatusServiceUnavailable, map[string]string{"status": "not_ready", "error": err.Error()})
			return
		}
	}
	s.encode(w, r, http.StatusOK, map[string]string{"status": "ready"})
}

// LoginRequest is the login payload
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse carries the issued token
type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	if s.opts.Auth == nil {
		s.error(w, r, http.StatusUnauthorized, auth.ErrAuthDisabled)
		return
	}

	var req LoginRequest
	if err := goahttp.RequestDecoder(r).Decode(&req); err != nil {
		s.error(w, r, http.StatusBadRequest, errors.New("invalid login payload"))
		return
	}

	token, expiresAt, err := s.opts.Auth.Authenticate(req.Username, req.Password)
	if err != nil {
		s.opts.Logger.Printf("[Auth] Login failed for %q: %v", req.Username, err)
		s.error(w, r, http.StatusUnauthorized, err)
		return
	}
	s.encode(w, r, http.StatusOK, LoginResponse{Token: token, ExpiresAt: expiresAt})
}

// StreamStatus describes the live view consumers
type StreamStatus struct {
	MJPEGClients int       `json:"mjpeg_clients"`
	VideoClients int       `json:"video_clients"`
	TrackClients int       `json:"track_clients"`
	LastFrame    time.Time `json:"last_frame,omitzero"`
	Stale        bool      `json:"stale"`
}

// StatusResponse is the /api/status body
type StatusResponse struct {
	Uptime   string                 `json:"uptime"`
	Pipeline pipeline.PipelineStats `json:"pipeline"`
	Alerts   *alert.Stats           `json:"alerts,omitempty"`
	Stream   *StreamStatus          `json:"stream,omitempty"`
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{Uptime: time.Since(s.started).Round(time.Second).String()}
	if s.opts.Status != nil {
		resp.Pipeline = s.opts.Status.Stats()
	}
	if s.opts.Alerts != nil {
		stats := s.opts.Alerts.Stats()
		resp.Alerts = &stats
	}
	if s.opts.Publisher != nil {
		st := &StreamStatus{Stale: true}
		if s.mjpeg != nil {
			st.MJPEGClients = s.mjpeg.Clients()
		}
		if s.opts.Video != nil {
			st.VideoClients = s.opts.Video.ClientCount()
		}
		if s.opts.Tracks != nil {
			st.TrackClients = s.opts.Tracks.ClientCount()
		}
		if snap, ok := s.opts.Publisher.Latest(); ok {
			st.LastFrame = snap.Timestamp
			st.Stale = s.opts.Publisher.Stale(snap.Timestamp)
		}
		resp.Stream = st
	}
	s.encode(w, r, http.StatusOK, resp)
}

// AlertList is the /api/alerts body
type AlertList struct {
	Alerts []*database.DetectionRecord `json:"alerts"`
	Total  int64                       `json:"total"`
}

func (s *Server) listAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var since *time.Time
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			s.error(w, r, http.StatusBadRequest, errors.New("since must be an RFC 3339 timestamp"))
			return
		}
		since = &t
	}

	limit := defaultAlertLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.error(w, r, http.StatusBadRequest, errors.New("limit must be a positive integer"))
			return
		}
		limit = min(n, maxAlertLimit)
	}

	recs, err := s.opts.Log.ListDetections(r.Context(), since, limit)
	if err != nil {
		s.error(w, r, http.StatusInternalServerError, err)
		return
	}
	total, err := s.opts.Log.CountDetections(r.Context())
	if err != nil {
		s.error(w, r, http.StatusInternalServerError, err)
		return
	}
	if recs == nil {
		recs = []*database.DetectionRecord{}
	}
	s.encode(w, r, http.StatusOK, AlertList{Alerts: recs, Total: total})
}

// lookup resolves the {id} path variable; it writes the error response
// itself and returns nil when the record cannot be served
func (s *Server) lookup(w http.ResponseWriter, r *http.Request) *database.DetectionRecord {
	id, err := strconv.ParseInt(s.mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		s.error(w, r, http.StatusBadRequest, errors.New("alert id must be a positive integer"))
		return nil
	}
	rec, err := s.opts.Log.GetDetection(r.Context(), id)
	if err != nil {
		s.error(w, r, http.StatusInternalServerError, err)
		return nil
	}
	if rec == nil {
		s.error(w, r, http.StatusNotFound, errors.New("alert not found"))
		return nil
	}
	return rec
}

func (s *Server) showAlert(w http.ResponseWriter, r *http.Request) {
	if rec := s.lookup(w, r); rec != nil {
		s.encode(w, r, http.StatusOK, rec)
	}
}

func (s *Server) alertImage(w http.ResponseWriter, r *http.Request) {
	rec := s.lookup(w, r)
	if rec == nil {
		return
	}
	if rec.ImagePath == "" {
		s.error(w, r, http.StatusNotFound, errors.New("alert has no image"))
		return
	}
	if _, err := os.Stat(rec.ImagePath); err != nil {
		s.error(w, r, http.StatusNotFound, errors.New("alert image is missing"))
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	http.ServeFile(w, r, rec.ImagePath)
}

func (s *Server) encode(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := goahttp.ResponseEncoder(r.Context(), w).Encode(v); err != nil {
		s.opts.Logger.Printf("[%s] ERROR: encoding: %s", middleware.RequestID(r), err.Error())
	}
}

// ErrorResponse carries the request id so that failures can be matched
// with the access log
type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

func (s *Server) error(w http.ResponseWriter, r *http.Request, status int, err error) {
	id := middleware.RequestID(r)
	if status >= http.StatusInternalServerError {
		s.opts.Logger.Printf("[%s] ERROR: %s", id, err.Error())
	}
	s.encode(w, r, status, ErrorResponse{Error: err.Error(), RequestID: id})
}
