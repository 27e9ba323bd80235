// Package api serves the live snapshots over HTTP and websocket.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/mpapenbr/livetiming-gateway-go/log"
	"github.com/mpapenbr/livetiming-gateway-go/pkg/health"
	"github.com/mpapenbr/livetiming-gateway-go/pkg/model"
	"github.com/mpapenbr/livetiming-gateway-go/pkg/service"
	"github.com/mpapenbr/livetiming-gateway-go/version"
)

// LiveSource is the part of the supervisor the api needs
type LiveSource interface {
	Series() []model.Series
	AllLatest() []*model.RaceState
	FetchLiveSnapshot(ctx context.Context, series model.Series) (*model.RaceState, error)
	Subscribe(series model.Series) (<-chan *model.RaceState, func(), error)
	SubscribeEvents(series model.Series) (<-chan model.ChangeEvent, func(), error)
}

type HealthChecker interface {
	Check(ctx context.Context) []health.Result
}

const statusNoActiveSession = "no_active_session"

type (
	Option func(*Server)
	Server struct {
		live           LiveSource
		checker        HealthChecker
		requestTimeout time.Duration
		allowedOrigins []string
		l              *log.Logger
	}
)

func WithLiveSource(src LiveSource) Option {
	return func(s *Server) {
		s.live = src
	}
}

func WithHealthChecker(c HealthChecker) Option {
	return func(s *Server) {
		s.checker = c
	}
}

// WithRequestTimeout bounds the plain http requests. Websocket routes are
// not affected.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.requestTimeout = d
	}
}

// WithAllowedOrigins restricts CORS and websocket origins. Empty allows all.
func WithAllowedOrigins(origins ...string) Option {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

func WithLogger(l *log.Logger) Option {
	return func(s *Server) {
		s.l = l
	}
}

func NewServer(opts ...Option) *Server {
	ret := &Server{
		requestTimeout: 30 * time.Second,
		l:              log.Default().Named("api"),
	}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}

// Handler returns the router wrapped with CORS handling
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(s.requestTimeout))
		r.Get("/version", s.handleVersion)
		r.Get("/health", s.handleHealth)
		r.Get("/live", s.handleAllLive)
		r.Get("/live/{series}", s.handleLive)
	})
	r.Get("/ws/live/{series}", s.handleLiveStream)
	r.Get("/ws/events/{series}", s.handleEventStream)
	return s.newCORS().Handler(r)
}

func (s *Server) newCORS() *cors.Cors {
	return cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
		},
		AllowOriginFunc: s.originAllowed,
		AllowedHeaders:  []string{"*"},
		ExposedHeaders:  []string{"Content-Type", "X-Request-Id"},
		MaxAge:          7200,
	})
}

func (s *Server) originAllowed(origin string) bool {
	if len(s.allowedOrigins) == 0 {
		return true
	}
	for _, o := range s.allowedOrigins {
		if o == origin || o == "*" {
			return true
		}
	}
	return false
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.l.Debug("request",
			log.String("method", r.Method),
			log.String("path", r.URL.Path),
			log.Int("status", ww.Status()),
			log.Duration("duration", time.Since(start)),
			log.String("requestId", middleware.GetReqID(r.Context())))
	})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"version":   version.Version,
		"gitCommit": version.GitCommit,
		"buildDate": version.BuildDate,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.checker == nil {
		s.writeJSON(w, http.StatusOK, map[string]any{"healthy": true})
		return
	}
	results := s.checker.Check(r.Context())
	status := http.StatusOK
	if !health.Healthy(results) {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, map[string]any{
		"healthy": status == http.StatusOK,
		"probes":  results,
	})
}

func (s *Server) handleAllLive(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.live.AllLatest())
}

// handleLive answers 200 with a status object when the series is enabled
// but has no live session.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	series, ok := s.seriesParam(w, r)
	if !ok {
		return
	}
	state, err := s.live.FetchLiveSnapshot(r.Context(), series)
	switch {
	case errors.Is(err, service.ErrSeriesNotEnabled):
		s.writeError(w, http.StatusNotFound, err)
		return
	case err != nil:
		s.l.Warn("could not fetch live snapshot",
			log.String("series", string(series)), log.ErrorField(err))
		s.writeNoActiveSession(w, series)
		return
	case state == nil:
		s.writeNoActiveSession(w, series)
		return
	}
	s.writeJSON(w, http.StatusOK, state)
}

func (s *Server) seriesParam(w http.ResponseWriter, r *http.Request) (model.Series, bool) {
	series, err := model.ParseSeries(chi.URLParam(r, "series"))
	if err != nil {
		s.writeError(w, http.StatusNotFound, err)
		return "", false
	}
	return series, true
}

func (s *Server) writeNoActiveSession(w http.ResponseWriter, series model.Series) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status": statusNoActiveSession,
		"series": string(series),
	})
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.l.Debug("could not write response", log.ErrorField(err))
	}
}
