// Package server exposes the settlement core over HTTP: post previews,
// read-unlock and sponsorship, speaking the x402 challenge/proof protocol.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/postera-labs/settle/logger"
	"github.com/postera-labs/settle/metrics"
	"github.com/postera-labs/settle/middleware"
	"github.com/postera-labs/settle/settle"
	"github.com/postera-labs/settle/types"
)

// HeaderPaymentRequirements mirrors the 402 challenge body so clients that
// only inspect headers can pick the requirements up.
const HeaderPaymentRequirements = "X-Payment-Requirements"

// Config captures the dependencies required to construct the server.
type Config struct {
	Service  *settle.Service
	Logger   logger.Logger
	Recorder metrics.Recorder
	Limits   map[string]middleware.RateLimit
	// Gatherer backs GET /metrics; nil disables the endpoint.
	Gatherer prometheus.Gatherer
	// Network is echoed to the proof extractor as the default settlement
	// network.
	Network string
}

// Server is the HTTP front of the settlement core.
type Server struct {
	svc     *settle.Service
	log     logger.Logger
	rec     metrics.Recorder
	network string

	router http.Handler
}

// New constructs a configured router with admission control applied to the
// payment routes.
func New(cfg Config) *Server {
	s := &Server{
		svc:     cfg.Service,
		log:     cfg.Logger,
		rec:     cfg.Recorder,
		network: cfg.Network,
	}
	if s.log == nil {
		s.log = logger.NoopLogger{}
	}
	if s.rec == nil {
		s.rec = metrics.NoopRecorder{}
	}
	s.router = s.buildRouter(cfg)
	return s
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter(cfg Config) http.Handler {
	limiter := middleware.NewRateLimiter(cfg.Limits)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if cfg.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1/posts/{postID}", func(api chi.Router) {
		api.With(limiter.Middleware("read")).Get("/", s.GetPost)
		api.With(limiter.Middleware("payment")).Post("/unlock", s.UnlockPost)
		api.With(limiter.Middleware("payment")).Post("/sponsor", s.SponsorPost)
	})

	return r
}

// requestLogger emits one structured line per request and feeds the
// latency histogram.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		elapsed := time.Since(start)
		s.rec.ObserveLatency(r.Method+" "+r.URL.Path, elapsed, nil)
		s.log.Info("request", map[string]any{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   ww.Status(),
			"duration": elapsed.String(),
		})
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("response encode failed", map[string]any{"error": err.Error()})
	}
}

// writeError maps a coded settlement error to its HTTP status. Anything
// uncoded is an internal failure: logged with context, returned without
// detail.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var se *types.SettleError
	if !errors.As(err, &se) {
		s.log.Error("unhandled error", map[string]any{
			"method": r.Method,
			"path":   r.URL.Path,
			"error":  err.Error(),
		})
		se = types.NewInternal()
	}
	if se.Code == types.ErrInternal {
		s.log.Error("internal error", map[string]any{"method": r.Method, "path": r.URL.Path})
	}
	s.writeJSON(w, se.HTTPStatus(), map[string]string{"error": se.Message, "code": se.Code})
}

// writePaymentRequired emits the 402 challenge with the requirements
// mirrored in the response header.
func (s *Server) writePaymentRequired(w http.ResponseWriter, challenge *types.PaymentRequired) {
	if encoded, err := json.Marshal(challenge.PaymentRequirements); err == nil {
		w.Header().Set(HeaderPaymentRequirements, string(encoded))
	}
	s.writeJSON(w, http.StatusPaymentRequired, challenge)
}
