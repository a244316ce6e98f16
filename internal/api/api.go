// Package api serves the activewatcher HTTP interface.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"activewatcher/internal/health"
	"activewatcher/internal/ingest"
	"activewatcher/internal/logging"
	"activewatcher/internal/metrics"
	"activewatcher/internal/reports"
	"activewatcher/internal/schemavalidation"
	"activewatcher/internal/timefmt"
)

// Name is reported by /meta.
const Name = "activewatcher"

// Ingester applies state snapshots.
type Ingester interface {
	Ingest(ctx context.Context, st ingest.State) (ingest.Result, error)
}

// Options wires the API to its collaborators. Health, Metrics and Gatherer
// are optional.
type Options struct {
	Ingest  Ingester
	Reports *reports.Service
	Health  *health.Checker
	Metrics *metrics.Metrics

	// Gatherer backs /metrics when non-nil.
	Gatherer prometheus.Gatherer

	Logger  *logging.Logger
	Version string

	CORSOrigins        []string
	RateLimitPerMinute int
}

// API holds the HTTP handlers.
type API struct {
	ingest  Ingester
	reports *reports.Service
	health  *health.Checker
	metrics *metrics.Metrics
	logger  *logging.Logger
	version string

	handler http.Handler
}

// New builds the API and its router.
func New(opts Options) *API {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	a := &API{
		ingest:  opts.Ingest,
		reports: opts.Reports,
		health:  opts.Health,
		metrics: opts.Metrics,
		logger:  logger.WithComponent("api"),
		version: opts.Version,
	}

	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(
		requestID,
		middleware.Recoverer,
		requestLogger(a.logger),
		a.metrics.Middleware,
		cors.Handler(cors.Options{
			AllowedOrigins:   origins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"*"},
			ExposedHeaders:   []string{RequestIDHeader},
			AllowCredentials: false,
		}),
	)
	if opts.RateLimitPerMinute > 0 {
		r.Use(httprate.Limit(
			opts.RateLimitPerMinute,
			time.Minute,
			httprate.WithKeyFuncs(httprate.KeyByIP),
			httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
				Write(w, http.StatusTooManyRequests, Response{
					Message: "rate limit exceeded, try again later",
				})
			}),
		))
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		Write(w, http.StatusNotFound, Response{Message: "not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		Write(w, http.StatusMethodNotAllowed, Response{Message: "method not allowed"})
	})

	r.Get("/health", a.getHealth)
	if a.health != nil {
		r.Method(http.MethodGet, "/health/ready", a.health.ReadinessHandler())
		r.Method(http.MethodGet, "/health/components", a.health.Handler())
	}
	r.Get("/meta", a.getMeta)
	if opts.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/state", a.postState)
		r.Get("/range", a.getRange)
		r.Get("/events", a.getEvents)
		r.Get("/summary", a.getSummary)
		r.Get("/apps", a.getApps)
		r.Get("/heatmap", a.getHeatmap)
	})

	a.handler = r
	return a
}

// Handler returns the root HTTP handler.
func (a *API) Handler() http.Handler {
	return a.handler
}

func (a *API) getHealth(w http.ResponseWriter, _ *http.Request) {
	Write(w, http.StatusOK, map[string]string{"status": "ok"})
}

// MetaResponse describes the service.
type MetaResponse struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Health  string `json:"health"`
	Metrics string `json:"metrics"`
}

func (a *API) getMeta(w http.ResponseWriter, _ *http.Request) {
	Write(w, http.StatusOK, MetaResponse{
		Name:    Name,
		Version: a.version,
		Health:  "/health",
		Metrics: "/metrics",
	})
}

// stateRequest is the POST /v1/state body.
type stateRequest struct {
	Bucket string         `json:"bucket" validate:"required"`
	Source string         `json:"source" validate:"required"`
	TS     string         `json:"ts" validate:"required"`
	Data   map[string]any `json:"data" validate:"required"`
}

// StateResponse is the POST /v1/state success body.
type StateResponse struct {
	Status string `json:"status"`
	ingest.Result
}

func (a *API) postState(w http.ResponseWriter, r *http.Request) {
	var req stateRequest
	if !Read(w, r, schemavalidation.StateSchema, &req) {
		a.metrics.IngestFailed(metrics.ReasonInvalid)
		return
	}

	ts, err := timefmt.Parse(req.TS)
	if err != nil {
		a.metrics.IngestFailed(metrics.ReasonInvalid)
		Write(w, http.StatusUnprocessableEntity, Response{
			Message: "invalid timestamp: " + req.TS,
			Errors:  []Error{{Field: "ts", Detail: err.Error()}},
		})
		return
	}

	res, err := a.ingest.Ingest(r.Context(), ingest.State{
		Bucket: req.Bucket,
		Source: req.Source,
		TS:     ts,
		Data:   req.Data,
	})
	if err != nil {
		if errors.Is(err, ingest.ErrNonMonotonicTimestamp) {
			a.metrics.IngestFailed(metrics.ReasonConflict)
			a.logger.WithContext(r.Context()).Info("state rejected",
				"bucket", req.Bucket, "source", req.Source, "error", err)
		} else {
			a.metrics.IngestFailed(metrics.ReasonInternal)
		}
		a.writeError(w, r, err)
		return
	}

	a.metrics.IngestSucceeded(string(res.Action))
	Write(w, http.StatusOK, StateResponse{Status: "ok", Result: res})
}

// writeError maps domain errors to status codes.
func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ingest.ErrNonMonotonicTimestamp):
		Write(w, http.StatusConflict, Response{Message: err.Error()})
	case errors.Is(err, reports.ErrInvalidTimezone), errors.Is(err, reports.ErrInvalidMode):
		Write(w, http.StatusUnprocessableEntity, Response{Message: err.Error()})
	case errors.Is(err, context.Canceled):
		// Client went away; nothing useful to send.
		Write(w, http.StatusServiceUnavailable, Response{Message: "request canceled"})
	default:
		a.logger.WithContext(r.Context()).Error("request error", "path", r.URL.Path, "error", err)
		Write(w, http.StatusInternalServerError, Response{Message: "internal server error"})
	}
}
