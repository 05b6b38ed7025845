package main

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/onnwee/streamrank/internal/api"
	"github.com/onnwee/streamrank/internal/config"
	"github.com/onnwee/streamrank/internal/middleware"
	"github.com/onnwee/streamrank/internal/post"
	"github.com/onnwee/streamrank/internal/ranking"
	"github.com/onnwee/streamrank/internal/signals"
)

// serverDeps is everything newHandler needs; run fills it from config.
type serverDeps struct {
	cfg       *config.Config
	logger    *slog.Logger
	ranker    *ranking.Ranker
	posts     post.Repository
	signals   signals.Store
	limiter   middleware.RateLimitStore
	validator middleware.TokenValidator
	metrics   *middleware.Metrics
	registry  *prometheus.Registry
	health    api.HealthHandlersConfig
}

// newHandler builds the route table and wraps it in the middleware chain:
// RequestID -> Tracing -> Logging -> HTTPMetrics -> Profiling -> Authenticate -> mux.
func newHandler(d serverDeps) http.Handler {
	rank := api.NewRankHandlers(api.RankHandlersConfig{
		Ranker:       d.ranker,
		Posts:        d.posts,
		Signals:      d.signals,
		DefaultLimit: d.cfg.RankDefaultLimit,
		MaxLimit:     d.cfg.RankMaxLimit,
	})
	posts := api.NewPostHandlers(d.posts)
	probes := api.NewHealthHandlers(d.health)
	viewerOnly := middleware.RequireViewer(d.metrics)

	var rankHandler http.Handler = http.HandlerFunc(rank.Rank)
	if d.cfg.RankRateLimit > 0 {
		rankHandler = middleware.RateLimiter(
			d.limiter,
			middleware.RankLimit(d.cfg.RankRateLimit),
			middleware.ViewerKeyFunc(),
			d.metrics,
		)(rankHandler)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", probes.Health)
	mux.HandleFunc("GET /ready", probes.Ready)
	mux.Handle("GET /metrics", middleware.InternalAuth(d.cfg.MetricsToken)(api.MetricsHandler(d.registry)))

	mux.Handle("POST /rank/{surface}", rankHandler)
	mux.Handle("GET /feed", viewerOnly(http.HandlerFunc(rank.Feed)))
	mux.Handle("GET /reels", viewerOnly(http.HandlerFunc(rank.Reels)))
	mux.HandleFunc("GET /discover", rank.Discover)

	mux.Handle("POST /posts", viewerOnly(http.HandlerFunc(posts.CreatePost)))
	mux.HandleFunc("GET /posts/{id}", posts.GetPost)
	mux.Handle("DELETE /posts/{id}", viewerOnly(http.HandlerFunc(posts.DeletePost)))
	mux.Handle("POST /posts/{id}/engagement", viewerOnly(http.HandlerFunc(posts.RecordEngagement)))

	if d.cfg.SignalsToken != "" {
		ingest := api.NewSignalHandlers(d.signals)
		operatorOnly := middleware.InternalAuth(d.cfg.SignalsToken)
		mux.Handle("PUT /viewers/{id}/profile", operatorOnly(http.HandlerFunc(ingest.PutProfile)))
		mux.Handle("PUT /metrics/{id}", operatorOnly(http.HandlerFunc(ingest.PutMetrics)))
	}

	mux.HandleFunc("/", root)

	var h http.Handler = mux
	h = middleware.Authenticate(d.validator, d.metrics)(h)
	h = middleware.Profiling(middleware.ProfilingConfig{
		Enabled:     d.cfg.ProfilingEnabled,
		Environment: d.cfg.Env,
	})(h)
	h = middleware.HTTPMetrics(d.metrics)(h)
	h = middleware.Logging(d.logger)(h)
	h = middleware.Tracing(serviceName)(h)
	return middleware.RequestID(h)
}

// root answers the exact "/" path with service info and everything
// unrouted with the standard not_found envelope.
func root(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		ctx := middleware.SetErrorCode(r.Context(), api.ErrCodeNotFound)
		api.WriteError(w, ctx, http.StatusNotFound, api.ErrCodeNotFound, "The requested resource was not found")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(`{"service":"` + serviceName + `","version":"` + version + `"}`)); err != nil {
		slog.ErrorContext(r.Context(), "failed to write response", "error", err)
	}
}
