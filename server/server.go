// Package server exposes the HTTP control surface: health, status, worker
// start/stop/restart, operator settings, OAuth flows and metrics. It applies
// admin auth and rate limiting to mutating endpoints, CORS, and injects
// correlation IDs into request contexts for consistent logging.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/onnwee/clip-tender/telemetry"
)

// protected reports whether a request needs admin auth.
func protected(r *http.Request) bool {
	if strings.HasPrefix(r.URL.Path, "/worker/") {
		return true
	}
	return strings.HasPrefix(r.URL.Path, "/settings") && r.Method != http.MethodGet && r.Method != http.MethodOptions
}

// NewMux returns the HTTP handler with all routes. ctx bounds the rate
// limiter's cleanup goroutine.
func NewMux(ctx context.Context, deps Deps) http.Handler {
	authCfg := loadAuthConfig()
	limiter := newIPRateLimiter(ctx, loadRateLimiterConfig())
	corsCfg := loadCORSConfig()
	h := NewHandlers(deps)

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /auth/twitch/start", h.HandleTwitchOAuthStart)
	mux.HandleFunc("GET /auth/twitch/callback", h.HandleTwitchOAuthCallback)
	mux.HandleFunc("GET /auth/youtube/start", h.HandleYouTubeOAuthStart)
	mux.HandleFunc("GET /auth/youtube/callback", h.HandleYouTubeOAuthCallback)

	mux.HandleFunc("GET /healthz", h.HandleHealthz)
	mux.HandleFunc("GET /readyz", h.HandleReadyz)
	mux.HandleFunc("GET /status", h.HandleStatus)
	mux.HandleFunc("GET /runs", h.HandleRuns)

	mux.HandleFunc("POST /worker/start", h.HandleWorkerStart)
	mux.HandleFunc("POST /worker/stop", h.HandleWorkerStop)
	mux.HandleFunc("POST /worker/restart", h.HandleWorkerRestart)

	mux.HandleFunc("GET /settings", h.HandleSettingsGet)
	mux.HandleFunc("PUT /settings", h.HandleSettingsPut)
	mux.HandleFunc("GET /settings/creators", h.HandleCreatorsList)
	mux.HandleFunc("POST /settings/creators", h.HandleCreatorsAdd)
	mux.HandleFunc("DELETE /settings/creators/{handle}", h.HandleCreatorsRemove)

	guarded := adminAuth(rateLimitMiddleware(mux, limiter), authCfg)
	selective := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if protected(r) {
			guarded.ServeHTTP(w, r)
			return
		}
		mux.ServeHTTP(w, r)
	})

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		corr := r.Header.Get("X-Correlation-ID")
		if corr == "" {
			corr = uuid.New().String()
		}
		ctx := telemetry.WithCorrelation(r.Context(), corr)
		w.Header().Set("X-Correlation-ID", corr)

		ctx, span := telemetry.StartSpan(ctx, "http-server", r.Method+" "+r.URL.Path,
			attribute.String("http.method", r.Method),
			attribute.String("http.route", r.URL.Path),
		)
		defer span.End()
		telemetry.LoggerWithCorr(ctx).Debug("request start", slog.String("method", r.Method), slog.String("path", r.URL.Path), slog.String("component", "http"))

		rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		selective.ServeHTTP(rec, r.WithContext(ctx))

		span.SetAttributes(attribute.Int("http.status_code", rec.statusCode))
		if rec.statusCode >= 400 {
			span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", rec.statusCode))
		}
	})
	return withCORSConfig(handler, corsCfg)
}

// statusRecorder wraps ResponseWriter to capture status code
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

// Start runs the HTTP server and shuts down gracefully on context cancellation.
func Start(ctx context.Context, deps Deps, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      NewMux(ctx, deps),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http server shutdown error", slog.Any("err", err))
		}
	}()

	slog.Info("http server listening", slog.String("addr", addr), slog.String("component", "http"))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("http server error", slog.Any("err", err))
		return err
	}
	return nil
}
