package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/MrEthical07/keystone"
	"github.com/MrEthical07/keystone/internal/rate"
	"github.com/MrEthical07/keystone/metrics/export/prometheus"
	"github.com/MrEthical07/keystone/middleware"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
)

type healthCheck struct {
	name string
	ping func(ctx context.Context) error
}

type routerDeps struct {
	engine *keystone.Engine
	logger *slog.Logger
	checks []healthCheck

	// introspectWindow bounds token introspection per client address.
	introspectWindow rate.Window
}

type introspectResponse struct {
	Active    bool      `json:"active"`
	Subject   string    `json:"sub"`
	Issuer    string    `json:"iss,omitempty"`
	ExpiresAt time.Time `json:"exp"`
	IssuedAt  time.Time `json:"iat"`
	TokenID   string    `json:"jti,omitempty"`
}

func newRouter(deps routerDeps) (http.Handler, error) {
	if deps.introspectWindow == (rate.Window{}) {
		deps.introspectWindow = rate.Window{Limit: 600, Period: time.Minute}
	}
	introspectLimiter, err := rate.NewLocalLimiter(deps.introspectWindow, nil)
	if err != nil {
		return nil, err
	}
	collector := prometheus.NewPrometheusExporter(deps.engine)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(httprate.LimitByIP(1000, time.Minute))
	r.Use(middleware.ClientIP)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", readyHandler(deps.checks, deps.logger))
	r.Handle("/metrics", collector.Handler())

	r.Group(func(pr chi.Router) {
		pr.Use(middleware.RateLimit(introspectLimiter, middleware.KeyByIP("introspect")))
		pr.Use(middleware.Guard(deps.engine))
		pr.Get("/v1/introspect", func(w http.ResponseWriter, r *http.Request) {
			claims, ok := middleware.ClaimsFromContext(r.Context())
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			resp := introspectResponse{
				Active:  true,
				Subject: claims.UserID(),
				Issuer:  claims.Issuer,
				TokenID: claims.ID,
			}
			if claims.ExpiresAt != nil {
				resp.ExpiresAt = claims.ExpiresAt.Time
			}
			if claims.IssuedAt != nil {
				resp.IssuedAt = claims.IssuedAt.Time
			}
			writeJSON(w, http.StatusOK, resp)
		})
	})
	return r, nil
}

func readyHandler(checks []healthCheck, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := make(map[string]string, len(checks))
		code := http.StatusOK
		for _, c := range checks {
			if err := c.ping(ctx); err != nil {
				if logger != nil {
					logger.WarnContext(ctx, "readiness check failed", slog.String("check", c.name), slog.Any("err", err))
				}
				status[c.name] = "unavailable"
				code = http.StatusServiceUnavailable
				continue
			}
			status[c.name] = "ok"
		}
		writeJSON(w, code, status)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
