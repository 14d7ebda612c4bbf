package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/cnweather/internal/observability"
)

// RouterConfig configures NewRouter. A nil Limiter disables adapter rate limiting.
type RouterConfig struct {
	RequestTimeout time.Duration
	Limiter        *rate.Limiter
}

// NewRouter wires the handler's routes with correlation IDs and request metrics.
// Query mutations and cache routes are rate limited; POST /queries also gets
// the request timeout.
func NewRouter(handler *Handler, logger *zap.Logger, cfg RouterConfig) *mux.Router {
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)

	router.HandleFunc("/health", handler.GetHealth).Methods(http.MethodGet)
	router.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)

	locations := router.PathPrefix("/locations").Subrouter()
	locations.HandleFunc("/provinces", handler.ListProvinces).Methods(http.MethodGet)
	locations.HandleFunc("/provinces/{province}/cities", handler.ListCities).Methods(http.MethodGet)
	locations.HandleFunc("/provinces/{province}/cities/{city}/districts", handler.ListDistricts).Methods(http.MethodGet)

	router.HandleFunc("/plan", handler.GetPlan).Methods(http.MethodGet)

	// Progress polling stays outside the token bucket.
	router.HandleFunc("/queries/current", handler.GetCurrentQuery).Methods(http.MethodGet)

	queries := router.PathPrefix("/queries").Subrouter()
	queries.Use(RateLimitMiddleware(cfg.Limiter))
	queries.HandleFunc("/current", handler.DeleteCurrentQuery).Methods(http.MethodDelete)
	var postQuery http.Handler = http.HandlerFunc(handler.PostQuery)
	if cfg.RequestTimeout > 0 {
		postQuery = TimeoutMiddleware(cfg.RequestTimeout)(postQuery)
	}
	queries.Handle("", postQuery).Methods(http.MethodPost)

	cacheRoutes := router.PathPrefix("/cache").Subrouter()
	cacheRoutes.Use(RateLimitMiddleware(cfg.Limiter))
	cacheRoutes.HandleFunc("", handler.GetCache).Methods(http.MethodGet)
	cacheRoutes.HandleFunc("", handler.DeleteCache).Methods(http.MethodDelete)

	return router
}
