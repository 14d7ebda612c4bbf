package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kjstillabower/cnweather/internal/apperrors"
	"github.com/kjstillabower/cnweather/internal/catalog"
	"github.com/kjstillabower/cnweather/internal/lifecycle"
	"github.com/kjstillabower/cnweather/internal/models"
	"github.com/kjstillabower/cnweather/internal/planner"
	"github.com/kjstillabower/cnweather/internal/service"
	"github.com/kjstillabower/cnweather/internal/validation"
)

// maxBodyBytes caps a POST /queries JSON body.
const maxBodyBytes = 4 << 10

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	orchestrator *service.Orchestrator
	catalog      *catalog.Catalog
	logger       *zap.Logger
	maxNameLen   int
}

// NewHandler returns a new Handler. A non-positive maxNameLen selects
// validation.DefaultMaxNameLen.
func NewHandler(orchestrator *service.Orchestrator, cat *catalog.Catalog, logger *zap.Logger, maxNameLen int) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxNameLen <= 0 {
		maxNameLen = validation.DefaultMaxNameLen
	}
	return &Handler{
		orchestrator: orchestrator,
		catalog:      cat,
		logger:       logger,
		maxNameLen:   maxNameLen,
	}
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	status, code := "healthy", http.StatusOK
	if lifecycle.IsShuttingDown() {
		status, code = "shutting-down", http.StatusServiceUnavailable
	}
	now := time.Now()
	writeJSON(w, code, map[string]interface{}{
		"status":  status,
		"service": "cnweather",
		"version": "dev",
		"checks": map[string]interface{}{
			"catalogProvinces": len(h.catalog.Provinces()),
			"queryState":       h.orchestrator.State(),
			"cacheEntries":     h.orchestrator.CacheSize(),
		},
		"uptimeSeconds": int64(lifecycle.Uptime(now).Seconds()),
		"timestamp":     now.UTC().Format(time.RFC3339),
	})
}

// ListProvinces handles GET /locations/provinces.
func (h *Handler) ListProvinces(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"provinces": h.catalog.Provinces(),
	})
}

// ListCities handles GET /locations/provinces/{province}/cities.
func (h *Handler) ListCities(w http.ResponseWriter, r *http.Request) {
	province := mux.Vars(r)["province"]
	if !h.catalog.HasProvince(province) {
		writeError(w, r, http.StatusNotFound, "UNKNOWN_PROVINCE", "unknown province: "+province)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"province": province,
		"cities":   h.catalog.CitiesOf(province),
	})
}

// ListDistricts handles GET /locations/provinces/{province}/cities/{city}/districts.
// A city without districts returns an empty list with districtsSupported false.
func (h *Handler) ListDistricts(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	province, city := vars["province"], vars["city"]
	if !h.catalog.HasCity(province, city) {
		writeError(w, r, http.StatusNotFound, "UNKNOWN_CITY", "unknown city: "+province+"/"+city)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"province":           province,
		"city":               city,
		"districts":          h.catalog.DistrictsOf(province, city),
		"districtsSupported": h.catalog.SupportsDistricts(province, city),
	})
}

// GetPlan handles GET /plan. It shows the fallback order a query would use
// without starting one.
func (h *Handler) GetPlan(w http.ResponseWriter, r *http.Request) {
	sel, err := h.selection(r, selectionFromQuery(r))
	if err != nil {
		writeSelectionError(w, r, err)
		return
	}
	cands, err := planner.Plan(sel)
	if err != nil {
		writeSelectionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"selection":  planner.Normalize(sel),
		"candidates": cands,
		"strategy":   planner.StrategyTrace(cands),
		"cacheKey":   planner.CacheKey(sel),
	})
}

// PostQuery handles POST /queries. The selection comes from query parameters
// or, when no province parameter is given, a JSON body. The response is
// written once the query reaches a terminal state.
func (h *Handler) PostQuery(w http.ResponseWriter, r *http.Request) {
	if lifecycle.IsShuttingDown() {
		writeError(w, r, http.StatusServiceUnavailable, "SHUTTING_DOWN", "Service is shutting down")
		return
	}

	raw := selectionFromQuery(r)
	if raw.Province == "" && r.Body != nil {
		var body models.LocationSelection
		err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&body)
		if err != nil && !errors.Is(err, io.EOF) {
			writeError(w, r, http.StatusBadRequest, "INVALID_SELECTION", "request body must be a JSON selection")
			return
		}
		raw = body
	}
	sel, err := h.selection(r, raw)
	if err != nil {
		writeSelectionError(w, r, err)
		return
	}

	handle, err := h.orchestrator.Start(sel)
	if err != nil {
		h.writeStartError(w, r, err)
		return
	}

	res, err := handle.Wait(r.Context())
	if err != nil && r.Context().Err() != nil {
		handle.Cancel()
		if logger := loggerFrom(r); logger != nil {
			logger.Info("query abandoned by request", zap.String("query_id", handle.ID), zap.Error(r.Context().Err()))
		}
		if errors.Is(r.Context().Err(), context.DeadlineExceeded) {
			writeError(w, r, http.StatusGatewayTimeout, "QUERY_TIMEOUT", "Query did not finish in time")
		}
		return
	}

	var qe *service.QueryError
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"queryId":  handle.ID,
			"strategy": handle.Strategy,
			"result":   res,
		})
	case errors.Is(err, service.ErrCancelled):
		writeError(w, r, http.StatusConflict, "CANCELLED", "Query was cancelled")
	case errors.As(err, &qe):
		if logger := loggerFrom(r); logger != nil {
			logger.Debug("query failed", zap.String("query_id", handle.ID), zap.Error(err))
		}
		writeError(w, r, http.StatusBadGateway, "QUERY_FAILED", qe.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "INTERNAL", "Unexpected query error")
	}
}

// GetCurrentQuery handles GET /queries/current.
func (h *Handler) GetCurrentQuery(w http.ResponseWriter, r *http.Request) {
	q := h.orchestrator.Current()
	if q == nil {
		writeError(w, r, http.StatusNotFound, "NO_ACTIVE_QUERY", "No query is running")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"queryId":   q.ID,
		"selection": q.Selection,
		"strategy":  q.Strategy,
		"state":     q.State(),
		"progress":  q.Progress(),
	})
}

// DeleteCurrentQuery handles DELETE /queries/current.
func (h *Handler) DeleteCurrentQuery(w http.ResponseWriter, r *http.Request) {
	if !h.orchestrator.Cancel(nil) {
		writeError(w, r, http.StatusNotFound, "NO_ACTIVE_QUERY", "No query is running")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetCache handles GET /cache.
func (h *Handler) GetCache(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": h.orchestrator.CacheSize(),
	})
}

// DeleteCache handles DELETE /cache.
func (h *Handler) DeleteCache(w http.ResponseWriter, r *http.Request) {
	h.orchestrator.ClearCache()
	w.WriteHeader(http.StatusNoContent)
}

func selectionFromQuery(r *http.Request) models.LocationSelection {
	q := r.URL.Query()
	return models.LocationSelection{
		Province: q.Get("province"),
		City:     q.Get("city"),
		District: q.Get("district"),
	}
}

// selection validates names and checks the selection against the catalog.
func (h *Handler) selection(r *http.Request, raw models.LocationSelection) (models.LocationSelection, error) {
	sel, err := validation.ValidateSelection(raw, h.maxNameLen)
	if err != nil {
		return models.LocationSelection{}, err
	}
	if err := planner.Validate(sel); err != nil {
		return models.LocationSelection{}, err
	}
	if err := h.catalog.Contains(sel); err != nil {
		return models.LocationSelection{}, err
	}
	return sel, nil
}

func writeSelectionError(w http.ResponseWriter, r *http.Request, err error) {
	writeError(w, r, http.StatusBadRequest, "INVALID_SELECTION", err.Error())
}

func (h *Handler) writeStartError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, apperrors.ErrBusy):
		writeError(w, r, http.StatusConflict, "BUSY", "A query is already running")
	case errors.Is(err, apperrors.ErrRateLimited):
		secs := int(math.Ceil(h.orchestrator.RetryAfter().Seconds()))
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		writeError(w, r, http.StatusTooManyRequests, "RATE_LIMITED", apperrors.ErrRateLimited.Error())
	case errors.Is(err, apperrors.ErrValidation):
		writeSelectionError(w, r, err)
	default:
		h.logger.Error("unexpected start error", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "INTERNAL", "Unexpected query error")
	}
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response in the standard error format with code, message,
// and requestId (correlation ID) if available in request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	corrID, _ := r.Context().Value("correlation_id").(string)
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": corrID,
		},
	})
}
