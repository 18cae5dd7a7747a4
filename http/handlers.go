package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strconv"

	"go.uber.org/zap"

	"healthrisk/db"
	"healthrisk/inference"
	"healthrisk/logging"
)

const maxListLimit = 500

type handlers struct {
	deps Deps
}

// RegisterHandlers 注册所有路由。预测路由不限定方法，OPTIONS 由 CORS 中间件处理
func RegisterHandlers(mux *http.ServeMux, deps Deps, config ServerConfig) {
	h := &handlers{deps: deps}

	maternal := h.predict(inference.DomainMaternal)
	pcos := h.predict(inference.DomainPCOS)
	mux.Handle("/predictMaternalRisk", maternal)
	mux.Handle("/predictPCOS", pcos)
	mux.Handle("/api/v1/predict/maternal", maternal)
	mux.Handle("/api/v1/predict/pcos", pcos)

	mux.HandleFunc("GET /api/health", h.handleHealth)
	mux.HandleFunc("GET /api/predictions", h.handlePredictions)
	mux.HandleFunc("GET /api/patients/{id}/risk", h.handlePatientRisk)

	// 管理接口：淘汰缓存、运行时调整日志级别
	if config.Admin {
		mux.HandleFunc("DELETE /api/cache/{name}", h.handleEvict)
		mux.HandleFunc("DELETE /api/cache", h.handlePurge)
		mux.Handle("GET /api/log/level", logging.LevelHandler())
		mux.Handle("PUT /api/log/level", logging.LevelHandler())
	}

	if deps.Alerts != nil {
		mux.HandleFunc("GET /api/ws/alerts", deps.Alerts.HandleWebSocket)
	}
	if deps.Metrics != nil {
		metricsPath := config.MetricsPath
		if metricsPath == "" {
			metricsPath = "/metrics"
		}
		mux.Handle("GET "+metricsPath, deps.Metrics)
	}
}

// predict 返回某个领域的预测处理器，结果总是 200 + JSON
func (h *handlers) predict(domain string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				err = fmt.Errorf("request body exceeds %d bytes", tooLarge.Limit)
			}
			requestLogger(r).Info("failed to read request body", zap.String("domain", domain), zap.Error(err))
			writeJSON(w, http.StatusOK, inference.Fail(err))
			return
		}

		writeJSON(w, http.StatusOK, h.deps.Service.Respond(r.Context(), domain, body))
	})
}

func (h *handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status":  "ok",
		"bundles": h.deps.Service.Bundles(),
		"history": h.deps.History != nil,
	}
	if h.deps.Cache != nil {
		resp["cacheEnabled"] = h.deps.Cache.CacheEnabled()
		resp["cached"] = h.deps.Cache.Cached()
	}
	if h.deps.Alerts != nil {
		resp["alertClients"] = h.deps.Alerts.ClientCount()
	}
	if h.deps.History != nil {
		counts := make(map[string]map[string]int, 2)
		for _, domain := range []string{inference.DomainMaternal, inference.DomainPCOS} {
			c, err := h.deps.History.CountByRisk(r.Context(), domain)
			if err != nil {
				requestLogger(r).Warn("failed to count predictions", zap.String("domain", domain), zap.Error(err))
				continue
			}
			counts[domain] = c
		}
		resp["riskCounts"] = counts
	}
	writeJSON(w, http.StatusOK, resp)
}

// queryDomain 读取可选的 domain 查询参数
func queryDomain(r *http.Request) (string, bool) {
	domain := r.URL.Query().Get("domain")
	if domain != "" && domain != inference.DomainMaternal && domain != inference.DomainPCOS {
		return "", false
	}
	return domain, true
}

func (h *handlers) handlePredictions(w http.ResponseWriter, r *http.Request) {
	if h.deps.History == nil {
		writeJSON(w, http.StatusServiceUnavailable, inference.Failure{Error: "prediction history is disabled"})
		return
	}

	domain, ok := queryDomain(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, inference.Failure{Error: inference.ErrInvalidDomain.Error()})
		return
	}

	limit := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		l, err := strconv.Atoi(limitStr)
		if err != nil || l < 0 {
			writeJSON(w, http.StatusBadRequest, inference.Failure{Error: "limit must be a non-negative integer"})
			return
		}
		limit = l
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	records, err := h.deps.History.List(r.Context(), db.Query{
		Domain:    domain,
		PatientID: r.URL.Query().Get("patientId"),
		Limit:     limit,
	})
	if err != nil {
		requestLogger(r).Error("failed to list predictions", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, inference.Failure{Error: "failed to list predictions"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"domain":  domain,
		"data":    records,
	})
}

// handlePatientRisk 汇总患者最近三次预测的整体风险
func (h *handlers) handlePatientRisk(w http.ResponseWriter, r *http.Request) {
	if h.deps.History == nil {
		writeJSON(w, http.StatusServiceUnavailable, inference.Failure{Error: "prediction history is disabled"})
		return
	}
	domain, ok := queryDomain(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, inference.Failure{Error: inference.ErrInvalidDomain.Error()})
		return
	}

	risk, err := h.deps.History.PatientRisk(r.Context(), r.PathValue("id"), domain)
	if err != nil {
		requestLogger(r).Error("failed to roll up patient risk", zap.String("patient", r.PathValue("id")), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, inference.Failure{Error: "failed to roll up patient risk"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    risk,
	})
}

func (h *handlers) handleEvict(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if h.deps.Cache == nil || !slices.Contains(h.deps.Cache.Cached(), name) {
		writeJSON(w, http.StatusNotFound, inference.Failure{Error: fmt.Sprintf("bundle %q is not cached", name)})
		return
	}
	h.deps.Cache.Evict(name)
	requestLogger(r).Info("bundle evicted by request", zap.String("bundle", name))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"evicted": []string{name},
	})
}

func (h *handlers) handlePurge(w http.ResponseWriter, r *http.Request) {
	evicted := []string{}
	if h.deps.Cache != nil {
		evicted = append(evicted, h.deps.Cache.Cached()...)
		h.deps.Cache.Purge()
	}
	requestLogger(r).Info("bundle cache purged by request", zap.Strings("bundles", evicted))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"evicted": evicted,
	})
}

func requestLogger(r *http.Request) *zap.Logger {
	return logging.With(zap.String("request_id", GetRequestID(r.Context())))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.L().Warn("failed to encode response", zap.Error(err))
	}
}
