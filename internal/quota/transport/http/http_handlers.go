// Package httptransport provides HTTP handlers.
package httptransport

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/takezou621/sedori-platform-sub003/internal/quota/core"
)

const (
	defaultMaxBodyBytes = 1 << 20
	maxStatsDays        = 90
)

type httpErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func (t *HTTPTransport) registerRoutes(r chi.Router) {
	r.Route("/v1/quota/{dependency}", func(r chi.Router) {
		r.Post("/check", t.handleCheck)
		r.Post("/wait", t.handleWait)
		r.Post("/record", t.handleRecord)
		r.Get("/stats", t.handleStats)
		r.Get("/limits", t.handleLimits)
	})
	r.Route("/v1/admin/quotas", func(r chi.Router) {
		r.Use(t.requireAdmin)
		r.Get("/", t.handleListQuotas)
		r.Put("/{dependency}", t.handleUpdateQuota)
		r.Delete("/{dependency}/limits", t.handleResetLimits)
	})
	r.Get("/healthz", t.handleHealth)
	r.Get("/readyz", t.handleReady)
	if t.metrics != nil {
		r.Method(http.MethodGet, "/metrics", t.metrics)
	}
}

func (t *HTTPTransport) handleCheck(w http.ResponseWriter, r *http.Request) {
	dependency, ok := t.dependencyParam(w, r)
	if !ok {
		return
	}
	decision := t.admission.CheckRateLimit(r.Context(), dependency, r.URL.Query().Get("identifier"))
	setRateLimitHeaders(w, decision, t.now())
	status := http.StatusOK
	if !decision.Allowed {
		status = http.StatusTooManyRequests
	}
	writeJSON(w, status, fromDecision(decision))
}

func (t *HTTPTransport) handleWait(w http.ResponseWriter, r *http.Request) {
	dependency, ok := t.dependencyParam(w, r)
	if !ok {
		return
	}
	if err := t.admission.WaitForRateLimit(r.Context(), dependency, r.URL.Query().Get("identifier")); err != nil {
		t.writeError(w, r, http.StatusRequestTimeout, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (t *HTTPTransport) handleRecord(w http.ResponseWriter, r *http.Request) {
	dependency, ok := t.dependencyParam(w, r)
	if !ok {
		return
	}
	var httpReq HTTPRecordRequest
	if err := t.decodeJSON(w, r, &httpReq); err != nil {
		t.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	if httpReq.Success == nil {
		t.writeError(w, r, http.StatusBadRequest, core.ErrInvalidInput)
		return
	}
	t.usage.RecordRequest(r.Context(), dependency, httpReq.Identifier, *httpReq.Success)
	w.WriteHeader(http.StatusAccepted)
}

func (t *HTTPTransport) handleStats(w http.ResponseWriter, r *http.Request) {
	dependency, ok := t.dependencyParam(w, r)
	if !ok {
		return
	}
	query := r.URL.Query()
	days := 0
	if raw := query.Get("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > maxStatsDays {
			t.writeError(w, r, http.StatusBadRequest, core.ErrInvalidInput)
			return
		}
		days = parsed
	}
	writeJSON(w, http.StatusOK, t.usage.GetAPIStats(r.Context(), dependency, query.Get("identifier"), days))
}

func (t *HTTPTransport) handleLimits(w http.ResponseWriter, r *http.Request) {
	dependency, ok := t.dependencyParam(w, r)
	if !ok {
		return
	}
	limits := t.admission.GetCurrentLimits(r.Context(), dependency, r.URL.Query().Get("identifier"))
	writeJSON(w, http.StatusOK, fromCurrentLimits(dependency, limits))
}

func (t *HTTPTransport) handleListQuotas(w http.ResponseWriter, r *http.Request) {
	configs := t.admin.ListConfigs()
	resp := make([]HTTPQuotaConfig, len(configs))
	for i, cfg := range configs {
		resp[i] = fromQuotaConfig(cfg)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (t *HTTPTransport) handleUpdateQuota(w http.ResponseWriter, r *http.Request) {
	dependency, ok := t.dependencyParam(w, r)
	if !ok {
		return
	}
	var httpReq HTTPUpdateQuotaRequest
	if err := t.decodeJSON(w, r, &httpReq); err != nil {
		t.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	cfg, err := toQuotaConfig(dependency, httpReq)
	if err != nil {
		t.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	if err := t.admin.UpdateConfig(dependency, cfg); err != nil {
		t.writeAdminError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, fromQuotaConfig(cfg))
}

func (t *HTTPTransport) handleResetLimits(w http.ResponseWriter, r *http.Request) {
	dependency, ok := t.dependencyParam(w, r)
	if !ok {
		return
	}
	if err := t.admin.ResetRateLimit(r.Context(), dependency, r.URL.Query().Get("identifier")); err != nil {
		t.writeAdminError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (t *HTTPTransport) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, fromHealthStatus(t.admin.HealthCheck(r.Context())))
}

func (t *HTTPTransport) handleReady(w http.ResponseWriter, r *http.Request) {
	if t.appReady != nil && t.appReady() {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready"})
}

func (t *HTTPTransport) dependencyParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	dependency := strings.TrimSpace(chi.URLParam(r, "dependency"))
	if dependency == "" {
		t.writeError(w, r, http.StatusBadRequest, core.ErrInvalidInput)
		return "", false
	}
	return dependency, true
}

func setRateLimitHeaders(w http.ResponseWriter, decision core.Decision, now time.Time) {
	header := w.Header()
	header.Set("RateLimit-Remaining", strconv.FormatInt(decision.Remaining, 10))
	header.Set("RateLimit-Reset", strconv.FormatInt(ceilSeconds(decision.ResetAt.Sub(now)), 10))
	if !decision.Allowed {
		retry := ceilSeconds(decision.RetryAfter)
		if retry < 1 {
			retry = 1
		}
		header.Set("Retry-After", strconv.FormatInt(retry, 10))
	}
}

func ceilSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64(math.Ceil(d.Seconds()))
}

func (t *HTTPTransport) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	if r.Body == nil {
		return core.ErrInvalidInput
	}
	maxBytes := t.maxBodyBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxBodyBytes
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return core.ErrInvalidInput
	}
	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return core.ErrInvalidInput
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (t *HTTPTransport) writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	if t != nil {
		t.logRequestError(r, status, err)
	}
	writeJSON(w, status, httpErrorResponse{Error: err.Error(), Code: string(core.CodeOf(err))})
}

func (t *HTTPTransport) writeAdminError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusForCode(core.CodeOf(err))
	t.writeError(w, r, status, err)
}

func statusForCode(code core.ErrorCode) int {
	switch code {
	case core.CodeInvalidInput, core.CodeInvalidConfig:
		return http.StatusBadRequest
	case core.CodeNotFound:
		return http.StatusNotFound
	case core.CodeUnauthorized:
		return http.StatusUnauthorized
	case core.CodeStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (t *HTTPTransport) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !t.authorizeAdmin(w, r) {
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (t *HTTPTransport) authorizeAdmin(w http.ResponseWriter, r *http.Request) bool {
	if t == nil || !t.enableAuth {
		return true
	}
	expected := "Bearer " + t.adminToken
	if subtle.ConstantTimeCompare([]byte(r.Header.Get("Authorization")), []byte(expected)) != 1 {
		t.writeError(w, r, http.StatusUnauthorized, core.Wrap(core.CodeUnauthorized, "unauthorized", nil))
		return false
	}
	return true
}

func (t *HTTPTransport) logRequestError(r *http.Request, status int, err error) {
	if t == nil || t.logger == nil || r == nil || err == nil {
		return
	}
	fields := map[string]any{
		"method": r.Method,
		"path":   r.URL.Path,
		"status": status,
		"error":  err.Error(),
	}
	if status >= http.StatusInternalServerError {
		t.logger.Error("http request error", fields)
		return
	}
	t.logger.Info("http request error", fields)
}
