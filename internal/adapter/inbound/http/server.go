package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/yaml.v3"

	"github.com/rulegate/rulegate/internal/config"
	"github.com/rulegate/rulegate/internal/domain/decision"
	"github.com/rulegate/rulegate/internal/domain/rule"
	"github.com/rulegate/rulegate/internal/service"
)

// shutdownTimeout bounds graceful server shutdown.
const shutdownTimeout = 5 * time.Second

// Server exposes the rule service over a local HTTP API:
// rule CRUD, text parsing, tool-call checks, prompt rendering, and metrics.
type Server struct {
	svc      *service.RuleService
	cfg      *config.Config
	logger   *slog.Logger
	metrics  *Metrics
	registry *prometheus.Registry
	server   *http.Server
}

// NewServer creates a Server with its own Prometheus registry.
func NewServer(svc *service.RuleService, cfg *config.Config, logger *slog.Logger) *Server {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &Server{
		svc:      svc,
		cfg:      cfg,
		logger:   logger,
		metrics:  NewMetrics(registry),
		registry: registry,
	}
}

// Metrics returns the server's metrics, for components that record directly.
func (s *Server) Metrics() *Metrics { return s.metrics }

// Handler returns the full route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.health)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	mux.HandleFunc("GET /api/rules", s.instrument("rules_list", s.requireLocal(s.listRules)))
	mux.HandleFunc("POST /api/rules", s.instrument("rules_create", s.requireLocal(s.createRule)))
	mux.HandleFunc("POST /api/rules/text", s.instrument("rules_from_text", s.requireLocal(s.createRuleFromText)))
	mux.HandleFunc("GET /api/rules/{id}", s.instrument("rules_get", s.requireLocal(s.getRule)))
	mux.HandleFunc("PATCH /api/rules/{id}", s.instrument("rules_toggle", s.requireLocal(s.toggleRule)))
	mux.HandleFunc("DELETE /api/rules/{id}", s.instrument("rules_delete", s.requireLocal(s.deleteRule)))

	mux.HandleFunc("POST /api/parse", s.instrument("parse", s.requireLocal(s.parsePreview)))
	mux.HandleFunc("POST /api/check", s.instrument("check", s.requireLocal(s.checkToolCall)))
	mux.HandleFunc("GET /api/prompt", s.instrument("prompt", s.requireLocal(s.promptInstructions)))
	mux.HandleFunc("GET /api/decisions", s.instrument("decisions", s.requireLocal(s.recentDecisions)))
	mux.HandleFunc("GET /api/config", s.instrument("config", s.requireLocal(s.exportConfig)))

	return mux
}

// Start runs the HTTP server until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.cfg.Server.HTTPAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.cfg.Server.HTTPAddr)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return <-errCh
	case err := <-errCh:
		return err
	}
}

// statusRecorder captures the response status for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument wraps a handler with request count and duration metrics.
func (s *Server) instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		s.metrics.RequestsTotal.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		s.metrics.RequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

// requireLocal restricts the rules API to localhost. Remote access goes
// through an SSH tunnel; there is no remote auth in this deployment model.
func (s *Server) requireLocal(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if isLocalhost(r) {
			next(w, r)
			return
		}
		http.Error(w, `{"error":"rules API requires localhost access"}`, http.StatusForbidden)
	}
}

// isLocalhost reports whether the request originates from the loopback
// interface.
func isLocalhost(r *http.Request) bool {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// listRules returns rules, optionally filtered by ?scope= and ?enabled_only=.
func (s *Server) listRules(w http.ResponseWriter, r *http.Request) {
	var scope *rule.Scope
	if raw := r.URL.Query().Get("scope"); raw != "" {
		sc, err := rule.ParseScope(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		scope = &sc
	}
	enabledOnly := r.URL.Query().Get("enabled_only") == "true"

	rules := s.svc.List(scope, enabledOnly)
	s.metrics.RulesLoaded.Set(float64(len(s.svc.List(nil, false))))
	writeJSON(w, http.StatusOK, map[string]any{"rules": rules})
}

// createRule persists a directly constructed rule.
func (s *Server) createRule(w http.ResponseWriter, r *http.Request) {
	var req rule.Rule
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	stored, err := s.svc.AddRule(req)
	if err != nil {
		if err == rule.ErrEmptyRuleID {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("failed to add rule", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, stored)
}

// textRequest is the JSON request for compiling user text into a rule.
type textRequest struct {
	Text  string `json:"text"`
	Scope string `json:"scope"`
}

func (s *Server) decodeTextRequest(w http.ResponseWriter, r *http.Request) (string, rule.Scope, bool) {
	var req textRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return "", "", false
	}
	scope := rule.ScopeGlobal
	if req.Scope != "" {
		sc, err := rule.ParseScope(req.Scope)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return "", "", false
		}
		scope = sc
	}
	return req.Text, scope, true
}

// createRuleFromText compiles user text into a rule and persists it.
// Unmatched text is a normal 200 outcome with parsed=false.
func (s *Server) createRuleFromText(w http.ResponseWriter, r *http.Request) {
	text, scope, ok := s.decodeTextRequest(w, r)
	if !ok {
		return
	}

	res, matched, err := s.svc.AddFromText(text, scope)
	if err != nil {
		s.logger.Error("failed to add rule from text", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !matched {
		s.metrics.ParsesTotal.WithLabelValues("unmatched").Inc()
		writeJSON(w, http.StatusOK, map[string]any{"parsed": false})
		return
	}
	s.metrics.ParsesTotal.WithLabelValues("matched").Inc()
	writeJSON(w, http.StatusCreated, map[string]any{"parsed": true, "result": res})
}

// parsePreview compiles text without persisting, so callers can show the
// user what a rule would do before saving it.
func (s *Server) parsePreview(w http.ResponseWriter, r *http.Request) {
	text, scope, ok := s.decodeTextRequest(w, r)
	if !ok {
		return
	}

	res, matched := service.ParsePreview(text, scope)
	if !matched {
		s.metrics.ParsesTotal.WithLabelValues("unmatched").Inc()
		writeJSON(w, http.StatusOK, map[string]any{"parsed": false})
		return
	}
	s.metrics.ParsesTotal.WithLabelValues("matched").Inc()
	writeJSON(w, http.StatusOK, map[string]any{"parsed": true, "result": res})
}

func (s *Server) getRule(w http.ResponseWriter, r *http.Request) {
	ru, ok := s.svc.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "rule not found")
		return
	}
	writeJSON(w, http.StatusOK, ru)
}

// toggleRule enables or disables a rule.
func (s *Server) toggleRule(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Enabled == nil {
		writeError(w, http.StatusBadRequest, "body must be {\"enabled\": true|false}")
		return
	}

	ok, err := s.svc.SetEnabled(r.PathValue("id"), *req.Enabled)
	if err != nil {
		s.logger.Error("failed to toggle rule", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "rule not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) deleteRule(w http.ResponseWriter, r *http.Request) {
	ok, err := s.svc.Delete(r.PathValue("id"))
	if err != nil {
		s.logger.Error("failed to delete rule", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "rule not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// checkRequest is the JSON request for gating one tool call.
type checkRequest struct {
	Scope string         `json:"scope"`
	Tool  string         `json:"tool"`
	Args  map[string]any `json:"args"`
}

// checkToolCall gates one tool invocation and returns the decision.
func (s *Server) checkToolCall(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Tool == "" {
		writeError(w, http.StatusBadRequest, "tool is required")
		return
	}

	scope := rule.ScopeGlobal
	if req.Scope != "" {
		sc, err := rule.ParseScope(req.Scope)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		scope = sc
	}

	decision := s.svc.CheckToolCall(scope, req.Tool, req.Args)
	s.metrics.DecisionsTotal.WithLabelValues(service.DecisionOutcome(decision)).Inc()
	writeJSON(w, http.StatusOK, decision)
}

// promptInstructions renders the soft-preference prompt block for a scope.
func (s *Server) promptInstructions(w http.ResponseWriter, r *http.Request) {
	scope := rule.ScopeGlobal
	if raw := r.URL.Query().Get("scope"); raw != "" {
		sc, err := rule.ParseScope(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		scope = sc
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"prompt_instructions": s.svc.PromptInstructions(scope),
	})
}

// recentDecisions returns the newest logged gate verdicts,
// bounded by ?limit= (default 100).
func (s *Server) recentDecisions(w http.ResponseWriter, r *http.Request) {
	if !s.svc.DecisionLogEnabled() {
		writeError(w, http.StatusNotFound, "decision log is not enabled")
		return
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	records := s.svc.RecentDecisions(limit)
	if records == nil {
		records = []decision.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"decisions": records})
}

// exportConfig returns the running configuration as YAML.
func (s *Server) exportConfig(w http.ResponseWriter, r *http.Request) {
	data, err := yaml.Marshal(s.cfg)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to marshal config")
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	_, _ = w.Write(data)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
