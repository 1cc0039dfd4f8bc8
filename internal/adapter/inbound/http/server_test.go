package http

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	dto "github.com/prometheus/client_model/go"
	"go.uber.org/goleak"
	"gopkg.in/yaml.v3"

	"github.com/rulegate/rulegate/internal/adapter/outbound/audit"
	"github.com/rulegate/rulegate/internal/adapter/outbound/memory"
	"github.com/rulegate/rulegate/internal/config"
	"github.com/rulegate/rulegate/internal/domain/decision"
	"github.com/rulegate/rulegate/internal/domain/rule"
	"github.com/rulegate/rulegate/internal/service"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	svc, err := service.NewRuleService(memory.NewRuleStore(), testLogger())
	if err != nil {
		t.Fatalf("NewRuleService: %v", err)
	}
	cfg := &config.Config{}
	cfg.ApplyDefaults()
	return NewServer(svc, cfg, testLogger())
}

// doJSON performs a request with a JSON body against the server's handler.
// RemoteAddr defaults to loopback so requireLocal admits it.
func doJSON(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = "127.0.0.1:54321"
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Health and access control
// ---------------------------------------------------------------------------

func TestHealth(t *testing.T) {
	srv := newTestServer(t)
	rec := doJSON(t, srv, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]string
	decodeBody(t, rec, &body)
	if body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
}

func TestRequireLocal_RejectsRemote(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/rules", nil)
	req.RemoteAddr = "203.0.113.9:44321"
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
}

func TestIsLocalhost(t *testing.T) {
	tests := []struct {
		addr string
		want bool
	}{
		{"127.0.0.1:1234", true},
		{"[::1]:1234", true},
		{"localhost:1234", true},
		{"192.168.1.10:1234", false},
		{"203.0.113.9:44321", false},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.RemoteAddr = tt.addr
		if got := isLocalhost(r); got != tt.want {
			t.Errorf("isLocalhost(%q) = %v, want %v", tt.addr, got, tt.want)
		}
	}
}

// ---------------------------------------------------------------------------
// Rule CRUD
// ---------------------------------------------------------------------------

func TestCreateAndGetRule(t *testing.T) {
	srv := newTestServer(t)

	r := rule.Rule{
		ID: "rule_http1", Enabled: true, Scope: rule.ScopeGlobal,
		RawText: "never send emails",
		Actions: []rule.Action{{
			Type:    rule.ActionBlockTool,
			Payload: map[string]any{"tools": []string{"gmail_execute_draft"}},
		}},
	}

	rec := doJSON(t, srv, http.MethodPost, "/api/rules", r)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", rec.Code, rec.Body.String())
	}
	var created rule.Rule
	decodeBody(t, rec, &created)
	if created.CreatedAt == "" {
		t.Error("expected CreatedAt stamped")
	}

	rec = doJSON(t, srv, http.MethodGet, "/api/rules/rule_http1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}

	rec = doJSON(t, srv, http.MethodGet, "/api/rules/rule_missing", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("get missing status = %d", rec.Code)
	}
}

func TestCreateRule_Invalid(t *testing.T) {
	srv := newTestServer(t)

	// No id.
	rec := doJSON(t, srv, http.MethodPost, "/api/rules", rule.Rule{Scope: rule.ScopeGlobal})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty id status = %d", rec.Code)
	}

	// Malformed body.
	req := httptest.NewRequest(http.MethodPost, "/api/rules", strings.NewReader("{nope"))
	req.RemoteAddr = "127.0.0.1:1"
	rec2 := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec2, req)
	if rec2.Code != http.StatusBadRequest {
		t.Errorf("bad json status = %d", rec2.Code)
	}
}

func TestListRules_Filters(t *testing.T) {
	srv := newTestServer(t)

	for _, r := range []rule.Rule{
		{ID: "rule_a", Enabled: true, Scope: rule.ScopeGlobal, RawText: "a"},
		{ID: "rule_b", Enabled: false, Scope: rule.ScopeChat, RawText: "b"},
	} {
		if rec := doJSON(t, srv, http.MethodPost, "/api/rules", r); rec.Code != http.StatusCreated {
			t.Fatalf("seed create status = %d", rec.Code)
		}
	}

	var body struct {
		Rules []rule.Rule `json:"rules"`
	}

	rec := doJSON(t, srv, http.MethodGet, "/api/rules", nil)
	decodeBody(t, rec, &body)
	if len(body.Rules) != 2 {
		t.Fatalf("expected 2 rules, got %d", len(body.Rules))
	}

	rec = doJSON(t, srv, http.MethodGet, "/api/rules?scope=chat&enabled_only=true", nil)
	decodeBody(t, rec, &body)
	if len(body.Rules) != 0 {
		t.Errorf("expected 0 enabled chat rules, got %d", len(body.Rules))
	}

	rec = doJSON(t, srv, http.MethodGet, "/api/rules?scope=bogus", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bogus scope status = %d", rec.Code)
	}
}

func TestToggleAndDeleteRule(t *testing.T) {
	srv := newTestServer(t)

	seed := rule.Rule{ID: "rule_t", Enabled: true, Scope: rule.ScopeGlobal, RawText: "x"}
	if rec := doJSON(t, srv, http.MethodPost, "/api/rules", seed); rec.Code != http.StatusCreated {
		t.Fatalf("seed status = %d", rec.Code)
	}

	rec := doJSON(t, srv, http.MethodPatch, "/api/rules/rule_t", map[string]bool{"enabled": false})
	if rec.Code != http.StatusOK {
		t.Fatalf("toggle status = %d", rec.Code)
	}

	// Missing enabled field.
	rec = doJSON(t, srv, http.MethodPatch, "/api/rules/rule_t", map[string]string{"nope": "x"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("toggle without enabled status = %d", rec.Code)
	}

	rec = doJSON(t, srv, http.MethodPatch, "/api/rules/rule_missing", map[string]bool{"enabled": true})
	if rec.Code != http.StatusNotFound {
		t.Errorf("toggle missing status = %d", rec.Code)
	}

	rec = doJSON(t, srv, http.MethodDelete, "/api/rules/rule_t", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}
	rec = doJSON(t, srv, http.MethodDelete, "/api/rules/rule_t", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("repeat delete status = %d", rec.Code)
	}
}

// ---------------------------------------------------------------------------
// Text parsing endpoints
// ---------------------------------------------------------------------------

func TestCreateRuleFromText(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/rules/text",
		map[string]string{"text": "never send emails", "scope": "email"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Parsed bool `json:"parsed"`
		Result struct {
			Rule rule.Rule `json:"rule"`
		} `json:"result"`
	}
	decodeBody(t, rec, &body)
	if !body.Parsed {
		t.Fatal("expected parsed=true")
	}
	if body.Result.Rule.Scope != rule.ScopeEmail {
		t.Errorf("Scope = %q", body.Result.Rule.Scope)
	}

	// Non-rule text: 200 with parsed=false, nothing stored.
	rec = doJSON(t, srv, http.MethodPost, "/api/rules/text",
		map[string]string{"text": "what is the weather"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var miss struct {
		Parsed bool `json:"parsed"`
	}
	decodeBody(t, rec, &miss)
	if miss.Parsed {
		t.Error("expected parsed=false")
	}
}

func TestParsePreview_DoesNotPersist(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/parse",
		map[string]string{"text": "always be concise"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Parsed bool `json:"parsed"`
	}
	decodeBody(t, rec, &body)
	if !body.Parsed {
		t.Fatal("expected parsed=true")
	}

	var list struct {
		Rules []rule.Rule `json:"rules"`
	}
	rec = doJSON(t, srv, http.MethodGet, "/api/rules", nil)
	decodeBody(t, rec, &list)
	if len(list.Rules) != 0 {
		t.Errorf("preview must not persist, got %d rules", len(list.Rules))
	}
}

// ---------------------------------------------------------------------------
// Check and prompt endpoints
// ---------------------------------------------------------------------------

func TestCheckToolCall(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/rules/text",
		map[string]string{"text": "never send emails"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("seed status = %d", rec.Code)
	}

	rec = doJSON(t, srv, http.MethodPost, "/api/check",
		map[string]any{"scope": "email", "tool": "gmail_execute_draft"})
	if rec.Code != http.StatusOK {
		t.Fatalf("check status = %d", rec.Code)
	}
	var d rule.ToolDecision
	decodeBody(t, rec, &d)
	if d.Allowed {
		t.Errorf("expected block, got %+v", d)
	}

	// Missing tool name.
	rec = doJSON(t, srv, http.MethodPost, "/api/check", map[string]any{"scope": "email"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing tool status = %d", rec.Code)
	}

	// Decision metric recorded with outcome label.
	mf, err := srv.registry.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if got := counterValue(mf, "rulegate_tool_decisions_total", "outcome", "block"); got != 1 {
		t.Errorf("tool_decisions_total{outcome=block} = %v, want 1", got)
	}
}

func TestPromptInstructions(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/rules/text",
		map[string]string{"text": "always be concise"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("seed status = %d", rec.Code)
	}

	rec = doJSON(t, srv, http.MethodGet, "/api/prompt?scope=chat", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]string
	decodeBody(t, rec, &body)
	want := "USER RULES (must follow):\n- Be concise.\n"
	if body["prompt_instructions"] != want {
		t.Errorf("prompt_instructions = %q, want %q", body["prompt_instructions"], want)
	}

	rec = doJSON(t, srv, http.MethodGet, "/api/prompt?scope=bogus", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bogus scope status = %d", rec.Code)
	}
}

// ---------------------------------------------------------------------------
// Decision log endpoint
// ---------------------------------------------------------------------------

func TestRecentDecisions_DisabledReturns404(t *testing.T) {
	srv := newTestServer(t)
	rec := doJSON(t, srv, http.MethodGet, "/api/decisions", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 without a decision log", rec.Code)
	}
}

func TestRecentDecisions(t *testing.T) {
	declog, err := audit.NewFileLog(audit.FileLogConfig{Dir: t.TempDir()}, testLogger())
	if err != nil {
		t.Fatalf("NewFileLog: %v", err)
	}
	defer declog.Close()

	svc, err := service.NewRuleService(memory.NewRuleStore(), testLogger(),
		service.WithDecisionLog(declog))
	if err != nil {
		t.Fatalf("NewRuleService: %v", err)
	}
	cfg := &config.Config{}
	cfg.ApplyDefaults()
	srv := NewServer(svc, cfg, testLogger())

	rec := doJSON(t, srv, http.MethodPost, "/api/check",
		map[string]any{"tool": "gmail_execute_draft"})
	if rec.Code != http.StatusOK {
		t.Fatalf("check status = %d", rec.Code)
	}

	rec = doJSON(t, srv, http.MethodGet, "/api/decisions?limit=5", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("decisions status = %d", rec.Code)
	}
	var body struct {
		Decisions []decision.Record `json:"decisions"`
	}
	decodeBody(t, rec, &body)
	if len(body.Decisions) != 1 {
		t.Fatalf("expected 1 decision, got %d", len(body.Decisions))
	}
	if body.Decisions[0].Tool != "gmail_execute_draft" || body.Decisions[0].Outcome != "allow" {
		t.Errorf("decision = %+v", body.Decisions[0])
	}

	rec = doJSON(t, srv, http.MethodGet, "/api/decisions?limit=zero", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d", rec.Code)
	}
}

// ---------------------------------------------------------------------------
// Config export and metrics
// ---------------------------------------------------------------------------

func TestExportConfig_YAML(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/api/config", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/yaml" {
		t.Errorf("Content-Type = %q", ct)
	}

	var cfg config.Config
	if err := yaml.Unmarshal(rec.Body.Bytes(), &cfg); err != nil {
		t.Fatalf("response is not valid YAML: %v", err)
	}
	if cfg.Server.HTTPAddr != config.DefaultHTTPAddr {
		t.Errorf("HTTPAddr = %q", cfg.Server.HTTPAddr)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t)

	// Generate one instrumented request first.
	if rec := doJSON(t, srv, http.MethodGet, "/api/rules", nil); rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}

	rec := doJSON(t, srv, http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", rec.Code)
	}
	out := rec.Body.String()
	if !strings.Contains(out, "rulegate_requests_total") {
		t.Error("expected rulegate_requests_total in metrics exposition")
	}
	if !strings.Contains(out, `route="rules_list"`) {
		t.Error("expected rules_list route label in metrics exposition")
	}
}

// counterValue extracts a counter value by metric name and one label pair.
func counterValue(families []*dto.MetricFamily, name, labelName, labelValue string) float64 {
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == labelName && lp.GetValue() == labelValue {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}
