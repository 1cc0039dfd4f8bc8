package rule

import (
	"errors"
	"strings"
	"testing"
)

func blockRule(id string, scope Scope, tool, reason string) Rule {
	payload := map[string]any{"tools": []string{tool}}
	if reason != "" {
		payload["reason"] = reason
	}
	return Rule{
		ID: id, Enabled: true, Scope: scope,
		Actions: []Action{{Type: ActionBlockTool, Payload: payload}},
	}
}

func confirmRule(id string, scope Scope, tool, reason string) Rule {
	payload := map[string]any{"tools": []string{tool}}
	if reason != "" {
		payload["reason"] = reason
	}
	return Rule{
		ID: id, Enabled: true, Scope: scope,
		Actions: []Action{{Type: ActionConfirmTool, Payload: payload}},
	}
}

func promptRule(id string, scope Scope, text string) Rule {
	return Rule{
		ID: id, Enabled: true, Scope: scope,
		Actions: []Action{{Type: ActionPromptInject, Payload: map[string]any{"text": text}}},
	}
}

// ---------------------------------------------------------------------------
// FilterRulesForScope tests
// ---------------------------------------------------------------------------

func TestFilterRulesForScope_GlobalAppliesEverywhere(t *testing.T) {
	rules := []Rule{
		promptRule("r1", ScopeGlobal, "Be concise."),
		promptRule("r2", ScopeChat, "No emoji."),
		promptRule("r3", ScopeEmail, "Plain text only."),
	}

	for _, scope := range []Scope{ScopeGlobal, ScopeChat, ScopeEmail} {
		got := FilterRulesForScope(rules, scope)
		found := false
		for _, r := range got {
			if r.ID == "r1" {
				found = true
			}
		}
		if !found {
			t.Errorf("global rule missing for scope %q", scope)
		}
	}

	chat := FilterRulesForScope(rules, ScopeChat)
	if len(chat) != 2 {
		t.Fatalf("expected 2 rules for chat scope, got %d", len(chat))
	}
	if chat[0].ID != "r1" || chat[1].ID != "r2" {
		t.Errorf("expected input order preserved, got %s, %s", chat[0].ID, chat[1].ID)
	}
}

func TestFilterRulesForScope_SkipsDisabled(t *testing.T) {
	r := promptRule("r1", ScopeGlobal, "Be concise.")
	r.Enabled = false

	got := FilterRulesForScope([]Rule{r}, ScopeChat)
	if len(got) != 0 {
		t.Errorf("expected disabled rule to be filtered, got %d rules", len(got))
	}
}

// ---------------------------------------------------------------------------
// BuildPromptInstructions tests
// ---------------------------------------------------------------------------

func TestBuildPromptInstructions_RendersHeaderAndLines(t *testing.T) {
	rules := []Rule{
		promptRule("r1", ScopeGlobal, "Be concise."),
		promptRule("r2", ScopeGlobal, "Do not use emoji."),
	}

	got := BuildPromptInstructions(rules, ScopeChat)
	want := "USER RULES (must follow):\n- Be concise.\n- Do not use emoji.\n"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestBuildPromptInstructions_EmptyWhenNoRules(t *testing.T) {
	if got := BuildPromptInstructions(nil, ScopeChat); got != "" {
		t.Errorf("expected empty string, got %q", got)
	}

	// Gating-only rules contribute nothing to the prompt.
	rules := []Rule{blockRule("r1", ScopeGlobal, "gmail_execute_draft", "")}
	rules[0].RawText = "never send emails"
	if got := BuildPromptInstructions(rules, ScopeEmail); got != "" {
		t.Errorf("expected empty string for gating-only rules, got %q", got)
	}
}

func TestBuildPromptInstructions_RawTextFallback(t *testing.T) {
	// A rule without a prompt_inject action and without gates falls back to
	// its raw text.
	r := Rule{ID: "r1", Enabled: true, Scope: ScopeGlobal, RawText: "reply in formal tone"}
	got := BuildPromptInstructions([]Rule{r}, ScopeChat)
	want := "USER RULES (must follow):\n- reply in formal tone\n"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}

	// Overlong raw text is excluded.
	long := Rule{ID: "r2", Enabled: true, Scope: ScopeGlobal, RawText: strings.Repeat("x", 201)}
	if got := BuildPromptInstructions([]Rule{long}, ScopeChat); got != "" {
		t.Errorf("expected overlong raw text to be excluded, got %q", got)
	}
}

func TestBuildPromptInstructions_InjectSuppressesFallback(t *testing.T) {
	r := promptRule("r1", ScopeGlobal, "Be concise.")
	r.RawText = "be concise"

	got := BuildPromptInstructions([]Rule{r}, ScopeChat)
	if strings.Count(got, "concise") != 1 {
		t.Errorf("expected exactly one line for the rule, got %q", got)
	}
}

// ---------------------------------------------------------------------------
// CollectEffectiveRules tests
// ---------------------------------------------------------------------------

func TestCollectEffectiveRules_GateMaps(t *testing.T) {
	rules := []Rule{
		blockRule("r1", ScopeGlobal, "gmail_execute_draft", "no sending"),
		confirmRule("r2", ScopeGlobal, "gmail_forward_email", ""),
	}
	rules[1].RawText = "confirm before forwarding"

	ctx := CollectEffectiveRules(rules, ScopeEmail)

	if !ctx.Blocked("gmail_execute_draft") {
		t.Error("expected gmail_execute_draft to be blocked")
	}
	if ctx.BlockedReasons["gmail_execute_draft"] != "no sending" {
		t.Errorf("BlockedReasons = %q", ctx.BlockedReasons["gmail_execute_draft"])
	}
	if !ctx.NeedsConfirm("gmail_forward_email") {
		t.Error("expected gmail_forward_email to need confirmation")
	}
	// Reason falls back to the rule's raw text when the payload has none.
	if ctx.ConfirmReasons["gmail_forward_email"] != "confirm before forwarding" {
		t.Errorf("ConfirmReasons = %q", ctx.ConfirmReasons["gmail_forward_email"])
	}
}

func TestCollectEffectiveRules_FirstRuleWinsReason(t *testing.T) {
	rules := []Rule{
		blockRule("r1", ScopeGlobal, "gmail_execute_draft", "first"),
		blockRule("r2", ScopeGlobal, "gmail_execute_draft", "second"),
	}

	ctx := CollectEffectiveRules(rules, ScopeEmail)
	if got := ctx.BlockedReasons["gmail_execute_draft"]; got != "first" {
		t.Errorf("expected earliest rule's reason to win, got %q", got)
	}
}

func TestCollectEffectiveRules_DefaultReason(t *testing.T) {
	r := blockRule("r1", ScopeGlobal, "gmail_execute_draft", "")
	ctx := CollectEffectiveRules([]Rule{r}, ScopeEmail)
	if got := ctx.BlockedReasons["gmail_execute_draft"]; got != "Blocked by user rule." {
		t.Errorf("expected default reason, got %q", got)
	}
}

func TestCollectEffectiveRules_ScopeIsolation(t *testing.T) {
	rules := []Rule{blockRule("r1", ScopeEmail, "gmail_execute_draft", "no sending")}

	if ctx := CollectEffectiveRules(rules, ScopeChat); ctx.Blocked("gmail_execute_draft") {
		t.Error("email-scoped rule must not apply to chat")
	}
	if ctx := CollectEffectiveRules(rules, ScopeEmail); !ctx.Blocked("gmail_execute_draft") {
		t.Error("email-scoped rule must apply to email")
	}
}

// ---------------------------------------------------------------------------
// Decide / CheckToolCall tests
// ---------------------------------------------------------------------------

func TestCheckToolCall_BlockDominatesConfirm(t *testing.T) {
	rules := []Rule{
		confirmRule("r1", ScopeGlobal, "gmail_execute_draft", "ask"),
		blockRule("r2", ScopeGlobal, "gmail_execute_draft", "no sending"),
	}

	// Confirmation in the args must not override a block.
	d := CheckToolCall(rules, ScopeEmail, "gmail_execute_draft", map[string]any{"confirmed": true})
	if d.Allowed {
		t.Fatal("expected block to dominate confirm")
	}
	if d.RequiresConfirmation {
		t.Error("blocked decision must not require confirmation")
	}
	if d.BlockReason != "no sending" {
		t.Errorf("BlockReason = %q", d.BlockReason)
	}
}

func TestCheckToolCall_ConfirmFlow(t *testing.T) {
	rules := []Rule{confirmRule("r1", ScopeGlobal, "gmail_execute_draft", "")}

	// Without confirmation: gated.
	d := CheckToolCall(rules, ScopeEmail, "gmail_execute_draft", nil)
	if !d.Allowed || !d.RequiresConfirmation {
		t.Fatalf("expected confirm decision, got %+v", d)
	}
	if d.ConfirmReason != "This action requires confirmation by user rule." {
		t.Errorf("ConfirmReason = %q", d.ConfirmReason)
	}

	// With confirmation: clean allow, no residual gating.
	d = CheckToolCall(rules, ScopeEmail, "gmail_execute_draft", map[string]any{"confirmed": true})
	if !d.Allowed || d.RequiresConfirmation {
		t.Fatalf("expected allow after confirmation, got %+v", d)
	}
}

func TestCheckToolCall_UnmatchedToolAllowed(t *testing.T) {
	rules := []Rule{blockRule("r1", ScopeGlobal, "gmail_execute_draft", "no sending")}

	d := CheckToolCall(rules, ScopeEmail, "gmail_create_draft", nil)
	if !d.Allowed || d.RequiresConfirmation || d.BlockReason != "" {
		t.Errorf("expected clean allow, got %+v", d)
	}
}

func TestCheckToolCall_NilArgs(t *testing.T) {
	d := CheckToolCall(nil, ScopeChat, "anything", nil)
	if !d.Allowed {
		t.Errorf("expected allow with no rules, got %+v", d)
	}
}

// ---------------------------------------------------------------------------
// Conditional gate tests
// ---------------------------------------------------------------------------

type stubEvaluator struct {
	result bool
	err    error
	calls  []string
}

func (s *stubEvaluator) EvalCondition(expr string, args map[string]any) (bool, error) {
	s.calls = append(s.calls, expr)
	return s.result, s.err
}

func TestDecide_ConditionGatesBlock(t *testing.T) {
	r := blockRule("r1", ScopeGlobal, "gmail_execute_draft", "no sending")
	r.Actions[0].Payload["when"] = `args.to == "boss@corp.com"`
	ctx := CollectEffectiveRules([]Rule{r}, ScopeEmail)

	eval := &stubEvaluator{result: false}
	d := ctx.Decide("gmail_execute_draft", map[string]any{"to": "friend@x.com"}, eval)
	if !d.Allowed {
		t.Errorf("expected allow when condition is false, got %+v", d)
	}
	if len(eval.calls) != 1 {
		t.Fatalf("expected 1 condition evaluation, got %d", len(eval.calls))
	}

	eval.result = true
	d = ctx.Decide("gmail_execute_draft", map[string]any{"to": "boss@corp.com"}, eval)
	if d.Allowed {
		t.Errorf("expected block when condition holds, got %+v", d)
	}
}

func TestDecide_ConditionErrorFailureModes(t *testing.T) {
	evalErr := &stubEvaluator{err: errors.New("bad expr")}

	// Block gates fail closed on evaluation errors.
	blocked := blockRule("r1", ScopeGlobal, "gmail_execute_draft", "no sending")
	blocked.Actions[0].Payload["when"] = "args.nope"
	ctx := CollectEffectiveRules([]Rule{blocked}, ScopeEmail)
	if d := ctx.Decide("gmail_execute_draft", nil, evalErr); d.Allowed {
		t.Errorf("block gate must fail closed, got %+v", d)
	}

	// Confirm gates fail open.
	confirm := confirmRule("r2", ScopeGlobal, "gmail_forward_email", "ask")
	confirm.Actions[0].Payload["when"] = "args.nope"
	ctx = CollectEffectiveRules([]Rule{confirm}, ScopeEmail)
	if d := ctx.Decide("gmail_forward_email", nil, evalErr); d.RequiresConfirmation {
		t.Errorf("confirm gate must fail open, got %+v", d)
	}
}

func TestDecide_NilEvaluatorIgnoresConditions(t *testing.T) {
	r := blockRule("r1", ScopeGlobal, "gmail_execute_draft", "no sending")
	r.Actions[0].Payload["when"] = "args.x > 1"
	ctx := CollectEffectiveRules([]Rule{r}, ScopeEmail)

	if d := ctx.Decide("gmail_execute_draft", nil, nil); d.Allowed {
		t.Errorf("conditions are unconditional without an evaluator, got %+v", d)
	}
}
