package parser

import (
	"sort"

	"github.com/rulegate/rulegate/internal/domain/rule"
)

// Canonical tool names from the gmail tools registry.
const (
	ToolExecuteDraft = "gmail_execute_draft"
	ToolForwardEmail = "gmail_forward_email"
	ToolDeleteDraft  = "gmail_delete_draft"
	ToolCreateDraft  = "gmail_create_draft"
)

// Tool sets targeted by the gate templates. Kept as slices sorted at build
// time so action payloads are deterministic.
var (
	sendTools    = []string{ToolExecuteDraft}
	forwardTools = []string{ToolForwardEmail}
	deleteTools  = []string{ToolDeleteDraft}
)

// template is one (predicate, builder) pair of the compiler. Templates are
// evaluated in declaration order; the first match wins and parsing stops.
type template struct {
	name  string
	match func(t string, in intents) bool
	build func(raw string, scope rule.Scope, in intents) rule.ParseResult
}

// templates is the fixed v1 rule table, in priority order:
// soft prompt preferences first, then tool gates.
var templates = []template{
	{
		name: "prompt-concise",
		match: func(t string, in intents) bool {
			return containsAny(t, "be concise", "concise") && !in.mentionsAnyTool()
		},
		build: func(raw string, scope rule.Scope, in intents) rule.ParseResult {
			return promptResult(raw, scope, "Be concise.",
				"I'll add a rule to be concise in responses.")
		},
	},
	{
		name: "prompt-no-emoji",
		match: func(t string, in intents) bool {
			return containsAny(t, "no emoji", "no emojis", "avoid emoji", "avoid emojis") &&
				!in.mentionsAnyTool()
		},
		build: func(raw string, scope rule.Scope, in intents) rule.ParseResult {
			return promptResult(raw, scope, "Do not use emojis.",
				"I'll add a rule to avoid emojis.")
		},
	},
	{
		name: "block-send",
		match: func(t string, in intents) bool {
			return in.mentionsSend && in.isNever && !in.wantsConfirm && !in.wantsDraftFirst
		},
		build: func(raw string, scope rule.Scope, in intents) rule.ParseResult {
			return gateResult(raw, scope, rule.ActionBlockTool, sendTools,
				"User rule: never send emails automatically.",
				"I'll block sending emails.", 0.95)
		},
	},
	{
		name: "block-forward",
		match: func(t string, in intents) bool {
			return in.mentionsForward && in.isNever
		},
		build: func(raw string, scope rule.Scope, in intents) rule.ParseResult {
			return gateResult(raw, scope, rule.ActionBlockTool, forwardTools,
				"User rule: never forward emails.",
				"I'll block forwarding emails.", 0.95)
		},
	},
	{
		// The original also computed an affirmative-intent predicate here
		// ("always ...") that could enter the branch but never emit a rule.
		// Matching directly on the confirmation/draft-preview keywords keeps
		// the effective behavior: bare affirmative phrasing yields nothing.
		name: "confirm-send",
		match: func(t string, in intents) bool {
			return in.mentionsSend && (in.wantsConfirm || in.wantsDraftFirst)
		},
		build: func(raw string, scope rule.Scope, in intents) rule.ParseResult {
			reason := "User rule: require confirmation before sending emails."
			if in.wantsDraftFirst {
				reason = "User rule: show a draft and require confirmation before sending emails."
			}
			return gateResult(raw, scope, rule.ActionConfirmTool, sendTools,
				reason, "I'll require confirmation before sending emails.", 0.9)
		},
	},
	{
		name: "block-delete-draft",
		match: func(t string, in intents) bool {
			return in.mentionsDelete && in.isNever
		},
		build: func(raw string, scope rule.Scope, in intents) rule.ParseResult {
			return gateResult(raw, scope, rule.ActionBlockTool, deleteTools,
				"User rule: never delete drafts.",
				"I'll block deleting drafts.", 0.9)
		},
	},
}

// promptResult builds a ParseResult for a soft prompt-preference template.
func promptResult(raw string, scope rule.Scope, text, explanation string) rule.ParseResult {
	return rule.ParseResult{
		Rule: rule.Rule{
			ID:      NewRuleID(),
			Enabled: true,
			Scope:   scope,
			RawText: raw,
			Actions: []rule.Action{{
				Type:    rule.ActionPromptInject,
				Payload: map[string]any{"text": text},
			}},
		},
		Explanation: explanation,
		Confidence:  0.9,
	}
}

// gateResult builds a ParseResult for a tool-gating template.
func gateResult(raw string, scope rule.Scope, typ rule.ActionType, tools []string, reason, explanation string, confidence float64) rule.ParseResult {
	sorted := append([]string(nil), tools...)
	sort.Strings(sorted)
	return rule.ParseResult{
		Rule: rule.Rule{
			ID:      NewRuleID(),
			Enabled: true,
			Scope:   scope,
			RawText: raw,
			Actions: []rule.Action{{
				Type:    typ,
				Payload: map[string]any{"tools": sorted, "reason": reason},
			}},
		},
		Explanation: explanation,
		Confidence:  confidence,
	}
}
