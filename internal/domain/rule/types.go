// Package rule contains domain types for user-authored agent rules
// and the pure evaluation functions that enforce them.
package rule

import (
	"fmt"
	"strings"
)

// Scope is the enforcement context a rule applies to.
type Scope string

const (
	// ScopeGlobal rules apply to every requested scope.
	ScopeGlobal Scope = "global"
	// ScopeChat rules apply only to interactive chat requests.
	ScopeChat Scope = "chat"
	// ScopeEmail rules apply only to email watcher flows.
	ScopeEmail Scope = "email"
)

// IsValid returns true if the scope is a known valid scope.
func (s Scope) IsValid() bool {
	switch s {
	case ScopeGlobal, ScopeChat, ScopeEmail:
		return true
	default:
		return false
	}
}

// ParseScope coerces a string into a Scope.
// Returns an error for unrecognized values rather than defaulting.
func ParseScope(s string) (Scope, error) {
	sc := Scope(strings.ToLower(strings.TrimSpace(s)))
	if !sc.IsValid() {
		return "", fmt.Errorf("invalid rule scope %q (want global, chat, or email)", s)
	}
	return sc, nil
}

// ActionType identifies the effect a rule action produces.
type ActionType string

const (
	// ActionPromptInject injects preference text into the outbound prompt.
	// Payload: {"text": string}.
	ActionPromptInject ActionType = "prompt_inject"
	// ActionBlockTool blocks the named tools outright.
	// Payload: {"tools": []string, "reason": optional string}.
	ActionBlockTool ActionType = "block_tool"
	// ActionConfirmTool gates the named tools behind explicit confirmation.
	// Payload: {"tools": []string, "reason": optional string}.
	ActionConfirmTool ActionType = "confirm_tool"

	// The agent-routing action types below are reserved vocabulary consumed
	// by the ranking subsystem. The engine does not evaluate them.

	// ActionBoostAgent nudges agent ranking. Payload: {"agents": []string, "boost": float}.
	ActionBoostAgent ActionType = "boost_agent"
	// ActionExcludeAgent removes agents from ranking. Payload: {"agents": []string}.
	ActionExcludeAgent ActionType = "exclude_agent"
	// ActionForceAgent pins a single agent. Payload: {"agents": []string}.
	ActionForceAgent ActionType = "force_agent"
)

// IsValid returns true if the action type is a known valid type.
func (t ActionType) IsValid() bool {
	switch t {
	case ActionPromptInject, ActionBlockTool, ActionConfirmTool,
		ActionBoostAgent, ActionExcludeAgent, ActionForceAgent:
		return true
	default:
		return false
	}
}

// Action is one effect a rule produces. Payload shape is type-dependent;
// use the accessor methods instead of indexing the map directly.
type Action struct {
	Type    ActionType     `json:"type"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Tools returns the non-blank tool names from the payload "tools" key.
// Accepts either a string or a list of strings, matching the persisted format.
func (a Action) Tools() []string {
	raw, ok := a.Payload["tools"]
	if !ok {
		return nil
	}
	var out []string
	switch v := raw.(type) {
	case string:
		if strings.TrimSpace(v) != "" {
			out = append(out, v)
		}
	case []string:
		for _, t := range v {
			if strings.TrimSpace(t) != "" {
				out = append(out, t)
			}
		}
	case []any:
		for _, item := range v {
			if t, ok := item.(string); ok && strings.TrimSpace(t) != "" {
				out = append(out, t)
			}
		}
	}
	return out
}

// Reason returns the trimmed payload "reason" string, or "" if absent or blank.
func (a Action) Reason() string {
	if v, ok := a.Payload["reason"].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

// Text returns the trimmed payload "text" string, or "" if absent or blank.
// Only meaningful for ActionPromptInject.
func (a Action) Text() string {
	if v, ok := a.Payload["text"].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

// When returns the optional CEL condition from the payload "when" key.
// Only meaningful for gate actions; an empty string means unconditional.
func (a Action) When() string {
	if v, ok := a.Payload["when"].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

// IsGate returns true for action types that gate tool execution.
func (a Action) IsGate() bool {
	return a.Type == ActionBlockTool || a.Type == ActionConfirmTool
}

// Rule is a single persisted user rule.
//
// ID is immutable once assigned and unique within a store. RawText preserves
// the original user text (after any "rule:" prefix is stripped) for display
// and as fallback prompt material.
type Rule struct {
	ID      string `json:"id"`
	Enabled bool   `json:"enabled"`
	Scope   Scope  `json:"scope"`
	RawText string `json:"raw_text"`

	// Actions are applied in order; one rule can produce multiple actions.
	Actions []Action `json:"actions"`

	// CreatedAt and UpdatedAt are ISO-8601 UTC timestamps stamped by the
	// store. Empty means unset.
	CreatedAt string `json:"created_at,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

// ParseResult is the transient output of the rule parser. Not persisted.
type ParseResult struct {
	Rule Rule `json:"rule"`
	// Explanation is a human-readable summary of what the rule will do.
	Explanation string `json:"explanation"`
	// Confidence is the parser's confidence in [0,1].
	Confidence float64 `json:"confidence"`
	// NeedsConfirmation suggests asking the user before saving.
	NeedsConfirmation bool `json:"needs_confirmation"`
}

// ToolDecision is the gate result for one attempted tool invocation.
//
// Invariants: Allowed=false implies RequiresConfirmation=false and
// BlockReason set; RequiresConfirmation=true implies Allowed=true and
// ConfirmReason set.
type ToolDecision struct {
	Allowed              bool   `json:"allowed"`
	RequiresConfirmation bool   `json:"requires_confirmation"`
	BlockReason          string `json:"block_reason,omitempty"`
	ConfirmReason        string `json:"confirm_reason,omitempty"`
}

// Allow permits the tool call with no gating.
func Allow() ToolDecision {
	return ToolDecision{Allowed: true}
}

// Block denies the tool call for the given reason.
func Block(reason string) ToolDecision {
	return ToolDecision{Allowed: false, BlockReason: reason}
}

// RequireConfirm permits the tool call only with explicit confirmation.
func RequireConfirm(reason string) ToolDecision {
	return ToolDecision{Allowed: true, RequiresConfirmation: true, ConfirmReason: reason}
}

// confirmKeys are the argument keys scanned for a confirmation flag.
// This ad hoc convention predates the typed decision surface and is kept
// for compatibility with existing agent callers.
var confirmKeys = [...]string{"confirmed", "confirm", "user_confirmed", "approved", "allow"}

// Confirmed reports whether tool arguments carry an explicit confirmation.
// Any one matching key satisfies confirmation; accepted encodings are
// boolean true, integer 1, and the strings "true", "yes", "y", "1"
// (case-insensitive).
func Confirmed(args map[string]any) bool {
	for _, key := range confirmKeys {
		switch v := args[key].(type) {
		case bool:
			if v {
				return true
			}
		case string:
			switch strings.ToLower(strings.TrimSpace(v)) {
			case "true", "yes", "y", "1":
				return true
			}
		case int:
			if v == 1 {
				return true
			}
		case float64:
			// JSON numbers decode as float64.
			if v == 1 {
				return true
			}
		}
	}
	return false
}
