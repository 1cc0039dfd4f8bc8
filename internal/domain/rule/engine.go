package rule

import (
	"strings"
)

// Default reasons used when neither the action payload nor the owning
// rule's raw text provides one.
const (
	defaultBlockReason   = "Blocked by user rule."
	defaultConfirmReason = "This action requires confirmation by user rule."
)

// promptHeader is the fixed header for the rendered instruction block.
const promptHeader = "USER RULES (must follow):"

// maxRawTextPromptLen caps how long a rule's raw text may be before it is
// excluded from the fallback prompt channel.
const maxRawTextPromptLen = 200

// scopeMatches reports whether a rule's scope applies to the desired scope.
// Global rules apply everywhere; other scopes match only themselves.
func scopeMatches(ruleScope, desired Scope) bool {
	return ruleScope == ScopeGlobal || ruleScope == desired
}

// FilterRulesForScope returns the enabled rules whose scope is global or
// exactly equals the requested scope, preserving input order.
func FilterRulesForScope(rules []Rule, scope Scope) []Rule {
	out := make([]Rule, 0, len(rules))
	for _, r := range rules {
		if !r.Enabled {
			continue
		}
		if scopeMatches(r.Scope, scope) {
			out = append(out, r)
		}
	}
	return out
}

// BuildPromptInstructions renders the soft-preference block for the scope.
//
// Every prompt_inject action with non-blank text contributes one line. A rule
// that injected nothing falls back to its raw text, but only when the text is
// short (<= 200 chars) and the rule carries no tool-gating action: gating
// rules must not leak into the prompt channel.
//
// Deterministic: same inputs yield the same output, lines in scope-filtered
// rule order. Empty result means empty string, no header.
func BuildPromptInstructions(rules []Rule, scope Scope) string {
	effective := FilterRulesForScope(rules, scope)

	var lines []string
	for _, r := range effective {
		injected := false
		for _, a := range r.Actions {
			if a.Type != ActionPromptInject {
				continue
			}
			if text := a.Text(); text != "" {
				lines = append(lines, text)
				injected = true
			}
		}
		if injected {
			continue
		}

		// Fallback: a prompt rule stored only as raw text.
		raw := strings.TrimSpace(r.RawText)
		if raw == "" || len(raw) > maxRawTextPromptLen {
			continue
		}
		hasGate := false
		for _, a := range r.Actions {
			if a.IsGate() {
				hasGate = true
				break
			}
		}
		if !hasGate {
			lines = append(lines, raw)
		}
	}

	if len(lines) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString(promptHeader)
	b.WriteByte('\n')
	for _, ln := range lines {
		b.WriteString("- ")
		b.WriteString(ln)
		b.WriteByte('\n')
	}
	return b.String()
}

// CollectEffectiveRules computes the applied context for a scope: the
// filtered rule list, the prompt block, and the per-tool block/confirm maps.
//
// Reason resolution per gate action: payload reason if non-blank, else the
// owning rule's raw text, else a fixed default. When two rules gate the same
// tool the earlier rule wins (stable, scope-filtered order).
func CollectEffectiveRules(rules []Rule, scope Scope) *AppliedRuleContext {
	effective := FilterRulesForScope(rules, scope)

	ctx := &AppliedRuleContext{
		Rules:              effective,
		PromptInstructions: BuildPromptInstructions(effective, scope),
		BlockedReasons:     make(map[string]string),
		ConfirmReasons:     make(map[string]string),
		BlockedConditions:  make(map[string]string),
		ConfirmConditions:  make(map[string]string),
	}

	for _, r := range effective {
		for _, a := range r.Actions {
			if !a.IsGate() {
				continue
			}
			reason := a.Reason()
			if reason == "" {
				reason = strings.TrimSpace(r.RawText)
			}
			if reason == "" {
				reason = defaultBlockReason
			}
			for _, tool := range a.Tools() {
				switch a.Type {
				case ActionBlockTool:
					if _, seen := ctx.BlockedReasons[tool]; !seen {
						ctx.BlockedReasons[tool] = reason
						ctx.BlockedConditions[tool] = a.When()
					}
				case ActionConfirmTool:
					if _, seen := ctx.ConfirmReasons[tool]; !seen {
						ctx.ConfirmReasons[tool] = reason
						ctx.ConfirmConditions[tool] = a.When()
					}
				}
			}
		}
	}

	return ctx
}

// ConditionEvaluator evaluates an optional gate condition against the tool
// arguments. A gate whose condition evaluates false does not apply.
type ConditionEvaluator interface {
	EvalCondition(expr string, args map[string]any) (bool, error)
}

// Decide resolves the gate for one tool call against this context.
//
// Precedence is block > confirm > allow. Confirmation is stateless: it must
// be supplied in the arguments of each call (see Confirmed).
//
// eval may be nil, in which case conditions are ignored and every gate
// applies unconditionally. When a condition fails to evaluate, block gates
// fail closed (still block) and confirm gates fail open (no gate).
func (c *AppliedRuleContext) Decide(tool string, args map[string]any, eval ConditionEvaluator) ToolDecision {
	if reason, ok := c.BlockedReasons[tool]; ok {
		if applies := c.conditionApplies(c.BlockedConditions[tool], args, eval, true); applies {
			if reason == "" {
				reason = defaultBlockReason
			}
			return Block(reason)
		}
	}

	if reason, ok := c.ConfirmReasons[tool]; ok && !Confirmed(args) {
		if applies := c.conditionApplies(c.ConfirmConditions[tool], args, eval, false); applies {
			if reason == "" {
				reason = defaultConfirmReason
			}
			return RequireConfirm(reason)
		}
	}

	return Allow()
}

// conditionApplies reports whether a gate with the given condition applies.
// failClosed selects the outcome when evaluation errors.
func (c *AppliedRuleContext) conditionApplies(expr string, args map[string]any, eval ConditionEvaluator, failClosed bool) bool {
	if expr == "" || eval == nil {
		return true
	}
	ok, err := eval.EvalCondition(expr, args)
	if err != nil {
		return failClosed
	}
	return ok
}

// CheckToolCall enforces the rules for one tool invocation, applying
// block > confirm > allow precedence. Conditions on gate actions are not
// evaluated here; callers that want conditional gating use
// CollectEffectiveRules and Decide with a ConditionEvaluator.
func CheckToolCall(rules []Rule, scope Scope, tool string, args map[string]any) ToolDecision {
	if args == nil {
		args = map[string]any{}
	}
	return CollectEffectiveRules(rules, scope).Decide(tool, args, nil)
}
