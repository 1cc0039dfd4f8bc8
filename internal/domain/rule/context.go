package rule

// AppliedRuleContext is the precomputed view of a rule set for one scope:
// the effective rules, the rendered prompt block, and the per-tool gate maps.
// It is a pure function of (rules, scope) and is recomputed on demand,
// never persisted.
type AppliedRuleContext struct {
	// Rules are the enabled rules whose scope matches (global or exact).
	Rules []Rule

	// PromptInstructions is the rendered soft-preference block, or "" when
	// no effective rule contributes prompt text.
	PromptInstructions string

	// BlockedReasons maps each blocked tool to the reason shown to the user.
	// First-writer-wins: the earliest effective rule's reason is kept.
	BlockedReasons map[string]string

	// ConfirmReasons maps each confirmation-gated tool to its reason.
	ConfirmReasons map[string]string

	// BlockedConditions and ConfirmConditions carry the optional CEL
	// condition attached to the winning gate action for a tool, keyed the
	// same way as the reason maps. Empty string means unconditional.
	BlockedConditions map[string]string
	ConfirmConditions map[string]string
}

// Blocked reports whether the tool is in the blocked set.
func (c *AppliedRuleContext) Blocked(tool string) bool {
	_, ok := c.BlockedReasons[tool]
	return ok
}

// NeedsConfirm reports whether the tool is in the confirmation-gated set.
func (c *AppliedRuleContext) NeedsConfirm(tool string) bool {
	_, ok := c.ConfirmReasons[tool]
	return ok
}
