// Package parser compiles free-text user preferences into structured rules.
//
// The compiler is a deterministic template table: trigger detection, text
// normalization, then an ordered list of (match, build) templates evaluated
// first-match-wins. There is no NL understanding beyond fixed keyword and
// prefix matching.
package parser

import (
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/rulegate/rulegate/internal/domain/rule"
)

// triggers are the phrases that mark text as a policy statement.
// Tested against normalized text; "rule:"/"rules:" prefixes short-circuit
// before normalization.
var triggers = []string{
	"always ",
	"never ",
	"from now on",
	"in the future",
	"please always",
	"please never",
	"dont ", // contraction is normalized to this form
	"do not ",
	"stop ",
	"avoid ",
	"make sure ",
}

// negationPrefixes mark prohibition intent. The text must start with one of
// these, not merely contain it, so "I sent this because I never forward
// without checking" does not trigger. Coarse on purpose.
var negationPrefixes = []string{"never ", "dont ", "do not ", "stop ", "avoid "}

// affirmativePrefixes mark "always do X" intent.
var affirmativePrefixes = []string{"always ", "please always ", "make sure "}

// confirmKeywords signal that the user wants to approve actions.
var confirmKeywords = []string{"confirm", "confirmation", "ask me", "approve", "approval"}

// draftFirstKeywords signal that the user wants to review before sending.
var draftFirstKeywords = []string{"show draft", "draft first", "preview", "before sending"}

var (
	rulePrefixRe = regexp.MustCompile(`(?is)^\s*rules?\s*:\s*(.*)$`)
	punctRe      = regexp.MustCompile(`[^\w\s@.\-]+`)
	spaceRe      = regexp.MustCompile(`\s+`)
)

// NewRuleID generates a fresh rule identifier of the form "rule_<10 hex>".
func NewRuleID() string {
	return "rule_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:10]
}

// normalize lowercases, rewrites the "don't" contraction (straight and curly
// apostrophe) to "dont", strips punctuation except @ . -, and collapses
// whitespace. The contraction rewrite must happen before punctuation
// stripping or the apostophe removal would corrupt it.
func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "don't", "dont")
	s = strings.ReplaceAll(s, "don’t", "dont")
	s = punctRe.ReplaceAllString(s, " ")
	s = spaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// LooksLikeRule reports whether text looks like a policy statement.
// An explicit "rule:"/"rules:" prefix always qualifies; otherwise the
// normalized text must contain a trigger phrase.
func LooksLikeRule(text string) bool {
	raw := strings.ToLower(strings.TrimSpace(text))
	if strings.HasPrefix(raw, "rule:") || strings.HasPrefix(raw, "rules:") {
		return true
	}

	t := normalize(text)
	if t == "" {
		return false
	}
	for _, tr := range triggers {
		if strings.Contains(t, tr) {
			return true
		}
	}
	return false
}

// stripRulePrefix removes a leading "rule:"/"rules:" marker, returning the
// remainder. The result becomes the rule's raw text, unnormalized.
func stripRulePrefix(text string) string {
	t := strings.TrimSpace(text)
	if m := rulePrefixRe.FindStringSubmatch(t); m != nil {
		return strings.TrimSpace(m[1])
	}
	return t
}

// intents are the keyword predicates shared across templates, computed once
// per parse over the normalized text.
type intents struct {
	isNever  bool
	isAlways bool

	wantsConfirm    bool
	wantsDraftFirst bool

	mentionsSend    bool
	mentionsForward bool
	mentionsDelete  bool
}

func detectIntents(t string) intents {
	in := intents{
		mentionsForward: strings.Contains(t, "forward"),
		mentionsDelete:  strings.Contains(t, "delete") && strings.Contains(t, "draft"),
	}
	in.mentionsSend = strings.Contains(t, "send") &&
		(strings.Contains(t, "email") || strings.Contains(t, "emails") || strings.Contains(t, "mail"))

	for _, p := range negationPrefixes {
		if strings.HasPrefix(t, p) {
			in.isNever = true
			break
		}
	}
	for _, p := range affirmativePrefixes {
		if strings.HasPrefix(t, p) {
			in.isAlways = true
			break
		}
	}
	for _, k := range confirmKeywords {
		if strings.Contains(t, k) {
			in.wantsConfirm = true
			break
		}
	}
	for _, k := range draftFirstKeywords {
		if strings.Contains(t, k) {
			in.wantsDraftFirst = true
			break
		}
	}
	return in
}

func containsAny(t string, keys ...string) bool {
	for _, k := range keys {
		if strings.Contains(t, k) {
			return true
		}
	}
	return false
}

// mentionsAnyTool reports whether the text references a gated tool intent,
// which disqualifies it from the soft prompt-preference templates.
func (in intents) mentionsAnyTool() bool {
	return in.mentionsSend || in.mentionsForward || in.mentionsDelete
}

// Parse compiles user text into zero-or-one rule.
//
// Returns (nil, false) when the text does not look like a policy statement or
// matches no supported template; that is not an error, callers decide whether
// to ask the user to rephrase. Pure except for rule ID generation.
func Parse(text string, scope rule.Scope) (*rule.ParseResult, bool) {
	if !LooksLikeRule(text) {
		return nil, false
	}

	raw := stripRulePrefix(text)
	t := normalize(raw)
	in := detectIntents(t)

	for _, tmpl := range templates {
		if tmpl.match(t, in) {
			res := tmpl.build(raw, scope, in)
			return &res, true
		}
	}
	return nil, false
}
