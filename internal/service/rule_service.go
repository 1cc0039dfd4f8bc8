// Package service contains application services.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	celeval "github.com/rulegate/rulegate/internal/adapter/outbound/cel"
	"github.com/rulegate/rulegate/internal/domain/decision"
	"github.com/rulegate/rulegate/internal/domain/parser"
	"github.com/rulegate/rulegate/internal/domain/rule"
)

// lruEntry is a doubly-linked list node for the LRU cache.
type lruEntry struct {
	key      uint64
	decision rule.ToolDecision
	prev     *lruEntry
	next     *lruEntry
}

// ResultCache provides bounded LRU caching for tool-call decisions.
// Thread-safe with Mutex (both Get and Put mutate LRU order).
type ResultCache struct {
	mu      sync.Mutex
	entries map[uint64]*lruEntry
	head    *lruEntry // most recently used
	tail    *lruEntry // least recently used
	maxSize int
}

// NewResultCache creates a new LRU cache with the given max size.
func NewResultCache(maxSize int) *ResultCache {
	return &ResultCache{
		entries: make(map[uint64]*lruEntry, maxSize),
		maxSize: maxSize,
	}
}

// Get retrieves a cached decision. Returns (decision, true) on hit.
// On hit, the entry is promoted to the head (most recently used).
func (c *ResultCache) Get(key uint64) (rule.ToolDecision, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		c.moveToHeadLocked(e)
		return e.decision, true
	}
	return rule.ToolDecision{}, false
}

// Put stores a decision. If at capacity, the least recently used entry is evicted.
func (c *ResultCache) Put(key uint64, decision rule.ToolDecision) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.decision = decision
		c.moveToHeadLocked(e)
		return
	}

	if len(c.entries) >= c.maxSize {
		c.evictTailLocked()
	}

	e := &lruEntry{key: key, decision: decision}
	c.entries[key] = e
	c.pushHeadLocked(e)
}

// Clear empties the cache. Called on every rule mutation.
func (c *ResultCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[uint64]*lruEntry, c.maxSize)
	c.head = nil
	c.tail = nil
}

// Size returns current cache size.
func (c *ResultCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *ResultCache) moveToHeadLocked(e *lruEntry) {
	if c.head == e {
		return
	}
	c.unlinkLocked(e)
	c.pushHeadLocked(e)
}

func (c *ResultCache) pushHeadLocked(e *lruEntry) {
	e.prev = nil
	e.next = c.head
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *ResultCache) unlinkLocked(e *lruEntry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
	e.prev = nil
	e.next = nil
}

func (c *ResultCache) evictTailLocked() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.unlinkLocked(c.tail)
}

// computeCacheKey hashes (scope, tool, confirmation, args) into a cache key.
// Args are hashed as JSON for determinism.
func computeCacheKey(scope rule.Scope, tool string, args map[string]any) uint64 {
	h := xxhash.New()

	_, _ = h.WriteString(string(scope))
	_, _ = h.Write([]byte{0}) // separator
	_, _ = h.WriteString(tool)
	_, _ = h.Write([]byte{0})

	if len(args) > 0 {
		argsJSON, _ := json.Marshal(args)
		_, _ = h.Write(argsJSON)
	}

	return h.Sum64()
}

// RuleService composes the parser, store, and engine behind one surface:
// compile user text into rules, persist them, render prompt instructions,
// and gate tool calls. Decisions are cached in a bounded LRU keyed by
// (scope, tool, args); any rule mutation clears the cache.
type RuleService struct {
	store     rule.Store
	evaluator *celeval.Evaluator
	cache     *ResultCache
	declog    decision.Log
	logger    *slog.Logger
}

// RuleServiceOption configures RuleService.
type RuleServiceOption func(*RuleService)

// WithCacheSize sets the maximum number of cached decisions.
func WithCacheSize(size int) RuleServiceOption {
	return func(s *RuleService) {
		s.cache = NewResultCache(size)
	}
}

// WithDecisionLog records every gate verdict to the given log.
func WithDecisionLog(log decision.Log) RuleServiceOption {
	return func(s *RuleService) {
		s.declog = log
	}
}

// NewRuleService creates a RuleService over the given store.
func NewRuleService(store rule.Store, logger *slog.Logger, opts ...RuleServiceOption) (*RuleService, error) {
	evaluator, err := celeval.NewEvaluator()
	if err != nil {
		return nil, fmt.Errorf("failed to create condition evaluator: %w", err)
	}

	s := &RuleService{
		store:     store,
		evaluator: evaluator,
		cache:     NewResultCache(1000),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// AddFromText compiles user text into a rule and persists it.
// Returns (nil, false, nil) when the text is not a policy statement or
// matches no template; that is a normal outcome, not an error.
func (s *RuleService) AddFromText(text string, scope rule.Scope) (*rule.ParseResult, bool, error) {
	res, ok := parser.Parse(text, scope)
	if !ok {
		s.logger.Debug("text did not parse as a rule", "scope", scope)
		return nil, false, nil
	}

	stored, err := s.store.AddRule(res.Rule, true)
	if err != nil {
		return nil, false, fmt.Errorf("persist parsed rule: %w", err)
	}
	res.Rule = stored
	s.cache.Clear()

	s.logger.Info("rule added from text",
		"id", stored.ID, "scope", stored.Scope, "confidence", res.Confidence)
	return res, true, nil
}

// AddRule validates and persists a directly constructed rule.
// Scope and action types must be valid; any gate condition must compile.
func (s *RuleService) AddRule(r rule.Rule) (rule.Rule, error) {
	if !r.Scope.IsValid() {
		return rule.Rule{}, fmt.Errorf("invalid rule scope %q", r.Scope)
	}
	for _, a := range r.Actions {
		if !a.Type.IsValid() {
			return rule.Rule{}, fmt.Errorf("invalid action type %q", a.Type)
		}
		if when := a.When(); when != "" && a.IsGate() {
			if err := s.evaluator.ValidateExpression(when); err != nil {
				return rule.Rule{}, fmt.Errorf("gate condition: %w", err)
			}
		}
	}

	stored, err := s.store.AddRule(r, true)
	if err != nil {
		return rule.Rule{}, err
	}
	s.cache.Clear()

	s.logger.Info("rule added", "id", stored.ID, "scope", stored.Scope)
	return stored, nil
}

// List returns rules sorted by id, optionally filtered.
func (s *RuleService) List(scope *rule.Scope, enabledOnly bool) []rule.Rule {
	return s.store.ListRules(scope, enabledOnly)
}

// Get returns a rule by id.
func (s *RuleService) Get(id string) (rule.Rule, bool) {
	return s.store.GetRule(id)
}

// SetEnabled toggles a rule and invalidates cached decisions.
func (s *RuleService) SetEnabled(id string, enabled bool) (bool, error) {
	ok, err := s.store.SetEnabled(id, enabled, true)
	if err != nil || !ok {
		return ok, err
	}
	s.cache.Clear()
	s.logger.Info("rule toggled", "id", id, "enabled", enabled)
	return true, nil
}

// Delete removes a rule and invalidates cached decisions.
func (s *RuleService) Delete(id string) (bool, error) {
	ok, err := s.store.Delete(id, true)
	if err != nil || !ok {
		return ok, err
	}
	s.cache.Clear()
	s.logger.Info("rule deleted", "id", id)
	return true, nil
}

// Effective returns the applied context for a scope over all stored rules.
func (s *RuleService) Effective(scope rule.Scope) *rule.AppliedRuleContext {
	return rule.CollectEffectiveRules(s.store.ListRules(nil, false), scope)
}

// PromptInstructions renders the soft-preference prompt block for a scope.
func (s *RuleService) PromptInstructions(scope rule.Scope) string {
	return rule.BuildPromptInstructions(s.store.ListRules(nil, false), scope)
}

// CheckToolCall gates one tool invocation against the stored rules,
// evaluating any CEL conditions attached to the winning gate actions.
func (s *RuleService) CheckToolCall(scope rule.Scope, tool string, args map[string]any) rule.ToolDecision {
	if args == nil {
		args = map[string]any{}
	}

	key := computeCacheKey(scope, tool, args)
	if d, ok := s.cache.Get(key); ok {
		s.recordDecision(scope, tool, d, true)
		return d
	}

	ctx := s.Effective(scope)
	d := ctx.Decide(tool, args, s.evaluator)
	s.cache.Put(key, d)
	s.recordDecision(scope, tool, d, false)

	s.logger.Debug("tool call checked",
		"scope", scope, "tool", tool, "outcome", DecisionOutcome(d))
	return d
}

// recordDecision appends the verdict to the decision log, if one is
// configured. Logging failures never affect the gate outcome.
func (s *RuleService) recordDecision(scope rule.Scope, tool string, d rule.ToolDecision, cached bool) {
	if s.declog == nil {
		return
	}
	reason := d.BlockReason
	if reason == "" {
		reason = d.ConfirmReason
	}
	rec := decision.Record{
		Timestamp: time.Now().UTC(),
		Scope:     string(scope),
		Tool:      tool,
		Outcome:   DecisionOutcome(d),
		Reason:    reason,
		Cached:    cached,
	}
	if err := s.declog.Append(context.Background(), rec); err != nil {
		s.logger.Warn("failed to record decision", "tool", tool, "error", err)
	}
}

// RecentDecisions returns up to n logged verdicts, newest first.
// Returns nil when no decision log is configured.
func (s *RuleService) RecentDecisions(n int) []decision.Record {
	if s.declog == nil {
		return nil
	}
	return s.declog.Recent(n)
}

// DecisionLogEnabled reports whether a decision log is configured.
func (s *RuleService) DecisionLogEnabled() bool {
	return s.declog != nil
}

// ParsePreview compiles user text without persisting, for callers that want
// to show the user what a rule would do before saving it.
func ParsePreview(text string, scope rule.Scope) (*rule.ParseResult, bool) {
	return parser.Parse(text, scope)
}

// DecisionOutcome summarizes a decision as "allow", "block", or "confirm",
// for logs and metrics labels.
func DecisionOutcome(d rule.ToolDecision) string {
	switch {
	case !d.Allowed:
		return "block"
	case d.RequiresConfirmation:
		return "confirm"
	default:
		return "allow"
	}
}
