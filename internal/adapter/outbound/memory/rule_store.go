// Package memory provides in-memory store implementations for tests and
// development seeding.
package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/rulegate/rulegate/internal/domain/rule"
)

// MemoryRuleStore implements rule.Store with an in-memory map.
// Thread-safe. Load and Save are no-ops; persist flags are ignored.
type MemoryRuleStore struct {
	mu    sync.RWMutex
	rules map[string]rule.Rule
}

// NewRuleStore creates a new in-memory rule store.
func NewRuleStore() *MemoryRuleStore {
	return &MemoryRuleStore{rules: make(map[string]rule.Rule)}
}

// Load is a no-op: the collection lives only in memory.
func (s *MemoryRuleStore) Load() error { return nil }

// Save is a no-op: the collection lives only in memory.
func (s *MemoryRuleStore) Save() error { return nil }

// ListRules returns rules sorted by id, optionally filtered by exact scope
// and enabled flag.
func (s *MemoryRuleStore) ListRules(scope *rule.Scope, enabledOnly bool) []rule.Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]rule.Rule, 0, len(s.rules))
	for _, r := range s.rules {
		if scope != nil && r.Scope != *scope {
			continue
		}
		if enabledOnly && !r.Enabled {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// GetRule returns the rule and true if present.
func (s *MemoryRuleStore) GetRule(id string) (rule.Rule, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rules[id]
	return r, ok
}

// AddRule upserts by id, stamping timestamps like the file store.
func (s *MemoryRuleStore) AddRule(r rule.Rule, persist bool) (rule.Rule, error) {
	if r.ID == "" {
		return rule.Rule{}, rule.ErrEmptyRuleID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC().Format(time.RFC3339)
	if r.CreatedAt == "" {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	s.rules[r.ID] = r
	return r, nil
}

// SetEnabled toggles a rule. Returns false if the id is absent.
func (s *MemoryRuleStore) SetEnabled(id string, enabled bool, persist bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rules[id]
	if !ok {
		return false, nil
	}
	r.Enabled = enabled
	r.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	s.rules[id] = r
	return true, nil
}

// Delete removes a rule. Returns false if the id is absent.
func (s *MemoryRuleStore) Delete(id string, persist bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rules[id]; !ok {
		return false, nil
	}
	delete(s.rules, id)
	return true, nil
}

// Compile-time interface verification.
var _ rule.Store = (*MemoryRuleStore)(nil)
