package rule

import "errors"

// ErrEmptyRuleID is returned when adding a rule without an identifier.
var ErrEmptyRuleID = errors.New("rule id must be set before adding to store")

// Store persists a rule collection keyed by id.
//
// The store exclusively owns the authoritative copy of each rule; callers
// receive value copies. Scope filtering here is exact match only: global
// wildcard expansion is engine semantics, not store semantics.
type Store interface {
	// Load replaces the in-memory collection from the backing document.
	Load() error
	// Save writes the collection durably. Mutating methods call it
	// automatically unless persistence is suppressed.
	Save() error

	// ListRules returns rules sorted by id. A non-nil scope filters to
	// exactly that scope; enabledOnly drops disabled rules.
	ListRules(scope *Scope, enabledOnly bool) []Rule
	// GetRule returns the rule and true if present.
	GetRule(id string) (Rule, bool)
	// AddRule upserts by id, stamping timestamps. Fails with ErrEmptyRuleID
	// when the id is empty; the store is left unmodified on any error.
	AddRule(r Rule, persist bool) (Rule, error)
	// SetEnabled toggles a rule. Returns false if the id is absent.
	SetEnabled(id string, enabled bool, persist bool) (bool, error)
	// Delete removes a rule. Returns false if the id is absent.
	Delete(id string, persist bool) (bool, error)
}
