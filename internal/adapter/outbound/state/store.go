// Package state provides the file-backed rule store.
//
// Rules are persisted as a single JSON document (rules.json) with atomic
// writes (write-tmp-then-rename), automatic backups, and file locking
// (flock for cross-process, mutex for in-process). Loading is tolerant:
// individually malformed rule records are skipped so partial corruption
// never prevents startup.
package state

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/rulegate/rulegate/internal/domain/rule"
)

// documentVersion is the schema version written to rules.json.
const documentVersion = 1

// document is the top-level structure persisted in rules.json.
type document struct {
	Version   int         `json:"version"`
	UpdatedAt string      `json:"updated_at"`
	Rules     []rule.Rule `json:"rules"`
}

// FileRuleStore implements rule.Store over a single JSON document.
type FileRuleStore struct {
	path   string
	mu     sync.Mutex
	rules  map[string]rule.Rule
	logger *slog.Logger
}

// NewFileRuleStore opens the store at path, creating an empty valid document
// on first use so callers never special-case an uninitialized store.
func NewFileRuleStore(path string, logger *slog.Logger) (*FileRuleStore, error) {
	s := &FileRuleStore{
		path:   path,
		rules:  make(map[string]rule.Rule),
		logger: logger,
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := s.Save(); err != nil {
			return nil, fmt.Errorf("initialize rules file: %w", err)
		}
		return s, nil
	}
	if err := s.Load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Load reads and parses the rules document, replacing the in-memory
// collection. An empty or missing file is an empty collection. The document
// may be either the {version, updated_at, rules} wrapper or, for backward
// compatibility, a bare JSON array of rule objects. Malformed rule records
// are logged and skipped.
func (s *FileRuleStore) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.rules = make(map[string]rule.Rule)
			return nil
		}
		return fmt.Errorf("read rules file: %w", err)
	}

	// Warn if the file is readable by group/other. Skip on Windows where
	// Unix permission bits are not supported.
	if runtime.GOOS != "windows" {
		if info, statErr := os.Stat(s.path); statErr == nil {
			if mode := info.Mode().Perm(); mode&0077 != 0 {
				s.logger.Warn("rules file has too-open permissions, should be 0600",
					"path", s.path, "current_mode", fmt.Sprintf("%04o", mode))
			}
		}
	}

	records, err := extractRecords(data)
	if err != nil {
		return err
	}

	out := make(map[string]rule.Rule, len(records))
	for i, raw := range records {
		r, err := decodeRule(raw)
		if err != nil {
			s.logger.Warn("skipping malformed rule record", "index", i, "error", err)
			continue
		}
		out[r.ID] = r
	}
	s.rules = out
	return nil
}

// extractRecords returns the raw rule records from either document shape:
// the wrapper object or a bare array. An empty file is an empty collection.
func extractRecords(data []byte) ([]json.RawMessage, error) {
	if len(trimSpace(data)) == 0 {
		return nil, nil
	}

	var records []json.RawMessage
	if err := json.Unmarshal(data, &records); err == nil {
		return records, nil
	}

	var doc struct {
		Rules []json.RawMessage `json:"rules"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse rules file: %w", err)
	}
	return doc.Rules, nil
}

// trimSpace trims ASCII whitespace without allocating a string.
func trimSpace(data []byte) []byte {
	start := 0
	for start < len(data) && isSpace(data[start]) {
		start++
	}
	end := len(data)
	for end > start && isSpace(data[end-1]) {
		end--
	}
	return data[start:end]
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

// decodeRule parses one rule record, rejecting records with no id, an
// unrecognized scope, or an unrecognized action type. A missing scope
// defaults to global.
func decodeRule(raw json.RawMessage) (rule.Rule, error) {
	var r rule.Rule
	if err := json.Unmarshal(raw, &r); err != nil {
		return rule.Rule{}, err
	}
	if r.ID == "" {
		return rule.Rule{}, fmt.Errorf("rule record missing id")
	}
	if r.Scope == "" {
		r.Scope = rule.ScopeGlobal
	}
	if !r.Scope.IsValid() {
		return rule.Rule{}, fmt.Errorf("rule %s: invalid scope %q", r.ID, r.Scope)
	}
	for _, a := range r.Actions {
		if !a.Type.IsValid() {
			return rule.Rule{}, fmt.Errorf("rule %s: invalid action type %q", r.ID, a.Type)
		}
	}
	return r, nil
}

// Save writes the rule collection to disk atomically.
//
// The write sequence is:
//  1. Acquire in-process mutex
//  2. Acquire flock on path+".lock"
//  3. Copy current file to path+".bak" (skipped if no current file)
//  4. Marshal the document as indented JSON
//  5. Write to path+".tmp" with 0600 permissions, fsync, rename over path
//
// On failure the destination is left untouched and the temp file removed.
func (s *FileRuleStore) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

func (s *FileRuleStore) saveLocked() error {
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create rules dir: %w", err)
		}
	}

	lockPath := s.path + ".lock"
	lockFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	defer func() { _ = lockFile.Close() }()

	if err := flockLock(lockFile.Fd()); err != nil {
		return fmt.Errorf("acquire file lock: %w", err)
	}
	defer flockUnlock(lockFile.Fd()) //nolint:errcheck

	if currentData, readErr := os.ReadFile(s.path); readErr == nil {
		if writeErr := os.WriteFile(s.path+".bak", currentData, 0600); writeErr != nil {
			s.logger.Warn("failed to create backup", "error", writeErr)
		}
	}

	doc := document{
		Version:   documentVersion,
		UpdatedAt: nowISO(),
		Rules:     s.sortedRulesLocked(),
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal rules: %w", err)
	}
	data = append(data, '\n')

	if err := s.writeAtomic(data); err != nil {
		return err
	}

	if err := os.Chmod(s.path, 0600); err != nil {
		s.logger.Warn("failed to set permissions on rules file", "error", err)
	}

	s.logger.Debug("rules saved", "path", s.path, "count", len(s.rules))
	return nil
}

// writeAtomic writes data to a temp file, fsyncs it, and renames it over the
// target path. On any error the temp file is cleaned up.
func (s *FileRuleStore) writeAtomic(data []byte) error {
	tmpPath := s.path + ".tmp"

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	cleanup := func() {
		_ = f.Close()
		_ = os.Remove(tmpPath)
	}

	if _, err := f.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("fsync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename temp to rules file: %w", err)
	}
	return nil
}

// ListRules returns the rules sorted by id for deterministic ordering.
// A non-nil scope filters by exact match; enabledOnly drops disabled rules.
func (s *FileRuleStore) ListRules(scope *rule.Scope, enabledOnly bool) []rule.Rule {
	s.mu.Lock()
	defer s.mu.Unlock()

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
func (s *FileRuleStore) GetRule(id string) (rule.Rule, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rules[id]
	return r, ok
}

// AddRule upserts a rule by id. CreatedAt is stamped only when unset;
// UpdatedAt is always refreshed. Persists unless suppressed.
func (s *FileRuleStore) AddRule(r rule.Rule, persist bool) (rule.Rule, error) {
	if r.ID == "" {
		return rule.Rule{}, rule.ErrEmptyRuleID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := nowISO()
	if r.CreatedAt == "" {
		r.CreatedAt = now
	}
	r.UpdatedAt = now

	s.rules[r.ID] = r
	if persist {
		if err := s.saveLocked(); err != nil {
			return rule.Rule{}, err
		}
	}
	return r, nil
}

// SetEnabled toggles a rule and stamps UpdatedAt. Returns false if absent.
func (s *FileRuleStore) SetEnabled(id string, enabled bool, persist bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rules[id]
	if !ok {
		return false, nil
	}
	r.Enabled = enabled
	r.UpdatedAt = nowISO()
	s.rules[id] = r

	if persist {
		if err := s.saveLocked(); err != nil {
			return false, err
		}
	}
	return true, nil
}

// Delete removes a rule. Returns false if absent.
func (s *FileRuleStore) Delete(id string, persist bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rules[id]; !ok {
		return false, nil
	}
	delete(s.rules, id)

	if persist {
		if err := s.saveLocked(); err != nil {
			return false, err
		}
	}
	return true, nil
}

// Exists returns true if the rules file exists on disk.
func (s *FileRuleStore) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Path returns the configured file path.
func (s *FileRuleStore) Path() string {
	return s.path
}

// sortedRulesLocked returns the collection sorted by id. Must be called with
// the mutex held.
func (s *FileRuleStore) sortedRulesLocked() []rule.Rule {
	out := make([]rule.Rule, 0, len(s.rules))
	for _, r := range s.rules {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// nowISO returns the current time as an ISO-8601 UTC timestamp.
func nowISO() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// Compile-time interface verification.
var _ rule.Store = (*FileRuleStore)(nil)
