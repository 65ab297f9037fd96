package rulesengine

import (
	"context"
	"sync"

	"github.com/srviswan/pb-synth-tradecapture-svc-sub000/pkg/model"
)

// RuleStore is the in-memory Source backing both the config-seeded rule
// set and the admin REST API. Seed loads the boot-time/hot-reloaded
// config file contents; Put/Delete apply admin-API writes on top of it.
// An admin-written rule shadows a seed rule with the same id permanently
// until deleted — re-seeding never clobbers an admin override, per the
// config-vs-API precedence Open Question (see DESIGN.md).
type RuleStore struct {
	mu       sync.RWMutex
	seed     map[string]model.Rule
	override map[string]model.Rule
	deleted  map[string]bool
}

func NewRuleStore() *RuleStore {
	return &RuleStore{
		seed:     make(map[string]model.Rule),
		override: make(map[string]model.Rule),
		deleted:  make(map[string]bool),
	}
}

// Seed replaces the config-sourced rule set, e.g. on fsnotify reload.
// Admin overrides and deletions survive a reseed.
func (s *RuleStore) Seed(rules []model.Rule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seed = make(map[string]model.Rule, len(rules))
	for _, r := range rules {
		s.seed[r.ID] = r
	}
}

// Put writes or replaces an admin-managed rule, shadowing any
// config-seeded rule sharing its id.
func (s *RuleStore) Put(rule model.Rule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.override[rule.ID] = rule
	delete(s.deleted, rule.ID)
}

// Delete removes an admin-managed rule. If a config-seeded rule shares
// the id, the deletion is remembered so the seed copy stays suppressed
// until the process restarts or the id is re-written via Put.
func (s *RuleStore) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, hadOverride := s.override[id]
	_, hadSeed := s.seed[id]
	delete(s.override, id)
	if hadSeed {
		s.deleted[id] = true
	}
	return hadOverride || hadSeed
}

// Rules implements Source, returning the seed set with admin overrides
// and deletions applied.
func (s *RuleStore) Rules(ctx context.Context) ([]model.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Rule, 0, len(s.seed)+len(s.override))
	for id, r := range s.seed {
		if s.deleted[id] {
			continue
		}
		if _, overridden := s.override[id]; overridden {
			continue
		}
		out = append(out, r)
	}
	for _, r := range s.override {
		out = append(out, r)
	}
	return out, nil
}

// List returns every rule currently visible, for the rule-admin GET
// surface a future diagnostics pass may add.
func (s *RuleStore) List(ctx context.Context) ([]model.Rule, error) {
	return s.Rules(ctx)
}
