package rules

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Store is a hot-reloadable index of trigger rules keyed by symbol. Reads are
// lock-free against an immutable snapshot; writes rebuild the snapshot under a
// mutex and swap it atomically. Reads vastly outnumber writes here, so
// copy-on-write beats fine-grained locking on the tick path.
type Store struct {
	logger zerolog.Logger

	mu      sync.Mutex
	nextRev uint64
	snap    atomic.Pointer[snapshot]
}

type snapshot struct {
	byID     map[string]*Rule
	bySymbol map[string][]*Rule
	invalid  map[string]string
}

// NewStore constructs an empty Store.
func NewStore(logger zerolog.Logger) *Store {
	s := &Store{logger: logger.With().Str("component", "rule_store").Logger()}
	s.snap.Store(&snapshot{
		byID:     make(map[string]*Rule),
		bySymbol: make(map[string][]*Rule),
		invalid:  make(map[string]string),
	})
	return s
}

// ActiveRules returns the active, valid rules for a symbol, ordered by ID.
// The returned slice belongs to an immutable snapshot and must not be
// modified.
func (s *Store) ActiveRules(symbol string) []*Rule {
	return s.snap.Load().bySymbol[symbol]
}

// Get returns a copy of the rule with the given ID.
func (s *Store) Get(id string) (Rule, bool) {
	rule, ok := s.snap.Load().byID[id]
	if !ok {
		return Rule{}, false
	}
	return *rule, true
}

// All returns copies of every stored rule, ordered by ID.
func (s *Store) All() []Rule {
	snap := s.snap.Load()
	out := make([]Rule, 0, len(snap.byID))
	for _, rule := range snap.byID {
		out = append(out, *rule)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// InvalidRules reports rule IDs rejected by validation, with the reason. This
// is the rule-health flag surfaced to the management interface.
func (s *Store) InvalidRules() map[string]string {
	snap := s.snap.Load()
	out := make(map[string]string, len(snap.invalid))
	for id, reason := range snap.invalid {
		out[id] = reason
	}
	return out
}

// Upsert inserts or replaces a rule and bumps its revision, so the evaluation
// engine starts the rule from clean state. A rule that fails validation is
// kept out of the evaluation index, flagged invalid, and the error returned;
// the warning is logged once here rather than on every tick.
func (s *Store) Upsert(rule Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := rule.Validate()

	s.nextRev++
	rule.Revision = s.nextRev

	snap := s.rebuild(func(next *snapshot) {
		if err != nil {
			delete(next.byID, rule.ID)
			next.invalid[rule.ID] = err.Error()
			return
		}
		delete(next.invalid, rule.ID)
		next.byID[rule.ID] = &rule
	})
	s.snap.Store(snap)

	if err != nil {
		s.logger.Warn().Str("rule_id", rule.ID).Err(err).Msg("rule rejected as invalid; excluded from evaluation")
		return fmt.Errorf("upsert rule %s: %w", rule.ID, err)
	}
	return nil
}

// Deactivate excludes a rule from evaluation without deleting it.
func (s *Store) Deactivate(id string) error {
	return s.setActive(id, false)
}

// Activate re-enables a deactivated rule. The revision bump restarts
// detection from clean state.
func (s *Store) Activate(id string) error {
	return s.setActive(id, true)
}

func (s *Store) setActive(id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.snap.Load().byID[id]
	if !ok {
		return fmt.Errorf("rule %s not found", id)
	}

	rule := *cur
	rule.Active = active
	s.nextRev++
	rule.Revision = s.nextRev

	s.snap.Store(s.rebuild(func(next *snapshot) {
		next.byID[id] = &rule
	}))
	return nil
}

// Delete removes a rule entirely.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snap.Store(s.rebuild(func(next *snapshot) {
		delete(next.byID, id)
		delete(next.invalid, id)
	}))
}

// MarkTriggered records the last fire time for a rule. The revision is left
// untouched: firing must not reset the rule's evaluation state.
func (s *Store) MarkTriggered(id string, ts time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.snap.Load().byID[id]
	if !ok {
		return
	}

	rule := *cur
	rule.LastTriggered = ts

	s.snap.Store(s.rebuild(func(next *snapshot) {
		next.byID[id] = &rule
	}))
}

// rebuild clones the current snapshot, applies mutate, and reindexes the
// per-symbol view. Callers hold s.mu.
func (s *Store) rebuild(mutate func(*snapshot)) *snapshot {
	cur := s.snap.Load()
	next := &snapshot{
		byID:    make(map[string]*Rule, len(cur.byID)+1),
		invalid: make(map[string]string, len(cur.invalid)),
	}
	for id, rule := range cur.byID {
		next.byID[id] = rule
	}
	for id, reason := range cur.invalid {
		next.invalid[id] = reason
	}

	mutate(next)

	next.bySymbol = make(map[string][]*Rule)
	for _, rule := range next.byID {
		if !rule.Active {
			continue
		}
		next.bySymbol[rule.Symbol] = append(next.bySymbol[rule.Symbol], rule)
	}
	for _, list := range next.bySymbol {
		sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	}
	return next
}
