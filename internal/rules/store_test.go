package rules

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func TestStoreUpsertAndLookup(t *testing.T) {
	s := NewStore(zerolog.Nop())

	if err := s.Upsert(validThreshold("r1")); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if err := s.Upsert(validThreshold("r2")); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	active := s.ActiveRules("ES")
	if len(active) != 2 {
		t.Fatalf("ActiveRules returned %d rules, want 2", len(active))
	}
	if active[0].ID != "r1" || active[1].ID != "r2" {
		t.Errorf("active rules not ordered by ID: %s, %s", active[0].ID, active[1].ID)
	}

	got, ok := s.Get("r1")
	if !ok || got.Revision == 0 {
		t.Errorf("Get(r1) = (%+v, %v), want stored rule with revision", got, ok)
	}
}

func TestStoreRejectsInvalidRule(t *testing.T) {
	s := NewStore(zerolog.Nop())

	bad := validThreshold("bad")
	bad.Threshold = decimal.Zero
	if err := s.Upsert(bad); err == nil {
		t.Fatal("Upsert accepted invalid rule")
	}

	if got := s.ActiveRules("ES"); len(got) != 0 {
		t.Errorf("invalid rule reached evaluation index: %d rules", len(got))
	}
	invalid := s.InvalidRules()
	if _, ok := invalid["bad"]; !ok {
		t.Errorf("invalid rule not flagged: %v", invalid)
	}

	// A corrected upsert clears the flag.
	if err := s.Upsert(validThreshold("bad")); err != nil {
		t.Fatalf("corrected upsert failed: %v", err)
	}
	if _, ok := s.InvalidRules()["bad"]; ok {
		t.Error("invalid flag survived a valid upsert")
	}
}

func TestStoreUpsertBumpsRevision(t *testing.T) {
	s := NewStore(zerolog.Nop())

	if err := s.Upsert(validThreshold("r1")); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	first, _ := s.Get("r1")

	updated := validThreshold("r1")
	updated.Threshold = decimal.NewFromInt(4600)
	if err := s.Upsert(updated); err != nil {
		t.Fatalf("second Upsert failed: %v", err)
	}
	second, _ := s.Get("r1")

	if second.Revision <= first.Revision {
		t.Errorf("revision %d not bumped past %d", second.Revision, first.Revision)
	}
}

func TestStoreActivateDeactivate(t *testing.T) {
	s := NewStore(zerolog.Nop())
	if err := s.Upsert(validThreshold("r1")); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	if err := s.Deactivate("r1"); err != nil {
		t.Fatalf("Deactivate failed: %v", err)
	}
	if got := s.ActiveRules("ES"); len(got) != 0 {
		t.Errorf("deactivated rule still active: %d rules", len(got))
	}
	before, _ := s.Get("r1")

	if err := s.Activate("r1"); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}
	after, _ := s.Get("r1")
	if len(s.ActiveRules("ES")) != 1 {
		t.Error("reactivated rule missing from evaluation index")
	}
	if after.Revision <= before.Revision {
		t.Error("reactivation did not bump the revision")
	}

	if err := s.Activate("missing"); err == nil {
		t.Error("Activate of unknown rule succeeded")
	}
}

func TestStoreMarkTriggeredKeepsRevision(t *testing.T) {
	s := NewStore(zerolog.Nop())
	if err := s.Upsert(validThreshold("r1")); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	before, _ := s.Get("r1")

	ts := time.Now().UTC()
	s.MarkTriggered("r1", ts)

	after, _ := s.Get("r1")
	if !after.LastTriggered.Equal(ts) {
		t.Errorf("LastTriggered = %s, want %s", after.LastTriggered, ts)
	}
	if after.Revision != before.Revision {
		t.Errorf("MarkTriggered changed revision %d -> %d", before.Revision, after.Revision)
	}
}

func TestStoreSnapshotIsolation(t *testing.T) {
	s := NewStore(zerolog.Nop())
	if err := s.Upsert(validThreshold("r1")); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	held := s.ActiveRules("ES")

	s.Delete("r1")

	// The previously obtained snapshot slice is unchanged.
	if len(held) != 1 || held[0].ID != "r1" {
		t.Error("held snapshot mutated by Delete")
	}
	if got := s.ActiveRules("ES"); len(got) != 0 {
		t.Errorf("deleted rule still active: %d rules", len(got))
	}
	if _, ok := s.Get("r1"); ok {
		t.Error("deleted rule still retrievable")
	}
}
