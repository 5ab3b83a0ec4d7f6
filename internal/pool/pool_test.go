package pool

import (
	"context"
	"testing"

	"github.com/atlas-desktop/strategy-engine/internal/pipelineerr"
)

type fakeStore struct {
	active  map[string]float64
	retired map[string]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{active: make(map[string]float64), retired: make(map[string]string)}
}

func (f *fakeStore) CountActive(ctx context.Context) (int, error) {
	return len(f.active), nil
}

func (f *fakeStore) WorstActive(ctx context.Context) (string, float64, error) {
	if len(f.active) == 0 {
		return "", 0, pipelineerr.ErrNotFound
	}
	var worstID string
	worstScore := 0.0
	first := true
	for id, score := range f.active {
		if first || score < worstScore || (score == worstScore && id < worstID) {
			worstID, worstScore, first = id, score, false
		}
	}
	return worstID, worstScore, nil
}

func (f *fakeStore) AdmitToPool(ctx context.Context, id string, score float64) error {
	f.active[id] = score
	return nil
}

func (f *fakeStore) EvictAndAdmit(ctx context.Context, evictID, candidateID string, candidateScore float64) error {
	delete(f.active, evictID)
	f.retired[evictID] = "evicted"
	f.active[candidateID] = candidateScore
	return nil
}

func (f *fakeStore) RetireStrategy(ctx context.Context, id, reason string) error {
	delete(f.active, id)
	f.retired[id] = reason
	return nil
}

// TestLeaderboardEvictionScenario4 matches the spec's seed scenario 4: pool
// at {A=80,B=75,C=62,min=55}, candidate scores 70, evicts the minimum.
func TestLeaderboardEvictionScenario4(t *testing.T) {
	store := newFakeStore()
	store.active["A"] = 80
	store.active["B"] = 75
	store.active["C"] = 62
	store.active["MIN"] = 55

	mgr := NewManager(store, Config{MaxSize: 4, MinScoreEntry: 50})
	outcome, err := mgr.TryEnterPool(context.Background(), "NEW", 70)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !outcome.Admitted {
		t.Fatalf("expected admission, got reason %q", outcome.Reason)
	}
	if _, stillActive := store.active["MIN"]; stillActive {
		t.Fatal("expected MIN to have been evicted")
	}
	if _, reason := store.retired["MIN"]; !reason {
		t.Fatal("expected MIN to be recorded as retired")
	}
}

// TestPoolFullTieDoesNotEvict matches §8's boundary behavior: a candidate
// scoring equal to the current minimum does not evict (strict-less-than).
func TestPoolFullTieDoesNotEvict(t *testing.T) {
	store := newFakeStore()
	store.active["A"] = 80
	store.active["MIN"] = 60

	mgr := NewManager(store, Config{MaxSize: 2, MinScoreEntry: 50})
	outcome, err := mgr.TryEnterPool(context.Background(), "NEW", 60)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Admitted {
		t.Fatal("a tied score must not evict")
	}
	if _, stillActive := store.active["MIN"]; !stillActive {
		t.Fatal("MIN should remain active on a tie")
	}
}

// TestDormantHoldoutRejectionScenario3 matches scenario 3: pool full with
// minimum 60, candidate scores 55, rejected below the pool minimum.
func TestDormantHoldoutRejectionScenario3(t *testing.T) {
	store := newFakeStore()
	store.active["MIN"] = 60

	mgr := NewManager(store, Config{MaxSize: 1, MinScoreEntry: 50})
	outcome, err := mgr.TryEnterPool(context.Background(), "CANDIDATE", 55)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Admitted {
		t.Fatal("candidate below the current minimum must not be admitted")
	}
}

func TestTryEnterPoolBelowFloorRetiresImmediately(t *testing.T) {
	store := newFakeStore()
	mgr := NewManager(store, Config{MaxSize: 10, MinScoreEntry: 50})
	outcome, err := mgr.TryEnterPool(context.Background(), "LOW", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Admitted {
		t.Fatal("score below entry floor must never be admitted")
	}
}
