package selection

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ashureev/shsh-tutor/internal/domain"
	"github.com/ashureev/shsh-tutor/internal/metrics"
	"github.com/ashureev/shsh-tutor/internal/store"
)

func items(typ string, n int) []domain.Item {
	out := make([]domain.Item, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, domain.Item{ID: fmt.Sprintf("%s%d", typ, i), Type: typ})
	}
	return out
}

func newTestManager(t *testing.T, cfg Config, repo store.SelectionRepository) *Manager {
	t.Helper()
	m := NewManager(cfg, repo,
		WithRand(rand.New(rand.NewPCG(1, 2))),
		WithMetrics(metrics.New("test")),
	)
	t.Cleanup(m.Close)
	return m
}

// runs returns the lengths of consecutive same-type streaks.
func runs(types []string) []int {
	var out []int
	for i, typ := range types {
		if i == 0 || typ != types[i-1] {
			out = append(out, 1)
			continue
		}
		out[len(out)-1]++
	}
	return out
}

func strPtr(s string) *string { return &s }

func TestNextEmptyCatalogCreatesNoState(t *testing.T) {
	m := newTestManager(t, Config{}, nil)

	if _, ok := m.Next("s1", nil, NextOptions{}); ok {
		t.Fatal("Expected no item for an empty catalog")
	}
	if _, ok := m.Snapshot("s1"); ok {
		t.Error("Expected no session state after empty-catalog call")
	}
	if m.SessionCount() != 0 {
		t.Errorf("Expected 0 sessions, got %d", m.SessionCount())
	}
}

func TestRecentWindowIsBounded(t *testing.T) {
	m := newTestManager(t, Config{RecentWindow: 3}, nil)
	catalog := append(items("a", 2), items("b", 5)...)

	for i := 0; i < 50; i++ {
		if _, ok := m.Next("s1", catalog, NextOptions{}); !ok {
			t.Fatalf("call %d: expected an item", i)
		}
		snap, _ := m.Snapshot("s1")
		if len(snap.RecentIDs) > 3 {
			t.Fatalf("call %d: recent ids exceed window: %v", i, snap.RecentIDs)
		}
	}
}

func TestNoImmediateRepeat(t *testing.T) {
	m := newTestManager(t, Config{RecentWindow: 5}, nil)
	catalog := items("quiz", 8)

	var served []string
	for i := 0; i < 100; i++ {
		it, ok := m.Next("s1", catalog, NextOptions{})
		if !ok {
			t.Fatalf("call %d: expected an item", i)
		}
		start := max(0, len(served)-5)
		if slices.Contains(served[start:], it.ID) {
			t.Fatalf("call %d: %s repeated within the last 5 serves %v", i, it.ID, served[start:])
		}
		served = append(served, it.ID)
	}
}

func TestSmallCatalogAllowsRepeats(t *testing.T) {
	m := newTestManager(t, Config{RecentWindow: 5}, nil)
	catalog := items("quiz", 2)

	for i := 0; i < 10; i++ {
		if _, ok := m.Next("s1", catalog, NextOptions{}); !ok {
			t.Fatalf("call %d: expected an item once the pool is exhausted", i)
		}
	}
}

func TestSimplePolicyRotatesEveryThreshold(t *testing.T) {
	m := newTestManager(t, Config{DefaultPolicy: "simple", Threshold: 3}, nil)
	catalog := append(items("A", 4), items("B", 4)...)

	var types []string
	for i := 0; i < 30; i++ {
		it, ok := m.Next("s_rot00001", catalog, NextOptions{})
		if !ok {
			t.Fatalf("call %d: expected an item", i)
		}
		types = append(types, it.Type)
	}

	streaks := runs(types)
	for i, n := range streaks {
		if n != 3 {
			t.Fatalf("Expected streaks of 3, got %v (types %v)", streaks, types)
		}
		if i > 0 && types[3*i] == types[3*(i-1)] {
			t.Fatalf("Expected type to alternate, got %v", types)
		}
	}
}

func TestSimplePolicyScenarioThresholdTwo(t *testing.T) {
	m := newTestManager(t, Config{Threshold: 2}, nil)
	catalog := append(items("X", 5), items("Y", 5)...)
	opts := NextOptions{Policy: "simple"}

	var got []domain.Item
	for i := 0; i < 5; i++ {
		it, ok := m.Next("s1", catalog, opts)
		if !ok {
			t.Fatalf("call %d: expected an item", i+1)
		}
		got = append(got, it)
	}

	first := got[0].Type
	if got[1].Type != first {
		t.Errorf("Expected calls 1-2 to share a type, got %s then %s", first, got[1].Type)
	}
	if got[0].ID == got[1].ID {
		t.Errorf("Expected no repeat between calls 1 and 2, got %s twice", got[0].ID)
	}
	if got[2].Type == first || got[3].Type != got[2].Type {
		t.Errorf("Expected calls 3-4 to switch to the other type, got %s, %s", got[2].Type, got[3].Type)
	}
	if got[4].Type != first {
		t.Errorf("Expected call 5 to switch back to %s, got %s", first, got[4].Type)
	}
}

func TestEnginePolicy(t *testing.T) {
	catalog := append(items("a", 5), items("b", 5)...)

	t.Run("non-strict continues last type", func(t *testing.T) {
		m := newTestManager(t, Config{DefaultPolicy: "engine"}, nil)
		var types []string
		for i := 0; i < 8; i++ {
			it, _ := m.Next("s1", catalog, NextOptions{})
			types = append(types, it.Type)
		}
		if streaks := runs(types); len(streaks) != 1 {
			t.Errorf("Expected a single streak, got %v", types)
		}
	})

	t.Run("strict rotates at threshold", func(t *testing.T) {
		m := newTestManager(t, Config{DefaultPolicy: "engine", EngineStrict: true, Threshold: 2}, nil)
		var types []string
		for i := 0; i < 9; i++ {
			it, _ := m.Next("s1", catalog, NextOptions{})
			types = append(types, it.Type)
		}
		streaks := runs(types)
		for i, n := range streaks[:len(streaks)-1] {
			if n != 2 {
				t.Fatalf("streak %d: expected length 2, got %v (types %v)", i, streaks, types)
			}
		}
	})
}

func TestPlaylistRestriction(t *testing.T) {
	m := newTestManager(t, Config{}, nil)
	catalog := items("q", 10)
	playlist := []string{"q7", "q2", "q9"}

	snap := m.SetPlaylist("s1", []string{"q7", "", "q2", "q7", "q9"})
	if !slices.Equal(snap.PlaylistIDs, playlist) {
		t.Fatalf("Expected playlist %v, got %v", playlist, snap.PlaylistIDs)
	}

	var served []string
	for i := 0; i < 12; i++ {
		it, ok := m.Next("s1", catalog, NextOptions{})
		if !ok {
			t.Fatalf("call %d: expected an item", i)
		}
		if !slices.Contains(playlist, it.ID) {
			t.Fatalf("call %d: %s is outside the playlist", i, it.ID)
		}
		served = append(served, it.ID)
	}
	if !slices.Equal(served[:3], playlist) {
		t.Errorf("Expected playlist order %v, got %v", playlist, served[:3])
	}

	snap = m.ClearPlaylist("s1")
	if len(snap.PlaylistIDs) != 0 {
		t.Errorf("Expected playlist cleared, got %v", snap.PlaylistIDs)
	}
	it, _ := m.Next("s1", catalog, NextOptions{})
	if slices.Contains(playlist, it.ID) {
		t.Errorf("Expected a non-playlist item after clearing, got %s", it.ID)
	}
}

func TestPlaylistWithUnknownIDsFallsBack(t *testing.T) {
	m := newTestManager(t, Config{}, nil)
	catalog := items("q", 3)

	m.SetPlaylist("s1", []string{"missing"})
	if _, ok := m.Next("s1", catalog, NextOptions{}); !ok {
		t.Fatal("Expected the unrestricted catalog to serve")
	}
}

func TestTargetTypeOverrideWins(t *testing.T) {
	catalog := append(items("a", 4), items("b", 4)...)

	t.Run("over simple policy", func(t *testing.T) {
		m := newTestManager(t, Config{DefaultPolicy: "simple", Threshold: 1}, nil)
		for i := 0; i < 6; i++ {
			it, _ := m.Next("s1", catalog, NextOptions{TargetType: strPtr(" B ")})
			if it.Type != "b" {
				t.Fatalf("call %d: expected type b, got %s", i, it.Type)
			}
		}
	})

	t.Run("over engine recommendation", func(t *testing.T) {
		m := newTestManager(t, Config{DefaultPolicy: "engine"}, nil)
		m.Next("s1", catalog, NextOptions{TargetType: strPtr("a")})
		it, _ := m.Next("s1", catalog, NextOptions{TargetType: strPtr("b")})
		if it.Type != "b" {
			t.Errorf("Expected type b, got %s", it.Type)
		}
	})

	t.Run("over playlist", func(t *testing.T) {
		m := newTestManager(t, Config{}, nil)
		m.SetPlaylist("s1", []string{"a1", "a2", "b3"})
		it, _ := m.Next("s1", catalog, NextOptions{TargetType: strPtr("b")})
		if it.ID != "b3" {
			t.Errorf("Expected b3, got %s", it.ID)
		}
	})

	t.Run("unknown type falls back to catalog", func(t *testing.T) {
		m := newTestManager(t, Config{}, nil)
		if _, ok := m.Next("s1", catalog, NextOptions{TargetType: strPtr("zzz")}); !ok {
			t.Error("Expected an item from the unfiltered catalog")
		}
	})
}

func TestAnonSessionNeverRotates(t *testing.T) {
	m := newTestManager(t, Config{DefaultPolicy: "simple", Threshold: 1}, nil)
	catalog := append(items("a", 5), items("b", 5)...)

	for i := 0; i < 3; i++ {
		m.Next(domain.AnonSessionID, catalog, NextOptions{})
	}
	snap, ok := m.Snapshot(domain.AnonSessionID)
	if !ok {
		t.Fatal("Expected anon session state in memory")
	}
	if snap.ServesInCurrentType < 2 {
		t.Errorf("Expected streak to grow without rotation, got %d", snap.ServesInCurrentType)
	}
}

func TestPersistenceRoundTrip(t *testing.T) {
	repo, err := store.NewFileStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("Failed to create file store: %v", err)
	}
	catalog := append(items("a", 4), items("b", 4)...)

	m1 := NewManager(Config{DefaultPolicy: "simple"}, repo)
	for i := 0; i < 4; i++ {
		m1.Next("s_00112233", catalog, NextOptions{})
	}
	m1.SetPlaylist("s_44556677", []string{"b1", "b2"})
	m1.Next(domain.AnonSessionID, catalog, NextOptions{})
	want, _ := m1.Snapshot("s_00112233")
	m1.Close()

	stored, err := repo.LoadSelectionState(context.Background())
	if err != nil {
		t.Fatalf("LoadSelectionState failed: %v", err)
	}
	if _, ok := stored[domain.AnonSessionID]; ok {
		t.Error("Expected anon session to never be persisted")
	}

	m2 := newTestManager(t, Config{}, repo)
	got, ok := m2.Snapshot("s_00112233")
	if !ok {
		t.Fatal("Expected session to be restored")
	}
	if got.LastType != want.LastType || got.ActiveType != want.ActiveType ||
		got.ServesInCurrentType != want.ServesInCurrentType || !slices.Equal(got.RecentIDs, want.RecentIDs) {
		t.Errorf("Expected restored %+v, got %+v", want, got)
	}

	pl, ok := m2.Snapshot("s_44556677")
	if !ok || !slices.Equal(pl.PlaylistIDs, []string{"b1", "b2"}) {
		t.Errorf("Expected playlist to be restored, got %+v", pl)
	}
}

func TestConcurrentNext(t *testing.T) {
	repo, err := store.NewFileStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("Failed to create file store: %v", err)
	}
	m := newTestManager(t, Config{DefaultPolicy: "simple", RecentWindow: 4}, repo)
	catalog := append(items("a", 6), items("b", 6)...)

	var wg sync.WaitGroup
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			sid := fmt.Sprintf("s_%08d", g%4)
			for i := 0; i < 50; i++ {
				if _, ok := m.Next(sid, catalog, NextOptions{}); !ok {
					t.Errorf("goroutine %d: expected an item", g)
					return
				}
				if i%10 == 0 {
					m.SetPlaylist(sid, nil)
				}
			}
		}(g)
	}
	wg.Wait()

	for g := 0; g < 4; g++ {
		snap, ok := m.Snapshot(fmt.Sprintf("s_%08d", g))
		if !ok {
			t.Fatalf("Expected session %d to exist", g)
		}
		if len(snap.RecentIDs) > 4 {
			t.Errorf("session %d: recent ids exceed window: %v", g, snap.RecentIDs)
		}
	}
	if m.SessionCount() != 4 {
		t.Errorf("Expected 4 sessions, got %d", m.SessionCount())
	}
}

// failingRepo is an enabled backend whose load fails and whose saves are slow
// and fail.
type failingRepo struct {
	saveDelay time.Duration
	saves     atomic.Int32
}

func (r *failingRepo) Enabled() bool   { return true }
func (r *failingRepo) Backend() string { return "failing" }

func (r *failingRepo) LoadSelectionState(context.Context) (map[string]domain.SessionSnapshot, error) {
	return nil, errors.New("load failed")
}

func (r *failingRepo) SaveSelectionState(context.Context, map[string]domain.SessionSnapshot) error {
	time.Sleep(r.saveDelay)
	r.saves.Add(1)
	return errors.New("disk full")
}

func (r *failingRepo) AppendEvent(context.Context, domain.AttemptEvent) error { return nil }

func (r *failingRepo) ReadEventsForSession(context.Context, string) ([]domain.AttemptEvent, error) {
	return nil, nil
}

func (r *failingRepo) Ping(context.Context) error { return errors.New("unreachable") }
func (r *failingRepo) Close() error               { return nil }

func TestFailingBackendDoesNotAffectServing(t *testing.T) {
	repo := &failingRepo{saveDelay: 100 * time.Millisecond}
	m := NewManager(Config{DefaultPolicy: "simple", Threshold: 2}, repo,
		WithRand(rand.New(rand.NewPCG(3, 4))),
	)

	if m.SessionCount() != 0 {
		t.Fatalf("Expected an empty manager after a failed load, got %d sessions", m.SessionCount())
	}

	catalog := append(items("x", 3), items("y", 3)...)
	var types []string
	start := time.Now()
	for i := 0; i < 6; i++ {
		it, ok := m.Next("s_0000beef", catalog, NextOptions{})
		if !ok {
			t.Fatalf("call %d: expected an item", i+1)
		}
		types = append(types, it.Type)
	}
	// Six synchronous saves would take at least 600ms.
	if elapsed := time.Since(start); elapsed > 300*time.Millisecond {
		t.Errorf("Expected serving not to wait on saves, took %v", elapsed)
	}

	if streaks := runs(types); !slices.Equal(streaks, []int{2, 2, 2}) {
		t.Errorf("Expected streaks of 2, got %v (types %v)", streaks, types)
	}
	if types[0] == types[2] || types[0] != types[4] {
		t.Errorf("Expected types to alternate, got %v", types)
	}

	snap, ok := m.Snapshot("s_0000beef")
	if !ok || len(snap.RecentIDs) == 0 {
		t.Errorf("Expected in-memory state to survive failed saves, got %+v", snap)
	}

	done := make(chan struct{})
	go func() {
		m.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Expected Close to return")
	}
	if repo.saves.Load() == 0 {
		t.Error("Expected at least one save attempt")
	}
}
