package routing

import (
	"fmt"
	"sync"
	"testing"
)

func newTestRegistry() *Registry {
	r := NewRegistry(0.2, 3)
	for _, p := range testProfiles() {
		r.Register(p)
	}
	return r
}

func TestRegistryFromConfig(t *testing.T) {
	cfg := loadTestConfig(t)
	r := NewRegistryFromConfig(cfg)

	profiles := r.List()
	if len(profiles) != len(cfg.Backends) {
		t.Fatalf("expected %d profiles, got %d", len(cfg.Backends), len(profiles))
	}
	for _, p := range profiles {
		if !p.Available {
			t.Errorf("backend %s should start available", p.ID)
		}
	}
}

func TestRegistryListSortedSnapshot(t *testing.T) {
	r := newTestRegistry()

	profiles := r.List()
	for i := 1; i < len(profiles); i++ {
		if profiles[i-1].ID >= profiles[i].ID {
			t.Errorf("List not sorted: %s before %s", profiles[i-1].ID, profiles[i].ID)
		}
	}

	// Mutating the snapshot must not affect the registry.
	profiles[0].Available = false
	if p, _ := r.Get(profiles[0].ID); !p.Available {
		t.Error("snapshot mutation leaked into registry")
	}
}

func TestRegistryGetMissing(t *testing.T) {
	r := newTestRegistry()
	if _, ok := r.Get("no-such-backend"); ok {
		t.Error("expected Get on unknown ID to report not found")
	}
}

func TestRegistryUpdateLatencyEMA(t *testing.T) {
	r := NewRegistry(0.2, 3)
	r.Register(BackendProfile{ID: "b", AvgLatencyMs: 1000, Available: true})

	r.UpdateLatency("b", 500)
	p, _ := r.Get("b")
	// 0.2*500 + 0.8*1000 = 900
	if p.AvgLatencyMs != 900 {
		t.Errorf("EMA latency = %d, want 900", p.AvgLatencyMs)
	}
}

func TestRegistryFirstLatencySampleSeedsAverage(t *testing.T) {
	r := NewRegistry(0.2, 3)
	r.Register(BackendProfile{ID: "b", Available: true})

	r.UpdateLatency("b", 1200)
	p, _ := r.Get("b")
	if p.AvgLatencyMs != 1200 {
		t.Errorf("first sample latency = %d, want 1200", p.AvgLatencyMs)
	}
}

func TestRegistryFailureStreakFlipsHealth(t *testing.T) {
	r := NewRegistry(0.2, 3)
	r.Register(BackendProfile{ID: "b", Available: true})

	if flipped := r.RecordFailure("b"); flipped {
		t.Error("first failure should not flip health")
	}
	if flipped := r.RecordFailure("b"); flipped {
		t.Error("second failure should not flip health")
	}
	if flipped := r.RecordFailure("b"); !flipped {
		t.Error("third failure should flip health")
	}

	p, _ := r.Get("b")
	if p.Available {
		t.Error("backend should be unavailable after three consecutive failures")
	}

	// Already unavailable: further failures do not re-flip.
	if flipped := r.RecordFailure("b"); flipped {
		t.Error("failure on unavailable backend reported another flip")
	}
}

func TestRegistrySuccessResetsStreak(t *testing.T) {
	r := NewRegistry(0.2, 3)
	r.Register(BackendProfile{ID: "b", Available: true})

	r.RecordFailure("b")
	r.RecordFailure("b")
	r.RecordSuccess("b", 300)
	r.RecordFailure("b")
	r.RecordFailure("b")

	p, _ := r.Get("b")
	if !p.Available {
		t.Error("streak should have been reset by success; backend flipped too early")
	}
}

func TestRegistryUpdateHealthRestores(t *testing.T) {
	r := NewRegistry(0.2, 1)
	r.Register(BackendProfile{ID: "b", Available: true})

	r.RecordFailure("b")
	if p, _ := r.Get("b"); p.Available {
		t.Fatal("expected backend down after failure with threshold 1")
	}

	r.UpdateHealth("b", true)
	p, _ := r.Get("b")
	if !p.Available {
		t.Error("UpdateHealth(true) did not restore availability")
	}
	// Streak cleared: one more failure needed to flip again.
	if flipped := r.RecordFailure("b"); !flipped {
		t.Error("expected fresh streak after health restore")
	}
}

func TestRegistryDeregister(t *testing.T) {
	r := newTestRegistry()
	r.Deregister("fast-generic")

	if _, ok := r.Get("fast-generic"); ok {
		t.Error("deregistered backend still present")
	}
	if len(r.List()) != 2 {
		t.Errorf("expected 2 profiles after deregister, got %d", len(r.List()))
	}
}

func TestRegistryConcurrentUpdates(t *testing.T) {
	r := NewRegistry(0.2, 3)
	for i := 0; i < 4; i++ {
		r.Register(BackendProfile{ID: fmt.Sprintf("b%d", i), AvgLatencyMs: 100, Available: true})
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		id := fmt.Sprintf("b%d", i)
		for j := 0; j < 50; j++ {
			wg.Add(2)
			go func() {
				defer wg.Done()
				r.UpdateLatency(id, 200)
			}()
			go func() {
				defer wg.Done()
				r.List()
			}()
		}
	}
	wg.Wait()

	for i := 0; i < 4; i++ {
		p, ok := r.Get(fmt.Sprintf("b%d", i))
		if !ok || p.AvgLatencyMs < 100 || p.AvgLatencyMs > 200 {
			t.Errorf("backend b%d latency %d out of expected range after concurrent updates", i, p.AvgLatencyMs)
		}
	}
}
