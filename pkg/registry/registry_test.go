package registry

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestUpsertKeepsOneRecordPerDevice(t *testing.T) {
	reg := New(nil)
	base := time.Unix(1_700_000_000, 0)

	if !reg.Upsert(Peer{DeviceID: "a", DeviceName: "alpha", Address: "10.0.0.1:12345", LastSeen: base}) {
		t.Fatalf("expected first upsert to report new peer")
	}
	reg.Upsert(Peer{DeviceID: "b", DeviceName: "bravo", Address: "10.0.0.2:12345", LastSeen: base})
	if reg.Upsert(Peer{DeviceID: "a", DeviceName: "alpha-renamed", Address: "10.0.0.9:12345", LastSeen: base.Add(5 * time.Second)}) {
		t.Fatalf("expected refresh to report existing peer")
	}

	peers := reg.Snapshot()
	if len(peers) != 2 {
		t.Fatalf("expected 2 peers, got %d", len(peers))
	}

	a, ok := reg.Get("a")
	if !ok {
		t.Fatalf("peer a missing")
	}
	if a.DeviceName != "alpha-renamed" || a.Address != "10.0.0.9:12345" {
		t.Fatalf("refresh did not overwrite fields: %+v", a)
	}
	if !a.LastSeen.Equal(base.Add(5 * time.Second)) {
		t.Fatalf("expected latest last-seen, got %v", a.LastSeen)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	reg := New(nil)
	reg.Upsert(Peer{DeviceID: "a", DeviceName: "alpha", LastSeen: time.Now()})

	peers := reg.Snapshot()
	peers[0].DeviceName = "mutated"

	got, _ := reg.Get("a")
	if got.DeviceName != "alpha" {
		t.Fatalf("snapshot mutation leaked into registry: %+v", got)
	}
}

func TestSnapshotSortedByName(t *testing.T) {
	reg := New(nil)
	now := time.Now()
	reg.Upsert(Peer{DeviceID: "3", DeviceName: "carol", LastSeen: now})
	reg.Upsert(Peer{DeviceID: "1", DeviceName: "alice", LastSeen: now})
	reg.Upsert(Peer{DeviceID: "2", DeviceName: "bob", LastSeen: now})

	peers := reg.Snapshot()
	if peers[0].DeviceName != "alice" || peers[1].DeviceName != "bob" || peers[2].DeviceName != "carol" {
		t.Fatalf("unexpected order: %+v", peers)
	}
}

func TestEvictStaleRemovesOldAndNotifiesOnce(t *testing.T) {
	var mu sync.Mutex
	lost := make(map[string]int)
	reg := New(func(p Peer) {
		mu.Lock()
		lost[p.DeviceID]++
		mu.Unlock()
	})

	now := time.Unix(1_700_000_100, 0)
	reg.Upsert(Peer{DeviceID: "fresh", LastSeen: now.Add(-5 * time.Second)})
	reg.Upsert(Peer{DeviceID: "edge", LastSeen: now.Add(-30 * time.Second)})
	reg.Upsert(Peer{DeviceID: "old", LastSeen: now.Add(-31 * time.Second)})
	reg.Upsert(Peer{DeviceID: "ancient", LastSeen: now.Add(-10 * time.Minute)})

	evicted := reg.EvictStale(now, 30*time.Second)
	if len(evicted) != 2 {
		t.Fatalf("expected 2 evicted, got %d", len(evicted))
	}

	for _, p := range reg.Snapshot() {
		if now.Sub(p.LastSeen) > 30*time.Second {
			t.Fatalf("stale peer survived: %+v", p)
		}
	}
	if reg.Len() != 2 {
		t.Fatalf("expected 2 remaining peers, got %d", reg.Len())
	}

	// A second sweep has nothing left to report.
	reg.EvictStale(now, 30*time.Second)

	mu.Lock()
	defer mu.Unlock()
	if len(lost) != 2 || lost["old"] != 1 || lost["ancient"] != 1 {
		t.Fatalf("unexpected lost notifications: %v", lost)
	}
}

func TestEvictCallbackMayReadRegistry(t *testing.T) {
	var reg *Registry
	done := make(chan int, 1)
	reg = New(func(p Peer) {
		done <- reg.Len()
	})
	reg.Upsert(Peer{DeviceID: "old", LastSeen: time.Unix(0, 0)})

	reg.EvictStale(time.Now(), time.Second)
	select {
	case n := <-done:
		if n != 0 {
			t.Fatalf("expected empty registry inside callback, got %d", n)
		}
	case <-time.After(time.Second):
		t.Fatalf("lost callback deadlocked")
	}
}

func TestConcurrentUpsertsAreAllVisible(t *testing.T) {
	reg := New(nil)
	const n = 64

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			reg.Upsert(Peer{DeviceID: fmt.Sprintf("dev-%d", i), DeviceName: "peer", LastSeen: time.Now()})
			_ = reg.Snapshot()
		}(i)
	}
	wg.Wait()

	if got := len(reg.Snapshot()); got != n {
		t.Fatalf("expected %d peers, got %d", n, got)
	}
}
