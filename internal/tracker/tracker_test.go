package tracker

import (
	"math/rand/v2"
	"slices"
	"sync"
	"testing"
)

func TestConnectIsIdempotent(t *testing.T) {
	tr := New()
	if !tr.Connect(1) {
		t.Error("first Connect(1) should report a new connection")
	}
	if tr.Connect(1) {
		t.Error("second Connect(1) should report an existing connection")
	}
	if tr.Len() != 1 {
		t.Errorf("Len() = %d, want 1", tr.Len())
	}
}

func TestDisconnect(t *testing.T) {
	tr := New()
	tr.Connect(1)
	tr.Connect(2)

	removed, empty := tr.Disconnect(1)
	if !removed || empty {
		t.Errorf("Disconnect(1) = %v, %v, want true, false", removed, empty)
	}
	removed, empty = tr.Disconnect(1)
	if removed || empty {
		t.Errorf("repeated Disconnect(1) = %v, %v, want false, false", removed, empty)
	}
	removed, empty = tr.Disconnect(2)
	if !removed || !empty {
		t.Errorf("Disconnect(2) = %v, %v, want true, true", removed, empty)
	}
	removed, empty = tr.Disconnect(9)
	if removed || !empty {
		t.Errorf("Disconnect(absent) on empty = %v, %v, want false, true", removed, empty)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	tr := New()
	tr.Connect(3)
	tr.Connect(1)
	snap := tr.Snapshot()
	tr.Disconnect(1)
	tr.Connect(7)

	if !slices.Equal(snap, []ConnHandle{1, 3}) {
		t.Errorf("Snapshot() = %v, want [1 3] unaffected by later changes", snap)
	}
	if got := tr.Snapshot(); !slices.Equal(got, []ConnHandle{3, 7}) {
		t.Errorf("Snapshot() = %v, want [3 7]", got)
	}
}

func TestClear(t *testing.T) {
	tr := New()
	tr.Connect(2)
	tr.Connect(1)
	if got := tr.Clear(); !slices.Equal(got, []ConnHandle{1, 2}) {
		t.Errorf("Clear() = %v, want [1 2]", got)
	}
	if tr.Len() != 0 || tr.Contains(1) {
		t.Error("tracker should be empty after Clear()")
	}
}

// TestReplayMatchesUnmatchedConnects replays random event sequences and
// checks the tracked set equals the handles whose last event was a connect.
func TestReplayMatchesUnmatchedConnects(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	for round := 0; round < 200; round++ {
		tr := New()
		model := make(map[ConnHandle]bool)

		for i := 0; i < 50; i++ {
			h := ConnHandle(rng.IntN(6))
			if rng.IntN(2) == 0 {
				isNew := tr.Connect(h)
				if isNew == model[h] {
					t.Fatalf("round %d: Connect(%d) new=%v but model had %v", round, h, isNew, model[h])
				}
				model[h] = true
			} else {
				removed, _ := tr.Disconnect(h)
				if removed != model[h] {
					t.Fatalf("round %d: Disconnect(%d) removed=%v but model had %v", round, h, removed, model[h])
				}
				delete(model, h)
			}
		}

		var want []ConnHandle
		for h := range model {
			want = append(want, h)
		}
		slices.Sort(want)
		if got := tr.Snapshot(); !slices.Equal(got, want) && !(len(got) == 0 && len(want) == 0) {
			t.Fatalf("round %d: Snapshot() = %v, want %v", round, got, want)
		}
	}
}

func TestConcurrentMutation(t *testing.T) {
	tr := New()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(h ConnHandle) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				tr.Connect(h)
				_ = tr.Snapshot()
				tr.Disconnect(h)
			}
		}(ConnHandle(i))
	}
	wg.Wait()
	if tr.Len() != 0 {
		t.Errorf("Len() = %d, want 0", tr.Len())
	}
}
