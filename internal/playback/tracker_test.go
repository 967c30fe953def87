// Marquee - Live Event Viewing Sessions and Watch-Together Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

package playback

import (
	"math"
	"sync"
	"testing"
)

func TestTracker_MonotonicSequence(t *testing.T) {
	tr := NewTracker()
	reports := []float64{5, 3, 9, 7, 12}
	want := []float64{5, 5, 9, 9, 12}
	wantAccepted := []bool{true, false, true, false, true}

	for i, pos := range reports {
		accepted, current := tr.Report("e1", pos)
		if accepted != wantAccepted[i] {
			t.Errorf("Report(%v) accepted = %v, want %v", pos, accepted, wantAccepted[i])
		}
		if current != want[i] {
			t.Errorf("after Report(%v) position = %v, want %v", pos, current, want[i])
		}
		if got := tr.Position("e1"); got != want[i] {
			t.Errorf("Position() = %v, want %v", got, want[i])
		}
	}
}

func TestTracker_EqualAndNaNIgnored(t *testing.T) {
	tr := NewTracker()
	tr.Report("e1", 10)
	if accepted, _ := tr.Report("e1", 10); accepted {
		t.Error("equal position should be ignored")
	}
	if accepted, _ := tr.Report("e1", math.NaN()); accepted {
		t.Error("NaN position should be ignored")
	}
	if got := tr.Position("e1"); got != 10 {
		t.Errorf("Position() = %v, want 10", got)
	}
}

func TestTracker_EventsAreIndependent(t *testing.T) {
	tr := NewTracker()
	tr.Report("e1", 100)
	tr.Report("e2", 3)
	if got := tr.Position("e2"); got != 3 {
		t.Errorf("Position(e2) = %v, want 3", got)
	}
	if got := tr.Position("unknown"); got != 0 {
		t.Errorf("Position(unknown) = %v, want 0", got)
	}
}

func TestTracker_DiscardResets(t *testing.T) {
	tr := NewTracker()
	tr.Ensure("e1")
	tr.Report("e1", 42)
	tr.Discard("e1")

	if _, ok := tr.Get("e1"); ok {
		t.Error("Get() after Discard should report missing")
	}
	if accepted, cur := tr.Report("e1", 1); !accepted || cur != 1 {
		t.Errorf("Report() after Discard = %v, %v, want true, 1", accepted, cur)
	}
}

func TestTracker_ConcurrentReportsNeverRegress(t *testing.T) {
	tr := NewTracker()
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(offset int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				tr.Report("e1", float64(i*8+offset))
			}
		}(w)
	}
	wg.Wait()

	if got := tr.Position("e1"); got != float64(499*8+7) {
		t.Errorf("Position() = %v, want %v", got, float64(499*8+7))
	}
}
