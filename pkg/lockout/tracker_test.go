package lockout

import (
	"testing"
	"time"
)

func TestLockoutAfterThreshold(t *testing.T) {
	tracker := NewTracker(5, 30*time.Minute)
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	tracker.now = func() time.Time { return base }

	for i := 0; i < 4; i++ {
		tracker.RecordFailure("alice")
		if locked, _ := tracker.IsLocked("alice"); locked {
			t.Fatalf("locked after %d attempts, threshold is 5", i+1)
		}
	}
	tracker.RecordFailure("alice")
	locked, until := tracker.IsLocked("alice")
	if !locked {
		t.Fatalf("expected lockout after 5 failures")
	}
	if want := base.Add(30 * time.Minute); !until.Equal(want) {
		t.Fatalf("expected lockout until %v, got %v", want, until)
	}
}

func TestLockoutExpiryResetsCount(t *testing.T) {
	tracker := NewTracker(5, 30*time.Minute)
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := base
	tracker.now = func() time.Time { return clock }

	for i := 0; i < 5; i++ {
		tracker.RecordFailure("bob")
	}
	if locked, _ := tracker.IsLocked("bob"); !locked {
		t.Fatalf("expected lockout")
	}

	clock = base.Add(31 * time.Minute)
	if locked, _ := tracker.IsLocked("bob"); locked {
		t.Fatalf("expected lockout expired")
	}
	// The expired lockout check resets the count, so the next failure run
	// starts from 1, not from the prior total.
	tracker.RecordFailure("bob")
	if got := tracker.Attempts("bob"); got != 1 {
		t.Fatalf("expected count restarted at 1, got %d", got)
	}
	if locked, _ := tracker.IsLocked("bob"); locked {
		t.Fatalf("single failure after reset must not lock")
	}
}

func TestResetClearsRecord(t *testing.T) {
	tracker := NewTracker(2, time.Minute)
	tracker.RecordFailure("carol")
	tracker.RecordFailure("carol")
	if locked, _ := tracker.IsLocked("carol"); !locked {
		t.Fatalf("expected lockout at threshold 2")
	}
	tracker.Reset("carol")
	if locked, _ := tracker.IsLocked("carol"); locked {
		t.Fatalf("expected reset to clear lockout")
	}
	if got := tracker.Attempts("carol"); got != 0 {
		t.Fatalf("expected zero attempts after reset, got %d", got)
	}
}

func TestUnknownPrincipalNotLocked(t *testing.T) {
	tracker := NewTracker(0, 0)
	if locked, _ := tracker.IsLocked("nobody"); locked {
		t.Fatalf("unknown principal must not be locked")
	}
}
