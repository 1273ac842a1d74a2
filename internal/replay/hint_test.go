package replay_test

import (
	"testing"

	"github.com/chiselcore/skytun/internal/replay"
)

func TestHintZeroIsAlwaysStale(t *testing.T) {
	var h replay.Hint
	if !h.StaleBefore(0) {
		t.Fatalf("StaleBefore(0): got false, want true")
	}
}

func TestHintPublishThenRecent(t *testing.T) {
	var h replay.Hint
	h.Publish(1000)

	if h.StaleBefore(1000) {
		t.Fatalf("StaleBefore(1000) after Publish(1000): got true, want false")
	}
	if h.StaleBefore(1001) {
		t.Fatalf("StaleBefore(1001): got true, want false (ahead of last)")
	}
	if h.StaleBefore(970) {
		t.Fatalf("StaleBefore(970): got true, want false (within margin)")
	}
}

func TestHintRejectsFarBehind(t *testing.T) {
	var h replay.Hint
	h.Publish(1000)

	if !h.StaleBefore(900) {
		t.Fatalf("StaleBefore(900): got false, want true (100 behind last)")
	}
}

func TestHintNeverRejectsWhatWindowWouldAccept(t *testing.T) {
	var h replay.Hint
	var w replay.Window

	if err := w.Update(1000); err != nil {
		t.Fatalf("Update: %v", err)
	}
	h.Publish(1000)

	for pn := uint64(937); pn <= 1000; pn++ {
		if h.StaleBefore(pn) && w.Check(pn) {
			t.Fatalf("pn=%d: Hint rejected something Window would still accept", pn)
		}
	}
}
