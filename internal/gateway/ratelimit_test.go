package gateway

import (
	"testing"
	"time"
)

func TestSlidingWindow_AllowsUpToLimit(t *testing.T) {
	w := newSlidingWindow(3, time.Minute)

	for i := 0; i < 3; i++ {
		if !w.allow() {
			t.Fatalf("frame %d should be allowed", i+1)
		}
	}
	if w.allow() {
		t.Error("frame past the limit should be rejected")
	}
}

func TestSlidingWindow_RejectedFramesNotCounted(t *testing.T) {
	w := newSlidingWindow(2, time.Minute)
	w.allow()
	w.allow()

	// Rejections must not extend the window.
	for i := 0; i < 10; i++ {
		if w.allow() {
			t.Fatal("expected rejection at limit")
		}
	}
	if len(w.times) != 2 {
		t.Errorf("expected 2 recorded frames, got %d", len(w.times))
	}
}

func TestSlidingWindow_RecoversAsFramesAge(t *testing.T) {
	w := newSlidingWindow(2, 20*time.Millisecond)
	w.allow()
	w.allow()
	if w.allow() {
		t.Fatal("expected rejection at limit")
	}

	time.Sleep(30 * time.Millisecond)
	if !w.allow() {
		t.Error("expected budget to recover after the window elapsed")
	}
}
