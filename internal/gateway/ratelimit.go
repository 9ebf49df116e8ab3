package gateway

import "time"

// slidingWindow counts inbound frames over a rolling time window. Once the
// window holds limit frames, further frames are rejected and not counted,
// so the budget recovers as old frames age out.
type slidingWindow struct {
	limit  int
	window time.Duration
	times  []time.Time
}

func newSlidingWindow(limit int, window time.Duration) *slidingWindow {
	return &slidingWindow{limit: limit, window: window}
}

// allow reports whether one more frame fits in the window, recording it if
// so. Not safe for concurrent use; each connection owns one window and
// calls it from its read loop.
func (w *slidingWindow) allow() bool {
	now := time.Now()
	cutoff := now.Add(-w.window)

	keep := w.times[:0]
	for _, t := range w.times {
		if t.After(cutoff) {
			keep = append(keep, t)
		}
	}
	w.times = keep

	if len(w.times) >= w.limit {
		return false
	}
	w.times = append(w.times, now)
	return true
}
