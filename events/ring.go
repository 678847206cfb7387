package events

import (
	"edgevision/metrics"
	"edgevision/model"
)

// ringCapacity computes the frame-ring bound for a given fps and
// chunk duration (spec §4.6 "Bounded memory", §8 invariant 6):
// ceil(fps * chunk_duration_s * 1.1).
func ringCapacity(fps, chunkDurationSeconds int) int {
	if fps <= 0 {
		fps = 1
	}
	// Integer ceiling of fps*d*11/10: the float product fps*d*1.1 can
	// land just above a whole number (50*1.1 == 55.00000000000001).
	return (fps*chunkDurationSeconds*11 + 9) / 10
}

// frameRing is a fixed-capacity FIFO that drops the oldest entry when
// full rather than growing unbounded (spec §4.6, §9).
type frameRing struct {
	buf []model.RingFrame
	cap int
}

func newFrameRing(capacity int) *frameRing {
	if capacity < 1 {
		capacity = 1
	}
	return &frameRing{buf: make([]model.RingFrame, 0, capacity), cap: capacity}
}

func (r *frameRing) push(rf model.RingFrame) {
	r.buf = append(r.buf, rf)
	if len(r.buf) > r.cap {
		drop := len(r.buf) - r.cap
		r.buf = r.buf[drop:]
		metrics.QueueDrops.WithLabelValues("frame_ring").Add(float64(drop))
	}
}

func (r *frameRing) drain() []model.RingFrame {
	out := r.buf
	r.buf = make([]model.RingFrame, 0, r.cap)
	return out
}

func (r *frameRing) len() int { return len(r.buf) }
