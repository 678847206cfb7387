package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edgevision/model"
)

func TestRingCapacity(t *testing.T) {
	cases := []struct {
		name                 string
		fps                  int
		chunkDurationSeconds int
		want                 int
	}{
		{"spec scenario 2/3: fps=5, 6s chunk", 5, 6, 33},
		{"fps=5, 10s chunk", 5, 10, 55},
		{"zero fps clamps to 1", 0, 10, 11},
		{"negative fps clamps to 1", -3, 10, 11},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, ringCapacity(tc.fps, tc.chunkDurationSeconds))
		})
	}
}

// TestFrameRing_DropsOldestWhenFull reproduces spec §8 scenario 3:
// capacity 33, feed 40 frames, the ring keeps the last 33 and the
// oldest 7 are dropped rather than growing unbounded.
func TestFrameRing_DropsOldestWhenFull(t *testing.T) {
	ring := newFrameRing(33)
	for i := 0; i < 40; i++ {
		ring.push(model.RingFrame{Frame: &model.Frame{FrameIndex: uint64(i)}})
	}
	require.Equal(t, 33, ring.len())

	frames := ring.drain()
	require.Len(t, frames, 33)
	assert.Equal(t, uint64(7), frames[0].Frame.FrameIndex, "oldest 7 (indices 0-6) must have been dropped")
	assert.Equal(t, uint64(39), frames[len(frames)-1].Frame.FrameIndex)
}

func TestFrameRing_DrainEmptiesAndResets(t *testing.T) {
	ring := newFrameRing(4)
	ring.push(model.RingFrame{Frame: &model.Frame{FrameIndex: 1}})
	ring.push(model.RingFrame{Frame: &model.Frame{FrameIndex: 2}})

	first := ring.drain()
	require.Len(t, first, 2)
	assert.Equal(t, 0, ring.len(), "drain must leave the ring empty")

	ring.push(model.RingFrame{Frame: &model.Frame{FrameIndex: 3}})
	second := ring.drain()
	require.Len(t, second, 1)
	assert.Equal(t, uint64(3), second[0].Frame.FrameIndex)
}

func TestNewFrameRing_CapacityBelowOneClampsToOne(t *testing.T) {
	ring := newFrameRing(0)
	ring.push(model.RingFrame{Frame: &model.Frame{FrameIndex: 1}})
	ring.push(model.RingFrame{Frame: &model.Frame{FrameIndex: 2}})
	assert.Equal(t, 1, ring.len())
}
