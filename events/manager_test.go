package events

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edgevision/bus"
	"edgevision/config"
	"edgevision/model"
)

// fakeProducer is an in-memory bus.Producer so the session state machine
// can be exercised without a live NATS connection.
type fakeProducer struct {
	mu            sync.Mutex
	notifications []bus.Notification
	chunks        []bus.VideoChunk
}

func (f *fakeProducer) PublishNotification(n bus.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notifications = append(f.notifications, n)
	return nil
}

func (f *fakeProducer) PublishVideoChunk(v bus.VideoChunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chunks = append(f.chunks, v)
	return nil
}

func (f *fakeProducer) Close() {}

func (f *fakeProducer) notificationCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.notifications)
}

func testConfig() *config.Config {
	return &config.Config{
		ChunkDurationSeconds: 10,
		SessionTimeout:       30 * time.Second,
		SessionCheckInterval: 5 * time.Second,
		EncodeQueueSize:      4,
		BusMaxBytes:          1 << 20,
		Timezone:             "UTC",
	}
}

func eventFrame(agentID string, fps int, label string) model.EventFrame {
	return model.EventFrame{
		Frame: &model.Frame{Width: 4, Height: 4, Pixels: make([]byte, 4*4*3)},
		Label: label,
		Agent: model.Agent{ID: agentID, FPS: fps},
	}
}

func sessionFor(m *Manager, key model.SessionKey) *session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[key]
}

// TestHandleEventFrame_OpensSessionOnce reproduces spec §8 invariant 5:
// the first matching frame opens a session and fires the immediate
// notification; a second frame on the same key must not reopen it or
// resend the notification (idempotent).
func TestHandleEventFrame_OpensSessionOnce(t *testing.T) {
	producer := &fakeProducer{}
	m := New(testConfig(), producer, zerolog.Nop())
	key := model.SessionKey{AgentID: "agent-1", RuleIndex: 0}

	m.HandleEventFrame(key, eventFrame("agent-1", 5, "person detected"))
	require.Eventually(t, func() bool { return producer.notificationCount() == 1 }, time.Second, 5*time.Millisecond)

	s := sessionFor(m, key)
	require.NotNil(t, s)
	assert.Equal(t, model.SessionActive, s.state)
	firstID := s.id

	m.HandleEventFrame(key, eventFrame("agent-1", 5, "person detected"))
	s = sessionFor(m, key)
	assert.Equal(t, firstID, s.id, "a second event on the same key reuses the existing session")

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, producer.notificationCount(), "the immediate notification is sent only once per session")
}

// TestMaybeSplit_RuntimeSplitOnCount reproduces spec §8 scenario 2:
// fps=5, chunk_duration=6s => chunk_frame_limit=30. The 30th frame
// forces a split by count, not by elapsed time.
func TestMaybeSplit_RuntimeSplitOnCount(t *testing.T) {
	cfg := testConfig()
	cfg.ChunkDurationSeconds = 6
	producer := &fakeProducer{}
	m := New(cfg, producer, zerolog.Nop())
	key := model.SessionKey{AgentID: "agent-2", RuleIndex: 0}

	for i := 0; i < 30; i++ {
		m.HandleEventFrame(key, eventFrame("agent-2", 5, "l"))
	}

	s := sessionFor(m, key)
	require.NotNil(t, s)
	assert.Equal(t, model.SessionEncoding, s.state, "30th frame must have forced a split to ENCODING")
	assert.Equal(t, 1, s.chunkNumber, "chunkNumber advances past 0 once the job is enqueued")
	assert.Equal(t, 0, s.ring.len(), "the ring was drained into the enqueued job")
}

// TestSweepOnce_TimesOutIdleSession reproduces the sweeper half of spec
// §4.6 "Session expiry": a session idle past session_timeout is forced
// to a final split even with no further events.
func TestSweepOnce_TimesOutIdleSession(t *testing.T) {
	cfg := testConfig()
	cfg.SessionTimeout = 10 * time.Millisecond
	producer := &fakeProducer{}
	m := New(cfg, producer, zerolog.Nop())
	key := model.SessionKey{AgentID: "agent-3", RuleIndex: 0}

	m.HandleEventFrame(key, eventFrame("agent-3", 5, "l"))
	time.Sleep(20 * time.Millisecond)

	m.sweepOnce()

	s := sessionFor(m, key)
	require.NotNil(t, s, "onJobDone never ran (no consumer in this test), so the session record is still present")
	assert.Equal(t, model.SessionClosing, s.state, "sweeper forced the final split, moving the session out of ACTIVE into CLOSING")
}

// TestMaybeSplit_EncodeQueueFullDropsAndStaysActive reproduces spec
// §4.6's backpressure rule: when the encode queue is full, a chunk is
// dropped and the session reverts to ACTIVE rather than getting stuck
// in ENCODING.
func TestMaybeSplit_EncodeQueueFullDropsAndStaysActive(t *testing.T) {
	cfg := testConfig()
	cfg.ChunkDurationSeconds = 6
	cfg.EncodeQueueSize = 1
	producer := &fakeProducer{}
	m := New(cfg, producer, zerolog.Nop())

	// Fill the one-slot encode queue with an unrelated job so the next
	// split has nowhere to go.
	m.encodeQueue <- model.ChunkJob{SessionID: "filler"}

	key := model.SessionKey{AgentID: "agent-4", RuleIndex: 0}
	for i := 0; i < 30; i++ {
		m.HandleEventFrame(key, eventFrame("agent-4", 5, "l"))
	}

	s := sessionFor(m, key)
	require.NotNil(t, s)
	assert.Equal(t, model.SessionActive, s.state, "a dropped chunk must not leave the session stuck in ENCODING")
	assert.Equal(t, 0, s.chunkNumber, "chunkNumber must not advance for a dropped chunk")
}
