// Package events implements the EventSessionManager (spec §4.6): turns
// a stream of per-frame "rule fired" callbacks into immediate
// single-frame notifications and time-bounded video chunks, with
// bounded memory and a back-pressured encoder queue.
package events

import (
	"context"
	"encoding/base64"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"edgevision/bus"
	"edgevision/config"
	"edgevision/metrics"
	"edgevision/model"
	"edgevision/videoenc"
)

type session struct {
	id            string
	key           model.SessionKey
	state         model.SessionState
	ring          *frameRing
	chunkNumber   int
	chunkOpenedAt time.Time
	lastEventAt   time.Time
	fps           int
	width, height int
	agent         model.Agent
	camera        model.Camera
	label         string
}

// Manager is the process-wide EventSessionManager. One Manager serves
// every agent; sessions are keyed by (agent_id, rule_index).
type Manager struct {
	cfg  *config.Config
	bus  bus.Producer
	log  zerolog.Logger
	loc  *time.Location

	mu       sync.Mutex
	sessions map[model.SessionKey]*session

	encodeQueue chan model.ChunkJob

	stop chan struct{}
	done chan struct{}
}

// New constructs a Manager. Call Run in its own goroutine to start the
// encoder worker and timeout sweeper.
func New(cfg *config.Config, producer bus.Producer, log zerolog.Logger) *Manager {
	return &Manager{
		cfg:         cfg,
		bus:         producer,
		log:         log,
		loc:         cfg.Location(),
		sessions:    make(map[model.SessionKey]*session),
		encodeQueue: make(chan model.ChunkJob, cfg.EncodeQueueSize),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// now returns the current time in the process-wide configured
// timezone (spec §6 "Timezone is a process-wide setting used for all
// timestamp formatting"); every timestamp this package hands to the
// bus or to local chunk filenames goes through this.
func (m *Manager) now() time.Time {
	return time.Now().In(m.loc)
}

// Run starts the single encoder-queue consumer and the timeout
// sweeper, blocking until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	defer close(m.done)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		m.encodeWorker(ctx)
	}()
	go func() {
		defer wg.Done()
		m.sweeper(ctx)
	}()

	<-ctx.Done()
	m.flushAll()
	wg.Wait()
}

// Stop requests shutdown; Run's goroutines exit once ctx (passed to
// Run) is also cancelled by the caller.
func (m *Manager) Stop() { close(m.stop) }

// Done is closed once Run has fully exited.
func (m *Manager) Done() <-chan struct{} { return m.done }

// HandleEventFrame is the public, non-blocking entry point (spec §5
// "must not block the caller for more than the time to copy a frame
// reference and to push to a bounded queue"). It opens a session on
// first call for a key, fires the immediate notification in the
// background, and appends the frame to the session's buffer.
func (m *Manager) HandleEventFrame(key model.SessionKey, ev model.EventFrame) {
	now := m.now()

	m.mu.Lock()
	s, exists := m.sessions[key]
	if !exists {
		s = &session{
			id:            uuid.NewString(),
			key:           key,
			state:         model.SessionActive,
			ring:          newFrameRing(ringCapacity(ev.Agent.FPS, m.cfg.ChunkDurationSeconds)),
			fps:           ev.Agent.FPS,
			width:         ev.Frame.Width,
			height:        ev.Frame.Height,
			agent:         ev.Agent,
			camera:        ev.Camera,
			chunkOpenedAt: now,
		}
		m.sessions[key] = s
		metrics.ActiveSessions.Inc()
		go m.sendImmediateNotification(s.id, ev)
	}
	s.label = ev.Label
	s.lastEventAt = now
	if ev.Frame != nil && ev.Frame.Valid() {
		s.ring.push(model.RingFrame{Frame: ev.Frame, Timestamp: now})
	}

	m.maybeSplit(s, now, false)
	m.mu.Unlock()
}

// maybeSplit checks the runtime-split chunking policy (spec §4.6
// "Chunking policy") and, if due, enqueues a chunk job. Caller must
// hold m.mu.
func (m *Manager) maybeSplit(s *session, now time.Time, forceFinal bool) {
	if s.state != model.SessionActive {
		return
	}

	limit := m.cfg.ChunkFrameLimit(s.fps)
	boundary := forceFinal ||
		s.ring.len() >= limit ||
		now.Sub(s.chunkOpenedAt) >= time.Duration(m.cfg.ChunkDurationSeconds)*time.Second

	if !boundary {
		return
	}
	if s.ring.len() == 0 && !forceFinal {
		return
	}

	frames := s.ring.drain()
	job := model.ChunkJob{
		SessionID:   s.id,
		Key:         s.key,
		ChunkNumber: s.chunkNumber,
		IsFinal:     forceFinal,
		Frames:      frames,
		Start:       s.chunkOpenedAt,
		End:         now,
		FPS:         s.fps,
		Width:       s.width,
		Height:      s.height,
		EventLabel:  s.label,
		AgentID:     s.agent.ID,
		CameraID:    s.camera.ID,
		OwnerUserID: s.camera.OwnerUserID,
		DeviceID:    s.camera.DeviceID,
	}

	if forceFinal {
		s.state = model.SessionClosing
	} else {
		s.state = model.SessionEncoding
	}
	select {
	case m.encodeQueue <- job:
		s.chunkNumber++
		s.chunkOpenedAt = now
	case <-time.After(50 * time.Millisecond):
		m.log.Warn().Str("session_id", s.id).Int("chunk_number", s.chunkNumber).
			Msg("encode queue full, dropping chunk")
		metrics.QueueDrops.WithLabelValues("encode_queue").Inc()
		s.state = model.SessionActive // spec §4.6: drop chunk, advance state anyway
		if forceFinal {
			// No worker will ever complete this job to remove the
			// session, so the sweeper/shutdown path that asked for the
			// final flush removes it directly.
			delete(m.sessions, s.key)
			metrics.ActiveSessions.Dec()
		}
	}
}

func (m *Manager) sendImmediateNotification(sessionID string, ev model.EventFrame) {
	jpeg, err := videoenc.EncodeJPEG(ev.Frame)
	if err != nil {
		m.log.Warn().Err(err).Str("session_id", sessionID).Msg("immediate notification encode failed, session still opens")
		return
	}

	var n bus.Notification
	n.Event.Label = ev.Label
	n.Event.Timestamp = m.now()
	n.Agent.AgentID = ev.Agent.ID
	n.Agent.AgentName = ev.Agent.Name
	n.Agent.CameraID = ev.Agent.CameraID
	n.Camera.OwnerUserID = ev.Camera.OwnerUserID
	n.Camera.DeviceID = ev.Camera.DeviceID
	n.Frame.ImageBase64 = base64.StdEncoding.EncodeToString(jpeg)
	n.Frame.Format = "jpeg"
	n.Metadata.VideoTimestamp = ev.Frame.ProducedAtNSTime().In(m.loc)
	n.Metadata.Detections = summarizeDetections(ev.Detections)
	n.Metadata.SessionID = sessionID

	if m.bus == nil {
		return
	}
	if err := m.bus.PublishNotification(n); err != nil {
		m.log.Warn().Err(err).Str("session_id", sessionID).Msg("immediate notification publish failed")
	}
}

func summarizeDetections(det *model.Detections) any {
	if det == nil {
		return nil
	}
	return struct {
		Classes []string `json:"classes"`
		Scores  []float32 `json:"scores"`
	}{Classes: det.Classes, Scores: det.Scores}
}

// encodeWorker is the single consumer dequeuing chunk jobs (spec §4.6
// "Encoder worker").
func (m *Manager) encodeWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-m.encodeQueue:
			m.processJob(ctx, job)
		}
	}
}

func (m *Manager) processJob(ctx context.Context, job model.ChunkJob) {
	data, err := videoenc.EncodeChunkMP4(ctx, job)
	if err != nil {
		m.log.Error().Err(err).Str("session_id", job.SessionID).Msg("chunk encode failed, dropping")
		m.onJobDone(job)
		return
	}

	var localPath string
	if m.cfg.VideoSaveEnabled {
		path, err := videoenc.PersistChunk(m.cfg.VideoSaveDir, job, data, m.now())
		if err != nil {
			m.log.Error().Err(err).Str("session_id", job.SessionID).Msg("local chunk persist failed")
		} else {
			localPath = path
		}
	}

	if len(data) > m.cfg.BusMaxBytes {
		m.log.Error().Str("session_id", job.SessionID).Int("bytes", len(data)).Str("local_path", localPath).
			Msg("chunk exceeds bus size limit, dropped from bus; local file remains authoritative")
		m.onJobDone(job)
		return
	}

	var v bus.VideoChunk
	v.Type = "event_video"
	v.SessionID = job.SessionID
	v.SequenceNumber = job.ChunkNumber
	v.IsFinalChunk = job.IsFinal
	v.Chunk.ChunkNumber = job.ChunkNumber
	v.Chunk.StartTime = job.Start
	v.Chunk.EndTime = job.End
	v.Chunk.DurationSecond = job.End.Sub(job.Start).Seconds()
	v.Event.Label = job.EventLabel
	v.Event.RuleIndex = job.Key.RuleIndex
	v.Event.Timestamp = job.End
	v.Agent.AgentID = job.AgentID
	v.Agent.CameraID = job.CameraID
	v.Camera.OwnerUserID = job.OwnerUserID
	v.Camera.DeviceID = job.DeviceID
	v.Video.DataBase64 = base64.StdEncoding.EncodeToString(data)
	v.Video.Format = "mp4"
	v.Video.FPS = job.FPS
	v.Video.Resolution.Width = job.Width
	v.Video.Resolution.Height = job.Height
	v.Metadata.SessionID = job.SessionID
	v.Metadata.ChunkSequence = job.ChunkNumber

	if m.bus != nil {
		if err := m.bus.PublishVideoChunk(v); err != nil {
			m.log.Error().Err(err).Str("session_id", job.SessionID).Msg("video chunk publish failed")
		} else {
			metrics.ChunksEmitted.WithLabelValues(job.AgentID).Inc()
		}
	}

	m.onJobDone(job)
}

func (m *Manager) onJobDone(job model.ChunkJob) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[job.Key]
	if !ok {
		return
	}
	if job.IsFinal {
		delete(m.sessions, job.Key)
		metrics.ActiveSessions.Dec()
		return
	}
	s.state = model.SessionActive
}

// sweeper runs at check_interval and closes out sessions idle past
// session_timeout (spec §4.6 "Session expiry").
func (m *Manager) sweeper(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.SessionCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		case <-ticker.C:
			m.sweepOnce()
		}
	}
}

func (m *Manager) sweepOnce() {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.state != model.SessionActive {
			continue
		}
		if now.Sub(s.lastEventAt) >= m.cfg.SessionTimeout {
			m.maybeSplit(s, now, true)
		}
	}
}

// flushAll closes out every ACTIVE session on shutdown (spec §4.6 "On
// system shutdown, flush all ACTIVE sessions").
func (m *Manager) flushAll() {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.state == model.SessionActive {
			m.maybeSplit(s, now, true)
		}
	}
}

