// Package wsfmp4 implements the per-agent WsFmp4Publisher (spec
// §4.8): one fragmented-MP4 encoder shared by every browser viewer of
// an agent's annotated stream, started on first viewer and torn down
// on last-viewer departure. Adapted from the teacher's cvpipe.Pipeline
// subprocess idiom (ingest/chunk encoders) and websocket.websocket.go
// hub/client pattern (viewer fan-out).
package wsfmp4

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"edgevision/config"
	"edgevision/framehub"
)

const broadcastChunkSize = 4096

// agentSession owns one encoder subprocess and hub for one agent_id,
// alive only while at least one viewer is attached.
type agentSession struct {
	agentID string
	hub     *hub
	cancel  context.CancelFunc
	stop    chan struct{}

	scanner *boxScanner
	initCh  chan struct{} // closed once the scanner's moov is captured
}

// Publisher manages one agentSession per agent with attached viewers.
type Publisher struct {
	cfg   *config.Config
	store *framehub.FrameStore
	log   zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*agentSession
}

func New(cfg *config.Config, store *framehub.FrameStore, log zerolog.Logger) *Publisher {
	return &Publisher{cfg: cfg, store: store, log: log, sessions: make(map[string]*agentSession)}
}

// AddViewer implements spec §4.8 "Viewer lifecycle / add_viewer": wait
// for the first frame, lazily start the encoder sized to it, then wait
// for (and forward) the init segment before returning the live viewer
// handle to the caller's read/write pumps.
func (p *Publisher) AddViewer(ctx context.Context, agentID, viewerID string, conn *websocket.Conn) error {
	sess, err := p.sessionFor(agentID)
	if err != nil {
		return err
	}

	v := &viewer{conn: conn, send: make(chan []byte, 64), id: viewerID}
	sess.hub.register <- v
	go v.writePump(p.log)

	init, err := sess.waitForInit(p.cfg.WsInitFastWait, p.cfg.WsInitSlowWait)
	if err != nil {
		sess.hub.unregister <- v
		if sess.hub.viewerCount() == 0 {
			p.teardown(agentID, sess)
		}
		return err
	}
	select {
	case v.send <- init:
	default:
		sess.hub.unregister <- v
		if sess.hub.viewerCount() == 0 {
			p.teardown(agentID, sess)
		}
		return fmt.Errorf("wsfmp4: viewer send buffer full delivering init segment")
	}
	return nil
}

// RemoveViewer implements spec §4.8 "remove_viewer": detach the
// viewer, and if it was the last one, tear the session down.
func (p *Publisher) RemoveViewer(agentID string, conn *websocket.Conn) {
	p.mu.Lock()
	sess, ok := p.sessions[agentID]
	p.mu.Unlock()
	if !ok {
		return
	}
	if v := sess.hub.findByConn(conn); v != nil {
		sess.hub.unregister <- v
	}
	if sess.hub.viewerCount() == 0 {
		p.teardown(agentID, sess)
	}
}

func (p *Publisher) sessionFor(agentID string) (*agentSession, error) {
	p.mu.Lock()
	if sess, ok := p.sessions[agentID]; ok {
		p.mu.Unlock()
		return sess, nil
	}
	p.mu.Unlock()

	frame, err := p.waitFirstFrame(agentID)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if sess, ok := p.sessions[agentID]; ok {
		return sess, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	sess := &agentSession{
		agentID: agentID,
		hub:     newHub(agentID, p.log),
		cancel:  cancel,
		stop:    make(chan struct{}),
		scanner: newBoxScanner(),
		initCh:  make(chan struct{}),
	}
	p.sessions[agentID] = sess

	go sess.hub.run(sess.stop)
	go p.runEncoder(ctx, sess, frame.Width, frame.Height, p.cfg.DefaultFPS)

	return sess, nil
}

func (p *Publisher) waitFirstFrame(agentID string) (*frameSnapshot, error) {
	deadline := time.Now().Add(p.cfg.WsFirstFrameWait)
	for time.Now().Before(deadline) {
		if f := p.store.Get(agentID); f != nil && f.Valid() {
			return &frameSnapshot{Width: f.Width, Height: f.Height}, nil
		}
		time.Sleep(20 * time.Millisecond)
	}
	return nil, fmt.Errorf("wsfmp4: no frame for agent %s within %s", agentID, p.cfg.WsFirstFrameWait)
}

type frameSnapshot struct{ Width, Height int }

func (s *agentSession) waitForInit(fast, slow time.Duration) ([]byte, error) {
	select {
	case <-s.initCh:
		return s.scanner.InitSegment(), nil
	case <-time.After(fast):
	}
	select {
	case <-s.initCh:
		return s.scanner.InitSegment(), nil
	case <-time.After(slow - fast):
		return nil, fmt.Errorf("wsfmp4: init segment not ready after %s", slow)
	}
}

func (p *Publisher) teardown(agentID string, sess *agentSession) {
	p.mu.Lock()
	if p.sessions[agentID] == sess {
		delete(p.sessions, agentID)
	}
	p.mu.Unlock()
	sess.cancel()
	close(sess.stop)
}

// runEncoder starts the continuous fMP4 encoder subprocess for an
// agent, feeds it annotated frames, and broadcasts its output — the
// combination of spec §4.8's "frame-feeder task" and "broadcast task",
// run together since they share one subprocess's stdin/stdout.
func (p *Publisher) runEncoder(ctx context.Context, sess *agentSession, w, h, fps int) {
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-hide_banner", "-loglevel", "error",
		"-f", "rawvideo", "-pix_fmt", "bgr24",
		"-s", fmt.Sprintf("%dx%d", w, h),
		"-r", fmt.Sprintf("%d", fps),
		"-i", "pipe:0",
		"-c:v", "libx264", "-preset", "ultrafast", "-tune", "zerolatency",
		"-pix_fmt", "yuv420p",
		"-movflags", "frag_keyframe+empty_moov+default_base_moof",
		"-f", "mp4", "pipe:1",
	)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		p.log.Error().Err(err).Str("agent_id", sess.agentID).Msg("wsfmp4 encoder stdin pipe failed")
		return
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		p.log.Error().Err(err).Str("agent_id", sess.agentID).Msg("wsfmp4 encoder stdout pipe failed")
		return
	}
	if err := cmd.Start(); err != nil {
		p.log.Error().Err(err).Str("agent_id", sess.agentID).Msg("wsfmp4 encoder start failed")
		return
	}
	defer func() {
		_ = stdin.Close()
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		_ = cmd.Wait()
	}()

	go p.feedFrames(ctx, sess.agentID, stdin, w, h, fps)
	p.broadcastOutput(ctx, sess, stdout)
}

func (p *Publisher) feedFrames(ctx context.Context, agentID string, stdin io.WriteCloser, w, h, fps int) {
	defer stdin.Close()
	expected := w * h * 3
	interval := time.Second / time.Duration(maxInt(fps, 1))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastIndex uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		frame := p.store.Get(agentID)
		if frame == nil || !frame.Valid() || frame.FrameIndex == lastIndex {
			continue
		}
		if len(frame.Pixels) != expected {
			p.log.Warn().Str("agent_id", agentID).Int("got", len(frame.Pixels)).Int("want", expected).
				Msg("wsfmp4 frame size mismatch, skipping")
			continue
		}
		lastIndex = frame.FrameIndex
		if _, err := stdin.Write(frame.Pixels); err != nil {
			return
		}
	}
}

func (p *Publisher) broadcastOutput(ctx context.Context, sess *agentSession, stdout io.ReadCloser) {
	reader := bufio.NewReaderSize(stdout, 1<<20)
	chunk := make([]byte, broadcastChunkSize)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		n, err := reader.Read(chunk)
		if n > 0 {
			data := make([]byte, n)
			copy(data, chunk[:n])
			if !sess.scanner.Ready() {
				tail := sess.scanner.feed(data)
				if sess.scanner.Ready() {
					close(sess.initCh)
					if len(tail) > 0 {
						sess.hub.broadcast <- tail
					}
				}
			} else {
				sess.hub.broadcast <- data
			}
		}
		if err != nil {
			return
		}
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
