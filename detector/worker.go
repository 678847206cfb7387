// Package detector implements the DetectionWorker state machine (spec
// §4.4): one worker per agent, running continuous or patrol-mode
// inference+rule ticks, annotating and republishing frames, and
// forwarding fired rules to an EventSink.
package detector

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"gocv.io/x/gocv"

	"edgevision/framehub"
	"edgevision/metrics"
	"edgevision/model"
	"edgevision/rules"
	"edgevision/store"
)

// EventSink receives fired-rule callbacks. Defined here (consumer
// side) so tests can inject a fake without depending on the events
// package; events.Manager satisfies this signature.
type EventSink interface {
	HandleEventFrame(key model.SessionKey, ev model.EventFrame)
}

const maxBackoff = 50 * time.Millisecond

// Worker drives one agent's detection loop. It satisfies the
// orchestrator.Worker interface (Stop/Done).
type Worker struct {
	Agent  model.Agent
	Camera model.Camera

	Store    *framehub.FrameStore
	Models   *ModelSet
	Sink     EventSink
	Registry store.Registry
	Log      zerolog.Logger

	stop chan struct{}
	done chan struct{}
}

// NewWorker constructs a Worker; call Run in its own goroutine.
func NewWorker(agent model.Agent, camera model.Camera, fs *framehub.FrameStore, models *ModelSet, sink EventSink, reg store.Registry, log zerolog.Logger) *Worker {
	return &Worker{
		Agent:    agent,
		Camera:   camera,
		Store:    fs,
		Models:   models,
		Sink:     sink,
		Registry: reg,
		Log:      log,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Stop requests the worker to exit at the next checkpoint.
func (w *Worker) Stop() { close(w.stop) }

// Done is closed once Run has fully exited.
func (w *Worker) Done() <-chan struct{} { return w.done }

func (w *Worker) stopped() bool {
	select {
	case <-w.stop:
		return true
	default:
		return false
	}
}

// Run drives the continuous or patrol loop until stopped, expired, or
// ctx is cancelled (spec §4.4 "Termination").
func (w *Worker) Run(ctx context.Context) {
	defer close(w.done)
	defer w.Models.Close()

	metrics.ActiveWorkers.Inc()
	defer metrics.ActiveWorkers.Dec()

	ruleList, err := w.Agent.Rules()
	if err != nil {
		w.Log.Error().Err(err).Str("agent_id", w.Agent.ID).Msg("malformed rules, running with whatever parsed")
	}
	targetClasses := targetClassSet(ruleList)

	engine := rules.NewEngine()

	switch w.Agent.RunMode {
	case model.RunPatrol:
		w.runPatrol(ctx, engine, ruleList, targetClasses)
	default:
		w.runContinuous(ctx, engine, ruleList, targetClasses)
	}
}

func (w *Worker) runContinuous(ctx context.Context, engine *rules.Engine, ruleList []model.Rule, targetClasses map[string]bool) {
	pacer := NewPacer(w.Agent.FPS)
	samp := newSampler()
	var lastSeen uint64

	for {
		if w.stopped() || ctx.Err() != nil || time.Now().After(w.Agent.EndTime) {
			return
		}
		if err := pacer.Wait(ctx); err != nil {
			return
		}
		var processed bool
		lastSeen, processed = w.tick(ctx, engine, ruleList, targetClasses, lastSeen)
		samp.record(processed)
		samp.maybeLog(w.Log, w.Agent.ID)
	}
}

// runPatrol alternates sleep-with-heartbeat windows and bounded
// detection windows, resetting per-rule state at the start of each
// window (spec §4.4 "patrol").
func (w *Worker) runPatrol(ctx context.Context, engine *rules.Engine, ruleList []model.Rule, targetClasses map[string]bool) {
	interval := time.Duration(w.Agent.PatrolIntervalSeconds) * time.Second
	window := time.Duration(w.Agent.PatrolWindowSeconds) * time.Second

	for {
		if w.stopped() || ctx.Err() != nil || time.Now().After(w.Agent.EndTime) {
			return
		}
		if interval > 0 {
			if err := SleepWithHeartbeat(ctx, interval, 5*time.Second, w.heartbeat); err != nil {
				return
			}
		}
		if w.stopped() || ctx.Err() != nil || time.Now().After(w.Agent.EndTime) {
			return
		}

		engine.Reset()
		pacer := NewPacer(w.Agent.FPS)
		samp := newSampler()
		var lastSeen uint64
		windowDeadline := time.Now().Add(window)

		for time.Now().Before(windowDeadline) {
			if w.stopped() || ctx.Err() != nil {
				return
			}
			if err := pacer.Wait(ctx); err != nil {
				return
			}
			var processed bool
			lastSeen, processed = w.tick(ctx, engine, ruleList, targetClasses, lastSeen)
			samp.record(processed)
			samp.maybeLog(w.Log, w.Agent.ID)
		}
	}
}

// tick implements one pass of spec §4.4 "Per tick" and returns the
// frame_index it observed (or lastSeen unchanged if nothing new) plus
// whether a frame was actually processed this call, for the sampling
// diagnostic.
func (w *Worker) tick(_ context.Context, engine *rules.Engine, ruleList []model.Rule, targetClasses map[string]bool, lastSeen uint64) (uint64, bool) {
	frame := w.Store.Get(w.Agent.CameraID)
	if frame == nil || frame.Err != nil || frame.FrameIndex == lastSeen {
		time.Sleep(maxBackoff)
		return lastSeen, false
	}

	mat, err := gocv.NewMatFromBytes(frame.Height, frame.Width, gocv.MatTypeCV8UC3, frame.Pixels)
	if err != nil {
		w.Log.Warn().Err(err).Str("agent_id", w.Agent.ID).Msg("frame shape mismatch, dropping")
		return frame.FrameIndex, false
	}
	defer mat.Close()

	det, err := w.Models.Run(mat)
	if err != nil {
		w.Log.Warn().Err(err).Str("agent_id", w.Agent.ID).Msg("model error, frame skipped")
		return frame.FrameIndex, false
	}

	if len(targetClasses) > 0 {
		annotated := Annotate(mat, det, targetClasses)
		annotatedPixels := annotated.ToBytes()
		annotated.Close()

		storeFrame := &model.Frame{
			Width:        frame.Width,
			Height:       frame.Height,
			FrameIndex:   frame.FrameIndex,
			ProducedAtNS: time.Now().UnixNano(),
			MeasuredFPS:  frame.MeasuredFPS,
			Pixels:       annotatedPixels,
		}
		w.Store.Put(w.Agent.ID, storeFrame)

		// The event sink gets its own copy of the annotated pixels
		// (spec §4.4 step 4, §4.6): annotated.ToBytes() is reused
		// above for the FrameStore publish, so this frame must not
		// alias it.
		eventPixels := make([]byte, len(annotatedPixels))
		copy(eventPixels, annotatedPixels)
		frame = &model.Frame{
			Width:        frame.Width,
			Height:       frame.Height,
			FrameIndex:   frame.FrameIndex,
			ProducedAtNS: storeFrame.ProducedAtNS,
			MeasuredFPS:  frame.MeasuredFPS,
			Pixels:       eventPixels,
		}
	}

	if result := engine.Evaluate(ruleList, det, time.Now()); result != nil {
		metrics.RuleFires.WithLabelValues(w.Agent.ID, result.Label).Inc()
		w.Sink.HandleEventFrame(
			model.SessionKey{AgentID: w.Agent.ID, RuleIndex: result.RuleIndex},
			model.EventFrame{Frame: frame, Label: result.Label, Detections: det, Agent: w.Agent, Camera: w.Camera},
		)
	}

	w.heartbeat()
	return frame.FrameIndex, true
}

func (w *Worker) heartbeat() {
	if w.Registry == nil {
		return
	}
	if err := w.Registry.Heartbeat(context.Background(), w.Agent.ID, time.Now()); err != nil {
		w.Log.Debug().Err(err).Str("agent_id", w.Agent.ID).Msg("heartbeat write failed")
	}
}

// sampler tracks processed/skipped tick counts and logs a rate-limited
// summary once a second, the Go equivalent of the source worker's
// per-second sampling diagnostic.
type sampler struct {
	lastLogAt time.Time
	processed int
	skipped   int
}

func newSampler() *sampler { return &sampler{lastLogAt: time.Now()} }

func (s *sampler) record(processed bool) {
	if processed {
		s.processed++
	} else {
		s.skipped++
	}
}

func (s *sampler) maybeLog(log zerolog.Logger, agentID string) {
	if time.Since(s.lastLogAt) < time.Second {
		return
	}
	log.Debug().Str("agent_id", agentID).
		Int("processed", s.processed).Int("skipped", s.skipped).
		Msg("frame sampling")
	s.processed, s.skipped = 0, 0
	s.lastLogAt = time.Now()
}

func targetClassSet(ruleList []model.Rule) map[string]bool {
	set := make(map[string]bool)
	for _, r := range ruleList {
		for _, c := range r.Classes {
			set[c] = true
		}
		if r.Class != "" {
			set[r.Class] = true
		}
		if r.Type == model.RuleAccidentPresent {
			set["person"] = true
		}
	}
	return set
}
