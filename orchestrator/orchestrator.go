// Package orchestrator reconciles the desired state read from the
// registry (cameras + agents) against the set of running in-process
// FrameHub ingesters and DetectionWorkers (spec §4.3).
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"edgevision/framehub"
	"edgevision/model"
	"edgevision/store"
)

// WorkerFactory starts a DetectionWorker for an agent and returns a
// handle the Orchestrator can stop and join. Kept as an interface seam
// so tests can inject a fake without standing up the full detector
// package.
type WorkerFactory func(ctx context.Context, agent model.Agent, camera model.Camera) (Worker, error)

// Worker is the minimal lifecycle surface the Orchestrator drives.
type Worker interface {
	Stop()
	Done() <-chan struct{}
}

type runningHub struct {
	cameraID string
	ingester *framehub.Ingester
	cancel   context.CancelFunc
}

type runningWorker struct {
	agentID string
	worker  Worker
}

// Orchestrator is the top-level reconciliation loop (spec §4.3).
type Orchestrator struct {
	Registry     store.Registry
	Store        *framehub.FrameStore
	PollInterval time.Duration
	JoinTimeout  time.Duration
	NewWorker    WorkerFactory
	Log          zerolog.Logger

	mu      sync.Mutex
	hubs    map[string]*runningHub
	workers map[string]*runningWorker
}

// New constructs an Orchestrator ready to Run.
func New(reg store.Registry, fs *framehub.FrameStore, poll, joinTimeout time.Duration, factory WorkerFactory, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		Registry:     reg,
		Store:        fs,
		PollInterval: poll,
		JoinTimeout:  joinTimeout,
		NewWorker:    factory,
		Log:          log,
		hubs:         make(map[string]*runningHub),
		workers:      make(map[string]*runningWorker),
	}
}

// Run ticks every PollInterval until ctx is cancelled. Never holds
// locks across I/O (spec §4.3 edge cases).
func (o *Orchestrator) Run(ctx context.Context) {
	ticker := time.NewTicker(o.PollInterval)
	defer ticker.Stop()

	o.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			o.shutdown()
			return
		case <-ticker.C:
			o.tick(ctx)
		}
	}
}

func (o *Orchestrator) tick(ctx context.Context) {
	now := time.Now()

	cameras, err := o.Registry.ActiveCameras(ctx)
	if err != nil {
		o.Log.Error().Err(err).Msg("reconcile: list active cameras failed")
	} else {
		o.reconcileCameras(ctx, cameras)
	}

	agents, err := o.Registry.EligibleAgents(ctx, now)
	if err != nil {
		o.Log.Error().Err(err).Msg("reconcile: list eligible agents failed")
	} else {
		o.reconcileAgents(ctx, cameras, agents)
	}

	o.reapFinishedWorkers()
	o.reapFinishedHubs(ctx)
}

// reconcileCameras starts a FrameHub ingester for every active camera
// that doesn't have one and stops ingesters for cameras that dropped
// out of the active set (spec §4.3 step 1).
func (o *Orchestrator) reconcileCameras(ctx context.Context, cameras []model.Camera) {
	desired := make(map[string]model.Camera, len(cameras))
	for _, c := range cameras {
		desired[c.ID] = c
	}

	o.mu.Lock()
	toStop := make([]*runningHub, 0)
	for id, hub := range o.hubs {
		if _, ok := desired[id]; !ok {
			toStop = append(toStop, hub)
			delete(o.hubs, id)
		}
	}
	toStart := make([]model.Camera, 0)
	for id, cam := range desired {
		if _, ok := o.hubs[id]; !ok {
			toStart = append(toStart, cam)
		}
	}
	o.mu.Unlock()

	for _, hub := range toStop {
		o.stopHub(hub)
	}
	for _, cam := range toStart {
		o.startHub(ctx, cam)
	}
}

func (o *Orchestrator) startHub(ctx context.Context, cam model.Camera) {
	hubCtx, cancel := context.WithCancel(ctx)
	ing := framehub.NewIngester(cam.ID, cam.StreamURL, o.Store, o.Log)
	go ing.Run(hubCtx)

	o.mu.Lock()
	o.hubs[cam.ID] = &runningHub{cameraID: cam.ID, ingester: ing, cancel: cancel}
	o.mu.Unlock()

	o.Log.Info().Str("camera_id", cam.ID).Msg("started frame hub")
}

func (o *Orchestrator) stopHub(hub *runningHub) {
	hub.ingester.Stop()
	hub.cancel()
	select {
	case <-hub.ingester.Done():
	case <-time.After(o.JoinTimeout):
		o.Log.Warn().Str("camera_id", hub.cameraID).Msg("frame hub did not stop within join timeout, abandoning")
	}
}

// reconcileAgents starts a DetectionWorker for every eligible agent
// that doesn't have one and stops workers for agents no longer
// eligible (spec §4.3 step 2).
func (o *Orchestrator) reconcileAgents(ctx context.Context, cameras []model.Camera, agents []model.Agent) {
	camByID := make(map[string]model.Camera, len(cameras))
	for _, c := range cameras {
		camByID[c.ID] = c
	}

	desired := make(map[string]model.Agent, len(agents))
	for _, a := range agents {
		desired[a.ID] = a
	}

	o.mu.Lock()
	toStop := make([]*runningWorker, 0)
	for id, w := range o.workers {
		if _, ok := desired[id]; !ok {
			toStop = append(toStop, w)
			delete(o.workers, id)
		}
	}
	toStart := make([]model.Agent, 0)
	for id, a := range desired {
		if _, ok := o.workers[id]; !ok {
			toStart = append(toStart, a)
		}
	}
	o.mu.Unlock()

	for _, w := range toStop {
		w.worker.Stop()
	}
	for _, a := range toStart {
		cam := camByID[a.CameraID]
		o.startWorker(ctx, a, cam)
	}
}

func (o *Orchestrator) startWorker(ctx context.Context, agent model.Agent, camera model.Camera) {
	if err := o.Registry.SetAgentStatus(ctx, agent.ID, model.AgentRunning); err != nil {
		o.Log.Error().Err(err).Str("agent_id", agent.ID).Msg("failed to mark agent RUNNING, will retry next tick")
		return
	}

	w, err := o.NewWorker(ctx, agent, camera)
	if err != nil {
		o.Log.Error().Err(err).Str("agent_id", agent.ID).Msg("failed to start worker, will retry next tick")
		return
	}

	o.mu.Lock()
	o.workers[agent.ID] = &runningWorker{agentID: agent.ID, worker: w}
	o.mu.Unlock()

	o.Log.Info().Str("agent_id", agent.ID).Msg("started detection worker")
}

func (o *Orchestrator) reapFinishedWorkers() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for id, w := range o.workers {
		select {
		case <-w.worker.Done():
			delete(o.workers, id)
		default:
		}
	}
}

func (o *Orchestrator) reapFinishedHubs(ctx context.Context) {
	o.mu.Lock()
	dead := make([]string, 0)
	for id, hub := range o.hubs {
		select {
		case <-hub.ingester.Done():
			dead = append(dead, id)
		default:
		}
	}
	o.mu.Unlock()

	if len(dead) == 0 {
		return
	}
	cameras, err := o.Registry.ActiveCameras(ctx)
	if err != nil {
		return
	}
	active := make(map[string]model.Camera)
	for _, c := range cameras {
		active[c.ID] = c
	}
	o.mu.Lock()
	for _, id := range dead {
		delete(o.hubs, id)
	}
	o.mu.Unlock()
	for _, id := range dead {
		if cam, ok := active[id]; ok {
			o.Log.Warn().Str("camera_id", id).Msg("frame hub died unexpectedly, restarting")
			o.startHub(ctx, cam)
		}
	}
}

func (o *Orchestrator) shutdown() {
	o.mu.Lock()
	hubs := make([]*runningHub, 0, len(o.hubs))
	for _, h := range o.hubs {
		hubs = append(hubs, h)
	}
	workers := make([]*runningWorker, 0, len(o.workers))
	for _, w := range o.workers {
		workers = append(workers, w)
	}
	o.mu.Unlock()

	for _, w := range workers {
		w.worker.Stop()
	}
	for _, h := range hubs {
		o.stopHub(h)
	}
}
