package main

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"edgevision/config"
	"edgevision/framehub"
	"edgevision/model"
	"edgevision/webrtcpub"
)

// peerSet owns the one WebRTC publishing peer per camera (raw frames)
// and per agent (annotated frames), spec §4.7 "for each active camera
// ... for each active agent".
type peerSet struct {
	cfg   *config.Config
	store *framehub.FrameStore
	log   zerolog.Logger

	mu    sync.Mutex
	peers map[string]*webrtcpub.Peer
}

func newPeerSet(cfg *config.Config, store *framehub.FrameStore, log zerolog.Logger) *peerSet {
	return &peerSet{cfg: cfg, store: store, log: log, peers: make(map[string]*webrtcpub.Peer)}
}

// ensure starts a camera peer (once per camera_id) and an agent peer
// (once per agent_id) if not already running.
func (p *peerSet) ensure(ctx context.Context, cameraID string, agent model.Agent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.peers[cameraID]; !ok {
		identity := webrtcpub.CameraIdentity(agent.OwnerUserID, cameraID)
		peer := webrtcpub.NewPeer(identity, identity, cameraID, p.cfg.DefaultFPS, p.store, p.cfg, p.log)
		p.peers[cameraID] = peer
		go peer.Run(ctx)
	}

	if _, ok := p.peers[agent.ID]; !ok {
		identity := webrtcpub.AgentIdentity(agent.OwnerUserID, cameraID, agent.ID)
		peer := webrtcpub.NewPeer(identity, identity, agent.ID, agent.FPS, p.store, p.cfg, p.log)
		p.peers[agent.ID] = peer
		go peer.Run(ctx)
	}
}

func (p *peerSet) stopAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, peer := range p.peers {
		peer.Stop()
	}
	for _, peer := range p.peers {
		<-peer.Done()
	}
}
