// Package webrtcpub implements the per-camera/per-agent WebRTC
// publisher (spec §4.7): one signaling peer per stream, publishing the
// latest FrameStore frame as a video track, reconnecting independently
// of every other peer. Adapted from the teacher's webrtc.sfu peer
// lifecycle and ICE-candidate bookkeeping.
package webrtcpub

import (
	"context"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/pion/interceptor"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"

	"edgevision/config"
	"edgevision/framehub"
)

// newAPI builds a webrtc.API with the default interceptor chain
// registered (NACK, RTCP reports, twcc), the way the teacher's
// webrtc.sfu builds its shared API object.
func newAPI() (*webrtc.API, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}
	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, ir); err != nil {
		return nil, err
	}
	return webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(ir)), nil
}

// iceCounts tallies candidate types gathered during one session, for
// the ICE-complete diagnostic summary (spec §4.7 "ICE candidate
// bookkeeping").
type iceCounts struct {
	host, srflx, relay int
}

// Peer is one signaling/WebRTC connection publishing a single
// FrameStore key (a camera_id or an agent_id).
type Peer struct {
	Identity     string // the "from" identity registered with the relay
	ViewerTarget string // the "to" identity this peer offers to
	StoreKey     string
	FPS          int

	Store *framehub.FrameStore
	Cfg   *config.Config
	Log   zerolog.Logger

	stop chan struct{}
	done chan struct{}
}

// NewPeer constructs a Peer; call Run in its own goroutine.
func NewPeer(identity, viewerTarget, storeKey string, fps int, store *framehub.FrameStore, cfg *config.Config, log zerolog.Logger) *Peer {
	return &Peer{
		Identity: identity, ViewerTarget: viewerTarget, StoreKey: storeKey, FPS: fps,
		Store: store, Cfg: cfg, Log: log,
		stop: make(chan struct{}), done: make(chan struct{}),
	}
}

func (p *Peer) Stop() { close(p.stop) }
func (p *Peer) Done() <-chan struct{} { return p.done }

func (p *Peer) stopped() bool {
	select {
	case <-p.stop:
		return true
	default:
		return false
	}
}

// Run connects, streams, and on disconnect or ICE failure reconnects
// after ReconnectDelay, independent of every other Peer (spec §4.7
// "Per-peer lifecycle").
func (p *Peer) Run(ctx context.Context) {
	defer close(p.done)
	for !p.stopped() && ctx.Err() == nil {
		if err := p.runOnce(ctx); err != nil {
			p.Log.Warn().Err(err).Str("identity", p.Identity).Msg("webrtc peer session ended, reconnecting")
		}
		if p.stopped() || ctx.Err() != nil {
			return
		}
		select {
		case <-time.After(p.Cfg.ReconnectDelay):
		case <-p.stop:
			return
		}
	}
}

func (p *Peer) iceServers() []webrtc.ICEServer {
	servers := []webrtc.ICEServer{{URLs: p.Cfg.StunServers}}
	if p.Cfg.TurnURL != "" {
		user := p.Cfg.TurnUser
		username, password := user, p.Cfg.TurnPass
		if p.Cfg.TurnPass == "" {
			// static-auth-secret mode: derive time-limited creds (spec §6)
			username, password = generateTurnCredentials(p.Cfg.TurnUser, "edgevision", time.Hour)
		}
		servers = append(servers, webrtc.ICEServer{
			URLs:       []string{p.Cfg.TurnURL},
			Username:   username,
			Credential: password,
		})
	}
	return servers
}

// readSenderRTCP drains RTCP feedback for our outbound track and
// nudges the encoder to restart on PLI/FIR, the same keyframe-recovery
// signal the teacher's sfu forwards between its publisher and
// subscriber peer connections.
func readSenderRTCP(ctx context.Context, sender *webrtc.RTPSender, forceKeyframe chan<- struct{}, log zerolog.Logger) {
	for {
		pkts, _, err := sender.ReadRTCP()
		if err != nil {
			if err != io.EOF {
				log.Debug().Err(err).Msg("rtcp sender read ended")
			}
			return
		}
		for _, pkt := range pkts {
			switch pkt.(type) {
			case *rtcp.PictureLossIndication, *rtcp.FullIntraRequest:
				select {
				case forceKeyframe <- struct{}{}:
				default:
				}
			}
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

func (p *Peer) runOnce(ctx context.Context) error {
	sig, err := dialSignaling(p.Cfg.SignalingURL, p.Identity)
	if err != nil {
		return err
	}
	defer sig.closeWithTimeout(5 * time.Second)

	api, err := newAPI()
	if err != nil {
		return err
	}
	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: p.iceServers()})
	if err != nil {
		return err
	}
	defer pc.Close()

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeH264},
		p.StoreKey, p.Identity,
	)
	if err != nil {
		return err
	}
	sender, err := pc.AddTrack(track)
	if err != nil {
		return err
	}

	forceKeyframe := make(chan struct{}, 1)
	go readSenderRTCP(ctx, sender, forceKeyframe, p.Log)

	counts := &iceCounts{}
	iceFailed := make(chan struct{}, 1)
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		switch c.Typ {
		case webrtc.ICECandidateTypeHost:
			counts.host++
		case webrtc.ICECandidateTypeSrflx:
			counts.srflx++
		case webrtc.ICECandidateTypeRelay:
			counts.relay++
		}
		init := c.ToJSON()
		_ = sig.send(Envelope{Type: "ice", To: p.ViewerTarget, Candidate: &init})
	})
	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		if state == webrtc.ICEConnectionStateFailed {
			select {
			case iceFailed <- struct{}{}:
			default:
			}
		}
	})
	pc.OnICEGatheringStateChange(func(s webrtc.ICEGatheringState) {
		if s == webrtc.ICEGatheringStateComplete {
			p.Log.Info().Str("identity", p.Identity).
				Int("host", counts.host).Int("srflx", counts.srflx).Int("relay", counts.relay).
				Msg("ice gathering complete")
		}
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return err
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return err
	}
	if err := sig.send(Envelope{Type: "offer", To: p.ViewerTarget, Offer: &offer}); err != nil {
		return err
	}

	answered := make(chan struct{})
	readErrCh := make(chan error, 1)
	go func() {
		for {
			env, err := sig.readNext()
			if err != nil {
				readErrCh <- err
				return
			}
			switch env.Type {
			case "answer":
				if env.Answer != nil {
					if err := pc.SetRemoteDescription(*env.Answer); err == nil {
						select {
						case <-answered:
						default:
							close(answered)
						}
					}
				}
			case "ice":
				if env.Candidate != nil {
					_ = pc.AddICECandidate(*env.Candidate)
				}
			}
		}
	}()

	select {
	case <-answered:
	case err := <-readErrCh:
		return err
	case <-time.After(10 * time.Second):
		return errTimeoutWaitingForAnswer
	case <-p.stop:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}

	trackCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go runTrack(trackCtx, p.Store, p.StoreKey, track, p.FPS, forceKeyframe)

	select {
	case <-p.stop:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case err := <-readErrCh:
		return err
	case <-iceFailed:
		return errICEFailed
	}
}
