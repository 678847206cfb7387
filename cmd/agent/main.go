// Command agent is the edge video-analytics agent process: it wires
// config, persistence, the FrameStore, the Orchestrator, the event
// pipeline, and the two viewer fan-outs together and runs until
// signaled to stop.
package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"edgevision/bus"
	"edgevision/config"
	"edgevision/detector"
	"edgevision/events"
	"edgevision/framehub"
	"edgevision/logging"
	"edgevision/metrics"
	"edgevision/model"
	"edgevision/orchestrator"
	"edgevision/relay"
	"edgevision/store"
	"edgevision/webrtcpub"
	"edgevision/wsfmp4"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logging.Init(cfg.LogFormat, cfg.LogLevel, cfg.Location())
	log := logging.For("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	registry := store.NewGormRegistry(db)

	frameStore := framehub.NewFrameStore()

	natsProducer, err := bus.NewNatsProducer(cfg.BusURL, cfg.BusTopic, logging.For("bus"))
	var producer bus.Producer
	if err != nil {
		log.Warn().Err(err).Msg("failed to connect to message bus, notifications/chunks will fail to publish")
	} else {
		producer = natsProducer
	}

	sessions := events.New(cfg, producer, logging.For("events"))
	go sessions.Run(ctx)

	var alert *relay.Relay
	if cfg.RelayEnabled {
		alert, err = relay.Open(cfg.RelayPinName, cfg.RelayPulse, logging.For("relay"))
		if err != nil {
			log.Warn().Err(err).Msg("GPIO relay unavailable, falling back to no-op")
			alert = relay.NewNop(logging.For("relay"))
		}
	} else {
		alert = relay.NewNop(logging.For("relay"))
	}
	sink := newAlertingSink(sessions, alert)

	wsPublisher := wsfmp4.New(cfg, frameStore, logging.For("wsfmp4"))
	webrtcPeers := newPeerSet(cfg, frameStore, logging.For("webrtcpub"))

	factory := func(ctx context.Context, agent model.Agent, camera model.Camera) (orchestrator.Worker, error) {
		models := detector.NewModelSet() // model internals are an external collaborator, spec §1
		w := detector.NewWorker(agent, camera, frameStore, models, sink, registry, logging.For("detector"))
		go w.Run(ctx)

		webrtcPeers.ensure(ctx, camera.ID, agent)
		return w, nil
	}

	orch := orchestrator.New(registry, frameStore, cfg.PollInterval, cfg.WorkerJoinWait, factory, logging.For("orchestrator"))

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/ws/fmp4", wsfmp4.Handler(wsPublisher, logging.For("wsfmp4")))
	adminServer := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}

	go func() {
		if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("admin http server failed")
		}
	}()

	log.Info().Str("poll_interval", cfg.PollInterval.String()).Msg("edge video-analytics agent starting")
	orch.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = adminServer.Shutdown(shutdownCtx)

	sessions.Stop()
	<-sessions.Done()

	webrtcPeers.stopAll()
	alert.Close()
	if producer != nil {
		producer.Close()
	}
	log.Info().Msg("edge video-analytics agent stopped")
}
