package main

import (
	"edgevision/detector"
	"edgevision/model"
	"edgevision/relay"
)

// alertingSink forwards fired rules to the EventSessionManager and
// pulses the alert relay on every new event frame, the supplemented
// GPIO-siren feature from SPEC_FULL's expansion.
type alertingSink struct {
	sessions detector.EventSink
	relay    *relay.Relay
}

func newAlertingSink(sessions detector.EventSink, r *relay.Relay) *alertingSink {
	return &alertingSink{sessions: sessions, relay: r}
}

func (a *alertingSink) HandleEventFrame(key model.SessionKey, ev model.EventFrame) {
	a.sessions.HandleEventFrame(key, ev)
	a.relay.Pulse()
}
