// Package relay drives an optional GPIO alert relay (siren/strobe)
// pulsed on every event frame a fired rule produces, so it stays on
// while the rule keeps firing. Adapted from the teacher's
// pca9685 servo-channel mover (mutex-guarded stop-channel-per-task
// pattern), generalized from continuous angle stepping to a one-shot
// digital pulse, and retargeted from a servo board to a single GPIO
// pin via periph.io/x/host + periph.io/x/conn.
package relay

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// Relay pulses a single GPIO output pin high for a fixed duration.
// Safe for concurrent Pulse calls; overlapping pulses simply extend
// the on-time rather than stacking.
type Relay struct {
	pin   gpio.PinIO
	pulse time.Duration
	log   zerolog.Logger

	mu      sync.Mutex
	active  chan struct{}
}

// Open initializes the periph host drivers and resolves pinName (e.g.
// "GPIO17"). If no GPIO hardware is present, callers should fall back
// to NewNop, mirroring the teacher's nopBus fallback idiom.
func Open(pinName string, pulse time.Duration, log zerolog.Logger) (*Relay, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("relay: init periph host: %w", err)
	}
	pin := gpioreg.ByName(pinName)
	if pin == nil {
		return nil, fmt.Errorf("relay: pin %q not found", pinName)
	}
	if err := pin.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("relay: set pin low: %w", err)
	}
	return &Relay{pin: pin, pulse: pulse, log: log}, nil
}

// NewNop returns a Relay that logs instead of driving real hardware,
// used when RelayEnabled is false or no GPIO is present.
func NewNop(log zerolog.Logger) *Relay {
	return &Relay{log: log}
}

// Pulse drives the pin high, holds for the configured pulse duration,
// then drives it low. If a pulse is already in flight, it is extended
// rather than stacked: calling Pulse again just resets the same
// countdown.
func (r *Relay) Pulse() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.pin == nil {
		r.log.Debug().Msg("relay pulse (no-op, no GPIO pin configured)")
		return
	}

	if r.active != nil {
		close(r.active)
	}
	stop := make(chan struct{})
	r.active = stop

	if err := r.pin.Out(gpio.High); err != nil {
		r.log.Warn().Err(err).Msg("relay: failed to set pin high")
		return
	}

	go func() {
		select {
		case <-time.After(r.pulse):
			r.mu.Lock()
			if r.active == stop {
				_ = r.pin.Out(gpio.Low)
				r.active = nil
			}
			r.mu.Unlock()
		case <-stop:
			// superseded by a newer pulse; that goroutine owns turning it off
		}
	}()
}

// Close drives the pin low and releases the Relay.
func (r *Relay) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active != nil {
		close(r.active)
		r.active = nil
	}
	if r.pin != nil {
		_ = r.pin.Out(gpio.Low)
	}
}
