// Package config centralizes the process configuration spec §6 lists:
// bus endpoint/topic, database connection, poll interval, session
// timeout, chunk duration, default FPS, video save directory, STUN/TURN,
// signaling URL, and timezone.
package config

import (
	"time"

	"github.com/caarlos0/env/v9"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config is bound from the environment with github.com/caarlos0/env,
// the way BrunoKrugel-snapshot2stream's agent does, rather than the
// teacher's scattered os.Getenv-at-point-of-use calls.
type Config struct {
	// Persistence
	DBDriver string `env:"DB_DRIVER" envDefault:"sqlite"` // sqlite | postgres
	DBDSN    string `env:"DB_DSN" envDefault:"edgevision.db"`

	// Orchestration
	PollInterval   time.Duration `env:"POLL_INTERVAL" envDefault:"5s"`
	WorkerJoinWait time.Duration `env:"WORKER_JOIN_WAIT" envDefault:"1s"`

	// Detection defaults
	DefaultFPS int `env:"DEFAULT_FPS" envDefault:"5"`

	// Event sessions
	ChunkDurationSeconds int           `env:"CHUNK_DURATION_SECONDS" envDefault:"10"`
	SessionTimeout       time.Duration `env:"SESSION_TIMEOUT" envDefault:"30s"`
	SessionCheckInterval time.Duration `env:"SESSION_CHECK_INTERVAL" envDefault:"5s"`
	EncodeQueueSize      int           `env:"ENCODE_QUEUE_SIZE" envDefault:"8"`

	// Local chunk persistence
	VideoSaveEnabled bool   `env:"VIDEO_SAVE_ENABLED" envDefault:"false"`
	VideoSaveDir     string `env:"VIDEO_SAVE_DIR" envDefault:"./chunks"`

	// Message bus
	BusURL   string `env:"BUS_URL" envDefault:"nats://127.0.0.1:4222"`
	BusTopic string `env:"BUS_TOPIC" envDefault:"edgevision.events"`
	BusMaxBytes int `env:"BUS_MAX_BYTES" envDefault:"1048576"`

	// Signaling / WebRTC
	SignalingURL string   `env:"SIGNALING_URL" envDefault:"wss://localhost:8443/ws/sfu"`
	StunServers  []string `env:"STUN_SERVERS" envSeparator:"," envDefault:"stun:stun.l.google.com:19302"`
	TurnURL      string   `env:"TURN_URL" envDefault:""`
	TurnUser     string   `env:"TURN_USER" envDefault:""`
	TurnPass     string   `env:"TURN_PASS" envDefault:""`
	ReconnectDelay time.Duration `env:"RECONNECT_DELAY" envDefault:"2s"`

	// WsFmp4
	WsFirstFrameWait  time.Duration `env:"WS_FIRST_FRAME_WAIT" envDefault:"2s"`
	WsInitFastWait    time.Duration `env:"WS_INIT_FAST_WAIT" envDefault:"500ms"`
	WsInitSlowWait    time.Duration `env:"WS_INIT_SLOW_WAIT" envDefault:"5s"`

	// Alert relay (optional GPIO siren/strobe)
	RelayEnabled  bool          `env:"RELAY_ENABLED" envDefault:"false"`
	RelayPinName  string        `env:"RELAY_PIN" envDefault:"GPIO17"`
	RelayPulse    time.Duration `env:"RELAY_PULSE" envDefault:"2s"`

	// Ambient
	Timezone   string `env:"TIMEZONE" envDefault:"UTC"`
	LogFormat  string `env:"LOG_FORMAT" envDefault:"console"` // console | json
	LogLevel   string `env:"LOG_LEVEL" envDefault:"info"`
	MetricsAddr string `env:"METRICS_ADDR" envDefault:":9090"`
}

// Load reads an optional .env file (development convenience, ignored
// if absent) and then binds the process environment into a Config.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file found, using process environment only")
	}
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ChunkFrameLimit computes fps * chunk_duration_s for a given agent FPS.
func (c *Config) ChunkFrameLimit(fps int) int {
	return fps * c.ChunkDurationSeconds
}

// Location resolves the configured timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
