// Package bus is the single logical producer to the external message
// bus (spec §4.9): one topic, partitioned by agent_id for notifications
// and session_id for video chunks, JSON-encoded with base64 binary
// payloads.
package bus

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// Producer publishes the two message kinds the core emits. Defined as
// an interface so EventSessionManager can be tested without a live
// NATS connection.
type Producer interface {
	PublishNotification(n Notification) error
	PublishVideoChunk(v VideoChunk) error
	Close()
}

// NatsProducer is the production Producer, backed by a single NATS
// connection. Partition ordering is approximated by subject suffixing
// (agent_id / session_id) since NATS core pub/sub has no partition
// concept of its own — per-subject delivery preserves publish order to
// subscribers of that subject, which is the ordering guarantee spec
// §5 actually needs.
type NatsProducer struct {
	conn  *nats.Conn
	topic string
	log   zerolog.Logger
}

// NewNatsProducer dials url and returns a ready Producer.
func NewNatsProducer(url, topic string, log zerolog.Logger) (*NatsProducer, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("connect bus: %w", err)
	}
	return &NatsProducer{conn: conn, topic: topic, log: log}, nil
}

func (p *NatsProducer) PublishNotification(n Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	subject := fmt.Sprintf("%s.%s", p.topic, n.Agent.AgentID)
	return p.conn.Publish(subject, payload)
}

func (p *NatsProducer) PublishVideoChunk(v VideoChunk) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal video chunk: %w", err)
	}
	subject := fmt.Sprintf("%s.%s", p.topic, v.SessionID)
	return p.conn.Publish(subject, payload)
}

func (p *NatsProducer) Close() {
	if p.conn != nil {
		p.conn.Close()
	}
}
