// Package notify publishes controller events to NATS so downstream
// consumers (signage, analytics) can follow the intersection without
// polling the API.
package notify

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/junctionworks/crossflow/internal/monitoring"
)

// Subjects carrying controller events.
const (
	SubjectTransits     = "crossflow.transits"
	SubjectSignals      = "crossflow.signals"
	SubjectCalibrations = "crossflow.calibrations"
)

// Publisher wraps a NATS connection. A publisher that never connected
// swallows publishes, so wiring it in is harmless when no broker is
// configured.
type Publisher struct {
	mu      sync.Mutex
	conn    *nats.Conn
	enabled bool
}

func NewPublisher() *Publisher {
	return &Publisher{}
}

// Connect dials the broker with automatic reconnects.
func (p *Publisher) Connect(natsURL string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	opts := []nats.Option{
		nats.Name("crossflow-notifier"),
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			monitoring.Logf("[notify] nats disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			monitoring.Logf("[notify] nats reconnected: %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			monitoring.Logf("[notify] nats connection closed")
		}),
	}

	conn, err := nats.Connect(natsURL, opts...)
	if err != nil {
		p.enabled = false
		return fmt.Errorf("connecting to nats: %w", err)
	}

	p.conn = conn
	p.enabled = true
	monitoring.Logf("[notify] nats connected: %s", natsURL)
	return nil
}

// Publish serialises data as JSON onto subject. Publishing without a
// connection is a silent no-op.
func (p *Publisher) Publish(subject string, data interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.enabled || p.conn == nil {
		return nil
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshaling payload for %s: %w", subject, err)
	}

	if err := p.conn.Publish(subject, payload); err != nil {
		return fmt.Errorf("publishing to %s: %w", subject, err)
	}

	return nil
}

// Close drains the connection.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
		p.enabled = false
		monitoring.Logf("[notify] nats disconnected")
	}
}

// IsConnected reports whether the broker link is currently up.
func (p *Publisher) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enabled && p.conn != nil && p.conn.IsConnected()
}
