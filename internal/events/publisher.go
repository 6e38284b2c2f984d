// Package events publishes unit lifecycle notifications to NATS JetStream
// so fleet tooling can react to builds without polling the API. The
// publisher is optional and strictly fire-and-forget: a broker outage never
// blocks or fails a unit.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/fwforge/fwforge/internal/ledger"
	"github.com/fwforge/fwforge/internal/logfields"
)

// publishTimeout bounds a single JetStream publish.
const publishTimeout = 5 * time.Second

// UnitEvent is the JSON payload published per lifecycle transition.
type UnitEvent struct {
	Type      string    `json:"type"` // created, succeeded, failed
	UnitID    string    `json:"unitId"`
	ProjectID string    `json:"projectId"`
	Op        string    `json:"op"`
	Target    string    `json:"target,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher sends unit lifecycle events to a JetStream subject.
type Publisher struct {
	conn    *nats.Conn
	js      jetstream.JetStream
	subject string
}

// NewPublisher connects to NATS and prepares the JetStream context.
func NewPublisher(url, subject string) (*Publisher, error) {
	conn, err := nats.Connect(url, nats.Name("fwforge"))
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	slog.Info("lifecycle event publisher connected", logfields.URL(url), slog.String("subject", subject))
	return &Publisher{conn: conn, js: js, subject: subject}, nil
}

// Close drains the connection.
func (p *Publisher) Close() {
	if p.conn != nil {
		p.conn.Close()
	}
}

// UnitCreated announces a freshly registered unit.
func (p *Publisher) UnitCreated(unit *ledger.Unit) {
	p.publish(UnitEvent{
		Type:      "created",
		UnitID:    unit.ID,
		ProjectID: unit.ProjectID,
		Op:        unit.Op,
		Target:    unit.Target,
		Timestamp: time.Now(),
	})
}

// UnitFinished announces a terminal transition.
func (p *Publisher) UnitFinished(unit *ledger.Unit) {
	eventType := "succeeded"
	if unit.Status == ledger.StatusFailed {
		eventType = "failed"
	}
	p.publish(UnitEvent{
		Type:      eventType,
		UnitID:    unit.ID,
		ProjectID: unit.ProjectID,
		Op:        unit.Op,
		Target:    unit.Target,
		Error:     unit.Error,
		Timestamp: time.Now(),
	})
}

func (p *Publisher) publish(event UnitEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		slog.Warn("lifecycle event not serializable", logfields.UnitID(event.UnitID), logfields.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if _, err := p.js.Publish(ctx, p.subject, payload); err != nil {
		slog.Warn("lifecycle event publish failed", logfields.UnitID(event.UnitID), logfields.Error(err))
	}
}
