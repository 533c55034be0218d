package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"shelfwatch/internal/config"
	"shelfwatch/internal/model"
)

type publisher interface {
	Publish(subject string, data []byte) error
}

// NATS publishes alerts on the configured subject and frame reports on
// "<subject>.status".
type NATS struct {
	conn    publisher
	close   func()
	subject string
}

func NewNATS(cfg config.NATSSinkConfig) (*NATS, error) {
	name := cfg.Name
	if name == "" {
		name = "shelfwatch"
	}
	wait := cfg.ReconnectWait
	if wait <= 0 {
		wait = 2 * time.Second
	}
	conn, err := nats.Connect(cfg.URL,
		nats.Name(name),
		nats.ReconnectWait(wait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &NATS{conn: conn, close: conn.Close, subject: cfg.Subject}, nil
}

func (n *NATS) SendAlert(_ context.Context, alert model.AlertEvent) error {
	return n.publish(n.subject, alert)
}

func (n *NATS) SendReport(_ context.Context, report model.FrameReport) error {
	return n.publish(n.subject+".status", report)
}

func (n *NATS) publish(subject string, v any) error {
	if n.conn == nil {
		return fmt.Errorf("not connected")
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}
	return n.conn.Publish(subject, payload)
}

func (n *NATS) Close() error {
	if n.close != nil {
		n.close()
	}
	return nil
}
