// Package natsnotify relays score notifications to NATS subjects so other
// services can react to score changes.
package natsnotify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/okian/leadflow/internal/domain/notify"
	"github.com/okian/leadflow/pkg/logger"
)

// DefaultSubjectPrefix is prepended to the topic to form the subject.
const DefaultSubjectPrefix = "leadflow."

// Publisher implements notify.Publisher on a NATS connection.
type Publisher struct {
	conn   *nats.Conn
	prefix string
}

var _ notify.Publisher = (*Publisher)(nil)

// Connect dials url with automatic reconnection.
func Connect(url string, log logger.Logger) (*Publisher, error) {
	ctx := context.Background()
	nc, err := nats.Connect(url,
		nats.Name("leadflow"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn(ctx, "nats disconnected", logger.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info(ctx, "nats reconnected", logger.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return New(nc), nil
}

// New wraps an existing connection.
func New(conn *nats.Conn) *Publisher {
	return &Publisher{conn: conn, prefix: DefaultSubjectPrefix}
}

// Subject returns the subject a topic is published on.
func (p *Publisher) Subject(topic string) string {
	return p.prefix + topic
}

// Publish JSON encodes payload and publishes it on the topic's subject.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling %s payload: %w", topic, err)
	}
	if err := p.conn.Publish(p.Subject(topic), data); err != nil {
		return fmt.Errorf("publishing %s: %w", p.Subject(topic), err)
	}
	return nil
}

// Close flushes pending messages and closes the connection.
func (p *Publisher) Close() error {
	err := p.conn.Drain()
	if err != nil {
		p.conn.Close()
	}
	return err
}
