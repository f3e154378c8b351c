// Package events publishes server lifecycle notices (channel opened,
// session created/closed, subscription transferred) to an external NATS
// subject for audit/observability pipelines outside the process. It is
// optional: with no EventsURL configured, Publisher is nil-safe and
// every call is a no-op.
//
// Grounded on go-server/pkg/nats/client.go: same connect-with-handlers
// and Publish/PublishJSON shape, stripped of the request-reply and
// per-subject-handler subscription machinery this server's one-way
// audit feed doesn't need.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// Event is one audit-feed entry. Kind names the lifecycle transition
// ("channel.opened", "session.created", "subscription.transferred", ...).
type Event struct {
	Kind      string         `json:"kind"`
	Timestamp time.Time      `json:"timestamp"`
	Fields    map[string]any `json:"fields,omitempty"`
}

const subject = "opcua.server.events"

// Publisher sends Events to NATS. The zero value (and a nil pointer)
// are both safe to call Publish on; Publish is then a no-op.
type Publisher struct {
	conn   *nats.Conn
	logger zerolog.Logger
}

// NewPublisher connects to url. An empty url disables the publisher:
// the returned Publisher is non-nil but every Publish call is a no-op,
// so callers never need a nil check.
func NewPublisher(url string, logger zerolog.Logger) (*Publisher, error) {
	if url == "" {
		return &Publisher{logger: logger}, nil
	}
	conn, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn().Err(err).Msg("events publisher disconnected from NATS")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info().Str("url", c.ConnectedUrl()).Msg("events publisher reconnected to NATS")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return &Publisher{conn: conn, logger: logger}, nil
}

// Publish sends ev to the audit subject. Failures are logged, not
// returned: a dropped audit event must never fail the OPC UA operation
// that raised it.
func (p *Publisher) Publish(ev Event) {
	if p == nil || p.conn == nil {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		p.logger.Warn().Err(err).Str("kind", ev.Kind).Msg("failed to marshal audit event")
		return
	}
	if err := p.conn.Publish(subject, data); err != nil {
		p.logger.Warn().Err(err).Str("kind", ev.Kind).Msg("failed to publish audit event")
	}
}

// Close closes the NATS connection, if any, without draining it first.
func (p *Publisher) Close() {
	if p == nil || p.conn == nil {
		return
	}
	p.conn.Close()
}
