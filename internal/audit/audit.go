// Package audit publishes login/register audit events over NATS, adapted
// from the teacher's internal/messaging/nats.go pub/sub wrapper (subjects,
// reconnect handlers, Drain-based Close) but narrowed to the one-way
// event stream SPEC_FULL.md's Domain Stack assigns to nats-io/nats.go: an
// audit trail for authentication attempts, not the teacher's matchmaking
// and moderation subjects. A nil *Publisher (or one built around a failed
// connection) is safe to call and simply drops events, since an audit
// sink outage must not fail a login/register request.
package audit

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/reactorweb/server/internal/logging"
)

// SubjectAuth is the subject audit events are published on, with the
// event Kind (login/register) carried in the payload rather than split
// across subjects, since the reactor has exactly one audience: an
// offline consumer of the trail.
const SubjectAuth = "reactor.audit.auth"

// Kind distinguishes the two authentication flows spec.md §4.7 serves.
type Kind string

const (
	KindLogin    Kind = "login"
	KindRegister Kind = "register"
)

// Event is the audit record published for every login/register attempt.
type Event struct {
	Kind      Kind      `json:"kind"`
	Username  string    `json:"username"`
	RemoteIP  string    `json:"remote_ip"`
	RequestID string    `json:"request_id"`
	Success   bool      `json:"success"`
	Timestamp time.Time `json:"timestamp"`
}

// Config holds NATS connection settings.
type Config struct {
	URL           string
	Name          string
	ReconnectWait time.Duration
	MaxReconnects int
}

// DefaultConfig returns sensible defaults, mirroring the teacher's
// DefaultNATSConfig.
func DefaultConfig() Config {
	return Config{
		URL:           "nats://localhost:4222",
		Name:          "reactorweb",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
	}
}

// Publisher wraps a NATS connection dedicated to the audit subject.
type Publisher struct {
	conn *nats.Conn
	log  *logging.Logger
}

// Connect dials NATS per cfg. On failure it returns a nil *Publisher and
// the error; a nil *Publisher drops every event. Callers that don't want
// audit publishing at all should simply not call Connect (Config.URL == ""
// in the Reactor's wiring).
func Connect(cfg Config, log *logging.Logger) (*Publisher, error) {
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warnf("audit: disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Infof("audit: reconnected to %s", nc.ConnectedUrl())
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("audit: connect: %w", err)
	}
	log.Infof("audit: connected to %s", nc.ConnectedUrl())

	return &Publisher{conn: nc, log: log}, nil
}

// Publish emits ev on SubjectAuth. Marshal/publish errors are logged and
// swallowed: the caller's login/register response must not depend on the
// audit sink being reachable.
func (p *Publisher) Publish(ev Event) {
	if p == nil || p.conn == nil {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		p.log.Warnf("audit: marshal event: %v", err)
		return
	}
	if err := p.conn.Publish(SubjectAuth, data); err != nil {
		p.log.Warnf("audit: publish: %v", err)
	}
}

// Close drains and closes the underlying NATS connection.
func (p *Publisher) Close() {
	if p == nil || p.conn == nil {
		return
	}
	if err := p.conn.Drain(); err != nil {
		p.log.Warnf("audit: drain: %v", err)
	}
}
