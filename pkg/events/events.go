// Package events delivers governance events to sinks outside the process.
package events

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/entrhq/govdelegate/pkg/types"
)

// DefaultSubjectPrefix is prepended to the event type to form the subject.
const DefaultSubjectPrefix = "govdelegate.events"

// Fanout returns an emitter that passes every event to each non-nil emitter in order.
func Fanout(emitters ...types.EventEmitter) types.EventEmitter {
	var live []types.EventEmitter
	for _, e := range emitters {
		if e != nil {
			live = append(live, e)
		}
	}
	return func(event *types.Event) {
		for _, e := range live {
			e(event)
		}
	}
}

// Conn is the part of *nats.Conn the publisher uses.
type Conn interface {
	Publish(subject string, data []byte) error
	Drain() error
}

// Logger receives publish failures.
type Logger interface {
	Warnf(format string, args ...interface{})
}

// Publisher publishes events as JSON on <prefix>.<event type>. Publishing
// never blocks the caller on delivery; failures are logged and counted.
type Publisher struct {
	conn   Conn
	prefix string
	logger Logger

	failures int
	closed   bool
	mu       sync.Mutex
}

// NewPublisher wraps an existing connection.
func NewPublisher(conn Conn, prefix string, logger Logger) *Publisher {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &Publisher{conn: conn, prefix: prefix, logger: logger}
}

// Connect dials the NATS server at url and returns a publisher on it.
func Connect(url, prefix string, logger Logger) (*Publisher, error) {
	conn, err := nats.Connect(url,
		nats.Name("govdelegate"),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", url, err)
	}
	return NewPublisher(conn, prefix, logger), nil
}

// Subject returns the subject an event type is published on.
func (p *Publisher) Subject(t types.EventType) string {
	return p.prefix + "." + string(t)
}

// Emit publishes event. It has the types.EventEmitter signature.
func (p *Publisher) Emit(event *types.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		p.fail(event, fmt.Errorf("marshal event: %w", err))
		return
	}

	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return
	}

	if err := p.conn.Publish(p.Subject(event.Type), data); err != nil {
		p.fail(event, err)
	}
}

func (p *Publisher) fail(event *types.Event, err error) {
	p.mu.Lock()
	p.failures++
	p.mu.Unlock()
	if p.logger != nil {
		p.logger.Warnf("events: failed to publish %s: %v", event.Type, err)
	}
}

// Failures returns how many events could not be published.
func (p *Publisher) Failures() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failures
}

// Close drains the connection, flushing buffered events. It is safe to
// call more than once.
func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()
	return p.conn.Drain()
}
