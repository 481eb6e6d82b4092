// Package natssink publishes telemetry events to NATS subjects
// "<prefix>.<event name>" as JSON.
package natssink

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/IvanBrykalov/swipedeck/telemetry"
)

// Publisher is the part of *nats.Conn the sink uses.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Sink implements telemetry.Sink over a NATS publisher. Publish failures are
// logged and dropped; telemetry never fails the engine.
type Sink struct {
	pub    Publisher
	prefix string
	log    *zap.Logger
}

// New wraps pub. An empty prefix defaults to "swipedeck".
func New(pub Publisher, prefix string, log *zap.Logger) *Sink {
	if prefix == "" {
		prefix = "swipedeck"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Sink{pub: pub, prefix: prefix, log: log.With(zap.String("module", "natssink"))}
}

// Connect dials url with reconnect settings suited to a long-lived
// background publisher.
func Connect(url string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("swipedeck-telemetry"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("natssink: connect %s: %w", url, err)
	}
	return nc, nil
}

// Subject returns the subject an event is published on.
func (s *Sink) Subject(ev telemetry.Event) string {
	return s.prefix + "." + ev.Name
}

// Emit publishes ev.
func (s *Sink) Emit(ev telemetry.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		s.log.Warn("marshal event", zap.String("event", ev.Name), zap.Error(err))
		return
	}
	if err := s.pub.Publish(s.Subject(ev), data); err != nil {
		s.log.Warn("publish event", zap.String("event", ev.Name), zap.Error(err))
	}
}
