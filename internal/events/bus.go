package events

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// Config holds NATS connection tunables, mirroring the fields the
// teacher's messaging.Config exposes.
type Config struct {
	URL            string
	Name           string
	ReconnectWait  time.Duration
	MaxReconnects  int
	ConnectTimeout time.Duration
}

// Bus publishes control-plane events to NATS. A Bus without a live
// connection degrades to a no-op publisher rather than failing callers.
type Bus struct {
	conn *nats.Conn
	mu   sync.RWMutex
	log  zerolog.Logger
}

// Connect dials NATS per cfg. On failure it returns a Bus with no live
// connection; Publish calls on it are logged and dropped rather than
// returning an error, since event delivery is never allowed to gate a
// scaling decision.
func Connect(cfg Config, log zerolog.Logger) *Bus {
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.Timeout(cfg.ConnectTimeout),
	}

	b := &Bus{log: log}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		log.Warn().Err(err).Str("url", cfg.URL).Msg("events: starting without a broker connection")
		return b
	}

	conn.SetReconnectHandler(func(nc *nats.Conn) {
		log.Info().Msg("events: reconnected to broker")
	})
	conn.SetDisconnectErrHandler(func(nc *nats.Conn, err error) {
		log.Warn().Err(err).Msg("events: disconnected from broker")
	})

	b.conn = conn
	return b
}

func (b *Bus) publish(eventType string, subject string, data interface{}) {
	b.mu.RLock()
	conn := b.conn
	b.mu.RUnlock()

	if conn == nil || !conn.IsConnected() {
		return
	}

	event, err := newEvent(eventType, data)
	if err != nil {
		b.log.Warn().Err(err).Str("type", eventType).Msg("events: failed to encode event")
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		b.log.Warn().Err(err).Str("type", eventType).Msg("events: failed to marshal envelope")
		return
	}

	if err := conn.Publish(subject, payload); err != nil {
		b.log.Warn().Err(err).Str("type", eventType).Msg("events: publish failed")
	}
}

// PublishScaled announces a completed scaling decision.
func (b *Bus) PublishScaled(data ScaledData) {
	b.publish(TypeFleetScaled, subjectFor(TypeFleetScaled), data)
}

// PublishHealthChanged announces a dispatcher health transition.
func (b *Bus) PublishHealthChanged(data HealthChangedData) {
	b.publish(TypeFleetHealthChanged, subjectFor(TypeFleetHealthChanged), data)
}

// PublishForecastRecorded announces a recorded prediction-vs-actual sample.
func (b *Bus) PublishForecastRecorded(data ForecastRecordedData) {
	b.publish(TypeFleetForecastRecorded, subjectFor(TypeFleetForecastRecorded), data)
}

func subjectFor(eventType string) string {
	return fmt.Sprintf("fleetwatch.%s", eventType)
}

// Close drains and closes the underlying NATS connection, if any.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != nil {
		b.conn.Drain()
		b.conn = nil
	}
}
