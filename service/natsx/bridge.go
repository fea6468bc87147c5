// Package natsx mirrors hub events onto NATS subjects so services that do
// not hold a websocket connection (the CRUD application, audit workers) can
// observe session lifecycle. Delivery is best-effort, same as the hub's.
package natsx

import (
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"

	"CareBridge/logger"
)

// Config for the event bridge. An empty URL disables it.
type Config struct {
	URL           string
	SubjectPrefix string
	Name          string
}

func (c *Config) norm() {
	if c.SubjectPrefix == "" {
		c.SubjectPrefix = "carebridge.events"
	}
	if c.Name == "" {
		c.Name = "carebridge-gateway"
	}
}

// Bridge implements hub.Sink over a NATS connection.
type Bridge struct {
	nc     *nats.Conn
	prefix string
}

func Connect(cfg Config) (*Bridge, error) {
	cfg.norm()
	nc, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, errors.Wrap(err, "nats connect")
	}
	return &Bridge{nc: nc, prefix: cfg.SubjectPrefix}, nil
}

// Publish fans one event out on <prefix>.<eventType>. Errors are logged and
// swallowed; a down broker must not affect hub delivery.
func (b *Bridge) Publish(eventType string, data []byte) {
	subject := b.prefix + "." + eventType
	msg := nats.NewMsg(subject)
	msg.Data = data
	if err := b.nc.PublishMsg(msg); err != nil {
		logger.Warnf("[bridge] publish %s: %v", subject, err)
	}
}

func (b *Bridge) Close() {
	if b.nc != nil {
		_ = b.nc.Drain()
	}
}
