package hub

import (
	"encoding/json"

	"CareBridge/logger"
)

// Sink receives a copy of every emitted event. Used to mirror the hub's
// traffic onto a message broker for services that do not hold a hub
// connection. Best-effort, like everything else here.
type Sink interface {
	Publish(eventType string, data []byte)
}

// Bus routes typed events to live connections through the registry.
// One instance is constructed at service start and injected wherever events
// are emitted; there is no package-level singleton.
type Bus struct {
	reg  *Registry
	sink Sink // optional
}

func NewBus(reg *Registry) *Bus {
	return &Bus{reg: reg}
}

// WithSink attaches an event mirror. Call before serving traffic.
func (b *Bus) WithSink(s Sink) *Bus {
	b.sink = s
	return b
}

// Broadcast sends to every open connection.
func (b *Bus) Broadcast(t EventType, payload any) {
	b.dispatch(t, payload, b.reg.Snapshot(nil))
}

// BroadcastToRole sends only to connections whose role is in roles.
func (b *Bus) BroadcastToRole(t EventType, payload any, roles ...Role) {
	set := make(map[Role]struct{}, len(roles))
	for _, r := range roles {
		set[r] = struct{}{}
	}
	conns := b.reg.Snapshot(func(c *Conn) bool {
		_, ok := set[c.Role()]
		return ok
	})
	b.dispatch(t, payload, conns)
}

// BroadcastToHospital sends to connections scoped to one hospital.
func (b *Bus) BroadcastToHospital(t EventType, payload any, hospitalID int64) {
	conns := b.reg.Snapshot(func(c *Conn) bool {
		return c.HospitalID() == hospitalID
	})
	b.dispatch(t, payload, conns)
}

// SendToUser delivers to every connection of one user and reports whether at
// least one recipient existed. An absent target is a normal outcome; the UI
// reconciles on reconnect.
func (b *Bus) SendToUser(t EventType, payload any, userID int64) bool {
	conns := b.reg.ListByUser(userID)
	if len(conns) == 0 {
		logger.Debugf("[bus] no recipient user=%d type=%s", userID, t)
		b.mirror(t, payload)
		return false
	}
	b.dispatch(t, payload, conns)
	return true
}

// SendToSession notifies both parties of a session. consultantID may be 0
// when no consultant is attached yet.
func (b *Bus) SendToSession(t EventType, payload any, requesterID, consultantID int64) {
	conns := b.reg.ListByUser(requesterID)
	if consultantID != 0 {
		conns = append(conns, b.reg.ListByUser(consultantID)...)
	}
	b.dispatch(t, payload, conns)
}

// dispatch marshals once and enqueues onto each target. Individual send
// failures are swallowed so one dead connection cannot abort delivery to
// the rest.
func (b *Bus) dispatch(t EventType, payload any, conns []*Conn) {
	data, err := json.Marshal(NewEvent(t, payload))
	if err != nil {
		logger.Errorf("[bus] marshal event type=%s: %v", t, err)
		return
	}
	for _, c := range conns {
		c.enqueue(data)
	}
	if b.sink != nil {
		b.sink.Publish(string(t), data)
	}
}

// mirror publishes to the sink even when no hub connection received the
// event, so downstream consumers still observe the full stream.
func (b *Bus) mirror(t EventType, payload any) {
	if b.sink == nil {
		return
	}
	data, err := json.Marshal(NewEvent(t, payload))
	if err != nil {
		return
	}
	b.sink.Publish(string(t), data)
}
