// Package client maintains one logical subscription to the gateway: a
// persistent websocket with automatic reconnection, re-authentication and a
// handler registry multiplexed by event type. It depends only on the hub's
// wire contract, not its implementation.
package client

import (
	"encoding/json"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"CareBridge/logger"
	"CareBridge/service/hub"
	"CareBridge/tools/safe"
)

// State of the channel's connection lifecycle.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateClosing
	StateReconnectPending
)

// Identity sent in the authenticate control frame. Owned by the channel
// instance so independent channels (and tests) never interfere.
type Identity struct {
	UserID     int64
	Role       hub.Role
	HospitalID int64
}

// Handler receives the raw payload of one event. Use hub.DecodePayload to
// resolve it into the typed shape when needed.
type Handler func(payload map[string]any)

const defaultReconnectDelay = 3 * time.Second

type Option func(*Channel)

// WithReconnectDelay overrides the fixed delay between reconnect attempts.
func WithReconnectDelay(d time.Duration) Option {
	return func(c *Channel) { c.delay = d }
}

func WithDialer(d *websocket.Dialer) Option {
	return func(c *Channel) { c.dialer = d }
}

// Channel is a client-side persistent connection to the gateway.
type Channel struct {
	url    string
	delay  time.Duration
	dialer *websocket.Dialer

	mu       sync.Mutex
	state    State
	identity *Identity
	ws       *websocket.Conn
	handlers map[hub.EventType]map[int64]Handler
	nextSub  int64
	retry    *time.Timer
	closed   bool

	writeMu sync.Mutex
}

// Dial constructs a channel and immediately starts connecting. An http(s)
// rawURL is scheme-upgraded to ws(s), matching the page's security level.
func Dial(rawURL string, identity *Identity, opts ...Option) *Channel {
	c := &Channel{
		url:      upgradeScheme(rawURL),
		delay:    defaultReconnectDelay,
		dialer:   websocket.DefaultDialer,
		identity: identity,
		handlers: make(map[hub.EventType]map[int64]Handler),
	}
	for _, opt := range opts {
		opt(c)
	}
	safe.Go(c.connect)
	return c
}

func upgradeScheme(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	return u.String()
}

func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Subscribe registers a handler for one event type and returns its
// unsubscribe function. Unsubscribing twice is a no-op.
func (c *Channel) Subscribe(t hub.EventType, h Handler) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := c.handlers[t]
	if m == nil {
		m = make(map[int64]Handler)
		c.handlers[t] = m
	}
	id := c.nextSub
	c.nextSub++
	m[id] = h
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if mm := c.handlers[t]; mm != nil {
			delete(mm, id)
		}
	}
}

// SetIdentity swaps the active identity. While OPEN the authenticate frame
// is re-sent immediately, without reconnecting.
func (c *Channel) SetIdentity(id Identity) {
	c.mu.Lock()
	c.identity = &id
	ws := c.ws
	open := c.state == StateOpen
	c.mu.Unlock()
	if open && ws != nil {
		c.sendAuth(ws, id)
	}
}

// Close disposes the channel: the pending reconnect timer is cancelled and
// the active transport closed. No further reconnect attempts occur.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.state = StateClosing
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
	ws := c.ws
	c.ws = nil
	c.mu.Unlock()

	if ws != nil {
		_ = ws.Close()
	}

	c.mu.Lock()
	c.state = StateDisconnected
	c.mu.Unlock()
}

func (c *Channel) connect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.state = StateConnecting
	c.mu.Unlock()

	ws, _, err := c.dialer.Dial(c.url, nil)
	if err != nil {
		logger.Debugf("[channel] dial %s: %v", c.url, err)
		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()
		c.scheduleReconnect()
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = ws.Close()
		return
	}
	c.ws = ws
	c.state = StateOpen
	ident := c.identity
	c.mu.Unlock()

	if ident != nil {
		c.sendAuth(ws, *ident)
	}
	safe.Go(func() { c.readLoop(ws) })
}

// sendAuth is fire-and-forget; no acknowledgment is awaited.
func (c *Channel) sendAuth(ws *websocket.Conn, id Identity) {
	frame := hub.Frame{
		Type: hub.FrameAuthenticate,
		Payload: map[string]any{
			"userId":     id.UserID,
			"role":       string(id.Role),
			"hospitalId": id.HospitalID,
		},
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
		logger.Debugf("[channel] authenticate write: %v", err)
	}
}

func (c *Channel) readLoop(ws *websocket.Conn) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			break
		}

		var evt struct {
			Type      hub.EventType  `json:"type"`
			Payload   map[string]any `json:"payload"`
			Timestamp string         `json:"timestamp"`
		}
		if perr := json.Unmarshal(data, &evt); perr != nil {
			// Parse failures never close the connection.
			logger.Infof("[channel] bad event: %v", perr)
			continue
		}
		c.dispatch(evt.Type, evt.Payload)
	}
	c.onDisconnect(ws)
}

// dispatch invokes every handler registered for the type at call time.
// The snapshot makes registration changes during dispatch safe: a handler
// unsubscribed mid-dispatch still sees this event, never a skip or a
// double-invoke.
func (c *Channel) dispatch(t hub.EventType, payload map[string]any) {
	c.mu.Lock()
	m := c.handlers[t]
	snapshot := make([]Handler, 0, len(m))
	for _, h := range m {
		snapshot = append(snapshot, h)
	}
	c.mu.Unlock()

	for _, h := range snapshot {
		h(payload)
	}
}

func (c *Channel) onDisconnect(ws *websocket.Conn) {
	_ = ws.Close()
	c.mu.Lock()
	if c.ws == ws {
		c.ws = nil
	}
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.state = StateDisconnected
	c.mu.Unlock()
	c.scheduleReconnect()
}

// scheduleReconnect arms one attempt after the fixed delay. Unconditional
// retry without backoff growth: these channels back long-lived UI sessions.
func (c *Channel) scheduleReconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.retry != nil {
		return
	}
	c.state = StateReconnectPending
	c.retry = time.AfterFunc(c.delay, func() {
		c.mu.Lock()
		c.retry = nil
		c.mu.Unlock()
		c.connect()
	})
}
