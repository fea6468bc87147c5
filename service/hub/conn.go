package hub

import (
	"sync"

	"github.com/gorilla/websocket"

	"CareBridge/logger"
)

// Conn is one live transport socket and its identity metadata. The websocket
// handle is owned exclusively by the hub: the read loop in server.go is the
// only reader, the writer pump below is the only writer.
type Conn struct {
	ID string

	mu         sync.RWMutex
	userID     int64 // 0 until authenticated
	role       Role
	hospitalID int64

	ws        *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

const sendQueueSize = 64

func newConn(id string, ws *websocket.Conn) *Conn {
	return &Conn{
		ID:   id,
		ws:   ws,
		send: make(chan []byte, sendQueueSize),
		done: make(chan struct{}),
	}
}

func (c *Conn) identity() (userID int64, role Role, hospitalID int64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID, c.role, c.hospitalID
}

func (c *Conn) setIdentity(p AuthPayload) {
	c.mu.Lock()
	c.userID = p.UserID
	c.role = p.Role
	c.hospitalID = p.HospitalID
	c.mu.Unlock()
}

// UserID returns the authenticated user, 0 if unauthenticated.
func (c *Conn) UserID() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

func (c *Conn) Role() Role {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.role
}

func (c *Conn) HospitalID() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hospitalID
}

// enqueue hands a frame to the writer pump. Checked against the closed state
// right before the push; a frame racing an undetected close is acceptable
// loss under at-most-once semantics. Slow consumers are skipped rather than
// allowed to block a broadcast.
func (c *Conn) enqueue(payload []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- payload:
		return true
	default:
		logger.Debugf("[hub] send queue full, dropping frame conn=%s", c.ID)
		return false
	}
}

// writePump drains the send queue onto the socket. Exits when Close is
// called; a write error also tears the connection down, which unblocks the
// read loop and triggers registry removal there.
func (c *Conn) writePump() {
	for {
		select {
		case payload := <-c.send:
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				logger.Debugf("[hub] write err conn=%s: %v", c.ID, err)
				c.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}

// Close is idempotent; safe from any goroutine.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.ws != nil {
			_ = c.ws.Close()
		}
	})
}
