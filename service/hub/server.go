package hub

import (
	"encoding/json"
	"net"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"CareBridge/logger"
	"CareBridge/tools/decode"
	"CareBridge/tools/ids"
	"CareBridge/tools/safe"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Browser origin policy is enforced by the middleware layer in front of
	// this handler.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server owns the websocket endpoint: it upgrades requests, registers the
// resulting connections and runs their read loops.
type Server struct {
	reg *Registry
}

func NewServer(reg *Registry) *Server {
	return &Server{reg: reg}
}

// HandleWS upgrades an HTTP request and services the connection until it
// closes. Registry removal happens here, synchronously, on every exit path.
func (s *Server) HandleWS(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Infof("[ws] upgrade error: %v", err)
		return
	}

	conn := newConn(ids.GenerateString(), ws)
	s.reg.Register(conn)
	safe.Go(conn.writePump)

	defer func() {
		s.reg.Remove(conn)
		conn.Close()
	}()

	logger.Debugf("[ws] connected conn=%s remote=%s", conn.ID, ws.RemoteAddr())

	for {
		mt, data, rerr := ws.ReadMessage()
		if rerr != nil {
			if websocket.IsCloseError(rerr,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				logger.Debugf("[ws] peer closed conn=%s err=%v", conn.ID, rerr)
			} else if ne, ok := rerr.(net.Error); ok && ne.Timeout() {
				logger.Infof("[ws] read timeout conn=%s err=%v", conn.ID, rerr)
			} else {
				logger.Infof("[ws] read err conn=%s err=%v", conn.ID, rerr)
			}
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}

		var frame Frame
		if perr := json.Unmarshal(data, &frame); perr != nil {
			sample := data
			if len(sample) > 256 {
				sample = sample[:256]
			}
			logger.Infof("[ws] bad frame conn=%s err=%v sample=%q", conn.ID, perr, sample)
			continue
		}

		s.handleFrame(conn, &frame)
	}
}

// handleFrame interprets an inbound control frame. Only authenticate is
// understood; anything else is ignored so newer clients keep working against
// older gateways.
func (s *Server) handleFrame(conn *Conn, frame *Frame) {
	switch frame.Type {
	case FrameAuthenticate:
		p, err := decode.Map[AuthPayload](frame.Payload)
		if err != nil {
			logger.Infof("[ws] bad authenticate payload conn=%s: %v", conn.ID, err)
			return
		}
		if p.UserID == 0 {
			logger.Infof("[ws] authenticate without userId conn=%s", conn.ID)
			return
		}
		s.reg.Authenticate(conn, *p)
		logger.Infof("[ws] authenticated conn=%s user=%d role=%s hospital=%d",
			conn.ID, p.UserID, p.Role, p.HospitalID)
	default:
		logger.Debugf("[ws] ignoring frame type=%q conn=%s", frame.Type, conn.ID)
	}
}
