package gamehub

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 4096

	DefaultSendQueueSize = 256
)

type HandlerConfig struct {
	SendQueueSize int
	Logger        *slog.Logger
}

// Handler upgrades HTTP requests to WebSocket sessions on the hub.
type Handler struct {
	hub       *Hub
	logger    *slog.Logger
	upgrader  websocket.Upgrader
	queueSize int
}

func NewHandler(hub *Hub, cfg HandlerConfig) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	size := cfg.SendQueueSize
	if size <= 0 {
		size = DefaultSendQueueSize
	}
	return &Handler{
		hub:    hub,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		queueSize: size,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	connID := uuid.NewString()
	sender := newConnSender(conn, h.queueSize)
	go sender.run()

	session := h.hub.NewSession(connID, sender)
	log := h.logger.With("conn_id", connID)
	log.Debug("websocket connected", "remote", r.RemoteAddr)

	defer func() {
		session.Disconnect()
		session.Close()
		sender.close()
		log.Debug("websocket closed")
	}()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	ctx := r.Context()
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Info("websocket read failed", "error", err)
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			log.Warn("discarding malformed message", "error", err)
			sender.Send(errorMessage("malformed message"))
			continue
		}

		switch msg.Type {
		case MsgJoin:
			var position Vector3
			if msg.Position != nil {
				position = *msg.Position
			}
			rotation := Quaternion{W: 1}
			if msg.Rotation != nil {
				rotation = *msg.Rotation
			}
			if _, err := session.Join(ctx, msg.Session, msg.PlayerID, position, rotation); err != nil {
				sender.Send(errorMessage(err.Error()))
			}
		case MsgLeave:
			if err := session.Leave(); err != nil {
				sender.Send(errorMessage(err.Error()))
			}
		case MsgMove:
			if msg.Position == nil {
				sender.Send(errorMessage("move requires a position"))
				continue
			}
			rotation := Quaternion{W: 1}
			if msg.Rotation != nil {
				rotation = *msg.Rotation
			} else if room, pc := session.current(); room != nil && pc != nil {
				rotation = room.Transform(pc).Rotation
			}
			if _, err := session.Move(*msg.Position, rotation); err != nil {
				sender.Send(errorMessage(err.Error()))
			}
		case MsgTargetChanged:
			if err := session.TargetChanged(msg.TargetID); err != nil {
				sender.Send(errorMessage(err.Error()))
			}
		default:
			sender.Send(errorMessage("unknown message type " + msg.Type))
		}
	}
}

var errSendQueueFull = errors.New("send queue full")

// connSender is a bounded outbound queue drained by one writer goroutine.
// A full queue closes the connection, which the read loop sees as a disconnect.
type connSender struct {
	conn  *websocket.Conn
	queue chan []byte
	done  chan struct{}
	once  sync.Once
}

func newConnSender(conn *websocket.Conn, size int) *connSender {
	return &connSender{
		conn:  conn,
		queue: make(chan []byte, size),
		done:  make(chan struct{}),
	}
}

func (c *connSender) Send(payload []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.queue <- payload:
		return true
	default:
		c.fail(errSendQueueFull)
		return false
	}
}

func (c *connSender) run() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case payload := <-c.queue:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.fail(err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.fail(err)
				return
			}
		}
	}
}

func (c *connSender) fail(error) {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// close flushes nothing; frames still queued are dropped.
func (c *connSender) close() {
	c.fail(nil)
}
