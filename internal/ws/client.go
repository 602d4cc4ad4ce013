package ws

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/DhanujMalik/Collaborative-Whiteboard-Development/internal/roomcode"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	connID  string
	roomID  string // set once on join-room, before any room event is emitted
	limiter *rate.Limiter

	// sendMu orders trySend against closeSend. Replay delivery runs on its
	// own goroutine and can outlive the connection, so the channel must
	// never close while a send is in flight.
	sendMu     sync.Mutex
	sendClosed bool
}

// ServeWs upgrades an HTTP request to a websocket connection. The client
// is not in any room until it sends a join-room message.
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request, messagesPerSecond float64, burst int) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &Client{
		hub:     hub,
		conn:    conn,
		send:    make(chan []byte, 512),
		connID:  uuid.NewString(),
		limiter: rate.NewLimiter(rate.Limit(messagesPerSecond), burst),
	}

	log.Debug().Str("conn", client.connID).Msg("client connected")

	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.hub.events <- event{kind: evUnregister, client: c}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	rateLimitWarnings := 0

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("conn", c.connID).Msg("websocket read error")
			}
			break
		}

		if !c.limiter.Allow() {
			rateLimitWarnings++
			if rateLimitWarnings%100 == 1 {
				log.Warn().Str("conn", c.connID).Str("room", c.roomID).
					Int("warnings", rateLimitWarnings).Msg("rate limit exceeded")
			}
			if rateLimitWarnings > 1000 {
				log.Warn().Str("conn", c.connID).Msg("disconnecting client for excessive rate limit violations")
				return
			}
			continue
		}

		var env Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			log.Debug().Err(err).Str("conn", c.connID).Msg("dropping malformed frame")
			continue
		}

		switch env.Type {
		case EvtJoinRoom:
			c.handleJoin(env.Data)
		case EvtCursorMove:
			if c.roomID != "" {
				c.hub.events <- event{kind: evCursor, client: c, data: env.Data}
			}
		case EvtDraw:
			if c.roomID != "" {
				c.hub.events <- event{kind: evDraw, client: c, data: env.Data}
			}
		case EvtClearCanvas:
			if c.roomID != "" {
				c.hub.events <- event{kind: evClear, client: c}
			}
		default:
			log.Debug().Str("conn", c.connID).Str("type", env.Type).Msg("unknown event type")
		}
	}
}

func (c *Client) handleJoin(data json.RawMessage) {
	if c.roomID != "" {
		log.Warn().Str("conn", c.connID).Str("room", c.roomID).Msg("client already joined a room")
		return
	}

	var p joinPayload
	if err := json.Unmarshal(data, &p); err != nil || roomcode.Normalize(p.RoomID) == "" {
		c.sendError("Failed to join room")
		return
	}

	// roomID is written here and only read by the hub loop after this event
	// is received, so the channel send orders the write.
	c.roomID = roomcode.Normalize(p.RoomID)
	c.hub.events <- event{kind: evJoin, client: c}
}

func (c *Client) sendError(message string) {
	msg, err := marshalEnvelope(EvtError, message)
	if err != nil {
		return
	}
	c.trySend(msg)
}

// trySend queues a message for this client, dropping it if the buffer is
// full or the connection is already gone.
func (c *Client) trySend(msg []byte) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.sendClosed {
		log.Debug().Str("conn", c.connID).Msg("client gone, message dropped")
		return
	}
	select {
	case c.send <- msg:
	default:
		log.Debug().Str("conn", c.connID).Msg("send buffer full, message dropped")
	}
}

// closeSend is called by the hub on unregister; safe against double close.
func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if !c.sendClosed {
		c.sendClosed = true
		close(c.send)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
