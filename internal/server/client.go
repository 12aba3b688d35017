package server

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/campus-connect/internal/auth"
	"github.com/teris-io/shortid"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	// MaxMessageSize bounds a single frame read from a client.
	MaxMessageSize = 16384
	commandTimeout = 10 * time.Second
	sendBufferSize = 256
)

type connState int32

const (
	stateConnecting connState = iota
	stateAuthenticated
	stateClosed
)

func (s connState) String() string {
	switch s {
	case stateConnecting:
		return "connecting"
	case stateAuthenticated:
		return "authenticated"
	default:
		return "closed"
	}
}

type Client struct {
	id         string
	conn       *websocket.Conn
	chatServer *ChatServer
	log        *log.Logger
	identity   auth.Identity
	send       chan *ServerMessage
	rooms      map[string]struct{}
	roomsLock  sync.RWMutex
	state      atomic.Int32
	stop       chan struct{}
	stopOnce   sync.Once
}

func NewClient(identity auth.Identity, conn *websocket.Conn, cs *ChatServer, l *log.Logger) *Client {
	return &Client{
		id:         shortid.MustGenerate(),
		conn:       conn,
		chatServer: cs,
		log:        l,
		identity:   identity,
		send:       make(chan *ServerMessage, sendBufferSize),
		rooms:      make(map[string]struct{}),
		stop:       make(chan struct{}),
	}
}

func (c *Client) UserId() string {
	return c.identity.UserId
}

func (c *Client) getState() connState {
	return connState(c.state.Load())
}

func (c *Client) write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			bytes, err := c.serializeMessage(msg)
			if err != nil {
				c.log.Println("failed to serialize message:", err)
				continue
			}

			if !c.sendMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			c.sendMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) read() {
	defer func() {
		c.conn.Close()
		c.chatServer.DeregisterClient(c)
	}()

	c.conn.SetReadLimit(MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(appData string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("ws: read: %v", err)
			}
			break
		}

		c.handleRaw(raw)
	}
}

func (c *Client) handleRaw(raw []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.log.Printf("client %q: error parsing message: %v", c.id, err)
		c.queueMessage(ErrInvalidMessage(-1))
		return
	}

	ctx, cancel := context.WithTimeout(c.chatServer.ctx, commandTimeout)
	out := c.chatServer.dispatch(ctx, c, &msg)
	cancel()

	c.chatServer.deliver(out)
}

// queueMessage never blocks; a client that cannot keep up loses frames.
func (c *Client) queueMessage(msg *ServerMessage) bool {
	select {
	case c.send <- msg:
	default:
		c.log.Printf("failed to send message to client %q, channel is full", c.id)
		return false
	}

	return true
}

func (c *Client) serializeMessage(msg *ServerMessage) ([]byte, error) {
	return json.Marshal(msg)
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Printf("write message: %s", err)
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}

func (c *Client) addRoom(room string) {
	c.roomsLock.Lock()
	defer c.roomsLock.Unlock()

	c.rooms[room] = struct{}{}
}

func (c *Client) delRoom(room string) {
	c.roomsLock.Lock()
	defer c.roomsLock.Unlock()

	delete(c.rooms, room)
}

func (c *Client) roomNames() []string {
	c.roomsLock.RLock()
	defer c.roomsLock.RUnlock()

	names := make([]string, 0, len(c.rooms))
	for room := range c.rooms {
		names = append(names, room)
	}

	return names
}
