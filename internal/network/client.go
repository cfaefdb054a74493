package network

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/MRamiBalles/CrowdCombat/server/internal/engine"
	"github.com/MRamiBalles/CrowdCombat/server/internal/tick"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second
	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second
	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// Maximum message size allowed from peer.
	maxMessageSize = 512
	// Upper bound for a single SPAWN command.
	maxSpawnPerCommand = 1000
)

// Commands a client may send.
const (
	CommandSpawn         = "SPAWN"
	CommandDespawn       = "DESPAWN"
	CommandSetActive     = "SET_ACTIVE"
	CommandDeactivateAll = "DEACTIVATE_ALL"
	CommandReactivateAll = "REACTIVATE_ALL"
	CommandPoolEnable    = "POOL_ENABLE"
	CommandPoolDisable   = "POOL_DISABLE"
	CommandReconfigure   = "RECONFIGURE"
	CommandClear         = "CLEAR"
)

// Commander is the part of the engine a client drives.
type Commander interface {
	Submit(cmd engine.Command) error
}

// ClientCommand is an incoming request from a websocket client. An empty
// ID on DESPAWN or SET_ACTIVE targets a random monster.
type ClientCommand struct {
	Type   string       `json:"type" msgpack:"type"`
	Seq    uint64       `json:"seq,omitempty" msgpack:"seq,omitempty"`
	ID     string       `json:"id,omitempty" msgpack:"id,omitempty"`
	Count  int          `json:"count,omitempty" msgpack:"count,omitempty"`
	Active *bool        `json:"active,omitempty" msgpack:"active,omitempty"`
	Config *tick.Config `json:"config,omitempty" msgpack:"config,omitempty"`
}

// Client is one websocket connection.
type Client struct {
	id     string
	hub    *Hub
	engine Commander
	conn   *websocket.Conn
	format Format

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

// NewClient creates a new WebSocket client and returns it.
func NewClient(hub *Hub, eng Commander, conn *websocket.Conn, format Format, sendBuffer int) *Client {
	return &Client{
		id:     uuid.NewString(),
		hub:    hub,
		engine: eng,
		conn:   conn,
		format: format,
		send:   make(chan []byte, sendBuffer),
	}
}

// ID returns the client id, also used as the journal actor "ws:<id>".
func (c *Client) ID() string { return c.id }

// Register greets the client and adds it to the hub.
func (c *Client) Register() {
	c.reply(Envelope{Type: MessageHello, ClientID: c.id})
	select {
	case c.hub.register <- c:
	case <-c.hub.done:
		c.close()
	}
}

// ReadPump pumps commands from the websocket connection to the engine.
func (c *Client) ReadPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn(fmt.Sprintf("WebSocket read error from %s: %v", c.id, err))
			}
			break
		}
		c.hub.metrics.RecordWSMessage(true)

		var cmd ClientCommand
		if err := Decode(c.format, message, &cmd); err != nil {
			c.hub.logger.Error("Failed to parse ClientCommand from WebSocket. err: " + err.Error())
			c.reply(Envelope{Type: MessageError, Error: "malformed command"})
			continue
		}
		c.handleCommand(cmd)
	}
}

func (c *Client) handleCommand(cmd ClientCommand) {
	cmd.Type = strings.ToUpper(strings.TrimSpace(cmd.Type))
	actor := "ws:" + c.id

	var run engine.Command
	switch cmd.Type {
	case CommandSpawn:
		if cmd.Count <= 0 || cmd.Count > maxSpawnPerCommand {
			c.fail(cmd, fmt.Sprintf("count must be in [1, %d]", maxSpawnPerCommand))
			return
		}
		run = func(e *engine.Engine) {
			spawned := e.Spawn(cmd.Count, actor)
			c.ack(cmd, len(spawned))
		}
	case CommandDespawn:
		run = func(e *engine.Engine) {
			id := c.target(e, cmd.ID)
			if id == "" || !e.Despawn(id, actor) {
				c.fail(cmd, "unknown monster")
				return
			}
			c.ack(cmd, id)
		}
	case CommandSetActive:
		if cmd.Active == nil {
			c.fail(cmd, "active is required")
			return
		}
		run = func(e *engine.Engine) {
			id := c.target(e, cmd.ID)
			if id == "" || !e.SetActive(id, *cmd.Active) {
				c.fail(cmd, "unknown monster")
				return
			}
			c.ack(cmd, id)
		}
	case CommandDeactivateAll:
		run = func(e *engine.Engine) {
			e.DeactivateAll(actor)
			c.ack(cmd, nil)
		}
	case CommandReactivateAll:
		run = func(e *engine.Engine) {
			e.ReactivateAll(actor)
			c.ack(cmd, nil)
		}
	case CommandPoolEnable, CommandPoolDisable:
		enabled := cmd.Type == CommandPoolEnable
		run = func(e *engine.Engine) {
			e.SetPoolEnabled(enabled, actor)
			c.ack(cmd, enabled)
		}
	case CommandReconfigure:
		if cmd.Config == nil {
			c.fail(cmd, "config is required")
			return
		}
		cfg := *cmd.Config
		run = func(e *engine.Engine) {
			if err := e.Reconfigure(cfg, actor); err != nil {
				c.fail(cmd, err.Error())
				return
			}
			c.ack(cmd, cfg)
		}
	case CommandClear:
		run = func(e *engine.Engine) {
			e.Clear(actor)
			c.ack(cmd, nil)
		}
	default:
		c.hub.logger.Warn("Unknown ClientCommand type: " + cmd.Type)
		c.fail(cmd, "unknown command")
		return
	}

	if err := c.engine.Submit(run); err != nil {
		c.fail(cmd, err.Error())
	}
}

// target resolves an explicit id or picks a random monster. Driver goroutine only.
func (c *Client) target(e *engine.Engine, id string) string {
	if id != "" {
		return id
	}
	if m := e.Pool().RandomMonster(); m != nil {
		return m.ID
	}
	return ""
}

func (c *Client) ack(cmd ClientCommand, result interface{}) {
	c.reply(Envelope{Type: MessageAck, Command: cmd.Type, Seq: cmd.Seq, Result: result})
}

func (c *Client) fail(cmd ClientCommand, msg string) {
	c.reply(Envelope{Type: MessageError, Command: cmd.Type, Seq: cmd.Seq, Error: msg})
}

func (c *Client) reply(msg Envelope) {
	data, err := Encode(c.format, msg)
	if err != nil {
		c.hub.logger.Error(fmt.Sprintf("Failed to encode reply for %s: %v", c.id, err))
		return
	}
	c.trySend(data)
}

// trySend queues data without blocking. False when the client is closed
// or its buffer is full.
func (c *Client) trySend(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// WritePump pumps messages from the hub to the websocket connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	messageType := websocket.TextMessage
	if c.format == FormatMsgpack {
		messageType = websocket.BinaryMessage
	}

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(messageType, message); err != nil {
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
