package network

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/MRamiBalles/CrowdCombat/server/internal/engine"
	"github.com/MRamiBalles/CrowdCombat/server/internal/platform/logger"
	"github.com/MRamiBalles/CrowdCombat/server/internal/platform/metrics"
)

// Message types sent to clients.
const (
	MessageHello = "HELLO"
	MessageFrame = "FRAME"
	MessageAck   = "ACK"
	MessageError = "ERROR"
)

// Envelope wraps every server-to-client message.
type Envelope struct {
	Type     string              `json:"type" msgpack:"type"`
	ClientID string              `json:"client_id,omitempty" msgpack:"client_id,omitempty"`
	Frame    *engine.FrameReport `json:"frame,omitempty" msgpack:"frame,omitempty"`
	Command  string              `json:"command,omitempty" msgpack:"command,omitempty"`
	Seq      uint64              `json:"seq,omitempty" msgpack:"seq,omitempty"`
	Result   interface{}         `json:"result,omitempty" msgpack:"result,omitempty"`
	Error    string              `json:"error,omitempty" msgpack:"error,omitempty"`
}

// Hub maintains the set of active clients and broadcasts frame reports to them.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan engine.FrameReport
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.Mutex
	logger     *logger.Logger
	metrics    *metrics.Collector

	dropped atomic.Uint64 // reports lost because the broadcast queue was full
	evicted atomic.Uint64 // clients disconnected for not keeping up
	sent    atomic.Uint64
}

// NewHub initializes a new WebSocket Hub.
func NewHub(log *logger.Logger, collector *metrics.Collector, bufferSize int) *Hub {
	return &Hub{
		broadcast:  make(chan engine.FrameReport, bufferSize),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
		done:       make(chan struct{}),
		logger:     log,
		metrics:    collector,
	}
}

// Run starts the Hub's main loop to handle client connections and broadcasts.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				h.drop(client)
			}
			h.mu.Unlock()
			h.logger.Info("WebSocket Hub shutting down.")
			return
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.metrics.RecordWSConnection(1)
			h.logger.Info(fmt.Sprintf("WebSocket client %s connected (%s)", client.id, client.format))
		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				h.drop(client)
				h.logger.Info(fmt.Sprintf("WebSocket client %s disconnected", client.id))
			}
			h.mu.Unlock()
		case report := <-h.broadcast:
			h.fanOut(report)
		}
	}
}

// Broadcast queues a frame report. It never blocks: the engine calls it
// from the driver goroutine.
func (h *Hub) Broadcast(report engine.FrameReport) {
	select {
	case h.broadcast <- report:
	default:
		h.dropped.Add(1)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Stats returns delivery counters, shaped for config.Analyze.
func (h *Hub) Stats() map[string]interface{} {
	return map[string]interface{}{
		"clients": h.ClientCount(),
		"dropped": h.dropped.Load(),
		"evicted": h.evicted.Load(),
		"sent":    h.sent.Load(),
	}
}

func (h *Hub) fanOut(report engine.FrameReport) {
	var encoded [2][]byte
	msg := Envelope{Type: MessageFrame, Frame: &report}

	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		data := encoded[client.format]
		if data == nil {
			var err error
			data, err = Encode(client.format, msg)
			if err != nil {
				h.logger.Error(fmt.Sprintf("Failed to encode frame report as %s: %v", client.format, err))
				continue
			}
			encoded[client.format] = data
		}
		if !client.trySend(data) {
			h.evicted.Add(1)
			h.drop(client)
			continue
		}
		h.sent.Add(1)
		h.metrics.RecordWSMessage(false)
	}
}

// drop removes a client. Caller holds h.mu.
func (h *Hub) drop(client *Client) {
	delete(h.clients, client)
	client.close()
	h.metrics.RecordWSConnection(-1)
}
