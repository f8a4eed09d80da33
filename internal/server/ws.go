package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/ayusman/steadyscan/internal/logging"
	"github.com/ayusman/steadyscan/internal/tracking"
)

const (
	// DefaultClientQueue is the number of undelivered changes a client may
	// fall behind before it is disconnected.
	DefaultClientQueue = 64
	writeWait          = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow local connections
	},
}

// Subscriber is the source of stabilized changes.
type Subscriber interface {
	Subscribe(fn func(tracking.Change)) (unsubscribe func())
}

// EventsHandler streams changes to WebSocket clients as JSON text messages.
type EventsHandler struct {
	source Subscriber
	queue  int
	logger zerolog.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
}

type client struct {
	conn   *websocket.Conn
	send   chan []byte
	once   sync.Once
	done   chan struct{}
	exited chan struct{}

	// flush is set when the server closes the client; queued changes are
	// still written before the connection goes away.
	flush bool
}

// close drops the client immediately.
func (c *client) close() { c.stop(false) }

// shutdown lets the write loop send what is queued, then a close frame.
func (c *client) shutdown() { c.stop(true) }

func (c *client) stop(flush bool) {
	c.once.Do(func() {
		c.flush = flush
		close(c.done)
		if !flush {
			c.conn.Close()
		}
	})
}

// NewEventsHandler creates a handler streaming from source. A non-positive
// queue uses DefaultClientQueue.
func NewEventsHandler(source Subscriber, queue int) *EventsHandler {
	if queue <= 0 {
		queue = DefaultClientQueue
	}
	return &EventsHandler{
		source:  source,
		queue:   queue,
		logger:  logging.For("events"),
		clients: make(map[*client]struct{}),
	}
}

// ServeHTTP handles WebSocket upgrade requests.
func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &client{
		conn:   conn,
		send:   make(chan []byte, h.queue),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	unsubscribe := h.source.Subscribe(func(change tracking.Change) {
		h.deliver(c, change)
	})

	defer func() {
		unsubscribe()
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
		c.close()
	}()

	go h.writeLoop(c)

	// Reads only detect the peer going away.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// deliver runs on the pipeline goroutine and must never block.
func (h *EventsHandler) deliver(c *client, change tracking.Change) {
	msg, err := json.Marshal(change)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to encode change")
		return
	}
	select {
	case <-c.done:
	case c.send <- msg:
	default:
		h.logger.Warn().Str("remote", c.conn.RemoteAddr().String()).Msg("client too slow, disconnecting")
		c.close()
	}
}

func (h *EventsHandler) writeLoop(c *client) {
	defer close(c.exited)
	defer c.conn.Close()
	for {
		select {
		case <-c.done:
			if c.flush {
				h.drain(c)
			}
			return
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.close()
				return
			}
		}
	}
}

// drain writes every queued change and a going-away close frame, all within
// one write deadline.
func (h *EventsHandler) drain(c *client) {
	deadline := time.Now().Add(writeWait)
	c.conn.SetWriteDeadline(deadline)
	for {
		select {
		case msg := <-c.send:
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.logger.Debug().Err(err).Msg("dropped queued changes on shutdown")
				return
			}
		default:
			msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down")
			c.conn.WriteControl(websocket.CloseMessage, msg, deadline)
			return
		}
	}
}

// Clients returns the number of connected clients.
func (h *EventsHandler) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close flushes queued changes to every client and disconnects it. It returns
// once each client's writer has finished.
func (h *EventsHandler) Close() {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.shutdown()
	}
	for _, c := range clients {
		<-c.exited
	}
}
