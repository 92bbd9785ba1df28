package hub

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/teslashibe/go-usbcam/internal/log"
)

// Option configures a Hub.
type Option func(*Hub)

// WithReplay makes the hub remember the last broadcast and send it to every
// client that joins, so a new viewer sees the latest frame or status without
// waiting for the next one.
func WithReplay() Option {
	return func(h *Hub) { h.replay = true }
}

// Hub maintains the set of active clients and broadcasts messages to them.
type Hub struct {
	name   string
	log    *slog.Logger
	replay bool

	// Owned by Run
	clients map[*Client]bool

	last atomic.Pointer[Message]

	broadcast  chan Message
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	mu    sync.RWMutex // guards count for readers outside Run
	count int

	running atomic.Bool
	dropped atomic.Uint64
}

// New creates a Hub. Call Run before registering clients.
func New(name string, opts ...Option) *Hub {
	h := &Hub{
		name:       name,
		log:        log.Component("hub").With("hub", name),
		clients:    make(map[*Client]bool),
		broadcast:  make(chan Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run is the hub's main loop. It returns when ctx is cancelled, after
// disconnecting every client.
func (h *Hub) Run(ctx context.Context) {
	h.running.Store(true)
	defer func() {
		for client := range h.clients {
			close(client.send)
			delete(h.clients, client)
		}
		h.setCount(0)
		h.running.Store(false)
		close(h.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.clients[client] = true
			if last := h.last.Load(); last != nil {
				client.send <- *last
			}
			h.setCount(len(h.clients))
			h.log.Debug("client connected", "clients", len(h.clients))

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.setCount(len(h.clients))
			h.log.Debug("client disconnected", "clients", len(h.clients))

		case message := <-h.broadcast:
			if h.replay {
				m := message
				h.last.Store(&m)
			}
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Slow consumer
					close(client.send)
					delete(h.clients, client)
					h.log.Warn("dropped slow client")
				}
			}
			h.setCount(len(h.clients))
		}
	}
}

// Broadcast queues msg for every client. It never blocks; when the queue is
// full the message is dropped.
func (h *Hub) Broadcast(msg Message) {
	select {
	case h.broadcast <- msg:
	default:
		h.dropped.Add(1)
		h.log.Debug("broadcast queue full, dropping message")
	}
}

// BroadcastJSON encodes and broadcasts a status document.
func (h *Hub) BroadcastJSON(v interface{}) error {
	msg, err := StatusMessage(v)
	if err != nil {
		return err
	}
	h.Broadcast(msg)
	return nil
}

// BroadcastFrame broadcasts a JPEG frame captured at feed position seq.
func (h *Hub) BroadcastFrame(jpeg []byte, seq uint64) {
	h.Broadcast(FrameMessage(jpeg, seq))
}

// Last returns the most recent message handed to clients. It is only
// tracked with WithReplay.
func (h *Hub) Last() (Message, bool) {
	if m := h.last.Load(); m != nil {
		return *m, true
	}
	return Message{}, false
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// Dropped returns how many broadcasts were discarded because the queue was
// full.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// IsRunning returns whether Run is active.
func (h *Hub) IsRunning() bool {
	return h.running.Load()
}

// Name returns the hub's name.
func (h *Hub) Name() string {
	return h.name
}

// Done is closed when Run returns.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

func (h *Hub) setCount(n int) {
	h.mu.Lock()
	h.count = n
	h.mu.Unlock()
}
