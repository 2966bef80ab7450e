package ws

import "sync"

// Subscriber abstracts a streaming client.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// Hub fans status record updates out to subscribers by task ID.
type Hub struct {
	clients   map[string]map[Subscriber]struct{}
	register  chan subscription
	unreg     chan subscription
	broadcast chan message
	done      chan struct{}
	closeOnce sync.Once
}

type message struct {
	task    string
	payload []byte
}

type subscription struct {
	task   string
	client Subscriber
}

// NewHub creates a Hub and starts its event loop.
func NewHub() *Hub {
	h := &Hub{
		clients:   make(map[string]map[Subscriber]struct{}),
		register:  make(chan subscription),
		unreg:     make(chan subscription),
		broadcast: make(chan message),
		done:      make(chan struct{}),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case <-h.done:
			for _, clients := range h.clients {
				for c := range clients {
					c.Close()
				}
			}
			h.clients = nil
			return
		case sub := <-h.register:
			if _, ok := h.clients[sub.task]; !ok {
				h.clients[sub.task] = make(map[Subscriber]struct{})
			}
			h.clients[sub.task][sub.client] = struct{}{}
		case sub := <-h.unreg:
			if clients, ok := h.clients[sub.task]; ok {
				delete(clients, sub.client)
				if len(clients) == 0 {
					delete(h.clients, sub.task)
				}
			}
		case msg := <-h.broadcast:
			clients, ok := h.clients[msg.task]
			if !ok {
				continue
			}
			for c := range clients {
				if err := c.Send(msg.payload); err != nil {
					c.Close()
					delete(clients, c)
				}
			}
			if len(clients) == 0 {
				delete(h.clients, msg.task)
			}
		}
	}
}

// Register adds a client to a task stream.
func (h *Hub) Register(task string, client Subscriber) {
	select {
	case h.register <- subscription{task: task, client: client}:
	case <-h.done:
		client.Close()
	}
}

// Unregister removes a client.
func (h *Hub) Unregister(task string, client Subscriber) {
	select {
	case h.unreg <- subscription{task: task, client: client}:
	case <-h.done:
	}
}

// Broadcast sends payload to every subscriber of task. It is a no-op after
// Close.
func (h *Hub) Broadcast(task string, payload []byte) {
	select {
	case h.broadcast <- message{task: task, payload: payload}:
	case <-h.done:
	}
}

// Close stops the event loop and disconnects all subscribers.
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}
