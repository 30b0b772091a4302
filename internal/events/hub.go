// Package events streams registration and OBEX notifications to websocket
// clients as JSON messages.
package events

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"i4.energy/across/modemcore/at"
	"i4.energy/across/modemcore/netreg"
	"i4.energy/across/modemcore/obex"
)

// Message is one event sent to the clients. T names the event; the other
// fields are set depending on it.
type Message struct {
	T            string                     `json:"t"`
	Registration *RegistrationPayload       `json:"registration,omitempty"`
	Operator     *netreg.Operator           `json:"operator,omitempty"`
	Operators    []netreg.AvailableOperator `json:"operators,omitempty"`
	Code         *at.ResultCode             `json:"code,omitempty"`
	Transfer     *TransferPayload           `json:"transfer,omitempty"`
}

type RegistrationPayload struct {
	State string `json:"state"`
	LAC   int    `json:"lac"`
	CI    int    `json:"ci"`
}

type TransferPayload struct {
	Session  string `json:"session"`
	Name     string `json:"name,omitempty"`
	Type     string `json:"type,omitempty"`
	State    string `json:"state,omitempty"`
	Done     uint32 `json:"done,omitempty"`
	Total    uint32 `json:"total,omitempty"`
	HasError bool   `json:"has_error,omitempty"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

// Hub fans messages out to every connected client. A client that cannot
// keep up is dropped.
type Hub struct {
	logger *slog.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
}

type client struct {
	conn      *websocket.Conn
	send      chan Message
	closeOnce sync.Once
}

func New(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Hub{
		logger:  logger,
		clients: map[*client]struct{}{},
	}
}

// ServeHTTP upgrades the request and streams messages until the client
// goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed", "error", err)
		return
	}

	c := &client{conn: conn, send: make(chan Message, 256)}
	h.addClient(c)
	defer h.removeClient(c)

	go c.writeLoop()
	c.readLoop()
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish queues m for every client.
func (h *Hub) Publish(m Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- m:
		default:
			go h.removeClient(c)
		}
	}
}

// Close disconnects all clients.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		c.close()
	}
}

// Registration returns an observer publishing registration events.
func (h *Hub) Registration() netreg.Observer {
	return netreg.ObserverFuncs{
		OnRegistrationStateChanged: func(state netreg.RegistrationState, lac, ci int) {
			h.Publish(Message{T: "registration", Registration: &RegistrationPayload{
				State: state.String(),
				LAC:   lac,
				CI:    ci,
			}})
		},
		OnCurrentOperatorChanged: func(op netreg.Operator) {
			h.Publish(Message{T: "operator", Operator: &op})
		},
		OnSetCurrentOperatorResult: func(code at.ResultCode) {
			h.Publish(Message{T: "set_operator_result", Code: &code})
		},
		OnAvailableOperators: func(ops []netreg.AvailableOperator) {
			h.Publish(Message{T: "available_operators", Operators: ops})
		},
		OnInitialized: func() {
			h.Publish(Message{T: "initialized"})
		},
	}
}

// Session returns an observer publishing the events of OBEX session id.
func (h *Hub) Session(id string) obex.Observer {
	transfer := func(p TransferPayload) *TransferPayload {
		p.Session = id
		return &p
	}
	return obex.ObserverFuncs{
		OnPutRequested: func(name, typ string, size uint32, _ string) {
			h.Publish(Message{T: "obex_put", Transfer: transfer(TransferPayload{Name: name, Type: typ, Total: size})})
		},
		OnBusinessCardRequested: func() {
			h.Publish(Message{T: "obex_business_card", Transfer: transfer(TransferPayload{})})
		},
		OnStateChanged: func(state obex.State) {
			h.Publish(Message{T: "obex_state", Transfer: transfer(TransferPayload{State: state.String()})})
		},
		OnDataTransferProgress: func(done, total uint32) {
			h.Publish(Message{T: "obex_progress", Transfer: transfer(TransferPayload{Done: done, Total: total})})
		},
		OnRequestFinished: func(hasError bool) {
			h.Publish(Message{T: "obex_request_finished", Transfer: transfer(TransferPayload{HasError: hasError})})
		},
		OnDone: func(hasError bool) {
			h.Publish(Message{T: "obex_done", Transfer: transfer(TransferPayload{HasError: hasError})})
		},
	}
}

func (h *Hub) addClient(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

func (h *Hub) removeClient(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	c.close()
}

// readLoop discards client messages; it returns when the connection closes.
func (c *client) readLoop() {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) writeLoop() {
	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.send)
		_ = c.conn.Close()
	})
}
