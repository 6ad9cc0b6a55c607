package websocket

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"ride-dispatch/pkg/logger"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings with this period; must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from a peer.
	maxMessageSize = 64 * 1024

	sendBufferSize = 256
)

// Hub manages the live connections on the tracking namespace, keyed by user
// id. It is the Pusher the broadcaster delivers through.
type Hub struct {
	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	send       chan *userMessage

	done     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once

	mu     sync.RWMutex
	logger logger.Logger
}

type userMessage struct {
	userID string
	data   []byte
}

// Client is one connected peer, passenger or driver.
type Client struct {
	userID string
	role   string
	conn   *websocket.Conn
	send   chan []byte
	hub    *Hub

	// insideGeofence tracks, per ride, whether the driver was inside the
	// arrival radius at the last report, so crossings fire exactly once.
	insideGeofence map[string]bool

	handler MessageHandler
}

// MessageHandler processes one inbound envelope from a client.
type MessageHandler interface {
	HandleMessage(c *Client, env Envelope)
	HandleDisconnect(c *Client)
}

func NewHub(log logger.Logger) *Hub {
	hub := &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		send:       make(chan *userMessage, sendBufferSize),
		done:       make(chan struct{}),
		stopped:    make(chan struct{}),
		logger:     log,
	}
	go hub.run()
	return hub
}

// Stop terminates the routing loop and closes every client's send channel
// so their write pumps drain and exit. Safe to call more than once.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		<-h.stopped

		h.mu.Lock()
		for id, client := range h.clients {
			delete(h.clients, id)
			close(client.send)
		}
		h.mu.Unlock()
	})
}

func (h *Hub) run() {
	defer close(h.stopped)
	for {
		select {
		case <-h.done:
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.userID] = client
			h.mu.Unlock()
			h.logger.Debug("websocket.register", fmt.Sprintf("%s %s connected", client.role, client.userID))

		case client := <-h.unregister:
			h.mu.Lock()
			if current, ok := h.clients[client.userID]; ok && current == client {
				delete(h.clients, client.userID)
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.Debug("websocket.unregister", fmt.Sprintf("%s %s disconnected", client.role, client.userID))

		case msg := <-h.send:
			h.mu.RLock()
			if client, ok := h.clients[msg.userID]; ok {
				select {
				case client.send <- msg.data:
				default:
					h.logger.Debug("websocket.send", fmt.Sprintf("Send buffer full for %s", msg.userID))
				}
			}
			h.mu.RUnlock()
		}
	}
}

// PushToPassenger implements tracking.Pusher.
func (h *Hub) PushToPassenger(passengerID string, event string, payload any) error {
	return h.Push(passengerID, event, payload)
}

// Push delivers an event to one connected user. Unknown users are dropped
// silently; every push is a full snapshot so a missed one is harmless.
func (h *Hub) Push(userID string, event string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", event, err)
	}
	data, err := json.Marshal(Envelope{Event: event, Payload: body})
	if err != nil {
		return fmt.Errorf("marshal %s envelope: %w", event, err)
	}

	select {
	case h.send <- &userMessage{userID: userID, data: data}:
		return nil
	default:
		return fmt.Errorf("hub send queue full, dropped %s for %s", event, userID)
	}
}

// IsConnected reports whether a user holds a live connection.
func (h *Hub) IsConnected(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[userID]
	return ok
}

// ConnectedCount returns the number of live connections.
func (h *Hub) ConnectedCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Attach registers a fresh connection and starts its pumps.
func (h *Hub) Attach(userID, role string, conn *websocket.Conn, handler MessageHandler) *Client {
	client := &Client{
		userID:         userID,
		role:           role,
		conn:           conn,
		send:           make(chan []byte, sendBufferSize),
		hub:            h,
		insideGeofence: make(map[string]bool),
		handler:        handler,
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return client
	}
	go client.readPump()
	go client.writePump()
	return client
}

func (c *Client) UserID() string { return c.userID }
func (c *Client) Role() string   { return c.role }

// Send pushes an event directly to this client.
func (c *Client) Send(event string, payload any) {
	if err := c.hub.Push(c.userID, event, payload); err != nil {
		c.hub.logger.Debug("websocket.client_send", err.Error())
	}
}

// SendError pushes a tracking:error frame.
func (c *Client) SendError(message string) {
	c.Send(EventTrackingError, TrackingError{Message: message})
}

func (c *Client) readPump() {
	defer func() {
		c.handler.HandleDisconnect(c)
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
				c.hub.logger.Error("websocket.read", err)
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			c.SendError("malformed message")
			continue
		}
		c.handler.HandleMessage(c, env)
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
