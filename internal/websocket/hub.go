package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second

	maxMessageSize = 4096
	sendBuffer     = 256
)

// Message represents a WebSocket message
type Message struct {
	Type      string                 `json:"type"`
	Payload   interface{}            `json:"payload"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// MessageHandler is called for every message a client sends.
type MessageHandler func(c *Client, msg *Message)

// Client represents a WebSocket client connection
type Client struct {
	ID      string
	Subject string
	Conn    *websocket.Conn
	Room    string
	Send    chan *Message
	Hub     *Hub

	handler MessageHandler
	mu      sync.Mutex
	closed  bool
}

// NewClient creates a client with a fresh id for room. handler may be nil.
func NewClient(hub *Hub, conn *websocket.Conn, room, subject string, handler MessageHandler) *Client {
	return &Client{
		ID:      uuid.NewString(),
		Subject: subject,
		Conn:    conn,
		Room:    room,
		Send:    make(chan *Message, sendBuffer),
		Hub:     hub,
		handler: handler,
	}
}

// Hub manages all WebSocket connections and rooms
type Hub struct {
	// Registered clients grouped by room
	rooms map[string]map[*Client]bool

	// Register requests from clients
	Register chan *Client

	// Unregister requests from clients
	Unregister chan *Client

	// Broadcast messages to room
	broadcast chan *BroadcastMessage

	// Active clients by ID for quick lookup
	clients map[string]*Client

	done     chan struct{}
	stopOnce sync.Once

	mu sync.RWMutex
}

// BroadcastMessage represents a message to broadcast to a room
type BroadcastMessage struct {
	Room    string
	Message *Message
	Exclude *Client // Optional: exclude this client from broadcast
}

// NewHub creates a new WebSocket hub
func NewHub() *Hub {
	return &Hub{
		rooms:      make(map[string]map[*Client]bool),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		broadcast:  make(chan *BroadcastMessage, sendBuffer),
		clients:    make(map[string]*Client),
		done:       make(chan struct{}),
	}
}

// Run starts the hub's main loop
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case client := <-h.Register:
			h.registerClient(client)

		case client := <-h.Unregister:
			h.unregisterClient(client)

		case message := <-h.broadcast:
			h.broadcastToRoom(message)

		case <-ctx.Done():
			log.Println("[WebSocket] Hub shutting down")
			h.shutdown()
			return
		}
	}
}

// Done is closed once the hub has shut down.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// Join registers a client, returning false if the hub has stopped.
func (h *Hub) Join(client *Client) bool {
	select {
	case h.Register <- client:
		return true
	case <-h.done:
		return false
	}
}

// Leave unregisters a client. It never blocks once the hub has stopped.
func (h *Hub) Leave(client *Client) {
	select {
	case h.Unregister <- client:
	case <-h.done:
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	h.clients[client.ID] = client
	if h.rooms[client.Room] == nil {
		h.rooms[client.Room] = make(map[*Client]bool)
	}
	h.rooms[client.Room][client] = true
	size := len(h.rooms[client.Room])
	h.mu.Unlock()

	log.Printf("[WebSocket] Client %s (subject=%s) joined room %s. Room size: %d",
		client.ID, client.Subject, client.Room, size)

	h.broadcastToRoom(&BroadcastMessage{
		Room: client.Room,
		Message: &Message{
			Type: "viewer_joined",
			Payload: map[string]interface{}{
				"subject":   client.Subject,
				"client_id": client.ID,
				"viewers":   size,
			},
			Timestamp: time.Now(),
		},
		Exclude: client,
	})
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	delete(h.clients, client.ID)

	clients, ok := h.rooms[client.Room]
	if !ok || !clients[client] {
		h.mu.Unlock()
		return
	}
	delete(clients, client)
	client.closeSend()

	size := len(clients)
	if size == 0 {
		delete(h.rooms, client.Room)
	}
	h.mu.Unlock()

	if size == 0 {
		log.Printf("[WebSocket] Room %s is now empty and removed", client.Room)
		return
	}
	log.Printf("[WebSocket] Client %s left room %s. Room size: %d", client.ID, client.Room, size)

	h.broadcastToRoom(&BroadcastMessage{
		Room: client.Room,
		Message: &Message{
			Type: "viewer_left",
			Payload: map[string]interface{}{
				"subject":   client.Subject,
				"client_id": client.ID,
				"viewers":   size,
			},
			Timestamp: time.Now(),
		},
	})
}

func (h *Hub) broadcastToRoom(bm *BroadcastMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.rooms[bm.Room] {
		if bm.Exclude != nil && client.ID == bm.Exclude.ID {
			continue
		}

		select {
		case client.Send <- bm.Message:
		default:
			// slow reader, drop rather than disconnect
			log.Printf("[WebSocket] Client %s send channel full, dropping message", client.ID)
		}
	}
}

// GetRoomClients returns all clients in a room
func (h *Hub) GetRoomClients(room string) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()

	clients := []*Client{}
	for client := range h.rooms[room] {
		clients = append(clients, client)
	}
	return clients
}

// GetRoomSize returns the number of clients in a room
func (h *Hub) GetRoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// BroadcastToRoom queues a message for every client in room. Messages for
// rooms without clients are dropped, and so are messages that arrive while
// the queue is full or the hub has stopped.
func (h *Hub) BroadcastToRoom(room string, message *Message) {
	if h.GetRoomSize(room) == 0 {
		return
	}
	select {
	case h.broadcast <- &BroadcastMessage{Room: room, Message: message}:
	case <-h.done:
	default:
		log.Printf("[WebSocket] Broadcast queue full, dropping %s for room %s", message.Type, room)
	}
}

func (h *Hub) shutdown() {
	h.stopOnce.Do(func() { close(h.done) })

	h.mu.Lock()
	defer h.mu.Unlock()

	for _, client := range h.clients {
		client.closeSend()
		if client.Conn != nil {
			client.Conn.Close()
		}
	}

	h.rooms = make(map[string]map[*Client]bool)
	h.clients = make(map[string]*Client)
}

func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.Send)
	}
}

// ReadPump pumps messages from the WebSocket connection to the client's
// handler until the connection closes.
func (c *Client) ReadPump() {
	defer func() {
		c.Hub.Leave(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[WebSocket] Read error: %v", err)
			}
			break
		}

		var msg Message
		if err := json.Unmarshal(message, &msg); err != nil {
			log.Printf("[WebSocket] Failed to parse message: %v", err)
			continue
		}
		msg.Timestamp = time.Now()

		if c.handler != nil {
			c.handler(c, &msg)
		}
	}
}

// WritePump pumps messages from hub to WebSocket connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// hub closed the channel
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			data, err := json.Marshal(message)
			if err != nil {
				log.Printf("[WebSocket] Failed to marshal message: %v", err)
				continue
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SendMessage sends a message to this specific client
func (c *Client) SendMessage(msgType string, payload interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("client send channel is closed")
	}

	msg := &Message{
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	select {
	case c.Send <- msg:
		return nil
	default:
		return fmt.Errorf("client send channel is full")
	}
}
