package realtime

import (
	"fmt"
	"log"
	"sync"
)

// Conn is the slice of a websocket connection the hub needs. *websocket.Conn
// satisfies it; tests use fakes.
type Conn interface {
	WriteJSON(v interface{}) error
	Close() error
}

// Event is the envelope for every server-to-client push.
type Event struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"payload,omitempty"`
}

// RoomMember is a presence entry for one live connection in a room.
type RoomMember struct {
	ConnID string `json:"connId"`
	UserID uint   `json:"userId"`
}

// DeviceRoom names the broadcast group of all sessions bound to a device.
func DeviceRoom(deviceID uint) string {
	return fmt.Sprintf("device:%d", deviceID)
}

// UserRoom names the broadcast group of all connections of one user.
func UserRoom(userID uint) string {
	return fmt.Sprintf("user:%d", userID)
}

type client struct {
	connID string
	userID uint
	conn   Conn
	mu     sync.Mutex // gorilla allows a single concurrent writer
}

func (cl *client) send(ev Event) error {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return cl.conn.WriteJSON(ev)
}

// Hub fans events out to rooms. Publish is fire-and-forget, at-most-once;
// ordering holds per publisher per room because writes to one connection
// are serialized.
type Hub struct {
	mu      sync.Mutex
	clients map[string]*client
	rooms   map[string]map[string]*client
	joined  map[string]map[string]bool
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*client),
		rooms:   make(map[string]map[string]*client),
		joined:  make(map[string]map[string]bool),
	}
}

func (h *Hub) Register(connID string, userID uint, conn Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[connID] = &client{connID: connID, userID: userID, conn: conn}
	h.joined[connID] = make(map[string]bool)
}

// Unregister drops the connection from every room it joined.
func (h *Hub) Unregister(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(connID)
}

func (h *Hub) removeLocked(connID string) {
	for room := range h.joined[connID] {
		delete(h.rooms[room], connID)
		if len(h.rooms[room]) == 0 {
			delete(h.rooms, room)
		}
	}
	delete(h.joined, connID)
	delete(h.clients, connID)
}

func (h *Hub) Join(connID, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	cl, ok := h.clients[connID]
	if !ok {
		return
	}
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[string]*client)
	}
	h.rooms[room][connID] = cl
	h.joined[connID][room] = true
}

func (h *Hub) Leave(connID, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.rooms[room], connID)
	if len(h.rooms[room]) == 0 {
		delete(h.rooms, room)
	}
	if h.joined[connID] != nil {
		delete(h.joined[connID], room)
	}
}

// Publish sends a named event to every connection in the room. Connections
// that fail to take the write are closed and dropped.
func (h *Hub) Publish(room, event string, payload interface{}) {
	h.mu.Lock()
	members := make([]*client, 0, len(h.rooms[room]))
	for _, cl := range h.rooms[room] {
		members = append(members, cl)
	}
	h.mu.Unlock()

	ev := Event{Event: event, Payload: payload}
	for _, cl := range members {
		if err := cl.send(ev); err != nil {
			log.Printf("WebSocket write error on %s: %v", cl.connID, err)
			cl.conn.Close()
			h.Unregister(cl.connID)
		}
	}
}

// SendTo delivers an event to a single connection.
func (h *Hub) SendTo(connID, event string, payload interface{}) {
	h.mu.Lock()
	cl, ok := h.clients[connID]
	h.mu.Unlock()
	if !ok {
		return
	}
	if err := cl.send(Event{Event: event, Payload: payload}); err != nil {
		log.Printf("WebSocket write error on %s: %v", connID, err)
		cl.conn.Close()
		h.Unregister(connID)
	}
}

// Disconnect notifies a single connection, then closes it and drops it from
// every room. Used when a session is pruned for missed heartbeats.
func (h *Hub) Disconnect(connID, event string, payload interface{}) {
	h.mu.Lock()
	cl, ok := h.clients[connID]
	h.mu.Unlock()
	if !ok {
		return
	}
	if err := cl.send(Event{Event: event, Payload: payload}); err != nil {
		log.Printf("WebSocket write error on %s: %v", connID, err)
	}
	cl.conn.Close()
	h.Unregister(connID)
}

// Presence lists the live connections in a room.
func (h *Hub) Presence(room string) []RoomMember {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]RoomMember, 0, len(h.rooms[room]))
	for _, cl := range h.rooms[room] {
		out = append(out, RoomMember{ConnID: cl.connID, UserID: cl.userID})
	}
	return out
}

// CloseRoom notifies every connection in the room, then force-disconnects
// them. Used when a device is deleted.
func (h *Hub) CloseRoom(room, event string, payload interface{}) {
	h.mu.Lock()
	members := make([]*client, 0, len(h.rooms[room]))
	for _, cl := range h.rooms[room] {
		members = append(members, cl)
	}
	h.mu.Unlock()

	ev := Event{Event: event, Payload: payload}
	for _, cl := range members {
		if err := cl.send(ev); err != nil {
			log.Printf("WebSocket write error on %s: %v", cl.connID, err)
		}
		cl.conn.Close()
		h.Unregister(cl.connID)
	}
}
