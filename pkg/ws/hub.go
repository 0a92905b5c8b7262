// Package ws maintains live websocket connections and their room
// memberships. Rooms are delivery lists only; access control is enforced by
// the service layer before any join or send.
package ws

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/signaldesk/signaldesk/pkg/event"
)

// Room name builders. Every session implicitly joins its user room; project
// and group rooms are joined explicitly, gated by access control.
func ProjectRoom(projectID string) string { return "project:" + projectID }
func GroupRoom(groupID string) string     { return "group:" + groupID }
func UserRoom(userID string) string       { return "user:" + userID }

// WSMessage is the JSON envelope sent over the websocket.
type WSMessage struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data,omitempty"`
	TS    int64          `json:"ts"`
}

// Hub maintains the set of active clients and their room subscriptions.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool
	rooms   map[string]map[*Client]bool
	logger  *slog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[*Client]bool),
		rooms:   make(map[string]map[*Client]bool),
		logger:  logger,
	}
}

// Register adds a connected client to the hub.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()
}

// Unregister removes a client from the hub and every room it joined, and
// closes its send channel. Safe to call more than once.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.clients[c] {
		return
	}
	delete(h.clients, c)
	for room := range c.rooms {
		h.dropFromRoom(c, room)
	}
	close(c.send)
}

// Join subscribes a client to a room. It reports whether the client was not
// previously in the room.
func (h *Hub) Join(c *Client, room string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.clients[c] {
		return false
	}
	if c.rooms[room] {
		return false
	}
	c.rooms[room] = true
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*Client]bool)
	}
	h.rooms[room][c] = true
	return true
}

// Leave unsubscribes a client from a room.
func (h *Hub) Leave(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropFromRoom(c, room)
}

func (h *Hub) dropFromRoom(c *Client, room string) {
	delete(c.rooms, room)
	if subs, ok := h.rooms[room]; ok {
		delete(subs, c)
		if len(subs) == 0 {
			delete(h.rooms, room)
		}
	}
}

// RoomSize returns the number of clients currently in a room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// EmitToRoom delivers an event to every client in a room.
func (h *Hub) EmitToRoom(room string, ev event.Event) {
	h.emitToRoom(room, nil, ev)
}

// EmitToRoomExcept delivers an event to every client in a room except one,
// typically the originator.
func (h *Hub) EmitToRoomExcept(room string, except *Client, ev event.Event) {
	h.emitToRoom(room, except, ev)
}

func (h *Hub) emitToRoom(room string, except *Client, ev event.Event) {
	msg := envelope(ev)
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.rooms[room] {
		if c == except {
			continue
		}
		c.queue(msg, h.logger)
	}
}

// EmitToAll delivers an event to every connected client.
func (h *Hub) EmitToAll(ev event.Event) {
	msg := envelope(ev)
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		c.queue(msg, h.logger)
	}
}

func envelope(ev event.Event) WSMessage {
	return WSMessage{
		Event: ev.EventName(),
		Data:  eventToData(ev),
		TS:    time.Now().UnixMilli(),
	}
}

// eventToData converts an event struct to a map for JSON serialization.
func eventToData(ev event.Event) map[string]any {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil
	}
	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		return nil
	}
	return result
}
