package ws

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Event is the frame pushed to staff clients.
type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// roomEvent routes an event to one restaurant's room.
type roomEvent struct {
	RestaurantID uuid.UUID
	Event        Event
}

// Hub fans events out to the staff clients of each restaurant.
type Hub struct {
	// Registered clients by restaurant ID
	rooms map[uuid.UUID]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *roomEvent

	mu     sync.RWMutex
	logger *logrus.Logger
}

func NewHub(logger *logrus.Logger) *Hub {
	return &Hub{
		rooms:      make(map[uuid.UUID]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *roomEvent, 256),
		logger:     logger,
	}
}

// Run is the hub's main loop. It returns when ctx is done.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.mu.Lock()
			if h.rooms[client.restaurantID] == nil {
				h.rooms[client.restaurantID] = make(map[*Client]bool)
			}
			h.rooms[client.restaurantID][client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			h.remove(client)
			h.mu.Unlock()

		case ev := <-h.broadcast:
			message, err := json.Marshal(ev.Event)
			if err != nil {
				continue
			}

			h.mu.Lock()
			for client := range h.rooms[ev.RestaurantID] {
				select {
				case client.send <- message:
				default:
					// Slow consumer: drop it rather than block the room.
					h.remove(client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// remove must be called with h.mu held.
func (h *Hub) remove(client *Client) {
	clients, ok := h.rooms[client.restaurantID]
	if !ok {
		return
	}
	if _, exists := clients[client]; !exists {
		return
	}
	delete(clients, client)
	close(client.send)
	if len(clients) == 0 {
		delete(h.rooms, client.restaurantID)
	}
}

// Publish queues an event for a restaurant's room without blocking. When the
// queue is full the event is dropped and logged.
func (h *Hub) Publish(restaurantID uuid.UUID, event string, payload interface{}) {
	raw, err := json.Marshal(payload)
	if err != nil {
		h.logger.WithError(err).WithField("event", event).Error("marshal websocket payload")
		return
	}

	select {
	case h.broadcast <- &roomEvent{RestaurantID: restaurantID, Event: Event{Type: event, Payload: raw}}:
	default:
		h.logger.WithFields(logrus.Fields{
			"event":         event,
			"restaurant_id": restaurantID,
		}).Warn("websocket broadcast queue full, event dropped")
	}
}

// ClientCount returns the number of clients in a restaurant's room.
func (h *Hub) ClientCount(restaurantID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[restaurantID])
}
