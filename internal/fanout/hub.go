package fanout

import (
	"log/slog"
	"sync"

	"github.com/example/courier-dispatch/internal/models"
	"github.com/example/courier-dispatch/internal/observability"
)

// Topic names. Every subscriber implicitly receives the global topic;
// booking and driver rooms are joined explicitly.
const TopicGlobal = "global"

func BookingTopic(id string) string { return "booking:" + id }
func DriverTopic(id string) string  { return "driver:" + id }

// Subscription is one subscriber's event stream. Events published to any
// of its joined topics arrive on C. Delivery is best effort: a full
// channel drops the event rather than blocking the publisher.
type Subscription struct {
	C      chan models.Event
	topics map[string]struct{} // guarded by Hub.mu
}

// Hub is the process-wide notification fan-out. It is constructed once
// and handed to the dispatch engine and the location relay; there is no
// package-level instance.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[string]map[*Subscription]struct{}
	buffer int
	logger *slog.Logger
}

func NewHub(logger *slog.Logger, buffer int) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{
		rooms:  make(map[string]map[*Subscription]struct{}),
		buffer: buffer,
		logger: logger,
	}
}

// Subscribe creates a subscription joined to the given topics.
func (h *Hub) Subscribe(topics ...string) *Subscription {
	sub := &Subscription{
		C:      make(chan models.Event, h.buffer),
		topics: make(map[string]struct{}),
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, t := range topics {
		h.join(sub, t)
	}
	return sub
}

func (h *Hub) Join(sub *Subscription, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.join(sub, topic)
}

func (h *Hub) Leave(sub *Subscription, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leave(sub, topic)
}

// Unsubscribe detaches the subscription from all topics and closes C.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for t := range sub.topics {
		h.leave(sub, t)
	}
	close(sub.C)
}

// Publish delivers the event to every current subscriber of the topic.
// There is no durable queue: subscribers disconnected at publish time
// miss the event and are expected to refetch state on reconnect.
func (h *Hub) Publish(topic string, ev models.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.rooms[topic] {
		select {
		case sub.C <- ev:
			observability.FanoutPublished.Inc()
		default:
			observability.FanoutDropped.Inc()
			h.logger.Warn("fanout drop: subscriber buffer full", "topic", topic, "event", ev.Type)
		}
	}
}

func (h *Hub) join(sub *Subscription, topic string) {
	room, ok := h.rooms[topic]
	if !ok {
		room = make(map[*Subscription]struct{})
		h.rooms[topic] = room
	}
	room[sub] = struct{}{}
	sub.topics[topic] = struct{}{}
}

func (h *Hub) leave(sub *Subscription, topic string) {
	if room, ok := h.rooms[topic]; ok {
		delete(room, sub)
		if len(room) == 0 {
			delete(h.rooms, topic)
		}
	}
	delete(sub.topics, topic)
}
