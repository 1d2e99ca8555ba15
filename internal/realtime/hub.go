package realtime

import (
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/samber/lo"
	prom "github.com/sifan077/PowerPulse/internal/infra/prometheus"
	"go.uber.org/zap"
)

// ErrInvalidRequest reports a subscription request that cannot be honoured.
var ErrInvalidRequest = errors.New("invalid request")

const sendBufferSize = 256

// Frame is the envelope of every message exchanged over a socket.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outboundFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// BroadcastPayload is the data of new-click, stats-update and location-update frames.
type BroadcastPayload struct {
	ResourceID string    `json:"resourceId"`
	EventType  string    `json:"eventType"`
	Data       any       `json:"data"`
	Timestamp  time.Time `json:"timestamp"`
}

// Session is the hub-side state of one live connection.
type Session struct {
	ID     string
	UserID string

	send      chan []byte
	subs      map[string]struct{}
	closeOnce sync.Once
}

// Outbound yields encoded frames queued for the connection. It is closed on disconnect.
func (s *Session) Outbound() <-chan []byte {
	return s.send
}

func (s *Session) close() {
	s.closeOnce.Do(func() { close(s.send) })
}

// Hub tracks live connections and the resources each one watches.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]*Session
	rooms map[string]map[string]*Session

	logger *zap.Logger
	now    func() time.Time
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		conns:  make(map[string]*Session),
		rooms:  make(map[string]map[string]*Session),
		logger: logger,
		now:    time.Now,
	}
}

// Connect registers a connection with an empty subscription set.
func (h *Hub) Connect(connID, userID string) (*Session, error) {
	if connID == "" {
		return nil, ErrInvalidRequest
	}
	session := &Session{
		ID:     connID,
		UserID: userID,
		send:   make(chan []byte, sendBufferSize),
		subs:   make(map[string]struct{}),
	}

	h.mu.Lock()
	if _, exists := h.conns[connID]; exists {
		h.mu.Unlock()
		return nil, ErrInvalidRequest
	}
	h.conns[connID] = session
	h.mu.Unlock()

	prom.RealtimeConnections.Inc()
	h.logger.Info("Realtime client connected",
		zap.String("connection_id", connID),
		zap.String("user_id", lo.Ternary(userID == "", "anonymous", userID)))
	return session, nil
}

// Disconnect removes the connection and all of its room memberships.
func (h *Hub) Disconnect(connID string) {
	h.mu.Lock()
	session, ok := h.conns[connID]
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(h.conns, connID)
	for resourceID := range session.subs {
		h.leaveLocked(resourceID, connID)
	}
	h.mu.Unlock()

	session.close()
	prom.RealtimeConnections.Dec()
	h.logger.Info("Realtime client disconnected", zap.String("connection_id", connID))
}

// Subscribe adds resourceID to the connection's set and returns the set.
func (h *Hub) Subscribe(connID, resourceID string) ([]string, error) {
	if resourceID == "" {
		return nil, ErrInvalidRequest
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	session, ok := h.conns[connID]
	if !ok {
		return nil, ErrInvalidRequest
	}
	session.subs[resourceID] = struct{}{}
	room, ok := h.rooms[resourceID]
	if !ok {
		room = make(map[string]*Session)
		h.rooms[resourceID] = room
	}
	room[connID] = session

	h.logger.Debug("Realtime client subscribed",
		zap.String("connection_id", connID),
		zap.String("resource_id", resourceID))
	return sortedKeys(session.subs), nil
}

// Unsubscribe removes resourceID from the connection's set. Removing a
// resource that is not subscribed is a no-op.
func (h *Hub) Unsubscribe(connID, resourceID string) ([]string, error) {
	if resourceID == "" {
		return nil, ErrInvalidRequest
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	session, ok := h.conns[connID]
	if !ok {
		return nil, ErrInvalidRequest
	}
	if _, subscribed := session.subs[resourceID]; subscribed {
		delete(session.subs, resourceID)
		h.leaveLocked(resourceID, connID)
	}
	return sortedKeys(session.subs), nil
}

// Subscriptions lists the resources the connection watches, sorted.
func (h *Hub) Subscriptions(connID string) ([]string, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	session, ok := h.conns[connID]
	if !ok {
		return nil, ErrInvalidRequest
	}
	return sortedKeys(session.subs), nil
}

// Broadcast queues an event for every connection in the resource's room.
// Connections whose buffer is full miss the frame.
func (h *Hub) Broadcast(resourceID, eventType string, data any) {
	frame, err := json.Marshal(outboundFrame{
		Event: eventType,
		Data: BroadcastPayload{
			ResourceID: resourceID,
			EventType:  eventType,
			Data:       data,
			Timestamp:  h.now().UTC(),
		},
	})
	if err != nil {
		h.logger.Error("Failed to encode broadcast", zap.String("event", eventType), zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for connID, session := range h.rooms[resourceID] {
		if !h.enqueue(session, frame) {
			h.logger.Debug("Dropped realtime frame for slow client",
				zap.String("connection_id", connID),
				zap.String("event", eventType))
		}
	}
}

// Send queues a frame for a single connection.
func (h *Hub) Send(connID, event string, data any) bool {
	frame, err := json.Marshal(outboundFrame{Event: event, Data: data})
	if err != nil {
		h.logger.Error("Failed to encode frame", zap.String("event", event), zap.Error(err))
		return false
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	session, ok := h.conns[connID]
	if !ok {
		return false
	}
	return h.enqueue(session, frame)
}

// SendToUser queues a frame for every connection of userID and reports
// whether at least one exists.
func (h *Hub) SendToUser(userID, event string, data any) bool {
	if userID == "" {
		return false
	}
	frame, err := json.Marshal(outboundFrame{Event: event, Data: data})
	if err != nil {
		h.logger.Error("Failed to encode frame", zap.String("event", event), zap.Error(err))
		return false
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	sent := false
	for _, session := range h.conns {
		if session.UserID != userID {
			continue
		}
		h.enqueue(session, frame)
		sent = true
	}
	if !sent {
		h.logger.Warn("User not connected", zap.String("user_id", userID))
	}
	return sent
}

func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (h *Hub) SubscriberCount(resourceID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[resourceID])
}

// ActiveResources lists resources with at least one subscriber.
func (h *Hub) ActiveResources() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return sortedKeys(h.rooms)
}

// Close disconnects every connection.
func (h *Hub) Close() {
	h.mu.RLock()
	ids := lo.Keys(h.conns)
	h.mu.RUnlock()

	for _, id := range ids {
		h.Disconnect(id)
	}
}

// enqueue must be called with h.mu held; sessions are only closed after
// being removed under the write lock.
func (h *Hub) enqueue(session *Session, frame []byte) bool {
	select {
	case session.send <- frame:
		return true
	default:
		prom.RealtimeDropped.Inc()
		return false
	}
}

func (h *Hub) leaveLocked(resourceID, connID string) {
	room, ok := h.rooms[resourceID]
	if !ok {
		return
	}
	delete(room, connID)
	if len(room) == 0 {
		delete(h.rooms, resourceID)
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := lo.Keys(m)
	slices.Sort(keys)
	return keys
}
