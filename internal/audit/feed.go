package audit

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// feedSendBuffer is the per-subscriber queue depth. A subscriber whose
	// queue is full is dropped so a stalled dashboard can never hold up
	// event appends.
	feedSendBuffer = 16

	// feedWriteTimeout bounds a single websocket write.
	feedWriteTimeout = 10 * time.Second
)

// Feed manages WebSocket connections and broadcasts appended audit events
// to compliance dashboards in real time.
//
// Each subscriber gets a buffered send queue drained by its own writer
// goroutine. Broadcast never blocks: if a queue is full the subscriber is
// disconnected instead.
type Feed struct {
	mu          sync.RWMutex
	subscribers map[*websocket.Conn]*feedSubscriber

	// writeTimeout is feedWriteTimeout unless overridden in tests.
	writeTimeout time.Duration
}

type feedSubscriber struct {
	conn *websocket.Conn
	send chan []byte
}

// NewFeed creates a new audit event feed.
func NewFeed() *Feed {
	return &Feed{
		subscribers:  make(map[*websocket.Conn]*feedSubscriber),
		writeTimeout: feedWriteTimeout,
	}
}

// Subscribe registers a WebSocket connection for the feed and starts its
// writer goroutine.
func (f *Feed) Subscribe(conn *websocket.Conn) {
	sub := &feedSubscriber{
		conn: conn,
		send: make(chan []byte, feedSendBuffer),
	}

	f.mu.Lock()
	f.subscribers[conn] = sub
	f.mu.Unlock()

	go f.writeLoop(sub)
}

// Unsubscribe removes a WebSocket connection from the feed. Safe to call
// more than once for the same connection.
func (f *Feed) Unsubscribe(conn *websocket.Conn) {
	f.mu.Lock()
	sub, ok := f.subscribers[conn]
	if ok {
		delete(f.subscribers, conn)
	}
	f.mu.Unlock()

	if ok {
		close(sub.send)
	}
}

// writeLoop drains one subscriber's queue. Every write carries a deadline;
// a failed or timed-out write disconnects the subscriber.
func (f *Feed) writeLoop(sub *feedSubscriber) {
	for data := range sub.send {
		if err := sub.conn.SetWriteDeadline(time.Now().Add(f.writeTimeout)); err != nil {
			break
		}
		if err := sub.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			slog.Warn("failed to send audit event to websocket client", "error", err)
			break
		}
	}
	f.Unsubscribe(sub.conn)
	sub.conn.Close()
}

// feedEvent is the wire shape broadcast to subscribers. The signature and
// metadata are omitted; dashboards that need the full record fetch it via
// the export API.
type feedEvent struct {
	ID             string    `json:"id"`
	Timestamp      time.Time `json:"timestamp"`
	UserID         string    `json:"user_id,omitempty"`
	EventType      string    `json:"event_type"`
	ResourceType   string    `json:"resource_type,omitempty"`
	ResourceID     string    `json:"resource_id,omitempty"`
	Success        bool      `json:"success"`
	SequenceNumber int64     `json:"sequence_number"`
}

// Broadcast queues an appended event for all subscribers. It never blocks:
// a subscriber whose queue is full is dropped.
func (f *Feed) Broadcast(e *Event) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if len(f.subscribers) == 0 {
		return
	}

	// Serialize once
	data, err := json.Marshal(feedEvent{
		ID:             e.ID,
		Timestamp:      e.Timestamp,
		UserID:         e.UserID,
		EventType:      e.EventType,
		ResourceType:   e.ResourceType,
		ResourceID:     e.ResourceID,
		Success:        e.Success,
		SequenceNumber: e.SequenceNumber,
	})
	if err != nil {
		slog.Error("failed to marshal audit feed event", "error", err)
		return
	}

	for conn, sub := range f.subscribers {
		select {
		case sub.send <- data:
		default:
			slog.Warn("dropping slow audit feed subscriber",
				"sequence_number", e.SequenceNumber,
			)
			// Unsubscribe needs the write lock; the writer goroutine exits
			// once the connection is closed and its queue is drained.
			go func(c *websocket.Conn) {
				f.Unsubscribe(c)
				c.Close()
			}(conn)
		}
	}
}

// ConnectionCount returns the number of active subscribers.
func (f *Feed) ConnectionCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subscribers)
}
