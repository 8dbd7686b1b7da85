package api

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/antevus/labtrail/internal/audit"
	"github.com/antevus/labtrail/internal/middleware"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// TODO: restrict origins to the configured dashboard hosts
		return true
	},
}

// FeedHandlers holds dependencies for the live audit feed.
type FeedHandlers struct {
	feed *audit.Feed
}

// NewFeedHandlers creates a new FeedHandlers instance.
func NewFeedHandlers(feed *audit.Feed) *FeedHandlers {
	return &FeedHandlers{feed: feed}
}

// Subscribe handles GET /v1/audit/feed. It upgrades the connection to a
// WebSocket and streams every appended audit event until the client
// disconnects.
func (h *FeedHandlers) Subscribe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.ErrorContext(ctx, "failed to upgrade websocket connection", "error", err)
		return
	}

	h.feed.Subscribe(conn)

	requestID := middleware.GetRequestID(ctx)
	slog.InfoContext(ctx, "websocket client subscribed to audit feed",
		"request_id", requestID,
	)

	defer func() {
		h.feed.Unsubscribe(conn)
		conn.Close()
		slog.InfoContext(ctx, "websocket client unsubscribed from audit feed",
			"request_id", requestID,
		)
	}()

	// Clients do not send messages; reading detects disconnection.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.WarnContext(ctx, "audit feed connection closed unexpectedly", "error", err)
			}
			return
		}
	}
}
