package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/phrazzld/asyncbg/internal/api/middleware"
	"github.com/phrazzld/asyncbg/internal/api/shared"
	"github.com/phrazzld/asyncbg/internal/metrics"
	"github.com/phrazzld/asyncbg/internal/platform/logger"
	"github.com/phrazzld/asyncbg/internal/status"
)

const (
	// writeWait bounds a single frame write to the client
	writeWait = 10 * time.Second

	// pingPeriod is how often idle streams are pinged
	pingPeriod = 30 * time.Second
)

// NotificationHandler streams status notifications of the caller channel over
// a WebSocket.
type NotificationHandler struct {
	subscriber status.Subscriber
	upgrader   websocket.Upgrader
	logger     *slog.Logger
}

// NewNotificationHandler creates a NotificationHandler. A nil subscriber
// disables streaming; the route then answers 501.
func NewNotificationHandler(subscriber status.Subscriber, logger *slog.Logger) *NotificationHandler {
	if logger == nil {
		logger = slog.Default()
	}

	return &NotificationHandler{
		subscriber: subscriber,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger: logger.With("component", "notification_handler"),
	}
}

// Stream handles GET /api/v1/async_background_ws/ requests.
func (h *NotificationHandler) Stream(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	channelName, ok := middleware.GetChannel(r)
	if !ok {
		shared.RespondWithError(w, r, http.StatusUnauthorized, "Channel could not be resolved")
		return
	}

	if h.subscriber == nil {
		shared.RespondWithError(w, r, http.StatusNotImplemented, "Notifications are not available")
		return
	}

	// The request context is not cancelled when a hijacked client goes away,
	// so the read pump cancels this one instead.
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	notifications, stop, err := h.subscriber.Subscribe(ctx, channelName)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError, "Failed to subscribe to notifications", err)
		return
	}
	defer stop()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client
		log.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	metrics.NotificationSubscribers.Inc()
	defer metrics.NotificationSubscribers.Dec()

	log.Debug("notification stream opened")

	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug("notification stream closed")
			return
		case n, ok := <-notifications:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
					time.Now().Add(writeWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(n); err != nil {
				log.Debug("failed to write notification", "task_id", n.TaskID, "error", err)
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
