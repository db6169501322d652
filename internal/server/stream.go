package server

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type realtimeEventPayload struct {
	LinkIDs   []string `json:"linkIds"`
	Timestamp string   `json:"timestamp"`
	Source    string   `json:"source"`
}

// handleStream holds an event stream open for the caller and relays change
// notifications for their profile until the client disconnects.
func (h *httpHandler) handleStream(c *gin.Context) {
	ownerID := c.GetString(ownerIDContextKey)
	ctx := c.Request.Context()
	messages, cleanup := h.realtime.Subscribe(ctx, ownerID)
	defer cleanup()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	h.logger.Debug("realtime stream opened", zap.String("owner_id", ownerID))
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case message, ok := <-messages:
			if !ok {
				return false
			}
			linkIDs := message.LinkIDs
			if linkIDs == nil {
				linkIDs = []string{}
			}
			c.SSEvent(message.EventType, realtimeEventPayload{
				LinkIDs:   linkIDs,
				Timestamp: message.Timestamp.UTC().Format(time.RFC3339Nano),
				Source:    realtimeSourceBackend,
			})
			return true
		case tick := <-ticker.C:
			c.SSEvent(realtimeEventHeartbeat, realtimeEventPayload{
				LinkIDs:   []string{},
				Timestamp: tick.UTC().Format(time.RFC3339Nano),
				Source:    realtimeSourceBackend,
			})
			return true
		}
	})
	h.logger.Debug("realtime stream closed", zap.String("owner_id", ownerID))
}
