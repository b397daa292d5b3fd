package server

import (
	"io"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	sessionEventName   = "session-change"
	heartbeatEventName = "heartbeat"
	heartbeatInterval  = 25 * time.Second
)

type sessionEventPayload struct {
	SignedIn   bool   `json:"signed_in"`
	IdentityID string `json:"identity_id,omitempty"`
	Email      string `json:"email,omitempty"`
}

// handleSessionEvents streams provider session-change events over SSE so the
// dashboard can react to sign-ins and sign-outs without polling. The
// subscription is deregistered when the client disconnects.
func (h *httpHandler) handleSessionEvents(c *gin.Context) {
	subscription := h.provider.Subscribe()
	defer subscription.Cancel()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	// First write flushes the response headers, so the client sees the
	// stream as open before any session change arrives.
	c.SSEvent(heartbeatEventName, time.Now().UTC().Unix())
	c.Writer.Flush()

	clientGone := c.Request.Context().Done()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-clientGone:
			return false
		case event, ok := <-subscription.Events():
			if !ok {
				return false
			}
			payload := sessionEventPayload{}
			if event.Identity != nil {
				payload = sessionEventPayload{
					SignedIn:   true,
					IdentityID: event.Identity.ID,
					Email:      event.Identity.Email,
				}
			}
			c.SSEvent(sessionEventName, payload)
			return true
		case <-heartbeat.C:
			c.SSEvent(heartbeatEventName, time.Now().UTC().Unix())
			return true
		}
	})
}

func encodeTimestamp(value time.Time) string {
	if value.IsZero() {
		return ""
	}
	return value.UTC().Format(time.RFC3339Nano)
}
