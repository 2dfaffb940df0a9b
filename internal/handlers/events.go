package handlers

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"table-service/internal/events"
	"table-service/internal/utils"
)

const keepAliveInterval = 25 * time.Second

type EventHandler struct {
	bus *events.Bus
}

func NewEventHandler(bus *events.Bus) *EventHandler {
	return &EventHandler{bus: bus}
}

// Stream pushes bus events to the client as server-sent events. The first
// frame is "ready" and carries the recent history so dashboards can render
// without a second request. ?type= narrows the stream to one event type.
func (h *EventHandler) Stream(c *gin.Context) {
	eventType := c.DefaultQuery("type", events.Wildcard)

	feed := make(chan events.Envelope, 32)
	unsubscribe := h.bus.Subscribe(eventType, func(env events.Envelope) {
		select {
		case feed <- env:
		default:
		}
	})
	defer unsubscribe()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	c.SSEvent("ready", gin.H{"history": h.bus.GetHistory(eventType)})
	c.Writer.Flush()

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case env := <-feed:
			c.SSEvent(env.Type, env)
			return true
		case <-ticker.C:
			c.SSEvent("ping", gin.H{"timestamp": time.Now().UTC()})
			return true
		}
	})
}

func (h *EventHandler) History(c *gin.Context) {
	eventType := c.Param("type")
	if eventType == "" || eventType == "all" {
		eventType = events.Wildcard
	}
	c.JSON(http.StatusOK, utils.SuccessResponse("Event history retrieved", h.bus.GetHistory(eventType)))
}
