package controllers

import (
	"context"
	"io"
	"net/http"
	"time"

	"neighborhood-resolver/models"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

const keepAliveInterval = 25 * time.Second

type Subscriber interface {
	Subscribe(ctx context.Context) (<-chan models.ChangeEvent, func() error, error)
}

type EventController struct {
	subscriber Subscriber
	keepAlive  time.Duration
}

func NewEventController(subscriber Subscriber) *EventController {
	return &EventController{subscriber: subscriber, keepAlive: keepAliveInterval}
}

// StreamEvents sends change events as Server-Sent Events until the client
// goes away. Clients re-fetch the named collection on every event.
func (ec *EventController) StreamEvents(c *gin.Context) {
	ctx := c.Request.Context()

	events, unsubscribe, err := ec.subscriber.Subscribe(ctx)
	if err != nil {
		log.Errorf("events: subscribe: %v", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Live updates unavailable"})
		return
	}
	defer func() {
		if err := unsubscribe(); err != nil {
			log.Debugf("events: unsubscribe: %v", err)
		}
	}()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	ticker := time.NewTicker(ec.keepAlive)
	defer ticker.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case event, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent(string(event.Kind), gin.H{
				"id":         event.ID,
				"collection": event.Collection(),
				"status":     event.Status,
				"at":         event.At,
			})
			return true
		case <-ticker.C:
			c.SSEvent("ping", "")
			return true
		}
	})
}
