package handlers

import (
	"io"

	"medscan-go/internal/api/middleware"
	"medscan-go/internal/catalog"
	"medscan-go/internal/core/recognizer"
	"medscan-go/internal/presentation"
	"medscan-go/internal/server/sse"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// EventState ist der Name der SSE-Nachricht mit dem Erkennungszustand
const EventState = "state"

// EventHandler streamt Zustandsänderungen als Server-Sent Events
type EventHandler struct {
	hub        *sse.Hub
	loop       Recognizer
	catalog    *catalog.Catalog
	translator *middleware.Translator
}

// NewEventHandler erstellt einen neuen Event-Handler
func NewEventHandler(hub *sse.Hub, loop Recognizer, cat *catalog.Catalog, translator *middleware.Translator) *EventHandler {
	return &EventHandler{
		hub:        hub,
		loop:       loop,
		catalog:    cat,
		translator: translator,
	}
}

// Observe ist als recognizer.Observer verwendbar und verteilt Snapshots an alle Clients
func (h *EventHandler) Observe(s recognizer.Snapshot) {
	h.hub.Broadcast(EventState, s)
}

// RegisterRoutes registriert den SSE-Endpunkt
func (h *EventHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/events", h.handleSSE)
}

// handleSSE sendet zuerst den aktuellen Zustand und danach jede Änderung,
// jeweils in der Sprache des Clients gerendert
func (h *EventHandler) handleSSE(c *gin.Context) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	lang := c.GetString(middleware.LanguageKey)
	var loc presentation.Localizer
	if h.translator != nil {
		loc = h.translator
	}

	client := make(sse.Client, 10) // Puffer für 10 Nachrichten
	h.hub.Register(client)
	defer h.hub.Unregister(client)

	c.SSEvent(EventState, presentation.Build(h.loop.Snapshot(), h.catalog, loc, lang))
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-client:
			if !ok {
				return false // Hub geschlossen oder Client zu langsam
			}
			if s, isSnap := ev.Payload.(recognizer.Snapshot); isSnap {
				c.SSEvent(ev.Name, presentation.Build(s, h.catalog, loc, lang))
			} else {
				c.SSEvent(ev.Name, ev.Payload)
			}
			return true
		case <-ctx.Done():
			log.Debug("SSE client disconnected")
			return false
		}
	})
}
