package handlers

import (
	"context"
	"net/http"
	"strconv"

	"medscan-go/internal/api/middleware"
	"medscan-go/internal/catalog"
	"medscan-go/internal/core/models"
	"medscan-go/internal/core/recognizer"
	"medscan-go/internal/core/vision"
	"medscan-go/internal/db/repository"
	"medscan-go/internal/presentation"
	"medscan-go/internal/utils"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// Recognizer ist die Sicht der Handler auf die Erkennungsschleife
type Recognizer interface {
	Snapshot() recognizer.Snapshot
	Stats() recognizer.Stats
	Labels() *recognizer.LabelSet
	ToggleFacing(ctx context.Context) (vision.Facing, error)
	Retry(ctx context.Context) error
}

// APIHandler behandelt API-Anfragen für das System
type APIHandler struct {
	loop       Recognizer
	repo       repository.Repository
	catalog    *catalog.Catalog
	translator *middleware.Translator
	sampler    *utils.Sampler
}

// NewAPIHandler erstellt einen neuen API-Handler. repo darf nil sein.
func NewAPIHandler(loop Recognizer, repo repository.Repository, cat *catalog.Catalog, translator *middleware.Translator) *APIHandler {
	return &APIHandler{
		loop:       loop,
		repo:       repo,
		catalog:    cat,
		translator: translator,
		sampler:    utils.NewSampler(0),
	}
}

// RegisterRoutes registriert alle API-Routen
func (h *APIHandler) RegisterRoutes(router *gin.RouterGroup) {
	// Erkennung
	router.GET("/state", h.GetState)
	router.GET("/labels", h.ListLabels)

	// Kamera
	router.POST("/camera/toggle", h.ToggleCamera)
	router.POST("/camera/retry", h.RetryCamera)

	// Historie
	router.GET("/history", h.ListHistory)
	router.GET("/history/stats", h.GetHistoryStats)
	router.GET("/history/:id", h.GetHistoryEvent)

	// System
	router.GET("/system", h.GetSystemStats)
}

// view rendert einen Snapshot in der Sprache der Anfrage
func (h *APIHandler) view(c *gin.Context, s recognizer.Snapshot) presentation.View {
	var loc presentation.Localizer
	if h.translator != nil {
		loc = h.translator
	}
	return presentation.Build(s, h.catalog, loc, c.GetString(middleware.LanguageKey))
}

// GetState liefert den aktuellen Zustand inklusive lokalisierter Meldung
func (h *APIHandler) GetState(c *gin.Context) {
	c.JSON(http.StatusOK, h.view(c, h.loop.Snapshot()))
}

// LabelInfo beschreibt eine Modellklasse
type LabelInfo struct {
	Index    int               `json:"index"`
	Name     string            `json:"name"`
	Medicine *catalog.Medicine `json:"medicine,omitempty"`
}

// ListLabels liefert die Labels in Modellreihenfolge
func (h *APIHandler) ListLabels(c *gin.Context) {
	names := h.loop.Labels().Names()
	labels := make([]LabelInfo, len(names))
	for i, name := range names {
		labels[i] = LabelInfo{Index: i, Name: name}
		if h.catalog != nil {
			if m, ok := h.catalog.Lookup(name); ok {
				labels[i].Medicine = &m
			}
		}
	}
	c.JSON(http.StatusOK, gin.H{"count": len(labels), "labels": labels})
}

// ToggleCamera wechselt zwischen Front- und Rückkamera
func (h *APIHandler) ToggleCamera(c *gin.Context) {
	facing, err := h.loop.ToggleFacing(c.Request.Context())
	if err != nil {
		log.WithError(err).Warn("Camera toggle failed")
		c.JSON(statusFor(err), gin.H{"error": err.Error(), "facing": facing, "state": h.view(c, h.loop.Snapshot())})
		return
	}
	c.JSON(http.StatusOK, gin.H{"facing": facing, "state": h.view(c, h.loop.Snapshot())})
}

// RetryCamera fordert die Kamera nach einem Gerätefehler erneut an
func (h *APIHandler) RetryCamera(c *gin.Context) {
	if err := h.loop.Retry(c.Request.Context()); err != nil {
		log.WithError(err).Warn("Camera retry failed")
		c.JSON(statusFor(err), gin.H{"error": err.Error(), "state": h.view(c, h.loop.Snapshot())})
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": h.view(c, h.loop.Snapshot())})
}

func statusFor(err error) int {
	switch vision.Classify(err) {
	case vision.FaultDevice, vision.FaultModelLoad:
		return http.StatusServiceUnavailable
	default:
		return http.StatusConflict
	}
}

// ListHistory liefert gespeicherte Erkennungen mit Pagination
func (h *APIHandler) ListHistory(c *gin.Context) {
	if h.repo == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "history is disabled"})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit <= 0 || limit > 200 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 200"})
		return
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "offset must not be negative"})
		return
	}

	var (
		events []models.RecognitionEvent
		total  int64
	)
	if label := c.Query("label"); label != "" {
		// Filter nach Label ohne Pagination
		events, err = h.repo.GetEventsByLabel(label, limit)
		total = int64(len(events))
	} else {
		events, total, err = h.repo.GetEvents(limit, offset)
	}
	if err != nil {
		log.Errorf("Failed to load history: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load history"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events, "total": total, "limit": limit, "offset": offset})
}

// GetHistoryEvent liefert ein einzelnes gespeichertes Ereignis
func (h *APIHandler) GetHistoryEvent(c *gin.Context) {
	if h.repo == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "history is disabled"})
		return
	}
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	event, err := h.repo.GetEventByID(uint(id))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load event"})
		return
	}
	if event == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "event not found"})
		return
	}
	c.JSON(http.StatusOK, event)
}

// GetHistoryStats liefert die Statistik der Historie
func (h *APIHandler) GetHistoryStats(c *gin.Context) {
	if h.repo == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "history is disabled"})
		return
	}
	stats, err := h.repo.GetStatistics()
	if err != nil {
		log.Errorf("Failed to compute statistics: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compute statistics"})
		return
	}
	c.JSON(http.StatusOK, stats)
}
