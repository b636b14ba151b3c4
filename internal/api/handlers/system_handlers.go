package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GetSystemStats gibt aktuelle System- und Schleifenstatistiken als JSON zurück
func (h *APIHandler) GetSystemStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.sampler.Collect(h.loop.Stats()))
}
