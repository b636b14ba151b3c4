package handlers

import (
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"medscan-go/internal/api/middleware"
	"medscan-go/internal/catalog"
	"medscan-go/internal/core/models"
	"medscan-go/internal/db/repository"
	"medscan-go/internal/presentation"
	"medscan-go/internal/util/timezone"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

//go:embed templates/*.html
var templateFS embed.FS

// WebHandler rendert die Weboberfläche
type WebHandler struct {
	loop       Recognizer
	repo       repository.Repository
	catalog    *catalog.Catalog
	translator *middleware.Translator
	templates  *template.Template
}

// NewWebHandler erstellt einen neuen Web-Handler
func NewWebHandler(loop Recognizer, repo repository.Repository, cat *catalog.Catalog, translator *middleware.Translator) (*WebHandler, error) {
	h := &WebHandler{
		loop:       loop,
		repo:       repo,
		catalog:    cat,
		translator: translator,
	}
	if err := h.loadTemplates(); err != nil {
		return nil, fmt.Errorf("failed to load templates: %w", err)
	}
	return h, nil
}

// loadTemplates lädt alle eingebetteten HTML-Templates
func (h *WebHandler) loadTemplates() error {
	funcMap := template.FuncMap{
		// wird pro Anfrage durch die Sprache des Clients ersetzt
		"t": func(key string) string { return key },
		"formatTime": func(t time.Time) string {
			return timezone.Format(t, "02.01.2006 15:04:05")
		},
		"formatConfidence": func(c float64) string {
			return fmt.Sprintf("%.1f%%", c*100)
		},
	}

	templates, err := template.New("").Funcs(funcMap).ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return fmt.Errorf("failed to parse templates: %w", err)
	}
	h.templates = templates
	log.Debugf("Loaded %d templates", len(templates.Templates()))
	return nil
}

// RegisterRoutes registriert alle Web-Routen
func (h *WebHandler) RegisterRoutes(router *gin.Engine) {
	router.GET("/", h.handleIndex)
}

// renderTemplate rendert ein Template in der Sprache der Anfrage
func (h *WebHandler) renderTemplate(c *gin.Context, name string, data gin.H) {
	lang := c.GetString(middleware.LanguageKey)

	tmpl, err := h.templates.Clone()
	if err != nil {
		c.String(http.StatusInternalServerError, "Template error")
		return
	}
	tmpl.Funcs(template.FuncMap{
		"t": func(key string) string {
			if h.translator == nil {
				return key
			}
			return h.translator.Localize(lang, key, nil)
		},
	})
	if tmpl.Lookup(name) == nil {
		log.Errorf("Template %s not found", name)
		c.String(http.StatusInternalServerError, "Template not found")
		return
	}

	data["Language"] = lang
	if h.translator != nil {
		data["Languages"] = h.translator.Languages()
	}

	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Status(http.StatusOK)
	if err := tmpl.ExecuteTemplate(c.Writer, name, data); err != nil {
		log.Errorf("Template execution error: %v", err)
	}
}

// handleIndex zeigt die Live-Erkennung und die letzten Treffer
func (h *WebHandler) handleIndex(c *gin.Context) {
	var loc presentation.Localizer
	if h.translator != nil {
		loc = h.translator
	}
	view := presentation.Build(h.loop.Snapshot(), h.catalog, loc, c.GetString(middleware.LanguageKey))

	var recent []models.RecognitionEvent
	if h.repo != nil {
		events, _, err := h.repo.GetEvents(10, 0)
		if err != nil {
			log.Warnf("Failed to load recent recognitions: %v", err)
		}
		recent = events
	}

	h.renderTemplate(c, "index.html", gin.H{
		"View":   view,
		"Recent": recent,
	})
}
