// Package api stellt die HTTP-Schnittstelle bereit.
package api

import (
	"time"

	"medscan-go/config"
	"medscan-go/internal/api/handlers"
	"medscan-go/internal/api/middleware"
	"medscan-go/internal/catalog"
	"medscan-go/internal/db/repository"
	"medscan-go/internal/server/sse"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// RouteRegistrar hängt zusätzliche Routen ein (z.B. die Debug-Bilder)
type RouteRegistrar interface {
	RegisterRoutes(router gin.IRouter)
}

// Deps bündelt alles, was der Router braucht. Repo und Debug dürfen nil sein.
type Deps struct {
	Loop       handlers.Recognizer
	Repo       repository.Repository
	Catalog    *catalog.Catalog
	Translator *middleware.Translator
	Hub        *sse.Hub
	Debug      RouteRegistrar
}

// NewRouter baut die gin-Engine mit allen Routen und Middlewares
func NewRouter(cfg config.ServerConfig, deps Deps) (*gin.Engine, *handlers.EventHandler, error) {
	if deps.Translator == nil {
		tr, err := middleware.NewTranslator(middleware.I18nConfig{})
		if err != nil {
			return nil, nil, err
		}
		deps.Translator = tr
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger())

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowAllOrigins = true
	corsCfg.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	router.Use(cors.New(corsCfg))

	secret := cfg.SessionSecret
	if secret == "" {
		log.Warn("No session secret configured, using an insecure default")
		secret = "medscan-insecure-session-secret"
	}
	store := cookie.NewStore([]byte(secret))
	store.Options(sessions.Options{Path: "/", MaxAge: 3600 * 24 * 30, HttpOnly: true})
	router.Use(sessions.Sessions("medscan", store))
	router.Use(middleware.I18n(deps.Translator))

	apiHandler := handlers.NewAPIHandler(deps.Loop, deps.Repo, deps.Catalog, deps.Translator)
	eventHandler := handlers.NewEventHandler(deps.Hub, deps.Loop, deps.Catalog, deps.Translator)
	webHandler, err := handlers.NewWebHandler(deps.Loop, deps.Repo, deps.Catalog, deps.Translator)
	if err != nil {
		return nil, nil, err
	}

	apiGroup := router.Group("/api")
	apiHandler.RegisterRoutes(apiGroup)
	eventHandler.RegisterRoutes(apiGroup)
	webHandler.RegisterRoutes(router)

	if deps.Debug != nil {
		deps.Debug.RegisterRoutes(router)
	}

	return router, eventHandler, nil
}

// requestLogger protokolliert Anfragen über logrus
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := log.WithFields(log.Fields{
			"status":  c.Writer.Status(),
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"latency": time.Since(start),
		})
		if c.Writer.Status() >= 500 {
			entry.Warn("HTTP request failed")
		} else {
			entry.Debug("HTTP request")
		}
	}
}
