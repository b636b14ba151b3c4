package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"medscan-go/config"
	"medscan-go/internal/api"
	"medscan-go/internal/api/middleware"
	"medscan-go/internal/catalog"
	"medscan-go/internal/cleanup"
	"medscan-go/internal/core/recognizer"
	"medscan-go/internal/core/vision"
	"medscan-go/internal/db"
	"medscan-go/internal/db/repository"
	"medscan-go/internal/history"
	"medscan-go/internal/integrations/homeassistant"
	"medscan-go/internal/integrations/mqtt"
	"medscan-go/internal/integrations/opencv"
	"medscan-go/internal/integrations/remote"
	"medscan-go/internal/server/sse"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the recognition loop with web UI, API and MQTT",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx context.Context) error {
	cat, labels, err := loadLabels(cfg)
	if err != nil {
		return err
	}
	facing, err := vision.ParseFacing(cfg.Camera.Facing)
	if err != nil {
		return err
	}

	log.Info("Initializing database...")
	gdb, err := db.Open(cfg.DB)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close(gdb)
	repo := repository.NewSQLiteRepository(gdb)

	translator, err := middleware.NewTranslator(middleware.I18nConfig{DefaultLanguage: cfg.I18n.DefaultLanguage})
	if err != nil {
		return fmt.Errorf("failed to load translations: %w", err)
	}

	ocv := opencv.NewService(cfg)
	loop := recognizer.New(ocv.Source(), ocv.Preprocessor(), labels, recognizer.Options{
		Period:    cfg.Recognition.Interval,
		Threshold: cfg.Recognition.Threshold,
		TopK:      cfg.Recognition.TopK,
		Facing:    facing,
	})

	hub := sse.NewHub()
	deps := api.Deps{
		Loop:       loop,
		Repo:       repo,
		Catalog:    cat,
		Translator: translator,
		Hub:        hub,
	}
	if ocv.DebugSvc != nil {
		deps.Debug = ocv.DebugSvc
	}
	router, events, err := api.NewRouter(cfg.Server, deps)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	var wg sync.WaitGroup
	goRun := func(fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(runCtx)
		}()
	}

	recorder := history.NewRecorder(repo, 32)
	loop.Subscribe(events.Observe)
	loop.Subscribe(recorder.Observe)
	goRun(hub.Run)
	goRun(recorder.Run)
	if cleanupService := cleanup.NewService(repo, cfg.Cleanup.RetentionDays, cfg.Cleanup.Interval); cleanupService != nil {
		goRun(cleanupService.Run)
	}

	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient = startMQTT(cfg, loop, cat, translator, goRun)
	} else {
		log.Info("MQTT is disabled in config.")
	}

	// Kamera sofort anfordern, das Modell lädt parallel
	if err := loop.Start(runCtx); err != nil {
		log.WithError(err).Warn("Recognition loop started without camera; use retry once the device is available")
	}
	goRun(func(ctx context.Context) {
		c, err := loadClassifier(ctx, cfg.Model, ocv)
		if err != nil {
			loop.ModelFailed(err)
			return
		}
		if ctx.Err() != nil {
			c.Close()
			return
		}
		if err := loop.SetModel(c); err != nil {
			log.WithError(err).Error("Failed to attach classifier")
			c.Close()
		}
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}
	serveErr := make(chan error, 1)
	go func() {
		log.Infof("Starting server on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("Shutting down...")
	case err = <-serveErr:
		log.Errorf("Server failed: %v", err)
	}

	// SSE-Streams enden, sobald der Hub stoppt
	cancel()
	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		log.Warnf("HTTP server shutdown: %v", shutdownErr)
	}
	if mqttClient != nil {
		mqttClient.Stop()
	}
	wg.Wait()
	if closeErr := loop.Close(); closeErr != nil {
		log.Warnf("Failed to release classifier: %v", closeErr)
	}

	log.Info("Server stopped.")
	return err
}

// startMQTT verbindet den MQTT-Client, registriert die Befehle und startet die
// Zustandsveröffentlichung samt Home Assistant Discovery
func startMQTT(cfg *config.Config, loop *recognizer.Loop, cat *catalog.Catalog, translator *middleware.Translator, goRun func(func(context.Context))) *mqtt.Client {
	client := mqtt.NewClient(cfg.MQTT)
	client.RegisterHandler(client.Topic(mqtt.TopicCommand), mqtt.NewCommandHandler(loop, 10*time.Second))
	if err := client.Start(); err != nil {
		// Auto-Reconnect übernimmt paho nur nach einer ersten erfolgreichen Verbindung
		log.Warnf("Failed to connect MQTT client: %v. Continuing without MQTT.", err)
		return nil
	}

	ha := cfg.MQTT.HomeAssistant
	if ha.Enabled {
		discovery := homeassistant.NewDiscoveryManager(client, ha.DiscoveryPrefix, Version)
		if err := discovery.Register(); err != nil {
			log.Warnf("Home Assistant discovery incomplete: %v", err)
		}
	}
	if ha.PublishResults {
		publisher := homeassistant.NewPublisher(client, cat, translator, cfg.I18n.DefaultLanguage)
		loop.Subscribe(publisher.Observe)
		goRun(publisher.Run)
		publisher.Observe(loop.Snapshot())
	}
	return client
}

// loadClassifier lädt das Modell des konfigurierten Providers
func loadClassifier(ctx context.Context, cfg config.ModelConfig, ocv *opencv.Service) (recognizer.Classifier, error) {
	if cfg.Provider == "remote" {
		c, err := remote.Load(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
	c, err := ocv.LoadClassifier(ctx)
	if err != nil {
		return nil, err
	}
	return c, nil
}
