package opencv

import (
	"context"

	"medscan-go/config"
	"medscan-go/internal/camera"

	log "github.com/sirupsen/logrus"
)

// Service bündelt Kamera, Vorverarbeitung und Klassifikator der OpenCV-Integration
type Service struct {
	cfg      *config.Config
	opener   CaptureOpener
	prep     *Preprocessor
	DebugSvc *DebugService // nil, wenn camera.debug_frames = 0
}

// NewService erstellt den OpenCV-Service
func NewService(cfg *config.Config) *Service {
	s := &Service{
		cfg:    cfg,
		opener: CaptureOpener{Front: cfg.Camera.Front, Back: cfg.Camera.Back},
		prep:   &Preprocessor{Mirror: cfg.Camera.Mirror},
	}
	if cfg.Camera.DebugFrames > 0 {
		s.DebugSvc = NewDebugService(cfg.Camera.DebugFrames)
		s.prep.Debug = s.DebugSvc
		log.Infof("Debug-Ansicht aktiv, speichere bis zu %d Eingabebilder", cfg.Camera.DebugFrames)
	}
	return s
}

// Source liefert die Kamera-Quelle für die Erkennungsschleife
func (s *Service) Source() *camera.Source {
	return camera.NewSource(s.opener, s.cfg.Camera.Width, s.cfg.Camera.Height)
}

// Preprocessor liefert die Vorverarbeitung
func (s *Service) Preprocessor() *Preprocessor {
	return s.prep
}

// LoadClassifier lädt das konfigurierte Modell
func (s *Service) LoadClassifier(ctx context.Context) (*Classifier, error) {
	return LoadClassifier(ctx, s.cfg.Model)
}
