package history

import (
	"context"
	"encoding/json"
	"sync"

	"medscan-go/internal/core/models"
	"medscan-go/internal/core/recognizer"
	"medscan-go/internal/core/vision"

	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

// Store ist der Teil des Repositories, den der Recorder braucht
type Store interface {
	SaveEvent(event *models.RecognitionEvent) error
}

// Recorder speichert jeden Übergang in "confident" (oder einen Wechsel des
// erkannten Medikaments) als RecognitionEvent. Observe blockiert nie, das
// Schreiben erfolgt in Run.
type Recorder struct {
	store Store
	queue chan models.RecognitionEvent

	mu        sync.Mutex
	lastLabel string
	lastSeq   uint64
}

// NewRecorder erstellt einen Recorder mit Puffer für buffer Ereignisse
func NewRecorder(store Store, buffer int) *Recorder {
	if buffer <= 0 {
		buffer = 32
	}
	return &Recorder{
		store: store,
		queue: make(chan models.RecognitionEvent, buffer),
	}
}

// Observe ist als recognizer.Observer verwendbar
func (r *Recorder) Observe(s recognizer.Snapshot) {
	ev, ok := r.transition(s)
	if !ok {
		return
	}
	select {
	case r.queue <- ev:
	default:
		log.Warnf("History queue full, dropping event for %s", ev.Label)
	}
}

func (r *Recorder) transition(s recognizer.Snapshot) (models.RecognitionEvent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s.Seq != 0 && s.Seq <= r.lastSeq {
		return models.RecognitionEvent{}, false
	}
	r.lastSeq = s.Seq

	// Fehler-Snapshots behalten den alten Zustand und zählen nicht als Übergang
	if s.Fault != vision.FaultNone {
		return models.RecognitionEvent{}, false
	}
	if s.Status != recognizer.StatusConfident {
		r.lastLabel = ""
		return models.RecognitionEvent{}, false
	}
	if s.Label == r.lastLabel {
		return models.RecognitionEvent{}, false
	}
	r.lastLabel = s.Label

	top, err := json.Marshal(s.Top)
	if err != nil {
		log.WithError(err).Warn("Could not encode top scores")
		top = []byte("[]")
	}
	return models.RecognitionEvent{
		Label:      s.Label,
		Confidence: s.Confidence,
		Facing:     s.Facing.String(),
		Top:        datatypes.JSON(top),
		DetectedAt: s.UpdatedAt,
	}, true
}

// Run schreibt gepufferte Ereignisse, bis ctx endet. Verbleibende Ereignisse
// werden vor dem Beenden noch gespeichert.
func (r *Recorder) Run(ctx context.Context) {
	for {
		select {
		case ev := <-r.queue:
			r.save(ev)
		case <-ctx.Done():
			for {
				select {
				case ev := <-r.queue:
					r.save(ev)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) save(ev models.RecognitionEvent) {
	if err := r.store.SaveEvent(&ev); err != nil {
		log.WithError(err).Errorf("Failed to store recognition of %s", ev.Label)
		return
	}
	log.Debugf("Recognition of %s stored (id %d)", ev.Label, ev.ID)
}
