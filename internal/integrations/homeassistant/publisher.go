package homeassistant

import (
	"context"

	"medscan-go/internal/catalog"
	"medscan-go/internal/core/recognizer"
	"medscan-go/internal/integrations/mqtt"
	"medscan-go/internal/presentation"

	log "github.com/sirupsen/logrus"
)

// Publisher veröffentlicht den aktuellen Erkennungszustand auf <prefix>/state.
// Es zählt nur der jeweils neueste Snapshot; ältere werden verworfen, solange
// noch veröffentlicht wird.
type Publisher struct {
	mqttClient MessagePublisher
	catalog    *catalog.Catalog
	localizer  presentation.Localizer
	language   string

	latest chan recognizer.Snapshot
}

// NewPublisher erstellt einen neuen MQTT-Publisher für Home Assistant
func NewPublisher(mqttClient MessagePublisher, cat *catalog.Catalog, loc presentation.Localizer, lang string) *Publisher {
	return &Publisher{
		mqttClient: mqttClient,
		catalog:    cat,
		localizer:  loc,
		language:   lang,
		latest:     make(chan recognizer.Snapshot, 1),
	}
}

// Observe ist als recognizer.Observer verwendbar und blockiert nie
func (p *Publisher) Observe(s recognizer.Snapshot) {
	for {
		select {
		case p.latest <- s:
			return
		default:
		}
		// veralteten Snapshot verwerfen
		select {
		case <-p.latest:
		default:
		}
	}
}

// Run veröffentlicht Snapshots, bis ctx endet
func (p *Publisher) Run(ctx context.Context) {
	for {
		select {
		case s := <-p.latest:
			if err := p.PublishState(s); err != nil {
				log.Debugf("Failed to publish state: %v", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// PublishState veröffentlicht einen Snapshot als gerenderte Ansicht (retained)
func (p *Publisher) PublishState(s recognizer.Snapshot) error {
	view := presentation.Build(s, p.catalog, p.localizer, p.language)
	return p.mqttClient.PublishRetain(p.mqttClient.Topic(mqtt.TopicState), view)
}
