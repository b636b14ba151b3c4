package homeassistant

import (
	"fmt"

	"medscan-go/internal/integrations/mqtt"

	log "github.com/sirupsen/logrus"
)

// Constants for Home Assistant MQTT Discovery
const (
	// Discovery-Präfix für Home Assistant (Standard ist "homeassistant")
	DiscoveryPrefix = "homeassistant"

	ComponentSensor = "sensor"
	ComponentButton = "button"

	// Node-ID für medscan
	NodeID = "medscan"
)

// MessagePublisher ist der Teil des MQTT-Clients, den die Integration braucht
type MessagePublisher interface {
	Topic(suffix string) string
	Publish(topic string, payload interface{}) error
	PublishRetain(topic string, payload interface{}) error
}

// EntityConfig repräsentiert die MQTT-Discovery-Konfiguration für einen Sensor oder Button
type EntityConfig struct {
	Name                string  `json:"name"`
	UniqueID            string  `json:"unique_id"`
	StateTopic          string  `json:"state_topic,omitempty"`
	CommandTopic        string  `json:"command_topic,omitempty"`
	PayloadPress        string  `json:"payload_press,omitempty"`
	Icon                string  `json:"icon,omitempty"`
	JSONAttributesTopic string  `json:"json_attributes_topic,omitempty"`
	ValueTemplate       string  `json:"value_template,omitempty"`
	UnitOfMeasurement   string  `json:"unit_of_measurement,omitempty"`
	AvailabilityTopic   string  `json:"availability_topic,omitempty"`
	PayloadAvailable    string  `json:"payload_available,omitempty"`
	PayloadNotAvailable string  `json:"payload_not_available,omitempty"`
	Device              *Device `json:"device,omitempty"`
}

// Device repräsentiert die Geräteinformationen für Home Assistant
type Device struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
	SWVersion    string   `json:"sw_version,omitempty"`
}

// DiscoveryManager verwaltet die Home Assistant MQTT Discovery
type DiscoveryManager struct {
	mqttClient MessagePublisher
	prefix     string
	version    string
}

// NewDiscoveryManager erstellt einen neuen Manager für Home Assistant Discovery
func NewDiscoveryManager(mqttClient MessagePublisher, discoveryPrefix, version string) *DiscoveryManager {
	if discoveryPrefix == "" {
		discoveryPrefix = DiscoveryPrefix
	}
	return &DiscoveryManager{
		mqttClient: mqttClient,
		prefix:     discoveryPrefix,
		version:    version,
	}
}

// Entities liefert die Discovery-Konfigurationen, indiziert nach Objekt-ID
func (dm *DiscoveryManager) Entities() map[string]EntityConfig {
	device := &Device{
		Identifiers:  []string{"medscan_go"},
		Name:         "Medscan",
		Manufacturer: "medscan-go",
		Model:        "Medicine package recognizer",
		SWVersion:    dm.version,
	}
	state := dm.mqttClient.Topic(mqtt.TopicState)
	availability := dm.mqttClient.Topic(mqtt.TopicStatus)
	command := dm.mqttClient.Topic(mqtt.TopicCommand)

	base := func(name, id, icon string) EntityConfig {
		return EntityConfig{
			Name:                name,
			UniqueID:            "medscan_" + id,
			Icon:                icon,
			AvailabilityTopic:   availability,
			PayloadAvailable:    mqtt.PayloadOnline,
			PayloadNotAvailable: mqtt.PayloadOffline,
			Device:              device,
		}
	}

	medicine := base("Medscan Medicine", "medicine", "mdi:pill")
	medicine.StateTopic = state
	medicine.ValueTemplate = "{{ value_json.label if value_json.status == 'confident' else 'none' }}"
	medicine.JSONAttributesTopic = state

	confidence := base("Medscan Confidence", "confidence", "mdi:percent")
	confidence.StateTopic = state
	confidence.ValueTemplate = "{{ value_json.percent }}"
	confidence.UnitOfMeasurement = "%"

	status := base("Medscan Status", "status", "mdi:camera-iris")
	status.StateTopic = state
	status.ValueTemplate = "{{ value_json.message }}"

	toggle := base("Medscan Switch Camera", "toggle_facing", "mdi:camera-flip")
	toggle.CommandTopic = command
	toggle.PayloadPress = mqtt.CommandToggleFacing

	retry := base("Medscan Retry Camera", "retry_camera", "mdi:camera-retake")
	retry.CommandTopic = command
	retry.PayloadPress = mqtt.CommandRetryCamera

	return map[string]EntityConfig{
		"medicine":      medicine,
		"confidence":    confidence,
		"status":        status,
		"toggle_facing": toggle,
		"retry_camera":  retry,
	}
}

// Register veröffentlicht alle Discovery-Konfigurationen (retained)
func (dm *DiscoveryManager) Register() error {
	var failed int
	for id, entity := range dm.Entities() {
		component := ComponentSensor
		if entity.CommandTopic != "" {
			component = ComponentButton
		}
		topic := fmt.Sprintf("%s/%s/%s/%s/config", dm.prefix, component, NodeID, id)

		log.Infof("Registering Home Assistant %s %s", component, id)
		if err := dm.mqttClient.PublishRetain(topic, entity); err != nil {
			log.Errorf("Failed to register %s: %v", id, err)
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("failed to publish %d discovery configuration(s)", failed)
	}
	return nil
}
