package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"medscan-go/config"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
)

// Topic-Suffixe unterhalb von topic_prefix
const (
	TopicStatus  = "status"
	TopicState   = "state"
	TopicCommand = "command"

	PayloadOnline  = "online"
	PayloadOffline = "offline"
)

// publishTimeout begrenzt das Warten auf den Broker pro Nachricht
const publishTimeout = 5 * time.Second

var errNotConnected = errors.New("MQTT client is not connected")

// Client ist der MQTT-Client für Zustandsmeldungen und Fernsteuerung
type Client struct {
	config config.MQTTConfig
	client mqtt.Client

	mu       sync.RWMutex
	handlers map[string]MessageHandler

	// newClient erzeugt den paho-Client, in Tests austauschbar
	newClient func(*mqtt.ClientOptions) mqtt.Client
}

// MessageHandler ist ein Interface für Handler, die MQTT-Nachrichten verarbeiten
type MessageHandler interface {
	HandleMessage(topic string, payload []byte)
}

// NewClient erstellt einen neuen MQTT-Client
func NewClient(cfg config.MQTTConfig) *Client {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "medscan"
	}
	if cfg.QoS > 2 {
		cfg.QoS = 1
	}
	return &Client{
		config:    cfg,
		handlers:  make(map[string]MessageHandler),
		newClient: mqtt.NewClient,
	}
}

// Topic liefert das vollständige Topic für suffix
func (c *Client) Topic(suffix string) string {
	return strings.TrimSuffix(c.config.TopicPrefix, "/") + "/" + suffix
}

// RegisterHandler registriert einen Handler für ein Topic. Abonniert wird beim
// (Wieder-)Verbinden.
func (c *Client) RegisterHandler(topic string, handler MessageHandler) {
	c.mu.Lock()
	c.handlers[topic] = handler
	c.mu.Unlock()
	log.Debugf("Registered MQTT message handler for %s", topic)

	if c.IsConnected() {
		c.subscribe(c.client, topic)
	}
}

// Start startet den MQTT-Client und verbindet ihn mit dem Broker
func (c *Client) Start() error {
	if !c.config.Enabled {
		log.Info("MQTT client is disabled in configuration")
		return nil
	}

	opts := mqtt.NewClientOptions()

	brokerURL := fmt.Sprintf("tcp://%s:%d", c.config.Broker, c.config.Port)
	opts.AddBroker(brokerURL)
	opts.SetClientID(c.config.ClientID)

	// Optionale Authentifizierung
	if c.config.Username != "" {
		opts.SetUsername(c.config.Username)
		opts.SetPassword(c.config.Password)
	}

	// Last Will: Broker meldet "offline", wenn die Verbindung abreißt
	opts.SetWill(c.Topic(TopicStatus), PayloadOffline, c.config.QoS, true)

	opts.SetOnConnectHandler(c.onConnectHandler)
	opts.SetConnectionLostHandler(c.connectionLostHandler)

	// Automatische Wiederverbindung
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(1 * time.Minute)

	c.client = c.newClient(opts)

	log.Infof("Connecting to MQTT broker at %s", brokerURL)
	if token := c.client.Connect(); token.Wait() && token.Error() != nil {
		log.Errorf("Failed to connect to MQTT broker: %v", token.Error())
		return token.Error()
	}

	log.Info("MQTT client connected successfully")
	return nil
}

// Stop meldet "offline" und beendet den MQTT-Client
func (c *Client) Stop() {
	if c.client != nil && c.client.IsConnected() {
		log.Info("Disconnecting MQTT client...")
		if err := c.PublishRetain(c.Topic(TopicStatus), PayloadOffline); err != nil {
			log.Warnf("Failed to publish offline status: %v", err)
		}
		c.client.Disconnect(250) // 250ms Wartezeit
		log.Info("MQTT client disconnected")
	}
}

// IsConnected prüft, ob der Client verbunden ist
func (c *Client) IsConnected() bool {
	return c.client != nil && c.client.IsConnected()
}

// onConnectHandler wird bei jeder (Wieder-)Verbindung aufgerufen
func (c *Client) onConnectHandler(client mqtt.Client) {
	log.Infof("Connected to MQTT broker at %s:%d", c.config.Broker, c.config.Port)

	if err := wait(client.Publish(c.Topic(TopicStatus), c.config.QoS, true, []byte(PayloadOnline))); err != nil {
		log.Errorf("Failed to publish online status: %v", err)
	}

	c.mu.RLock()
	topics := make([]string, 0, len(c.handlers))
	for topic := range c.handlers {
		topics = append(topics, topic)
	}
	c.mu.RUnlock()

	for _, topic := range topics {
		c.subscribe(client, topic)
	}
}

func (c *Client) subscribe(client mqtt.Client, topic string) {
	log.Infof("Subscribing to MQTT topic: %s", topic)
	if err := wait(client.Subscribe(topic, c.config.QoS, c.messageHandler)); err != nil {
		log.Errorf("Failed to subscribe to topic %s: %v", topic, err)
	} else {
		log.Infof("Successfully subscribed to topic: %s", topic)
	}
}

// connectionLostHandler wird aufgerufen, wenn die Verbindung verloren geht
func (c *Client) connectionLostHandler(client mqtt.Client, err error) {
	log.Errorf("MQTT connection lost: %v", err)
}

// messageHandler leitet eingehende Nachrichten an den Handler des Topics weiter
func (c *Client) messageHandler(client mqtt.Client, msg mqtt.Message) {
	topic := msg.Topic()
	log.Debugf("Received MQTT message on topic: %s", topic)

	c.mu.RLock()
	handler, ok := c.handlers[topic]
	c.mu.RUnlock()
	if !ok {
		log.Debugf("No handler for MQTT topic %s", topic)
		return
	}
	go handler.HandleMessage(topic, msg.Payload())
}

// PublishMessage veröffentlicht payload an topic. Strings und []byte gehen
// unverändert raus, alles andere als JSON.
func (c *Client) PublishMessage(topic string, payload interface{}, retain bool) error {
	if !c.IsConnected() {
		return errNotConnected
	}

	data, err := encodePayload(payload)
	if err != nil {
		return err
	}
	if err := wait(c.client.Publish(topic, c.config.QoS, retain, data)); err != nil {
		return fmt.Errorf("failed to publish message to topic %s: %w", topic, err)
	}

	log.Debugf("Published message to topic: %s", topic)
	return nil
}

func encodePayload(payload interface{}) ([]byte, error) {
	switch p := payload.(type) {
	case string:
		return []byte(p), nil
	case []byte:
		return p, nil
	case fmt.Stringer:
		return []byte(p.String()), nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload to JSON: %w", err)
	}
	return data, nil
}

// wait wartet begrenzt auf ein paho-Token
func wait(token mqtt.Token) error {
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("timed out after %s", publishTimeout)
	}
	return token.Error()
}

// PublishRetain veröffentlicht eine Nachricht mit dem Retain-Flag
func (c *Client) PublishRetain(topic string, payload interface{}) error {
	return c.PublishMessage(topic, payload, true)
}

// Publish veröffentlicht eine Nachricht ohne Retain-Flag
func (c *Client) Publish(topic string, payload interface{}) error {
	return c.PublishMessage(topic, payload, false)
}
