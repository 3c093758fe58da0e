// Package announce publishes check-in events to an MQTT broker so that home
// automation or signage systems can react to kiosk activity.
package announce

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"

	"face-checkin-go/internal/config"
)

var logFields = log.Fields{
	"component": "announce",
}

// Event is the payload published for each settled attempt.
type Event struct {
	Kind      string    `json:"kind"`
	Outcome   string    `json:"outcome"`
	Message   string    `json:"message,omitempty"`
	Customer  string    `json:"customer,omitempty"`
	Distance  float64   `json:"distance,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Announcer is the capability the kiosk core consumes.
type Announcer interface {
	Announce(ev Event)
}

// Client wraps the MQTT connection and its configuration.
type Client struct {
	cfg    config.MQTTConfig
	client mqtt.Client
}

// NewClient creates and configures a new MQTT announcer. Returns (nil, nil)
// when MQTT is disabled in the configuration.
func NewClient(cfg config.MQTTConfig) (*Client, error) {
	if !cfg.Enabled {
		log.WithFields(logFields).Info("MQTT announcer is disabled in the configuration")
		return nil, nil
	}

	brokerURL := fmt.Sprintf("tcp://%s:%d", cfg.Broker, cfg.Port)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(1 * time.Minute)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.WithFields(logFields).Warnf("MQTT connection lost: %v", err)
	})
	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		log.WithFields(logFields).Infof("Connected to MQTT broker %s", brokerURL)
	})

	return &Client{cfg: cfg, client: mqtt.NewClient(opts)}, nil
}

// Start connects to the broker. Reconnects are handled automatically after
// the initial connection succeeds.
func (c *Client) Start() error {
	log.WithFields(logFields).Infof("Connecting to MQTT broker tcp://%s:%d", c.cfg.Broker, c.cfg.Port)
	if token := c.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}
	return nil
}

// Stop disconnects from the broker.
func (c *Client) Stop() {
	if c.client != nil && c.client.IsConnected() {
		c.client.Disconnect(250)
		log.WithFields(logFields).Info("MQTT announcer disconnected")
	}
}

// Announce publishes one event. Best effort: failures are logged, never
// propagated into the check-in flow.
func (c *Client) Announce(ev Event) {
	if c.client == nil || !c.client.IsConnected() {
		log.WithFields(logFields).Debug("MQTT not connected, skipping announcement")
		return
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		log.WithFields(logFields).Errorf("Failed to marshal announcement: %v", err)
		return
	}

	token := c.client.Publish(c.cfg.Topic, 0, false, payload)
	if !token.WaitTimeout(2*time.Second) || token.Error() != nil {
		log.WithFields(logFields).Warnf("Failed to publish announcement: %v", token.Error())
	}
}
