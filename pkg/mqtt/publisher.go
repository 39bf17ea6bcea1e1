package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/dbehnke/dmr-nexus/pkg/logger"
)

// Config holds MQTT publisher configuration
type Config struct {
	Enabled     bool
	Broker      string
	TopicPrefix string
	ClientID    string
	Username    string
	Password    string
	QoS         byte
	Retained    bool
}

// Publisher handles MQTT event publishing
type Publisher struct {
	config Config
	log    *logger.Logger

	mu     sync.Mutex
	client paho.Client
}

// Event types for MQTT publishing

// PeerConnectEvent represents a peer connection event
type PeerConnectEvent struct {
	PeerID    uint32    `json:"peer_id"`
	Callsign  string    `json:"callsign"`
	Timestamp time.Time `json:"timestamp"`
}

// PeerDisconnectEvent represents a peer disconnection event
type PeerDisconnectEvent struct {
	PeerID    uint32    `json:"peer_id"`
	Callsign  string    `json:"callsign"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// TrafficEvent represents DMR traffic
type TrafficEvent struct {
	SourceID  uint32    `json:"source_id"`
	DestID    uint32    `json:"dest_id"`
	Timeslot  uint8     `json:"timeslot"`
	StreamID  uint32    `json:"stream_id"`
	Timestamp time.Time `json:"timestamp"`
}

// BridgeEvent represents a bridge state change
type BridgeEvent struct {
	BridgeName string    `json:"bridge_name"`
	System     string    `json:"system"`
	TGID       uint32    `json:"tgid"`
	Timeslot   uint8     `json:"timeslot"`
	Active     bool      `json:"active"`
	Timestamp  time.Time `json:"timestamp"`
}

// New creates a new MQTT publisher
func New(config Config, log *logger.Logger) *Publisher {
	if log == nil {
		log = logger.New(logger.Config{Level: "info", Format: "text"})
	}
	
	return &Publisher{
		config: config,
		log:    log.WithComponent("mqtt"),
	}
}

// Start connects the MQTT publisher to its broker. It blocks until ctx is
// cancelled, at which point it disconnects.
func (p *Publisher) Start(ctx context.Context) error {
	if !p.config.Enabled {
		p.log.Info("MQTT publisher disabled")
		return nil
	}

	opts := paho.NewClientOptions().
		AddBroker(p.config.Broker).
		SetClientID(p.config.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true)
	if p.config.Username != "" {
		opts.SetUsername(p.config.Username)
		opts.SetPassword(p.config.Password)
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		p.log.Warn("MQTT connection lost", logger.Error(err))
	}
	opts.OnReconnecting = func(_ paho.Client, _ *paho.ClientOptions) {
		p.log.Info("Reconnecting to MQTT broker", logger.String("broker", p.config.Broker))
	}

	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("timed out connecting to MQTT broker %s", p.config.Broker)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to connect to MQTT broker %s: %w", p.config.Broker, err)
	}

	p.mu.Lock()
	p.client = client
	p.mu.Unlock()

	p.log.Info("Connected to MQTT broker",
		logger.String("broker", p.config.Broker),
		logger.String("client_id", p.config.ClientID))

	<-ctx.Done()
	return ctx.Err()
}

// Stop disconnects the MQTT client, if connected.
func (p *Publisher) Stop() {
	if !p.config.Enabled {
		return
	}

	p.mu.Lock()
	client := p.client
	p.client = nil
	p.mu.Unlock()

	if client == nil {
		return
	}

	p.log.Info("Stopping MQTT publisher")
	client.Disconnect(250)
}

// PublishPeerConnect publishes a peer connection event
func (p *Publisher) PublishPeerConnect(event PeerConnectEvent) error {
	if !p.config.Enabled {
		return nil
	}

	topic := p.formatTopic("peers/connect")
	return p.publish(topic, event)
}

// PublishPeerDisconnect publishes a peer disconnection event
func (p *Publisher) PublishPeerDisconnect(event PeerDisconnectEvent) error {
	if !p.config.Enabled {
		return nil
	}

	topic := p.formatTopic("peers/disconnect")
	return p.publish(topic, event)
}

// PublishTraffic publishes a traffic event
func (p *Publisher) PublishTraffic(event TrafficEvent) error {
	if !p.config.Enabled {
		return nil
	}

	topic := p.formatTopic("traffic")
	return p.publish(topic, event)
}

// PublishBridgeChange publishes a bridge state change event
func (p *Publisher) PublishBridgeChange(event BridgeEvent) error {
	if !p.config.Enabled {
		return nil
	}

	topic := p.formatTopic("bridges/change")
	return p.publish(topic, event)
}

// publish publishes an event to a topic
func (p *Publisher) publish(topic string, event interface{}) error {
	payload, err := p.serializeEvent(event)
	if err != nil {
		p.log.Error("Failed to serialize event",
			logger.String("topic", topic),
			logger.Error(err))
		return err
	}

	p.mu.Lock()
	client := p.client
	p.mu.Unlock()
	if client == nil {
		p.log.Debug("MQTT client not connected, dropping event",
			logger.String("topic", topic))
		return nil
	}

	token := client.Publish(topic, p.config.QoS, p.config.Retained, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("timed out publishing to %s", topic)
	}
	return token.Error()
}

// serializeEvent serializes an event to JSON
func (p *Publisher) serializeEvent(event interface{}) ([]byte, error) {
	return json.Marshal(event)
}

// formatTopic formats a topic with the configured prefix
func (p *Publisher) formatTopic(suffix string) string {
	prefix := strings.TrimSuffix(p.config.TopicPrefix, "/")
	if prefix == "" {
		return suffix
	}
	return fmt.Sprintf("%s/%s", prefix, suffix)
}
