package radio

import (
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// MQTTConfig configures the broker bridge.
type MQTTConfig struct {
	Broker     string // e.g. tcp://192.168.1.200:1883
	ClientID   string
	Prefix     string // topic prefix, e.g. "air/node1"
	BufferSize int    // history notifications held while the broker is unreachable
}

// Peer payloads on <prefix>/peer.
const (
	PeerConnected    = "connected"
	PeerDisconnected = "disconnected"
)

// mqttClient is the subset of paho.Client the link uses.
type mqttClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
}

// MQTTLink maps the node service onto broker topics, for bench setups where a
// gateway or test harness stands in for the phone:
//
//	<prefix>/<char>       values (retained) and notifications
//	<prefix>/<char>/set   peer writes
//	<prefix>/peer         "connected" / "disconnected"
//	<prefix>/advertising  "1" while advertising, retained
//	<prefix>/status       "online", or "offline" as the will
//
// Publishes made while the broker is unreachable are queued and replayed on
// reconnect: the newest value per topic, plus history notifications in order.
type MQTTLink struct {
	cfg    MQTTConfig
	client mqttClient
	events chan Event

	mu      sync.Mutex
	offline *offlineQueue
}

// NewMQTTLink creates a link for the given broker. It does not connect until
// Start.
func NewMQTTLink(cfg MQTTConfig) *MQTTLink {
	l := newMQTTLink(cfg, nil)
	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(l.cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(l.topic("status"), "offline", 1, true).
		SetOnConnectHandler(func(paho.Client) { l.onConnect() }).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Printf("radio: mqtt connection lost: %v", err)
		})
	l.client = paho.NewClient(opts)
	return l
}

func newMQTTLink(cfg MQTTConfig, client mqttClient) *MQTTLink {
	if cfg.ClientID == "" {
		cfg.ClientID = "air-sensor"
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "air/" + cfg.ClientID
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 64
	}
	return &MQTTLink{
		cfg:     cfg,
		client:  client,
		events:  make(chan Event, eventBuffer),
		offline: newOfflineQueue(cfg.BufferSize),
	}
}

func (l *MQTTLink) topic(parts ...string) string {
	return l.cfg.Prefix + "/" + strings.Join(parts, "/")
}

// Start connects to the broker. A broker that is merely unreachable is not an
// init failure: the client keeps retrying in the background.
func (l *MQTTLink) Start() error {
	token := l.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		log.Printf("radio: mqtt broker %s not reachable yet, retrying in background", l.cfg.Broker)
		return nil
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: connect to broker: %w", ErrInitFailure, err)
	}
	return nil
}

// onConnect subscribes and replays buffered publishes. It runs on every
// (re)connect.
func (l *MQTTLink) onConnect() {
	log.Printf("radio: mqtt connected to %s", l.cfg.Broker)
	l.client.Subscribe(l.topic("+", "set"), 1, l.onSet)
	l.client.Subscribe(l.topic("peer"), 1, l.onPeer)
	l.publish(l.topic("status"), 1, true, []byte("online"))

	l.mu.Lock()
	pending := l.offline.drain()
	l.mu.Unlock()
	if len(pending) > 0 {
		log.Printf("radio: replaying %d buffered messages", len(pending))
	}
	for _, m := range pending {
		l.publish(m.topic, m.qos, m.retained, m.payload)
	}
}

func (l *MQTTLink) onSet(_ paho.Client, msg paho.Message) {
	name, ok := strings.CutPrefix(msg.Topic(), l.cfg.Prefix+"/")
	if !ok {
		return
	}
	name, ok = strings.CutSuffix(name, "/set")
	if !ok {
		return
	}
	c, ok := CharByName(name)
	if !ok {
		log.Printf("radio: write to unknown characteristic %q ignored", name)
		return
	}
	l.emit(Event{Kind: EventWrite, Char: c, Value: append([]byte(nil), msg.Payload()...)})
}

func (l *MQTTLink) onPeer(_ paho.Client, msg paho.Message) {
	switch strings.TrimSpace(string(msg.Payload())) {
	case PeerConnected, "1":
		l.emit(Event{Kind: EventConnected})
	case PeerDisconnected, "0":
		l.emit(Event{Kind: EventDisconnected})
	default:
		log.Printf("radio: unknown peer payload %q ignored", msg.Payload())
	}
}

func (l *MQTTLink) emit(ev Event) {
	select {
	case l.events <- ev:
	default:
		log.Printf("radio: event queue full, dropping %s", ev.Kind)
	}
}

// publish sends now when connected, otherwise queues for replay. Only history
// notifications are queued in full; every other topic keeps its latest value.
func (l *MQTTLink) publish(topic string, qos byte, retained bool, payload []byte) error {
	if !l.client.IsConnected() {
		l.mu.Lock()
		l.offline.push(pendingMsg{
			topic:    topic,
			payload:  payload,
			qos:      qos,
			retained: retained,
			latest:   topic != l.topic(CharHistory.String()),
		})
		l.mu.Unlock()
		return nil
	}
	token := l.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

func (l *MQTTLink) StartAdvertising() error {
	return l.publish(l.topic("advertising"), 1, true, []byte("1"))
}

func (l *MQTTLink) StopAdvertising() error {
	return l.publish(l.topic("advertising"), 1, true, []byte("0"))
}

func (l *MQTTLink) SetValue(c Char, value []byte) error {
	return l.publish(l.topic(c.String()), 1, true, value)
}

func (l *MQTTLink) Notify(c Char, value []byte) error {
	return l.publish(l.topic(c.String()), 0, false, value)
}

func (l *MQTTLink) Events() <-chan Event { return l.events }

// Close disconnects from the broker.
func (l *MQTTLink) Close() error {
	if l.client.IsConnected() {
		l.publish(l.topic("status"), 1, true, []byte("offline"))
	}
	l.client.Disconnect(1000)
	return nil
}
