package emitter

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"isp-orchestrator/camera"
	"isp-orchestrator/config"

	"go.uber.org/zap"
)

const publishTimeout = 2 * time.Second

// MQTTEmitter publishes manager events to an MQTT broker. It is an
// EventSink: Notify only queues, a separate goroutine publishes.
type MQTTEmitter struct {
	cfg            config.MQTTConfig
	connectTimeout time.Duration
	logger         *zap.Logger
	newClient      func(*mqtt.ClientOptions) mqtt.Client

	client mqtt.Client
	events chan camera.Event

	mu        sync.RWMutex
	published map[string]uint64
	errors    uint64
	dropped   uint64
	connected bool
}

// NewMQTTEmitter creates an emitter buffering up to buffer events
func NewMQTTEmitter(cfg config.MQTTConfig, connectTimeout time.Duration, buffer int, logger *zap.Logger) *MQTTEmitter {
	if buffer <= 0 {
		buffer = 64
	}
	return &MQTTEmitter{
		cfg:            cfg,
		connectTimeout: connectTimeout,
		logger:         logger.With(zap.String("component", "mqtt_emitter")),
		newClient:      mqtt.NewClient,
		events:         make(chan camera.Event, buffer),
		published:      make(map[string]uint64),
	}
}

// Connect establishes the broker connection. The client reconnects on its
// own after a lost connection.
func (e *MQTTEmitter) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", e.cfg.Broker))
	opts.SetClientID(e.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		e.setConnected(true)
		e.logger.Info("MQTT connection established",
			zap.String("broker", e.cfg.Broker),
			zap.String("client_id", e.cfg.ClientID))
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		e.setConnected(false)
		e.logger.Warn("MQTT connection lost, waiting for reconnect",
			zap.String("broker", e.cfg.Broker),
			zap.Error(err))
	}

	e.client = e.newClient(opts)
	e.logger.Info("Connecting to MQTT broker", zap.String("broker", e.cfg.Broker))

	timeout := e.connectTimeout
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < timeout {
		timeout = time.Until(deadline)
	}
	token := e.client.Connect()
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}

	e.setConnected(true)
	return nil
}

// Notify queues ev for publishing and drops it when the queue is full
func (e *MQTTEmitter) Notify(ev camera.Event) {
	select {
	case e.events <- ev:
	default:
		e.mu.Lock()
		e.dropped++
		e.mu.Unlock()
		e.logger.Warn("Dropping event, queue is full", zap.String("type", string(ev.Type)))
	}
}

// Run publishes queued events until ctx is done
func (e *MQTTEmitter) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-e.events:
			if err := e.Publish(ev); err != nil {
				e.logger.Warn("Failed to publish event",
					zap.String("type", string(ev.Type)),
					zap.Error(err))
			}
		}
	}
}

// Publish sends ev to <topic>/<event type>
func (e *MQTTEmitter) Publish(ev camera.Event) error {
	if !e.isConnected() {
		e.countError()
		return fmt.Errorf("mqtt not connected")
	}

	topic := fmt.Sprintf("%s/%s", e.cfg.Topic, ev.Type)
	payload, err := json.Marshal(ev)
	if err != nil {
		e.countError()
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	token := e.client.Publish(topic, e.cfg.QoS, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		e.countError()
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		e.countError()
		return fmt.Errorf("publish failed: %w", err)
	}

	e.mu.Lock()
	e.published[topic]++
	e.mu.Unlock()

	e.logger.Debug("Event published",
		zap.String("topic", topic),
		zap.String("event_id", ev.ID),
		zap.Int("size", len(payload)))
	return nil
}

// Disconnect closes the broker connection
func (e *MQTTEmitter) Disconnect() {
	if e.client != nil && e.client.IsConnected() {
		e.client.Disconnect(250)
		e.logger.Info("MQTT disconnected")
	}
	e.setConnected(false)
}

// Stats contains emitter statistics
type Stats struct {
	Connected bool              `json:"connected"`
	Published map[string]uint64 `json:"published"`
	Errors    uint64            `json:"errors"`
	Dropped   uint64            `json:"dropped"`
}

func (e *MQTTEmitter) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	published := make(map[string]uint64, len(e.published))
	for k, v := range e.published {
		published[k] = v
	}
	return Stats{
		Connected: e.connected,
		Published: published,
		Errors:    e.errors,
		Dropped:   e.dropped,
	}
}

func (e *MQTTEmitter) setConnected(c bool) {
	e.mu.Lock()
	e.connected = c
	e.mu.Unlock()
}

func (e *MQTTEmitter) isConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected
}

func (e *MQTTEmitter) countError() {
	e.mu.Lock()
	e.errors++
	e.mu.Unlock()
}
