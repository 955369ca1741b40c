// Package mqtt mirrors device events onto an MQTT broker so other systems
// can follow the relay without opening a websocket.
package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/sensor-relay/backend/internal/config"
	"github.com/sensor-relay/backend/internal/model"
)

const (
	defaultConnectTimeout    = 10 * time.Second
	defaultKeepAlive         = 60 * time.Second
	defaultDisconnectQuiesce = 1000 // milliseconds
)

// ErrConnectionFailed is returned when the broker cannot be reached at startup.
var ErrConnectionFailed = errors.New("mqtt connection failed")

// publisher is the subset of pahomqtt.Client the bridge publishes through.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
}

// Bridge is a relay.EventSink that publishes every device event.
type Bridge struct {
	pub    publisher
	client pahomqtt.Client
	prefix string
	qos    byte
	log    zerolog.Logger

	wg sync.WaitGroup
}

// Connect dials the broker described by cfg and returns a ready Bridge.
func Connect(cfg config.MQTTConfig, log zerolog.Logger) (*Bridge, error) {
	opts := buildClientOptions(cfg)

	opts.SetOnConnectHandler(func(c pahomqtt.Client) {
		log.Info().Str("broker", cfg.Broker).Msg("mqtt connected")
		c.Publish(bridgeStatusTopic(cfg.TopicPrefix), 1, true, "online")
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		log.Warn().Err(err).Str("broker", cfg.Broker).Msg("mqtt connection lost")
	})

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	b := newBridge(client, cfg.TopicPrefix, byte(cfg.QoS), log)
	b.client = client
	return b, nil
}

func newBridge(pub publisher, prefix string, qos byte, log zerolog.Logger) *Bridge {
	return &Bridge{
		pub:    pub,
		prefix: prefix,
		qos:    qos,
		log:    log,
	}
}

func buildClientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetKeepAlive(defaultKeepAlive)

	// The broker marks the bridge offline if it vanishes without Close.
	opts.SetWill(bridgeStatusTopic(cfg.TopicPrefix), "offline", 1, true)

	return opts
}

// Record publishes ev to <prefix>/devices/<chipId>/<kind>. Registration,
// disconnect and eviction also update the retained online topic.
func (b *Bridge) Record(ev model.DeviceEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		b.log.Error().Err(err).Str("chip_id", ev.ChipID).Msg("failed to encode event for mqtt")
		return
	}
	b.publish(eventTopic(b.prefix, ev.ChipID, ev.Kind), b.qos, false, payload)

	if ev.Kind != model.EventStatus {
		b.publish(onlineTopic(b.prefix, ev.ChipID), 1, true, onlinePayload(ev.Online()))
	}
}

// publish hands the message to paho and checks the outcome on another
// goroutine so the relay never waits on the broker.
func (b *Bridge) publish(topic string, qos byte, retained bool, payload []byte) {
	token := b.pub.Publish(topic, qos, retained, payload)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		<-token.Done()
		if err := token.Error(); err != nil {
			b.log.Warn().Err(err).Str("topic", topic).Msg("mqtt publish failed")
		}
	}()
}

// Close marks the bridge offline and disconnects from the broker.
func (b *Bridge) Close() {
	if b.client != nil && b.client.IsConnected() {
		token := b.client.Publish(bridgeStatusTopic(b.prefix), 1, true, "offline")
		token.WaitTimeout(time.Second)
		b.client.Disconnect(defaultDisconnectQuiesce)
	}
	b.wg.Wait()
}

func eventTopic(prefix, chipID string, kind model.EventKind) string {
	return fmt.Sprintf("%s/devices/%s/%s", prefix, chipID, kind)
}

func onlineTopic(prefix, chipID string) string {
	return fmt.Sprintf("%s/devices/%s/online", prefix, chipID)
}

func bridgeStatusTopic(prefix string) string {
	return prefix + "/bridge/status"
}

func onlinePayload(online bool) []byte {
	if online {
		return []byte("true")
	}
	return []byte("false")
}
