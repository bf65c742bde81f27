package broker

import (
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
)

// Status payloads published retained on the status topic.
const (
	Online  = "online"
	Offline = "offline"
)

// DefaultConnectTimeout bounds a single connection attempt.
const DefaultConnectTimeout = 3 * time.Second

var (
	ErrNotConnected = errors.New("not connected to MQTT broker")
	ErrTimeout      = errors.New("MQTT operation timed out")
)

// Handler receives messages on a subscribed topic.
type Handler func(topic string, payload []byte)

// Client is the MQTT session the daemon uses.
type Client interface {
	Connect() error
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload []byte) error
	Subscribe(topic string, qos byte, h Handler) error
	Disconnect()
}

// Ensure Paho implements Client.
var _ Client = (*Paho)(nil)

// Ensure Memory implements Client.
var _ Client = (*Memory)(nil)

// Options configures a broker session.
type Options struct {
	Broker         string
	ClientID       string
	User           string
	Password       string
	WillTopic      string
	WillQoS        byte
	ConnectTimeout time.Duration
}

// Paho is a Client backed by the Eclipse Paho MQTT client. Automatic
// reconnection is disabled; the caller decides when to retry.
type Paho struct {
	client  mqtt.Client
	timeout time.Duration
	log     logrus.FieldLogger
}

// NewPaho creates a client. The last will publishes Offline, retained, on
// opts.WillTopic when the session drops without a clean disconnect.
func NewPaho(opts Options, log logrus.FieldLogger) *Paho {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}

	o := mqtt.NewClientOptions()
	o.AddBroker(opts.Broker)
	o.SetClientID(opts.ClientID)
	if opts.User != "" {
		o.SetUsername(opts.User)
		o.SetPassword(opts.Password)
	}
	if opts.WillTopic != "" {
		o.SetWill(opts.WillTopic, Offline, opts.WillQoS, true)
	}
	o.SetCleanSession(true)
	o.SetAutoReconnect(false)
	o.SetConnectRetry(false)
	o.SetConnectTimeout(opts.ConnectTimeout)
	o.SetKeepAlive(15 * time.Second)
	o.SetOnConnectHandler(func(mqtt.Client) {
		log.Infof("Connected to MQTT broker %s", opts.Broker)
	})
	o.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warnf("MQTT connection lost: %v", err)
	})

	return &Paho{
		client:  mqtt.NewClient(o),
		timeout: opts.ConnectTimeout,
		log:     log,
	}
}

// Connect performs one connection attempt.
func (p *Paho) Connect() error {
	token := p.client.Connect()
	if !token.WaitTimeout(p.timeout + time.Second) {
		return fmt.Errorf("connect: %w", ErrTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("MQTT connection failed: %w", err)
	}
	return nil
}

// IsConnected reports whether the session is up.
func (p *Paho) IsConnected() bool {
	return p.client.IsConnected()
}

// Publish sends payload to topic.
func (p *Paho) Publish(topic string, qos byte, retained bool, payload []byte) error {
	if !p.client.IsConnected() {
		return ErrNotConnected
	}
	token := p.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(p.timeout) {
		return fmt.Errorf("publish %s: %w", topic, ErrTimeout)
	}
	return token.Error()
}

// Subscribe registers h for messages on topic.
func (p *Paho) Subscribe(topic string, qos byte, h Handler) error {
	token := p.client.Subscribe(topic, qos, func(_ mqtt.Client, m mqtt.Message) {
		h(m.Topic(), m.Payload())
	})
	if !token.WaitTimeout(p.timeout) {
		return fmt.Errorf("subscribe %s: %w", topic, ErrTimeout)
	}
	return token.Error()
}

// Disconnect closes the session cleanly; the broker does not publish the
// last will.
func (p *Paho) Disconnect() {
	p.client.Disconnect(250)
}
