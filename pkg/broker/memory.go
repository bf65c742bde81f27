package broker

import (
	"errors"
	"sync"
)

// Message is a publish recorded by Memory.
type Message struct {
	Topic    string
	QoS      byte
	Retained bool
	Payload  []byte
}

// Memory is an in-process Client for tests and dry runs.
type Memory struct {
	mu         sync.Mutex
	connected  bool
	connectErr error
	connects   int
	published  []Message
	handlers   map[string]Handler
}

// NewMemory creates a disconnected in-memory client.
func NewMemory() *Memory {
	return &Memory{handlers: make(map[string]Handler)}
}

// Connect succeeds unless a failure was injected with FailConnect.
func (m *Memory) Connect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connects++
	if m.connectErr != nil {
		return m.connectErr
	}
	m.connected = true
	return nil
}

// FailConnect makes subsequent Connect calls fail with err; nil clears it.
func (m *Memory) FailConnect(err error) {
	m.mu.Lock()
	m.connectErr = err
	m.mu.Unlock()
}

// Drop simulates a lost session.
func (m *Memory) Drop() {
	m.mu.Lock()
	m.connected = false
	m.mu.Unlock()
}

func (m *Memory) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *Memory) Publish(topic string, qos byte, retained bool, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return ErrNotConnected
	}
	m.published = append(m.published, Message{
		Topic:    topic,
		QoS:      qos,
		Retained: retained,
		Payload:  append([]byte(nil), payload...),
	})
	return nil
}

func (m *Memory) Subscribe(topic string, _ byte, h Handler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return ErrNotConnected
	}
	m.handlers[topic] = h
	return nil
}

func (m *Memory) Disconnect() {
	m.mu.Lock()
	m.connected = false
	m.mu.Unlock()
}

// Deliver hands payload to the handler subscribed on topic.
func (m *Memory) Deliver(topic string, payload []byte) error {
	m.mu.Lock()
	h, ok := m.handlers[topic]
	m.mu.Unlock()
	if !ok {
		return errors.New("no subscriber for " + topic)
	}
	h(topic, payload)
	return nil
}

// Connects returns the number of connection attempts.
func (m *Memory) Connects() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connects
}

// Published returns the recorded publishes on topic, or all when topic is "".
func (m *Memory) Published(topic string) []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Message
	for _, msg := range m.published {
		if topic == "" || msg.Topic == topic {
			out = append(out, msg)
		}
	}
	return out
}
