package control

import (
	"github.com/sirupsen/logrus"
)

// DefaultQueueSize is how many unprocessed commands Listener keeps.
const DefaultQueueSize = 8

// Listener buffers commands received on the broker's goroutine until the
// control loop picks them up.
type Listener struct {
	queue chan Command
	log   logrus.FieldLogger
}

// NewListener creates a listener holding up to size commands.
func NewListener(size int, log logrus.FieldLogger) *Listener {
	if size <= 0 {
		size = DefaultQueueSize
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Listener{
		queue: make(chan Command, size),
		log:   log,
	}
}

// Handle decodes a message and queues it without blocking. It matches
// broker.Handler.
func (l *Listener) Handle(topic string, payload []byte) {
	cmd, err := Parse(payload)
	if err != nil {
		l.log.Debugf("Command on %s: %v", topic, err)
	}
	select {
	case l.queue <- cmd:
	default:
		l.log.Warnf("Command queue full, dropping command from %s", topic)
	}
}

// Next returns the oldest queued command, if any.
func (l *Listener) Next() (Command, bool) {
	select {
	case cmd := <-l.queue:
		return cmd, true
	default:
		return Command{}, false
	}
}
