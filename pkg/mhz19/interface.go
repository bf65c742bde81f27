package mhz19

import (
	"context"
	"errors"
	"io"
	"time"
)

// Transport performs one command/reply exchange with the sensor.
type Transport interface {
	Transact(ctx context.Context, cmd Frame) Result
}

// Port is the subset of a serial port the transport needs.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
}

// Opener opens the named port at the given baud rate.
type Opener func(name string, baudRate int) (Port, error)

// Status classifies the outcome of a transaction.
type Status int

const (
	// StatusOK means a full, valid reply was received.
	StatusOK Status = iota
	// StatusPartial means some bytes arrived but not a full frame.
	StatusPartial
	// StatusTimeout means nothing usable arrived.
	StatusTimeout
	// StatusCorrupt means a full frame arrived but failed validation.
	StatusCorrupt
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusPartial:
		return "partial"
	case StatusTimeout:
		return "timeout"
	case StatusCorrupt:
		return "corrupt"
	default:
		return "unknown"
	}
}

var (
	ErrNoResponse = errors.New("sensor did not respond")
	ErrShortReply = errors.New("short reply from sensor")
	ErrCorrupt    = errors.New("corrupt reply from sensor")
)

// Result is the outcome of one transaction. Reply holds N received bytes.
type Result struct {
	Reply  Frame
	N      int
	Status Status
	Err    error
}

// Bytes returns the received part of the reply.
func (r Result) Bytes() []byte {
	return r.Reply[:r.N]
}

// OK reports whether a full, valid reply was received.
func (r Result) OK() bool {
	return r.Status == StatusOK
}

// Ensure Serial implements Transport.
var _ Transport = (*Serial)(nil)

// Ensure Mock implements Port.
var _ Port = (*Mock)(nil)
