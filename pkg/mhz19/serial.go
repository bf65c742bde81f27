package mhz19

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/itohio/gomhz/pkg/config"
	"github.com/sirupsen/logrus"
	"go.bug.st/serial"
)

const (
	// DefaultBaudRate is the only baud rate the MH-Z19 supports.
	DefaultBaudRate = 9600
	// DefaultPollInterval is the delay between writes and between receive polls.
	DefaultPollInterval = 50 * time.Millisecond
	// DefaultMaxPolls bounds the wait for a full reply (~500ms).
	DefaultMaxPolls = 10
	// DefaultMaxSends bounds the number of command writes without any reply.
	DefaultMaxSends = 20
)

// OpenSerial opens a UART at baudRate, 8N1.
func OpenSerial(name string, baudRate int) (Port, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(name, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", name, err)
	}
	return port, nil
}

// Ports returns the names of available serial ports.
func Ports() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}
	return ports, nil
}

// Serial talks to the sensor over a UART. The port is opened for the
// duration of a single transaction and closed afterwards; transactions are
// serialized.
type Serial struct {
	port     string
	baudRate int
	poll     time.Duration
	maxPolls int
	maxSends int
	open     Opener
	log      logrus.FieldLogger

	mu sync.Mutex
}

// NewSerial creates a UART transport from the serial configuration.
func NewSerial(cfg config.SerialConfig, log logrus.FieldLogger) *Serial {
	s := &Serial{
		port:     cfg.Port,
		baudRate: cfg.BaudRate,
		poll:     cfg.PollInterval,
		maxPolls: cfg.MaxPolls,
		maxSends: cfg.MaxSends,
		open:     OpenSerial,
		log:      log,
	}
	if s.baudRate == 0 {
		s.baudRate = DefaultBaudRate
	}
	if s.poll <= 0 {
		s.poll = DefaultPollInterval
	}
	if s.maxPolls <= 0 {
		s.maxPolls = DefaultMaxPolls
	}
	if s.maxSends <= 0 {
		s.maxSends = DefaultMaxSends
	}
	if s.log == nil {
		s.log = logrus.StandardLogger()
	}
	return s
}

// WithOpener replaces the function used to open the port.
func (s *Serial) WithOpener(open Opener) *Serial {
	s.open = open
	return s
}

// Transact writes cmd until the sensor starts answering, then waits up to
// maxPolls poll intervals for a full reply. It never blocks longer than
// (maxSends + maxPolls) poll intervals plus port open time.
func (s *Serial) Transact(ctx context.Context, cmd Frame) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	port, err := s.open(s.port, s.baudRate)
	if err != nil {
		return Result{Status: StatusTimeout, Err: err}
	}
	defer func() {
		if err := port.Close(); err != nil {
			s.log.Warnf("Error closing serial port: %v", err)
		}
	}()

	if err := port.SetReadTimeout(s.poll); err != nil {
		return Result{Status: StatusTimeout, Err: fmt.Errorf("failed to set read timeout: %w", err)}
	}
	if err := port.ResetInputBuffer(); err != nil {
		s.log.Debugf("Failed to reset input buffer: %v", err)
	}

	buf, err := s.send(ctx, port, cmd)
	if err != nil {
		return Result{Status: StatusTimeout, Err: err}
	}
	return s.receive(ctx, port, cmd, buf)
}

// send writes cmd every poll interval until at least one byte is received.
func (s *Serial) send(ctx context.Context, port Port, cmd Frame) ([]byte, error) {
	chunk := make([]byte, FrameSize)
	for sends := 0; sends < s.maxSends; sends++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		s.log.Debugf("TX: % X", cmd[:])
		if _, err := port.Write(cmd[:]); err != nil {
			return nil, fmt.Errorf("failed to send command: %w", err)
		}

		n, err := port.Read(chunk)
		if err != nil {
			return nil, fmt.Errorf("failed to read reply: %w", err)
		}
		if n > 0 {
			return append([]byte(nil), chunk[:n]...), nil
		}
	}
	return nil, fmt.Errorf("%w after %d writes", ErrNoResponse, s.maxSends)
}

// receive collects bytes until a valid frame is available or maxPolls is
// hit. A frame that fails validation is dropped up to the next start byte,
// so a stray 0xFF ahead of the reply does not hide it.
func (s *Serial) receive(ctx context.Context, port Port, cmd Frame, buf []byte) Result {
	chunk := make([]byte, FrameSize)
	buf = resync(buf)
	var corrupt *Result
	polls := 0
	for {
		for len(buf) < FrameSize {
			if polls >= s.maxPolls || ctx.Err() != nil {
				if corrupt != nil {
					return *corrupt
				}
				return s.short(buf)
			}
			polls++
			n, err := port.Read(chunk)
			if err != nil {
				res := s.short(buf)
				res.Err = fmt.Errorf("failed to read reply: %w", err)
				return res
			}
			buf = resync(append(buf, chunk[:n]...))
		}

		var res Result
		res.N = copy(res.Reply[:], buf)
		s.log.Debugf("RX: % X", res.Reply[:])

		err := Validate(res.Reply, cmd[2])
		if err == nil {
			res.Status = StatusOK
			return res
		}
		res.Status = StatusCorrupt
		res.Err = fmt.Errorf("%w: %w", ErrCorrupt, err)
		corrupt = &res

		buf = resync(buf[1:])
		if len(buf) == 0 {
			return res
		}
	}
}

func (s *Serial) short(buf []byte) Result {
	var res Result
	res.N = copy(res.Reply[:], buf)
	if res.N == 0 {
		res.Status = StatusTimeout
		res.Err = ErrNoResponse
		return res
	}
	s.log.Debugf("RX (short): % X", res.Bytes())
	res.Status = StatusPartial
	res.Err = fmt.Errorf("%w: %d of %d bytes", ErrShortReply, res.N, FrameSize)
	return res
}

// resync drops bytes preceding the first start byte. Without a start byte
// everything buffered is garbage.
func resync(buf []byte) []byte {
	i := bytes.IndexByte(buf, StartByte)
	if i < 0 {
		return buf[:0]
	}
	return buf[i:]
}
