package mhz19

import (
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/itohio/gomhz/pkg/config"
)

// mockChunk is how many bytes the simulated UART delivers per read.
const mockChunk = 4

var errPortClosed = errors.New("port closed")

// Mock simulates an MH-Z19 sensor on the other end of a serial port. It
// answers read CO2, ABC and range commands and can inject short or corrupt
// replies.
type Mock struct {
	cfg *config.MockConfig

	mu       sync.Mutex
	rng      *rand.Rand
	rx       []byte
	open     bool
	abc      bool
	ppmRange int
	writes   int
}

// NewMock creates a simulated sensor. A nil cfg uses a quiet 600 ppm sensor.
func NewMock(cfg *config.MockConfig) *Mock {
	if cfg == nil {
		cfg = &config.MockConfig{
			BasePPM:     600,
			Temperature: 24,
		}
	}
	return &Mock{
		cfg:      cfg,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		abc:      true,
		ppmRange: 5000,
	}
}

// Open implements Opener; every transaction reopens the same simulated sensor.
func (m *Mock) Open(name string, baudRate int) (Port, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.open = true
	m.rx = m.rx[:0]
	return m, nil
}

// Write accepts a command frame and queues the reply.
func (m *Mock) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.open {
		return 0, errPortClosed
	}
	m.writes++
	if len(p) != FrameSize {
		return len(p), nil
	}
	var cmd Frame
	copy(cmd[:], p)
	if cmd[0] != StartByte || Checksum(cmd) != cmd[8] {
		// The sensor ignores frames it cannot parse.
		return len(p), nil
	}

	reply, ok := m.respond(cmd)
	if !ok {
		return len(p), nil
	}
	out := reply[:]
	if m.cfg.CorruptRate > 0 && m.rng.Float64() < m.cfg.CorruptRate {
		reply[8] ^= 0x5A
	}
	if m.cfg.ShortReplyRate > 0 && m.rng.Float64() < m.cfg.ShortReplyRate {
		out = reply[:FrameSize/2]
	}
	m.rx = append(m.rx, out...)
	return len(p), nil
}

// Read returns up to a few queued reply bytes; with nothing queued it
// returns immediately, like a read that hit its timeout.
func (m *Mock) Read(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.open {
		return 0, errPortClosed
	}
	n := min(len(p), len(m.rx), mockChunk)
	copy(p, m.rx[:n])
	m.rx = m.rx[n:]
	return n, nil
}

// Close releases the simulated port.
func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.open = false
	return nil
}

// SetReadTimeout is a no-op.
func (m *Mock) SetReadTimeout(time.Duration) error { return nil }

// ResetInputBuffer discards pending reply bytes.
func (m *Mock) ResetInputBuffer() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rx = m.rx[:0]
	return nil
}

// ABC reports the simulated auto-calibration state.
func (m *Mock) ABC() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.abc
}

// Writes returns how many frames were written to the sensor.
func (m *Mock) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

func (m *Mock) respond(cmd Frame) (Frame, bool) {
	switch cmd[2] {
	case CmdReadCO2:
		ppm := m.cfg.BasePPM
		if m.cfg.NoisePPM > 0 {
			ppm += m.rng.Intn(2*m.cfg.NoisePPM+1) - m.cfg.NoisePPM
		}
		ppm = max(ppm, 0)
		return NewReply(CmdReadCO2, byte(ppm>>8), byte(ppm), byte(m.cfg.Temperature+temperatureBias)), true
	case CmdSetABC:
		m.abc = cmd[3] == abcEnable
		return NewReply(CmdSetABC, 1), true
	case CmdGetABC:
		var on byte
		if m.abc {
			on = 1
		}
		return NewReply(CmdGetABC, 0, 0, 0, 0, 0, on), true
	case CmdGetRange:
		return NewReply(CmdGetRange, 0, 0, byte(m.ppmRange>>8), byte(m.ppmRange)), true
	case CmdSetRange:
		m.ppmRange = int(cmd[6])<<8 | int(cmd[7])
		return NewReply(CmdSetRange, 1), true
	case CmdZeroCalibration:
		return Frame{}, false
	default:
		return Frame{}, false
	}
}
