package mhz19

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/itohio/gomhz/pkg/config"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedPort returns one scripted chunk per Read; an exhausted script reads
// as a timeout.
type scriptedPort struct {
	reads    [][]byte
	writes   int
	closed   bool
	timeout  time.Duration
	readErr  error
	writeErr error
}

func (p *scriptedPort) Read(b []byte) (int, error) {
	if p.readErr != nil {
		return 0, p.readErr
	}
	if len(p.reads) == 0 {
		return 0, nil
	}
	n := copy(b, p.reads[0])
	p.reads = p.reads[1:]
	return n, nil
}

func (p *scriptedPort) Write(b []byte) (int, error) {
	if p.writeErr != nil {
		return 0, p.writeErr
	}
	p.writes++
	return len(b), nil
}

func (p *scriptedPort) Close() error {
	p.closed = true
	return nil
}

func (p *scriptedPort) SetReadTimeout(t time.Duration) error {
	p.timeout = t
	return nil
}

func (p *scriptedPort) ResetInputBuffer() error { return nil }

func testSerial(port Port) *Serial {
	log := logrus.New()
	log.SetLevel(logrus.DebugLevel)
	cfg := config.Default().Serial
	return NewSerial(cfg, log).WithOpener(func(string, int) (Port, error) {
		return port, nil
	})
}

func TestNewSerial_Defaults(t *testing.T) {
	s := NewSerial(config.SerialConfig{Port: "/dev/ttyUSB0"}, nil)
	assert.Equal(t, "/dev/ttyUSB0", s.port)
	assert.Equal(t, DefaultBaudRate, s.baudRate)
	assert.Equal(t, DefaultPollInterval, s.poll)
	assert.Equal(t, DefaultMaxPolls, s.maxPolls)
	assert.Equal(t, DefaultMaxSends, s.maxSends)
}

func TestSerial_FullReply(t *testing.T) {
	reply := NewReply(CmdReadCO2, 0x02, 0xEE, 64)
	port := &scriptedPort{reads: [][]byte{nil, nil, reply[:4], reply[4:]}}

	res := testSerial(port).Transact(context.Background(), ReadCO2)

	require.NoError(t, res.Err)
	assert.Equal(t, StatusOK, res.Status)
	assert.Equal(t, FrameSize, res.N)
	assert.Equal(t, reply, res.Reply)
	assert.Equal(t, 3, port.writes, "command is repeated until the sensor answers")
	assert.True(t, port.closed, "port is released after the transaction")
	assert.Equal(t, DefaultPollInterval, port.timeout)
}

func TestSerial_ResyncsOnStartByte(t *testing.T) {
	reply := NewReply(CmdReadCO2, 0x01, 0x90, 64)
	port := &scriptedPort{reads: [][]byte{{0x12, 0x34}, append([]byte{0x00}, reply[:5]...), reply[5:]}}

	res := testSerial(port).Transact(context.Background(), ReadCO2)

	require.NoError(t, res.Err)
	assert.Equal(t, reply, res.Reply)
	assert.Equal(t, 400, Decode(res.Bytes(), CO2High, CO2Low))
}

func TestSerial_ExtraBytesIgnored(t *testing.T) {
	reply := NewReply(CmdReadCO2, 0x02, 0xEE, 64)
	port := &scriptedPort{reads: [][]byte{reply[:5], append(reply[5:], reply[:3]...)}}

	res := testSerial(port).Transact(context.Background(), ReadCO2)

	require.NoError(t, res.Err)
	assert.Equal(t, reply, res.Reply)
}

func TestSerial_ShortReply(t *testing.T) {
	reply := NewReply(CmdReadCO2, 0x02, 0xEE, 64)
	port := &scriptedPort{reads: [][]byte{reply[:5]}}

	res := testSerial(port).Transact(context.Background(), ReadCO2)

	assert.Equal(t, StatusPartial, res.Status)
	assert.ErrorIs(t, res.Err, ErrShortReply)
	assert.Equal(t, 5, res.N)
	assert.Equal(t, reply[:5], res.Bytes())
	assert.True(t, port.closed)
}

func TestSerial_NoResponse(t *testing.T) {
	port := &scriptedPort{}

	res := testSerial(port).Transact(context.Background(), ReadCO2)

	assert.Equal(t, StatusTimeout, res.Status)
	assert.ErrorIs(t, res.Err, ErrNoResponse)
	assert.Equal(t, DefaultMaxSends, port.writes)
	assert.Zero(t, res.N)
}

func TestSerial_GarbageOnly(t *testing.T) {
	port := &scriptedPort{reads: [][]byte{{0x01, 0x02, 0x03}}}

	res := testSerial(port).Transact(context.Background(), ReadCO2)

	assert.Equal(t, StatusTimeout, res.Status)
	assert.ErrorIs(t, res.Err, ErrNoResponse)
}

func TestSerial_Corrupt(t *testing.T) {
	reply := NewReply(CmdReadCO2, 0x02, 0xEE, 64)
	reply[8] ^= 0xFF
	port := &scriptedPort{reads: [][]byte{reply[:]}}

	res := testSerial(port).Transact(context.Background(), ReadCO2)

	assert.Equal(t, StatusCorrupt, res.Status)
	assert.ErrorIs(t, res.Err, ErrCorrupt)
	assert.ErrorIs(t, res.Err, ErrChecksum)
	assert.Equal(t, FrameSize, res.N)
}

func TestSerial_StrayStartByte(t *testing.T) {
	reply := NewReply(CmdReadCO2, 0x02, 0xEE, 64)
	port := &scriptedPort{reads: [][]byte{{StartByte}, reply[:]}}

	res := testSerial(port).Transact(context.Background(), ReadCO2)

	require.NoError(t, res.Err)
	assert.Equal(t, StatusOK, res.Status)
	assert.Equal(t, reply, res.Reply)
	assert.Equal(t, 750, Decode(res.Bytes(), CO2High, CO2Low))
}

func TestSerial_StrayStartByteSplitReply(t *testing.T) {
	reply := NewReply(CmdReadCO2, 0x01, 0x90, 64)
	port := &scriptedPort{reads: [][]byte{append([]byte{StartByte}, reply[:8]...), reply[8:]}}

	res := testSerial(port).Transact(context.Background(), ReadCO2)

	require.NoError(t, res.Err)
	assert.Equal(t, reply, res.Reply)
}

func TestSerial_OpenError(t *testing.T) {
	openErr := errors.New("no such device")
	s := NewSerial(config.Default().Serial, nil).WithOpener(func(string, int) (Port, error) {
		return nil, openErr
	})

	res := s.Transact(context.Background(), ReadCO2)

	assert.Equal(t, StatusTimeout, res.Status)
	assert.ErrorIs(t, res.Err, openErr)
}

func TestSerial_WriteError(t *testing.T) {
	writeErr := errors.New("i/o error")
	port := &scriptedPort{writeErr: writeErr}

	res := testSerial(port).Transact(context.Background(), ReadCO2)

	assert.Equal(t, StatusTimeout, res.Status)
	assert.ErrorIs(t, res.Err, writeErr)
	assert.True(t, port.closed)
}

func TestSerial_Cancelled(t *testing.T) {
	port := &scriptedPort{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := testSerial(port).Transact(ctx, ReadCO2)

	assert.Equal(t, StatusTimeout, res.Status)
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.Zero(t, port.writes)
}

func TestSerial_BoundedTime(t *testing.T) {
	cfg := config.Default().Serial
	cfg.PollInterval = 5 * time.Millisecond
	port := &slowPort{timeout: cfg.PollInterval, first: []byte{StartByte, CmdReadCO2}}
	s := NewSerial(cfg, nil).WithOpener(func(string, int) (Port, error) { return port, nil })

	start := time.Now()
	res := s.Transact(context.Background(), ReadCO2)
	elapsed := time.Since(start)

	assert.Equal(t, StatusPartial, res.Status)
	limit := time.Duration(cfg.MaxSends+cfg.MaxPolls+2) * cfg.PollInterval
	assert.Less(t, elapsed, limit+100*time.Millisecond)
}

// slowPort delivers two bytes once and then blocks for the read timeout on
// every read, like a real UART whose sensor stopped mid-frame.
type slowPort struct {
	timeout time.Duration
	first   []byte
}

func (p *slowPort) Read(b []byte) (int, error) {
	if len(p.first) > 0 {
		n := copy(b, p.first)
		p.first = p.first[n:]
		return n, nil
	}
	time.Sleep(p.timeout)
	return 0, nil
}

func (p *slowPort) Write(b []byte) (int, error) { return len(b), nil }

func (p *slowPort) Close() error { return nil }

func (p *slowPort) SetReadTimeout(time.Duration) error { return nil }

func (p *slowPort) ResetInputBuffer() error { return nil }
