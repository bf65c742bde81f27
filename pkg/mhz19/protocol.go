package mhz19

import (
	"errors"
	"fmt"
)

// FrameSize is the length of every command and reply frame.
const FrameSize = 9

// Frame is a raw MH-Z19 command or reply frame.
// Layout: start byte, sensor number (or command echo in replies), payload, checksum.
type Frame [FrameSize]byte

const (
	// StartByte opens every frame.
	StartByte byte = 0xFF
	// SensorNumber addresses the (only) sensor on the bus.
	SensorNumber byte = 0x01
)

// Command bytes.
const (
	CmdReadCO2         byte = 0x86
	CmdSetABC          byte = 0x79
	CmdGetABC          byte = 0x7D
	CmdZeroCalibration byte = 0x87
	CmdSetRange        byte = 0x99
	CmdGetRange        byte = 0x9B
)

// Reply byte offsets.
const (
	CO2High           = 2
	CO2Low            = 3
	TemperatureOffset = 4
	StatusOffset      = 5
	RangeHigh         = 4
	RangeLow          = 5
	ABCOffset         = 7
)

// abcEnable is the argument of CmdSetABC that turns auto-calibration on.
const abcEnable byte = 0xA0

// temperatureBias is added by the sensor to the reported temperature.
const temperatureBias = 40

// Prebuilt command frames.
var (
	ReadCO2         = NewCommand(CmdReadCO2)
	EnableABC       = NewCommand(CmdSetABC, abcEnable)
	DisableABC      = NewCommand(CmdSetABC)
	GetABC          = NewCommand(CmdGetABC)
	GetRange        = NewCommand(CmdGetRange)
	ZeroCalibration = NewCommand(CmdZeroCalibration)
)

var (
	ErrStartByte   = errors.New("reply does not start with 0xFF")
	ErrCommandEcho = errors.New("reply does not echo the command")
	ErrChecksum    = errors.New("reply checksum mismatch")
)

// NewCommand builds a command frame. Up to five argument bytes are placed
// after the command byte; the checksum is filled in.
func NewCommand(cmd byte, args ...byte) Frame {
	f := Frame{StartByte, SensorNumber, cmd}
	copy(f[3:8], args)
	f[8] = Checksum(f)
	return f
}

// SetRange builds the command selecting the detection range in ppm.
func SetRange(ppm int) Frame {
	return NewCommand(CmdSetRange, 0, 0, 0, byte(ppm>>8), byte(ppm))
}

// Checksum computes the frame checksum: the two's complement of the sum of
// bytes 1 through 7.
func Checksum(f Frame) byte {
	var sum byte
	for _, b := range f[1:8] {
		sum += b
	}
	return 0xFF - sum + 1
}

// Decode combines the bytes at hi and lo into a 16-bit value. Offsets beyond
// the reply read as zero.
func Decode(reply []byte, hi, lo int) int {
	return int(at(reply, hi))*256 + int(at(reply, lo))
}

func at(b []byte, i int) byte {
	if i < 0 || i >= len(b) {
		return 0
	}
	return b[i]
}

// Validate checks that reply is a well-formed answer to cmd.
func Validate(reply Frame, cmd byte) error {
	if reply[0] != StartByte {
		return fmt.Errorf("%w: got 0x%02X", ErrStartByte, reply[0])
	}
	if reply[1] != cmd {
		return fmt.Errorf("%w: want 0x%02X, got 0x%02X", ErrCommandEcho, cmd, reply[1])
	}
	if sum := Checksum(reply); sum != reply[8] {
		return fmt.Errorf("%w: want 0x%02X, got 0x%02X", ErrChecksum, sum, reply[8])
	}
	return nil
}

// NewReply builds a reply frame to cmd carrying payload in bytes 2 through 7.
func NewReply(cmd byte, payload ...byte) Frame {
	f := Frame{StartByte, cmd}
	copy(f[2:8], payload)
	f[8] = Checksum(f)
	return f
}
