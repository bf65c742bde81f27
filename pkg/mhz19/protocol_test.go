package mhz19

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandFrames(t *testing.T) {
	tests := []struct {
		name string
		got  Frame
		want Frame
	}{
		{"read CO2", ReadCO2, Frame{0xFF, 0x01, 0x86, 0x00, 0x00, 0x00, 0x00, 0x00, 0x79}},
		{"disable ABC", DisableABC, Frame{0xFF, 0x01, 0x79, 0x00, 0x00, 0x00, 0x00, 0x00, 0x86}},
		{"enable ABC", EnableABC, Frame{0xFF, 0x01, 0x79, 0xA0, 0x00, 0x00, 0x00, 0x00, 0xE6}},
		{"get ABC", GetABC, Frame{0xFF, 0x01, 0x7D, 0x00, 0x00, 0x00, 0x00, 0x00, 0x82}},
		{"zero calibration", ZeroCalibration, Frame{0xFF, 0x01, 0x87, 0x00, 0x00, 0x00, 0x00, 0x00, 0x78}},
		{"set range 5000", SetRange(5000), Frame{0xFF, 0x01, 0x99, 0x00, 0x00, 0x00, 0x13, 0x88, 0xCB}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.got)
		})
	}
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name   string
		reply  []byte
		hi, lo int
		want   int
	}{
		{"750 ppm", []byte{0xFF, 0x86, 0x02, 0xEE, 0, 0, 0, 0, 0}, CO2High, CO2Low, 750},
		{"ignores other bytes", []byte{1, 2, 0x02, 0xEE, 5, 6, 7, 8, 9}, CO2High, CO2Low, 750},
		{"max", []byte{0, 0, 0xFF, 0xFF}, 2, 3, 65535},
		{"short reply reads zero", []byte{0xFF, 0x86, 0x02}, CO2High, CO2Low, 512},
		{"empty", nil, CO2High, CO2Low, 0},
		{"negative offset", []byte{0x01, 0x02}, -1, 1, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Decode(tt.reply, tt.hi, tt.lo))
		})
	}
}

func TestValidate(t *testing.T) {
	good := NewReply(CmdReadCO2, 0x02, 0xEE, 64)

	require.NoError(t, Validate(good, CmdReadCO2))

	badStart := good
	badStart[0] = 0x00
	assert.ErrorIs(t, Validate(badStart, CmdReadCO2), ErrStartByte)

	assert.ErrorIs(t, Validate(good, CmdGetABC), ErrCommandEcho)

	badSum := good
	badSum[8]++
	assert.ErrorIs(t, Validate(badSum, CmdReadCO2), ErrChecksum)

	flipped := good
	flipped[3] = 0xEF
	assert.ErrorIs(t, Validate(flipped, CmdReadCO2), ErrChecksum)
}

func TestChecksum_KnownReply(t *testing.T) {
	// 1186 ppm, 26 °C.
	reply := Frame{0xFF, 0x86, 0x04, 0xA2, 0x42, 0x00, 0x00, 0x00, 0x92}
	assert.Equal(t, byte(0x92), Checksum(reply))
	assert.NoError(t, Validate(reply, CmdReadCO2))
}
