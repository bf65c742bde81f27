package mhz19

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Measurement is one CO2 reading. Valid is false when the reply was short,
// missing or failed validation; CO2 then holds whatever could be decoded.
type Measurement struct {
	CO2         int
	Temperature int
	Status      Status
	Valid       bool
}

// Sensor issues MH-Z19 commands over a Transport.
type Sensor struct {
	t   Transport
	log logrus.FieldLogger
}

// NewSensor creates a sensor using transport t.
func NewSensor(t Transport, log logrus.FieldLogger) *Sensor {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Sensor{t: t, log: log}
}

// ReadCO2 requests a CO2 reading. A non-nil error accompanies every
// measurement that is not Valid.
func (s *Sensor) ReadCO2(ctx context.Context) (Measurement, error) {
	res := s.t.Transact(ctx, ReadCO2)
	m := Measurement{
		CO2:    Decode(res.Bytes(), CO2High, CO2Low),
		Status: res.Status,
		Valid:  res.OK(),
	}
	if res.N > TemperatureOffset {
		m.Temperature = int(res.Reply[TemperatureOffset]) - temperatureBias
	}
	if !m.Valid {
		return m, fmt.Errorf("read CO2: %w", res.Err)
	}
	return m, nil
}

// SetABC turns the sensor's automatic baseline calibration on or off. The
// change is only reported as applied when the sensor acknowledges it.
func (s *Sensor) SetABC(ctx context.Context, enabled bool) error {
	cmd := DisableABC
	if enabled {
		cmd = EnableABC
	}
	res := s.t.Transact(ctx, cmd)
	if !res.OK() {
		return fmt.Errorf("set ABC: %w", res.Err)
	}
	return nil
}

// ABC reports whether automatic baseline calibration is enabled.
func (s *Sensor) ABC(ctx context.Context) (bool, error) {
	res := s.t.Transact(ctx, GetABC)
	if !res.OK() {
		return false, fmt.Errorf("get ABC: %w", res.Err)
	}
	return res.Reply[ABCOffset] == 1, nil
}

// Range returns the configured detection range in ppm.
func (s *Sensor) Range(ctx context.Context) (int, error) {
	res := s.t.Transact(ctx, GetRange)
	if !res.OK() {
		return 0, fmt.Errorf("get range: %w", res.Err)
	}
	return Decode(res.Bytes(), RangeHigh, RangeLow), nil
}

// SetRange selects the detection range in ppm (typically 2000 or 5000).
func (s *Sensor) SetRange(ctx context.Context, ppm int) error {
	if ppm <= 0 || ppm > 0xFFFF {
		return fmt.Errorf("set range: invalid range %d", ppm)
	}
	res := s.t.Transact(ctx, SetRange(ppm))
	if res.OK() || errors.Is(res.Err, ErrNoResponse) {
		return nil
	}
	return fmt.Errorf("set range: %w", res.Err)
}

// ZeroCalibration calibrates the current concentration as 400 ppm. The
// sensor must have been in fresh air for at least 20 minutes. The sensor
// does not acknowledge this command.
func (s *Sensor) ZeroCalibration(ctx context.Context) error {
	res := s.t.Transact(ctx, ZeroCalibration)
	if res.OK() || errors.Is(res.Err, ErrNoResponse) {
		return nil
	}
	return fmt.Errorf("zero calibration: %w", res.Err)
}
