// Package control decodes remote commands received over MQTT and applies
// them to the sensor.
package control

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Default is the value of a command field that was missing or not a string.
const Default = "default"

// Recognized field values.
const (
	ABCEnable  = "enable"
	ABCDisable = "disable"
	ZeroStart  = "start"
)

// Command is a decoded remote command:
//
//	{"abc": "enable"|"disable", "zero": "start"}
type Command struct {
	ABC  string
	Zero string
}

// Outcome describes what applying a command changed.
type Outcome int

const (
	Unchanged Outcome = iota
	ABCEnabled
	ABCDisabled
)

func (o Outcome) String() string {
	switch o {
	case ABCEnabled:
		return "abc enabled"
	case ABCDisabled:
		return "abc disabled"
	default:
		return "unchanged"
	}
}

// Calibrator is the part of the sensor commands act on.
type Calibrator interface {
	SetABC(ctx context.Context, enabled bool) error
}

// Parse decodes payload. Fields that are missing or not strings are set to
// Default. The returned command is always usable; the error only reports
// that payload was not a JSON object.
func Parse(payload []byte) (Command, error) {
	cmd := Command{ABC: Default, Zero: Default}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return cmd, fmt.Errorf("invalid command payload: %w", err)
	}
	cmd.ABC = stringField(fields, "abc")
	cmd.Zero = stringField(fields, "zero")
	return cmd, nil
}

func stringField(fields map[string]json.RawMessage, key string) string {
	raw, ok := fields[key]
	if !ok {
		return Default
	}
	var s *string
	if err := json.Unmarshal(raw, &s); err != nil || s == nil {
		return Default
	}
	return *s
}

// Apply carries out cmd. Unrecognized values leave the sensor untouched.
func Apply(ctx context.Context, cmd Command, c Calibrator, log logrus.FieldLogger) (Outcome, error) {
	outcome := Unchanged

	switch cmd.ABC {
	case ABCEnable:
		if err := c.SetABC(ctx, true); err != nil {
			return Unchanged, fmt.Errorf("enable ABC: %w", err)
		}
		outcome = ABCEnabled
	case ABCDisable:
		if err := c.SetABC(ctx, false); err != nil {
			return Unchanged, fmt.Errorf("disable ABC: %w", err)
		}
		outcome = ABCDisabled
	case Default:
	default:
		log.Debugf("Ignoring abc=%q", cmd.ABC)
	}

	// Zero-point calibration is not triggered remotely.
	if cmd.Zero == ZeroStart {
		log.Infof("Zero calibration requested, ignored")
	}

	return outcome, nil
}
