// Package telemetry builds the JSON document published for every valid
// measurement.
package telemetry

import (
	"encoding/json"
	"fmt"
	"math"
)

// ABC state values.
const (
	ABCEnabled  = "enabled"
	ABCDisabled = "disabled"
)

// Record is one published measurement.
type Record struct {
	Current int    `json:"current"`
	Mean    int    `json:"mean"`
	Mean2   int    `json:"mean2"`
	IP      string `json:"IP"`
	Temp    *int   `json:"Temp,omitempty"`
	Range   *int   `json:"Range,omitempty"`
	ABC     string `json:"abc,omitempty"`
}

// New creates a record from a raw reading and the fast and slow means.
// Means are rounded to the nearest ppm.
func New(current int, mean, mean2 float64, ip string) Record {
	return Record{
		Current: current,
		Mean:    int(math.Round(mean)),
		Mean2:   int(math.Round(mean2)),
		IP:      ip,
	}
}

// WithTemperature attaches the sensor temperature in °C.
func (r Record) WithTemperature(c int) Record {
	r.Temp = &c
	return r
}

// WithRange attaches the detection range in ppm.
func (r Record) WithRange(ppm int) Record {
	r.Range = &ppm
	return r
}

// WithABC attaches the automatic baseline calibration state.
func (r Record) WithABC(enabled bool) Record {
	r.ABC = ABCDisabled
	if enabled {
		r.ABC = ABCEnabled
	}
	return r
}

// Encode marshals the record.
func (r Record) Encode() ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to encode telemetry: %w", err)
	}
	return data, nil
}
