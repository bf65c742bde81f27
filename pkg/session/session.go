// Package session runs the measurement and publishing loop of the daemon.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/itohio/gomhz/pkg/broker"
	"github.com/itohio/gomhz/pkg/clock"
	"github.com/itohio/gomhz/pkg/config"
	"github.com/itohio/gomhz/pkg/control"
	"github.com/itohio/gomhz/pkg/filter"
	"github.com/itohio/gomhz/pkg/link"
	"github.com/itohio/gomhz/pkg/metrics"
	"github.com/itohio/gomhz/pkg/mhz19"
	"github.com/itohio/gomhz/pkg/telemetry"
)

// ErrRestart is returned by Step and Run once a new binary was installed.
var ErrRestart = errors.New("update installed, restart required")

// Sensor is the part of mhz19.Sensor the session uses.
type Sensor interface {
	ReadCO2(ctx context.Context) (mhz19.Measurement, error)
	SetABC(ctx context.Context, enabled bool) error
	ABC(ctx context.Context) (bool, error)
	Range(ctx context.Context) (int, error)
	SetRange(ctx context.Context, ppm int) error
}

// Updater announces installed updates.
type Updater interface {
	Pending() <-chan struct{}
}

// Deps are the collaborators of a Session. Updater and Metrics are optional.
type Deps struct {
	Sensor  Sensor
	Link    link.Link
	Broker  broker.Client
	Updater Updater
	Clock   clock.Clock
	Metrics *metrics.Metrics
	Log     logrus.FieldLogger
}

// Session owns the filter state, timers and command queue. It is not safe
// for concurrent use; all methods are called from the loop goroutine.
type Session struct {
	cfg  *config.Config
	deps Deps
	log  logrus.FieldLogger

	means     *filter.Pair
	reconnect *clock.Throttle
	measure   *clock.Interval
	commands  *control.Listener

	abc       *bool
	ppmRange  *int
	linkState link.State
}

// New creates a session.
func New(cfg *config.Config, deps Deps) *Session {
	if deps.Log == nil {
		deps.Log = logrus.StandardLogger()
	}
	if deps.Clock == nil {
		deps.Clock = clock.NewSystem()
	}
	log := deps.Log.WithField("component", "session")
	return &Session{
		cfg:       cfg,
		deps:      deps,
		log:       log,
		means:     filter.NewPair(cfg.Measurement.FastAlpha, cfg.Measurement.SlowAlpha),
		reconnect: clock.NewThrottle(cfg.MQTT.ReconnectInterval),
		measure:   clock.NewInterval(cfg.Measurement.Interval),
		commands:  control.NewListener(control.DefaultQueueSize, log),
	}
}

// Start brings up the link and the broker session and queries the sensor
// calibration state. Only a cancelled ctx is an error; a failed broker
// connection is retried by Step.
func (s *Session) Start(ctx context.Context) error {
	if err := s.ensureLink(ctx); err != nil {
		return err
	}

	s.reconnect.Allow(s.deps.Clock.Millis())
	if s.connectBroker() {
		s.reconnect.Clear()
	}

	s.refreshABC(ctx)
	if ppm := s.cfg.Measurement.Range; ppm > 0 {
		if err := s.deps.Sensor.SetRange(ctx, ppm); err != nil {
			s.log.Warnf("Failed to set detection range: %v", err)
		} else {
			s.log.Infof("Detection range set to %d ppm", ppm)
		}
	}
	if s.cfg.Measurement.Extended {
		s.refreshRange(ctx)
	}
	return nil
}

// Step performs one loop iteration.
func (s *Session) Step(ctx context.Context) error {
	if s.deps.Updater != nil {
		select {
		case <-s.deps.Updater.Pending():
			return ErrRestart
		default:
		}
	}

	if err := s.ensureLink(ctx); err != nil {
		return err
	}

	if !s.deps.Broker.IsConnected() {
		if s.reconnect.Allow(s.deps.Clock.Millis()) {
			if s.deps.Metrics != nil {
				s.deps.Metrics.Reconnect()
			}
			if s.connectBroker() {
				s.reconnect.Clear()
			}
		}
	} else {
		s.applyCommands(ctx)
	}

	now := s.deps.Clock.Millis()
	if s.measure.Due(now) {
		s.measureAndPublish(ctx)
		s.measure.Reset(now)
	}
	return nil
}

// Run calls Step every tick until ctx is done or Step fails.
func (s *Session) Run(ctx context.Context) error {
	tick := s.cfg.Loop.Tick
	if tick <= 0 {
		tick = 100 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		if err := s.Step(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close publishes the offline status and ends the broker session.
func (s *Session) Close() {
	if s.deps.Broker.IsConnected() {
		if err := s.deps.Broker.Publish(s.cfg.StatusTopic(), s.cfg.MQTT.WillQoS, true, []byte(broker.Offline)); err != nil {
			s.log.Warnf("Failed to publish offline status: %v", err)
		}
	}
	s.deps.Broker.Disconnect()
}

func (s *Session) ensureLink(ctx context.Context) error {
	connected := s.deps.Link.Connected()
	s.trackLink()
	if connected {
		return nil
	}
	s.log.Warnf("Network link down, reconnecting")
	err := s.deps.Link.Connect(ctx)
	s.trackLink()
	if err != nil {
		return fmt.Errorf("network link: %w", err)
	}
	s.log.Infof("Network link up, IP %s", s.deps.Link.IP())
	return nil
}

// trackLink logs link state changes.
func (s *Session) trackLink() {
	state := s.deps.Link.State()
	if state == s.linkState {
		return
	}
	s.log.Infof("Network link %s -> %s", s.linkState, state)
	s.linkState = state
}

// connectBroker makes one connection attempt and, on success, announces the
// device and subscribes to commands.
func (s *Session) connectBroker() bool {
	if err := s.deps.Broker.Connect(); err != nil {
		s.log.Warnf("MQTT connect failed: %v", err)
		return false
	}
	status := s.cfg.StatusTopic()
	if err := s.deps.Broker.Publish(status, s.cfg.MQTT.WillQoS, true, []byte(broker.Online)); err != nil {
		s.log.Warnf("Failed to publish online status: %v", err)
	}
	if err := s.deps.Broker.Subscribe(s.cfg.CommandTopic(), 0, s.commands.Handle); err != nil {
		s.log.Warnf("Failed to subscribe to %s: %v", s.cfg.CommandTopic(), err)
	}
	s.log.Infof("MQTT session up, status on %s", status)
	return s.deps.Broker.IsConnected()
}

func (s *Session) applyCommands(ctx context.Context) {
	for {
		cmd, ok := s.commands.Next()
		if !ok {
			return
		}
		outcome, err := control.Apply(ctx, cmd, s.deps.Sensor, s.log)
		if err != nil {
			// The sensor may or may not have applied it; only publish what it reports.
			s.log.Errorf("Command failed: %v", err)
			s.refreshABC(ctx)
			continue
		}
		switch outcome {
		case control.ABCEnabled, control.ABCDisabled:
			enabled := outcome == control.ABCEnabled
			s.abc = &enabled
			s.log.Infof("Remote command: %s", outcome)
		}
	}
}

func (s *Session) refreshABC(ctx context.Context) {
	enabled, err := s.deps.Sensor.ABC(ctx)
	if err != nil {
		s.log.Warnf("Failed to query ABC state: %v", err)
		s.abc = nil
		return
	}
	s.abc = &enabled
	s.log.Infof("ABC enabled: %v", enabled)
}

func (s *Session) refreshRange(ctx context.Context) {
	ppm, err := s.deps.Sensor.Range(ctx)
	if err != nil {
		s.log.Warnf("Failed to query detection range: %v", err)
		return
	}
	s.ppmRange = &ppm
}

func (s *Session) measureAndPublish(ctx context.Context) {
	m, err := s.deps.Sensor.ReadCO2(ctx)
	if s.deps.Metrics != nil {
		s.deps.Metrics.Transaction(m.Status.String())
	}
	if err != nil {
		s.log.Warnf("Skipping measurement: %v", err)
		return
	}

	mean, mean2 := s.means.Update(float64(m.CO2))
	s.log.Debugf("CO2 %d ppm, mean %.2f, mean2 %.2f", m.CO2, mean, mean2)
	if s.deps.Metrics != nil {
		s.deps.Metrics.ObserveCO2(m.CO2, mean, mean2)
		s.deps.Metrics.ObserveTemperature(m.Temperature)
	}

	rec := telemetry.New(m.CO2, mean, mean2, s.deps.Link.IP())
	if s.abc != nil {
		rec = rec.WithABC(*s.abc)
	}
	if s.cfg.Measurement.Extended {
		rec = rec.WithTemperature(m.Temperature)
		if s.ppmRange != nil {
			rec = rec.WithRange(*s.ppmRange)
		}
	}

	payload, err := rec.Encode()
	if err != nil {
		s.log.Errorf("%v", err)
		return
	}
	if err := s.deps.Broker.Publish(s.cfg.TelemetryTopic(), 0, false, payload); err != nil {
		s.log.Warnf("Failed to publish telemetry: %v", err)
		if s.deps.Metrics != nil {
			s.deps.Metrics.PublishError()
		}
	}
}
