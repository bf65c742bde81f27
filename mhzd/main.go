package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/itohio/gomhz/pkg/broker"
	"github.com/itohio/gomhz/pkg/clock"
	"github.com/itohio/gomhz/pkg/config"
	"github.com/itohio/gomhz/pkg/link"
	"github.com/itohio/gomhz/pkg/metrics"
	"github.com/itohio/gomhz/pkg/mhz19"
	"github.com/itohio/gomhz/pkg/session"
	"github.com/itohio/gomhz/pkg/update"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

// restartExitCode tells the supervisor a new binary is in place.
const restartExitCode = 3

// mockAddr is reported as the device address in mock mode.
const mockAddr = "127.0.0.1"

func main() {
	var (
		configFlag  = flag.String("config", "config.yaml", "Configuration file path")
		secretsFlag = flag.String("secrets", "secrets.env", "Secrets file path (dotenv)")
		portFlag    = flag.String("p", "", "Serial port override (e.g., /dev/ttyUSB0)")
		mockFlag    = flag.Bool("mock", false, "Use simulated sensor instead of serial port")
		listFlag    = flag.Bool("list", false, "List serial ports and exit")
		writeFlag   = flag.Bool("write-config", false, "Write the effective configuration (without secrets) to -config and exit")
		zeroFlag    = flag.Bool("zero", false, "Calibrate the sensor zero point (400 ppm, after 20 minutes in fresh air) and exit")
		versionFlag = flag.Bool("version", false, "Show version and exit")
	)
	flag.Parse()

	if *versionFlag {
		fmt.Printf("mhzd %s (Build: %s)\n", Version, BuildTime)
		return
	}

	if *listFlag {
		ports, err := mhz19.Ports()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return
	}

	cfg, err := config.Load(*configFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *portFlag != "" {
		cfg.Serial.Port = *portFlag
	}
	if *writeFlag {
		if err := cfg.Save(*configFlag); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Printf("Configuration written to %s\n", *configFlag)
		return
	}
	if err := cfg.LoadSecrets(*secretsFlag); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load secrets: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log := setupLogger(cfg.Log)
	log.Infof("mhzd %s starting as %s", Version, cfg.Network.Hostname)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	var code int
	if *zeroFlag {
		code = calibrateZero(ctx, cfg, *mockFlag, log)
	} else {
		code = run(ctx, cfg, *mockFlag, log)
	}
	stop()
	os.Exit(code)
}

func newSensor(cfg *config.Config, useMock bool, log *logrus.Logger) *mhz19.Sensor {
	transport := mhz19.NewSerial(cfg.Serial, log.WithField("component", "serial"))
	if useMock {
		log.Infof("Using simulated sensor (%d ppm)", cfg.Mock.BasePPM)
		transport.WithOpener(mhz19.NewMock(&cfg.Mock).Open)
	} else {
		log.Infof("Using sensor on %s", cfg.Serial.Port)
	}
	return mhz19.NewSensor(transport, log.WithField("component", "sensor"))
}

func newLink(cfg *config.Config, useMock bool, log *logrus.Logger) link.Link {
	if useMock {
		return &link.Static{Addr: mockAddr}
	}
	return link.NewInterface(cfg.Network.Interface, log.WithField("component", "link"))
}

func calibrateZero(ctx context.Context, cfg *config.Config, useMock bool, log *logrus.Logger) int {
	if err := newSensor(cfg, useMock, log).ZeroCalibration(ctx); err != nil {
		log.Errorf("Zero calibration failed: %v", err)
		return 1
	}
	log.Infof("Zero calibration command sent")
	return 0
}

func run(ctx context.Context, cfg *config.Config, useMock bool, log *logrus.Logger) int {

	m := metrics.New(log)
	if cfg.Metrics.Addr != "" {
		go func() {
			if err := m.Serve(ctx, cfg.Metrics.Addr); err != nil {
				log.Errorf("Metrics server error: %v", err)
			}
		}()
	}

	deps := session.Deps{
		Sensor: newSensor(cfg, useMock, log),
		Link:   newLink(cfg, useMock, log),
		Broker: broker.NewPaho(broker.Options{
			Broker:         cfg.MQTT.Broker,
			ClientID:       cfg.Network.Hostname,
			User:           cfg.MQTT.User,
			Password:       cfg.MQTT.Password,
			WillTopic:      cfg.StatusTopic(),
			WillQoS:        cfg.MQTT.WillQoS,
			ConnectTimeout: cfg.MQTT.ConnectTimeout,
		}, log.WithField("component", "mqtt")),
		Clock:   clock.NewSystem(),
		Metrics: m,
		Log:     log,
	}

	if cfg.Update.Addr != "" {
		up, err := update.New(cfg.Update, log.WithField("component", "update"))
		if err != nil {
			log.Errorf("Update listener disabled: %v", err)
		} else {
			deps.Updater = up
			go func() {
				if err := up.Serve(ctx, cfg.Update.Addr); err != nil {
					log.Errorf("Update listener error: %v", err)
				}
			}()
		}
	}

	s := session.New(cfg, deps)
	defer s.Close()

	if err := s.Start(ctx); err != nil {
		log.Errorf("Startup aborted: %v", err)
		return 1
	}

	err := s.Run(ctx)
	switch {
	case errors.Is(err, session.ErrRestart):
		log.Infof("Update installed, exiting for restart")
		return restartExitCode
	case errors.Is(err, context.Canceled):
		log.Infof("Shutting down")
		return 0
	default:
		log.Errorf("Loop stopped: %v", err)
		return 1
	}
}

func setupLogger(cfg config.LogConfig) *logrus.Logger {
	log := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	if cfg.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02 15:04:05",
		})
	} else {
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
	}

	return log
}
