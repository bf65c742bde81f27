package main

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/gomhz/pkg/config"
	"github.com/itohio/gomhz/pkg/link"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Serial.PollInterval = time.Millisecond
	cfg.Mock.NoisePPM = 0
	return cfg
}

func TestNewLink_MockIsStatic(t *testing.T) {
	l := newLink(testConfig(), true, logrus.New())

	require.IsType(t, &link.Static{}, l)
	assert.True(t, l.Connected())
	assert.Equal(t, mockAddr, l.IP())
	assert.Equal(t, link.Connected, l.State())
}

func TestNewLink_Interface(t *testing.T) {
	cfg := testConfig()
	cfg.Network.Interface = "wlan0"

	assert.IsType(t, &link.Interface{}, newLink(cfg, false, logrus.New()))
}

func TestNewSensor_Mock(t *testing.T) {
	s := newSensor(testConfig(), true, logrus.New())

	m, err := s.ReadCO2(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 600, m.CO2)
	assert.Equal(t, 24, m.Temperature)
}

func TestCalibrateZero_Mock(t *testing.T) {
	assert.Equal(t, 0, calibrateZero(context.Background(), testConfig(), true, logrus.New()))
}

func TestSetupLogger(t *testing.T) {
	log := setupLogger(config.LogConfig{Level: "debug", Format: "json"})
	assert.Equal(t, logrus.DebugLevel, log.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, log.Formatter)

	log = setupLogger(config.LogConfig{Level: "bogus"})
	assert.Equal(t, logrus.InfoLevel, log.GetLevel())
}
