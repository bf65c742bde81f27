package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// Environment variables that override credentials and identity.
const (
	EnvBroker       = "MQTT_BROKER"
	EnvUser         = "MQTT_USER"
	EnvPassword     = "MQTT_PASSWORD"
	EnvHostname     = "MHZ_HOSTNAME"
	EnvInterface    = "MHZ_INTERFACE"
	EnvUpdateToken  = "UPDATE_TOKEN"
	EnvSerialDevice = "MHZ_SERIAL_PORT"
)

// LoadSecrets reads a dotenv secrets file into the process environment and
// applies the credential overrides to c. A missing file is not an error;
// variables already present in the environment take precedence over the file.
func (c *Config) LoadSecrets(filename string) error {
	if filename != "" {
		if err := godotenv.Load(filename); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to load secrets file: %w", err)
		}
	}
	c.applyEnv()
	return nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvBroker); v != "" {
		c.MQTT.Broker = v
	}
	if v := os.Getenv(EnvUser); v != "" {
		c.MQTT.User = v
	}
	if v := os.Getenv(EnvPassword); v != "" {
		c.MQTT.Password = v
	}
	if v := os.Getenv(EnvHostname); v != "" {
		c.Network.Hostname = v
	}
	if v := os.Getenv(EnvInterface); v != "" {
		c.Network.Interface = v
	}
	if v := os.Getenv(EnvUpdateToken); v != "" {
		c.Update.Token = v
	}
	if v := os.Getenv(EnvSerialDevice); v != "" {
		c.Serial.Port = v
	}
}
