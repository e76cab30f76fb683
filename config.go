package main

import (
	"fmt"
	"os"
	"strconv"

	yaml "gopkg.in/yaml.v2"
)

// Config is the full simulator configuration. Values resolve in three steps:
// built-in defaults, then an optional YAML file, then environment overrides.
// The environment variable names match the original deployment so existing
// compose files keep working.
type Config struct {
	Device struct {
		Flag            string `yaml:"flag"`
		Serial          string `yaml:"serial"`
		Brand           string `yaml:"brand"`
		Model           string `yaml:"model"`
		ProtocolVersion string `yaml:"protocol_version"`
		Firmware        string `yaml:"firmware"`
		ManufactureDate string `yaml:"manufacture_date"`
	} `yaml:"device"`

	MQTT struct {
		Broker   string `yaml:"broker"`
		Username string `yaml:"username"`
		Password string `yaml:"password"`
		QoS      int    `yaml:"qos"`
	} `yaml:"mqtt"`

	Topics struct {
		ToServer   string `yaml:"to_server"`
		FromServer string `yaml:"from_server"`
	} `yaml:"topics"`

	Telemetry struct {
		Signal  int `yaml:"signal"`
		CPUTemp int `yaml:"cpu_temp"`
	} `yaml:"telemetry"`

	HeartbeatInterval int    `yaml:"heartbeat_interval"` // seconds
	APIPort           int    `yaml:"api_port"`
	TrafficLog        string `yaml:"traffic_log"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.Device.Flag = "XYZ"
	cfg.Device.Serial = "0123456789ABCDE"
	cfg.Device.Brand = "SimulatorBrand"
	cfg.Device.Model = "SimV1.0"
	cfg.Device.ProtocolVersion = "1.0.0"
	cfg.Device.Firmware = "1.01"
	cfg.Device.ManufactureDate = "2023-05-23"
	cfg.MQTT.Broker = "tcp://localhost:1883"
	cfg.MQTT.QoS = 1
	cfg.Topics.ToServer = "mass/device/to_server"
	cfg.Topics.FromServer = "mass/server/to_device"
	cfg.Telemetry.Signal = 13
	cfg.Telemetry.CPUTemp = 17
	cfg.HeartbeatInterval = 60
	cfg.APIPort = 8000
	return cfg
}

// LoadConfig resolves the configuration. path may be empty; a missing file is
// only an error when it was explicitly requested.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

// applyEnv overlays environment variables onto the resolved config.
func (cfg *Config) applyEnv() {
	setString(&cfg.Device.Flag, "DEVICE_FLAG")
	setString(&cfg.Device.Serial, "DEVICE_SERIAL")
	setString(&cfg.Device.Brand, "DEVICE_BRAND")
	setString(&cfg.Device.Model, "DEVICE_MODEL")
	setString(&cfg.Device.Firmware, "FIRMWARE")
	setString(&cfg.MQTT.Broker, "MQTT_BROKER")
	setString(&cfg.MQTT.Username, "MQTT_USERNAME")
	setString(&cfg.MQTT.Password, "MQTT_PASSWORD")
	setInt(&cfg.MQTT.QoS, "MQTT_QOS")
	setString(&cfg.Topics.ToServer, "TOPIC_TO_SERVER")
	setString(&cfg.Topics.FromServer, "TOPIC_FROM_SERVER")
	setInt(&cfg.HeartbeatInterval, "HEARTBEAT_INTERVAL")
	setInt(&cfg.APIPort, "API_PORT")
	setString(&cfg.TrafficLog, "TRAFFIC_LOG")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
