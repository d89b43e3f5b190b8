package config

import (
	"fmt"
	log "log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"multizone/internal/device"
	"multizone/internal/ipc"
)

// Config holds daemon settings. Environment variables (optionally from a
// .env file) fill it; command-line flags override it afterwards.
type Config struct {
	Port           string
	Baud           int
	ArduinoCLI     string
	FQBN           string
	SketchDir      string
	SkipFirmware   bool
	ConnectTimeout time.Duration
	AutoConnect    bool

	Socket      string
	BusURL      string
	BusInterval time.Duration
	CuePath     string
	LogLevel    string
}

func Default() Config {
	return Config{
		Baud:           device.DefaultBaud,
		ArduinoCLI:     "arduino-cli",
		FQBN:           "arduino:avr:uno",
		SketchDir:      "firmware",
		ConnectTimeout: 5 * time.Minute,
		Socket:         ipc.DefaultSocketPath,
		BusInterval:    500 * time.Millisecond,
		LogLevel:       "info",
	}
}

// Load reads envFile if it exists, then the MULTIZONE_* environment.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	cfg := Default()
	var err error

	str(&cfg.Port, "MULTIZONE_PORT")
	str(&cfg.ArduinoCLI, "MULTIZONE_ARDUINO_CLI")
	str(&cfg.FQBN, "MULTIZONE_FQBN")
	str(&cfg.SketchDir, "MULTIZONE_SKETCH_DIR")
	str(&cfg.Socket, "MULTIZONE_SOCKET")
	str(&cfg.BusURL, "MULTIZONE_BUS_URL")
	str(&cfg.CuePath, "MULTIZONE_CUE")
	str(&cfg.LogLevel, "LOG_LEVEL")

	if err = integer(&cfg.Baud, "MULTIZONE_BAUD"); err != nil {
		return Config{}, err
	}
	if err = boolean(&cfg.SkipFirmware, "MULTIZONE_SKIP_FIRMWARE"); err != nil {
		return Config{}, err
	}
	if err = boolean(&cfg.AutoConnect, "MULTIZONE_AUTO_CONNECT"); err != nil {
		return Config{}, err
	}
	if err = duration(&cfg.ConnectTimeout, "MULTIZONE_CONNECT_TIMEOUT"); err != nil {
		return Config{}, err
	}
	if err = duration(&cfg.BusInterval, "MULTIZONE_BUS_INTERVAL"); err != nil {
		return Config{}, err
	}

	log.Debug("Loaded config", "port", cfg.Port, "baud", cfg.Baud, "fqbn", cfg.FQBN, "socket", cfg.Socket)
	return cfg, nil
}

// Provisioner returns the firmware provisioner, or nil when firmware upload
// is disabled.
func (c Config) Provisioner() device.Provisioner {
	if c.SkipFirmware {
		return nil
	}
	return device.NewArduinoCLI(c.ArduinoCLI, c.FQBN, c.SketchDir)
}

// Link returns the device link settings.
func (c Config) Link() device.Config {
	lc := device.DefaultConfig()
	lc.Baud = c.Baud
	return lc
}

func str(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func integer(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fmt.Errorf("%s: invalid value %q", key, v)
	}
	*dst = n
	return nil
}

func boolean(dst *bool, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = b
	return nil
}

func duration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}
