// Package config manages dnp3master daemon configuration using koanf/v2.
//
// Supports YAML files and environment variables layered over defaults.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete dnp3master daemon configuration.
type Config struct {
	Control      ControlConfig       `koanf:"control"`
	Metrics      MetricsConfig       `koanf:"metrics"`
	Log          LogConfig           `koanf:"log"`
	Master       MasterConfig        `koanf:"master"`
	Associations []AssociationConfig `koanf:"associations"`
}

// ControlConfig holds the JSON/HTTP control API listener configuration.
type ControlConfig struct {
	// Addr is the control API listen address (e.g., ":20000").
	Addr string `koanf:"addr"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	Addr string `koanf:"addr"`
	Path string `koanf:"path"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// MasterConfig holds the session-engine-wide defaults.
type MasterConfig struct {
	// TransportAddr is the TCP address of the outstation link this
	// master dials out to. All associations share this one connection.
	TransportAddr string `koanf:"transport_addr"`
	// ResponseTimeout bounds how long the session waits for a response
	// to an outstanding request.
	ResponseTimeout time.Duration `koanf:"response_timeout"`
	// TxBufferSize is the size, in bytes, of the outbound fragment
	// buffer.
	TxBufferSize int `koanf:"tx_buffer_size"`
	// RxBufferSize is the size, in bytes, of the inbound reassembly
	// buffer.
	RxBufferSize int `koanf:"rx_buffer_size"`
	// ControlQueueDepth bounds the session's control message channel.
	ControlQueueDepth int `koanf:"control_queue_depth"`
	// DecodeLevel is the initial frame decode log level: "debug",
	// "info", "warn", "error".
	DecodeLevel string `koanf:"decode_level"`
}

// AssociationConfig describes one declarative association from the
// configuration file. Each entry is registered with the session on
// daemon startup and reconciled on SIGHUP reload.
type AssociationConfig struct {
	// Address is the outstation's link-layer address.
	Address uint16 `koanf:"address"`

	// EnabledEventClasses lists which classes (1, 2, 3) unsolicited
	// reporting should be enabled for at startup.
	EnabledEventClasses []int `koanf:"enabled_event_classes"`

	// IntegrityPollPeriod is how often a class-0+events integrity poll
	// is run against this association. Zero
	// disables periodic integrity polling.
	IntegrityPollPeriod time.Duration `koanf:"integrity_poll_period"`
}

// EventClasses converts the configured class list into booleans, kept
// here as plain return values to avoid a config -> master import for a
// three-field struct.
func (ac AssociationConfig) EventClasses() (class1, class2, class3 bool) {
	for _, c := range ac.EnabledEventClasses {
		switch c {
		case 1:
			class1 = true
		case 2:
			class2 = true
		case 3:
			class3 = true
		}
	}
	return
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Control: ControlConfig{
			Addr: ":20000",
		},
		Metrics: MetricsConfig{
			Addr: ":9100",
			Path: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Master: MasterConfig{
			TransportAddr:     "127.0.0.1:20001",
			ResponseTimeout:   5 * time.Second,
			TxBufferSize:      2048,
			RxBufferSize:      2048,
			ControlQueueDepth: 64,
			DecodeLevel:       "info",
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for dnp3master configuration.
// Variables are named DNP3MASTER_<section>_<key>, e.g. DNP3MASTER_MASTER_RESPONSE_TIMEOUT.
const envPrefix = "DNP3MASTER_"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (DNP3MASTER_ prefix), and merges on top of
// DefaultConfig(). Missing fields inherit defaults.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config from %s: %w", path, err)
	}

	return cfg, nil
}

// envKeyMapper transforms DNP3MASTER_MASTER_RESPONSE_TIMEOUT into
// master.response_timeout.
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	// Only the first underscore separates section from key; keys such as
	// response_timeout keep their own underscores.
	return strings.Replace(s, "_", ".", 1)
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"control.addr":               defaults.Control.Addr,
		"metrics.addr":               defaults.Metrics.Addr,
		"metrics.path":               defaults.Metrics.Path,
		"log.level":                  defaults.Log.Level,
		"log.format":                 defaults.Log.Format,
		"master.transport_addr":      defaults.Master.TransportAddr,
		"master.response_timeout":    defaults.Master.ResponseTimeout.String(),
		"master.tx_buffer_size":      defaults.Master.TxBufferSize,
		"master.rx_buffer_size":      defaults.Master.RxBufferSize,
		"master.control_queue_depth": defaults.Master.ControlQueueDepth,
		"master.decode_level":        defaults.Master.DecodeLevel,
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

var (
	// ErrEmptyControlAddr indicates the control API listen address is empty.
	ErrEmptyControlAddr = errors.New("control.addr must not be empty")

	// ErrInvalidResponseTimeout indicates the response timeout is non-positive.
	ErrInvalidResponseTimeout = errors.New("master.response_timeout must be > 0")

	// ErrInvalidTxBufferSize indicates the TX buffer is below the protocol minimum.
	ErrInvalidTxBufferSize = errors.New("master.tx_buffer_size is below the minimum")

	// ErrEmptyTransportAddr indicates no outstation transport address was configured.
	ErrEmptyTransportAddr = errors.New("master.transport_addr must not be empty")

	// ErrReservedAssociationAddress indicates an association uses a reserved broadcast address.
	ErrReservedAssociationAddress = errors.New("association address is reserved")

	// ErrDuplicateAssociationAddress indicates two associations share the same address.
	ErrDuplicateAssociationAddress = errors.New("duplicate association address")

	// ErrInvalidEventClass indicates an enabled_event_classes entry outside 1-3.
	ErrInvalidEventClass = errors.New("enabled_event_classes entries must be 1, 2 or 3")
)

// minTxBufferSize mirrors master.MinTxBufferSize without importing the
// domain package into config.
const minTxBufferSize = 249

// Validate checks the configuration for logical errors, returning the
// first one encountered.
func Validate(cfg *Config) error {
	if cfg.Control.Addr == "" {
		return ErrEmptyControlAddr
	}

	if cfg.Master.ResponseTimeout <= 0 {
		return ErrInvalidResponseTimeout
	}

	if cfg.Master.TxBufferSize < minTxBufferSize {
		return ErrInvalidTxBufferSize
	}

	if cfg.Master.TransportAddr == "" {
		return ErrEmptyTransportAddr
	}

	return validateAssociations(cfg.Associations)
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the
// corresponding slog.Level. Unknown values default to slog.LevelInfo.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func validateAssociations(associations []AssociationConfig) error {
	seen := make(map[uint16]struct{}, len(associations))

	for i, ac := range associations {
		if ac.Address >= 0xFFF0 {
			return fmt.Errorf("associations[%d]: %w", i, ErrReservedAssociationAddress)
		}
		if _, exists := seen[ac.Address]; exists {
			return fmt.Errorf("associations[%d] address %d: %w", i, ac.Address, ErrDuplicateAssociationAddress)
		}
		seen[ac.Address] = struct{}{}

		for _, c := range ac.EnabledEventClasses {
			if c < 1 || c > 3 {
				return fmt.Errorf("associations[%d]: %w", i, ErrInvalidEventClass)
			}
		}
	}

	return nil
}
