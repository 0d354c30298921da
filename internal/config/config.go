package config

import (
	"os"
	"strconv"
	"strings"

	"codeberg.org/mutker/tempdisplayctl/internal/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultLogLevel = "info"

	defaultVendorID  = "0x5131" // GAMEMAX Sigma 520 class coolers
	defaultProductID = "0x2007"
	defaultEndpoint  = "http://127.0.0.1:8085/api/sensors"
	defaultDBPath    = "/var/lib/tempdisplayctl/telemetry.db"

	defaultInterval         = 1  // seconds
	defaultDigits           = 2  // two-digit panel
	defaultSourceTimeout    = 2  // seconds
	defaultWriteTimeout     = 2  // seconds
	defaultBackoffThreshold = 5  // consecutive failures
	defaultBackoffMax       = 30 // seconds
	defaultRefreshEvery     = 15 // panel blanks without periodic rewrites

	maxDigits = 8
)

type Config struct {
	VendorID         string `mapstructure:"vendor_id"`
	ProductID        string `mapstructure:"product_id"`
	Interval         int    `mapstructure:"interval"`
	Digits           int    `mapstructure:"digits"`
	SensorIndex      int    `mapstructure:"sensor_index"`
	Endpoint         string `mapstructure:"endpoint"`
	SourceTimeout    int    `mapstructure:"source_timeout"`
	WriteTimeout     int    `mapstructure:"write_timeout"`
	BackoffThreshold int    `mapstructure:"backoff_threshold"`
	BackoffMax       int    `mapstructure:"backoff_max"`
	RefreshEvery     int    `mapstructure:"refresh_every"`
	RequireDevice    bool   `mapstructure:"require_device"`
	Telemetry        bool   `mapstructure:"telemetry"`
	TelemetryDB      string `mapstructure:"database"`
	LogLevel         string `mapstructure:"log_level"`
	Debug            bool   `mapstructure:"debug"`
	Verbose          bool   `mapstructure:"verbose"`

	vendorID  uint16
	productID uint16
}

// DeviceVendorID returns the parsed USB vendor identifier.
func (c *Config) DeviceVendorID() uint16 {
	return c.vendorID
}

// DeviceProductID returns the parsed USB product identifier.
func (c *Config) DeviceProductID() uint16 {
	return c.productID
}

func Load() (*Config, error) {
	errFactory := errors.New()
	v := viper.New()

	v.SetDefault("vendor_id", defaultVendorID)
	v.SetDefault("product_id", defaultProductID)
	v.SetDefault("interval", defaultInterval)
	v.SetDefault("digits", defaultDigits)
	v.SetDefault("sensor_index", 0)
	v.SetDefault("endpoint", defaultEndpoint)
	v.SetDefault("source_timeout", defaultSourceTimeout)
	v.SetDefault("write_timeout", defaultWriteTimeout)
	v.SetDefault("backoff_threshold", defaultBackoffThreshold)
	v.SetDefault("backoff_max", defaultBackoffMax)
	v.SetDefault("refresh_every", defaultRefreshEvery)
	v.SetDefault("require_device", false)
	v.SetDefault("telemetry", false)
	v.SetDefault("database", defaultDBPath)
	v.SetDefault("log_level", DefaultLogLevel)

	flags := pflag.NewFlagSet("tempdisplayctl", pflag.ContinueOnError)
	flags.String("vendor-id", defaultVendorID, "USB vendor identifier of the display")
	flags.String("product-id", defaultProductID, "USB product identifier of the display")
	flags.Int("interval", defaultInterval, "Base poll interval in seconds")
	flags.Int("digits", defaultDigits, "Digit capacity of the display")
	flags.Int("sensor-index", 0, "CPU temperature sensor index to read")
	flags.String("endpoint", defaultEndpoint, "Monitoring service sensor endpoint")
	flags.Bool("require-device", false, "Fail startup when the display is absent")
	flags.Bool("telemetry", false, "Record per-cycle telemetry to SQLite")
	flags.String("database", defaultDBPath, "Telemetry database path")
	flags.String("log-level", DefaultLogLevel, "Log level (debug, info, warning, error)")
	flags.Bool("debug", false, "Enable debugging mode")
	flags.Bool("verbose", false, "Enable verbose logging")
	if err := flags.Parse(os.Args[1:]); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}

	// Flags override file values, so bind before reading the file
	bind := map[string]string{
		"vendor_id":      "vendor-id",
		"product_id":     "product-id",
		"interval":       "interval",
		"digits":         "digits",
		"sensor_index":   "sensor-index",
		"endpoint":       "endpoint",
		"require_device": "require-device",
		"telemetry":      "telemetry",
		"database":       "database",
		"log_level":      "log-level",
		"debug":          "debug",
		"verbose":        "verbose",
	}
	for key, name := range bind {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			return nil, errFactory.Wrap(errors.ErrBindFlags, err)
		}
	}

	if path := os.Getenv("TEMPDISPLAYCTL_CONFIG"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("tempdisplayctl")
		v.SetConfigType("toml")
		v.AddConfigPath("/etc")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, errFactory.Wrap(errors.ErrReadConfig, err).
				WithMessage("Failed to read config file")
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) validate() error {
	errFactory := errors.New()

	var err error
	if c.vendorID, err = parseDeviceID(c.VendorID); err != nil {
		return errFactory.Wrap(errors.ErrInvalidDeviceID, err).WithData(c.VendorID)
	}
	if c.productID, err = parseDeviceID(c.ProductID); err != nil {
		return errFactory.Wrap(errors.ErrInvalidDeviceID, err).WithData(c.ProductID)
	}

	if c.Interval <= 0 {
		return errFactory.WithData(errors.ErrInvalidInterval, c.Interval)
	}
	if c.BackoffThreshold <= 0 {
		return errFactory.WithData(errors.ErrInvalidConfig, "backoff_threshold must be positive")
	}
	if c.BackoffMax < c.Interval {
		return errFactory.WithData(errors.ErrInvalidConfig, "backoff_max must not be below interval")
	}
	if c.RefreshEvery <= 0 {
		return errFactory.WithData(errors.ErrInvalidConfig, "refresh_every must be positive")
	}
	if c.SourceTimeout <= 0 || c.WriteTimeout <= 0 {
		return errFactory.WithData(errors.ErrInvalidConfig, "timeouts must be positive")
	}
	if c.Digits < 1 || c.Digits > maxDigits {
		return errFactory.WithData(errors.ErrInvalidConfig, "digits out of range")
	}
	if c.SensorIndex < 0 {
		return errFactory.WithData(errors.ErrInvalidConfig, "sensor_index must not be negative")
	}
	if c.Endpoint == "" {
		return errFactory.WithData(errors.ErrInvalidConfig, "endpoint must not be empty")
	}
	if !isValidLogLevel(c.LogLevel) {
		return errFactory.WithData(errors.ErrInvalidLogLevel, c.LogLevel)
	}

	return nil
}

func parseDeviceID(s string) (uint16, error) {
	errFactory := errors.New()

	trimmed := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "0x")
	if trimmed == "" {
		return 0, errFactory.WithData(errors.ErrInvalidArgument, s)
	}

	id, err := strconv.ParseUint(trimmed, 16, 16)
	if err != nil {
		return 0, errFactory.Wrap(errors.ErrInvalidArgument, err)
	}
	if id == 0 {
		return 0, errFactory.WithData(errors.ErrInvalidArgument, s)
	}

	return uint16(id), nil
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warning", "error":
		return true
	default:
		return false
	}
}
