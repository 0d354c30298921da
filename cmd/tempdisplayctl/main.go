package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"codeberg.org/mutker/tempdisplayctl/internal/config"
	"codeberg.org/mutker/tempdisplayctl/internal/device"
	"codeberg.org/mutker/tempdisplayctl/internal/errors"
	"codeberg.org/mutker/tempdisplayctl/internal/logger"
	"codeberg.org/mutker/tempdisplayctl/internal/pid"
	"codeberg.org/mutker/tempdisplayctl/internal/poll"
	"codeberg.org/mutker/tempdisplayctl/internal/sensor"
	"codeberg.org/mutker/tempdisplayctl/internal/telemetry"
)

// Exit codes are distinct so operators can script recovery.
const (
	exitOK       = 0
	exitConfig   = 1
	exitNoDevice = 2
	exitInternal = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return exitConfig
	}

	logger.Init(cfg.Debug, cfg.Verbose, logger.IsService())
	if !cfg.Debug && !cfg.Verbose {
		logger.SetLogLevel(logLevelFor(cfg.LogLevel))
	}
	logger.Debug().Msg("Config loaded")

	if err := pid.Write(); err != nil {
		logger.Error().Err(err).Msg("failed to write PID file")
		return exitInternal
	}
	defer func() {
		if err := pid.Remove(); err != nil {
			logger.Error().Err(err).Msg("failed to remove PID file")
		}
	}()

	var collector telemetry.Collector
	if cfg.Telemetry {
		collector, err = telemetry.NewService(telemetry.Config{DBPath: cfg.TelemetryDB})
		if err != nil {
			logger.Error().Err(err).Msg("failed to initialize telemetry")
			return exitInternal
		}
		defer func() {
			if err := collector.Close(); err != nil {
				logger.Error().Err(err).Msg("failed to close telemetry")
			}
		}()
	}

	display := device.New(device.Config{
		VendorID:     cfg.DeviceVendorID(),
		ProductID:    cfg.DeviceProductID(),
		WriteTimeout: time.Duration(cfg.WriteTimeout) * time.Second,
	})
	defer func() {
		if err := display.Close(); err != nil {
			logger.Error().Err(err).Msg("failed to release display")
		}
	}()

	if cfg.RequireDevice {
		if err := display.Probe(); err != nil {
			logger.Error().Err(err).Msg("display not found at startup")
			return exitNoDevice
		}
	}

	source := sensor.New(sensor.Config{
		Endpoint:    cfg.Endpoint,
		SensorIndex: cfg.SensorIndex,
		Timeout:     time.Duration(cfg.SourceTimeout) * time.Second,
	})

	loop, err := poll.New(poll.Config{
		Interval:         time.Duration(cfg.Interval) * time.Second,
		SourceTimeout:    time.Duration(cfg.SourceTimeout) * time.Second,
		BackoffThreshold: cfg.BackoffThreshold,
		BackoffMax:       time.Duration(cfg.BackoffMax) * time.Second,
		RefreshEvery:     time.Duration(cfg.RefreshEvery) * time.Second,
		Digits:           cfg.Digits,
	}, source, display, collector)
	if err != nil {
		logger.Error().Err(err).Msg("failed to build poll loop")
		return exitInternal
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel)

	logger.Info().
		Int("interval_s", cfg.Interval).
		Int("digits", cfg.Digits).
		Str("endpoint", cfg.Endpoint).
		Msg("Polling started")

	if err := loop.Run(ctx); err != nil {
		logger.ErrorWithCode(errors.New().Wrap(errors.ErrMainLoop, err)).Msg("error in main loop")
		return exitInternal
	}

	logger.Info().Msg("Exiting...")
	return exitOK
}

func logLevelFor(level string) logger.LogLevel {
	switch level {
	case "debug":
		return logger.DebugLevel
	case "info":
		return logger.InfoLevel
	case "warning":
		return logger.WarnLevel
	default:
		return logger.ErrorLevel
	}
}

func handleSignals(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	logger.Info().Msg("Received termination signal.")
	cancel()
}
