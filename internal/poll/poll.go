// Package poll drives the read → encode → write cycle. It is the only
// component with process lifetime semantics: every per-cycle failure is
// absorbed here, turned into an error-glyph frame or a skipped write, and
// retried with bounded exponential backoff per failure axis.
package poll

import (
	"context"
	"time"

	"codeberg.org/mutker/tempdisplayctl/internal/errors"
	"codeberg.org/mutker/tempdisplayctl/internal/frame"
	"codeberg.org/mutker/tempdisplayctl/internal/logger"
	"codeberg.org/mutker/tempdisplayctl/internal/sensor"
	"codeberg.org/mutker/tempdisplayctl/internal/telemetry"
)

// Source yields the current temperature reading.
type Source interface {
	Read(ctx context.Context) (sensor.Reading, error)
}

// Display accepts one output report per cycle.
type Display interface {
	Write(f frame.Frame) error
}

type Config struct {
	Interval         time.Duration
	SourceTimeout    time.Duration
	BackoffThreshold int
	BackoffMax       time.Duration
	RefreshEvery     time.Duration
	Digits           int
}

func (c Config) validate() error {
	errFactory := errors.New()
	if c.Interval <= 0 {
		return errFactory.WithData(errors.ErrInvalidInterval, c.Interval)
	}
	if c.BackoffThreshold <= 0 || c.BackoffMax < c.Interval {
		return errFactory.WithData(errors.ErrInvalidConfig, "backoff settings")
	}
	if c.RefreshEvery <= 0 || c.SourceTimeout <= 0 {
		return errFactory.WithData(errors.ErrInvalidConfig, "timeout settings")
	}

	return nil
}

// Result is the outcome of a single cycle.
type Result struct {
	Reading        sensor.Reading
	Frame          frame.Frame
	Wrote          bool
	Skipped        bool
	SourceErr      error
	DeviceErr      error
	SourceFailures int
	DeviceFailures int
	NextInterval   time.Duration
}

// Loop owns the two consecutive-failure counters and the last written frame.
// Single logical thread of control; no locking needed.
type Loop struct {
	cfg       Config
	source    Source
	display   Display
	enc       *frame.Encoder
	collector telemetry.Collector

	sourceFailures int
	deviceFailures int
	lastFrame      frame.Frame
	haveFrame      bool
	lastWrite      time.Time
}

// New builds a loop. collector may be nil when telemetry is disabled.
func New(cfg Config, source Source, display Display, collector telemetry.Collector) (*Loop, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &Loop{
		cfg:       cfg,
		source:    source,
		display:   display,
		enc:       frame.New(cfg.Digits),
		collector: collector,
	}, nil
}

// Run repeats cycles until ctx is cancelled. Cancellation is checked at
// cycle boundaries; the blocking read and write honor their own timeouts.
func (l *Loop) Run(ctx context.Context) error {
	timer := time.NewTimer(l.cfg.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
			res := l.Cycle(ctx, time.Now())
			l.record(ctx, res)
			timer.Reset(res.NextInterval)
		}
	}
}

// Cycle performs exactly one read → encode → write pass and reports what the
// next interval should be. It never returns an error: both failure axes are
// folded into the Result.
func (l *Loop) Cycle(ctx context.Context, now time.Time) Result {
	res := Result{}

	readCtx, cancel := context.WithTimeout(ctx, l.cfg.SourceTimeout)
	reading, err := l.source.Read(readCtx)
	cancel()

	if err != nil {
		res.SourceErr = err
		l.sourceFailures++

		// Still render, so the panel shows "no data" instead of a
		// frozen stale value
		if errors.IsCode(err, errors.ErrMalformedReading) {
			reading = sensor.Malformed()
		} else {
			reading = sensor.Unavailable()
		}

		logger.Warn().
			Str("error_code", string(errors.CodeOf(err))).
			Int("consecutive_failures", l.sourceFailures).
			Msg("Temperature read failed")
	} else {
		l.sourceFailures = 0
	}
	res.Reading = reading

	f := l.enc.Encode(reading)
	res.Frame = f

	forced := now.Sub(l.lastWrite) >= l.cfg.RefreshEvery
	switch {
	case l.haveFrame && f == l.lastFrame && !forced && l.deviceFailures == 0:
		// Unchanged image, panel refreshed recently: nothing to send
		res.Skipped = true
	default:
		if err := l.display.Write(f); err != nil {
			res.DeviceErr = err
			l.deviceFailures++

			logger.Warn().
				Str("error_code", string(errors.CodeOf(err))).
				Int("consecutive_failures", l.deviceFailures).
				Msg("Display write failed")
		} else {
			if l.deviceFailures > 0 {
				logger.Info().Msg("Display recovered")
			}
			l.deviceFailures = 0
			l.lastFrame = f
			l.haveFrame = true
			l.lastWrite = now
			res.Wrote = true
		}
	}

	res.SourceFailures = l.sourceFailures
	res.DeviceFailures = l.deviceFailures
	res.NextInterval = l.nextInterval()

	logger.Debug().
		Str("reading", reading.State.String()).
		Int("celsius", reading.Celsius).
		Bool("wrote", res.Wrote).
		Bool("skipped", res.Skipped).
		Dur("next_interval", res.NextInterval).
		Msg("Cycle complete")

	return res
}

// nextInterval applies per-axis exponential backoff past the threshold,
// capped, and takes the larger of the two axes so neither an absent service
// nor an unplugged display is hammered.
func (l *Loop) nextInterval() time.Duration {
	src := l.backoffFor(l.sourceFailures)
	dev := l.backoffFor(l.deviceFailures)
	if src > dev {
		return src
	}

	return dev
}

func (l *Loop) backoffFor(failures int) time.Duration {
	if failures <= l.cfg.BackoffThreshold {
		return l.cfg.Interval
	}

	d := l.cfg.Interval
	for i := l.cfg.BackoffThreshold; i < failures; i++ {
		d *= 2
		if d >= l.cfg.BackoffMax {
			return l.cfg.BackoffMax
		}
	}

	return d
}

func (l *Loop) record(ctx context.Context, res Result) {
	if l.collector == nil {
		return
	}

	snapshot := &telemetry.CycleSnapshot{
		Timestamp:      time.Now(),
		Temperature:    res.Reading.Celsius,
		ReadingState:   res.Reading.State.String(),
		Wrote:          res.Wrote,
		Skipped:        res.Skipped,
		SourceFailures: res.SourceFailures,
		DeviceFailures: res.DeviceFailures,
		IntervalMS:     res.NextInterval.Milliseconds(),
	}

	if err := l.collector.Record(ctx, snapshot); err != nil {
		logger.Debug().AnErr("error", err).Msg("Failed to record telemetry")
	}
}
