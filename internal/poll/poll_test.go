package poll_test

import (
	"context"
	"testing"
	"time"

	"codeberg.org/mutker/tempdisplayctl/internal/errors"
	"codeberg.org/mutker/tempdisplayctl/internal/frame"
	"codeberg.org/mutker/tempdisplayctl/internal/poll"
	"codeberg.org/mutker/tempdisplayctl/internal/sensor"
	"codeberg.org/mutker/tempdisplayctl/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	reading sensor.Reading
	err     error
	reads   int
}

func (s *fakeSource) Read(_ context.Context) (sensor.Reading, error) {
	s.reads++
	if s.err != nil {
		return sensor.Reading{}, s.err
	}
	return s.reading, nil
}

type fakeDisplay struct {
	frames []frame.Frame
	err    error
}

func (d *fakeDisplay) Write(f frame.Frame) error {
	if d.err != nil {
		return d.err
	}
	d.frames = append(d.frames, f)
	return nil
}

type fakeCollector struct {
	snapshots []*telemetry.CycleSnapshot
}

func (c *fakeCollector) Record(_ context.Context, s *telemetry.CycleSnapshot) error {
	c.snapshots = append(c.snapshots, s)
	return nil
}

func (c *fakeCollector) Close() error { return nil }

const (
	baseInterval = time.Second
	backoffCap   = 8 * time.Second
	threshold    = 2
)

func newLoop(t *testing.T, source poll.Source, display poll.Display, collector telemetry.Collector) *poll.Loop {
	t.Helper()
	l, err := poll.New(poll.Config{
		Interval:         baseInterval,
		SourceTimeout:    time.Second,
		BackoffThreshold: threshold,
		BackoffMax:       backoffCap,
		RefreshEvery:     15 * time.Second,
		Digits:           2,
	}, source, display, collector)
	require.NoError(t, err)
	return l
}

func TestCycleSuccess(t *testing.T) {
	display := &fakeDisplay{}
	l := newLoop(t, &fakeSource{reading: sensor.Valid(45)}, display, nil)

	res := l.Cycle(context.Background(), time.Now())

	require.NoError(t, res.SourceErr)
	require.NoError(t, res.DeviceErr)
	assert.True(t, res.Wrote)
	assert.Equal(t, baseInterval, res.NextInterval)
	assert.Zero(t, res.SourceFailures)
	assert.Zero(t, res.DeviceFailures)

	require.Len(t, display.frames, 1)
	got, ok := frame.New(2).Decode(display.frames[0])
	require.True(t, ok)
	assert.Equal(t, 45, got, "the panel shows the reading")
}

func TestSourceFailureStillRendersErrorGlyph(t *testing.T) {
	source := &fakeSource{err: errors.New().New(errors.ErrSourceUnavailable)}
	display := &fakeDisplay{}
	l := newLoop(t, source, display, nil)

	res := l.Cycle(context.Background(), time.Now())

	require.Error(t, res.SourceErr)
	assert.Equal(t, 1, res.SourceFailures)
	assert.True(t, res.Wrote, "error glyph is written so the panel never freezes on a stale value")

	require.Len(t, display.frames, 1)
	assert.Equal(t, frame.New(2).Encode(sensor.Unavailable()), display.frames[0])
}

func TestMalformedReadingRendersSameGlyph(t *testing.T) {
	source := &fakeSource{err: errors.New().New(errors.ErrMalformedReading)}
	display := &fakeDisplay{}
	l := newLoop(t, source, display, nil)

	l.Cycle(context.Background(), time.Now())

	require.Len(t, display.frames, 1)
	assert.Equal(t, frame.New(2).Encode(sensor.Malformed()), display.frames[0])
	assert.Equal(t, frame.New(2).Encode(sensor.Unavailable()), display.frames[0])
}

func TestSourceBackoffPastThreshold(t *testing.T) {
	source := &fakeSource{err: errors.New().New(errors.ErrSourceUnavailable)}
	l := newLoop(t, source, &fakeDisplay{}, nil)

	now := time.Now()
	// No backoff through the threshold, then doubling up to the cap
	expected := []time.Duration{
		baseInterval,
		baseInterval,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		8 * time.Second,
	}
	for i, want := range expected {
		res := l.Cycle(context.Background(), now.Add(time.Duration(i)*time.Minute))
		assert.Equal(t, want, res.NextInterval, "failure %d", i+1)
		assert.GreaterOrEqual(t, res.NextInterval, baseInterval)
		assert.LessOrEqual(t, res.NextInterval, backoffCap)
	}
}

func TestDeviceFailureSkipsNothingElse(t *testing.T) {
	display := &fakeDisplay{err: errors.New().New(errors.ErrDeviceUnavailable)}
	l := newLoop(t, &fakeSource{reading: sensor.Valid(45)}, display, nil)

	res := l.Cycle(context.Background(), time.Now())

	require.Error(t, res.DeviceErr)
	assert.False(t, res.Wrote)
	assert.False(t, res.Skipped)
	assert.Equal(t, 1, res.DeviceFailures)
	assert.Zero(t, res.SourceFailures, "the axes fail independently")
	assert.Empty(t, display.frames)
}

func TestDeviceBackoffIndependentCap(t *testing.T) {
	display := &fakeDisplay{err: errors.New().New(errors.ErrDeviceNotFound)}
	l := newLoop(t, &fakeSource{reading: sensor.Valid(45)}, display, nil)

	now := time.Now()
	var last poll.Result
	for i := 0; i < 10; i++ {
		last = l.Cycle(context.Background(), now.Add(time.Duration(i)*time.Minute))
	}

	assert.Equal(t, 10, last.DeviceFailures)
	assert.Equal(t, backoffCap, last.NextInterval)
}

func TestRecoveryResetsCountersAndInterval(t *testing.T) {
	display := &fakeDisplay{err: errors.New().New(errors.ErrDeviceUnavailable)}
	l := newLoop(t, &fakeSource{reading: sensor.Valid(45)}, display, nil)

	now := time.Now()
	for i := 0; i < 5; i++ {
		l.Cycle(context.Background(), now.Add(time.Duration(i)*time.Minute))
	}

	// Device replugged: the next write succeeds
	display.err = nil
	res := l.Cycle(context.Background(), now.Add(time.Hour))

	assert.True(t, res.Wrote)
	assert.Zero(t, res.DeviceFailures)
	assert.Equal(t, baseInterval, res.NextInterval, "a single success restores the base interval")
	require.Len(t, display.frames, 1)
}

func TestUnchangedFrameSkippedUntilRefresh(t *testing.T) {
	display := &fakeDisplay{}
	l := newLoop(t, &fakeSource{reading: sensor.Valid(45)}, display, nil)

	now := time.Now()
	first := l.Cycle(context.Background(), now)
	assert.True(t, first.Wrote)

	second := l.Cycle(context.Background(), now.Add(time.Second))
	assert.True(t, second.Skipped, "unchanged image within the refresh window is not resent")
	assert.False(t, second.Wrote)

	// The panel blanks itself without periodic rewrites
	third := l.Cycle(context.Background(), now.Add(16*time.Second))
	assert.True(t, third.Wrote, "mandatory refresh forces a rewrite")

	assert.Len(t, display.frames, 2)
}

func TestChangedReadingIsWritten(t *testing.T) {
	source := &fakeSource{reading: sensor.Valid(45)}
	display := &fakeDisplay{}
	l := newLoop(t, source, display, nil)

	now := time.Now()
	l.Cycle(context.Background(), now)

	source.reading = sensor.Valid(46)
	res := l.Cycle(context.Background(), now.Add(time.Second))

	assert.True(t, res.Wrote)
	require.Len(t, display.frames, 2)
	got, ok := frame.New(2).Decode(display.frames[1])
	require.True(t, ok)
	assert.Equal(t, 46, got)
}

func TestRunStopsOnCancelAndRecords(t *testing.T) {
	collector := &fakeCollector{}
	source := &fakeSource{reading: sensor.Valid(45)}
	l, err := poll.New(poll.Config{
		Interval:         5 * time.Millisecond,
		SourceTimeout:    time.Second,
		BackoffThreshold: threshold,
		BackoffMax:       time.Second,
		RefreshEvery:     15 * time.Second,
		Digits:           2,
	}, source, &fakeDisplay{}, collector)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	require.NoError(t, l.Run(ctx))

	assert.Greater(t, source.reads, 0, "cycles ran until cancellation")
	assert.NotEmpty(t, collector.snapshots)
	assert.Equal(t, 45, collector.snapshots[0].Temperature)
}

func TestInvalidLoopConfig(t *testing.T) {
	_, err := poll.New(poll.Config{Interval: 0}, &fakeSource{}, &fakeDisplay{}, nil)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrInvalidInterval))
}
