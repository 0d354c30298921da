package telemetry_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"codeberg.org/mutker/tempdisplayctl/internal/errors"
	"codeberg.org/mutker/tempdisplayctl/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServiceRecord(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "telemetry.db")

	svc, err := telemetry.NewService(telemetry.Config{DBPath: dbPath})
	require.NoError(t, err)
	defer svc.Close()

	snapshot := &telemetry.CycleSnapshot{
		Timestamp:      time.Now(),
		Temperature:    45,
		ReadingState:   "valid",
		Wrote:          true,
		SourceFailures: 0,
		DeviceFailures: 0,
		IntervalMS:     1000,
	}
	require.NoError(t, svc.Record(context.Background(), snapshot))

	// Same timestamp upserts rather than failing on the primary key
	snapshot.Temperature = 46
	require.NoError(t, svc.Record(context.Background(), snapshot))
}

func TestServiceRecordNilSnapshot(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "telemetry.db")

	svc, err := telemetry.NewService(telemetry.Config{DBPath: dbPath})
	require.NoError(t, err)
	defer svc.Close()

	err = svc.Record(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, telemetry.ErrInvalidSnapshot))
}

func TestServiceRejectsEmptyDBPath(t *testing.T) {
	_, err := telemetry.NewService(telemetry.Config{})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, telemetry.ErrInvalidConfig))
}
