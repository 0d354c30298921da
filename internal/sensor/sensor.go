// Package sensor reads the primary CPU temperature from a locally running
// hardware-monitoring service. The service exposes its sensor table as JSON;
// on multi-core layouts the first logical core is authoritative, so the
// default sensor index is 0.
package sensor

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"time"

	"codeberg.org/mutker/tempdisplayctl/internal/errors"
	"codeberg.org/mutker/tempdisplayctl/internal/logger"
)

const (
	// Plausible CPU temperature range for the target hardware class.
	// Readings outside it are sensor garbage, not data.
	MinPlausible = -40
	MaxPlausible = 120

	cpuTemperatureType = "cpu_temperature"
)

// State classifies a reading for the encoder.
type State int

const (
	StateValid State = iota
	StateUnavailable
	StateMalformed
)

func (s State) String() string {
	switch s {
	case StateValid:
		return "valid"
	case StateUnavailable:
		return "unavailable"
	case StateMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// Reading is one immutable temperature sample. Celsius is meaningful only
// when State is StateValid.
type Reading struct {
	Celsius int
	State   State
}

func Valid(celsius int) Reading {
	return Reading{Celsius: celsius, State: StateValid}
}

func Unavailable() Reading {
	return Reading{State: StateUnavailable}
}

func Malformed() Reading {
	return Reading{State: StateMalformed}
}

type Config struct {
	Endpoint    string
	SensorIndex int
	Timeout     time.Duration
}

type Client struct {
	cfg  Config
	http *http.Client
}

func New(cfg Config) *Client {
	return &Client{
		cfg: cfg,
		http: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

type sensorEntry struct {
	Type  string  `json:"type"`
	Label string  `json:"label"`
	Value float64 `json:"value"`
	Index int     `json:"index"`
}

type sensorTable struct {
	Sensors []sensorEntry `json:"sensors"`
}

// Read fetches the configured CPU temperature sensor and normalizes it to
// whole degrees Celsius. Connection failures, timeouts and non-200 responses
// surface as source_unavailable; unparsable or implausible payloads as
// malformed_reading. Both are recoverable.
func (c *Client) Read(ctx context.Context) (Reading, error) {
	errFactory := errors.New()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.Endpoint, http.NoBody)
	if err != nil {
		return Reading{}, errFactory.Wrap(errors.ErrSourceUnavailable, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Reading{}, errFactory.Wrap(errors.ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Reading{}, errFactory.WithData(errors.ErrSourceUnavailable, resp.Status)
	}

	var table sensorTable
	if err := json.NewDecoder(resp.Body).Decode(&table); err != nil {
		return Reading{}, errFactory.Wrap(errors.ErrMalformedReading, err)
	}

	for _, s := range table.Sensors {
		if s.Type != cpuTemperatureType || s.Index != c.cfg.SensorIndex {
			continue
		}

		if math.IsNaN(s.Value) || math.IsInf(s.Value, 0) {
			return Reading{}, errFactory.WithData(errors.ErrMalformedReading, s.Value)
		}

		celsius := int(math.Round(s.Value))
		if celsius < MinPlausible || celsius > MaxPlausible {
			return Reading{}, errFactory.WithData(errors.ErrMalformedReading, celsius)
		}

		logger.Debug().
			Str("label", s.Label).
			Float64("raw", s.Value).
			Int("celsius", celsius).
			Msg("Sensor read")

		return Valid(celsius), nil
	}

	return Reading{}, errFactory.WithData(errors.ErrMalformedReading, "cpu temperature sensor missing")
}
