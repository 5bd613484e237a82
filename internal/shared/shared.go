package shared

import (
	"errors"
	"fmt"
	"math"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/montanaflynn/stats"
)

// Target is a single address read from the target source.
type Target struct {
	Addr   netip.Addr
	Server string // server column, becomes the record host name
	Line   int    // Line number in the source file
}

// Coordinate is a point on Earth in decimal degrees.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Valid reports whether the coordinate lies within the WGS-84 degree ranges.
func (c Coordinate) Valid() bool {
	if math.IsNaN(c.Lat) || math.IsNaN(c.Lon) {
		return false
	}
	return c.Lat >= -90 && c.Lat <= 90 && c.Lon >= -180 && c.Lon <= 180
}

func (c Coordinate) String() string {
	return strconv.FormatFloat(c.Lat, 'f', -1, 64) + "," + strconv.FormatFloat(c.Lon, 'f', -1, 64)
}

// ParseCoordinate parses a "lat,lon" pair such as the ipinfo "loc" field.
func ParseCoordinate(s string) (Coordinate, error) {
	latStr, lonStr, ok := strings.Cut(s, ",")
	if !ok {
		return Coordinate{}, fmt.Errorf("coordinate %q: expected \"lat,lon\"", s)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(latStr), 64)
	if err != nil {
		return Coordinate{}, fmt.Errorf("coordinate %q: latitude: %w", s, err)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(lonStr), 64)
	if err != nil {
		return Coordinate{}, fmt.Errorf("coordinate %q: longitude: %w", s, err)
	}
	c := Coordinate{Lat: lat, Lon: lon}
	if !c.Valid() {
		return Coordinate{}, fmt.Errorf("coordinate %q: out of range", s)
	}
	return c, nil
}

// ProbeSample is one answered echo request.
type ProbeSample struct {
	Seq  uint16        `json:"seq"`
	Sent time.Time     `json:"sent"`
	RTT  time.Duration `json:"rtt"`
}

// Milliseconds returns the round-trip time in fractional milliseconds.
func (s ProbeSample) Milliseconds() float64 {
	return float64(s.RTT) / float64(time.Millisecond)
}

// ProbeOutcome holds the result of one target's probing session.
type ProbeOutcome struct {
	Target              netip.Addr
	Samples             []ProbeSample
	Attempts            uint // Echo requests sent (or attempted)
	ConsecutiveFailures uint // Trailing run of unanswered attempts
	Aborted             bool // Stopped early on the consecutive-failure threshold
	Late                uint // Replies that arrived after their attempt timed out
}

// Empty reports whether no attempt was answered.
func (o ProbeOutcome) Empty() bool {
	return len(o.Samples) == 0
}

// RTTs returns the round-trip times of the successful samples in milliseconds.
func (o ProbeOutcome) RTTs() []float64 {
	rtts := make([]float64, 0, len(o.Samples))
	for _, s := range o.Samples {
		rtts = append(rtts, s.Milliseconds())
	}
	return rtts
}

// ErrNoSamples is returned when statistics are requested for an empty outcome.
var ErrNoSamples = errors.New("no successful samples")

// RTTStats summarises the samples of one target, all values in milliseconds.
type RTTStats struct {
	Count  int
	Mean   float64
	Median float64
	Min    float64
	Max    float64
	StdDev float64
}

// Stats computes the RTT statistics of the outcome. Mean is the arithmetic
// mean of exactly the successful samples.
func (o ProbeOutcome) Stats() (RTTStats, error) {
	if o.Empty() {
		return RTTStats{}, ErrNoSamples
	}
	data := stats.Float64Data(o.RTTs())

	var rs RTTStats
	var err error
	rs.Count = data.Len()
	if rs.Mean, err = stats.Mean(data); err != nil {
		return RTTStats{}, err
	}
	if rs.Median, err = stats.Median(data); err != nil {
		return RTTStats{}, err
	}
	if rs.Min, err = stats.Min(data); err != nil {
		return RTTStats{}, err
	}
	if rs.Max, err = stats.Max(data); err != nil {
		return RTTStats{}, err
	}
	if rs.StdDev, err = stats.StandardDeviation(data); err != nil {
		return RTTStats{}, err
	}
	return rs, nil
}

// MeasurementRecord is the persisted unit. The CSV sink only writes AvgRTT
// and Distance; the remaining fields feed the richer sinks.
type MeasurementRecord struct {
	RunID     string     `json:"run_id"`
	Target    string     `json:"target"`
	Hostname  string     `json:"hostname,omitempty"` // server column or PTR name
	Location  Coordinate `json:"location"`
	AvgRTT    float64    `json:"avg_rtt"`  // milliseconds
	Distance  float64    `json:"distance"` // kilometers
	Samples   int        `json:"samples"`
	MinRTT    float64    `json:"min_rtt"`
	MedianRTT float64    `json:"median_rtt"`
	MaxRTT    float64    `json:"max_rtt"`
	StdDevRTT float64    `json:"stddev_rtt"`
	Timestamp time.Time  `json:"timestamp"`
}

// Summary counts what happened to the targets of one run.
type Summary struct {
	RunID         string        `json:"run_id"`
	Targets       int           `json:"targets"`
	Located       int           `json:"located"`
	Unlocatable   int           `json:"unlocatable"`
	Unreachable   int           `json:"unreachable"`
	Recorded      int           `json:"recorded"`
	Lookups       int           `json:"lookups"`
	ThrottleWaits int           `json:"throttle_waits"`
	ThrottleTime  time.Duration `json:"throttle_time"`
	Elapsed       time.Duration `json:"elapsed"`
}
