// Package fit reads a result file and fits average RTT against distance.
package fit

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/montanaflynn/stats"
)

// Point is one row of a result file.
type Point struct {
	Distance float64 // kilometers
	AvgRTT   float64 // milliseconds
}

// Line is a least squares fit of AvgRTT = Slope*Distance + Intercept.
type Line struct {
	Slope     float64 `json:"slope"` // ms per km
	Intercept float64 `json:"intercept"`
	R         float64 `json:"r"`
	N         int     `json:"n"`
}

// Predict returns the fitted RTT at distance km.
func (l Line) Predict(km float64) float64 {
	return l.Slope*km + l.Intercept
}

var (
	ErrTooFewPoints = errors.New("need at least two points")
	ErrNoSpread     = errors.New("all points share one distance")
)

func Load(path string) ([]Point, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	points, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return points, nil
}

// Read parses result rows. Columns are found by header name, a " km" suffix
// on distances is accepted, and header lines repeated by earlier runs are
// skipped.
func Read(r io.Reader) ([]Point, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, errors.New("empty file")
	}
	if err != nil {
		return nil, err
	}
	rttCol, distCol := -1, -1
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "avg_rtt":
			rttCol = i
		case "distance":
			distCol = i
		}
	}
	if rttCol < 0 || distCol < 0 {
		return nil, errors.New("header must name avg_rtt and distance columns")
	}

	var points []Point
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		line, _ := cr.FieldPos(0)
		if len(record) <= max(rttCol, distCol) {
			return nil, fmt.Errorf("line %d: expected %d fields, got %d", line, len(header), len(record))
		}
		rttField := strings.TrimSpace(record[rttCol])
		distField := strings.TrimSpace(record[distCol])
		if strings.EqualFold(rttField, "avg_rtt") {
			continue
		}
		rtt, err := strconv.ParseFloat(rttField, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: avg_rtt: %w", line, err)
		}
		dist, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(distField, "km")), 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: distance: %w", line, err)
		}
		points = append(points, Point{Distance: dist, AvgRTT: rtt})
	}
	return points, nil
}

// Linear fits a first degree polynomial through points.
func Linear(points []Point) (Line, error) {
	if len(points) < 2 {
		return Line{}, ErrTooFewPoints
	}
	xs := make(stats.Float64Data, len(points))
	ys := make(stats.Float64Data, len(points))
	for i, p := range points {
		xs[i] = p.Distance
		ys[i] = p.AvgRTT
	}

	variance, err := stats.PopulationVariance(xs)
	if err != nil {
		return Line{}, err
	}
	if variance == 0 {
		return Line{}, ErrNoSpread
	}
	cov, err := stats.CovariancePopulation(xs, ys)
	if err != nil {
		return Line{}, err
	}
	meanX, _ := stats.Mean(xs)
	meanY, _ := stats.Mean(ys)
	r, err := stats.Correlation(xs, ys)
	if err != nil {
		return Line{}, err
	}

	slope := cov / variance
	return Line{
		Slope:     slope,
		Intercept: meanY - slope*meanX,
		R:         r,
		N:         len(points),
	}, nil
}
