package output

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/tkjaer/rttdist/internal/shared"
)

var csvHeader = []string{"avg_rtt", "distance"}

// CSVOutput appends avg_rtt,distance rows to a file. The file is opened and
// closed for every write so each record is on disk before the next target.
type CSVOutput struct {
	mu   sync.Mutex
	path string
}

func NewCSVOutput(path string) *CSVOutput {
	return &CSVOutput{path: path}
}

// WriteHeader writes the header row unless the file already has content.
func (c *CSVOutput) WriteHeader() error {
	return c.withWriter(func(f *os.File, w *csv.Writer) error {
		info, err := f.Stat()
		if err != nil {
			return err
		}
		if info.Size() > 0 {
			return nil
		}
		return w.Write(csvHeader)
	})
}

func (c *CSVOutput) Append(rec shared.MeasurementRecord) error {
	return c.withWriter(func(_ *os.File, w *csv.Writer) error {
		return w.Write([]string{formatFloat(rec.AvgRTT), formatFloat(rec.Distance)})
	})
}

func (c *CSVOutput) Complete(shared.Summary) error { return nil }

func (c *CSVOutput) Close() error { return nil }

func (c *CSVOutput) withWriter(fn func(*os.File, *csv.Writer) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	f, err := os.OpenFile(c.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open result file: %w", err)
	}
	w := csv.NewWriter(f)
	if err := fn(f, w); err != nil {
		f.Close()
		return fmt.Errorf("write result file: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("write result file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close result file: %w", err)
	}
	return nil
}

// formatFloat renders the shortest decimal that round-trips.
func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
