package output

import (
	"encoding/json"
	"os"
	"sync"

	"github.com/tkjaer/rttdist/internal/shared"
)

// jsonLine is one line of JSON output. Exactly one of the embedded record or
// the summary is set.
type jsonLine struct {
	Type string `json:"type"`
	*shared.MeasurementRecord
	Summary *shared.Summary `json:"summary,omitempty"`
}

// JSONOutput appends records as JSON lines to a file, or stdout for "-".
type JSONOutput struct {
	mu       sync.Mutex
	file     *os.File
	enc      *json.Encoder
	toStdout bool
}

func NewJSONOutput(filename string) (*JSONOutput, error) {
	if filename == "-" {
		return &JSONOutput{
			file:     os.Stdout,
			enc:      json.NewEncoder(os.Stdout),
			toStdout: true,
		}, nil
	}
	f, err := os.OpenFile(filename, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &JSONOutput{
		file: f,
		enc:  json.NewEncoder(f),
	}, nil
}

func (j *JSONOutput) WriteHeader() error { return nil }

func (j *JSONOutput) Append(rec shared.MeasurementRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.enc.Encode(jsonLine{Type: "measurement", MeasurementRecord: &rec})
}

func (j *JSONOutput) Complete(summary shared.Summary) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.enc.Encode(jsonLine{Type: "summary", Summary: &summary})
}

func (j *JSONOutput) Close() error {
	if j.toStdout {
		return nil
	}
	return j.file.Close()
}
