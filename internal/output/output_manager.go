package output

import (
	"errors"
	"sync"

	"github.com/tkjaer/rttdist/internal/shared"
)

// Output interface for different output types
type Output interface {
	// WriteHeader prepares the output at the start of a run.
	WriteHeader() error
	// Append persists one record before it returns.
	Append(rec shared.MeasurementRecord) error
	// Complete receives the run summary once all targets are processed.
	Complete(summary shared.Summary) error
	Close() error
}

// OutputManager manages multiple outputs. Calls are serialized so records
// from concurrent callers never interleave.
type OutputManager struct {
	mu      sync.Mutex
	outputs []Output
}

func (om *OutputManager) Register(o Output) {
	om.mu.Lock()
	defer om.mu.Unlock()
	om.outputs = append(om.outputs, o)
}

func (om *OutputManager) WriteHeader() error {
	return om.each(func(o Output) error { return o.WriteHeader() })
}

func (om *OutputManager) Append(rec shared.MeasurementRecord) error {
	return om.each(func(o Output) error { return o.Append(rec) })
}

func (om *OutputManager) Complete(summary shared.Summary) error {
	return om.each(func(o Output) error { return o.Complete(summary) })
}

func (om *OutputManager) Close() error {
	return om.each(func(o Output) error { return o.Close() })
}

// each calls fn on every output, even after a failure, and joins the errors.
func (om *OutputManager) each(fn func(Output) error) error {
	om.mu.Lock()
	defer om.mu.Unlock()

	var errs []error
	for _, o := range om.outputs {
		if err := fn(o); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
