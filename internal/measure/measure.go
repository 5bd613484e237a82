package measure

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/tkjaer/rttdist/internal/geo"
	"github.com/tkjaer/rttdist/internal/shared"
	"github.com/tkjaer/rttdist/pkg/route"
)

type Locator interface {
	Locate(ctx context.Context) (shared.Coordinate, error)
}

type Resolver interface {
	Resolve(ctx context.Context, addr netip.Addr) (shared.Coordinate, error)
}

type Throttle interface {
	Allow(ctx context.Context) (time.Duration, error)
}

type Prober interface {
	Probe(ctx context.Context, target netip.Addr) (shared.ProbeOutcome, error)
}

type Sink interface {
	WriteHeader() error
	Append(rec shared.MeasurementRecord) error
	Complete(summary shared.Summary) error
}

// Namer gives a target address a host name for the richer sinks.
type Namer interface {
	Lookup(ctx context.Context, addr netip.Addr) (string, bool)
}

// Config wires the collaborators of a run. Throttle, Metrics and Names are
// optional.
type Config struct {
	RunID    string
	Locator  Locator
	Resolver Resolver
	Throttle Throttle
	Prober   Prober
	Sink     Sink
	Metrics  *Metrics
	Names    Namer
}

// Orchestrator processes targets one at a time: geolocate, probe, and record
// when both succeeded.
type Orchestrator struct {
	runID    string
	locator  Locator
	resolver Resolver
	throttle Throttle
	prober   Prober
	sink     Sink
	metrics  *Metrics
	names    Namer
	logger   *slog.Logger

	distance func(a, b shared.Coordinate) float64
	now      func() time.Time
}

func New(cfg Config) *Orchestrator {
	o := &Orchestrator{
		runID:    cfg.RunID,
		locator:  cfg.Locator,
		resolver: cfg.Resolver,
		throttle: cfg.Throttle,
		prober:   cfg.Prober,
		sink:     cfg.Sink,
		metrics:  cfg.Metrics,
		names:    cfg.Names,
		logger:   slog.Default().With("run_id", cfg.RunID),
		distance: geo.Distance,
		now:      time.Now,
	}
	if o.throttle == nil {
		o.throttle = geo.Unlimited{}
	}
	if o.metrics == nil {
		o.metrics = newMetricsWithRegistry(prometheus.NewRegistry())
	}
	return o
}

// Run measures every target in order. The self location is looked up once
// and the sink header is written before the first target.
//
// Per-target failures are logged and counted. Errors from the self location,
// the sink, the probing socket, or ctx end the run; the summary covers what
// was done until then.
func (o *Orchestrator) Run(ctx context.Context, targets []shared.Target) (shared.Summary, error) {
	start := o.now()
	summary := shared.Summary{RunID: o.runID, Targets: len(targets)}

	self, err := o.locator.Locate(ctx)
	if err != nil {
		return summary, fmt.Errorf("locate self: %w", err)
	}
	o.logger.Info("Self location", "lat", self.Lat, "lon", self.Lon)

	if err := o.sink.WriteHeader(); err != nil {
		return summary, fmt.Errorf("write header: %w", err)
	}

	var runErr error
	for i, t := range targets {
		if runErr = ctx.Err(); runErr != nil {
			break
		}
		o.logger.Info("Processing target", "target", t.Addr, "index", i+1, "total", len(targets))
		if runErr = o.measure(ctx, t, self, &summary); runErr != nil {
			break
		}
	}
	summary.Elapsed = o.now().Sub(start)

	// A failing sink cannot take the summary either.
	if runErr != nil && !errors.Is(runErr, context.Canceled) && !errors.Is(runErr, context.DeadlineExceeded) {
		return summary, runErr
	}
	if err := o.sink.Complete(summary); err != nil {
		return summary, errors.Join(runErr, fmt.Errorf("write summary: %w", err))
	}
	return summary, runErr
}

// measure handles one target. Only ctx cancellation, prober failures other
// than a missing route, and sink errors are returned; every other failure
// skips the target.
func (o *Orchestrator) measure(ctx context.Context, t shared.Target, self shared.Coordinate, s *shared.Summary) error {
	log := o.logger.With("target", t.Addr)

	waited, err := o.throttle.Allow(ctx)
	if err != nil {
		return err
	}
	if waited > 0 {
		s.ThrottleWaits++
		s.ThrottleTime += waited
		o.metrics.throttled(waited)
		log.Info("Throttling geolocation lookups", "waited", waited)
	}

	s.Lookups++
	loc, err := o.resolver.Resolve(ctx, t.Addr)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.Unlocatable++
		o.metrics.lookup(lookupResult(err))
		o.metrics.target(OutcomeUnlocatable)
		log.Warn("Geolocation failed", "reason", geo.Reason(err), "err", err)
		return nil
	}
	s.Located++
	o.metrics.lookup("success")

	outcome, err := o.prober.Probe(ctx, t.Addr)
	o.metrics.probed(outcome.Attempts, outcome.Late, outcome.RTTs())
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// Socket and netlink failures hit every later target too.
		if !errors.Is(err, route.ErrNoRoute) {
			return fmt.Errorf("probe %s: %w", t.Addr, err)
		}
		s.Unreachable++
		o.metrics.target(OutcomeUnreachable)
		log.Warn("Target unreachable", "err", err)
		return nil
	}

	stats, err := outcome.Stats()
	if err != nil {
		s.Unreachable++
		o.metrics.target(OutcomeNoReply)
		log.Info("Target unreachable", "attempts", outcome.Attempts, "late", outcome.Late, "aborted", outcome.Aborted)
		return nil
	}

	now := o.now()
	rec := shared.MeasurementRecord{
		RunID:     o.runID,
		Target:    t.Addr.String(),
		Hostname:  o.hostname(ctx, t),
		Location:  loc,
		AvgRTT:    stats.Mean,
		Distance:  o.distance(self, loc),
		Samples:   stats.Count,
		MinRTT:    stats.Min,
		MedianRTT: stats.Median,
		MaxRTT:    stats.Max,
		StdDevRTT: stats.StdDev,
		Timestamp: now,
	}
	if err := o.sink.Append(rec); err != nil {
		return fmt.Errorf("record %s: %w", t.Addr, err)
	}
	s.Recorded++
	o.metrics.target(OutcomeRecorded)
	o.metrics.recorded(rec.Distance, now)
	log.Info("Measurement recorded",
		"avg_rtt", rec.AvgRTT,
		"distance", rec.Distance,
		"samples", rec.Samples,
		"attempts", outcome.Attempts,
		"late", outcome.Late,
		"lat", loc.Lat,
		"lon", loc.Lon,
	)
	return nil
}

// hostname prefers the name given in the target list over reverse DNS.
func (o *Orchestrator) hostname(ctx context.Context, t shared.Target) string {
	if t.Server != "" || o.names == nil {
		return t.Server
	}
	name, _ := o.names.Lookup(ctx, t.Addr)
	return name
}

func lookupResult(err error) string {
	if reason := geo.Reason(err); reason != "" {
		return reason
	}
	return "error"
}
