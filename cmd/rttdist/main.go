package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tkjaer/rttdist/internal/config"
	"github.com/tkjaer/rttdist/internal/geo"
	"github.com/tkjaer/rttdist/internal/measure"
	"github.com/tkjaer/rttdist/internal/output"
	"github.com/tkjaer/rttdist/internal/probe"
	"github.com/tkjaer/rttdist/internal/targets"
	"github.com/tkjaer/rttdist/internal/version"
	"github.com/tkjaer/rttdist/pkg/ptr"
)

func main() {
	args, err := config.ParseArgs()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// Setup logging
	logFile, err := config.SetupLogging(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to setup logging: %v\n", err)
		os.Exit(1)
	}

	err = run(args)
	if logFile != nil {
		logFile.Close()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args config.Args) error {
	runID := uuid.NewString()
	logger := slog.With("run_id", runID)
	logger.Info("Starting rttdist",
		"version", version.Version,
		"targets", args.TargetsFile,
		"output", args.OutputFile,
		"resolver", args.ResolverName(),
		"count", args.Count,
		"max_failures", args.MaxFailures,
		"timeout", args.Timeout,
	)

	list, err := targets.Load(args.TargetsFile)
	if err != nil {
		return err
	}
	logger.Info("Loaded targets", "count", len(list))

	resolver, throttle, closeResolver, err := newResolver(args)
	if err != nil {
		return err
	}
	defer closeResolver()

	outputs, err := newOutputs(args)
	if err != nil {
		return err
	}
	defer func() {
		if err := outputs.Close(); err != nil {
			logger.Warn("Closing outputs failed", "error", err)
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := measure.NewMetrics(registry)
	if args.MetricsAddr != "" {
		srv := serveMetrics(args.MetricsAddr, registry)
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(ctx)
		}()
	}

	prober := probe.New(probe.Config{
		MaxAttempts:            args.Count,
		MaxConsecutiveFailures: args.MaxFailures,
		Timeout:                args.Timeout,
		Privileged:             args.Privileged,
	})
	defer prober.Close()

	// Set up signal handling for Ctrl+C
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case <-sigChan:
			logger.Info("Received interrupt signal, stopping...")
			cancel()
		case <-ctx.Done():
		}
	}()

	orchestrator := measure.New(measure.Config{
		RunID:    runID,
		Locator:  newLocator(args),
		Resolver: resolver,
		Throttle: throttle,
		Prober:   prober,
		Sink:     outputs,
		Metrics:  metrics,
		Names:    newNamer(args),
	})

	summary, err := orchestrator.Run(ctx, list)
	logger.Info("Run summary",
		"targets", summary.Targets,
		"located", summary.Located,
		"unlocatable", summary.Unlocatable,
		"unreachable", summary.Unreachable,
		"recorded", summary.Recorded,
		"lookups", summary.Lookups,
		"throttle_waits", summary.ThrottleWaits,
		"throttle_time", summary.ThrottleTime,
		"elapsed", summary.Elapsed,
	)
	if errors.Is(err, context.Canceled) {
		logger.Info("Run interrupted, records written so far are complete")
		return nil
	}
	return err
}

// newResolver picks the offline database when configured, otherwise the
// rate limited HTTP service.
func newResolver(args config.Args) (measure.Resolver, measure.Throttle, func(), error) {
	if args.GeoIPDatabase != "" {
		if args.GeoEndpoint != config.DefaultGeoEndpoint {
			slog.Warn("Both --geoip-db and --geo-endpoint given, using the database", "geoip_db", args.GeoIPDatabase)
		}
		db, err := geo.OpenMMDB(args.GeoIPDatabase)
		if err != nil {
			return nil, nil, nil, err
		}
		return db, geo.Unlimited{}, func() { db.Close() }, nil
	}
	return geo.NewHTTPResolver(args.GeoEndpoint, args.HTTPTimeout),
		geo.NewThrottle(args.LookupBudget, args.LookupWindow),
		func() {},
		nil
}

func newLocator(args config.Args) measure.Locator {
	if c, ok := args.SelfCoordinate(); ok {
		return geo.StaticLocator(c)
	}
	return geo.NewSelfLocator(args.SelfEndpoint, args.HTTPTimeout)
}

func newNamer(args config.Args) measure.Namer {
	if !args.ResolvePTR {
		return nil
	}
	return ptr.NewPtrManager()
}

// newOutputs registers the CSV result file and any optional sinks.
func newOutputs(args config.Args) (*output.OutputManager, error) {
	om := &output.OutputManager{}
	om.Register(output.NewCSVOutput(args.OutputFile))

	if args.JsonFile != "" {
		j, err := output.NewJSONOutput(args.JsonFile)
		if err != nil {
			om.Close()
			return nil, fmt.Errorf("open JSON output: %w", err)
		}
		om.Register(j)
	}
	if args.SQLiteFile != "" {
		s, err := output.NewSQLiteOutput(args.SQLiteFile)
		if err != nil {
			om.Close()
			return nil, err
		}
		om.Register(s)
	}
	return om, nil
}

func metricsHandler(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	return mux
}

func serveMetrics(addr string, reg *prometheus.Registry) *http.Server {
	srv := &http.Server{Addr: addr, Handler: metricsHandler(reg), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		slog.Info("Serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server failed", "error", err)
		}
	}()
	return srv
}
