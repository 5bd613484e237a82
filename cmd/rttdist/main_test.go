package main

import (
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tkjaer/rttdist/internal/config"
	"github.com/tkjaer/rttdist/internal/geo"
	"github.com/tkjaer/rttdist/internal/measure"
	"github.com/tkjaer/rttdist/internal/shared"
)

func TestNewLocator(t *testing.T) {
	static := newLocator(config.Args{SelfLocation: "52.52,13.405"})
	got, ok := static.(geo.StaticLocator)
	if !ok {
		t.Fatalf("locator with override = %T, want geo.StaticLocator", static)
	}
	if shared.Coordinate(got) != (shared.Coordinate{Lat: 52.52, Lon: 13.405}) {
		t.Errorf("static coordinate = %v", shared.Coordinate(got))
	}

	if _, ok := newLocator(config.Args{SelfEndpoint: config.DefaultSelfEndpoint}).(*geo.SelfLocator); !ok {
		t.Error("locator without override should query the self-location service")
	}
}

func TestNewResolver(t *testing.T) {
	resolver, throttle, closeFn, err := newResolver(config.Args{
		GeoEndpoint:  config.DefaultGeoEndpoint,
		LookupBudget: 30,
		LookupWindow: 60e9,
		HTTPTimeout:  10e9,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer closeFn()
	if _, ok := resolver.(*geo.HTTPResolver); !ok {
		t.Errorf("resolver = %T, want *geo.HTTPResolver", resolver)
	}
	if _, ok := throttle.(*geo.Throttle); !ok {
		t.Errorf("throttle = %T, want *geo.Throttle", throttle)
	}
}

func TestNewResolverMissingDatabase(t *testing.T) {
	_, _, _, err := newResolver(config.Args{GeoIPDatabase: filepath.Join(t.TempDir(), "missing.mmdb")})
	if err == nil {
		t.Error("expected error for a missing GeoIP database")
	}
}

func TestNewOutputs(t *testing.T) {
	dir := t.TempDir()
	om, err := newOutputs(config.Args{
		OutputFile: filepath.Join(dir, "rtt_distance.csv"),
		JsonFile:   filepath.Join(dir, "records.jsonl"),
		SQLiteFile: filepath.Join(dir, "rttdist.db"),
	})
	if err != nil {
		t.Fatal(err)
	}
	var sink measure.Sink = om
	if err := sink.WriteHeader(); err != nil {
		t.Fatal(err)
	}
	if err := sink.Append(shared.MeasurementRecord{Target: "1.1.1.1", AvgRTT: 1, Distance: 2}); err != nil {
		t.Fatal(err)
	}
	if err := om.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestNewOutputsBadJSONPath(t *testing.T) {
	_, err := newOutputs(config.Args{
		OutputFile: filepath.Join(t.TempDir(), "rtt_distance.csv"),
		JsonFile:   filepath.Join(t.TempDir(), "missing", "records.jsonl"),
	})
	if err == nil {
		t.Error("expected error for an unwritable JSON path")
	}
}

func TestMetricsHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	measure.NewMetrics(reg)
	srv := httptest.NewServer(metricsHandler(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "rttdist_echo_attempts_total") {
		t.Errorf("/metrics status %d, body lacks rttdist metrics", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "OK" {
		t.Errorf("/health body = %q", body)
	}
}

func TestNewNamer(t *testing.T) {
	if n := newNamer(config.Args{}); n != nil {
		t.Errorf("namer without --ptr = %T, want nil", n)
	}
	if n := newNamer(config.Args{ResolvePTR: true}); n == nil {
		t.Error("namer with --ptr should not be nil")
	}
}
