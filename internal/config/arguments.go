package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	flag "github.com/spf13/pflag"
	"github.com/tkjaer/rttdist/internal/shared"
	"github.com/tkjaer/rttdist/internal/version"
)

type Args struct {
	// Input and output
	TargetsFile string
	OutputFile  string
	JsonFile    string // also append records as JSON lines
	SQLiteFile  string // also insert records into SQLite

	// Probing
	Count       uint
	MaxFailures uint
	Timeout     time.Duration
	Privileged  bool // raw ICMP sockets instead of datagram ICMP

	// Geolocation
	LookupBudget  uint
	LookupWindow  time.Duration
	GeoEndpoint   string
	SelfEndpoint  string
	SelfLocation  string
	GeoIPDatabase string
	HTTPTimeout   time.Duration
	ResolvePTR    bool // reverse DNS names for JSON and SQLite records

	// Observability
	MetricsAddr string
	Log         string // log file path, empty means stderr only
	LogLevel    string // log level: debug, info, warn, error
	LogFormat   string // text, json or empty for auto
}

const (
	DefaultGeoEndpoint  = "http://ip-api.com/json/"
	DefaultSelfEndpoint = "https://ipinfo.io/json"
)

func ParseArgs() (Args, error) {
	var args Args
	var showVersion bool

	flag.Usage = func() {
		println("rttdist - RTT versus geographic distance")
		println()
		println("Probes every address of a target list with ICMP echo, geolocates it and")
		println("appends one (avg_rtt, distance) row per reachable, locatable target.")
		println()
		println("Usage:")
		println("  rttdist [OPTIONS]")
		println()
		println("Examples:")
		println("  rttdist                                   # server_list.csv -> rtt_distance.csv")
		println("  rttdist -i mirrors.csv -o out.csv -t 800ms -f 5")
		println("  rttdist --geoip-db GeoLite2-City.mmdb --self-location 52.52,13.40")
		println()
		println("Options:")
		flag.PrintDefaults()
	}

	flag.BoolVarP(&showVersion, "version", "v", false, "Show version information")
	flag.StringVarP(&args.TargetsFile, "targets", "i", "server_list.csv", "Target list (CSV with an 'ip' column)")
	flag.StringVarP(&args.OutputFile, "output", "o", "rtt_distance.csv", "Result CSV, appended to")
	flag.StringVarP(&args.JsonFile, "json-file", "j", "", "Also append records as JSON lines to this file")
	flag.StringVar(&args.SQLiteFile, "sqlite", "", "Also insert records into this SQLite database")

	flag.UintVarP(&args.Count, "count", "c", 20, "Maximum echo requests per target")
	flag.UintVarP(&args.MaxFailures, "max-failures", "f", 20, "Stop probing a target after this many consecutive timeouts")
	flag.DurationVarP(&args.Timeout, "timeout", "t", 3*time.Second, "Per-request reply timeout")
	flag.BoolVar(&args.Privileged, "privileged", false, "Use raw ICMP sockets (requires CAP_NET_RAW or root)")

	flag.UintVar(&args.LookupBudget, "lookup-budget", 30, "Geolocation lookups allowed per window")
	flag.DurationVar(&args.LookupWindow, "lookup-window", 60*time.Second, "Geolocation rate limit window")
	flag.StringVar(&args.GeoEndpoint, "geo-endpoint", DefaultGeoEndpoint, "Geolocation service base URL, the address is appended")
	flag.StringVar(&args.SelfEndpoint, "self-endpoint", DefaultSelfEndpoint, "Self-location service URL")
	flag.StringVar(&args.SelfLocation, "self-location", "", "Own location as 'lat,lon' (skips the self-location lookup)")
	flag.StringVar(&args.GeoIPDatabase, "geoip-db", "", "MaxMind City database used instead of the geolocation service")
	flag.DurationVar(&args.HTTPTimeout, "http-timeout", 10*time.Second, "Timeout for geolocation HTTP requests")
	flag.BoolVar(&args.ResolvePTR, "ptr", false, "Look up PTR names of targets without a server name")

	flag.StringVar(&args.MetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9108)")
	flag.StringVarP(&args.Log, "log", "l", "", "Diagnostic log file (logs always go to stderr too)")
	flag.StringVar(&args.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")
	flag.StringVar(&args.LogFormat, "log-format", "", "Log format: text or json (default: text on a terminal, json otherwise)")
	flag.Parse()

	if showVersion {
		fmt.Println(version.FullVersion())
		os.Exit(0)
	}

	if flag.NArg() > 0 {
		return args, fmt.Errorf("unexpected argument %q", flag.Arg(0))
	}

	switch {
	case args.TargetsFile == "":
		return args, errors.New("targets file is required")
	case args.OutputFile == "":
		return args, errors.New("output file is required")
	case args.Count == 0:
		return args, errors.New("count must be at least 1")
	case args.Count > 65536:
		return args, errors.New("count must not exceed 65536 (sequence numbers are 16 bits)")
	case args.MaxFailures == 0:
		return args, errors.New("max failures must be at least 1")
	case args.Timeout <= 0:
		return args, errors.New("timeout must be positive")
	case args.LookupBudget == 0:
		return args, errors.New("lookup budget must be at least 1")
	case args.LookupWindow <= 0:
		return args, errors.New("lookup window must be positive")
	case args.HTTPTimeout <= 0:
		return args, errors.New("http timeout must be positive")
	case args.LogFormat != "" && args.LogFormat != "text" && args.LogFormat != "json":
		return args, errors.New("log format must be either 'text' or 'json'")
	}

	if args.SelfLocation != "" {
		if _, err := shared.ParseCoordinate(args.SelfLocation); err != nil {
			return args, fmt.Errorf("invalid self location: %w", err)
		}
	}

	return args, nil
}

// SelfCoordinate returns the configured own location, if any.
func (a Args) SelfCoordinate() (shared.Coordinate, bool) {
	if a.SelfLocation == "" {
		return shared.Coordinate{}, false
	}
	c, err := shared.ParseCoordinate(a.SelfLocation)
	if err != nil {
		return shared.Coordinate{}, false
	}
	return c, true
}

// ResolverName returns the geolocation backend selected by args
func (a Args) ResolverName() string {
	if a.GeoIPDatabase != "" {
		return "geoip-db"
	}
	return "http"
}
