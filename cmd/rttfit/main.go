// Command rttfit fits a line through the (distance, avg_rtt) rows that
// rttdist appends to its result file.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/tkjaer/rttdist/internal/config"
	"github.com/tkjaer/rttdist/internal/fit"
	"github.com/tkjaer/rttdist/internal/version"
)

type options struct {
	input    string
	asJSON   bool
	logLevel string
}

func main() {
	var opts options
	var showVersion bool
	flag.BoolVarP(&showVersion, "version", "v", false, "Show version information")
	flag.StringVarP(&opts.input, "input", "i", "rtt_distance.csv", "Result CSV written by rttdist")
	flag.BoolVarP(&opts.asJSON, "json", "j", false, "Print the fit as JSON")
	flag.StringVar(&opts.logLevel, "log-level", "warn", "Log level: debug, info, warn, error")
	flag.Parse()

	if showVersion {
		fmt.Println(version.FullVersion())
		return
	}

	if _, err := config.SetupLogging(config.Args{LogLevel: opts.logLevel}); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to setup logging: %v\n", err)
		os.Exit(1)
	}

	if err := run(opts, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(opts options, w io.Writer) error {
	points, err := fit.Load(opts.input)
	if err != nil {
		return err
	}
	slog.Debug("Loaded result rows", "input", opts.input, "rows", len(points))

	line, err := fit.Linear(points)
	if err != nil {
		return fmt.Errorf("fit %d rows: %w", len(points), err)
	}

	if opts.asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(line)
	}
	fmt.Fprintf(w, "RTT per distance: %.6f ms/km\n", line.Slope)
	fmt.Fprintf(w, "Intercept:        %.3f ms\n", line.Intercept)
	fmt.Fprintf(w, "Correlation (r):  %.4f\n", line.R)
	fmt.Fprintf(w, "Points:           %d\n", line.N)
	return nil
}
