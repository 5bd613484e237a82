// Package targets reads the target list produced by the mirror scraper.
//
// The file is CSV with a header row. Only the "ip" column is required; a
// "server" column, when present, is carried along as the host name.
package targets

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/netip"
	"os"
	"strings"

	"github.com/tkjaer/rttdist/internal/shared"
)

var ErrNoIPColumn = errors.New("target list has no 'ip' column")

// Load reads all targets from the CSV file at path.
func Load(path string) ([]shared.Target, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open target list: %w", err)
	}
	defer f.Close()

	targets, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("read target list %s: %w", path, err)
	}
	return targets, nil
}

// Read parses targets in source order. Rows with an unparsable address are
// logged and skipped; structural CSV errors abort.
func Read(r io.Reader) ([]shared.Target, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, ErrNoIPColumn
	}
	if err != nil {
		return nil, err
	}

	ipCol, serverCol := -1, -1
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))) {
		case "ip":
			ipCol = i
		case "server":
			serverCol = i
		}
	}
	if ipCol < 0 {
		return nil, ErrNoIPColumn
	}

	var targets []shared.Target
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		line, _ := cr.FieldPos(0)

		if ipCol >= len(record) {
			slog.Warn("Skipping target row without ip field", "line", line)
			continue
		}
		raw := strings.TrimSpace(record[ipCol])
		if raw == "" {
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			slog.Warn("Skipping invalid target address", "line", line, "ip", raw, "error", err)
			continue
		}

		t := shared.Target{Addr: addr.Unmap(), Line: line}
		if serverCol >= 0 && serverCol < len(record) {
			t.Server = strings.TrimSpace(record[serverCol])
		}
		targets = append(targets, t)
	}

	return targets, nil
}
