package geo

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"

	"github.com/oschwald/maxminddb-golang"
	"github.com/tkjaer/rttdist/internal/shared"
)

// cityRecord is the part of a GeoIP2/GeoLite2 City record we decode.
type cityRecord struct {
	Location struct {
		Latitude  *float64 `maxminddb:"latitude"`
		Longitude *float64 `maxminddb:"longitude"`
	} `maxminddb:"location"`
}

type mmdbReader interface {
	LookupNetwork(ip net.IP, result any) (*net.IPNet, bool, error)
	Close() error
}

// MMDBResolver resolves addresses from a local MaxMind City database. It
// makes no network calls, so it needs no throttle.
type MMDBResolver struct {
	db mmdbReader
}

// openMMDB is a variable for mocking in tests.
var openMMDB = func(path string) (mmdbReader, error) {
	return maxminddb.Open(path)
}

func OpenMMDB(path string) (*MMDBResolver, error) {
	db, err := openMMDB(path)
	if err != nil {
		return nil, fmt.Errorf("open geoip database: %w", err)
	}
	return &MMDBResolver{db: db}, nil
}

func (r *MMDBResolver) Resolve(_ context.Context, addr netip.Addr) (shared.Coordinate, error) {
	var record cityRecord
	_, ok, err := r.db.LookupNetwork(net.IP(addr.AsSlice()), &record)
	if err != nil {
		return shared.Coordinate{}, &LookupError{Addr: addr, Reason: ReasonDecode, Err: err}
	}
	if !ok || record.Location.Latitude == nil || record.Location.Longitude == nil {
		return shared.Coordinate{}, &LookupError{Addr: addr, Reason: ReasonNotInDB, Err: errors.New("no location record")}
	}

	c := shared.Coordinate{Lat: *record.Location.Latitude, Lon: *record.Location.Longitude}
	if !c.Valid() {
		return shared.Coordinate{}, &LookupError{Addr: addr, Reason: ReasonInvalid, Err: fmt.Errorf("coordinate %v out of range", c)}
	}
	return c, nil
}

func (r *MMDBResolver) Close() error {
	return r.db.Close()
}
