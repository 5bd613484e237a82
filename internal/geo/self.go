package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tkjaer/rttdist/internal/shared"
	"github.com/tkjaer/rttdist/internal/version"
)

// ipinfoResponse is the subset of the ipinfo.io /json body we use.
type ipinfoResponse struct {
	IP      string `json:"ip"`
	City    string `json:"city"`
	Country string `json:"country"`
	Loc     string `json:"loc"`
}

// SelfLocator finds the coordinate of the machine running the measurement
// from its public address.
type SelfLocator struct {
	client    *http.Client
	endpoint  string
	userAgent string
}

func NewSelfLocator(endpoint string, timeout time.Duration) *SelfLocator {
	return &SelfLocator{
		client:    &http.Client{Timeout: timeout},
		endpoint:  endpoint,
		userAgent: version.UserAgent(),
	}
}

// Locate queries the self-location service once. There is no fallback.
func (s *SelfLocator) Locate(ctx context.Context) (shared.Coordinate, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint, nil)
	if err != nil {
		return shared.Coordinate{}, fmt.Errorf("self location: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", s.userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return shared.Coordinate{}, fmt.Errorf("self location: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return shared.Coordinate{}, fmt.Errorf("self location: unexpected status %s", resp.Status)
	}

	var info ipinfoResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodySize)).Decode(&info); err != nil {
		return shared.Coordinate{}, fmt.Errorf("self location: decode response: %w", err)
	}
	c, err := shared.ParseCoordinate(info.Loc)
	if err != nil {
		return shared.Coordinate{}, fmt.Errorf("self location: %w", err)
	}
	return c, nil
}

// StaticLocator returns a fixed coordinate, set with --self-location.
type StaticLocator shared.Coordinate

func (s StaticLocator) Locate(context.Context) (shared.Coordinate, error) {
	return shared.Coordinate(s), nil
}
