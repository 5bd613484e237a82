package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/tkjaer/rttdist/internal/shared"
	"github.com/tkjaer/rttdist/internal/version"
)

// ErrNotFound is wrapped by every failed lookup. Callers skip the target.
var ErrNotFound = errors.New("location not found")

// Lookup failure classes, also used as metric labels.
const (
	ReasonTransport   = "transport"
	ReasonHTTPStatus  = "http_status"
	ReasonContentType = "content_type"
	ReasonDecode      = "decode"
	ReasonService     = "service"
	ReasonInvalid     = "invalid_coordinate"
	ReasonNotInDB     = "not_in_db"
)

// maxBodySize bounds how much of a geolocation response is read.
const maxBodySize = 1 << 20

// LookupError describes why an address could not be located.
type LookupError struct {
	Addr   netip.Addr
	Reason string
	Err    error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("geolocate %s: %s: %v", e.Addr, e.Reason, e.Err)
}

func (e *LookupError) Unwrap() []error {
	return []error{ErrNotFound, e.Err}
}

// ipAPIResponse is the JSON body returned by ip-api.com style services.
type ipAPIResponse struct {
	Status  string  `json:"status"`
	Message string  `json:"message"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
}

// HTTPResolver looks addresses up with one GET request each. It neither
// caches nor retries; rate limiting is the caller's job.
type HTTPResolver struct {
	client    *http.Client
	endpoint  string
	userAgent string
}

// NewHTTPResolver returns a resolver that requests endpoint+address.
func NewHTTPResolver(endpoint string, timeout time.Duration) *HTTPResolver {
	if !strings.HasSuffix(endpoint, "/") {
		endpoint += "/"
	}
	return &HTTPResolver{
		client:    &http.Client{Timeout: timeout},
		endpoint:  endpoint,
		userAgent: version.UserAgent(),
	}
}

// Resolve returns the coordinate of addr. Any failure wraps ErrNotFound,
// except cancellation of ctx which is returned as is.
func (r *HTTPResolver) Resolve(ctx context.Context, addr netip.Addr) (shared.Coordinate, error) {
	fail := func(reason string, err error) (shared.Coordinate, error) {
		return shared.Coordinate{}, &LookupError{Addr: addr, Reason: reason, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.endpoint+addr.String(), nil)
	if err != nil {
		return fail(ReasonTransport, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", r.userAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return shared.Coordinate{}, ctx.Err()
		}
		return fail(ReasonTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fail(ReasonHTTPStatus, fmt.Errorf("unexpected status %s", resp.Status))
	}
	if !isJSON(resp.Header.Get("Content-Type")) {
		return fail(ReasonContentType, fmt.Errorf("non-JSON response %q", resp.Header.Get("Content-Type")))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return fail(ReasonTransport, err)
	}
	var out ipAPIResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return fail(ReasonDecode, err)
	}
	if out.Status != "success" {
		msg := out.Message
		if msg == "" {
			msg = "unknown error"
		}
		return fail(ReasonService, errors.New(msg))
	}

	c := shared.Coordinate{Lat: out.Lat, Lon: out.Lon}
	if !c.Valid() {
		return fail(ReasonInvalid, fmt.Errorf("coordinate %v out of range", c))
	}
	return c, nil
}

// isJSON reports whether a Content-Type header names a JSON media type.
func isJSON(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

// Reason extracts the failure class of a lookup error, or "" if err is not one.
func Reason(err error) string {
	var le *LookupError
	if errors.As(err, &le) {
		return le.Reason
	}
	return ""
}
