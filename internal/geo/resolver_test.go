package geo

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/tkjaer/rttdist/internal/shared"
)

func TestHTTPResolverResolve(t *testing.T) {
	var gotPath, gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Write([]byte(`{"status":"success","country":"United States","lat":37,"lon":-122,"query":"1.1.1.1"}`))
	}))
	defer srv.Close()

	r := NewHTTPResolver(srv.URL+"/json", time.Second)
	got, err := r.Resolve(context.Background(), netip.MustParseAddr("1.1.1.1"))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if want := (shared.Coordinate{Lat: 37, Lon: -122}); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if gotPath != "/json/1.1.1.1" {
		t.Errorf("request path = %q", gotPath)
	}
	if !strings.HasPrefix(gotUA, "rttdist/") {
		t.Errorf("User-Agent = %q", gotUA)
	}
}

func TestHTTPResolverFailures(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		contentType string
		body        string
		reason      string
	}{
		{"service failure", 200, "application/json", `{"status":"fail","message":"private range"}`, ReasonService},
		{"failure without message", 200, "application/json", `{"status":"fail"}`, ReasonService},
		{"server error", 500, "application/json", `{}`, ReasonHTTPStatus},
		{"rate limited", 429, "application/json", `{}`, ReasonHTTPStatus},
		{"html body", 200, "text/html", `<html>busy</html>`, ReasonContentType},
		{"missing content type", 200, "", `{"status":"success"}`, ReasonContentType},
		{"malformed json", 200, "application/json", `{"status":`, ReasonDecode},
		{"out of range", 200, "application/json", `{"status":"success","lat":123,"lon":0}`, ReasonInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.contentType != "" {
					w.Header().Set("Content-Type", tt.contentType)
				} else {
					w.Header()["Content-Type"] = nil
				}
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			r := NewHTTPResolver(srv.URL+"/", time.Second)
			addr := netip.MustParseAddr("10.255.255.1")
			_, err := r.Resolve(context.Background(), addr)
			if !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
			if got := Reason(err); got != tt.reason {
				t.Errorf("reason = %q, want %q", got, tt.reason)
			}
			if !strings.Contains(err.Error(), addr.String()) {
				t.Errorf("error %q does not name the address", err)
			}
		})
	}
}

func TestHTTPResolverTransportError(t *testing.T) {
	// Grab a free port and close it so the connection is refused.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	endpoint := "http://" + l.Addr().String() + "/json/"
	l.Close()

	r := NewHTTPResolver(endpoint, time.Second)
	_, err = r.Resolve(context.Background(), netip.MustParseAddr("1.1.1.1"))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if Reason(err) != ReasonTransport {
		t.Errorf("reason = %q", Reason(err))
	}
}

func TestHTTPResolverCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := NewHTTPResolver(srv.URL+"/", time.Second)
	_, err := r.Resolve(ctx, netip.MustParseAddr("1.1.1.1"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if errors.Is(err, ErrNotFound) {
		t.Error("cancellation should not be reported as not found")
	}
}

func TestIsJSON(t *testing.T) {
	tests := map[string]bool{
		"application/json":                true,
		"application/json; charset=utf-8": true,
		"application/problem+json":        true,
		"text/plain":                      false,
		"":                                false,
		";;":                              false,
	}
	for in, want := range tests {
		if got := isJSON(in); got != want {
			t.Errorf("isJSON(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestReasonOnForeignError(t *testing.T) {
	if got := Reason(errors.New("boom")); got != "" {
		t.Errorf("Reason = %q, want empty", got)
	}
}
