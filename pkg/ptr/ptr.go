package ptr

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"strings"
	"sync"
	"time"
)

// PtrManager handles PTR lookups with simple caching. Failed lookups are
// cached too, so every address is resolved at most once.
type PtrManager struct {
	mu         sync.Mutex
	cache      map[netip.Addr]string
	lookupFunc func(ctx context.Context, addr string) ([]string, error)
	retries    int
	retryDelay time.Duration
}

// NewPtrManager creates a new PtrManager using the system resolver
func NewPtrManager() *PtrManager {
	return &PtrManager{
		cache:      make(map[netip.Addr]string),
		lookupFunc: net.DefaultResolver.LookupAddr,
		retries:    3,
		retryDelay: 100 * time.Millisecond,
	}
}

// Lookup returns the PTR name of addr, resolving it on first use.
// Returns false when the address has no name or the lookup failed.
func (pm *PtrManager) Lookup(ctx context.Context, addr netip.Addr) (string, bool) {
	addr = addr.Unmap()

	pm.mu.Lock()
	name, cached := pm.cache[addr]
	pm.mu.Unlock()
	if cached {
		return name, name != ""
	}

	name = pm.resolve(ctx, addr.String())
	if ctx.Err() != nil {
		// Not cached, a later run may still succeed.
		return "", false
	}

	pm.mu.Lock()
	pm.cache[addr] = name
	pm.mu.Unlock()
	return name, name != ""
}

func (pm *PtrManager) resolve(ctx context.Context, ip string) string {
	for attempt := 0; attempt < pm.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ""
			case <-time.After(pm.retryDelay):
			}
		}
		names, err := pm.lookupFunc(ctx, ip)
		if err == nil && len(names) > 0 {
			return normalizePTR(names[0])
		}
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
			return ""
		}
	}
	return ""
}

// normalizePTR strips the trailing root dot
func normalizePTR(name string) string {
	return strings.TrimSuffix(name, ".")
}
