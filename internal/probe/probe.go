package probe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"os"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/tkjaer/rttdist/internal/shared"
	"github.com/tkjaer/rttdist/pkg/route"
)

// ledgerTimeouts is how many timeouts a request stays matchable after it was
// sent.
const ledgerTimeouts = 3

// errTimeout marks an attempt that saw no matching reply in time.
var errTimeout = errors.New("no echo reply before timeout")

// Config holds the probing parameters shared by all targets.
type Config struct {
	MaxAttempts            uint
	MaxConsecutiveFailures uint
	Timeout                time.Duration
	Privileged             bool
}

// sentKey identifies an in-flight echo request. Target carries no zone,
// matching the sender address of replies.
type sentKey struct {
	Target netip.Addr
	Seq    uint16
}

// Prober sends ICMP echo requests to one target at a time. Sockets are opened
// on first use per address family and reused across targets.
type Prober struct {
	cfg Config
	id  uint16

	mu        sync.Mutex
	conns     map[bool]echoConn // keyed by Is6
	closeOnce sync.Once

	// Send times of outstanding requests, the only record of them. Timed out
	// requests stay for ledgerTimeouts timeouts to recognise late replies.
	sent *ttlcache.Cache[sentKey, time.Time]

	now         func() time.Time
	listen      func(network, address string) (echoConn, error)
	lookupRoute func(netip.Addr) (route.Route, error)
}

// New creates a prober. Close must be called to release its sockets.
func New(cfg Config) *Prober {
	p := &Prober{
		cfg:         cfg,
		id:          uint16(os.Getpid() & 0xffff),
		conns:       make(map[bool]echoConn),
		now:         time.Now,
		listen:      listenICMP,
		lookupRoute: route.Get,
	}
	p.sent = ttlcache.New(
		ttlcache.WithTTL[sentKey, time.Time](ledgerTimeouts*cfg.Timeout),
		ttlcache.WithDisableTouchOnHit[sentKey, time.Time](),
	)
	p.sent.OnEviction(func(ctx context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[sentKey, time.Time]) {
		if reason == ttlcache.EvictionReasonExpired {
			slog.Debug("Echo request lost", "target", item.Key().Target, "seq", item.Key().Seq)
		}
	})
	go p.sent.Start()
	return p
}

// Probe runs one probing session against target. Sequence numbers start at
// zero and increase by one per attempt. The session ends after MaxAttempts
// attempts or once MaxConsecutiveFailures attempts in a row went unanswered.
//
// A reply arriving after its attempt timed out still counts as a failure; it
// is only tallied in Late.
//
// Unanswered attempts are not errors; an empty outcome is valid. An error is
// returned only when the target cannot be probed at all (no route, socket
// failure) or ctx is cancelled.
func (p *Prober) Probe(ctx context.Context, target netip.Addr) (shared.ProbeOutcome, error) {
	outcome := shared.ProbeOutcome{Target: target}

	rt, err := p.lookupRoute(target)
	if err != nil {
		return outcome, fmt.Errorf("route to %s: %w", target, err)
	}
	var ifName string
	if rt.Interface != nil {
		ifName = rt.Interface.Name
	}
	slog.Debug("Probing target", "target", target, "source", rt.Source, "next_hop", rt.NextHop(), "interface", ifName)

	conn, err := p.conn(target.Is6())
	if err != nil {
		return outcome, err
	}

	for attempt := uint(0); attempt < p.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return outcome, err
		}

		seq := uint16(attempt)
		outcome.Attempts++
		sample, err := p.echo(ctx, conn, target, seq, &outcome.Late)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return outcome, ctxErr
			}
			outcome.ConsecutiveFailures++
			slog.Debug("Echo attempt failed", "target", target, "seq", seq, "consecutive", outcome.ConsecutiveFailures, "err", err)
			if outcome.ConsecutiveFailures >= p.cfg.MaxConsecutiveFailures {
				outcome.Aborted = outcome.Attempts < p.cfg.MaxAttempts
				break
			}
			continue
		}

		outcome.ConsecutiveFailures = 0
		outcome.Samples = append(outcome.Samples, sample)
		slog.Debug("Echo reply", "target", target, "seq", seq, "rtt_ms", sample.Milliseconds())
	}
	return outcome, nil
}

// echo sends one request and waits for its reply until the timeout. Replies
// to earlier requests that are still in the ledger are counted in late.
func (p *Prober) echo(ctx context.Context, conn echoConn, target netip.Addr, seq uint16, late *uint) (shared.ProbeSample, error) {
	msg, err := encodeEcho(target.Is6(), p.id, seq, echoPayload)
	if err != nil {
		return shared.ProbeSample{}, fmt.Errorf("encode echo request: %w", err)
	}

	key := sentKey{Target: target.WithZone(""), Seq: seq}
	item := p.sent.Set(key, p.now(), ttlcache.DefaultTTL)

	if _, err := conn.WriteTo(msg, destination(target, p.cfg.Privileged)); err != nil {
		p.sent.Delete(key)
		return shared.ProbeSample{}, fmt.Errorf("send: %w", err)
	}
	if err := conn.SetReadDeadline(item.Value().Add(p.cfg.Timeout)); err != nil {
		p.sent.Delete(key)
		return shared.ProbeSample{}, fmt.Errorf("set deadline: %w", err)
	}
	// Unblock the read when the run is cancelled.
	stop := context.AfterFunc(ctx, func() { conn.SetReadDeadline(time.Now()) })
	defer stop()

	buf := make([]byte, 1500)
	for {
		n, from, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				p.sent.Delete(key)
				return shared.ProbeSample{}, ctx.Err()
			}
			if errors.Is(err, os.ErrDeadlineExceeded) {
				// Stays in the ledger so a late reply is still recognised.
				return shared.ProbeSample{}, errTimeout
			}
			p.sent.Delete(key)
			return shared.ProbeSample{}, fmt.Errorf("receive: %w", err)
		}
		received := p.now()

		reply, ok := decodeEchoReply(target.Is6(), buf[:n])
		if !ok {
			continue
		}
		// Datagram sockets rewrite the identifier, so it only means something on raw sockets.
		if p.cfg.Privileged && reply.ID != p.id {
			continue
		}
		peer := peerAddr(from)
		sent, ok := p.sent.GetAndDelete(sentKey{Target: peer, Seq: reply.Seq})
		if !ok {
			continue
		}
		rtt := received.Sub(sent.Value())
		if !sameHost(peer, target) || reply.Seq != seq {
			slog.Debug("Late echo reply", "target", peer, "seq", reply.Seq, "rtt_ms", float64(rtt)/float64(time.Millisecond))
			if sameHost(peer, target) {
				*late++
			}
			continue
		}
		return shared.ProbeSample{Seq: seq, Sent: sent.Value(), RTT: rtt}, nil
	}
}

func (p *Prober) conn(v6 bool) (echoConn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.conns[v6]; ok {
		return c, nil
	}
	network, address := socketNetwork(v6, p.cfg.Privileged)
	c, err := p.listen(network, address)
	if err != nil {
		return nil, fmt.Errorf("open %s socket: %w", network, err)
	}
	p.conns[v6] = c
	return c, nil
}

// Close releases the sockets and stops the expiry loop.
func (p *Prober) Close() error {
	p.closeOnce.Do(p.sent.Stop)

	p.mu.Lock()
	defer p.mu.Unlock()
	var errs []error
	for v6, c := range p.conns {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(p.conns, v6)
	}
	return errors.Join(errs...)
}
