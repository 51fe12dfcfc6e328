// Package forwarder implements conditional forwarding: queries under a
// configured zone suffix are sent to a fixed upstream group instead of
// being resolved iteratively, with no automatic fallback to recursion on
// failure.
package forwarder

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/miekg/dns"

	"github.com/nullzone-dns/recursor/nametree"
)

const (
	unreachableRTT = ^uint64(0)
	queryTimeout   = 2 * time.Second
)

// upstream is one configured forwarding target, with its own smoothed RTT
// so a group with several upstreams favors whichever answers fastest —
// the same RTT-ordering idea the nameserver address store uses for
// authoritative servers, applied here to forwarding targets instead.
type upstream struct {
	addr string // host:port
	rtt  uint64 // nanoseconds; unreachableRTT sentinel on failure
}

func (u *upstream) setRTT(observed time.Duration) {
	new := uint64(observed.Nanoseconds())
	if u.rtt == unreachableRTT {
		u.rtt = new
		return
	}
	u.rtt = (u.rtt*3 + new*7) / 10
}

func (u *upstream) setUnreachable() { u.rtt = unreachableRTT }

// group is the set of upstreams configured for one forwarding zone.
type group struct {
	mu        sync.Mutex
	upstreams []*upstream
}

func newGroup(addrs []string) *group {
	g := &group{}
	for _, a := range addrs {
		g.upstreams = append(g.upstreams, &upstream{addr: a})
	}
	return g
}

// selectUpstream returns the upstream with the lowest smoothed RTT, ties
// broken by configuration order.
func (g *group) selectUpstream() *upstream {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.upstreams) == 0 {
		return nil
	}
	best := g.upstreams[0]
	for _, u := range g.upstreams[1:] {
		if u.rtt < best.rtt {
			best = u
		}
	}
	return best
}

// Table is the suffix-keyed forwarding configuration: a nametree.Tree
// reused as a longest-suffix matcher, the second consumer the name tree was
// designed to serve alongside the authoritative store.
type Table struct {
	tree   *nametree.Tree[*group]
	client *dns.Client
}

// New builds a Table from a zone-suffix → upstream-address-list mapping.
func New(zones map[string][]string) *Table {
	t := &Table{
		tree:   nametree.New[*group](),
		client: &dns.Client{Net: "udp", Timeout: queryTimeout},
	}
	for zone, addrs := range zones {
		t.tree.Insert(nametree.NewName(zone), newGroup(addrs))
	}
	return t
}

// Forward implements recursor.Forwarder. It reports matched=false when no
// configured suffix covers qname, in which case the caller should resolve
// iteratively instead. A matched zone with an unreachable upstream returns
// an error rather than falling back to recursion, per the engine's Failure
// semantics for forwarders.
func (t *Table) Forward(ctx context.Context, qname nametree.Name, qtype uint16) (*dns.Msg, bool, error) {
	// Walk from qname itself toward the root so a valueless fission
	// placeholder never hides a shorter configured suffix.
	var g *group
	for k := qname.LabelCount(); k >= 0 && g == nil; k-- {
		if r := t.tree.Find(qname.Suffix(k)); r.Flag == nametree.Exact {
			g, _ = r.Value()
		}
	}
	if g == nil {
		return nil, false, nil
	}

	u := g.selectUpstream()
	if u == nil {
		return nil, true, fmt.Errorf("forwarder: zone has no configured upstreams")
	}

	msg := new(dns.Msg)
	msg.SetQuestion(qname.String(), qtype)
	msg.RecursionDesired = true

	qctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	resp, rtt, err := t.client.ExchangeContext(qctx, msg, u.addr)
	if err != nil {
		u.setUnreachable()
		return nil, true, fmt.Errorf("forwarder: upstream %s unreachable: %w", u.addr, err)
	}
	u.setRTT(rtt)
	return resp, true, nil
}

// validateAddr reports an error unless addr is a host:port pair whose host
// is a literal IP address. config.Validate does not call it, so a malformed
// upstream address is only discovered on first query.
func validateAddr(addr string) error {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("forwarder: %q is not a host:port pair: %w", addr, err)
	}
	if net.ParseIP(host) == nil {
		return fmt.Errorf("forwarder: %q is not an IP address", host)
	}
	return nil
}
