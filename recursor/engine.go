// Package recursor implements the iterative query engine: the state machine
// that turns a client question into a chain of upstream queries against
// progressively closer delegations, consulting the message and record-set
// caches at every step and handing nameserver address resolution off to the
// nameserver address store.
package recursor

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/miekg/dns"
	"github.com/sirupsen/logrus"

	"github.com/nullzone-dns/recursor/classify"
	"github.com/nullzone-dns/recursor/msgcache"
	"github.com/nullzone-dns/recursor/nametree"
	"github.com/nullzone-dns/recursor/nsas"
	"github.com/nullzone-dns/recursor/rrcache"
)

const (
	// MaxCNAMEDepth bounds how many CNAME records an answer chain may
	// traverse before the query fails rather than looping forever.
	MaxCNAMEDepth = 12

	// MaxResolveDepth bounds nested NSAS sub-resolutions: resolving a
	// glueless nameserver's address that itself requires resolving another
	// glueless nameserver, and so on.
	MaxResolveDepth = 10

	// OverallDeadline is the wall-clock budget for one client query,
	// regardless of how many iterative steps it takes internally.
	OverallDeadline = 10 * time.Second

	defaultRecvTimeout = 2 * time.Second
	minRecvTimeout     = time.Millisecond
)

// Forwarder matches a query name against configured forwarding suffixes and,
// on a match, returns the reply it got from the configured upstream(s).
// Defined here (not imported from a forwarder package) so forwarder can
// depend on recursor's types without recursor depending on forwarder.
type Forwarder interface {
	Forward(ctx context.Context, qname nametree.Name, qtype uint16) (*dns.Msg, bool, error)
}

// RootHints is the static, immutable set of root nameserver addresses used
// to seed resolution when no closer delegation is cached.
type RootHints []net.IP

type depthKey struct{}

func withDepth(ctx context.Context, depth int) context.Context {
	return context.WithValue(ctx, depthKey{}, depth)
}

func depthOf(ctx context.Context) int {
	d, _ := ctx.Value(depthKey{}).(int)
	return d
}

// Engine is the iterative query engine. It holds no per-query state; each
// call to Query runs its own state machine instance.
type Engine struct {
	MC        *msgcache.Cache
	RRC       *rrcache.Cache
	NSAS      *nsas.Store
	Forwarder Forwarder // nil disables conditional forwarding entirely
	RootHints RootHints
	Client    *dns.Client
	Log       *logrus.Logger
}

// New returns an Engine wired to the given caches and nameserver store. A
// nil forwarder disables forwarding; all queries resolve iteratively.
func New(mc *msgcache.Cache, rrc *rrcache.Cache, store *nsas.Store, hints RootHints) *Engine {
	return &Engine{
		MC:        mc,
		RRC:       rrc,
		NSAS:      store,
		RootHints: hints,
		Client:    &dns.Client{Net: "udp", Timeout: defaultRecvTimeout},
		Log:       logrus.StandardLogger(),
	}
}

// Resolve implements nsas.Resolver, letting the nameserver address store
// resolve a glueless NS name's address through this same engine without
// importing it — the interface lives in nsas, satisfied here implicitly.
func (e *Engine) Resolve(ctx context.Context, qname nametree.Name, qtype uint16) (*dns.Msg, error) {
	depth := depthOf(ctx)
	if depth >= MaxResolveDepth {
		return nil, fmt.Errorf("recursor: nsas sub-resolution depth exceeded for %s", qname)
	}
	msg, err := e.resolveIteratively(withDepth(ctx, depth+1), qname, qtype)
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// resolveIteratively runs step's cache-then-referral walk for one
// (qname, qtype) with a loop-detection set of its own, and returns the final
// message without merging it into any client reply.
func (e *Engine) resolveIteratively(ctx context.Context, qname nametree.Name, qtype uint16) (*dns.Msg, error) {
	return e.step(ctx, qname, qtype, map[string]bool{})
}

// Query answers (qname, qtype) for a client: consults the forwarder and
// caches, chases CNAME chains up to MaxCNAMEDepth, and bounds the whole
// operation to OverallDeadline regardless of how many internal steps it
// takes. The returned message always has Response set; its Rcode is
// ServFail on any unrecoverable failure.
func (e *Engine) Query(ctx context.Context, qname nametree.Name, qtype uint16) *dns.Msg {
	ctx, cancel := context.WithTimeout(ctx, OverallDeadline)
	defer cancel()

	reply := new(dns.Msg)
	reply.SetQuestion(qname.String(), qtype)
	reply.Response = true
	reply.RecursionAvailable = true

	currentName := qname
	cnameDepth := 0
	visited := map[string]bool{}

	for {
		msg, err := e.step(withDepth(ctx, 0), currentName, qtype, visited)
		if err != nil {
			e.Log.WithError(err).WithField("name", currentName.String()).Debug("recursor: query failed")
			reply.Rcode = dns.RcodeServerFailure
			return reply
		}

		result := classify.Classify(currentName, qtype, msg)
		switch result.Category {
		case classify.Answer, classify.AnswerCName, classify.NXDomain, classify.NXRRset:
			e.MC.Put(currentName, qtype, msg)
			mergeSections(reply, msg)
			reply.Rcode = msg.Rcode
			return reply

		case classify.CName:
			cnameDepth += len(msg.Answer)
			if cnameDepth > MaxCNAMEDepth {
				reply.Rcode = dns.RcodeServerFailure
				return reply
			}
			reply.Answer = append(reply.Answer, msg.Answer...)
			currentName = result.Target

		default: // Invalid, Referral handled inside step's own loop
			reply.Rcode = dns.RcodeServerFailure
			return reply
		}
	}
}

// step drives one CNAME hop's worth of iterative resolution: from an
// initial zone guess (cache-derived or root) through however many Referral
// hops are needed to reach a final, non-delegating answer for
// (name, qtype).
func (e *Engine) step(ctx context.Context, name nametree.Name, qtype uint16, visited map[string]bool) (*dns.Msg, error) {
	if msg, ok := e.MC.GetResponse(name, qtype); ok {
		return msg, nil
	}

	zone, ok := e.MC.DeepestNS(name)
	if !ok {
		zone = nametree.Name{} // root
	}

	if e.Forwarder != nil {
		if msg, matched, err := e.Forwarder.Forward(ctx, name, qtype); matched {
			if err != nil {
				return nil, fmt.Errorf("recursor: forwarder: %w", err)
			}
			return msg, nil
		}
	}

	for {
		visitKey := name.String() + "|" + zone.String()
		if visited[visitKey] {
			return nil, fmt.Errorf("recursor: loop detected at %s within zone %s", name, zone)
		}
		visited[visitKey] = true

		msg, err := e.sendToZone(ctx, zone, name, qtype)
		if err != nil {
			return nil, err
		}

		result := classify.Classify(name, qtype, msg)
		if result.Category != classify.Referral {
			return msg, nil
		}

		e.MC.Put(name, dns.TypeNS, msg)
		newZone := referralZone(msg)
		if newZone.IsRoot() && !zone.IsRoot() {
			return nil, fmt.Errorf("recursor: malformed referral for %s", name)
		}
		if !isStrictlyCloser(newZone, zone, name) {
			return nil, fmt.Errorf("recursor: referral %s does not advance from %s toward %s", newZone, zone, name)
		}
		zone = newZone
	}
}

// sendToZone asks the nameserver address store for the best address
// serving zone and exchanges (name, qtype) with it. After an I/O failure the
// address is marked unreachable and the store is asked again, for at most
// four attempts in all: a zone with more addresses than that is not tried in
// full, and once every address is marked unreachable an attempt can go to an
// address that has already failed.
func (e *Engine) sendToZone(ctx context.Context, zone, name nametree.Name, qtype uint16) (*dns.Msg, error) {
	if zone.IsRoot() && len(e.RootHints) > 0 {
		return e.sendToAddrs(ctx, e.RootHints, name, qtype)
	}

	const maxAttempts = 4
	for attempt := 0; attempt < maxAttempts; attempt++ {
		nsName, addr, err := e.NSAS.GetNameserver(ctx, zone, e)
		if err != nil {
			return nil, fmt.Errorf("recursor: no nameserver for %s: %w", zone, err)
		}

		msg := new(dns.Msg)
		msg.SetQuestion(name.String(), qtype)
		msg.RecursionDesired = false

		deadline := defaultRecvTimeout
		if addr.RTT > 0 && addr.RTT < defaultRecvTimeout {
			deadline = addr.RTT
		}
		if deadline < minRecvTimeout {
			deadline = minRecvTimeout
		}

		qctx, cancel := context.WithTimeout(ctx, deadline)
		resp, rtt, exchangeErr := e.Client.ExchangeContext(qctx, msg, net.JoinHostPort(addr.Addr.String(), "53"))
		cancel()

		if exchangeErr != nil {
			e.NSAS.UpdateRTT(nsName, addr.Addr, 0, false)
			e.Log.WithFields(logrus.Fields{
				"server": addr.Addr.String(),
				"name":   name.String(),
				"qtype":  dns.TypeToString[qtype],
			}).WithError(exchangeErr).Trace("recursor: query failed")
			continue
		}
		e.NSAS.UpdateRTT(nsName, addr.Addr, rtt, true)
		e.Log.WithFields(logrus.Fields{
			"server": addr.Addr.String(),
			"name":   name.String(),
			"qtype":  dns.TypeToString[qtype],
			"rtt":    rtt,
			"rcode":  dns.RcodeToString[resp.Rcode],
		}).Trace("recursor: query answered")
		return resp, nil
	}
	return nil, fmt.Errorf("recursor: all nameservers for %s failed", zone)
}

func (e *Engine) sendToAddrs(ctx context.Context, addrs []net.IP, name nametree.Name, qtype uint16) (*dns.Msg, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(name.String(), qtype)
	msg.RecursionDesired = qtype == dns.TypeNS && name.IsRoot()

	var lastErr error
	for _, ip := range addrs {
		qctx, cancel := context.WithTimeout(ctx, defaultRecvTimeout)
		resp, rtt, err := e.Client.ExchangeContext(qctx, msg, net.JoinHostPort(ip.String(), "53"))
		cancel()
		if err != nil {
			lastErr = err
			e.Log.WithFields(logrus.Fields{
				"server": ip.String(),
				"name":   name.String(),
			}).WithError(err).Trace("recursor: root query failed")
			continue
		}
		e.Log.WithFields(logrus.Fields{
			"server": ip.String(),
			"name":   name.String(),
			"rtt":    rtt,
			"rcode":  dns.RcodeToString[resp.Rcode],
		}).Trace("recursor: root query answered")
		return resp, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no root hints configured")
	}
	return nil, fmt.Errorf("recursor: root server query failed: %w", lastErr)
}

func mergeSections(reply, msg *dns.Msg) {
	reply.Answer = append(reply.Answer, msg.Answer...)
	reply.Ns = append(reply.Ns, msg.Ns...)
	reply.Extra = append(reply.Extra, msg.Extra...)
}

// referralZone returns the owner name of the (first) NS rrset in msg's
// authority section, the new delegation point a Referral points at.
func referralZone(msg *dns.Msg) nametree.Name {
	for _, rr := range msg.Ns {
		if ns, ok := rr.(*dns.NS); ok {
			return nametree.NewName(ns.Header().Name)
		}
	}
	return nametree.Name{}
}

// isStrictlyCloser reports whether newZone is a strict descendant of
// currentZone and still an ancestor-or-equal of name — the condition under
// which a referral is allowed to advance current-zone rather than being
// rejected as non-progressing.
func isStrictlyCloser(newZone, currentZone, name nametree.Name) bool {
	if newZone.Equal(currentZone) {
		return false
	}
	if newZone.LabelCount() <= currentZone.LabelCount() {
		return false
	}
	if currentZone.LabelCount() > 0 && !newZone.Suffix(currentZone.LabelCount()).Equal(currentZone) {
		return false
	}
	if newZone.LabelCount() > name.LabelCount() {
		return false
	}
	return name.Suffix(newZone.LabelCount()).Equal(newZone)
}
