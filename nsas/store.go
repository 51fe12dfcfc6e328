package nsas

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/miekg/dns"
	"golang.org/x/sync/singleflight"

	"github.com/nullzone-dns/recursor/nametree"
)

const (
	// DefaultZoneCacheSize and DefaultNameserverCacheSize mirror the Rust
	// predecessor's cache sizing (1009 and 3001, both prime to spread LRU
	// buckets evenly).
	DefaultZoneCacheSize       = 1009
	DefaultNameserverCacheSize = 3001

	// MaxProbingNameserverCount bounds how many nameserver addresses can be
	// under active reachability probe at once.
	MaxProbingNameserverCount = 1000

	// MaxFetchDepth is the largest depth FetchZone accepts. GetNameserver
	// always passes 0 and glueless lookups through Resolver carry no depth
	// argument, so this check does not bound nested resolution; any such
	// bound is the Resolver's own.
	MaxFetchDepth = 8

	zoneTTL = 10 * time.Minute
	nsTTL   = 10 * time.Minute
)

// Resolver is the minimal interface Store needs to resolve a glueless
// nameserver's address. It is satisfied by the iterative query engine
// without this package importing it, breaking the otherwise circular
// dependency between nsas and the engine that depends on nsas.
type Resolver interface {
	Resolve(ctx context.Context, qname nametree.Name, qtype uint16) (*dns.Msg, error)
}

type zoneEntry struct {
	nameservers []string
	expiry      time.Time
}

type nameserverEntry struct {
	addresses []AddressEntry
	expiry    time.Time
}

// Store is the nameserver address store: it answers "what address should I
// query to reach zone Z" from cache when possible, refilling via Resolver
// when not, and tracks per-address RTT so repeated lookups favor whatever
// has answered fastest recently.
type Store struct {
	zones       *lru.Cache[string, zoneEntry]
	nameservers *lru.Cache[string, nameserverEntry]

	mu          sync.Mutex
	probeGroup  singleflight.Group
	probeActive int64
}

// New returns a Store with the given zone- and nameserver-cache capacities.
func New(zoneCacheSize, nameserverCacheSize int) *Store {
	zones, err := lru.New[string, zoneEntry](zoneCacheSize)
	if err != nil {
		panic(err)
	}
	nameservers, err := lru.New[string, nameserverEntry](nameserverCacheSize)
	if err != nil {
		panic(err)
	}
	return &Store{zones: zones, nameservers: nameservers}
}

// GetNameserver returns the best currently-known address for one of zone's
// nameservers. If zone is unknown or has expired, it is fetched via
// resolver first. An address is always returned on success even if its
// RTT estimate is stale; callers that get an error back should fall back to
// root hints or a sibling zone.
func (s *Store) GetNameserver(ctx context.Context, zone nametree.Name, resolver Resolver) (string, AddressEntry, error) {
	ze, ok := s.lookupZone(zone)
	if !ok {
		if err := s.FetchZone(ctx, zone, 0, resolver); err != nil {
			return "", AddressEntry{}, err
		}
		ze, ok = s.lookupZone(zone)
		if !ok {
			return "", AddressEntry{}, fmt.Errorf("nsas: no nameservers known for %s", zone)
		}
	}

	type candidate struct {
		nsName string
		addr   AddressEntry
	}
	var best *candidate
	for _, nsName := range ze.nameservers {
		ne, ok := s.lookupNameserver(nsName)
		if !ok {
			s.probeMissingAddress(nsName, resolver)
			continue
		}
		addr, ok := SelectAddress(ne.addresses)
		if !ok {
			continue
		}
		if best == nil || addr.RTT < best.addr.RTT {
			best = &candidate{nsName: nsName, addr: addr}
		}
	}
	if best == nil {
		return "", AddressEntry{}, fmt.Errorf("nsas: no reachable address for any nameserver of %s", zone)
	}
	return best.nsName, best.addr, nil
}

// UpdateRTT folds an observed round-trip time (or a reachability failure,
// when ok is false) back into the address cache for nsName/addr.
func (s *Store) UpdateRTT(nsName string, addr net.IP, observed time.Duration, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ne, found := s.nameservers.Get(nsName)
	if !found {
		ne = nameserverEntry{expiry: time.Now().Add(nsTTL)}
	}
	updated := false
	for i := range ne.addresses {
		if ne.addresses[i].Addr.Equal(addr) {
			if ok {
				ne.addresses[i].SetRTT(observed)
			} else {
				ne.addresses[i].SetUnreachable()
			}
			updated = true
			break
		}
	}
	if !updated {
		e := AddressEntry{Addr: addr}
		if ok {
			e.SetRTT(observed)
		} else {
			e.SetUnreachable()
		}
		ne.addresses = append(ne.addresses, e)
	}
	s.nameservers.Add(nsName, ne)
}

// FetchZone populates the zone and nameserver caches for zone by resolving
// its NS set via resolver, then resolving each NS name's address — using
// in-bailiwick glue from the NS response's additional section where
// present, and resolving out-of-bailiwick or glueless names through
// resolver. It fails at once when depth exceeds MaxFetchDepth.
func (s *Store) FetchZone(ctx context.Context, zone nametree.Name, depth int, resolver Resolver) error {
	if depth > MaxFetchDepth {
		return fmt.Errorf("nsas: fetch depth exceeded for %s", zone)
	}

	msg, err := resolver.Resolve(ctx, zone, dns.TypeNS)
	if err != nil {
		return fmt.Errorf("nsas: resolving NS for %s: %w", zone, err)
	}

	var nsNames []string
	glue := map[string][]net.IP{}
	for _, rr := range msg.Ns {
		if ns, ok := rr.(*dns.NS); ok {
			nsNames = append(nsNames, dns.Fqdn(ns.Ns))
		}
	}
	for _, rr := range msg.Answer {
		if ns, ok := rr.(*dns.NS); ok {
			nsNames = append(nsNames, dns.Fqdn(ns.Ns))
		}
	}
	for _, rr := range msg.Extra {
		switch a := rr.(type) {
		case *dns.A:
			name := dns.Fqdn(a.Header().Name)
			glue[name] = append(glue[name], a.A)
		case *dns.AAAA:
			name := dns.Fqdn(a.Header().Name)
			glue[name] = append(glue[name], a.AAAA)
		}
	}
	if len(nsNames) == 0 {
		return fmt.Errorf("nsas: no NS records for %s", zone)
	}

	s.mu.Lock()
	s.zones.Add(zone.String(), zoneEntry{nameservers: nsNames, expiry: time.Now().Add(zoneTTL)})
	s.mu.Unlock()

	for _, nsName := range nsNames {
		nsNameParsed := nametree.NewName(nsName)
		if addrs, ok := glue[nsName]; ok && nsNameParsed.Suffix(zone.LabelCount()).Equal(zone) {
			if clean := filterBogonGlue(addrs); len(clean) > 0 {
				s.putAddresses(nsName, clean)
				continue
			}
			// every glue address for this name was bogus; fall through to
			// resolving it independently instead of trusting it.
		}

		// glueless: resolve independently of bailiwick, since resolver
		// itself is responsible for walking any further delegation needed
		// to answer an out-of-zone A query.
		_ = s.resolveNameserverAddress(ctx, nsNameParsed, resolver)
	}
	return nil
}

// resolveNameserverAddress resolves nsName's A records directly through
// resolver and stores them. Failures are non-fatal to the caller: a zone
// with at least one reachable nameserver is still usable.
func (s *Store) resolveNameserverAddress(ctx context.Context, nsName nametree.Name, resolver Resolver) error {
	msg, err := resolver.Resolve(ctx, nsName, dns.TypeA)
	if err != nil {
		return err
	}
	var addrs []net.IP
	for _, rr := range msg.Answer {
		if a, ok := rr.(*dns.A); ok {
			addrs = append(addrs, a.A)
		}
	}
	if len(addrs) == 0 {
		return fmt.Errorf("nsas: no address for %s", nsName)
	}
	s.putAddresses(nsName.String(), addrs)
	return nil
}

func (s *Store) putAddresses(nsName string, addrs []net.IP) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := make([]AddressEntry, len(addrs))
	for i, a := range addrs {
		entries[i] = AddressEntry{Addr: a}
	}
	s.nameservers.Add(nsName, nameserverEntry{addresses: entries, expiry: time.Now().Add(nsTTL)})
}

func (s *Store) lookupZone(zone nametree.Name) (zoneEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ze, ok := s.zones.Get(zone.String())
	if !ok || !ze.expiry.After(time.Now()) {
		return zoneEntry{}, false
	}
	return ze, true
}

func (s *Store) lookupNameserver(nsName string) (nameserverEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ne, ok := s.nameservers.Get(nsName)
	if !ok || !ne.expiry.After(time.Now()) {
		return nameserverEntry{}, false
	}
	return ne, true
}

// probeMissingAddress kicks off a best-effort, non-blocking background
// resolution of nsName's address. It is deduplicated via singleflight so
// concurrent callers asking about the same name trigger only one probe, and
// capped at MaxProbingNameserverCount concurrent probes across all names —
// singleflight alone caps duplicates of the same key, not the total
// in-flight count, hence the separate counter.
func (s *Store) probeMissingAddress(nsName string, resolver Resolver) {
	if atomic.LoadInt64(&s.probeActive) >= MaxProbingNameserverCount {
		return
	}
	ch := s.probeGroup.DoChan(nsName, func() (interface{}, error) {
		atomic.AddInt64(&s.probeActive, 1)
		defer atomic.AddInt64(&s.probeActive, -1)
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		return nil, s.resolveNameserverAddress(ctx, nametree.NewName(nsName), resolver)
	})
	// fire-and-forget: drain the channel in the background so the
	// singleflight group's bookkeeping doesn't leak, but never block the
	// caller of GetNameserver on the result.
	go func() { <-ch }()
}

