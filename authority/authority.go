// Package authority implements the in-memory authoritative zone store: one
// name-tree-backed zone per loaded origin, zone-file loading, lookup with
// zone-cut detection, and a transactional dynamic-update surface.
package authority

import (
	"bufio"
	"fmt"
	"os"
	"sync"

	"github.com/miekg/dns"

	"github.com/nullzone-dns/recursor/errkind"
	"github.com/nullzone-dns/recursor/nametree"
)

// FindResultType classifies the outcome of a Find, mirroring the union
// spec.md §9 calls for.
type FindResultType int

const (
	NXDomain FindResultType = iota
	NXRRset
	Success
	CName
	Delegation
)

// FindResult is the outcome of looking a name up in one zone.
type FindResult struct {
	Type FindResultType

	// RRset holds the matched data: the CNAME rrset for CName, the
	// requested rrset for Success, or the NS rrset at the zone cut for
	// Delegation. Empty for NXDomain/NXRRset.
	RRset []dns.RR

	// Additional holds in-zone glue: A/AAAA records for any NS target that
	// falls inside this zone, resolved via GetAddress.
	Additional []dns.RR

	ApexNS   []dns.RR
	ApexGlue []dns.RR
	ApexSOA  []dns.RR
}

// zoneNode is the value stored at each name in a zone's tree: every rrset
// owned by that name, keyed by type.
type zoneNode struct {
	rrsets map[uint16][]dns.RR
}

func newZoneNode() *zoneNode {
	return &zoneNode{rrsets: map[uint16][]dns.RR{}}
}

type zone struct {
	origin nametree.Name
	tree   *nametree.Tree[*zoneNode]
}

// Store holds every loaded zone. Reads (queries) take the read lock; writes
// (zone load, dynamic update) take the write lock, per spec.md §5's
// readers-writer policy for the authoritative store.
type Store struct {
	mu    sync.RWMutex
	zones map[string]*zone
}

// New returns an empty Store.
func New() *Store {
	return &Store{zones: map[string]*zone{}}
}

// LoadZone parses path as one rrset per line in standard presentation form
// and replaces any previously loaded zone with the same origin. The zone
// must contain an apex SOA.
func (s *Store) LoadZone(origin nametree.Name, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("authority: opening %s: %w", path, err)
	}
	defer f.Close()

	tree := nametree.New[*zoneNode]()
	parser := dns.NewZoneParser(bufio.NewReader(f), "", path)
	haveSOA := false
	nsOwners := map[string]nametree.Name{}

	for rr, ok := parser.Next(); ok; rr, ok = parser.Next() {
		name := nametree.NewName(rr.Header().Name)
		result := tree.Find(name)
		node, exists := result.Value()
		if !exists || result.Flag != nametree.Exact {
			node = newZoneNode()
			tree.Insert(name, node)
		}
		node.rrsets[rr.Header().Rrtype] = append(node.rrsets[rr.Header().Rrtype], rr)
		if rr.Header().Rrtype == dns.TypeSOA && name.Equal(origin) {
			haveSOA = true
		}
		if rr.Header().Rrtype == dns.TypeNS && !name.Equal(origin) {
			nsOwners[name.String()] = name
		}
	}
	if err := parser.Err(); err != nil {
		return fmt.Errorf("authority: parsing %s: %w", path, err)
	}
	if !haveSOA {
		return fmt.Errorf("authority: zone %s has no apex SOA", origin)
	}

	// Mark every non-apex NS-bearing name as a zone cut so Find's callback
	// walk stops there instead of continuing into data that belongs to a
	// delegated child zone.
	for _, name := range nsOwners {
		tree.SetCallback(name, true)
	}

	s.mu.Lock()
	s.zones[origin.String()] = &zone{origin: origin, tree: tree}
	s.mu.Unlock()
	return nil
}

// DeleteZone removes a previously loaded zone. It reports whether a zone
// with that origin existed.
func (s *Store) DeleteZone(origin nametree.Name) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.zones[origin.String()]; !ok {
		return false
	}
	delete(s.zones, origin.String())
	return true
}

// zoneFor returns the most specific loaded zone covering name.
func (s *Store) zoneFor(name nametree.Name) (*zone, bool) {
	var best *zone
	for _, z := range s.zones {
		if !covers(z.origin, name) {
			continue
		}
		if best == nil || z.origin.LabelCount() > best.origin.LabelCount() {
			best = z
		}
	}
	if best == nil {
		return nil, false
	}
	return best, true
}

func covers(origin, name nametree.Name) bool {
	if origin.LabelCount() > name.LabelCount() {
		return false
	}
	return name.Suffix(origin.LabelCount()).Equal(origin)
}

// Find looks qname/qtype up in whichever loaded zone covers qname. The
// second return reports whether any zone covers qname at all; when it is
// false the FindResult is the zero value and says nothing about qname.
func (s *Store) Find(qname nametree.Name, qtype uint16) (FindResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	z, ok := s.zoneFor(qname)
	if !ok {
		return FindResult{}, false
	}

	var cut *nametree.FindResult[*zoneNode]
	result := z.tree.FindWithCallback(qname, func(n nametree.FindResult[*zoneNode], _ nametree.Name) bool {
		cut = &n
		return true
	})

	if cut != nil {
		node, _ := cut.Value()
		ns := node.rrsets[dns.TypeNS]
		return FindResult{
			Type:       Delegation,
			RRset:      ns,
			Additional: s.glueFor(z, ns),
		}, true
	}

	apexNS, apexGlue, apexSOA := apexData(z)

	if result.Flag != nametree.Exact {
		return FindResult{Type: NXDomain, ApexSOA: apexSOA}, true
	}

	node, hasValue := result.Value()
	if !hasValue {
		return FindResult{Type: NXDomain, ApexSOA: apexSOA}, true
	}

	if cname, ok := node.rrsets[dns.TypeCNAME]; ok && qtype != dns.TypeCNAME {
		return FindResult{Type: CName, RRset: cname}, true
	}

	rrset, ok := node.rrsets[qtype]
	if !ok {
		return FindResult{Type: NXRRset, ApexSOA: apexSOA}, true
	}

	fr := FindResult{Type: Success, RRset: rrset}
	if qtype != dns.TypeNS {
		fr.ApexNS = apexNS
		fr.ApexGlue = apexGlue
	}
	return fr, true
}

func apexData(z *zone) (ns, glue, soa []dns.RR) {
	result := z.tree.Find(z.origin)
	node, ok := result.Value()
	if !ok {
		return nil, nil, nil
	}
	ns = node.rrsets[dns.TypeNS]
	soa = node.rrsets[dns.TypeSOA]
	glue = glueForZone(z, ns)
	return ns, glue, soa
}

// glueFor and glueForZone resolve A/AAAA records for each NS target that
// falls inside zone z (in-bailiwick glue); out-of-zone targets are left for
// the recursor's own resolution.
func (s *Store) glueFor(z *zone, ns []dns.RR) []dns.RR {
	return glueForZone(z, ns)
}

func glueForZone(z *zone, ns []dns.RR) []dns.RR {
	var out []dns.RR
	for _, rr := range ns {
		nsRR, ok := rr.(*dns.NS)
		if !ok {
			continue
		}
		target := nametree.NewName(nsRR.Ns)
		if !covers(z.origin, target) {
			continue
		}
		result := z.tree.Find(target)
		node, ok := result.Value()
		if !ok {
			continue
		}
		out = append(out, node.rrsets[dns.TypeA]...)
		out = append(out, node.rrsets[dns.TypeAAAA]...)
	}
	return out
}

// GetAddress returns the in-zone A/AAAA records for name, used to resolve
// glue for an NS rrset's targets.
func (s *Store) GetAddress(origin, name nametree.Name) []dns.RR {
	s.mu.RLock()
	defer s.mu.RUnlock()
	z, ok := s.zones[origin.String()]
	if !ok {
		return nil
	}
	result := z.tree.Find(name)
	node, ok := result.Value()
	if !ok {
		return nil
	}
	return append(append([]dns.RR{}, node.rrsets[dns.TypeA]...), node.rrsets[dns.TypeAAAA]...)
}
