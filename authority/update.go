package authority

import (
	"fmt"

	"github.com/miekg/dns"

	"github.com/nullzone-dns/recursor/errkind"
	"github.com/nullzone-dns/recursor/nametree"
)

// AddZone creates a new, empty zone at origin for the dynamic-update
// control plane. Unlike LoadZone (bulk startup loading, which replaces any
// existing zone of the same name), AddZone rejects a duplicate origin.
func (s *Store) AddZone(origin nametree.Name) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.zones[origin.String()]; ok {
		return fmt.Errorf("%w: %s", errkind.ErrDuplicateZone, origin)
	}
	s.zones[origin.String()] = &zone{origin: origin, tree: nametree.New[*zoneNode]()}
	return nil
}

// RemoveZone deletes a zone via the dynamic-update control plane,
// rejecting a zone that was never loaded.
func (s *Store) RemoveZone(origin nametree.Name) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.zones[origin.String()]; !ok {
		return fmt.Errorf("%w: %s", errkind.ErrUnknownZone, origin)
	}
	delete(s.zones, origin.String())
	return nil
}

// AddRRset merges rr into the rrset at its owner name within origin,
// transactionally: either every invariant holds and the rrset is added, or
// nothing changes. CNAME may not coexist with any other type at the same
// name.
func (s *Store) AddRRset(origin nametree.Name, rr dns.RR) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	z, ok := s.zones[origin.String()]
	if !ok {
		return fmt.Errorf("%w: %s", errkind.ErrUnknownZone, origin)
	}

	name := nametree.NewName(rr.Header().Name)
	if !covers(origin, name) {
		return fmt.Errorf("%w: %s is not in %s", errkind.ErrOutOfZone, name, origin)
	}

	result := z.tree.Find(name)
	node, hasValue := result.Value()
	if result.Flag != nametree.Exact || !hasValue {
		node = newZoneNode()
	}

	typ := rr.Header().Rrtype
	if typ == dns.TypeCNAME && len(node.rrsets) > 0 {
		return fmt.Errorf("%w: %s", errkind.ErrCNameCoexistsWithOtherRR, name)
	}
	if _, hasCNAME := node.rrsets[dns.TypeCNAME]; hasCNAME && typ != dns.TypeCNAME {
		return fmt.Errorf("%w: %s", errkind.ErrCNameCoexistsWithOtherRR, name)
	}

	node.rrsets[typ] = append(node.rrsets[typ], rr)
	z.tree.Insert(name, node)
	if typ == dns.TypeNS && !name.Equal(origin) {
		z.tree.SetCallback(name, true)
	}
	return nil
}

// DeleteDomain removes every rrset owned by name within origin.
func (s *Store) DeleteDomain(origin, name nametree.Name) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	z, ok := s.zones[origin.String()]
	if !ok {
		return fmt.Errorf("%w: %s", errkind.ErrUnknownZone, origin)
	}
	z.tree.Delete(name)
	return nil
}

// DeleteRRset removes every rdata of typ at name within origin.
func (s *Store) DeleteRRset(origin, name nametree.Name, typ uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	z, ok := s.zones[origin.String()]
	if !ok {
		return fmt.Errorf("%w: %s", errkind.ErrUnknownZone, origin)
	}

	result := z.tree.Find(name)
	node, hasValue := result.Value()
	if result.Flag != nametree.Exact || !hasValue {
		return nil
	}
	delete(node.rrsets, typ)
	if len(node.rrsets) == 0 {
		z.tree.Delete(name)
	}
	return nil
}

// DeleteRdata removes a single matching rdata from the rrset at name/typ,
// comparing by presentation string.
func (s *Store) DeleteRdata(origin, name nametree.Name, typ uint16, rdata string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	z, ok := s.zones[origin.String()]
	if !ok {
		return fmt.Errorf("%w: %s", errkind.ErrUnknownZone, origin)
	}

	result := z.tree.Find(name)
	node, hasValue := result.Value()
	if result.Flag != nametree.Exact || !hasValue {
		return nil
	}

	rrs := node.rrsets[typ]
	out := rrs[:0]
	for _, rr := range rrs {
		if rdataString(rr) != rdata {
			out = append(out, rr)
		}
	}
	if len(out) == 0 {
		delete(node.rrsets, typ)
	} else {
		node.rrsets[typ] = out
	}
	return nil
}

// UpdateRdata atomically replaces oldRdata with newRR within the rrset at
// newRR's owner name and type: either both the removal and the addition
// happen, or neither does.
func (s *Store) UpdateRdata(origin nametree.Name, oldRdata string, newRR dns.RR) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	z, ok := s.zones[origin.String()]
	if !ok {
		return fmt.Errorf("%w: %s", errkind.ErrUnknownZone, origin)
	}

	name := nametree.NewName(newRR.Header().Name)
	typ := newRR.Header().Rrtype
	result := z.tree.Find(name)
	node, hasValue := result.Value()
	if result.Flag != nametree.Exact || !hasValue {
		return fmt.Errorf("%s has no %s rrset to update", name, dns.TypeToString[typ])
	}

	replaced := false
	updated := make([]dns.RR, 0, len(node.rrsets[typ]))
	for _, rr := range node.rrsets[typ] {
		if rdataString(rr) == oldRdata {
			updated = append(updated, newRR)
			replaced = true
			continue
		}
		updated = append(updated, rr)
	}
	if !replaced {
		return fmt.Errorf("rdata %q not found in %s %s rrset", oldRdata, name, dns.TypeToString[typ])
	}
	node.rrsets[typ] = updated
	return nil
}

// rdataString returns just the rdata portion of rr's presentation form, for
// comparison purposes independent of name/ttl/class.
func rdataString(rr dns.RR) string {
	full := rr.String()
	h := rr.Header()
	prefix := fmt.Sprintf("%s\t%d\t%s\t%s\t", h.Name, h.Ttl, dns.ClassToString[h.Class], dns.TypeToString[h.Rrtype])
	if len(full) > len(prefix) && full[:len(prefix)] == prefix {
		return full[len(prefix):]
	}
	return full
}
