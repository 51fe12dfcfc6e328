// Package msgcache implements the message cache (MC): two capacity-bounded
// LRU halves, positive and negative, each keyed by (qname, qtype), holding
// only references into the record-set cache rather than copies of the
// record data itself.
package msgcache

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/miekg/dns"

	"github.com/nullzone-dns/recursor/nametree"
	"github.com/nullzone-dns/recursor/rrcache"
)

type key struct {
	name string
	typ  uint16
}

func keyOf(name nametree.Name, typ uint16) key {
	return key{name: name.String(), typ: typ}
}

// ref points at one rrset living in the record-set cache.
type ref struct {
	name     nametree.Name
	typ      uint16
	negative bool // true: materialise from the negative half's RRC
}

type entry struct {
	rcode           int
	answerCount     int
	authorityCount  int
	additionalCount int
	refs            []ref
	expiry          time.Time
}

// Cache is the message cache. It owns two record-set caches internally:
// rrsets carried in a positive message go to the positive half, and SOA
// rrsets carried in a negative message's authority section go to the
// negative half — mirroring spec's split so that negative and positive
// data never evict one another.
type Cache struct {
	messagesPositive *lru.Cache[key, entry]
	messagesNegative *lru.Cache[key, entry]
	rrcPositive      *rrcache.Cache
	rrcNegative      *rrcache.Cache
}

// New returns an MC whose negative half holds negativeCapacity message
// entries and whose positive half holds 2×negativeCapacity, per spec's
// capacity policy. rrcPositive backs ordinary answer/authority/additional
// rrsets; rrcNegative backs SOA rrsets carried by negative responses.
func New(negativeCapacity int, rrcPositive, rrcNegative *rrcache.Cache) *Cache {
	positiveCapacity := 2 * negativeCapacity
	messagesPositive, err := lru.New[key, entry](positiveCapacity)
	if err != nil {
		panic(err)
	}
	messagesNegative, err := lru.New[key, entry](negativeCapacity)
	if err != nil {
		panic(err)
	}
	return &Cache{
		messagesPositive: messagesPositive,
		messagesNegative: messagesNegative,
		rrcPositive:      rrcPositive,
		rrcNegative:      rrcNegative,
	}
}

func isNegativeResponse(msg *dns.Msg) bool {
	if msg.Rcode == dns.RcodeNameError {
		return true
	}
	if msg.Rcode == dns.RcodeSuccess && len(msg.Answer) == 0 {
		if hasRRTypeInAuthority(msg, dns.TypeSOA) {
			return true
		}
		if !hasRRTypeInAuthority(msg, dns.TypeNS) {
			return true
		}
	}
	return false
}

func hasRRTypeInAuthority(msg *dns.Msg, typ uint16) bool {
	for _, rr := range msg.Ns {
		if rr.Header().Rrtype == typ {
			return true
		}
	}
	return false
}

// canBeCached rejects any rcode other than NOERROR/NXDOMAIN, and a negative
// response that carries no SOA: without a SOA there is nothing to key the
// negative cache's trust/expiry off, and a referral (NS in authority, no SOA)
// belongs in the positive half via its Referral classification rather than
// here.
func canBeCached(msg *dns.Msg) bool {
	if msg.Rcode != dns.RcodeSuccess && msg.Rcode != dns.RcodeNameError {
		return false
	}
	if isNegativeResponse(msg) && !hasRRTypeInAuthority(msg, dns.TypeSOA) {
		return false
	}
	return true
}

func trustLevel(section string, aa bool) rrcache.TrustLevel {
	switch section {
	case "answer":
		if aa {
			return rrcache.AnswerWithAA
		}
		return rrcache.AnswerWithoutAA
	case "authority":
		if aa {
			return rrcache.AuthorityWithAA
		}
		return rrcache.AuthorityWithoutAA
	default: // additional
		if aa {
			return rrcache.AdditionalWithAA
		}
		return rrcache.AdditionalWithoutAA
	}
}

// rrsetsByNameType groups same-owner, same-type RRs together, the unit an
// RRC entry actually holds (dns.Msg stores a flat RR slice per section).
// Order is preserved so the rebuilt message's section ordering is stable.
func rrsetsByNameType(rrs []dns.RR) (order []key, grouped map[key][]dns.RR) {
	grouped = map[key][]dns.RR{}
	for _, rr := range rrs {
		k := key{name: dns.Fqdn(rr.Header().Name), typ: rr.Header().Rrtype}
		if _, ok := grouped[k]; !ok {
			order = append(order, k)
		}
		grouped[k] = append(grouped[k], rr)
	}
	return order, grouped
}

func minTTL(rrs []dns.RR) time.Duration {
	min := time.Duration(1<<31-1) * time.Second
	for _, rr := range rrs {
		ttl := time.Duration(rr.Header().Ttl) * time.Second
		if ttl < min {
			min = ttl
		}
	}
	return min
}

// Put classifies and stores msg, which must be the full reply to a query
// for (qname, qtype). Messages that are neither a positive answer nor a
// negative response carrying a SOA are silently dropped, per spec.
func (c *Cache) Put(qname nametree.Name, qtype uint16, msg *dns.Msg) {
	if !canBeCached(msg) {
		return
	}

	negative := isNegativeResponse(msg)
	aa := msg.Authoritative
	var refs []ref
	minTTLOverall := time.Duration(1<<31-1) * time.Second

	// addSection stores every distinct rrset in rrs into the RRC (negative
	// half for a negative response's SOA, positive half otherwise) and
	// returns how many rrsets (not raw RRs) it contributed, the unit the
	// fill side walks by.
	addSection := func(rrs []dns.RR, section string, forceNegative bool) int {
		order, grouped := rrsetsByNameType(rrs)
		for _, k := range order {
			set := grouped[k]
			name := nametree.NewName(k.name)
			isSOA := k.typ == dns.TypeSOA
			ttl := minTTL(set)
			if ttl < minTTLOverall {
				minTTLOverall = ttl
			}
			target := c.rrcPositive
			neg := false
			if forceNegative && isSOA {
				target = c.rrcNegative
				neg = true
			}
			target.Put(rrcache.RRSet{Name: name, Type: k.typ, Class: dns.ClassINET, TTL: ttl, RRs: set}, trustLevel(section, aa))
			refs = append(refs, ref{name: name, typ: k.typ, negative: neg})
		}
		return len(order)
	}

	answerCount := addSection(msg.Answer, "answer", false)
	authorityCount := addSection(msg.Ns, "authority", negative)
	additionalCount := addSection(msg.Extra, "additional", false)

	e := entry{
		rcode:           msg.Rcode,
		answerCount:     answerCount,
		authorityCount:  authorityCount,
		additionalCount: additionalCount,
		refs:            refs,
		expiry:          time.Now().Add(minTTLOverall),
	}

	k := keyOf(qname, qtype)
	if negative {
		c.messagesNegative.Add(k, e)
	} else {
		c.messagesPositive.Add(k, e)
	}
}

// GetResponse reconstructs a reply for (qname, qtype) from whichever half
// holds it. It returns false on a miss, on expiry, or if any referenced
// rrset has since been evicted from the record-set cache — in the last
// case the stale MC entry is dropped too.
func (c *Cache) GetResponse(qname nametree.Name, qtype uint16) (*dns.Msg, bool) {
	k := keyOf(qname, qtype)

	if e, ok := c.messagesPositive.Peek(k); ok {
		if msg, ok := c.materialise(qname, qtype, e, c.rrcPositive, c.rrcPositive); ok {
			c.messagesPositive.Get(k)
			return msg, true
		}
		c.messagesPositive.Remove(k)
		return nil, false
	}

	if e, ok := c.messagesNegative.Peek(k); ok {
		if msg, ok := c.materialise(qname, qtype, e, c.rrcPositive, c.rrcNegative); ok {
			c.messagesNegative.Get(k)
			return msg, true
		}
		c.messagesNegative.Remove(k)
		return nil, false
	}

	return nil, false
}

// DeepestNS walks name upward one label at a time, starting at name itself
// and ending at the root, probing the positive record-set cache for an NS
// rrset at each suffix. It returns the deepest (longest) suffix with a hit,
// used to bootstrap recursion from the closest known delegation.
func (c *Cache) DeepestNS(name nametree.Name) (nametree.Name, bool) {
	for k := name.LabelCount(); k >= 0; k-- {
		candidate := name.Suffix(k)
		if c.rrcPositive.Has(candidate, dns.TypeNS, dns.ClassINET) {
			return candidate, true
		}
	}
	return nametree.Name{}, false
}

func (c *Cache) materialise(qname nametree.Name, qtype uint16, e entry, positive, negative *rrcache.Cache) (*dns.Msg, bool) {
	if !e.expiry.After(time.Now()) {
		return nil, false
	}

	rrsets := make([][]dns.RR, 0, len(e.refs))
	for _, r := range e.refs {
		src := positive
		if r.negative {
			src = negative
		}
		rrset, ok := src.Get(r.name, r.typ, dns.ClassINET)
		if !ok {
			return nil, false
		}
		rrsets = append(rrsets, rrset.RRs)
	}

	msg := new(dns.Msg)
	msg.SetQuestion(qname.String(), qtype)
	msg.Response = true
	msg.RecursionAvailable = true
	msg.Rcode = e.rcode

	i := 0
	take := func(n int) []dns.RR {
		var out []dns.RR
		for j := 0; j < n; j++ {
			out = append(out, rrsets[i]...)
			i++
		}
		return out
	}
	msg.Answer = take(e.answerCount)
	msg.Ns = take(e.authorityCount)
	msg.Extra = take(e.additionalCount)
	return msg, true
}
