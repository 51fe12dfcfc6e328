// Package rrcache implements the record-set cache (RRC): a capacity-bounded
// LRU keyed by (name, type, class) that arbitrates concurrent writers by
// trust level rather than simply by recency.
package rrcache

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/miekg/dns"

	"github.com/nullzone-dns/recursor/nametree"
)

// TrustLevel totally orders record provenance for write arbitration. Lower
// values lose to higher ones on conflicting writes for the same key.
type TrustLevel int

const (
	Default TrustLevel = iota
	AdditionalWithoutAA
	AuthorityWithoutAA
	AdditionalWithAA
	NonAuthAnswerWithAA
	AnswerWithoutAA
	PrimGlue
	AuthorityWithAA
	AnswerWithAA
	PrimNonGlue
)

// RRSet is a snapshot of one name/type's record data, with a relative TTL
// computed at the moment it was read out of the cache.
type RRSet struct {
	Name  nametree.Name
	Type  uint16
	Class uint16
	TTL   time.Duration
	RRs   []dns.RR
}

type key struct {
	name  string
	typ   uint16
	class uint16
}

func keyOf(name nametree.Name, typ, class uint16) key {
	return key{name: name.String(), typ: typ, class: class}
}

type entry struct {
	rrs    []dns.RR
	trust  TrustLevel
	expiry time.Time
}

// Cache is the record-set cache. The zero value is not usable; use New.
type Cache struct {
	mu  sync.Mutex
	lru *lru.Cache[key, entry]
}

// New returns an RRC with room for capacity entries. Once full, the least
// recently used entry is evicted on the next Put.
func New(capacity int) *Cache {
	c, err := lru.New[key, entry](capacity)
	if err != nil {
		// capacity <= 0 is a programmer error, not a runtime condition.
		panic(err)
	}
	return &Cache{lru: c}
}

// Get returns the cached rrset for (name, type, class), if any unexpired
// entry exists. The returned TTL is relative to now. A stale entry found
// during lookup is dropped. Touches LRU recency on a hit.
func (c *Cache) Get(name nametree.Name, typ, class uint16) (RRSet, bool) {
	k := keyOf(name, typ, class)
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lru.Get(k)
	if !ok {
		return RRSet{}, false
	}
	if !e.expiry.After(now) {
		c.lru.Remove(k)
		return RRSet{}, false
	}

	return RRSet{
		Name:  name,
		Type:  typ,
		Class: class,
		TTL:   e.expiry.Sub(now),
		RRs:   e.rrs,
	}, true
}

// Has reports membership without disturbing LRU recency, for use by code
// that probes the cache speculatively (e.g. msgcache.DeepestNS) without
// wanting that probe itself to extend an entry's life.
func (c *Cache) Has(name nametree.Name, typ, class uint16) bool {
	k := keyOf(name, typ, class)
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lru.Peek(k)
	if !ok {
		return false
	}
	return e.expiry.After(now)
}

// Put inserts rrset at the given trust level, unless an unexpired entry
// already occupies that key at strictly higher trust, in which case the
// existing entry is kept. Touches LRU recency either way.
func (c *Cache) Put(rrset RRSet, trust TrustLevel) {
	k := keyOf(rrset.Name, rrset.Type, rrset.Class)
	now := time.Now()
	expiry := now.Add(rrset.TTL)

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.lru.Peek(k); ok && existing.expiry.After(now) && existing.trust > trust {
		c.lru.Get(k) // touch recency without altering the kept entry
		return
	}

	c.lru.Add(k, entry{rrs: rrset.RRs, trust: trust, expiry: expiry})
}

// Len returns the number of entries currently resident, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Clear empties the cache.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
}
