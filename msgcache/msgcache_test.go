package msgcache

import (
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nullzone-dns/recursor/nametree"
	"github.com/nullzone-dns/recursor/rrcache"
)

func newTestCache() *Cache {
	return New(10, rrcache.New(100), rrcache.New(100))
}

func rr(t *testing.T, s string) dns.RR {
	r, err := dns.NewRR(s)
	require.NoError(t, err)
	return r
}

func buildPositiveResponse(t *testing.T) *dns.Msg {
	msg := new(dns.Msg)
	msg.SetQuestion("test.example.com.", dns.TypeA)
	msg.Response = true
	msg.RecursionAvailable = true
	msg.Answer = []dns.RR{
		rr(t, "test.example.com. 3600 IN A 192.0.2.2"),
		rr(t, "test.example.com. 3600 IN A 192.0.2.1"),
	}
	msg.Ns = []dns.RR{rr(t, "example.com. 10 IN NS ns1.example.com.")}
	msg.Extra = []dns.RR{rr(t, "ns1.example.com. 3600 IN A 2.2.2.2")}
	return msg
}

func TestMissThenPutThenGet(t *testing.T) {
	c := newTestCache()
	name := nametree.NewName("test.example.com.")

	_, ok := c.GetResponse(name, dns.TypeA)
	assert.False(t, ok)

	c.Put(name, dns.TypeA, buildPositiveResponse(t))

	got, ok := c.GetResponse(name, dns.TypeA)
	require.True(t, ok)
	assert.Equal(t, dns.RcodeSuccess, got.Rcode)
	assert.True(t, got.Response)
	assert.False(t, got.Authoritative)
	require.Len(t, got.Answer, 2)
	assert.Equal(t, "192.0.2.2", got.Answer[0].(*dns.A).A.String())
	require.Len(t, got.Ns, 1)
	require.Len(t, got.Extra, 1)
}

func TestNegativeResponseRequiresSOA(t *testing.T) {
	c := newTestCache()
	name := nametree.NewName("nosoa.example.com.")

	msg := new(dns.Msg)
	msg.SetQuestion("nosoa.example.com.", dns.TypeA)
	msg.Response = true
	msg.Rcode = dns.RcodeNameError
	// no SOA in authority: must be rejected outright

	c.Put(name, dns.TypeA, msg)
	_, ok := c.GetResponse(name, dns.TypeA)
	assert.False(t, ok)
}

func TestNegativeResponseWithSOACached(t *testing.T) {
	c := newTestCache()
	name := nametree.NewName("nosuch.example.com.")

	msg := new(dns.Msg)
	msg.SetQuestion("nosuch.example.com.", dns.TypeA)
	msg.Response = true
	msg.Rcode = dns.RcodeNameError
	msg.Ns = []dns.RR{rr(t, "example.com. 300 IN SOA a.iana-servers.net. noc.dns.icann.org. 1 7200 3600 1209600 3600")}

	c.Put(name, dns.TypeA, msg)

	got, ok := c.GetResponse(name, dns.TypeA)
	require.True(t, ok)
	assert.Equal(t, dns.RcodeNameError, got.Rcode)
	require.Len(t, got.Ns, 1)
}

func TestNegativeResponseNXRRsetPreservesNoerrorRcode(t *testing.T) {
	c := newTestCache()
	name := nametree.NewName("nodata.example.com.")

	msg := new(dns.Msg)
	msg.SetQuestion("nodata.example.com.", dns.TypeAAAA)
	msg.Response = true
	msg.Rcode = dns.RcodeSuccess
	msg.Ns = []dns.RR{rr(t, "example.com. 300 IN SOA a.iana-servers.net. noc.dns.icann.org. 1 7200 3600 1209600 3600")}

	c.Put(name, dns.TypeAAAA, msg)

	got, ok := c.GetResponse(name, dns.TypeAAAA)
	require.True(t, ok)
	assert.Equal(t, dns.RcodeSuccess, got.Rcode)
	assert.Empty(t, got.Answer)
}

func TestGetResponseEvictsOnBrokenReference(t *testing.T) {
	rrcPos := rrcache.New(100)
	rrcNeg := rrcache.New(100)
	c := New(10, rrcPos, rrcNeg)
	name := nametree.NewName("test.example.com.")

	c.Put(name, dns.TypeA, buildPositiveResponse(t))

	// simulate the referenced rrset being evicted from the RRC directly
	rrcPos.Clear()

	_, ok := c.GetResponse(name, dns.TypeA)
	assert.False(t, ok)

	// the now-broken MC entry must itself have been dropped
	_, ok = c.GetResponse(name, dns.TypeA)
	assert.False(t, ok)
}

func TestDeepestNS(t *testing.T) {
	c := newTestCache()
	c.rrcPositive.Put(rrcache.RRSet{
		Name:  nametree.NewName("example.com."),
		Type:  dns.TypeNS,
		Class: dns.ClassINET,
		TTL:   100 * time.Second,
		RRs:   []dns.RR{rr(t, "example.com. 100 IN NS ns1.example.com.")},
	}, rrcache.AnswerWithAA)

	got, ok := c.DeepestNS(nametree.NewName("a.b.c.example.com."))
	require.True(t, ok)
	assert.Equal(t, "example.com.", got.String())

	_, ok = c.DeepestNS(nametree.NewName("example.cn."))
	assert.False(t, ok)
}
