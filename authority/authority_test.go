package authority

import (
	"errors"
	"os"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nullzone-dns/recursor/errkind"
	"github.com/nullzone-dns/recursor/nametree"
)

func writeZoneFile(t *testing.T, contents string) string {
	f, err := os.CreateTemp(t.TempDir(), "zone-*.txt")
	require.NoError(t, err)
	_, err = f.WriteString(contents)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	return f.Name()
}

const exampleZone = `example.com. 3600 IN SOA ns1.example.com. hostmaster.example.com. 1 7200 3600 1209600 3600
example.com. 3600 IN NS ns1.example.com.
ns1.example.com. 3600 IN A 192.0.2.53
www.example.com. 3600 IN A 192.0.2.10
alias.example.com. 3600 IN CNAME www.example.com.
sub.example.com. 3600 IN NS ns1.sub.example.com.
ns1.sub.example.com. 3600 IN A 192.0.2.99
`

func loadExampleStore(t *testing.T) *Store {
	s := New()
	path := writeZoneFile(t, exampleZone)
	require.NoError(t, s.LoadZone(nametree.NewName("example.com."), path))
	return s
}

func TestFindSuccessWithApexNS(t *testing.T) {
	s := loadExampleStore(t)
	result, zoneFound := s.Find(nametree.NewName("www.example.com."), dns.TypeA)
	require.True(t, zoneFound)
	assert.Equal(t, Success, result.Type)
	require.Len(t, result.RRset, 1)
	assert.Equal(t, "192.0.2.10", result.RRset[0].(*dns.A).A.String())
	require.Len(t, result.ApexNS, 1)
}

func TestFindCNAME(t *testing.T) {
	s := loadExampleStore(t)
	result, zoneFound := s.Find(nametree.NewName("alias.example.com."), dns.TypeA)
	require.True(t, zoneFound)
	assert.Equal(t, CName, result.Type)
	require.Len(t, result.RRset, 1)
}

func TestFindNXDomain(t *testing.T) {
	s := loadExampleStore(t)
	result, zoneFound := s.Find(nametree.NewName("nosuch.example.com."), dns.TypeA)
	require.True(t, zoneFound)
	assert.Equal(t, NXDomain, result.Type)
	require.Len(t, result.ApexSOA, 1)
}

func TestFindNXRRset(t *testing.T) {
	s := loadExampleStore(t)
	result, zoneFound := s.Find(nametree.NewName("www.example.com."), dns.TypeAAAA)
	require.True(t, zoneFound)
	assert.Equal(t, NXRRset, result.Type)
	require.Len(t, result.ApexSOA, 1)
}

func TestFindDelegationWithGlue(t *testing.T) {
	s := loadExampleStore(t)
	result, zoneFound := s.Find(nametree.NewName("host.sub.example.com."), dns.TypeA)
	require.True(t, zoneFound)
	assert.Equal(t, Delegation, result.Type)
	require.Len(t, result.RRset, 1)
	assert.Equal(t, "ns1.sub.example.com.", result.RRset[0].(*dns.NS).Ns)
	require.Len(t, result.Additional, 1)
	assert.Equal(t, "192.0.2.99", result.Additional[0].(*dns.A).A.String())
}

func TestFindNoZoneCovering(t *testing.T) {
	s := loadExampleStore(t)
	_, zoneFound := s.Find(nametree.NewName("other.net."), dns.TypeA)
	assert.False(t, zoneFound)
}

func TestDeleteZone(t *testing.T) {
	s := loadExampleStore(t)
	assert.True(t, s.DeleteZone(nametree.NewName("example.com.")))
	assert.False(t, s.DeleteZone(nametree.NewName("example.com.")))

	_, zoneFound := s.Find(nametree.NewName("www.example.com."), dns.TypeA)
	assert.False(t, zoneFound)
}

func TestAddZoneRejectsDuplicate(t *testing.T) {
	s := loadExampleStore(t)
	err := s.AddZone(nametree.NewName("example.com."))
	assert.ErrorIs(t, err, errkind.ErrDuplicateZone)
}

func TestAddZoneThenAddRRset(t *testing.T) {
	s := New()
	origin := nametree.NewName("new.test.")
	require.NoError(t, s.AddZone(origin))

	soa, err := dns.NewRR("new.test. 3600 IN SOA ns1.new.test. hostmaster.new.test. 1 7200 3600 1209600 3600")
	require.NoError(t, err)
	require.NoError(t, s.AddRRset(origin, soa))

	a, err := dns.NewRR("host.new.test. 3600 IN A 192.0.2.50")
	require.NoError(t, err)
	require.NoError(t, s.AddRRset(origin, a))

	result, zoneFound := s.Find(nametree.NewName("host.new.test."), dns.TypeA)
	require.True(t, zoneFound)
	assert.Equal(t, Success, result.Type)
	require.Len(t, result.RRset, 1)
}

func TestAddRRsetRejectsUnknownZone(t *testing.T) {
	s := New()
	a, err := dns.NewRR("host.new.test. 3600 IN A 192.0.2.50")
	require.NoError(t, err)
	err = s.AddRRset(nametree.NewName("new.test."), a)
	assert.ErrorIs(t, err, errkind.ErrUnknownZone)
}

func TestAddRRsetRejectsCNameCoexistence(t *testing.T) {
	s := loadExampleStore(t)
	origin := nametree.NewName("example.com.")

	cname, err := dns.NewRR("www.example.com. 3600 IN CNAME other.example.com.")
	require.NoError(t, err)
	err = s.AddRRset(origin, cname)
	assert.ErrorIs(t, err, errkind.ErrCNameCoexistsWithOtherRR)

	a, err := dns.NewRR("alias.example.com. 3600 IN A 192.0.2.11")
	require.NoError(t, err)
	err = s.AddRRset(origin, a)
	assert.ErrorIs(t, err, errkind.ErrCNameCoexistsWithOtherRR)
}

func TestAddRRsetRejectsOutOfZone(t *testing.T) {
	s := loadExampleStore(t)
	a, err := dns.NewRR("host.other.net. 3600 IN A 192.0.2.11")
	require.NoError(t, err)
	err = s.AddRRset(nametree.NewName("example.com."), a)
	assert.ErrorIs(t, err, errkind.ErrOutOfZone)
}

func TestDeleteRRsetRemovesTypeOnly(t *testing.T) {
	s := loadExampleStore(t)
	origin := nametree.NewName("example.com.")
	require.NoError(t, s.DeleteRRset(origin, nametree.NewName("www.example.com."), dns.TypeA))

	result, zoneFound := s.Find(nametree.NewName("www.example.com."), dns.TypeA)
	require.True(t, zoneFound)
	assert.Equal(t, NXDomain, result.Type)
}

func TestDeleteDomainRemovesEveryType(t *testing.T) {
	s := loadExampleStore(t)
	origin := nametree.NewName("example.com.")
	require.NoError(t, s.DeleteDomain(origin, nametree.NewName("www.example.com.")))

	result, zoneFound := s.Find(nametree.NewName("www.example.com."), dns.TypeA)
	require.True(t, zoneFound)
	assert.Equal(t, NXDomain, result.Type)
}

func TestDeleteRdataLeavesOtherRdataIntact(t *testing.T) {
	s := New()
	origin := nametree.NewName("multi.test.")
	require.NoError(t, s.AddZone(origin))
	soa, _ := dns.NewRR("multi.test. 3600 IN SOA ns1.multi.test. hostmaster.multi.test. 1 7200 3600 1209600 3600")
	require.NoError(t, s.AddRRset(origin, soa))
	a1, _ := dns.NewRR("host.multi.test. 3600 IN A 192.0.2.1")
	a2, _ := dns.NewRR("host.multi.test. 3600 IN A 192.0.2.2")
	require.NoError(t, s.AddRRset(origin, a1))
	require.NoError(t, s.AddRRset(origin, a2))

	require.NoError(t, s.DeleteRdata(origin, nametree.NewName("host.multi.test."), dns.TypeA, "192.0.2.1"))

	result, zoneFound := s.Find(nametree.NewName("host.multi.test."), dns.TypeA)
	require.True(t, zoneFound)
	assert.Equal(t, Success, result.Type)
	require.Len(t, result.RRset, 1)
	assert.Equal(t, "192.0.2.2", result.RRset[0].(*dns.A).A.String())
}

func TestUpdateRdataReplacesInPlace(t *testing.T) {
	s := loadExampleStore(t)
	origin := nametree.NewName("example.com.")
	newA, err := dns.NewRR("www.example.com. 3600 IN A 192.0.2.20")
	require.NoError(t, err)
	require.NoError(t, s.UpdateRdata(origin, "192.0.2.10", newA))

	result, zoneFound := s.Find(nametree.NewName("www.example.com."), dns.TypeA)
	require.True(t, zoneFound)
	require.Len(t, result.RRset, 1)
	assert.Equal(t, "192.0.2.20", result.RRset[0].(*dns.A).A.String())
}

func TestUpdateRdataErrorsWhenRdataAbsent(t *testing.T) {
	s := loadExampleStore(t)
	origin := nametree.NewName("example.com.")
	newA, err := dns.NewRR("www.example.com. 3600 IN A 192.0.2.20")
	require.NoError(t, err)
	err = s.UpdateRdata(origin, "192.0.2.99", newA)
	assert.Error(t, err)
	assert.False(t, errors.Is(err, errkind.ErrUnknownZone))
}

func TestRemoveZoneRejectsUnknown(t *testing.T) {
	s := New()
	err := s.RemoveZone(nametree.NewName("nope.test."))
	assert.ErrorIs(t, err, errkind.ErrUnknownZone)
}
