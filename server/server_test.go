package server

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nullzone-dns/recursor/authority"
	"github.com/nullzone-dns/recursor/nametree"
)

func writeZoneFile(t *testing.T, contents string) string {
	path := filepath.Join(t.TempDir(), "zone.txt")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

const exampleZone = `example.com. 3600 IN SOA ns1.example.com. hostmaster.example.com. 1 7200 3600 1209600 3600
example.com. 3600 IN NS ns1.example.com.
ns1.example.com. 3600 IN A 192.0.2.53
www.example.com. 3600 IN A 192.0.2.10
`

func newAuthorityOnlyServer(t *testing.T) *Server {
	store := authority.New()
	require.NoError(t, store.LoadZone(nametree.NewName("example.com."), writeZoneFile(t, exampleZone)))
	return New("127.0.0.1:0", false, store, nil)
}

func TestAnswerServesAuthoritativeSuccess(t *testing.T) {
	s := newAuthorityOnlyServer(t)
	req := new(dns.Msg)
	req.SetQuestion("www.example.com.", dns.TypeA)

	reply := s.answer(req, nametree.NewName("www.example.com."), dns.TypeA)
	assert.Equal(t, dns.RcodeSuccess, reply.Rcode)
	assert.True(t, reply.Authoritative)
	require.Len(t, reply.Answer, 1)
}

func TestAnswerServesAuthoritativeNXDomain(t *testing.T) {
	s := newAuthorityOnlyServer(t)
	req := new(dns.Msg)
	req.SetQuestion("nosuch.example.com.", dns.TypeA)

	reply := s.answer(req, nametree.NewName("nosuch.example.com."), dns.TypeA)
	assert.Equal(t, dns.RcodeNameError, reply.Rcode)
	require.Len(t, reply.Ns, 1)
}

func TestAnswerRefusesUncoveredNameWithoutRecursor(t *testing.T) {
	s := newAuthorityOnlyServer(t)
	req := new(dns.Msg)
	req.SetQuestion("other.net.", dns.TypeA)

	reply := s.answer(req, nametree.NewName("other.net."), dns.TypeA)
	assert.Equal(t, dns.RcodeRefused, reply.Rcode)
}

func TestHandleDropsMalformedQuery(t *testing.T) {
	s := newAuthorityOnlyServer(t)
	req := new(dns.Msg)
	req.Opcode = dns.OpcodeStatus

	rw := &capturingResponseWriter{}
	s.handle(rw, req)
	assert.Nil(t, rw.written)
}

func TestHandleWritesReplyForValidQuery(t *testing.T) {
	s := newAuthorityOnlyServer(t)
	req := new(dns.Msg)
	req.SetQuestion("www.example.com.", dns.TypeA)

	rw := &capturingResponseWriter{}
	s.handle(rw, req)
	require.NotNil(t, rw.written)
	assert.True(t, rw.written.Response)
	assert.Equal(t, dns.RcodeSuccess, rw.written.Rcode)
}

// capturingResponseWriter is a minimal dns.ResponseWriter fake that records
// the message passed to WriteMsg, avoiding the need for a real socket.
type capturingResponseWriter struct {
	dns.ResponseWriter
	written *dns.Msg
}

func (c *capturingResponseWriter) WriteMsg(m *dns.Msg) error {
	c.written = m
	return nil
}
