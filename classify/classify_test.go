package classify

import (
	"encoding/hex"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"

	"github.com/nullzone-dns/recursor/nametree"
)

func unpackHex(t *testing.T, h string) *dns.Msg {
	raw, err := hex.DecodeString(h)
	require.NoError(t, err)
	msg := new(dns.Msg)
	require.NoError(t, msg.Unpack(raw))
	return msg
}

// These wire captures are carried over unmodified from the classifier this
// package replaces: a root-server referral for baidu.com, and the CNAME
// chains baidu.com itself returns for its "www" host.
func TestClassifyReferral(t *testing.T) {
	msg := unpackHex(t, "cb7b830000010000000d000b05626169647503636f6d0000010001c012000200010002a3000014016c0c67746c642d73657276657273036e657400c012000200010002a30000040162c029c012000200010002a30000040163c029c012000200010002a30000040164c029c012000200010002a30000040165c029c012000200010002a30000040166c029c012000200010002a30000040167c029c012000200010002a30000040161c029c012000200010002a30000040168c029c012000200010002a30000040169c029c012000200010002a3000004016ac029c012000200010002a3000004016bc029c012000200010002a3000004016dc029c027000100010002a3000004c029a21ec027001c00010002a300001020010500d93700000000000000000030c047000100010002a3000004c0210e1ec047001c00010002a300001020010503231d00000000000000020030c057000100010002a3000004c01a5c1ec057001c00010002a30000102001050383eb00000000000000000030c067000100010002a3000004c01f501ec067001c00010002a300001020010500856e00000000000000000030c077000100010002a3000004c00c5e1ec077001c00010002a3000010200105021ca100000000000000000030c087000100010002a3000004c023331e")
	result := Classify(nametree.NewName("baidu.com."), dns.TypeA, msg)
	require.Equal(t, Referral, result.Category)
}

func TestClassifyAnswerCName(t *testing.T) {
	msg := unpackHex(t, "cb7b818000010004000000000377777705626169647503636f6d0000010001c00c00050001000000d2000f0377777701610673686966656ec016c02b0005000100000043000e03777777077773686966656ec016c04600010001000000df000468c1584dc04600010001000000df000468c1587b")
	result := Classify(nametree.NewName("www.baidu.com."), dns.TypeA, msg)
	require.Equal(t, AnswerCName, result.Category)
}

func TestClassifyCName(t *testing.T) {
	msg := unpackHex(t, "cb7b850000010001000500050377777705626169647503636f6d0000010001c00c00050001000004b0000f0377777701610673686966656ec016c02f00020001000004b00006036e7332c02fc02f00020001000004b00006036e7334c02fc02f00020001000004b00006036e7335c02fc02f00020001000004b00006036e7333c02fc02f00020001000004b00006036e7331c02fc08e00010001000004b000043d87a5e0c04600010001000004b00004dcb52120c07c00010001000004b000047050fffdc05800010001000004b000040ed7b1e5c06a00010001000004b00004b44c4c5f")
	result := Classify(nametree.NewName("www.baidu.com."), dns.TypeA, msg)
	require.Equal(t, CName, result.Category)
	require.Equal(t, "www.a.shifen.com.", result.Target.String())
}

func TestClassifyAnswer(t *testing.T) {
	msg := unpackHex(t, "cb7b818000010001000000000377777706676f6f676c6503636f6d0000010001c00c000100010000012b0004acd9a064")
	result := Classify(nametree.NewName("www.google.com."), dns.TypeA, msg)
	require.Equal(t, Answer, result.Category)
}

func TestClassifyAnswerMultipleRecordsSameRRset(t *testing.T) {
	msg := new(dns.Msg)
	msg.SetQuestion("example.com.", dns.TypeA)
	msg.Response = true
	a1, err := dns.NewRR("example.com. 300 IN A 192.0.2.1")
	require.NoError(t, err)
	a2, err := dns.NewRR("example.com. 300 IN A 192.0.2.2")
	require.NoError(t, err)
	msg.Answer = []dns.RR{a1, a2}
	result := Classify(nametree.NewName("example.com."), dns.TypeA, msg)
	require.Equal(t, Answer, result.Category)
}

func TestClassifyNXDomain(t *testing.T) {
	msg := new(dns.Msg)
	msg.SetQuestion("nosuchdomain.example.", dns.TypeA)
	msg.Response = true
	msg.Rcode = dns.RcodeNameError
	result := Classify(nametree.NewName("nosuchdomain.example."), dns.TypeA, msg)
	require.Equal(t, NXDomain, result.Category)
}

func TestClassifyNXRRset(t *testing.T) {
	msg := new(dns.Msg)
	msg.SetQuestion("example.com.", dns.TypeAAAA)
	msg.Response = true
	soa, err := dns.NewRR("example.com. 300 IN SOA a.iana-servers.net. noc.dns.icann.org. 1 7200 3600 1209600 3600")
	require.NoError(t, err)
	msg.Ns = []dns.RR{soa}
	result := Classify(nametree.NewName("example.com."), dns.TypeAAAA, msg)
	require.Equal(t, NXRRset, result.Category)
}

func TestClassifyInvalidNotResponse(t *testing.T) {
	msg := new(dns.Msg)
	msg.SetQuestion("example.com.", dns.TypeA)
	result := Classify(nametree.NewName("example.com."), dns.TypeA, msg)
	require.Equal(t, Invalid, result.Category)
}

func TestClassifyInvalidQuestionMismatch(t *testing.T) {
	msg := new(dns.Msg)
	msg.SetQuestion("other.example.", dns.TypeA)
	msg.Response = true
	result := Classify(nametree.NewName("example.com."), dns.TypeA, msg)
	require.Equal(t, Invalid, result.Category)
}
