package nsas

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsBogonDetectsPrivateAndLoopback(t *testing.T) {
	assert.True(t, isBogon(net.ParseIP("10.1.2.3")))
	assert.True(t, isBogon(net.ParseIP("192.168.1.1")))
	assert.True(t, isBogon(net.ParseIP("127.0.0.1")))
	assert.True(t, isBogon(net.ParseIP("fe80::1")))
	assert.False(t, isBogon(net.ParseIP("8.8.8.8")))
	assert.False(t, isBogon(net.ParseIP("2001:4860:4860::8888")))
}

func TestFilterBogonGlueDropsOnlyBogons(t *testing.T) {
	in := []net.IP{net.ParseIP("8.8.8.8"), net.ParseIP("10.0.0.1"), net.ParseIP("9.9.9.9")}
	out := filterBogonGlue(in)
	assert.Equal(t, []net.IP{net.ParseIP("8.8.8.8"), net.ParseIP("9.9.9.9")}, out)
}
