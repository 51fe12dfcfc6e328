package forwarder

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nullzone-dns/recursor/nametree"
)

func TestNoMatchReturnsUnmatched(t *testing.T) {
	table := New(map[string][]string{"example.com.": {"192.0.2.1:53"}})
	_, matched, err := table.Forward(context.Background(), nametree.NewName("other.net."), 1)
	require.NoError(t, err)
	assert.False(t, matched)
}

func TestMatchWithUnreachableUpstreamErrors(t *testing.T) {
	table := New(map[string][]string{"example.com.": {"192.0.2.254:53"}})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, matched, err := table.Forward(ctx, nametree.NewName("www.example.com."), 1)
	assert.True(t, matched)
	assert.Error(t, err)
}

func TestUpstreamRTTSmoothing(t *testing.T) {
	u := &upstream{addr: "192.0.2.1:53"}
	assert.Equal(t, uint64(0), u.rtt)

	u.setUnreachable()
	assert.Equal(t, unreachableRTT, u.rtt)

	u.setRTT(10 * time.Millisecond)
	assert.Equal(t, uint64(10*time.Millisecond), u.rtt)

	u.setRTT(70 * time.Millisecond)
	assert.Equal(t, uint64(52*time.Millisecond), u.rtt)
}

func TestGroupSelectsLowestRTT(t *testing.T) {
	g := newGroup([]string{"192.0.2.1:53", "192.0.2.2:53"})
	g.upstreams[0].rtt = 50
	g.upstreams[1].rtt = 10

	best := g.selectUpstream()
	assert.Equal(t, "192.0.2.2:53", best.addr)
}

func TestValidateAddr(t *testing.T) {
	require.NoError(t, validateAddr("192.0.2.1:53"))
	assert.Error(t, validateAddr("not-an-addr"))
	assert.Error(t, validateAddr("example.com:53"))
}

func TestFindsLongestMatchingZone(t *testing.T) {
	table := New(map[string][]string{
		"com.":         {"192.0.2.1:53"},
		"example.com.": {"192.0.2.2:53"},
	})
	result := table.tree.Find(nametree.NewName("www.example.com."))
	g, ok := result.Value()
	require.True(t, ok)
	u := g.selectUpstream()
	assert.Equal(t, "192.0.2.2:53", u.addr)
}
