// Package nsas implements the nameserver address store: a zone-name to
// nameserver-name cache, a nameserver-name to address cache with smoothed
// RTT tracking, and in-flight probe deduplication for both.
package nsas

import (
	"math"
	"net"
	"time"
)

// UnreachableRTT is the sentinel RTT recorded for a nameserver address that
// has been observed to fail. It sorts last under SelectAddress but an
// UNREACHABLE entry is still eligible for selection if nothing else exists.
const UnreachableRTT = time.Duration(math.MaxInt64)

// AddressEntry is one candidate address for a nameserver, with its smoothed
// round-trip time.
type AddressEntry struct {
	Addr net.IP
	RTT  time.Duration
}

// SetRTT folds a freshly observed round-trip time into the smoothed
// estimate: rtt' = (rtt*3 + observed*7) / 10. An entry coming back from
// UNREACHABLE is reset directly to the observed value instead of being
// smoothed against the sentinel.
func (e *AddressEntry) SetRTT(observed time.Duration) {
	if e.RTT == UnreachableRTT {
		e.RTT = observed
		return
	}
	e.RTT = (e.RTT*3 + observed*7) / 10
}

// SetUnreachable records that the last attempt to reach this address failed.
func (e *AddressEntry) SetUnreachable() { e.RTT = UnreachableRTT }

// IsReachable reports whether e's last outcome was success.
func (e AddressEntry) IsReachable() bool { return e.RTT != UnreachableRTT }

// SelectAddress picks one address from candidates: IPv4 is preferred over
// IPv6, and within the preferred family the lowest smoothed RTT wins, ties
// broken by iteration (slice) order. IPv6 is only chosen when no IPv4
// candidate exists at all.
func SelectAddress(candidates []AddressEntry) (AddressEntry, bool) {
	best := -1
	for i, a := range candidates {
		if a.Addr.To4() == nil {
			continue
		}
		if best == -1 || a.RTT < candidates[best].RTT {
			best = i
		}
	}
	if best != -1 {
		return candidates[best], true
	}

	for i, a := range candidates {
		if best == -1 || a.RTT < candidates[best].RTT {
			best = i
		}
	}
	if best == -1 {
		return AddressEntry{}, false
	}
	return candidates[best], true
}
