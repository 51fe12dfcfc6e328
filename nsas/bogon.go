package nsas

import "net"

// bogonNets lists address ranges a genuine public nameserver's glue record
// should never carry (RFC 1918/3927/4193 private/link-local/loopback
// space). A delegation pointing its glue at one of these is either
// misconfigured or an attempt to redirect traffic to an unintended network,
// so FetchZone drops such addresses rather than caching them. RFC 5737
// documentation ranges (192.0.2.0/24 and friends) are deliberately not
// included here since they are the standard choice for test fixtures, not
// a production poisoning vector.
//
// Adapted from the teacher's PrivateNets timeout-policy table (originally
// used to pick a shorter query timeout for nearby addresses); here the same
// set instead gates which glue addresses are trusted at all.
var bogonNets = []*net.IPNet{
	mustParseCIDR("10.0.0.0/8"),
	mustParseCIDR("127.0.0.0/8"),
	mustParseCIDR("169.254.0.0/16"),
	mustParseCIDR("172.16.0.0/12"),
	mustParseCIDR("192.168.0.0/16"),
	mustParseCIDR("::1/128"),
	mustParseCIDR("fd00::/8"),
	mustParseCIDR("fe80::/10"),
}

func mustParseCIDR(cidr string) *net.IPNet {
	_, n, err := net.ParseCIDR(cidr)
	if err != nil {
		panic(err)
	}
	return n
}

// isBogon reports whether ip falls in a range no legitimate public glue
// record should use.
func isBogon(ip net.IP) bool {
	for _, n := range bogonNets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// filterBogonGlue returns addrs with every bogon address removed.
func filterBogonGlue(addrs []net.IP) []net.IP {
	out := addrs[:0]
	for _, a := range addrs {
		if !isBogon(a) {
			out = append(out, a)
		}
	}
	return out
}
