// Package classify implements the pure response classifier: a total
// function from a query's (name, type) and the message received in reply to
// one of a small set of categories the iterative query engine dispatches
// on.
package classify

import (
	"github.com/miekg/dns"

	"github.com/nullzone-dns/recursor/nametree"
)

// Category is the outcome of classifying a reply.
type Category int

const (
	// Invalid means the reply cannot be trusted or interpreted at all.
	Invalid Category = iota
	// Answer means the answer section holds exactly the rrset asked for.
	Answer
	// AnswerCName means the answer section is a CNAME chain terminating
	// in the rrset asked for.
	AnswerCName
	// CName means the answer section is a (possibly singleton) CNAME
	// chain that does not yet reach the type asked for; resolution must
	// continue at Target.
	CName
	// NXDomain means the queried name does not exist.
	NXDomain
	// NXRRset means the queried name exists but has no data of the
	// asked-for type.
	NXRRset
	// Referral means the reply delegates to a deeper zone.
	Referral
)

// Result is the outcome of Classify: a Category plus, for CName, the name
// the chain has been redirected to.
type Result struct {
	Category Category
	Target   nametree.Name
	Reason   string // set only when Category == Invalid, for logging
}

func invalid(reason string) Result {
	return Result{Category: Invalid, Reason: reason}
}

type rrsetKey struct {
	name  string
	rtype uint16
}

// rrset is one (name, type) group from a message section — the unit spec's
// classification rules operate on, since dns.Msg stores a flat per-section
// RR slice rather than grouped rrsets.
type rrset struct {
	name  nametree.Name
	rtype uint16
	rrs   []dns.RR
}

// groupRRsets groups rrs by (name, type), preserving first-seen order.
func groupRRsets(rrs []dns.RR) []rrset {
	var order []rrsetKey
	grouped := map[rrsetKey][]dns.RR{}
	for _, rr := range rrs {
		k := rrsetKey{name: dns.Fqdn(rr.Header().Name), rtype: rr.Header().Rrtype}
		if _, ok := grouped[k]; !ok {
			order = append(order, k)
		}
		grouped[k] = append(grouped[k], rr)
	}
	out := make([]rrset, 0, len(order))
	for _, k := range order {
		out = append(out, rrset{name: nametree.NewName(k.name), rtype: k.rtype, rrs: grouped[k]})
	}
	return out
}

// Classify applies spec's rule set, in order, first match wins, to msg as a
// candidate reply to a query for (qname, qtype).
func Classify(qname nametree.Name, qtype uint16, msg *dns.Msg) Result {
	if !msg.Response {
		return invalid("not a response message")
	}
	if msg.Opcode != dns.OpcodeQuery {
		return invalid("not a query-opcode message")
	}
	if len(msg.Question) != 1 {
		return invalid("short of question")
	}
	q := msg.Question[0]
	if !nametree.NewName(q.Name).Equal(qname) || q.Qtype != qtype {
		return invalid("question doesn't match")
	}

	if msg.Rcode == dns.RcodeNameError {
		return Result{Category: NXDomain}
	}
	if msg.Rcode != dns.RcodeSuccess {
		return invalid("invalid rcode")
	}

	answerSets := groupRRsets(msg.Answer)
	authority := msg.Ns

	if len(answerSets) == 0 {
		if len(authority) == 0 {
			return invalid("empty response")
		}
		for _, rr := range authority {
			if rr.Header().Rrtype == dns.TypeNS {
				return Result{Category: Referral}
			}
		}
		return Result{Category: NXRRset}
	}

	if len(answerSets) == 1 {
		set := answerSets[0]
		if !set.name.Equal(qname) {
			return invalid("answer name doesn't match question")
		}
		switch {
		case set.rtype == qtype:
			return Result{Category: Answer}
		case set.rtype == dns.TypeCNAME:
			if len(set.rrs) != 1 {
				return invalid("cname rrset holds more than one rdata")
			}
			cname, ok := set.rrs[0].(*dns.CNAME)
			if !ok {
				return invalid("cname doesn't have one rdata")
			}
			return Result{Category: CName, Target: nametree.NewName(cname.Target)}
		default:
			return invalid("answer type doesn't match question")
		}
	}

	// CNAME chain: walk from qname, each intermediate rrset must be a
	// singleton CNAME pointing to the next name; the last rrset either
	// matches qtype (AnswerCName, however many records it holds) or is
	// itself a singleton CNAME (CName).
	lastName := qname
	for i, set := range answerSets {
		if !set.name.Equal(lastName) {
			return invalid("cname doesn't form a chain")
		}
		if i != len(answerSets)-1 {
			if set.rtype != dns.TypeCNAME || len(set.rrs) != 1 {
				return invalid("cname chain is broken")
			}
			cname, ok := set.rrs[0].(*dns.CNAME)
			if !ok {
				return invalid("cname chain is broken")
			}
			lastName = nametree.NewName(cname.Target)
			continue
		}
		if set.rtype == dns.TypeCNAME {
			if len(set.rrs) != 1 {
				return invalid("cname rrset holds more than one rdata")
			}
			cname, ok := set.rrs[0].(*dns.CNAME)
			if !ok {
				return invalid("cname doesn't have one rdata")
			}
			return Result{Category: CName, Target: nametree.NewName(cname.Target)}
		}
		if set.rtype != qtype {
			return invalid("answer type doesn't match question")
		}
		return Result{Category: AnswerCName}
	}

	return invalid("unreachable")
}
