// Package nametree implements a hierarchical name-indexed associative
// container: a red-black tree of red-black subtrees, one per label level,
// as used by both the authoritative zone store and the delegation/forwarder
// suffix tables.
package nametree

import (
	"strings"

	"github.com/miekg/dns"
)

// Name is a parsed, lower-cased domain name: an ordered sequence of labels
// with the leaf-most label first. The root label is implicit and never
// stored; the name "." is represented by an empty label slice.
type Name struct {
	labels []string
}

// NewName parses a presentation-format domain name (trailing dot optional).
func NewName(s string) Name {
	fqdn := dns.Fqdn(s)
	if fqdn == "." {
		return Name{}
	}
	parts := dns.SplitDomainName(fqdn)
	labels := make([]string, len(parts))
	for i, p := range parts {
		labels[i] = strings.ToLower(p)
	}
	return Name{labels: labels}
}

// String returns the canonical presentation form, with a trailing dot.
func (n Name) String() string {
	if len(n.labels) == 0 {
		return "."
	}
	return dns.Fqdn(strings.Join(n.labels, "."))
}

// IsRoot reports whether n is the DNS root, ".".
func (n Name) IsRoot() bool { return len(n.labels) == 0 }

// LabelCount returns the number of non-root labels.
func (n Name) LabelCount() int { return len(n.labels) }

// Equal reports whether n and other denote the same name.
func (n Name) Equal(other Name) bool {
	if len(n.labels) != len(other.labels) {
		return false
	}
	for i := range n.labels {
		if n.labels[i] != other.labels[i] {
			return false
		}
	}
	return true
}

// StripRootward drops the k labels closest to the root (the trailing k
// elements of labels), returning the leaf-ward remainder.
func (n Name) StripRootward(k int) Name {
	if k <= 0 {
		return n
	}
	if k >= len(n.labels) {
		return Name{}
	}
	out := make([]string, len(n.labels)-k)
	copy(out, n.labels[:len(n.labels)-k])
	return Name{labels: out}
}

func (n Name) stripRootward(k int) Name { return n.StripRootward(k) }

// Suffix returns the k labels closest to the root, as a standalone Name.
func (n Name) Suffix(k int) Name {
	if k <= 0 {
		return Name{}
	}
	if k >= len(n.labels) {
		return n
	}
	out := make([]string, k)
	copy(out, n.labels[len(n.labels)-k:])
	return Name{labels: out}
}

func (n Name) suffix(k int) Name { return n.Suffix(k) }

// concat returns leaf.labels followed by root.labels, i.e. the absolute name
// formed by prefixing leaf in front of root.
func concat(leaf, root Name) Name {
	if leaf.IsRoot() {
		return root
	}
	if root.IsRoot() {
		return leaf
	}
	out := make([]string, 0, len(leaf.labels)+len(root.labels))
	out = append(out, leaf.labels...)
	out = append(out, root.labels...)
	return Name{labels: out}
}

// Relation classifies the hierarchical relationship between two names.
type Relation int

const (
	// Equal: the two names denote the same domain.
	Equal Relation = iota
	// SubDomain: the compared name (the "other" argument) is a strict
	// ancestor of the receiver.
	SubDomain
	// SuperDomain: the compared name is a strict descendant of the
	// receiver.
	SuperDomain
	// CommonAncestor: neither is an ancestor of the other, but they share
	// at least one non-root label.
	CommonAncestor
	// Disjoint: the two names share no label but the implicit root.
	Disjoint
)

// Compared is the result of comparing two names: the relation between them,
// an order usable for red-black ordering at the point of first divergence,
// and the number of labels the two names share, counted from the root
// inward.
type Compared struct {
	Relation     Relation
	Order        int
	CommonLabels int
}

// compare computes the relation of target with respect to other.
func compare(target, other Name) Compared {
	ti, oi := len(target.labels)-1, len(other.labels)-1
	common := 0
	for ti >= 0 && oi >= 0 && target.labels[ti] == other.labels[oi] {
		ti--
		oi--
		common++
	}

	switch {
	case common == len(target.labels) && common == len(other.labels):
		return Compared{Relation: Equal, CommonLabels: common}
	case common == len(other.labels):
		// other fully consumed: target has strictly more labels and
		// other is its ancestor.
		return Compared{Relation: SubDomain, CommonLabels: common}
	case common == len(target.labels):
		return Compared{Relation: SuperDomain, CommonLabels: common}
	case common == 0:
		order := strings.Compare(target.labels[ti], other.labels[oi])
		return Compared{Relation: Disjoint, Order: order, CommonLabels: 0}
	default:
		order := strings.Compare(target.labels[ti], other.labels[oi])
		return Compared{Relation: CommonAncestor, Order: order, CommonLabels: common}
	}
}
