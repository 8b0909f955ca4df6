// Package analysis compares routing tables across an incident and derives
// rule-based evidence that accompanies the LLM report.
package analysis

import (
	"net/netip"
	"sort"

	"github.com/hervehildenbrand/bgp-explain/pkg/models"
	"github.com/hervehildenbrand/bgp-explain/pkg/rib"
)

// Resolver maps an ASN to a country code, "" when unknown.
type Resolver interface {
	Resolve(asn uint32) string
}

// PathRef locates one peer path in a table.
type PathRef struct {
	Collector string `json:"collector"`
	Prefix    string `json:"prefix"`
	Peer      string `json:"peer"`
}

// OriginChange is a peer whose path now ends at a different AS.
type OriginChange struct {
	PathRef
	Before []uint32 `json:"before"`
	After  []uint32 `json:"after"`
}

// NewPrefix is a path to a prefix the collector did not carry before.
type NewPrefix struct {
	PathRef
	Path           []uint32 `json:"path"`
	CoveringPrefix string   `json:"covering_prefix,omitempty"`
	CoveringOrigin uint32   `json:"covering_origin,omitempty"`
}

// TransitChange is a peer path with the same destination but new hops.
type TransitChange struct {
	PathRef
	Before []uint32 `json:"before"`
	After  []uint32 `json:"after"`
	Added  []uint32 `json:"added"`
}

// Leak is a Tier1 -> non-Tier1 -> Tier1 segment on an after path.
type Leak struct {
	PathRef
	LeakASN    uint32 `json:"leaking_asn"`
	Upstream   uint32 `json:"upstream_tier1"`
	Downstream uint32 `json:"downstream_tier1"`
}

// Origin is an origin AS seen for the target around the incident.
type Origin struct {
	ASN     uint32 `json:"asn"`
	Country string `json:"country,omitempty"`
	Before  bool   `json:"before"`
	After   bool   `json:"after"`
}

// Diff is the evidence extracted from a before/after comparison.
type Diff struct {
	OriginChanges  []OriginChange  `json:"origin_changes"`
	NewPrefixes    []NewPrefix     `json:"new_prefixes"`
	Withdrawn      []PathRef       `json:"withdrawn"`
	TransitChanges []TransitChange `json:"transit_changes"`
	Leaks          []Leak          `json:"leaks"`
	Scrubbing      []uint32        `json:"scrubbing_asns"`
	Blackholes     []Blackhole     `json:"blackholes"`
	Origins        []Origin        `json:"origins"`
	Verdict        string          `json:"verdict"`
	Severity       string          `json:"severity"`
	Flags          []string        `json:"flags"`
}

// Severity levels
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Compare derives the evidence for before -> after. resolver may be nil.
func Compare(before, after rib.Table, resolver Resolver) Diff {
	d := compare(before, after, resolver)
	d.classify()
	return d
}

// Analyze is Compare over a snapshot, adding blackhole evidence from the
// communities tagged on after-window announcements.
func Analyze(snap rib.Snapshot, resolver Resolver) Diff {
	d := compare(snap.Before, snap.After, resolver)
	d.Blackholes = FindBlackholes(snap.Tagged)
	d.classify()
	return d
}

func compare(before, after rib.Table, resolver Resolver) Diff {
	d := Diff{}
	scrubbing := make(map[uint32]struct{})

	for _, collector := range after.Collectors() {
		prefixesAfter := after[collector]
		prefixesBefore := before[collector]

		for _, prefix := range sortedKeys(prefixesAfter) {
			pathsAfter := prefixesAfter[prefix]
			pathsBefore, knownPrefix := prefixesBefore[prefix]

			for _, peer := range sortedKeys(pathsAfter) {
				ap := pathsAfter[peer]
				ref := PathRef{Collector: collector, Prefix: prefix, Peer: peer}
				bp, knownPeer := pathsBefore[peer]

				for _, asn := range ap {
					if IsScrubbing(asn) {
						scrubbing[asn] = struct{}{}
					}
				}

				switch {
				case len(ap) == 0:
					if knownPeer && len(bp) > 0 {
						d.Withdrawn = append(d.Withdrawn, ref)
					}
					continue
				case !knownPrefix:
					np := NewPrefix{PathRef: ref, Path: ap}
					np.CoveringPrefix, np.CoveringOrigin = coveringOrigin(prefixesBefore, prefix, peer)
					d.NewPrefixes = append(d.NewPrefixes, np)
				case knownPeer && len(bp) > 0:
					if HasScrubbingCenter(ap) {
						// Traffic diverted to a mitigation provider.
						break
					}
					if last(ap) != last(bp) {
						d.OriginChanges = append(d.OriginChanges, OriginChange{PathRef: ref, Before: bp, After: ap})
					} else if added := addedHops(bp, ap); len(added) > 0 {
						d.TransitChanges = append(d.TransitChanges, TransitChange{PathRef: ref, Before: bp, After: ap, Added: added})
					}
				}

				if leakASN, up, down := findLeakPattern(ap); leakASN != 0 {
					if a, _, _ := findLeakPattern(bp); a != leakASN {
						d.Leaks = append(d.Leaks, Leak{PathRef: ref, LeakASN: leakASN, Upstream: up, Downstream: down})
					}
				}
			}
		}
	}

	for asn := range scrubbing {
		d.Scrubbing = append(d.Scrubbing, asn)
	}
	sort.Slice(d.Scrubbing, func(i, j int) bool { return d.Scrubbing[i] < d.Scrubbing[j] })

	d.Origins = origins(before, after, resolver)
	return d
}

// classify sets the verdict, severity and flags.
func (d *Diff) classify() {
	d.Verdict = models.VerdictNone
	d.Severity = SeverityLow
	d.Flags = []string{}

	blackholed := make(map[PathRef]bool, len(d.Blackholes))
	for _, bh := range d.Blackholes {
		blackholed[bh.PathRef] = true
	}

	hijackedSubPrefix := false
	for _, np := range d.NewPrefixes {
		if HasScrubbingCenter(np.Path) || blackholed[np.PathRef] {
			continue
		}
		if np.CoveringOrigin != 0 && last(np.Path) != np.CoveringOrigin {
			hijackedSubPrefix = true
			break
		}
	}

	switch {
	case len(d.OriginChanges) > 0 || hijackedSubPrefix:
		d.Verdict = models.VerdictHijack
		d.Severity = SeverityMedium
		if len(d.OriginChanges) > 0 {
			d.Flags = append(d.Flags, "origin_change")
		}
		if hijackedSubPrefix {
			d.Flags = append(d.Flags, "sub_prefix_origin")
		}
		if d.involvesTier1Origin() {
			d.Severity = SeverityCritical
			d.Flags = append(d.Flags, "tier1_involved")
		} else if d.touchesLargePrefix() {
			d.Severity = SeverityHigh
			d.Flags = append(d.Flags, "large_prefix")
		}
	case len(d.Leaks) > 0 || len(d.TransitChanges) > 0:
		d.Verdict = models.VerdictLeak
		d.Severity = SeverityMedium
		if len(d.Leaks) > 0 {
			d.Severity = SeverityHigh
			d.Flags = append(d.Flags, "tier1_transit_leak")
		}
		if len(d.TransitChanges) > 0 {
			d.Flags = append(d.Flags, "new_transit")
		}
	}

	if len(d.Blackholes) > 0 {
		d.Flags = append(d.Flags, "blackhole_community")
		if d.Verdict == models.VerdictNone {
			d.Severity = SeverityMedium
			if d.blackholesLargePrefix() {
				d.Severity = SeverityHigh
			}
		}
	}
	if len(d.Scrubbing) > 0 {
		d.Flags = append(d.Flags, "scrubbing_center")
	}
	if len(d.Withdrawn) > 0 {
		d.Flags = append(d.Flags, "withdrawals")
	}
}

func (d *Diff) involvesTier1Origin() bool {
	for _, oc := range d.OriginChanges {
		if IsTier1(last(oc.Before)) || IsTier1(last(oc.After)) {
			return true
		}
	}
	return false
}

func (d *Diff) touchesLargePrefix() bool {
	for _, oc := range d.OriginChanges {
		if p, err := netip.ParsePrefix(oc.Prefix); err == nil && p.Addr().Is4() && p.Bits() < 16 {
			return true
		}
	}
	return false
}

func (d *Diff) blackholesLargePrefix() bool {
	for _, bh := range d.Blackholes {
		if bits := prefixBits(bh.Prefix); !bh.HostRoute && bits >= 0 && bits < 16 {
			return true
		}
	}
	return false
}

// findLeakPattern looks for Tier1 -> SmallAS -> Tier1.
// Returns (leakASN, tier1Before, tier1After) or (0, 0, 0) if not found.
func findLeakPattern(asPath []uint32) (uint32, uint32, uint32) {
	for i := 0; i+2 < len(asPath); i++ {
		asn1, asn2, asn3 := asPath[i], asPath[i+1], asPath[i+2]
		if IsTier1(asn1) && IsTier1(asn3) && !IsTier1(asn2) && !IsScrubbing(asn2) {
			return asn2, asn1, asn3
		}
	}
	return 0, 0, 0
}

// coveringOrigin finds the most specific prefix the peer used before that
// covers prefix, and the origin of that path.
func coveringOrigin(before rib.Prefixes, prefix, peer string) (string, uint32) {
	target, err := netip.ParsePrefix(prefix)
	if err != nil {
		return "", 0
	}
	bestBits := -1
	var bestPrefix string
	var bestOrigin uint32
	for candidate, paths := range before {
		p, err := netip.ParsePrefix(candidate)
		if err != nil || p.Bits() >= target.Bits() || !p.Contains(target.Addr()) {
			continue
		}
		path := paths[peer]
		if len(path) == 0 {
			// Fall back to any peer's view of the covering prefix.
			path = anyPath(paths)
		}
		if len(path) == 0 || p.Bits() <= bestBits {
			continue
		}
		bestBits, bestPrefix, bestOrigin = p.Bits(), candidate, last(path)
	}
	return bestPrefix, bestOrigin
}

func origins(before, after rib.Table, resolver Resolver) []Origin {
	byASN := make(map[uint32]*Origin)
	mark := func(t rib.Table, isAfter bool) {
		for _, prefix := range t.Prefixes() {
			for _, asn := range t.Origins(prefix) {
				o, ok := byASN[asn]
				if !ok {
					o = &Origin{ASN: asn}
					byASN[asn] = o
				}
				if isAfter {
					o.After = true
				} else {
					o.Before = true
				}
			}
		}
	}
	mark(before, false)
	mark(after, true)

	out := make([]Origin, 0, len(byASN))
	for _, o := range byASN {
		if resolver != nil {
			o.Country = resolver.Resolve(o.ASN)
		}
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ASN < out[j].ASN })
	return out
}

func addedHops(before, after []uint32) []uint32 {
	seen := make(map[uint32]struct{}, len(before))
	for _, asn := range before {
		seen[asn] = struct{}{}
	}
	var added []uint32
	for _, asn := range after {
		if _, ok := seen[asn]; !ok {
			added = append(added, asn)
			seen[asn] = struct{}{}
		}
	}
	return added
}

func anyPath(paths rib.Paths) []uint32 {
	for _, peer := range sortedKeys(paths) {
		if len(paths[peer]) > 0 {
			return paths[peer]
		}
	}
	return nil
}

func last(path []uint32) uint32 {
	if len(path) == 0 {
		return 0
	}
	return path[len(path)-1]
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
