// Package rib holds per-collector routing table snapshots for a target.
package rib

import (
	"math/rand"
	"sort"
	"time"

	"github.com/hervehildenbrand/bgp-explain/pkg/models"
)

// Paths maps a peer key to the AS path that peer uses.
type Paths map[string][]uint32

// Prefixes maps a prefix to the paths seen for it.
type Prefixes map[string]Paths

// Table maps a collector name to the prefixes it saw.
// The JSON form is {collector: {prefix: {peer: [asn, ...]}}}.
type Table map[string]Prefixes

// New returns an empty table.
func New() Table {
	return make(Table)
}

// CompressPath collapses consecutive duplicate hops (AS prepending).
func CompressPath(path []uint32) []uint32 {
	out := make([]uint32, 0, len(path))
	for i, asn := range path {
		if i > 0 && asn == path[i-1] {
			continue
		}
		out = append(out, asn)
	}
	return out
}

// Set records the path a peer uses for a prefix at a collector.
func (t Table) Set(collector, prefix, peer string, path []uint32) {
	prefixes, ok := t[collector]
	if !ok {
		prefixes = make(Prefixes)
		t[collector] = prefixes
	}
	paths, ok := prefixes[prefix]
	if !ok {
		paths = make(Paths)
		prefixes[prefix] = paths
	}
	paths[peer] = path
}

// Ensure makes sure a collector is present even when it saw nothing.
func (t Table) Ensure(collector string) {
	if _, ok := t[collector]; !ok {
		t[collector] = make(Prefixes)
	}
}

// Apply folds an update into the table. Withdrawals leave an empty path.
func (t Table) Apply(u models.BGPUpdate) {
	if u.Prefix == "" {
		return
	}
	peer := u.PeerKey()
	if peer == "" {
		return
	}
	if !u.Announcement {
		t.Set(u.Collector, u.Prefix, peer, []uint32{})
		return
	}
	if len(u.ASPath) == 0 {
		return
	}
	t.Set(u.Collector, u.Prefix, peer, CompressPath(u.ASPath))
}

// ApplyAll folds updates in order.
func (t Table) ApplyAll(updates []models.BGPUpdate) {
	for _, u := range updates {
		t.Apply(u)
	}
}

// Clone returns a deep copy.
func (t Table) Clone() Table {
	out := make(Table, len(t))
	for collector, prefixes := range t {
		cp := make(Prefixes, len(prefixes))
		for prefix, paths := range prefixes {
			pp := make(Paths, len(paths))
			for peer, path := range paths {
				pp[peer] = append([]uint32{}, path...)
			}
			cp[prefix] = pp
		}
		out[collector] = cp
	}
	return out
}

// Select restricts the table to the given collectors. Collectors the table
// does not know appear with no prefixes. Duplicates collapse.
func (t Table) Select(collectors []string) Table {
	out := make(Table, len(collectors))
	for _, c := range collectors {
		if prefixes, ok := t[c]; ok {
			out[c] = prefixes
		} else {
			out[c] = make(Prefixes)
		}
	}
	return out.Clone()
}

// SampleCollectors draws n collector names with replacement.
func SampleCollectors(collectors []string, n int, rng *rand.Rand) []string {
	if len(collectors) == 0 || n <= 0 {
		return nil
	}
	out := make([]string, n)
	for i := range out {
		out[i] = collectors[rng.Intn(len(collectors))]
	}
	return out
}

// Collectors returns the sorted collector names.
func (t Table) Collectors() []string {
	out := make([]string, 0, len(t))
	for c := range t {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Prefixes returns the sorted set of prefixes across all collectors.
func (t Table) Prefixes() []string {
	seen := make(map[string]struct{})
	for _, prefixes := range t {
		for p := range prefixes {
			seen[p] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Origins returns the sorted set of last hops seen for a prefix.
func (t Table) Origins(prefix string) []uint32 {
	seen := make(map[uint32]struct{})
	for _, prefixes := range t {
		for _, path := range prefixes[prefix] {
			if len(path) > 0 {
				seen[path[len(path)-1]] = struct{}{}
			}
		}
	}
	out := make([]uint32, 0, len(seen))
	for asn := range seen {
		out = append(out, asn)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Len returns the number of peer paths in the table.
func (t Table) Len() int {
	n := 0
	for _, prefixes := range t {
		for _, paths := range prefixes {
			n += len(paths)
		}
	}
	return n
}

// Tagged is an incident-window announcement that carried BGP communities.
// Path tables keep only AS paths, so communities travel alongside.
type Tagged struct {
	Collector   string    `json:"collector"`
	Prefix      string    `json:"prefix"`
	Peer        string    `json:"peer"`
	Path        []uint32  `json:"path"`
	Origin      uint32    `json:"origin"`
	Communities []string  `json:"communities"`
	Seen        time.Time `json:"seen"`
}

// Tag returns u as a Tagged entry if it is an announcement with communities.
func Tag(u models.BGPUpdate) (Tagged, bool) {
	if !u.Announcement || len(u.Communities) == 0 || u.Prefix == "" {
		return Tagged{}, false
	}
	return Tagged{
		Collector:   u.Collector,
		Prefix:      u.Prefix,
		Peer:        u.PeerKey(),
		Path:        CompressPath(u.ASPath),
		Origin:      u.OriginASN,
		Communities: append([]string(nil), u.Communities...),
		Seen:        u.Timestamp.UTC(),
	}, true
}

// SortTagged orders entries by time, then collector, prefix and peer.
func SortTagged(tagged []Tagged) {
	sort.SliceStable(tagged, func(i, j int) bool {
		a, b := tagged[i], tagged[j]
		if !a.Seen.Equal(b.Seen) {
			return a.Seen.Before(b.Seen)
		}
		if a.Collector != b.Collector {
			return a.Collector < b.Collector
		}
		if a.Prefix != b.Prefix {
			return a.Prefix < b.Prefix
		}
		return a.Peer < b.Peer
	})
}

// Snapshot is the routing state around one incident. Tagged holds the
// after-window announcements that carried communities.
type Snapshot struct {
	History Table
	Before  Table
	After   Table
	Tagged  []Tagged
}

// ApplyAfter folds an after-window update into the snapshot.
func (s *Snapshot) ApplyAfter(u models.BGPUpdate) {
	if s.After == nil {
		s.After = New()
	}
	s.After.Apply(u)
	if tag, ok := Tag(u); ok {
		s.Tagged = append(s.Tagged, tag)
	}
}

// Select restricts the incident windows to the given collectors. History is
// kept whole as the reference baseline.
func (s Snapshot) Select(collectors []string) Snapshot {
	keep := make(map[string]bool, len(collectors))
	for _, c := range collectors {
		keep[c] = true
	}
	var tagged []Tagged
	for _, t := range s.Tagged {
		if keep[t.Collector] {
			tagged = append(tagged, t)
		}
	}
	return Snapshot{
		History: s.History,
		Before:  s.Before.Select(collectors),
		After:   s.After.Select(collectors),
		Tagged:  tagged,
	}
}
