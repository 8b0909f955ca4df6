package analysis

import (
	"net/netip"
	"time"

	"github.com/hervehildenbrand/bgp-explain/pkg/rib"
)

// Blackhole is an after-window announcement tagged for remote-triggered
// blackholing. It is DDoS defence by the prefix owner or its upstream.
type Blackhole struct {
	PathRef
	Path        []uint32  `json:"path"`
	Origin      uint32    `json:"origin"`
	Communities []string  `json:"communities"`
	HostRoute   bool      `json:"host_route"`
	Confidence  float64   `json:"confidence"`
	Seen        time.Time `json:"seen"`
}

// FindBlackholes picks the tagged announcements that carry a known
// blackhole community.
func FindBlackholes(tagged []rib.Tagged) []Blackhole {
	var out []Blackhole
	for _, t := range tagged {
		found := BlackholeCommunities(t.Communities)
		if len(found) == 0 {
			continue
		}
		bits := prefixBits(t.Prefix)
		host := bits == 32 || bits == 128

		confidence := 0.6
		if host {
			confidence = 0.95
		} else if bits >= 24 {
			confidence = 0.85
		}

		out = append(out, Blackhole{
			PathRef:     PathRef{Collector: t.Collector, Prefix: t.Prefix, Peer: t.Peer},
			Path:        t.Path,
			Origin:      t.Origin,
			Communities: found,
			HostRoute:   host,
			Confidence:  confidence,
			Seen:        t.Seen,
		})
	}
	return out
}

// prefixBits returns the prefix length, or -1 when the prefix is invalid.
func prefixBits(prefix string) int {
	p, err := netip.ParsePrefix(prefix)
	if err != nil {
		return -1
	}
	return p.Bits()
}
