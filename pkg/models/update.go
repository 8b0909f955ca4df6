// Package models defines data structures for BGP updates and incidents.
package models

import (
	"fmt"
	"strconv"
	"time"
)

// TimeLayout is the layout of incident start and end times.
const TimeLayout = "2006-01-02 15:04:05"

// BGPUpdate represents a parsed BGP update or RIB entry.
type BGPUpdate struct {
	Timestamp    time.Time
	PeerASN      uint32
	PeerAddress  string
	Prefix       string
	ASPath       []uint32
	OriginASN    uint32
	Communities  []string // Format: "ASN:value"
	Announcement bool     // true=announcement, false=withdrawal
	Collector    string   // e.g., "rrc00"
}

// PeerKey returns the key used for this update's peer in a routing table.
// The peer ASN is preferred; withdrawals that carry no path fall back to
// the peer address.
func (u BGPUpdate) PeerKey() string {
	if u.PeerASN != 0 {
		return strconv.FormatUint(uint64(u.PeerASN), 10)
	}
	return u.PeerAddress
}

// Event is one anomaly incident to explain.
type Event struct {
	Start  time.Time
	End    time.Time // zero when unknown
	Prefix string    // victim prefix, may be empty
	ASN    uint32    // victim AS, may be zero
	Type   string    // labelled type, informational only
}

// HasEnd reports whether the incident has a known end time.
func (e Event) HasEnd() bool {
	return !e.End.IsZero()
}

// Target returns a short label for the incident target.
func (e Event) Target() string {
	if e.Prefix != "" {
		return e.Prefix
	}
	if e.ASN != 0 {
		return fmt.Sprintf("AS%d", e.ASN)
	}
	return "unknown"
}

// ParseTime parses an incident time in TimeLayout, interpreted as UTC.
func ParseTime(s string) (time.Time, error) {
	t, err := time.ParseInLocation(TimeLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}

// Verdicts
const (
	VerdictHijack = "hijack"
	VerdictLeak   = "leak"
	VerdictNone   = "none"
)
