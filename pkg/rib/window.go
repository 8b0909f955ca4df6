package rib

import "time"

// Window offsets relative to the incident start. RIS collectors dump their
// RIB every 8 hours, so the dump between 16h and 8h before the start is the
// history baseline.
const (
	HistoryFrom   = 16 * time.Hour
	HistoryUntil  = 8 * time.Hour
	IncidentLead  = 10 * time.Minute
	IncidentTrail = 10 * time.Minute
	EndMargin     = time.Minute
	DefaultLength = 24 * time.Hour
)

// Windows are the three retrieval intervals of one incident.
type Windows struct {
	HistoryFrom  time.Time
	HistoryUntil time.Time
	BeforeFrom   time.Time
	BeforeUntil  time.Time
	AfterFrom    time.Time
	AfterUntil   time.Time
}

// ComputeWindows derives the retrieval windows. A zero end defaults to one
// day after the start. The after window stops one minute before the end or
// ten minutes after the start, whichever comes first.
func ComputeWindows(start, end time.Time) Windows {
	if end.IsZero() {
		end = start.Add(DefaultLength)
	}
	until := end.Add(-EndMargin)
	if trail := start.Add(IncidentTrail); trail.Before(until) {
		until = trail
	}
	return Windows{
		HistoryFrom:  start.Add(-HistoryFrom),
		HistoryUntil: start.Add(-HistoryUntil),
		BeforeFrom:   start.Add(-HistoryUntil),
		BeforeUntil:  start.Add(-IncidentLead),
		AfterFrom:    start.Add(-IncidentLead),
		AfterUntil:   until,
	}
}
