package database

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/hervehildenbrand/bgp-explain/pkg/analysis"
	"github.com/hervehildenbrand/bgp-explain/pkg/models"
	"github.com/hervehildenbrand/bgp-explain/pkg/report"
)

func TestNewReportRow(t *testing.T) {
	start := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	res := &report.Result{
		ID:          "3f2a",
		Event:       models.Event{Start: start, Prefix: "203.0.113.0/24"},
		Model:       "gpt-4o",
		RawChange:   []string{"origin changed"},
		RawEvent:    []string{"hijack"},
		FinalEvent:  "hijack",
		FinalChange: "origin changed",
		Report:      "report",
		PathDiff:    analysis.Diff{Verdict: models.VerdictHijack, Severity: analysis.SeverityHigh},
		GeneratedAt: start.Add(time.Minute),
	}

	row, err := NewReportRow(res)
	if err != nil {
		t.Fatalf("NewReportRow() error = %v", err)
	}
	if row.Target != "203.0.113.0/24" {
		t.Errorf("Target = %q", row.Target)
	}
	if row.Prefix == nil || *row.Prefix != "203.0.113.0/24" {
		t.Errorf("Prefix = %v", row.Prefix)
	}
	if row.ASN != nil {
		t.Errorf("ASN = %v, want nil", *row.ASN)
	}
	if row.EventEnd != nil {
		t.Errorf("EventEnd = %v, want nil", *row.EventEnd)
	}
	if row.Verdict != "hijack" || row.Severity != "high" {
		t.Errorf("Verdict/Severity = %q/%q", row.Verdict, row.Severity)
	}

	var details map[string]json.RawMessage
	if err := json.Unmarshal(row.Details, &details); err != nil {
		t.Fatalf("details not JSON: %v", err)
	}
	for _, key := range []string{"raw_change", "raw_event", "path_diff"} {
		if _, ok := details[key]; !ok {
			t.Errorf("details missing %q", key)
		}
	}
}

func TestNewReportRow_OriginEvent(t *testing.T) {
	start := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	res := &report.Result{
		ID:    "9b1c",
		Event: models.Event{Start: start, End: start.Add(time.Hour), ASN: 64500},
	}

	row, err := NewReportRow(res)
	if err != nil {
		t.Fatalf("NewReportRow() error = %v", err)
	}
	if row.Target != "AS64500" {
		t.Errorf("Target = %q, want AS64500", row.Target)
	}
	if row.Prefix != nil {
		t.Errorf("Prefix = %v, want nil", *row.Prefix)
	}
	if row.ASN == nil || *row.ASN != 64500 {
		t.Errorf("ASN = %v, want 64500", row.ASN)
	}
	if row.EventEnd == nil || !row.EventEnd.Equal(start.Add(time.Hour)) {
		t.Errorf("EventEnd = %v", row.EventEnd)
	}
}
