package models

import (
	"encoding/json"
	"testing"
)

func TestParseASN(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected uint32
	}{
		{"number", "6939", 6939},
		{"quoted string", `"6939"`, 6939},
		{"empty", "", 0},
		{"null", "null", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ParseASN([]byte(tt.input))
			if result != tt.expected {
				t.Errorf("ParseASN(%s): expected %d, got %d", tt.input, tt.expected, result)
			}
		})
	}
}

func TestParseASPath_Nested(t *testing.T) {
	path, err := ParseASPath([]byte(`[[174], [3356, 7018], 13335]`))
	if err != nil {
		t.Fatalf("ParseASPath failed: %v", err)
	}
	expected := []uint32{174, 3356, 7018, 13335}
	if len(path) != len(expected) {
		t.Fatalf("Expected AS path length %d, got %d", len(expected), len(path))
	}
	for i, asn := range expected {
		if path[i] != asn {
			t.Errorf("AS path[%d]: expected %d, got %d", i, asn, path[i])
		}
	}
}

func TestParseASPath_Null(t *testing.T) {
	path, err := ParseASPath([]byte(`null`))
	if err != nil {
		t.Fatalf("ParseASPath failed: %v", err)
	}
	if path != nil {
		t.Errorf("Expected nil path, got %v", path)
	}
}

func TestParseCommunities(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{"tuple format", `[[65535, 666], [3356, 9999]]`, []string{"65535:666", "3356:9999"}},
		{"string format", `["65535:666", "no-export"]`, []string{"65535:666", "no-export"}},
		{"mixed format", `[[65535, 666], "no-export"]`, []string{"65535:666", "no-export"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var rawMessages []json.RawMessage
			if err := json.Unmarshal([]byte(tt.input), &rawMessages); err != nil {
				t.Fatalf("Failed to parse test input: %v", err)
			}

			result := ParseCommunities(rawMessages)
			if len(result) != len(tt.expected) {
				t.Fatalf("Expected %d communities, got %d", len(tt.expected), len(result))
			}
			for i, exp := range tt.expected {
				if result[i] != exp {
					t.Errorf("Community[%d]: expected %s, got %s", i, exp, result[i])
				}
			}
		})
	}
}

func TestParseASNString(t *testing.T) {
	for _, in := range []string{"13335", "AS13335", "as13335"} {
		got, err := ParseASNString(in)
		if err != nil {
			t.Fatalf("ParseASNString(%q) error = %v", in, err)
		}
		if got != 13335 {
			t.Errorf("ParseASNString(%q) = %d, want 13335", in, got)
		}
	}
	if _, err := ParseASNString("AS"); err == nil {
		t.Error("Expected error for bare AS")
	}
}

func TestEventTarget(t *testing.T) {
	if got := (Event{Prefix: "1.1.1.0/24", ASN: 13335}).Target(); got != "1.1.1.0/24" {
		t.Errorf("Target() = %q, want prefix", got)
	}
	if got := (Event{ASN: 13335}).Target(); got != "AS13335" {
		t.Errorf("Target() = %q, want AS13335", got)
	}
}
