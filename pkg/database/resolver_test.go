package database

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hervehildenbrand/bgp-explain/pkg/analysis"
)

var (
	_ CountryResolver   = (*NullResolver)(nil)
	_ CountryResolver   = (*FileResolver)(nil)
	_ CountryResolver   = (*DatabaseResolver)(nil)
	_ analysis.Resolver = (*FileResolver)(nil)
	_ analysis.Resolver = (*DatabaseResolver)(nil)
)

func TestNullResolver(t *testing.T) {
	r := NewNullResolver()

	if got := r.Resolve(13335); got != "" {
		t.Errorf("NullResolver.Resolve() = %q, want empty string", got)
	}
	if got := r.Count(); got != 0 {
		t.Errorf("NullResolver.Count() = %d, want 0", got)
	}

	// These should not panic
	r.Start()
	r.Stop()
}

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "asn_countries.csv")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write test CSV: %v", err)
	}
	return path
}

func TestFileResolver(t *testing.T) {
	r, err := NewFileResolver(writeCSV(t, `asn,country_code
13335,US
15169,US
32934,US
6939,US
3356,US
`), nil)
	if err != nil {
		t.Fatalf("NewFileResolver() error = %v", err)
	}

	tests := []struct {
		name     string
		asn      uint32
		expected string
	}{
		{"Cloudflare", 13335, "US"},
		{"Google", 15169, "US"},
		{"Facebook", 32934, "US"},
		{"HE", 6939, "US"},
		{"Unknown ASN", 99999, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.Resolve(tt.asn); got != tt.expected {
				t.Errorf("FileResolver.Resolve(%d) = %q, want %q", tt.asn, got, tt.expected)
			}
		})
	}

	if got := r.Count(); got != 5 {
		t.Errorf("FileResolver.Count() = %d, want 5", got)
	}
}

func TestFileResolver_MissingFile(t *testing.T) {
	if _, err := NewFileResolver(filepath.Join(t.TempDir(), "absent.csv"), nil); err == nil {
		t.Error("NewFileResolver() expected error for missing file")
	}
}

func TestParseCountries(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  map[uint32]string
	}{
		{"no header", "13335,US\n15169,US\n", map[uint32]string{13335: "US", 15169: "US"}},
		{"lowercase codes", "asn,country\n13335,us\n15169,de\n", map[uint32]string{13335: "US", 15169: "DE"}},
		{"AS prefixed and junk rows", "AS64500,de\nbogus,FR\n64501,FRA\n64502\n", map[uint32]string{64500: "DE"}},
		{"extra columns", "64500,NL,Example BV\n", map[uint32]string{64500: "NL"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCountries(strings.NewReader(tt.input))
			if err != nil {
				t.Fatalf("ParseCountries() error = %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("ParseCountries() = %v, want %v", got, tt.want)
			}
			for asn, cc := range tt.want {
				if got[asn] != cc {
					t.Errorf("ParseCountries()[%d] = %q, want %q", asn, got[asn], cc)
				}
			}
		})
	}
}

func TestParseCountries_Empty(t *testing.T) {
	if _, err := ParseCountries(strings.NewReader("")); err == nil {
		t.Error("ParseCountries() expected error for empty input")
	}
}
