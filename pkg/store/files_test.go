package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hervehildenbrand/bgp-explain/pkg/models"
	"github.com/hervehildenbrand/bgp-explain/pkg/report"
	"github.com/hervehildenbrand/bgp-explain/pkg/rib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleSnapshot() rib.Snapshot {
	history := rib.New()
	history.Set("rrc00", "203.0.113.0/24", "6939", []uint32{6939, 64500})
	history.Ensure("rrc21")
	before := history.Clone()
	after := before.Clone()
	after.Set("rrc00", "203.0.113.0/24", "6939", []uint32{})
	tagged := []rib.Tagged{{
		Collector:   "rrc00",
		Prefix:      "203.0.113.7/32",
		Peer:        "6939",
		Path:        []uint32{6939, 64500},
		Origin:      64500,
		Communities: []string{"65535:666"},
		Seen:        time.Date(2024, 1, 15, 12, 2, 0, 0, time.UTC),
	}}
	return rib.Snapshot{History: history, Before: before, After: after, Tagged: tagged}
}

func TestFileStore_SnapshotRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := NewFileStore(dir, "")

	snap := sampleSnapshot()
	require.NoError(t, s.SaveSnapshot("3_", snap))

	for _, name := range []string{HistoryFile, BeforeFile, AfterFile, TaggedFile} {
		assert.FileExists(t, filepath.Join(dir, "3_"+name))
	}

	got, err := s.LoadSnapshot("3_")
	require.NoError(t, err)
	assert.Equal(t, snap, got)
	assert.Equal(t, []uint32{}, got.After["rrc00"]["203.0.113.0/24"]["6939"])
	assert.Contains(t, got.History, "rrc21")
}

func TestFileStore_SnapshotFormat(t *testing.T) {
	dir := t.TempDir()
	s := NewFileStore(dir, dir)
	require.NoError(t, s.SaveSnapshot("", sampleSnapshot()))

	data, err := os.ReadFile(filepath.Join(dir, AfterFile))
	require.NoError(t, err)
	assert.JSONEq(t, `{"rrc00":{"203.0.113.0/24":{"6939":[]}},"rrc21":{}}`, string(data))
}

func TestFileStore_TaggedFileOptional(t *testing.T) {
	dir := t.TempDir()
	s := NewFileStore(dir, "")
	snap := sampleSnapshot()
	require.NoError(t, s.SaveSnapshot("", snap))
	require.NoError(t, os.Remove(filepath.Join(dir, TaggedFile)))

	got, err := s.LoadSnapshot("")
	require.NoError(t, err)
	assert.Nil(t, got.Tagged)
	assert.Equal(t, snap.After, got.After)

	snap.Tagged = nil
	require.NoError(t, s.SaveSnapshot("", snap))
	data, err := os.ReadFile(filepath.Join(dir, TaggedFile))
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(data))
	got, err = s.LoadSnapshot("")
	require.NoError(t, err)
	assert.Equal(t, snap, got)
}

func TestFileStore_MissingSnapshot(t *testing.T) {
	dir := t.TempDir()
	s := NewFileStore(dir, "")
	snap := sampleSnapshot()
	require.NoError(t, s.writeJSON(HistoryFile, snap.History))
	require.NoError(t, s.writeJSON(BeforeFile, snap.Before))

	_, err := s.LoadSnapshot("")
	assert.ErrorIs(t, err, ErrSnapshotMissing)
}

func TestFileStore_SeparateSavePath(t *testing.T) {
	read := t.TempDir()
	save := filepath.Join(t.TempDir(), "out")
	s := NewFileStore(read, save)

	require.NoError(t, s.SaveSnapshot("", sampleSnapshot()))
	assert.FileExists(t, filepath.Join(save, HistoryFile))
	assert.NoFileExists(t, filepath.Join(read, HistoryFile))

	_, err := s.LoadSnapshot("")
	assert.ErrorIs(t, err, ErrSnapshotMissing)
}

func TestFileStore_SaveReport(t *testing.T) {
	dir := t.TempDir()
	s := NewFileStore(dir, "")
	res := &report.Result{
		ID:          "7c1b",
		Event:       models.Event{Prefix: "203.0.113.0/24", Start: time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)},
		Target:      "203.0.113.0/24",
		Time:        "2024-01-15 12:00:00",
		RawChange:   []string{"a", "b"},
		RawEvent:    []string{"hijack", "hijack"},
		FinalChange: "origin changed",
		FinalEvent:  "hijack",
		Report:      "# Incident\n\nOrigin moved to **AS64666**.",
	}
	require.NoError(t, s.SaveReport("1_", res))

	data, err := os.ReadFile(filepath.Join(dir, "1_"+ReportFile))
	require.NoError(t, err)
	var text string
	require.NoError(t, json.Unmarshal(data, &text))
	assert.Equal(t, res.Report, text)

	data, err = os.ReadFile(filepath.Join(dir, "1_"+ReportDictFile))
	require.NoError(t, err)
	var dict map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &dict))
	for _, key := range []string{"raw_change", "raw_event", "final_change", "final_event", "report"} {
		assert.Contains(t, dict, key)
	}

	page, err := os.ReadFile(filepath.Join(dir, "1_"+ReportHTMLFile))
	require.NoError(t, err)
	assert.Contains(t, string(page), "<strong>AS64666</strong>")
	assert.Contains(t, string(page), "<title>BGP report:")

	back, err := s.LoadReport("1_")
	require.NoError(t, err)
	assert.Equal(t, res.RawEvent, back.RawEvent)
	assert.Equal(t, res.FinalEvent, back.FinalEvent)
}

func TestCacheKey(t *testing.T) {
	start := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "bgp-explain:snapshot:203.0.113.0/24:1705320000:1705320600", CacheKey(models.Event{Prefix: "203.0.113.0/24", Start: start}))
	assert.Equal(t, "bgp-explain:snapshot:AS64500:1705320000:1705320600", CacheKey(models.Event{ASN: 64500, Start: start}))
}

func TestCacheKey_EndChangesKey(t *testing.T) {
	start := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	open := models.Event{Prefix: "203.0.113.0/24", Start: start}
	short := models.Event{Prefix: "203.0.113.0/24", Start: start, End: start.Add(5 * time.Minute)}
	long := models.Event{Prefix: "203.0.113.0/24", Start: start, End: start.Add(3 * time.Hour)}

	assert.Equal(t, "bgp-explain:snapshot:203.0.113.0/24:1705320000:1705320240", CacheKey(short))
	assert.NotEqual(t, CacheKey(open), CacheKey(short))
	// Ends past the ten-minute trail share the same after window.
	assert.Equal(t, CacheKey(open), CacheKey(long))
}

func TestCachedSnapshotEncoding(t *testing.T) {
	snap := sampleSnapshot()
	data, err := encodeCached(snap)
	require.NoError(t, err)
	got, err := decodeCached(data)
	require.NoError(t, err)
	assert.Equal(t, snap, got)

	got, err = decodeCached([]byte(`{}`))
	require.NoError(t, err)
	assert.NotNil(t, got.History)
	assert.NotNil(t, got.After)
}

func TestRedisCache(t *testing.T) {
	url := os.Getenv("BGP_EXPLAIN_TEST_REDIS")
	if url == "" {
		t.Skip("BGP_EXPLAIN_TEST_REDIS not set")
	}
	ctx := context.Background()
	c, err := NewRedisCache(ctx, url, nil)
	require.NoError(t, err)
	defer c.Close()

	event := models.Event{Prefix: "198.51.100.0/24", Start: time.Now().UTC().Truncate(time.Second)}
	_, err = c.Get(ctx, event)
	assert.ErrorIs(t, err, ErrSnapshotMissing)

	snap := sampleSnapshot()
	require.NoError(t, c.Put(ctx, event, snap))
	got, err := c.Get(ctx, event)
	require.NoError(t, err)
	assert.Equal(t, snap, got)
}
