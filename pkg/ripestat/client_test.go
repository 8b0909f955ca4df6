package ripestat

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const bgpStateBody = `{
	"status": "ok",
	"messages": [["info", "test"]],
	"data": {
		"bgp_state": [
			{"target_prefix": "1.1.1.0/24", "source_id": "00-195.66.224.175", "path": [6939, 3356, 3356, 13335], "community": ["3356:9999"]},
			{"target_prefix": "1.1.1.0/24", "source_id": "21-2001:7f8::3b41:0:1", "path": [[174], 13335], "community": [[65535, 666]]},
			{"target_prefix": "1.1.1.0/24", "source_id": "bogus", "path": [1, 2]}
		]
	}
}`

const bgpUpdatesBody = `{
	"status": "ok",
	"data": {
		"updates": [
			{"type": "A", "timestamp": "2024-01-15T11:55:00", "attrs": {"target_prefix": "1.1.1.0/25", "source_id": "00-195.66.224.175", "path": [6939, 64512]}},
			{"type": "W", "timestamp": "2024-01-15T11:56:00", "attrs": {"target_prefix": "1.1.1.0/24", "source_id": "00-195.66.224.175"}},
			{"type": "X", "timestamp": "2024-01-15T11:57:00", "attrs": {"target_prefix": "1.1.1.0/24", "source_id": "00-195.66.224.175"}}
		]
	}
}`

func TestBGPState(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bgp-state/data.json", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "1.1.1.0/24", q.Get("resource"))
		assert.Equal(t, "2024-01-15T04:00:00", q.Get("timestamp"))
		assert.Equal(t, "0,21", q.Get("rrcs"))
		assert.Equal(t, "bgp-explain-test", q.Get("sourceapp"))
		_, _ = w.Write([]byte(bgpStateBody))
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL), WithSourceApp("bgp-explain-test"))
	at := time.Date(2024, 1, 15, 4, 0, 0, 0, time.UTC)
	routes, err := c.BGPState(context.Background(), []string{"1.1.1.0/24"}, at, []string{"rrc00", "rrc21"})
	require.NoError(t, err)
	require.Len(t, routes, 2)

	assert.Equal(t, "rrc00", routes[0].Collector)
	assert.Equal(t, "195.66.224.175", routes[0].PeerAddress)
	assert.Equal(t, uint32(6939), routes[0].PeerASN)
	assert.Equal(t, uint32(13335), routes[0].OriginASN)
	assert.True(t, routes[0].Announcement)
	assert.Equal(t, []string{"3356:9999"}, routes[0].Communities)

	assert.Equal(t, "rrc21", routes[1].Collector)
	assert.Equal(t, "2001:7f8::3b41:0:1", routes[1].PeerAddress)
	assert.Equal(t, []uint32{174, 13335}, routes[1].ASPath)
	assert.Equal(t, []string{"65535:666"}, routes[1].Communities)
}

func TestBGPUpdates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bgp-updates/data.json", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "1.1.1.0/24,1.1.1.0/25", q.Get("resource"))
		assert.Equal(t, "2024-01-15T04:00:00", q.Get("starttime"))
		assert.Equal(t, "2024-01-15T11:50:00", q.Get("endtime"))
		assert.Empty(t, q.Get("rrcs"))
		_, _ = w.Write([]byte(bgpUpdatesBody))
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL))
	from := time.Date(2024, 1, 15, 4, 0, 0, 0, time.UTC)
	until := time.Date(2024, 1, 15, 11, 50, 0, 0, time.UTC)
	updates, err := c.BGPUpdates(context.Background(), []string{"1.1.1.0/24", "1.1.1.0/25"}, from, until, nil)
	require.NoError(t, err)
	require.Len(t, updates, 2)

	assert.True(t, updates[0].Announcement)
	assert.Equal(t, "1.1.1.0/25", updates[0].Prefix)
	assert.Equal(t, uint32(64512), updates[0].OriginASN)
	assert.Equal(t, time.Date(2024, 1, 15, 11, 55, 0, 0, time.UTC), updates[0].Timestamp)

	assert.False(t, updates[1].Announcement)
	assert.Zero(t, updates[1].PeerASN)
	assert.Equal(t, "195.66.224.175", updates[1].PeerAddress)
}

func TestGet_StatusNotOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status": "error", "messages": [["error", "bad resource"]], "data": {}}`))
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL))
	_, err := c.BGPState(context.Background(), []string{"nope"}, time.Now(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad resource")
}

func TestGet_RetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(bgpStateBody))
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL), WithRetryDelay(time.Millisecond))
	routes, err := c.BGPState(context.Background(), []string{"1.1.1.0/24"}, time.Now(), nil)
	require.NoError(t, err)
	assert.Len(t, routes, 2)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestGet_ClientErrorNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL), WithRetryDelay(time.Millisecond))
	_, err := c.BGPUpdates(context.Background(), []string{"1.1.1.0/24"}, time.Now(), time.Now(), nil)
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestParseSourceID(t *testing.T) {
	collector, peer, err := ParseSourceID("03-2001:7f8:1::a500:6939:1")
	require.NoError(t, err)
	assert.Equal(t, "rrc03", collector)
	assert.Equal(t, "2001:7f8:1::a500:6939:1", peer)

	for _, bad := range []string{"", "-1.2.3.4", "00-", "nodash"} {
		_, _, err := ParseSourceID(bad)
		assert.Error(t, err, bad)
	}
}

func TestCollectorIDs(t *testing.T) {
	assert.Equal(t, "0,1,26", collectorIDs([]string{"rrc00", "RRC01", "rrc26"}))
	assert.Equal(t, "", collectorIDs(nil))
}
