// Package ripestat queries archived RIS collector data through the RIPEstat
// Data API.
package ripestat

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hervehildenbrand/bgp-explain/pkg/logging"
	"github.com/hervehildenbrand/bgp-explain/pkg/models"
	"go.uber.org/zap"
)

const (
	// DefaultBaseURL is the RIPEstat Data API root.
	DefaultBaseURL = "https://stat.ripe.net/data/"

	requestTimeout = 5 * time.Minute
	maxRetries     = 3

	timeLayout = "2006-01-02T15:04:05"
)

// Client is a RIPEstat Data API client.
type Client struct {
	baseURL    string
	sourceApp  string
	retryDelay time.Duration
	httpClient *http.Client
	logger     *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API root.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		if !strings.HasSuffix(u, "/") {
			u += "/"
		}
		c.baseURL = u
	}
}

// WithSourceApp sets the sourceapp parameter RIPEstat asks callers to send.
func WithSourceApp(app string) Option {
	return func(c *Client) { c.sourceApp = app }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// WithRetryDelay sets the base backoff between retries.
func WithRetryDelay(d time.Duration) Option {
	return func(c *Client) { c.retryDelay = d }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		retryDelay: 2 * time.Second,
		httpClient: &http.Client{Timeout: requestTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.OrNop(c.logger).Named("ripestat")
	return c
}

// envelope is the common RIPEstat response wrapper.
type envelope struct {
	Status   string          `json:"status"`
	Messages json.RawMessage `json:"messages"`
	Data     json.RawMessage `json:"data"`
}

type routeAttrs struct {
	TargetPrefix string            `json:"target_prefix"`
	SourceID     string            `json:"source_id"`
	Path         json.RawMessage   `json:"path"`
	Community    []json.RawMessage `json:"community"`
}

type bgpStateData struct {
	BGPState []routeAttrs `json:"bgp_state"`
}

type bgpUpdate struct {
	Type      string     `json:"type"`
	Timestamp string     `json:"timestamp"`
	Attrs     routeAttrs `json:"attrs"`
}

type bgpUpdatesData struct {
	Updates []bgpUpdate `json:"updates"`
}

// BGPState returns the routes collectors held for resources at a time.
// Resources are prefixes or ASNs in "AS13335" form (routes originated by
// that AS).
func (c *Client) BGPState(ctx context.Context, resources []string, at time.Time, collectors []string) ([]models.BGPUpdate, error) {
	params := url.Values{}
	params.Set("resource", strings.Join(resources, ","))
	params.Set("timestamp", at.UTC().Format(timeLayout))
	if rrcs := collectorIDs(collectors); rrcs != "" {
		params.Set("rrcs", rrcs)
	}

	var data bgpStateData
	if err := c.get(ctx, "bgp-state", params, &data); err != nil {
		return nil, err
	}

	routes := make([]models.BGPUpdate, 0, len(data.BGPState))
	for _, r := range data.BGPState {
		u, err := r.toUpdate(at, true)
		if err != nil {
			c.logger.Debug("skipping route", zap.String("prefix", r.TargetPrefix), zap.Error(err))
			continue
		}
		routes = append(routes, u)
	}
	return routes, nil
}

// BGPUpdates returns announcements and withdrawals for resources in
// [from, until], in the order RIPEstat reports them.
func (c *Client) BGPUpdates(ctx context.Context, resources []string, from, until time.Time, collectors []string) ([]models.BGPUpdate, error) {
	params := url.Values{}
	params.Set("resource", strings.Join(resources, ","))
	params.Set("starttime", from.UTC().Format(timeLayout))
	params.Set("endtime", until.UTC().Format(timeLayout))
	if rrcs := collectorIDs(collectors); rrcs != "" {
		params.Set("rrcs", rrcs)
	}

	var data bgpUpdatesData
	if err := c.get(ctx, "bgp-updates", params, &data); err != nil {
		return nil, err
	}

	updates := make([]models.BGPUpdate, 0, len(data.Updates))
	for _, raw := range data.Updates {
		var announcement bool
		switch raw.Type {
		case "A":
			announcement = true
		case "W":
			announcement = false
		default:
			continue
		}
		ts, err := time.ParseInLocation(timeLayout, raw.Timestamp, time.UTC)
		if err != nil {
			ts = time.Time{}
		}
		u, err := raw.Attrs.toUpdate(ts, announcement)
		if err != nil {
			c.logger.Debug("skipping update", zap.String("prefix", raw.Attrs.TargetPrefix), zap.Error(err))
			continue
		}
		updates = append(updates, u)
	}
	return updates, nil
}

func (r routeAttrs) toUpdate(ts time.Time, announcement bool) (models.BGPUpdate, error) {
	if r.TargetPrefix == "" {
		return models.BGPUpdate{}, fmt.Errorf("missing target_prefix")
	}
	collector, peerAddr, err := ParseSourceID(r.SourceID)
	if err != nil {
		return models.BGPUpdate{}, err
	}
	u := models.BGPUpdate{
		Timestamp:    ts,
		PeerAddress:  peerAddr,
		Prefix:       r.TargetPrefix,
		Announcement: announcement,
		Collector:    collector,
	}
	if !announcement {
		return u, nil
	}
	path, err := models.ParseASPath(r.Path)
	if err != nil {
		return models.BGPUpdate{}, fmt.Errorf("parse AS path: %w", err)
	}
	if len(path) == 0 {
		return models.BGPUpdate{}, fmt.Errorf("empty AS path")
	}
	u.ASPath = path
	u.PeerASN = path[0]
	u.OriginASN = path[len(path)-1]
	u.Communities = models.ParseCommunities(r.Community)
	return u, nil
}

// ParseSourceID splits a RIPEstat source id ("00-195.66.224.175") into the
// collector name ("rrc00") and peer address.
func ParseSourceID(id string) (collector, peer string, err error) {
	idx := strings.IndexByte(id, '-')
	if idx <= 0 || idx == len(id)-1 {
		return "", "", fmt.Errorf("invalid source_id %q", id)
	}
	return "rrc" + id[:idx], id[idx+1:], nil
}

// collectorIDs turns ["rrc00", "rrc21"] into "0,21".
func collectorIDs(collectors []string) string {
	ids := make([]string, 0, len(collectors))
	for _, c := range collectors {
		id := strings.TrimPrefix(strings.ToLower(c), "rrc")
		id = strings.TrimLeft(id, "0")
		if id == "" {
			id = "0"
		}
		ids = append(ids, id)
	}
	return strings.Join(ids, ",")
}

func (c *Client) get(ctx context.Context, endpoint string, params url.Values, out interface{}) error {
	if c.sourceApp != "" {
		params.Set("sourceapp", c.sourceApp)
	}
	reqURL := c.baseURL + endpoint + "/data.json?" + params.Encode()

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.retryDelay * time.Duration(1<<uint(attempt-1))):
			}
		}

		c.logger.Debug("request", zap.String("endpoint", endpoint), zap.String("url", reqURL), zap.Int("attempt", attempt))
		retry, err := c.do(ctx, reqURL, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retry {
			return err
		}
		c.logger.Warn("request failed, retrying", zap.String("endpoint", endpoint), zap.Error(err))
	}
	return fmt.Errorf("%s: max retries exceeded: %w", endpoint, lastErr)
}

// do performs one request. The bool reports whether the failure is worth retrying.
func (c *Client) do(ctx context.Context, reqURL string, out interface{}) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return false, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return true, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return true, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return true, fmt.Errorf("ripestat http %d: %s", resp.StatusCode, truncate(body, 200))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, fmt.Errorf("ripestat http %d: %s", resp.StatusCode, truncate(body, 200))
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return false, fmt.Errorf("unmarshal response: %w", err)
	}
	if env.Status != "ok" {
		return false, fmt.Errorf("ripestat status %q: %s", env.Status, truncate(env.Messages, 200))
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return false, fmt.Errorf("unmarshal data: %w", err)
	}
	return false, nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		b = b[:n]
	}
	return string(b)
}
